package render

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// Money formats v as Brazilian reais, e.g. "R$ 1.200,00".
func Money(v float64) string {
	return ptBR.Sprintf("R$ %v", number.Decimal(v, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// Decimal1 formats v with one decimal and a comma separator, e.g. "2,5".
func Decimal1(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 1, 64), ".", ",", 1)
}

// Percent formats a rounded percentage, e.g. "20%".
func Percent(v float64) string {
	return strconv.FormatFloat(float64(int64(v+0.5)), 'f', 0, 64) + "%"
}
