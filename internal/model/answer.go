package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is an optional numeric answer value. The zero value is absent.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a present Number.
func Num(v float64) Number {
	return Number{Value: v, Valid: true}
}

// ParseNumber converts loosely typed input (JSON numbers, numeric strings,
// Go integers) into a Number. Anything else is absent.
func ParseNumber(v any) Number {
	switch n := v.(type) {
	case nil:
		return Number{}
	case Number:
		return n
	case float64:
		return Num(n)
	case float32:
		return Num(float64(n))
	case int:
		return Num(float64(n))
	case int64:
		return Num(float64(n))
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return Number{}
		}
		return Num(f)
	case string:
		s := strings.TrimSpace(strings.Replace(n, ",", ".", 1))
		if s == "" {
			return Number{}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Number{}
		}
		return Num(f)
	default:
		return Number{}
	}
}

func (n Number) usable() bool {
	return n.Valid && !math.IsNaN(n.Value) && !math.IsInf(n.Value, 0)
}

// Or returns the value, or def when the number is absent or not finite.
func (n Number) Or(def float64) float64 {
	if !n.usable() {
		return def
	}
	return n.Value
}

// NonZeroOr is Or that also treats zero as absent.
func (n Number) NonZeroOr(def float64) float64 {
	if !n.usable() || n.Value == 0 {
		return def
	}
	return n.Value
}

// MarshalJSON encodes an absent number as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.usable() {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON accepts null, numbers, and numeric strings.
func (n *Number) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		*n = Number{}
		return nil
	}
	*n = ParseNumber(raw)
	return nil
}

// Answer is the recorded choice for one question.
type Answer struct {
	QuestionID string `json:"question_id"`
	Label      string `json:"label"`
	Numeric    Number `json:"numeric"`
	Tag        string `json:"tag,omitempty"`
}

// QuestionKey normalizes a question identifier. Bare integers ("2") and
// prefixed ids ("q2") address the same question.
func QuestionKey(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	if _, err := strconv.Atoi(id); err == nil {
		return "q" + id
	}
	return id
}
