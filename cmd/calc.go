package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/quiz-funnel/internal/answer"
	"github.com/sells-group/quiz-funnel/internal/config"
	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/profile"
	"github.com/sells-group/quiz-funnel/internal/render"
)

// parseAnswers turns q=value pairs into an answer store. Numeric values
// are recorded as numbers, everything else as a label.
func parseAnswers(pairs []string) (*answer.Store, error) {
	store := answer.NewStore()
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, eris.Errorf("invalid answer %q, want question=value", p)
		}
		store.Record(k, v, model.ParseNumber(v), "")
	}
	return store, nil
}

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Compute derived metrics for a set of answers",
	Long: `Runs the exposure, churn and time calculators over the given answers.

Examples:
  calc --answer q2=40 --answer q3=1000
  calc --answer 2=40 --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pairs, _ := cmd.Flags().GetStringArray("answer")
		asJSON, _ := cmd.Flags().GetBool("json")

		answers, err := parseAnswers(pairs)
		if err != nil {
			return err
		}
		fc := cfg.Funnel
		fc.Watch = false
		source, _, err := loadDefinition(fc)
		if err != nil {
			return err
		}
		m := source.Current().Calculator().Compute(answers)

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		}
		formatMetrics(cmd.OutOrStdout(), m)
		return nil
	},
}

func formatMetrics(w io.Writer, m model.DerivedMetrics) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Quantity:\t%s\n", render.Decimal1(m.Exposure.Quantity))
	fmt.Fprintf(tw, "Exposure:\t%s\n", render.Money(m.Exposure.Exposure))
	fmt.Fprintf(tw, "Risk rate:\t%s\n", render.Percent(m.Exposure.RiskRate*100))
	fmt.Fprintf(tw, "Risk:\t%s\n", render.Money(m.Exposure.Risk))
	fmt.Fprintf(tw, "Churn:\t%s\n", render.Percent(m.Churn.ChurnPct))
	fmt.Fprintf(tw, "Lifetime value:\t%s\n", render.Money(m.Churn.LifetimeValue))
	fmt.Fprintf(tw, "Annualized loss:\t%s\n", render.Money(m.Churn.AnnualizedLoss))
	fmt.Fprintf(tw, "Hours lost:\t%s\n", m.Time.HoursDisplay)
	tw.Flush() //nolint:errcheck
}

var classifyCmd = &cobra.Command{
	Use:   "classify <count>",
	Short: "Show the profile a volume count lands in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := model.ParseNumber(args[0])
		if !n.Valid {
			return eris.Errorf("classify: %q is not a number", args[0])
		}
		thresholds, _ := cmd.Flags().GetString("thresholds")
		if thresholds == "" {
			thresholds = classifierThresholds(cfg)
		}
		p := profile.NewClassifier(profile.ThresholdsFor(thresholds)).Classify(n.Value)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func classifierThresholds(c *config.Config) string {
	if c != nil && c.Funnel.Thresholds != "" {
		return c.Funnel.Thresholds
	}
	return profile.QuantityThresholds.Metric
}

func init() {
	calcCmd.Flags().StringArray("answer", nil, "answer as question=value (repeatable)")
	calcCmd.Flags().Bool("json", false, "print JSON instead of a table")
	classifyCmd.Flags().String("thresholds", "", "threshold set: quantity or active_units (default from config)")
	rootCmd.AddCommand(calcCmd, classifyCmd)
}
