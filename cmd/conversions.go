package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/export"
	"github.com/sells-group/quiz-funnel/internal/leads"
	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/render"
	"github.com/sells-group/quiz-funnel/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var conversionsCmd = &cobra.Command{
	Use:   "conversions",
	Short: "Inspect, export and push checkout conversions",
}

// conversionFilter reads the shared filter flags.
func conversionFilter(cmd *cobra.Command) store.ConversionFilter {
	tier, _ := cmd.Flags().GetString("tier")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.ConversionFilter{Tier: model.Tier(tier), Limit: limit}
	if since > 0 {
		f.Since = time.Now().UTC().Add(-since)
	}
	return f
}

// -- conversions list --

var conversionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		convs, err := st.ListConversions(ctx, conversionFilter(cmd))
		if err != nil {
			return eris.Wrap(err, "conversions list")
		}
		if len(convs) == 0 {
			fmt.Fprintln(os.Stderr, "No conversions found.")
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(convs)
		}
		formatConversionsList(cmd.OutOrStdout(), convs)
		return nil
	},
}

func formatConversionsList(w io.Writer, convs []model.Conversion) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tPROFILE\tRISK\tSOURCE\tLEAD")
	for _, c := range convs {
		lead := "-"
		if c.LeadPageID != "" {
			lead = "pushed"
		}
		source := c.Attribution["utm_source"]
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(c.ID),
			c.CreatedAt.UTC().Format("2006-01-02 15:04"),
			c.Profile,
			render.Money(c.Metrics.Exposure.Risk),
			source,
			lead,
		)
	}
	tw.Flush() //nolint:errcheck
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// -- conversions export --

var conversionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export conversions to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		convs, err := st.ListConversions(ctx, conversionFilter(cmd))
		if err != nil {
			return eris.Wrap(err, "conversions export")
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "conversions export: create file")
		}
		if err := export.WriteXLSX(f, convs); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "conversions export: close file")
		}
		zap.L().Info("conversions exported", zap.String("file", out), zap.Int("rows", len(convs)))
		return nil
	},
}

// -- conversions push --

var conversionsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push conversions without a lead page to the Notion lead database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("leads"); err != nil {
			return err
		}
		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := conversionFilter(cmd)
		filter.Unpushed = true
		convs, err := st.ListConversions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "conversions push")
		}

		client := leads.NewClient(cfg.Notion.Token, leads.WithRateLimit(cfg.Notion.RatePerSec))
		pushed, failed := leads.NewPusher(client, cfg.Notion.LeadDB, st).PushAll(ctx, convs)
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %d, failed %d\n", pushed, failed)
		if failed > 0 {
			return eris.Errorf("conversions push: %d of %d failed", failed, len(convs))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{conversionsListCmd, conversionsExportCmd, conversionsPushCmd} {
		c.Flags().String("tier", "", "filter by tier (construction, expansion, scale)")
		c.Flags().Duration("since", 0, "only conversions newer than this (e.g. 24h)")
		c.Flags().Int("limit", 100, "maximum conversions")
	}
	conversionsListCmd.Flags().Bool("json", false, "print JSON instead of a table")
	conversionsExportCmd.Flags().String("out", "conversions.xlsx", "output file")

	conversionsCmd.AddCommand(conversionsListCmd, conversionsExportCmd, conversionsPushCmd)
	rootCmd.AddCommand(migrateCmd, conversionsCmd)
}
