// cmd/nutrition-engine/estimate.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/nutrition"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate [name quantity]...",
	Short: "Estimate nutrition for foods or a meal description",
	Example: `  nutrition-engine estimate rice "1 cup" roti "2 pieces"
  nutrition-engine estimate --caption "a bowl of dal with two rotis"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caption, _ := cmd.Flags().GetString("caption")
		asJSON, _ := cmd.Flags().GetBool("json")

		detections := parseDetections(args)
		if len(detections) == 0 && caption == "" {
			return eris.New("estimate: give name/quantity pairs or --caption")
		}

		var learned nutrition.LearnedReader
		st, err := openStore(ctx, cfg, "estimate")
		if err != nil {
			zap.L().Warn("estimate: learned store unavailable, using reference data only", zap.Error(err))
		} else {
			defer st.Close()
			learned = st
		}

		engine, err := newEngine(cfg, learned)
		if err != nil {
			return err
		}

		if len(detections) == 0 {
			detections = engine.Extract(ctx, caption)
		}
		ests := engine.ExplainAll(ctx, detections)

		if asJSON {
			items := make([]models.FoodItem, len(ests))
			for i, e := range ests {
				items[i] = e.Item
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(models.Analysis{Items: items, Totals: nutrition.Sum(items)})
		}

		formatEstimations(os.Stdout, ests)
		return nil
	},
}

func init() {
	estimateCmd.Flags().String("caption", "", "free-text meal description, used when no foods are given")
	estimateCmd.Flags().Bool("json", false, "print the analysis as JSON")
	rootCmd.AddCommand(estimateCmd)
}

// parseDetections pairs up name/quantity arguments. A trailing name without
// a quantity gets the default quantity.
func parseDetections(args []string) []models.RawDetection {
	var out []models.RawDetection
	for i := 0; i < len(args); i += 2 {
		d := models.RawDetection{Name: args[i]}
		if i+1 < len(args) {
			d.Quantity = args[i+1]
		}
		out = append(out, d)
	}
	return out
}

func formatEstimations(out io.Writer, ests []nutrition.Estimation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FOOD\tQUANTITY\tGRAMS\tKCAL\tPROTEIN\tCARBS\tFAT\tMATCH\tBASIS\tCONFIDENCE")
	_, _ = fmt.Fprintln(w, "----\t--------\t-----\t----\t-------\t-----\t---\t-----\t-----\t----------")

	items := make([]models.FoodItem, 0, len(ests))
	for _, e := range ests {
		match := e.Resolution.Match.String()
		if e.Resolution.Found() && e.Resolution.Key != e.Item.Name {
			match += " (" + e.Resolution.Key + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.0f\t%d\t%.1f\t%.1f\t%.1f\t%s\t%s\t%s\n",
			e.Item.Name,
			e.Item.Quantity,
			e.Quantity.Grams,
			e.Item.Calories,
			e.Item.Protein,
			e.Item.Carbs,
			e.Item.Fat,
			match,
			e.Basis,
			e.Item.Confidence,
		)
		items = append(items, e.Item)
	}

	t := nutrition.Sum(items)
	_, _ = fmt.Fprintf(w, "TOTAL\t\t\t%d\t%.1f\t%.1f\t%.1f\t\t\t\n", t.Calories, t.Protein, t.Carbs, t.Fat)
	_ = w.Flush()
}
