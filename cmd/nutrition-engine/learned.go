// cmd/nutrition-engine/learned.go
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/storage"
)

var learnedCmd = &cobra.Command{
	Use:   "learned",
	Short: "Inspect learned food baselines",
}

var learnedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned foods",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx, cfg, "store")
		if err != nil {
			return err
		}
		defer st.Close()

		foods, err := st.ListLearnedFoods(ctx, storage.LearnedFilter{MinConfidence: minConfidence, Limit: limit})
		if err != nil {
			return err
		}
		if len(foods) == 0 {
			zap.L().Info("no learned foods found")
			return nil
		}

		formatLearnedFoods(os.Stdout, foods)
		return nil
	},
}

var learnedExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export learned foods and recent corrections to a spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("corrections")

		st, err := openStore(ctx, cfg, "store")
		if err != nil {
			return err
		}
		defer st.Close()

		foods, err := st.ListLearnedFoods(ctx, storage.LearnedFilter{})
		if err != nil {
			return err
		}
		corrections, err := st.ListCorrections(ctx, storage.CorrectionFilter{Limit: limit})
		if err != nil {
			return err
		}

		if err := writeWorkbook(out, foods, corrections); err != nil {
			return err
		}
		zap.L().Info("learned foods exported",
			zap.String("path", out),
			zap.Int("foods", len(foods)),
			zap.Int("corrections", len(corrections)),
		)
		return nil
	},
}

func init() {
	learnedListCmd.Flags().Float64("min-confidence", 0, "only foods at or above this confidence")
	learnedListCmd.Flags().Int("limit", 100, "maximum number of foods")
	learnedExportCmd.Flags().String("out", "learned_foods.xlsx", "output .xlsx path")
	learnedExportCmd.Flags().Int("corrections", 1000, "maximum number of recent corrections to include (0 for all)")

	learnedCmd.AddCommand(learnedListCmd, learnedExportCmd)
	rootCmd.AddCommand(learnedCmd)
}

func formatLearnedFoods(out io.Writer, foods []models.LearnedFood) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FOOD\tKCAL/100G\tPROTEIN\tCARBS\tFAT\tSAMPLES\tCONFIDENCE\tUPDATED")
	_, _ = fmt.Fprintln(w, "----\t---------\t-------\t-----\t---\t-------\t----------\t-------")

	for _, lf := range foods {
		_, _ = fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.1f\t%d\t%.2f\t%s\n",
			lf.FoodNameNormalized,
			lf.AvgCaloriesPer100g,
			lf.AvgProteinPer100g,
			lf.AvgCarbsPer100g,
			lf.AvgFatPer100g,
			lf.SampleCount,
			lf.ConfidenceScore,
			lf.LastUpdated.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

var (
	learnedHeader    = []string{"Food", "Name", "Calories/100g", "Protein/100g", "Carbs/100g", "Fat/100g", "Samples", "Confidence", "Last updated"}
	correctionHeader = []string{"ID", "User", "Food", "Original quantity", "Corrected quantity", "Original kcal", "Corrected kcal", "Created"}
)

// writeWorkbook saves a two-sheet workbook: learned foods and corrections.
func writeWorkbook(path string, foods []models.LearnedFood, corrections []models.Correction) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Learned foods")
	if err != nil {
		return eris.Wrap(err, "export: add learned sheet")
	}
	addHeader(sheet, learnedHeader)
	for _, lf := range foods {
		row := sheet.AddRow()
		row.AddCell().SetString(lf.FoodNameNormalized)
		row.AddCell().SetString(lf.FoodName)
		for _, v := range []float64{lf.AvgCaloriesPer100g, lf.AvgProteinPer100g, lf.AvgCarbsPer100g, lf.AvgFatPer100g} {
			row.AddCell().SetFloat(v)
		}
		row.AddCell().SetInt(lf.SampleCount)
		row.AddCell().SetFloat(lf.ConfidenceScore)
		row.AddCell().SetString(lf.LastUpdated.UTC().Format(time.RFC3339))
	}

	sheet, err = f.AddSheet("Corrections")
	if err != nil {
		return eris.Wrap(err, "export: add corrections sheet")
	}
	addHeader(sheet, correctionHeader)
	for _, c := range corrections {
		cal, _, _, _ := c.CorrectedValues()
		row := sheet.AddRow()
		for _, s := range []string{c.ID, c.UserID, c.FoodName, c.OriginalQuantity, c.CorrectedQuantity} {
			row.AddCell().SetString(s)
		}
		row.AddCell().SetFloat(c.OriginalCalories)
		row.AddCell().SetFloat(cal)
		row.AddCell().SetString(c.CreatedAt.UTC().Format(time.RFC3339))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, names []string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}
