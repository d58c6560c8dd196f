// cmd/nutrition-engine/correct.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcp-nutrition-engine/internal/models"
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Record a correction and update the learned baseline",
	Example: `  nutrition-engine correct --food paneer --quantity 150g \
    --calories 398 --corrected-calories 420 --corrected-fat 33`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := correctionFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg, "learn")
		if err != nil {
			return err
		}
		defer st.Close()

		engine, err := newEngine(cfg, st)
		if err != nil {
			return err
		}

		lf, err := newAggregator(cfg, st, engine).Apply(ctx, c)
		if err != nil {
			return err
		}

		formatLearnedFoods(os.Stdout, []models.LearnedFood{*lf})
		if lf.ConfidenceScore < cfg.Estimator.ConfidenceThreshold {
			fmt.Fprintf(os.Stdout, "\nconfidence %.2f is below %.2f; estimates still use reference data\n",
				lf.ConfidenceScore, cfg.Estimator.ConfidenceThreshold)
		}
		return nil
	},
}

var correctionMacros = []string{"calories", "protein", "carbs", "fat"}

func init() {
	addCorrectionFlags(correctCmd)
	_ = correctCmd.MarkFlagRequired("food")
	_ = correctCmd.MarkFlagRequired("corrected-calories")
	rootCmd.AddCommand(correctCmd)
}

func addCorrectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("food", "", "food name")
	f.String("user", "", "user id")
	f.String("quantity", "", "quantity shown with the original estimate")
	f.String("corrected-quantity", "", "quantity the user entered (default: --quantity)")
	for _, m := range correctionMacros {
		f.Float64(m, 0, "original "+m)
		f.Float64("corrected-"+m, 0, "corrected "+m)
	}
}

// correctionFromFlags builds a correction, leaving corrected macros nil when
// their flag was not given.
func correctionFromFlags(cmd *cobra.Command) (*models.Correction, error) {
	f := cmd.Flags()
	c := &models.Correction{}
	c.FoodName, _ = f.GetString("food")
	c.UserID, _ = f.GetString("user")
	c.OriginalQuantity, _ = f.GetString("quantity")
	c.CorrectedQuantity, _ = f.GetString("corrected-quantity")

	originals := []*float64{&c.OriginalCalories, &c.OriginalProtein, &c.OriginalCarbs, &c.OriginalFat}
	corrected := []**float64{&c.CorrectedCalories, &c.CorrectedProtein, &c.CorrectedCarbs, &c.CorrectedFat}
	for i, m := range correctionMacros {
		v, err := f.GetFloat64(m)
		if err != nil {
			return nil, err
		}
		*originals[i] = v

		if f.Changed("corrected-" + m) {
			cv, err := f.GetFloat64("corrected-" + m)
			if err != nil {
				return nil, err
			}
			*corrected[i] = &cv
		}
	}
	return c, nil
}
