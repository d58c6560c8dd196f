package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"mcp-nutrition-engine/internal/config"
	"mcp-nutrition-engine/internal/models"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"serve", "estimate", "correct", "learned", "migrate", "version"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}

	names = make(map[string]bool)
	for _, c := range learnedCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["export"])
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "nutrition-engine", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, estimateCmd.Flags().Lookup("caption"))
	require.NotNil(t, correctCmd.Flags().Lookup("corrected-fat"))

	flag = learnedExportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "learned_foods.xlsx", flag.DefValue)
}

func TestParseDetections(t *testing.T) {
	assert.Nil(t, parseDetections(nil))
	assert.Equal(t, []models.RawDetection{
		{Name: "rice", Quantity: "1 cup"},
		{Name: "roti", Quantity: "2 pieces"},
		{Name: "dal"},
	}, parseDetections([]string{"rice", "1 cup", "roti", "2 pieces", "dal"}))
}

func memoryConfig() *config.Config {
	return &config.Config{
		Store:     config.StoreConfig{Driver: "memory"},
		Estimator: config.EstimatorConfig{ConfidenceThreshold: 0.5, MaxConcurrency: 2, SnapshotLimit: 500},
		Learning:  config.LearningConfig{PriorStrength: 4, MaxAttempts: 5, Workers: 1, QueueSize: 8},
	}
}

func TestFormatEstimations(t *testing.T) {
	c := memoryConfig()
	engine, err := newEngine(c, nil)
	require.NoError(t, err)

	ests := engine.ExplainAll(context.Background(), []models.RawDetection{
		{Name: "rice", Quantity: "1 cup"},
		{Name: "xyz-unknown-food", Quantity: "200g"},
	})

	var buf bytes.Buffer
	formatEstimations(&buf, ests)
	out := buf.String()

	assert.Contains(t, out, "FOOD")
	assert.Contains(t, out, "312")
	assert.Contains(t, out, "exact")
	assert.Contains(t, out, "fallback")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "TOTAL"))
	assert.Contains(t, lines[len(lines)-1], "612")
}

func TestNewEngine_ReferenceFile(t *testing.T) {
	c := memoryConfig()
	c.Reference.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := newEngine(c, nil)
	assert.Error(t, err)
}

func TestCorrectionFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "correct"}
	addCorrectionFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{
		"--food", "paneer", "--quantity", "150g",
		"--calories", "398", "--corrected-calories", "420",
		"--fat", "31.5", "--corrected-fat", "33",
	}))

	c, err := correctionFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "paneer", c.FoodName)
	assert.Equal(t, "150g", c.OriginalQuantity)
	assert.Equal(t, 398.0, c.OriginalCalories)
	require.NotNil(t, c.CorrectedCalories)
	assert.Equal(t, 420.0, *c.CorrectedCalories)
	require.NotNil(t, c.CorrectedFat)
	assert.Equal(t, 33.0, *c.CorrectedFat)
	assert.Nil(t, c.CorrectedProtein)
	assert.Nil(t, c.CorrectedCarbs)
}

func TestAggregatorWiring(t *testing.T) {
	c := memoryConfig()
	ctx := context.Background()
	st, err := openStore(ctx, c, "learn")
	require.NoError(t, err)
	defer st.Close()

	engine, err := newEngine(c, st)
	require.NoError(t, err)

	cal := 280.0
	lf, err := newAggregator(c, st, engine).Apply(ctx, &models.Correction{
		FoodName: "paneer", CorrectedQuantity: "100g", CorrectedCalories: &cal,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, lf.SampleCount)

	var buf bytes.Buffer
	formatLearnedFoods(&buf, []models.LearnedFood{*lf})
	assert.Contains(t, buf.String(), "paneer")
	assert.Contains(t, buf.String(), "280.0")
}

func TestOpenStore_ValidatesConfig(t *testing.T) {
	c := memoryConfig()
	c.Store.Driver = "mysql"
	_, err := openStore(context.Background(), c, "store")
	assert.ErrorContains(t, err, "store.driver")
}

func TestNewOracle(t *testing.T) {
	c := memoryConfig()
	c.Vision.Provider = "none"
	o, err := newOracle(c)
	require.NoError(t, err)
	assert.NotNil(t, o)

	c.Vision = config.VisionConfig{Provider: "anthropic"}
	_, err = newOracle(c)
	assert.Error(t, err)

	c.Vision.APIKey = "sk-ant-test"
	o, err = newOracle(c)
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestWriteWorkbook(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cal := 280.0
	foods := []models.LearnedFood{
		{FoodName: "Paneer", FoodNameNormalized: "paneer", AvgCaloriesPer100g: 280, AvgProteinPer100g: 19,
			SampleCount: 10, ConfidenceScore: 0.71, LastUpdated: updated},
	}
	corrections := []models.Correction{
		{ID: "c1", UserID: "u1", FoodName: "paneer", OriginalQuantity: "100g", OriginalCalories: 265,
			CorrectedCalories: &cal, CreatedAt: updated},
	}

	path := filepath.Join(t.TempDir(), "learned.xlsx")
	require.NoError(t, writeWorkbook(path, foods, corrections))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	learned := f.Sheet["Learned foods"]
	require.NotNil(t, learned)
	require.Len(t, learned.Rows, 2)
	assert.Equal(t, "Food", learned.Rows[0].Cells[0].String())
	assert.Equal(t, "paneer", learned.Rows[1].Cells[0].String())
	assert.Equal(t, "2026-03-01T12:00:00Z", learned.Rows[1].Cells[8].String())

	sheet := f.Sheet["Corrections"]
	require.NotNil(t, sheet)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "c1", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "100g", sheet.Rows[1].Cells[3].String())
}

func TestWriteWorkbook_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, writeWorkbook(path, nil, nil))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sheet["Learned foods"].Rows, 1)
}
