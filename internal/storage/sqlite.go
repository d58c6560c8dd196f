// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"mcp-nutrition-engine/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath in WAL mode and creates the
// schema if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS learned_foods (
	food_name_normalized  TEXT PRIMARY KEY,
	food_name             TEXT NOT NULL,
	avg_calories_per_100g REAL NOT NULL,
	avg_protein_per_100g  REAL NOT NULL,
	avg_carbs_per_100g    REAL NOT NULL,
	avg_fat_per_100g      REAL NOT NULL,
	sample_count          INTEGER NOT NULL,
	confidence_score      REAL NOT NULL,
	last_updated          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS food_corrections (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL DEFAULT '',
	food_name            TEXT NOT NULL,
	food_name_normalized TEXT NOT NULL,
	original_quantity    TEXT NOT NULL,
	corrected_quantity   TEXT NOT NULL,
	original_calories    REAL NOT NULL,
	corrected_calories   REAL NOT NULL,
	original_protein     REAL NOT NULL,
	corrected_protein    REAL,
	original_carbs       REAL NOT NULL,
	corrected_carbs      REAL,
	original_fat         REAL NOT NULL,
	corrected_fat        REAL,
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_feedback (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL DEFAULT '',
	analysis_id   TEXT NOT NULL DEFAULT '',
	is_accurate   INTEGER NOT NULL,
	feedback_text TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learned_foods_confidence ON learned_foods(confidence_score);
CREATE INDEX IF NOT EXISTS idx_food_corrections_food ON food_corrections(food_name_normalized);
CREATE INDEX IF NOT EXISTS idx_food_corrections_user ON food_corrections(user_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const learnedColumns = `food_name_normalized, food_name, avg_calories_per_100g, avg_protein_per_100g,
	avg_carbs_per_100g, avg_fat_per_100g, sample_count, confidence_score, last_updated`

func (s *SQLiteStore) GetLearnedFood(ctx context.Context, key string) (*models.LearnedFood, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+learnedColumns+` FROM learned_foods WHERE food_name_normalized = ?`, key)
	lf, err := scanLearnedFood(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get learned food %s", key)
	}
	return lf, nil
}

func (s *SQLiteStore) FindLearnedFood(ctx context.Context, name string) (*models.LearnedFood, error) {
	name = normalizedName(name)
	if name == "" {
		return nil, ErrNotFound
	}
	lf, err := s.GetLearnedFood(ctx, name)
	if !errors.Is(err, ErrNotFound) {
		return lf, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+learnedColumns+` FROM learned_foods
		 WHERE food_name_normalized LIKE ? ESCAPE '\'
		 ORDER BY confidence_score DESC, sample_count DESC LIMIT 1`,
		"%"+escapeLike(name)+"%",
	)
	lf, err = scanLearnedFood(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find learned food %s", name)
	}
	return lf, nil
}

func (s *SQLiteStore) ListLearnedFoods(ctx context.Context, f LearnedFilter) ([]models.LearnedFood, error) {
	query := `SELECT ` + learnedColumns + ` FROM learned_foods WHERE confidence_score >= ?
		ORDER BY sample_count DESC, food_name_normalized`
	args := []any{f.MinConfidence}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list learned foods")
	}
	defer rows.Close()

	var out []models.LearnedFood
	for rows.Next() {
		lf, err := scanLearnedFood(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan learned food")
		}
		out = append(out, *lf)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate learned foods")
}

func (s *SQLiteStore) SaveLearnedFood(ctx context.Context, lf *models.LearnedFood, prevSampleCount int) error {
	var (
		res sql.Result
		err error
	)
	updated := formatTime(lf.LastUpdated)
	if prevSampleCount == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO learned_foods (`+learnedColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(food_name_normalized) DO NOTHING`,
			lf.FoodNameNormalized, lf.FoodName, lf.AvgCaloriesPer100g, lf.AvgProteinPer100g,
			lf.AvgCarbsPer100g, lf.AvgFatPer100g, lf.SampleCount, lf.ConfidenceScore, updated,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE learned_foods SET food_name = ?, avg_calories_per_100g = ?, avg_protein_per_100g = ?,
			 avg_carbs_per_100g = ?, avg_fat_per_100g = ?, sample_count = ?, confidence_score = ?, last_updated = ?
			 WHERE food_name_normalized = ? AND sample_count = ?`,
			lf.FoodName, lf.AvgCaloriesPer100g, lf.AvgProteinPer100g, lf.AvgCarbsPer100g,
			lf.AvgFatPer100g, lf.SampleCount, lf.ConfidenceScore, updated,
			lf.FoodNameNormalized, prevSampleCount,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save learned food %s", lf.FoodNameNormalized)
	}
	return checkSaved(res)
}

func (s *SQLiteStore) RecordCorrection(ctx context.Context, c *models.Correction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO food_corrections (id, user_id, food_name, food_name_normalized, original_quantity,
		 corrected_quantity, original_calories, corrected_calories, original_protein, corrected_protein,
		 original_carbs, corrected_carbs, original_fat, corrected_fat, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.FoodName, normalizedName(c.FoodName), c.OriginalQuantity,
		c.CorrectedQuantity, c.OriginalCalories, derefOr(c.CorrectedCalories, c.OriginalCalories),
		c.OriginalProtein, c.CorrectedProtein, c.OriginalCarbs, c.CorrectedCarbs,
		c.OriginalFat, c.CorrectedFat, formatTime(c.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert correction")
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, f CorrectionFilter) ([]models.Correction, error) {
	query := `SELECT id, user_id, food_name, original_quantity, corrected_quantity, original_calories,
		corrected_calories, original_protein, corrected_protein, original_carbs, corrected_carbs,
		original_fat, corrected_fat, created_at
		FROM food_corrections WHERE 1=1`
	var args []any
	if f.FoodName != "" {
		query += " AND food_name_normalized = ?"
		args = append(args, normalizedName(f.FoodName))
	}
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close()

	var out []models.Correction
	for rows.Next() {
		var (
			c          models.Correction
			calories   float64
			p, cb, fat sql.NullFloat64
			created    string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.FoodName, &c.OriginalQuantity, &c.CorrectedQuantity,
			&c.OriginalCalories, &calories, &c.OriginalProtein, &p, &c.OriginalCarbs, &cb,
			&c.OriginalFat, &fat, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		c.CorrectedCalories = &calories
		c.CorrectedProtein = nullable(p)
		c.CorrectedCarbs = nullable(cb)
		c.CorrectedFat = nullable(fat)
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse correction created_at")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate corrections")
}

func (s *SQLiteStore) RecordFeedback(ctx context.Context, fb *models.Feedback) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_feedback (id, user_id, analysis_id, is_accurate, feedback_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.UserID, fb.AnalysisID, fb.IsAccurate, fb.Text, formatTime(fb.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert feedback")
}

func (s *SQLiteStore) FeedbackStats(ctx context.Context) (*models.FeedbackStats, error) {
	var total, accurate int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_accurate THEN 1 ELSE 0 END), 0) FROM analysis_feedback`,
	).Scan(&total, &accurate)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: feedback stats")
	}
	return &models.FeedbackStats{Total: total, Accurate: accurate, AccuracyRate: accuracyRate(accurate, total)}, nil
}

// checkSaved maps a conditional write that touched nothing to ErrConflict.
func checkSaved(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLearnedFood(row scannable) (*models.LearnedFood, error) {
	var lf models.LearnedFood
	var updated string
	err := row.Scan(&lf.FoodNameNormalized, &lf.FoodName, &lf.AvgCaloriesPer100g, &lf.AvgProteinPer100g,
		&lf.AvgCarbsPer100g, &lf.AvgFatPer100g, &lf.SampleCount, &lf.ConfidenceScore, &updated)
	if err != nil {
		return nil, err
	}
	if lf.LastUpdated, err = parseTime(updated); err != nil {
		return nil, eris.Wrap(err, "parse last_updated")
	}
	return &lf, nil
}

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func derefOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
