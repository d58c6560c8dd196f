// internal/storage/postgres.go
package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"mcp-nutrition-engine/internal/models"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool    Pool
	closeFn func()
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS learned_foods (
	food_name_normalized  TEXT PRIMARY KEY,
	food_name             TEXT NOT NULL,
	avg_calories_per_100g DOUBLE PRECISION NOT NULL,
	avg_protein_per_100g  DOUBLE PRECISION NOT NULL,
	avg_carbs_per_100g    DOUBLE PRECISION NOT NULL,
	avg_fat_per_100g      DOUBLE PRECISION NOT NULL,
	sample_count          INTEGER NOT NULL,
	confidence_score      DOUBLE PRECISION NOT NULL,
	last_updated          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS food_corrections (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL DEFAULT '',
	food_name            TEXT NOT NULL,
	food_name_normalized TEXT NOT NULL,
	original_quantity    TEXT NOT NULL,
	corrected_quantity   TEXT NOT NULL,
	original_calories    DOUBLE PRECISION NOT NULL,
	corrected_calories   DOUBLE PRECISION NOT NULL,
	original_protein     DOUBLE PRECISION NOT NULL,
	corrected_protein    DOUBLE PRECISION,
	original_carbs       DOUBLE PRECISION NOT NULL,
	corrected_carbs      DOUBLE PRECISION,
	original_fat         DOUBLE PRECISION NOT NULL,
	corrected_fat        DOUBLE PRECISION,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_feedback (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL DEFAULT '',
	analysis_id   TEXT NOT NULL DEFAULT '',
	is_accurate   BOOLEAN NOT NULL,
	feedback_text TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_learned_foods_confidence ON learned_foods(confidence_score);
CREATE INDEX IF NOT EXISTS idx_food_corrections_food ON food_corrections(food_name_normalized);
CREATE INDEX IF NOT EXISTS idx_food_corrections_user ON food_corrections(user_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetLearnedFood(ctx context.Context, key string) (*models.LearnedFood, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+learnedColumns+` FROM learned_foods WHERE food_name_normalized = $1`, key)
	lf, err := scanPgLearnedFood(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get learned food %s", key)
	}
	return lf, nil
}

func (s *PostgresStore) FindLearnedFood(ctx context.Context, name string) (*models.LearnedFood, error) {
	name = normalizedName(name)
	if name == "" {
		return nil, ErrNotFound
	}
	lf, err := s.GetLearnedFood(ctx, name)
	if !errors.Is(err, ErrNotFound) {
		return lf, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+learnedColumns+` FROM learned_foods
		 WHERE food_name_normalized LIKE $1
		 ORDER BY confidence_score DESC, sample_count DESC LIMIT 1`,
		"%"+escapeLike(name)+"%",
	)
	lf, err = scanPgLearnedFood(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find learned food %s", name)
	}
	return lf, nil
}

func (s *PostgresStore) ListLearnedFoods(ctx context.Context, f LearnedFilter) ([]models.LearnedFood, error) {
	query := `SELECT ` + learnedColumns + ` FROM learned_foods WHERE confidence_score >= $1
		ORDER BY sample_count DESC, food_name_normalized`
	args := []any{f.MinConfidence}
	if f.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list learned foods")
	}
	defer rows.Close()

	var out []models.LearnedFood
	for rows.Next() {
		lf, err := scanPgLearnedFood(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan learned food")
		}
		out = append(out, *lf)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate learned foods")
}

func (s *PostgresStore) SaveLearnedFood(ctx context.Context, lf *models.LearnedFood, prevSampleCount int) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if prevSampleCount == 0 {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO learned_foods (`+learnedColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (food_name_normalized) DO NOTHING`,
			lf.FoodNameNormalized, lf.FoodName, lf.AvgCaloriesPer100g, lf.AvgProteinPer100g,
			lf.AvgCarbsPer100g, lf.AvgFatPer100g, lf.SampleCount, lf.ConfidenceScore, lf.LastUpdated,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE learned_foods SET food_name = $1, avg_calories_per_100g = $2, avg_protein_per_100g = $3,
			 avg_carbs_per_100g = $4, avg_fat_per_100g = $5, sample_count = $6, confidence_score = $7, last_updated = $8
			 WHERE food_name_normalized = $9 AND sample_count = $10`,
			lf.FoodName, lf.AvgCaloriesPer100g, lf.AvgProteinPer100g, lf.AvgCarbsPer100g,
			lf.AvgFatPer100g, lf.SampleCount, lf.ConfidenceScore, lf.LastUpdated,
			lf.FoodNameNormalized, prevSampleCount,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: save learned food %s", lf.FoodNameNormalized)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) RecordCorrection(ctx context.Context, c *models.Correction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO food_corrections (id, user_id, food_name, food_name_normalized, original_quantity,
		 corrected_quantity, original_calories, corrected_calories, original_protein, corrected_protein,
		 original_carbs, corrected_carbs, original_fat, corrected_fat, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.UserID, c.FoodName, normalizedName(c.FoodName), c.OriginalQuantity,
		c.CorrectedQuantity, c.OriginalCalories, derefOr(c.CorrectedCalories, c.OriginalCalories),
		c.OriginalProtein, c.CorrectedProtein, c.OriginalCarbs, c.CorrectedCarbs,
		c.OriginalFat, c.CorrectedFat, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert correction")
}

func (s *PostgresStore) ListCorrections(ctx context.Context, f CorrectionFilter) ([]models.Correction, error) {
	query := `SELECT id, user_id, food_name, original_quantity, corrected_quantity, original_calories,
		corrected_calories, original_protein, corrected_protein, original_carbs, corrected_carbs,
		original_fat, corrected_fat, created_at
		FROM food_corrections WHERE 1=1`
	var args []any
	if f.FoodName != "" {
		args = append(args, normalizedName(f.FoodName))
		query += " AND food_name_normalized = $" + strconv.Itoa(len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += " AND user_id = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var out []models.Correction
	for rows.Next() {
		var c models.Correction
		if err := rows.Scan(&c.ID, &c.UserID, &c.FoodName, &c.OriginalQuantity, &c.CorrectedQuantity,
			&c.OriginalCalories, &c.CorrectedCalories, &c.OriginalProtein, &c.CorrectedProtein,
			&c.OriginalCarbs, &c.CorrectedCarbs, &c.OriginalFat, &c.CorrectedFat, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate corrections")
}

func (s *PostgresStore) RecordFeedback(ctx context.Context, fb *models.Feedback) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_feedback (id, user_id, analysis_id, is_accurate, feedback_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fb.ID, fb.UserID, fb.AnalysisID, fb.IsAccurate, fb.Text, fb.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert feedback")
}

func (s *PostgresStore) FeedbackStats(ctx context.Context) (*models.FeedbackStats, error) {
	var total, accurate int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_accurate) FROM analysis_feedback`,
	).Scan(&total, &accurate)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: feedback stats")
	}
	return &models.FeedbackStats{Total: total, Accurate: accurate, AccuracyRate: accuracyRate(accurate, total)}, nil
}

func scanPgLearnedFood(row pgx.Row) (*models.LearnedFood, error) {
	var lf models.LearnedFood
	err := row.Scan(&lf.FoodNameNormalized, &lf.FoodName, &lf.AvgCaloriesPer100g, &lf.AvgProteinPer100g,
		&lf.AvgCarbsPer100g, &lf.AvgFatPer100g, &lf.SampleCount, &lf.ConfidenceScore, &lf.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &lf, nil
}
