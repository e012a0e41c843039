package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return goose.UpContext(ctx, db, "migrations")
}

func (s *Postgres) HighestStored(ctx context.Context) (int64, bool, error) {
	return s.boundStored(ctx, "MAX")
}

func (s *Postgres) SmallestStored(ctx context.Context) (int64, bool, error) {
	return s.boundStored(ctx, "MIN")
}

func (s *Postgres) boundStored(ctx context.Context, agg string) (int64, bool, error) {
	var id sql.NullInt64
	query := fmt.Sprintf("SELECT %s(teletask_id) FROM vtt_files", agg)
	if err := s.pool.QueryRow(ctx, query).Scan(&id); err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return id.Int64, true, nil
}

// MissingInBetween returns the IDs in (min, max) with no stored artifact,
// ascending, minus the blacklist. The gap scan runs in SQL; the blacklist
// is subtracted here so the two domains stay independent.
func (s *Postgres) MissingInBetween(ctx context.Context) ([]int64, error) {
	query := `
		WITH bounds AS (
			SELECT MIN(teletask_id) AS min_id, MAX(teletask_id) AS max_id
			FROM vtt_files
		),
		all_ids AS (
			SELECT generate_series(
				(SELECT min_id FROM bounds),
				(SELECT max_id FROM bounds)
			) AS teletask_id
		)
		SELECT all_ids.teletask_id
		FROM all_ids
		LEFT JOIN vtt_files vf ON all_ids.teletask_id = vf.teletask_id
		WHERE vf.teletask_id IS NULL
		ORDER BY all_ids.teletask_id
	`
	missing, err := s.queryIDs(ctx, query)
	if err != nil {
		return nil, err
	}
	blacklisted, err := s.BlacklistedIDs(ctx)
	if err != nil {
		return nil, err
	}
	skip := make(map[int64]struct{}, len(blacklisted))
	for _, id := range blacklisted {
		skip[id] = struct{}{}
	}
	out := missing[:0]
	for _, id := range missing {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Postgres) OriginalExists(ctx context.Context, id int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM vtt_files WHERE teletask_id = $1 AND is_original_lang = TRUE", id,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Postgres) SaveVTT(ctx context.Context, f *VTTFile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vtt_files (teletask_id, language, is_original_lang, vtt_data, txt_data, asr_model, compute_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.TeletaskID, f.Language, f.IsOriginalLang, f.VTTData, f.TXTData, f.ASRModel, f.ComputeType,
	)
	return err
}

func (s *Postgres) LectureLanguage(ctx context.Context, id int64) (string, bool, error) {
	var lang sql.NullString
	err := s.pool.QueryRow(ctx,
		"SELECT language FROM lecture_data WHERE teletask_id = $1", id,
	).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return lang.String, lang.Valid, nil
}

// AddLecture stores lecture metadata together with its series and lecturer
// rows. All three inserts are idempotent on their primary keys.
func (s *Postgres) AddLecture(ctx context.Context, l *Lecture) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if l.LecturerID != 0 {
		if _, err := tx.Exec(ctx,
			"INSERT INTO lecturer_data (lecturer_id, lecturer_name) VALUES ($1, $2) ON CONFLICT (lecturer_id) DO NOTHING",
			l.LecturerID, l.LecturerName,
		); err != nil {
			return err
		}
	}
	if l.SeriesID != 0 {
		if _, err := tx.Exec(ctx,
			"INSERT INTO series_data (series_id, series_name, lecturer_id) VALUES ($1, $2, $3) ON CONFLICT (series_id) DO NOTHING",
			l.SeriesID, l.SeriesName, l.LecturerID,
		); err != nil {
			return err
		}
	}

	var date interface{}
	if l.HasDate {
		date = l.Date
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO lecture_data (teletask_id, language, date, lecturer_id, series_id, semester, duration, title, video_mp4)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (teletask_id) DO NOTHING`,
		l.TeletaskID, l.Language, date, nullID(l.LecturerID), nullID(l.SeriesID),
		l.Semester, l.Duration, l.Title, l.VideoURL,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) AddToBlacklist(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blacklist_ids (teletask_id, reason)
		VALUES ($1, $2)
		ON CONFLICT (teletask_id) DO UPDATE
		SET times_tried = blacklist_ids.times_tried + 1,
		    reason = EXCLUDED.reason`,
		id, reason,
	)
	return err
}

func (s *Postgres) BlacklistedIDs(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT teletask_id FROM blacklist_ids")
}

func (s *Postgres) APIKey(ctx context.Context, key string) (*APIKey, error) {
	var k APIKey
	err := s.pool.QueryRow(ctx,
		"SELECT api_key, person_name, person_email, expiration_date, status FROM api_keys WHERE api_key = $1",
		key,
	).Scan(&k.Key, &k.PersonName, &k.Email, &k.Expiration, &k.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Postgres) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
