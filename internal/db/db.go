package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"bicimon/internal/trip"
)

func Open(dsn string) (*sql.DB, error) {
	driver, source, err := Driver(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
		return db, nil
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Schema creates the fixes table used for replay. Column types are chosen
// to be valid in both PostgreSQL and SQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS fixes (
  track_id            TEXT             NOT NULL,
  recorded_at_ms      BIGINT           NOT NULL,
  speed_mps           DOUBLE PRECISION,
  altitude_m          DOUBLE PRECISION,
  altitude_accuracy_m DOUBLE PRECISION,
  heading_deg         DOUBLE PRECISION,
  accuracy_m          DOUBLE PRECISION
)`

// FetchFixes returns the recorded fixes of a track in time order. Speeds are
// stored as reported by the device, in m/s.
func FetchFixes(ctx context.Context, db *sql.DB, trackID string) ([]trip.RawFix, error) {
	q := `
SELECT recorded_at_ms, speed_mps, altitude_m, altitude_accuracy_m, heading_deg, accuracy_m
FROM fixes
WHERE track_id = $1
ORDER BY recorded_at_ms`
	rows, err := db.QueryContext(ctx, q, trackID)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	var fixes []trip.RawFix
	for rows.Next() {
		var ms int64
		var speed, alt, altAcc, heading, acc sql.NullFloat64
		if err := rows.Scan(&ms, &speed, &alt, &altAcc, &heading, &acc); err != nil {
			return nil, err
		}
		fixes = append(fixes, trip.RawFix{
			Timestamp:        time.UnixMilli(ms),
			SpeedMps:         nullable(speed),
			Altitude:         nullable(alt),
			AltitudeAccuracy: nullable(altAcc),
			Heading:          nullable(heading),
			Accuracy:         nullable(acc),
		})
	}
	return fixes, rows.Err()
}

func nullable(n sql.NullFloat64) trip.Option[float64] {
	if !n.Valid {
		return trip.None[float64]()
	}
	return trip.Some(n.Float64)
}
