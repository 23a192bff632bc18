package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoTracks is returned when the fixes table is empty.
var ErrNoTracks = errors.New("no recorded tracks")

// LatestTrack returns the track_id whose most recent fix is newest.
func LatestTrack(ctx context.Context, db *sql.DB) (string, error) {
	q := `
SELECT track_id
FROM fixes
GROUP BY track_id
ORDER BY MAX(recorded_at_ms) DESC
LIMIT 1`
	var id sql.NullString
	if err := db.QueryRowContext(ctx, q).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoTracks
		}
		return "", fmt.Errorf("query latest track: %w", err)
	}
	if !id.Valid || id.String == "" {
		return "", ErrNoTracks
	}
	return id.String, nil
}
