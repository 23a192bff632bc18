package provider

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bicimon/internal/db"
	"bicimon/internal/timeutil"
)

// Replay plays back a recorded track as if it were live. Gaps between fixes
// are divided by Speed and every fix is stamped with the current time.
type Replay struct {
	db    *sql.DB
	track string
	speed float64
	clock timeutil.Clock
	log   logrus.FieldLogger

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewReplay(sqlDB *sql.DB, track string, speed float64, clock timeutil.Clock, log logrus.FieldLogger) *Replay {
	if speed <= 0 {
		speed = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Replay{db: sqlDB, track: track, speed: speed, clock: clock, log: log, sleep: sleepCtx}
}

func (p *Replay) Watch(ctx context.Context, out chan<- Event) error {
	track := p.track
	if track == "" {
		latest, err := db.LatestTrack(ctx, p.db)
		if err != nil {
			return err
		}
		track = latest
	}
	fixes, err := db.FetchFixes(ctx, p.db, track)
	if err != nil {
		return fmt.Errorf("load track %q: %w", track, err)
	}
	if len(fixes) == 0 {
		return fmt.Errorf("track %q has no fixes", track)
	}
	p.log.WithFields(logrus.Fields{"track": track, "fixes": len(fixes), "speed": p.speed}).Info("replaying track")

	var prev time.Time
	for i, f := range fixes {
		if i > 0 {
			gap := f.Timestamp.Sub(prev)
			if gap > 0 {
				if err := p.sleep(ctx, time.Duration(float64(gap)/p.speed)); err != nil {
					return err
				}
			}
		}
		prev = f.Timestamp
		live := f
		live.Timestamp = p.clock.Now()
		if !send(ctx, out, FixEvent(live)) {
			return ctx.Err()
		}
	}
	p.log.WithField("track", track).Info("replay finished")
	<-ctx.Done()
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
