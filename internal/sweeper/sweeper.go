// Package sweeper clears leaked id-allocation placeholders. An allocation
// that never reached validate leaves an inert placeholder row behind; the
// sweeper deletes those past a configurable age on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/switchboardhq/switchboard/internal/models"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper runs the periodic placeholder sweep.
type Sweeper struct {
	db       *gorm.DB
	schedule cron.Schedule
	maxAge   time.Duration
}

// New parses the cron expression and returns a Sweeper.
func New(db *gorm.DB, expr string, maxAge time.Duration) (*Sweeper, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("sweeper: parse schedule %q: %w", expr, err)
	}
	return &Sweeper{db: db, schedule: sched, maxAge: maxAge}, nil
}

// Run blocks, sweeping on each scheduled fire until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := s.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
		n, err := s.SweepOnce()
		if err != nil {
			log.Printf("sweeper: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("sweeper: removed %d stale placeholders", n)
		}
	}
}

// SweepOnce deletes placeholders older than the configured age and returns
// how many went.
func (s *Sweeper) SweepOnce() (int64, error) {
	cutoff := time.Now().Add(-s.maxAge)
	res := s.db.Where("kind = ? AND created_at < ?", models.KindPlaceholder, cutoff).
		Delete(&models.KindDoc{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweeper: delete stale placeholders: %w", res.Error)
	}
	return res.RowsAffected, nil
}
