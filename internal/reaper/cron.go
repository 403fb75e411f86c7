package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule проверяет и разбирает cron-выражение.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Leader — лидерство среди экземпляров reaper. Реализация: repo.AdvisoryLock.
type Leader interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Run запускает Tick по расписанию, пока не отменён ctx.
// Tick выполняет только лидер; без leader (nil) — каждый экземпляр.
func (r *Reaper) Run(ctx context.Context, schedule cron.Schedule, leader Leader) error {
	if leader != nil {
		defer func() {
			if err := leader.Unlock(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("failed to release leadership", "error", err)
			}
		}()
	}

	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if leader != nil {
			ok, err := leader.TryLock(ctx)
			if err != nil {
				r.logger.Error("leader lock error", "error", err)
				continue
			}
			if !ok {
				// не лидер — пропускаем тик
				continue
			}
		}

		if _, err := r.Tick(ctx); err != nil {
			r.logger.Error("reaper tick failed", "error", err)
		}
	}
}
