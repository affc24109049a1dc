// Package cleanup runs the periodic sweep of expired rooms.
package cleanup

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/room"
)

// Sweeper is the room registry's housekeeping surface.
type Sweeper interface {
	SweepExpired(warnWithin time.Duration) room.SweepReport
	Count() int
}

// Metrics receives sweep results.
type Metrics interface {
	AddRoomsSwept(n int)
	SetActiveRooms(count int)
}

// Cleaner 定时清理过期房间
type Cleaner struct {
	cron       *cron.Cron
	sweeper    Sweeper
	metrics    Metrics
	warnWithin time.Duration
	mu         sync.Mutex // one sweep at a time
}

// New schedules the sweep with a cron spec such as "@every 10m" or
// "*/10 * * * *". Nothing runs until Start.
func New(sweeper Sweeper, metrics Metrics, schedule string, warnWithin time.Duration) (*Cleaner, error) {
	c := &Cleaner{
		cron:       cron.New(),
		sweeper:    sweeper,
		metrics:    metrics,
		warnWithin: warnWithin,
	}
	if _, err := c.cron.AddFunc(schedule, func() { c.RunOnce() }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return c, nil
}

func (c *Cleaner) Start() {
	logger.Log.Infow("room cleanup scheduled", "entries", len(c.cron.Entries()))
	c.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
}

// RunOnce sweeps immediately.
func (c *Cleaner) RunOnce() room.SweepReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger.Log.Debug("room cleanup started")
	report := c.sweeper.SweepExpired(c.warnWithin)
	c.metrics.AddRoomsSwept(report.Deleted)
	c.metrics.SetActiveRooms(c.sweeper.Count())
	logger.Log.Infow("room cleanup finished",
		"deleted", report.Deleted,
		"expired", report.Expired,
		"expiringSoon", report.ExpiringSoon,
	)
	return report
}
