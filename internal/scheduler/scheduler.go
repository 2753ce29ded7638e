// Package scheduler fires a daily sync run for every active, non-expired
// group at its configured UTC time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	syncsvc "github.com/chmdznr/immich-album-sync/internal/sync"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// DefaultScheduleTime is used for groups without an explicit schedule.
const DefaultScheduleTime = "00:00"

// Trigger starts a run. Satisfied by *sync.Service, so scheduled and manual
// runs share the same entry point and exclusivity guard.
type Trigger interface {
	StartSync(ctx context.Context, groupID int64) error
}

// Source lists the groups eligible for scheduling.
type Source interface {
	ListActiveGroups(ctx context.Context) ([]models.GroupWithInstances, error)
}

// Scheduler checks for due groups once per tick. The clock is injected so
// tests can drive time.
type Scheduler struct {
	trigger  Trigger
	source   Source
	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	// fired tracks the last UTC day each group ran, so a group fires at
	// most once per day no matter how many ticks pass its schedule time.
	fired map[int64]string
}

// New creates a scheduler with a 30 second check interval.
func New(trigger Trigger, source Source, clock clockwork.Clock, log zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		trigger:  trigger,
		source:   source,
		clock:    clock,
		interval: 30 * time.Second,
		log:      log.With().Str("component", "scheduler").Logger(),
		fired:    make(map[int64]string),
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.interval).Msg("starting scheduler")
	go s.run(ctx)
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick fires every due group once. Exported so tests and on-demand
// maintenance can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now().UTC()
	groups, err := s.source.ListActiveGroups(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active groups")
		return
	}
	day := now.Format("2006-01-02")
	for _, g := range groups {
		group := g.Group
		if !group.Active || group.Expired(now) {
			continue
		}
		if s.fired[group.ID] == day {
			continue
		}
		if now.Before(dueAt(group.ScheduleTime, now)) {
			continue
		}
		s.fired[group.ID] = day
		err := s.trigger.StartSync(ctx, group.ID)
		switch {
		case err == nil:
			s.log.Info().Int64("group", group.ID).Msg("scheduled sync started")
		case errorIsAlreadyRunning(err):
			s.log.Debug().Int64("group", group.ID).Msg("scheduled sync suppressed, run in progress")
		default:
			s.log.Warn().Err(err).Int64("group", group.ID).Msg("scheduled sync rejected")
		}
	}
}

func errorIsAlreadyRunning(err error) bool {
	return errors.Is(err, syncsvc.ErrAlreadyRunning)
}

// dueAt resolves the group's schedule to a concrete time on now's UTC day.
// Malformed schedules fall back to midnight.
func dueAt(schedule string, now time.Time) time.Time {
	hh, mm := 0, 0
	if schedule == "" {
		schedule = DefaultScheduleTime
	}
	if parts := strings.SplitN(schedule, ":", 2); len(parts) == 2 {
		h, errH := strconv.Atoi(parts[0])
		m, errM := strconv.Atoi(parts[1])
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hh, mm = h, m
		}
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
}
