// Package sync implements the synchronization engine: per run it indexes
// every instance's album, plans the missing transfers, executes them with
// bounded per-instance concurrency and tracks live progress per group.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chmdznr/immich-album-sync/internal/immich"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// Guard rejections returned by StartSync. No run is created.
var (
	ErrAlreadyRunning   = errors.New("a sync run is already active for this group")
	ErrGroupUnavailable = errors.New("group is inactive or unknown")
)

// GroupSource is the read model for groups and their instances, backed by
// the external store.
type GroupSource interface {
	GetGroup(ctx context.Context, id int64) (models.SyncGroup, error)
	ListGroupInstances(ctx context.Context, groupID int64) ([]models.Instance, error)
}

// Config holds engine configuration.
type Config struct {
	Executor    ExecutorConfig `koanf:"executor"`
	HTTPTimeout time.Duration  `koanf:"http_timeout"`
}

// Service owns the progress store and the per-group run-exclusivity guard.
// The scheduler and manual triggers share StartSync, so both paths get
// identical semantics.
type Service struct {
	cfg     Config
	groups  GroupSource
	factory ClientFactory
	store   *Store
	archive ArchiveSink
	log     zerolog.Logger

	mu     gosync.Mutex
	active map[int64]struct{}
}

// NewService builds the engine. A nil factory means real Immich clients;
// a nil archive disables the mirror.
func NewService(cfg Config, groups GroupSource, factory ClientFactory, archive ArchiveSink, log zerolog.Logger) *Service {
	if factory == nil {
		timeout := cfg.HTTPTimeout
		factory = func(inst models.Instance) Client {
			return immich.New(inst.BaseURL, inst.APIKey, timeout)
		}
	}
	return &Service{
		cfg:     cfg,
		groups:  groups,
		factory: factory,
		store:   NewStore(),
		archive: archive,
		log:     log,
		active:  make(map[int64]struct{}),
	}
}

// Progress returns a snapshot of the group's current or most recent run.
func (s *Service) Progress(groupID int64) models.RunProgress {
	return s.store.Snapshot(groupID)
}

// StartSync begins a background run for the group. It rejects synchronously
// when the group is unknown or inactive, or when a run is already active.
// Expiration is not checked here: the scheduler skips expired groups before
// firing, while a manual trigger on an active group is honored regardless.
func (s *Service) StartSync(ctx context.Context, groupID int64) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGroupUnavailable, err)
	}
	if !group.Active {
		return ErrGroupUnavailable
	}
	instances, err := s.groups.ListGroupInstances(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load instances for group %d: %w", groupID, err)
	}

	if err := s.acquire(groupID); err != nil {
		return err
	}
	go func() {
		defer s.release(groupID)
		// The run outlives the request that triggered it.
		s.Run(context.Background(), group, instances)
	}()
	return nil
}

func (s *Service) acquire(groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.active[groupID]; running {
		return ErrAlreadyRunning
	}
	s.active[groupID] = struct{}{}
	return nil
}

func (s *Service) release(groupID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, groupID)
}

// Run executes one complete sync synchronously and returns the final
// progress. Callers other than StartSync (the one-shot CLI) must ensure no
// concurrent run touches the same instances.
func (s *Service) Run(ctx context.Context, group models.SyncGroup, instances []models.Instance) models.RunProgress {
	runID := uuid.NewString()
	log := s.log.With().Int64("group", group.ID).Str("run", runID).Logger()

	clients := make(map[int64]Client, len(instances))
	instByID := make(map[int64]models.Instance, len(instances))
	for _, inst := range instances {
		clients[inst.ID] = s.factory(inst)
		instByID[inst.ID] = inst
	}

	s.store.begin(&models.RunProgress{
		GroupID:     group.ID,
		RunID:       runID,
		Status:      models.RunRunning,
		StartedAt:   time.Now().UTC(),
		PerInstance: make(map[int64]models.InstanceProgress, len(instances)),
		Oversized:   make(map[int64][]models.OversizedAsset),
	})
	log.Info().Int("instances", len(instances)).Msg("sync run started")

	idx, err := BuildIndex(ctx, instances, clients)
	if err != nil {
		s.store.finish(group.ID, models.RunFailed, err)
		log.Error().Err(err).Msg("sync run failed")
		return s.store.Snapshot(group.ID)
	}

	plan := BuildPlan(ctx, idx, instances, clients, log)
	s.store.update(group.ID, func(run *models.RunProgress) {
		run.Total = len(plan.Items)
		run.TotalAssets = len(idx.Assets)
		for _, inst := range instances {
			run.PerInstance[inst.ID] = models.InstanceProgress{
				InstanceID:     inst.ID,
				Label:          inst.Label,
				InitialAssets:  idx.Listed[inst.ID],
				AlreadyPresent: idx.Held(inst.ID),
				Checksumless:   idx.Checksumless[inst.ID],
			}
		}
		for _, item := range plan.Items {
			ip := run.PerInstance[item.TargetID]
			ip.Missing++
			run.PerInstance[item.TargetID] = ip
		}
		for _, item := range plan.Oversized {
			ip := run.PerInstance[item.TargetID]
			ip.Oversized++
			run.PerInstance[item.TargetID] = ip
			run.Oversized[item.TargetID] = append(run.Oversized[item.TargetID], models.OversizedAsset{
				Identity: item.Identity,
				FileName: item.FileName,
				Size:     item.Size,
			})
		}
	})
	log.Info().
		Int("assets", len(idx.Assets)).
		Int("items", len(plan.Items)).
		Int("oversized", len(plan.Oversized)).
		Msg("transfer plan built")

	exec := &executor{
		cfg:       s.cfg.Executor.withDefaults(),
		instances: instByID,
		clients:   clients,
		store:     s.store,
		archive:   s.archive,
		log:       log,
	}
	exec.run(ctx, group.ID, plan.Items)

	// Item failures are recorded but do not fail the run.
	s.store.finish(group.ID, models.RunCompleted, nil)
	final := s.store.Snapshot(group.ID)
	log.Info().
		Int("done", final.Done).
		Int("failed", final.Failed).
		Msg("sync run completed")
	return final
}

// Plan computes the transfer plan without executing anything, for dry runs.
func (s *Service) Plan(ctx context.Context, instances []models.Instance) (*Index, Plan, error) {
	clients := make(map[int64]Client, len(instances))
	for _, inst := range instances {
		clients[inst.ID] = s.factory(inst)
	}
	idx, err := BuildIndex(ctx, instances, clients)
	if err != nil {
		return nil, Plan{}, err
	}
	return idx, BuildPlan(ctx, idx, instances, clients, s.log), nil
}
