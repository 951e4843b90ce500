package service

import (
	"context"
	"sync"
	"time"

	"recovery-service/internal/schedule"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tickLockKey = "scheduler-tick"

// Locker serializes ticks across replicas. Claims stay safe without it;
// it only saves duplicate work.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// SchedulerConfig tunes a tick
type SchedulerConfig struct {
	AbandonAfterMinutes int
	DispatchLimit       int
	DispatchGrace       time.Duration
	Concurrency         int
	LockTTL             time.Duration
}

// ShopSummary is one tenant's part of a tick
type ShopSummary struct {
	Shop      string          `json:"shop"`
	Abandoned int64           `json:"abandoned"`
	Enqueued  int             `json:"enqueued"`
	Dispatch  *DispatchResult `json:"dispatch,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TickSummary aggregates a tick over every enabled shop
type TickSummary struct {
	Skipped   bool           `json:"skipped,omitempty"`
	Shops     []ShopSummary  `json:"shops"`
	Abandoned int64          `json:"abandoned"`
	Enqueued  int            `json:"enqueued"`
	Dispatch  DispatchResult `json:"dispatch"`
}

// Scheduler runs classify, enqueue and dispatch for every enabled shop
type Scheduler struct {
	settings   store.SettingsRepository
	checkouts  *CheckoutService
	enqueuer   *Enqueuer
	dispatcher *Dispatcher
	locker     Locker
	cfg        SchedulerConfig
	logger     *zap.Logger

	mu sync.Mutex // one tick at a time per process
}

// NewScheduler creates a new scheduler; locker may be nil
func NewScheduler(
	settings store.SettingsRepository,
	checkouts *CheckoutService,
	enqueuer *Enqueuer,
	dispatcher *Dispatcher,
	locker Locker,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Scheduler{
		settings:   settings,
		checkouts:  checkouts,
		enqueuer:   enqueuer,
		dispatcher: dispatcher,
		locker:     locker,
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// RunTick processes every enabled shop. Per-shop failures are reported in
// the summary and never fail the tick.
func (s *Scheduler) RunTick(ctx context.Context) (*TickSummary, error) {
	ctx, span := util.StartSpan(ctx, "Scheduler.RunTick")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		util.SchedulerTickDuration.Observe(time.Since(start).Seconds())
	}()

	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, tickLockKey, s.cfg.LockTTL)
		if err != nil {
			s.logger.Warn("Tick lock unavailable, running unlocked", zap.Error(err))
		} else if !ok {
			s.logger.Info("Tick already running on another replica")
			return &TickSummary{Skipped: true, Shops: []ShopSummary{}}, nil
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), tickLockKey); err != nil {
					s.logger.Warn("Failed to release tick lock", zap.Error(err))
				}
			}()
		}
	}

	shops, err := s.settings.ListEnabledShops(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]ShopSummary, len(shops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, shop := range shops {
		i, shop := i, shop
		g.Go(func() error {
			summaries[i] = s.runShop(gctx, shop)
			return nil
		})
	}
	_ = g.Wait()

	summary := &TickSummary{Shops: summaries}
	for _, ss := range summaries {
		summary.Abandoned += ss.Abandoned
		summary.Enqueued += ss.Enqueued
		if ss.Dispatch != nil {
			summary.Dispatch.Add(*ss.Dispatch)
		}
	}

	s.logger.Info("Scheduler tick finished",
		zap.Int("shops", len(shops)),
		zap.Int64("abandoned", summary.Abandoned),
		zap.Int("enqueued", summary.Enqueued),
		zap.Int("started", summary.Dispatch.Started),
		zap.Int("errors", summary.Dispatch.Errors),
		zap.Duration("took", time.Since(start)))

	return summary, nil
}

func (s *Scheduler) runShop(ctx context.Context, shop string) ShopSummary {
	out := ShopSummary{Shop: shop}
	fail := func(step string, err error) ShopSummary {
		s.logger.Error("Scheduler step failed",
			zap.String("shop", shop),
			zap.String("step", step),
			zap.Error(err))
		out.Error = step + ": " + err.Error()
		return out
	}

	settings, err := s.settings.GetOrCreateSettings(ctx, shop)
	if err != nil {
		return fail("settings", err)
	}
	policy := schedule.PolicyFromSettings(*settings)

	if out.Abandoned, err = s.checkouts.MarkAbandoned(ctx, shop, s.cfg.AbandonAfterMinutes); err != nil {
		return fail("classify", err)
	}
	if out.Enqueued, err = s.enqueuer.Enqueue(ctx, shop, policy); err != nil {
		return fail("enqueue", err)
	}
	if out.Dispatch, err = s.dispatcher.RunDue(ctx, DispatchOptions{
		Shop:  shop,
		Limit: s.cfg.DispatchLimit,
		Grace: s.cfg.DispatchGrace,
	}); err != nil {
		return fail("dispatch", err)
	}
	return out
}
