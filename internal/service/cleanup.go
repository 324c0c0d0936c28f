package service

import (
	"context"
	"sync"
	"time"

	"checkpoint-sync-api/internal/blob"
	"checkpoint-sync-api/internal/metrics"

	"go.uber.org/zap"
)

// LocationChecker reports whether any save record references a blob location.
type LocationChecker interface {
	LocationReferenced(ctx context.Context, location string) (bool, error)
}

// SweeperConfig holds configuration for the orphan blob sweeper.
type SweeperConfig struct {
	// Grace is the minimum age of a blob before it may be removed.
	// Covers uploads whose record has not been committed yet. Default: 1 hour
	Grace time.Duration

	// Interval is how often the sweep runs.
	// Default: 6 hours
	Interval time.Duration

	// InitialDelay postpones the first sweep after Start. Default: 1 minute
	InitialDelay time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Grace:        time.Hour,
		Interval:     6 * time.Hour,
		InitialDelay: time.Minute,
	}
}

// BlobSweeper periodically removes blobs no save record points at.
// Such blobs are left behind when a record insert or a blob delete fails.
type BlobSweeper struct {
	blobs     blob.Store
	records   LocationChecker
	config    SweeperConfig
	logger    *zap.Logger
	now       func() time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
	done      sync.WaitGroup
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewBlobSweeper creates a new orphan blob sweeper.
func NewBlobSweeper(blobs blob.Store, records LocationChecker, config SweeperConfig, logger *zap.Logger) *BlobSweeper {
	defaults := DefaultSweeperConfig()
	if config.Grace <= 0 {
		config.Grace = defaults.Grace
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BlobSweeper{
		blobs:   blobs,
		records: records,
		config:  config,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *BlobSweeper) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("blob sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("grace", s.config.Grace))

	s.done.Add(1)
	go s.run()
}

// run is the main sweep loop.
func (s *BlobSweeper) run() {
	defer s.done.Done()

	select {
	case <-time.After(s.config.InitialDelay):
		s.sweepLogged()
	case <-s.stopCh:
		return
	}

	for {
		select {
		case <-s.ticker.C:
			s.sweepLogged()
		case <-s.stopCh:
			s.logger.Info("blob sweeper stopped")
			return
		}
	}
}

func (s *BlobSweeper) sweepLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("blob sweep failed", zap.Int("removed", removed), zap.Error(err))
		return
	}

	if removed > 0 {
		s.logger.Info("removed orphaned blobs", zap.Int("removed", removed))
	} else {
		s.logger.Debug("no orphaned blobs to remove")
	}
}

// Sweep removes every unreferenced blob older than the grace period and
// returns how many were removed.
func (s *BlobSweeper) Sweep(ctx context.Context) (int, error) {
	infos, err := s.blobs.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.config.Grace)
	removed := 0
	for _, info := range infos {
		if info.ModTime.After(cutoff) {
			continue
		}

		referenced, err := s.records.LocationReferenced(ctx, info.Location)
		if err != nil {
			return removed, err
		}
		if referenced {
			continue
		}

		if err := s.blobs.Delete(ctx, info.Location); err != nil {
			s.logger.Warn("failed to remove orphaned blob", zap.String("location", info.Location), zap.Error(err))
			continue
		}
		removed++
		metrics.BlobsSweptTotal.Inc()
		s.logger.Debug("removed orphaned blob", zap.String("location", info.Location), zap.Int64("bytes", info.Size))
	}
	return removed, nil
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (s *BlobSweeper) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.done.Wait()
}
