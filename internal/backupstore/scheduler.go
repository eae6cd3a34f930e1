package backupstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quoradb/quoradb/internal/config"
)

// BackupRequester is the narrow surface Scheduler needs from the public
// client API: issuing a Backup request the normal way, through the leader
// and Raft, rather than calling Manager.Backup directly. This keeps
// scheduled backups subject to the same leader-resolution and retry
// behavior as a user-issued Backup call.
type BackupRequester interface {
	Backup(ctx context.Context, storage string) (string, error)
}

// ScheduledBackupResult records the outcome of the most recent scheduled
// backup run, for the observability API.
type ScheduledBackupResult struct {
	Status    string
	Path      string
	Err       error
	Timestamp time.Time
}

// Scheduler issues a Backup request for a single named storage on a cron
// schedule, guarded so overlapping runs are skipped rather than queued.
type Scheduler struct {
	cron      *cron.Cron
	logger    *slog.Logger
	requester BackupRequester
	cfg       config.BackupScheduleConfig

	mu         sync.Mutex
	running    bool
	lastResult *ScheduledBackupResult
}

// NewScheduler builds a Scheduler for cfg. An empty cfg.Schedule disables
// scheduling: Start and Stop become no-ops.
func NewScheduler(cfg config.BackupScheduleConfig, requester BackupRequester, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{logger: logger, requester: requester, cfg: cfg}
	if cfg.Schedule == "" {
		return s, nil
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(cfg.Schedule, s.execute); err != nil {
		return nil, fmt.Errorf("backupstore: scheduling backup for storage %q: %w", cfg.Storage, err)
	}
	s.cron = c
	return s, nil
}

// Start begins the cron loop, if scheduling is enabled.
func (s *Scheduler) Start() {
	if s.cron == nil {
		return
	}
	s.logger.Info("backup scheduler started", "storage", s.cfg.Storage, "schedule", s.cfg.Schedule)
	s.cron.Start()
}

// Stop waits for any in-flight run to finish, up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	s.logger.Info("backup scheduler stopping", "storage", s.cfg.Storage)
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("backup scheduler stopped", "storage", s.cfg.Storage)
	case <-ctx.Done():
		s.logger.Warn("backup scheduler stop timed out", "storage", s.cfg.Storage)
	}
}

// LastResult returns the outcome of the most recently completed scheduled
// run, or nil if none has run yet.
func (s *Scheduler) LastResult() *ScheduledBackupResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Scheduler) execute() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduled backup already running, skipping this trigger", "storage", s.cfg.Storage)
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	path, err := s.requester.Backup(ctx, s.cfg.Storage)

	result := &ScheduledBackupResult{Timestamp: time.Now()}
	if err != nil {
		s.logger.Error("scheduled backup failed", "storage", s.cfg.Storage, "error", err, "duration", time.Since(start))
		result.Status = "failed"
		result.Err = err
	} else {
		s.logger.Info("scheduled backup completed", "storage", s.cfg.Storage, "path", path, "duration", time.Since(start))
		result.Status = "completed"
		result.Path = path
	}

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()
}
