package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceStats holds the most recently collected host metrics.
type ResourceStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
}

// ResourceSampler periodically collects host resource usage in the
// background so the health/metrics handlers never block an HTTP request on
// a syscall.
type ResourceSampler struct {
	logger *slog.Logger
	dataDir string
	close  chan struct{}
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats ResourceStats
}

// NewResourceSampler creates a sampler. dataDir selects which filesystem's
// disk usage is reported (the node's Raft/SQL data directory, not
// necessarily "/").
func NewResourceSampler(logger *slog.Logger, dataDir string) *ResourceSampler {
	if dataDir == "" {
		dataDir = "/"
	}
	return &ResourceSampler{
		logger:  logger.With("component", "resource_sampler"),
		dataDir: dataDir,
		close:   make(chan struct{}),
	}
}

// Start begins periodic collection. Stop must be called to release its
// goroutine.
func (s *ResourceSampler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts collection and waits for the background goroutine to exit.
func (s *ResourceSampler) Stop() {
	close(s.close)
	s.wg.Wait()
}

// Stats returns the most recently collected sample.
func (s *ResourceSampler) Stats() ResourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *ResourceSampler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	s.collect()
	for {
		select {
		case <-s.close:
			return
		case <-ticker.C:
			s.collect()
		}
	}
}

func (s *ResourceSampler) collect() {
	var stats ResourceStats

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else {
		s.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		s.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage(s.dataDir); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	} else {
		s.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage = l.Load1
	} else {
		s.logger.Debug("failed to collect load stats", "error", err)
	}

	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}
