package skills

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Janitor runs the library's eviction sweep on an interval so expired
// skills are purged even when nothing looks them up. The sweep itself stays
// callable directly for tests and one-off maintenance.
type Janitor struct {
	lib      Library
	interval time.Duration
	logger   *zap.Logger
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewJanitor creates a janitor for the library. The background sweep must be
// started by calling Start().
func NewJanitor(lib Library, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		lib:      lib,
		interval: interval,
		logger:   logger.Named("skills.janitor"),
		stopChan: make(chan struct{}),
	}
}

// Start launches the background goroutine that periodically sweeps expired
// skills from the library.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Skill sweep janitor started", zap.Duration("interval", j.interval))
	for {
		select {
		case <-ticker.C:
			removed, err := j.lib.Sweep(context.Background())
			if err != nil {
				j.logger.Error("Skill sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				j.logger.Info("Skill sweep purged expired records", zap.Int("removed", removed))
			}
		case <-j.stopChan:
			j.logger.Info("Skill sweep janitor stopped")
			return
		}
	}
}

// Stop shuts the janitor down and waits for the sweep goroutine to exit. It
// is safe to call multiple times.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
	})
	j.wg.Wait()
}
