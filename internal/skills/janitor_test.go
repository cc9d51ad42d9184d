package skills

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

// sweepCounter counts Sweep calls; the other library operations are inert.
type sweepCounter struct {
	sweeps atomic.Int64
}

func (s *sweepCounter) Lookup(context.Context, string, string, string, LookupOptions) ([]schemas.SkillHint, error) {
	return nil, nil
}

func (s *sweepCounter) Record(context.Context, string, string, string, schemas.FailedState, schemas.SuccessfulAction) error {
	return nil
}

func (s *sweepCounter) Penalize(context.Context, string, string, string, string) error {
	return nil
}

func (s *sweepCounter) Sweep(context.Context) (int, error) {
	s.sweeps.Add(1)
	return 0, nil
}

func TestJanitorSweepsPeriodically(t *testing.T) {
	lib := &sweepCounter{}
	janitor := NewJanitor(lib, 5*time.Millisecond, zap.NewNop())

	janitor.Start()
	assert.Eventually(t, func() bool { return lib.sweeps.Load() >= 2 },
		2*time.Second, time.Millisecond, "the janitor must keep sweeping on its interval")
	janitor.Stop()

	// After Stop returns the goroutine has exited; the count is frozen.
	count := lib.sweeps.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, lib.sweeps.Load())
}

func TestJanitorStopIsIdempotent(t *testing.T) {
	janitor := NewJanitor(&sweepCounter{}, time.Minute, zap.NewNop())
	janitor.Start()
	janitor.Stop()
	janitor.Stop()
}

func TestJanitorDefaultsInterval(t *testing.T) {
	janitor := NewJanitor(&sweepCounter{}, 0, zap.NewNop())
	assert.Equal(t, time.Hour, janitor.interval)
}
