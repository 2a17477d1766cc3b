package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// onlineCounter is satisfied by *presence.Store; declared locally so this package doesn't import internal/presence
// just for a one-method sampling dependency.
type onlineCounter interface {
	OnlineUserIDs(ctx context.Context) ([]string, error)
}

// Sampler periodically pushes host/process resource usage into Metrics. Grounded on the teacher pack's gopsutil-based
// system sampler: CPU percentage is smoothed with an exponential moving average to avoid single-sample spikes.
type Sampler struct {
	m          *Metrics
	proc       *process.Process
	presence   onlineCounter
	interval   time.Duration
	cpuPercent float64
}

// NewSampler builds a Sampler for the current process. Returns an error only if the process handle can't be opened,
// which would indicate a broken /proc mount — sampling is best-effort from then on. presence may be nil, in which
// case the online-users gauge is simply never updated.
func NewSampler(m *Metrics, presence onlineCounter, interval time.Duration) (*Sampler, error) {
	p, err := process.NewProcessWithContext(context.Background(), int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{m: m, proc: p, presence: presence, interval: interval}, nil
}

// Run samples on a ticker until ctx is cancelled. Intended to run in its own goroutine from main().
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	s.m.SetGoroutines(runtime.NumGoroutine())

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		const alpha = 0.3
		if s.cpuPercent == 0 {
			s.cpuPercent = percents[0]
		} else {
			s.cpuPercent = alpha*percents[0] + (1-alpha)*s.cpuPercent
		}
		s.m.SetCPUPercent(s.cpuPercent)
	}

	if s.proc != nil {
		if memInfo, err := s.proc.MemInfoWithContext(ctx); err == nil && memInfo != nil {
			s.m.SetMemoryRSS(memInfo.RSS)
		}
	}

	if s.presence != nil {
		if ids, err := s.presence.OnlineUserIDs(ctx); err == nil {
			s.m.SetOnlineUsers(len(ids))
		}
	}
}
