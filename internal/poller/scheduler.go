package poller

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/opcuaexporter/internal/metrics"
	"github.com/jpalmerr/opcuaexporter/internal/opcua"
)

// Target is everything the scheduler needs to build one [EndpointPoller].
type Target struct {
	Endpoint EndpointInfo
	Dialer   opcua.Dialer
	Bindings []metrics.Binding
}

// Scheduler runs one [EndpointPoller] per endpoint.
//
// Pollers free-run on their own intervals with no coordination between
// them; the only state they share is the label-partitioned gauges. After
// every cycle the scheduler offers a [CycleResult] on the channel returned
// by [Scheduler.Results]. A full channel drops the result instead of
// stalling the poller.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	pollers []*EndpointPoller
	results chan CycleResult
	logger  *slog.Logger

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewScheduler creates one poller per target. Bindings must be registered
// before this is called so the first scrape already sees every series.
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop].
func NewScheduler(targets []Target, recorder metrics.Recorder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	pollers := make([]*EndpointPoller, 0, len(targets))
	for _, t := range targets {
		pollers = append(pollers, NewEndpointPoller(t.Endpoint, t.Dialer, t.Bindings, recorder, logger))
	}

	// room for one pending result per endpoint
	size := len(pollers)
	if size == 0 {
		size = 1
	}

	return &Scheduler{
		pollers: pollers,
		results: make(chan CycleResult, size),
		logger:  logger,
	}
}

// Results returns a receive-only channel that emits [CycleResult] values.
//
// The channel is closed when the scheduler stops.
func (s *Scheduler) Results() <-chan CycleResult {
	return s.results
}

// Start launches every poller in its own goroutine and returns immediately.
// Each poller runs its first cycle at once.
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.pollers {
		s.logger.Info("starting endpoint poller",
			"server", p.URL(),
			"nodes", len(p.bindings),
			"interval", p.info.Interval,
		)
		p := p
		g.Go(func() error {
			p.run(gctx, s.emit)
			return nil
		})
	}

	go func() {
		defer close(done)
		defer s.closeOnce.Do(func() { close(s.results) })
		_ = g.Wait()
	}()
}

// Stop cancels every poller and blocks until they have closed their
// sessions and the results channel is closed.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	// ensure channel is closed even if Start() was never called
	s.closeOnce.Do(func() { close(s.results) })
}

func (s *Scheduler) emit(r CycleResult) {
	select {
	case s.results <- r:
	default:
		s.logger.Warn("poll result dropped, consumer is behind", "server", r.URL)
	}
}
