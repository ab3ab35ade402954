package monitor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/profile"
)

const (
	// DefaultMaxFailures is the number of consecutive failed ticks that stop the sampler.
	DefaultMaxFailures = 3
	DefaultBufferSize  = 16
)

type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Sink receives every sample the sampler takes.
type Sink interface {
	Record(ctx context.Context, s Sample) error
}

// Follower is fed each sample when curve following is enabled.
type Follower interface {
	Follow(ctx context.Context, s Sample) error
}

// Sampler reads the live registers of one profile on a fixed interval.
type Sampler struct {
	ral         ec.Accessor
	profile     *profile.FanProfile
	logger      logger.Logger
	sinks       []Sink
	follower    Follower
	onError     func(error)
	maxFailures int
	samples     chan Sample

	mu      sync.Mutex
	state   State
	history *History
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

type Option func(*Sampler)

func WithSink(sink Sink) Option {
	return func(s *Sampler) {
		s.sinks = append(s.sinks, sink)
	}
}

func WithFollower(f Follower) Option {
	return func(s *Sampler) {
		s.follower = f
	}
}

// WithErrorHandler is called for every failed tick.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Sampler) {
		s.onError = fn
	}
}

func WithMaxFailures(n int) Option {
	return func(s *Sampler) {
		s.maxFailures = n
	}
}

// WithBufferSize sets the capacity of the Samples channel.
func WithBufferSize(n int) Option {
	return func(s *Sampler) {
		s.samples = make(chan Sample, n)
	}
}

func NewSampler(ral ec.Accessor, p *profile.FanProfile, log logger.Logger, opts ...Option) *Sampler {
	s := &Sampler{
		ral:         ral,
		profile:     p,
		logger:      log.With("monitor"),
		maxFailures: DefaultMaxFailures,
		samples:     make(chan Sample, DefaultBufferSize),
		history:     NewHistory(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxFailures < 1 {
		s.maxFailures = 1
	}
	return s
}

// Start begins sampling every interval. A stopped sampler may be started
// again; its history is cleared.
func (s *Sampler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, struct{ Interval time.Duration }{interval})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return errors.New().WithMessage(errors.ErrInvalidOperation, "sampler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.history = NewHistory(CapacityFor(interval))
	s.err = nil
	s.state = Running

	go s.run(ctx, interval, s.done)

	s.logger.Debug().Dur("interval", interval).Msg("Sampler started")
	return nil
}

// Stop cancels sampling and waits for the loop to exit. It is a no-op unless
// the sampler is running.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
}

func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports why the sampler stopped on its own.
func (s *Sampler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the current run ends. It is nil before the first Start.
func (s *Sampler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Samples delivers new samples. Samples are dropped while the channel is full.
func (s *Sampler) Samples() <-chan Sample {
	return s.samples
}

// History returns a snapshot of the retained samples, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.Lock()
	h := s.history
	s.mu.Unlock()
	return h.Snapshot()
}

func (s *Sampler) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := s.tick(ctx); err != nil {
			if ctx.Err() != nil {
				s.finish(nil)
				return
			}

			failures++
			s.logger.Warn().Err(err).Int("failures", failures).Int("max_failures", s.maxFailures).Msg("Sample failed")
			if s.onError != nil {
				s.onError(err)
			}
			if failures >= s.maxFailures {
				s.finish(errors.New().Wrap(errors.ErrHardwareUnavailable, err).
					WithMessage("sampler stopped after consecutive failures"))
				return
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			s.finish(nil)
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) tick(ctx context.Context) error {
	sample, err := Read(ctx, s.ral, s.profile)
	if err != nil {
		return err
	}

	s.mu.Lock()
	h := s.history
	s.mu.Unlock()
	h.Append(sample)

	select {
	case s.samples <- sample:
	default:
		s.logger.Debug().Msg("Sample channel full, dropping sample")
	}

	for _, sink := range s.sinks {
		if err := sink.Record(ctx, sample); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record sample")
		}
	}

	if s.follower != nil {
		if err := s.follower.Follow(ctx, sample); err != nil {
			s.logger.Warn().Err(err).Msg("Curve following failed")
		}
	}

	return nil
}

func (s *Sampler) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Stopped
	s.err = err
	s.cancel()

	if err != nil {
		s.logger.Error().Err(err).Msg("Sampler stopped")
	} else {
		s.logger.Debug().Msg("Sampler stopped")
	}
}
