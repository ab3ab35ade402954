package control

import (
	"context"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/iswctl/internal/curve"
	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/monitor"
	"codeberg.org/mutker/iswctl/internal/profile"
	"github.com/asecurityteam/rolling"
)

const (
	DefaultInterval   = 2 * time.Second
	DefaultHysteresis = 4
	DefaultSmoothing  = 5

	restoreTimeout = 5 * time.Second
)

// FollowConfig tunes a curve-following session.
type FollowConfig struct {
	Interval   time.Duration
	Hysteresis int
	Smoothing  int
	// Curves overrides the curves derived from the profile, per fan.
	Curves curve.Set
	Sinks  []monitor.Sink
}

func DefaultFollowConfig() FollowConfig {
	return FollowConfig{
		Interval:   DefaultInterval,
		Hysteresis: DefaultHysteresis,
		Smoothing:  DefaultSmoothing,
	}
}

type fanState struct {
	curve  curve.Curve
	window *rolling.PointPolicy
	primed bool
	duty   int
	set    bool
}

// smooth returns the moving average of temp over the window. The first
// reading fills the whole window so the average starts at the live value.
func (st *fanState) smooth(temp, size int) int {
	if !st.primed {
		for i := 0; i < size; i++ {
			st.window.Append(float64(temp))
		}
		st.primed = true
		return temp
	}

	st.window.Append(float64(temp))
	return int(math.Round(st.window.Reduce(rolling.Avg)))
}

// Follower drives each fan's curve table from the sampled temperature.
type Follower struct {
	ral        ec.Accessor
	profile    *profile.FanProfile
	hysteresis int
	smoothing  int
	logger     logger.Logger

	mu   sync.Mutex
	fans [2]fanState
}

// NewFollower builds a follower for p. Fans without an entry in cfg.Curves
// follow the curve p programs into the EC.
func NewFollower(ral ec.Accessor, p *profile.FanProfile, cfg FollowConfig, log logger.Logger) (*Follower, error) {
	f := &Follower{
		ral:        ral,
		profile:    p,
		hysteresis: max(cfg.Hysteresis, 0),
		smoothing:  max(cfg.Smoothing, 1),
		logger:     log.With("follow"),
	}

	for _, fan := range profile.Fans {
		c, ok := cfg.Curves[fan]
		if !ok {
			var err error
			if c, err = curve.FromProfile(p, fan); err != nil {
				return nil, err
			}
		}
		// fail early on boards whose encoding cannot be written
		if _, err := curve.Encode(p, c.Interpolate(curve.MinTemp)); err != nil {
			return nil, err
		}
		f.fans[fan] = fanState{
			curve:  c,
			window: rolling.NewPointPolicy(rolling.NewWindow(f.smoothing)),
		}
	}

	return f, nil
}

// Follow implements monitor.Follower.
func (f *Follower) Follow(ctx context.Context, s monitor.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for _, fan := range profile.Fans {
		if err := f.follow(ctx, fan, s.Reading(fan).Temp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Follower) follow(ctx context.Context, fan profile.Fan, temp int) error {
	st := &f.fans[fan]

	smoothed := st.smooth(temp, f.smoothing)
	target := st.curve.Interpolate(smoothed)
	if st.set {
		target = curve.Evaluate(st.curve, smoothed, st.duty, f.hysteresis)
		if target == st.duty {
			return nil
		}
	}

	writes, err := curve.ToRegisterWrites(f.profile, fan, target)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if err := f.ral.Write(ctx, w.Address, w.Value, ec.WithVerify(f.profile.VerifyWrites())); err != nil {
			return err
		}
	}

	f.logger.Debug().
		Stringer("fan", fan).
		Int("temperature", temp).
		Int("average_temperature", smoothed).
		Int("previous_duty", st.duty).
		Int("duty", target).
		Msg("Fan duty changed")

	st.duty, st.set = target, true
	return nil
}

// Duty returns the duty last written for fan.
func (f *Follower) Duty(fan profile.Fan) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fans[fan].duty, f.fans[fan].set
}

// Follow applies board's profile and then follows the fan curves until ctx
// is cancelled or sampling fails. The profile is applied again on the way
// out so the EC resumes its own curve.
func (c *Controller) Follow(ctx context.Context, board string, cfg FollowConfig) error {
	p, err := c.privilegedProfile("follow", board)
	if err != nil {
		return err
	}

	follower, err := NewFollower(c.ral, p, cfg, c.logger)
	if err != nil {
		return err
	}

	if _, err := c.apply(ctx, p); err != nil {
		c.logger.Warn().Err(err).Msg("Profile partially applied")
	}

	opts := []monitor.Option{monitor.WithFollower(follower)}
	for _, sink := range cfg.Sinks {
		opts = append(opts, monitor.WithSink(sink))
	}
	sampler := monitor.NewSampler(c.ral, p, c.logger, opts...)

	if err := sampler.Start(ctx, cfg.Interval); err != nil {
		return err
	}
	c.logger.Info().Str("board", p.Board()).Dur("interval", cfg.Interval).Msg("Following fan curves")

	select {
	case <-ctx.Done():
		sampler.Stop()
	case <-sampler.Done():
	}

	restoreCtx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	_, restoreErr := c.apply(restoreCtx, p)

	return errors.Join(sampler.Err(), restoreErr)
}

// Stream delivers n samples of board's live registers to fn, or samples
// until ctx is cancelled when n is zero.
func (c *Controller) Stream(
	ctx context.Context, board string, n int, interval time.Duration, fn func(monitor.Sample) error,
) error {
	p, err := c.privilegedProfile("stream", board)
	if err != nil {
		return err
	}

	sampler := monitor.NewSampler(c.ral, p, c.logger)
	if err := sampler.Start(ctx, interval); err != nil {
		return err
	}
	defer sampler.Stop()

	done := sampler.Done()
	for count := 0; n <= 0 || count < n; count++ {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return sampler.Err()
		case s := <-sampler.Samples():
			if err := fn(s); err != nil {
				return err
			}
		}
	}

	return nil
}
