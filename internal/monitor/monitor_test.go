package monitor_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/ec/ectest"
	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/monitor"
	"codeberg.org/mutker/iswctl/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testProfile = `[TEST]
fan_mode_address = 0xf4
cpu_temp_base = 0x6a
cpu_duty_base = 0x72
gpu_temp_base = 0x82
gpu_duty_base = 0x8a
realtime_cpu_temp_address = 0x68
realtime_cpu_fan_duty_address = 0x71
realtime_cpu_fan_rpm_address = 0xcc
realtime_gpu_temp_address = 0x80
realtime_gpu_fan_duty_address = 0x89
`

const tick = 5 * time.Millisecond

func setup(t *testing.T) (*ectest.Memory, *ec.Controller, *profile.FanProfile) {
	t.Helper()

	db, err := profile.Parse(strings.NewReader(testProfile))
	require.NoError(t, err)
	p, err := db.Resolve("TEST")
	require.NoError(t, err)

	mem := ectest.NewMemory()
	mem.Set(0x68, 61)
	mem.Set(0x71, 45)
	mem.Set(0xcc, 0x01)
	mem.Set(0xcd, 0xde)
	mem.Set(0x80, 55)
	mem.Set(0x89, 30)

	cfg := ec.DefaultConfig()
	cfg.Backoff = time.Millisecond
	return mem, ec.New(mem, nil, cfg, logger.Nop()), p
}

func TestCapacityFor(t *testing.T) {
	assert.Equal(t, 60, monitor.CapacityFor(2*time.Second))
	assert.Equal(t, 18, monitor.CapacityFor(7*time.Second))
	assert.Equal(t, 1, monitor.CapacityFor(3*time.Minute))
	assert.Equal(t, 1, monitor.CapacityFor(0))
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := monitor.NewHistory(3)
	base := time.Unix(0, 0)

	for i := 0; i < 5; i++ {
		h.Append(monitor.Sample{Time: base.Add(time.Duration(i) * time.Second)})
		assert.LessOrEqual(t, h.Len(), h.Cap())
	}

	snap := h.Snapshot()
	require.Len(t, snap, 3)
	for i, s := range snap {
		assert.Equal(t, base.Add(time.Duration(i+2)*time.Second), s.Time)
	}

	snap[0].Board = "changed"
	assert.Empty(t, h.Snapshot()[0].Board)

	h.Clear()
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Snapshot())
}

func TestRPM(t *testing.T) {
	assert.Equal(t, 0, monitor.RPM(0))
	assert.Equal(t, 1000, monitor.RPM(478))
	assert.Equal(t, 478000, monitor.RPM(1))
}

func TestRead(t *testing.T) {
	_, ctrl, p := setup(t)

	s, err := monitor.Read(context.Background(), ctrl, p)
	require.NoError(t, err)

	assert.Equal(t, "TEST", s.Board)
	assert.Equal(t, monitor.Reading{Temp: 61, Duty: 45, RPM: 1000}, s.CPU)
	assert.Equal(t, monitor.Reading{Temp: 55, Duty: 30, RPM: 0}, s.GPU)
	assert.Equal(t, s.GPU, s.Reading(profile.GPU))
	assert.False(t, s.Time.IsZero())
}

func TestSamplerLifecycle(t *testing.T) {
	_, ctrl, p := setup(t)
	s := monitor.NewSampler(ctrl, p, logger.Nop())

	assert.Equal(t, monitor.Idle, s.State())

	err := s.Start(context.Background(), 0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
	assert.Equal(t, monitor.Idle, s.State())

	require.NoError(t, s.Start(context.Background(), tick))
	assert.Equal(t, monitor.Running, s.State())

	err = s.Start(context.Background(), tick)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidOperation))

	select {
	case sample := <-s.Samples():
		assert.Equal(t, 61, sample.CPU.Temp)
	case <-time.After(time.Second):
		t.Fatal("no sample received")
	}

	s.Stop()
	assert.Equal(t, monitor.Stopped, s.State())
	assert.NoError(t, s.Err())
	assert.NotEmpty(t, s.History())

	s.Stop()
	assert.Equal(t, monitor.Stopped, s.State())

	require.NoError(t, s.Start(context.Background(), tick))
	assert.Equal(t, monitor.Running, s.State())
	s.Stop()
}

func TestSamplerSkipsTransientFailure(t *testing.T) {
	mem, ctrl, p := setup(t)
	// one full retry budget
	mem.Fail(0x68, int(ec.DefaultAttempts), unix.EIO)

	var mu sync.Mutex
	var tickErrs []error
	s := monitor.NewSampler(ctrl, p, logger.Nop(), monitor.WithErrorHandler(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		tickErrs = append(tickErrs, err)
	}))

	require.NoError(t, s.Start(context.Background(), tick))
	defer s.Stop()

	select {
	case <-s.Samples():
	case <-time.After(time.Second):
		t.Fatal("sampler did not recover")
	}

	assert.Equal(t, monitor.Running, s.State())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, tickErrs, 1)
	assert.True(t, errors.HasCode(tickErrs[0], errors.ErrHardwareTimeout))
}

func TestSamplerStopsAfterConsecutiveFailures(t *testing.T) {
	mem, ctrl, p := setup(t)
	mem.Fail(0x68, 1000, unix.ENODEV)

	var mu sync.Mutex
	failures := 0
	s := monitor.NewSampler(ctrl, p, logger.Nop(), monitor.WithErrorHandler(func(error) {
		mu.Lock()
		defer mu.Unlock()
		failures++
	}))

	require.NoError(t, s.Start(context.Background(), tick))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop")
	}

	assert.Equal(t, monitor.Stopped, s.State())
	assert.True(t, errors.HasCode(s.Err(), errors.ErrHardwareUnavailable))
	assert.Empty(t, s.History())
	mu.Lock()
	assert.Equal(t, monitor.DefaultMaxFailures, failures)
	mu.Unlock()

	s.Stop()
}

func TestSamplerStopsWithContext(t *testing.T) {
	_, ctrl, p := setup(t)
	s := monitor.NewSampler(ctrl, p, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, tick))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("cancellation not observed")
	}
	assert.Equal(t, monitor.Stopped, s.State())
	assert.NoError(t, s.Err())
}

type recordingSink struct {
	mu      sync.Mutex
	samples []monitor.Sample
	err     error
}

func (r *recordingSink) Record(_ context.Context, s monitor.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return r.err
}

func (r *recordingSink) Follow(ctx context.Context, s monitor.Sample) error {
	return r.Record(ctx, s)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func TestSamplerFeedsSinksAndFollower(t *testing.T) {
	_, ctrl, p := setup(t)

	sink := &recordingSink{}
	follower := &recordingSink{err: errors.New().New(errors.ErrOperationFailed)}
	s := monitor.NewSampler(ctrl, p, logger.Nop(),
		monitor.WithSink(sink),
		monitor.WithFollower(follower),
		monitor.WithBufferSize(1),
	)

	require.NoError(t, s.Start(context.Background(), tick))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return sink.count() >= 3 && follower.count() >= 3
	}, time.Second, tick)

	assert.Equal(t, monitor.Running, s.State())
	assert.Len(t, s.Samples(), 1)
}
