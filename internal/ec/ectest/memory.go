// Package ectest provides an in-memory register file for tests.
package ectest

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Write records one register store in the order it reached the device.
type Write struct {
	Address int64
	Value   byte
}

type fault struct {
	remaining int
	err       error
}

// Memory is a 256-byte register file with fault injection. It satisfies
// ec.Device.
type Memory struct {
	mu     sync.Mutex
	regs   [256]byte
	faults map[int64]*fault
	stuck  map[int64]bool
	writes []Write
	closed bool

	// Delay is slept inside every transfer, outside the internal lock, so
	// tests can observe overlapping callers.
	Delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func NewMemory() *Memory {
	return &Memory{
		faults: make(map[int64]*fault),
		stuck:  make(map[int64]bool),
	}
}

// Set stores v without recording a write.
func (m *Memory) Set(addr int, v byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[addr] = v
}

func (m *Memory) Get(addr int) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

// Fail makes the next n transfers touching addr fail with err.
func (m *Memory) Fail(addr int, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[int64(addr)] = &fault{remaining: n, err: err}
}

// Stick makes writes to addr succeed without changing the stored value.
func (m *Memory) Stick(addr int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stuck[int64(addr)] = true
}

// Writes returns every successful write in order.
func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// MaxInFlight reports the highest number of concurrent transfers observed.
func (m *Memory) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

func (m *Memory) enter() func() {
	n := m.inFlight.Add(1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	return func() { m.inFlight.Add(-1) }
}

func (m *Memory) injected(off int64, n int) error {
	for a := off; a < off+int64(n); a++ {
		if f, ok := m.faults[a]; ok && f.remaining > 0 {
			f.remaining--
			return f.err
		}
	}
	return nil
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if err := m.injected(off, len(p)); err != nil {
		return 0, err
	}
	if off >= int64(len(m.regs)) {
		return 0, io.EOF
	}
	n := copy(p, m.regs[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if err := m.injected(off, len(p)); err != nil {
		return 0, err
	}
	if off+int64(len(p)) > int64(len(m.regs)) {
		return 0, io.ErrShortWrite
	}
	for i, b := range p {
		a := off + int64(i)
		if !m.stuck[a] {
			m.regs[a] = b
		}
		m.writes = append(m.writes, Write{Address: a, Value: b})
	}
	return len(p), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
