// Package ec provides serialized, validated byte access to the embedded
// controller register file exposed by the ec_sys kernel module.
package ec

import (
	"context"
	"fmt"
	"io"
)

const (
	DefaultPath             = "/sys/kernel/debug/ec/ec0/io"
	DefaultWriteSupportPath = "/sys/module/ec_sys/parameters/write_support"

	// Size is the number of addressable registers.
	Size = 256
)

// Address is an offset into the EC register file. It is wider than a byte so
// that out-of-range requests can be represented and rejected.
type Address int

func (a Address) String() string {
	return fmt.Sprintf("0x%02x", int(a))
}

// Range is an inclusive address window.
type Range struct {
	Min, Max Address
}

// FullRange covers the whole register file.
func FullRange() Range {
	return Range{Min: 0, Max: Size - 1}
}

func (r Range) Contains(a Address) bool {
	return a >= r.Min && a <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Min, r.Max)
}

// Device is the open hardware handle. *os.File satisfies it.
type Device interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Accessor is the register access contract consumed by the profile,
// monitor and control layers.
type Accessor interface {
	Read(ctx context.Context, addr Address) (byte, error)
	ReadWord(ctx context.Context, addr Address) (uint16, error)
	Write(ctx context.Context, addr Address, value byte, opts ...WriteOption) error
	Dump(ctx context.Context) ([]byte, error)
	Range() Range
}

// WriteOption adjusts a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	verify bool
}

// WithVerify reads the register back after writing and retries on mismatch.
func WithVerify(verify bool) WriteOption {
	return func(o *writeOptions) {
		o.verify = verify
	}
}
