package control

import (
	"context"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/profile"
)

// WriteResult is the outcome of one static write.
type WriteResult struct {
	profile.Write
	Err error
}

// ApplyResult collects the outcome of every write of a profile.
type ApplyResult struct {
	Board   string
	Results []WriteResult
}

func (r ApplyResult) Succeeded() int {
	n := 0
	for _, w := range r.Results {
		if w.Err == nil {
			n++
		}
	}
	return n
}

func (r ApplyResult) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Err joins the failures, or returns nil when every write succeeded.
func (r ApplyResult) Err() error {
	var errs []error
	for _, w := range r.Results {
		if w.Err != nil {
			errs = append(errs, w.Err)
		}
	}
	return errors.Join(errs...)
}

// ApplyProfile writes every static assignment of board's profile in
// declaration order. A failed write does not stop the remaining ones; the
// returned error joins all failures.
func (c *Controller) ApplyProfile(ctx context.Context, board string) (ApplyResult, error) {
	p, err := c.privilegedProfile("apply_profile", board)
	if err != nil {
		return ApplyResult{}, err
	}

	return c.apply(ctx, p)
}

func (c *Controller) apply(ctx context.Context, p *profile.FanProfile) (ApplyResult, error) {
	writes := p.Writes()
	res := ApplyResult{Board: p.Board(), Results: make([]WriteResult, 0, len(writes))}

	for _, w := range writes {
		err := c.write(ctx, p, w.Address, w.Value)
		if err != nil {
			c.logger.Warn().Err(err).Str("board", p.Board()).Stringer("address", w.Address).Msg("Profile write failed")
		}
		res.Results = append(res.Results, WriteResult{Write: w, Err: err})
	}

	c.logger.Info().
		Str("board", p.Board()).
		Int("succeeded", res.Succeeded()).
		Int("failed", res.Failed()).
		Msg("Profile applied")

	return res, res.Err()
}
