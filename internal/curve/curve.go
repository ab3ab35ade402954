// Package curve evaluates temperature to duty-cycle fan curves and encodes
// duty cycles into the bytes a board's curve tables expect.
package curve

import (
	"fmt"
	"math"

	"codeberg.org/mutker/iswctl/internal/errors"
)

const (
	MinTemp = 0
	MaxTemp = 150
	MinDuty = 0
	MaxDuty = 100

	minPoints = 2
)

// Point maps a temperature in °C to a duty cycle in percent.
type Point struct {
	Temp int `yaml:"temp"`
	Duty int `yaml:"duty"`
}

// Curve is a validated sequence of points, strictly increasing in
// temperature and non-decreasing in duty.
type Curve struct {
	points []Point
}

type pointData struct {
	Index int
	Point Point
}

// New validates points and builds a curve.
func New(points ...Point) (Curve, error) {
	errFactory := errors.New()

	if len(points) < minPoints {
		return Curve{}, errFactory.WithMessage(errors.ErrValidation,
			fmt.Sprintf("curve needs at least %d points, got %d", minPoints, len(points)))
	}

	for i, p := range points {
		data := pointData{Index: i, Point: p}
		switch {
		case p.Temp < MinTemp || p.Temp > MaxTemp:
			return Curve{}, errFactory.WithData(errors.ErrValidation, data).
				WithMessage(fmt.Sprintf("temperature outside %d..%d", MinTemp, MaxTemp))
		case p.Duty < MinDuty || p.Duty > MaxDuty:
			return Curve{}, errFactory.WithData(errors.ErrValidation, data).
				WithMessage(fmt.Sprintf("duty outside %d..%d", MinDuty, MaxDuty))
		case i > 0 && p.Temp <= points[i-1].Temp:
			return Curve{}, errFactory.WithData(errors.ErrValidation, data).
				WithMessage("temperatures must be strictly increasing")
		case i > 0 && p.Duty < points[i-1].Duty:
			return Curve{}, errFactory.WithData(errors.ErrValidation, data).
				WithMessage("duty must not decrease")
		}
	}

	return Curve{points: append([]Point(nil), points...)}, nil
}

// MustNew is New for curves known at compile time.
func MustNew(points ...Point) Curve {
	c, err := New(points...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Curve) Points() []Point {
	return append([]Point(nil), c.points...)
}

// Interpolate returns the duty at temp, clamped to the end points.
func (c Curve) Interpolate(temp int) int {
	if len(c.points) == 0 {
		return MinDuty
	}

	first, last := c.points[0], c.points[len(c.points)-1]
	if temp <= first.Temp {
		return first.Duty
	}
	if temp >= last.Temp {
		return last.Duty
	}

	for i := 1; i < len(c.points); i++ {
		hi := c.points[i]
		if temp > hi.Temp {
			continue
		}
		lo := c.points[i-1]
		frac := float64(temp-lo.Temp) / float64(hi.Temp-lo.Temp)
		return lo.Duty + int(math.Round(frac*float64(hi.Duty-lo.Duty)))
	}

	return last.Duty
}

// Evaluate interpolates the target duty at temp and keeps previous unless
// the target moved by more than margin.
func Evaluate(c Curve, temp, previous, margin int) int {
	target := c.Interpolate(temp)
	if applyHysteresis(target, previous, margin) {
		return previous
	}
	return target
}

func applyHysteresis(newDuty, currentDuty, hysteresis int) bool {
	return abs(newDuty-currentDuty) <= hysteresis
}

func abs(x int) int {
	if x < 0 {
		return -x
	}

	return x
}
