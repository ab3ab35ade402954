package curve

import (
	"bytes"
	"io"
	"os"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/profile"
	"gopkg.in/yaml.v3"
)

// Set holds one curve per fan. A fan without an entry keeps the curve its
// profile declares.
type Set map[profile.Fan]Curve

type fileFormat struct {
	CPU []Point `yaml:"cpu"`
	GPU []Point `yaml:"gpu"`
}

// Parse reads a YAML curve definition:
//
//	cpu:
//	  - {temp: 0, duty: 0}
//	  - {temp: 90, duty: 100}
//	gpu: [...]
func Parse(r io.Reader) (Set, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f fileFormat
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.New().Wrap(errors.ErrValidation, err).WithMessage("invalid curve file")
	}

	set := make(Set)
	declared := [...][]Point{profile.CPU: f.CPU, profile.GPU: f.GPU}
	for i, points := range declared {
		if points == nil {
			continue
		}
		fan := profile.Fan(i)
		c, err := New(points...)
		if err != nil {
			return nil, errors.New().WrapWithData(errors.ErrValidation, err, struct{ Fan string }{fan.String()})
		}
		set[fan] = c
	}

	return set, nil
}

// LoadFile reads a curve definition from path.
func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New().WrapWithData(errors.ErrReadConfig, err, struct{ Path string }{path})
	}
	return Parse(bytes.NewReader(data))
}
