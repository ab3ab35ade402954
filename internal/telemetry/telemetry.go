// Package telemetry exports monitor samples to MQTT and InfluxDB. Both
// exports are outbound only.
package telemetry

import (
	"context"
	"io"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/monitor"
)

type sink interface {
	monitor.Sink
	io.Closer
}

// Exporter holds the enabled sinks.
type Exporter struct {
	sinks  []sink
	logger logger.Logger
}

// Open connects every enabled export in cfg. An Exporter with nothing
// enabled has no sinks.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Exporter, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	e := &Exporter{logger: log}

	if cfg.MQTT.Enabled {
		s, err := DialMQTT(cfg.MQTT, log)
		if err != nil {
			return nil, err
		}
		e.sinks = append(e.sinks, s)
	}

	if cfg.InfluxDB.Enabled {
		s, err := DialInfluxDB(ctx, cfg.InfluxDB, log)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.sinks = append(e.sinks, s)
	}

	return e, nil
}

// Sinks returns the enabled sinks.
func (e *Exporter) Sinks() []monitor.Sink {
	sinks := make([]monitor.Sink, len(e.sinks))
	for i, s := range e.sinks {
		sinks[i] = s
	}
	return sinks
}

func (e *Exporter) Close() error {
	var errs []error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}
