package telemetry

import (
	"context"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/monitor"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurement = "ec_sample"

// InfluxSink writes every sample as an ec_sample point tagged by board.
// Writes are batched by the client; failures arrive asynchronously and are
// logged.
type InfluxSink struct {
	writer   PointWriter
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   logger.Logger
}

// NewInfluxSink returns a sink writing through w.
func NewInfluxSink(w PointWriter, log logger.Logger) *InfluxSink {
	return &InfluxSink{writer: w, logger: log}
}

// DialInfluxDB connects to the server in cfg and checks it is healthy.
func DialInfluxDB(ctx context.Context, cfg InfluxDBConfig, log logger.Logger) (*InfluxSink, error) {
	errFactory := errors.New()
	data := struct{ URL string }{cfg.URL}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, errFactory.WrapWithData(ErrConnectionFailed, err, data)
	}
	if !healthy {
		client.Close()
		return nil, errFactory.WithData(ErrConnectionFailed, data).WithMessage("InfluxDB server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Str("url", cfg.URL).Msg("InfluxDB write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Connected to InfluxDB")

	sink := NewInfluxSink(writeAPI, log)
	sink.client = client
	sink.writeAPI = writeAPI
	return sink, nil
}

// Point converts a sample to an InfluxDB point.
func Point(s monitor.Sample) *write.Point {
	return write.NewPoint(
		measurement,
		map[string]string{"board": s.Board},
		map[string]interface{}{
			"cpu_temp": s.CPU.Temp,
			"cpu_duty": s.CPU.Duty,
			"cpu_rpm":  s.CPU.RPM,
			"gpu_temp": s.GPU.Temp,
			"gpu_duty": s.GPU.Duty,
			"gpu_rpm":  s.GPU.RPM,
		},
		s.Time,
	)
}

func (i *InfluxSink) Record(ctx context.Context, s monitor.Sample) error {
	if err := ctx.Err(); err != nil {
		return errors.New().Wrap(ErrOperationTimeout, err)
	}
	i.writer.WritePoint(Point(s))
	return nil
}

// Close flushes pending points and closes a client created by DialInfluxDB.
func (i *InfluxSink) Close() error {
	if i.client == nil {
		return nil
	}
	i.writeAPI.Flush()
	i.client.Close()
	return nil
}
