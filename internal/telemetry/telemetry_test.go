package telemetry_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/monitor"
	"codeberg.org/mutker/iswctl/internal/telemetry"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	done chan struct{}
	err  error
}

func completed(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	messages []published
	token    pahomqtt.Token
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.messages = append(f.messages, published{topic, qos, retained, payload.([]byte)})
	if f.token != nil {
		return f.token
	}
	return completed(nil)
}

type fakeWriter struct {
	points []*write.Point
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.points = append(f.points, p)
}

func testSample() monitor.Sample {
	return monitor.Sample{
		Time:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Board: "MS-16V1",
		CPU:   monitor.Reading{Temp: 61, Duty: 45, RPM: 2987},
		GPU:   monitor.Reading{Temp: 55, Duty: 30, RPM: 0},
	}
}

func TestMQTTSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := telemetry.NewMQTTSink(pub, "home/laptop/", 1, logger.Nop())

	require.NoError(t, sink.Record(context.Background(), testSample()))
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, "home/laptop/MS-16V1/sample", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var got monitor.Sample
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, testSample().CPU, got.CPU)
	assert.Equal(t, "MS-16V1", got.Board)
}

func TestMQTTTopic(t *testing.T) {
	sink := telemetry.NewMQTTSink(&fakePublisher{}, "", 0, logger.Nop())
	assert.Equal(t, "iswctl/a_b_c_/sample", sink.Topic("a/b+c#"))
}

func TestMQTTSinkErrors(t *testing.T) {
	t.Run("publish failure", func(t *testing.T) {
		pub := &fakePublisher{token: completed(io.ErrClosedPipe)}
		sink := telemetry.NewMQTTSink(pub, "iswctl", 0, logger.Nop())

		err := sink.Record(context.Background(), testSample())
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, telemetry.ErrPublishFailed))
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		pub := &fakePublisher{token: &token{done: make(chan struct{})}}
		sink := telemetry.NewMQTTSink(pub, "iswctl", 0, logger.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := sink.Record(ctx, testSample())
		assert.True(t, errors.HasCode(err, telemetry.ErrOperationTimeout))
	})
}

func TestInfluxSinkWritesPoint(t *testing.T) {
	w := &fakeWriter{}
	sink := telemetry.NewInfluxSink(w, logger.Nop())

	require.NoError(t, sink.Record(context.Background(), testSample()))
	require.Len(t, w.points, 1)

	p := w.points[0]
	assert.Equal(t, "ec_sample", p.Name())
	assert.True(t, testSample().Time.Equal(p.Time()))

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"board": "MS-16V1"}, tags)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Len(t, fields, 6)
	assert.EqualValues(t, 61, fields["cpu_temp"])
	assert.EqualValues(t, 2987, fields["cpu_rpm"])
	assert.EqualValues(t, 30, fields["gpu_duty"])

	assert.NoError(t, sink.Close())
}

func TestInfluxSinkCancelled(t *testing.T) {
	w := &fakeWriter{}
	sink := telemetry.NewInfluxSink(w, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Record(ctx, testSample())
	assert.True(t, errors.HasCode(err, telemetry.ErrOperationTimeout))
	assert.Empty(t, w.points)
}

func TestOpenNothingEnabled(t *testing.T) {
	e, err := telemetry.Open(context.Background(), telemetry.Config{}, logger.Nop())
	require.NoError(t, err)
	assert.Empty(t, e.Sinks())
	assert.NoError(t, e.Close())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  telemetry.Config
	}{
		{"mqtt without broker", telemetry.Config{MQTT: telemetry.MQTTConfig{Enabled: true}}},
		{"mqtt qos", telemetry.Config{MQTT: telemetry.MQTTConfig{QoS: 3}}},
		{"influxdb without bucket", telemetry.Config{InfluxDB: telemetry.InfluxDBConfig{Enabled: true, URL: "http://localhost:8086"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := telemetry.Open(context.Background(), tt.cfg, logger.Nop())
			assert.True(t, errors.HasCode(err, telemetry.ErrInvalidConfig))
		})
	}
}
