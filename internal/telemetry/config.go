package telemetry

import (
	"time"

	"codeberg.org/mutker/iswctl/internal/errors"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultKeepAlive         = 30 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultTopicPrefix       = "iswctl"
	defaultClientID          = "iswctl"
	maxQoS                   = 2
)

type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

type InfluxDBConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

type Config struct {
	MQTT     MQTTConfig
	InfluxDB InfluxDBConfig
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "mqtt broker is required")
	}
	if c.MQTT.QoS > maxQoS {
		return errFactory.WithData(ErrInvalidConfig, struct{ QoS byte }{c.MQTT.QoS})
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		return errFactory.WithMessage(ErrInvalidConfig, "influxdb url and bucket are required")
	}
	return nil
}
