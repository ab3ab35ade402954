package telemetry

import (
	"context"
	"encoding/json"
	"strings"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/monitor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// MQTTSink publishes every sample as JSON to <prefix>/<board>/sample. It only
// publishes and never subscribes.
type MQTTSink struct {
	pub    Publisher
	client pahomqtt.Client
	prefix string
	qos    byte
	logger logger.Logger
}

// NewMQTTSink returns a sink publishing through pub.
func NewMQTTSink(pub Publisher, prefix string, qos byte, log logger.Logger) *MQTTSink {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return &MQTTSink{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
		logger: log,
	}
}

// DialMQTT connects to the broker in cfg.
func DialMQTT(cfg MQTTConfig, log logger.Logger) (*MQTTSink, error) {
	errFactory := errors.New()

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, errFactory.WithData(ErrConnectionFailed, struct{ Broker string }{cfg.Broker}).
			WithMessage("MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, errFactory.WrapWithData(ErrConnectionFailed, err, struct{ Broker string }{cfg.Broker})
	}

	log.Info().Str("broker", cfg.Broker).Str("client_id", clientID).Msg("Connected to MQTT broker")

	sink := NewMQTTSink(client, cfg.TopicPrefix, cfg.QoS, log)
	sink.client = client
	return sink, nil
}

// Topic returns the topic samples of board are published to.
func (m *MQTTSink) Topic(board string) string {
	return m.prefix + "/" + topicReplacer.Replace(board) + "/sample"
}

func (m *MQTTSink) Record(ctx context.Context, s monitor.Sample) error {
	errFactory := errors.New()

	payload, err := json.Marshal(s)
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	topic := m.Topic(s.Board)
	token := m.pub.Publish(topic, m.qos, false, payload)

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return errFactory.WrapWithData(ErrOperationTimeout, ctx.Err(), struct{ Topic string }{topic})
	}
	if err := token.Error(); err != nil {
		return errFactory.WrapWithData(ErrPublishFailed, err, struct{ Topic string }{topic})
	}

	m.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published sample")
	return nil
}

// Close disconnects a client created by DialMQTT.
func (m *MQTTSink) Close() error {
	if m.client != nil {
		m.client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}
