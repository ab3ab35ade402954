package telemetry

import (
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Publisher is the part of a paho client the MQTT sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// PointWriter is the part of an InfluxDB write API the InfluxDB sink uses.
type PointWriter interface {
	WritePoint(point *write.Point)
}
