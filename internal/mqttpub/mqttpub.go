// v1
// internal/mqttpub/mqttpub.go

// Package mqttpub mirrors each dome's sensor readings to an MQTT broker for
// lightweight consumers (dashboards, radios) that do not speak Kafka. Like
// the telemetry bus this is fire-and-forget: a flaky broker degrades the
// uplink, never the control loop.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// publishClient is the subset of mqtt.Client the uplink uses.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Uplink publishes SensorReading JSON to <prefix>/<domeID>/sensors.
type Uplink struct {
	log    *slog.Logger
	client publishClient
	prefix string
}

// Connect dials the broker and returns a ready uplink.
func Connect(brokerAddr, prefix, clientID string, log *slog.Logger) (*Uplink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerAddr).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerAddr, token.Error())
	}
	return newWith(c, prefix, log), nil
}

func newWith(c publishClient, prefix string, log *slog.Logger) *Uplink {
	return &Uplink{
		log:    log.With(slog.String("component", "mqttpub")),
		client: c,
		prefix: prefix,
	}
}

// Publish sends one reading at QoS 0. Marshal failures are logged and
// swallowed; the uplink carries no delivery guarantee.
func (u *Uplink) Publish(domeID string, r telemetry.SensorReading) {
	payload, err := json.Marshal(r)
	if err != nil {
		u.log.Error("marshal reading failed", "err", err, "dome", domeID)
		return
	}
	topic := u.prefix + "/" + domeID + "/sensors"
	token := u.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			u.log.Warn("mqtt publish failed", "err", token.Error(), "topic", topic)
		}
	}()
}

// Close disconnects from the broker.
func (u *Uplink) Close() {
	u.client.Disconnect(250)
}
