// v2
// internal/bus/bus.go

// Package bus publishes per-tick dome telemetry to Kafka. Publishing is
// best-effort and breaker-guarded: the control loop never blocks on a dead
// broker and never treats a publish failure as a control fault.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/breaker"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/dome"
)

// Envelope is the wire record for one dome tick.
type Envelope struct {
	DomeID    string          `json:"domeId"`
	Timestamp time.Time       `json:"timestamp"`
	Record    dome.TickRecord `json:"record"`
}

// messageWriter mirrors the subset of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes tick envelopes to one topic, keyed by dome ID so each
// dome's stream stays ordered within its partition.
type Publisher struct {
	log    *slog.Logger
	writer messageWriter
	brk    *breaker.Breaker
}

// New builds a publisher for the given brokers and topic.
func New(brokers []string, topic string, brkCfg breaker.Config, log *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return newWith(w, brkCfg, log)
}

func newWith(w messageWriter, brkCfg breaker.Config, log *slog.Logger) *Publisher {
	log = log.With(slog.String("component", "bus"))
	return &Publisher{
		log:    log,
		writer: w,
		brk:    breaker.New("kafka-telemetry", brkCfg, log),
	}
}

// Publish sends one tick record. Errors are logged and returned for the
// caller's counters; they carry no control-flow weight.
func (p *Publisher) Publish(ctx context.Context, domeID string, rec dome.TickRecord) error {
	env := Envelope{DomeID: domeID, Timestamp: time.Now().UTC(), Record: rec}
	b, err := json.Marshal(env)
	if err != nil {
		p.log.Error("marshal failed", "err", err, "dome", domeID)
		return err
	}
	err = p.brk.Execute(ctx, func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(domeID),
			Value: b,
			Time:  env.Timestamp,
		})
	})
	if err != nil {
		p.log.Warn("telemetry publish failed", "err", err, "dome", domeID)
		return err
	}
	return nil
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
