// Package eventbus adapts dispatch.EventPublisher to a real message bus for
// best-effort lifecycle observability (task.dispatched, task.completed,
// task.requeued). The broker never subscribes or blocks on it — a publish
// failure is logged and swallowed, consistent with the pending-queue
// durability non-goal.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kandev/agentdispatch/internal/common/config"
	"github.com/kandev/agentdispatch/internal/common/logger"
)

// NATSPublisher publishes lifecycle events to NATS, following the
// teacher's internal/events/bus.NATSEventBus reconnection idiom.
type NATSPublisher struct {
	conn      *nats.Conn
	log       *logger.Logger
	namespace string
}

// event is the wire shape published to NATS, mirroring the teacher's
// bus.Event envelope.
type event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewNATSPublisher connects to NATS with reconnection handling.
func NewNATSPublisher(cfg config.NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	log.Info("connected to nats", zap.String("url", cfg.URL))
	return &NATSPublisher{conn: conn, log: log, namespace: cfg.Namespace}, nil
}

// Publish implements dispatch.EventPublisher. Failures are logged, never
// returned — the broker's dispatch path must never block on the bus.
func (p *NATSPublisher) Publish(eventType string, data map[string]any) {
	ev := event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "agentdispatch",
		Timestamp: time.Now(),
		Data:      data,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to marshal lifecycle event", zap.String("type", eventType), zap.Error(err))
		return
	}

	subject := p.namespace + "." + eventType
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.Warn("failed to publish lifecycle event", zap.String("subject", subject), zap.Error(err))
		return
	}

	p.log.Debug("published lifecycle event", zap.String("subject", subject), zap.String("event_id", ev.ID))
}

// Close closes the underlying NATS connection without draining it.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
