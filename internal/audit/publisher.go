package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/noah-ai-agent/internal/agent"
	"github.com/nugget/noah-ai-agent/internal/config"
)

// queueSize bounds events waiting for the broker. Further events are
// dropped and logged.
const queueSize = 256

// publishClient is the subset of autopaho.ConnectionManager the
// publisher uses.
type publishClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher sends turn events to an MQTT broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger
	queue      chan Event
	now        func() time.Time

	cm     *autopaho.ConnectionManager
	client publishClient
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger.With("component", "audit"),
		queue:      make(chan Event, queueSize),
		now:        time.Now,
	}
}

// Start connects to the broker and publishes queued events until ctx is
// cancelled. On every (re-)connect it publishes a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.TopicPrefix + "-" + p.cfg.DeviceName + "-" + shortID(p.instanceID),
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.client = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// TurnCompleted queues an event for res. It never blocks; when the queue
// is full the event is dropped. Its signature matches the orchestrator's
// observer hook.
func (p *Publisher) TurnCompleted(_ context.Context, res *agent.TurnResult) {
	ev := NewTurnEvent(p.instanceID, res, p.now())
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn("audit queue full, dropping event", "session_id", res.SessionID)
	}
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) turnTopic() string {
	return p.baseTopic() + "/turns"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Publish loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.publishEvent(ctx, ev)
		}
	}
}

func (p *Publisher) publishEvent(ctx context.Context, ev Event) {
	if p.client == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("mqtt marshal audit event", "session_id", ev.SessionID, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := p.client.Publish(pubCtx, &paho.Publish{
		Topic:   p.turnTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt audit publish failed",
			"session_id", ev.SessionID, "error", err)
		return
	}
	p.logger.Debug("audit event published",
		"session_id", ev.SessionID, "status", ev.Status)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
