package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/veyra-labs/fieldledger/internal/engine"
	"github.com/veyra-labs/fieldledger/internal/ledger"
)

// Subjects carried on the live feed.
const (
	SubjectRedistributions  = "fieldledger.redistributions"
	SubjectResonanceCreated = "fieldledger.resonance.created"
	SubjectResonanceResolve = "fieldledger.resonance.resolved"

	// SubjectFeedAll matches every feed subject for fanout subscribers.
	SubjectFeedAll = "fieldledger.>"
)

// FeedMessage is the envelope published on every feed subject.
type FeedMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher pushes ledger activity onto the feed. Publishing is best effort:
// failures are logged and never propagate to the caller.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

// NewPublisher creates a feed publisher.
func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With("component", "natsfeed"),
	}
}

// RedistributionExecuted publishes a completed redistribution.
func (p *Publisher) RedistributionExecuted(ctx context.Context, rec ledger.RedistributionRecord) {
	p.publish(SubjectRedistributions, "redistribution", rec)
}

// ResonanceCreated publishes a newly reported field resonance event.
func (p *Publisher) ResonanceCreated(event ledger.FieldResonanceEvent) {
	p.publish(SubjectResonanceCreated, "resonance_created", event)
}

// ResonanceResolved publishes a resolved field resonance event.
func (p *Publisher) ResonanceResolved(event ledger.FieldResonanceEvent) {
	p.publish(SubjectResonanceResolve, "resonance_resolved", event)
}

func (p *Publisher) publish(subject, kind string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("marshal feed payload", "kind", kind, "error", err)
		return
	}

	msg, err := json.Marshal(FeedMessage{Kind: kind, Payload: payload})
	if err != nil {
		p.logger.Error("marshal feed envelope", "kind", kind, "error", err)
		return
	}

	if err := p.client.Conn().Publish(subject, msg); err != nil {
		p.logger.Warn("publish feed message", "subject", subject, "error", err)
	}
}

// Subscribe delivers every feed message to the handler until the returned
// subscription is unsubscribed or the connection closes.
func (c *Client) Subscribe(handler func(subject string, data []byte)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(SubjectFeedAll, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectFeedAll, err)
	}
	return sub, nil
}

var _ engine.EventSink = (*Publisher)(nil)
