// Package audit emits registry lifecycle events to an external sink.
// Publishing is best-effort: the registry never fails a mutation because an
// audit event could not be delivered.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

type Action string

const (
	ActionIdentityCreated     Action = "identity_created"
	ActionIdentityUpdated     Action = "identity_updated"
	ActionIdentityVerified    Action = "identity_verified"
	ActionIdentityDeactivated Action = "identity_deactivated"
	ActionRoleAdded           Action = "role_added"
	ActionRoleRemoved         Action = "role_removed"
	ActionChainTampered       Action = "chain_tampered"
)

// Event is one registry lifecycle event.
type Event struct {
	Action     Action    `json:"action"`
	IdentityID string    `json:"identity_id,omitempty"`
	Wallet     string    `json:"wallet,omitempty"`
	BlockHash  string    `json:"block_hash,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the structured log. It is the fallback sink
// when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.logger.Info("audit event", "action", event.Action, "event", json.RawMessage(payload))
	return nil
}
