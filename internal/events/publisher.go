package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Message is the JSON payload published for every audit record.
type Message struct {
	Kind         string    `json:"kind"` // "verification" | "api_call"
	CardID       int64     `json:"card_id,omitempty"`
	BindingID    *int64    `json:"binding_id,omitempty"`
	CredentialID string    `json:"credential_id,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Method       string    `json:"method,omitempty"`
	ResponseCode int       `json:"response_code,omitempty"`
	ResponseMs   int64     `json:"response_ms,omitempty"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}

// AuditPublisher is an audit sink that forwards each record to
// "<subject>.verification" or "<subject>.api_call".  Publishing only hands
// the message to the client buffer; delivery is at most once.
type AuditPublisher struct {
	conn    Conn
	subject string
}

func NewAuditPublisher(conn Conn, subject string) *AuditPublisher {
	return &AuditPublisher{conn: conn, subject: subject}
}

func (p *AuditPublisher) RecordVerification(_ context.Context, rec store.VerificationRecord) error {
	return p.publish("verification", Message{
		Kind:         "verification",
		CardID:       rec.CardID,
		BindingID:    rec.BindingID,
		CredentialID: rec.CredentialID,
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		Success:      rec.Success,
		ErrorMessage: rec.ErrorMessage,
		At:           rec.VerifiedAt.UTC(),
	})
}

func (p *AuditPublisher) RecordAPICall(_ context.Context, rec store.APICallRecord) error {
	return p.publish("api_call", Message{
		Kind:         "api_call",
		CredentialID: rec.CredentialID,
		Endpoint:     rec.Endpoint,
		Method:       rec.Method,
		ResponseCode: rec.ResponseCode,
		ResponseMs:   rec.ResponseTime.Milliseconds(),
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		Success:      rec.Success,
		ErrorMessage: rec.ErrorMessage,
		At:           rec.CalledAt.UTC(),
	})
}

func (p *AuditPublisher) publish(kind string, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	subj := p.subject + "." + kind
	if err := p.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}
