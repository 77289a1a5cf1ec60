// Package events delivers registry events to observers. Sinks run inside the
// command transaction, so a failing sink fails the command.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"claimreg/internal/claims/models"
	"claimreg/pkg/domain"
)

// Sink receives events emitted by the registry.
type Sink interface {
	Emit(ctx context.Context, event models.Event) error
}

// Log is an in-memory sink that keeps every event in emission order.
type Log struct {
	mu     sync.Mutex
	events []models.Event
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Emit(_ context.Context, event models.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event.Claim = event.Claim.Clone()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (l *Log) Events() []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Reset drops all recorded events.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// Multi fans an event out to every sink in order and stops at the first error.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event models.Event) error {
	for _, s := range m {
		if err := s.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Payload is the serialised form of an event, shared by the outbox and the
// kafka publisher.
type Payload struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	Caller      string    `json:"caller"`
	Claim       string    `json:"claim"`
	Destination string    `json:"destination,omitempty"`
	Block       uint64    `json:"block"`
	EmittedAt   time.Time `json:"emitted_at"`
}

// NewPayload assigns a fresh event ID.
func NewPayload(event models.Event, now time.Time) Payload {
	p := Payload{
		ID:        uuid.New(),
		Kind:      string(event.Kind),
		Caller:    event.Caller.String(),
		Claim:     event.Claim.Hex(),
		Block:     uint64(event.Block),
		EmittedAt: now.UTC(),
	}
	if event.Kind == models.EventClaimTransferred {
		p.Destination = event.Destination.String()
	}
	return p
}

func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode event payload: %w", err)
	}
	if p.ID == uuid.Nil {
		return Payload{}, errors.New("decode event payload: missing id")
	}
	return p, nil
}

// Event rebuilds the domain event carried by the payload.
func (p Payload) Event() (models.Event, error) {
	caller, err := domain.ParseAccountID(p.Caller)
	if err != nil {
		return models.Event{}, fmt.Errorf("payload caller: %w", err)
	}
	key, err := domain.ParseClaimKey(p.Claim)
	if err != nil {
		return models.Event{}, fmt.Errorf("payload claim: %w", err)
	}
	ev := models.Event{
		Kind:   models.EventKind(p.Kind),
		Caller: caller,
		Claim:  key,
		Block:  domain.BlockNumber(p.Block),
	}
	if p.Destination != "" {
		dest, err := domain.ParseAccountID(p.Destination)
		if err != nil {
			return models.Event{}, fmt.Errorf("payload destination: %w", err)
		}
		ev.Destination = dest
	}
	return ev, nil
}

// Message is a serialised event ready for a broker. Key is the claim hex so
// every event for one claim lands on the same partition, in order.
type Message struct {
	EventID uuid.UUID
	Kind    string
	Key     string
	Value   []byte
}

// NewMessage serialises event into a Message.
func NewMessage(event models.Event, now time.Time) (Message, error) {
	p := NewPayload(event, now)
	value, err := p.Encode()
	if err != nil {
		return Message{}, fmt.Errorf("encode event payload: %w", err)
	}
	return Message{EventID: p.ID, Kind: p.Kind, Key: p.Claim, Value: value}, nil
}
