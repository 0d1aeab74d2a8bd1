// Package audit defines the lifecycle event stream emitted by the
// certificate orchestrator. Every externally observable PKI operation
// produces discrete attempt/success/failure events carrying the entity,
// the acting identity, and the request's source address. The orchestrator
// only calls Recorder; formatting and persistence live in the
// implementations (slog sink, bbolt store).
//
// Events never carry key material.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes a lifecycle event.
type EventType string

const (
	EventPKIInit          EventType = "pki_init"
	EventCACreated        EventType = "ca_created"
	EventDHGenerated      EventType = "dh_generated"
	EventServerCertIssued EventType = "server_cert_issued"
	EventClientCertIssued EventType = "client_cert_issued"
	EventCertRevoked      EventType = "cert_revoked"
	EventCertCopied       EventType = "cert_copied"
	EventCRLGenerated     EventType = "crl_generated"
	EventTLSAuthGenerated EventType = "tlsauth_generated"
	EventCertChecked      EventType = "cert_checked"
)

// Result is the outcome phase of an audited operation.
type Result string

const (
	ResultAttempt Result = "attempt"
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ActorSystem identifies operations not attributable to an authenticated
// user, such as startup bootstrap or CLI invocations.
const ActorSystem = "system"

// Event is a single audit record.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Entity     string            `json:"entity,omitempty"`
	Actor      string            `json:"actor"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Result     Result            `json:"result"`
	Detail     map[string]string `json:"detail,omitempty"`
	Time       time.Time         `json:"time"`
}

// NewEvent builds a fully populated event. The source address is taken from
// the context when the serving layer attached one via WithRemoteAddr.
func NewEvent(ctx context.Context, typ EventType, entity, actor string, result Result, detail map[string]string) Event {
	if actor == "" {
		actor = ActorSystem
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Entity:     entity,
		Actor:      actor,
		RemoteAddr: RemoteAddr(ctx),
		Result:     result,
		Detail:     detail,
		Time:       time.Now().UTC(),
	}
}

// Recorder receives lifecycle events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Trail is a persistent, verifiable event log. The bbolt Store implements
// it, as does the postgres backend.
type Trail interface {
	Recorder
	List(limit int) ([]Event, error)
	Verify() (int, error)
	Close() error
}

// Nop discards all events.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans events out to several recorders. The first failure stops the
// fan-out and is returned.
type Multi struct {
	recorders []Recorder
}

var _ Recorder = (*Multi)(nil)

// NewMulti returns a recorder that forwards to all given recorders.
func NewMulti(recorders ...Recorder) *Multi {
	return &Multi{recorders: recorders}
}

func (m *Multi) Record(ctx context.Context, ev Event) error {
	for _, r := range m.recorders {
		if err := r.Record(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the request's source address to the context so
// events created further down carry it.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddr returns the source address attached by WithRemoteAddr, or "".
func RemoteAddr(ctx context.Context) string {
	if addr, ok := ctx.Value(remoteAddrKey{}).(string); ok {
		return addr
	}
	return ""
}
