package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	wizard "github.com/goliatone/go-wizard"
)

// DefaultSubjectPrefix is the first subject token for published changes.
const DefaultSubjectPrefix = "wizard"

// Publisher is the slice of a NATS connection the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSPublisher forwards wizard state changes to a message bus as JSON.
type NATSPublisher struct {
	pub     Publisher
	prefix  string
	logger  wizard.Logger
	onError func(subject string, err error)
}

// Option customizes a NATSPublisher.
type Option func(*NATSPublisher)

// WithSubjectPrefix replaces the leading subject token(s).
func WithSubjectPrefix(prefix string) Option {
	return func(p *NATSPublisher) {
		prefix = strings.Trim(strings.TrimSpace(prefix), ".")
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(logger wizard.Logger) Option {
	return func(p *NATSPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithErrorHandler is called for every failed publish.
func WithErrorHandler(fn func(subject string, err error)) Option {
	return func(p *NATSPublisher) {
		p.onError = fn
	}
}

// NewNATSPublisher builds a bridge on pub, usually a *nats.Conn.
func NewNATSPublisher(pub Publisher, opts ...Option) (*NATSPublisher, error) {
	if pub == nil {
		return nil, fmt.Errorf("nats publisher requires a connection")
	}
	p := &NATSPublisher{
		pub:    pub,
		prefix: DefaultSubjectPrefix,
		logger: wizard.NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Attach publishes every state change of w until the subscription is dropped.
func (p *NATSPublisher) Attach(w *wizard.Wizard) wizard.Subscription {
	return w.OnStateChange(func(change wizard.StateChange) {
		_ = p.Publish(change)
	})
}

// Publish sends one change on <prefix>.<wizard_id>.<op>.
func (p *NATSPublisher) Publish(change wizard.StateChange) error {
	subject := p.Subject(change.WizardID, change.Op)
	data, err := json.Marshal(change)
	if err == nil {
		err = p.pub.Publish(subject, data)
	}
	if err != nil {
		p.logger.Error("publish wizard change subject=%s: %v", subject, err)
		if p.onError != nil {
			p.onError(subject, err)
		}
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subject builds the subject for a wizard id and operation.
func (p *NATSPublisher) Subject(wizardID string, op wizard.Operation) string {
	return p.prefix + "." + subjectToken(wizardID) + "." + subjectToken(string(op))
}

// WildcardSubject matches every change of every wizard under the prefix.
func (p *NATSPublisher) WildcardSubject() string {
	return p.prefix + ".>"
}

// Decode parses a published message body.
func Decode(data []byte) (wizard.StateChange, error) {
	var change wizard.StateChange
	if err := json.Unmarshal(data, &change); err != nil {
		return change, fmt.Errorf("decode wizard change: %w", err)
	}
	return change, nil
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

func subjectToken(s string) string {
	s = subjectReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	return s
}
