package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "notifications.greenline"

// NATSPublisher is the part of *nats.Conn the dispatcher needs.
type NATSPublisher interface {
	Publish(subj string, data []byte) error
}

// NATS publishes events on <prefix>.<event type>.
type NATS struct {
	Conn          NATSPublisher
	SubjectPrefix string
}

// ConnectNATS opens a named connection that keeps reconnecting.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("greenline"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// Subject returns the subject an event of type t is published on.
func (n NATS) Subject(t Type) string {
	prefix := n.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return prefix + "." + string(t)
}

func (n NATS) Notify(_ context.Context, ev Event) error {
	if n.Conn == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := n.Subject(ev.Type)
	if err := n.Conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}
