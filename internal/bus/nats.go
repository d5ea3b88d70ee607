package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"

	"slatrack/internal/sla"
)

const (
	SamplesSubject     = "samples.ingest"
	AlertSubjectPrefix = "sla.alerts."
)

func connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url, "slatrack-publisher")
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// Dispatch publishes an alert event on sla.alerts.<level>.
func (p *Publisher) Dispatch(_ context.Context, evt sla.AlertEvent) error {
	return p.Publish(AlertSubject(evt.Level), evt)
}

func AlertSubject(level sla.Status) string {
	return AlertSubjectPrefix + strings.ToLower(string(level))
}
