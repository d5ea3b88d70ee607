package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"slatrack/internal/sla"
)

// SampleBatch is the payload carried on the samples subject.
type SampleBatch struct {
	ServiceID string             `json:"serviceId"`
	Samples   []sla.StatusSample `json:"samples"`
}

type SampleHandler func(ctx context.Context, batch SampleBatch) (int, error)

type Subscriber struct {
	Conn    *nats.Conn
	Logger  *slog.Logger
	Timeout time.Duration
}

func NewSubscriber(url string, logger *slog.Logger) (*Subscriber, error) {
	conn, err := connect(url, "slatrack-samples")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{Conn: conn, Logger: logger, Timeout: 30 * time.Second}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

// SubscribeSamples delivers every decoded batch on subject to handler. The
// queue group lets several instances share the feed.
func (s *Subscriber) SubscribeSamples(subject, queue string, handler SampleHandler) (*nats.Subscription, error) {
	return s.Conn.QueueSubscribe(subject, queue, s.MessageHandler(handler))
}

func (s *Subscriber) MessageHandler(handler SampleHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		batch, err := DecodeSampleBatch(msg.Data)
		if err != nil {
			s.Logger.Warn("sample batch rejected", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()
		created, err := handler(ctx, batch)
		if err != nil {
			s.Logger.Error("sample batch failed",
				slog.String("service_id", batch.ServiceID),
				slog.String("code", sla.Code(err)),
				slog.String("error", err.Error()))
			return
		}
		if msg.Reply != "" {
			reply, _ := json.Marshal(map[string]int{"created": created})
			_ = msg.Respond(reply)
		}
	}
}

func DecodeSampleBatch(data []byte) (SampleBatch, error) {
	var batch SampleBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return SampleBatch{}, err
	}
	batch.ServiceID = strings.TrimSpace(batch.ServiceID)
	if batch.ServiceID == "" {
		return SampleBatch{}, errors.New("serviceId is required")
	}
	for _, sample := range batch.Samples {
		if sample.Time.IsZero() {
			return SampleBatch{}, errors.New("sample time is required")
		}
	}
	return batch, nil
}
