package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"slatrack/internal/sla"
)

func TestAlertSubject(t *testing.T) {
	if got := AlertSubject(sla.StatusAtRisk); got != "sla.alerts.at_risk" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := AlertSubject(sla.StatusBreached); got != "sla.alerts.breached" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestDecodeSampleBatch(t *testing.T) {
	batch, err := DecodeSampleBatch([]byte(`{"serviceId":" api ","samples":[{"time":"2025-08-14T10:00:00Z","up":false},{"time":"2025-08-14T10:00:30Z","up":true}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.ServiceID != "api" || len(batch.Samples) != 2 || batch.Samples[0].Up {
		t.Fatalf("unexpected batch %+v", batch)
	}
	for _, payload := range []string{`not json`, `{"samples":[]}`, `{"serviceId":"api","samples":[{"up":true}]}`} {
		if _, err := DecodeSampleBatch([]byte(payload)); err == nil {
			t.Fatalf("expected error for %s", payload)
		}
	}
}

func TestMessageHandlerDeliversBatches(t *testing.T) {
	sub := &Subscriber{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)), Timeout: time.Second}
	var got []SampleBatch
	handler := sub.MessageHandler(func(ctx context.Context, batch SampleBatch) (int, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("handler context must carry a deadline")
		}
		got = append(got, batch)
		if batch.ServiceID == "broken" {
			return 0, errors.New("boom")
		}
		return 1, nil
	})
	handler(&nats.Msg{Subject: SamplesSubject, Data: []byte(`{"serviceId":"api","samples":[]}`)})
	handler(&nats.Msg{Subject: SamplesSubject, Data: []byte(`garbage`)})
	handler(&nats.Msg{Subject: SamplesSubject, Data: []byte(`{"serviceId":"broken","samples":[]}`)})
	if len(got) != 2 || got[0].ServiceID != "api" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}
