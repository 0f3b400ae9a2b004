package analyzer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/exaudilabs/exaudi-core/internal/bus"
	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/natsserver"
	"github.com/exaudilabs/exaudi-core/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func busFixture(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{
		Embedded: true,
		Port:     -1, // random port
		StoreDir: t.TempDir(),
	}, testLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := bus.Connect(ctx, config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestServiceAnnotatesCommittedFinals(t *testing.T) {
	client := busFixture(t)

	path := writeIndex(t, `{"prodigal son": ["Luke 15:11"]}`)
	ix, err := LoadIndex(path)
	if err != nil {
		t.Fatalf("load index: %v", err)
	}

	svc := NewService(context.Background(), config.AnalyzerConfig{Enabled: true, IndexPath: path}, client, ix, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()
	if !svc.Healthy() {
		t.Fatalf("expected healthy after start")
	}

	got := make(chan protocol.Annotation, 1)
	sub, err := client.Subscribe(protocol.AnnotationSubject("evt-7"), func(data []byte) {
		var ann protocol.Annotation
		if err := json.Unmarshal(data, &ann); err != nil {
			t.Errorf("decode annotation: %v", err)
			return
		}
		got <- ann
	})
	if err != nil {
		t.Fatalf("subscribe annotations: %v", err)
	}
	defer sub.Unsubscribe()

	// A partial with a matching phrase must not produce an annotation.
	partial := protocol.TranscriptEvent{
		SessionID: "evt-7",
		Text:      "the parable of the prodigal son",
		IsPartial: true,
		Seq:       2,
		Timestamp: time.Now().UTC(),
	}
	if err := client.Publish(protocol.TranscriptFinalSubject("evt-7"), partial); err != nil {
		t.Fatalf("publish partial: %v", err)
	}

	final := protocol.TranscriptEvent{
		SessionID: "evt-7",
		Text:      "today we read the parable of the prodigal son",
		Seq:       3,
		Timestamp: time.Now().UTC(),
	}
	if err := client.Publish(protocol.TranscriptFinalSubject("evt-7"), final); err != nil {
		t.Fatalf("publish final: %v", err)
	}

	select {
	case ann := <-got:
		if ann.SessionID != "evt-7" || ann.Seq != 3 {
			t.Fatalf("annotation for wrong event: %+v", ann)
		}
		if len(ann.Refs) != 1 || ann.Refs[0] != "Luke 15:11" {
			t.Fatalf("unexpected refs %v", ann.Refs)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no annotation published")
	}

	select {
	case ann := <-got:
		t.Fatalf("unexpected second annotation %+v", ann)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServiceDisabledIsInert(t *testing.T) {
	svc := NewService(context.Background(), config.AnalyzerConfig{}, nil, &Index{}, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatalf("disabled service reports healthy")
	}
	svc.Close()
}
