package fanout

import (
	"io"
	"log/slog"
	"testing"

	"github.com/exaudilabs/exaudi-core/internal/wire"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func drain(p *wire.PipeEnd) []wire.Message {
	var out []wire.Message
	for {
		select {
		case m := <-p.Recv():
			out = append(out, m)
		default:
			return out
		}
	}
}

func texts(msgs []wire.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Data))
	}
	return out
}

func TestBroadcastFiltersByLanguage(t *testing.T) {
	reg := testRegistry()
	esWire, esPeer := wire.Pipe()
	frWire, frPeer := wire.Pipe()
	reg.Register("s1", "sub-es", esWire, "es")
	reg.Register("s1", "sub-fr", frWire, "fr")

	if n := reg.BroadcastAudio("s1", []byte("hola"), "es"); n != 1 {
		t.Fatalf("es broadcast delivered %d", n)
	}
	if n := reg.BroadcastControl("s1", []byte(`{"type":"audio.start"}`), "fr"); n != 1 {
		t.Fatalf("fr control delivered %d", n)
	}
	if n := reg.BroadcastAudio("s1", []byte("all"), ""); n != 2 {
		t.Fatalf("untagged broadcast delivered %d", n)
	}

	es, fr := texts(drain(esPeer)), texts(drain(frPeer))
	if len(es) != 2 || es[0] != "hola" || es[1] != "all" {
		t.Fatalf("es deliveries = %v", es)
	}
	if len(fr) != 2 || fr[0] != `{"type":"audio.start"}` || fr[1] != "all" {
		t.Fatalf("fr deliveries = %v", fr)
	}
}

func TestBroadcastMatchesOnBaseLanguage(t *testing.T) {
	reg := testRegistry()
	w, peer := wire.Pipe()
	reg.Register("s1", "sub", w, "fr")

	if n := reg.BroadcastAudio("s1", []byte("bonjour"), "fr-FR"); n != 1 {
		t.Fatalf("delivered %d", n)
	}
	if n := reg.BroadcastAudio("s1", []byte("salut"), "fr-CA"); n != 1 {
		t.Fatalf("delivered %d", n)
	}
	if got := drain(peer); len(got) != 2 {
		t.Fatalf("deliveries = %d", len(got))
	}
}

func TestLanguageSwitchIsolation(t *testing.T) {
	reg := testRegistry()
	w, peer := wire.Pipe()
	reg.Register("s1", "sub", w, "es")

	for i := 0; i < 3; i++ {
		reg.BroadcastAudio("s1", []byte("es-frame"), "es")
		reg.BroadcastAudio("s1", []byte("fr-frame"), "fr")
	}
	if !reg.UpdateTargetLanguage("s1", "sub", "fr") {
		t.Fatal("switch on live subscription returned false")
	}
	for i := 0; i < 3; i++ {
		reg.BroadcastAudio("s1", []byte("es-frame"), "es")
		reg.BroadcastAudio("s1", []byte("fr-frame"), "fr")
	}

	got := texts(drain(peer))
	if len(got) != 6 {
		t.Fatalf("deliveries = %v", got)
	}
	for i, text := range got {
		want := "es-frame"
		if i >= 3 {
			want = "fr-frame"
		}
		if text != want {
			t.Fatalf("delivery %d = %q, want %q (all: %v)", i, text, want, got)
		}
	}
}

func TestUpdateTargetLanguageMissing(t *testing.T) {
	reg := testRegistry()
	if reg.UpdateTargetLanguage("nope", "sub", "fr") {
		t.Fatal("switch on unknown session returned true")
	}
	w, _ := wire.Pipe()
	reg.Register("s1", "sub", w, "es")
	if reg.UpdateTargetLanguage("s1", "other", "fr") {
		t.Fatal("switch on unknown subscription returned true")
	}
}

func TestUnregisterDropsSession(t *testing.T) {
	reg := testRegistry()
	w, _ := wire.Pipe()
	reg.Register("s1", "sub", w, "es")
	if reg.Count("s1") != 1 {
		t.Fatalf("count = %d", reg.Count("s1"))
	}
	reg.Unregister("s1", "sub")
	if reg.Count("s1") != 0 {
		t.Fatalf("count after unregister = %d", reg.Count("s1"))
	}
	if n := reg.BroadcastAudio("s1", []byte("x"), ""); n != 0 {
		t.Fatalf("broadcast after unregister delivered %d", n)
	}
}

func TestDeadWirePruned(t *testing.T) {
	reg := testRegistry()
	w, _ := wire.Pipe()
	reg.Register("s1", "sub", w, "es")
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if n := reg.BroadcastAudio("s1", []byte("x"), "es"); n != 0 {
		t.Fatalf("broadcast to closed wire delivered %d", n)
	}
	if reg.Count("s1") != 0 {
		t.Fatalf("dead subscription still registered")
	}
}

func TestLanguages(t *testing.T) {
	reg := testRegistry()
	w1, _ := wire.Pipe()
	w2, _ := wire.Pipe()
	w3, _ := wire.Pipe()
	reg.Register("s1", "a", w1, "fr-FR")
	reg.Register("s1", "b", w2, "es")
	reg.Register("s1", "c", w3, "fr")

	got := reg.Languages("s1")
	if len(got) != 2 || got[0] != "es" || got[1] != "fr" {
		t.Fatalf("languages = %v", got)
	}
	if reg.Languages("absent") != nil {
		t.Fatal("languages for unknown session should be nil")
	}
}
