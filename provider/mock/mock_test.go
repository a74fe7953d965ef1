package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/qbank/provider"
)

func TestScriptedRepliesConsumeInOrderAndLastSticks(t *testing.T) {
	p := New().Reply("audit_report", "one").Reply("audit_report", "two")
	req := provider.Request{Schema: &provider.Schema{Name: "audit_report"}}
	for _, want := range []string{"one", "two", "two"} {
		resp, err := p.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if string(resp.Content) != want {
			t.Fatalf("got %q, want %q", resp.Content, want)
		}
	}
	if len(p.Calls) != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", len(p.Calls))
	}
}

func TestFailIsConsumedFirst(t *testing.T) {
	boom := errors.New("boom")
	p := New().Reply("", "ok").Fail("", boom)
	if _, err := p.Generate(context.Background(), provider.Request{}); !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	if resp, err := p.Generate(context.Background(), provider.Request{}); err != nil || string(resp.Content) != "ok" {
		t.Fatalf("expected reply after error, got %q, %v", resp.Content, err)
	}
}

func TestUnscriptedSchemaErrors(t *testing.T) {
	if _, err := New().Generate(context.Background(), provider.Request{Schema: &provider.Schema{Name: "topic_plan"}}); err == nil {
		t.Fatalf("expected error for unscripted schema")
	}
}

func TestHashEmbeddingIsNormalisedAndDeterministic(t *testing.T) {
	a := HashEmbedding("Grover search oracle", 32)
	b := HashEmbedding("grover SEARCH, oracle!", 32)
	var norm float32
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical vectors at %d", i)
		}
		norm += a[i] * a[i]
	}
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("expected unit norm, got %f", norm)
	}
	if empty := HashEmbedding("  ", 8); len(empty) != 8 {
		t.Fatalf("expected zero vector of requested size")
	}
}
