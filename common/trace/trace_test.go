package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/BAMresearch/chatBIS/common/trace"
)

func TestFromContext_RoundTrip(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_abc")
	if got := trace.FromContext(ctx); got != "t_abc" {
		t.Fatalf("FromContext = %q, want %q", got, "t_abc")
	}
}

func TestFromContext_EmptyWhenAbsent(t *testing.T) {
	if got := trace.FromContext(context.Background()); got != "" {
		t.Fatalf("FromContext on bare context = %q, want empty", got)
	}
}

func TestEnsure_KeepsExistingID(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_existing")
	_, id := trace.Ensure(ctx)
	if id != "t_existing" {
		t.Fatalf("Ensure replaced an existing id: got %q", id)
	}
}

func TestEnsure_GeneratesWhenAbsent(t *testing.T) {
	ctx, id := trace.Ensure(context.Background())
	if id == "" {
		t.Fatal("Ensure returned empty id")
	}
	if !strings.HasPrefix(id, "t_") {
		t.Fatalf("id %q missing t_ prefix", id)
	}
	if got := trace.FromContext(ctx); got != id {
		t.Fatalf("returned context carries %q, want %q", got, id)
	}
}

func TestGenerateID_Unique(t *testing.T) {
	a := trace.GenerateID()
	b := trace.GenerateID()
	if a == b {
		t.Fatalf("two generated ids collided: %q", a)
	}
}
