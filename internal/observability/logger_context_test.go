package observability

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerRoundTripsThroughContext(t *testing.T) {
	lg := slog.Default().With(slog.String("request_id", "r1"))
	ctx := ContextWithLogger(context.Background(), lg)

	if got := LoggerFromContext(ctx); got != lg {
		t.Fatalf("LoggerFromContext returned %v, want the attached logger", got)
	}
}

func TestLoggerFallsBackToDefault(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatalf("expected the default logger for a bare context, got %v", got)
	}
	if got := LoggerFromContext(nil); got != slog.Default() { //nolint:staticcheck // nil-safety is part of the contract
		t.Fatalf("expected the default logger for a nil context, got %v", got)
	}
}

func TestContextWithLoggerNilLoggerIsNoop(t *testing.T) {
	base := context.Background()
	if got := ContextWithLogger(base, nil); got != base {
		t.Fatal("expected the original context back when the logger is nil")
	}
}

func TestRequestIDRoundTripsThroughContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, "req-123")
	}
}

func TestRequestIDAbsent(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	base := context.Background()
	if got := ContextWithRequestID(base, ""); got != base {
		t.Fatal("expected the original context back when the id is empty")
	}
}
