package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // second call must not panic on duplicate registration

	if RemoteCalls == nil || SyncQueueDepth == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestObserveRemoteCall(t *testing.T) {
	Init()
	// Must not panic regardless of label values.
	ObserveRemoteCall("create_channel", "success", 120*time.Millisecond)
	ObserveRemoteCall("move_member", "retryable_error", 0)
}

func TestGatewayGauge(t *testing.T) {
	Init()
	SetGatewayConnected(true)
	SetGatewayConnected(false)
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty ctx) = %q, want empty", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if l := LoggerWithCorr(ctx); l == nil {
		t.Fatal("LoggerWithCorr returned nil")
	}
}

func TestTimeFunc(t *testing.T) {
	d := TimeFunc(nil, func() { time.Sleep(5 * time.Millisecond) })
	if d < 5*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 5ms", d)
	}
}
