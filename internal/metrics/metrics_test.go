package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotent(t *testing.T) {
	r := prometheus.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	// second call must be a no-op, not a duplicate-registration error
	if err := Register(r); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestHelpersAfterRegister(t *testing.T) {
	_ = Register(prometheus.NewRegistry())
	IncBridgeCall("parse", "ok")
	ObserveCallDuration("parse", 0.01)
	SetPending(2)
	IncProtocolError()
	IncCrash()
	IncCacheEvent("hit")
	SetCacheSize(3, 4096)
	IncProcessStart("pike")
	IncProcessStop("pike")
	IncProcessRestart("pike")
	ObserveStateTransition("pike", "starting", "running")
}
