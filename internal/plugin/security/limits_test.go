package security

import (
	"testing"
	"time"
)

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()

	if limits.CallTimeout != 30*time.Second {
		t.Errorf("CallTimeout = %v, want %v", limits.CallTimeout, 30*time.Second)
	}
	if limits.NetworkReqPerSecond != 10 {
		t.Errorf("NetworkReqPerSecond = %d, want %d", limits.NetworkReqPerSecond, 10)
	}
	if limits.MaxResponseBytes != 1*1024*1024 {
		t.Errorf("MaxResponseBytes = %d, want %d", limits.MaxResponseBytes, 1*1024*1024)
	}
}

func TestStrictLimits(t *testing.T) {
	strict := StrictLimits()
	def := DefaultLimits()

	if strict.CallTimeout >= def.CallTimeout {
		t.Errorf("strict CallTimeout %v not below default %v", strict.CallTimeout, def.CallTimeout)
	}
	if strict.NetworkReqPerSecond >= def.NetworkReqPerSecond {
		t.Errorf("strict rate %d not below default %d", strict.NetworkReqPerSecond, def.NetworkReqPerSecond)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false", i)
		}
	}
	if rl.Allow() {
		t.Error("Allow() = true after burst exhausted")
	}

	now = now.Add(time.Second)
	if !rl.Allow() {
		t.Error("Allow() = false after refill")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow() {
			t.Fatal("unlimited limiter denied")
		}
	}
}

func TestLimitsCap(t *testing.T) {
	strict := StrictLimits()

	got := DefaultLimits().Cap(strict)
	if got != strict {
		t.Errorf("default capped = %+v, want %+v", got, strict)
	}

	unlimited := Limits{MaxResponseBytes: 1024, FetchTimeout: time.Second}
	got = unlimited.Cap(strict)
	if got.CallTimeout != strict.CallTimeout {
		t.Errorf("CallTimeout = %v, want %v", got.CallTimeout, strict.CallTimeout)
	}
	if got.NetworkReqPerSecond != strict.NetworkReqPerSecond {
		t.Errorf("NetworkReqPerSecond = %d, want %d", got.NetworkReqPerSecond, strict.NetworkReqPerSecond)
	}
	if got.MaxResponseBytes != 1024 || got.FetchTimeout != time.Second {
		t.Errorf("tighter values were raised: %+v", got)
	}
}
