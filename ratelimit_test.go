package main

import (
	"testing"
	"time"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1) // burst of 2

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("requests within burst were denied")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request beyond burst was allowed")
	}

	// Other IPs get their own bucket.
	if !rl.Allow("5.6.7.8") {
		t.Error("fresh IP was denied")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(100)

	for rl.Allow("1.2.3.4") {
	}
	time.Sleep(50 * time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Error("bucket did not refill")
	}
}
