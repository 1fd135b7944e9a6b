package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

func testIssuerConfig() *Config {
	return &Config{
		LiveKitURL:       "ws://livekit.local:7880",
		LiveKitAPIKey:    "test_key",
		LiveKitAPISecret: "test_secret",
		LiveKitTokenTTL:  time.Hour,
	}
}

func TestLiveKitIssuer_Configured(t *testing.T) {
	cfg := testIssuerConfig()
	if !NewLiveKitIssuer(cfg, clockwork.NewRealClock()).Configured() {
		t.Error("issuer with credentials reported unconfigured")
	}

	cfg.LiveKitAPISecret = ""
	if NewLiveKitIssuer(cfg, clockwork.NewRealClock()).Configured() {
		t.Error("issuer without secret reported configured")
	}
}

func TestLiveKitIssuer_Mint(t *testing.T) {
	issuer := NewLiveKitIssuer(testIssuerConfig(), clockwork.NewRealClock())

	resp, err := issuer.Mint("studyroom1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Room != "studyroom1" || resp.Identity != "alice" {
		t.Errorf("echoed room/identity = %q/%q", resp.Room, resp.Identity)
	}
	if resp.ServerURL != "ws://livekit.local:7880" {
		t.Errorf("server url = %q", resp.ServerURL)
	}
	if resp.TTL != 3600 {
		t.Errorf("ttl = %d, want 3600", resp.TTL)
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test_secret"), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !tok.Valid {
		t.Fatal("token did not verify")
	}
	if claims["iss"] != "test_key" {
		t.Errorf("iss = %v, want api key", claims["iss"])
	}
	if claims["sub"] != "alice" {
		t.Errorf("sub = %v, want identity", claims["sub"])
	}
	video, ok := claims["video"].(map[string]interface{})
	if !ok {
		t.Fatalf("video grant missing: %v", claims["video"])
	}
	if video["room"] != "studyroom1" {
		t.Errorf("grant room = %v", video["room"])
	}
	if video["roomJoin"] != true || video["canPublish"] != true || video["canSubscribe"] != true {
		t.Errorf("grant flags = %v", video)
	}
}
