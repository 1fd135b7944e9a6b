package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// LiveKitIssuer mints LiveKit-compatible access tokens: an HS256 JWT whose
// issuer is the API key and whose "video" claim carries the room grant. The
// service does not validate or store anything LiveKit returns.
type LiveKitIssuer struct {
	serverURL string
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	clock     clockwork.Clock
}

func NewLiveKitIssuer(cfg *Config, clock clockwork.Clock) *LiveKitIssuer {
	return &LiveKitIssuer{
		serverURL: cfg.LiveKitURL,
		apiKey:    cfg.LiveKitAPIKey,
		apiSecret: []byte(cfg.LiveKitAPISecret),
		ttl:       cfg.LiveKitTokenTTL,
		clock:     clock,
	}
}

// Configured reports whether API credentials are present. Token issuance is
// disabled (503) without them; the rest of the service works normally.
func (l *LiveKitIssuer) Configured() bool {
	return l.apiKey != "" && len(l.apiSecret) > 0
}

type VideoGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ServerURL string `json:"server_url"`
	Room      string `json:"room"`
	Identity  string `json:"identity"`
	TTL       int    `json:"ttl"`
}

// Mint signs an access token allowing identity to join roomID.
func (l *LiveKitIssuer) Mint(roomID, identity string) (TokenResponse, error) {
	now := l.clock.Now()
	claims := jwt.MapClaims{
		"iss": l.apiKey,
		"sub": identity,
		"jti": identity,
		"nbf": now.Unix(),
		"exp": now.Add(l.ttl).Unix(),
		"video": VideoGrant{
			Room:           roomID,
			RoomJoin:       true,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.apiSecret)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("sign access token: %w", err)
	}

	return TokenResponse{
		Token:     signed,
		ServerURL: l.serverURL,
		Room:      roomID,
		Identity:  identity,
		TTL:       int(l.ttl / time.Second),
	}, nil
}
