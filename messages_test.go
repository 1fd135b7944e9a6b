package main

import (
	"strings"
	"testing"
)

func TestRoomConfig_Normalize(t *testing.T) {
	cfg := RoomConfig{RoomID: " StudyRoom1 ", Goal: "Learn Go", TimerLength: 1500, BreakLength: 300}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	if cfg.RoomID != "studyroom1" {
		t.Errorf("room id = %q, want lowercased %q", cfg.RoomID, "studyroom1")
	}
}

func TestRoomConfig_NormalizeDefaults(t *testing.T) {
	cfg := RoomConfig{RoomID: "room1"}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	if cfg.TimerLength != DefaultTimerLength {
		t.Errorf("timer_length = %d, want %d", cfg.TimerLength, DefaultTimerLength)
	}
	if cfg.BreakLength != DefaultBreakLength {
		t.Errorf("break_length = %d, want %d", cfg.BreakLength, DefaultBreakLength)
	}
}

func TestRoomConfig_NormalizeRejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  RoomConfig
	}{
		{"short id", RoomConfig{RoomID: "ab"}},
		{"empty id", RoomConfig{RoomID: ""}},
		{"hyphenated id", RoomConfig{RoomID: "study-room"}},
		{"long id", RoomConfig{RoomID: strings.Repeat("a", 33)}},
		{"timer too short", RoomConfig{RoomID: "room1", TimerLength: 30}},
		{"timer too long", RoomConfig{RoomID: "room1", TimerLength: 8000}},
		{"break too short", RoomConfig{RoomID: "room1", BreakLength: 10}},
		{"break too long", RoomConfig{RoomID: "room1", BreakLength: 3600}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Normalize(); err == nil {
				t.Errorf("Normalize(%+v) succeeded, want error", tc.cfg)
			}
		})
	}
}

func TestRoomConfig_NormalizeTruncatesGoal(t *testing.T) {
	cfg := RoomConfig{RoomID: "room1", Goal: strings.Repeat("g", 200)}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Goal) != MaxGoalLength {
		t.Errorf("goal length = %d, want %d", len(cfg.Goal), MaxGoalLength)
	}
}

func TestParseClientMessage(t *testing.T) {
	msg, err := parseClientMessage([]byte(`{"type":"chat","user":"alice","text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != MsgChat || msg.User != "alice" || msg.Text != "hi" {
		t.Errorf("decoded %+v", msg)
	}
}

func TestParseClientMessage_MediaFlags(t *testing.T) {
	msg, err := parseClientMessage([]byte(`{"type":"media:update","user":"alice","media":{"audio":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Media == nil {
		t.Fatal("media flags missing")
	}
	// Absent flags decode to false.
	if !msg.Media.Audio || msg.Media.Video || msg.Media.Screen {
		t.Errorf("media = %+v, want audio only", *msg.Media)
	}
}

func TestParseClientMessage_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"shutdown"}`},
		{"missing type", `{"user":"alice"}`},
		{"unknown field", `{"type":"chat","text":"hi","admin":true}`},
		{"not json", `start the timer`},
		{"wrong shape", `["type","chat"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseClientMessage([]byte(tc.raw)); err == nil {
				t.Errorf("parse(%s) succeeded, want error", tc.raw)
			}
		})
	}
}

func TestNormalizeUserName(t *testing.T) {
	if _, err := normalizeUserName("   "); err == nil {
		t.Error("blank user accepted")
	}
	got, err := normalizeUserName("  alice  ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "alice" {
		t.Errorf("got %q", got)
	}
	long, err := normalizeUserName(strings.Repeat("u", 100))
	if err != nil {
		t.Fatal(err)
	}
	if len(long) != MaxUserLength {
		t.Errorf("length = %d, want %d", len(long), MaxUserLength)
	}
}
