package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomLimit    = errors.New("maximum number of rooms reached")
)

// RoomManager is the registry of live rooms. It owns only the id→room
// mapping; its lock is never held while calling into a room, so registry
// contention cannot stack on top of a busy room's lock.
type RoomManager struct {
	cfg   *Config
	clock clockwork.Clock
	log   zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRoomManager(cfg *Config, clock clockwork.Clock, logger zerolog.Logger) *RoomManager {
	return &RoomManager{
		cfg:   cfg,
		clock: clock,
		log:   logger,
		rooms: make(map[string]*Room),
	}
}

// Upsert reconfigures an existing room or registers a new one. The room cap
// applies only to creation: updating an existing id always succeeds.
func (m *RoomManager) Upsert(cfg RoomConfig) (*Room, error) {
	m.mu.Lock()
	if room, ok := m.rooms[cfg.RoomID]; ok {
		m.mu.Unlock()
		room.ApplyConfig(cfg)
		m.log.Info().Str("room", cfg.RoomID).Msg("room updated")
		return room, nil
	}
	if len(m.rooms) >= m.cfg.MaxRooms {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrRoomLimit, m.cfg.MaxRooms)
	}
	room := NewRoom(cfg, m.clock, m.log)
	m.rooms[cfg.RoomID] = room
	count := len(m.rooms)
	m.mu.Unlock()

	metricActiveRooms.Set(float64(count))
	m.log.Info().Str("room", cfg.RoomID).Msg("room created")
	return room, nil
}

func (m *RoomManager) Get(id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return room, nil
}

// GetOrCreate returns the room, creating it with default settings when the
// id is unknown. Used by the websocket path, where connecting to a fresh
// id is an implicit create.
func (m *RoomManager) GetOrCreate(id string) (*Room, error) {
	if room, err := m.Get(id); err == nil {
		return room, nil
	}
	cfg := RoomConfig{RoomID: id}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return m.Upsert(cfg)
}

func (m *RoomManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// ListStates gathers snapshots of all rooms concurrently.
func (m *RoomManager) ListStates() []RoomSnapshot {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	out := make([]RoomSnapshot, len(rooms))
	var wg sync.WaitGroup
	for i, room := range rooms {
		wg.Add(1)
		go func(i int, room *Room) {
			defer wg.Done()
			out[i] = room.Snapshot()
		}(i, room)
	}
	wg.Wait()
	return out
}

// Run sweeps idle rooms on a fixed cadence until ctx is cancelled.
func (m *RoomManager) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.sweep()
		}
	}
}

// sweep evicts rooms with no participants that have been idle beyond the
// threshold. Candidates are evaluated from one consistent view of the
// registry, then removed in a single pass; a room that was concurrently
// replaced under the same id is left alone. A fault while sweeping is
// logged and the reaper keeps running.
func (m *RoomManager) sweep() {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error().Interface("panic", p).Msg("room sweep panicked")
		}
	}()

	now := m.clock.Now()
	m.mu.Lock()
	view := make(map[string]*Room, len(m.rooms))
	for id, room := range m.rooms {
		view[id] = room
	}
	m.mu.Unlock()

	var expired []string
	for id, room := range view {
		if room.Reapable(now, m.cfg.IdleTimeout) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return
	}

	removed := make([]*Room, 0, len(expired))
	m.mu.Lock()
	for _, id := range expired {
		if room, ok := m.rooms[id]; ok && room == view[id] {
			delete(m.rooms, id)
			removed = append(removed, room)
		}
	}
	count := len(m.rooms)
	m.mu.Unlock()

	for _, room := range removed {
		room.stopTimer()
		metricRoomsReaped.Inc()
		m.log.Info().Str("room", room.ID()).Msg("idle room reaped")
	}
	metricActiveRooms.Set(float64(count))
}

// Shutdown cancels every room's timer run and waits for the loops to exit.
func (m *RoomManager) Shutdown() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		room.stopTimer()
	}
	for _, room := range rooms {
		room.Wait()
	}
}
