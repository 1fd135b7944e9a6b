package main

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// errClientGone marks a delivery failure caused by the connection already
// being closed. Anything else returned from Send is treated as unexpected.
var errClientGone = errors.New("subscriber gone")

// Subscriber receives broadcast payloads for one room. Send must not block
// on network I/O; implementations queue and report failure instead.
type Subscriber interface {
	Send(payload []byte) error
}

// Room owns one focus room's mutable state: the pomodoro timer state
// machine, the participant roster, per-participant media flags, and the set
// of live subscribers. Every field below mu is guarded by it.
type Room struct {
	clock clockwork.Clock
	log   zerolog.Logger

	mu           sync.Mutex
	id           string
	goal         string
	timerLength  int
	breakLength  int
	status       string
	cycle        string
	remaining    int
	updatedAt    time.Time
	participants map[string]time.Time
	mediaStates  map[string]MediaState
	subs         map[Subscriber]struct{}
	timerCancel  context.CancelFunc

	wg sync.WaitGroup
}

func NewRoom(cfg RoomConfig, clock clockwork.Clock, logger zerolog.Logger) *Room {
	return &Room{
		clock:        clock,
		log:          logger.With().Str("room", cfg.RoomID).Logger(),
		id:           cfg.RoomID,
		goal:         cfg.Goal,
		timerLength:  cfg.TimerLength,
		breakLength:  cfg.BreakLength,
		status:       StatusIdle,
		cycle:        CycleFocus,
		remaining:    cfg.TimerLength,
		updatedAt:    clock.Now(),
		participants: make(map[string]time.Time),
		mediaStates:  make(map[string]MediaState),
		subs:         make(map[Subscriber]struct{}),
	}
}

func (r *Room) ID() string { return r.id }

// ApplyConfig updates goal and cycle lengths atomically. If the active
// cycle shrank below the current countdown, remaining is clamped down.
// Status and cycle are untouched and no broadcast is emitted; callers that
// want clients to see the change broadcast separately.
func (r *Room) ApplyConfig(cfg RoomConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.goal = cfg.Goal
	r.timerLength = cfg.TimerLength
	r.breakLength = cfg.BreakLength
	limit := r.timerLength
	if r.cycle == CycleBreak {
		limit = r.breakLength
	}
	if r.remaining > limit {
		r.remaining = limit
	}
	r.updatedAt = r.clock.Now()
}

// SetGoal truncates and stores a new goal text, returning the stored value.
func (r *Room) SetGoal(goal string) string {
	goal = truncateGoal(goal)
	r.mu.Lock()
	r.goal = goal
	r.updatedAt = r.clock.Now()
	r.mu.Unlock()
	return goal
}

func (r *Room) AddParticipant(name string) {
	r.mu.Lock()
	r.participants[name] = r.clock.Now()
	r.mu.Unlock()
}

func (r *Room) RemoveParticipant(name string) {
	r.mu.Lock()
	delete(r.participants, name)
	delete(r.mediaStates, name)
	r.mu.Unlock()
}

// UpdateMediaState replaces the participant's media entry with the
// normalized flags (missing flags become false — never merged with the
// previous entry) and returns the stored snapshot.
func (r *Room) UpdateMediaState(name string, media *MediaState) MediaState {
	var norm MediaState
	if media != nil {
		norm = *media
	}
	r.mu.Lock()
	r.mediaStates[name] = norm
	r.mu.Unlock()
	return norm
}

func (r *Room) Subscribe(s Subscriber) {
	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()
}

func (r *Room) Unsubscribe(s Subscriber) {
	r.mu.Lock()
	delete(r.subs, s)
	r.mu.Unlock()
}

func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// StartFocus cancels any running timer and begins a focus countdown. The
// countdown is reset to the full focus length when switching cycles or when
// starting from idle; resuming from paused keeps the remaining time.
func (r *Room) StartFocus(user string) {
	r.mu.Lock()
	r.cancelTimerLocked()
	if r.cycle != CycleFocus {
		r.cycle = CycleFocus
		r.remaining = r.timerLength
	} else if r.status == StatusIdle {
		r.remaining = r.timerLength
	}
	r.status = StatusRunning
	r.updatedAt = r.clock.Now()
	r.startTimerLocked()
	r.mu.Unlock()

	r.BroadcastEvent(EventStartFocus, user)
	r.BroadcastState()
}

func (r *Room) StartBreak(user string) {
	r.mu.Lock()
	r.cancelTimerLocked()
	r.cycle = CycleBreak
	r.status = StatusRunning
	r.remaining = r.breakLength
	r.updatedAt = r.clock.Now()
	r.startTimerLocked()
	r.mu.Unlock()

	r.BroadcastEvent(EventStartBreak, user)
	r.BroadcastState()
}

// Pause stops the countdown in place. No-op unless running.
func (r *Room) Pause(user string) {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	r.cancelTimerLocked()
	r.status = StatusPaused
	r.updatedAt = r.clock.Now()
	r.mu.Unlock()

	r.BroadcastEvent(EventPause, user)
	r.BroadcastState()
}

// Reset returns the room to idle/focus with a full focus countdown.
func (r *Room) Reset(user string) {
	r.mu.Lock()
	r.cancelTimerLocked()
	r.cycle = CycleFocus
	r.status = StatusIdle
	r.remaining = r.timerLength
	r.updatedAt = r.clock.Now()
	r.mu.Unlock()

	r.BroadcastEvent(EventReset, user)
	r.BroadcastState()
}

// SkipBreak ends a break early, back to idle/focus. No-op outside a break.
func (r *Room) SkipBreak(user string) {
	r.mu.Lock()
	if r.cycle != CycleBreak {
		r.mu.Unlock()
		return
	}
	r.cancelTimerLocked()
	r.cycle = CycleFocus
	r.status = StatusIdle
	r.remaining = r.timerLength
	r.updatedAt = r.clock.Now()
	r.mu.Unlock()

	r.BroadcastEvent(EventSkipBreak, user)
	r.BroadcastState()
}

// cancelTimerLocked stops the active timer run, if any. Caller holds r.mu.
func (r *Room) cancelTimerLocked() {
	if r.timerCancel != nil {
		r.timerCancel()
		r.timerCancel = nil
	}
}

// startTimerLocked launches a new timer run. Caller holds r.mu and has
// already cancelled any previous run.
func (r *Room) startTimerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	r.timerCancel = cancel
	r.wg.Add(1)
	go r.timerLoop(ctx)
}

// clearTimerLocked drops the timer handle when the loop terminates on its
// own. If ctx was cancelled the handle belongs to a newer run (or was
// already cleared by the cancelling transition) and must be left alone.
func (r *Room) clearTimerLocked(ctx context.Context) {
	if ctx.Err() == nil && r.timerCancel != nil {
		r.timerCancel()
		r.timerCancel = nil
	}
}

// timerLoop advances the countdown once per wall-clock second until it is
// cancelled or the cycle completes. Cancellation is observed at every lock
// acquisition and at the sleep, so a superseded run never writes state set
// by the transition that cancelled it.
func (r *Room) timerLoop(ctx context.Context) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Msg("timer loop panicked")
		}
	}()

	for {
		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		if r.status != StatusRunning {
			r.clearTimerLocked(ctx)
			r.mu.Unlock()
			return
		}
		remaining := r.remaining
		r.mu.Unlock()

		if remaining <= 0 {
			if !r.advanceCycle(ctx) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(time.Second):
		}

		r.mu.Lock()
		if ctx.Err() != nil || r.status != StatusRunning {
			r.mu.Unlock()
			return
		}
		r.remaining--
		if r.remaining < 0 {
			r.remaining = 0
		}
		remaining = r.remaining
		r.mu.Unlock()

		// Broadcast roughly every 5 seconds, densely in the final countdown.
		if remaining%5 == 0 || remaining <= 10 {
			r.BroadcastState()
		}
	}
}

// advanceCycle handles countdown expiry: focus rolls into a running break,
// a finished break stops the timer back at idle/focus. Returns whether the
// loop should keep ticking.
func (r *Room) advanceCycle(ctx context.Context) bool {
	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return false
	}
	var event string
	var keepRunning bool
	if r.cycle == CycleFocus {
		r.cycle = CycleBreak
		r.status = StatusRunning
		r.remaining = r.breakLength
		event = EventBreakAuto
		keepRunning = true
	} else {
		r.cycle = CycleFocus
		r.status = StatusIdle
		r.remaining = r.timerLength
		event = EventCycleComplete
		keepRunning = false
		r.clearTimerLocked(ctx)
	}
	r.updatedAt = r.clock.Now()
	r.mu.Unlock()

	r.BroadcastEvent(event, "")
	r.BroadcastState()
	return keepRunning
}

// stopTimer cancels any active timer run without touching the FSM. Used by
// the manager when evicting or shutting down a room.
func (r *Room) stopTimer() {
	r.mu.Lock()
	r.cancelTimerLocked()
	r.mu.Unlock()
}

// Wait blocks until all timer runs launched by this room have exited.
func (r *Room) Wait() {
	r.wg.Wait()
}

// Reapable reports whether the room has no participants and has been idle
// beyond the given threshold.
func (r *Room) Reapable(now time.Time, idle time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0 && now.Sub(r.updatedAt) > idle
}

// Snapshot returns an immutable public copy of the room state.
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.participants))
	for name := range r.participants {
		names = append(names, name)
	}
	sort.Strings(names)

	media := make(map[string]MediaState, len(r.mediaStates))
	for name, state := range r.mediaStates {
		media[name] = state
	}

	return RoomSnapshot{
		RoomID:       r.id,
		Goal:         r.goal,
		TimerLength:  r.timerLength,
		BreakLength:  r.breakLength,
		Remaining:    r.remaining,
		Status:       r.status,
		Cycle:        r.cycle,
		Participants: names,
		MediaStates:  media,
		UpdatedAt:    r.updatedAt.Unix(),
	}
}

// Broadcast fans a payload out to every subscriber. The subscriber set is
// snapshotted under the lock, delivery happens outside it so a slow or dead
// connection can never block state mutation or other subscribers. Failed
// subscribers are pruned after the delivery pass.
func (r *Room) Broadcast(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal broadcast payload")
		return
	}

	r.mu.Lock()
	targets := make([]Subscriber, 0, len(r.subs))
	for s := range r.subs {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	metricBroadcasts.Inc()

	var wg sync.WaitGroup
	var deadMu sync.Mutex
	var dead []Subscriber
	for _, s := range targets {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			err := s.Send(raw)
			if err == nil {
				return
			}
			if errors.Is(err, errClientGone) {
				metricSendDropped.Inc()
				r.log.Debug().Msg("dropping closed subscriber")
			} else {
				metricSendFailed.Inc()
				r.log.Error().Err(err).Msg("unexpected broadcast failure")
			}
			deadMu.Lock()
			dead = append(dead, s)
			deadMu.Unlock()
		}(s)
	}
	wg.Wait()

	if len(dead) > 0 {
		r.mu.Lock()
		for _, s := range dead {
			delete(r.subs, s)
		}
		r.mu.Unlock()
	}
}

// BroadcastState serializes the current state and fans it out.
func (r *Room) BroadcastState() {
	r.Broadcast(statePayload{Type: "state", Data: r.Snapshot()})
}

func (r *Room) BroadcastEvent(event, user string) {
	r.Broadcast(eventPayload{Type: "event", Event: event, User: user})
}
