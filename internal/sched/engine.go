package sched

import (
	"sync"
	"time"
)

// MachineConfig seeds one machine at engine construction. The machine
// set is fixed for the lifetime of the process.
type MachineConfig struct {
	ID   int64
	Name string
}

// QueueEntrySnapshot is one queued reservation as broadcast to clients.
type QueueEntrySnapshot struct {
	UserID  int64 `json:"userId"`
	Minutes int   `json:"minutes"`
}

// MachineSnapshot is the broadcast view of one machine. CurrentUserID
// and EndTime are nil while the machine is free; clients re-derive the
// countdown from EndTime, the engine never ships a decrementing counter.
type MachineSnapshot struct {
	ID            int64                `json:"id"`
	Name          string               `json:"name"`
	InUse         bool                 `json:"inUse"`
	CurrentUserID *int64               `json:"currentUserId"`
	EndTime       *time.Time           `json:"endTime"`
	Queue         []QueueEntrySnapshot `json:"queue"`
}

// SessionCompleted is emitted once per session when lazy expiry drops
// it. Consumers use it to record the daily wash completion.
type SessionCompleted struct {
	MachineID int64
	UserID    int64
	EndedAt   time.Time
}

// Sink receives engine events. All calls happen after the engine lock
// is released, so a slow consumer never stalls scheduling.
type Sink interface {
	MachinesChanged(snapshot []MachineSnapshot)
	Notify(ev PreNotify)
	SessionCompleted(ev SessionCompleted)
}

// CompletedChecker reports whether a user already completed a wash
// today. The engine only reads the set; recording completions is the
// sink's concern. Implementations must not block.
type CompletedChecker interface {
	CompletedToday(userID int64) bool
}

type session struct {
	userID int64
	start  time.Time
	end    time.Time
}

type queueEntry struct {
	userID  int64
	seconds int64
}

type machine struct {
	id      int64
	name    string
	session *session
	queue   []queueEntry
}

// active returns the session if it has not yet ended, nil otherwise.
// An expired session still physically present is invisible to every
// read path until Tick or StartWash clears it.
func (m *machine) active(now time.Time) *session {
	if m.session == nil || !m.session.end.After(now) {
		return nil
	}
	return m.session
}

func (m *machine) queued(userID int64) bool {
	for _, q := range m.queue {
		if q.userID == userID {
			return true
		}
	}
	return false
}

// Engine owns the occupancy and queue state of every machine. All
// commands and reads serialize on one mutex; nothing inside the
// critical section performs I/O.
type Engine struct {
	mu        sync.Mutex
	clock     Clock
	completed CompletedChecker
	sink      Sink

	machines map[int64]*machine
	order    []int64

	leadWindow time.Duration
	notified   map[notifyKey]struct{}
}

// NewEngine builds an engine over a fixed machine set. completed may be
// nil, in which case the daily guard is disabled.
func NewEngine(machines []MachineConfig, completed CompletedChecker, clock Clock, leadWindow time.Duration) *Engine {
	e := &Engine{
		clock:      clock,
		completed:  completed,
		machines:   make(map[int64]*machine, len(machines)),
		leadWindow: leadWindow,
		notified:   make(map[notifyKey]struct{}),
	}
	for _, mc := range machines {
		e.machines[mc.ID] = &machine{id: mc.ID, name: mc.Name}
		e.order = append(e.order, mc.ID)
	}
	return e
}

// SetSink wires the event consumer. Must be called before the engine
// receives commands.
func (e *Engine) SetSink(s Sink) { e.sink = s }

// pending collects events under the lock for emission after release.
type pending struct {
	snapshot  []MachineSnapshot
	notifies  []PreNotify
	completed []SessionCompleted
}

func (e *Engine) emit(p *pending) {
	if e.sink == nil || p == nil {
		return
	}
	for _, c := range p.completed {
		e.sink.SessionCompleted(c)
	}
	if p.snapshot != nil {
		e.sink.MachinesChanged(p.snapshot)
	}
	for _, n := range p.notifies {
		e.sink.Notify(n)
	}
}

// RemainingSeconds returns the whole seconds between now and end,
// clamped at zero. A zero end time means no session. This is the one
// primitive every higher-level wait figure composes from.
func RemainingSeconds(end, now time.Time) int64 {
	if end.IsZero() {
		return 0
	}
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// JoinQueue appends userID to the machine's wait-list with the given
// duration and returns the 1-based queue position.
func (e *Engine) JoinQueue(machineID, userID int64, minutes int) (int, error) {
	now := e.clock.Now()

	e.mu.Lock()
	m, ok := e.machines[machineID]
	if !ok {
		e.mu.Unlock()
		return 0, ErrNotFound
	}
	if e.completed != nil && e.completed.CompletedToday(userID) {
		e.mu.Unlock()
		return 0, ErrAlreadyCompletedToday
	}
	if e.reservedAnywhereLocked(userID, now) {
		e.mu.Unlock()
		return 0, ErrAlreadyReserved
	}
	if minutes <= 0 {
		e.mu.Unlock()
		return 0, ErrInvalidDuration
	}

	m.queue = append(m.queue, queueEntry{userID: userID, seconds: int64(minutes) * 60})
	position := len(m.queue)

	p := &pending{snapshot: e.snapshotLocked(now)}
	e.notifyLocked(now, p)
	e.mu.Unlock()

	e.emit(p)
	return position, nil
}

// StartWash claims the machine for userID. On a free machine the queue
// head (if any) must be userID; the head entry is consumed. A re-start
// by the current occupant extends the session with a fresh duration
// from now.
func (e *Engine) StartWash(machineID, userID int64, minutes int) (time.Time, error) {
	now := e.clock.Now()

	e.mu.Lock()
	m, ok := e.machines[machineID]
	if !ok {
		e.mu.Unlock()
		return time.Time{}, ErrNotFound
	}
	if minutes <= 0 {
		e.mu.Unlock()
		return time.Time{}, ErrInvalidDuration
	}
	if e.completed != nil && e.completed.CompletedToday(userID) {
		e.mu.Unlock()
		return time.Time{}, ErrAlreadyCompletedToday
	}

	duration := time.Duration(minutes) * time.Minute
	p := &pending{}

	if active := m.active(now); active != nil {
		if active.userID != userID {
			e.mu.Unlock()
			return time.Time{}, ErrMachineBusy
		}
		// Extend: fresh duration from now, not additive.
		m.session = &session{userID: userID, start: now, end: now.Add(duration)}
	} else {
		if len(m.queue) > 0 && m.queue[0].userID != userID {
			e.mu.Unlock()
			return time.Time{}, ErrQueueBlocksStart
		}
		if e.reservedElsewhereLocked(userID, machineID, now) {
			e.mu.Unlock()
			return time.Time{}, ErrAlreadyReserved
		}
		// An expired session still present completes now, before the
		// new one replaces it.
		if m.session != nil {
			p.completed = append(p.completed, SessionCompleted{
				MachineID: m.id,
				UserID:    m.session.userID,
				EndedAt:   m.session.end,
			})
		}
		if len(m.queue) > 0 {
			m.queue = m.queue[1:]
			delete(e.notified, notifyKey{machineID: m.id, userID: userID})
		}
		m.session = &session{userID: userID, start: now, end: now.Add(duration)}
	}

	end := m.session.end
	p.snapshot = e.snapshotLocked(now)
	e.notifyLocked(now, p)
	e.mu.Unlock()

	e.emit(p)
	return end, nil
}

// LeaveQueue withdraws userID's pending entry from the machine's
// queue. Queue-entry cancellation is not part of the upstream contract;
// a leave for a user with no entry fails with NotQueued so stale
// clients learn their view is outdated.
func (e *Engine) LeaveQueue(machineID, userID int64) error {
	now := e.clock.Now()

	e.mu.Lock()
	m, ok := e.machines[machineID]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	idx := -1
	for i, q := range m.queue {
		if q.userID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return ErrNotQueued
	}

	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	delete(e.notified, notifyKey{machineID: m.id, userID: userID})

	p := &pending{snapshot: e.snapshotLocked(now)}
	e.notifyLocked(now, p)
	e.mu.Unlock()

	e.emit(p)
	return nil
}

// Reset clears every session, queue and notification record. Idempotent;
// used for environment bring-up. Wiped sessions are not reported as
// completed.
func (e *Engine) Reset() {
	now := e.clock.Now()

	e.mu.Lock()
	for _, id := range e.order {
		m := e.machines[id]
		m.session = nil
		m.queue = nil
	}
	e.notified = make(map[notifyKey]struct{})
	p := &pending{snapshot: e.snapshotLocked(now)}
	e.mu.Unlock()

	e.emit(p)
}

// Tick drives lazy expiry and the notification pass. Safe to call
// arbitrarily often; a repeated call with no time progress and no
// intervening command emits nothing new.
func (e *Engine) Tick() {
	now := e.clock.Now()

	e.mu.Lock()
	p := &pending{}
	for _, id := range e.order {
		m := e.machines[id]
		if m.session != nil && !m.session.end.After(now) {
			p.completed = append(p.completed, SessionCompleted{
				MachineID: m.id,
				UserID:    m.session.userID,
				EndedAt:   m.session.end,
			})
			m.session = nil
		}
	}
	if len(p.completed) > 0 {
		p.snapshot = e.snapshotLocked(now)
	}
	e.notifyLocked(now, p)
	e.mu.Unlock()

	e.emit(p)
}

// Snapshot returns the current broadcast view of all machines.
func (e *Engine) Snapshot() []MachineSnapshot {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(now)
}

// Queue returns the FIFO wait-list of one machine.
func (e *Engine) Queue(machineID int64) ([]QueueEntrySnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.machines[machineID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]QueueEntrySnapshot, 0, len(m.queue))
	for _, q := range m.queue {
		out = append(out, QueueEntrySnapshot{UserID: q.userID, Minutes: int(q.seconds / 60)})
	}
	return out, nil
}

// TotalOccupiedSeconds is how long until the machine frees up for a
// brand-new joiner: active remaining time plus every queued duration.
func (e *Engine) TotalOccupiedSeconds(machineID int64) (int64, error) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.machines[machineID]
	if !ok {
		return 0, ErrNotFound
	}
	var total int64
	if s := m.active(now); s != nil {
		total = RemainingSeconds(s.end, now)
	}
	for _, q := range m.queue {
		total += q.seconds
	}
	return total, nil
}

// WaitSecondsForUser is the sum of everything scheduled strictly ahead
// of userID on the machine. The occupant gets their own remaining wash
// time; a user with no reservation there gets 0 by convention.
func (e *Engine) WaitSecondsForUser(machineID, userID int64) (int64, error) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.machines[machineID]
	if !ok {
		return 0, ErrNotFound
	}
	return waitSeconds(m, userID, now), nil
}

func waitSeconds(m *machine, userID int64, now time.Time) int64 {
	s := m.active(now)
	if s != nil && s.userID == userID {
		return RemainingSeconds(s.end, now)
	}
	if !m.queued(userID) {
		return 0
	}
	var total int64
	if s != nil {
		total = RemainingSeconds(s.end, now)
	}
	for _, q := range m.queue {
		if q.userID == userID {
			break
		}
		total += q.seconds
	}
	return total
}

func (e *Engine) reservedAnywhereLocked(userID int64, now time.Time) bool {
	for _, m := range e.machines {
		if s := m.active(now); s != nil && s.userID == userID {
			return true
		}
		if m.queued(userID) {
			return true
		}
	}
	return false
}

func (e *Engine) reservedElsewhereLocked(userID, machineID int64, now time.Time) bool {
	for _, m := range e.machines {
		if m.id == machineID {
			continue
		}
		if s := m.active(now); s != nil && s.userID == userID {
			return true
		}
		if m.queued(userID) {
			return true
		}
	}
	return false
}

func (e *Engine) snapshotLocked(now time.Time) []MachineSnapshot {
	out := make([]MachineSnapshot, 0, len(e.order))
	for _, id := range e.order {
		m := e.machines[id]
		snap := MachineSnapshot{
			ID:    m.id,
			Name:  m.name,
			Queue: make([]QueueEntrySnapshot, 0, len(m.queue)),
		}
		if s := m.active(now); s != nil {
			uid, end := s.userID, s.end
			snap.InUse = true
			snap.CurrentUserID = &uid
			snap.EndTime = &end
		}
		for _, q := range m.queue {
			snap.Queue = append(snap.Queue, QueueEntrySnapshot{UserID: q.userID, Minutes: int(q.seconds / 60)})
		}
		out = append(out, snap)
	}
	return out
}
