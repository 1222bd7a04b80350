package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"wash-queue-backend/internal/hub"
	"wash-queue-backend/internal/notification"
	"wash-queue-backend/internal/sched"
	"wash-queue-backend/internal/store"
)

// Relay is the engine's event sink. It fans state snapshots and
// notifications out to the websocket hub and the push worker pool,
// records completed sessions, and drives the periodic tick. All sink
// calls arrive after the engine lock is released, so slow I/O here
// never stalls scheduling.
type Relay struct {
	engine    *sched.Engine
	store     store.Store
	hub       *hub.Hub
	pool      *notification.WorkerPool
	completed *CompletedSet
	interval  time.Duration
}

func New(engine *sched.Engine, s store.Store, h *hub.Hub, pool *notification.WorkerPool, completed *CompletedSet, interval time.Duration) *Relay {
	return &Relay{
		engine:    engine,
		store:     s,
		hub:       h,
		pool:      pool,
		completed: completed,
		interval:  interval,
	}
}

// Bootstrap loads today's completed-wash set from the store so the
// daily guard survives a restart.
func (r *Relay) Bootstrap(ctx context.Context) error {
	ids, err := r.store.CompletedUserIDs(ctx, r.completed.Day())
	if err != nil {
		return fmt.Errorf("failed to load completed wash set: %w", err)
	}
	r.completed.Load(ids)
	return nil
}

// Run drives the engine tick until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	log.Printf("Tick loop starting (interval %s)", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Tick loop shutting down.")
			return
		case <-ticker.C:
			r.engine.Tick()
		}
	}
}

// MachinesChanged implements sched.Sink.
func (r *Relay) MachinesChanged(snapshot []sched.MachineSnapshot) {
	r.hub.Publish(hub.TopicMachines, snapshot)
}

// Notify implements sched.Sink: the event goes to the live websocket
// channel and, when a worker pool is attached, out as browser push.
func (r *Relay) Notify(ev sched.PreNotify) {
	r.hub.Publish(hub.TopicNotifications, ev)
	if r.pool != nil {
		r.pool.Dispatch(ev)
	}
}

// SessionCompleted implements sched.Sink: the user joins today's
// completed set, the durable record is written, and the updated set is
// broadcast.
func (r *Relay) SessionCompleted(ev sched.SessionCompleted) {
	r.completed.Add(ev.UserID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.RecordWash(ctx, ev.UserID, ev.MachineID, r.completed.Day(), ev.EndedAt); err != nil {
		log.Printf("Error recording wash completion for user %d: %v", ev.UserID, err)
	}

	r.hub.Publish(hub.TopicWashHistory, r.completed.Users())
}

// CompletedUsers returns today's completed user ids.
func (r *Relay) CompletedUsers() []int64 {
	return r.completed.Users()
}

// ResetDay clears today's completed-wash set, in memory and in the
// store, and broadcasts the empty set. Part of the environment
// bring-up reset.
func (r *Relay) ResetDay(ctx context.Context) error {
	day := r.completed.Day()
	r.completed.Clear()
	if err := r.store.ClearWashDay(ctx, day); err != nil {
		return err
	}
	r.hub.Publish(hub.TopicWashHistory, r.completed.Users())
	return nil
}
