package relay

import (
	"sort"
	"sync"
	"time"

	"wash-queue-backend/internal/sched"
)

// CompletedSet is the in-memory per-day set of users who already
// completed a wash. The engine consults it as a pure boolean guard;
// the durable record lives in wash_records. The set empties itself
// when the day rolls over in the configured timezone.
type CompletedSet struct {
	mu    sync.Mutex
	clock sched.Clock
	loc   *time.Location
	day   string
	users map[int64]struct{}
}

func NewCompletedSet(clock sched.Clock, loc *time.Location) *CompletedSet {
	c := &CompletedSet{
		clock: clock,
		loc:   loc,
		users: make(map[int64]struct{}),
	}
	c.day = c.today()
	return c
}

func (c *CompletedSet) today() string {
	return c.clock.Now().In(c.loc).Format("2006-01-02")
}

// rollLocked resets the set when the day has changed. Caller holds c.mu.
func (c *CompletedSet) rollLocked() {
	if today := c.today(); today != c.day {
		c.day = today
		c.users = make(map[int64]struct{})
	}
}

// CompletedToday implements sched.CompletedChecker.
func (c *CompletedSet) CompletedToday(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	_, ok := c.users[userID]
	return ok
}

// Add marks a user as having completed today's wash.
func (c *CompletedSet) Add(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	c.users[userID] = struct{}{}
}

// Load replaces the set with ids recorded for today, typically read
// from the store at startup.
func (c *CompletedSet) Load(userIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	c.users = make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		c.users[id] = struct{}{}
	}
}

// Clear empties today's set.
func (c *CompletedSet) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.day = c.today()
	c.users = make(map[int64]struct{})
}

// Day returns the current day key (YYYY-MM-DD).
func (c *CompletedSet) Day() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	return c.day
}

// Users returns the completed user ids in ascending order.
func (c *CompletedSet) Users() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	ids := make([]int64, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
