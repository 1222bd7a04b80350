package sched

import "time"

// Clock abstracts the engine's time source so tests can drive it
// deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns a Clock backed by the system wall clock.
func RealClock() Clock { return realClock{} }
