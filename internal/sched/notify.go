package sched

import "time"

// EventPreNotify is the wire type of the pre-start notification.
const EventPreNotify = "PRE_NOTIFY"

// PreNotify tells a queued user their predicted start time has entered
// the lead window.
type PreNotify struct {
	Type              string `json:"type"`
	MachineID         int64  `json:"machineId"`
	MachineName       string `json:"machineName"`
	UserID            int64  `json:"userId"`
	MinutesUntilStart int    `json:"minutesUntilStart"`
}

// notifyKey scopes a fired notification to one queue occurrence. The
// record is cleared when the entry is consumed or withdrawn, so the
// same user/machine pair can notify again on a later occurrence.
type notifyKey struct {
	machineID int64
	userID    int64
}

// notifyLocked runs the level-triggered notification pass: for every
// queued entry in FIFO order, fire once when the predicted start falls
// within the lead window. Runs after every mutation and on every tick.
// Caller holds e.mu.
func (e *Engine) notifyLocked(now time.Time, p *pending) {
	window := int64(e.leadWindow / time.Second)
	for _, id := range e.order {
		m := e.machines[id]
		var wait int64
		if s := m.active(now); s != nil {
			wait = RemainingSeconds(s.end, now)
		}
		for _, entry := range m.queue {
			if wait <= window {
				k := notifyKey{machineID: m.id, userID: entry.userID}
				if _, seen := e.notified[k]; !seen {
					e.notified[k] = struct{}{}
					p.notifies = append(p.notifies, PreNotify{
						Type:              EventPreNotify,
						MachineID:         m.id,
						MachineName:       m.name,
						UserID:            entry.userID,
						MinutesUntilStart: int((wait + 59) / 60),
					})
				}
			}
			wait += entry.seconds
		}
	}
}
