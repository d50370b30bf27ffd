package flush

import "time"

// SchedulerEvent is an event intended to advance the state of a [Scheduler].
type SchedulerEvent interface {
	schedulerEvent()
}

// SchedulerState is the state of a [Scheduler] returned from Advance.
type SchedulerState interface {
	schedulerState()
}

// EventSchedulerPoll is an event that asks the scheduler for its current state
// without changing it.
type EventSchedulerPoll struct{}

// EventSchedulerNotify notifies the scheduler that State is the latest state
// that should reach the consumer.
type EventSchedulerNotify[S any] struct {
	State S
}

// EventSchedulerTimerFired notifies the scheduler that the timer armed after a
// [StateSchedulerArmTimer] expired.
type EventSchedulerTimerFired struct{}

// EventSchedulerFlushed notifies the scheduler that the consumer finished
// handling a flush. Cost is the time the consumer spent, Err is the error it
// reported, if any.
type EventSchedulerFlushed struct {
	Cost time.Duration
	Err  error
}

// EventSchedulerCancel drops any pending flush and returns the scheduler to idle.
type EventSchedulerCancel struct{}

// schedulerEvent() ensures that only events accepted by a [Scheduler] can be
// assigned to the [SchedulerEvent] interface.
func (*EventSchedulerPoll) schedulerEvent()       {}
func (*EventSchedulerNotify[S]) schedulerEvent()  {}
func (*EventSchedulerTimerFired) schedulerEvent() {}
func (*EventSchedulerFlushed) schedulerEvent()    {}
func (*EventSchedulerCancel) schedulerEvent()     {}

// StateSchedulerIdle indicates that no flush is pending.
type StateSchedulerIdle struct{}

// StateSchedulerArmTimer instructs the caller to arm a one-shot timer that
// expires after Delay and to report its expiry with [EventSchedulerTimerFired].
type StateSchedulerArmTimer struct {
	Delay time.Duration
}

// StateSchedulerPending indicates that a flush is pending and its timer is
// armed. Notifications received in this state are coalesced.
type StateSchedulerPending struct{}

// StateSchedulerFlush instructs the caller to deliver State to the consumer
// and to report the outcome with [EventSchedulerFlushed].
type StateSchedulerFlush[S any] struct {
	State S
}

// schedulerState() ensures that only states returned by a [Scheduler] can be
// assigned to the [SchedulerState] interface.
func (*StateSchedulerIdle) schedulerState()     {}
func (*StateSchedulerArmTimer) schedulerState() {}
func (*StateSchedulerPending) schedulerState()  {}
func (*StateSchedulerFlush[S]) schedulerState() {}
