package commissioning

import (
	"time"

	"zigbee-valve/internal/ncp"
)

// Event is a stack signal fed to the machine.
type Event = ncp.Signal

// EffectKind identifies what an Effect asks the machine to do.
type EffectKind uint8

const (
	// EffectStartCommissioning requests Effect.Mode from the stack now.
	EffectStartCommissioning EffectKind = iota
	// EffectScheduleRetry requests Effect.Mode after Effect.Delay.
	EffectScheduleRetry
	EffectReportJoined
	EffectReportSteeringFailed
	EffectReportStartupFailed
	// EffectReportIgnored marks a signal that has no meaning once joined.
	EffectReportIgnored
	EffectReportUnhandled
)

func (k EffectKind) String() string {
	switch k {
	case EffectStartCommissioning:
		return "start_commissioning"
	case EffectScheduleRetry:
		return "schedule_retry"
	case EffectReportJoined:
		return "report_joined"
	case EffectReportSteeringFailed:
		return "report_steering_failed"
	case EffectReportStartupFailed:
		return "report_startup_failed"
	case EffectReportIgnored:
		return "report_ignored"
	case EffectReportUnhandled:
		return "report_unhandled"
	default:
		return "unknown"
	}
}

// Effect is one side effect produced by Transition.
type Effect struct {
	Kind  EffectKind
	Mode  ncp.Mode
	Delay time.Duration
	Err   error
}

// Result is the outcome of a transition.
type Result struct {
	Next    State
	Effects []Effect
}

// Transition computes the next state and effects for ev received in cur.
func Transition(cur State, ev Event) Result {
	switch ev.Type {
	case ncp.SignalSkipStartup:
		if cur == StateJoined {
			return Result{Next: cur, Effects: []Effect{{Kind: EffectReportIgnored}}}
		}
		return Result{
			Next:    StateStackReady,
			Effects: []Effect{{Kind: EffectStartCommissioning, Mode: ncp.ModeInitialization}},
		}

	case ncp.SignalDeviceFirstStart, ncp.SignalDeviceReboot:
		if ev.Err != nil {
			return Result{
				Next:    StateUninitialized,
				Effects: []Effect{{Kind: EffectReportStartupFailed, Err: ev.Err}},
			}
		}
		return Result{
			Next:    StateSteering,
			Effects: []Effect{{Kind: EffectStartCommissioning, Mode: ncp.ModeNetworkSteering}},
		}

	case ncp.SignalSteering:
		if cur == StateJoined {
			return Result{Next: cur, Effects: []Effect{{Kind: EffectReportIgnored}}}
		}
		if ev.Err == nil {
			return Result{Next: StateJoined, Effects: []Effect{{Kind: EffectReportJoined}}}
		}
		return Result{
			Next: StateSteering,
			Effects: []Effect{
				{Kind: EffectReportSteeringFailed, Err: ev.Err},
				{Kind: EffectScheduleRetry, Mode: ncp.ModeNetworkSteering, Delay: RetryDelay},
			},
		}
	}
	return Result{Next: cur, Effects: []Effect{{Kind: EffectReportUnhandled}}}
}
