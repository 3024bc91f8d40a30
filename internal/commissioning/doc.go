// Package commissioning drives a Zigbee end device from stack start to a
// joined network.
//
// # States
//
//   - Uninitialized: stack not started, or startup failed
//   - StackReady: stack initialized, initialization step requested
//   - Steering: network steering requested or being retried
//   - Joined: terminal for the process lifetime
//
// SteeringFailed is reported to observers when a steering attempt fails. The
// machine itself stays in Steering and retries after RetryDelay.
//
// # Structure
//
// Transition is a pure function from (State, Event) to the next State and a
// list of Effects. Machine applies those effects against an ncp.NCP and must
// be driven from the stack loop goroutine.
package commissioning
