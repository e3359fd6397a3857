// Package swarm owns fleet coordination.
//
// Ownership boundary:
// - one worker goroutine per agent, which alone touches that agent's handle
//
// - barrier dispatch rounds (CallAll, CallOne, CallNext, InvokeOnAll)
//
// - barrier-free concurrent fan-out (CallAllConcurrent)
//
// - membership changes, health checks, formation flight and localization
//
// Round lifecycle:
// - enqueue -> entry rendezvous -> execute -> exit rendezvous -> resume caller
//
// - each round builds its own barriers sized to its targets plus the caller,
// so a timed out round never wedges the next one.
//
// Membership changes are rejected while a round is in flight.
package swarm
