// Package orchestrator coordinates the routing, support and escalation agents
// for a customer request.
//
// Three execution modes are supported:
//
//   - PARALLEL: routing and support run concurrently; escalation runs when
//     support reports a severity at or above the threshold. One failed
//     branch yields a partial response.
//   - SEQUENTIAL: routing, support and escalation run as a chain; a failed
//     stage fails the session.
//   - LOOP: support runs turn by turn until it reports the request resolved
//     or the turn cap is hit. The loop checks the session before every turn,
//     so an external Pause suspends it at the next turn boundary; Resume
//     continues from the checkpointed turn.
//
// Every escalation verdict opens exactly one ticket through the tool registry.
package orchestrator
