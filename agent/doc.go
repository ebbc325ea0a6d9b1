// Package agent contains the support agents and the machinery that invokes
// them uniformly.
//
// The package focuses on three concerns:
//
//  1. Agent implementations behind core.Agent: rule based RoutingAgent,
//     SupportAgent and EscalationAgent, and the LLM backed ModelAgent
//  2. Runner: bounded invocation with events, memory append and session
//     linking for every completed stage
//  3. Coordination patterns on top of Runner: Parallel fan-out, Sequential
//     chains and the pausable Loop
//
// The orchestrator decides which pattern runs for a request; agents never
// touch session status themselves.
package agent
