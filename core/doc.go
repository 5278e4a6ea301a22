// Package core holds the conversation data model shared by every chatmesh
// component: model services, personas (regular agents and the orchestrator),
// groups, topics and messages, plus the store contracts, the error taxonomy
// for stale references and configuration problems, and the update events
// emitted while turns stream in.
//
// Personas form a closed set. Agent and Orchestrator are the only Persona
// implementations, and group membership only ever references Agent ids, so the
// orchestrator can never be chosen as a speaker.
package core
