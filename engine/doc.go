// Package engine implements the orchestration loop that decides who speaks
// next in a group conversation.
//
// # State machine
//
// A run starts in Idle and alternates between Selecting and Dispatching:
//
//	Idle ─► Selecting ─► Dispatching ─┐
//	          ▲                       │
//	          └───────────────────────┘
//
// Selecting asks the orchestrator persona, through a rendered meta-prompt,
// for exactly one member name. A reply that matches no member ends the run
// in Idle, which is the normal way a conversation hands the floor back to
// the user. Dispatching runs the matched agent's turn through the
// agent.Executor. A failed inference call ends in Failed, a cancelled one in
// Cancelled. Both leave a system diagnostic in the topic.
//
// Groups with a single member run in private mode: the member answers
// directly, without a selection call.
//
// # Sessions
//
// At most one run is active per process. A second Run while one is active
// fails with ErrSessionActive. Cancel may be called from any goroutine; it
// cancels the context shared by the selection and dispatch calls, so the
// current stream is aborted and the loop exits at its next check.
//
// # Usage
//
//	eng := engine.New(store, router,
//	    func(o *engine.Options) {
//	        o.MaxTurns = 10
//	        o.Logger = logger
//	    })
//
//	outcome, err := eng.Run(ctx, topicID)
package engine
