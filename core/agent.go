package core

// OrchestratorID is the reserved persona id of the orchestrator. Regular
// agents may not use it.
const OrchestratorID = "orchestrator"

// OrchestratorName is the author name used for orchestrator diagnostics.
const OrchestratorName = "Orchestrator"

// DefaultContextWindow is used when neither a persona nor its model service
// configures a context window.
const DefaultContextWindow = 20

// Persona is anything that can be driven through a model service: a regular
// Agent or the Orchestrator. The set is closed by the unexported marker.
type Persona interface {
	PersonaID() string
	Name() string
	Prompt() string
	ServiceID() string
	// Window returns the persona's own context window, 0 when unset.
	Window() int
	isPersona()
}

// Agent is a regular persona that can be chosen to speak in a group.
type Agent struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Description       string `json:"description,omitempty"`
	SystemPrompt      string `json:"systemPrompt"`
	ModelServiceID    string `json:"modelServiceId"`
	ContextWindowSize *int   `json:"contextWindowSize,omitempty"`
}

func (a Agent) PersonaID() string { return a.ID }
func (a Agent) Name() string      { return a.DisplayName }
func (a Agent) Prompt() string    { return a.SystemPrompt }
func (a Agent) ServiceID() string { return a.ModelServiceID }
func (Agent) isPersona()          {}

// Window implements Persona.
func (a Agent) Window() int {
	if a.ContextWindowSize == nil {
		return 0
	}

	return *a.ContextWindowSize
}

// Validate checks the invariants of a regular agent.
func (a Agent) Validate() error {
	switch {
	case a.ID == OrchestratorID:
		return &ValidationError{Field: "id", Reason: "reserved for the orchestrator"}
	case a.DisplayName == "":
		return &ValidationError{Field: "displayName", Reason: "must not be empty"}
	case a.DisplayName == OrchestratorName:
		return &ValidationError{Field: "displayName", Reason: "reserved for the orchestrator"}
	case a.ContextWindowSize != nil && *a.ContextWindowSize < 0:
		return &ValidationError{Field: "contextWindowSize", Reason: "must be >= 0"}
	}

	return nil
}

// DefaultOrchestratorPrompt holds the orchestrator's fixed role instructions.
const DefaultOrchestratorPrompt = `You moderate a group conversation between a human user and several AI participants.
Your only job is to decide who should speak next so the conversation stays useful and on topic.
Pick a participant when their expertise is needed to answer or continue the discussion.
Pick nobody when the user's request has been fully addressed and the floor should return to the user.`

// Orchestrator is the meta-agent whose sole output is the next speaker.
type Orchestrator struct {
	SystemPrompt      string `json:"systemPrompt"`
	ModelServiceID    string `json:"modelServiceId"`
	ContextWindowSize int    `json:"contextWindowSize"`
}

func (o Orchestrator) PersonaID() string { return OrchestratorID }
func (o Orchestrator) Name() string      { return OrchestratorName }
func (o Orchestrator) ServiceID() string { return o.ModelServiceID }
func (o Orchestrator) Window() int       { return o.ContextWindowSize }
func (Orchestrator) isPersona()          {}

// Prompt implements Persona, falling back to DefaultOrchestratorPrompt.
func (o Orchestrator) Prompt() string {
	if o.SystemPrompt == "" {
		return DefaultOrchestratorPrompt
	}

	return o.SystemPrompt
}

// WindowFor resolves the effective context window of p: the persona's own
// value, then the model service's, then DefaultContextWindow.
func WindowFor(p Persona, svc ModelService) int {
	if w := p.Window(); w > 0 {
		return w
	}
	if svc.ContextWindowSize > 0 {
		return svc.ContextWindowSize
	}

	return DefaultContextWindow
}
