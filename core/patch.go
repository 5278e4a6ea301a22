package core

// Patch structs carry optional field updates. A nil pointer leaves the field
// untouched. Apply returns the patched copy after validation; the receiver
// value passed in is never modified.

// ModelServicePatch updates a ModelService.
type ModelServicePatch struct {
	Name              *string
	Provider          *string
	EndpointURL       *string
	APIKey            *string
	ModelID           *string
	Temperature       **float64
	TopP              **float64
	ContextWindowSize *int
}

// Apply returns svc with the patch applied.
func (p ModelServicePatch) Apply(svc ModelService) (ModelService, error) {
	setIf(&svc.Name, p.Name)
	setIf(&svc.Provider, p.Provider)
	setIf(&svc.EndpointURL, p.EndpointURL)
	setIf(&svc.APIKey, p.APIKey)
	setIf(&svc.ModelID, p.ModelID)
	setIf(&svc.Temperature, p.Temperature)
	setIf(&svc.TopP, p.TopP)
	setIf(&svc.ContextWindowSize, p.ContextWindowSize)

	return svc, svc.Validate()
}

// AgentPatch updates an Agent.
type AgentPatch struct {
	DisplayName       *string
	Description       *string
	SystemPrompt      *string
	ModelServiceID    *string
	ContextWindowSize **int
}

// Apply returns a with the patch applied.
func (p AgentPatch) Apply(a Agent) (Agent, error) {
	setIf(&a.DisplayName, p.DisplayName)
	setIf(&a.Description, p.Description)
	setIf(&a.SystemPrompt, p.SystemPrompt)
	setIf(&a.ModelServiceID, p.ModelServiceID)
	setIf(&a.ContextWindowSize, p.ContextWindowSize)

	return a, a.Validate()
}

// GroupPatch updates a Group. MemberAgentIDs replaces the whole list.
type GroupPatch struct {
	Name           *string
	MemberAgentIDs *[]string
}

// Apply returns g with the patch applied.
func (p GroupPatch) Apply(g Group) (Group, error) {
	setIf(&g.Name, p.Name)
	if p.MemberAgentIDs != nil {
		g.MemberAgentIDs = append([]string{}, (*p.MemberAgentIDs)...)
	}

	return g, g.Validate()
}

// TopicPatch updates a Topic.
type TopicPatch struct {
	Name *string
}

// Apply returns t with the patch applied.
func (p TopicPatch) Apply(t Topic) (Topic, error) {
	setIf(&t.Name, p.Name)

	return t, nil
}

// SettingsPatch updates Settings.
type SettingsPatch struct {
	UserName           *string
	DefaultEndpointURL *string
	DefaultAPIKey      *string
	DefaultModelID     *string
}

// Apply returns s with the patch applied.
func (p SettingsPatch) Apply(s Settings) (Settings, error) {
	setIf(&s.UserName, p.UserName)
	setIf(&s.DefaultEndpointURL, p.DefaultEndpointURL)
	setIf(&s.DefaultAPIKey, p.DefaultAPIKey)
	setIf(&s.DefaultModelID, p.DefaultModelID)
	if s.UserName == "" {
		return s, &ValidationError{Field: "userName", Reason: "must not be empty"}
	}

	return s, nil
}

// OrchestratorPatch updates the Orchestrator.
type OrchestratorPatch struct {
	SystemPrompt      *string
	ModelServiceID    *string
	ContextWindowSize *int
}

// Apply returns o with the patch applied.
func (p OrchestratorPatch) Apply(o Orchestrator) (Orchestrator, error) {
	setIf(&o.SystemPrompt, p.SystemPrompt)
	setIf(&o.ModelServiceID, p.ModelServiceID)
	setIf(&o.ContextWindowSize, p.ContextWindowSize)
	if o.ContextWindowSize < 0 {
		return o, &ValidationError{Field: "contextWindowSize", Reason: "must be >= 0"}
	}

	return o, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
