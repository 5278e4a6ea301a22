package config

import (
	"fmt"

	"github.com/hupe1980/chatmesh"
	"github.com/hupe1980/chatmesh/core"
)

// Seed populates a mesh that holds no agents and no model services with the
// configured entities. It reports whether anything was written. An existing
// state is never touched so edits made at runtime survive restarts.
func (c *Config) Seed(m *chatmesh.Mesh) (bool, error) {
	store := m.Store()
	if len(store.Agents()) > 0 || len(store.ModelServices()) > 0 {
		return false, nil
	}

	if _, err := m.UpdateSettings(c.settingsPatch()); err != nil {
		return false, fmt.Errorf("seeding settings: %w", err)
	}

	for _, s := range c.ModelServices {
		if _, err := m.CreateModelService(core.ModelService{
			ID:                s.ID,
			Name:              firstNonEmpty(s.Name, s.ID),
			Provider:          s.Provider,
			EndpointURL:       s.EndpointURL,
			APIKey:            s.APIKey,
			ModelID:           s.ModelID,
			Temperature:       s.Temperature,
			TopP:              s.TopP,
			ContextWindowSize: s.ContextWindowSize,
		}); err != nil {
			return false, fmt.Errorf("seeding model service %q: %w", s.ID, err)
		}
	}

	if _, err := m.UpdateOrchestrator(c.orchestratorPatch()); err != nil {
		return false, fmt.Errorf("seeding orchestrator: %w", err)
	}

	for _, a := range c.Agents {
		if _, err := m.CreateAgent(core.Agent{
			ID:                a.ID,
			DisplayName:       firstNonEmpty(a.Name, a.ID),
			Description:       a.Description,
			SystemPrompt:      a.SystemPrompt,
			ModelServiceID:    a.ModelServiceID,
			ContextWindowSize: a.ContextWindowSize,
		}); err != nil {
			return false, fmt.Errorf("seeding agent %q: %w", a.ID, err)
		}
	}

	var first string
	for _, g := range c.Groups {
		group, err := m.CreateGroup(core.Group{
			ID:             g.ID,
			Name:           firstNonEmpty(g.Name, g.ID),
			MemberAgentIDs: g.Members,
		})
		if err != nil {
			return false, fmt.Errorf("seeding group %q: %w", g.Name, err)
		}
		if g.Topic == "" {
			continue
		}
		topic, err := m.CreateTopic(group.ID, g.Topic)
		if err != nil {
			return false, fmt.Errorf("seeding topic of group %q: %w", g.Name, err)
		}
		if first == "" {
			first = topic.ID
		}
	}

	if first != "" {
		if err := m.SelectTopic(first); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (c *Config) settingsPatch() core.SettingsPatch {
	s := c.Settings
	p := core.SettingsPatch{UserName: core.Ptr(s.UserName)}
	if s.DefaultEndpointURL != "" {
		p.DefaultEndpointURL = core.Ptr(s.DefaultEndpointURL)
	}
	if s.DefaultAPIKey != "" {
		p.DefaultAPIKey = core.Ptr(s.DefaultAPIKey)
	}
	if s.DefaultModelID != "" {
		p.DefaultModelID = core.Ptr(s.DefaultModelID)
	}

	return p
}

func (c *Config) orchestratorPatch() core.OrchestratorPatch {
	o := c.Orchestrator
	p := core.OrchestratorPatch{ContextWindowSize: core.Ptr(o.ContextWindowSize)}
	if o.SystemPrompt != "" {
		p.SystemPrompt = core.Ptr(o.SystemPrompt)
	}
	if o.ModelServiceID != "" {
		p.ModelServiceID = core.Ptr(o.ModelServiceID)
	}

	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
