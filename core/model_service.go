package core

import "github.com/hupe1980/chatmesh/model"

// ModelService is a named binding to an inference endpoint, credentials and
// sampling parameters. Empty endpoint, key and model id fall back to the
// Settings defaults.
type ModelService struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Provider          string   `json:"provider,omitempty"`
	EndpointURL       string   `json:"endpointUrl"`
	APIKey            string   `json:"apiKey"`
	ModelID           string   `json:"modelId"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"topP,omitempty"`
	ContextWindowSize int      `json:"contextWindowSize"`
}

// Validate checks the invariants of a model service.
func (s ModelService) Validate() error {
	switch {
	case s.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case s.ContextWindowSize < 0:
		return &ValidationError{Field: "contextWindowSize", Reason: "must be >= 0"}
	case s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2):
		return &ValidationError{Field: "temperature", Reason: "must be within [0, 2]"}
	case s.TopP != nil && (*s.TopP < 0 || *s.TopP > 1):
		return &ValidationError{Field: "topP", Reason: "must be within [0, 1]"}
	case s.Provider != "" && s.Provider != model.ProviderOpenAI && s.Provider != model.ProviderAnthropic:
		return &ValidationError{Field: "provider", Reason: "must be openai or anthropic"}
	}

	return nil
}

// Config returns the call configuration with settings defaults applied.
func (s ModelService) Config(settings Settings) model.Config {
	cfg := model.Config{
		Provider:    s.Provider,
		EndpointURL: s.EndpointURL,
		APIKey:      s.APIKey,
		ModelID:     s.ModelID,
		Temperature: s.Temperature,
		TopP:        s.TopP,
	}
	if cfg.EndpointURL == "" {
		cfg.EndpointURL = settings.DefaultEndpointURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = settings.DefaultAPIKey
	}
	if cfg.ModelID == "" {
		cfg.ModelID = settings.DefaultModelID
	}

	return cfg
}
