package provider

import (
	"fmt"

	"github.com/examforge/examforge/pkg/config"
)

// FromConfig builds the provider described by an endpoint section, wrapped
// in its resilience guards.
func FromConfig(name string, cfg *config.EndpointConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider %s: configuration is required", name)
	}
	var (
		inner Provider
		err   error
	)
	switch cfg.Kind {
	case "workflow":
		inner, err = NewWorkflow(&WorkflowConfig{
			Name:       name,
			URL:        cfg.URL,
			Token:      cfg.Token.Value(),
			WorkflowID: cfg.WorkflowID,
			Timeout:    cfg.Timeout,
		})
	case "service":
		inner, err = NewService(&ServiceConfig{
			Name:    name,
			URL:     cfg.URL,
			Token:   cfg.Token.Value(),
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", name, cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	rc := DefaultResilienceConfig()
	rc.Timeout = cfg.Timeout
	rc.BreakerEnabled = cfg.BreakerEnabled
	return NewResilient(inner, rc), nil
}
