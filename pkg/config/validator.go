package config

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var workflowIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]*[a-zA-Z0-9])?$`)

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("workflow_id", validateWorkflowID)
}

func validateWorkflowID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return true
	}
	return len(id) <= 100 && workflowIDPattern.MatchString(id)
}

func validateCustom(cfg *Config) error {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.ConnString == "" {
			return fmt.Errorf("store.conn_string is required for the postgres driver")
		}
	case "sqlite":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	}
	if p := cfg.Provider.Primary; p.Kind == "workflow" && p.URL != "" && p.WorkflowID == "" {
		return fmt.Errorf("provider.primary.workflow_id is required for workflow providers")
	}
	return nil
}
