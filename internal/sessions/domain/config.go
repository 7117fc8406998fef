package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultPrdModel        = "sonnet-4.5-thinking"
	DefaultExecutionModel  = "opus-4.5-thinking"
	DefaultMaxIterations   = 20
	DefaultWarnThreshold   = 70_000
	DefaultRotateThreshold = 80_000
)

// SessionConfig is fixed at session creation.
type SessionConfig struct {
	PrdModel        string   `json:"prd_model" mapstructure:"prd_model" yaml:"prd_model"`
	ExecutionModel  string   `json:"execution_model" mapstructure:"execution_model" yaml:"execution_model"`
	MaxIterations   int      `json:"max_iterations" mapstructure:"max_iterations" yaml:"max_iterations"`
	WarnThreshold   int      `json:"warn_threshold" mapstructure:"warn_threshold" yaml:"warn_threshold"`
	RotateThreshold int      `json:"rotate_threshold" mapstructure:"rotate_threshold" yaml:"rotate_threshold"`
	BranchName      string   `json:"branch_name,omitempty" mapstructure:"branch_name" yaml:"branch_name,omitempty"`
	OpenPR          bool     `json:"open_pr" mapstructure:"open_pr" yaml:"open_pr"`
	QualityChecks   []string `json:"quality_checks,omitempty" mapstructure:"quality_checks" yaml:"quality_checks,omitempty"`
}

// DefaultSessionConfig returns the stock session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PrdModel:        DefaultPrdModel,
		ExecutionModel:  DefaultExecutionModel,
		MaxIterations:   DefaultMaxIterations,
		WarnThreshold:   DefaultWarnThreshold,
		RotateThreshold: DefaultRotateThreshold,
	}
}

// Validate enforces 0 < warn < rotate and a positive iteration cap.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.ExecutionModel) == "" {
		return fmt.Errorf("execution_model is required")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.WarnThreshold <= 0 || c.RotateThreshold <= 0 {
		return fmt.Errorf("thresholds must be positive (warn=%d rotate=%d)", c.WarnThreshold, c.RotateThreshold)
	}
	if c.WarnThreshold >= c.RotateThreshold {
		return fmt.Errorf("warn_threshold (%d) must be below rotate_threshold (%d)", c.WarnThreshold, c.RotateThreshold)
	}
	for i, cmd := range c.QualityChecks {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("quality_checks[%d] is empty", i)
		}
	}
	return nil
}

// Phase selects which model an agent invocation uses.
type Phase string

const (
	PhasePRD       Phase = "prd"
	PhaseExecution Phase = "execution"
)

// ModelForPhase returns the configured model for the phase.
func (c SessionConfig) ModelForPhase(p Phase) string {
	if p == PhasePRD && c.PrdModel != "" {
		return c.PrdModel
	}
	return c.ExecutionModel
}

// Clone returns a copy that shares no slices with c.
func (c SessionConfig) Clone() SessionConfig {
	c.QualityChecks = append([]string(nil), c.QualityChecks...)
	return c
}
