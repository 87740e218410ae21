package domain

import (
	"github.com/r3e-network/turbulence/internal/errors"
)

// Attempt records one try within a step that may retry or poll (Http retry,
// Wait poll).
type Attempt struct {
	Index      int     `json:"index"`
	StatusCode int     `json:"status_code,omitempty"`
	OK         bool    `json:"ok"`
	LatencyMS  float64 `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

// Turbulence describes what fault injection decided for one step attempt.
type Turbulence struct {
	LatencyMS         float64 `json:"latency_ms,omitempty"`
	ForcedTimeoutMS   float64 `json:"forced_timeout_ms,omitempty"`
	RetryStormCount   int     `json:"retry_storm_count,omitempty"`
	Injected          bool    `json:"injected"`
}

// Observation is the structured result of one step execution.
type Observation struct {
	StepName   string             `json:"step_name"`
	StepType   StepType           `json:"step_type"`
	Service    string             `json:"service,omitempty"`
	OK         bool               `json:"ok"`
	LatencyMS  float64            `json:"latency_ms"`
	StatusCode int                `json:"status_code,omitempty"`
	Headers    map[string]string  `json:"headers,omitempty"`
	Body       any                `json:"body,omitempty"`
	Errors     []*errors.Detail   `json:"errors,omitempty"`
	Turbulence *Turbulence        `json:"turbulence,omitempty"`
	Attempts   []Attempt          `json:"attempts,omitempty"`
	BranchTaken string            `json:"branch_taken,omitempty"`
}

// AssertionResult is the outcome of one assertion evaluation.
type AssertionResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Error    string `json:"error,omitempty"`
}
