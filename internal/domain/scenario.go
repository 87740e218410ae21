package domain

// StepType tags the variant a Step carries. Tagged variants replace runtime
// duck-typed config objects: one sum type with four branches, validation
// rejects an unknown tag, and the runner dispatches on the tag. Keys a Step
// does not define are ignored by YAML decoding, not rejected.
type StepType string

const (
	StepHTTP   StepType = "http"
	StepWait   StepType = "wait"
	StepAssert StepType = "assert"
	StepBranch StepType = "branch"
)

// Scenario is an ordered specification of a user journey composed of typed
// Steps.
type Scenario struct {
	ID          string     `yaml:"id" json:"id"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Entry       *Entry     `yaml:"entry,omitempty" json:"entry,omitempty"`
	Flow        []Step     `yaml:"flow" json:"flow"`
	Assertions  []Step     `yaml:"assertions,omitempty" json:"assertions,omitempty"`
	StopWhen    StopWhen   `yaml:"stop_when,omitempty" json:"stop_when,omitempty"`
	MaxSteps    int        `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
}

// Entry carries literal seed data materialized into each instance's Context
// under entry.*.
type Entry struct {
	SeedData map[string]any `yaml:"seed_data,omitempty" json:"seed_data,omitempty"`
}

// StopWhen is the scenario-level policy governing early termination.
type StopWhen struct {
	AnyActionFails    bool `yaml:"any_action_fails,omitempty" json:"any_action_fails,omitempty"`
	AnyAssertionFails bool `yaml:"any_assertion_fails,omitempty" json:"any_assertion_fails,omitempty"`
}

// EffectiveMaxSteps returns MaxSteps, defaulting to 100 when unset.
func (s Scenario) EffectiveMaxSteps() int {
	if s.MaxSteps <= 0 {
		return 100
	}
	return s.MaxSteps
}

// RetryStrategy names a Step-level retry backoff shape.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryExponential RetryStrategy = "exponential"
)

// Retry configures the Http runner's own retry policy for a step, distinct
// from any turbulence-injected retry storm.
type Retry struct {
	Strategy RetryStrategy `yaml:"strategy" json:"strategy"`
	Attempts int           `yaml:"attempts" json:"attempts"`
	DelayMS  int           `yaml:"delay_ms" json:"delay_ms"`
	Factor   float64       `yaml:"factor,omitempty" json:"factor,omitempty"`
	CapMS    int           `yaml:"cap_ms,omitempty" json:"cap_ms,omitempty"`
}

// Expect describes the predicate a Wait or Assert step checks.
type Expect struct {
	JSONPath   string `yaml:"jsonpath,omitempty" json:"jsonpath,omitempty"`
	Equals     any    `yaml:"equals,omitempty" json:"equals,omitempty"`
	Contains   any    `yaml:"contains,omitempty" json:"contains,omitempty"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
	StatusCode int    `yaml:"status_code,omitempty" json:"status_code,omitempty"`
	Schema     any    `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// HasStatusCode reports whether a status_code assertion was declared. A
// zero StatusCode counts as undeclared, so status_code: 0 cannot be asserted.
func (e Expect) HasStatusCode() bool { return e.StatusCode != 0 }

// Step is the tagged variant for one unit of a scenario's flow. Only the
// fields relevant to Type are populated; validation checks the fields each
// Type requires but does not reject fields that belong to another Type.
type Step struct {
	Name string   `yaml:"name" json:"name"`
	Type StepType `yaml:"type" json:"type"`

	// Http
	Service  string            `yaml:"service,omitempty" json:"service,omitempty"`
	Method   string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path     string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query    map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	Body     any               `yaml:"body,omitempty" json:"body,omitempty"`
	BodyForm bool              `yaml:"body_form,omitempty" json:"body_form,omitempty"`
	Extract  map[string]string `yaml:"extract,omitempty" json:"extract,omitempty"`
	Retry    *Retry            `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Wait (reuses Service, Path above)
	IntervalSeconds float64 `yaml:"interval_seconds,omitempty" json:"interval_seconds,omitempty"`
	TimeoutSeconds  float64 `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Expect          *Expect `yaml:"expect,omitempty" json:"expect,omitempty"`

	// Branch
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	IfTrue    []Step `yaml:"if_true,omitempty" json:"if_true,omitempty"`
	IfFalse   []Step `yaml:"if_false,omitempty" json:"if_false,omitempty"`
}
