// Package config loads and validates SUT and Scenario declarations from
// YAML, and the engine's own run-level configuration from the environment,
// following the load-then-validate discipline the rest of the ambient
// stack uses.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

// RunConfig is the engine's own environment-sourced settings: not a
// scenario concern, but the process-level knobs (store location,
// parallelism default, live-channel bind address). Defaults live in
// newRunConfig; envdecode only overrides fields an operator actually set.
type RunConfig struct {
	StoreDir        string `env:"TURBULENCE_STORE_DIR"`
	LiveAddr        string `env:"TURBULENCE_LIVE_ADDR"`
	LogLevel        string `env:"LOG_LEVEL"`
	LogFormat       string `env:"LOG_FORMAT"`
	DefaultParallel int    `env:"TURBULENCE_PARALLELISM"`
	MetricsAddr     string `env:"TURBULENCE_METRICS_ADDR"`
	RedisAddr       string `env:"TURBULENCE_REDIS_ADDR"`
}

func newRunConfig() RunConfig {
	return RunConfig{
		StoreDir:        "./runs",
		LiveAddr:        ":8090",
		LogLevel:        "info",
		LogFormat:       "json",
		DefaultParallel: 10,
		MetricsAddr:     ":9090",
	}
}

// LoadEnv loads a .env file if present (ignoring a missing file) and
// returns a RunConfig populated from the environment, defaults applied.
func LoadEnv(dotenvPath string) (RunConfig, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return RunConfig{}, domerrors.Wrap(domerrors.KindInvalidScenario, err)
		}
	}

	cfg := newRunConfig()
	if err := envdecode.Decode(&cfg); err != nil {
		// envdecode errors when none of the tagged fields are set in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return RunConfig{}, domerrors.Wrap(domerrors.KindInvalidScenario, err)
		}
	}
	return cfg, nil
}

// LoadSUT parses and validates a SUT declaration.
func LoadSUT(data []byte) (domain.SUTConfig, error) {
	var sut domain.SUTConfig
	if err := yaml.Unmarshal(data, &sut); err != nil {
		return domain.SUTConfig{}, domerrors.Wrap(domerrors.KindInvalidSUT, err)
	}
	if err := ValidateSUT(sut); err != nil {
		return domain.SUTConfig{}, err
	}
	return sut, nil
}

// ValidateSUT rejects a SUT declaration missing required fields.
func ValidateSUT(sut domain.SUTConfig) error {
	if sut.Name == "" {
		return domerrors.New(domerrors.KindInvalidSUT, "sut.name is required")
	}
	if len(sut.Services) == 0 {
		return domerrors.New(domerrors.KindInvalidSUT, "sut must declare at least one service")
	}
	for name, svc := range sut.Services {
		if svc.BaseURL == "" {
			return domerrors.New(domerrors.KindInvalidSUT, fmt.Sprintf("service %q: base_url is required", name))
		}
	}
	return nil
}

// LoadScenario parses and validates one Scenario declaration against sut.
func LoadScenario(data []byte, sut domain.SUTConfig) (domain.Scenario, error) {
	var sc domain.Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return domain.Scenario{}, domerrors.Wrap(domerrors.KindInvalidScenario, err)
	}
	if err := ValidateScenario(sc, sut); err != nil {
		return domain.Scenario{}, err
	}
	return sc, nil
}

// ValidateScenario checks scenario-level invariants: an id is present, the
// flow isn't empty, every step names a type we recognize, every http/wait
// step's service exists in sut, and branch arms recurse under the same
// rules.
func ValidateScenario(sc domain.Scenario, sut domain.SUTConfig) error {
	if sc.ID == "" {
		return domerrors.New(domerrors.KindInvalidScenario, "scenario.id is required")
	}
	if len(sc.Flow) == 0 {
		return domerrors.New(domerrors.KindInvalidScenario, fmt.Sprintf("scenario %q: flow must not be empty", sc.ID))
	}
	if err := validateSteps(sc.ID, sc.Flow, sut); err != nil {
		return err
	}
	return validateSteps(sc.ID, sc.Assertions, sut)
}

func validateSteps(scenarioID string, steps []domain.Step, sut domain.SUTConfig) error {
	for _, step := range steps {
		switch step.Type {
		case domain.StepHTTP, domain.StepWait:
			if step.Service == "" {
				return domerrors.New(domerrors.KindInvalidScenario, fmt.Sprintf("scenario %q step %q: service is required", scenarioID, step.Name))
			}
			if _, ok := sut.Services[step.Service]; !ok {
				return domerrors.New(domerrors.KindMissingService, step.Service).WithPath(scenarioID + "/" + step.Name)
			}
		case domain.StepAssert:
			if step.Expect == nil {
				return domerrors.New(domerrors.KindInvalidScenario, fmt.Sprintf("scenario %q step %q: assert requires expect", scenarioID, step.Name))
			}
		case domain.StepBranch:
			if step.Condition == "" {
				return domerrors.New(domerrors.KindInvalidScenario, fmt.Sprintf("scenario %q step %q: branch requires condition", scenarioID, step.Name))
			}
			if err := validateSteps(scenarioID, step.IfTrue, sut); err != nil {
				return err
			}
			if err := validateSteps(scenarioID, step.IfFalse, sut); err != nil {
				return err
			}
		default:
			return domerrors.New(domerrors.KindInvalidScenario, fmt.Sprintf("scenario %q step %q: unknown type %q", scenarioID, step.Name, step.Type))
		}
	}
	return nil
}
