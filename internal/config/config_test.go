package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

func TestLoadEnvAppliesDefaultsWithoutOverrides(t *testing.T) {
	cfg, err := LoadEnv("")
	require.NoError(t, err)
	assert.Equal(t, "./runs", cfg.StoreDir)
	assert.Equal(t, ":8090", cfg.LiveAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10, cfg.DefaultParallel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadEnvOverridesDefaultsFromEnvironment(t *testing.T) {
	t.Setenv("TURBULENCE_STORE_DIR", "/var/run/turbulence")
	t.Setenv("TURBULENCE_PARALLELISM", "25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadEnv("")
	require.NoError(t, err)
	assert.Equal(t, "/var/run/turbulence", cfg.StoreDir)
	assert.Equal(t, 25, cfg.DefaultParallel)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset fields keep their defaults.
	assert.Equal(t, ":8090", cfg.LiveAddr)
	assert.Equal(t, "json", cfg.LogFormat)
}

func validSUT() domain.SUTConfig {
	return domain.SUTConfig{
		Name: "checkout",
		Services: map[string]domain.Service{
			"orders": {BaseURL: "http://orders.internal"},
		},
	}
}

func TestLoadSUTValid(t *testing.T) {
	data := []byte(`
name: checkout
services:
  orders:
    base_url: http://orders.internal
`)
	sut, err := LoadSUT(data)
	require.NoError(t, err)
	assert.Equal(t, "checkout", sut.Name)
}

func TestValidateSUTRejectsMissingName(t *testing.T) {
	sut := validSUT()
	sut.Name = ""
	err := ValidateSUT(sut)
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindInvalidSUT))
}

func TestValidateSUTRejectsNoServices(t *testing.T) {
	sut := domain.SUTConfig{Name: "checkout"}
	err := ValidateSUT(sut)
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindInvalidSUT))
}

func TestValidateSUTRejectsMissingBaseURL(t *testing.T) {
	sut := domain.SUTConfig{
		Name:     "checkout",
		Services: map[string]domain.Service{"orders": {}},
	}
	err := ValidateSUT(sut)
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindInvalidSUT))
}

func TestValidateScenarioRejectsUnknownServiceReference(t *testing.T) {
	sc := domain.Scenario{
		ID: "checkout-flow",
		Flow: []domain.Step{
			{Name: "create-order", Type: domain.StepHTTP, Service: "does-not-exist", Path: "/orders"},
		},
	}
	err := ValidateScenario(sc, validSUT())
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindMissingService))
}

func TestValidateScenarioRejectsEmptyFlow(t *testing.T) {
	sc := domain.Scenario{ID: "empty"}
	err := ValidateScenario(sc, validSUT())
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindInvalidScenario))
}

func TestValidateScenarioRecursesIntoBranchArms(t *testing.T) {
	sc := domain.Scenario{
		ID: "checkout-flow",
		Flow: []domain.Step{
			{
				Name:      "is-gold",
				Type:      domain.StepBranch,
				Condition: `tier == "gold"`,
				IfTrue: []domain.Step{
					{Name: "apply-discount", Type: domain.StepHTTP, Service: "does-not-exist", Path: "/discount"},
				},
			},
		},
	}
	err := ValidateScenario(sc, validSUT())
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindMissingService))
}

func TestValidateScenarioRejectsBranchWithoutCondition(t *testing.T) {
	sc := domain.Scenario{
		ID:   "checkout-flow",
		Flow: []domain.Step{{Name: "bad-branch", Type: domain.StepBranch}},
	}
	err := ValidateScenario(sc, validSUT())
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindInvalidScenario))
}

func TestValidateScenarioRejectsAssertWithoutExpect(t *testing.T) {
	sc := domain.Scenario{
		ID:         "checkout-flow",
		Flow:       []domain.Step{{Name: "noop", Type: domain.StepHTTP, Service: "orders", Path: "/x"}},
		Assertions: []domain.Step{{Name: "bad-assert", Type: domain.StepAssert}},
	}
	err := ValidateScenario(sc, validSUT())
	require.Error(t, err)
	assert.True(t, domerrors.Is(err, domerrors.KindInvalidScenario))
}
