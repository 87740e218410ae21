package domain

import "time"

// SUTConfig declares a System Under Test: a named collection of HTTP
// services with base URLs, default headers, and timeouts.
type SUTConfig struct {
	Name           string             `yaml:"name" json:"name"`
	Services       map[string]Service `yaml:"services" json:"services"`
	DefaultHeaders map[string]string  `yaml:"default_headers" json:"default_headers"`
}

// Service describes one HTTP service reachable from a scenario's Http and
// Wait steps.
type Service struct {
	BaseURL        string            `yaml:"base_url" json:"base_url"`
	TimeoutSeconds float64           `yaml:"timeout_seconds" json:"timeout_seconds"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
}

// Timeout returns the configured per-request timeout, defaulting to 30s when
// unset.
func (s Service) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// EffectiveHeaders merges SUT default headers with this service's overrides,
// service headers winning on key collision. Values are left as templates;
// rendering happens per-instance.
func (s SUTConfig) EffectiveHeaders(serviceName string) map[string]string {
	merged := make(map[string]string, len(s.DefaultHeaders))
	for k, v := range s.DefaultHeaders {
		merged[k] = v
	}
	if svc, ok := s.Services[serviceName]; ok {
		for k, v := range svc.Headers {
			merged[k] = v
		}
	}
	return merged
}
