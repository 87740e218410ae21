package runners

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domerrors "github.com/r3e-network/turbulence/internal/errors"
	"github.com/r3e-network/turbulence/internal/domain"
	"github.com/r3e-network/turbulence/internal/extractor"
	"github.com/r3e-network/turbulence/internal/resilience"
	"github.com/r3e-network/turbulence/internal/templating"
)

// HTTP runs a templated request against one SUT service, optionally
// protected by a per-service circuit breaker, and extracts values from the
// decoded JSON response into the instance's Context.
type HTTP struct {
	SUT     domain.SUTConfig
	Client  *http.Client
	Breaker map[string]*resilience.CircuitBreaker
}

// NewHTTP builds an HTTP runner with a circuit breaker per declared
// service, sharing a single http.Client across requests the way a
// connection-pooling production client would.
func NewHTTP(sut domain.SUTConfig, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	breakers := make(map[string]*resilience.CircuitBreaker, len(sut.Services))
	for name := range sut.Services {
		breakers[name] = resilience.New(resilience.DefaultConfig())
	}
	return &HTTP{SUT: sut, Client: client, Breaker: breakers}
}

func (h *HTTP) Run(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
	obs := domain.Observation{StepName: step.Name, StepType: domain.StepHTTP, Service: step.Service}
	lookup := templating.MapLookup(snapshot)

	svc, ok := h.SUT.Services[step.Service]
	if !ok {
		obs.Errors = []*domerrors.Detail{domerrors.New(domerrors.KindMissingService, step.Service)}
		return obs, nil
	}

	retryCfg := stepRetryConfig(step.Retry)

	stepStart := time.Now()

	var (
		attempts  []domain.Attempt
		status    int
		headers   map[string]string
		decoded   any
		raw       []byte
		decodeErr error
	)

	breaker := h.Breaker[step.Service]
	attemptIdx := 0

	run := func() error {
		attemptIdx++
		start := time.Now()

		reqCtx, cancel := context.WithTimeout(ctx, svc.Timeout())
		defer cancel()

		req, err := h.buildRequest(reqCtx, svc, step, lookup)
		if err != nil {
			attempts = append(attempts, domain.Attempt{Index: attemptIdx, OK: false, Error: err.Error()})
			return err
		}

		resp, err := h.Client.Do(req)
		latency := time.Since(start)
		if err != nil {
			attempts = append(attempts, domain.Attempt{Index: attemptIdx, OK: false, LatencyMS: ms(latency), Error: err.Error()})
			return err
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			attempts = append(attempts, domain.Attempt{Index: attemptIdx, OK: false, LatencyMS: ms(latency), Error: readErr.Error()})
			return readErr
		}

		status = resp.StatusCode
		raw = body
		headers = flattenHeader(resp.Header)
		decodeErr = nil
		if len(body) > 0 {
			decodeErr = json.Unmarshal(body, &decoded)
		}

		// Only server errors are returned for retry; 4xx responses are a
		// valid (if failing) final outcome and never retried here.
		belowServerError := status < 500
		attempts = append(attempts, domain.Attempt{Index: attemptIdx, StatusCode: status, OK: belowServerError, LatencyMS: ms(latency)})
		if !belowServerError {
			return domerrors.New(domerrors.KindStatus, fmt.Sprintf("server error: %d", status))
		}
		return nil
	}

	exec := run
	if breaker != nil {
		exec = func() error { return breaker.Execute(ctx, run) }
	}

	var runErr error
	switch {
	case step.Retry != nil && step.Retry.Strategy == domain.RetryFixed:
		runErr = resilience.FixedRetry(ctx, retryCfg.MaxAttempts, retryCfg.InitialDelay, exec)
	default:
		runErr = resilience.Retry(ctx, retryCfg, exec)
	}

	obs.Attempts = attempts
	obs.StatusCode = status
	obs.Headers = headers

	if decodeErr != nil {
		obs.Body = rawBodySummary(raw)
		obs.Errors = append(obs.Errors, domerrors.Wrap(domerrors.KindBodyDecode, decodeErr))
	} else {
		obs.Body = decoded
	}

	if runErr != nil {
		obs.OK = false
		obs.Errors = append(obs.Errors, domerrors.Wrap(classifyTransportError(runErr), runErr).WithAttempts(len(attempts)))
		obs.LatencyMS = ms(time.Since(stepStart))
		if status != 0 {
			return obs, domain.Delta{lastHTTPKey: map[string]any{"status_code": status, "body": obs.Body}}
		}
		return obs, nil
	}

	statusOK := status < 400
	if !statusOK {
		obs.Errors = append(obs.Errors, domerrors.New(domerrors.KindStatus, fmt.Sprintf("status %d", status)))
	}

	extractionOK := true
	delta := domain.Delta{lastHTTPKey: map[string]any{"status_code": status, "body": obs.Body}}
	if len(step.Extract) > 0 {
		extracted, err := extractor.Extract(raw, step.Extract)
		if err != nil {
			extractionOK = false
			obs.Errors = append(obs.Errors, domerrors.Wrap(domerrors.KindExtractionMissingPath, err))
		}
		for k, v := range extracted {
			delta[k] = v
		}
	}

	obs.OK = statusOK && extractionOK
	obs.LatencyMS = ms(time.Since(stepStart))
	return obs, delta
}

// lastHTTPKey is the well-known Context key an Http step's Delta carries its
// outcome under, letting a later Assert step reference "the most recent Http
// Observation" (status_code/body) without inventing a side channel outside
// the Context snapshot.
const lastHTTPKey = "_http"

// rawBodySummary is used as Observation.Body when a response claims a
// non-empty body but fails to decode as JSON.
func rawBodySummary(raw []byte) string {
	const maxLen = 256
	s := string(raw)
	if len(s) > maxLen {
		return s[:maxLen] + "...(truncated)"
	}
	return s
}

func (h *HTTP) buildRequest(ctx context.Context, svc domain.Service, step domain.Step, lookup templating.Lookup) (*http.Request, error) {
	path, err := templating.Render(step.Path, lookup)
	if err != nil {
		return nil, err
	}
	full := strings.TrimRight(svc.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	u, err := url.Parse(full)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.KindInvalidScenario, err)
	}
	if len(step.Query) > 0 {
		q := u.Query()
		for k, v := range step.Query {
			rendered, err := templating.Render(v, lookup)
			if err != nil {
				return nil, err
			}
			q.Set(k, rendered)
		}
		u.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	if step.Body != nil {
		rendered, err := templating.RenderValue(step.Body, lookup)
		if err != nil {
			return nil, err
		}
		buf, err := json.Marshal(rendered)
		if err != nil {
			return nil, domerrors.Wrap(domerrors.KindInvalidScenario, err)
		}
		bodyReader = bytes.NewReader(buf)
	}

	method := step.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), bodyReader)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.KindTransport, err)
	}

	for k, v := range h.SUT.EffectiveHeaders(step.Service) {
		rendered, err := templating.Render(v, lookup)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, rendered)
	}
	for k, v := range step.Headers {
		rendered, err := templating.Render(v, lookup)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, rendered)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func stepRetryConfig(r *domain.Retry) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if r == nil {
		cfg.MaxAttempts = 1
		return cfg
	}
	cfg.MaxAttempts = r.Attempts
	if r.DelayMS > 0 {
		cfg.InitialDelay = time.Duration(r.DelayMS) * time.Millisecond
	}
	if r.Factor > 0 {
		cfg.Multiplier = r.Factor
	}
	if r.CapMS > 0 {
		cfg.MaxDelay = time.Duration(r.CapMS) * time.Millisecond
	}
	return cfg
}

func classifyTransportError(err error) domerrors.Kind {
	if domerrors.Is(err, domerrors.KindStatus) {
		return domerrors.KindStatus
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return domerrors.KindDNS
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connect:"):
		return domerrors.KindConnect
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return domerrors.KindTLS
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return domerrors.KindTimeout
	default:
		return domerrors.KindTransport
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
