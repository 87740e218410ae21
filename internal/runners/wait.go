package runners

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
	"github.com/r3e-network/turbulence/internal/extractor"
	"github.com/r3e-network/turbulence/internal/sandbox"
	"github.com/r3e-network/turbulence/internal/templating"
)

// Wait polls a service until the step's Expect predicate holds or
// TimeoutSeconds elapses, then extracts values from the last successful
// poll.
type Wait struct {
	SUT    domain.SUTConfig
	Client *http.Client
}

func NewWait(sut domain.SUTConfig, client *http.Client) *Wait {
	if client == nil {
		client = &http.Client{}
	}
	return &Wait{SUT: sut, Client: client}
}

func (w *Wait) Run(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
	obs := domain.Observation{StepName: step.Name, StepType: domain.StepWait, Service: step.Service}
	lookup := templating.MapLookup(snapshot)

	stepStart := time.Now()

	svc, ok := w.SUT.Services[step.Service]
	if !ok {
		obs.Errors = []*domerrors.Detail{domerrors.New(domerrors.KindMissingService, step.Service)}
		obs.LatencyMS = ms(time.Since(stepStart))
		return obs, nil
	}

	interval := time.Duration(step.IntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	timeout := time.Duration(step.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = svc.Timeout()
	}

	deadline := time.Now().Add(timeout)
	start := time.Now()

	var (
		attempts []domain.Attempt
		lastBody any
		lastRaw  []byte
		lastStat int
	)

	for attemptIdx := 1; ; attemptIdx++ {
		path, err := templating.Render(step.Path, lookup)
		if err != nil {
			obs.Errors = []*domerrors.Detail{domerrors.Wrap(domerrors.KindTemplateMissingKey, err)}
			obs.LatencyMS = ms(time.Since(stepStart))
			return obs, nil
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.BaseURL+path, nil)
		if err == nil {
			for k, v := range w.SUT.EffectiveHeaders(step.Service) {
				rendered, rerr := templating.Render(v, lookup)
				if rerr == nil {
					req.Header.Set(k, rendered)
				}
			}
		}

		pollOK := false
		if err == nil {
			resp, derr := w.Client.Do(req)
			if derr == nil {
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				lastStat = resp.StatusCode
				lastRaw = body
				if len(body) > 0 {
					_ = json.Unmarshal(body, &lastBody)
				}
				pollOK, err = evalExpect(step.Expect, resp.StatusCode, lastBody, lookup)
			} else {
				err = derr
			}
		}

		attempts = append(attempts, domain.Attempt{
			Index:      attemptIdx,
			StatusCode: lastStat,
			OK:         pollOK,
			LatencyMS:  ms(time.Since(start)),
			Error:      errString(err),
		})

		if pollOK {
			break
		}
		if time.Now().Add(interval).After(deadline) {
			obs.Attempts = attempts
			obs.StatusCode = lastStat
			obs.Body = lastBody
			obs.Errors = []*domerrors.Detail{domerrors.New(domerrors.KindWaitTimeout, fmt.Sprintf("condition not met after %d polls", attemptIdx)).WithAttempts(attemptIdx)}
			obs.LatencyMS = ms(time.Since(stepStart))
			return obs, nil
		}
		select {
		case <-ctx.Done():
			obs.Errors = []*domerrors.Detail{domerrors.Wrap(domerrors.KindCancelled, ctx.Err())}
			obs.LatencyMS = ms(time.Since(stepStart))
			return obs, nil
		case <-time.After(interval):
		}
	}

	obs.OK = true
	obs.Attempts = attempts
	obs.StatusCode = lastStat
	obs.Body = lastBody
	obs.LatencyMS = ms(time.Since(stepStart))

	var delta domain.Delta
	if len(step.Extract) > 0 {
		extracted, err := extractor.Extract(lastRaw, step.Extract)
		if err != nil {
			obs.Errors = append(obs.Errors, domerrors.Wrap(domerrors.KindExtractionMissingPath, err))
		}
		if len(extracted) > 0 {
			delta = domain.Delta(extracted)
		}
	}
	return obs, delta
}

// evalExpect evaluates a Wait/Assert predicate. jsonpath and status_code
// checks are data-driven; expression runs in the sandboxed VM.
func evalExpect(expect *domain.Expect, status int, body any, lookup templating.Lookup) (bool, error) {
	if expect == nil {
		return status < 400, nil
	}
	if expect.HasStatusCode() && status != expect.StatusCode {
		return false, nil
	}
	if expect.JSONPath != "" {
		v, err := jsonpath.Get(expect.JSONPath, body)
		if err != nil {
			return false, nil
		}
		if expect.Equals != nil {
			return fmt.Sprint(v) == fmt.Sprint(expect.Equals), nil
		}
		if expect.Contains != nil {
			return containsValue(v, expect.Contains), nil
		}
		if v == nil {
			return false, nil
		}
	}
	if expect.Expression != "" {
		vars := map[string]any{"status_code": status, "body": body}
		return sandbox.EvalBool(expect.Expression, vars)
	}
	return true, nil
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if fmt.Sprint(item) == fmt.Sprint(needle) {
				return true
			}
		}
		return false
	case string:
		n, ok := needle.(string)
		return ok && (h == n || (len(n) > 0 && contains(h, n)))
	default:
		return false
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
