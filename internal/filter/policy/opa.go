// Package policy evaluates chat turns against Rego policies with OPA.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/filter"
)

// Query expects policies in package chorus.policy defining allow and reason.
const Query = "[data.chorus.policy.allow, data.chorus.policy.reason]"

type PolicyInput struct {
	Caller  PolicyCaller  `json:"caller"`
	Bot     PolicyBot     `json:"bot"`
	Request PolicyRequest `json:"request"`
	Time    PolicyTime    `json:"time"`
}

type PolicyCaller struct {
	Subject          string   `json:"subject"`
	AllowedProviders []string `json:"allowed_providers"`
}

type PolicyBot struct {
	ID         int64 `json:"id"`
	HasDataset bool  `json:"has_dataset"`
}

type PolicyRequest struct {
	Providers     []string `json:"providers"`
	Models        []string `json:"models"`
	MessageLength int      `json:"message_length"`
}

type PolicyTime struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator implements filter.Filter using OPA. It fails closed.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyFilterConfig
	now      func() time.Time
}

// NewEvaluator creates a policy evaluator. Call Load to compile policies.
func NewEvaluator(cfg func() config.PolicyFilterConfig) *Evaluator {
	return &Evaluator{cfg: cfg, now: time.Now}
}

func (e *Evaluator) Name() string  { return "policy" }
func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles the .rego files under the configured bundle path.
func (e *Evaluator) Load() error {
	path := e.cfg().BundlePath
	modules, err := LoadRegoFiles(path)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found", "path", path)
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	slog.Info("opa policies loaded", "path", path, "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from module name to source.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(Query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate returns whether input is allowed and the policy's reason when it is not.
func (e *Evaluator) Evaluate(ctx context.Context, input PolicyInput) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err), err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]any)
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

func (e *Evaluator) input(in *filter.Input) PolicyInput {
	now := e.now().UTC()
	allowed := in.AllowedProviders
	if allowed == nil {
		allowed = []string{}
	}
	return PolicyInput{
		Caller:  PolicyCaller{Subject: in.Subject, AllowedProviders: allowed},
		Bot:     PolicyBot{ID: in.BotID, HasDataset: in.HasDataset},
		Request: PolicyRequest{Providers: in.Providers, Models: in.Models, MessageLength: utf8.RuneCountInString(in.Message)},
		Time:    PolicyTime{Hour: now.Hour(), Day: now.Weekday().String()},
	}
}

// ScanRequest implements filter.Filter.
func (e *Evaluator) ScanRequest(ctx context.Context, in *filter.Input) filter.Result {
	allowed, reason, err := e.Evaluate(ctx, e.input(in))
	if err != nil {
		slog.Error("policy evaluation failed", "bot_id", in.BotID, "error", err)
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: e.Name(),
			Message:    "Policy evaluation failed: " + err.Error(),
		}
	}
	if !allowed {
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: e.Name(),
			Message:    "Request denied by policy: " + reason,
		}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: e.Name()}
}
