// Package chorus runs the responder/evaluator consensus protocol: every responder answers,
// every evaluator votes for one answer, and the most voted answer wins.
package chorus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/telemetry"
	"github.com/af-corp/chorus/internal/types"
)

var ErrAllRespondersFailed = errors.New("all responders failed")

// ResponderResult is the outcome of one responder call. Index is the responder's position
// in the configured list and is the value evaluators vote for.
type ResponderResult struct {
	Index    int            `json:"index"`
	Provider types.Provider `json:"provider"`
	Model    string         `json:"model"`
	Response string         `json:"response"`
	Error    string         `json:"error,omitempty"`

	Err error `json:"-"`
}

func (r ResponderResult) Failed() bool { return r.Err != nil }

type Vote struct {
	Evaluator string         `json:"evaluator"`
	Provider  types.Provider `json:"provider"`
	Model     string         `json:"model"`
	Vote      int            `json:"vote"`
}

// Result is the terminal output of one run.
type Result struct {
	FinalResponse string            `json:"final_response"`
	Responses     []ResponderResult `json:"responses"`
	// Votes and VoteCounts are nil when evaluation was skipped for a single responder.
	Votes       []Vote      `json:"votes"`
	VoteCounts  map[int]int `json:"vote_counts"`
	WinnerIndex int         `json:"winner_index"`

	DiscardedVotes int `json:"-"`
}

// Event reports run progress. Message is human readable.
type Event struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

const (
	StageResponding = "responding"
	StageResponded  = "responded"
	StageEvaluating = "evaluating"
	StageVoted      = "voted"
)

// Observer receives progress events. Calls are serialised.
type Observer func(Event)

type Settings struct {
	ResponderTemperature float64
	EvaluatorTemperature float64
	// MaxParallel bounds concurrent calls per stage. Zero means one goroutine per call.
	MaxParallel int
}

type Orchestrator struct {
	invoker  provider.Invoker
	settings func() Settings
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewOrchestrator(invoker provider.Invoker, settings func() Settings, metrics *telemetry.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{invoker: invoker, settings: settings, metrics: metrics, logger: logger}
}

// Run executes one consensus round. It only fails when no responder produced an answer.
func (o *Orchestrator) Run(ctx context.Context, query, contextText string, responders, evaluators []types.ModelRef, observe Observer) (*Result, error) {
	if len(responders) == 0 {
		return nil, fmt.Errorf("run chorus: %w", ErrAllRespondersFailed)
	}
	emit := serialise(observe)
	st := o.settings()

	responses := o.respond(ctx, query, contextText, responders, st, emit)

	var succeeded []int
	for _, r := range responses {
		if !r.Failed() {
			succeeded = append(succeeded, r.Index)
		}
	}
	if len(succeeded) == 0 {
		return nil, fmt.Errorf("run chorus with %d responders: %w", len(responders), ErrAllRespondersFailed)
	}

	if len(responders) == 1 {
		return &Result{
			FinalResponse: responses[0].Response,
			Responses:     responses,
			WinnerIndex:   0,
		}, nil
	}

	res := &Result{Responses: responses, Votes: []Vote{}}
	if len(succeeded) > 1 && len(evaluators) > 0 {
		res.Votes, res.DiscardedVotes = o.evaluate(ctx, query, responses, evaluators, st, emit)
	}
	res.VoteCounts, res.WinnerIndex = tally(res.Votes, succeeded[0])
	res.FinalResponse = responses[res.WinnerIndex].Response
	return res, nil
}

func (o *Orchestrator) respond(ctx context.Context, query, contextText string, responders []types.ModelRef, st Settings, emit Observer) []ResponderResult {
	responses := make([]ResponderResult, len(responders))
	msgs := responderMessages(query, contextText)

	g, gctx := errgroup.WithContext(ctx)
	if st.MaxParallel > 0 {
		g.SetLimit(st.MaxParallel)
	}
	for i, ref := range responders {
		g.Go(func() error {
			emit(Event{Stage: StageResponding, Message: fmt.Sprintf("Getting response from responder %d/%d...", i+1, len(responders))})

			text, err := o.invoker.Invoke(gctx, ref, msgs, st.ResponderTemperature)
			r := ResponderResult{Index: i, Provider: ref.Provider, Model: ref.Model}
			if err != nil {
				o.logger.Warn("responder failed", "index", i, "provider", ref.Provider, "model", ref.Model, "error", err)
				r.Err = err
				r.Error = err.Error()
			} else {
				r.Response = text
				emit(Event{Stage: StageResponded, Message: fmt.Sprintf("Received response from %s", ref)})
			}
			responses[i] = r
			// per-call failures never cancel siblings
			return nil
		})
	}
	g.Wait()
	return responses
}

func (o *Orchestrator) evaluate(ctx context.Context, query string, responses []ResponderResult, evaluators []types.ModelRef, st Settings, emit Observer) ([]Vote, int) {
	ballotText, candidates := ballot(responses)
	msgs := evaluatorMessages(query, ballotText, candidates)
	emit(Event{Stage: StageEvaluating, Message: fmt.Sprintf("Evaluating responses with %d evaluator(s)...", len(evaluators))})

	type slot struct {
		vote  Vote
		valid bool
	}
	slots := make([]slot, len(evaluators))

	g, gctx := errgroup.WithContext(ctx)
	if st.MaxParallel > 0 {
		g.SetLimit(st.MaxParallel)
	}
	for i, ref := range evaluators {
		g.Go(func() error {
			raw, err := o.invoker.Invoke(gctx, ref, msgs, st.EvaluatorTemperature)
			if err != nil {
				o.logger.Warn("evaluator failed", "evaluator", ref.String(), "error", err)
				o.recordVote("failed")
				return nil
			}
			n, ok := parseVote(raw, responses)
			if !ok {
				o.logger.Debug("discarding malformed vote", "evaluator", ref.String(), "raw", raw)
				o.recordVote("discarded")
				return nil
			}
			o.recordVote("valid")
			slots[i] = slot{vote: Vote{Evaluator: ref.String(), Provider: ref.Provider, Model: ref.Model, Vote: n}, valid: true}
			emit(Event{Stage: StageVoted, Message: fmt.Sprintf("%s voted for Response %d", ref, n)})
			return nil
		})
	}
	g.Wait()

	votes := make([]Vote, 0, len(evaluators))
	for _, s := range slots {
		if s.valid {
			votes = append(votes, s.vote)
		}
	}
	return votes, len(evaluators) - len(votes)
}

func (o *Orchestrator) recordVote(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordVote(outcome)
	}
}

func serialise(observe Observer) Observer {
	if observe == nil {
		return func(Event) {}
	}
	var mu sync.Mutex
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		observe(e)
	}
}
