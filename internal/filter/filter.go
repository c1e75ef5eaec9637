// Package filter screens inbound chat messages before any model is called.
package filter

import "context"

type Action string

const (
	ActionPass  Action = "pass"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Input is one chat turn as seen by the filters.
type Input struct {
	Subject          string
	AllowedProviders []string
	BotID            int64
	HasDataset       bool
	Message          string
	// Providers and Models are the distinct responder and evaluator targets of the bot's Chorus.
	Providers []string
	Models    []string
}

type Result struct {
	Action     Action
	FilterName string
	Message    string
	Detections int
	Score      float64
}

type Filter interface {
	Name() string
	Enabled() bool
	ScanRequest(ctx context.Context, in *Input) Result
}

// Chain runs filters in order, stopping on the first Block.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Run returns the results of every enabled filter that ran and the blocking result, if any.
func (c *Chain) Run(ctx context.Context, in *Input) ([]Result, *Result) {
	var results []Result
	for _, f := range c.filters {
		if !f.Enabled() {
			continue
		}
		r := f.ScanRequest(ctx, in)
		results = append(results, r)
		if r.Action == ActionBlock {
			return results, &r
		}
	}
	return results, nil
}
