package chorus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/af-corp/chorus/internal/types"
)

const (
	responderSystemPrompt = "You are a helpful assistant. Use the provided context to answer the user's question."
	evaluatorSystemPrompt = "You are an expert response evaluator."
)

func responderMessages(query, context string) []types.Message {
	return []types.Message{
		types.SystemMessage(responderSystemPrompt),
		types.UserMessage(fmt.Sprintf("Context:\n%s\n\nQuestion: %s", context, query)),
	}
}

// ballot lists every successful response under its original index.
func ballot(responses []ResponderResult) (string, int) {
	var entries []string
	for _, r := range responses {
		if r.Failed() {
			continue
		}
		entries = append(entries, fmt.Sprintf("Response %d (from %s %s):\n%s", r.Index, r.Provider, r.Model, r.Response))
	}
	return strings.Join(entries, "\n\n"), len(entries)
}

func evaluatorMessages(query, ballotText string, candidates int) []types.Message {
	prompt := fmt.Sprintf(`You are an expert evaluator. Below are %d different responses to the same question.

Question: %s

%s

Evaluate all responses and select the BEST one based on:
- Accuracy and relevance to the question
- Use of provided context
- Clarity and completeness
- Helpfulness

Respond with ONLY the number (index) of the best response. Just the number, nothing else.`, candidates, query, ballotText)

	return []types.Message{
		types.SystemMessage(evaluatorSystemPrompt),
		types.UserMessage(prompt),
	}
}

// parseVote accepts a bare integer naming a successful response. Anything else is discarded.
func parseVote(raw string, responses []ResponderResult) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	if n < 0 || n >= len(responses) {
		return 0, false
	}
	if responses[n].Failed() {
		return 0, false
	}
	return n, true
}

// tally counts valid votes and picks the lowest index among the maxima.
// With no votes it returns fallback.
func tally(votes []Vote, fallback int) (map[int]int, int) {
	counts := make(map[int]int)
	for _, v := range votes {
		counts[v.Vote]++
	}
	if len(counts) == 0 {
		return counts, fallback
	}

	winner, best := -1, 0
	for idx, n := range counts {
		if n > best || (n == best && idx < winner) {
			winner, best = idx, n
		}
	}
	return counts, winner
}
