package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/auralab/go-aural/pkg/llm"
)

// observerPrompt instructs the model to extract at most one durable
// fact from a completed exchange, as strict JSON.
const observerPrompt = `You observe a conversation between a user and their voice assistant.
Extract at most ONE new durable fact about the user worth remembering
long term (preferences, people, places, plans, recurring details).
Ignore small talk, one-off requests, and anything already known.

Known facts:
%s

Respond with strict JSON only: {"new_fact": "<fact in third person>"} or
{"new_fact": null} if there is nothing new.`

// observerResult is the JSON shape the model must return.
type observerResult struct {
	NewFact *string `json:"new_fact"`
}

// Observer watches completed conversation turns and persists new facts.
// It runs off the interactive path: all failures are logged and
// swallowed so a broken observer never degrades a conversation.
type Observer struct {
	provider llm.Provider
	store    Store
	logger   *slog.Logger
}

// NewObserver creates an observer backed by the given provider and store.
func NewObserver(provider llm.Provider, store Store, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		provider: provider,
		store:    store,
		logger:   logger,
	}
}

// Observe examines one completed exchange and appends a new fact if the
// model found one. It never returns an error; run it in its own
// goroutine after each turn.
func (o *Observer) Observe(ctx context.Context, userText, assistantText string) {
	if strings.TrimSpace(userText) == "" {
		return
	}

	known, err := o.store.Recent(0)
	if err != nil {
		o.logger.Warn("memory observer: failed to read known facts", "error", err)
		known = nil
	}

	req := &llm.Request{
		Messages: []llm.Message{
			llm.NewSystemMessage(fmt.Sprintf(observerPrompt, renderKnown(known))),
			llm.NewUserMessage(fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText)),
		},
		JSONMode: true,
	}

	raw, err := o.provider.Complete(ctx, req)
	if err != nil {
		o.logger.Warn("memory observer: completion failed", "error", err)
		return
	}

	fact, ok := parseObservation(raw)
	if !ok {
		o.logger.Debug("memory observer: no new fact", "response", raw)
		return
	}

	if err := o.store.Append(NewFact(fact)); err != nil {
		o.logger.Warn("memory observer: failed to store fact", "error", err)
		return
	}
	o.logger.Info("memory observer: learned fact", "fact", fact)
}

// parseObservation extracts a fact from the model response. Models
// occasionally wrap JSON in code fences, so those are stripped first.
func parseObservation(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var result observerResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", false
	}
	if result.NewFact == nil {
		return "", false
	}
	fact := strings.TrimSpace(*result.NewFact)
	if fact == "" || strings.EqualFold(fact, "null") {
		return "", false
	}
	return fact, true
}

// renderKnown formats known facts for the observer prompt.
func renderKnown(facts []Fact) string {
	if len(facts) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for _, fact := range facts {
		fmt.Fprintf(&b, "- %s\n", fact.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
