// Package memory provides the durable long-term fact store about the user.
//
// Facts are append-only: once written they are never mutated, only added.
// The store is shared between the interactive pipeline (reads for prompt
// injection) and the background observer (writes), and may also be opened
// by other processes sharing the same assistant identity, so appends are
// guarded by a cross-process lock file in addition to the in-process mutex.
package memory

import (
	"time"
)

// Fact is one persisted, timestamped, immutable unit of user context.
type Fact struct {
	// Text is the fact content, phrased in third person.
	Text string `json:"text"`

	// CreatedAt is when the fact was learned.
	CreatedAt time.Time `json:"created_at"`

	// Tags optionally categorize the fact.
	Tags []string `json:"tags,omitempty"`
}

// NewFact creates a fact with the current timestamp.
func NewFact(text string, tags ...string) Fact {
	return Fact{
		Text:      text,
		CreatedAt: time.Now(),
		Tags:      tags,
	}
}

// Store defines fact storage operations.
type Store interface {
	// Append adds one fact. Duplicate text is silently dropped.
	Append(fact Fact) error

	// Recent returns an ordered snapshot of the newest n facts,
	// oldest first. n <= 0 returns all facts.
	Recent(n int) ([]Fact, error)

	// All returns every fact, oldest first.
	All() ([]Fact, error)

	// Count returns the total number of facts.
	Count() int
}
