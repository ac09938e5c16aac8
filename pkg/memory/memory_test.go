package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/auralab/go-aural/pkg/llm"
)

func newTestStore(t *testing.T) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "memory.json"))
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)

	facts := []string{
		"The user's name is Dana.",
		"The user lives in Lisbon.",
		"The user has a dog named Miso.",
	}
	for _, text := range facts {
		if err := store.Append(NewFact(text)); err != nil {
			t.Fatalf("Append(%q) error = %v", text, err)
		}
	}

	got, err := store.Recent(0)
	if err != nil {
		t.Fatalf("Recent(0) error = %v", err)
	}
	if len(got) != len(facts) {
		t.Fatalf("Recent(0) returned %d facts, want %d", len(got), len(facts))
	}
	for i, fact := range got {
		if fact.Text != facts[i] {
			t.Errorf("fact[%d] = %q, want %q", i, fact.Text, facts[i])
		}
		if fact.CreatedAt.IsZero() {
			t.Errorf("fact[%d] has zero CreatedAt", i)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := store.Append(NewFact(fmt.Sprintf("fact %d", i))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent(2) error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d facts, want 2", len(got))
	}
	if got[0].Text != "fact 3" || got[1].Text != "fact 4" {
		t.Errorf("Recent(2) = [%q, %q], want newest two oldest first", got[0].Text, got[1].Text)
	}
}

func TestAppendDropsDuplicates(t *testing.T) {
	store := newTestStore(t)

	if err := store.Append(NewFact("The user prefers tea.")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(NewFact("the user prefers tea.")); err != nil {
		t.Fatalf("Append() duplicate error = %v", err)
	}
	if err := store.Append(NewFact("  The user prefers tea.  ")); err != nil {
		t.Fatalf("Append() padded duplicate error = %v", err)
	}

	if store.Count() != 1 {
		t.Errorf("Count() = %d after duplicate appends, want 1", store.Count())
	}
}

func TestAppendIgnoresEmpty(t *testing.T) {
	store := newTestStore(t)

	if err := store.Append(NewFact("   ")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d after empty append, want 0", store.Count())
	}
}

func TestConcurrentAppends(t *testing.T) {
	store := newTestStore(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Append(NewFact(fmt.Sprintf("concurrent fact %d", i))); err != nil {
				t.Errorf("Append(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.Recent(0)
	if err != nil {
		t.Fatalf("Recent(0) error = %v", err)
	}
	if len(got) != n {
		t.Fatalf("Recent(0) returned %d facts after %d concurrent appends", len(got), n)
	}

	seen := make(map[string]int)
	for _, fact := range got {
		seen[fact.Text]++
	}
	for text, count := range seen {
		if count != 1 {
			t.Errorf("fact %q stored %d times, want exactly once", text, count)
		}
	}
}

func TestStoreReloadsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")

	first, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	second, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}

	if err := first.Append(NewFact("The user plays piano.")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// The second handle was opened before the write and must pick it up.
	got, err := second.Recent(0)
	if err != nil {
		t.Fatalf("Recent(0) error = %v", err)
	}
	if len(got) != 1 || got[0].Text != "The user plays piano." {
		t.Errorf("second handle Recent(0) = %v, want the externally appended fact", got)
	}

	// And appending through the second handle must not lose the first's fact.
	if err := second.Append(NewFact("The user plays chess.")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err = second.Recent(0)
	if err != nil {
		t.Fatalf("Recent(0) error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(0) returned %d facts, want 2", len(got))
	}
}

func TestObserverStoresFact(t *testing.T) {
	store := newTestStore(t)
	provider := &llm.Mock{
		CompleteFunc: func(ctx context.Context, req *llm.Request) (string, error) {
			if !req.JSONMode {
				t.Error("observer request should set JSONMode")
			}
			return `{"new_fact": "The user is training for a marathon."}`, nil
		},
	}

	observer := NewObserver(provider, store, nil)
	observer.Observe(context.Background(), "I ran 30k this morning", "Nice, how did it feel?")

	got, err := store.Recent(0)
	if err != nil {
		t.Fatalf("Recent(0) error = %v", err)
	}
	if len(got) != 1 || got[0].Text != "The user is training for a marathon." {
		t.Errorf("store contents = %v, want the observed fact", got)
	}
}

func TestObserverNullFact(t *testing.T) {
	store := newTestStore(t)
	provider := &llm.Mock{
		CompleteFunc: func(ctx context.Context, req *llm.Request) (string, error) {
			return `{"new_fact": null}`, nil
		},
	}

	NewObserver(provider, store, nil).Observe(context.Background(), "what time is it", "It's noon.")

	if store.Count() != 0 {
		t.Errorf("Count() = %d after null observation, want 0", store.Count())
	}
}

func TestObserverFencedJSON(t *testing.T) {
	store := newTestStore(t)
	provider := &llm.Mock{
		CompleteFunc: func(ctx context.Context, req *llm.Request) (string, error) {
			return "```json\n{\"new_fact\": \"The user's sister is named Ana.\"}\n```", nil
		},
	}

	NewObserver(provider, store, nil).Observe(context.Background(), "my sister Ana is visiting", "How lovely!")

	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (fenced JSON should be parsed)", store.Count())
	}
}

func TestObserverSwallowsProviderError(t *testing.T) {
	store := newTestStore(t)
	provider := &llm.Mock{
		CompleteFunc: func(ctx context.Context, req *llm.Request) (string, error) {
			return "", errors.New("backend down")
		},
	}

	// Must not panic and must not store anything.
	NewObserver(provider, store, nil).Observe(context.Background(), "hello", "hi")

	if store.Count() != 0 {
		t.Errorf("Count() = %d after provider failure, want 0", store.Count())
	}
}

func TestObserverSkipsEmptyUserText(t *testing.T) {
	store := newTestStore(t)
	called := false
	provider := &llm.Mock{
		CompleteFunc: func(ctx context.Context, req *llm.Request) (string, error) {
			called = true
			return `{"new_fact": null}`, nil
		},
	}

	NewObserver(provider, store, nil).Observe(context.Background(), "  ", "response")

	if called {
		t.Error("observer should not call the provider for empty user text")
	}
}

func TestParseObservation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"plain", `{"new_fact": "Fact."}`, "Fact.", true},
		{"null", `{"new_fact": null}`, "", false},
		{"literal null string", `{"new_fact": "null"}`, "", false},
		{"empty string", `{"new_fact": ""}`, "", false},
		{"not json", "no fact here", "", false},
		{"whitespace padded", "  {\"new_fact\": \"Fact.\"}  ", "Fact.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseObservation(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseObservation(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNewFactTimestamp(t *testing.T) {
	before := time.Now()
	fact := NewFact("something", "tag")
	if fact.CreatedAt.Before(before) {
		t.Errorf("NewFact CreatedAt = %v, want >= %v", fact.CreatedAt, before)
	}
	if len(fact.Tags) != 1 || fact.Tags[0] != "tag" {
		t.Errorf("NewFact Tags = %v, want [tag]", fact.Tags)
	}
}
