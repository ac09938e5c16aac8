// Package segment splits a streamed token sequence into complete sentences
// as early as punctuation allows. It is the latency lever between generation
// and synthesis: the first sentence can be spoken while the rest of the
// response is still being generated.
package segment

import (
	"io"
	"strings"
	"unicode"
)

// DefaultMaxBuffer is the buffered-rune limit before an unpunctuated
// stretch is flushed as a sentence anyway.
const DefaultMaxBuffer = 240

// Source yields the next text fragment from the generation stream.
// It returns io.EOF when the stream is complete. Fragments may split
// words and punctuation arbitrarily.
type Source func() (string, error)

// Segmenter consumes fragments and emits complete sentences in order.
// It buffers only the minimum needed to detect a boundary; any trailing
// unterminated text is flushed as a final partial sentence.
type Segmenter struct {
	src       Source
	pending   []rune
	maxBuffer int
	drained   bool
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMaxBuffer sets the rune limit before a forced flush.
func WithMaxBuffer(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.maxBuffer = n
		}
	}
}

// New creates a Segmenter reading from src.
func New(src Source, opts ...Option) *Segmenter {
	s := &Segmenter{
		src:       src,
		maxBuffer: DefaultMaxBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next complete sentence. It returns io.EOF once the
// source is exhausted and all buffered text has been emitted. Any other
// error from the source is passed through; buffered text is flushed on
// the following call.
func (s *Segmenter) Next() (string, error) {
	for {
		if sentence, ok := s.takeSentence(); ok {
			return sentence, nil
		}

		if s.drained {
			return s.flush()
		}

		frag, err := s.src()
		if err == io.EOF {
			s.drained = true
			continue
		}
		if err != nil {
			return "", err
		}

		s.pending = append(s.pending, []rune(frag)...)
	}
}

// takeSentence scans the buffer for a sentence boundary and removes the
// sentence if one is found.
func (s *Segmenter) takeSentence() (string, bool) {
	for i, r := range s.pending {
		if !isTerminal(r) {
			continue
		}

		// Absorb closing quotes and brackets after the terminal rune.
		end := i + 1
		for end < len(s.pending) && isClosing(s.pending[end]) {
			end++
		}

		// A boundary needs following whitespace; end-of-buffer is
		// ambiguous mid-stream (more terminals may follow), so wait.
		if end >= len(s.pending) || !unicode.IsSpace(s.pending[end]) {
			continue
		}

		if r == '.' && isAbbreviation(s.pending[:i]) {
			continue
		}

		sentence := strings.TrimSpace(string(s.pending[:end]))
		s.pending = s.pending[end:]
		if sentence == "" {
			continue
		}
		return sentence, true
	}

	// Forced flush for long unpunctuated output; split at the last
	// whitespace so words stay intact.
	if len(s.pending) >= s.maxBuffer {
		cut := s.maxBuffer
		for j := s.maxBuffer - 1; j > 0; j-- {
			if unicode.IsSpace(s.pending[j]) {
				cut = j
				break
			}
		}
		sentence := strings.TrimSpace(string(s.pending[:cut]))
		s.pending = s.pending[cut:]
		if sentence != "" {
			return sentence, true
		}
	}

	return "", false
}

// flush emits whatever remains after the source is exhausted.
func (s *Segmenter) flush() (string, error) {
	if len(s.pending) == 0 {
		return "", io.EOF
	}
	sentence := strings.TrimSpace(string(s.pending))
	s.pending = nil
	if sentence == "" {
		return "", io.EOF
	}
	return sentence, nil
}

// isTerminal reports whether r can end a sentence.
func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// abbreviations are words whose trailing period does not end a sentence.
var abbreviations = map[string]struct{}{
	"dr":     {},
	"mr":     {},
	"mrs":    {},
	"ms":     {},
	"prof":   {},
	"st":     {},
	"sr":     {},
	"jr":     {},
	"vs":     {},
	"etc":    {},
	"e.g":    {},
	"i.e":    {},
	"approx": {},
}

// isAbbreviation reports whether the text before a period ends in a
// known abbreviation, in which case the period is not a boundary.
func isAbbreviation(before []rune) bool {
	start := len(before)
	for start > 0 {
		r := before[start-1]
		if unicode.IsSpace(r) {
			break
		}
		start--
	}
	word := strings.ToLower(string(before[start:]))
	_, ok := abbreviations[word]
	return ok
}

// isClosing reports whether r trails a sentence after its terminal rune.
func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}

// FromChannel adapts a fragment channel to a Source. The source returns
// io.EOF when the channel closes.
func FromChannel(ch <-chan string) Source {
	return func() (string, error) {
		frag, ok := <-ch
		if !ok {
			return "", io.EOF
		}
		return frag, nil
	}
}
