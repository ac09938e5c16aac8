package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/auralab/go-aural/pkg/llm"
	"github.com/auralab/go-aural/pkg/protocol"
	"github.com/auralab/go-aural/pkg/segment"
	"github.com/auralab/go-aural/pkg/synth"
	"github.com/auralab/go-aural/pkg/tools"
)

// observeTimeout bounds the background memory observation after a turn.
const observeTimeout = 30 * time.Second

// runTurn drives one reply: generation stream -> sentence segmentation
// -> synthesis, all connected by bounded channels so audio for the
// first sentence goes out while later sentences are still being
// generated.
func (s *Session) runTurn(ctx context.Context, userText string) {
	req := s.buildRequest(userText)

	// The pipeline goroutines run on a derived context so that an
	// aborted speech loop can stop them and wait for them to unwind
	// before their results are read. The parent context still marks
	// barge-in and teardown.
	gctx, stop := context.WithCancel(ctx)
	defer stop()

	stream, err := s.config.LLM.Stream(gctx, req)
	if err != nil {
		s.logger.Error("generation failed to start", "error", err)
		s.sendError("generation_failed", "the assistant could not respond", false)
		s.sendEndOfTurn(0, false)
		return
	}
	defer stream.Close()

	fragments := make(chan string, 16)
	sentences := make(chan synth.Sentence, 4)

	// Generation reader. genErr is read by the main goroutine only
	// after readerDone closes, which orders the accesses even when the
	// speech loop bails out early.
	var genErr error
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(fragments)
		for {
			chunk, err := stream.Recv()
			if err != nil {
				if gctx.Err() == nil && !errors.Is(err, io.EOF) {
					genErr = err
				}
				return
			}
			if chunk.ToolCall != nil {
				if notice := s.dispatchTool(*chunk.ToolCall); notice != "" {
					select {
					case fragments <- notice:
					case <-gctx.Done():
						return
					}
				}
			}
			if chunk.Delta != "" {
				select {
				case fragments <- chunk.Delta:
				case <-gctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	// Sentence segmentation. Each completed sentence is announced as
	// text before its audio frames follow.
	var spokenText []string
	segDone := make(chan struct{})
	go func() {
		defer close(segDone)
		defer close(sentences)
		seg := segment.New(segment.FromChannel(fragments))
		var idx uint32
		for {
			sentence, err := seg.Next()
			if err != nil {
				return
			}
			s.send(mustMessage(protocol.NewAssistantTextMessage(sentence, int(idx))))
			spokenText = append(spokenText, sentence)
			select {
			case sentences <- synth.Sentence{Index: idx, Text: sentence}:
			case <-gctx.Done():
				return
			}
			idx++
		}
	}()

	s.mu.Lock()
	s.state = StateSpeaking
	s.mu.Unlock()

	spoken, speakErr := s.speaker.Speak(gctx, sentences, s.sender.SendAudio)
	cancelled := ctx.Err() != nil

	// Stop the upstream goroutines and wait for them before touching
	// genErr or spokenText.
	stop()
	<-readerDone
	<-segDone

	if speakErr != nil && !cancelled {
		s.logger.Warn("speech pipeline ended early", "error", speakErr)
	}
	if genErr != nil && !cancelled {
		s.logger.Error("generation failed mid-stream", "error", genErr)
		s.sendError("generation_failed", "the assistant was cut off", false)
	}

	s.sendEndOfTurn(spoken, cancelled)
	s.logger.Info("turn complete",
		"sentences", spoken,
		"cancelled", cancelled)

	if cancelled || genErr != nil {
		return
	}

	reply := strings.Join(spokenText, " ")
	s.appendHistory(userText, reply)

	if s.observer != nil {
		go func() {
			obsCtx, cancel := context.WithTimeout(context.Background(), observeTimeout)
			defer cancel()
			s.observer.Observe(obsCtx, userText, reply)
		}()
	}
}

// dispatchTool runs one requested tool call and returns the spoken
// notice fragment, or "" when nothing should be voiced.
func (s *Session) dispatchTool(call llm.ToolCall) string {
	if s.config.Tools == nil {
		s.send(mustMessage(protocol.NewToolNoticeMessage(call.Name, true)))
		return ""
	}

	result, err := s.config.Tools.Dispatch(call)
	rejected := err != nil
	s.send(mustMessage(protocol.NewToolNoticeMessage(call.Name, rejected)))

	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			s.logger.Warn("model requested unregistered tool", "tool", call.Name)
		} else {
			s.logger.Error("tool dispatch failed", "tool", call.Name, "error", err)
		}
		return ""
	}

	s.logger.Info("tool executed", "tool", call.Name, "result", result)
	return fmt.Sprintf(" [tool: %s] ", call.Name)
}

// buildRequest assembles the generation request: system preamble with
// remembered facts, capped conversation history, then the new
// utterance.
func (s *Session) buildRequest(userText string) *llm.Request {
	var factLines []string
	if s.config.Store != nil {
		facts, err := s.config.Store.Recent(s.config.MemoryFacts)
		if err != nil {
			s.logger.Warn("failed to load facts for prompt", "error", err)
		}
		for _, fact := range facts {
			factLines = append(factLines,
				fmt.Sprintf("- [%s] %s", fact.CreatedAt.Format("2006-01-02"), fact.Text))
		}
	}

	messages := []llm.Message{llm.NewSystemMessage(buildSystemPrompt(factLines))}

	s.mu.Lock()
	messages = append(messages, s.history...)
	s.mu.Unlock()

	messages = append(messages, llm.NewUserMessage(userText))

	req := &llm.Request{Messages: messages}
	if s.config.Tools != nil {
		req.Tools = s.config.Tools.Schema()
	}
	return req
}

// appendHistory records a completed exchange, trimming to the
// configured cap.
func (s *Session) appendHistory(userText, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history,
		llm.NewUserMessage(userText),
		llm.NewAssistantMessage(reply))
	if over := len(s.history) - s.config.HistoryLimit; over > 0 {
		s.history = append([]llm.Message(nil), s.history[over:]...)
	}
}

const systemPreamble = `You are a helpful voice assistant. The user talks to you through speech recognition and your replies are spoken aloud, so keep answers short and conversational. Use plain prose only: no markdown, no lists, no code. When the user asks you to open a website, file, or application, use the available tools.`

// buildSystemPrompt appends remembered facts, newest last, each with
// the date it was learned.
func buildSystemPrompt(factLines []string) string {
	if len(factLines) == 0 {
		return systemPreamble
	}
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nWhat you remember about the user:\n")
	b.WriteString(strings.Join(factLines, "\n"))
	return b.String()
}
