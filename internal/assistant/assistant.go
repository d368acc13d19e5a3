// Package assistant answers prompts through a text generator and keeps each
// user's conversation as a private message stream.
package assistant

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/core"
)

const (
	emptyReply = "Sorry, I didn't understand that."
	errorReply = "There was an error processing your request."
)

// ErrDisabled is returned when no generator is configured.
var ErrDisabled = errors.New("assistant is not configured")

// Generator turns a prompt into a reply.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service runs the assistant conversation of each user.
type Service struct {
	gen    Generator
	stream *core.MessageStream
	log    *zerolog.Logger
}

// NewService creates the assistant. gen may be nil, which disables Ask.
func NewService(gen Generator, stream *core.MessageStream, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{gen: gen, stream: stream, log: logger}
}

// Enabled reports whether prompts can be answered.
func (s *Service) Enabled() bool {
	return s.gen != nil
}

// Ask records the prompt, generates a reply and records it too.
// Generation failures become a canned reply rather than an error.
func (s *Service) Ask(ctx context.Context, who core.Identity, prompt string) (core.Message, error) {
	if !who.Valid() {
		return core.Message{}, core.ErrAuthRequired
	}
	if s.gen == nil {
		return core.Message{}, ErrDisabled
	}
	prompt = strings.TrimSpace(prompt)

	if _, err := s.stream.Append(ctx, who.UserID, core.Message{
		Kind:       core.KindUser,
		Text:       prompt,
		AuthorID:   who.UserID,
		AuthorName: who.Name(),
	}); err != nil {
		return core.Message{}, err
	}

	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.log.Error().Err(err).Str("user", who.UserID).Msg("assistant generation failed")
		reply = errorReply
	} else {
		reply = Normalize(reply)
	}

	msg := core.Message{Kind: core.KindAssistant, Text: reply, StreamID: who.UserID}
	id, err := s.stream.Append(ctx, who.UserID, msg)
	if err != nil {
		return core.Message{}, err
	}
	msg.ID = id
	return msg, nil
}

// History returns the user's conversation.
func (s *Service) History(ctx context.Context, who core.Identity) ([]core.Message, error) {
	if !who.Valid() {
		return nil, core.ErrAuthRequired
	}
	return s.stream.History(ctx, who.UserID)
}

// Subscribe streams the user's conversation.
func (s *Service) Subscribe(ctx context.Context, who core.Identity) (*core.Subscription[core.Message], error) {
	if !who.Valid() {
		return nil, core.ErrAuthRequired
	}
	return s.stream.Subscribe(ctx, who.UserID), nil
}

// Clear deletes the user's conversation.
func (s *Service) Clear(ctx context.Context, who core.Identity) error {
	if !who.Valid() {
		return core.ErrAuthRequired
	}
	return s.stream.Clear(ctx, who.UserID)
}

var (
	manyNewlines   = regexp.MustCompile(`\n{3,}`)
	blankRuns      = regexp.MustCompile(`[ \t]+`)
	trailingBlanks = regexp.MustCompile(` +\n`)
)

// Normalize tidies generated text for display.
func Normalize(text string) string {
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	text = blankRuns.ReplaceAllString(text, " ")
	text = trailingBlanks.ReplaceAllString(text, "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyReply
	}
	return text
}
