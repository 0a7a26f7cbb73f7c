// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package llm talks to chat completion and speech transcription APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/convo"
)

// MaxTranscriptionBytes is the largest file the transcription API accepts.
const MaxTranscriptionBytes = 25 << 20

// ErrFileTooLarge is returned by [OpenAI.Transcribe] for files over
// [MaxTranscriptionBytes].
var ErrFileTooLarge = errors.New("file is too large to transcribe")

// Usage is the token usage of a completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is a model reply.
type Completion struct {
	Text string
	// Model is the model that produced the reply, as reported by the API.
	Model string
	Usage Usage
}

// Completer produces the next assistant message of a conversation.
type Completer interface {
	Complete(ctx context.Context, model string, history []convo.Message) (Completion, error)
}

// Transcription is the result of transcribing a file.
type Transcription struct {
	Text     string
	Language string
	// Duration is the length of the audio in seconds.
	Duration float64
}

// Transcriber turns speech into text. The language is a code or "auto".
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (Transcription, error)
}

// Router sends Gemini models to Gemini and everything else to OpenAI.
type Router struct {
	OpenAI Completer
	Gemini Completer
}

// IsGemini reports whether model is served by Gemini.
func IsGemini(model string) bool { return strings.HasPrefix(model, "gemini-") }

// Complete implements [Completer].
func (r *Router) Complete(ctx context.Context, model string, history []convo.Message) (Completion, error) {
	c := r.OpenAI
	provider := "OpenAI"
	if IsGemini(model) {
		c, provider = r.Gemini, "Gemini"
	}
	if c == nil {
		return Completion{}, fmt.Errorf("model %q needs %s, which is not configured", model, provider)
	}
	return c.Complete(ctx, model, history)
}

var errEmptyReply = errors.New("the model returned no reply")
