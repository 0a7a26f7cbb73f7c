// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package convo

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// perMessageTokens is the overhead of the role and delimiters of one message
// in the chat format.
const perMessageTokens = 4

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// CounterFunc is a function type that implements [Counter].
type CounterFunc func(string) int

// Count calls f(text).
func (f CounterFunc) Count(text string) int { return f(text) }

// Estimate approximates the number of tokens in text as one per four runes.
func Estimate(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Tiktoken counts tokens with the BPE encoding of a model.
type Tiktoken struct {
	model  string
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktoken returns a Counter for model. The encoding is loaded on first
// use; if neither the model's encoding nor cl100k_base can be loaded, the
// counter falls back to [Estimate].
func NewTiktoken(model string, logger *slog.Logger) *Tiktoken {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiktoken{model: model, logger: logger}
}

func (t *Tiktoken) load() {
	enc, err := tiktoken.EncodingForModel(t.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		t.logger.Warn("token encoding unavailable, estimating", "model", t.model, "err", err)
		return
	}
	t.enc = enc
}

// Count implements [Counter].
func (t *Tiktoken) Count(text string) int {
	t.once.Do(t.load)
	if t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.EncodeOrdinary(text))
}
