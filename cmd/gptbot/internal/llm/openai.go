// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package llm

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"os"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/convo"
	"go.astrophena.name/gptbot/internal/version"

	"github.com/sashabaranov/go-openai"
)

// DefaultTranscriptionModel is used when [OpenAIConfig] has none.
const DefaultTranscriptionModel = "whisper-1"

// OpenAIConfig configures an [OpenAI] client.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points to an OpenAI-compatible API. Empty means OpenAI.
	BaseURL string
	// TranscriptionModel defaults to DefaultTranscriptionModel.
	TranscriptionModel string
	// HTTPClient is copied and its transport wrapped to set the gptbot
	// User-Agent. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OpenAI is a client of the OpenAI API.
type OpenAI struct {
	client             *openai.Client
	transcriptionModel string
}

// NewOpenAI returns an OpenAI client.
func NewOpenAI(c OpenAIConfig) *OpenAI {
	cfg := openai.DefaultConfig(c.APIKey)
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	hc := new(http.Client)
	if c.HTTPClient != nil {
		*hc = *c.HTTPClient
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = userAgentTransport{base}
	cfg.HTTPClient = hc
	return &OpenAI{
		client:             openai.NewClientWithConfig(cfg),
		transcriptionModel: cmp.Or(c.TranscriptionModel, DefaultTranscriptionModel),
	}
}

type userAgentTransport struct{ base http.RoundTripper }

func (t userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", version.UserAgent())
	return t.base.RoundTrip(r)
}

// Complete implements [Completer].
func (o *OpenAI) Complete(ctx context.Context, model string, history []convo.Message) (Completion, error) {
	msgs := make([]openai.ChatCompletionMessage, len(history))
	for i, m := range history {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	})
	if err != nil {
		return Completion{}, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errEmptyReply
	}
	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: cmp.Or(resp.Model, model),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Transcribe implements [Transcriber]. The duration comes from the verbose
// response of the API.
func (o *OpenAI) Transcribe(ctx context.Context, path, language string) (Transcription, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Transcription{}, err
	}
	if fi.Size() > MaxTranscriptionBytes {
		return Transcription{}, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, fi.Size())
	}

	req := openai.AudioRequest{
		Model:    o.transcriptionModel,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if language != "" && language != "auto" {
		req.Language = language
	}
	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return Transcription{}, Classify(err)
	}
	return Transcription{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}
