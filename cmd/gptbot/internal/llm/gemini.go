// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/convo"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini is a client of the Gemini API.
type Gemini struct {
	client *genai.Client
	// send is mocked in tests.
	send func(ctx context.Context, model string, system *genai.Content, history []*genai.Content, last string) (*genai.GenerateContentResponse, error)
}

// NewGemini returns a Gemini client authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Gemini, error) {
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	g := &Gemini{client: client}
	g.send = g.sendMessage
	return g, nil
}

// Close closes the client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) sendMessage(ctx context.Context, model string, system *genai.Content, history []*genai.Content, last string) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(model)
	m.SystemInstruction = system
	cs := m.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, genai.Text(last))
}

// Complete implements [Completer].
func (g *Gemini) Complete(ctx context.Context, model string, history []convo.Message) (Completion, error) {
	system, contents, last, err := toGemini(history)
	if err != nil {
		return Completion{}, err
	}
	resp, err := g.send(ctx, model, system, contents, last)
	if err != nil {
		return Completion{}, Classify(err)
	}

	text := replyText(resp)
	if text == "" {
		return Completion{}, errEmptyReply
	}
	c := Completion{Text: text, Model: model}
	if u := resp.UsageMetadata; u != nil {
		c.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return c, nil
}

// toGemini converts a conversation into a system instruction, the chat
// history and the message to send. Gemini calls the assistant "model".
func toGemini(history []convo.Message) (system *genai.Content, contents []*genai.Content, last string, err error) {
	if len(history) == 0 || history[len(history)-1].Role != convo.RoleUser {
		return nil, nil, "", errors.New("conversation must end with a user message")
	}
	var sys []string
	for _, m := range history[:len(history)-1] {
		switch m.Role {
		case convo.RoleSystem:
			sys = append(sys, m.Content)
		case convo.RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case convo.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			return nil, nil, "", fmt.Errorf("unknown role %q", m.Role)
		}
	}
	if len(sys) > 0 {
		system = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(sys, "\n\n"))}}
	}
	return system, contents, history[len(history)-1].Content, nil
}

func replyText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
