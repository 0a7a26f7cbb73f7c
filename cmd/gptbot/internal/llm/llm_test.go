// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/convo"
	"go.astrophena.name/gptbot/internal/testutil"
	"go.astrophena.name/gptbot/internal/version"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

func testOpenAI(t *testing.T, h http.Handler) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
	})
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	var got openai.ChatCompletionRequest
	o := testOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &got)
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))

	c, err := o.Complete(t.Context(), "gpt-4o-mini", []convo.Message{
		{Role: convo.RoleSystem, Content: "Be brief."},
		{Role: convo.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, c, Completion{
		Text:  "Hi there!",
		Model: "gpt-4o-mini-2024-07-18",
		Usage: Usage{InputTokens: 12, OutputTokens: 3},
	})
	testutil.AssertEqual(t, got.Model, "gpt-4o-mini")
	testutil.AssertEqual(t, len(got.Messages), 2)
	testutil.AssertEqual(t, got.Messages[0].Role, "system")
	testutil.AssertEqual(t, got.Messages[1].Content, "hello")
}

func TestOpenAIUserAgent(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		agents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		fmt.Fprint(w, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}}]}`)
	}))
	t.Cleanup(srv.Close)

	var wrapped atomic.Int32
	custom := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		wrapped.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})}
	for _, hc := range []*http.Client{nil, custom} {
		o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", HTTPClient: hc})
		if _, err := o.Complete(t.Context(), "gpt-4o-mini", []convo.Message{{Role: convo.RoleUser, Content: "hi"}}); err != nil {
			t.Fatal(err)
		}
	}
	testutil.AssertEqual(t, agents, []string{version.UserAgent(), version.UserAgent()})
	testutil.AssertEqual(t, wrapped.Load(), int32(1))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestOpenAICompleteErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		status   int
		body     string
		wantKind Kind
		wantMsg  string
	}{
		"quota": {
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "You exceeded your current quota.", "type": "insufficient_quota", "code": "insufficient_quota"}}`,
			wantKind: QuotaExceeded,
			wantMsg:  "You exceeded your current quota.",
		},
		"context too long": {
			status:   http.StatusBadRequest,
			body:     `{"error": {"message": "This model's maximum context length is 128000 tokens.", "type": "invalid_request_error", "code": "context_length_exceeded"}}`,
			wantKind: ContextTooLong,
			wantMsg:  "This model's maximum context length is 128000 tokens.",
		},
		"rate limited": {
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "Rate limit reached for requests.", "type": "requests", "code": "rate_limit_exceeded"}}`,
			wantKind: RateLimited,
			wantMsg:  "Rate limit reached for requests.",
		},
		"server error": {
			status:   http.StatusInternalServerError,
			body:     `{"error": {"message": "The server had an error.", "type": "server_error"}}`,
			wantKind: Other,
			wantMsg:  "The server had an error.",
		},
		"not json": {
			status:   http.StatusBadGateway,
			body:     `bad gateway`,
			wantKind: Other,
			wantMsg:  "bad gateway",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			o := testOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			_, err := o.Complete(t.Context(), "gpt-4o-mini", []convo.Message{{Role: convo.RoleUser, Content: "hi"}})
			var ue *UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("want *UpstreamError, got %T: %v", err, err)
			}
			testutil.AssertEqual(t, ue.Kind, tc.wantKind)
			testutil.AssertEqual(t, ue.Message, tc.wantMsg)
		})
	}
}

func TestOpenAITranscribe(t *testing.T) {
	t.Parallel()

	type form struct{ model, language, format, file string }
	var got form
	o := testOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = form{
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			format:   r.FormValue("response_format"),
		}
		if f, _, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			got.file = string(b)
		}
		fmt.Fprint(w, `{"task": "transcribe", "language": "german", "duration": 2.5, "text": "Hallo Welt"}`)
	}))

	path := filepath.Join(t.TempDir(), "voice.mp3")
	if err := os.WriteFile(path, []byte("ID3 fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := o.Transcribe(t.Context(), path, "de")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, tr, Transcription{Text: "Hallo Welt", Language: "german", Duration: 2.5})
	testutil.AssertEqual(t, got, form{model: "whisper-1", language: "de", format: "verbose_json", file: "ID3 fake audio"})

	if _, err := o.Transcribe(t.Context(), path, "auto"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got.language, "")
}

func TestOpenAITranscribeTooLarge(t *testing.T) {
	t.Parallel()

	o := testOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("the API must not be called")
	}))

	path := filepath.Join(t.TempDir(), "huge.mp3")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(MaxTranscriptionBytes + 1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = o.Transcribe(t.Context(), path, "auto")
	testutil.AssertErrorIs(t, err, ErrFileTooLarge)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, Classify(nil) == nil, true)

	plain := errors.New("boom")
	testutil.AssertErrorIs(t, Classify(plain), plain)
	var ue *UpstreamError
	testutil.AssertEqual(t, errors.As(Classify(plain), &ue), false)

	gquota := Classify(fmt.Errorf("generating: %w", &googleapi.Error{Code: 429, Message: "Resource has been exhausted (e.g. check quota)."}))
	if !errors.As(gquota, &ue) {
		t.Fatalf("want *UpstreamError, got %v", gquota)
	}
	testutil.AssertEqual(t, ue.Kind, QuotaExceeded)
	testutil.AssertEqual(t, ue.UserVisible(), true)

	glong := Classify(&googleapi.Error{Code: 400, Message: "The input token count exceeds the maximum number of tokens allowed."})
	errors.As(glong, &ue)
	testutil.AssertEqual(t, ue.Kind, ContextTooLong)

	// Already classified errors pass through.
	orig := &UpstreamError{Kind: RateLimited, Message: "slow down"}
	testutil.AssertEqual(t, Classify(orig) == error(orig), true)
	testutil.AssertEqual(t, orig.UserVisible(), false)
}

type fakeCompleter struct {
	name  string
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, history []convo.Message) (Completion, error) {
	f.calls++
	return Completion{Text: f.name, Model: model}, nil
}

func TestRouter(t *testing.T) {
	t.Parallel()

	oa, gm := &fakeCompleter{name: "openai"}, &fakeCompleter{name: "gemini"}
	r := &Router{OpenAI: oa, Gemini: gm}
	history := []convo.Message{{Role: convo.RoleUser, Content: "hi"}}

	c, err := r.Complete(t.Context(), "gemini-1.5-flash", history)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, c.Text, "gemini")
	c, err = r.Complete(t.Context(), "gpt-4o", history)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, c.Text, "openai")

	r = &Router{OpenAI: oa}
	if _, err := r.Complete(t.Context(), "gemini-2.0-flash", history); err == nil {
		t.Fatal("want error for unconfigured Gemini")
	}
}

func TestToGemini(t *testing.T) {
	t.Parallel()

	system, contents, last, err := toGemini([]convo.Message{
		{Role: convo.RoleSystem, Content: "Be brief."},
		{Role: convo.RoleUser, Content: "hello"},
		{Role: convo.RoleAssistant, Content: "Hi!"},
		{Role: convo.RoleUser, Content: "how are you?"},
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, system, &genai.Content{Parts: []genai.Part{genai.Text("Be brief.")}})
	testutil.AssertEqual(t, contents, []*genai.Content{
		{Role: "user", Parts: []genai.Part{genai.Text("hello")}},
		{Role: "model", Parts: []genai.Part{genai.Text("Hi!")}},
	})
	testutil.AssertEqual(t, last, "how are you?")

	if _, _, _, err := toGemini([]convo.Message{{Role: convo.RoleAssistant, Content: "x"}}); err == nil {
		t.Fatal("want error for a conversation not ending with the user")
	}
	if _, _, _, err := toGemini(nil); err == nil {
		t.Fatal("want error for an empty conversation")
	}
}

func TestGeminiComplete(t *testing.T) {
	t.Parallel()

	var gotModel, gotLast string
	g := &Gemini{send: func(ctx context.Context, model string, system *genai.Content, history []*genai.Content, last string) (*genai.GenerateContentResponse, error) {
		gotModel, gotLast = model, last
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Role: "model", Parts: []genai.Part{genai.Text("Hallo"), genai.Text("!")}},
			}},
			UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 2},
		}, nil
	}}

	c, err := g.Complete(t.Context(), "gemini-1.5-flash", []convo.Message{{Role: convo.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, c, Completion{Text: "Hallo!", Model: "gemini-1.5-flash", Usage: Usage{InputTokens: 7, OutputTokens: 2}})
	testutil.AssertEqual(t, gotModel, "gemini-1.5-flash")
	testutil.AssertEqual(t, gotLast, "hi")

	g.send = func(context.Context, string, *genai.Content, []*genai.Content, string) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}
	_, err = g.Complete(t.Context(), "gemini-1.5-flash", []convo.Message{{Role: convo.RoleUser, Content: "hi"}})
	testutil.AssertErrorIs(t, err, errEmptyReply)

	testutil.AssertEqual(t, g.Close(), nil)
}
