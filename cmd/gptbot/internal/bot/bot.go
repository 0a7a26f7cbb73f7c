// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot turns chat events into guard checks, commands, model turns and
// transcriptions.
package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/convo"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/guard"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/ledger"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/llm"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/media"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/settings"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/telegram"
	"go.astrophena.name/gptbot/internal/logger"
	"go.astrophena.name/gptbot/internal/syncx"
)

// Defaults for zero [Config] fields.
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultHistoryTokens = 12000
	DefaultAPITimeout    = 2 * time.Minute
	DefaultWorkers       = 8
)

// Notices sent when something goes wrong.
const (
	genericNotice  = "Something went wrong, please contact the administrator."
	tooLargeNotice = "This file is too large to transcribe. Please split it into smaller parts (up to 20 MB each) and send them one by one."
	noSpeechNotice = "No speech was recognized in this recording."
	thinkingText   = "🤔💬"
)

// Sender delivers messages to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) (messageID int, err error)
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Config configures a [Bot].
type Config struct {
	Sender   Sender
	Guard    *guard.Guard
	Settings *settings.Manager
	Ledger   *ledger.Ledger
	Pricing  ledger.Pricing
	Sessions *convo.Store
	// Counter measures token usage when the model doesn't report it.
	// Defaults to convo.Estimate.
	Counter   convo.Counter
	Completer llm.Completer
	// Transcriber and Media may be nil, in which case media messages are
	// answered with an error notice.
	Transcriber llm.Transcriber
	Media       *media.Pipeline
	// Model is the chat model. Defaults to DefaultModel.
	Model string
	// SystemPrompt, if set, is sent before the history of every turn.
	SystemPrompt string
	// VoiceToChat makes transcripts continue as chat turns.
	VoiceToChat bool
	// HistoryTokens is the token budget of the history sent to the model.
	// Negative disables trimming.
	HistoryTokens int
	// APITimeout bounds every call to an external service.
	APITimeout time.Duration
	// Workers is the number of events handled at the same time.
	Workers  int
	Scrubber *strings.Replacer
	Logger   *slog.Logger
}

// Bot handles chat events. It is safe for concurrent use.
type Bot struct {
	sender       Sender
	guard        *guard.Guard
	settings     *settings.Manager
	ledger       *ledger.Ledger
	pricing      ledger.Pricing
	sessions     *convo.Store
	counter      convo.Counter
	completer    llm.Completer
	transcriber  llm.Transcriber
	media        *media.Pipeline
	model        string
	systemPrompt string
	voiceToChat  bool
	budget       int
	apiTimeout   time.Duration
	scrubber     *strings.Replacer
	slog         *slog.Logger

	users   syncx.KeyedMutex[int64]
	workers *syncx.LimitedWaitGroup

	mu     sync.Mutex
	queues map[int64][]telegram.Event
}

// New returns a Bot.
func New(c Config) (*Bot, error) {
	switch {
	case c.Sender == nil:
		return nil, errors.New("bot: Sender is nil")
	case c.Guard == nil:
		return nil, errors.New("bot: Guard is nil")
	case c.Settings == nil:
		return nil, errors.New("bot: Settings is nil")
	case c.Ledger == nil:
		return nil, errors.New("bot: Ledger is nil")
	case c.Completer == nil:
		return nil, errors.New("bot: Completer is nil")
	}
	b := &Bot{
		sender:       c.Sender,
		guard:        c.Guard,
		settings:     c.Settings,
		ledger:       c.Ledger,
		pricing:      c.Pricing,
		sessions:     c.Sessions,
		counter:      c.Counter,
		completer:    c.Completer,
		transcriber:  c.Transcriber,
		media:        c.Media,
		model:        cmp.Or(c.Model, DefaultModel),
		systemPrompt: c.SystemPrompt,
		voiceToChat:  c.VoiceToChat,
		budget:       cmp.Or(c.HistoryTokens, DefaultHistoryTokens),
		apiTimeout:   cmp.Or(c.APITimeout, DefaultAPITimeout),
		scrubber:     c.Scrubber,
		slog:         c.Logger,
		workers:      syncx.NewLimitedWaitGroup(cmp.Or(c.Workers, DefaultWorkers)),
		queues:       make(map[int64][]telegram.Event),
	}
	if b.sessions == nil {
		b.sessions = convo.NewStore(b.counter)
	}
	if b.counter == nil {
		b.counter = convo.CounterFunc(convo.Estimate)
	}
	if b.pricing.Models == nil {
		b.pricing = ledger.DefaultPricing()
	}
	if b.scrubber == nil {
		b.scrubber = strings.NewReplacer()
	}
	if b.slog == nil {
		b.slog = slog.Default()
	}
	return b, nil
}

// Sessions returns the conversation store.
func (b *Bot) Sessions() *convo.Store { return b.sessions }

// Dispatch queues ev for handling in the background. Events of one user are
// handled in the order they were dispatched; events of different users run
// concurrently. Dispatch blocks while all workers are busy.
func (b *Bot) Dispatch(ctx context.Context, ev telegram.Event) {
	b.mu.Lock()
	q, busy := b.queues[ev.UserID]
	b.queues[ev.UserID] = append(q, ev)
	b.mu.Unlock()
	if busy {
		return
	}
	b.workers.Go(func() { b.drain(ctx, ev.UserID) })
}

func (b *Bot) drain(ctx context.Context, userID int64) {
	for {
		b.mu.Lock()
		q := b.queues[userID]
		if len(q) == 0 {
			delete(b.queues, userID)
			b.mu.Unlock()
			return
		}
		ev := q[0]
		b.queues[userID] = q[1:]
		b.mu.Unlock()

		b.Handle(ctx, ev)
	}
}

// Wait blocks until every dispatched event has been handled.
func (b *Bot) Wait() { b.workers.Wait() }

// Handle handles a single event. Failures are logged and reported to the
// user; Handle never returns them.
func (b *Bot) Handle(ctx context.Context, ev telegram.Event) {
	unlock := b.users.Lock(ev.UserID)
	defer unlock()

	log := b.slog.With("user_id", ev.UserID, "chat_id", ev.ChatID, "message_id", ev.MessageID)
	ctx = logger.Put(ctx, &logger.Logger{Logger: log, Level: logger.Get(ctx).Level})

	d, err := b.guard.Check(ctx, guard.Request{
		UserID:    ev.UserID,
		FirstName: ev.FirstName,
		Text:      ev.Text,
		HasText:   ev.HasText,
	})
	if err != nil {
		log.Error("saving access lists", "err", b.scrub(err))
	}
	switch d.Verdict {
	case guard.Reject:
		log.Debug("rejected", "reason", d.Reason)
		if d.Notice != "" {
			b.send(ctx, ev.ChatID, d.Notice)
		}
		return
	case guard.Halt:
		if d.Notice != "" {
			b.send(ctx, ev.ChatID, d.Notice)
		}
		if d.DeleteTrigger {
			b.delete(ctx, ev.ChatID, ev.MessageID)
		}
		return
	}

	switch {
	case ev.IsCommand():
		err = b.command(ctx, ev)
	case ev.Edited:
		log.Debug("ignoring edited message")
		return
	case ev.Media != nil:
		err = b.transcribe(ctx, ev)
	case ev.HasText:
		err = b.chat(ctx, ev, ev.Text)
	default:
		log.Debug("ignoring message without text or media")
		return
	}
	if err != nil {
		b.report(ctx, ev, err)
	}
}

// chat runs a model turn with text as the user message.
func (b *Bot) chat(ctx context.Context, ev telegram.Event, text string) error {
	ind := b.think(ctx, ev.ChatID)
	defer ind.done(ctx)

	n := b.sessions.Len(ev.UserID)
	b.sessions.Append(ev.UserID, convo.Message{Role: convo.RoleUser, Content: text})
	history := b.sessions.Window(ev.UserID, b.budget)
	if b.systemPrompt != "" {
		history = append([]convo.Message{{Role: convo.RoleSystem, Content: b.systemPrompt}}, history...)
	}

	cctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
	c, err := b.completer.Complete(cctx, b.model, history)
	cancel()
	if err != nil {
		b.sessions.Truncate(ev.UserID, n)
		return fmt.Errorf("completing with %s: %w", b.model, err)
	}
	b.sessions.Append(ev.UserID, convo.Message{Role: convo.RoleAssistant, Content: c.Text})

	usage := c.Usage
	if usage == (llm.Usage{}) {
		usage = b.estimate(history, c.Text)
	}
	b.post(ctx, b.pricing.TokenCost(cmp.Or(c.Model, b.model), usage.InputTokens, usage.OutputTokens))

	ind.done(ctx)
	b.send(ctx, ev.ChatID, c.Text)
	return nil
}

func (b *Bot) estimate(history []convo.Message, reply string) llm.Usage {
	var u llm.Usage
	for _, m := range history {
		u.InputTokens += b.counter.Count(m.Content)
	}
	u.OutputTokens = b.counter.Count(reply)
	return u
}

var errNoTranscription = errors.New("transcription is not configured")

// transcribe runs the media pipeline and replies with the transcript.
func (b *Bot) transcribe(ctx context.Context, ev telegram.Event) error {
	if b.transcriber == nil || b.media == nil {
		return errNoTranscription
	}
	ind := b.think(ctx, ev.ChatID)
	defer ind.done(ctx)

	job, err := b.media.NewJob()
	if err != nil {
		return fmt.Errorf("creating media workspace: %w", err)
	}
	defer job.Cleanup()

	snap := b.settings.Snapshot()

	dctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
	defer cancel()
	in, err := job.Download(dctx, media.Ref{FileID: ev.Media.FileID, FileSize: ev.Media.FileSize})
	if err != nil {
		return err
	}
	out, err := job.Transcode(dctx, in, snap.Speed)
	if err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
	defer cancel()
	tr, err := b.transcriber.Transcribe(tctx, out, snap.Language)
	if err != nil {
		return fmt.Errorf("transcribing: %w", err)
	}

	seconds := tr.Duration
	if seconds <= 0 && ev.Media.Duration > 0 && snap.Speed > 0 {
		seconds = float64(ev.Media.Duration) / snap.Speed
	}
	b.post(ctx, b.pricing.DurationCost(seconds))
	logger.Get(ctx).Info("transcribed media", "kind", ev.Media.Kind, "seconds", seconds, "language", tr.Language)

	text := strings.TrimSpace(tr.Text)
	ind.done(ctx)
	if text == "" {
		b.send(ctx, ev.ChatID, noSpeechNotice)
		return nil
	}
	b.send(ctx, ev.ChatID, text)

	if b.voiceToChat {
		return b.chat(ctx, ev, text)
	}
	return nil
}

// post adds cost to the ledger. A failure is logged: the reply has already
// been paid for.
func (b *Bot) post(ctx context.Context, cost float64) {
	pctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
	defer cancel()
	total, err := b.ledger.Post(pctx, cost)
	if err != nil {
		logger.Get(ctx).Error("posting usage cost", "cost", cost, "err", b.scrub(err))
		return
	}
	logger.Get(ctx).Debug("posted usage cost", "cost", cost, "month_total", total)
}

// report tells the user about err.
func (b *Bot) report(ctx context.Context, ev telegram.Event, err error) {
	log := logger.Get(ctx)
	if ctx.Err() != nil {
		log.Warn("handling interrupted", "err", b.scrub(err))
		return
	}

	notice := genericNotice
	var ue *llm.UpstreamError
	switch {
	case errors.As(err, &ue) && ue.UserVisible():
		notice = ue.Message
	case errors.Is(err, media.ErrTooLarge), errors.Is(err, llm.ErrFileTooLarge):
		notice = tooLargeNotice
	}
	log.Error("handling message failed", "err", b.scrub(err))
	b.send(ctx, ev.ChatID, notice)
}

func (b *Bot) scrub(err error) string { return b.scrubber.Replace(err.Error()) }

func (b *Bot) send(ctx context.Context, chatID int64, text string) int {
	sctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
	defer cancel()
	id, err := b.sender.Send(sctx, chatID, text)
	if err != nil {
		logger.Get(ctx).Warn("sending message", "err", b.scrub(err))
	}
	return id
}

func (b *Bot) delete(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
	defer cancel()
	if err := b.sender.Delete(dctx, chatID, messageID); err != nil {
		logger.Get(ctx).Warn("deleting message", "message", messageID, "err", b.scrub(err))
	}
}

// indicator is the "thinking" message shown while a reply is prepared.
type indicator struct {
	b      *Bot
	chatID int64
	id     int
	once   sync.Once
}

func (b *Bot) think(ctx context.Context, chatID int64) *indicator {
	return &indicator{b: b, chatID: chatID, id: b.send(ctx, chatID, thinkingText)}
}

func (i *indicator) done(ctx context.Context) {
	i.once.Do(func() { i.b.delete(context.WithoutCancel(ctx), i.chatID, i.id) })
}
