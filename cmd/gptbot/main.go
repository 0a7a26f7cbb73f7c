// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/bot"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/convo"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/guard"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/ledger"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/llm"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/media"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/settings"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/telegram"
	"go.astrophena.name/gptbot/internal/cli"
	"go.astrophena.name/gptbot/internal/filelock"
	"go.astrophena.name/gptbot/internal/httplogger"
	"go.astrophena.name/gptbot/internal/logger"
	"go.astrophena.name/gptbot/internal/systemd"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }

func main() { cli.Main(new(engine)) }

const logLineLimit = 300

type engine struct {
	// configuration
	adminAddr          string
	apiTimeout         time.Duration
	debug              bool
	envFile            string
	ffmpeg             string
	geminiKey          string
	historyTokens      int
	model              string
	openAIBaseURL      string
	openAIKey          string
	password           string
	pricingFile        string
	settingsDSN        string
	settingsName       string
	stateDir           string
	systemPrompt       string
	tgAPIURL           string
	tgToken            string
	transcriptionModel string
	voiceToChat        bool
	whitelistID        int64
	workers            int

	// for tests
	httpc *http.Client
	ready func(addr string) // called once the admin server listens

	// initialized by Run
	bot       *bot.Bot
	ledger    *ledger.Ledger
	logStream logger.Streamer
	pricing   ledger.Pricing
	scrubber  *strings.Replacer
	settings  *settings.Manager
	slog      *slog.Logger
	tg        *telegram.Client
}

func (e *engine) Flags(fs *flag.FlagSet) {
	fs.StringVar(&e.adminAddr, "admin-addr", "", "Listen on `host:port` for the admin HTTP server. Disabled if empty.")
	fs.BoolVar(&e.debug, "debug", false, "Enable debug logging.")
	fs.StringVar(&e.envFile, "env-file", "", "Read environment variables from `file`. Defaults to .env, if it exists.")
	fs.StringVar(&e.model, "model", "", "Chat `model`.")
	fs.StringVar(&e.pricingFile, "pricing", "", "Load pricing overrides from YAML `file`.")
	fs.StringVar(&e.settingsDSN, "settings", "", "Settings store `DSN`.")
	fs.StringVar(&e.stateDir, "state-dir", "", "Keep state in `dir`.")
	fs.BoolVar(&e.voiceToChat, "voice-to-chat", false, "Send transcripts to the chat model.")
}

func (e *engine) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	getenv, err := e.loadEnv(env)
	if err != nil {
		return err
	}
	if err := e.configure(getenv); err != nil {
		return err
	}

	e.logStream = logger.NewStreamer(logLineLimit)
	l := logger.New(io.MultiWriter(env.Stderr, e.logStream))
	if e.debug {
		l.Level.Set(slog.LevelDebug)
	}
	e.slog = l.Logger
	ctx = logger.Put(ctx, l)

	var scrubPairs []string
	for _, secret := range []string{e.tgToken, e.openAIKey, e.geminiKey, e.password} {
		if secret != "" {
			scrubPairs = append(scrubPairs, secret, "[EXPUNGED]")
		}
	}
	e.scrubber = strings.NewReplacer(scrubPairs...)
	if e.debug {
		c := new(http.Client)
		if e.httpc != nil {
			*c = *e.httpc
		}
		c.Transport = httplogger.New(c.Transport, e.slog, e.scrubber)
		e.httpc = c
	}

	notifier, err := systemd.New(env.Getenv, e.slog)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(e.stateDir, 0o700); err != nil {
		return err
	}
	lock, err := filelock.Acquire(filepath.Join(e.stateDir, "gptbot.lock"), strconv.Itoa(os.Getpid()))
	if err != nil {
		return fmt.Errorf("locking state directory: %w", err)
	}
	defer lock.Release()

	store, err := settings.OpenStore(ctx, e.settingsDSN)
	if err != nil {
		return e.scrubErr(err)
	}
	defer store.Close()
	e.settings, err = settings.Open(ctx, store, e.settingsName, e.slog)
	if err != nil {
		return e.scrubErr(err)
	}
	e.slog.Info("settings loaded", "backend", settings.Backend(e.settingsDSN), "name", e.settingsName)
	if e.whitelistID != 0 {
		changed, err := e.settings.SeedWhitelist(ctx, e.whitelistID)
		if err != nil {
			return e.scrubErr(err)
		}
		if changed {
			e.slog.Info("whitelisted user from the environment", "user_id", e.whitelistID)
		}
	}

	e.pricing = ledger.DefaultPricing()
	if e.pricingFile != "" {
		if e.pricing, err = ledger.LoadPricing(e.pricingFile); err != nil {
			return err
		}
	}
	e.ledger = ledger.New(ledger.Config{Settings: e.settings, Logger: e.slog})
	if err := e.ledger.Init(ctx); err != nil {
		return e.scrubErr(err)
	}

	tgc := telegram.Config{
		Token:      e.tgToken,
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
		Logger:     e.slog,
	}
	if e.tgAPIURL != "" {
		base := strings.TrimSuffix(e.tgAPIURL, "/")
		tgc.APIEndpoint = base + "/bot%s/%s"
		tgc.FileEndpoint = base + "/file/bot%s/%s"
	}
	e.tg, err = telegram.New(ctx, tgc)
	if err != nil {
		return fmt.Errorf("connecting to Telegram: %w", err)
	}
	e.slog.Info("authorized", "username", e.tg.Username(), logger.Secret("token", e.tgToken))

	router := new(llm.Router)
	var transcriber llm.Transcriber
	if e.openAIKey != "" {
		oai := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:             e.openAIKey,
			BaseURL:            e.openAIBaseURL,
			TranscriptionModel: e.transcriptionModel,
			HTTPClient:         e.httpc,
		})
		router.OpenAI, transcriber = oai, oai
	}
	if e.geminiKey != "" {
		g, err := llm.NewGemini(ctx, e.geminiKey)
		if err != nil {
			return e.scrubErr(err)
		}
		defer g.Close()
		router.Gemini = g
	}

	pipeline := &media.Pipeline{
		FFmpeg:         e.ffmpeg,
		Downloader:     e.tg,
		MaxOutputBytes: llm.MaxTranscriptionBytes,
		Logger:         e.slog,
	}
	if transcriber == nil {
		e.slog.Warn("OPENAI_API_KEY is not set, media messages won't be transcribed")
	} else if err := pipeline.Check(ctx); err != nil {
		e.slog.Warn("ffmpeg is not available, media messages won't be transcribed", "err", err)
		transcriber = nil
	}

	e.bot, err = bot.New(bot.Config{
		Sender:        e.tg,
		Guard:         guard.New(guard.Config{Settings: e.settings, Password: e.password, Logger: e.slog}),
		Settings:      e.settings,
		Ledger:        e.ledger,
		Pricing:       e.pricing,
		Counter:       convo.NewTiktoken(e.model, e.slog),
		Completer:     router,
		Transcriber:   transcriber,
		Media:         pipeline,
		Model:         e.model,
		SystemPrompt:  e.systemPrompt,
		VoiceToChat:   e.voiceToChat,
		HistoryTokens: e.historyTokens,
		APITimeout:    e.apiTimeout,
		Workers:       e.workers,
		Scrubber:      e.scrubber,
		Logger:        e.slog,
	})
	if err != nil {
		return err
	}

	if err := e.tg.SetCommands(ctx, bot.Commands); err != nil {
		e.slog.Warn("registering commands", "err", e.scrubErr(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.WatchdogLoop(ctx)
		<-ctx.Done()
		notifier.Notify(systemd.Stopping)
		return nil
	})
	g.Go(func() error {
		e.slog.Info("polling for updates", "model", e.model)
		err := e.tg.Poll(ctx, e.bot.Dispatch)
		e.bot.Wait()
		return err
	})
	if e.adminAddr != "" {
		g.Go(func() error { return e.serveAdmin(ctx) })
	}
	notifier.Notify(systemd.Ready, systemd.Status("polling as @%s", e.tg.Username()))
	return g.Wait()
}

// loadEnv returns a getenv function that prefers the process environment and
// falls back to the env file.
func (e *engine) loadEnv(env *cli.Env) (func(string) string, error) {
	path := cmp.Or(e.envFile, env.Getenv("ENV_FILE"))
	optional := path == ""
	if optional {
		path = ".env"
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: reading env file: %v", cli.ErrInvalidArgs, err)
		}
		vars = nil
	}
	return func(key string) string {
		return cmp.Or(env.Getenv(key), vars[key])
	}, nil
}

func (e *engine) configure(getenv func(string) string) error {
	e.tgToken = cmp.Or(e.tgToken, getenv("TELEGRAM_BOT_KEY"))
	if e.tgToken == "" {
		return fmt.Errorf("%w: TELEGRAM_BOT_KEY is not set", cli.ErrInvalidArgs)
	}
	e.password = cmp.Or(e.password, getenv("TELEGRAM_BOT_PW"))
	e.tgAPIURL = cmp.Or(e.tgAPIURL, getenv("TELEGRAM_API_URL"))
	e.openAIKey = cmp.Or(e.openAIKey, getenv("OPENAI_API_KEY"))
	e.openAIBaseURL = cmp.Or(e.openAIBaseURL, getenv("OPENAI_BASE_URL"))
	e.geminiKey = cmp.Or(e.geminiKey, getenv("GEMINI_API_KEY"))
	e.model = cmp.Or(e.model, getenv("LLM_MODEL"), bot.DefaultModel)
	e.transcriptionModel = cmp.Or(e.transcriptionModel, getenv("TRANSCRIPTION_MODEL"), llm.DefaultTranscriptionModel)
	e.systemPrompt = cmp.Or(e.systemPrompt, getenv("SYSTEM_PROMPT"))
	e.adminAddr = cmp.Or(e.adminAddr, getenv("ADMIN_ADDR"))
	e.pricingFile = cmp.Or(e.pricingFile, getenv("PRICING_FILE"))
	e.settingsName = cmp.Or(e.settingsName, getenv("SETTINGS_NAME"), settings.DefaultName)
	e.ffmpeg = cmp.Or(e.ffmpeg, getenv("FFMPEG"), "ffmpeg")

	if llm.IsGemini(e.model) {
		if e.geminiKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for model %s", cli.ErrInvalidArgs, e.model)
		}
	} else if e.openAIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is required for model %s", cli.ErrInvalidArgs, e.model)
	}

	e.stateDir = cmp.Or(e.stateDir, getenv("STATE_DIRECTORY"))
	if e.stateDir == "" {
		xdgStateHome := getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		e.stateDir = filepath.Join(xdgStateHome, "gptbot")
	}
	e.settingsDSN = cmp.Or(e.settingsDSN, getenv("SETTINGS_DSN"), filepath.Join(e.stateDir, "settings.json"))

	var err error
	if s := getenv("VOICE_TO_CHAT"); s != "" && !e.voiceToChat {
		if e.voiceToChat, err = parseBool("VOICE_TO_CHAT", s); err != nil {
			return err
		}
	}
	if e.whitelistID, err = parseInt("WHITELIST_ID", getenv("WHITELIST_ID"), 0); err != nil {
		return err
	}
	historyTokens, err := parseInt("MAX_HISTORY_TOKENS", getenv("MAX_HISTORY_TOKENS"), bot.DefaultHistoryTokens)
	if err != nil {
		return err
	}
	workers, err := parseInt("WORKERS", getenv("WORKERS"), bot.DefaultWorkers)
	if err != nil {
		return err
	}
	if workers < 1 {
		return fmt.Errorf("%w: WORKERS must be positive", cli.ErrInvalidArgs)
	}
	e.historyTokens, e.workers = int(historyTokens), int(workers)
	if s := getenv("API_TIMEOUT"); s != "" {
		if e.apiTimeout, err = time.ParseDuration(s); err != nil || e.apiTimeout <= 0 {
			return fmt.Errorf("%w: API_TIMEOUT must be a positive duration like 2m, got %q", cli.ErrInvalidArgs, s)
		}
	}
	e.apiTimeout = cmp.Or(e.apiTimeout, bot.DefaultAPITimeout)
	return nil
}

func parseInt(name, s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", cli.ErrInvalidArgs, name, s)
	}
	return v, nil
}

func parseBool(name, s string) (bool, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false, got %q", cli.ErrInvalidArgs, name, s)
	}
	return v, nil
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// scrubErr removes secrets from err, which may include DSNs and URLs.
func (e *engine) scrubErr(err error) error {
	if err == nil || e.scrubber == nil {
		return err
	}
	return &scrubbedError{msg: e.scrubber.Replace(err.Error()), err: err}
}
