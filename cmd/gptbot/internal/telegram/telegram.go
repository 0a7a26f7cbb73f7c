// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram is the chat transport over the Telegram Bot API.
package telegram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"go.astrophena.name/gptbot/internal/version"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	sendRetryLimit  = 5 // N attempts to retry message sending
	maxMessageRunes = 4096
	pollLimit       = 100
)

// Config configures a [Client].
type Config struct {
	Token string
	// APIEndpoint and FileEndpoint default to the public Bot API. Both are
	// format strings taking the token and the method or file path.
	APIEndpoint  string
	FileEndpoint string
	// HTTPClient is used for all requests. If it has no Timeout, a copy
	// with one is used.
	HTTPClient *http.Client
	// PollTimeout is the long polling timeout. Defaults to 30 seconds.
	PollTimeout time.Duration
	// SendRate limits outgoing messages per second. Defaults to 20.
	SendRate rate.Limit
	Scrubber *strings.Replacer
	Logger   *slog.Logger
}

// Client talks to the Telegram Bot API.
type Client struct {
	api          *tgbotapi.BotAPI
	token        string
	fileEndpoint string
	httpc        *http.Client
	pollTimeout  time.Duration
	limiter      *rate.Limiter
	scrubber     *strings.Replacer
	slog         *slog.Logger
	lastPoll     atomic.Int64

	// mocked in tests
	request func(context.Context, tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	sleep   func(context.Context, time.Duration) bool
}

// New returns a Client. It checks the token with getMe. Requests made by the
// client are cancelled when ctx is done.
func New(ctx context.Context, c Config) (*Client, error) {
	cl := &Client{
		token:        c.Token,
		fileEndpoint: cmp.Or(c.FileEndpoint, tgbotapi.FileEndpoint),
		httpc:        c.HTTPClient,
		pollTimeout:  cmp.Or(c.PollTimeout, 30*time.Second),
		limiter:      rate.NewLimiter(cmp.Or(c.SendRate, 20), 5),
		scrubber:     c.Scrubber,
		slog:         c.Logger,
	}
	// Requests outlive the context of the call that made them, so every
	// request needs a deadline of its own.
	if cl.httpc == nil {
		cl.httpc = new(http.Client)
	}
	if cl.httpc.Timeout == 0 {
		hc := *cl.httpc
		hc.Timeout = cl.pollTimeout + time.Minute
		cl.httpc = &hc
	}
	if cl.scrubber == nil {
		cl.scrubber = strings.NewReplacer(c.Token, "[EXPUNGED]")
	}
	if cl.slog == nil {
		cl.slog = slog.Default()
	}
	cl.request = cl.makeRequest
	cl.sleep = sleep

	api, err := tgbotapi.NewBotAPIWithClient(c.Token, cmp.Or(c.APIEndpoint, tgbotapi.APIEndpoint), &ctxClient{ctx: ctx, c: cl.httpc})
	if err != nil {
		return nil, cl.scrub(err)
	}
	cl.api = api
	return cl, nil
}

// Username returns the username of the bot.
func (c *Client) Username() string { return c.api.Self.UserName }

// LastPoll returns the time of the last successful getUpdates call.
func (c *Client) LastPoll() time.Time {
	if ns := c.lastPoll.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// ctxClient attaches a context to every request of the Bot API library,
// which doesn't take one.
type ctxClient struct {
	ctx context.Context
	c   *http.Client
}

func (c *ctxClient) Do(req *http.Request) (*http.Response, error) {
	req = req.WithContext(c.ctx)
	req.Header.Set("User-Agent", version.UserAgent())
	return c.c.Do(req)
}

type transportError struct {
	msg string
	err error
}

func (e *transportError) Error() string { return e.msg }
func (e *transportError) Unwrap() error { return e.err }

// scrub removes the token from errors that may include request URLs.
func (c *Client) scrub(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return err
	}
	return &transportError{msg: c.scrubber.Replace(err.Error()), err: err}
}

func (c *Client) makeRequest(ctx context.Context, ch tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	type result struct {
		resp *tgbotapi.APIResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.api.Request(ch)
		done <- result{resp, err}
	}()
	select {
	case r := <-done:
		return r.resp, c.scrub(r.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send sends text to the chat, splitting it into several messages if it is
// too long. It returns the ID of the last message sent.
func (c *Client) Send(ctx context.Context, chatID int64, text string) (int, error) {
	var last int
	for _, chunk := range splitMessage(text) {
		var (
			resp *tgbotapi.APIResponse
			err  error
		)
		for range sendRetryLimit {
			if err = c.limiter.Wait(ctx); err != nil {
				return last, err
			}
			resp, err = c.request(ctx, tgbotapi.NewMessage(chatID, chunk))
			if err == nil {
				break
			}
			retryable, wait := isRateLimited(err)
			if !retryable {
				break
			}
			c.slog.Warn("sending rate limited, waiting", slog.Int64("chat_id", chatID), slog.Duration("wait", wait))
			if !c.sleep(ctx, wait) {
				return last, ctx.Err()
			}
		}
		if err != nil {
			return last, err
		}
		var msg tgbotapi.Message
		if resp != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &msg); err != nil {
				return last, fmt.Errorf("parsing sendMessage result: %w", err)
			}
		}
		last = msg.MessageID
	}
	return last, nil
}

// Delete deletes a message.
func (c *Client) Delete(ctx context.Context, chatID int64, messageID int) error {
	_, err := c.request(ctx, tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// Command is an entry of the command menu.
type Command struct {
	Name        string
	Description string
}

// SetCommands replaces the command menu of the bot.
func (c *Client) SetCommands(ctx context.Context, cmds []Command) error {
	bc := make([]tgbotapi.BotCommand, len(cmds))
	for i, cmd := range cmds {
		bc[i] = tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description}
	}
	_, err := c.request(ctx, tgbotapi.NewSetMyCommands(bc...))
	return err
}

// Download saves the file identified by fileID to dst.
func (c *Client) Download(ctx context.Context, fileID, dst string) error {
	resp, err := c.request(ctx, tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return err
	}
	var file tgbotapi.File
	if err := json.Unmarshal(resp.Result, &file); err != nil {
		return fmt.Errorf("parsing getFile result: %w", err)
	}
	if file.FilePath == "" {
		return errors.New("telegram returned no file path")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(c.fileEndpoint, c.token, file.FilePath), nil)
	if err != nil {
		return c.scrub(err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	res, err := c.httpc.Do(req)
	if err != nil {
		return c.scrub(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading file: %s", res.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		return c.scrub(err)
	}
	return f.Close()
}

// Poll receives updates with long polling and calls handle for every event
// until ctx is done. Errors are logged and retried with backoff.
func (c *Client) Poll(ctx context.Context, handle func(context.Context, Event)) error {
	var (
		offset  int
		backoff time.Duration
	)
	for ctx.Err() == nil {
		resp, err := c.request(ctx, tgbotapi.UpdateConfig{
			Offset:         offset,
			Limit:          pollLimit,
			Timeout:        int(c.pollTimeout / time.Second),
			AllowedUpdates: []string{"message", "edited_message"},
		})
		var updates []tgbotapi.Update
		if err == nil {
			err = json.Unmarshal(resp.Result, &updates)
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			backoff = min(max(2*backoff, time.Second), 30*time.Second)
			if retryable, wait := isRateLimited(err); retryable {
				backoff = max(backoff, wait)
			}
			c.slog.Warn("getting updates failed", "err", err, "retry_in", backoff)
			if !c.sleep(ctx, backoff) {
				break
			}
			continue
		}
		backoff = 0
		c.lastPoll.Store(time.Now().UnixNano())

		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			ev, ok := EventFromUpdate(u)
			if !ok {
				c.slog.Debug("skipping update", "update_id", u.UpdateID)
				continue
			}
			handle(ctx, ev)
		}
	}
	return nil
}

func isRateLimited(err error) (bool, time.Duration) {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) || tgErr.RetryAfter <= 0 {
		return false, 0
	}
	return true, time.Duration(tgErr.RetryAfter) * time.Second
}

func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxMessageRunes {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)
		for i, r := range text {
			if runeCount == maxMessageRunes {
				byteCap = i
				break
			}
			runeCount++
			switch {
			case r == '\n':
				lastNewline = i
			case unicode.IsSpace(r):
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		if chunk := strings.TrimSpace(text[:splitAt]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}
	return chunks
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
