// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Gptbot is a personal Telegram bot that relays messages to a language model
and transcribes voice messages, audio and video.

# Usage

	$ gptbot [flags...]

Only whitelisted users can talk to the bot. Others are asked for the password,
which they send as

	/password <secret>

After five wrong attempts the next message blocks the user for good.

# Commands

  - /reset clears the conversation history.
  - /language <code or name> sets the transcription language, or "auto".
  - /speed <0.8-1.8> sets the speed audio is played at before transcription.
  - /info shows the usage cost of the current month and the settings.
  - /add_cost <dollars> adds a cost to the current month by hand.

# Environment Variables

  - TELEGRAM_BOT_KEY: Telegram Bot API token. Required.
  - TELEGRAM_BOT_PW: password that whitelists a user. If empty, users can
    only be whitelisted with WHITELIST_ID or in the settings store.
  - TELEGRAM_API_URL: base URL of a local Bot API server.
  - OPENAI_API_KEY: OpenAI API key, used for chat and transcription.
  - OPENAI_BASE_URL: base URL of an OpenAI-compatible API.
  - GEMINI_API_KEY: Gemini API key, used for models starting with "gemini-".
  - LLM_MODEL: chat model. Defaults to gpt-4o-mini.
  - SYSTEM_PROMPT: system message sent before the history.
  - TRANSCRIPTION_MODEL: transcription model. Defaults to whisper-1.
  - VOICE_TO_CHAT: if true, transcripts are also answered by the chat model.
  - MAX_HISTORY_TOKENS: token budget of the history sent to the model.
    Defaults to 12000; a negative value disables trimming.
  - API_TIMEOUT: timeout of every external call. Defaults to 2m.
  - WORKERS: number of messages handled at the same time. Defaults to 8.
  - STATE_DIRECTORY: where state is kept. Defaults to $XDG_STATE_HOME/gptbot.
  - SETTINGS_DSN: settings store. A file path (the default is settings.json
    in the state directory), "sqlite:<path>", "postgres://...",
    "redis://..." or "mem:".
  - SETTINGS_NAME: name of the settings record. Defaults to gptbot.settings.
  - WHITELIST_ID: Telegram user ID to whitelist on start.
  - PRICING_FILE: YAML file overriding the prices used for /info.
  - ADMIN_ADDR: address of the admin HTTP server.
  - FFMPEG: path to ffmpeg.

Variables can also be put into a .env file in the working directory, or into
the file passed with -env-file. The process environment takes precedence.

# Pricing

Usage cost is computed from token counts and audio duration. The defaults can
be overridden with a YAML file:

	models:
	  gpt-4o-mini:
	    input_per_mtok: 0.15
	    output_per_mtok: 0.60
	transcription_per_minute: 0.006
	rounding: half_even

Durations are rounded to whole seconds, halves to even by default.

# Admin Server

If ADMIN_ADDR is set, gptbot serves:

  - /health: status of the settings store and the poller.
  - /debug/logs: recent log lines, followed by new ones as they come.
  - /api/usage: usage cost of every month.
  - /api/settings: the settings record, without secrets.
  - /api/version: build information.

# Running Under Systemd

Gptbot reports readiness and sends watchdog updates when NOTIFY_SOCKET and
WATCHDOG_USEC are set, so it can run as a Type=notify service. STATE_DIRECTORY
is set by systemd when the unit has StateDirectory=gptbot.

With -debug, every request to the Telegram and OpenAI APIs is logged,
with secrets removed.
*/
package main
