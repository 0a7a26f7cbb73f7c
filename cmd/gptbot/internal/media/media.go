// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package media downloads voice, audio and video messages and prepares them
// for transcription.
//
// Every message is handled in its own [Job], a directory that holds all
// temporary files of that message and is removed by [Job.Cleanup].
package media

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MaxDownloadBytes is the largest file the Telegram Bot API lets bots
// download.
const MaxDownloadBytes = 20 << 20

// ErrTooLarge is returned when a file exceeds a size limit.
var ErrTooLarge = errors.New("media file is too large")

// Downloader saves a remote file identified by fileID to dst.
type Downloader interface {
	Download(ctx context.Context, fileID, dst string) error
}

// Ref identifies a remote media file.
type Ref struct {
	FileID string
	// FileSize is the size reported by Telegram, or 0 if unknown.
	FileSize int64
}

// Pipeline turns media messages into files ready for transcription.
type Pipeline struct {
	// Dir is where job directories are created. Defaults to os.TempDir.
	Dir string
	// FFmpeg is the ffmpeg binary. Defaults to "ffmpeg" in PATH.
	FFmpeg     string
	Downloader Downloader
	// MaxDownloadBytes defaults to MaxDownloadBytes.
	MaxDownloadBytes int64
	// MaxOutputBytes limits the transcoded file. Zero means no limit.
	MaxOutputBytes int64
	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// run is mocked in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	if p.run != nil {
		return p.run(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Job is the workspace of one media message.
type Job struct {
	p   *Pipeline
	dir string
}

// NewJob creates a workspace. The caller must call Cleanup when done.
func (p *Pipeline) NewJob() (*Job, error) {
	base := cmp.Or(p.Dir, os.TempDir())
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, err
	}
	dir := filepath.Join(base, "gptbot-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, err
	}
	return &Job{p: p, dir: dir}, nil
}

// Dir returns the workspace directory.
func (j *Job) Dir() string { return j.dir }

// Cleanup removes the workspace and every file in it.
func (j *Job) Cleanup() error {
	if err := os.RemoveAll(j.dir); err != nil {
		j.p.logger().Warn("removing media workspace", "dir", j.dir, "err", err)
		return err
	}
	return nil
}

// Download saves ref into the workspace and returns the path.
func (j *Job) Download(ctx context.Context, ref Ref) (string, error) {
	limit := cmp.Or(j.p.MaxDownloadBytes, MaxDownloadBytes)
	if ref.FileSize > limit {
		return "", fmt.Errorf("%w: %d bytes, the limit is %d", ErrTooLarge, ref.FileSize, limit)
	}
	if j.p.Downloader == nil {
		return "", errors.New("media: no downloader")
	}
	dst := filepath.Join(j.dir, "input")
	if err := j.p.Downloader.Download(ctx, ref.FileID, dst); err != nil {
		return "", fmt.Errorf("downloading %s: %w", ref.FileID, err)
	}
	return dst, nil
}

// Transcode converts in into a mono 16 kHz MP3 played at speed and returns
// the path of the result.
func (j *Job) Transcode(ctx context.Context, in string, speed float64) (string, error) {
	if speed <= 0 {
		speed = 1
	}
	out := filepath.Join(j.dir, "output.mp3")
	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "error", "-y",
		"-i", in,
		"-vn",
	}
	if speed != 1 {
		args = append(args, "-filter:a", "atempo="+strconv.FormatFloat(speed, 'f', -1, 64))
	}
	args = append(args, "-ac", "1", "-ar", "16000", "-b:a", "48k", out)

	ffmpeg := cmp.Or(j.p.FFmpeg, "ffmpeg")
	if output, err := j.p.exec(ctx, ffmpeg, args...); err != nil {
		return "", fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(output))
	}

	fi, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if j.p.MaxOutputBytes > 0 && fi.Size() > j.p.MaxOutputBytes {
		return "", fmt.Errorf("%w: transcoded audio is %d bytes, the limit is %d", ErrTooLarge, fi.Size(), j.p.MaxOutputBytes)
	}
	j.p.logger().Debug("transcoded media", "speed", speed, "bytes", fi.Size())
	return out, nil
}

// Check verifies that ffmpeg can be run.
func (p *Pipeline) Check(ctx context.Context) error {
	out, err := p.exec(ctx, cmp.Or(p.FFmpeg, "ffmpeg"), "-hide_banner", "-version")
	if err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	p.logger().Debug("found ffmpeg", "version", first)
	return nil
}
