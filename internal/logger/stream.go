// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"container/ring"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Streamer is an [io.Writer] that keeps the last logged lines and lets
// clients follow new ones.
type Streamer interface {
	io.Writer
	http.Handler

	// Lines returns the buffered lines, oldest first.
	Lines() []string

	// Stream returns a channel receiving every line logged from now on and a
	// function that unsubscribes it.
	Stream() (<-chan string, func())
}

// NewStreamer returns a Streamer that keeps up to size lines.
func NewStreamer(size int) Streamer {
	return &ringStreamer{
		size:    size,
		r:       ring.New(size),
		streams: make(map[chan string]struct{}),
	}
}

type ringStreamer struct {
	mu      sync.RWMutex
	size    int
	partial string // line that hasn't seen its newline yet
	r       *ring.Ring
	streams map[chan string]struct{}
}

func (s *ringStreamer) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := s.partial + string(b)
	for {
		line, rest, found := strings.Cut(text, "\n")
		if !found {
			break
		}
		line += "\n"
		s.r.Value = line
		s.r = s.r.Next()
		for ch := range s.streams {
			select {
			case ch <- line:
			default:
				// Slow reader, drop the line for it.
			}
		}
		text = rest
	}
	s.partial = text
	return len(b), nil
}

func (s *ringStreamer) Lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lines := make([]string, 0, s.size)
	s.r.Do(func(v any) {
		if v != nil {
			lines = append(lines, v.(string))
		}
	})
	return lines
}

func (s *ringStreamer) Stream() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, s.size+1)
	s.streams[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.streams, ch)
			close(ch)
		})
	}
}

// ServeHTTP writes the buffered lines and then follows the log until the
// client goes away. Clients that accept text/event-stream get server-sent
// events.
func (s *ringStreamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sse := strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}

	ch, unsubscribe := s.Stream()
	defer unsubscribe()

	write := func(line string) {
		if sse {
			fmt.Fprintf(w, "event: logline\ndata: %s\n\n", strings.TrimSuffix(line, "\n"))
		} else {
			io.WriteString(w, line)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	for _, line := range s.Lines() {
		write(line)
	}

	for {
		select {
		case line := <-ch:
			write(line)
		case <-r.Context().Done():
			return
		}
	}
}

var _ Streamer = (*ringStreamer)(nil)
