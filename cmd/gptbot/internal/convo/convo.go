// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package convo keeps in-memory conversation histories, one per user.
package convo

import (
	"slices"
	"sync"
)

// Role is the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store holds conversation histories keyed by user ID. It is safe for
// concurrent use.
type Store struct {
	counter Counter

	mu       sync.Mutex
	sessions map[int64][]Message
}

// NewStore returns an empty Store that measures messages with counter. A nil
// counter means [Estimate].
func NewStore(counter Counter) *Store {
	if counter == nil {
		counter = CounterFunc(Estimate)
	}
	return &Store{counter: counter, sessions: make(map[int64][]Message)}
}

// Append adds msgs to the history of the user and returns the new length.
func (s *Store) Append(userID int64, msgs ...Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = append(s.sessions[userID], msgs...)
	return len(s.sessions[userID])
}

// Messages returns a copy of the history of the user.
func (s *Store) Messages(userID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sessions[userID])
}

// Len returns the number of messages in the history of the user.
func (s *Store) Len(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[userID])
}

// Truncate drops everything after the first n messages of the history of the
// user. It is used to undo a turn that failed.
func (s *Store) Truncate(userID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.sessions[userID]
	if n < 0 {
		n = 0
	}
	if n >= len(h) {
		return
	}
	if n == 0 {
		delete(s.sessions, userID)
		return
	}
	s.sessions[userID] = h[:n:n]
}

// Clear empties the history of the user.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Users returns the number of users with a non-empty history.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Window returns the newest messages of the history of the user whose token
// count fits into budget. The newest message is always included, even if it
// alone exceeds the budget. A budget of zero or less disables trimming.
func (s *Store) Window(userID int64, budget int) []Message {
	s.mu.Lock()
	h := slices.Clone(s.sessions[userID])
	s.mu.Unlock()

	if budget <= 0 || len(h) == 0 {
		return h
	}
	var (
		used  int
		start = len(h)
	)
	for i := len(h) - 1; i >= 0; i-- {
		n := s.counter.Count(h[i].Content) + perMessageTokens
		if used+n > budget && start < len(h) {
			break
		}
		used += n
		start = i
	}
	return h[start:]
}
