// Package mailer sends transactional email (MFA codes, reset links).
package mailer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrNoRecipients = errors.New("mailer: no recipients")

type Message struct {
	Subject string
	Plain   string
	HTML    string
	From    string
	To      []string
}

// Sender delivers one message synchronously. Failures are returned, never retried.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Recorder keeps sent messages in memory. It backs the dev mode without SMTP
// and the tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	// Err, when set, is returned by Send and nothing is recorded.
	Err error
}

func (r *Recorder) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	m.To = append([]string(nil), m.To...)
	r.sent = append(r.sent, m)
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Message{}, false
	}
	return r.sent[len(r.sent)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// Log writes messages to the logger instead of delivering them. It is the
// fallback when no SMTP relay is configured, so codes and links stay visible
// in development.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Send(_ context.Context, m Message) error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	l.Logger.Info("email (not delivered)",
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Plain),
	)
	return nil
}
