// Package transcript owns the ordered message log of a chat session and
// reconciles it with asynchronous, fallible answers and history loads.
//
// All mutations go through Manager. Observers read consistent snapshots
// through Snapshot or Subscribe and never see a partially applied step.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

var errExchangeAborted = errors.New("exchange aborted before the provider returned")

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger routes diagnostics (history and provider failures) to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the timestamp source for new messages.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the single authority over a session's message log and busy flag.
type Manager struct {
	answers AnswerProvider
	history HistoryLoader
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	sessionID string
	log       []chat.Message
	busy      bool
	nextID    uint64
	// epoch advances whenever the log is replaced; in-flight work tagged
	// with an older epoch is discarded on completion.
	epoch   uint64
	subs    map[uint64]chan chat.Snapshot
	nextSub uint64

	inflight sync.WaitGroup
}

// exchange tags one in-flight send with the state it was issued against.
type exchange struct {
	epoch     uint64
	sessionID string
	text      string
}

// New creates a Manager with no session. history may be nil, in which case
// every session starts empty.
func New(answers AnswerProvider, history HistoryLoader, opts ...Option) *Manager {
	m := &Manager{
		answers: answers,
		history: history,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		nextID:  1,
		subs:    make(map[uint64]chan chat.Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize switches the manager to sessionID, an empty string meaning no
// session. Repeating the current identifier is a no-op. For a new identifier
// the log is cleared and, while busy, replaced with the loaded history; a
// failed load leaves the log empty. Initialize returns once the load settles.
func (m *Manager) Initialize(ctx context.Context, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)

	m.mu.Lock()
	if sessionID == m.sessionID {
		m.mu.Unlock()
		return
	}

	m.epoch++
	tag := exchange{epoch: m.epoch, sessionID: sessionID}
	m.sessionID = sessionID
	m.log = nil
	m.nextID = 1
	m.busy = sessionID != "" && m.history != nil
	loading := m.busy
	m.notifyLocked()
	m.mu.Unlock()

	if !loading {
		return
	}

	m.load(ctx, tag)
}

func (m *Manager) load(ctx context.Context, tag exchange) {
	var (
		messages []chat.Message
		err      = errExchangeAborted
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("history loader panicked: %v", r)
		}
		m.finishLoad(tag, messages, err)
	}()

	messages, err = m.history.LoadTranscript(ctx, tag.sessionID)
}

func (m *Manager) finishLoad(tag exchange, messages []chat.Message, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(tag) {
		m.logger.Debug("discarding stale history", zap.String("session", tag.sessionID))
		return
	}

	if err != nil {
		m.logger.Warn("history load failed, starting empty",
			zap.String("session", tag.sessionID), zap.Error(err))
	} else {
		m.log = make([]chat.Message, 0, len(messages))
		for _, msg := range messages {
			msg.ID = m.nextID
			m.nextID++
			msg.SessionID = tag.sessionID
			if msg.Status == "" {
				msg.Status = chat.StatusSent
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = m.now()
			}
			m.log = append(m.log, msg)
		}
	}

	m.busy = false
	m.notifyLocked()
}

// Send runs a full exchange for text and returns when its outcome is in the
// log. Blank text or a missing session is a silent no-op. ErrBusy is
// returned while another exchange or a history load is in flight. Provider
// failures never surface here; they become an ERROR message.
func (m *Manager) Send(ctx context.Context, text string) error {
	ex, ok, err := m.begin(text)
	if err != nil || !ok {
		return err
	}
	m.complete(ctx, ex)
	return nil
}

// Dispatch is Send without waiting: the user message is committed before it
// returns and the provider call runs on its own goroutine.
func (m *Manager) Dispatch(ctx context.Context, text string) error {
	ex, ok, err := m.begin(text)
	if err != nil || !ok {
		return err
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.complete(ctx, ex)
	}()
	return nil
}

// Wait blocks until every dispatched exchange has settled.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) begin(text string) (exchange, bool, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return exchange{}, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID == "" {
		return exchange{}, false, nil
	}
	if m.busy {
		return exchange{}, false, ErrBusy
	}

	m.appendLocked(chat.AuthorUser, trimmed, chat.StatusSent)
	m.busy = true
	m.notifyLocked()

	return exchange{epoch: m.epoch, sessionID: m.sessionID, text: trimmed}, true, nil
}

func (m *Manager) complete(ctx context.Context, ex exchange) {
	var (
		answer string
		err    = errExchangeAborted
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("answer provider panicked: %v", r)
		}
		m.finishExchange(ex, answer, err)
	}()

	answer, err = m.ask(ctx, ex)
}

func (m *Manager) ask(ctx context.Context, ex exchange) (string, error) {
	if m.answers == nil {
		return "", errNoAnswerProvider
	}

	answer, err := m.answers.Ask(ctx, ex.text, ex.sessionID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

func (m *Manager) finishExchange(ex exchange, answer string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ex) {
		m.logger.Debug("discarding stale answer",
			zap.String("session", ex.sessionID), zap.Bool("failed", err != nil))
		return
	}

	if err != nil {
		m.logger.Warn("answer provider failed",
			zap.String("session", ex.sessionID), zap.Error(err))
		m.appendLocked(chat.AuthorAgent, ApologyText, chat.StatusError)
	} else {
		m.appendLocked(chat.AuthorAgent, answer, chat.StatusSent)
	}

	m.busy = false
	m.notifyLocked()
}

// Clear empties the log and resets the busy flag without touching the
// session identifier. Work still in flight is discarded when it completes.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	m.log = nil
	m.busy = false
	m.notifyLocked()
}

// Snapshot returns a copy of the current log and busy flag.
func (m *Manager) Snapshot() chat.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// SessionID returns the identifier of the current session, or "" if none.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Subscribe returns a channel that receives the current snapshot and then
// the latest snapshot after every mutation. Slow readers only miss
// intermediate states. The returned func unsubscribes and closes the channel.
// Snapshots delivered here are shared and must be treated as read-only.
func (m *Manager) Subscribe() (<-chan chat.Snapshot, func()) {
	ch := make(chan chat.Snapshot, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) currentLocked(tag exchange) bool {
	return tag.epoch == m.epoch && tag.sessionID == m.sessionID
}

func (m *Manager) appendLocked(author chat.Author, content string, status chat.Status) {
	m.log = append(m.log, chat.Message{
		ID:        m.nextID,
		SessionID: m.sessionID,
		Author:    author,
		Content:   content,
		Status:    status,
		CreatedAt: m.now(),
	})
	m.nextID++
}

func (m *Manager) snapshotLocked() chat.Snapshot {
	copied := make([]chat.Message, len(m.log))
	copy(copied, m.log)
	return chat.Snapshot{
		SessionID: m.sessionID,
		Log:       copied,
		Busy:      m.busy,
	}
}

// notifyLocked publishes the current state. Each channel has one slot and
// only this method sends, under m.mu, so the send after draining never blocks.
func (m *Manager) notifyLocked() {
	if len(m.subs) == 0 {
		return
	}

	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
