// Package session implements the per-document collaborative editing
// session: the shared revision log, text, language, and presence state
// that every connection to a given document reads and mutates through
// a single lock, plus the transform-and-apply step that keeps
// concurrent edits convergent.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cowrite/cowrite/internal/protocol"
	"github.com/cowrite/cowrite/pkg/logger"
	"github.com/cowrite/cowrite/pkg/metrics"
	"github.com/cowrite/cowrite/pkg/ot"
)

// MaxCodePoints is the fixed document-size ceiling: an edit that would
// grow the document past this many Unicode code points is rejected
// regardless of the configured byte-oriented limit.
const MaxCodePoints = 100_000

// State is the document state protected by Session.mu.
type State struct {
	Operations []protocol.UserOperation
	Text       string
	Language   *string
	OTP        *string
	Users      map[uint64]protocol.UserInfo
	Cursors    map[uint64]protocol.CursorData
}

// Session is one document's live collaborative editing state: the
// revision log, current text, connected users, and the subscriber
// channels a connection loop (C3) waits on for out-of-band updates.
type Session struct {
	state *State
	mu    sync.RWMutex

	count                 atomic.Uint64
	killed                atomic.Bool
	lastEditTime          atomic.Int64
	lastPersistedRevision atomic.Int32

	subscribers map[uint64]chan *protocol.ServerMsg
	notify      chan struct{}

	maxDocumentSize     int
	broadcastBufferSize int

	log *logger.Logger
}

// New creates an empty document session. maxDocumentSize is a
// byte ceiling on the document text (0 disables it); broadcastBufferSize sizes
// each connection's metadata-update channel.
func New(maxDocumentSize, broadcastBufferSize int, log *logger.Logger) *Session {
	return &Session{
		state: &State{
			Operations: make([]protocol.UserOperation, 0),
			Users:      make(map[uint64]protocol.UserInfo),
			Cursors:    make(map[uint64]protocol.CursorData),
		},
		subscribers:         make(map[uint64]chan *protocol.ServerMsg),
		notify:              make(chan struct{}),
		maxDocumentSize:     maxDocumentSize,
		broadcastBufferSize: broadcastBufferSize,
		log:                 log,
	}
}

// FromPersisted hydrates a session from durable storage: the log
// starts with a single synthetic insert of the persisted text at
// revision 0, attributed to protocol.SystemUserID, so the in-memory
// log and the on-disk snapshot agree on the resulting text without the
// log ever having to be the system of record.
func FromPersisted(text string, language, otp *string, maxDocumentSize, broadcastBufferSize int, log *logger.Logger) *Session {
	s := New(maxDocumentSize, broadcastBufferSize, log)
	s.state.OTP = otp
	s.state.Language = language

	if text != "" {
		op := ot.NewOperationSeq()
		op.Insert(text)
		s.state.Text = text
		s.state.Operations = []protocol.UserOperation{{
			ID:        protocol.SystemUserID,
			Operation: op,
		}}
	}
	return s
}

// NextUserID allocates the next connection-scoped user id for this
// session, starting at 0.
func (s *Session) NextUserID() uint64 {
	return s.count.Add(1) - 1
}

// Revision returns the current length of the operation log.
func (s *Session) Revision() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Operations)
}

// Text returns the current document text.
func (s *Session) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Text
}

// Snapshot returns the text and language pair a persistence worker
// writes to durable storage.
func (s *Session) Snapshot() (text string, language *string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Text, s.state.Language
}

// LastPersistedRevision returns the revision the persistence worker
// last wrote successfully.
func (s *Session) LastPersistedRevision() int {
	return int(s.lastPersistedRevision.Load())
}

// SetLastPersistedRevision records the revision the persistence worker
// just wrote successfully.
func (s *Session) SetLastPersistedRevision(rev int) {
	s.lastPersistedRevision.Store(int32(rev))
}

// GetOTP returns the document's current protection secret, or nil if
// the document is unprotected.
func (s *Session) GetOTP() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.OTP
}

// UserCount returns the number of users with presence state.
func (s *Session) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Users)
}

// HasUser reports whether a user currently has presence state in this
// session.
func (s *Session) HasUser(userID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.Users[userID]
	return ok
}

// LastEditTime returns the time of the last ApplyEdit call (whether
// the edit was accepted or rejected) or SetLanguage call, or the zero
// time if neither has happened.
func (s *Session) LastEditTime() time.Time {
	ts := s.lastEditTime.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// Kill tears the session down: every subscriber channel and the
// notify channel are closed, waking every blocked connection so it can
// exit its loop. Kill is idempotent.
func (s *Session) Kill() {
	if !s.killed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[uint64]chan *protocol.ServerMsg)
	close(s.notify)
}

// Killed reports whether the session has been torn down by the
// registry (C4).
func (s *Session) Killed() bool {
	return s.killed.Load()
}

// Subscribe registers a channel for out-of-band metadata broadcasts
// (presence, language, OTP, cursors) addressed to userID.
func (s *Session) Subscribe(userID uint64) <-chan *protocol.ServerMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *protocol.ServerMsg, s.broadcastBufferSize)
	s.subscribers[userID] = ch
	return ch
}

// Unsubscribe removes and closes a user's broadcast channel.
func (s *Session) Unsubscribe(userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[userID]; ok {
		close(ch)
		delete(s.subscribers, userID)
	}
}

// NotifyChannel returns the channel a connection loop should select on
// to learn the operation log has grown. The channel is closed (never
// sent on) when new operations arrive or the session is killed; a
// connection must re-fetch NotifyChannel after each wakeup since
// ApplyEdit replaces it.
func (s *Session) NotifyChannel() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notify
}

func (s *Session) broadcast(msg *protocol.ServerMsg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// InitialState returns everything a freshly connecting client needs to
// reconstruct the document: the full operation log, language, and
// every other user's presence.
func (s *Session) InitialState() (ops []protocol.UserOperation, lang *string, users map[uint64]protocol.UserInfo, cursors map[uint64]protocol.CursorData) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops = make([]protocol.UserOperation, len(s.state.Operations))
	copy(ops, s.state.Operations)

	lang = s.state.Language

	users = make(map[uint64]protocol.UserInfo, len(s.state.Users))
	for id, info := range s.state.Users {
		users[id] = info
	}

	cursors = make(map[uint64]protocol.CursorData, len(s.state.Cursors))
	for id, data := range s.state.Cursors {
		cursors[id] = data
	}
	return
}

// History returns every logged operation from start onward.
func (s *Session) History(start int) []protocol.UserOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if start >= len(s.state.Operations) {
		return []protocol.UserOperation{}
	}
	ops := make([]protocol.UserOperation, len(s.state.Operations)-start)
	copy(ops, s.state.Operations[start:])
	return ops
}

// ApplyEdit validates and applies a client's proposed operation.
// revision names the log length the client last observed; the
// operation is transformed forward through every entry logged since,
// so a client proposing against a stale revision still converges.
// Operations that would push the document past MaxCodePoints code
// points, or past maxDocumentSize bytes when that limit is set, are
// rejected.
func (s *Session) ApplyEdit(userID uint64, revision int, operation *ot.OperationSeq) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if err != nil {
			metrics.EditsRejected.Inc()
		} else {
			metrics.EditsApplied.Inc()
		}
	}()

	s.lastEditTime.Store(time.Now().Unix())

	currentLen := len(s.state.Operations)
	if revision < 0 || revision > currentLen {
		return fmt.Errorf("session: invalid revision %d, current is %d", revision, currentLen)
	}

	transformed := operation
	for _, histOp := range s.state.Operations[revision:] {
		aPrime, _, err := transformed.Transform(histOp.Operation)
		if err != nil {
			return fmt.Errorf("session: transform against history: %w", err)
		}
		transformed = aPrime
	}

	if transformed.TargetLen() > MaxCodePoints {
		return fmt.Errorf("session: document would grow to %d code points, exceeding the fixed %d ceiling", transformed.TargetLen(), MaxCodePoints)
	}

	newText, err := transformed.Apply(s.state.Text)
	if err != nil {
		return fmt.Errorf("session: apply transformed operation: %w", err)
	}

	if s.maxDocumentSize > 0 && len(newText) > s.maxDocumentSize {
		return fmt.Errorf("session: document would grow to %d bytes, exceeding the configured %d byte limit", len(newText), s.maxDocumentSize)
	}

	for id, cursor := range s.state.Cursors {
		newCursors := make([]uint32, len(cursor.Cursors))
		for i, pos := range cursor.Cursors {
			newCursors[i] = ot.TransformIndex(transformed, pos)
		}
		newSelections := make([][2]uint32, len(cursor.Selections))
		for i, sel := range cursor.Selections {
			newSelections[i] = [2]uint32{
				ot.TransformIndex(transformed, sel[0]),
				ot.TransformIndex(transformed, sel[1]),
			}
		}
		s.state.Cursors[id] = protocol.CursorData{Cursors: newCursors, Selections: newSelections}
	}

	s.state.Operations = append(s.state.Operations, protocol.UserOperation{ID: userID, Operation: transformed})
	s.state.Text = newText

	if s.log != nil {
		s.log.Debug("applied edit", "user_id", userID, "revision", currentLen+1, "text_len", len(newText))
	}

	if !s.killed.Load() {
		close(s.notify)
		s.notify = make(chan struct{})
	}
	return nil
}

// SetLanguage sets the document's syntax-highlighting language and
// broadcasts the bare new value, per the wire protocol.
func (s *Session) SetLanguage(lang string) {
	s.mu.Lock()
	s.state.Language = &lang
	s.mu.Unlock()

	s.lastEditTime.Store(time.Now().Unix())
	s.broadcast(protocol.NewLanguageMsg(lang))
}

// SetOTP changes the document's protection secret (nil removes
// protection) and broadcasts the change along with the acting user's
// identity.
func (s *Session) SetOTP(otp *string, userID uint64, userName string) {
	s.mu.Lock()
	s.state.OTP = otp
	s.mu.Unlock()

	s.broadcast(protocol.NewOTPMsg(otp, userID, userName))
}

// SetUserInfo records a user's display info and broadcasts it.
func (s *Session) SetUserInfo(userID uint64, info protocol.UserInfo) {
	s.mu.Lock()
	s.state.Users[userID] = info
	s.mu.Unlock()

	s.broadcast(protocol.NewUserInfoMsg(userID, &info))
}

// SetCursorData records a user's cursor/selection state and
// broadcasts it.
func (s *Session) SetCursorData(userID uint64, data protocol.CursorData) {
	s.mu.Lock()
	s.state.Cursors[userID] = data
	s.mu.Unlock()

	s.broadcast(protocol.NewUserCursorMsg(userID, data))
}

// RemoveUser drops a user's presence and cursor state, unsubscribes
// its broadcast channel, and announces the departure.
func (s *Session) RemoveUser(userID uint64) {
	s.mu.Lock()
	delete(s.state.Users, userID)
	delete(s.state.Cursors, userID)
	s.mu.Unlock()

	s.Unsubscribe(userID)
	s.broadcast(protocol.NewUserInfoMsg(userID, nil))
}
