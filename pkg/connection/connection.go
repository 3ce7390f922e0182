// Package connection implements the duplex connection loop (C3): one
// instance per upgraded WebSocket, issuing an identity, performing the
// initial sync, and then running the lost-wakeup-free loop that keeps
// a client caught up on history and presence while dispatching its
// inbound frames.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cowrite/cowrite/internal/protocol"
	"github.com/cowrite/cowrite/pkg/logger"
	"github.com/cowrite/cowrite/pkg/metrics"
	"github.com/cowrite/cowrite/pkg/session"
)

// Connection is one client's live duplex session against a document.
type Connection struct {
	userID  uint64
	sess    *session.Session
	conn    *websocket.Conn
	log     *logger.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	sendMu sync.Mutex

	nameMu sync.Mutex
	name   string
}

// New allocates a connection identity against sess and wraps conn.
func New(sess *session.Session, conn *websocket.Conn, readTimeout, writeTimeout time.Duration, log *logger.Logger) *Connection {
	userID := sess.NextUserID()
	if log != nil {
		log = log.With("user_id", userID)
	}
	return &Connection{
		userID:       userID,
		sess:         sess,
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Handle runs the connection until the client disconnects, the
// session is killed, or ctx is cancelled. It always removes the
// connection's presence from the session before returning.
func (c *Connection) Handle(ctx context.Context) error {
	metrics.ConnectedClients.Inc()
	defer metrics.ConnectedClients.Dec()
	defer c.sess.RemoveUser(c.userID)

	if err := c.send(ctx, protocol.NewIdentityMsg(c.userID)); err != nil {
		return fmt.Errorf("connection: send identity: %w", err)
	}

	seenRev, err := c.sendInitialSync(ctx)
	if err != nil {
		return fmt.Errorf("connection: initial sync: %w", err)
	}

	updates := c.sess.Subscribe(c.userID)
	defer c.sess.Unsubscribe(c.userID)

	frames := make(chan protocol.ClientMsg)
	readErr := make(chan error, 1)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go c.readLoop(readCtx, frames, readErr)

	for {
		// Fetch the current wake channel before checking the revision:
		// if apply_edit races in between, either the revision check below
		// already observes the new revision, or that edit closes the
		// fetched notify channel and wakes the select below. Either way
		// no wakeup is lost.
		notify := c.sess.NotifyChannel()

		if c.sess.Revision() > seenRev {
			seenRev, err = c.sendHistory(ctx, seenRev)
			if err != nil {
				return fmt.Errorf("connection: send history: %w", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
			continue
		case msg, ok := <-updates:
			if !ok {
				return nil // session killed
			}
			if err := c.send(ctx, msg); err != nil {
				return fmt.Errorf("connection: send broadcast: %w", err)
			}
		case msg, ok := <-frames:
			if !ok {
				return <-readErr
			}
			if err := c.handleMessage(&msg); err != nil {
				return err
			}
		}
	}
}

// readLoop decodes inbound frames one at a time, enforcing the idle
// read timeout on each frame, and reports its terminal error (nil for
// a normal close) on errCh.
func (c *Connection) readLoop(ctx context.Context, frames chan<- protocol.ClientMsg, errCh chan<- error) {
	defer close(frames)
	for {
		readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
		var msg protocol.ClientMsg
		err := wsjson.Read(readCtx, c.conn, &msg)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				errCh <- nil
			} else {
				errCh <- fmt.Errorf("connection: read frame: %w", err)
			}
			return
		}

		select {
		case frames <- msg:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}
	}
}

func (c *Connection) sendInitialSync(ctx context.Context) (int, error) {
	ops, lang, users, cursors := c.sess.InitialState()

	if len(ops) > 0 {
		if err := c.send(ctx, protocol.NewHistoryMsg(0, ops)); err != nil {
			return 0, err
		}
	}
	if lang != nil {
		if err := c.send(ctx, protocol.NewLanguageMsg(*lang)); err != nil {
			return 0, err
		}
	}
	for id, info := range users {
		info := info
		if err := c.send(ctx, protocol.NewUserInfoMsg(id, &info)); err != nil {
			return 0, err
		}
	}
	for id, data := range cursors {
		if err := c.send(ctx, protocol.NewUserCursorMsg(id, data)); err != nil {
			return 0, err
		}
	}
	return len(ops), nil
}

func (c *Connection) sendHistory(ctx context.Context, start int) (int, error) {
	ops := c.sess.History(start)
	if len(ops) == 0 {
		return start, nil
	}
	if err := c.send(ctx, protocol.NewHistoryMsg(start, ops)); err != nil {
		return start, err
	}
	return start + len(ops), nil
}

func (c *Connection) handleMessage(msg *protocol.ClientMsg) error {
	switch {
	case msg.Edit != nil:
		if err := c.sess.ApplyEdit(c.userID, msg.Edit.Revision, msg.Edit.Operation); err != nil {
			return fmt.Errorf("connection: apply edit: %w", err)
		}
	case msg.SetLanguage != nil:
		c.sess.SetLanguage(*msg.SetLanguage)
	case msg.ClientInfo != nil:
		c.nameMu.Lock()
		c.name = msg.ClientInfo.Name
		c.nameMu.Unlock()
		c.sess.SetUserInfo(c.userID, *msg.ClientInfo)
	case msg.CursorData != nil:
		c.sess.SetCursorData(c.userID, *msg.CursorData)
	case msg.SetOTP != nil:
		c.sess.SetOTP(msg.SetOTP.OTP, c.userID, c.displayName())
	}
	return nil
}

func (c *Connection) displayName() string {
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	return c.name
}

func (c *Connection) send(ctx context.Context, msg *protocol.ServerMsg) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("connection: marshal: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
