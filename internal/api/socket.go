package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"

	"github.com/cowrite/cowrite/pkg/connection"
	"github.com/cowrite/cowrite/pkg/persistence"
)

// handleSocket upgrades a request to a WebSocket and runs the duplex
// connection loop (C3) against the named document's session, lazily
// creating and hydrating it on first touch. An OTP-protected document
// requires a matching ?otp= query parameter.
func (deps *Dependencies) handleSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, created, err := deps.Registry.Get(id)
	if err != nil {
		deps.Log.Error("load document", "doc_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if otp := sess.GetOTP(); otp != nil && r.URL.Query().Get("otp") != *otp {
		http.Error(w, "otp required", http.StatusForbidden)
		return
	}

	if created && deps.DB != nil {
		go persistence.Run(deps.Ctx, deps.DB, id, sess, deps.Log)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		deps.Log.Error("websocket upgrade failed", "doc_id", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := connection.New(sess, conn, deps.ReadTimeout, deps.WriteTimeout, deps.Log)
	if err := c.Handle(r.Context()); err != nil {
		deps.Log.Debug("connection ended", "doc_id", id, "error", err)
	}
}
