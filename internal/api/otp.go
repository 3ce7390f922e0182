package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cowrite/cowrite/internal/protocol"
	"github.com/cowrite/cowrite/pkg/persistence"
	"github.com/cowrite/cowrite/pkg/session"
)

// handleGenerateOTP mints a fresh protection secret for a document
// (creating and hydrating it if it is not yet resident), applies it,
// and returns the new secret as plain text. This is the only path that
// generates an OTP server-side; a connected client can also set a
// secret of its own choosing, or clear it, with a SetOTP message.
func (deps *Dependencies) handleGenerateOTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, created, err := deps.Registry.Get(id)
	if err != nil {
		deps.Log.Error("load document", "doc_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if created && deps.DB != nil {
		go persistence.Run(deps.Ctx, deps.DB, id, sess, deps.Log)
	}

	otp, err := session.GenerateOTP()
	if err != nil {
		deps.Log.Error("generate otp", "doc_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sess.SetOTP(&otp, protocol.SystemUserID, "")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(otp))
}
