package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cowrite/cowrite/pkg/database"
	"github.com/cowrite/cowrite/pkg/persistence"
)

const maxCreateBody = 1 << 20 // 1 MiB, well past MaxCodePoints worth of UTF-8

// handleCreate allocates a fresh document id, seeds it with the
// request body as its initial text and the path's language, persists
// it immediately if a durable store is configured, and returns the
// new id as plain text.
func (deps *Dependencies) handleCreate(w http.ResponseWriter, r *http.Request) {
	language := mux.Vars(r)["language"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCreateBody+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxCreateBody {
		http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
		return
	}
	text := string(body)

	id, err := deps.Registry.AllocateID()
	if err != nil {
		deps.Log.Error("allocate document id", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sess, created, err := deps.Registry.CreateWithText(id, text, &language)
	if err != nil {
		deps.Log.Error("register new document", "doc_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if deps.DB != nil {
		if err := deps.DB.Store(&database.PersistedDocument{ID: id, Text: text, Language: &language}); err != nil {
			deps.Log.Error("persist new document", "doc_id", id, "error", err)
		}
		if created {
			go persistence.Run(deps.Ctx, deps.DB, id, sess, deps.Log)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(id))
}
