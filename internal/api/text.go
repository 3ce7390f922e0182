package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleText returns a document's current raw text, "" if unknown. A
// document already resident in memory is read straight off its
// session; one nobody has opened a connection to yet falls back to a
// direct durable-store read rather than materializing a session for a
// request that only wants to peek at the contents.
func (deps *Dependencies) handleText(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if sess, ok := deps.Registry.Lookup(id); ok {
		w.Write([]byte(sess.Text()))
		return
	}

	if deps.DB != nil {
		doc, err := deps.DB.Load(id)
		if err != nil {
			deps.Log.Error("load document text", "doc_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if doc != nil {
			w.Write([]byte(doc.Text))
			return
		}
	}

	w.Write([]byte(""))
}
