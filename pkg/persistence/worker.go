// Package persistence implements the per-document persistence worker
// (C5): a background loop that snapshots a session's text and
// language to durable storage whenever its revision has advanced,
// exiting once the registry kills the session.
package persistence

import (
	"context"
	"math/rand"
	"time"

	"github.com/cowrite/cowrite/pkg/database"
	"github.com/cowrite/cowrite/pkg/logger"
	"github.com/cowrite/cowrite/pkg/metrics"
	"github.com/cowrite/cowrite/pkg/session"
)

const (
	interval = 3 * time.Second
	jitter   = 1 * time.Second
)

// Run snapshots sess to db under id every interval+jitter while its
// revision has advanced since the last successful write, until ctx is
// cancelled or sess.Killed(). Storage errors are logged and retried at
// the next tick; they are never surfaced to clients.
func Run(ctx context.Context, db *database.Database, id string, sess *session.Session, log *logger.Logger) {
	if db == nil {
		return
	}
	if log != nil {
		log = log.With("doc_id", id)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval + time.Duration(rand.Int63n(int64(jitter)))):
		}

		if sess.Killed() {
			return
		}

		revision := sess.Revision()
		if revision <= sess.LastPersistedRevision() {
			continue
		}

		text, language := sess.Snapshot()
		if err := db.Store(&database.PersistedDocument{ID: id, Text: text, Language: language}); err != nil {
			metrics.PersistenceFailures.Inc()
			if log != nil {
				log.Error("persist failed, retrying next tick", "error", err)
			}
			continue
		}
		sess.SetLastPersistedRevision(revision)
		if log != nil {
			log.Debug("persisted document", "revision", revision)
		}
	}
}
