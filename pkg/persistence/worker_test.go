package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowrite/cowrite/pkg/database"
	"github.com/cowrite/cowrite/pkg/ot"
	"github.com/cowrite/cowrite/pkg/session"
)

func TestRunPersistsAdvancedRevisionWithinFourSeconds(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	sess := session.New(0, 16, nil)
	op := ot.NewOperationSeq()
	op.Insert("hello")
	require.NoError(t, sess.ApplyEdit(0, 0, op))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, db, "doc1", sess, nil)
		close(done)
	}()

	deadline := time.After(4300 * time.Millisecond)
	for {
		select {
		case <-deadline:
			t.Fatal("document was not persisted within 4 seconds")
		case <-time.After(50 * time.Millisecond):
			doc, err := db.Load("doc1")
			require.NoError(t, err)
			if doc != nil {
				assert.Equal(t, "hello", doc.Text)
				cancel()
				<-done
				return
			}
		}
	}
}

func TestRunExitsWhenSessionKilled(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	sess := session.New(0, 16, nil)
	sess.Kill()

	done := make(chan struct{})
	go func() {
		Run(context.Background(), db, "doc1", sess, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after session was killed")
	}
}

func TestRunNoopsWithNilDatabase(t *testing.T) {
	sess := session.New(0, 16, nil)
	done := make(chan struct{})
	go func() {
		Run(context.Background(), nil, "doc1", sess, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with a nil database should return immediately")
	}
}
