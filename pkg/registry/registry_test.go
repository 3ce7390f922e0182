package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCreatesOnFirstTouchAndReusesAfter(t *testing.T) {
	r := New(nil, 0, 16, nil)

	s1, created1, err := r.Get("doc1")
	require.NoError(t, err)
	assert.True(t, created1)

	s2, created2, err := r.Get("doc1")
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, s1, s2)

	assert.Equal(t, 1, r.NumDocuments())
}

func TestLookupDoesNotCreate(t *testing.T) {
	r := New(nil, 0, 16, nil)

	_, ok := r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, r.NumDocuments())
}

func TestAllocateIDReturnsSixCharUnusedID(t *testing.T) {
	r := New(nil, 0, 16, nil)

	id, err := r.AllocateID()
	require.NoError(t, err)
	assert.Len(t, id, idLength)

	_, _, err = r.Get(id)
	require.NoError(t, err)

	id2, err := r.AllocateID()
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestCreateWithTextSeedsTextAndIsIdempotentUnderRace(t *testing.T) {
	r := New(nil, 0, 16, nil)
	lang := "go"

	s1, created1, err := r.CreateWithText("doc1", "package main", &lang)
	require.NoError(t, err)
	assert.True(t, created1)
	assert.Equal(t, "package main", s1.Text())

	s2, created2, err := r.CreateWithText("doc1", "ignored", &lang)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, s1, s2)
}

func TestEvictExpiredKillsAndRemovesIdleDocuments(t *testing.T) {
	r := New(nil, 0, 16, nil)

	sess, _, err := r.Get("idle")
	require.NoError(t, err)

	r.evictExpired(0) // everything is "idle" past a zero horizon

	assert.True(t, sess.Killed())
	assert.Equal(t, 0, r.NumDocuments())
}

func TestEvictExpiredLeavesRecentlyTouchedDocuments(t *testing.T) {
	r := New(nil, 0, 16, nil)

	sess, _, err := r.Get("fresh")
	require.NoError(t, err)

	r.evictExpired(time.Hour)

	assert.False(t, sess.Killed())
	assert.Equal(t, 1, r.NumDocuments())
}

func TestKillAllTearsDownEveryResidentSession(t *testing.T) {
	r := New(nil, 0, 16, nil)
	s1, _, _ := r.Get("a")
	s2, _, _ := r.Get("b")

	r.KillAll()

	assert.True(t, s1.Killed())
	assert.True(t, s2.Killed())
}

func TestStartJanitorStopsOnContextCancel(t *testing.T) {
	r := New(nil, 0, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.StartJanitor(ctx, time.Millisecond, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartJanitor did not return after context cancellation")
	}
}
