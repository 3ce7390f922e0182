package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowrite/cowrite/internal/protocol"
	"github.com/cowrite/cowrite/pkg/ot"
)

func insertOp(s string) *ot.OperationSeq {
	op := ot.NewOperationSeq()
	op.Insert(s)
	return op
}

func TestApplyEditAppendsToLogAndText(t *testing.T) {
	s := New(0, 16, nil)

	err := s.ApplyEdit(0, 0, insertOp("hello"))
	require.NoError(t, err)

	assert.Equal(t, "hello", s.Text())
	assert.Equal(t, 1, s.Revision())

	ops := s.History(0)
	require.Len(t, ops, 1)
	assert.Equal(t, uint64(0), ops[0].ID)
}

func TestApplyEditRejectsFutureRevision(t *testing.T) {
	s := New(0, 16, nil)
	err := s.ApplyEdit(0, 5, insertOp("hi"))
	assert.Error(t, err)
}

func TestApplyEditTransformsAgainstConcurrentHistory(t *testing.T) {
	s := New(0, 16, nil)
	require.NoError(t, s.ApplyEdit(0, 0, insertOp("hello")))

	// User 1 proposes against revision 0, unaware of user 0's insert.
	op := ot.NewOperationSeq()
	op.Insert("world")
	require.NoError(t, s.ApplyEdit(1, 0, op))

	// Both inserts must survive; the incoming insert wins the tie at
	// position 0, so the text reads "worldhello".
	assert.Equal(t, 2, s.Revision())
	assert.Len(t, s.Text(), len("hello")+len("world"))
}

func TestApplyEditRejectsDocumentPastMaxCodePoints(t *testing.T) {
	s := New(0, 16, nil)

	big := make([]byte, MaxCodePoints)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, s.ApplyEdit(0, 0, insertOp(string(big))))

	grow := ot.NewOperationSeq()
	grow.Retain(MaxCodePoints)
	grow.Insert("x")
	err := s.ApplyEdit(0, 1, grow)
	assert.Error(t, err)
	assert.Equal(t, MaxCodePoints, len(s.Text()))
}

func TestApplyEditRejectsDocumentPastConfiguredByteLimit(t *testing.T) {
	s := New(10, 16, nil)
	require.NoError(t, s.ApplyEdit(0, 0, insertOp("0123456789")))

	grow := ot.NewOperationSeq()
	grow.Retain(10)
	grow.Insert("x")
	err := s.ApplyEdit(0, 1, grow)
	assert.Error(t, err)
}

func TestApplyEditRemapsCursorsThroughTransform(t *testing.T) {
	s := New(0, 16, nil)
	require.NoError(t, s.ApplyEdit(0, 0, insertOp("hello world")))

	s.SetCursorData(1, protocol.CursorData{Cursors: []uint32{6}})

	op := ot.NewOperationSeq()
	op.Insert("XXX")
	op.Retain(11)
	require.NoError(t, s.ApplyEdit(0, 1, op))

	_, _, users, cursors := s.InitialState()
	_ = users
	require.Contains(t, cursors, uint64(1))
	assert.Equal(t, uint32(9), cursors[1].Cursors[0])
}

func TestFromPersistedSeedsASingleSyntheticInsert(t *testing.T) {
	lang := "go"
	s := FromPersisted("package main", &lang, nil, 0, 16, nil)

	assert.Equal(t, "package main", s.Text())
	assert.Equal(t, 1, s.Revision())

	ops := s.History(0)
	require.Len(t, ops, 1)
	assert.Equal(t, protocol.SystemUserID, ops[0].ID)
}

func TestFromPersistedEmptyTextProducesNoLogEntry(t *testing.T) {
	s := FromPersisted("", nil, nil, 0, 16, nil)
	assert.Equal(t, "", s.Text())
	assert.Equal(t, 0, s.Revision())
}

func TestKillClosesNotifyAndSubscriberChannels(t *testing.T) {
	s := New(0, 16, nil)
	notify := s.NotifyChannel()
	updates := s.Subscribe(0)

	s.Kill()

	_, ok := <-notify
	assert.False(t, ok)
	_, ok = <-updates
	assert.False(t, ok)
	assert.True(t, s.Killed())

	// Kill is idempotent.
	s.Kill()
}

func TestApplyEditAfterKillDoesNotReopenNotify(t *testing.T) {
	s := New(0, 16, nil)
	s.Kill()
	// A killed session's registry entry is removed before further edits
	// can race in, but ApplyEdit itself must not panic by sending on or
	// recreating a closed channel.
	err := s.ApplyEdit(0, 0, insertOp("hi"))
	assert.NoError(t, err)
}

func TestSetOTPBroadcastsToSubscribers(t *testing.T) {
	s := New(0, 16, nil)
	updates := s.Subscribe(0)

	otp := "secret"
	s.SetOTP(&otp, 1, "Alice")

	msg := <-updates
	require.NotNil(t, msg.OTP)
	assert.Equal(t, "secret", *msg.OTP.OTP)
	assert.Equal(t, "Alice", msg.OTP.UserName)
	assert.Equal(t, "secret", *s.GetOTP())
}

func TestRemoveUserClearsPresenceAndUnsubscribes(t *testing.T) {
	s := New(0, 16, nil)
	s.SetUserInfo(0, protocol.UserInfo{Name: "Alice", Hue: 1})
	updates := s.Subscribe(0)

	assert.True(t, s.HasUser(0))
	s.RemoveUser(0)
	assert.False(t, s.HasUser(0))

	_, ok := <-updates
	assert.False(t, ok)
}

func TestLastPersistedRevisionRoundTrips(t *testing.T) {
	s := New(0, 16, nil)
	assert.Equal(t, 0, s.LastPersistedRevision())
	s.SetLastPersistedRevision(3)
	assert.Equal(t, 3, s.LastPersistedRevision())
}
