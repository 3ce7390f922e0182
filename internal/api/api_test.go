package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cowrite/cowrite/internal/protocol"
	"github.com/cowrite/cowrite/pkg/database"
	"github.com/cowrite/cowrite/pkg/logger"
	"github.com/cowrite/cowrite/pkg/ot"
	"github.com/cowrite/cowrite/pkg/registry"
)

func testDeps(t *testing.T) *Dependencies {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Dependencies{
		Registry:       registry.New(db, 0, 256, logger.New(logger.LevelError)),
		DB:             db,
		Log:            logger.New(logger.LevelError),
		Ctx:            context.Background(),
		StartTime:      time.Now(),
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   5 * time.Second,
		MetricsEnabled: false,
	}
}

func connectWebSocket(t *testing.T, server *httptest.Server, docID, otp string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/socket/" + docID
	if otp != "" {
		url += "?otp=" + otp
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readServerMsg(t *testing.T, conn *websocket.Conn) *protocol.ServerMsg {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var msg protocol.ServerMsg
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return &msg
}

func sendClientMsg(t *testing.T, conn *websocket.Conn, msg *protocol.ClientMsg) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

func TestSingleUserConnectionReceivesIdentity(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc1", "")
	msg := readServerMsg(t, conn)

	require.NotNil(t, msg.Identity)
	assert.Equal(t, uint64(0), *msg.Identity)
}

func TestSecondUserGetsNextIdentity(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	conn1 := connectWebSocket(t, ts, "doc1", "")
	readServerMsg(t, conn1)

	conn2 := connectWebSocket(t, ts, "doc1", "")
	msg2 := readServerMsg(t, conn2)
	require.NotNil(t, msg2.Identity)
	assert.Equal(t, uint64(1), *msg2.Identity)
}

func TestEditIsBroadcastToAllConnections(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	conn1 := connectWebSocket(t, ts, "doc1", "")
	readServerMsg(t, conn1)
	conn2 := connectWebSocket(t, ts, "doc1", "")
	readServerMsg(t, conn2)

	op := ot.NewOperationSeq()
	op.Insert("hello")
	sendClientMsg(t, conn1, &protocol.ClientMsg{Edit: &protocol.EditMsg{Revision: 0, Operation: op}})

	msg1 := readServerMsg(t, conn1)
	msg2 := readServerMsg(t, conn2)

	require.NotNil(t, msg1.History)
	require.NotNil(t, msg2.History)
	assert.Len(t, msg1.History.Operations, 1)
	assert.Len(t, msg2.History.Operations, 1)
}

func TestTextEndpointReflectsAppliedEdits(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc1", "")
	readServerMsg(t, conn)

	op := ot.NewOperationSeq()
	op.Insert("hello")
	sendClientMsg(t, conn, &protocol.ClientMsg{Edit: &protocol.EditMsg{Revision: 0, Operation: op}})
	readServerMsg(t, conn)

	resp, err := http.Get(ts.URL + "/api/text/doc1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestTextEndpointReturnsEmptyForUnknownDocument(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/text/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "", string(body))
}

func TestCreateEndpointReturnsNewIDAndSeedsText(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/create/go", "text/plain", strings.NewReader("package main"))
	require.NoError(t, err)
	defer resp.Body.Close()
	idBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	id := string(idBytes)
	assert.Len(t, id, 6)

	textResp, err := http.Get(ts.URL + "/api/text/" + id)
	require.NoError(t, err)
	defer textResp.Body.Close()
	body, err := io.ReadAll(textResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "package main", string(body))
}

func TestStatsEndpointReportsResidentDocumentCount(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc1", "")
	readServerMsg(t, conn)

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var s stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, 1, s.NumDocuments)
	assert.NotZero(t, s.StartTime)
}

func TestSocketRejectsMismatchedOTP(t *testing.T) {
	deps := testDeps(t)
	ts := httptest.NewServer(NewRouter(deps))
	defer ts.Close()

	sess, _, err := deps.Registry.Get("protected")
	require.NoError(t, err)
	otp := "s3cret"
	sess.SetOTP(&otp, 0, "Alice")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket/protected"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestGenerateOTPProtectsSubsequentSocketConnections(t *testing.T) {
	ts := httptest.NewServer(NewRouter(testDeps(t)))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/otp/doc1", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	otpBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	otp := string(otpBytes)
	assert.NotEmpty(t, otp)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket/doc1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, dialResp, err := websocket.Dial(ctx, url, nil)
	assert.Error(t, err)
	if dialResp != nil {
		assert.Equal(t, http.StatusForbidden, dialResp.StatusCode)
	}

	conn := connectWebSocket(t, ts, "doc1", otp)
	msg := readServerMsg(t, conn)
	assert.NotNil(t, msg.Identity)
}

func TestSocketAcceptsMatchingOTP(t *testing.T) {
	deps := testDeps(t)
	ts := httptest.NewServer(NewRouter(deps))
	defer ts.Close()

	sess, _, err := deps.Registry.Get("protected")
	require.NoError(t, err)
	otp := "s3cret"
	sess.SetOTP(&otp, 0, "Alice")

	conn := connectWebSocket(t, ts, "protected", "s3cret")
	msg := readServerMsg(t, conn)
	assert.NotNil(t, msg.Identity)
}
