package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkernel/drift/internal/kernel/signal"
	"github.com/driftkernel/drift/internal/kernel/syscall"
)

type frame struct {
	Type    string `json:"type"`
	Handle  uint32 `json:"handle"`
	Signals uint32 `json:"signals"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func dial(t *testing.T) (*websocket.Conn, *syscall.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dispatcher := syscall.NewDispatcher(nil)
	router := gin.New()
	router.GET("/ws", NewHandler(dispatcher, nil, nil).HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Consume the welcome frame.
	var welcome frame
	require.NoError(t, readFrame(t, conn, &welcome))
	require.Equal(t, "system", welcome.Type)

	return conn, dispatcher
}

func readFrame(t *testing.T, conn *websocket.Conn, out *frame) error {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return sonic.Unmarshal(raw, out)
}

func TestWatchResolvesOnPeerNotify(t *testing.T) {
	conn, dispatcher := dial(t)

	initiatorPID := dispatcher.CreateTask()
	handlerPID := dispatcher.CreateTask()
	initH, hndH, err := dispatcher.CreateChannel(initiatorPID, handlerPID)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{
		Type:   "watch",
		PID:    handlerPID,
		Handle: uint32(hndH),
		Mask:   uint32(signal.User),
	}))

	// Give the watch time to block before notifying.
	table, err := dispatcher.Table(handlerPID)
	require.NoError(t, err)
	obj, err := table.Resolve(hndH)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return obj.Signals().WaiterCount() > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, dispatcher.RaisePeerUserSignal(context.Background(), initiatorPID, initH))

	var f frame
	require.NoError(t, readFrame(t, conn, &f))
	assert.Equal(t, "signals", f.Type)
	assert.Equal(t, "ok", f.Code)
	assert.NotZero(t, f.Signals&uint32(signal.User))
}

func TestWatchTimeout(t *testing.T) {
	conn, dispatcher := dial(t)

	pid := dispatcher.CreateTask()
	peer := dispatcher.CreateTask()
	initH, _, err := dispatcher.CreateChannel(pid, peer)
	require.NoError(t, err)

	timeout := uint64(10)
	require.NoError(t, conn.WriteJSON(Message{
		Type:      "watch",
		PID:       pid,
		Handle:    uint32(initH),
		Mask:      uint32(signal.User),
		TimeoutMS: &timeout,
	}))

	var f frame
	require.NoError(t, readFrame(t, conn, &f))
	assert.Equal(t, "signals", f.Type)
	assert.Equal(t, "deadline_exceeded", f.Code)
}

func TestUnknownMessageType(t *testing.T) {
	conn, _ := dial(t)

	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))

	var f frame
	require.NoError(t, readFrame(t, conn, &f))
	assert.Equal(t, "error", f.Type)
}
