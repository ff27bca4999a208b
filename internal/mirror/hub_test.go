package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"penman/cli/internal/protocol"
)

func dialHub(t *testing.T, h *Hub) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	var hello protocol.Message
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	require.Equal(t, protocol.OpHello, hello.Op)
	return conn, ctx
}

func TestHub_PublishReachesClient(t *testing.T) {
	h := NewHub(nil)
	conn, ctx := dialHub(t, h)
	require.Equal(t, 1, h.Clients())

	h.Publish(protocol.OpOutputAppend, protocol.OutputAppend{Seq: 7, Text: "hello\n"})

	var msg protocol.Message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, protocol.TypeEvent, msg.Type)
	require.Equal(t, protocol.OpOutputAppend, msg.Op)

	var payload protocol.OutputAppend
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, uint64(7), payload.Seq)
	require.Equal(t, "hello\n", payload.Text)
}

func TestHub_AnswersPing(t *testing.T) {
	h := NewHub(nil)
	conn, ctx := dialHub(t, h)

	require.NoError(t, wsjson.Write(ctx, conn, protocol.Message{ID: "req_1", Type: protocol.TypeReq, Op: protocol.OpPing}))
	var resp protocol.Message
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	require.Equal(t, "req_1", resp.ID)
	require.Equal(t, protocol.TypeResp, resp.Type)
}

func TestHub_ClientRemovedOnClose(t *testing.T) {
	h := NewHub(nil)
	conn, _ := dialHub(t, h)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NilPublishIsNoop(t *testing.T) {
	var h *Hub
	h.Publish(protocol.OpOutputClear, nil)
	require.Equal(t, 0, h.Clients())
}

func TestHub_PublishDoesNotWaitForStalledClient(t *testing.T) {
	h := NewHub(nil)
	dialHub(t, h)
	require.Equal(t, 1, h.Clients())

	chunk := protocol.OutputAppend{Text: strings.Repeat("o", 32*1024)}
	start := time.Now()
	for i := 0; i < 4*outboxSize; i++ {
		chunk.Seq = uint64(i)
		h.Publish(protocol.OpOutputAppend, chunk)
	}
	require.Less(t, time.Since(start), 2*time.Second)

	require.Eventually(t, func() bool { return h.Clients() == 0 }, 5*time.Second, 10*time.Millisecond,
		"a client that never reads is disconnected")
}
