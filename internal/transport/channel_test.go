package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair upgrades a test connection and hands the server side to the
// handler while returning the client side to the test.
func wsPair(t *testing.T, handler func(ch *WSChannel)) *websocket.Conn {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		handler(NewWSChannel(conn, 5*time.Second))
		wg.Done()
	}))
	t.Cleanup(srv.Close)

	url := strings.Replace(srv.URL, "http", "ws", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "test done")
		wg.Wait()
	})

	return conn
}

func TestSendDeliversFrame(t *testing.T) {
	sent := &models.ServerFrame{
		Type:      models.FrameTypeMessage,
		MessageID: 7,
		Message: &models.Message{
			ID:         7,
			SenderID:   "alice",
			ReceiverID: "bob",
			Content:    "hello",
			State:      models.DeliveryStatePending,
		},
	}

	done := make(chan error, 1)
	conn := wsPair(t, func(ch *WSChannel) {
		done <- ch.Send(context.Background(), sent)
	})

	var got models.ServerFrame
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Read(ctx, conn, &got))

	require.NoError(t, <-done)
	assert.Equal(t, models.FrameTypeMessage, got.Type)
	require.NotNil(t, got.Message)
	assert.Equal(t, int64(7), got.Message.ID)
	assert.Equal(t, "hello", got.Message.Content)
}

func TestReadFrame(t *testing.T) {
	frames := make(chan *models.ClientFrame, 1)
	errs := make(chan error, 1)

	conn := wsPair(t, func(ch *WSChannel) {
		frame, err := ch.ReadFrame(context.Background())
		frames <- frame
		errs <- err
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, &models.ClientFrame{
		Type:       models.FrameTypeSend,
		ReceiverID: "bob",
		Content:    "hi bob",
	}))

	require.NoError(t, <-errs)
	frame := <-frames
	require.NotNil(t, frame)
	assert.Equal(t, models.FrameTypeSend, frame.Type)
	assert.Equal(t, "bob", frame.ReceiverID)
	assert.Equal(t, "hi bob", frame.Content)
}

func TestSendAfterCloseFails(t *testing.T) {
	done := make(chan error, 1)
	wsPair(t, func(ch *WSChannel) {
		assert.NoError(t, ch.Close())
		done <- ch.Send(context.Background(), &models.ServerFrame{Type: models.FrameTypeAck})
	})

	assert.Error(t, <-done)
}

func TestCloseIsIdempotent(t *testing.T) {
	done := make(chan struct{})
	wsPair(t, func(ch *WSChannel) {
		first := ch.Close()
		second := ch.Close()
		assert.Equal(t, first, second)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not finish")
	}
}
