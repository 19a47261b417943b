package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestTransport_ConnectSendClose(t *testing.T) {
	received := make(chan []byte, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := New(DefaultConfig(), nil)
	if err := tr.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !tr.IsConnected() {
		t.Error("expected IsConnected true")
	}

	if err := tr.Send([]byte(`{"op":1,"d":null}`), false); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != `{"op":1,"d":null}` {
			t.Errorf("server received %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received message")
	}

	stats := tr.Stats()
	if stats.FramesSent != 1 || stats.BytesSent == 0 {
		t.Errorf("counters = %+v", stats)
	}

	if err := tr.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if tr.IsConnected() {
		t.Error("expected IsConnected false after Close")
	}
	// Close is idempotent.
	if err := tr.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestTransport_SendNotConnected(t *testing.T) {
	tr := New(DefaultConfig(), nil)
	if err := tr.Send([]byte("x"), false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestTransport_ReceivesFrames(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":10}`))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		time.Sleep(time.Second)
	})
	defer server.Close()

	tr := New(DefaultConfig(), nil)
	if err := tr.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close(websocket.CloseNormalClosure, "")

	first := <-tr.Frames()
	if first.Binary || string(first.Data) != `{"op":10}` {
		t.Errorf("first frame = %+v", first)
	}
	second := <-tr.Frames()
	if !second.Binary || len(second.Data) != 2 {
		t.Errorf("second frame = %+v", second)
	}

	stats := tr.Stats()
	if stats.FramesReceived != 2 {
		t.Errorf("FramesReceived = %d, want 2", stats.FramesReceived)
	}
}

func TestTransport_CloseCodeSurfaced(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(4004, "Authentication failed."),
			time.Now().Add(time.Second),
		)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	tr := New(DefaultConfig(), nil)
	if err := tr.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case err := <-tr.Errors():
		var ce *CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("error type = %T (%v), want *CloseError", err, err)
		}
		if ce.Code != 4004 {
			t.Errorf("Code = %d, want 4004", ce.Code)
		}
		if ce.Text != "Authentication failed." {
			t.Errorf("Text = %q", ce.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced")
	}
}

func TestTransport_StaleDetection(t *testing.T) {
	// A server that never answers pings.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error { return nil }) // swallow
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 120 * time.Millisecond

	tr := New(cfg, nil)
	if err := tr.Connect(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close(websocket.CloseNormalClosure, "")

	select {
	case err := <-tr.Errors():
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("error = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stale connection never detected")
	}
}
