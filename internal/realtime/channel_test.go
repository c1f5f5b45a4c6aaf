package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/auth"
	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/status"
	"github.com/chatroom-im/chatroom/internal/store"
)

// wsServer runs a test websocket endpoint. Each accepted connection is
// handed to serve; dials counts connection attempts that upgraded.
type wsServer struct {
	srv   *httptest.Server
	dials atomic.Int64
}

func newWSServer(t *testing.T, serve func(conn *websocket.Conn)) *wsServer {
	t.Helper()
	ws := &wsServer{}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.dials.Add(1)
		serve(conn)
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func newTestChannel(ws *wsServer, b *bus.Bus) (*Channel, *status.Machine) {
	machine := status.NewMachine(b)
	cfg := Config{
		URL:            ws.url(),
		PingInterval:   50 * time.Millisecond,
		ReconnectDelay: 50 * time.Millisecond,
	}
	return NewChannel(cfg, auth.Static("tok"), b, machine, zap.NewNop()), machine
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", kind)
		}
	}
}

func TestConnectAndReceive(t *testing.T) {
	frame := []byte(`{"id": "m1", "chat_id": "c1", "sender_id": "u1", "sender_name": "A",
		"content": "hi", "type": "text", "timestamp": "2025-01-01T00:00:00Z"}`)
	ws := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		// Hold the connection open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	b := bus.NewBus()
	events, unsub := b.Subscribe("rt.", 16)
	defer unsub()

	c, machine := newTestChannel(ws, b)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := machine.Current(); got != status.Connected {
		t.Errorf("state = %s, want CONNECTED", got)
	}

	waitForEvent(t, events, bus.KindRTConnected)
	evt := waitForEvent(t, events, bus.KindRTMessage)
	msg, ok := evt.Payload.(*store.Message)
	if !ok {
		t.Fatalf("payload type %T", evt.Payload)
	}
	if msg.ID != "m1" || msg.ChatID != "c1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	good := []byte(`{"id": "m2", "chat_id": "c1", "timestamp": "2025-01-01T00:00:00Z"}`)
	ws := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage{{`))
		_ = conn.WriteMessage(websocket.TextMessage, good)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	b := bus.NewBus()
	events, unsub := b.Subscribe(bus.KindRTMessage, 16)
	defer unsub()

	c, _ := newTestChannel(ws, b)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	evt := waitForEvent(t, events, bus.KindRTMessage)
	msg := evt.Payload.(*store.Message)
	if msg.ID != "m2" {
		t.Errorf("first delivered message = %q, want m2 (garbage dropped)", msg.ID)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {
		// Server drops every connection immediately; the channel must
		// keep coming back.
		_ = conn.Close()
	})

	b := bus.NewBus()
	c, _ := newTestChannel(ws, b)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for ws.dials.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("dials = %d, want >= 3 (no reconnect)", ws.dials.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseSuppressesReconnect(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	b := bus.NewBus()
	c, machine := newTestChannel(ws, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	c.Close()
	if got := machine.Current(); got != status.Closed {
		t.Errorf("state = %s, want CLOSED", got)
	}

	before := ws.dials.Load()
	time.Sleep(200 * time.Millisecond) // several reconnect delays
	if after := ws.dials.Load(); after != before {
		t.Errorf("dials grew from %d to %d after close", before, after)
	}
}

func TestConcurrentConnectSingleDial(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	b := bus.NewBus()
	c, machine := newTestChannel(ws, b)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Connect(context.Background()); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return machine.Current() == status.Connected },
		"channel never reached CONNECTED")
	// Give any stray dial time to land on the server.
	time.Sleep(100 * time.Millisecond)
	if dials := ws.dials.Load(); dials != 1 {
		t.Errorf("dials = %d, want exactly 1", dials)
	}
}

func TestConnectUnauthenticated(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {})

	b := bus.NewBus()
	machine := status.NewMachine(b)
	c := NewChannel(Config{URL: ws.url()}, auth.Static(""), b, machine, zap.NewNop())
	defer c.Close()

	if err := c.Connect(context.Background()); err != ErrUnauthenticated {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
	if got := machine.Current(); got != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
	if dials := ws.dials.Load(); dials != 0 {
		t.Errorf("dials = %d, want 0", dials)
	}
}

func TestConnectAfterClose(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {})

	b := bus.NewBus()
	c, _ := newTestChannel(ws, b)
	c.Close()

	if err := c.Connect(context.Background()); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {})

	b := bus.NewBus()
	c, _ := newTestChannel(ws, b)
	defer c.Close()

	// Not connected: Send drops without error, callers rely on the outbox.
	m := &store.Message{ID: "m1", ChatID: "c1", Timestamp: time.Now().UnixMilli()}
	if err := c.Send(m); err != nil {
		t.Errorf("send while disconnected: %v", err)
	}
}
