package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/starline/starline-api/internal/middleware"
	"github.com/starline/starline-api/internal/pkg/jwt"
)

func TestHubPublishLocal(t *testing.T) {
	hub := NewHub(nil)
	userID := uuid.New()
	other := uuid.New()

	conn := &Connection{UserID: userID, Send: make(chan []byte, 1)}
	hub.Register(conn)
	defer hub.Unregister(conn)

	if err := hub.Publish(context.Background(), other, Event{Type: EventWalletUpdated}); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if err := hub.Publish(context.Background(), userID, Event{Type: EventCallBilled, Data: map[string]int{"cost": 7}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case raw := <-conn.Send:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != EventCallBilled || ev.UserID != userID {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected an event")
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	userID := uuid.New()
	conn := &Connection{UserID: userID, Send: make(chan []byte, 1)}
	hub.Register(conn)

	for i := 0; i < 3; i++ {
		if err := hub.Publish(context.Background(), userID, Event{Type: EventBattleTip}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(conn.Send) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(conn.Send))
	}

	hub.Unregister(conn)
	if _, ok := <-conn.Send; !ok {
		t.Fatal("expected buffered event before close")
	}
	if _, ok := <-conn.Send; ok {
		t.Fatal("expected closed channel after unregister")
	}
}

func TestWebSocketDelivers(t *testing.T) {
	jwtSvc := jwt.NewService("ws-secret", time.Minute)
	hub := NewHub(nil)
	h := NewHandler(hub, []string{"*"})

	srv := httptest.NewServer(middleware.Auth(jwtSvc)(http.HandlerFunc(h.WebSocket)))
	defer srv.Close()

	userID := uuid.New()
	token, _ := jwtSvc.GenerateAccessToken(userID, jwt.RoleUser)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.connections[userID])
		hub.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(context.Background(), userID, Event{Type: EventPaymentCompleted}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventPaymentCompleted {
		t.Fatalf("unexpected event %+v", ev)
	}
}
