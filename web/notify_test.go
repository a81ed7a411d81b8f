package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"astro-live-stacker/pipeline"
)

// TestNotificationBroadcast verifies stats and error events reach a
// connected websocket client as typed envelopes and that shutdown
// disconnects everyone
func TestNotificationBroadcast(t *testing.T) {
	in := pipeline.NewQueue()
	hub := NewNotificationHub(in, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	defer conn.Close()

	// Wait for registration before pushing events
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	in.Push(&pipeline.StatsEvent{Stacked: 7, Histogram: make([]int, 256)})
	in.Push(&pipeline.ErrorEvent{Source: "converter", Message: "bad frame"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first notification
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("Failed to read stats notification: %v", err)
	}
	if first.Type != "stats" {
		t.Fatalf("First notification type = %s, want stats", first.Type)
	}
	statsData, _ := json.Marshal(first.Data)
	var stats pipeline.StatsEvent
	if err := json.Unmarshal(statsData, &stats); err != nil {
		t.Fatalf("Failed to decode stats payload: %v", err)
	}
	if stats.Stacked != 7 {
		t.Errorf("Stacked = %d, want 7", stats.Stacked)
	}

	var second notification
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("Failed to read error notification: %v", err)
	}
	if second.Type != "error" {
		t.Errorf("Second notification type = %s, want error", second.Type)
	}

	if hub.LastStats() == nil || hub.LastStats().Stacked != 7 {
		t.Error("LastStats not retained")
	}

	// Shutdown disconnects the client and stops the hub
	in.Push(pipeline.Shutdown{})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Hub did not stop on shutdown")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Hub still tracks %d clients after shutdown", hub.ClientCount())
	}
}

// TestHubLateConnect verifies a client connecting after shutdown is
// rejected instead of leaking
func TestHubLateConnect(t *testing.T) {
	in := pipeline.NewQueue()
	hub := NewNotificationHub(in, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()
	in.Push(pipeline.Shutdown{})
	<-done

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		// Rejected at upgrade time is fine too
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Late client kept an open connection")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Hub tracks %d clients after late connect", hub.ClientCount())
	}
}
