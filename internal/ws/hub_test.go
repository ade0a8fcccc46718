package ws_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/positivemultiplier/posmul-engine/internal/ws"
)

func dialTestClient(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ws.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	return msg
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := ws.NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c1 := dialTestClient(t, url)
	defer c1.Close()
	c2 := dialTestClient(t, url)
	defer c2.Close()

	// Registration goes through the hub loop.
	time.Sleep(100 * time.Millisecond)

	hub.Broadcast(ws.Message{Type: "pool_update", GameID: "g1", TotalPool: "150", Participants: 2})

	for _, c := range []*websocket.Conn{c1, c2} {
		msg := readMessage(t, c)
		if msg.Type != "pool_update" || msg.GameID != "g1" || msg.TotalPool != "150" {
			t.Errorf("unexpected message: %+v", msg)
		}
	}
}

func TestHubSurvivesDisconnectedClient(t *testing.T) {
	hub := ws.NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	dead := dialTestClient(t, url)
	alive := dialTestClient(t, url)
	defer alive.Close()

	time.Sleep(100 * time.Millisecond)
	dead.Close()
	time.Sleep(100 * time.Millisecond)

	// Broadcasts keep flowing to the remaining client while the hub drops
	// the dead one.
	hub.Broadcast(ws.Message{Type: "wave_executed", WaveID: "w1", WaveType: "WAVE1_EQUAL", PMCIssued: "100"})
	msg := readMessage(t, alive)
	if msg.Type != "wave_executed" || msg.WaveID != "w1" {
		t.Errorf("unexpected message: %+v", msg)
	}

	hub.Broadcast(ws.Message{Type: "pool_update", GameID: "g2", TotalPool: "10"})
	msg = readMessage(t, alive)
	if msg.GameID != "g2" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
