package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHubBroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelEvent: {}},
	}
	hub.Register(client)

	hub.BroadcastEvent(knx.EventBusDisconnected)

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelEvent {
			t.Errorf("message = %+v", wsMsg)
		}
		payload, _ := wsMsg.Payload.(map[string]any)
		if payload["event"] != "bus_disconnected" {
			t.Errorf("payload = %v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHubNoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelEvent: {}},
	}
	hub.Register(client)

	hub.BroadcastTelegram(gateway.Observation{Telegram: knx.GroupTelegram{Address: 1, Kind: knx.KindWrite}})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubUnregisterTwice(t *testing.T) {
	hub := newTestHub(t)
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	// Sending to a closed client must not panic.
	client.trySend([]byte("x"))
}

// startServer runs env.srv on an ephemeral port and dials its WebSocket.
func startServer(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { env.srv.Close() })

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+env.srv.Addr()+"/api/v1/ws"+query, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Hub().ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestWebSocketMonitor(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := startServer(t, env, "?channels=telegram")

	if err := env.device.WriteValue(context.Background(), knx.NewGroupAddress(1, 2, 3), dpt.Float16(21)); err != nil {
		t.Fatalf("WriteValue() error: %v", err)
	}

	msg := readWS(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelTelegram {
		t.Fatalf("message = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", msg.Payload)
	}
	if payload["address"] != "1/2/3" || payload["kind"] != "write" || payload["value"] != float64(21) {
		t.Errorf("payload = %v", payload)
	}
	if payload["source"] != "1.1.5" || payload["name"] != "Living" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocketSubscribe(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := startServer(t, env, "")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelEvent}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	env.srv.Hub().BroadcastEvent(knx.EventBusConnected)
	if msg := readWS(t, ws); msg.EventType != ChannelEvent {
		t.Errorf("message = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypePong || resp.ID != "p1" {
		t.Errorf("ping response = %+v", resp)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("invalid message response = %+v", resp)
	}

	if err := ws.WriteJSON(WSMessage{Type: "shout", ID: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError || resp.ID != "x" {
		t.Errorf("unknown type response = %+v", resp)
	}
}
