package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ptrevors/beurerd/internal/engine"
)

func dialTestWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(s.buildRouter())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(t, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	conn := dialTestWS(t, s)

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelState}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	// First frame is the subscribe acknowledgement.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON() ack error = %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	s.hub.Broadcast(ChannelState, engine.DeviceState{WhiteOn: true, WhiteBrightness: 80})

	var evt WSMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("ReadJSON() event error = %v", err)
	}
	if evt.Type != WSTypeEvent || evt.EventType != ChannelState {
		t.Fatalf("event = %+v", evt)
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		t.Fatalf("remarshalling payload: %v", err)
	}
	var st engine.DeviceState
	if err := json.Unmarshal(payload, &st); err != nil {
		t.Fatalf("unmarshalling state: %v", err)
	}
	if !st.WhiteOn || st.WhiteBrightness != 80 {
		t.Errorf("state = %+v", st)
	}
}

func TestWebSocket_UnsubscribedReceivesNothing(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(t, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	conn := dialTestWS(t, s)

	// No subscription; broadcast must not reach the client.
	s.hub.Broadcast(ChannelState, engine.DeviceState{WhiteOn: true})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	conn := dialTestWS(t, s)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong WSMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestWebSocket_RejectsUnknownType(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	conn := dialTestWS(t, s)

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "x"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != WSTypeError {
		t.Errorf("type = %s, want error", msg.Type)
	}
}
