package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alphaworks/marketplace-messaging/internal/model"
)

func dialWS(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws?token=" + token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("failed to decode frame %q: %v", raw, err)
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func TestWSRejectsMissingOrBadToken(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token must fail")
	}
	if _, _, err := websocket.DefaultDialer.Dial(url+"?token=garbage", nil); err == nil {
		t.Fatal("dial with bad token must fail")
	}
}

func TestWSJoinDeliversNewMessageEvents(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx := context.Background()
	conv, err := env.convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	conn := dialWS(t, server, "u2")
	writeFrame(t, conn, map[string]string{
		"type":            "joinConversation",
		"conversation_id": conv.ID,
	})

	var ack struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
	}
	readFrame(t, conn, &ack)
	if ack.Type != "joined" || ack.ConversationID != conv.ID {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	// Another participant sends; the subscriber gets exactly one event.
	sent, err := env.msgSvc.Send(ctx, "u1", conv.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	var ev model.MessageEvent
	readFrame(t, conn, &ev)
	if ev.Type != model.EventTypeNewMessage {
		t.Fatalf("got event type %q", ev.Type)
	}
	if ev.Message.ID != sent.ID || ev.Message.Body != "hello" {
		t.Fatalf("wrong message in event: %+v", ev.Message)
	}

	// No second frame is pending.
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("received an unexpected extra frame")
	}
}

func TestWSJoinSwitchesChannels(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx := context.Background()
	convA, err := env.convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	convB, err := env.convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2", "u3"},
	})
	if err != nil {
		t.Fatal(err)
	}

	conn := dialWS(t, server, "u2")

	var ack struct {
		Type string `json:"type"`
	}
	writeFrame(t, conn, map[string]string{"type": "joinConversation", "conversation_id": convA.ID})
	readFrame(t, conn, &ack)
	writeFrame(t, conn, map[string]string{"type": "joinConversation", "conversation_id": convB.ID})
	readFrame(t, conn, &ack)
	if ack.Type != "joined" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	// Traffic on the abandoned channel A must not reach the client.
	if _, err := env.msgSvc.Send(ctx, "u1", convA.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "stale",
	}); err != nil {
		t.Fatal(err)
	}
	// Traffic on B does.
	sent, err := env.msgSvc.Send(ctx, "u1", convB.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "fresh",
	})
	if err != nil {
		t.Fatal(err)
	}

	var ev model.MessageEvent
	readFrame(t, conn, &ev)
	if ev.ConversationID != convB.ID || ev.Message.ID != sent.ID {
		t.Fatalf("got event for wrong channel: %+v", ev)
	}
}

func TestWSJoinDeniedForOutsider(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx := context.Background()
	conv, err := env.convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	conn := dialWS(t, server, "u9")
	writeFrame(t, conn, map[string]string{
		"type":            "joinConversation",
		"conversation_id": conv.ID,
	})

	var reply struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	readFrame(t, conn, &reply)
	if reply.Type != "error" || reply.Error != "conversation not found" {
		t.Fatalf("outsider join must look like a missing thread, got %+v", reply)
	}

	// The outsider receives nothing when participants talk.
	if _, err := env.msgSvc.Send(ctx, "u1", conv.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "private",
	}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("outsider received an event")
	}
}
