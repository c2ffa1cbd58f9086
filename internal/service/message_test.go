package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alphaworks/marketplace-messaging/internal/model"
	"github.com/alphaworks/marketplace-messaging/internal/notifier"
	"github.com/alphaworks/marketplace-messaging/internal/store"
	"github.com/alphaworks/marketplace-messaging/pkg/logger"
)

func TestSendThenListIncludesMessageLast(t *testing.T) {
	ctx := context.Background()
	_, convSvc, msgSvc := newFixture()

	conv, err := convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := msgSvc.Send(ctx, "u1", conv.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "hello",
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	sent, err := msgSvc.Send(ctx, "u2", conv.ID, &model.SendMessageRequest{
		ToUserID: "u1", Body: "hi back",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	resp, err := msgSvc.List(ctx, "u1", conv.ID, 0, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Body != "hello" || resp.Messages[0].FromUserID != "u1" {
		t.Fatalf("wrong first message: %+v", resp.Messages[0])
	}
	last := resp.Messages[len(resp.Messages)-1]
	if last.ID != sent.ID {
		t.Fatal("freshly sent message must be the last element")
	}
}

func TestSendValidatesMembershipAndBody(t *testing.T) {
	ctx := context.Background()
	_, convSvc, msgSvc := newFixture()

	conv, err := convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Non-member sender.
	_, err = msgSvc.Send(ctx, "u3", conv.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "hi",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for outside sender, got %v", err)
	}

	// Non-member recipient.
	_, err = msgSvc.Send(ctx, "u1", conv.ID, &model.SendMessageRequest{
		ToUserID: "u3", Body: "hi",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for outside recipient, got %v", err)
	}

	// Empty body.
	_, err = msgSvc.Send(ctx, "u1", conv.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty body, got %v", err)
	}

	// Unknown conversation.
	_, err = msgSvc.Send(ctx, "u1", "00000000-0000-0000-0000-000000000000", &model.SendMessageRequest{
		ToUserID: "u2", Body: "hi",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Nothing was persisted by the failed attempts.
	resp, err := msgSvc.List(ctx, "u1", conv.ID, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 0 {
		t.Fatalf("rejected sends persisted %d messages", len(resp.Messages))
	}
}

func TestSendPublishesToSubscribersOfThatChannelOnly(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	log := logger.NewNop()
	notif := notifier.NewMemory()
	convSvc := NewConversationService(repo, log, 50)
	msgSvc := NewMessageService(repo, convSvc, notif, log, 100)

	convA, err := convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	convB, err := convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u3"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var gotA, gotB []model.MessageEvent
	if err := notif.Subscribe(convA.ID, "conn-a", func(ev model.MessageEvent) {
		mu.Lock()
		gotA = append(gotA, ev)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}
	if err := notif.Subscribe(convB.ID, "conn-b", func(ev model.MessageEvent) {
		mu.Lock()
		gotB = append(gotB, ev)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	sent, err := msgSvc.Send(ctx, "u1", convA.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotA) != 1 {
		t.Fatalf("channel A subscriber got %d events, want 1", len(gotA))
	}
	if gotA[0].Type != model.EventTypeNewMessage || gotA[0].Message.ID != sent.ID {
		t.Fatalf("wrong event: %+v", gotA[0])
	}
	if len(gotB) != 0 {
		t.Fatalf("channel B subscriber got %d events, want 0", len(gotB))
	}
}

// failingNotifier always rejects publishes.
type failingNotifier struct{ notifier.Notifier }

func (f failingNotifier) Publish(ctx context.Context, event model.MessageEvent) error {
	return fmt.Errorf("broker down")
}

func TestNotifyFailureDoesNotFailSend(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	log := logger.NewNop()
	convSvc := NewConversationService(repo, log, 50)
	msgSvc := NewMessageService(repo, convSvc, failingNotifier{notifier.NewMemory()}, log, 100)

	conv, err := convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// The message is durable even when the wake-up signal drops.
	sent, err := msgSvc.Send(ctx, "u1", conv.ID, &model.SendMessageRequest{
		ToUserID: "u2", Body: "hello",
	})
	if err != nil {
		t.Fatalf("send must succeed despite notify failure, got %v", err)
	}

	resp, err := msgSvc.List(ctx, "u2", conv.ID, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != sent.ID {
		t.Fatalf("message not durable: %+v", resp.Messages)
	}
}

func TestSendClientRefDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	_, convSvc, msgSvc := newFixture()

	conv, err := convSvc.Create(ctx, "u1", &model.CreateConversationRequest{
		ParticipantIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := &model.SendMessageRequest{ToUserID: "u2", Body: "hello", ClientRef: "ref-1"}
	first, err := msgSvc.Send(ctx, "u1", conv.ID, req)
	if err != nil {
		t.Fatal(err)
	}
	retry, err := msgSvc.Send(ctx, "u1", conv.ID, req)
	if err != nil {
		t.Fatal(err)
	}
	if retry.ID != first.ID {
		t.Fatalf("retried send duplicated: %s vs %s", first.ID, retry.ID)
	}

	resp, err := msgSvc.List(ctx, "u1", conv.ID, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(resp.Messages))
	}
}
