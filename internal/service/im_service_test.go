package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/mongo"
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestIM(t *testing.T) (*fakeMessageRepo, *fakeConvRepo, *fakeRouter, IMService) {
	t.Helper()
	repo, convRepo, router, status := newTestStatus()
	svc := NewIMService(convRepo, repo, status, router)
	t.Cleanup(svc.Close)
	return repo, convRepo, router, svc
}

func TestSendMessagePersistsAndBroadcasts(t *testing.T) {
	repo, convRepo, router, svc := newTestIM(t)
	convRepo.memberIDs[10] = []uint64{1, 2}

	res, err := svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: 10,
		MsgType:        1,
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.ID == "" {
		t.Fatalf("message must get an id at creation")
	}

	got := repo.get(res.ID)
	if got == nil {
		t.Fatalf("message not persisted")
	}
	if got.Status != mongo.StatusSent {
		t.Errorf("status = %s, want sent after successful persistence", got.Status)
	}

	received := router.named("message-received")
	if len(received) != 1 || received[0].id != 10 {
		t.Errorf("message-received must fan out to conversation 10, got %+v", received)
	}
	if len(router.named("conversation-updated")) != 1 {
		t.Errorf("ledger change must broadcast conversation-updated")
	}
	if len(router.named("message-status-update")) != 1 {
		t.Errorf("sender gets a sent status update")
	}
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	_, convRepo, _, svc := newTestIM(t)
	convRepo.memberIDs[10] = []uint64{1, 2}

	_, err := svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{ConversationID: 10, MsgType: 1})
	if !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("err = %v, want ErrMessageEmpty", err)
	}
}

func TestSendMessageRejectsNonMember(t *testing.T) {
	_, convRepo, _, svc := newTestIM(t)
	convRepo.memberIDs[10] = []uint64{1, 2}

	_, err := svc.SendMessage(context.Background(), 3, &dto.SendMessageReq{
		ConversationID: 10,
		MsgType:        1,
		Content:        "hi",
	})
	if !errors.Is(err, UnauthorizedError) {
		t.Errorf("err = %v, want UnauthorizedError", err)
	}
}

func TestGetOrCreateConversationRejectsSelf(t *testing.T) {
	_, _, _, svc := newTestIM(t)

	if _, err := svc.GetOrCreateConversation(context.Background(), 1, 1); !errors.Is(err, ErrTargetUserInvalid) {
		t.Errorf("err = %v, want ErrTargetUserInvalid", err)
	}
}

func TestCreateGroupConversation(t *testing.T) {
	_, convRepo, _, svc := newTestIM(t)

	convID, err := svc.CreateGroupConversation(context.Background(), 1, &dto.CreateGroupReq{
		Name:      "team",
		MemberIDs: []uint64{2, 3, 1},
	})
	if err != nil {
		t.Fatalf("CreateGroupConversation: %v", err)
	}
	members := convRepo.memberIDs[convID]
	if len(members) != 3 {
		t.Errorf("members = %v, want creator plus two (deduplicated)", members)
	}

	_, err = svc.CreateGroupConversation(context.Background(), 1, &dto.CreateGroupReq{Name: "solo", MemberIDs: []uint64{1}})
	if !errors.Is(err, ErrGroupMemberTooFew) {
		t.Errorf("err = %v, want ErrGroupMemberTooFew", err)
	}
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("消息内容", 100)
	got := preview(&mongo.Message{MsgType: 1, Content: long})

	if !utf8.ValidString(got) {
		t.Errorf("摘要截断后必须仍是合法 UTF-8: %q", got[len(got)-6:])
	}
	if n := utf8.RuneCountInString(got); n != previewMaxRunes {
		t.Errorf("rune count = %d, want %d", n, previewMaxRunes)
	}
	if !strings.HasPrefix(long, got) {
		t.Errorf("摘要必须是原文前缀")
	}
}

func TestPreviewShortContentUntouched(t *testing.T) {
	if got := preview(&mongo.Message{MsgType: 1, Content: "你好"}); got != "你好" {
		t.Errorf("preview = %q, want 原文", got)
	}
}

func TestMarkConversationReadRequiresMembership(t *testing.T) {
	repo, convRepo, _, svc := newTestIM(t)
	convRepo.memberIDs[10] = []uint64{1, 2}
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	if _, err := svc.MarkConversationRead(context.Background(), 3, 10); !errors.Is(err, UnauthorizedError) {
		t.Errorf("err = %v, want UnauthorizedError", err)
	}

	count, err := svc.MarkConversationRead(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
