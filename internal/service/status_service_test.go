package service

import (
	"Parley/internal/model"
	"Parley/internal/pkg/mongo"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeMessageRepo 按真实集合语义在内存中实现 MessageRepo
type fakeMessageRepo struct {
	mu   sync.Mutex
	msgs map[string]*mongo.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{msgs: make(map[string]*mongo.Message)}
}

func (f *fakeMessageRepo) put(msg *mongo.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.msgs[msg.ID] = &cp
}

func (f *fakeMessageRepo) get(id string) *mongo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.msgs[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

func (f *fakeMessageRepo) Save(_ context.Context, msg *mongo.Message) error {
	f.put(msg)
	return nil
}

func (f *fakeMessageRepo) FindByID(_ context.Context, id string) (*mongo.Message, error) {
	if m := f.get(id); m != nil {
		return m, nil
	}
	return nil, mongo.ErrMessageNotFound
}

func (f *fakeMessageRepo) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil
	}
	if m.Status == mongo.StatusPending || m.Status == mongo.StatusSending {
		now := time.Now()
		m.Status = mongo.StatusSent
		m.SentAt = &now
	}
	return nil
}

func (f *fakeMessageRepo) AddDelivered(_ context.Context, id string, userID uint64, firstDelivery bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil
	}
	if !contains(m.DeliveredTo, userID) {
		m.DeliveredTo = append(m.DeliveredTo, userID)
	}
	if firstDelivery {
		now := time.Now()
		m.DeliveredAt = &now
	}
	switch m.Status {
	case mongo.StatusPending, mongo.StatusSending, mongo.StatusSent:
		m.Status = mongo.StatusDelivered
	}
	return nil
}

func (f *fakeMessageRepo) AddRead(_ context.Context, id string, userID uint64, firstDelivery bool, firstRead bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil
	}
	if !contains(m.ReadBy, userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
	if !contains(m.DeliveredTo, userID) {
		m.DeliveredTo = append(m.DeliveredTo, userID)
	}
	now := time.Now()
	if firstDelivery {
		m.DeliveredAt = &now
	}
	if firstRead {
		m.ReadAt = &now
	}
	m.Status = mongo.StatusRead
	return nil
}

func (f *fakeMessageRepo) RecordFailure(_ context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil
	}
	m.Status = mongo.StatusFailed
	m.FailureReason = reason
	m.RetryCount++
	return nil
}

func (f *fakeMessageRepo) ResetForRetry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok || m.Status != mongo.StatusFailed {
		return nil
	}
	m.Status = mongo.StatusPending
	m.FailureReason = ""
	return nil
}

func (f *fakeMessageRepo) GetHistory(_ context.Context, convID uint64, _ time.Time, _ int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for _, m := range f.msgs {
		if m.ConversationID == convID {
			cp := *m
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (f *fakeMessageRepo) FindUndelivered(_ context.Context, userID uint64, convIDs []uint64, since time.Time, limit int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for _, m := range f.msgs {
		if !containsConv(convIDs, m.ConversationID) || m.SenderID == userID {
			continue
		}
		if contains(m.DeliveredTo, userID) || m.CreatedAt.Before(since) {
			continue
		}
		if len(res) >= limit {
			break
		}
		cp := *m
		res = append(res, &cp)
	}
	return res, nil
}

func (f *fakeMessageRepo) FindUnread(_ context.Context, convID uint64, readerID uint64) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for _, m := range f.msgs {
		if m.ConversationID != convID || m.SenderID == readerID || contains(m.ReadBy, readerID) {
			continue
		}
		cp := *m
		res = append(res, &cp)
	}
	return res, nil
}

func (f *fakeMessageRepo) FindStuckSending(_ context.Context, deadline time.Time, limit int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for _, m := range f.msgs {
		if m.Status == mongo.StatusSending && m.CreatedAt.Before(deadline) && len(res) < limit {
			cp := *m
			res = append(res, &cp)
		}
	}
	return res, nil
}

func contains(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsConv(ids []uint64, id uint64) bool { return contains(ids, id) }

// routedEvent 记录一次事件路由调用
type routedEvent struct {
	target  string // conversation / user / others
	id      uint64
	event   string
	payload any
}

type fakeRouter struct {
	mu     sync.Mutex
	events []routedEvent
}

func (f *fakeRouter) ToConversation(_ context.Context, convID uint64, _ uint64, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, routedEvent{target: "conversation", id: convID, event: event, payload: payload})
}

func (f *fakeRouter) ToUser(_ context.Context, userID uint64, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, routedEvent{target: "user", id: userID, event: event, payload: payload})
	return 1
}

func (f *fakeRouter) ToAllOthers(_ context.Context, exceptUserID uint64, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, routedEvent{target: "others", id: exceptUserID, event: event, payload: payload})
}

func (f *fakeRouter) named(event string) []routedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []routedEvent
	for _, e := range f.events {
		if e.event == event {
			res = append(res, e)
		}
	}
	return res
}

// fakeConvRepo 只实现状态机与补投路径依赖的少数方法
type fakeConvRepo struct {
	mu          sync.Mutex
	memberIDs   map[uint64][]uint64
	convIDs     map[uint64][]uint64
	unreadReset []uint64
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{memberIDs: make(map[uint64][]uint64), convIDs: make(map[uint64][]uint64)}
}

func (f *fakeConvRepo) CreateConversation(_ context.Context, conv *model.Conversation, members []*model.ConversationMember) error {
	conv.ID = uint64(len(f.memberIDs) + 1)
	var ids []uint64
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	f.memberIDs[conv.ID] = ids
	return nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	return &model.Conversation{ID: convID}, nil
}

func (f *fakeConvRepo) GetConversationByPeerKey(_ context.Context, _ string) (*model.Conversation, error) {
	return nil, fmt.Errorf("record not found")
}

func (f *fakeConvRepo) IsMember(_ context.Context, convID uint64, userID uint64) (bool, error) {
	return contains(f.memberIDs[convID], userID), nil
}

func (f *fakeConvRepo) GetMemberIDs(_ context.Context, convID uint64) ([]uint64, error) {
	return f.memberIDs[convID], nil
}

func (f *fakeConvRepo) GetConversationIDs(_ context.Context, userID uint64) ([]uint64, error) {
	return f.convIDs[userID], nil
}

func (f *fakeConvRepo) TouchLastMessage(_ context.Context, _ uint64, _ string, _ string, _ int8, _ uint64) error {
	return nil
}

func (f *fakeConvRepo) ResetUnread(_ context.Context, convID uint64, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadReset = append(f.unreadReset, convID)
	return nil
}

func (f *fakeConvRepo) GetUserConversationMemList(_ context.Context, _ uint64) ([]*model.ConversationMember, error) {
	return nil, nil
}

func (f *fakeConvRepo) GetTotalUnreadCount(_ context.Context, _ uint64) (int64, error) {
	return 0, nil
}

func newTestStatus() (*fakeMessageRepo, *fakeConvRepo, *fakeRouter, StatusService) {
	msgRepo := newFakeMessageRepo()
	convRepo := newFakeConvRepo()
	router := &fakeRouter{}
	return msgRepo, convRepo, router, NewStatusService(msgRepo, convRepo, router, nil)
}

func seedMessage(repo *fakeMessageRepo, id string, convID, senderID uint64, status string) *mongo.Message {
	msg := &mongo.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		MsgType:        1,
		Content:        "hello",
		Status:         status,
		CreatedAt:      time.Now(),
	}
	repo.put(msg)
	return msg
}

func TestApplyDeliveryAdvancesStatus(t *testing.T) {
	repo, _, router, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	if err := svc.ApplyDelivery(context.Background(), "m1", 2); err != nil {
		t.Fatalf("ApplyDelivery: %v", err)
	}

	got := repo.get("m1")
	if got.Status != mongo.StatusDelivered {
		t.Errorf("status = %s, want delivered", got.Status)
	}
	if !got.WasDeliveredTo(2) {
		t.Errorf("delivered_to missing recipient")
	}
	if got.DeliveredAt == nil {
		t.Errorf("delivered_at not set on first delivery")
	}
	if len(router.named("message-status-update")) != 1 {
		t.Errorf("expected one status update event")
	}
	receipts := router.named("message-delivered")
	if len(receipts) != 1 || receipts[0].id != 1 {
		t.Errorf("delivery receipt should go to sender, got %+v", receipts)
	}
}

func TestApplyDeliveryIdempotent(t *testing.T) {
	repo, _, router, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	for i := 0; i < 3; i++ {
		if err := svc.ApplyDelivery(context.Background(), "m1", 2); err != nil {
			t.Fatalf("ApplyDelivery #%d: %v", i, err)
		}
	}

	got := repo.get("m1")
	if len(got.DeliveredTo) != 1 {
		t.Errorf("delivered_to = %v, want single entry", got.DeliveredTo)
	}
	if len(router.named("message-delivered")) != 1 {
		t.Errorf("duplicate receipts must not re-emit events")
	}
}

func TestApplyDeliveryFromSenderIgnored(t *testing.T) {
	repo, _, router, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	if err := svc.ApplyDelivery(context.Background(), "m1", 1); err != nil {
		t.Fatalf("ApplyDelivery: %v", err)
	}

	got := repo.get("m1")
	if len(got.DeliveredTo) != 0 {
		t.Errorf("sender must not enter delivered_to")
	}
	if len(router.events) != 0 {
		t.Errorf("sender receipt must not emit events")
	}
}

func TestApplyDeliveryMissingMessageDropped(t *testing.T) {
	_, _, router, svc := newTestStatus()

	if err := svc.ApplyDelivery(context.Background(), "ghost", 2); err != nil {
		t.Fatalf("missing message must not error, got %v", err)
	}
	if len(router.events) != 0 {
		t.Errorf("missing message must not emit events")
	}
}

func TestApplyDeliveryNeverDowngradesRead(t *testing.T) {
	repo, _, _, svc := newTestStatus()
	msg := seedMessage(repo, "m1", 10, 1, mongo.StatusRead)
	now := time.Now()
	msg.DeliveredTo = []uint64{2}
	msg.ReadBy = []uint64{2}
	msg.DeliveredAt = &now
	msg.ReadAt = &now
	repo.put(msg)

	if err := svc.ApplyDelivery(context.Background(), "m1", 3); err != nil {
		t.Fatalf("ApplyDelivery: %v", err)
	}

	got := repo.get("m1")
	if got.Status != mongo.StatusRead {
		t.Errorf("status = %s, delivery must not downgrade read", got.Status)
	}
	if !got.WasDeliveredTo(3) {
		t.Errorf("later recipients still join delivered_to")
	}
}

func TestApplyReadImpliesDelivery(t *testing.T) {
	repo, _, router, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	if err := svc.ApplyRead(context.Background(), "m1", 2); err != nil {
		t.Fatalf("ApplyRead: %v", err)
	}

	got := repo.get("m1")
	if got.Status != mongo.StatusRead {
		t.Errorf("status = %s, want read", got.Status)
	}
	if !got.WasReadBy(2) || !got.WasDeliveredTo(2) {
		t.Errorf("read receipt must populate both sets, got read_by=%v delivered_to=%v", got.ReadBy, got.DeliveredTo)
	}
	if got.DeliveredAt == nil || got.ReadAt == nil {
		t.Errorf("first read must set both timestamps")
	}
	receipts := router.named("message-read")
	if len(receipts) != 1 || receipts[0].id != 1 {
		t.Errorf("read receipt should go to sender, got %+v", receipts)
	}
}

func TestReadSubsetOfDelivered(t *testing.T) {
	repo, _, _, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	_ = svc.ApplyDelivery(context.Background(), "m1", 2)
	_ = svc.ApplyRead(context.Background(), "m1", 2)
	_ = svc.ApplyRead(context.Background(), "m1", 3)

	got := repo.get("m1")
	for _, reader := range got.ReadBy {
		if !got.WasDeliveredTo(reader) {
			t.Errorf("read_by %d not in delivered_to %v", reader, got.DeliveredTo)
		}
	}
}

func TestApplyReadIdempotent(t *testing.T) {
	repo, _, router, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	_ = svc.ApplyRead(context.Background(), "m1", 2)
	firstReadAt := repo.get("m1").ReadAt
	_ = svc.ApplyRead(context.Background(), "m1", 2)

	got := repo.get("m1")
	if len(got.ReadBy) != 1 {
		t.Errorf("read_by = %v, want single entry", got.ReadBy)
	}
	if got.ReadAt != firstReadAt && !got.ReadAt.Equal(*firstReadAt) {
		t.Errorf("read_at must keep first read time")
	}
	if len(router.named("message-read")) != 1 {
		t.Errorf("duplicate read must not re-emit events")
	}
}

func TestMarkAllRead(t *testing.T) {
	repo, convRepo, router, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)
	seedMessage(repo, "m2", 10, 1, mongo.StatusDelivered)
	// 自己发的，不参与
	seedMessage(repo, "m3", 10, 2, mongo.StatusSent)
	// 别的会话
	seedMessage(repo, "m4", 11, 1, mongo.StatusSent)

	count, err := svc.MarkAllRead(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if repo.get("m3").Status != mongo.StatusSent || repo.get("m4").Status != mongo.StatusSent {
		t.Errorf("own messages and other conversations must be untouched")
	}
	if len(convRepo.unreadReset) != 1 || convRepo.unreadReset[0] != 10 {
		t.Errorf("unread counter must be reset for conversation 10")
	}
	if len(router.named("conversation-read")) != 1 {
		t.Errorf("expected conversation level receipt")
	}
}

func TestMarkAllReadAlreadyRead(t *testing.T) {
	repo, _, _, svc := newTestStatus()
	msg := seedMessage(repo, "m1", 10, 1, mongo.StatusRead)
	msg.ReadBy = []uint64{2}
	msg.DeliveredTo = []uint64{2}
	repo.put(msg)

	count, err := svc.MarkAllRead(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 for fully read conversation", count)
	}
}

func TestRecordFailureAccumulates(t *testing.T) {
	repo, _, router, svc := newTestStatus()
	seedMessage(repo, "m1", 10, 1, mongo.StatusSending)

	_ = svc.RecordFailure(context.Background(), "m1", "broker down")
	_ = svc.RecordFailure(context.Background(), "m1", "broker down")

	got := repo.get("m1")
	if got.Status != mongo.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2 (each failure counts)", got.RetryCount)
	}
	updates := router.named("message-status-update")
	if len(updates) != 2 {
		t.Errorf("each failure emits a status update, got %d", len(updates))
	}
	for _, e := range updates {
		if e.target != "user" || e.id != 1 {
			t.Errorf("failure updates go to sender only, got %+v", e)
		}
	}
}

func TestRetryResetOnlyFromFailed(t *testing.T) {
	repo, _, _, svc := newTestStatus()
	msg := seedMessage(repo, "m1", 10, 1, mongo.StatusFailed)
	msg.FailureReason = "send timeout"
	msg.RetryCount = 1
	repo.put(msg)
	seedMessage(repo, "m2", 10, 1, mongo.StatusSent)

	if err := svc.RetryReset(context.Background(), "m1"); err != nil {
		t.Fatalf("RetryReset: %v", err)
	}
	got := repo.get("m1")
	if got.Status != mongo.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.FailureReason != "" {
		t.Errorf("failure_reason must be cleared")
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count must survive the reset")
	}

	if err := svc.RetryReset(context.Background(), "m2"); err != nil {
		t.Fatalf("RetryReset non-failed: %v", err)
	}
	if repo.get("m2").Status != mongo.StatusSent {
		t.Errorf("retry on a non-failed message must be ignored")
	}
}

func TestMarkSent(t *testing.T) {
	repo, _, router, svc := newTestStatus()
	msg := seedMessage(repo, "m1", 10, 1, mongo.StatusSending)

	if err := svc.MarkSent(context.Background(), msg); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if msg.Status != mongo.StatusSent || msg.SentAt == nil {
		t.Errorf("in-memory message must advance to sent")
	}
	if repo.get("m1").Status != mongo.StatusSent {
		t.Errorf("persisted status = %s, want sent", repo.get("m1").Status)
	}
	updates := router.named("message-status-update")
	if len(updates) != 1 || updates[0].id != 1 {
		t.Errorf("sent update goes to sender, got %+v", updates)
	}
}
