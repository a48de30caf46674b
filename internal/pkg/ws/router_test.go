package ws

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"context"
	"testing"

	json "github.com/goccy/go-json"
)

type stubConvRepo struct {
	memberIDs map[uint64][]uint64
}

func (s *stubConvRepo) CreateConversation(_ context.Context, _ *model.Conversation, _ []*model.ConversationMember) error {
	return nil
}
func (s *stubConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	return &model.Conversation{ID: convID}, nil
}
func (s *stubConvRepo) GetConversationByPeerKey(_ context.Context, _ string) (*model.Conversation, error) {
	return nil, nil
}
func (s *stubConvRepo) IsMember(_ context.Context, _ uint64, _ uint64) (bool, error) {
	return true, nil
}
func (s *stubConvRepo) GetMemberIDs(_ context.Context, convID uint64) ([]uint64, error) {
	return s.memberIDs[convID], nil
}
func (s *stubConvRepo) GetConversationIDs(_ context.Context, _ uint64) ([]uint64, error) {
	return nil, nil
}
func (s *stubConvRepo) TouchLastMessage(_ context.Context, _ uint64, _ string, _ string, _ int8, _ uint64) error {
	return nil
}
func (s *stubConvRepo) ResetUnread(_ context.Context, _ uint64, _ uint64) error { return nil }
func (s *stubConvRepo) GetUserConversationMemList(_ context.Context, _ uint64) ([]*model.ConversationMember, error) {
	return nil, nil
}
func (s *stubConvRepo) GetTotalUnreadCount(_ context.Context, _ uint64) (int64, error) {
	return 0, nil
}

type stubNotifier struct {
	calls []string
}

func (s *stubNotifier) NotifyOffline(_ context.Context, _ uint64, event string, _ any) {
	s.calls = append(s.calls, event)
}

func recvFrame(t *testing.T, c *Client) *dto.Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		var env dto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return &env
	default:
		return nil
	}
}

func TestToConversationFastPath(t *testing.T) {
	hub := NewHub()
	presence := NewPresence()
	repo := &stubConvRepo{memberIDs: map[uint64][]uint64{}}
	router := NewRouter(hub, presence, repo, nil)

	sender := NewClient(1, nil)
	peer := NewClient(2, nil)
	for _, c := range []*Client{sender, peer} {
		hub.Add(c)
		presence.Register(c)
		hub.JoinGroup(c, 10)
	}

	router.ToConversation(context.Background(), 10, 1, dto.EventMessageReceived, map[string]any{"id": "m1"})

	// 快路径面向广播组全员，发送者的其他端也收到
	for _, c := range []*Client{sender, peer} {
		frame := recvFrame(t, c)
		if frame == nil || frame.Event != dto.EventMessageReceived {
			t.Errorf("client %d: frame = %+v, want message-received", c.UserID, frame)
		}
	}
}

func TestToConversationFallbackSkipsSender(t *testing.T) {
	hub := NewHub()
	presence := NewPresence()
	repo := &stubConvRepo{memberIDs: map[uint64][]uint64{10: {1, 2, 3}}}
	router := NewRouter(hub, presence, repo, nil)

	// 无人订阅广播组，成员 1、2 在线
	sender := NewClient(1, nil)
	peer := NewClient(2, nil)
	presence.Register(sender)
	presence.Register(peer)

	router.ToConversation(context.Background(), 10, 1, dto.EventMessageReceived, map[string]any{"id": "m1"})

	if frame := recvFrame(t, sender); frame != nil {
		t.Errorf("fallback path must exclude the sender, got %+v", frame)
	}
	if frame := recvFrame(t, peer); frame == nil {
		t.Errorf("online member must receive the frame on the fallback path")
	}
}

func TestToUserAllConnections(t *testing.T) {
	hub := NewHub()
	presence := NewPresence()
	router := NewRouter(hub, presence, &stubConvRepo{}, nil)

	c1 := NewClient(1, nil)
	c2 := NewClient(1, nil)
	presence.Register(c1)
	presence.Register(c2)

	delivered := router.ToUser(context.Background(), 1, dto.EventMessageRead, map[string]any{"id": "m1"})
	if delivered != 2 {
		t.Errorf("delivered = %d, want every connection of the user", delivered)
	}
	if recvFrame(t, c1) == nil || recvFrame(t, c2) == nil {
		t.Errorf("both connections must receive the frame")
	}
}

func TestToUserOfflineNotifier(t *testing.T) {
	notifier := &stubNotifier{}
	router := NewRouter(NewHub(), NewPresence(), &stubConvRepo{}, notifier)

	if delivered := router.ToUser(context.Background(), 1, dto.EventMessageReceived, nil); delivered != 0 {
		t.Fatalf("delivered = %d, want 0 for offline user", delivered)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("new-message events for offline users go to the push gateway")
	}

	router.ToUser(context.Background(), 1, dto.EventMessageRead, nil)
	if len(notifier.calls) != 1 {
		t.Errorf("receipt events must not trigger offline push")
	}
}

func TestToAllOthers(t *testing.T) {
	presence := NewPresence()
	router := NewRouter(NewHub(), presence, &stubConvRepo{}, nil)

	self := NewClient(1, nil)
	other := NewClient(2, nil)
	presence.Register(self)
	presence.Register(other)

	router.ToAllOthers(context.Background(), 1, dto.EventUserOnline, &dto.PresenceEvent{UserID: 1, Status: "online"})

	if recvFrame(t, self) != nil {
		t.Errorf("broadcast must skip the excluded user")
	}
	if frame := recvFrame(t, other); frame == nil || frame.Event != dto.EventUserOnline {
		t.Errorf("other online users must receive the presence event")
	}
}

func TestHubRemoveLeavesGroups(t *testing.T) {
	hub := NewHub()
	c := NewClient(1, nil)
	hub.Add(c)
	hub.JoinGroup(c, 10)

	if got := len(hub.GroupClients(10)); got != 1 {
		t.Fatalf("group size = %d, want 1", got)
	}

	hub.Remove(c)
	if got := len(hub.GroupClients(10)); got != 0 {
		t.Errorf("removed client must leave every joined group, group size = %d", got)
	}
	if hub.Len() != 0 {
		t.Errorf("hub must be empty after removal")
	}
}
