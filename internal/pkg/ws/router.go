package ws

import (
	"Parley/internal/api/dto"
	"Parley/internal/repository"
	"context"
	log "log/slog"

	"github.com/goccy/go-json"
)

// OfflineNotifier 用户寻址事件无活跃连接时的可选旁路（外部推送网关）
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, userID uint64, event string, payload any)
}

// Router 事件路由：把逻辑目标（会话或用户）解析为零或多条活跃连接。
// 解析失败从不上抛，只记日志——离线接收方由补投扫描自愈。
type Router struct {
	hub      *Hub
	presence *Presence
	convRepo repository.ConversationRepo
	notifier OfflineNotifier
}

func NewRouter(hub *Hub, presence *Presence, convRepo repository.ConversationRepo, notifier OfflineNotifier) *Router {
	return &Router{
		hub:      hub,
		presence: presence,
		convRepo: convRepo,
		notifier: notifier,
	}
}

// ToConversation 会话寻址事件。
// 快路径：投递给广播组当前订阅的全部连接（不区分发送者，由调用方裁剪）。
// 兜底路径：广播组为空时按成员名单逐人查在线索引，发送者除外——
// 广播组与在线索引独立维护，短暂分歧时以在线索引为准。
func (s *Router) ToConversation(ctx context.Context, convID uint64, senderID uint64, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.ErrorContext(ctx, "事件编码失败", "event", event, "err", err)
		return
	}

	targets := s.hub.GroupClients(convID)
	if len(targets) > 0 {
		for _, c := range targets {
			c.Deliver(data)
		}
		return
	}

	memberIDs, err := s.convRepo.GetMemberIDs(ctx, convID)
	if err != nil {
		log.ErrorContext(ctx, "会话成员解析失败，事件丢弃", "convID", convID, "event", event, "err", err)
		return
	}

	delivered := 0
	for _, memberID := range memberIDs {
		if memberID == senderID {
			continue
		}
		for _, c := range s.presence.ConnectionsFor(memberID) {
			c.Deliver(data)
			delivered++
		}
	}
	if delivered == 0 {
		log.InfoContext(ctx, "会话事件无可达连接", "convID", convID, "event", event)
	}
}

// ToUser 用户寻址事件，返回实际投递的连接数。
// 零连接即静默丢弃（新消息事件额外触发离线推送旁路）。
func (s *Router) ToUser(ctx context.Context, userID uint64, event string, payload any) int {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.ErrorContext(ctx, "事件编码失败", "event", event, "err", err)
		return 0
	}

	conns := s.presence.ConnectionsFor(userID)
	for _, c := range conns {
		c.Deliver(data)
	}

	if len(conns) == 0 {
		log.InfoContext(ctx, "用户寻址事件无活跃连接", "userID", userID, "event", event)
		if s.notifier != nil && event == dto.EventMessageReceived {
			s.notifier.NotifyOffline(ctx, userID, event, payload)
		}
	}
	return len(conns)
}

// ToAllOthers 向除指定用户外的全部在线用户广播（上线/下线通知）
func (s *Router) ToAllOthers(ctx context.Context, exceptUserID uint64, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.ErrorContext(ctx, "事件编码失败", "event", event, "err", err)
		return
	}

	for _, userID := range s.presence.OnlineUserIDs() {
		if userID == exceptUserID {
			continue
		}
		for _, c := range s.presence.ConnectionsFor(userID) {
			c.Deliver(data)
		}
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(&dto.Envelope{Event: event, Data: payload})
}
