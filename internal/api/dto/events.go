package dto

import "time"

// 下行事件名，与客户端约定的线上协议保持一致
const (
	EventMessageReceived     = "message-received"
	EventMessageStatusUpdate = "message-status-update"
	EventMessageDelivered    = "message-delivered"
	EventMessageRead         = "message-read"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventUserStatusUpdate    = "user-status-update"
	EventConversationUpdated = "conversation-updated"
	EventConversationRead    = "conversation-read"
	EventTyping              = "typing"
)

// 上行事件名，客户端经 WebSocket 触发的操作
const (
	ClientEventJoinConversation = "join-conversation"
	ClientEventMarkDelivered    = "mark-delivered"
	ClientEventMarkRead         = "mark-read"
	ClientEventMarkAllRead      = "mark-all-read"
	ClientEventTyping           = "typing"
)

// Envelope WebSocket 帧封装
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ClientEnvelope 上行帧，Data 延迟到分发时再解码
type ClientEnvelope struct {
	Event string `json:"event"`
	Data  ClientEventData `json:"data"`
}

// ClientEventData 上行事件参数，各事件只取对应字段
type ClientEventData struct {
	ConversationID uint64 `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessageStatusUpdateEvent 消息状态变更，携带状态机全量字段
type MessageStatusUpdateEvent struct {
	MessageID      string     `json:"message_id"`
	ConversationID uint64     `json:"conversation_id"`
	Status         string     `json:"status"`
	DeliveredTo    []uint64   `json:"delivered_to,omitempty"`
	ReadBy         []uint64   `json:"read_by,omitempty"`
	RetryCount     int        `json:"retry_count"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// MessageReceiptEvent 单用户回执（送达/已读），直达发送者
type MessageReceiptEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID uint64    `json:"conversation_id"`
	UserID         uint64    `json:"user_id"`
	At             time.Time `json:"at"`
}

// PresenceEvent 用户上线/下线广播；Self 标记自回显帧
type PresenceEvent struct {
	UserID     uint64     `json:"user_id"`
	Status     string     `json:"status"` // online / offline
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Self       bool       `json:"self,omitempty"`
}

// ConversationUpdatedEvent 会话摘要变更
type ConversationUpdatedEvent struct {
	ConversationID uint64    `json:"conversation_id"`
	LastMsgID      string    `json:"last_msg_id"`
	LastMsgContent string    `json:"last_msg_content"`
	LastMsgType    int8      `json:"last_msg_type"`
	LastSenderID   uint64    `json:"last_sender_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// TypingEvent 输入中透传，不落库
type TypingEvent struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
}

// ConversationReadEvent 会话级已读回执
type ConversationReadEvent struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
	Count          int    `json:"count"` // 本次置为已读的消息数
}
