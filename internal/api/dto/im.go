package dto

import "time"

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ConversationID uint64          `json:"conversation_id"`
	TargetUserID   uint64          `json:"target_user_id"`
	MsgType        int             `json:"msg_type" binding:"required"` // 1-文本, 2-图片...
	Content        string          `json:"content"`
	Attachments    []AttachmentDTO `json:"attachments"`
}

// AttachmentDTO 附件引用，指向外部媒体服务托管的文件
type AttachmentDTO struct {
	ObjectKey string  `json:"object_key" binding:"required"`
	MimeType  string  `json:"mime_type" binding:"required"`
	Size      int64   `json:"size"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Duration  float64 `json:"duration"`
	MediaURL  string  `json:"url,omitempty"`
}

// CreateConversationReq 获取或创建单聊会话请求体
type CreateConversationReq struct {
	TargetUserID uint64 `json:"target_user_id" binding:"required"`
}

// UploadURLReq 附件直传取址请求体
type UploadURLReq struct {
	FileName string `json:"file_name" binding:"required"`
}

// MessageReceiptReq 单条消息回执请求体（送达/已读/重试）
type MessageReceiptReq struct {
	MessageID string `json:"message_id" binding:"required"`
}

// ConversationReadReq 会话级已读请求体
type ConversationReadReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
}

// CreateGroupReq 创建群聊请求体
type CreateGroupReq struct {
	Name      string   `json:"name" binding:"required"`
	MemberIDs []uint64 `json:"member_ids" binding:"required,min=1"`
}

// MessageDTO 消息明细响应，携带状态机全量字段
type MessageDTO struct {
	ID             string          `json:"id"`
	ConversationID uint64          `json:"conversation_id"`
	SenderID       uint64          `json:"sender_id"`
	MsgType        int             `json:"msg_type"`
	Content        string          `json:"content"`
	Attachments    []AttachmentDTO `json:"attachments,omitempty"`
	Status         string          `json:"status"`
	DeliveredTo    []uint64        `json:"delivered_to,omitempty"`
	ReadBy         []uint64        `json:"read_by,omitempty"`
	RetryCount     int             `json:"retry_count"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	ReadAt         *time.Time      `json:"read_at,omitempty"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID uint64    `json:"conversation_id"`
	Type           int8      `json:"type"`              // 1-单聊, 2-群聊
	Name           string    `json:"name,omitempty"`    // 群聊显示名
	PeerID         uint64    `json:"peer_id,omitempty"` // 对手方ID (单聊有效)
	LastMsgID      string    `json:"last_msg_id"`
	LastMsgContent string    `json:"last_msg_content"`
	LastMsgType    int8      `json:"last_msg_type"`
	LastSenderID   uint64    `json:"last_sender_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    uint64    `json:"unread_count"`
	IsMuted        bool      `json:"is_muted"`
	IsPinned       bool      `json:"is_pinned"`
}
