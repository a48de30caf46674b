package mongo

import (
	"time"
)

// 消息投递状态机：pending → sending → sent → delivered → read，
// failed 可由 sending/sent 进入，failed → pending 为唯一的回退边（手动重试）。
const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message MongoDB 消息明细模型
type Message struct {
	ID             string       `bson:"_id" json:"id"`                             // ObjectID hex，创建时生成
	ConversationID uint64       `bson:"conversation_id" json:"conversationId"`     // 关联 MySQL 的会话 ID
	SenderID       uint64       `bson:"sender_id" json:"senderId"`                 // 发送者 UID
	MsgType        int          `bson:"msg_type" json:"msgType"`                   // 1-文本, 2-图片, 3-音频...
	Content        string       `bson:"content" json:"content"`                    // 文本内容或消息预览
	Attachments    []Attachment `bson:"attachments,omitempty" json:"attachments"`  // 外部文件元数据的引用
	Status         string       `bson:"status" json:"status"`                      // 投递状态
	DeliveredTo    []uint64     `bson:"delivered_to,omitempty" json:"deliveredTo"` // 已送达用户集合，不含发送者
	ReadBy         []uint64     `bson:"read_by,omitempty" json:"readBy"`           // 已读用户集合，恒为 delivered_to 的子集
	RetryCount     int          `bson:"retry_count" json:"retryCount"`             // 失败次数累计
	FailureReason  string       `bson:"failure_reason,omitempty" json:"failureReason,omitempty"`
	CreatedAt      time.Time    `bson:"created_at" json:"createdAt"`
	SentAt         *time.Time   `bson:"sent_at,omitempty" json:"sentAt,omitempty"`
	DeliveredAt    *time.Time   `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"` // 首次送达时间
	ReadAt         *time.Time   `bson:"read_at,omitempty" json:"readAt,omitempty"`           // 首次已读时间
	UpdatedAt      time.Time    `bson:"updated_at" json:"updatedAt"`
}

// Attachment 附件引用，文件本体由外部媒体服务托管
type Attachment struct {
	ObjectKey string  `bson:"object_key" json:"object_key"`
	MimeType  string  `bson:"mime_type" json:"mime_type"`
	Size      int64   `bson:"size,omitempty" json:"size,omitempty"`
	Width     int     `bson:"width,omitempty" json:"width,omitempty"`
	Height    int     `bson:"height,omitempty" json:"height,omitempty"`
	Duration  float64 `bson:"duration,omitempty" json:"duration,omitempty"`
	MediaURL  string  `bson:"-" json:"url,omitempty"` // 返回前由存储层签发的访问地址
}

// WasDeliveredTo 判断用户是否已在送达集合中
func (m *Message) WasDeliveredTo(userID uint64) bool {
	for _, id := range m.DeliveredTo {
		if id == userID {
			return true
		}
	}
	return false
}

// WasReadBy 判断用户是否已在已读集合中
func (m *Message) WasReadBy(userID uint64) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
