package model

import "time"

// Conversation 会话主表，冗余最后一条消息的摘要字段用于列表渲染
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type           int8      `gorm:"not null;default:1" json:"type"`              // 1-单聊, 2-群聊
	PeerKey        string    `gorm:"uniqueIndex;type:varchar(64)" json:"peerKey"` // 单聊唯一标识 uid1_uid2，群聊为空
	Name           string    `gorm:"type:varchar(100)" json:"name"`               // 群聊显示名
	CreatorID      uint64    `gorm:"not null;default:0" json:"creatorId"`         // 创建者/群主
	LastMsgID      string    `gorm:"type:varchar(32)" json:"lastMsgId"`
	LastMsgContent string    `gorm:"type:varchar(255)" json:"lastMsgContent"`
	LastMsgType    int8      `gorm:"not null;default:1" json:"lastMsgType"`
	LastSenderID   uint64    `gorm:"not null;default:0" json:"lastSenderId"`
	LastMessageAt  time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

// ConversationMember 会话成员表，按成员维护未读计数
type ConversationMember struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"uniqueIndex:idx_conv_user" json:"conversationId"`
	UserID         uint64    `gorm:"uniqueIndex:idx_conv_user;index" json:"userId"`
	UnreadCount    uint64    `gorm:"not null;default:0" json:"unreadCount"` // 新消息 +1（发送者除外），会话已读归零
	IsMuted        int8      `gorm:"not null;default:0" json:"isMuted"`
	IsPinned       int8      `gorm:"not null;default:0" json:"isPinned"`
	IsVisible      int8      `gorm:"not null;default:1;index" json:"isVisible"` // 会话列表可见性
	JoinedAt       time.Time `json:"joinedAt"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID" json:"conversation"`
}

func (ConversationMember) TableName() string { return "conversation_members" }
