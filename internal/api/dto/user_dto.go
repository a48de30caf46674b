package dto

import "time"

// RegisterDTO 注册请求体
type RegisterDTO struct {
	Username string `json:"username" binding:"required,min=6,max=20"`
	Password string `json:"password" binding:"required,min=6,max=20"`
	Nickname string `json:"nickname"`
}

// CredentialDTO 登录请求体
type CredentialDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResDTO 登录响应
type LoginResDTO struct {
	Token string         `json:"token"`
	User  *UserSimpleDTO `json:"user"`
}

// UserSimpleDTO 用户摘要信息
type UserSimpleDTO struct {
	ID         uint64     `json:"id"`
	Username   string     `json:"username"`
	Nickname   string     `json:"nickname"`
	AvatarURL  string     `json:"avatar_url"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
