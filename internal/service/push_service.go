package service

import (
	"Parley/internal/api/config"
	"context"
	log "log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// PushService 离线推送：收件人无活跃连接时把事件转投推送网关
type PushService struct {
	client *resty.Client
	apiKey string
}

// NewPushService 根据配置构建推送客户端，URL 为空返回 nil 表示禁用
func NewPushService(cfg config.PushConfig) *PushService {
	if cfg.URL == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(time.Duration(timeout) * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &PushService{client: client, apiKey: cfg.ApiKey}
}

// NotifyOffline 投递离线通知，失败仅记录
func (s *PushService) NotifyOffline(ctx context.Context, userID uint64, event string, payload any) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", s.apiKey).
		SetBody(map[string]any{
			"user_id": userID,
			"event":   event,
			"data":    payload,
		}).
		Post("/v1/notify")
	if err != nil {
		log.WarnContext(ctx, "离线推送投递失败", "userID", userID, "event", event, "err", err)
		return
	}
	if resp.IsError() {
		log.WarnContext(ctx, "离线推送网关响应异常", "userID", userID, "status", resp.StatusCode())
	}
}
