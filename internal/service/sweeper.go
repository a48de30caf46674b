package service

import (
	"Parley/internal/pkg/mongo"
	"Parley/internal/repository"
	"context"
	log "log/slog"
	"time"
)

const (
	defaultSweepWindow = 72 * time.Hour
	defaultSweepBatch  = 200
)

// Sweeper 补投扫描：用户重连或打开会话时，扫出"发送时对方离线"的
// 消息并合成送达回执。真相源是消息文档的 delivered_to 集合，
// 回执幂等，重复扫描恒安全。
type Sweeper struct {
	messageRepo mongo.MessageRepo
	convRepo    repository.ConversationRepo
	status      StatusService

	window time.Duration
	batch  int
}

func NewSweeper(messageRepo mongo.MessageRepo, convRepo repository.ConversationRepo, status StatusService, window time.Duration, batch int) *Sweeper {
	if window <= 0 {
		window = defaultSweepWindow
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		status:      status,
		window:      window,
		batch:       batch,
	}
}

// SweepUser 用户上线时扫描其参与的全部会话
func (s *Sweeper) SweepUser(ctx context.Context, userID uint64) int {
	convIDs, err := s.convRepo.GetConversationIDs(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "补投扫描获取会话范围失败", "userID", userID, "err", err)
		return 0
	}
	return s.sweep(ctx, userID, convIDs)
}

// SweepConversation 用户打开单个会话时的定向扫描
func (s *Sweeper) SweepConversation(ctx context.Context, convID uint64, userID uint64) int {
	return s.sweep(ctx, userID, []uint64{convID})
}

func (s *Sweeper) sweep(ctx context.Context, userID uint64, convIDs []uint64) int {
	since := time.Now().Add(-s.window)
	msgs, err := s.messageRepo.FindUndelivered(ctx, userID, convIDs, since, s.batch)
	if err != nil {
		log.ErrorContext(ctx, "补投扫描查询失败", "userID", userID, "err", err)
		return 0
	}

	swept := 0
	for _, msg := range msgs {
		if err := s.status.ApplyDelivery(ctx, msg.ID, userID); err != nil {
			log.ErrorContext(ctx, "补投送达失败", "messageID", msg.ID, "userID", userID, "err", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		log.InfoContext(ctx, "补投扫描完成", "userID", userID, "swept", swept)
	}
	return swept
}
