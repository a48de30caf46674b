package job

import (
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/mongo"
	"Parley/internal/pkg/redis"
	"Parley/internal/service"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

// MessageReaperJob 回收长期停留在 sending 的消息：
// 入库后状态推进失败且校准无果的，超时统一标记失败，等待客户端重试。
type MessageReaperJob struct {
	messageRepo mongo.MessageRepo
	status      service.StatusService
}

func NewMessageReaperJob(messageRepo mongo.MessageRepo, status service.StatusService) *MessageReaperJob {
	return &MessageReaperJob{messageRepo: messageRepo, status: status}
}

func (s *MessageReaperJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 多实例部署时串行化：抢不到锁说明别的实例正在跑
	if redis.GetRdbClient() != nil {
		token := uuid.NewString()
		locked, err := redis.TryLock(ctx, consts.MessageReaperLockKey, token, time.Minute, 1)
		if err != nil {
			log.Error("failed to acquire reaper lock", "err", err)
			return
		}
		if !locked {
			return
		}
		defer redis.UnLock(ctx, consts.MessageReaperLockKey, token)
	}

	deadline := time.Now().Add(-5 * time.Minute)
	msgs, err := s.messageRepo.FindStuckSending(ctx, deadline, 500)
	if err != nil {
		log.Error("failed to scan stuck sending messages", "err", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	count := 0
	for _, m := range msgs {
		if err := s.status.RecordFailure(ctx, m.ID, "send timeout"); err != nil {
			log.Error("failed to reap stuck message", "messageID", m.ID, "err", err)
			continue
		}
		count++
	}
	log.Info("message reaper job finished", "reaped_count", count)
}
