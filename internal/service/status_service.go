package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/mongo"
	"Parley/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"time"
)

// EventRouter 事件路由抽象，由 ws.Router 实现
type EventRouter interface {
	ToConversation(ctx context.Context, convID uint64, senderID uint64, event string, payload any)
	ToUser(ctx context.Context, userID uint64, event string, payload any) int
	ToAllOthers(ctx context.Context, exceptUserID uint64, event string, payload any)
}

// LifecycleAuditor 消息生命周期审计流（Kafka），可为 nil
type LifecycleAuditor interface {
	Audit(ctx context.Context, action string, msg *mongo.Message)
}

// StatusService 消息状态机引擎：应用合法状态迁移、回执去重、
// 触发台账更新与事件推送。回执天然幂等，重放任意次收敛到同一结果。
type StatusService interface {
	MarkSent(ctx context.Context, msg *mongo.Message) error
	RecordFailure(ctx context.Context, messageID string, reason string) error
	RetryReset(ctx context.Context, messageID string) error
	ApplyDelivery(ctx context.Context, messageID string, recipientID uint64) error
	ApplyRead(ctx context.Context, messageID string, readerID uint64) error
	MarkAllRead(ctx context.Context, convID uint64, readerID uint64) (int, error)
}

type statusServiceImpl struct {
	messageRepo mongo.MessageRepo
	convRepo    repository.ConversationRepo
	router      EventRouter
	audit       LifecycleAuditor
}

func NewStatusService(messageRepo mongo.MessageRepo, convRepo repository.ConversationRepo, router EventRouter, audit LifecycleAuditor) StatusService {
	return &statusServiceImpl{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		router:      router,
		audit:       audit,
	}
}

// MarkSent 落库成功即视为被服务端接收，sending → sent
func (s *statusServiceImpl) MarkSent(ctx context.Context, msg *mongo.Message) error {
	if err := s.messageRepo.MarkSent(ctx, msg.ID); err != nil {
		return err
	}
	now := time.Now()
	msg.Status = mongo.StatusSent
	msg.SentAt = &now

	s.router.ToUser(ctx, msg.SenderID, dto.EventMessageStatusUpdate, statusUpdateEvent(msg))
	s.publishAudit(ctx, "sent", msg)
	return nil
}

// RecordFailure 记录一次失败：每次调用代表一次真实的独立失败，
// retry_count 随之累计（刻意非幂等）。
func (s *statusServiceImpl) RecordFailure(ctx context.Context, messageID string, reason string) error {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrMessageNotFound) {
			log.WarnContext(ctx, "失败上报的消息不存在，忽略", "messageID", messageID)
			return nil
		}
		return err
	}

	if err = s.messageRepo.RecordFailure(ctx, messageID, reason); err != nil {
		return err
	}
	msg.Status = mongo.StatusFailed
	msg.FailureReason = reason
	msg.RetryCount++

	s.router.ToUser(ctx, msg.SenderID, dto.EventMessageStatusUpdate, statusUpdateEvent(msg))
	s.publishAudit(ctx, "failed", msg)
	return nil
}

// RetryReset 手动重试：failed → pending，状态机唯一的回退边
func (s *statusServiceImpl) RetryReset(ctx context.Context, messageID string) error {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrMessageNotFound) {
			log.WarnContext(ctx, "重试的消息不存在，忽略", "messageID", messageID)
			return nil
		}
		return err
	}
	if msg.Status != mongo.StatusFailed {
		// 非失败态的重试请求按无效状态静默忽略
		return nil
	}

	if err = s.messageRepo.ResetForRetry(ctx, messageID); err != nil {
		return err
	}
	msg.Status = mongo.StatusPending
	msg.FailureReason = ""

	s.router.ToUser(ctx, msg.SenderID, dto.EventMessageStatusUpdate, statusUpdateEvent(msg))
	return nil
}

// ApplyDelivery 送达回执。发送者本人或重复回执直接视为成功；
// 迟到回执撞上消息删除只记日志，绝不让触发方的连接出错。
func (s *statusServiceImpl) ApplyDelivery(ctx context.Context, messageID string, recipientID uint64) error {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrMessageNotFound) {
			log.WarnContext(ctx, "送达回执的消息不存在，丢弃", "messageID", messageID, "userID", recipientID)
			return nil
		}
		return err
	}

	if recipientID == msg.SenderID || msg.WasDeliveredTo(recipientID) {
		return nil
	}

	firstDelivery := msg.DeliveredAt == nil
	if err = s.messageRepo.AddDelivered(ctx, messageID, recipientID, firstDelivery); err != nil {
		return err
	}

	msg.DeliveredTo = append(msg.DeliveredTo, recipientID)
	if firstDelivery {
		now := time.Now()
		msg.DeliveredAt = &now
	}
	switch msg.Status {
	case mongo.StatusPending, mongo.StatusSending, mongo.StatusSent:
		msg.Status = mongo.StatusDelivered
	}

	s.router.ToConversation(ctx, msg.ConversationID, recipientID, dto.EventMessageStatusUpdate, statusUpdateEvent(msg))
	s.router.ToUser(ctx, msg.SenderID, dto.EventMessageDelivered, &dto.MessageReceiptEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         recipientID,
		At:             time.Now(),
	})
	s.publishAudit(ctx, "delivered", msg)
	return nil
}

// ApplyRead 已读回执。已读蕴含已送达：read_by 与 delivered_to 同步写入，
// 状态无条件置为 read——任一接收方读过即向发送者呈现已读。
func (s *statusServiceImpl) ApplyRead(ctx context.Context, messageID string, readerID uint64) error {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrMessageNotFound) {
			log.WarnContext(ctx, "已读回执的消息不存在，丢弃", "messageID", messageID, "userID", readerID)
			return nil
		}
		return err
	}

	_, err = s.applyRead(ctx, msg, readerID)
	return err
}

// applyRead 复用的已读落库与事件触发，返回是否发生了实际变更
func (s *statusServiceImpl) applyRead(ctx context.Context, msg *mongo.Message, readerID uint64) (bool, error) {
	if readerID == msg.SenderID || msg.WasReadBy(readerID) {
		return false, nil
	}

	firstDelivery := msg.DeliveredAt == nil
	firstRead := msg.ReadAt == nil
	if err := s.messageRepo.AddRead(ctx, msg.ID, readerID, firstDelivery, firstRead); err != nil {
		return false, err
	}

	msg.ReadBy = append(msg.ReadBy, readerID)
	if !msg.WasDeliveredTo(readerID) {
		msg.DeliveredTo = append(msg.DeliveredTo, readerID)
	}
	now := time.Now()
	if firstDelivery {
		msg.DeliveredAt = &now
	}
	if firstRead {
		msg.ReadAt = &now
	}
	msg.Status = mongo.StatusRead

	s.router.ToConversation(ctx, msg.ConversationID, readerID, dto.EventMessageStatusUpdate, statusUpdateEvent(msg))
	s.router.ToUser(ctx, msg.SenderID, dto.EventMessageRead, &dto.MessageReceiptEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         readerID,
		At:             now,
	})
	s.publishAudit(ctx, "read", msg)
	return true, nil
}

// MarkAllRead 会话级批量已读：选取他人发送且未读的全部消息逐条应用
// 已读语义，归零该成员未读数后广播会话级回执，返回实际变更条数。
func (s *statusServiceImpl) MarkAllRead(ctx context.Context, convID uint64, readerID uint64) (int, error) {
	msgs, err := s.messageRepo.FindUnread(ctx, convID, readerID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, msg := range msgs {
		mutated, err := s.applyRead(ctx, msg, readerID)
		if err != nil {
			return count, err
		}
		if mutated {
			count++
		}
	}

	if err = s.convRepo.ResetUnread(ctx, convID, readerID); err != nil {
		return count, err
	}

	s.router.ToConversation(ctx, convID, readerID, dto.EventConversationRead, &dto.ConversationReadEvent{
		ConversationID: convID,
		UserID:         readerID,
		Count:          count,
	})
	return count, nil
}

func (s *statusServiceImpl) publishAudit(ctx context.Context, action string, msg *mongo.Message) {
	if s.audit != nil {
		s.audit.Audit(ctx, action, msg)
	}
}

// statusUpdateEvent 状态机全量字段快照，所有发射点共用同一构造
func statusUpdateEvent(msg *mongo.Message) *dto.MessageStatusUpdateEvent {
	return &dto.MessageStatusUpdateEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Status:         msg.Status,
		DeliveredTo:    msg.DeliveredTo,
		ReadBy:         msg.ReadBy,
		RetryCount:     msg.RetryCount,
		FailureReason:  msg.FailureReason,
		SentAt:         msg.SentAt,
		DeliveredAt:    msg.DeliveredAt,
		ReadAt:         msg.ReadAt,
	}
}
