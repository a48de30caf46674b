package kafka

import (
	"Parley/internal/api/config"
	"Parley/internal/pkg/mongo"
	"context"
	log "log/slog"
	"time"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
)

// newSaramaConfig 是一个包内私有的辅助函数
// 负责统一初始化 sarama.Config，避免代码重复
func newSaramaConfig(kafkaCfg config.KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()

	if kafkaCfg.Sasl.Enable {
		c.Net.SASL.Enable = true
		c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		c.Net.SASL.User = kafkaCfg.Sasl.Username
		c.Net.SASL.Password = kafkaCfg.Sasl.Password
	}

	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Return.Successes = false
	c.Producer.Return.Errors = true
	c.Producer.Flush.Frequency = 500 * time.Millisecond

	return c
}

// auditRecord 审计流载荷，按消息 ID 分区保证同消息事件有序
type auditRecord struct {
	Action         string    `json:"action"`
	MessageID      string    `json:"message_id"`
	ConversationID uint64    `json:"conversation_id"`
	SenderID       uint64    `json:"sender_id"`
	Status         string    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	At             time.Time `json:"at"`
}

// AuditProducer 将消息生命周期事件投递到审计 Topic
type AuditProducer struct {
	producer sarama.AsyncProducer
	topic    string
}

// NewAuditProducer 创建异步生产者并启动错误消费协程
func NewAuditProducer(kafkaCfg config.KafkaConfig) (*AuditProducer, error) {
	producer, err := sarama.NewAsyncProducer(kafkaCfg.Brokers, newSaramaConfig(kafkaCfg))
	if err != nil {
		return nil, err
	}

	p := &AuditProducer{producer: producer, topic: kafkaCfg.AuditTopic}
	go func() {
		for err := range producer.Errors() {
			log.Error("审计事件投递失败", "topic", p.topic, "err", err)
		}
	}()
	return p, nil
}

// Audit 发布生命周期事件，仅记录不阻断业务
func (p *AuditProducer) Audit(ctx context.Context, action string, msg *mongo.Message) {
	record := auditRecord{
		Action:         action,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Status:         msg.Status,
		RetryCount:     msg.RetryCount,
		FailureReason:  msg.FailureReason,
		At:             time.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		log.ErrorContext(ctx, "审计事件编码失败", "messageID", msg.ID, "err", err)
		return
	}

	select {
	case p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.ID),
		Value: sarama.ByteEncoder(payload),
	}:
	case <-ctx.Done():
	}
}

func (p *AuditProducer) Close() error {
	return p.producer.Close()
}
