package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrMessageNotFound 消息不存在（迟到回执与删除竞争时出现，调用方静默降级）
var ErrMessageNotFound = errors.New("message not found")

type MessageRepo interface {
	Save(ctx context.Context, msg *Message) error
	FindByID(ctx context.Context, id string) (*Message, error)
	MarkSent(ctx context.Context, id string) error
	AddDelivered(ctx context.Context, id string, userID uint64, firstDelivery bool) error
	AddRead(ctx context.Context, id string, userID uint64, firstDelivery bool, firstRead bool) error
	RecordFailure(ctx context.Context, id string, reason string) error
	ResetForRetry(ctx context.Context, id string) error
	GetHistory(ctx context.Context, convID uint64, before time.Time, pageSize int) ([]*Message, error)
	FindUndelivered(ctx context.Context, userID uint64, convIDs []uint64, since time.Time, limit int) ([]*Message, error)
	FindUnread(ctx context.Context, convID uint64, readerID uint64) ([]*Message, error)
	FindStuckSending(ctx context.Context, deadline time.Time, limit int) ([]*Message, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// Save 将消息存入 MongoDB
func (s *messageRepoImpl) Save(ctx context.Context, msg *Message) error {
	_, err := s.col.InsertOne(ctx, msg)
	return errors.Wrap(err, "save message")
}

// FindByID 按 ID 精确查询
func (s *messageRepoImpl) FindByID(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, errors.Wrap(err, "find message")
	}
	return &msg, nil
}

// MarkSent 落库成功后推进为 sent
func (s *messageRepoImpl) MarkSent(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []string{StatusPending, StatusSending}}},
		bson.M{"$set": bson.M{"status": StatusSent, "sent_at": now, "updated_at": now}},
	)
	return errors.Wrap(err, "mark sent")
}

// AddDelivered 送达回执落库：集合去重由 $addToSet 保证，
// 状态仅从尚未送达的状态推进，已是 delivered/read 的消息状态不回退。
func (s *messageRepoImpl) AddDelivered(ctx context.Context, id string, userID uint64, firstDelivery bool) error {
	now := time.Now()
	set := bson.M{"updated_at": now}
	if firstDelivery {
		set["delivered_at"] = now
	}
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{"delivered_to": userID},
		"$set":      set,
	})
	if err != nil {
		return errors.Wrap(err, "add delivered")
	}

	_, err = s.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []string{StatusPending, StatusSending, StatusSent}}},
		bson.M{"$set": bson.M{"status": StatusDelivered}},
	)
	return errors.Wrap(err, "advance status")
}

// AddRead 已读回执落库：同一次更新同时写入 read_by 与 delivered_to，
// 保证 read_by ⊆ delivered_to 不存在中间态；状态无条件置为 read。
func (s *messageRepoImpl) AddRead(ctx context.Context, id string, userID uint64, firstDelivery bool, firstRead bool) error {
	now := time.Now()
	set := bson.M{"status": StatusRead, "updated_at": now}
	if firstDelivery {
		set["delivered_at"] = now
	}
	if firstRead {
		set["read_at"] = now
	}
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{"read_by": userID, "delivered_to": userID},
		"$set":      set,
	})
	return errors.Wrap(err, "add read")
}

// RecordFailure 记录一次发送失败，每次调用都累计 retry_count
func (s *messageRepoImpl) RecordFailure(ctx context.Context, id string, reason string) error {
	now := time.Now()
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": StatusFailed, "failure_reason": reason, "updated_at": now},
		"$inc": bson.M{"retry_count": 1},
	})
	return errors.Wrap(err, "record failure")
}

// ResetForRetry failed → pending 的唯一回退边
func (s *messageRepoImpl) ResetForRetry(ctx context.Context, id string) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusFailed},
		bson.M{
			"$set":   bson.M{"status": StatusPending, "updated_at": time.Now()},
			"$unset": bson.M{"failure_reason": ""},
		},
	)
	return errors.Wrap(err, "reset for retry")
}

// GetHistory 历史消息查询，按创建时间倒序游标分页
func (s *messageRepoImpl) GetHistory(ctx context.Context, convID uint64, before time.Time, pageSize int) ([]*Message, error) {
	filter := bson.M{"conversation_id": convID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(pageSize))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, errors.Wrap(err, "find history")
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}
	return messages, nil
}

// FindUndelivered 补投扫描：他人发送、尚未送达给该用户、限定时间窗与批量上限。
// 这是重连自愈路径，不是通用查询。
func (s *messageRepoImpl) FindUndelivered(ctx context.Context, userID uint64, convIDs []uint64, since time.Time, limit int) ([]*Message, error) {
	if len(convIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"conversation_id": bson.M{"$in": convIDs},
		"sender_id":       bson.M{"$ne": userID},
		"delivered_to":    bson.M{"$ne": userID},
		"created_at":      bson.M{"$gte": since},
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, errors.Wrap(err, "find undelivered")
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode undelivered")
	}
	return messages, nil
}

// FindUnread 会话内他人发送且该用户尚未读的消息，供 mark-all-read 选取
func (s *messageRepoImpl) FindUnread(ctx context.Context, convID uint64, readerID uint64) ([]*Message, error) {
	filter := bson.M{
		"conversation_id": convID,
		"sender_id":       bson.M{"$ne": readerID},
		"read_by":         bson.M{"$ne": readerID},
	}

	cursor, err := s.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find unread")
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode unread")
	}
	return messages, nil
}

// FindStuckSending 超时仍停留在 sending 的消息，由定时任务标记失败
func (s *messageRepoImpl) FindStuckSending(ctx context.Context, deadline time.Time, limit int) ([]*Message, error) {
	filter := bson.M{
		"status":     StatusSending,
		"created_at": bson.M{"$lt": deadline},
	}

	cursor, err := s.col.Find(ctx, filter, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, errors.Wrap(err, "find stuck sending")
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode stuck sending")
	}
	return messages, nil
}
