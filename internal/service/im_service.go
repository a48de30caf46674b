package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/minio"
	"Parley/internal/pkg/mongo"
	"Parley/internal/repository"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

// IMService 即时通讯服务接口定义
type IMService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	GetOrCreateConversation(ctx context.Context, userID, targetUserID uint64) (uint64, error)
	CreateGroupConversation(ctx context.Context, creatorID uint64, req *dto.CreateGroupReq) (uint64, error)
	GetChatHistory(ctx context.Context, userID uint64, convID uint64, before time.Time, pageSize int) ([]*dto.MessageDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	MarkConversationRead(ctx context.Context, userID uint64, convID uint64) (int, error)
	GetTotalUnread(ctx context.Context, userID uint64) (int64, error)
	IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error)
	Close()
}

type imServiceImpl struct {
	convRepo    repository.ConversationRepo
	messageRepo mongo.MessageRepo
	status      StatusService
	router      EventRouter

	retryChan chan *mongo.Message
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

// NewIMService 构造函数：初始化服务并启动异步校准工作池
func NewIMService(convRepo repository.ConversationRepo, messageRepo mongo.MessageRepo, status StatusService, router EventRouter) IMService {
	s := &imServiceImpl{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		status:      status,
		router:      router,
		retryChan:   make(chan *mongo.Message, 2048),
		stopChan:    make(chan struct{}),
	}

	workerCount := 5
	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.calibrationWorker()
	}

	return s
}

// SendMessage 发送消息：落库即接收（sending → sent），
// 台账摘要与未读数随之更新，事件沿会话与发送者两条路径推送。
func (s *imServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, ErrMessageEmpty
	}

	// 1确定会话 ID
	convID := req.ConversationID
	if convID == 0 {
		if req.TargetUserID == 0 {
			return nil, ErrTargetUserInvalid
		}
		id, err := s.GetOrCreateConversation(ctx, senderID, req.TargetUserID)
		if err != nil {
			return nil, err
		}
		convID = id
	} else {
		isMember, err := s.convRepo.IsMember(ctx, convID, senderID)
		if err != nil || !isMember {
			return nil, UnauthorizedError
		}
	}

	// 2构造并存入 MongoDB，写失败对本次操作是致命的
	msgModel := &mongo.Message{
		ID:             primitive.NewObjectID().Hex(),
		ConversationID: convID,
		SenderID:       senderID,
		MsgType:        req.MsgType,
		Content:        req.Content,
		Attachments:    toAttachmentModels(req.Attachments),
		Status:         mongo.StatusSending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.messageRepo.Save(writeCtx, msgModel); err != nil {
		log.ErrorContext(ctx, "消息落库失败", "convID", convID, "err", err)
		return nil, UnExpectedError
	}

	// 3推进 sent；更新失败进入校准队列重试，到期未校准由定时任务标记失败
	if err := s.status.MarkSent(ctx, msgModel); err != nil {
		log.WarnContext(ctx, "sent 状态推进失败，进入校准队列", "messageID", msgModel.ID, "err", err)
		select {
		case s.retryChan <- msgModel:
		default:
		}
	}

	// 4台账：摘要覆盖 + 非发送者未读数 +1（最终一致，失败不阻断发送）
	if err := s.convRepo.TouchLastMessage(ctx, convID, msgModel.ID, preview(msgModel), int8(req.MsgType), senderID); err != nil {
		log.ErrorContext(ctx, "会话台账更新失败", "convID", convID, "err", err)
	}

	res := s.toMessageDTO(ctx, msgModel)
	s.router.ToConversation(ctx, convID, senderID, dto.EventMessageReceived, res)
	s.router.ToConversation(ctx, convID, senderID, dto.EventConversationUpdated, &dto.ConversationUpdatedEvent{
		ConversationID: convID,
		LastMsgID:      msgModel.ID,
		LastMsgContent: preview(msgModel),
		LastMsgType:    int8(req.MsgType),
		LastSenderID:   senderID,
		LastMessageAt:  msgModel.CreatedAt,
	})

	return res, nil
}

// GetOrCreateConversation 针对单聊：获取或创建会话
func (s *imServiceImpl) GetOrCreateConversation(ctx context.Context, userID, targetUserID uint64) (uint64, error) {
	if targetUserID == userID {
		return 0, ErrTargetUserInvalid
	}

	// 生成单聊唯一的 PeerKey
	var peerKey string
	if userID < targetUserID {
		peerKey = fmt.Sprintf("%d_%d", userID, targetUserID)
	} else {
		peerKey = fmt.Sprintf("%d_%d", targetUserID, userID)
	}

	conv, err := s.convRepo.GetConversationByPeerKey(ctx, peerKey)
	if err == nil {
		return conv.ID, nil
	}

	newConv := &model.Conversation{
		Type:          consts.ConvTypeSingle,
		PeerKey:       peerKey,
		CreatorID:     userID,
		LastMessageAt: time.Now(),
	}
	members := []*model.ConversationMember{
		{UserID: userID, IsVisible: 1},
		{UserID: targetUserID, IsVisible: 1},
	}

	if err := s.convRepo.CreateConversation(ctx, newConv, members); err != nil {
		return 0, err
	}
	return newConv.ID, nil
}

// CreateGroupConversation 创建群聊，创建者自动入群并担任群主
func (s *imServiceImpl) CreateGroupConversation(ctx context.Context, creatorID uint64, req *dto.CreateGroupReq) (uint64, error) {
	memberSet := map[uint64]struct{}{creatorID: {}}
	for _, id := range req.MemberIDs {
		if id != 0 {
			memberSet[id] = struct{}{}
		}
	}
	if len(memberSet) < 2 {
		return 0, ErrGroupMemberTooFew
	}

	newConv := &model.Conversation{
		Type:          consts.ConvTypeGroup,
		Name:          req.Name,
		CreatorID:     creatorID,
		LastMessageAt: time.Now(),
	}
	members := make([]*model.ConversationMember, 0, len(memberSet))
	for id := range memberSet {
		members = append(members, &model.ConversationMember{UserID: id, IsVisible: 1})
	}

	if err := s.convRepo.CreateConversation(ctx, newConv, members); err != nil {
		return 0, err
	}
	return newConv.ID, nil
}

// GetChatHistory 拉取历史消息，按创建时间倒序分页
func (s *imServiceImpl) GetChatHistory(ctx context.Context, userID uint64, convID uint64, before time.Time, pageSize int) ([]*dto.MessageDTO, error) {
	if _, err := s.convRepo.GetConversation(ctx, convID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return nil, UnauthorizedError
	}

	models, err := s.messageRepo.GetHistory(ctx, convID, before, pageSize)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.MessageDTO, 0, len(models))
	for _, m := range models {
		res = append(res, s.toMessageDTO(ctx, m))
	}
	return res, nil
}

// GetConversationList 获取会话列表
func (s *imServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	members, err := s.convRepo.GetUserConversationMemList(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ConversationDTO, 0, len(members))
	for _, m := range members {
		d := &dto.ConversationDTO{}
		if err := copier.Copy(d, &m.Conversation); err != nil {
			log.WarnContext(ctx, "会话摘要装配失败", "convID", m.ConversationID, "err", err)
		}
		d.ConversationID = m.ConversationID
		d.UnreadCount = m.UnreadCount
		d.IsMuted = m.IsMuted == 1
		d.IsPinned = m.IsPinned == 1

		if m.Conversation.Type == consts.ConvTypeSingle {
			peerID, _ := parsePeerID(m.Conversation.PeerKey, userID)
			d.PeerID = peerID
		}
		res = append(res, d)
	}
	return res, nil
}

// MarkConversationRead 会话级已读：批量应用已读语义并归零未读数
func (s *imServiceImpl) MarkConversationRead(ctx context.Context, userID uint64, convID uint64) (int, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return 0, UnauthorizedError
	}
	return s.status.MarkAllRead(ctx, convID, userID)
}

// GetTotalUnread 全局未读角标
func (s *imServiceImpl) GetTotalUnread(ctx context.Context, userID uint64) (int64, error) {
	return s.convRepo.GetTotalUnreadCount(ctx, userID)
}

// IsMember 透出成员校验，供传输层使用
func (s *imServiceImpl) IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error) {
	return s.convRepo.IsMember(ctx, convID, userID)
}

func (s *imServiceImpl) Close() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info("IMService shut down gracefully")
}

// calibrationWorker 校准 sent 推进失败的消息，指数退避重试
func (s *imServiceImpl) calibrationWorker() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.retryChan:
			backoff := time.Second
			for i := 0; i < 3; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.messageRepo.MarkSent(ctx, msg.ID)
				cancel()
				if err == nil {
					break
				}
				time.Sleep(backoff)
				backoff *= 2
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *imServiceImpl) toMessageDTO(ctx context.Context, m *mongo.Message) *dto.MessageDTO {
	return &dto.MessageDTO{
		ID: m.ID, ConversationID: m.ConversationID, SenderID: m.SenderID,
		MsgType: m.MsgType, Content: m.Content,
		Attachments: toAttachmentDTOs(ctx, m.Attachments),
		Status:      m.Status, DeliveredTo: m.DeliveredTo, ReadBy: m.ReadBy,
		RetryCount: m.RetryCount, FailureReason: m.FailureReason,
		CreatedAt: m.CreatedAt, SentAt: m.SentAt, DeliveredAt: m.DeliveredAt, ReadAt: m.ReadAt,
	}
}

func toAttachmentModels(in []dto.AttachmentDTO) []mongo.Attachment {
	if len(in) == 0 {
		return nil
	}
	res := make([]mongo.Attachment, 0, len(in))
	for _, a := range in {
		res = append(res, mongo.Attachment{
			ObjectKey: a.ObjectKey,
			MimeType:  a.MimeType,
			Size:      a.Size,
			Width:     a.Width,
			Height:    a.Height,
			Duration:  a.Duration,
		})
	}
	return res
}

// toAttachmentDTOs 返回前为附件签发临时访问地址
func toAttachmentDTOs(ctx context.Context, in []mongo.Attachment) []dto.AttachmentDTO {
	if len(in) == 0 {
		return nil
	}
	res := make([]dto.AttachmentDTO, 0, len(in))
	for _, a := range in {
		url, err := minio.PresignURL(ctx, a.ObjectKey)
		if err != nil {
			log.WarnContext(ctx, "附件地址签发失败", "objectKey", a.ObjectKey, "err", err)
		}
		res = append(res, dto.AttachmentDTO{
			ObjectKey: a.ObjectKey,
			MimeType:  a.MimeType,
			Size:      a.Size,
			Width:     a.Width,
			Height:    a.Height,
			Duration:  a.Duration,
			MediaURL:  url,
		})
	}
	return res
}

// preview 台账摘要文本，非文本消息以类型占位
// previewMaxRunes 会话摘要上限，对齐 last_msg_content 的列宽
const previewMaxRunes = 255

func preview(m *mongo.Message) string {
	if m.Content != "" {
		content := m.Content
		// 按字符截断，避免把多字节字符劈成半个
		if utf8.RuneCountInString(content) > previewMaxRunes {
			content = string([]rune(content)[:previewMaxRunes])
		}
		return content
	}
	switch m.MsgType {
	case consts.MsgTypeImage:
		return "[图片]"
	case consts.MsgTypeAudio:
		return "[语音]"
	case consts.MsgTypeVideo:
		return "[视频]"
	case consts.MsgTypeFile:
		return "[文件]"
	}
	return ""
}

func parsePeerID(peerKey string, currentUserID uint64) (uint64, error) {
	var u1, u2 uint64
	_, err := fmt.Sscanf(peerKey, "%d_%d", &u1, &u2)
	if err != nil {
		return 0, err
	}
	if u1 == currentUserID {
		return u2, nil
	}
	return u1, nil
}
