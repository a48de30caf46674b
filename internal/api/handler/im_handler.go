package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/minio"
	"Parley/internal/pkg/response"
	"Parley/internal/service"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	imService service.IMService
	statusSvc service.StatusService
}

func NewIMHandler(imService service.IMService, statusSvc service.StatusService) *IMHandler {
	return &IMHandler{imService: imService, statusSvc: statusSvc}
}

// SendMessage 发送消息接口
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	// 从 Context 中获取中间件解析出的当前用户 ID
	senderID := c.GetUint64("user_id")

	res, err := s.imService.SendMessage(c.Request.Context(), senderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetChatHistory 获取历史消息，按 before 时间点向前翻页
func (s *IMHandler) GetChatHistory(c *gin.Context) {
	userID := c.GetUint64("user_id")
	convID, _ := strconv.ParseUint(c.Query("conversationId"), 10, 64)
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	before := time.Now()
	if ts, err := strconv.ParseInt(c.Query("before"), 10, 64); err == nil && ts > 0 {
		before = time.UnixMilli(ts)
	}

	res, err := s.imService.GetChatHistory(c.Request.Context(), userID, convID, before, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetConversationList 获取会话列表
func (s *IMHandler) GetConversationList(c *gin.Context) {
	userID := c.GetUint64("user_id")
	res, err := s.imService.GetConversationList(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetTotalUnread 获取全局未读角标
func (s *IMHandler) GetTotalUnread(c *gin.Context) {
	userID := c.GetUint64("user_id")
	total, err := s.imService.GetTotalUnread(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"total": total})
}

// CreateConversation 获取或创建单聊会话
func (s *IMHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	userID := c.GetUint64("user_id")

	convID, err := s.imService.GetOrCreateConversation(c.Request.Context(), userID, req.TargetUserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"conversation_id": convID})
}

// CreateGroup 创建群聊
func (s *IMHandler) CreateGroup(c *gin.Context) {
	var req dto.CreateGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	userID := c.GetUint64("user_id")

	convID, err := s.imService.CreateGroupConversation(c.Request.Context(), userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"conversation_id": convID})
}

// MarkDelivered 单条消息送达回执
func (s *IMHandler) MarkDelivered(c *gin.Context) {
	var req dto.MessageReceiptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	userID := c.GetUint64("user_id")

	if err := s.statusSvc.ApplyDelivery(c.Request.Context(), req.MessageID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkRead 单条消息已读回执
func (s *IMHandler) MarkRead(c *gin.Context) {
	var req dto.MessageReceiptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	userID := c.GetUint64("user_id")

	if err := s.statusSvc.ApplyRead(c.Request.Context(), req.MessageID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkAllRead 会话级已读
func (s *IMHandler) MarkAllRead(c *gin.Context) {
	var req dto.ConversationReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	userID := c.GetUint64("user_id")

	count, err := s.imService.MarkConversationRead(c.Request.Context(), userID, req.ConversationID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

// CreateUploadURL 为附件直传签发临时上传地址，客户端传完后把 object_key 挂到消息附件上
func (s *IMHandler) CreateUploadURL(c *gin.Context) {
	var req dto.UploadURLReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if minio.Client == nil {
		response.Error(c, service.ErrMediaDisabled)
		return
	}

	objectKey := minio.ObjectKeyFor(req.FileName)
	uploadURL, err := minio.PresignPutURL(c.Request.Context(), objectKey)
	if err != nil {
		response.Error(c, service.UnExpectedError)
		return
	}
	response.Success(c, gin.H{"object_key": objectKey, "upload_url": uploadURL})
}

// RetryMessage 失败消息重试：状态复位后由客户端重新发送
func (s *IMHandler) RetryMessage(c *gin.Context) {
	var req dto.MessageReceiptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	if err := s.statusSvc.RetryReset(c.Request.Context(), req.MessageID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
