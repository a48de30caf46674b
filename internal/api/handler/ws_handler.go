package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/redis"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/security"
	"Parley/internal/pkg/ws"
	"Parley/internal/repository"
	"Parley/internal/service"
	"context"
	log "log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WsHandler struct {
	hub       *ws.Hub
	presence  *ws.Presence
	router    *ws.Router
	imService service.IMService
	statusSvc service.StatusService
	sweeper   *service.Sweeper
	userRepo  repository.UserRepo
}

func NewWsHandler(hub *ws.Hub, presence *ws.Presence, router *ws.Router,
	imService service.IMService, statusSvc service.StatusService,
	sweeper *service.Sweeper, userRepo repository.UserRepo) *WsHandler {
	return &WsHandler{
		hub:       hub,
		presence:  presence,
		router:    router,
		imService: imService,
		statusSvc: statusSvc,
		sweeper:   sweeper,
		userRepo:  userRepo,
	}
}

// Connect 建立长连接：网关鉴权、登记在线状态、补投未送达消息，
// 随后进入上行帧读循环直至断开。
func (s *WsHandler) Connect(c *gin.Context) {
	// 鉴权
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.UnauthorizedError)
		return
	}
	if signature, err := security.ExtractSignature(token); err == nil {
		if revoked, _ := redis.GetValue(c.Request.Context(), signature); revoked != "" {
			response.Error(c, service.UnauthorizedError)
			return
		}
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		response.Error(c, service.UnauthorizedError)
		return
	}
	userID := claims.UserID

	// 升级 Websocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}

	client := ws.NewClient(userID, conn)
	s.hub.Add(client)
	first := s.presence.Register(client)
	go client.WritePump()

	log.Info("用户 WS 连接已建立", "userID", userID, "connID", client.ID, "first", first)

	ctx := context.Background()

	// 首条连接：全网广播上线事件，并向本连接回显自身状态
	if first {
		s.router.ToAllOthers(ctx, userID, dto.EventUserOnline, &dto.PresenceEvent{
			UserID: userID,
			Status: consts.PresenceOnline,
		})
	}
	s.deliverSelf(client, dto.EventUserStatusUpdate, &dto.PresenceEvent{
		UserID: userID,
		Status: consts.PresenceOnline,
		Self:   true,
	})

	// 上线补投：离线期间未送达的消息统一应用送达语义
	go func() {
		if swept := s.sweeper.SweepUser(ctx, userID); swept > 0 {
			log.Info("上线补投完成", "userID", userID, "swept", swept)
		}
	}()

	s.readLoop(ctx, client)
	s.disconnect(ctx, client)
}

// readLoop 上行帧分发，单条帧的处理失败不中断连接
func (s *WsHandler) readLoop(ctx context.Context, client *ws.Client) {
	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}

		var frame dto.ClientEnvelope
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn("WS 上行帧格式错误", "userID", client.UserID, "err", err)
			continue
		}

		switch frame.Event {
		case dto.ClientEventJoinConversation:
			s.handleJoin(ctx, client, frame.Data.ConversationID)
		case dto.ClientEventMarkDelivered:
			if err := s.statusSvc.ApplyDelivery(ctx, frame.Data.MessageID, client.UserID); err != nil {
				log.Warn("送达回执处理失败", "userID", client.UserID, "messageID", frame.Data.MessageID, "err", err)
			}
		case dto.ClientEventMarkRead:
			if err := s.statusSvc.ApplyRead(ctx, frame.Data.MessageID, client.UserID); err != nil {
				log.Warn("已读回执处理失败", "userID", client.UserID, "messageID", frame.Data.MessageID, "err", err)
			}
		case dto.ClientEventMarkAllRead:
			if _, err := s.imService.MarkConversationRead(ctx, client.UserID, frame.Data.ConversationID); err != nil {
				log.Warn("会话已读处理失败", "userID", client.UserID, "convID", frame.Data.ConversationID, "err", err)
			}
		case dto.ClientEventTyping:
			// 透传不落库，仅发往当前订阅会话的其他连接
			s.router.ToConversation(ctx, frame.Data.ConversationID, client.UserID, dto.EventTyping, &dto.TypingEvent{
				ConversationID: frame.Data.ConversationID,
				UserID:         client.UserID,
			})
		default:
			log.Warn("WS 未知上行事件", "userID", client.UserID, "event", frame.Event)
		}
	}
}

// handleJoin 加入会话广播组，并为该会话单独补投一次
func (s *WsHandler) handleJoin(ctx context.Context, client *ws.Client, convID uint64) {
	isMember, err := s.imService.IsMember(ctx, convID, client.UserID)
	if err != nil || !isMember {
		log.Warn("非会话成员的加入请求被拒绝", "userID", client.UserID, "convID", convID)
		return
	}
	s.hub.JoinGroup(client, convID)

	if swept := s.sweeper.SweepConversation(ctx, convID, client.UserID); swept > 0 {
		log.Info("会话补投完成", "userID", client.UserID, "convID", convID, "swept", swept)
	}
}

// disconnect 连接收尾：注销在线登记，最后一条连接断开时
// 记录离线时间并全网广播下线事件。
func (s *WsHandler) disconnect(ctx context.Context, client *ws.Client) {
	s.hub.Remove(client)
	last := s.presence.Deregister(client)
	client.Close()
	_ = client.Conn.Close()

	log.Info("用户 WS 连接已断开", "userID", client.UserID, "connID", client.ID, "last", last)
	if !last {
		return
	}

	now := time.Now()
	key := consts.UserLastSeenKey + strconv.FormatUint(client.UserID, 10)
	if err := redis.SetWithExpiration(ctx, key, now.Unix(), 7*24*time.Hour); err != nil {
		log.Warn("离线时间缓存写入失败", "userID", client.UserID, "err", err)
	}
	if err := s.userRepo.UpdateLastSeen(ctx, client.UserID, now); err != nil {
		log.Warn("离线时间落库失败", "userID", client.UserID, "err", err)
	}

	s.router.ToAllOthers(ctx, client.UserID, dto.EventUserOffline, &dto.PresenceEvent{
		UserID:     client.UserID,
		Status:     consts.PresenceOffline,
		LastSeenAt: &now,
	})
}

func (s *WsHandler) deliverSelf(client *ws.Client, event string, payload any) {
	data, err := json.Marshal(&dto.Envelope{Event: event, Data: payload})
	if err != nil {
		log.Warn("WS 自回显帧编码失败", "userID", client.UserID, "err", err)
		return
	}
	client.Deliver(data)
}
