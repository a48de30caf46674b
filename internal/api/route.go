package api

import (
	"Parley/internal/api/middleware"
	"Parley/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		userGroup := apiGroup.Group("/user")
		{
			// 无需登录即可访问的接口
			userGroup.POST("/register", group.UserHandler.Register)
			userGroup.POST("/login", group.UserHandler.Login)

			authGroup := userGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/logout", group.UserHandler.Logout)
				authGroup.GET("/info", group.UserHandler.GetMe)
				authGroup.GET("/batch/simple", group.UserHandler.GetUsersInfo)
				authGroup.GET("/:id", group.UserHandler.GetUserInfo)
			}
		}

		imGroup := apiGroup.Group("/im")
		{
			// 长连接自带 token 鉴权，不走 Header 中间件
			imGroup.GET("/ws", group.WsHandler.Connect)

			authGroup := imGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/message", group.IMHandler.SendMessage)
				authGroup.POST("/message/delivered", group.IMHandler.MarkDelivered)
				authGroup.POST("/message/read", group.IMHandler.MarkRead)
				authGroup.POST("/message/retry", group.IMHandler.RetryMessage)
				authGroup.POST("/attachment/upload-url", group.IMHandler.CreateUploadURL)
				authGroup.GET("/history", group.IMHandler.GetChatHistory)
				authGroup.GET("/conversations", group.IMHandler.GetConversationList)
				authGroup.GET("/unread/total", group.IMHandler.GetTotalUnread)
				authGroup.POST("/conversation", group.IMHandler.CreateConversation)
				authGroup.POST("/conversation/group", group.IMHandler.CreateGroup)
				authGroup.POST("/conversation/read", group.IMHandler.MarkAllRead)
			}
		}
	}

	return r
}
