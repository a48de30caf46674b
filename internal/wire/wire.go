package wire

import (
	"Parley/internal/api"
	"Parley/internal/api/config"
	"Parley/internal/api/handler"
	"Parley/internal/job"
	"Parley/internal/pkg/cron"
	"Parley/internal/pkg/kafka"
	pkgmongo "Parley/internal/pkg/mongo"
	"Parley/internal/pkg/ws"
	"Parley/internal/repository"
	"Parley/internal/service"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router        *gin.Engine
	DB            *gorm.DB
	IMService     service.IMService
	AuditProducer *kafka.AuditProducer
	CronManager   *cron.Manager
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	userRepo := repository.NewUserRepo(db)
	convRepo := repository.NewConversationRepo(db)
	messageRepo := pkgmongo.NewMessageRepo(mongoDB)

	// 连接层：Hub 维护广播组，Presence 维护权威在线登记
	hub := ws.NewHub()
	presence := ws.NewPresence()

	var notifier ws.OfflineNotifier
	if push := service.NewPushService(cfg.Push); push != nil {
		notifier = push
	}
	router := ws.NewRouter(hub, presence, convRepo, notifier)

	var auditor service.LifecycleAuditor
	var auditProducer *kafka.AuditProducer
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewAuditProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		auditProducer = p
		auditor = p
	}

	statusService := service.NewStatusService(messageRepo, convRepo, router, auditor)
	imService := service.NewIMService(convRepo, messageRepo, statusService, router)
	userService := service.NewUserService(userRepo, presence)
	sweeper := service.NewSweeper(messageRepo, convRepo, statusService,
		time.Duration(cfg.Sweeper.WindowHours)*time.Hour, cfg.Sweeper.BatchSize)

	handlers := &api.HandlersGroup{
		UserHandler: handler.NewUserHandler(userService),
		IMHandler:   handler.NewIMHandler(imService, statusService),
		WsHandler:   handler.NewWsHandler(hub, presence, router, imService, statusService, sweeper, userRepo),
	}

	ginRouter := api.SetupRouter(handlers)

	reaperJob := job.NewMessageReaperJob(messageRepo, statusService)
	cronMgr := cron.NewCronManager(reaperJob)

	return &ApplicationContainer{
		Router:        ginRouter,
		DB:            db,
		IMService:     imService,
		AuditProducer: auditProducer,
		CronManager:   cronMgr,
	}, nil
}
