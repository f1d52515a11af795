package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"qms_backend/internal/cache"
	"qms_backend/internal/client"
	"qms_backend/internal/config"
	"qms_backend/internal/controller"
	"qms_backend/internal/queue"
	"qms_backend/internal/repository"
	"qms_backend/internal/service"
	"qms_backend/pkg/database"
	"qms_backend/pkg/logger"
	"qms_backend/pkg/monitoring"
	"qms_backend/pkg/security"
	"qms_backend/pkg/tracing"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	QuizCache       *cache.QuizCache
	services        *services
	workerCancel    context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	quiz       *repository.QuizRepository
	submission *repository.SubmissionRepository
}

type services struct {
	quiz    *service.QuizService
	grading *service.GradingService
	worker  *service.GradingWorker
}

type controllers struct {
	quiz       *controller.QuizController
	submission *controller.SubmissionController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// ApplyConfig 热更新回调入口，configwatcher 重载配置后调用
func (a *App) ApplyConfig(cfg *config.Config) {
	a.QuizCache.SetTTLs(cfg.Cache.QuizTTL, cfg.Cache.ListTTL)
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
	logger.Log.Info("config reloaded",
		zap.Duration("quizTTL", cfg.Cache.QuizTTL),
		zap.Duration("listTTL", cfg.Cache.ListTTL))
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		quiz:       repository.NewQuizRepository(db),
		submission: repository.NewSubmissionRepository(db),
	}
}

// quizSource 评分端取卷口：配置了测验服务地址就走HTTP客户端，
// 否则直接读本地测验库。两种来源都包一层Redis读穿缓存
func (a *App) quizSource(repos *repositories, cfg *config.Config, rdb *redis.Client) *cache.QuizCache {
	var source cache.Source
	if cfg.QuizService.BaseURL != "" {
		source = client.NewQuizClient(cfg.QuizService.BaseURL, cfg.QuizService.Timeout)
		logger.Log.Info("quiz lookup via remote service", zap.String("baseUrl", cfg.QuizService.BaseURL))
	} else {
		source = service.NewLocalQuizSource(repos.quiz)
		logger.Log.Info("quiz lookup via local repository")
	}
	return cache.NewQuizCache(rdb, source, cfg.Cache.QuizTTL, cfg.Cache.ListTTL)
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	a.QuizCache = a.quizSource(repos, cfg, rdb)
	gradingQueue := queue.NewGradingQueue(rdb, cfg.Grading.QueueKey)

	s.quiz = service.NewQuizService(repos.quiz, a.QuizCache)
	s.grading = service.NewGradingService(repos.submission, a.QuizCache, gradingQueue)
	s.worker = service.NewGradingWorker(gradingQueue, s.grading)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		quiz:       controller.NewQuizController(s.quiz),
		submission: controller.NewSubmissionController(s.grading, s.quiz),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 100000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 启动评分worker池。worker间无共享状态，
// 数量由 grading.workers 控制
func (a *App) startBackgroundTasks(s *services, cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	a.workerCancel = cancel

	for i := 0; i < cfg.Grading.Workers; i++ {
		go s.worker.Run(ctx)
	}
	logger.Log.Info("grading workers started", zap.Int("count", cfg.Grading.Workers))
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("qms-backend", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	app.startBackgroundTasks(services, cfg)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 先停worker，避免关库后还在消费任务
	if a.workerCancel != nil {
		a.workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Log.Sync()
	log.Println("Server exiting")
}
