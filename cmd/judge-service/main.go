package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/consumer"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/feedback"
	"codejudge/internal/judge/problemclient"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/config"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/workspace"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", ".env", "Optional env file loaded before the config")
	flag.Parse()

	if err := loadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws, err := workspace.NewManager(appCfg.Workspace)
	if err != nil {
		return fmt.Errorf("init workspace failed: %w", err)
	}
	go ws.Start(rootCtx)

	localRepo := config.NewLocalRepository(appCfg.Languages, appCfg.Profiles)
	eng, err := engine.New(appCfg.sandboxConfig(ws.BaseDir()), localRepo)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}
	executors, err := runner.NewRegistry(rootCtx, localRepo, localRepo, ws, eng, appCfg.ExecutionTimeout(), observer.LogMetricsRecorder{})
	if err != nil {
		return fmt.Errorf("init runners failed: %w", err)
	}

	checks := make(map[string]controller.HealthCheck)

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		checks["redis"] = redisCache.Ping
	}

	problems, err := buildProblemClient(appCfg, redisCache, checks)
	if err != nil {
		return err
	}

	database, err := db.Open(appCfg.Database.Config)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()
	checks["database"] = database.Ping
	submissionRepo := repository.NewSubmissionRepository(database)
	if appCfg.Database.AutoMigrate || appCfg.Database.Driver == db.DriverSQLite {
		if err := submissionRepo.EnsureSchema(rootCtx); err != nil {
			return err
		}
	}
	var store service.SubmissionStore = submissionRepo
	if redisCache != nil {
		store = repository.NewCachedSubmissionStore(submissionRepo, redisCache, appCfg.Database.CacheTTL)
	}

	var (
		queue     *mq.KafkaQueue
		publisher service.EventPublisher
		taskQueue controller.TaskQueue
	)
	if len(appCfg.Kafka.Brokers) > 0 {
		queue, err = mq.NewKafkaQueue(appCfg.Kafka.KafkaConfig)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = queue.Close()
		}()
		checks["kafka"] = queue.Ping
		publisher = repository.NewMQEventPublisher(queue, appCfg.Kafka.ResultTopic)
		taskQueue = consumer.NewTaskProducer(queue, appCfg.Kafka.Consumer.Topic)
	}

	judgeSvc, err := service.NewSubmissionService(service.Config{
		Executors:      executors,
		Problems:       problems,
		Store:          store,
		Publisher:      publisher,
		Feedback:       feedback.FallbackGenerator{},
		Workspace:      ws,
		WorkspaceDir:   ws.BaseDir(),
		MaxCodeLength:  appCfg.Judge.MaxCodeLength,
		MaxInputLength: appCfg.Judge.MaxInputLength,
		WorkerPoolSize: appCfg.Judge.WorkerPoolSize,
		SlotWait:       appCfg.Judge.SlotWait,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}

	if queue != nil && appCfg.Kafka.ConsumeTasks {
		var dedupe cache.Cache
		if redisCache != nil {
			dedupe = redisCache
		}
		tasks := consumer.New(queue, judgeSvc, dedupe, mq.NewTokenLimiter(appCfg.Judge.WorkerPoolSize), appCfg.Kafka.Consumer)
		if err := tasks.Register(rootCtx); err != nil {
			return err
		}
		if err := queue.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
	}

	router := controller.NewRouter(controller.NewJudgeController(judgeSvc, taskQueue, checks), controller.RouterConfig{
		Trace: middleware.TraceContextConfig{AllowUserIDHeader: appCfg.Auth.TrustUserHeader},
		Auth:  middleware.NewAuthenticator(appCfg.Auth.AuthConfig),
	})
	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Strings("languages", executors.Languages()),
		)
		errCh <- httpServer.Serve(listener)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server stopped: %w", err)
		}
	case <-rootCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if queue != nil {
		_ = queue.Stop()
	}
	return serveErr
}

func buildProblemClient(appCfg *AppConfig, redisCache *cache.RedisCache, checks map[string]controller.HealthCheck) (*problemclient.Client, error) {
	var source problemclient.Source
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("init minio failed: %w", err)
		}
		checks["objectStorage"] = objStorage.HealthCheck(appCfg.MinIO.Bucket)
		source = problemclient.NewObjectSource(objStorage, appCfg.MinIO.Bucket, appCfg.Problems.ObjectPrefix)
	} else {
		source = problemclient.NewDirSource(appCfg.Problems.Dir)
	}
	var problemCache cache.Cache
	if redisCache != nil {
		problemCache = redisCache
	}
	return problemclient.NewClient(source, problemCache, appCfg.Problems.Cache), nil
}
