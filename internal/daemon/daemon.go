// Package daemon assembles laundryd: storage, the laundry service, the tick
// monitor, notification sinks and both transports.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/internal/catalog"
	"github.com/MarkoPoloResearchLab/laundromat/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/laundromat/internal/httpapi"
	"github.com/MarkoPoloResearchLab/laundromat/internal/logging"
	"github.com/MarkoPoloResearchLab/laundromat/internal/monitor"
	"github.com/MarkoPoloResearchLab/laundromat/internal/notify"
	"github.com/MarkoPoloResearchLab/laundromat/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/laundromat/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Run boots laundryd with a production logger and blocks until ctx is done
// or a component fails.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()
	operationLogger := logging.NewOperationLogger(logger)
	clock := func() time.Time { return time.Now().UTC() }
	laundryService, err := laundry.NewService(store, clock, laundry.WithOperationLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("laundry service init: %w", err)
	}

	if !cfg.SkipSeed {
		seed, err := catalog.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		summary, err := catalog.Apply(ctx, store, laundryService, seed)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		logger.Info("catalog seeded",
			zap.Int("stores", summary.Stores),
			zap.Int("machines", summary.Machines),
			zap.Int("wallets", summary.Wallets),
		)
	}

	publisher, closeSinks, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	notifier, err := laundry.NewThresholdNotifier(publisher, laundry.NotificationSettings{
		BeforeCompletion: cfg.NotifyBeforeCompletion,
		Enabled:          cfg.NotifyEnabled,
	}, laundry.WithNotifierLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("notifier init: %w", err)
	}
	tickMonitor, err := monitor.New(laundryService, notifier, cfg.TickInterval, logger)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.Register(grpcServer, grpcserver.NewLaundryServiceServer(laundryService, notifier))

	router := httpapi.NewRouter(
		httpapi.Config{AllowedOrigins: cfg.AllowedOrigins, RequestTimeout: cfg.RequestTimeout},
		httpapi.NewHandler(logger, laundryService, notifier, cfg.RequestTimeout),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := tickMonitor.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return httpapi.Serve(groupCtx, cfg.HTTPListenAddr, router, logger)
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

// openStore returns the in-memory store for "memory://" and a migrated gorm
// store otherwise.
func openStore(ctx context.Context, databaseURL string) (laundry.Store, func() error, error) {
	if databaseURL == memoryDatabaseURL {
		return memstore.New(), func() error { return nil }, nil
	}
	db, cleanup, err := openDatabase(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormstore.Migrate(ctx, db); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return gormstore.New(db), cleanup, nil
}

// buildPublisher always logs notifications and adds every configured broker.
func buildPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (laundry.NotificationPublisher, func(), error) {
	sinks := []laundry.NotificationPublisher{notify.NewLogPublisher(logger)}
	var closers []func() error
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			if err := closers[index](); err != nil {
				logger.Warn("notification sink close failed", zap.Error(err))
			}
		}
	}

	if cfg.RedisAddr != "" {
		client := notify.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			closeAll()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, client.Close)
		sinks = append(sinks, notify.NewRedisPublisher(client, cfg.RedisChannelPrefix))
		logger.Info("redis notifications enabled", zap.String("addr", cfg.RedisAddr))
	}
	if cfg.AMQPURL != "" {
		publisher, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, publisher.Close)
		sinks = append(sinks, publisher)
		logger.Info("amqp notifications enabled", zap.String("queue", cfg.AMQPQueue))
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, publisher.Close)
		sinks = append(sinks, publisher)
		logger.Info("kafka notifications enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	return notify.NewFanout(sinks...), closeAll, nil
}
