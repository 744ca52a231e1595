package main

import (
	"context"
	"log/slog"
	"time"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/db"
	"fulfillment-service/internal/fulfillment"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/notify"
	"fulfillment-service/internal/pricing"
	"fulfillment-service/internal/reconcile"
	"fulfillment-service/internal/scheduler"
	"fulfillment-service/internal/verify"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app holds the components shared by the serve and sweep commands.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	pool          *pgxpool.Pool
	orders        *db.OrderRepository
	notifications *db.NotificationRepository
	sweeper       *reconcile.Sweeper
	scheduler     *scheduler.Scheduler
	fulfillment   *fulfillment.Service
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := time.LoadLocation(cfg.Reconcile.Timezone)
	if err != nil {
		return nil, err
	}

	tables, err := pricing.Load(cfg.Reconcile.CatalogPath)
	if err != nil {
		return nil, err
	}

	pool, err := db.GetPool(db.GetConnStr(cfg.Database))
	if err != nil {
		return nil, err
	}

	orders := db.NewOrderRepository(pool)
	notifications := db.NewNotificationRepository(pool)
	outbox := notify.NewOutbox(notifications)

	sweeper := reconcile.NewSweeper(
		gateway.NewClient(cfg.Gateway, logger),
		orders,
		verify.NewClient(cfg.Verify, logger),
		pricing.NewEngine(tables),
		notify.NewReportMailer(outbox, pool, cfg.Reconcile.ReportRecipients, logger),
		reconcile.Options{
			PaymentStatus:      cfg.Reconcile.Status,
			NAStatus:           cfg.Reconcile.NAStatus,
			Lookback:           time.Duration(cfg.Reconcile.LookbackMinutes) * time.Minute,
			Offset:             time.Duration(cfg.Reconcile.OffsetMinutes) * time.Minute,
			MaxFetch:           cfg.Reconcile.MaxFetch,
			OrdersPageSize:     cfg.Reconcile.OrdersPageSize,
			CaseInsensitiveIDs: cfg.Reconcile.CaseInsensitiveIDs,
			Location:           loc,
			SigningSecret:      cfg.Gateway.KeySecret,
		},
		logger,
	)
	if cfg.Reconcile.AttemptTTLMinutes > 0 {
		sweeper.WithAttemptCache(reconcile.NewAttemptCache(time.Duration(cfg.Reconcile.AttemptTTLMinutes) * time.Minute))
	}

	lock := func(ctx context.Context) (bool, func(), error) {
		return db.TryAdvisoryLock(ctx, pool, scheduler.SweepLockKey)
	}

	return &app{
		cfg:           cfg,
		logger:        logger,
		pool:          pool,
		orders:        orders,
		notifications: notifications,
		sweeper:       sweeper,
		scheduler:     scheduler.New(sweeper, lock, config.Millis(cfg.Reconcile.IntervalMs), logger),
		fulfillment:   fulfillment.NewService(orders, outbox, fulfillment.NewEventSet(0), loc, logger),
	}, nil
}

func (a *app) newProducer(writer notify.MessageWriter) *notify.Producer {
	return notify.NewProducer(a.notifications, writer, a.cfg.Notify.Producer, a.logger)
}

func (a *app) newConsumer() *notify.Consumer {
	return notify.NewConsumer(a.notifications, notify.NewMailer(a.cfg.Notify.Mailer, a.logger), a.cfg.Notify, a.logger)
}

func (a *app) Close() {
	a.pool.Close()
}
