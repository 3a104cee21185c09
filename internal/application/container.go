package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"fleet-billing/internal/config"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/adapters/events"
	"fleet-billing/internal/infra/adapters/payment"
	"fleet-billing/internal/infra/adapters/sms"
	"fleet-billing/internal/infra/adapters/traccar"
	pg "fleet-billing/internal/infra/db/postgres"
	tcdb "fleet-billing/internal/infra/db/traccar"
	"fleet-billing/internal/infra/i18n"
	red "fleet-billing/internal/infra/redis"
	"fleet-billing/internal/usecase"
)

// Container is the composition root shared by the server and the CLI.
type Container struct {
	Config *config.Config
	Log    *zerolog.Logger

	Pool       *pgxpool.Pool
	Redis      *red.Client // nil when redis.url is empty
	Locker     adapter.Locker
	Limiter    *red.RateLimiter
	Translator *i18n.Translator
	Events     adapter.EventPublisher

	Catalog         repository.CatalogRepository
	NotificationLog repository.NotificationLogRepository

	Payments     usecase.PaymentUseCase
	Expiration   usecase.ExpirationSynchronizer
	Verifier     usecase.VerificationUseCase
	Reconcile    usecase.ReconcileUseCase
	Scan         usecase.ExpiryScanUseCase
	Notification usecase.NotificationUseCase
	Retention    usecase.RetentionUseCase
	Wallet       usecase.WalletUseCase
	CatalogUC    *usecase.CatalogUseCase

	closers []func() error
}

// Build connects every backing service named in cfg and wires the use cases.
// On error everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (_ *Container, err error) {
	c := &Container{Config: cfg, Log: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Translator, err = i18n.NewTranslator(i18n.LocalesFS, cfg.HTTP.Language)
	if err != nil {
		return nil, err
	}

	if cfg.Database.MigrateOnBoot {
		if err := pg.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	c.Pool, err = pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	c.closers = append(c.closers, func() error { c.Pool.Close(); return nil })

	if cfg.Redis.URL != "" {
		c.Redis, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.closers = append(c.closers, c.Redis.Close)
		c.Locker = red.NewLocker(c.Redis)
		c.Limiter = red.NewRateLimiter(c.Redis)
	} else {
		logger.Warn().Msg("redis.url empty: job and verify locks are process-local only")
	}

	c.Events = newPublisher(cfg.Kafka, logger)
	c.closers = append(c.closers, c.Events.Close)

	platform, err := traccar.NewClient(cfg.Traccar.BaseURL, traccar.Credentials{
		Username: cfg.Traccar.Username,
		Password: cfg.Traccar.Password,
		Token:    cfg.Traccar.Token,
	}, cfg.Traccar.Timeout)
	if err != nil {
		return nil, err
	}

	var inventory adapter.DeviceInventory
	if cfg.Traccar.DBDSN != "" {
		inv, err := tcdb.Open(cfg.Traccar.DBDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, inv.Close)
		inventory = inv
	} else {
		logger.Warn().Msg("traccar.db_dsn empty: device detection and reminders are disabled")
		inventory = tcdb.Disabled{}
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return nil, err
	}
	smsProvider, err := newSMS(cfg.SMS.Kavenegar, logger)
	if err != nil {
		return nil, err
	}

	payments := pg.NewPaymentRepo(c.Pool)
	users := pg.NewPostgresUserRepo(c.Pool)
	ledger := pg.NewCreditTransactionRepo(c.Pool)
	devices := pg.NewExpiredDeviceRepo(c.Pool)
	shadowUsers := pg.NewExpiredUserRepo(c.Pool)
	tm := pg.NewTxManager(c.Pool)
	c.NotificationLog = pg.NewNotificationLogRepo(c.Pool)
	c.Catalog = pg.NewPostgresCatalogRepo(c.Pool)
	if c.Redis != nil {
		c.Catalog = pg.NewCatalogCacheDecorator(c.Catalog, c.Redis, time.Hour)
	}

	sync := usecase.NewExpirationUseCase(platform, logger)
	c.Expiration = sync
	loc := cfg.Location()

	c.Payments = usecase.NewPaymentUseCase(payments, c.Catalog, users, ledger, tm, gateway, sync, c.Events, usecase.PurchaseConfig{
		CallbackBaseURL:   cfg.Payment.ZarinPal.CallbackURL,
		Description:       cfg.Payment.ZarinPal.Description,
		ReferenceAttempts: cfg.Payment.ReferenceAttempts,
	}, logger)
	verifier := usecase.NewVerificationUseCase(payments, users, ledger, tm, gateway, c.Locker, sync, c.Events, usecase.VerifyConfig{
		SuccessCodes: payment.SuccessCodes(),
		LockTTL:      cfg.Payment.VerifyLockTTL,
	}, logger)
	c.Verifier = verifier
	c.Reconcile = usecase.NewReconcileUseCase(payments, verifier, logger)
	c.Scan = usecase.NewExpiryScanUseCase(inventory, platform, devices, shadowUsers, usecase.ScanConfig{
		MaxDevicesPerUser: cfg.Scheduler.MaxDevicesPerUser,
		PageSize:          cfg.Traccar.PageSize,
	}, logger)
	c.Notification = usecase.NewNotificationUseCase(inventory, platform, devices, shadowUsers, smsProvider, c.Events, c.Translator, usecase.NotifyConfig{
		Template:          cfg.SMS.Kavenegar.Template,
		Location:          loc,
		MaxDevicesPerUser: cfg.Scheduler.MaxDevicesPerUser,
		PageSize:          cfg.Traccar.PageSize,
	}, logger)
	c.Retention = usecase.NewRetentionUseCase(devices, shadowUsers, usecase.RetentionConfig{
		ExpiredUsersDays:   cfg.Retention.ExpiredUsersDays,
		ExpiredDevicesDays: cfg.Retention.ExpiredDevicesDays,
	}, logger)
	c.Wallet = usecase.NewWalletUseCase(users, ledger, logger)
	c.CatalogUC = usecase.NewCatalogUseCase(c.Catalog, logger)
	return c, nil
}

// Health pings the stores the API depends on.
func (c *Container) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func newPublisher(cfg config.KafkaConfig, logger *zerolog.Logger) adapter.EventPublisher {
	if len(cfg.Brokers) == 0 {
		return events.NewMemoryPublisher(0)
	}
	return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
}

func newGateway(cfg *config.Config, logger *zerolog.Logger) (adapter.PaymentGateway, error) {
	if cfg.Runtime.Dev && cfg.Payment.ZarinPal.Sandbox && cfg.Payment.ZarinPal.MerchantID == "noop" {
		logger.Warn().Msg("using noop payment gateway")
		return payment.NewNoopPaymentGateway(), nil
	}
	zp := cfg.Payment.ZarinPal
	return payment.NewZarinPalGateway(zp.MerchantID, zp.Sandbox, zp.Timeout)
}

func newSMS(cfg config.KavenegarConfig, logger *zerolog.Logger) (adapter.SMSProvider, error) {
	if cfg.APIKey == "" {
		logger.Warn().Msg("sms.kavenegar.api_key empty: reminders are logged, not sent")
		return sms.NewNoopSMS(logger), nil
	}
	return sms.NewKavenegar(cfg.APIKey, cfg.Sender, cfg.Timeout)
}
