package di

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	"github.com/Montivagant/rmsv3-sub002/internal/payments"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/config"
	platformfs "github.com/Montivagant/rmsv3-sub002/internal/platform/firestore"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/requestctx"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/stream"
	"github.com/Montivagant/rmsv3-sub002/internal/repositories"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled in NewContainer.
type Services struct {
	Inventory services.InventoryService
	Loyalty   services.LoyaltyService
	Sales     services.SalesService
	Payments  services.PaymentService
}

// Container wires the ledger, payment providers, and services for runtime use.
type Container struct {
	Config   config.Config
	Store    *ledger.Store
	Services Services

	firestore *platformfs.Provider
	publisher *stream.KafkaEventPublisher
}

// NewContainer constructs the runtime dependencies from configuration: the
// configured event log backend, the optional Kafka tail publisher, the PSP
// manager, and the service layer on top.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg}

	log, err := c.buildLedgerLog(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var publisher ledger.Publisher
	if cfg.Kafka.Enabled {
		kafkaPub, err := stream.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		c.publisher = kafkaPub
		publisher = kafkaPub
	}

	serviceLogger := newServiceLogger(logger)

	store, err := ledger.NewStore(ledger.StoreDeps{
		Log:       log,
		Publisher: publisher,
		Logger:    serviceLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build ledger store: %w", err)
	}
	c.Store = store

	svc, err := buildServices(cfg, store, serviceLogger)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	return c, nil
}

// Close releases the Kafka writer and the Firestore client when present.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka publisher: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildLedgerLog(ctx context.Context, cfg config.Config) (ledger.Log, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemoryLog(), nil
	case "firestore":
		provider := platformfs.NewProvider(cfg.Firestore)
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("build firestore client: %w", err)
		}
		c.firestore = provider
		log, err := ledger.NewFirestoreLog(client)
		if err != nil {
			return nil, fmt.Errorf("build firestore log: %w", err)
		}
		return log, nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", cfg.Ledger.Backend)
	}
}

func buildServices(cfg config.Config, store *ledger.Store, logger func(context.Context, string, map[string]any)) (Services, error) {
	var svc Services

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Repository: repositories.NewMemoryInventoryRepository(),
		Store:      store,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventory

	loyalty, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Store:         store,
		PointsPerUnit: int64(cfg.Loyalty.PointsPerUnit),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build loyalty service: %w", err)
	}
	svc.Loyalty = loyalty

	var taxEngine *services.TaxEngine
	if cfg.Tax.ConfigFile != "" {
		taxCfg, err := services.LoadTaxConfiguration(cfg.Tax.ConfigFile)
		if err != nil {
			return Services{}, err
		}
		if taxCfg.Rounding == "" {
			taxCfg.Rounding = domain.RoundingRule(cfg.Tax.RoundingRule)
		}
		taxEngine, err = services.NewTaxEngine(services.TaxEngineDeps{
			Config: taxCfg,
			DefaultJurisdiction: domain.Jurisdiction{
				Country:    cfg.Tax.Country,
				State:      cfg.Tax.State,
				City:       cfg.Tax.City,
				PostalCode: cfg.Tax.PostalCode,
			},
			Logger: logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build tax engine: %w", err)
		}
	}

	sales, err := services.NewSalesService(services.SalesServiceDeps{
		Store:     store,
		Inventory: inventory,
		Loyalty:   loyalty,
		Policy:    services.OversellPolicy(cfg.Inventory.OversellPolicy),
		Tax:       taxEngine,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sales service: %w", err)
	}
	svc.Sales = sales

	providers := make(map[string]payments.Provider)
	if cfg.PSP.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripeProvider
	}
	if len(providers) > 0 {
		manager, err := payments.NewManager(providers)
		if err != nil {
			return Services{}, fmt.Errorf("build payments manager: %w", err)
		}
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Store:   store,
			Manager: manager,
			Logger:  logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	return svc, nil
}

// newServiceLogger adapts the zap logger to the event/fields callback the
// service layer accepts, preferring the request-scoped logger when one is on
// the context.
func newServiceLogger(fallback *zap.Logger) func(context.Context, string, map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
