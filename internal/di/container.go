package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/platform/config"
	"github.com/bazaarhub/api/internal/repositories"
	"github.com/bazaarhub/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart        services.CartService
	Checkout    services.CheckoutService
	Orders      services.OrderService
	Returns     services.ReturnService
	Revenue     services.RevenueService
	Coupons     services.CouponService
	CouponAdmin services.CouponAdminService
	Stock       services.StockChecker
	System      services.SystemService
}

// ContainerDeps carries collaborators the composition root constructs itself:
// the payment gateway, the order event publisher, build metadata, and the
// structured event logger shared by every service.
type ContainerDeps struct {
	Payments services.PaymentProvider
	Events   services.OrderEventPublisher
	Build    services.BuildInfo
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	pricer, err := services.NewPricingEngine(domain.FeeSchedule{
		Currency:          cfg.Fees.Currency,
		TaxRatePercent:    cfg.Fees.TaxRatePercent,
		PlatformFee:       cfg.Fees.PlatformFee,
		ShippingBase:      cfg.Fees.ShippingBase,
		ShippingDiscount:  cfg.Fees.ShippingDiscount,
		CODSurcharge:      cfg.Fees.CODSurcharge,
		FreeShippingAbove: cfg.Fees.FreeShippingAbove,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	stock, err := services.NewStockOracle(services.StockOracleDeps{
		Stock:   reg.Stock(),
		Timeout: cfg.Stock.CheckTimeout,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock oracle: %w", err)
	}
	svc.Stock = stock

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   time.Now,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = coupons

	couponAdmin, err := services.NewCouponAdminService(services.CouponAdminServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   time.Now,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon admin service: %w", err)
	}
	svc.CouponAdmin = couponAdmin

	cart, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Stock:           stock,
		Coupons:         coupons,
		Pricer:          pricer,
		Clock:           time.Now,
		DefaultCurrency: cfg.Fees.Currency,
		Logger:          deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cart

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:       cart,
		Stock:       stock,
		StockWriter: reg.Stock(),
		Orders:      reg.Orders(),
		Counters:    reg.Counters(),
		Coupons:     coupons,
		Pricer:      pricer,
		Payments:    deps.Payments,
		UnitOfWork:  reg,
		Clock:       time.Now,
		Events:      deps.Events,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Clock:      time.Now,
		Events:     deps.Events,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	returns, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns: reg.Returns(),
		Orders:  reg.Orders(),
		Window:  cfg.Returns.Window,
		Clock:   time.Now,
		Events:  deps.Events,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returns

	revenue, err := services.NewRevenueService(services.RevenueServiceDeps{
		Orders:  reg.Orders(),
		Returns: reg.Returns(),
		Clock:   time.Now,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build revenue service: %w", err)
	}
	svc.Revenue = revenue

	if healthRepo := reg.Health(); healthRepo != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Counters:         reg.Counters(),
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
