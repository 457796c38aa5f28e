package main

import (
	"context"
	"fmt"
	"time"

	"snapcart/internal/config"
	"snapcart/internal/database"
	"snapcart/internal/domain"
	"snapcart/internal/infrastructure/payment"
	"snapcart/internal/logger"
	"snapcart/internal/repo"
	"snapcart/internal/service"
	"snapcart/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const shoppers = 8

type shopper struct {
	customerID uuid.UUID
	addressID  uuid.UUID
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Setup("snapcart-simulate", cfg.LogLevel, cfg.Env)

	db, err := database.NewPostgres(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	repos := repo.NewRepos(db)
	gateway := payment.NewMemoryGateway(payment.WithLatency(50 * time.Millisecond))
	checkout := service.NewCheckoutService(db, repos, cfg.Checkout)
	orders := service.NewOrderService(db, repos, gateway, cfg.Checkout)
	coupons := service.NewCouponService(db, repos)
	wallets := service.NewWalletService(db, repos)

	variantID := seedCatalog(ctx, repos)
	code := "SIM-" + uuid.NewString()[:8]
	limit := 1
	if _, err := coupons.CreateCoupon(ctx, code, domain.CouponDetails{
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MaxDiscount:   decimal.NewNullDecimal(decimal.NewFromInt(50)),
		StartsAt:      time.Now().Add(-time.Hour),
		EndsAt:        time.Now().Add(24 * time.Hour),
		UsageLimit:    &limit,
	}); err != nil {
		log.Fatal().Err(err).Msg("create coupon")
	}

	fmt.Printf("--- RACE 1: %d shoppers, one single-use coupon %s ---\n", shoppers, code)
	people := make([]shopper, shoppers)
	for i := range people {
		people[i] = seedShopper(ctx, repos, variantID, 2)
	}
	results := make([]error, shoppers)
	var g errgroup.Group
	for i, p := range people {
		g.Go(func() error {
			_, results[i] = checkout.Commit(ctx, service.CommitRequest{
				CustomerID:        p.customerID,
				Source:            domain.SourceCart,
				CouponCode:        code,
				ShippingAddressID: p.addressID,
				PaymentMethod:     domain.PaymentCOD,
			})
			return nil
		})
	}
	_ = g.Wait()
	won := 0
	for i, err := range results {
		if err == nil {
			won++
			fmt.Printf("[%d] coupon applied\n", i+1)
		} else {
			fmt.Printf("[%d] rejected: %v (retriable=%t)\n", i+1, err, domain.IsRetriable(err))
		}
	}
	fmt.Printf("    -> coupon applied %d time(s), expected 1\n", won)

	fmt.Println("--- RACE 2: two wallet checkouts of 900 against a 1000 balance ---")
	buyer := seedShopper(ctx, repos, variantID, 2)
	if _, err := wallets.TopUp(ctx, buyer.customerID, decimal.NewFromInt(1000), "simulation"); err != nil {
		log.Fatal().Err(err).Msg("top up")
	}
	for i := range 2 {
		g.Go(func() error {
			_, err := checkout.Commit(ctx, service.CommitRequest{
				CustomerID:        buyer.customerID,
				Source:            domain.SourceCart,
				ShippingAddressID: buyer.addressID,
				PaymentMethod:     domain.PaymentWallet,
				IdempotencyKey:    fmt.Sprintf("sim-wallet-%s-%d", buyer.customerID, i),
			})
			if err != nil {
				fmt.Printf("[wallet %d] rejected: %v\n", i+1, err)
			} else {
				fmt.Printf("[wallet %d] paid\n", i+1)
			}
			return nil
		})
	}
	_ = g.Wait()
	w, err := wallets.GetWallet(ctx, buyer.customerID)
	if err != nil {
		log.Fatal().Err(err).Msg("read wallet")
	}
	fmt.Printf("    -> final balance %s, ledger check: %v\n", w.Balance.StringFixed(2), wallets.VerifyLedger(ctx, buyer.customerID))

	fmt.Println("--- GATEWAY: online orders with lost responses ---")
	var pending []uuid.UUID
	for i := range 10 {
		p := seedShopper(ctx, repos, variantID, 1)
		resp, err := checkout.Commit(ctx, service.CommitRequest{
			CustomerID:        p.customerID,
			Source:            domain.SourceCart,
			ShippingAddressID: p.addressID,
			PaymentMethod:     domain.PaymentOnline,
		})
		if err != nil {
			fmt.Printf("[%d] commit failed: %v\n", i+1, err)
			continue
		}
		if _, err := orders.PayOnline(ctx, resp.ID); err != nil {
			fmt.Printf("[%d] %s payment FAILED: %v\n", i+1, resp.OrderNumber, err)
			pending = append(pending, resp.ID)
			continue
		}
		fmt.Printf("[%d] %s paid\n", i+1, resp.OrderNumber)
	}

	reconcileCfg := cfg.Worker
	reconcileCfg.GatewayStuckAfter = 0
	reconcileCfg.GatewayAbandonAfter = 0
	rw := worker.NewReconciliationWorker(repos, orders, gateway, reconcileCfg)
	if err := rw.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("reconciliation")
	}
	for _, id := range pending {
		o, err := orders.GetOrder(ctx, id)
		if err != nil {
			continue
		}
		fmt.Printf("    -> %s after reconciliation: order=%s payment=%s\n", o.OrderNumber, o.Status, o.PaymentStatus)
	}
}

func seedCatalog(ctx context.Context, repos *repo.Repos) uuid.UUID {
	productID, variantID := uuid.New(), uuid.New()
	if err := repos.Catalog.CreateProduct(ctx, productID, "Linen Shirt", "shirt.png", decimal.NewNullDecimal(decimal.NewFromInt(10))); err != nil {
		log.Fatal().Err(err).Msg("seed product")
	}
	if err := repos.Catalog.CreateVariant(ctx, variantID, productID, "M / White", decimal.NewFromInt(500)); err != nil {
		log.Fatal().Err(err).Msg("seed variant")
	}
	return variantID
}

func seedShopper(ctx context.Context, repos *repo.Repos, variantID uuid.UUID, qty int) shopper {
	s := shopper{customerID: uuid.New(), addressID: uuid.New()}
	if err := repos.Customers.CreateCustomer(ctx, s.customerID, "sim-"+s.customerID.String()[:8]); err != nil {
		log.Fatal().Err(err).Msg("seed customer")
	}
	if err := repos.Customers.CreateAddress(ctx, &domain.Address{
		ID:         s.addressID,
		CustomerID: s.customerID,
		FullName:   "Sim Shopper",
		Phone:      "9999999999",
		Line1:      "1 Test Street",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
	}); err != nil {
		log.Fatal().Err(err).Msg("seed address")
	}
	if err := repos.Carts.AddItem(ctx, s.customerID, variantID, qty, time.Now()); err != nil {
		log.Fatal().Err(err).Msg("seed cart")
	}
	return s
}
