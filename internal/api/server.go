package api

import (
	"net/http"
	"time"

	"snapcart/internal/database"
	"snapcart/internal/metrics"
	"snapcart/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CustomerHeader identifies the caller. Authentication happens upstream.
const CustomerHeader = "X-Customer-ID"

// IdempotencyHeader optionally pins the idempotency key of a checkout.
const IdempotencyHeader = "Idempotency-Key"

type Server struct {
	checkout   service.CheckoutService
	orders     service.OrderService
	coupons    service.CouponService
	wallets    service.WalletService
	db         database.Service
	adminGuard []gin.HandlerFunc
}

type Option func(*Server)

// WithAdminGuard runs the given middleware in front of every /admin route.
func WithAdminGuard(guard ...gin.HandlerFunc) Option {
	return func(s *Server) { s.adminGuard = append(s.adminGuard, guard...) }
}

func NewServer(
	checkout service.CheckoutService,
	orders service.OrderService,
	coupons service.CouponService,
	wallets service.WalletService,
	db database.Service,
	opts ...Option,
) *Server {
	s := &Server{
		checkout: checkout,
		orders:   orders,
		coupons:  coupons,
		wallets:  wallets,
		db:       db,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Content-Type", CustomerHeader, IdempotencyHeader},
		AllowCredentials: true,
	}))
	r.Use(metrics.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", s.healthHandler)

	api := r.Group("/api")
	api.Use(requireCustomer())
	{
		api.POST("/checkout", s.commitHandler)

		api.GET("/orders/:id", s.getOrderHandler)
		api.POST("/orders/:id/pay", s.customerOrderAction(s.orders.PayOnline))
		api.POST("/orders/:id/cancel", s.customerOrderAction(s.orders.Cancel))
		api.POST("/orders/:id/return", s.customerOrderAction(s.orders.RequestReturn))

		api.POST("/coupons/preview", s.previewCouponHandler)

		api.GET("/wallet", s.getWalletHandler)
		api.POST("/wallet/topup", s.topUpHandler)
	}

	// Admin callers are authenticated upstream; WithAdminGuard adds an
	// in-process check on top.
	admin := r.Group("/admin")
	admin.Use(s.adminGuard...)
	{
		admin.POST("/orders/:id/process", s.orderAction(s.orders.StartProcessing))
		admin.POST("/orders/:id/deliver", s.orderAction(s.orders.Deliver))
		admin.POST("/orders/:id/return/approve", s.orderAction(s.orders.ApproveReturn))
		admin.POST("/orders/:id/return/deny", s.orderAction(s.orders.DenyReturn))
		admin.POST("/orders/:id/refund", s.orderAction(s.orders.RefundPayment))

		admin.POST("/coupons", s.createCouponHandler)
		admin.PUT("/coupons/:code", s.updateCouponHandler)
		admin.POST("/coupons/:code/activate", s.couponAction(s.coupons.Activate))
		admin.POST("/coupons/:code/deactivate", s.couponAction(s.coupons.Deactivate))
		admin.POST("/coupons/:code/expire", s.couponAction(s.coupons.Expire))
	}
	return r
}

func (s *Server) healthHandler(c *gin.Context) {
	stats := s.db.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
