// Package app wires repositories, services, and handlers into a runnable API.
package app

import (
	"context"
	"net/http"

	"medsales/internal/auth"
	"medsales/internal/authz"
	"medsales/internal/handler"
	"medsales/internal/metrics"
	"medsales/internal/middleware"
	"medsales/internal/repository"
	"medsales/internal/service"
	"medsales/internal/websocket"
	"medsales/pkg/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Log      *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Tokens   *auth.Tokens
	Verifier *auth.Verifier
	Resolver *authz.Resolver
	Hub      *websocket.Hub

	Roles        service.RoleService
	Assignments  service.AssignmentService
	Inventory    service.InventoryService
	Cases        service.CaseService
	Usage        service.UsageService
	Users        service.UserService
	Audit        service.AuditService
	Sweeper      *service.ExpirySweeper
	Bootstrapper *service.Bootstrapper
}

// New builds the dependency graph (Repository -> Service -> Handler). cache may be nil.
func New(cfg *config.Config, db *gorm.DB, log *logrus.Logger, cache authz.DecisionCache) *App {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	hub := websocket.NewHub(log)
	tokens := auth.NewTokens(cfg.JWT.SecretKey, cfg.JWT.TokenDuration)

	roleRepo := repository.NewRoleRepository(db)
	permRepo := repository.NewPermissionRepository(db)
	assignRepo := repository.NewAssignmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	productRepo := repository.NewProductRepository(db)
	batchRepo := repository.NewInventoryRepository(db)
	txRepo := repository.NewInventoryTxRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	resolverOpts := []authz.Option{authz.WithMetrics(m), authz.WithLogger(log)}
	var invalidator service.Invalidator
	if cache != nil {
		resolverOpts = append(resolverOpts, authz.WithCache(cache))
		invalidator = cache
	}
	resolver := authz.NewResolver(assignRepo, resolverOpts...)

	ledger := service.NewLedger(batchRepo, txRepo, m)
	usage := service.NewUsageService(usageRepo, batchRepo, caseRepo, auditRepo, txManager, ledger, resolver, hub,
		cfg.Inventory.UsageReversalWindow)
	assignments := service.NewAssignmentService(assignRepo, userRepo, roleRepo, permRepo, auditRepo, txManager, invalidator, log)

	return &App{
		Config:   cfg,
		DB:       db,
		Log:      log,
		Registry: registry,
		Metrics:  m,
		Tokens:   tokens,
		Verifier: auth.NewVerifier(tokens, userRepo),
		Resolver: resolver,
		Hub:      hub,

		Roles:       service.NewRoleService(roleRepo, permRepo, auditRepo, txManager, invalidator, log),
		Assignments: assignments,
		Inventory:   service.NewInventoryService(productRepo, batchRepo, txRepo, auditRepo, txManager, ledger, hub),
		Cases:       service.NewCaseService(caseRepo, productRepo, usageRepo, auditRepo, txManager, ledger, usage, m, hub),
		Usage:       usage,
		Users:        service.NewUserService(userRepo, roleRepo, assignRepo, auditRepo, txManager, assignments, tokens, invalidator, log),
		Audit:        service.NewAuditService(auditRepo),
		Sweeper:      service.NewExpirySweeper(batchRepo, auditRepo, txManager, ledger, hub, log),
		Bootstrapper: service.NewBootstrapper(permRepo, roleRepo, userRepo, assignRepo, auditRepo, txManager, invalidator, log),
	}
}

// NewDecisionCache connects to Redis when enabled. It returns a nil cache, and logs why, when
// Redis is disabled or unreachable; the API then resolves every request against the database.
func NewDecisionCache(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (authz.DecisionCache, func()) {
	if !cfg.Enabled {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	closeFn := func() { _ = client.Close() }
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, authorization cache disabled")
		closeFn()
		return nil, func() {}
	}
	log.WithField("addr", cfg.Addr).Info("authorization cache enabled")
	return authz.NewRedisCache(client, cfg.Prefix, cfg.TTL), closeFn
}

// Router returns the gin engine with every route registered.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(a.Log), middleware.Recovery(a.Log), a.Metrics.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = a.Config.CORS.AllowOrigins
	corsConfig.AllowCredentials = a.Config.CORS.AllowCredentials
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Tenant"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", metrics.Handler(a.Registry))
	router.GET("/health", a.health)
	router.GET("/ws", websocket.ServeWs(a.Hub, a.Verifier, a.Resolver))

	guard := handler.NewGuard(a.Verifier, a.Resolver, a.Log)
	api := router.Group("/api")
	handler.NewUserHandler(a.Users, guard, middleware.CookieConfigFor(a.Config.Server.Mode)).RegisterRoutes(api)
	handler.NewRoleHandler(a.Roles, a.Assignments, guard).RegisterRoutes(api)
	handler.NewAssignmentHandler(a.Assignments, guard).RegisterRoutes(api)
	handler.NewInventoryHandler(a.Inventory, guard).RegisterRoutes(api)
	handler.NewCaseHandler(a.Cases, guard).RegisterRoutes(api)
	handler.NewUsageHandler(a.Usage, guard).RegisterRoutes(api)
	handler.NewAuditHandler(a.Audit, guard).RegisterRoutes(api)

	return router
}

func (a *App) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "OK", "websocket_clients": a.Hub.Connected()}

	sqlDB, err := a.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		a.Log.WithError(err).Error("health check: database unreachable")
		status = http.StatusServiceUnavailable
		body["status"] = "DEGRADED"
	}
	c.JSON(status, body)
}
