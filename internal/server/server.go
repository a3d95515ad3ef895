package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/config"
	entitlementdomain "github.com/smallbiznis/tollgate/internal/entitlement/domain"
	flagdomain "github.com/smallbiznis/tollgate/internal/flag/domain"
	meteringcycledomain "github.com/smallbiznis/tollgate/internal/meteringcycle/domain"
	notificationdomain "github.com/smallbiznis/tollgate/internal/notification/domain"
	obslogger "github.com/smallbiznis/tollgate/internal/observability/logger"
	obstracing "github.com/smallbiznis/tollgate/internal/observability/tracing"
	plandomain "github.com/smallbiznis/tollgate/internal/plan/domain"
	"github.com/smallbiznis/tollgate/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tollgate/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tollgate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// usageLimiter is satisfied by *ratelimit.UsageIngestLimiter.
type usageLimiter interface {
	AllowOrg(ctx context.Context, orgID string) (*ratelimit.Result, error)
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	clock           clock.Clock
	flagSvc         flagdomain.Service
	entitlementSvc  entitlementdomain.Service
	usageSvc        usagedomain.Service
	subscriptionSvc subscriptiondomain.Service
	catalog         plandomain.Catalog
	cycleSvc        meteringcycledomain.Service
	notificationSvc notificationdomain.Service
	auditSvc        auditdomain.Service
	usageLimiter    usageLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	FlagSvc         flagdomain.Service
	EntitlementSvc  entitlementdomain.Service
	UsageSvc        usagedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Catalog         plandomain.Catalog
	CycleSvc        meteringcycledomain.Service
	NotificationSvc notificationdomain.Service
	AuditSvc        auditdomain.Service
	UsageLimiter    *ratelimit.UsageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		clock:           p.Clock,
		flagSvc:         p.FlagSvc,
		entitlementSvc:  p.EntitlementSvc,
		usageSvc:        p.UsageSvc,
		subscriptionSvc: p.SubscriptionSvc,
		catalog:         p.Catalog,
		cycleSvc:        p.CycleSvc,
		notificationSvc: p.NotificationSvc,
		auditSvc:        p.AuditSvc,
	}
	if p.UsageLimiter.Enabled() {
		svc.usageLimiter = p.UsageLimiter
	}
	if svc.cfg.AdminToken == "" {
		svc.log.Warn("ADMIN_TOKEN is not set, admin routes are unauthenticated")
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(OrgContext())
	{
		api.GET("/flags/:key", s.ResolveFlag)
		api.GET("/entitlements/:feature", s.CheckEntitlement)
		api.POST("/usage", s.RequireOrg(), s.UsageIngestRateLimit(), s.RecordUsage)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminAuth())
	{
		admin.GET("/flags", s.ListFlags)
		admin.PUT("/flags", s.UpsertFlag)
		admin.GET("/flags/:id", s.GetFlag)
		admin.DELETE("/flags/:id", s.DeleteFlag)

		admin.PUT("/entitlements", s.UpsertEntitlementOverride)
		admin.GET("/orgs/:org_id/entitlements", s.ListEntitlementOverrides)
		admin.DELETE("/orgs/:org_id/entitlements/:feature", s.DeleteEntitlementOverride)

		admin.GET("/orgs/:org_id/usage", s.ListUsageEvents)
		admin.GET("/orgs/:org_id/usage/summary", s.SummarizeUsage)

		admin.PUT("/subscriptions", s.UpsertSubscription)
		admin.GET("/subscriptions/:org_id", s.GetSubscription)

		admin.GET("/plans", s.ListPlans)

		admin.POST("/usage-cycles", s.RunUsageCycle)
		admin.GET("/notifications", s.ListNotifications)
		admin.GET("/audit-logs", s.ListAuditLogs)
	}
}
