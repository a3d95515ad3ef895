package server

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tollgate/internal/apperr"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	"github.com/smallbiznis/tollgate/internal/observability/logger"
	"github.com/smallbiznis/tollgate/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderOrg = "X-Organization-ID"
	HeaderEnv = "X-Environment"

	rateLimitReasonOrgRate = "org-rate"
	adminActorID           = "admin-token"
)

// OrgContext copies the caller's organization and environment headers into
// the request context. Both are optional here.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if raw := strings.TrimSpace(c.GetHeader(HeaderOrg)); raw != "" {
			orgID, err := orgcontext.ParseOrgID(raw)
			if err != nil {
				AbortWithError(c, apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "X-Organization-ID must be a positive integer id"))
				return
			}
			ctx = orgcontext.WithOrgID(ctx, orgID)
		}
		if env := strings.TrimSpace(c.GetHeader(HeaderEnv)); env != "" {
			ctx = orgcontext.WithEnv(ctx, env)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		if orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context()); !ok || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		c.Next()
	}
}

// AdminAuth checks the bearer token when one is configured and marks the
// request actor for audit entries.
func (s *Server) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := s.cfg.AdminToken; token != "" {
			presented := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
		}
		ctx := auditdomain.WithActor(c.Request.Context(), auditdomain.ActorTypeAdmin, adminActorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) UsageIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.usageLimiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		orgID, ok := orgcontext.OrgIDFromContext(ctx)
		if !ok || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		res, err := s.usageLimiter.AllowOrg(ctx, orgID.String())
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("usage ingest rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			logger.WithContext(ctx, s.log).Warn("usage ingest rate limit exceeded",
				zap.String("reason", rateLimitReasonOrgRate),
			)
			c.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonOrgRate)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
