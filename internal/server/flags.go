package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tollgate/internal/apperr"
	flagdomain "github.com/smallbiznis/tollgate/internal/flag/domain"
	"github.com/smallbiznis/tollgate/internal/orgcontext"
)

type resolveFlagQuery struct {
	Env           string `form:"env"`
	Default       string `form:"default"`
	RequireTenant string `form:"require_tenant"`
}

// ResolveFlag answers for the caller's organization. A storage failure is a
// 503 so callers can tell it apart from a false flag.
func (s *Server) ResolveFlag(c *gin.Context) {
	var query resolveFlagQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	def, err := parseOptionalBool(query.Default)
	if err != nil {
		AbortWithError(c, apperr.Validation("default", "invalid_default", "default must be a boolean"))
		return
	}
	requireTenant, err := parseOptionalBool(query.RequireTenant)
	if err != nil {
		AbortWithError(c, apperr.Validation("require_tenant", "invalid_require_tenant", "require_tenant must be a boolean"))
		return
	}

	ctx := c.Request.Context()
	rc := flagdomain.ResolveContext{
		Env:           strings.TrimSpace(query.Env),
		RequireTenant: requireTenant != nil && *requireTenant,
	}
	if rc.Env == "" {
		rc.Env = orgcontext.EnvFromContext(ctx)
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
		rc.OrgID = orgID
	}

	resolved, err := s.flagSvc.Resolve(ctx, c.Param("key"), rc, def != nil && *def)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resolved)
}

type listFlagsQuery struct {
	Key   string `form:"key"`
	Scope string `form:"scope"`
	OrgID string `form:"org_id"`
	Sort  string `form:"sort_by"`
	Order string `form:"order_by"`
}

func (s *Server) ListFlags(c *gin.Context) {
	var query listFlagsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := parseOptionalSnowflakeID(query.OrgID)
	if err != nil {
		AbortWithError(c, apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "org_id is invalid"))
		return
	}

	flags, err := s.flagSvc.List(c.Request.Context(), flagdomain.ListRequest{
		Key:     strings.TrimSpace(query.Key),
		Scope:   flagdomain.Scope(strings.TrimSpace(query.Scope)),
		OrgID:   orgID,
		SortBy:  strings.TrimSpace(query.Sort),
		OrderBy: strings.TrimSpace(query.Order),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flags})
}

func (s *Server) UpsertFlag(c *gin.Context) {
	var req flagdomain.FlagDefinition
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	flag, err := s.flagSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, flag)
}

func (s *Server) GetFlag(c *gin.Context) {
	flag, err := s.flagSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, flag)
}

func (s *Server) DeleteFlag(c *gin.Context) {
	if err := s.flagSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
