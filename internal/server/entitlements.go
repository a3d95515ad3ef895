package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/tollgate/internal/entitlement/domain"
	"github.com/smallbiznis/tollgate/internal/orgcontext"
)

// CheckEntitlement never fails on lookup errors; the decision carries the
// deny reason instead.
func (s *Server) CheckEntitlement(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	decision := s.entitlementSvc.Check(ctx, orgID, c.Param("feature"), s.clock.Now())
	c.JSON(http.StatusOK, decision)
}

func (s *Server) UpsertEntitlementOverride(c *gin.Context) {
	var req entitlementdomain.UpsertOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	override, err := s.entitlementSvc.UpsertOverride(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, override)
}

func (s *Server) ListEntitlementOverrides(c *gin.Context) {
	overrides, err := s.entitlementSvc.ListOverrides(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": overrides})
}

func (s *Server) DeleteEntitlementOverride(c *gin.Context) {
	if err := s.entitlementSvc.DeleteOverride(c.Request.Context(), c.Param("org_id"), c.Param("feature")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
