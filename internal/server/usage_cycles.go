package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tollgate/internal/apperr"
	notificationdomain "github.com/smallbiznis/tollgate/internal/notification/domain"
	"github.com/smallbiznis/tollgate/pkg/db/pagination"
)

type runUsageCycleRequest struct {
	PeriodStart string `json:"period_start"`
	Now         string `json:"now,omitempty"`
}

// RunUsageCycle triggers the breach detector outside the schedule. A cycle
// already holding the lock answers 409.
func (s *Server) RunUsageCycle(c *gin.Context) {
	var req runUsageCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	periodStart, err := parseOptionalTime(req.PeriodStart, false)
	if err != nil || periodStart == nil {
		AbortWithError(c, apperr.Validation("period_start", "invalid_period_start", "period_start must be RFC3339 or YYYY-MM-DD"))
		return
	}
	now := s.clock.Now().UTC()
	if strings.TrimSpace(req.Now) != "" {
		parsed, err := parseOptionalTime(req.Now, false)
		if err != nil {
			AbortWithError(c, apperr.Validation("now", "invalid_now", "now must be RFC3339"))
			return
		}
		now = *parsed
	}

	result, err := s.cycleSvc.RunCycle(c.Request.Context(), *periodStart, now)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type listNotificationsQuery struct {
	pagination.Pagination
	OrgID      string `form:"org_id"`
	Status     string `form:"status"`
	CycleRunID string `form:"cycle_run_id"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	var query listNotificationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOptionalSnowflakeID(query.OrgID)
	if err != nil {
		AbortWithError(c, apperr.Validation("org_id", "invalid_organization", "org_id is invalid"))
		return
	}

	resp, err := s.notificationSvc.List(c.Request.Context(), notificationdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		OrgID:      orgID,
		Status:     notificationdomain.Status(strings.TrimSpace(query.Status)),
		CycleRunID: strings.TrimSpace(query.CycleRunID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Tasks, "page_info": resp.PageInfo})
}
