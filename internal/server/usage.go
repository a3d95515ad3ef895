package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/smallbiznis/tollgate/internal/orgcontext"
	usagedomain "github.com/smallbiznis/tollgate/internal/usage/domain"
	"github.com/smallbiznis/tollgate/pkg/db/pagination"
)

type recordUsageRequest struct {
	FeatureKey     string          `json:"feature_key"`
	Quantity       decimal.Decimal `json:"quantity"`
	OccurredAt     *string         `json:"occurred_at,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// RecordUsage answers 201 for a new event and 200 when the idempotency key
// matched an earlier one.
func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)

	record := usagedomain.RecordRequest{
		OrgID:          orgID,
		FeatureKey:     req.FeatureKey,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	}
	if req.OccurredAt != nil {
		occurredAt, err := parseOptionalTime(*req.OccurredAt, false)
		if err != nil {
			AbortWithError(c, apperr.Validation("occurred_at", "invalid_occurred_at", "occurred_at must be RFC3339"))
			return
		}
		if occurredAt != nil {
			record.OccurredAt = *occurredAt
		}
	}

	resp, err := s.usageSvc.Record(ctx, record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

type listUsageQuery struct {
	pagination.Pagination
	FeatureKey string `form:"feature_key"`
	From       string `form:"from"`
	To         string `form:"to"`
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	orgID, err := orgcontext.ParseOrgID(c.Param("org_id"))
	if err != nil {
		AbortWithError(c, apperr.Validation("org_id", err.Error(), "org_id is invalid"))
		return
	}

	var query listUsageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, apperr.Validation("from", "invalid_from", "from must be RFC3339 or YYYY-MM-DD"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, apperr.Validation("to", "invalid_to", "to must be RFC3339 or YYYY-MM-DD"))
		return
	}

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		OrgID:      orgID,
		FeatureKey: query.FeatureKey,
		From:       from,
		To:         to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Events, "page_info": resp.PageInfo})
}

type usageSummaryQuery struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to"`
}

// SummarizeUsage totals usage per feature over [from, to). The window end
// defaults to now.
func (s *Server) SummarizeUsage(c *gin.Context) {
	orgID, err := orgcontext.ParseOrgID(c.Param("org_id"))
	if err != nil {
		AbortWithError(c, apperr.Validation("org_id", err.Error(), "org_id is invalid"))
		return
	}

	var query usageSummaryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, apperr.Validation("from", "invalid_from", "from is required"))
		return
	}
	from, err := parseOptionalTime(query.From, false)
	if err != nil || from == nil {
		AbortWithError(c, apperr.Validation("from", "invalid_from", "from must be RFC3339 or YYYY-MM-DD"))
		return
	}
	to, err := parseOptionalTime(query.To, false)
	if err != nil {
		AbortWithError(c, apperr.Validation("to", "invalid_to", "to must be RFC3339 or YYYY-MM-DD"))
		return
	}
	end := s.clock.Now().UTC()
	if to != nil {
		end = *to
	}

	totals, err := s.usageSvc.SumByFeature(c.Request.Context(), orgID, *from, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"org_id": orgID.String(),
		"from":   *from,
		"to":     end,
		"totals": totals,
	})
}
