package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
)

type strategyStatusRequest struct {
	Status       tenantdomain.CollaborationStatus `json:"status"`
	TargetConfig *tenantdomain.TargetConfig       `json:"target_config"`
}

func (s *Server) CreateTenant(c *gin.Context) {
	var req tenantdomain.CreateTenantRequest
	if !bindJSON(c, &req) {
		return
	}
	tenant, err := s.tenantSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": tenant})
}

func (s *Server) ListTenants(c *gin.Context) {
	tenants, err := s.tenantSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tenants})
}

func (s *Server) GetTenant(c *gin.Context) {
	tenant, err := s.tenantSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) CreateStrategy(c *gin.Context) {
	var req tenantdomain.CreateStrategyRequest
	if !bindJSON(c, &req) {
		return
	}
	strategy, err := s.tenantSvc.CreateStrategy(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": strategy})
}

func (s *Server) UpdateStrategySourceStatus(c *gin.Context) {
	var req strategyStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	strategy, err := s.tenantSvc.UpdateSourceStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": strategy})
}

// UpdateStrategyTargetStatus is called by the target tenant to confirm or
// stop a collaboration, optionally replacing the field mapping.
func (s *Server) UpdateStrategyTargetStatus(c *gin.Context) {
	var req strategyStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	strategy, err := s.tenantSvc.UpdateTargetStatus(c.Request.Context(), c.Param("id"), req.Status, req.TargetConfig)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": strategy})
}

func (s *Server) UpsertValidityPeriod(c *gin.Context) {
	var req tenantdomain.ValidityPeriodRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg, err := s.tenantSvc.UpsertValidityPeriodConfig(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cfg})
}

func (s *Server) ListCustomFields(c *gin.Context) {
	fields, err := s.tenantSvc.ListCustomFields(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fields})
}

func (s *Server) CreateCustomField(c *gin.Context) {
	var req tenantdomain.CreateCustomFieldRequest
	if !bindJSON(c, &req) {
		return
	}
	field, err := s.tenantSvc.CreateCustomField(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": field})
}

func (s *Server) SetIDGenerateConfig(c *gin.Context) {
	var req tenantdomain.IDGenerateConfigRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg, err := s.tenantSvc.SetIDGenerateConfig(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cfg})
}
