package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
)

func (s *Server) CreateDataSource(c *gin.Context) {
	var req dsdomain.CreateDataSourceRequest
	if !bindJSON(c, &req) {
		return
	}
	ds, err := s.dataSourceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": ds})
}

func (s *Server) ListDataSources(c *gin.Context) {
	sources, err := s.dataSourceSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sources})
}

func (s *Server) GetDataSource(c *gin.Context) {
	ds, err := s.dataSourceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ds})
}

func (s *Server) UpdateDataSourcePluginConfig(c *gin.Context) {
	var raw json.RawMessage
	if !bindJSON(c, &raw) {
		return
	}
	ds, err := s.dataSourceSvc.UpdatePluginConfig(c.Request.Context(), c.Param("id"), raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ds})
}
