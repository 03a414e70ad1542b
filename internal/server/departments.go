package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	departmentdomain "github.com/smallbiznis/directory/internal/department/domain"
)

func (s *Server) CreateDepartment(c *gin.Context) {
	var req departmentdomain.CreateDepartmentRequest
	if !bindJSON(c, &req) {
		return
	}
	dept, err := s.departmentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": dept})
}

func (s *Server) UpdateDepartment(c *gin.Context) {
	var req departmentdomain.UpdateDepartmentRequest
	if !bindJSON(c, &req) {
		return
	}
	dept, err := s.departmentSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dept})
}

// MoveDepartment reparents a department; an empty parent_id moves it to the root.
func (s *Server) MoveDepartment(c *gin.Context) {
	var req departmentdomain.MoveDepartmentRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.departmentSvc.Move(c.Request.Context(), c.Param("id"), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) DeleteDepartment(c *gin.Context) {
	if err := s.departmentSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
