package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	userdomain "github.com/smallbiznis/directory/internal/user/domain"
	"github.com/smallbiznis/directory/internal/validation"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type batchUsersRequest struct {
	TenantUserIDs []string `json:"tenant_user_ids"`
}

type expiryRequest struct {
	TenantUserIDs    []string  `json:"tenant_user_ids"`
	AccountExpiredAt time.Time `json:"account_expired_at"`
}

type passwordRequest struct {
	TenantUserIDs []string `json:"tenant_user_ids"`
	NewPassword   string   `json:"new_password"`
}

type batchStatusRequest struct {
	TenantUserIDs []string                      `json:"tenant_user_ids"`
	Status        tenantdomain.TenantUserStatus `json:"status"`
}

type leadersRequest struct {
	TenantUserIDs []string `json:"tenant_user_ids"`
	LeaderIDs     []string `json:"leader_ids"`
}

type departmentsRequest struct {
	TenantUserIDs []string                  `json:"tenant_user_ids"`
	DepartmentIDs []string                  `json:"department_ids"`
	Mode          userdomain.DepartmentMode `json:"mode"`
}

type customFieldRequest struct {
	TenantUserIDs []string `json:"tenant_user_ids"`
	Field         string   `json:"field"`
	Value         any      `json:"value"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req userdomain.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := s.userSvc.CreateUser(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": user})
}

func (s *Server) BatchCreateUsers(c *gin.Context) {
	var req userdomain.BatchCreateUsersRequest
	if !bindJSON(c, &req) {
		return
	}
	users, err := s.userSvc.BatchCreateUsers(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": users})
}

func (s *Server) ImportUsers(c *gin.Context) {
	dataSourceID := strings.TrimSpace(c.PostForm("data_source_id"))
	if dataSourceID == "" {
		AbortWithError(c, validation.New("data_source_id", "required", "data_source_id is required"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, validation.New("file", "required", "file is required"))
		return
	}
	f, err := header.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer f.Close()

	users, err := s.importer.Import(c.Request.Context(), dataSourceID, strings.TrimSpace(c.PostForm("department_id")), f)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": users})
}

func (s *Server) UserImportTemplate(c *gin.Context) {
	body, err := s.importer.Template(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="users.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, body)
}

func (s *Server) ListUsers(c *gin.Context) {
	recursive, err := parseOptionalBool(c.Query("recursive"))
	if err != nil {
		AbortWithError(c, validation.New("recursive", "invalid_recursive", "invalid recursive"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, validation.New("limit", "invalid_limit", "invalid limit"))
		return
	}
	offset, err := parseOptionalInt(c.Query("offset"))
	if err != nil {
		AbortWithError(c, validation.New("offset", "invalid_offset", "invalid offset"))
		return
	}

	users, err := s.directorySvc.ListUsers(c.Request.Context(), directoryListRequest(
		c.Query("owner_tenant_id"), c.Query("department_id"), recursive, limit, offset,
	))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}

func (s *Server) SearchUsers(c *gin.Context) {
	users, err := s.directorySvc.SearchUsers(c.Request.Context(), directorySearchRequest(
		c.Query("keyword"), c.Query("owner_tenant_id"),
	))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}

func (s *Server) GetOrganizationPaths(c *gin.Context) {
	paths, err := s.directorySvc.OrganizationPaths(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": paths})
}

func (s *Server) UpdateUser(c *gin.Context) {
	var req userdomain.UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.UpdateUser(c.Request.Context(), c.Param("id"), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) DeleteUser(c *gin.Context) {
	if err := s.userSvc.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) BatchDeleteUsers(c *gin.Context) {
	var req batchUsersRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.BatchDeleteUsers(c.Request.Context(), req.TenantUserIDs); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleUserStatus flips a single user between enabled and disabled.
func (s *Server) ToggleUserStatus(c *gin.Context) {
	user, err := s.userSvc.UpdateStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) BatchUpdateUserStatus(c *gin.Context) {
	var req batchStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.BatchUpdateStatus(c.Request.Context(), req.TenantUserIDs, req.Status); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) UpdateUserExpiry(c *gin.Context) {
	var req expiryRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.UpdateExpiry(c.Request.Context(), c.Param("id"), req.AccountExpiredAt); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) BatchUpdateUserExpiry(c *gin.Context) {
	var req expiryRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.BatchUpdateExpiry(c.Request.Context(), req.TenantUserIDs, req.AccountExpiredAt); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ResetUserPassword(c *gin.Context) {
	var req passwordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.ResetPassword(c.Request.Context(), c.Param("id"), req.NewPassword); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) BatchResetUserPassword(c *gin.Context) {
	var req passwordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.BatchResetPassword(c.Request.Context(), req.TenantUserIDs, req.NewPassword); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) BatchUpdateLeaders(c *gin.Context) {
	var req leadersRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.UpdateLeaders(c.Request.Context(), req.TenantUserIDs, req.LeaderIDs); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) BatchUpdateDepartments(c *gin.Context) {
	var req departmentsRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = userdomain.DepartmentModeReplace
	}
	if err := s.userSvc.BatchUpdateDepartments(c.Request.Context(), req.TenantUserIDs, req.DepartmentIDs, req.Mode); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) BatchUpdateCustomField(c *gin.Context) {
	var req customFieldRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.userSvc.BatchUpdateCustomField(c.Request.Context(), req.TenantUserIDs, req.Field, req.Value); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
