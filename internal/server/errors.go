package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	departmentdomain "github.com/smallbiznis/directory/internal/department/domain"
	"github.com/smallbiznis/directory/internal/directory"
	"github.com/smallbiznis/directory/internal/importer"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	userdomain "github.com/smallbiznis/directory/internal/user/domain"
	"github.com/smallbiznis/directory/internal/validation"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string             `json:"type"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message"`
	Errors  []validation.Error `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return validation.New("request", "invalid_request", "invalid request")
}

// errorClasses groups sentinel errors by HTTP status. The sentinel text is
// returned as the error code.
var errorClasses = []struct {
	status int
	kind   string
	errs   []error
}{
	{http.StatusBadRequest, "invalid_request", []error{
		ErrInvalidRequest,
		userdomain.ErrInvalidID,
		userdomain.ErrEmptyBatch,
		userdomain.ErrInvalidStatus,
		userdomain.ErrInvalidExpiry,
		userdomain.ErrReservedUsername,
		userdomain.ErrMixedDataSources,
		departmentdomain.ErrInvalidID,
		dsdomain.ErrInvalidID,
		dsdomain.ErrUnknownPlugin,
		dsdomain.ErrInvalidPluginConfig,
		tenantdomain.ErrInvalidCollaborationStatus,
		tenantdomain.ErrInvalidIDGenerateRule,
		tenantdomain.ErrInvalidCustomFieldValue,
		tenantdomain.ErrSelfCollaboration,
		auditdomain.ErrInvalidTimeRange,
		relation.ErrCrossDataSource,
		relation.ErrCycle,
		importer.ErrEmptySheet,
	}},
	{http.StatusUnauthorized, "unauthorized", []error{
		ErrUnauthorized,
		userdomain.ErrInvalidTenant,
		departmentdomain.ErrInvalidTenant,
		dsdomain.ErrInvalidTenant,
		tenantdomain.ErrInvalidTenant,
		auditdomain.ErrInvalidTenant,
		directory.ErrInvalidTenant,
	}},
	{http.StatusForbidden, "forbidden", []error{
		userdomain.ErrTenantMismatch,
		userdomain.ErrCollaborationUserReadOnly,
		departmentdomain.ErrTenantMismatch,
		departmentdomain.ErrCollaborationDepartmentReadOnly,
		tenantdomain.ErrTenantMismatch,
		dsdomain.ErrDataSourceNotLocalReal,
		dsdomain.ErrPasswordDisabled,
		dsdomain.ErrUsernameFrozen,
		directory.ErrDataSourceNotShared,
	}},
	{http.StatusNotFound, "not_found", []error{
		ErrNotFound,
		userdomain.ErrTenantUserNotFound,
		userdomain.ErrCustomFieldNotFound,
		dsdomain.ErrDataSourceNotFound,
		dsdomain.ErrUserNotFound,
		dsdomain.ErrDepartmentNotFound,
		tenantdomain.ErrTenantNotFound,
		tenantdomain.ErrStrategyNotFound,
		directory.ErrTenantUserNotFound,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusConflict, "conflict", []error{
		dsdomain.ErrUsernameExists,
		departmentdomain.ErrDuplicateSiblingName,
		tenantdomain.ErrTenantExists,
		tenantdomain.ErrDefaultTenantExists,
		tenantdomain.ErrStrategyExists,
		tenantdomain.ErrCustomFieldExists,
		gorm.ErrDuplicatedKey,
	}},
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr, ok := validation.As(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, errorPayload{
					Type:    class.kind,
					Code:    target.Error(),
					Message: err.Error(),
				}
			}
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog mirrors mapError without leaking messages into logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
