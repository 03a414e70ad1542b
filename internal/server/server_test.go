package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	departmentdomain "github.com/smallbiznis/directory/internal/department/domain"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	userdomain "github.com/smallbiznis/directory/internal/user/domain"
	"github.com/smallbiznis/directory/internal/validation"
	"github.com/smallbiznis/directory/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeDepartmentService struct {
	departmentdomain.Service

	err        error
	lastTenant string
	lastOp     string
	lastReq    departmentdomain.CreateDepartmentRequest
}

func (f *fakeDepartmentService) Create(ctx context.Context, req departmentdomain.CreateDepartmentRequest) (*dsdomain.DataSourceDepartment, error) {
	f.lastTenant, _ = tenantcontext.TenantIDFromContext(ctx)
	f.lastOp = tenantcontext.OperatorFromContext(ctx)
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &dsdomain.DataSourceDepartment{ID: 42, Name: req.Name}, nil
}

type fakeUserService struct {
	userdomain.Service

	lastIDs  []string
	lastMode userdomain.DepartmentMode
}

func (f *fakeUserService) BatchUpdateDepartments(ctx context.Context, tenantUserIDs, departmentIDs []string, mode userdomain.DepartmentMode) error {
	f.lastIDs = tenantUserIDs
	f.lastMode = mode
	return nil
}

type fakeAuditService struct {
	auditdomain.Service

	lastReq auditdomain.ListRequest
}

func (f *fakeAuditService) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	f.lastReq = req
	return auditdomain.ListResponse{}, nil
}

type testServer struct {
	*Server
	departments *fakeDepartmentService
	users       *fakeUserService
	audit       *fakeAuditService
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := testServer{
		departments: &fakeDepartmentService{},
		users:       &fakeUserService{},
		audit:       &fakeAuditService{},
	}
	ts.Server = NewServer(ServerParams{
		Gin:           NewEngine(config.Config{}, zap.NewNop()),
		Log:           zap.NewNop(),
		UserSvc:       ts.users,
		DepartmentSvc: ts.departments,
		AuditSvc:      ts.audit,
	})
	return ts
}

func (ts testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthAndCorrelation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil, map[string]string{correlation.HeaderName: "corr-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get(correlation.HeaderName))

	rec = ts.do(http.MethodGet, "/health", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderName))
}

func TestTenantHeaderRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/departments", map[string]string{"name": "Eng"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestCreateDepartmentCarriesTenantContext(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/departments",
		map[string]string{"data_source_id": "7", "name": "Eng"},
		map[string]string{HeaderTenant: "acme", HeaderOperator: "ops"},
	)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "acme", ts.departments.lastTenant)
	assert.Equal(t, "ops", ts.departments.lastOp)
	assert.Equal(t, "Eng", ts.departments.lastReq.Name)
}

func TestServiceErrorsAreMapped(t *testing.T) {
	ts := newTestServer(t)
	ts.departments.err = fmt.Errorf("create: %w", departmentdomain.ErrDuplicateSiblingName)

	rec := ts.do(http.MethodPost, "/api/v1/departments",
		map[string]string{"data_source_id": "7", "name": "Eng"},
		map[string]string{HeaderTenant: "acme"},
	)
	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "conflict", payload.Type)
	assert.Equal(t, departmentdomain.ErrDuplicateSiblingName.Error(), payload.Code)
}

func TestMalformedBodyIsInvalidRequest(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/departments", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTenant, "acme")
	rec := httptest.NewRecorder()
	ts.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestBatchUpdateDepartmentsDefaultsToReplace(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/api/v1/users/batch/departments",
		map[string]any{"tenant_user_ids": []string{"u1"}, "department_ids": []string{"9"}},
		map[string]string{HeaderTenant: "acme"},
	)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1"}, ts.users.lastIDs)
	assert.Equal(t, userdomain.DepartmentModeReplace, ts.users.lastMode)
}

func TestListAuditRecordsParsesTimeRange(t *testing.T) {
	ts := newTestServer(t)
	headers := map[string]string{HeaderTenant: "acme"}

	rec := ts.do(http.MethodGet, "/api/v1/audit-records?start_at=2024-01-01&end_at=2024-01-31&operation=create_user", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.audit.lastReq.StartAt)
	require.NotNil(t, ts.audit.lastReq.EndAt)
	assert.Equal(t, 0, ts.audit.lastReq.StartAt.Hour())
	assert.Equal(t, 23, ts.audit.lastReq.EndAt.Hour())
	assert.Equal(t, "create_user", ts.audit.lastReq.Operation)

	rec = ts.do(http.MethodGet, "/api/v1/audit-records?start_at=yesterday", nil, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "start_at", payload.Errors[0].Field)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", validation.New("username", "required", "username is required"), http.StatusBadRequest, "validation_error"},
		{"cycle", relation.ErrCycle, http.StatusBadRequest, "invalid_request"},
		{"invalid tenant", userdomain.ErrInvalidTenant, http.StatusUnauthorized, "unauthorized"},
		{"read only", fmt.Errorf("update: %w", userdomain.ErrCollaborationUserReadOnly), http.StatusForbidden, "forbidden"},
		{"frozen", dsdomain.ErrUsernameFrozen, http.StatusForbidden, "forbidden"},
		{"strategy missing", tenantdomain.ErrStrategyNotFound, http.StatusNotFound, "not_found"},
		{"record missing", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"username taken", dsdomain.ErrUsernameExists, http.StatusConflict, "conflict"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, payload.Type)
		})
	}
}

func TestInternalErrorsDoNotLeakMessages(t *testing.T) {
	_, payload := mapError(errors.New("pq: connection refused"))
	assert.Equal(t, "internal server error", payload.Message)
	assert.Empty(t, payload.Code)
}
