package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	departmentdomain "github.com/smallbiznis/directory/internal/department/domain"
	"github.com/smallbiznis/directory/internal/directory"
	"github.com/smallbiznis/directory/internal/importer"
	obstracing "github.com/smallbiznis/directory/internal/observability/tracing"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	userdomain "github.com/smallbiznis/directory/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Correlation())
	r.Use(obstracing.GinMiddleware())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	userSvc       userdomain.Service
	departmentSvc departmentdomain.Service
	dataSourceSvc dsdomain.Service
	tenantSvc     tenantdomain.Service
	auditSvc      auditdomain.Service
	directorySvc  *directory.Service
	importer      *importer.Importer
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	UserSvc       userdomain.Service
	DepartmentSvc departmentdomain.Service
	DataSourceSvc dsdomain.Service
	TenantSvc     tenantdomain.Service
	AuditSvc      auditdomain.Service
	DirectorySvc  *directory.Service
	Importer      *importer.Importer
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		userSvc:       p.UserSvc,
		departmentSvc: p.DepartmentSvc,
		dataSourceSvc: p.DataSourceSvc,
		tenantSvc:     p.TenantSvc,
		auditSvc:      p.AuditSvc,
		directorySvc:  p.DirectorySvc,
		importer:      p.Importer,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// Legacy aggregation for the default tenant; not tenant scoped.
	api.GET("/default-tenant/data-sources", s.DefaultTenantDataSources)
	api.GET("/default-tenant/field-mapping", s.DefaultTenantFieldMapping)

	scoped := api.Group("", TenantContext())

	// -------- Tenants & collaboration --------
	scoped.POST("/tenants", s.CreateTenant)
	scoped.GET("/tenants", s.ListTenants)
	scoped.GET("/tenants/:id", s.GetTenant)
	scoped.POST("/collaboration-strategies", s.CreateStrategy)
	scoped.PUT("/collaboration-strategies/:id/source-status", s.UpdateStrategySourceStatus)
	scoped.PUT("/collaboration-strategies/:id/target-status", s.UpdateStrategyTargetStatus)
	scoped.PUT("/settings/validity-period", s.UpsertValidityPeriod)
	scoped.GET("/settings/custom-fields", s.ListCustomFields)
	scoped.POST("/settings/custom-fields", s.CreateCustomField)
	scoped.PUT("/settings/id-generate-configs", s.SetIDGenerateConfig)

	// -------- Data sources --------
	scoped.POST("/data-sources", s.CreateDataSource)
	scoped.GET("/data-sources", s.ListDataSources)
	scoped.GET("/data-sources/:id", s.GetDataSource)
	scoped.PUT("/data-sources/:id/plugin-config", s.UpdateDataSourcePluginConfig)

	// -------- Users --------
	scoped.POST("/users", s.CreateUser)
	scoped.POST("/users/batch", s.BatchCreateUsers)
	scoped.POST("/users/import", s.ImportUsers)
	scoped.GET("/users/import-template", s.UserImportTemplate)
	scoped.GET("/users", s.ListUsers)
	scoped.GET("/users/search", s.SearchUsers)
	scoped.PUT("/users/:id", s.UpdateUser)
	scoped.DELETE("/users/:id", s.DeleteUser)
	scoped.POST("/users/:id/status", s.ToggleUserStatus)
	scoped.PUT("/users/:id/account-expired-at", s.UpdateUserExpiry)
	scoped.PUT("/users/:id/password", s.ResetUserPassword)
	scoped.GET("/users/:id/organization-paths", s.GetOrganizationPaths)
	scoped.POST("/users/batch-delete", s.BatchDeleteUsers)
	scoped.PUT("/users/batch/status", s.BatchUpdateUserStatus)
	scoped.PUT("/users/batch/account-expired-at", s.BatchUpdateUserExpiry)
	scoped.PUT("/users/batch/password", s.BatchResetUserPassword)
	scoped.PUT("/users/batch/leaders", s.BatchUpdateLeaders)
	scoped.PUT("/users/batch/departments", s.BatchUpdateDepartments)
	scoped.PUT("/users/batch/custom-field", s.BatchUpdateCustomField)

	// -------- Departments --------
	scoped.POST("/departments", s.CreateDepartment)
	scoped.PUT("/departments/:id", s.UpdateDepartment)
	scoped.PUT("/departments/:id/parent", s.MoveDepartment)
	scoped.DELETE("/departments/:id", s.DeleteDepartment)

	scoped.GET("/audit-records", s.ListAuditRecords)
}
