package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/task"
	"github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/validation"
	"github.com/smallbiznis/directory/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Dispatcher task.Dispatcher `optional:"true"`
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	dispatcher task.Dispatcher
}

func NewService(p Params) domain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("tenant.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetTenant(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrTenantExists
	}
	if req.IsDefault {
		def, err := s.repo.GetDefaultTenant(ctx)
		if err != nil {
			return nil, err
		}
		if def != nil {
			return nil, domain.ErrDefaultTenantExists
		}
	}

	now := time.Now().UTC()
	tenant := domain.Tenant{
		ID:        req.ID,
		Name:      req.Name,
		Logo:      req.Logo,
		IsDefault: req.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateTenant(ctx, tenant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrTenantExists
		}
		return nil, err
	}
	return &tenant, nil
}

func (s *service) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	tenant, err := s.repo.GetTenant(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *service) List(ctx context.Context) ([]domain.Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// CreateStrategy proposes sharing the caller's identities with the target
// tenant. The target must confirm before anything propagates.
func (s *service) CreateStrategy(ctx context.Context, req domain.CreateStrategyRequest) (*domain.CollaborationStrategy, error) {
	sourceID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.TargetTenantID == sourceID {
		return nil, domain.ErrSelfCollaboration
	}
	if _, err := s.Get(ctx, req.TargetTenantID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	strategy := domain.CollaborationStrategy{
		ID:             s.genID.Generate(),
		Name:           strings.TrimSpace(req.Name),
		Creator:        tenantcontext.OperatorFromContext(ctx),
		SourceTenantID: sourceID,
		TargetTenantID: req.TargetTenantID,
		SourceStatus:   domain.CollaborationStatusEnabled,
		TargetStatus:   domain.CollaborationStatusUnconfirmed,
		TargetConfig:   datatypes.NewJSONType(domain.TargetConfig{FieldMapping: []domain.FieldMapping{}}),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateStrategy(ctx, strategy); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrStrategyExists
		}
		return nil, err
	}
	return &strategy, nil
}

func (s *service) UpdateSourceStatus(ctx context.Context, strategyID string, status domain.CollaborationStatus) (*domain.CollaborationStrategy, error) {
	strategy, err := s.strategyFor(ctx, strategyID, func(tenantID string, st *domain.CollaborationStrategy) bool {
		return st.SourceTenantID == tenantID
	})
	if err != nil {
		return nil, err
	}
	if !settable(status) {
		return nil, domain.ErrInvalidCollaborationStatus
	}

	wasActive := strategy.Active()
	strategy.SourceStatus = status
	return s.saveStrategy(ctx, strategy, wasActive)
}

// UpdateTargetStatus confirms or rejects a strategy from the target side,
// optionally replacing its field mapping.
func (s *service) UpdateTargetStatus(ctx context.Context, strategyID string, status domain.CollaborationStatus, cfg *domain.TargetConfig) (*domain.CollaborationStrategy, error) {
	strategy, err := s.strategyFor(ctx, strategyID, func(tenantID string, st *domain.CollaborationStrategy) bool {
		return st.TargetTenantID == tenantID
	})
	if err != nil {
		return nil, err
	}
	if !settable(status) {
		return nil, domain.ErrInvalidCollaborationStatus
	}
	if cfg != nil {
		if err := validation.Struct(cfg); err != nil {
			return nil, err
		}
		if cfg.FieldMapping == nil {
			cfg.FieldMapping = []domain.FieldMapping{}
		}
		strategy.TargetConfig = datatypes.NewJSONType(*cfg)
	}

	wasActive := strategy.Active()
	strategy.TargetStatus = status
	return s.saveStrategy(ctx, strategy, wasActive)
}

func (s *service) strategyFor(ctx context.Context, rawID string, allowed func(string, *domain.CollaborationStrategy) bool) (*domain.CollaborationStrategy, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id == 0 {
		return nil, domain.ErrStrategyNotFound
	}
	strategy, err := s.repo.GetStrategy(ctx, id)
	if err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, domain.ErrStrategyNotFound
	}
	if !allowed(tenantID, strategy) {
		return nil, domain.ErrTenantMismatch
	}
	return strategy, nil
}

// saveStrategy persists the strategy and queues a backfill when it just
// became active on both sides.
func (s *service) saveStrategy(ctx context.Context, strategy *domain.CollaborationStrategy, wasActive bool) (*domain.CollaborationStrategy, error) {
	strategy.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateStrategy(ctx, *strategy); err != nil {
		return nil, err
	}

	if !wasActive && strategy.Active() && s.dispatcher != nil {
		err := s.dispatcher.Dispatch(ctx, task.KindSyncCollaboration, task.SyncCollaborationPayload{
			SourceTenantID: strategy.SourceTenantID,
			TargetTenantID: strategy.TargetTenantID,
		})
		if err != nil {
			s.log.Error("failed to dispatch collaboration sync",
				zap.String("strategy_id", strategy.ID.String()),
				zap.Error(err),
			)
		}
	}
	return strategy, nil
}

func settable(status domain.CollaborationStatus) bool {
	return status == domain.CollaborationStatusEnabled || status == domain.CollaborationStatusDisabled
}

func (s *service) UpsertValidityPeriodConfig(ctx context.Context, req domain.ValidityPeriodRequest) (*domain.TenantUserValidityPeriodConfig, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.ValidityPeriod == 0 {
		return nil, validation.New("validity_period", "invalid", "must be -1 or a positive number of days")
	}

	cfg := domain.TenantUserValidityPeriodConfig{
		TenantID:       tenantID,
		Enabled:        req.Enabled,
		ValidityPeriod: req.ValidityPeriod,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.repo.UpsertValidityPeriodConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *service) CreateCustomField(ctx context.Context, req domain.CreateCustomFieldRequest) (*domain.TenantUserCustomField, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	isEnum := req.DataType == domain.CustomFieldEnum || req.DataType == domain.CustomFieldMultiEnum
	if isEnum && len(req.Options) == 0 {
		return nil, validation.New("options", "required", "enum fields need at least one option")
	}

	field := domain.TenantUserCustomField{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		Name:        req.Name,
		DisplayName: req.DisplayName,
		DataType:    req.DataType,
		Required:    req.Required,
		Options:     datatypes.NewJSONSlice(req.Options),
		CreatedAt:   time.Now().UTC(),
	}
	if req.Default != nil {
		if err := domain.CheckCustomFieldValue(field, req.Default); err != nil {
			return nil, validation.New("default", "invalid", err.Error())
		}
		raw, err := json.Marshal(req.Default)
		if err != nil {
			return nil, err
		}
		field.Default = raw
	}

	if err := s.repo.CreateCustomField(ctx, field); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCustomFieldExists
		}
		return nil, err
	}
	return &field, nil
}

func (s *service) ListCustomFields(ctx context.Context) ([]domain.TenantUserCustomField, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListCustomFields(ctx, tenantID)
}

// SetIDGenerateConfig chooses how tenant user ids are derived for users
// of one of the caller's data sources when projected into a tenant.
// Records already assigned keep their ids.
func (s *service) SetIDGenerateConfig(ctx context.Context, req domain.IDGenerateConfigRequest) (*domain.TenantUserIDGenerateConfig, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	dsID, err := snowflake.ParseString(strings.TrimSpace(req.DataSourceID))
	if err != nil || dsID == 0 {
		return nil, dsdomain.ErrDataSourceNotFound
	}
	var ds dsdomain.DataSource
	if err := s.db.WithContext(ctx).Where("id = ?", dsID).Take(&ds).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, dsdomain.ErrDataSourceNotFound
		}
		return nil, err
	}
	if ds.OwnerTenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	if _, err := s.Get(ctx, req.TargetTenantID); err != nil {
		return nil, err
	}

	cfg := domain.TenantUserIDGenerateConfig{
		ID:             s.genID.Generate(),
		DataSourceID:   dsID,
		TargetTenantID: req.TargetTenantID,
		Rule:           req.Rule,
		Domain:         req.Domain,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.UpsertIDGenerateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
