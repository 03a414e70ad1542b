package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Audit auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	audit auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("datasource.service"),
		genID: p.GenID,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateDataSourceRequest) (*domain.DataSource, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if _, err := domain.ParsePluginConfig(req.PluginID, req.PluginConfig); err != nil {
		return nil, validation.New("plugin_config", "invalid", err.Error())
	}

	now := time.Now().UTC()
	ds := domain.DataSource{
		ID:            s.genID.Generate(),
		OwnerTenantID: tenantID,
		Type:          req.Type,
		PluginID:      req.PluginID,
		PluginConfig:  datatypes.JSON(req.PluginConfig),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, &ds); err != nil {
		return nil, err
	}

	s.audit.RecordDataSource(ctx, auditdomain.OpCreateDataSource, nil, &ds)
	return &ds, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.DataSource, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	dsID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	ds, err := s.repo.FindByID(ctx, s.db, dsID)
	if err != nil {
		return nil, err
	}
	if ds == nil || ds.OwnerTenantID != tenantID {
		return nil, domain.ErrDataSourceNotFound
	}
	return ds, nil
}

func (s *Service) List(ctx context.Context) ([]domain.DataSource, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListByOwner(ctx, s.db, tenantID)
}

// UpdatePluginConfig replaces the plugin config. Secret fields sent back
// in their masked form keep the stored value.
func (s *Service) UpdatePluginConfig(ctx context.Context, id string, raw json.RawMessage) (*domain.DataSource, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cfg, err := domain.ParsePluginConfig(before.PluginID, before.PluginConfig)
	if err != nil {
		return nil, err
	}
	merged, err := keepMaskedSecrets(raw, before.PluginConfig, cfg.SecretFields())
	if err != nil {
		return nil, validation.New("plugin_config", "invalid", "plugin config must be a JSON object")
	}
	if _, err := domain.ParsePluginConfig(before.PluginID, merged); err != nil {
		return nil, validation.New("plugin_config", "invalid", err.Error())
	}

	after := *before
	after.PluginConfig = datatypes.JSON(merged)
	after.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdatePluginConfig(ctx, s.db, &after); err != nil {
		return nil, err
	}

	s.log.Info("plugin config updated",
		zap.String("data_source_id", after.ID.String()),
		zap.String("plugin_id", after.PluginID),
	)
	s.audit.RecordDataSource(ctx, auditdomain.OpModifyDataSource, before, &after)
	return &after, nil
}

func keepMaskedSecrets(incoming, stored []byte, secretKeys []string) ([]byte, error) {
	var next map[string]any
	if err := json.Unmarshal(incoming, &next); err != nil {
		return nil, err
	}
	var prev map[string]any
	if err := json.Unmarshal(stored, &prev); err != nil {
		prev = map[string]any{}
	}
	for _, key := range secretKeys {
		v, ok := next[key].(string)
		if ok && strings.HasPrefix(v, "****") {
			if old, exists := prev[key]; exists {
				next[key] = old
			}
		}
	}
	return json.Marshal(next)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
