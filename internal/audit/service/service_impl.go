package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/config"
	"github.com/smallbiznis/directory/internal/observability/metrics"
	"github.com/smallbiznis/directory/internal/relation"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      auditdomain.Repository
	Relations *relation.Store
	Config    *config.DirectoryConfigHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      auditdomain.Repository
	relations *relation.Store
	cfg       *config.DirectoryConfigHolder
	metrics   *metrics.Metrics
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("audit.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		relations: p.Relations,
		cfg:       p.Config,
		metrics:   p.Metrics,
	}
}

// Write stamps objects with the caller's tenant, operator and a shared
// batch id and persists them.
func (s *Service) Write(ctx context.Context, objects []auditdomain.Object) error {
	if len(objects) == 0 {
		return nil
	}
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return auditdomain.ErrInvalidTenant
	}

	operator := tenantcontext.OperatorFromContext(ctx)
	batchID := ulid.Make().String()
	now := time.Now().UTC()

	records := make([]auditdomain.AuditRecord, 0, len(objects))
	for _, obj := range objects {
		records = append(records, auditdomain.AuditRecord{
			ID:         s.genID.Generate(),
			Operator:   operator,
			TenantID:   tenantID,
			BatchID:    batchID,
			Operation:  obj.Operation,
			ObjectType: obj.Type,
			ObjectID:   obj.ID,
			ObjectName: obj.Name,
			DataBefore: jsonMap(obj.DataBefore),
			DataAfter:  jsonMap(obj.DataAfter),
			Extras:     jsonMap(obj.Extras),
			CreatedAt:  now,
		})
	}
	return s.repo.Insert(ctx, s.db, records, s.cfg.Get().BatchSize)
}

// emit writes objects and swallows the error after logging and counting it.
func (s *Service) emit(ctx context.Context, objects []auditdomain.Object) {
	if len(objects) == 0 {
		return
	}
	op := string(objects[0].Operation)
	if err := s.Write(ctx, objects); err != nil {
		s.metrics.RecordAuditFailure(ctx, op)
		s.log.Error("failed to write audit records",
			zap.String("operation", op),
			zap.Int("objects", len(objects)),
			zap.Error(err),
		)
		return
	}
	counts := map[auditdomain.Operation]int{}
	for _, obj := range objects {
		counts[obj.Operation]++
	}
	for operation, n := range counts {
		s.metrics.RecordAuditObjects(ctx, string(operation), n)
	}
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTenant
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.Cursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListResponse{}, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		cursor = &auditdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		TenantID:   tenantID,
		Operation:  req.Operation,
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		Operator:   req.Operator,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.Trim(items, limit, func(item auditdomain.AuditRecord) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}
	return auditdomain.ListResponse{PageInfo: pageInfo, Records: items}, nil
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}
