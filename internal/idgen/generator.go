// Package idgen derives stable tenant user ids and records them permanently
// per (tenant, data source, code).
package idgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultBatchSize = 100
	maxAttempts      = 3
)

var ErrIDUnresolved = errors.New("tenant_user_id_unresolved")

type Generator struct {
	db         *gorm.DB
	genID      *snowflake.Node
	tenantID   string
	dataSource dsdomain.DataSource
	rule       tenantdomain.IDGenerateRule
	domain     string
	batchSize  int
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Generator)

func WithBatchSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// New builds a generator for one (target tenant, data source) scope. db may
// be a transaction handle.
func New(ctx context.Context, db *gorm.DB, genID *snowflake.Node, tenantID string, dataSource dsdomain.DataSource, opts ...Option) (*Generator, error) {
	g := &Generator{
		db:         db,
		genID:      genID,
		tenantID:   tenantID,
		dataSource: dataSource,
		rule:       tenantdomain.IDGenerateRuleUUID4Hex,
		batchSize:  defaultBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}

	var cfg tenantdomain.TenantUserIDGenerateConfig
	err := db.WithContext(ctx).
		Where("data_source_id = ? AND target_tenant_id = ?", dataSource.ID, tenantID).
		First(&cfg).Error
	switch {
	case err == nil:
		g.rule = cfg.Rule
		g.domain = cfg.Domain
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return g, nil
}

// Generate returns the tenant user id for user, creating and recording one
// on first use. Concurrent calls for the same user resolve to the same id.
func (g *Generator) Generate(ctx context.Context, user dsdomain.DataSourceUser) (string, error) {
	rec, err := g.lookup(ctx, user.Code)
	if err != nil {
		return "", err
	}
	if rec != nil {
		return rec.TenantUserID, nil
	}

	candidate := g.candidate(user)
	if candidate != "" {
		taken, err := g.taken(ctx, []string{candidate})
		if err != nil {
			return "", err
		}
		if _, ok := taken[candidate]; ok {
			candidate = ""
		}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if candidate == "" {
			candidate = uuidHex()
		}
		if err := g.insert(ctx, []tenantdomain.TenantUserIDRecord{g.record(user.Code, candidate)}); err != nil {
			return "", err
		}

		rec, err := g.lookup(ctx, user.Code)
		if err != nil {
			return "", err
		}
		if rec != nil {
			return rec.TenantUserID, nil
		}
		// The key is still free, so the id itself collided with another record.
		candidate = ""
	}
	return "", fmt.Errorf("%w: code %q", ErrIDUnresolved, user.Code)
}

// GenerateBatch resolves ids for many users with a fixed number of queries:
// existing records, taken candidates, chunked inserts and one re-read.
func (g *Generator) GenerateBatch(ctx context.Context, users []dsdomain.DataSourceUser) (map[snowflake.ID]string, error) {
	out := make(map[snowflake.ID]string, len(users))
	if len(users) == 0 {
		return out, nil
	}

	codes := make([]string, 0, len(users))
	for _, u := range users {
		codes = append(codes, u.Code)
	}

	existing, err := g.lookupMany(ctx, codes)
	if err != nil {
		return nil, err
	}

	var pending []dsdomain.DataSourceUser
	for _, u := range users {
		if rec, ok := existing[u.Code]; ok {
			out[u.ID] = rec.TenantUserID
			continue
		}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return out, nil
	}

	candidates := make([]string, 0, len(pending))
	for _, u := range pending {
		if c := g.candidate(u); c != "" {
			candidates = append(candidates, c)
		}
	}
	taken, err := g.taken(ctx, candidates)
	if err != nil {
		return nil, err
	}

	allocated := make(map[string]struct{}, len(pending))
	records := make([]tenantdomain.TenantUserIDRecord, 0, len(pending))
	for _, u := range pending {
		id := g.candidate(u)
		_, isTaken := taken[id]
		_, isAllocated := allocated[id]
		if id == "" || isTaken || isAllocated {
			id = uuidHex()
		}
		allocated[id] = struct{}{}
		records = append(records, g.record(u.Code, id))
	}
	if err := g.insert(ctx, records); err != nil {
		return nil, err
	}

	pendingCodes := make([]string, 0, len(pending))
	for _, u := range pending {
		pendingCodes = append(pendingCodes, u.Code)
	}
	resolved, err := g.lookupMany(ctx, pendingCodes)
	if err != nil {
		return nil, err
	}

	for _, u := range pending {
		if rec, ok := resolved[u.Code]; ok {
			out[u.ID] = rec.TenantUserID
			continue
		}
		id, err := g.Generate(ctx, u)
		if err != nil {
			return nil, err
		}
		out[u.ID] = id
	}
	return out, nil
}

// candidate returns the rule-derived id, empty when the rule is uuid4_hex
// or the user lacks what the rule needs.
func (g *Generator) candidate(user dsdomain.DataSourceUser) string {
	username := strings.TrimSpace(user.Username)
	switch g.rule {
	case tenantdomain.IDGenerateRuleUsername:
		return username
	case tenantdomain.IDGenerateRuleUsernameWithDomain:
		if username == "" || g.domain == "" {
			return ""
		}
		return username + "@" + g.domain
	default:
		return ""
	}
}

func (g *Generator) record(code, tenantUserID string) tenantdomain.TenantUserIDRecord {
	return tenantdomain.TenantUserIDRecord{
		ID:           g.genID.Generate(),
		TenantID:     g.tenantID,
		DataSourceID: g.dataSource.ID,
		Code:         code,
		TenantUserID: tenantUserID,
		CreatedAt:    g.now(),
	}
}

func (g *Generator) insert(ctx context.Context, records []tenantdomain.TenantUserIDRecord) error {
	if len(records) == 0 {
		return nil
	}
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&records, g.batchSize)
	if res.Error != nil {
		return res.Error
	}
	g.metrics.RecordIDRecords(ctx, string(g.rule), int(res.RowsAffected))
	return nil
}

func (g *Generator) lookup(ctx context.Context, code string) (*tenantdomain.TenantUserIDRecord, error) {
	var rec tenantdomain.TenantUserIDRecord
	err := g.db.WithContext(ctx).
		Where("tenant_id = ? AND data_source_id = ? AND code = ?", g.tenantID, g.dataSource.ID, code).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (g *Generator) lookupMany(ctx context.Context, codes []string) (map[string]tenantdomain.TenantUserIDRecord, error) {
	var recs []tenantdomain.TenantUserIDRecord
	err := g.db.WithContext(ctx).
		Where("tenant_id = ? AND data_source_id = ? AND code IN ?", g.tenantID, g.dataSource.ID, codes).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]tenantdomain.TenantUserIDRecord, len(recs))
	for _, rec := range recs {
		out[rec.Code] = rec
	}
	return out, nil
}

// taken reports which candidates are already used as a tenant user id anywhere.
func (g *Generator) taken(ctx context.Context, candidates []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if len(candidates) == 0 {
		return out, nil
	}

	var used []string
	err := g.db.WithContext(ctx).
		Model(&tenantdomain.TenantUserIDRecord{}).
		Where("tenant_user_id IN ?", candidates).
		Pluck("tenant_user_id", &used).Error
	if err != nil {
		return nil, err
	}
	var projected []string
	err = g.db.WithContext(ctx).
		Model(&tenantdomain.TenantUser{}).
		Where("id IN ?", candidates).
		Pluck("id", &projected).Error
	if err != nil {
		return nil, err
	}

	for _, id := range append(used, projected...) {
		out[id] = struct{}{}
	}
	return out, nil
}

func uuidHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
