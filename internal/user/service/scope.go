package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/user/domain"
)

// scope is a set of tenant users owned by the caller's tenant, all from one
// local real data source, with their shared rows in the same order.
type scope struct {
	tenantID    string
	ds          dsdomain.DataSource
	tenantUsers []tenantdomain.TenantUser
	users       []dsdomain.DataSourceUser
}

func (sc scope) tenantUserIDs() []string {
	out := make([]string, 0, len(sc.tenantUsers))
	for _, tu := range sc.tenantUsers {
		out = append(out, tu.ID)
	}
	return out
}

func (sc scope) userIDs() []snowflake.ID {
	out := make([]snowflake.ID, 0, len(sc.users))
	for _, u := range sc.users {
		out = append(out, u.ID)
	}
	return out
}

func callerTenant(ctx context.Context) (string, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return "", domain.ErrInvalidTenant
	}
	return tenantID, nil
}

// writableDataSource loads a data source the tenant may create users in.
func (s *Service) writableDataSource(ctx context.Context, tenantID, rawID string) (dsdomain.DataSource, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id == 0 {
		return dsdomain.DataSource{}, domain.ErrInvalidID
	}
	ds, err := s.repo.FindDataSource(ctx, s.db, id)
	if err != nil {
		return dsdomain.DataSource{}, err
	}
	if ds == nil {
		return dsdomain.DataSource{}, dsdomain.ErrDataSourceNotFound
	}
	if ds.OwnerTenantID != tenantID {
		return dsdomain.DataSource{}, domain.ErrTenantMismatch
	}
	if !ds.IsLocal() || !ds.IsRealType() {
		return dsdomain.DataSource{}, dsdomain.ErrDataSourceNotLocalReal
	}
	return *ds, nil
}

// tenantUsers loads every requested tenant user of the tenant or fails.
func (s *Service) tenantUsers(ctx context.Context, tenantID string, rawIDs []string) ([]tenantdomain.TenantUser, error) {
	ids := uniqueStrings(rawIDs)
	if len(ids) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	rows, err := s.repo.FindTenantUsers(ctx, s.db, tenantID, ids)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(ids) {
		return nil, domain.ErrTenantUserNotFound
	}
	return rows, nil
}

// realTenantUsers is tenantUsers restricted to users of real data sources;
// virtual projections are reported as missing.
func (s *Service) realTenantUsers(ctx context.Context, tenantID string, rawIDs []string) ([]tenantdomain.TenantUser, error) {
	ids := uniqueStrings(rawIDs)
	if len(ids) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	rows, err := s.repo.FindRealTenantUsers(ctx, s.db, tenantID, ids)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(ids) {
		return nil, domain.ErrTenantUserNotFound
	}
	return rows, nil
}

// ownedScope resolves tenant users whose shared rows the caller may change:
// they must come from one local real data source owned by the tenant.
func (s *Service) ownedScope(ctx context.Context, rawIDs []string) (scope, error) {
	tenantID, err := callerTenant(ctx)
	if err != nil {
		return scope{}, err
	}
	tenantUsers, err := s.tenantUsers(ctx, tenantID, rawIDs)
	if err != nil {
		return scope{}, err
	}

	dsID := tenantUsers[0].DataSourceID
	for _, tu := range tenantUsers[1:] {
		if tu.DataSourceID != dsID {
			return scope{}, domain.ErrMixedDataSources
		}
	}
	ds, err := s.repo.FindDataSource(ctx, s.db, dsID)
	if err != nil {
		return scope{}, err
	}
	if ds == nil {
		return scope{}, dsdomain.ErrDataSourceNotFound
	}
	if ds.OwnerTenantID != tenantID {
		return scope{}, domain.ErrCollaborationUserReadOnly
	}
	if !ds.IsLocal() || !ds.IsRealType() {
		return scope{}, dsdomain.ErrDataSourceNotLocalReal
	}

	sourceIDs := make([]snowflake.ID, 0, len(tenantUsers))
	for _, tu := range tenantUsers {
		sourceIDs = append(sourceIDs, tu.DataSourceUserID)
	}
	users, err := s.repo.FindDataSourceUsers(ctx, s.db, sourceIDs)
	if err != nil {
		return scope{}, err
	}
	byID := make(map[snowflake.ID]dsdomain.DataSourceUser, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	ordered := make([]dsdomain.DataSourceUser, 0, len(tenantUsers))
	for _, tu := range tenantUsers {
		u, ok := byID[tu.DataSourceUserID]
		if !ok {
			return scope{}, dsdomain.ErrUserNotFound
		}
		ordered = append(ordered, u)
	}

	return scope{tenantID: tenantID, ds: *ds, tenantUsers: tenantUsers, users: ordered}, nil
}

// departmentIDs parses data source department ids and checks they all
// belong to ds.
func (s *Service) departmentIDs(ctx context.Context, ds dsdomain.DataSource, raw []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, r := range uniqueStrings(raw) {
		id, err := snowflake.ParseString(r)
		if err != nil || id == 0 {
			return nil, dsdomain.ErrDepartmentNotFound
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ids, nil
	}
	n, err := s.repo.CountDepartments(ctx, s.db, ds.ID, ids)
	if err != nil {
		return nil, err
	}
	if n != int64(len(ids)) {
		return nil, dsdomain.ErrDepartmentNotFound
	}
	return ids, nil
}

// leaderIDs maps tenant user ids of leaders to data source user ids of ds.
func (s *Service) leaderIDs(ctx context.Context, tenantID string, ds dsdomain.DataSource, raw []string) ([]snowflake.ID, error) {
	ids := uniqueStrings(raw)
	if len(ids) == 0 {
		return []snowflake.ID{}, nil
	}
	leaders, err := s.tenantUsers(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]snowflake.ID, 0, len(leaders))
	for _, l := range leaders {
		if l.DataSourceID != ds.ID {
			return nil, relation.ErrCrossDataSource
		}
		out = append(out, l.DataSourceUserID)
	}
	return out, nil
}

func (s *Service) checkUsername(username string) error {
	for _, reserved := range s.cfg.Get().ReservedUsernames {
		if strings.EqualFold(reserved, username) {
			return domain.ErrReservedUsername
		}
	}
	return nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
