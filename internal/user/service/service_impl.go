package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/clock"
	"github.com/smallbiznis/directory/internal/collaboration"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/relation"
	"github.com/smallbiznis/directory/internal/task"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/user/domain"
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
	Clock      clock.Clock
	Config     *config.DirectoryConfigHolder
	Repo       domain.Repository
	Tenants    tenantdomain.Repository
	Relations  *relation.Store
	Propagator *collaboration.Propagator
	Audit      auditdomain.Service
	Dispatcher task.Dispatcher `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        *config.DirectoryConfigHolder
	repo       domain.Repository
	tenants    tenantdomain.Repository
	relations  *relation.Store
	propagator *collaboration.Propagator
	audit      auditdomain.Service
	dispatcher task.Dispatcher
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("user.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config,
		repo:       p.Repo,
		tenants:    p.Tenants,
		relations:  p.Relations,
		propagator: p.Propagator,
		audit:      p.Audit,
		dispatcher: p.Dispatcher,
	}
}

// CreateUser creates the shared user, its relations, the owner tenant user
// and one collaboration copy per active target in a single transaction.
func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*tenantdomain.TenantUser, error) {
	tenantID, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.checkUsername(req.Username); err != nil {
		return nil, err
	}

	ds, err := s.writableDataSource(ctx, tenantID, req.DataSourceID)
	if err != nil {
		return nil, err
	}
	deptIDs, err := s.departmentIDs(ctx, ds, req.DepartmentIDs)
	if err != nil {
		return nil, err
	}
	leaderIDs, err := s.leaderIDs(ctx, tenantID, ds, req.LeaderIDs)
	if err != nil {
		return nil, err
	}
	taken, err := s.repo.ExistingUsernames(ctx, s.db, ds.ID, []string{req.Username})
	if err != nil {
		return nil, err
	}
	if len(taken) > 0 {
		return nil, dsdomain.ErrUsernameExists
	}

	now := s.clock.Now().UTC()
	user := newDataSourceUser(s.genID.Generate(), ds.ID, now)
	user.Code = req.Username
	user.Username = req.Username
	user.FullName = req.FullName
	user.Email = req.Email
	user.Phone = req.Phone
	user.PhoneCountryCode = req.PhoneCountryCode
	user.Logo = req.Logo
	user.Extras = extrasOf(req.Extras)

	var owner tenantdomain.TenantUser
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertDataSourceUsers(ctx, tx, []dsdomain.DataSourceUser{user}, s.batchSize()); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return dsdomain.ErrUsernameExists
			}
			return err
		}
		rel := s.relations.WithTx(tx)
		if _, err := rel.SetUserDepartments(ctx, user, deptIDs, now); err != nil {
			return err
		}
		if _, err := rel.SetUserLeaders(ctx, user, leaderIDs, now); err != nil {
			return err
		}
		rows, err := s.propagator.FanOutUsers(ctx, tx, ds, []dsdomain.DataSourceUser{user}, now)
		if err != nil {
			return err
		}
		owner = rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.RecordUsersCreated(ctx, []snowflake.ID{user.ID})
	s.initializeIdentities(ctx, ds, []snowflake.ID{user.ID})
	return &owner, nil
}

// BatchCreateUsers quickly enters users, optionally into one department.
// Returned rows are the owner tenant users in request order.
func (s *Service) BatchCreateUsers(ctx context.Context, req domain.BatchCreateUsersRequest) ([]tenantdomain.TenantUser, error) {
	tenantID, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	for i := range req.Users {
		req.Users[i].Username = strings.TrimSpace(req.Users[i].Username)
		req.Users[i].FullName = strings.TrimSpace(req.Users[i].FullName)
		req.Users[i].Email = strings.TrimSpace(req.Users[i].Email)
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	ds, err := s.writableDataSource(ctx, tenantID, req.DataSourceID)
	if err != nil {
		return nil, err
	}
	var deptIDs []snowflake.ID
	if strings.TrimSpace(req.DepartmentID) != "" {
		if deptIDs, err = s.departmentIDs(ctx, ds, []string{req.DepartmentID}); err != nil {
			return nil, err
		}
	}
	if err := s.checkBatchUsernames(ctx, ds, req.Users); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	users := make([]dsdomain.DataSourceUser, 0, len(req.Users))
	for _, q := range req.Users {
		user := newDataSourceUser(s.genID.Generate(), ds.ID, now)
		user.Code = q.Username
		user.Username = q.Username
		user.FullName = q.FullName
		user.Email = q.Email
		user.Phone = q.Phone
		user.PhoneCountryCode = q.PhoneCountryCode
		user.Extras = extrasOf(q.Extras)
		users = append(users, user)
	}
	userIDs := make([]snowflake.ID, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
	}

	var owners []tenantdomain.TenantUser
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertDataSourceUsers(ctx, tx, users, s.batchSize()); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return dsdomain.ErrUsernameExists
			}
			return err
		}
		if len(deptIDs) > 0 {
			err := s.relations.WithTx(tx).AddDepartmentUsers(ctx, ds.ID, userIDs, deptIDs, now, s.batchSize())
			if err != nil {
				return err
			}
		}
		rows, err := s.propagator.FanOutUsers(ctx, tx, ds, users, now)
		if err != nil {
			return err
		}
		owners = rows[:len(users)]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("users created",
		zap.String("tenant_id", tenantID),
		zap.String("data_source_id", ds.ID.String()),
		zap.Int("count", len(users)),
	)
	s.audit.RecordUsersCreated(ctx, userIDs)
	s.initializeIdentities(ctx, ds, userIDs)
	return owners, nil
}

func (s *Service) checkBatchUsernames(ctx context.Context, ds dsdomain.DataSource, users []domain.QuickUser) error {
	errs := &validation.Errors{}
	seen := make(map[string]int, len(users))
	names := make([]string, 0, len(users))
	for i, u := range users {
		if prev, ok := seen[u.Username]; ok {
			errs.Add(fmt.Sprintf("users[%d].username", i), "duplicate", fmt.Sprintf("repeats users[%d]", prev))
			continue
		}
		if s.checkUsername(u.Username) != nil {
			errs.Add(fmt.Sprintf("users[%d].username", i), "reserved", "is reserved")
		}
		seen[u.Username] = i
		names = append(names, u.Username)
	}

	taken, err := s.repo.ExistingUsernames(ctx, s.db, ds.ID, names)
	if err != nil {
		return err
	}
	for _, name := range taken {
		errs.Add(fmt.Sprintf("users[%d].username", seen[name]), "exists", "already exists")
	}
	return errs.Err()
}

// UpdateUser rewrites shared fields and diffs departments and leaders.
// Collaboration copies are read-only to the consuming tenant.
func (s *Service) UpdateUser(ctx context.Context, tenantUserID string, req domain.UpdateUserRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if err := validation.Struct(req); err != nil {
		return err
	}
	sc, err := s.ownedScope(ctx, []string{tenantUserID})
	if err != nil {
		return err
	}
	current := sc.users[0]
	tenantUser := sc.tenantUsers[0]

	if req.Username != current.Username {
		if s.cfg.Get().IsUsernameFrozen(int64(sc.ds.ID)) {
			return dsdomain.ErrUsernameFrozen
		}
		if err := s.checkUsername(req.Username); err != nil {
			return err
		}
		taken, err := s.repo.ExistingUsernames(ctx, s.db, sc.ds.ID, []string{req.Username})
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return dsdomain.ErrUsernameExists
		}
	}
	deptIDs, err := s.departmentIDs(ctx, sc.ds, req.DepartmentIDs)
	if err != nil {
		return err
	}
	leaderIDs, err := s.leaderIDs(ctx, sc.tenantID, sc.ds, req.LeaderIDs)
	if err != nil {
		return err
	}

	before, err := s.audit.SnapshotUsers(ctx, s.db, []string{tenantUser.ID})
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	updated := current
	updated.Username = req.Username
	updated.FullName = req.FullName
	updated.Email = req.Email
	updated.Phone = req.Phone
	updated.PhoneCountryCode = req.PhoneCountryCode
	updated.Logo = req.Logo
	if req.Extras != nil {
		updated.Extras = extrasOf(req.Extras)
	}
	updated.UpdatedAt = now

	facets := []auditdomain.UserFacet{auditdomain.FacetDataSourceUser}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateDataSourceUser(ctx, tx, updated); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return dsdomain.ErrUsernameExists
			}
			return err
		}

		rel := s.relations.WithTx(tx)
		deptDiff, err := rel.SetUserDepartments(ctx, updated, deptIDs, now)
		if err != nil {
			return err
		}
		if !deptDiff.Empty() {
			facets = append(facets, auditdomain.FacetDepartments)
		}
		leaderDiff, err := rel.SetUserLeaders(ctx, updated, leaderIDs, now)
		if err != nil {
			return err
		}
		if !leaderDiff.Empty() {
			facets = append(facets, auditdomain.FacetLeaders)
		}

		if req.AccountExpiredAt != nil && !req.AccountExpiredAt.Equal(tenantUser.AccountExpiredAt) {
			expiredAt := req.AccountExpiredAt.UTC()
			status := domain.StatusAfterExpiry(tenantUser, expiredAt, now)
			if err := s.repo.UpdateExpiry(ctx, tx, []string{tenantUser.ID}, expiredAt, status, now); err != nil {
				return err
			}
			facets = append(facets, auditdomain.FacetTenantUser)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.RecordUsersModified(ctx, before, facets...)
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, tenantUserID string) error {
	return s.BatchDeleteUsers(ctx, []string{tenantUserID})
}

// BatchDeleteUsers removes the shared users and every tenant user that
// projects them, in every tenant.
func (s *Service) BatchDeleteUsers(ctx context.Context, tenantUserIDs []string) error {
	sc, err := s.ownedScope(ctx, tenantUserIDs)
	if err != nil {
		return err
	}
	userIDs := sc.userIDs()

	before, err := s.audit.SnapshotUsersBySource(ctx, s.db, userIDs)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.propagator.DeleteUsers(ctx, tx, userIDs)
	})
	if err != nil {
		return err
	}

	s.log.Info("users deleted",
		zap.String("tenant_id", sc.tenantID),
		zap.Int("users", len(userIDs)),
		zap.Int("tenant_users", len(before)),
	)
	s.audit.RecordUsersDeleted(ctx, before)
	return nil
}

func (s *Service) initializeIdentities(ctx context.Context, ds dsdomain.DataSource, userIDs []snowflake.ID) {
	capability, err := ds.Capability()
	if err != nil || !capability.PasswordEnabled() {
		return
	}
	s.dispatch(ctx, task.KindInitializeIdentity, task.InitializeIdentityPayload{
		DataSourceID: ds.ID.String(),
		UserIDs:      idStrings(userIDs),
	})
}

func (s *Service) dispatch(ctx context.Context, kind task.Kind, payload any) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, kind, payload); err != nil {
		s.log.Error("failed to dispatch task", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *Service) batchSize() int {
	if n := s.cfg.Get().BatchSize; n > 0 {
		return n
	}
	return 100
}

// newDataSourceUser starts a local user. Callers set Code to the initial
// username; it never changes afterwards.
func newDataSourceUser(id, dataSourceID snowflake.ID, now time.Time) dsdomain.DataSourceUser {
	return dsdomain.DataSourceUser{
		ID:           id,
		DataSourceID: dataSourceID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func extrasOf(in map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range in {
		out[k] = v
	}
	return out
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
