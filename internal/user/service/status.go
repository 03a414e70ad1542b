package service

import (
	"context"
	"time"

	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/user/domain"
	"gorm.io/gorm"
)

// Status and expiry are tenant-local, so collaboration copies may change them.

func (s *Service) UpdateStatus(ctx context.Context, tenantUserID string) (*tenantdomain.TenantUser, error) {
	tenantID, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.realTenantUsers(ctx, tenantID, []string{tenantUserID})
	if err != nil {
		return nil, err
	}
	before, err := s.audit.SnapshotUsers(ctx, s.db, []string{users[0].ID})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	updated := users[0]
	updated.Status = domain.ToggleStatus(updated, now)
	updated.UpdatedAt = now

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.UpdateStatus(ctx, tx, []string{updated.ID}, updated.Status, now)
	})
	if err != nil {
		return nil, err
	}

	s.audit.RecordTenantUsersModified(ctx, auditdomain.OpModifyUserStatus, before)
	return &updated, nil
}

// BatchUpdateStatus moves users to enabled or disabled; enabling a user past
// its expiry lands on expired.
func (s *Service) BatchUpdateStatus(ctx context.Context, tenantUserIDs []string, status tenantdomain.TenantUserStatus) error {
	if status != tenantdomain.TenantUserStatusEnabled && status != tenantdomain.TenantUserStatusDisabled {
		return domain.ErrInvalidStatus
	}
	tenantID, err := callerTenant(ctx)
	if err != nil {
		return err
	}
	users, err := s.realTenantUsers(ctx, tenantID, tenantUserIDs)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	groups := make(map[tenantdomain.TenantUserStatus][]string)
	for _, u := range users {
		next, err := domain.TargetStatus(u, status, now)
		if err != nil {
			return err
		}
		if next != u.Status {
			groups[next] = append(groups[next], u.ID)
		}
	}
	if len(groups) == 0 {
		return nil
	}

	before, err := s.audit.SnapshotUsers(ctx, s.db, changedIDs(groups))
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for next, ids := range groups {
			if err := s.repo.UpdateStatus(ctx, tx, ids, next, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.RecordTenantUsersModified(ctx, auditdomain.OpModifyUserStatus, before)
	return nil
}

func (s *Service) UpdateExpiry(ctx context.Context, tenantUserID string, expiredAt time.Time) error {
	return s.BatchUpdateExpiry(ctx, []string{tenantUserID}, expiredAt)
}

// BatchUpdateExpiry sets the account expiry. Expired users whose new expiry
// lies in the future are enabled again; every other status is kept.
func (s *Service) BatchUpdateExpiry(ctx context.Context, tenantUserIDs []string, expiredAt time.Time) error {
	if expiredAt.IsZero() {
		return domain.ErrInvalidExpiry
	}
	tenantID, err := callerTenant(ctx)
	if err != nil {
		return err
	}
	users, err := s.realTenantUsers(ctx, tenantID, tenantUserIDs)
	if err != nil {
		return err
	}
	before, err := s.audit.SnapshotUsers(ctx, s.db, tenantIDsOf(users))
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	expiredAt = expiredAt.UTC()
	groups := make(map[tenantdomain.TenantUserStatus][]string)
	for _, u := range users {
		next := domain.StatusAfterExpiry(u, expiredAt, now)
		groups[next] = append(groups[next], u.ID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for next, ids := range groups {
			if err := s.repo.UpdateExpiry(ctx, tx, ids, expiredAt, next, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.RecordTenantUsersModified(ctx, auditdomain.OpModifyUserAccountExpiredAt, before)
	return nil
}

func changedIDs(groups map[tenantdomain.TenantUserStatus][]string) []string {
	var out []string
	for _, ids := range groups {
		out = append(out, ids...)
	}
	return out
}

func tenantIDsOf(users []tenantdomain.TenantUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}
