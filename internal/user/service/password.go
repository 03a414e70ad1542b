package service

import (
	"context"

	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/password"
	"github.com/smallbiznis/directory/internal/task"
	"github.com/smallbiznis/directory/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) ResetPassword(ctx context.Context, tenantUserID, newPassword string) error {
	return s.BatchResetPassword(ctx, []string{tenantUserID}, newPassword)
}

// BatchResetPassword sets one password for every user. The data source must
// be local, real and have passwords enabled, and the password must satisfy
// the plugin rule.
func (s *Service) BatchResetPassword(ctx context.Context, tenantUserIDs []string, newPassword string) error {
	if err := validation.Var("password", newPassword, "required,max=64"); err != nil {
		return err
	}
	sc, err := s.ownedScope(ctx, tenantUserIDs)
	if err != nil {
		return err
	}
	capability, err := sc.ds.Capability()
	if err != nil {
		return err
	}
	if !capability.PasswordEnabled() {
		return dsdomain.ErrPasswordDisabled
	}
	if err := password.CheckRule(newPassword, capability.PasswordRule()); err != nil {
		return err
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	before, err := s.audit.SnapshotUsers(ctx, s.db, sc.tenantUserIDs())
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	validDays := capability.PasswordExpiry()
	expiredAt := dsdomain.PasswordExpiredAt(now, validDays)
	infos := make([]dsdomain.DataSourceUserIdentityInfo, 0, len(sc.users))
	for _, u := range sc.users {
		infos = append(infos, dsdomain.DataSourceUserIdentityInfo{
			UserID:            u.ID,
			DataSourceID:      sc.ds.ID,
			PasswordHash:      hash,
			PasswordUpdatedAt: &now,
			PasswordExpiredAt: &expiredAt,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.UpsertIdentityInfos(ctx, tx, infos)
	})
	if err != nil {
		return err
	}

	s.log.Info("passwords reset", zap.String("tenant_id", sc.tenantID), zap.Int("users", len(infos)))
	s.audit.RecordPasswordReset(ctx, before, validDays)
	s.dispatch(ctx, task.KindNotifyPasswordReset, task.NotifyPasswordResetPayload{
		UserIDs:   idStrings(sc.userIDs()),
		ValidDays: validDays,
	})
	return nil
}
