// Package handler implements the background tasks dispatched after user
// and collaboration mutations commit.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/clock"
	"github.com/smallbiznis/directory/internal/collaboration"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/password"
	"github.com/smallbiznis/directory/internal/providers/email"
	"github.com/smallbiznis/directory/internal/task"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const syncLockTTL = 10 * time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Propagator *collaboration.Propagator
	Email      email.Provider
	Locker     *task.Locker `optional:"true"`
}

type Handlers struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	propagator *collaboration.Propagator
	email      email.Provider
	locker     *task.Locker
}

func New(p Params) *Handlers {
	return &Handlers{
		db:         p.DB,
		log:        p.Log.Named("task.handler"),
		clock:      p.Clock,
		propagator: p.Propagator,
		email:      p.Email,
		locker:     p.Locker,
	}
}

// NewRegistry exposes every handler to the dispatcher and worker.
func NewRegistry(h *Handlers) task.Registry {
	return task.Registry{
		task.KindInitializeIdentity:  h.InitializeIdentity,
		task.KindNotifyPasswordReset: h.NotifyPasswordReset,
		task.KindSyncCollaboration:   h.SyncCollaboration,
	}
}

var Module = fx.Module("task.handler",
	fx.Provide(New),
	fx.Provide(NewRegistry),
)

// InitializeIdentity sets the initial password of new local users and
// mails it when the plugin asks for notification. Users that already have
// a password are skipped, so redelivery is harmless.
func (h *Handlers) InitializeIdentity(ctx context.Context, t task.Task) error {
	var payload task.InitializeIdentityPayload
	if err := t.Decode(&payload); err != nil {
		return err
	}
	dsID, err := snowflake.ParseString(payload.DataSourceID)
	if err != nil {
		return fmt.Errorf("data source id: %w", err)
	}

	var ds dsdomain.DataSource
	if err := h.db.WithContext(ctx).Where("id = ?", dsID).Take(&ds).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	capability, err := ds.Capability()
	if err != nil {
		return err
	}
	if !capability.IsLocal() || !capability.PasswordEnabled() {
		return nil
	}
	initial := capability.PasswordInitial()
	if initial == nil {
		initial = &dsdomain.PasswordInitial{GenerateMethod: "random"}
	}

	users, err := h.usersWithoutPassword(ctx, dsID, payload.UserIDs)
	if err != nil {
		return err
	}

	now := h.clock.Now()
	expiredAt := dsdomain.PasswordExpiredAt(now, capability.PasswordExpiry())
	for _, user := range users {
		plain := initial.FixedPassword
		if initial.GenerateMethod != "fixed" || plain == "" {
			if plain, err = password.Generate(capability.PasswordRule()); err != nil {
				return err
			}
		}
		hash, err := password.Hash(plain)
		if err != nil {
			return err
		}

		info := dsdomain.DataSourceUserIdentityInfo{
			UserID:            user.ID,
			DataSourceID:      dsID,
			PasswordHash:      hash,
			PasswordUpdatedAt: &now,
			PasswordExpiredAt: &expiredAt,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err = h.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&info).Error
		if err != nil {
			return err
		}

		if initial.Notify && user.Email != "" {
			err := h.email.SendTemplate(ctx, []string{user.Email}, "identity_initialized", map[string]any{
				"full_name":  user.FullName,
				"username":   user.Username,
				"password":   plain,
				"expired_at": expiryText(expiredAt),
			})
			if err != nil {
				h.log.Warn("initial password mail failed",
					zap.String("data_source_user_id", user.ID.String()),
					zap.Error(err),
				)
			}
		}
	}
	h.log.Info("identities initialized",
		zap.String("data_source_id", payload.DataSourceID),
		zap.Int("users", len(users)),
	)
	return nil
}

func parseIDs(raw []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, r := range raw {
		id, err := snowflake.ParseString(r)
		if err != nil {
			return nil, fmt.Errorf("user id %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *Handlers) usersWithoutPassword(ctx context.Context, dsID snowflake.ID, rawIDs []string) ([]dsdomain.DataSourceUser, error) {
	ids, err := parseIDs(rawIDs)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	var users []dsdomain.DataSourceUser
	err = h.db.WithContext(ctx).
		Where("data_source_id = ? AND id IN ?", dsID, ids).
		Where("id NOT IN (?)", h.db.Model(&dsdomain.DataSourceUserIdentityInfo{}).
			Select("user_id").
			Where("password_hash <> ''")).
		Order("id asc").
		Find(&users).Error
	return users, err
}

// NotifyPasswordReset tells users an administrator reset their password.
func (h *Handlers) NotifyPasswordReset(ctx context.Context, t task.Task) error {
	var payload task.NotifyPasswordResetPayload
	if err := t.Decode(&payload); err != nil {
		return err
	}
	ids, err := parseIDs(payload.UserIDs)
	if err != nil || len(ids) == 0 {
		return err
	}

	var users []dsdomain.DataSourceUser
	if err := h.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return err
	}

	expiredAt := dsdomain.PasswordExpiredAt(h.clock.Now(), payload.ValidDays)
	var errs []error
	for _, user := range users {
		if user.Email == "" {
			continue
		}
		err := h.email.SendTemplate(ctx, []string{user.Email}, "password_reset", map[string]any{
			"full_name":  user.FullName,
			"username":   user.Username,
			"expired_at": expiryText(expiredAt),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", user.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SyncCollaboration backfills a newly active strategy's target tenant.
func (h *Handlers) SyncCollaboration(ctx context.Context, t task.Task) error {
	var payload task.SyncCollaborationPayload
	if err := t.Decode(&payload); err != nil {
		return err
	}
	key := "directory:sync:" + payload.SourceTenantID + ":" + payload.TargetTenantID

	return h.locker.WithLock(ctx, key, syncLockTTL, func(ctx context.Context) error {
		var created int
		err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			created, err = h.propagator.SyncTarget(ctx, tx, payload.SourceTenantID, payload.TargetTenantID, h.clock.Now())
			return err
		})
		if err != nil {
			return err
		}
		h.log.Info("collaboration synced",
			zap.String("source_tenant_id", payload.SourceTenantID),
			zap.String("target_tenant_id", payload.TargetTenantID),
			zap.Int("tenant_users_created", created),
		)
		return nil
	})
}

func expiryText(t time.Time) string {
	if !t.Before(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)) {
		return ""
	}
	return t.Format("2006-01-02")
}
