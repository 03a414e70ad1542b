package scheduler

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/clock"
	"github.com/smallbiznis/directory/internal/observability/metrics"
	"github.com/smallbiznis/directory/internal/task"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/pkg/log/ctxlogger"
	"github.com/smallbiznis/directory/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobExpireAccounts = "expire_accounts"
	systemOperator    = "scheduler"
	lockKeyPrefix     = "directory:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Audit   auditdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
	Locker  *task.Locker     `optional:"true"`
	Config  Config           `optional:"true"`
}

// Scheduler runs periodic maintenance over tenant users. Every job holds a
// redis lock so only one replica runs it per tick.
type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	audit   auditdomain.Service
	metrics *metrics.Metrics
	locker  *task.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Audit == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		audit:   p.Audit,
		metrics: p.Metrics,
		locker:  p.Locker,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	ctx, runID := correlation.EnsureCorrelationID(ctx)
	ctx = ctxlogger.ContextWithOperator(ctx, systemOperator)
	log := ctxlogger.WithContext(ctx, s.log).With(zap.String("job", name), zap.String("run_id", runID))

	start := s.clock.Now()
	var processed int
	err := s.locker.WithLock(ctx, lockKeyPrefix+name, s.cfg.JobTimeout, func(ctx context.Context) error {
		var err error
		processed, err = fn(ctx)
		return err
	})
	switch {
	case errors.Is(err, task.ErrLocked):
		log.Debug("job skipped, lock held elsewhere")
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		// Soft timeout; the remainder is picked up on the next tick.
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Int("processed", processed),
		)
		return nil
	case err != nil:
		log.Error("job failed", zap.Error(err), zap.Int("processed", processed))
		return err
	}

	if processed > 0 {
		log.Info("job finished",
			zap.Int("processed", processed),
			zap.Int64("duration_ms", s.clock.Now().Sub(start).Milliseconds()),
		)
	}
	return nil
}

// RunOnce executes every job a single time.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runJob(ctx, jobExpireAccounts, s.ExpireAccounts)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpireAccounts moves enabled tenant users whose account expiry has passed
// to expired, one batch at a time, recording a status audit per tenant.
func (s *Scheduler) ExpireAccounts(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		now := s.clock.Now().UTC()

		var due []tenantdomain.TenantUser
		err := s.db.WithContext(ctx).
			Where("status = ? AND account_expired_at < ?", tenantdomain.TenantUserStatusEnabled, now).
			Order("id asc").
			Limit(s.cfg.BatchSize).
			Find(&due).Error
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			return total, nil
		}

		byTenant := make(map[string][]string)
		order := make([]string, 0)
		for _, tu := range due {
			if _, ok := byTenant[tu.TenantID]; !ok {
				order = append(order, tu.TenantID)
			}
			byTenant[tu.TenantID] = append(byTenant[tu.TenantID], tu.ID)
		}

		expired := 0
		for _, tenantID := range order {
			n, err := s.expireTenantUsers(ctx, tenantID, byTenant[tenantID], now)
			expired += n
			if err != nil {
				s.metrics.RecordAccountsExpired(ctx, expired)
				return total + expired, err
			}
		}
		total += expired
		s.metrics.RecordAccountsExpired(ctx, expired)

		if len(due) < s.cfg.BatchSize {
			return total, nil
		}
	}
}

func (s *Scheduler) expireTenantUsers(ctx context.Context, tenantID string, ids []string, now time.Time) (int, error) {
	ctx = tenantcontext.WithTenantID(ctx, tenantID)
	ctx = tenantcontext.WithOperator(ctx, systemOperator)

	before, err := s.audit.SnapshotUsers(ctx, s.db, ids)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&tenantdomain.TenantUser{}).
			Where("id IN ? AND status = ?", ids, tenantdomain.TenantUserStatusEnabled).
			Updates(map[string]any{
				"status":     tenantdomain.TenantUserStatusExpired,
				"updated_at": now,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}

	s.audit.RecordTenantUsersModified(ctx, auditdomain.OpModifyUserStatus, before)
	return int(affected), nil
}
