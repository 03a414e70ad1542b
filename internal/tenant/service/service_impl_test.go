package service

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/directory/internal/task"
	"github.com/smallbiznis/directory/internal/task/mocks"
	"github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenant/repository"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/smallbiznis/directory/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, dispatcher task.Dispatcher) (domain.Service, *gorm.DB) {
	conn := testutil.NewDB(t)
	return NewService(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      testutil.NewNode(t),
		Repo:       repository.NewRepository(conn),
		Dispatcher: dispatcher,
	}), conn
}

func TestCreateTenantRejectsSecondDefault(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateTenantRequest{ID: "default", Name: "Default", IsDefault: true})
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreateTenantRequest{ID: "default", Name: "Again"})
	assert.ErrorIs(t, err, domain.ErrTenantExists)

	_, err = svc.Create(ctx, domain.CreateTenantRequest{ID: "other", Name: "Other", IsDefault: true})
	assert.ErrorIs(t, err, domain.ErrDefaultTenantExists)

	_, err = svc.Create(ctx, domain.CreateTenantRequest{ID: "", Name: "x"})
	_, ok := validation.As(err)
	assert.True(t, ok)
}

func TestStrategyLifecycleDispatchesSyncOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	svc, _ := newTestService(t, dispatcher)

	for _, id := range []string{"a", "b"} {
		_, err := svc.Create(context.Background(), domain.CreateTenantRequest{ID: id, Name: id})
		require.NoError(t, err)
	}
	asA := tenantcontext.WithTenantID(context.Background(), "a")
	asB := tenantcontext.WithTenantID(context.Background(), "b")

	_, err := svc.CreateStrategy(asA, domain.CreateStrategyRequest{Name: "share", TargetTenantID: "a"})
	assert.ErrorIs(t, err, domain.ErrSelfCollaboration)

	strategy, err := svc.CreateStrategy(asA, domain.CreateStrategyRequest{Name: "share", TargetTenantID: "b"})
	require.NoError(t, err)
	assert.Equal(t, domain.CollaborationStatusUnconfirmed, strategy.TargetStatus)

	_, err = svc.CreateStrategy(asA, domain.CreateStrategyRequest{Name: "dup", TargetTenantID: "b"})
	assert.ErrorIs(t, err, domain.ErrStrategyExists)

	_, err = svc.UpdateTargetStatus(asA, strategy.ID.String(), domain.CollaborationStatusEnabled, nil)
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	dispatcher.EXPECT().
		Dispatch(gomock.Any(), task.KindSyncCollaboration, task.SyncCollaborationPayload{SourceTenantID: "a", TargetTenantID: "b"}).
		Return(nil).
		Times(1)

	updated, err := svc.UpdateTargetStatus(asB, strategy.ID.String(), domain.CollaborationStatusEnabled, &domain.TargetConfig{
		FieldMapping: []domain.FieldMapping{{SourceField: "region", TargetField: "area"}},
	})
	require.NoError(t, err)
	assert.True(t, updated.Active())
	assert.Equal(t, "area", updated.TargetConfig.Data().FieldMapping[0].TargetField)

	// Already active: no second sync.
	_, err = svc.UpdateSourceStatus(asA, strategy.ID.String(), domain.CollaborationStatusEnabled)
	require.NoError(t, err)

	_, err = svc.UpdateSourceStatus(asA, strategy.ID.String(), domain.CollaborationStatusUnconfirmed)
	assert.ErrorIs(t, err, domain.ErrInvalidCollaborationStatus)
}

func TestCustomFieldValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Create(context.Background(), domain.CreateTenantRequest{ID: "a", Name: "a"})
	require.NoError(t, err)
	ctx := tenantcontext.WithTenantID(context.Background(), "a")

	_, err = svc.CreateCustomField(ctx, domain.CreateCustomFieldRequest{
		Name: "region", DisplayName: "Region", DataType: domain.CustomFieldEnum,
	})
	_, ok := validation.As(err)
	assert.True(t, ok)

	field, err := svc.CreateCustomField(ctx, domain.CreateCustomFieldRequest{
		Name: "region", DisplayName: "Region", DataType: domain.CustomFieldEnum,
		Options: []domain.CustomFieldOption{{ID: "eu", Value: "Europe"}},
		Default: "eu",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"eu"`, string(field.Default))

	_, err = svc.CreateCustomField(ctx, domain.CreateCustomFieldRequest{
		Name: "region", DisplayName: "Region", DataType: domain.CustomFieldString,
	})
	assert.ErrorIs(t, err, domain.ErrCustomFieldExists)

	fields, err := svc.ListCustomFields(ctx)
	require.NoError(t, err)
	assert.Len(t, fields, 1)
}

func TestSetIDGenerateConfigRequiresOwnDataSource(t *testing.T) {
	svc, conn := newTestService(t, nil)
	node := testutil.NewNode(t)
	for _, id := range []string{"a", "b"} {
		_, err := svc.Create(context.Background(), domain.CreateTenantRequest{ID: id, Name: id})
		require.NoError(t, err)
	}
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")

	_, err := svc.SetIDGenerateConfig(tenantcontext.WithTenantID(context.Background(), "b"), domain.IDGenerateConfigRequest{
		DataSourceID: ds.ID.String(), TargetTenantID: "b", Rule: domain.IDGenerateRuleUsername,
	})
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	asA := tenantcontext.WithTenantID(context.Background(), "a")
	_, err = svc.SetIDGenerateConfig(asA, domain.IDGenerateConfigRequest{
		DataSourceID: ds.ID.String(), TargetTenantID: "b", Rule: domain.IDGenerateRuleUsernameWithDomain,
	})
	_, ok := validation.As(err)
	assert.True(t, ok, "domain is required for username_with_domain")

	cfg, err := svc.SetIDGenerateConfig(asA, domain.IDGenerateConfigRequest{
		DataSourceID: ds.ID.String(), TargetTenantID: "b", Rule: domain.IDGenerateRuleUsernameWithDomain, Domain: "acme.io",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme.io", cfg.Domain)

	_, err = svc.SetIDGenerateConfig(asA, domain.IDGenerateConfigRequest{
		DataSourceID: ds.ID.String(), TargetTenantID: "b", Rule: domain.IDGenerateRuleUUID4Hex,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), testutil.CountWhere(t, conn, &domain.TenantUserIDGenerateConfig{}, "data_source_id = ?", ds.ID))

	_, err = svc.UpsertValidityPeriodConfig(asA, domain.ValidityPeriodRequest{Enabled: true, ValidityPeriod: 0})
	assert.Error(t, err)
	vp, err := svc.UpsertValidityPeriodConfig(asA, domain.ValidityPeriodRequest{Enabled: true, ValidityPeriod: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, vp.ValidityPeriod)
}
