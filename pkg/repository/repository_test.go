package repository

import (
	"context"
	"testing"

	"github.com/smallbiznis/directory/pkg/db"
	"github.com/smallbiznis/directory/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID     int64  `gorm:"primaryKey"`
	Owner  string `gorm:"not null"`
	Active bool
}

func newStore(t *testing.T) (*gorm.DB, Repository[widget]) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, conn.AutoMigrate(&widget{}))
	return conn, ProvideStore[widget](conn)
}

func TestFindAppliesFilterAndOptions(t *testing.T) {
	ctx := context.Background()
	_, s := newStore(t)
	for _, w := range []widget{{ID: 3, Owner: "a"}, {ID: 1, Owner: "a", Active: true}, {ID: 2, Owner: "b"}} {
		w := w
		require.NoError(t, s.Create(ctx, &w))
	}

	rows, err := s.Find(ctx, &widget{Owner: "a"}, option.WithSortBy(option.WithQuerySortBy("id", "desc", map[string]bool{"id": true})))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ID)
	assert.Equal(t, int64(1), rows[1].ID)

	n, err := s.Count(ctx, &widget{Active: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestFindOneMissingIsNil(t *testing.T) {
	ctx := context.Background()
	_, s := newStore(t)
	require.NoError(t, s.Create(ctx, &widget{ID: 1, Owner: "a"}))

	got, err := s.FindOne(ctx, &widget{}, option.ApplyOperator(option.Condition{Field: "id", Operator: option.EQ, Value: 0}))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FindOne(ctx, &widget{ID: 1})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Owner)
}

func TestWithTrxRollsBack(t *testing.T) {
	ctx := context.Background()
	conn, s := newStore(t)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := s.WithTrx(tx).Create(ctx, &widget{ID: 7, Owner: "a"}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.ErrorIs(t, err, gorm.ErrInvalidTransaction)

	n, err := s.Count(ctx, &widget{ID: 7})
	require.NoError(t, err)
	assert.Zero(t, n)
}
