// Package relation maintains user-department and user-leader edges and the
// department tree of a data source.
package relation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCrossDataSource = errors.New("relation_cross_data_source")
	ErrCycle           = errors.New("department_cycle")
)

// Diff describes the edges a differential update created and removed.
type Diff struct {
	Added   []snowflake.ID
	Removed []snowflake.ID
}

func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

type Store struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func New(db *gorm.DB, genID *snowflake.Node) *Store {
	return &Store{db: db, genID: genID}
}

func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, genID: s.genID}
}

// SetUserDepartments makes the user's department set equal to deptIDs,
// touching only the edges that differ. New edges are stamped with now.
func (s *Store) SetUserDepartments(ctx context.Context, user dsdomain.DataSourceUser, deptIDs []snowflake.ID, now time.Time) (Diff, error) {
	if err := s.ensureDepartmentsIn(ctx, user.DataSourceID, deptIDs); err != nil {
		return Diff{}, err
	}

	current, err := s.DepartmentIDsByUsers(ctx, []snowflake.ID{user.ID})
	if err != nil {
		return Diff{}, err
	}
	diff := diffIDs(current[user.ID], deptIDs)
	if diff.Empty() {
		return diff, nil
	}

	db := s.db.WithContext(ctx)
	if len(diff.Removed) > 0 {
		err := db.Where("user_id = ? AND department_id IN ?", user.ID, diff.Removed).
			Delete(&dsdomain.DataSourceDepartmentUserRelation{}).Error
		if err != nil {
			return Diff{}, err
		}
	}
	if len(diff.Added) > 0 {
		rows := make([]dsdomain.DataSourceDepartmentUserRelation, 0, len(diff.Added))
		for _, deptID := range diff.Added {
			rows = append(rows, dsdomain.DataSourceDepartmentUserRelation{
				ID:           s.genID.Generate(),
				UserID:       user.ID,
				DepartmentID: deptID,
				DataSourceID: user.DataSourceID,
				CreatedAt:    now,
			})
		}
		if err := db.Create(&rows).Error; err != nil {
			return Diff{}, err
		}
	}
	return diff, nil
}

// SetUserLeaders is the leader counterpart of SetUserDepartments.
func (s *Store) SetUserLeaders(ctx context.Context, user dsdomain.DataSourceUser, leaderIDs []snowflake.ID, now time.Time) (Diff, error) {
	if err := s.ensureUsersIn(ctx, user.DataSourceID, leaderIDs); err != nil {
		return Diff{}, err
	}

	current, err := s.LeaderIDsByUsers(ctx, []snowflake.ID{user.ID})
	if err != nil {
		return Diff{}, err
	}
	diff := diffIDs(current[user.ID], leaderIDs)
	if diff.Empty() {
		return diff, nil
	}

	db := s.db.WithContext(ctx)
	if len(diff.Removed) > 0 {
		err := db.Where("user_id = ? AND leader_id IN ?", user.ID, diff.Removed).
			Delete(&dsdomain.DataSourceUserLeaderRelation{}).Error
		if err != nil {
			return Diff{}, err
		}
	}
	if len(diff.Added) > 0 {
		rows := make([]dsdomain.DataSourceUserLeaderRelation, 0, len(diff.Added))
		for _, leaderID := range diff.Added {
			rows = append(rows, dsdomain.DataSourceUserLeaderRelation{
				ID:           s.genID.Generate(),
				UserID:       user.ID,
				LeaderID:     leaderID,
				DataSourceID: user.DataSourceID,
				CreatedAt:    now,
			})
		}
		if err := db.Create(&rows).Error; err != nil {
			return Diff{}, err
		}
	}
	return diff, nil
}

// ReplaceLeaders drops every leader edge of userIDs and recreates the full
// userIDs x leaderIDs product.
func (s *Store) ReplaceLeaders(ctx context.Context, dataSourceID snowflake.ID, userIDs, leaderIDs []snowflake.ID, now time.Time, batchSize int) error {
	if err := s.ensureUsersIn(ctx, dataSourceID, append(append([]snowflake.ID{}, userIDs...), leaderIDs...)); err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	if err := db.Where("user_id IN ?", userIDs).Delete(&dsdomain.DataSourceUserLeaderRelation{}).Error; err != nil {
		return err
	}

	rows := make([]dsdomain.DataSourceUserLeaderRelation, 0, len(userIDs)*len(leaderIDs))
	for _, userID := range userIDs {
		for _, leaderID := range leaderIDs {
			rows = append(rows, dsdomain.DataSourceUserLeaderRelation{
				ID:           s.genID.Generate(),
				UserID:       userID,
				LeaderID:     leaderID,
				DataSourceID: dataSourceID,
				CreatedAt:    now,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return db.CreateInBatches(&rows, batchSize).Error
}

// AddDepartmentUsers links every user to every department, skipping edges
// that already exist.
func (s *Store) AddDepartmentUsers(ctx context.Context, dataSourceID snowflake.ID, userIDs, deptIDs []snowflake.ID, now time.Time, batchSize int) error {
	if err := s.ensureDepartmentsIn(ctx, dataSourceID, deptIDs); err != nil {
		return err
	}

	rows := make([]dsdomain.DataSourceDepartmentUserRelation, 0, len(userIDs)*len(deptIDs))
	for _, userID := range userIDs {
		for _, deptID := range deptIDs {
			rows = append(rows, dsdomain.DataSourceDepartmentUserRelation{
				ID:           s.genID.Generate(),
				UserID:       userID,
				DepartmentID: deptID,
				DataSourceID: dataSourceID,
				CreatedAt:    now,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, batchSize).Error
}

func (s *Store) DepartmentIDsByUsers(ctx context.Context, userIDs []snowflake.ID) (map[snowflake.ID][]snowflake.ID, error) {
	out := make(map[snowflake.ID][]snowflake.ID, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []dsdomain.DataSourceDepartmentUserRelation
	err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.UserID] = append(out[row.UserID], row.DepartmentID)
	}
	return out, nil
}

func (s *Store) LeaderIDsByUsers(ctx context.Context, userIDs []snowflake.ID) (map[snowflake.ID][]snowflake.ID, error) {
	out := make(map[snowflake.ID][]snowflake.ID, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []dsdomain.DataSourceUserLeaderRelation
	err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.UserID] = append(out[row.UserID], row.LeaderID)
	}
	return out, nil
}

// UsersInDepartments returns the distinct users directly in deptIDs.
func (s *Store) UsersInDepartments(ctx context.Context, deptIDs []snowflake.ID) ([]snowflake.ID, error) {
	if len(deptIDs) == 0 {
		return nil, nil
	}
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&dsdomain.DataSourceDepartmentUserRelation{}).
		Distinct("user_id").
		Where("department_id IN ?", deptIDs).
		Pluck("user_id", &ids).Error
	return ids, err
}

// DeleteUserRelations removes department edges of userIDs and leader edges
// where they are either side.
func (s *Store) DeleteUserRelations(ctx context.Context, userIDs []snowflake.ID) error {
	if len(userIDs) == 0 {
		return nil
	}
	db := s.db.WithContext(ctx)
	if err := db.Where("user_id IN ?", userIDs).Delete(&dsdomain.DataSourceDepartmentUserRelation{}).Error; err != nil {
		return err
	}
	return db.Where("user_id IN ? OR leader_id IN ?", userIDs, userIDs).
		Delete(&dsdomain.DataSourceUserLeaderRelation{}).Error
}

// DeleteDepartmentRelations removes membership edges and tree nodes of deptIDs.
func (s *Store) DeleteDepartmentRelations(ctx context.Context, deptIDs []snowflake.ID) error {
	if len(deptIDs) == 0 {
		return nil
	}
	db := s.db.WithContext(ctx)
	if err := db.Where("department_id IN ?", deptIDs).Delete(&dsdomain.DataSourceDepartmentUserRelation{}).Error; err != nil {
		return err
	}
	return db.Where("department_id IN ?", deptIDs).Delete(&dsdomain.DataSourceDepartmentRelation{}).Error
}

func (s *Store) ensureDepartmentsIn(ctx context.Context, dataSourceID snowflake.ID, deptIDs []snowflake.ID) error {
	return s.ensureIn(ctx, &dsdomain.DataSourceDepartment{}, dataSourceID, deptIDs)
}

func (s *Store) ensureUsersIn(ctx context.Context, dataSourceID snowflake.ID, userIDs []snowflake.ID) error {
	return s.ensureIn(ctx, &dsdomain.DataSourceUser{}, dataSourceID, userIDs)
}

// ensureIn rejects ids that do not exist in the given data source.
func (s *Store) ensureIn(ctx context.Context, model any, dataSourceID snowflake.ID, ids []snowflake.ID) error {
	unique := uniqueIDs(ids)
	if len(unique) == 0 {
		return nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(model).
		Where("data_source_id = ? AND id IN ?", dataSourceID, unique).
		Count(&count).Error
	if err != nil {
		return err
	}
	if int(count) != len(unique) {
		return fmt.Errorf("%w: %d of %d ids outside data source %s", ErrCrossDataSource, len(unique)-int(count), len(unique), dataSourceID)
	}
	return nil
}

func diffIDs(current, desired []snowflake.ID) Diff {
	have := make(map[snowflake.ID]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	want := make(map[snowflake.ID]struct{}, len(desired))
	var diff Diff
	for _, id := range desired {
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			diff.Added = append(diff.Added, id)
		}
	}
	for _, id := range current {
		if _, ok := want[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	return diff
}

func uniqueIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
