package relation

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Parent returns the parent of deptID, nil for a root or a detached node.
func (s *Store) Parent(ctx context.Context, deptID snowflake.ID) (*snowflake.ID, error) {
	var node dsdomain.DataSourceDepartmentRelation
	err := s.db.WithContext(ctx).Where("department_id = ?", deptID).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return node.ParentID, nil
}

// ParentsOf maps each department to its parent; roots are absent.
func (s *Store) ParentsOf(ctx context.Context, deptIDs []snowflake.ID) (map[snowflake.ID]snowflake.ID, error) {
	out := make(map[snowflake.ID]snowflake.ID, len(deptIDs))
	if len(deptIDs) == 0 {
		return out, nil
	}
	var nodes []dsdomain.DataSourceDepartmentRelation
	if err := s.db.WithContext(ctx).Where("department_id IN ?", deptIDs).Find(&nodes).Error; err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.ParentID != nil {
			out[node.DepartmentID] = *node.ParentID
		}
	}
	return out, nil
}

// SetParent places deptID under parentID (nil for root). Moving a
// department below itself or one of its descendants fails with ErrCycle.
func (s *Store) SetParent(ctx context.Context, dataSourceID, deptID snowflake.ID, parentID *snowflake.ID) error {
	if parentID != nil {
		if err := s.ensureDepartmentsIn(ctx, dataSourceID, []snowflake.ID{deptID, *parentID}); err != nil {
			return err
		}
		descendants, err := s.Descendants(ctx, deptID, true)
		if err != nil {
			return err
		}
		for _, id := range descendants {
			if id == *parentID {
				return ErrCycle
			}
		}
	}

	node := dsdomain.DataSourceDepartmentRelation{
		DepartmentID: deptID,
		ParentID:     parentID,
		DataSourceID: dataSourceID,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "department_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"parent_id"}),
		}).
		Create(&node).Error
}

// Ancestors returns the departments from the root down to deptID.
func (s *Store) Ancestors(ctx context.Context, deptID snowflake.ID, includeSelf bool) ([]dsdomain.DataSourceDepartment, error) {
	chain := []snowflake.ID{}
	if includeSelf {
		chain = append(chain, deptID)
	}

	visited := map[snowflake.ID]struct{}{deptID: {}}
	current := deptID
	for {
		parent, err := s.Parent(ctx, current)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		if _, seen := visited[*parent]; seen {
			break
		}
		visited[*parent] = struct{}{}
		chain = append(chain, *parent)
		current = *parent
	}
	if len(chain) == 0 {
		return nil, nil
	}

	var depts []dsdomain.DataSourceDepartment
	if err := s.db.WithContext(ctx).Where("id IN ?", chain).Find(&depts).Error; err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]dsdomain.DataSourceDepartment, len(depts))
	for _, d := range depts {
		byID[d.ID] = d
	}

	out := make([]dsdomain.DataSourceDepartment, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		if d, ok := byID[chain[i]]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Descendants walks the tree breadth first, one query per level.
func (s *Store) Descendants(ctx context.Context, deptID snowflake.ID, includeSelf bool) ([]snowflake.ID, error) {
	var out []snowflake.ID
	if includeSelf {
		out = append(out, deptID)
	}

	visited := map[snowflake.ID]struct{}{deptID: {}}
	frontier := []snowflake.ID{deptID}
	for len(frontier) > 0 {
		var children []snowflake.ID
		err := s.db.WithContext(ctx).
			Model(&dsdomain.DataSourceDepartmentRelation{}).
			Where("parent_id IN ?", frontier).
			Order("department_id asc").
			Pluck("department_id", &children).Error
		if err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, child := range children {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			out = append(out, child)
			frontier = append(frontier, child)
		}
	}
	return out, nil
}

// OrganizationPath joins ancestor names root to leaf, deptID included.
func (s *Store) OrganizationPath(ctx context.Context, deptID snowflake.ID, sep string) (string, error) {
	ancestors, err := s.Ancestors(ctx, deptID, true)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(ancestors))
	for _, d := range ancestors {
		names = append(names, d.Name)
	}
	return strings.Join(names, sep), nil
}
