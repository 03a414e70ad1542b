package domain

import (
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
)

// UserSnapshot is the audited state of one tenant user across every facet.
type UserSnapshot struct {
	TenantUser     tenantdomain.TenantUser
	DataSourceUser dsdomain.DataSourceUser
	OwnerTenantID  string
	DepartmentIDs  []string
	LeaderIDs      []string
}

// Collaboration reports whether the tenant user is a collaboration copy.
func (s UserSnapshot) Collaboration() bool {
	return s.TenantUser.TenantID != s.OwnerTenantID
}

type DepartmentSnapshot struct {
	Department        dsdomain.DataSourceDepartment
	OwnerTenantID     string
	ParentID          string
	TenantDepartments []tenantdomain.TenantDepartment
}

// UserFacet selects which parts of a user an update touched.
type UserFacet int

const (
	FacetDataSourceUser UserFacet = iota
	FacetDepartments
	FacetLeaders
	FacetTenantUser
)
