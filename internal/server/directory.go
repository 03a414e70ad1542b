package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/directory/internal/directory"
)

func directoryListRequest(ownerTenantID, departmentID string, recursive bool, limit, offset int) directory.ListUsersRequest {
	return directory.ListUsersRequest{
		OwnerTenantID: strings.TrimSpace(ownerTenantID),
		DepartmentID:  strings.TrimSpace(departmentID),
		Recursive:     recursive,
		Limit:         limit,
		Offset:        offset,
	}
}

func directorySearchRequest(keyword, ownerTenantID string) directory.SearchUsersRequest {
	return directory.SearchUsersRequest{
		Keyword:       strings.TrimSpace(keyword),
		OwnerTenantID: strings.TrimSpace(ownerTenantID),
	}
}

func (s *Server) DefaultTenantDataSources(c *gin.Context) {
	sources, err := s.directorySvc.DefaultTenantDataSources(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sources})
}

func (s *Server) DefaultTenantFieldMapping(c *gin.Context) {
	mapping, err := s.directorySvc.DefaultTenantFieldMapping(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": mapping})
}
