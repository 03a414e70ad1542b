package domain

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidTenant          = errors.New("invalid_tenant")
	ErrInvalidID              = errors.New("invalid_id")
	ErrDataSourceNotFound     = errors.New("data_source_not_found")
	ErrDataSourceNotLocalReal = errors.New("data_source_not_local_real")
	ErrPasswordDisabled       = errors.New("password_disabled")
	ErrUserNotFound           = errors.New("data_source_user_not_found")
	ErrUsernameExists         = errors.New("username_already_exists")
	ErrUsernameFrozen         = errors.New("username_frozen")
	ErrDepartmentNotFound     = errors.New("data_source_department_not_found")
)

type Service interface {
	Create(ctx context.Context, req CreateDataSourceRequest) (*DataSource, error)
	Get(ctx context.Context, id string) (*DataSource, error)
	List(ctx context.Context) ([]DataSource, error)
	UpdatePluginConfig(ctx context.Context, id string, raw json.RawMessage) (*DataSource, error)
}

type CreateDataSourceRequest struct {
	PluginID     string          `json:"plugin_id" validate:"required,oneof=local ldap wecom"`
	Type         DataSourceType  `json:"type" validate:"required,oneof=real virtual"`
	PluginConfig json.RawMessage `json:"plugin_config" validate:"required"`
}
