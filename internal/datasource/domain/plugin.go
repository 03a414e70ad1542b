package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	PluginLocal = "local"
	PluginLDAP  = "ldap"
	PluginWeCom = "wecom"
)

// PasswordPermanent marks a password (or rule) that never expires.
const PasswordPermanent = -1

var (
	ErrUnknownPlugin       = errors.New("unknown_data_source_plugin")
	ErrInvalidPluginConfig = errors.New("invalid_plugin_config")
)

// Capability is everything the core needs to know about a data source plugin.
type Capability interface {
	IsLocal() bool
	IsRealType() bool
	PasswordEnabled() bool
	// PasswordExpiry is the password validity in days, PasswordPermanent for none.
	PasswordExpiry() int
	PasswordRule() *PasswordRule
	PasswordInitial() *PasswordInitial
}

// PluginConfig is one variant of the per-plugin configuration.
type PluginConfig interface {
	PluginID() string
	// SecretFields lists json keys that must never appear in audit data.
	SecretFields() []string
}

type PasswordRule struct {
	MinLength          int  `json:"min_length" validate:"gte=8,lte=64"`
	ContainLowercase   bool `json:"contain_lowercase"`
	ContainUppercase   bool `json:"contain_uppercase"`
	ContainDigit       bool `json:"contain_digit"`
	ContainPunctuation bool `json:"contain_punctuation"`
	// ValidTime is the password validity in days.
	ValidTime int `json:"valid_time" validate:"oneof=-1 30 60 90 180 365"`
}

type PasswordInitial struct {
	GenerateMethod string `json:"generate_method" validate:"oneof=random fixed"`
	FixedPassword  string `json:"fixed_password,omitempty" validate:"required_if=GenerateMethod fixed"`
	Notify         bool   `json:"notify"`
}

type LocalPluginConfig struct {
	EnablePassword  bool             `json:"enable_password"`
	PasswordRule    *PasswordRule    `json:"password_rule,omitempty" validate:"required_if=EnablePassword true,omitempty"`
	PasswordInitial *PasswordInitial `json:"password_initial,omitempty" validate:"required_if=EnablePassword true,omitempty"`
}

func (LocalPluginConfig) PluginID() string       { return PluginLocal }
func (LocalPluginConfig) SecretFields() []string { return []string{"fixed_password"} }

type LDAPPluginConfig struct {
	ServerURL       string `json:"server_url" validate:"required,url"`
	BindDN          string `json:"bind_dn" validate:"required"`
	BindPassword    string `json:"bind_password" validate:"required"`
	BaseDN          string `json:"base_dn" validate:"required"`
	UserObjectClass string `json:"user_object_class" validate:"required"`
	DeptObjectClass string `json:"dept_object_class" validate:"required"`
	PageSize        int    `json:"page_size" validate:"gte=0,lte=5000"`
	RequestTimeout  int    `json:"request_timeout" validate:"gte=0,lte=120"`
}

func (LDAPPluginConfig) PluginID() string       { return PluginLDAP }
func (LDAPPluginConfig) SecretFields() []string { return []string{"bind_password"} }

type WeComPluginConfig struct {
	CorpID  string `json:"corp_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Secret  string `json:"secret" validate:"required"`
}

func (WeComPluginConfig) PluginID() string       { return PluginWeCom }
func (WeComPluginConfig) SecretFields() []string { return []string{"secret"} }

// KnownSecretFields is the union of SecretFields over every plugin.
func KnownSecretFields() []string {
	var out []string
	for _, cfg := range []PluginConfig{LocalPluginConfig{}, LDAPPluginConfig{}, WeComPluginConfig{}} {
		out = append(out, cfg.SecretFields()...)
	}
	return out
}

var pluginValidate = validator.New(validator.WithRequiredStructEnabled())

// ParsePluginConfig decodes and validates raw against the variant of pluginID.
func ParsePluginConfig(pluginID string, raw []byte) (PluginConfig, error) {
	var cfg PluginConfig
	switch pluginID {
	case PluginLocal:
		cfg = &LocalPluginConfig{}
	case PluginLDAP:
		cfg = &LDAPPluginConfig{}
	case PluginWeCom:
		cfg = &WeComPluginConfig{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginID)
	}

	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPluginConfig, err)
	}
	if err := pluginValidate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type capability struct {
	ds  DataSource
	cfg PluginConfig
}

func (c capability) IsLocal() bool    { return c.ds.IsLocal() }
func (c capability) IsRealType() bool { return c.ds.IsRealType() }

func (c capability) PasswordEnabled() bool {
	local, ok := c.cfg.(*LocalPluginConfig)
	return ok && local.EnablePassword
}

func (c capability) PasswordRule() *PasswordRule {
	local, ok := c.cfg.(*LocalPluginConfig)
	if !ok || !local.EnablePassword {
		return nil
	}
	return local.PasswordRule
}

func (c capability) PasswordInitial() *PasswordInitial {
	local, ok := c.cfg.(*LocalPluginConfig)
	if !ok || !local.EnablePassword {
		return nil
	}
	return local.PasswordInitial
}

func (c capability) PasswordExpiry() int {
	rule := c.PasswordRule()
	if rule == nil {
		return PasswordPermanent
	}
	return rule.ValidTime
}

// PasswordExpiredAt computes the expiry of a password set at now.
func PasswordExpiredAt(now time.Time, validDays int) time.Time {
	if validDays == PasswordPermanent || validDays <= 0 {
		return time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return now.AddDate(0, 0, validDays)
}
