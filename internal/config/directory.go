package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DirectoryConfig holds tunables that can change without a restart.
type DirectoryConfig struct {
	BatchSize                 int      `mapstructure:"batch_size"`
	SearchLimit               int      `mapstructure:"search_limit"`
	OrganizationPathSeparator string   `mapstructure:"organization_path_separator"`
	FrozenUsernameDataSources []int64  `mapstructure:"frozen_username_data_sources"`
	ReservedUsernames         []string `mapstructure:"reserved_usernames"`
}

func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		BatchSize:                 100,
		SearchLimit:               50,
		OrganizationPathSeparator: "/",
	}
}

// IsUsernameFrozen reports whether users of the data source keep their
// original username forever.
func (c DirectoryConfig) IsUsernameFrozen(dataSourceID int64) bool {
	for _, id := range c.FrozenUsernameDataSources {
		if id == dataSourceID {
			return true
		}
	}
	return false
}

type DirectoryConfigHolder struct {
	current atomic.Value // holds DirectoryConfig
}

// NewStaticDirectoryConfig returns a holder that never reloads.
func NewStaticDirectoryConfig(cfg DirectoryConfig) *DirectoryConfigHolder {
	holder := &DirectoryConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewDirectoryConfigHolder(log *zap.Logger) (*DirectoryConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("directory")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/directory")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DIRECTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDirectoryConfig()
	v.SetDefault("directory.batch_size", defaults.BatchSize)
	v.SetDefault("directory.search_limit", defaults.SearchLimit)
	v.SetDefault("directory.organization_path_separator", defaults.OrganizationPathSeparator)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg DirectoryConfig
	if err := v.UnmarshalKey("directory", &cfg); err != nil {
		return nil, err
	}
	if err := validateDirectoryConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DirectoryConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DirectoryConfig
		if err := v.UnmarshalKey("directory", &updated); err != nil {
			log.Warn("directory config reload failed", zap.Error(err))
			return
		}
		if err := validateDirectoryConfig(updated); err != nil {
			log.Warn("invalid directory config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("directory config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *DirectoryConfigHolder) Get() DirectoryConfig {
	return h.current.Load().(DirectoryConfig)
}

func validateDirectoryConfig(cfg DirectoryConfig) error {
	if cfg.BatchSize <= 0 {
		return errors.New("directory.batch_size must be positive")
	}
	if cfg.SearchLimit <= 0 {
		return errors.New("directory.search_limit must be positive")
	}
	if cfg.OrganizationPathSeparator == "" {
		return errors.New("directory.organization_path_separator cannot be empty")
	}
	return nil
}
