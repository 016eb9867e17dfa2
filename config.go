package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration. Defaults match the production
// deployment; a config.yaml or SNET_* environment variables override them.
type Config struct {
	Addr      string `mapstructure:"addr"`
	DBDSN     string `mapstructure:"db_dsn"`
	JWTSecret string `mapstructure:"jwt_secret"`

	TokenTTLHours      int `mapstructure:"token_ttl_hours"`       // standard session
	RememberMeTTLHours int `mapstructure:"remember_me_ttl_hours"` // extended "remember me"

	MaxLoginAttempts int `mapstructure:"max_login_attempts"`
	LockoutMinutes   int `mapstructure:"lockout_minutes"`

	MaxFailedPerIP     int `mapstructure:"max_failed_per_ip"`
	IPBlacklistHours   int `mapstructure:"ip_blacklist_hours"`
	MaxTrackedAddrs    int `mapstructure:"max_tracked_addrs"`
	MaxActiveRefresh   int `mapstructure:"max_active_refresh_tokens"`
	RefreshTokenDays   int `mapstructure:"refresh_token_days"`
	RequireIPMatch     bool `mapstructure:"require_ip_consistency"`
	RequireClientMatch bool `mapstructure:"require_user_agent_consistency"`
	SessionTTLMinutes  int  `mapstructure:"session_ttl_minutes"`

	EvidenceDir       string `mapstructure:"evidence_dir"`
	EvidenceWatch     bool   `mapstructure:"evidence_watch"`
	MaxEvidenceSizeMB int64  `mapstructure:"max_evidence_size_mb"`

	MembershipFee int64  `mapstructure:"membership_fee"`
	Currency      string `mapstructure:"currency"`

	GatewayBaseURL       string `mapstructure:"gateway_base_url"`
	GatewayAPIKey        string `mapstructure:"gateway_api_key"`
	GatewayWebhookSecret string `mapstructure:"gateway_webhook_secret"`

	AuditLogPath string `mapstructure:"audit_log_path"`
}

func loadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/studentsnet/")
	viper.AddConfigPath(".")

	viper.SetDefault("addr", ":8081")
	viper.SetDefault("db_dsn", "")
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("token_ttl_hours", 24)
	viper.SetDefault("remember_me_ttl_hours", 7*24)
	viper.SetDefault("max_login_attempts", 5)
	viper.SetDefault("lockout_minutes", 30)
	viper.SetDefault("max_failed_per_ip", 50)
	viper.SetDefault("ip_blacklist_hours", 24)
	viper.SetDefault("max_tracked_addrs", 100_000)
	viper.SetDefault("max_active_refresh_tokens", 3)
	viper.SetDefault("refresh_token_days", 7)
	viper.SetDefault("require_ip_consistency", true)
	viper.SetDefault("require_user_agent_consistency", true)
	viper.SetDefault("session_ttl_minutes", 30)
	viper.SetDefault("evidence_dir", "uploads/evidence")
	viper.SetDefault("evidence_watch", false)
	viper.SetDefault("max_evidence_size_mb", 5)
	viper.SetDefault("membership_fee", 99)
	viper.SetDefault("currency", "INR")
	viper.SetDefault("gateway_base_url", "")
	viper.SetDefault("gateway_api_key", "")
	viper.SetDefault("gateway_webhook_secret", "")
	viper.SetDefault("audit_log_path", "logs/audit.log")

	viper.SetEnvPrefix("SNET")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// no config file; defaults and env vars apply
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) tokenTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return time.Duration(c.RememberMeTTLHours) * time.Hour
	}
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) lockoutDuration() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}

func (c *Config) sessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c *Config) blacklistTTL() time.Duration {
	return time.Duration(c.IPBlacklistHours) * time.Hour
}

func (c *Config) maxEvidenceBytes() int64 {
	return c.MaxEvidenceSizeMB * 1024 * 1024
}
