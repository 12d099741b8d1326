package config

import "time"

type AppConfig struct {
	DBDriver   string         `yaml:"db_driver" env:"PIPEWISE_DB_DRIVER" env-default:"sqlite"`
	DBURL      string         `yaml:"db_url" env:"PIPEWISE_DB_URL"`
	DBPath     string         `yaml:"db_path" env:"PIPEWISE_DB_PATH" env-default:"data/pipewise.db"`
	ListenAddr string         `yaml:"listen_addr" env:"PIPEWISE_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv     string         `yaml:"app_env" env:"PIPEWISE_APP_ENV" env-default:"development"`
	Auth       AuthConfig     `yaml:"auth"`
	Workflow   WorkflowConfig `yaml:"workflow"`
	Files      FilesConfig    `yaml:"files"`
	Reaper     ReaperConfig   `yaml:"reaper"`
}

func (c *AppConfig) IsProduction() bool {
	if c == nil {
		return false
	}
	return c.AppEnv == "production"
}

type AuthConfig struct {
	// Bcrypt hash of the shared operations-staff token.
	AdminTokenHash string `yaml:"admin_token_hash" env:"PIPEWISE_ADMIN_TOKEN_HASH"`
	// Shared secret the workflow engine presents on callbacks.
	CallbackToken string `yaml:"callback_token" env:"PIPEWISE_CALLBACK_TOKEN"`
}

type WorkflowConfig struct {
	ScanWebhookURL         string `yaml:"scan_webhook_url" env:"PIPEWISE_SCAN_WEBHOOK_URL"`
	RequirementsWebhookURL string `yaml:"requirements_webhook_url" env:"PIPEWISE_REQUIREMENTS_WEBHOOK_URL"`
	CallbackBaseURL        string `yaml:"callback_base_url" env:"PIPEWISE_CALLBACK_BASE_URL" env-default:"http://localhost:8080"`
	RequestTimeoutSec      int    `yaml:"request_timeout_sec" env:"PIPEWISE_WORKFLOW_TIMEOUT_SEC" env-default:"30"`
}

func (c WorkflowConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

type FilesConfig struct {
	StorageDir    string `yaml:"storage_dir" env:"PIPEWISE_FILES_STORAGE_DIR" env-default:"data/uploads"`
	SignKey       string `yaml:"sign_key" env:"PIPEWISE_FILES_SIGN_KEY"`
	URLTTLMinutes int    `yaml:"url_ttl_minutes" env:"PIPEWISE_FILES_URL_TTL_MINUTES" env-default:"60"`
	MaxUploadMB   int64  `yaml:"max_upload_mb" env:"PIPEWISE_FILES_MAX_UPLOAD_MB" env-default:"25"`
}

func (c FilesConfig) URLTTL() time.Duration {
	if c.URLTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.URLTTLMinutes) * time.Minute
}

type ReaperConfig struct {
	Enabled bool `yaml:"enabled" env:"PIPEWISE_REAPER_ENABLED" env-default:"true"`
	// Cron spec for the stuck-execution scan.
	Schedule string `yaml:"schedule" env:"PIPEWISE_REAPER_SCHEDULE" env-default:"@every 15m"`
	// Executions still running after this many hours are marked failed.
	StuckAfterHours int `yaml:"stuck_after_hours" env:"PIPEWISE_REAPER_STUCK_AFTER_HOURS" env-default:"24"`
}

func (c ReaperConfig) StuckAfter() time.Duration {
	if c.StuckAfterHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.StuckAfterHours) * time.Hour
}
