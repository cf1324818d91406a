// Package config handles linebot configuration loading.
//
// Configuration comes from three layers, applied in order: a YAML file
// (with ${VAR} expansion), a .env file that never overrides variables
// already present in the process environment, and finally the well-known
// environment variables (CHANNEL_ACCESS_TOKEN, GEMINI_API_KEY, MSSQL_*,
// and friends) which win over anything in the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/linebot-mcp/internal/errorsx"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/linebot/config.yaml, /etc/linebot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "linebot", "config.yaml"))
	}

	paths = append(paths, "/etc/linebot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all linebot configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	Gemini    GeminiConfig  `yaml:"gemini"`
	Line      LineConfig    `yaml:"line"`
	MSSQL     MSSQLConfig   `yaml:"mssql"`
	Docs      DocsConfig    `yaml:"docs"`
	Render    RenderConfig  `yaml:"render"`
	Webhook   WebhookConfig `yaml:"webhook"`
	Admin     AdminConfig   `yaml:"admin"`
	Quota     QuotaConfig   `yaml:"quota"`
	Debug     DebugConfig   `yaml:"debug"`
	DataDir   string        `yaml:"data_dir"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text or json
}

// ListenConfig defines where the webhook and admin server binds.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// GeminiConfig defines Gemini generateContent settings.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Model is the default for gemini_command when the caller names none.
	Model string `yaml:"model"`
	// NoFallback restricts generation to the requested model on v1 only.
	NoFallback     bool `yaml:"no_fallback"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// LineConfig defines LINE Messaging API credentials.
type LineConfig struct {
	ChannelAccessToken string `yaml:"channel_access_token"`
	ChannelSecret      string `yaml:"channel_secret"`
	// DestinationUserID is the fallback recipient when a tool call names none.
	DestinationUserID string `yaml:"destination_user_id"`
	APIBaseURL        string `yaml:"api_base_url"`
	// SkipSignatureVerify disables webhook HMAC checks. Local testing only.
	SkipSignatureVerify bool `yaml:"skip_signature_verify"`
}

// MSSQLConfig defines the SQL Server connection used for knowledge
// snapshots and read-only queries.
type MSSQLConfig struct {
	Server          string `yaml:"server"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Port            int    `yaml:"port"`
	Encrypt         bool   `yaml:"encrypt"`
	TrustServerCert bool   `yaml:"trust_server_cert"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
}

// Configured reports whether all connection fields are present.
func (c MSSQLConfig) Configured() bool {
	return c.Server != "" && c.Database != "" && c.User != "" && c.Password != ""
}

// DocsConfig defines where knowledge documents and style presets live.
type DocsConfig struct {
	// Root is the project root; knowledge paths resolve relative to it.
	Root string `yaml:"root"`
	// DefaultKnowledgeFile is used by the webhook in file mode.
	DefaultKnowledgeFile string `yaml:"default_knowledge_file"`
	PresetsDir           string `yaml:"presets_dir"`
}

// RenderConfig defines PDF/image generation and public object URLs.
type RenderConfig struct {
	// PublicBaseURL is the externally reachable base of the admin server.
	// Image messages are only sent when it is set, because LINE must be
	// able to fetch the content.
	PublicBaseURL string `yaml:"public_base_url"`
	ThaiFontPath  string `yaml:"thai_font_path"`
}

// WebhookConfig defines webhook behaviour.
type WebhookConfig struct {
	// RatePerSecond and Burst bound events accepted per LINE user.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// Preferences selects the per-user preference store: memory or sqlite.
	Preferences string `yaml:"preferences"`
	// MCPCommand, when set, runs tools through a linebot mcp subprocess
	// instead of the in-process registry.
	MCPCommand []string `yaml:"mcp_command"`
}

// AdminConfig protects the admin UI with HTTP basic auth. An empty
// PasswordHash leaves the UI open (suitable only on localhost).
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// QuotaConfig defines the LINE message quota cache.
type QuotaConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	// RedisURL, when set, shares the quota snapshot across processes.
	RedisURL string `yaml:"redis_url"`
}

// DebugConfig defines the gemini_command trace log.
type DebugConfig struct {
	GeminiCommand bool   `yaml:"gemini_command"`
	LogFile       string `yaml:"log_file"`
	LogMaxBytes   int64  `yaml:"log_max_bytes"`
	LogBackups    int    `yaml:"log_backups"`
}

// Trace log bounds.
const (
	MinTraceLogBytes     = 256 * 1024
	DefaultTraceLogBytes = 1024 * 1024
	DefaultTraceBackups  = 3
)

// Load reads configuration from a YAML file, layered over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 3000},
		Gemini: GeminiConfig{
			BaseURL:        "https://generativelanguage.googleapis.com",
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 60,
		},
		Line: LineConfig{APIBaseURL: "https://api.line.me"},
		MSSQL: MSSQLConfig{
			Port:         1433,
			Encrypt:      true,
			MaxOpenConns: 5,
		},
		Docs: DocsConfig{
			Root:                 ".",
			DefaultKnowledgeFile: "docs/data-learning/knowledge.md",
			PresetsDir:           "docs/ai-presets",
		},
		Webhook: WebhookConfig{
			RatePerSecond: 1,
			Burst:         5,
			Preferences:   "memory",
		},
		Quota: QuotaConfig{TTLSeconds: 30},
		Debug: DebugConfig{
			LogMaxBytes: DefaultTraceLogBytes,
			LogBackups:  DefaultTraceBackups,
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadDotEnv loads .env from the working directory and its parent.
// Variables already set in the environment are never overridden.
func LoadDotEnv() {
	for _, p := range []string{".env", filepath.Join("..", ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

var truthy = regexp.MustCompile(`(?i)^(1|true|yes)$`)

// ApplyEnv overlays the well-known environment variables onto c.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				return v
			}
		}
		return ""
	}
	set := func(dst *string, keys ...string) {
		if v := first(keys...); v != "" {
			*dst = v
		}
	}

	set(&c.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	if v := getenv("GEMINI_NO_FALLBACK"); v != "" {
		c.Gemini.NoFallback = truthy.MatchString(strings.TrimSpace(v))
	}

	set(&c.Line.ChannelAccessToken, "CHANNEL_ACCESS_TOKEN")
	set(&c.Line.ChannelSecret, "CHANNEL_SECRET")
	set(&c.Line.DestinationUserID, "DESTINATION_USER_ID")
	if v := getenv("DISABLE_LINE_SIGNATURE_VERIFY"); v != "" {
		c.Line.SkipSignatureVerify = strings.EqualFold(v, "true")
	}

	set(&c.Render.PublicBaseURL, "PUBLIC_BASE_URL")
	set(&c.Render.ThaiFontPath, "THAI_FONT_PATH")
	set(&c.Docs.DefaultKnowledgeFile, "DEFAULT_KNOWLEDGE_FILE")

	set(&c.MSSQL.Server, "MSSQL_SERVER", "DB_HOST")
	set(&c.MSSQL.Database, "MSSQL_DATABASE", "DB_NAME")
	set(&c.MSSQL.User, "MSSQL_USER", "DB_USER")
	set(&c.MSSQL.Password, "MSSQL_PASSWORD", "DB_PASSWORD")
	if n, err := strconv.Atoi(getenv("MSSQL_PORT")); err == nil && n > 0 {
		c.MSSQL.Port = n
	}
	if v := getenv("MSSQL_ENCRYPT"); v != "" {
		c.MSSQL.Encrypt = strings.EqualFold(v, "true")
	}
	if v := getenv("MSSQL_TRUST_SERVER_CERT"); v != "" {
		c.MSSQL.TrustServerCert = strings.EqualFold(v, "true")
	}

	if truthy.MatchString(first("GEMINI_COMMAND_DEBUG", "DEBUG_GEMINI")) {
		c.Debug.GeminiCommand = true
	}
	set(&c.Debug.LogFile, "GEMINI_COMMAND_LOG_FILE")
	if n, err := strconv.ParseInt(getenv("GEMINI_COMMAND_LOG_MAX_BYTES"), 10, 64); err == nil {
		c.Debug.LogMaxBytes = n
	}
	if n, err := strconv.Atoi(getenv("GEMINI_COMMAND_LOG_BACKUPS")); err == nil {
		c.Debug.LogBackups = n
	}

	set(&c.Quota.RedisURL, "REDIS_URL")
}

// Normalize clamps out-of-range values back to sane defaults.
func (c *Config) Normalize() {
	if c.Debug.LogMaxBytes <= 0 {
		c.Debug.LogMaxBytes = DefaultTraceLogBytes
	}
	if c.Debug.LogMaxBytes < MinTraceLogBytes {
		c.Debug.LogMaxBytes = MinTraceLogBytes
	}
	if c.Debug.LogBackups < 0 {
		c.Debug.LogBackups = 0
	}
	if c.MSSQL.MaxOpenConns <= 0 {
		c.MSSQL.MaxOpenConns = 5
	}
	if c.Quota.TTLSeconds <= 0 {
		c.Quota.TTLSeconds = 30
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		c.Gemini.TimeoutSeconds = 60
	}
	if c.Docs.Root == "" {
		c.Docs.Root = "."
	}
}

// Validate checks settings that would otherwise fail later in
// confusing ways.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return errorsx.New(errorsx.ReasonConfig, fmt.Sprintf("unknown log format %q (valid: text, json)", c.LogFormat))
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return errorsx.New(errorsx.ReasonConfig, fmt.Sprintf("listen port %d out of range", c.Listen.Port))
	}
	switch c.Webhook.Preferences {
	case "", "memory", "sqlite":
	default:
		return errorsx.New(errorsx.ReasonConfig, fmt.Sprintf("unknown webhook preferences store %q (valid: memory, sqlite)", c.Webhook.Preferences))
	}
	return nil
}

// RequireLine reports a config error when the LINE channel access token
// is missing. Every command that talks to LINE calls it at startup.
func (c *Config) RequireLine() error {
	if strings.TrimSpace(c.Line.ChannelAccessToken) == "" {
		return errorsx.New(errorsx.ReasonConfig, "CHANNEL_ACCESS_TOKEN must be set")
	}
	return nil
}
