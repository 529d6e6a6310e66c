// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on the getters so tests can hand them a trimmed config.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Provisioner() ProvisionerConfig
	Resolver() ResolverConfig
	Convergence() ConvergenceConfig
	Scheduler() SchedulerConfig
	Selectors() SelectorsConfig

	// Run-time overrides coming from CLI flags.
	SetSchedulerPostURL(url string)
	SetSchedulerPostReaction(kind string)
	SetSchedulerCommentReactions(kind string, targets []string)
	SetDatabaseURL(url string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	ProvisionerCfg ProvisionerConfig `mapstructure:"provisioner" yaml:"provisioner"`
	ResolverCfg    ResolverConfig    `mapstructure:"resolver" yaml:"resolver"`
	ConvergenceCfg ConvergenceConfig `mapstructure:"convergence" yaml:"convergence"`
	SchedulerCfg   SchedulerConfig   `mapstructure:"scheduler" yaml:"scheduler"`
	SelectorsCfg   SelectorsConfig   `mapstructure:"selectors" yaml:"selectors"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Provisioner() ProvisionerConfig { return c.ProvisionerCfg }
func (c *Config) Resolver() ResolverConfig       { return c.ResolverCfg }
func (c *Config) Convergence() ConvergenceConfig { return c.ConvergenceCfg }
func (c *Config) Scheduler() SchedulerConfig     { return c.SchedulerCfg }
func (c *Config) Selectors() SelectorsConfig     { return c.SelectorsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetSchedulerPostURL(url string)       { c.SchedulerCfg.PostURL = url }
func (c *Config) SetSchedulerPostReaction(kind string) { c.SchedulerCfg.PostReaction = kind }
func (c *Config) SetDatabaseURL(url string)            { c.DatabaseCfg.URL = url }

func (c *Config) SetSchedulerCommentReactions(kind string, targets []string) {
	c.SchedulerCfg.CommentReaction = kind
	c.SchedulerCfg.CommentTargets = targets
}

// LoggerConfig controls the console and rotating file outputs.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the ledger database connection details. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig tunes the DevTools connection made to a provisioned browser.
type BrowserConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ProvisionerConfig points at the local identity-provisioning service.
type ProvisionerConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	StartPath         string        `mapstructure:"start_path" yaml:"start_path"`
	StopPath          string        `mapstructure:"stop_path" yaml:"stop_path"`
	AttributesPath    string        `mapstructure:"attributes_path" yaml:"attributes_path"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryMax          int           `mapstructure:"retry_max" yaml:"retry_max"`
	RetryWait         time.Duration `mapstructure:"retry_wait" yaml:"retry_wait"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// ResolverConfig controls how identity attributes are looked up.
type ResolverConfig struct {
	AttributeKey string            `mapstructure:"attribute_key" yaml:"attribute_key"`
	MaxAttempts  int               `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay   time.Duration     `mapstructure:"retry_delay" yaml:"retry_delay"`
	CacheSize    int               `mapstructure:"cache_size" yaml:"cache_size"`
	Aliases      map[string]string `mapstructure:"aliases" yaml:"aliases"`
}

// ConvergenceConfig holds the page-settling thresholds.
type ConvergenceConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StableWindow      time.Duration `mapstructure:"stable_window" yaml:"stable_window"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ElementTolerance  int           `mapstructure:"element_tolerance" yaml:"element_tolerance"`
	ContentTolerance  int           `mapstructure:"content_tolerance" yaml:"content_tolerance"`
	ResourceTolerance int           `mapstructure:"resource_tolerance" yaml:"resource_tolerance"`
}

// SchedulerConfig holds the per-run knobs.
type SchedulerConfig struct {
	PostURL        string        `mapstructure:"post_url" yaml:"post_url"`
	PostReaction   string        `mapstructure:"post_reaction" yaml:"post_reaction"`
	ItemTimeout    time.Duration `mapstructure:"item_timeout" yaml:"item_timeout"`
	ExpandClicks   int           `mapstructure:"expand_clicks" yaml:"expand_clicks"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	// CommentReaction is applied by every session to the rendered comments
	// containing one of CommentTargets.
	CommentReaction string   `mapstructure:"comment_reaction" yaml:"comment_reaction"`
	CommentTargets  []string `mapstructure:"comment_targets" yaml:"comment_targets"`
}

// SelectorsConfig is the site adapter's catalogue. Every value is an opaque
// CSS selector; none ship as defaults.
type SelectorsConfig struct {
	CommentItem              string            `mapstructure:"comment_item" yaml:"comment_item"`
	CommentText              string            `mapstructure:"comment_text" yaml:"comment_text"`
	CommentBox               string            `mapstructure:"comment_box" yaml:"comment_box"`
	SubmitButton             string            `mapstructure:"submit_button" yaml:"submit_button"`
	ReplyButton              string            `mapstructure:"reply_button" yaml:"reply_button"`
	ReplyBox                 string            `mapstructure:"reply_box" yaml:"reply_box"`
	ExpandMore               string            `mapstructure:"expand_more" yaml:"expand_more"`
	PostReaction             string            `mapstructure:"post_reaction" yaml:"post_reaction"`
	ItemReaction             string            `mapstructure:"item_reaction" yaml:"item_reaction"`
	ReactionOption           string            `mapstructure:"reaction_option" yaml:"reaction_option"`
	ReactionStateAttribute   string            `mapstructure:"reaction_state_attribute" yaml:"reaction_state_attribute"`
	ReactionPressedAttribute string            `mapstructure:"reaction_pressed_attribute" yaml:"reaction_pressed_attribute"`
	ReactionActiveTemplates  []string          `mapstructure:"reaction_active_templates" yaml:"reaction_active_templates"`
	ReactionLabels           map[string]string `mapstructure:"reaction_labels" yaml:"reaction_labels"`
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "threadweaver")
	v.SetDefault("logger.log_file", "threadweaver.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.connect_timeout", "30s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Provisioner --
	v.SetDefault("provisioner.base_url", "http://127.0.0.1:50325")
	v.SetDefault("provisioner.start_path", "/api/v1/browser/start")
	v.SetDefault("provisioner.stop_path", "/api/v1/browser/stop")
	v.SetDefault("provisioner.attributes_path", "/api/v1/user/attributes")
	v.SetDefault("provisioner.timeout", "30s")
	v.SetDefault("provisioner.retry_max", 2)
	v.SetDefault("provisioner.retry_wait", "1s")
	v.SetDefault("provisioner.requests_per_second", 2.0)

	// -- Resolver --
	v.SetDefault("resolver.attribute_key", "gender")
	v.SetDefault("resolver.max_attempts", 3)
	v.SetDefault("resolver.retry_delay", "1s")
	v.SetDefault("resolver.cache_size", 256)

	// -- Convergence --
	v.SetDefault("convergence.poll_interval", "200ms")
	v.SetDefault("convergence.stable_window", "800ms")
	v.SetDefault("convergence.timeout", "10s")
	v.SetDefault("convergence.element_tolerance", 50)
	v.SetDefault("convergence.content_tolerance", 800)
	v.SetDefault("convergence.resource_tolerance", 5)

	// -- Scheduler --
	v.SetDefault("scheduler.item_timeout", "5m")
	v.SetDefault("scheduler.expand_clicks", 3)
	v.SetDefault("scheduler.confirm_timeout", "15s")
	v.SetDefault("scheduler.comment_reaction", "like")

	// -- Selectors --
	v.SetDefault("selectors.reaction_state_attribute", "aria-label")
	v.SetDefault("selectors.reaction_pressed_attribute", "aria-pressed")
}

// NewConfigFromViper unmarshals, expands and validates a populated viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("database.url", "THREADWEAVER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
		cfg.LoggerCfg.LogFile = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every command depends on. Selector completeness is
// checked separately by ValidateSelectors since only the run command needs it.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ProvisionerCfg.BaseURL) == "" {
		return fmt.Errorf("provisioner.base_url is a required configuration field")
	}
	if c.ProvisionerCfg.RetryMax < 0 {
		return fmt.Errorf("provisioner.retry_max must not be negative")
	}
	if c.ProvisionerCfg.RequestsPerSecond <= 0 {
		return fmt.Errorf("provisioner.requests_per_second must be positive")
	}
	if c.ResolverCfg.MaxAttempts <= 0 {
		return fmt.Errorf("resolver.max_attempts must be a positive integer")
	}
	if c.ResolverCfg.CacheSize <= 0 {
		return fmt.Errorf("resolver.cache_size must be a positive integer")
	}
	if err := c.ConvergenceCfg.Validate(); err != nil {
		return fmt.Errorf("convergence configuration invalid: %w", err)
	}
	if c.SchedulerCfg.ExpandClicks < 0 {
		return fmt.Errorf("scheduler.expand_clicks must not be negative")
	}
	if c.SchedulerCfg.ItemTimeout <= 0 {
		return fmt.Errorf("scheduler.item_timeout must be positive")
	}
	return nil
}

// Validate checks that the settling thresholds are usable.
func (c *ConvergenceConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.StableWindow <= 0 {
		return fmt.Errorf("stable_window must be positive")
	}
	if c.Timeout < c.StableWindow {
		return fmt.Errorf("timeout (%s) must not be shorter than stable_window (%s)", c.Timeout, c.StableWindow)
	}
	if c.ElementTolerance < 0 || c.ContentTolerance < 0 || c.ResourceTolerance < 0 {
		return fmt.Errorf("tolerances must not be negative")
	}
	return nil
}

// ValidateSelectors reports the catalogue entries a run cannot do without.
func (s *SelectorsConfig) ValidateSelectors() error {
	var missing []string
	if strings.TrimSpace(s.CommentItem) == "" {
		missing = append(missing, "selectors.comment_item")
	}
	if strings.TrimSpace(s.CommentBox) == "" {
		missing = append(missing, "selectors.comment_box")
	}
	if strings.TrimSpace(s.ReplyButton) == "" {
		missing = append(missing, "selectors.reply_button")
	}
	if strings.TrimSpace(s.ReplyBox) == "" {
		missing = append(missing, "selectors.reply_box")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required selectors: %s", strings.Join(missing, ", "))
	}
	return nil
}
