package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level listenmode config.
	WorkspaceDirName = ".listenmode"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
	// EnvPrefix marks environment overrides: LISTENMODE_LISTEN_MODE__DEBOUNCE=300ms.
	EnvPrefix = "LISTENMODE_"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the listenmode server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Browser    BrowserConfig    `yaml:"browser"`
	ListenMode ListenModeConfig `yaml:"listen_mode"`
	Settings   SettingsConfig   `yaml:"settings"`
	MCP        MCPConfig        `yaml:"mcp"`
	Mangle     MangleConfig     `yaml:"mangle"`
	Recorder   RecorderConfig   `yaml:"recorder"`
}

type ServerConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Version  string `yaml:"version"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level" validate:"required,oneof=debug info warn error"`
	// Env selects the log encoder: dev (console) or prod (JSON).
	Env string `yaml:"env" validate:"required,oneof=dev prod"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222).
	DebuggerURL string `yaml:"debugger_url" validate:"omitempty,url"`
	// Optional launch command (e.g., ["chrome", "--mute-audio"]). Empty means Rod's default browser lookup.
	Launch []string `yaml:"launch"`
	// AutoStart controls whether serve launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless defaults to false: listen mode is something a person looks at.
	Headless                 *bool  `yaml:"headless"`
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout" validate:"omitempty,duration"`
	DefaultAttachTimeout     string `yaml:"default_attach_timeout" validate:"omitempty,duration"`
	ViewportWidth            int    `yaml:"viewport_width" validate:"gte=0"`
	ViewportHeight           int    `yaml:"viewport_height" validate:"gte=0"`
	// StartURL is opened by open-watch-session when no url is given.
	StartURL string `yaml:"start_url" validate:"omitempty,url"`
}

// ListenModeConfig tunes the coordinator, resolver and page surface.
type ListenModeConfig struct {
	Debounce         string   `yaml:"debounce" validate:"omitempty,duration"`
	PollInterval     string   `yaml:"poll_interval" validate:"omitempty,duration"`
	MaxAttempts      int      `yaml:"max_attempts" validate:"gte=0,lte=1000"`
	ChannelSelectors []string `yaml:"channel_selectors" validate:"dive,required"`
	PlayerSelector   string   `yaml:"player_selector"`
	ControlsSelector string   `yaml:"controls_selector"`
	ActiveClass      string   `yaml:"active_class"`
	RecentChannels   int      `yaml:"recent_channels" validate:"gte=0"`
}

type SettingsConfig struct {
	// StorePath is the bbolt file holding autoEnable and the channel lists.
	StorePath string `yaml:"store_path" validate:"required"`
}

type MCPConfig struct {
	// When set, starts an SSE server (and /metrics) on this port instead of stdio.
	SSEPort int `yaml:"sse_port" validate:"gte=0,lt=65536"`
}

// MangleConfig controls the decision journal.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// SchemaPath overrides the embedded schema when set.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit" validate:"gte=0"`
}

// RecorderConfig controls JSONL traces of decision cycles.
type RecorderConfig struct {
	Enable   bool   `yaml:"enable"`
	TraceDir string `yaml:"trace_dir"`
}

// DefaultConfig provides reasonable defaults for local use.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "listenmode",
			Version:  "0.1.0",
			LogFile:  "listenmode.log",
			LogLevel: "info",
			Env:      "prod",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			ViewportWidth:            1280,
			ViewportHeight:           800,
			StartURL:                 "https://www.youtube.com/",
		},
		ListenMode: ListenModeConfig{
			Debounce:     "250ms",
			PollInterval: "500ms",
			MaxAttempts:  20,
			ChannelSelectors: []string{
				"#upload-info #channel-name a",
				"ytd-video-owner-renderer #channel-name a",
				".ytd-channel-name a",
			},
			PlayerSelector:   ".html5-video-player",
			ControlsSelector: ".ytp-right-controls",
			ActiveClass:      "ytb-listen-mode-active",
			RecentChannels:   50,
		},
		Settings: SettingsConfig{
			StorePath: "listenmode.db",
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			TraceDir: "traces",
		},
	}
}

// Load reads YAML config from disk, overlays defaults and environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	if err := mergeFile(&cfg, path); err != nil {
		return cfg, err
	}
	if err := mergeEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .listenmode/config.yaml file.
// Returns the workspace root directory (parent of .listenmode/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements the layered merge:
//
//	DefaultConfig() <- .listenmode/config.yaml <- explicit --config <- LISTENMODE_* env
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", err)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			if err := mergeFile(&cfg, filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)); err != nil {
				return cfg, "", err
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		if err := mergeFile(&cfg, explicitConfig); err != nil {
			return cfg, wsDir, err
		}
	}

	if err := mergeEnv(&cfg); err != nil {
		return cfg, wsDir, err
	}

	return cfg, wsDir, cfg.Validate()
}

func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// envLoader is swapped out in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil)
}

// mergeEnv overlays LISTENMODE_<SECTION>__<KEY> variables. Keys absent from the
// environment keep their current value.
func mergeEnv(cfg *Config) error {
	k := koanf.New(".")
	if err := envLoader(k); err != nil {
		return fmt.Errorf("loading env: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("applying env overrides: %w", err)
	}
	return nil
}

// InitWorkspace creates a .listenmode/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# listenmode project-level configuration
# Values here override defaults but are overridden by --config and LISTENMODE_* env vars.

# settings:
#   store_path: "data/listenmode.db"

# listen_mode:
#   debounce: "250ms"
#   poll_interval: "500ms"
#   max_attempts: 20

# browser:
#   headless: false
#   start_url: "https://www.youtube.com/"

# recorder:
#   enable: true
#   trace_dir: "data/traces"
`
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (settings db, traces) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, WorkspaceDirName, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Settings.StorePath = resolve(cfg.Settings.StorePath)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.TraceDir = resolve(cfg.Recorder.TraceDir)
	return cfg
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether Chrome should run headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 800
	}
	return b.ViewportHeight
}

// DebounceWindow returns the trigger debounce with the 250ms default.
func (l ListenModeConfig) DebounceWindow() time.Duration {
	return parseDuration(l.Debounce, 250*time.Millisecond)
}

// Interval returns the channel poll interval with the 500ms default.
func (l ListenModeConfig) Interval() time.Duration {
	return parseDuration(l.PollInterval, 500*time.Millisecond)
}

// Attempts returns the resolver read budget with the default of 20.
func (l ListenModeConfig) Attempts() int {
	if l.MaxAttempts <= 0 {
		return 20
	}
	return l.MaxAttempts
}
