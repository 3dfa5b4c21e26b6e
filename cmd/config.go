package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tracker"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage tracker configuration.

Running bare 'tracker config' is the same as 'tracker config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# tracker configuration
# See: tracker config show (for effective values and sources)
# Every key can also be set as TRACKER_<KEY>, e.g. TRACKER_SERVER_PORT=8080

# State directory for the PID and log files (default: ~/.config/tracker)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/tracker/tracker.db)
# db_path: {{ .DBPath }}

server:
  host: "{{ .Host }}"
  port: {{ .Port }}
  # Browser origins allowed to call the API with credentials
  cors_origins:{{ range .CORSOrigins }}
    - "{{ . }}"{{ end }}
  shutdown_timeout: {{ .ShutdownTimeout }}
  # Take client IPs from X-Forwarded-For; enable only behind a proxy that sets it
  trust_proxy: {{ .TrustProxy }}

auth:
  # sqlite keeps sessions in the database; redis keeps them in redis.url
  session_store: "{{ .SessionStore }}"
  session_ttl: {{ .SessionTTL }}
  cookie_secure: {{ .CookieSecure }}

redis:
  url: "{{ .RedisURL }}"

ratelimit:
  enabled: {{ .RateLimitEnabled }}
  requests_per_minute: {{ .RequestsPerMinute }}

log:
  # debug, info, warn or error
  level: "{{ .LogLevel }}"
  # text or json
  format: "{{ .LogFormat }}"

anthropic:
  # Enables POST /api/issues/{id}/enrich when set
  # api_key: ""
  model: "{{ .AnthropicModel }}"

mcp:
  api_base_url: "{{ .MCPBaseURL }}"
  # Create one with: tracker apikey create --user <email>
  # api_key: ""
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	Host              string
	Port              int
	CORSOrigins       []string
	ShutdownTimeout   time.Duration
	TrustProxy        bool
	SessionStore      string
	SessionTTL        time.Duration
	CookieSecure      bool
	RedisURL          string
	RateLimitEnabled  bool
	RequestsPerMinute int
	LogLevel          string
	LogFormat         string
	AnthropicModel    string
	MCPBaseURL        string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		Host:              viper.GetString("server.host"),
		Port:              viper.GetInt("server.port"),
		CORSOrigins:       viper.GetStringSlice("server.cors_origins"),
		ShutdownTimeout:   viper.GetDuration("server.shutdown_timeout"),
		TrustProxy:        viper.GetBool("server.trust_proxy"),
		SessionStore:      viper.GetString("auth.session_store"),
		SessionTTL:        viper.GetDuration("auth.session_ttl"),
		CookieSecure:      viper.GetBool("auth.cookie_secure"),
		RedisURL:          viper.GetString("redis.url"),
		RateLimitEnabled:  viper.GetBool("ratelimit.enabled"),
		RequestsPerMinute: viper.GetInt("ratelimit.requests_per_minute"),
		LogLevel:          viper.GetString("log.level"),
		LogFormat:         viper.GetString("log.format"),
		AnthropicModel:    viper.GetString("anthropic.model"),
		MCPBaseURL:        viper.GetString("mcp.api_base_url"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

// configKeys lists every key in display order. Env names follow the
// TRACKER_ prefix with dots replaced by underscores.
var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "TRACKER_STATE_DIR"},
	{Key: "db_path", EnvVar: "TRACKER_DB_PATH"},
	{Key: "server.host", EnvVar: "TRACKER_SERVER_HOST"},
	{Key: "server.port", EnvVar: "TRACKER_SERVER_PORT"},
	{Key: "server.cors_origins", EnvVar: "TRACKER_SERVER_CORS_ORIGINS"},
	{Key: "server.shutdown_timeout", EnvVar: "TRACKER_SERVER_SHUTDOWN_TIMEOUT"},
	{Key: "server.trust_proxy", EnvVar: "TRACKER_SERVER_TRUST_PROXY"},
	{Key: "auth.cookie_name", EnvVar: "TRACKER_AUTH_COOKIE_NAME"},
	{Key: "auth.cookie_secure", EnvVar: "TRACKER_AUTH_COOKIE_SECURE"},
	{Key: "auth.session_ttl", EnvVar: "TRACKER_AUTH_SESSION_TTL"},
	{Key: "auth.session_store", EnvVar: "TRACKER_AUTH_SESSION_STORE"},
	{Key: "auth.trusted_origins", EnvVar: "TRACKER_AUTH_TRUSTED_ORIGINS"},
	{Key: "redis.url", EnvVar: "TRACKER_REDIS_URL"},
	{Key: "ratelimit.enabled", EnvVar: "TRACKER_RATELIMIT_ENABLED"},
	{Key: "ratelimit.requests_per_minute", EnvVar: "TRACKER_RATELIMIT_REQUESTS_PER_MINUTE"},
	{Key: "log.level", EnvVar: "TRACKER_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "TRACKER_LOG_FORMAT"},
	{Key: "anthropic.api_key", EnvVar: "TRACKER_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "TRACKER_ANTHROPIC_MODEL"},
	{Key: "mcp.api_base_url", EnvVar: "TRACKER_MCP_API_BASE_URL"},
	{Key: "mcp.api_key", EnvVar: "TRACKER_MCP_API_KEY"},
}

// secretKeys are masked by config show.
var secretKeys = map[string]bool{
	"anthropic.api_key": true,
	"mcp.api_key":       true,
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if secretKeys[k.Key] {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "****"
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'tracker config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
