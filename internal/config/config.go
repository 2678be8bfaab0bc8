package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/regioncap/internal/recorder"
	"github.com/dgnsrekt/regioncap/internal/telemetry"
)

// Config holds everything the regioncap binaries read at startup.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	PageURLFilter string
	EvalTimeoutMS int

	// API server
	BindAddr         string
	BindCandidates   []string
	BindAutoFallback bool

	LogLevel string
	LogFile  string
	DataDir  string

	// Browser launch
	LaunchBrowser bool
	BrowserPath   string
	ProfileDir    string
	WindowSize    string
	StartURLs     []string

	// Recording
	Recording     recorder.Options
	FFmpegPath    string
	AllowMJPEG    bool
	PickTimeoutMS int
	// StartsPerMinute limits recording starts per page; StartBurst is the
	// bucket size.
	StartsPerMinute int
	StartBurst      int
	NotifyURL       string

	Telemetry telemetry.Limits

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string
}

const defaultConfigFile = "regioncap.yaml"

// Load reads configuration in three layers: built-in defaults, then the YAML
// file named by REGIONCAP_CONFIG_FILE (or ./regioncap.yaml when present),
// then environment variables, which may come from a .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Defaults()

	path := os.Getenv("REGIONCAP_CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(cfg)
		cfg.ConfigFile = path
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		CDPAddress:      "127.0.0.1",
		CDPPort:         9220,
		EvalTimeoutMS:   5000,
		BindAddr:        "127.0.0.1:8190",
		BindCandidates:  []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"},
		LogLevel:        "info",
		LogFile:         "logs/regioncap.log",
		DataDir:         "./regioncap_data",
		ProfileDir:      "./browser_profile",
		WindowSize:      "1920,1080",
		StartURLs:       []string{"about:blank"},
		Recording:       recorder.Options{Selection: true}.WithDefaults(),
		FFmpegPath:      "ffmpeg",
		AllowMJPEG:      true,
		PickTimeoutMS:   120_000,
		StartsPerMinute: 6,
		StartBurst:      2,
		Telemetry: telemetry.Limits{
			ConsoleEntries:  telemetry.DefaultConsoleEntries,
			NetworkRequests: telemetry.DefaultNetworkRequests,
			MaxBodyBytes:    telemetry.DefaultMaxBodyBytes,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.CDPAddress = getEnvOrDefault("CHROMIUM_CDP_ADDRESS", cfg.CDPAddress)
	cfg.CDPPort = getEnvIntOrDefault("CHROMIUM_CDP_PORT", cfg.CDPPort)
	cfg.PageURLFilter = getEnvOrDefault("REGIONCAP_PAGE_URL_FILTER", cfg.PageURLFilter)
	cfg.EvalTimeoutMS = getEnvIntOrDefault("REGIONCAP_EVAL_TIMEOUT_MS", cfg.EvalTimeoutMS)

	cfg.BindAddr = getEnvOrDefault("REGIONCAP_BIND_ADDR", cfg.BindAddr)
	cfg.BindAutoFallback = getEnvBoolOrDefault("REGIONCAP_BIND_AUTO_FALLBACK", cfg.BindAutoFallback)
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("REGIONCAP_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = getEnvOrDefault("REGIONCAP_LOG_FILE", cfg.LogFile)
	cfg.DataDir = getEnvOrDefault("REGIONCAP_DATA_DIR", cfg.DataDir)

	cfg.LaunchBrowser = getEnvBoolOrDefault("REGIONCAP_LAUNCH_BROWSER", cfg.LaunchBrowser)
	cfg.BrowserPath = getEnvOrDefault("REGIONCAP_BROWSER_PATH", cfg.BrowserPath)
	cfg.ProfileDir = getEnvOrDefault("REGIONCAP_PROFILE_DIR", cfg.ProfileDir)
	cfg.WindowSize = getEnvOrDefault("REGIONCAP_WINDOW_SIZE", cfg.WindowSize)
	if v := os.Getenv("REGIONCAP_START_URL"); v != "" {
		cfg.StartURLs = []string{v}
	}

	r := &cfg.Recording
	r.FPS = getEnvIntOrDefault("REGIONCAP_FPS", r.FPS)
	r.MaxSeconds = getEnvFloatOrDefault("REGIONCAP_MAX_SECONDS", r.MaxSeconds)
	r.MaxBytes = getEnvIntOrDefault("REGIONCAP_MAX_BYTES", r.MaxBytes)
	r.Timeslice = getEnvMillisOrDefault("REGIONCAP_TIMESLICE_MS", r.Timeslice)
	r.PrimeDelay = getEnvMillisOrDefault("REGIONCAP_PRIME_DELAY_MS", r.PrimeDelay)
	r.CaptionWindow = getEnvMillisOrDefault("REGIONCAP_CAPTION_WINDOW_MS", r.CaptionWindow)
	r.Selection = getEnvBoolOrDefault("REGIONCAP_SELECTION_OVERLAY", r.Selection)
	cfg.FFmpegPath = getEnvOrDefault("REGIONCAP_FFMPEG_PATH", cfg.FFmpegPath)
	cfg.AllowMJPEG = getEnvBoolOrDefault("REGIONCAP_ALLOW_MJPEG", cfg.AllowMJPEG)
	cfg.PickTimeoutMS = getEnvIntOrDefault("REGIONCAP_PICK_TIMEOUT_MS", cfg.PickTimeoutMS)
	cfg.StartsPerMinute = getEnvIntOrDefault("REGIONCAP_STARTS_PER_MINUTE", cfg.StartsPerMinute)
	cfg.StartBurst = getEnvIntOrDefault("REGIONCAP_START_BURST", cfg.StartBurst)
	cfg.NotifyURL = getEnvOrDefault("REGIONCAP_NOTIFY_URL", cfg.NotifyURL)

	cfg.Telemetry.ConsoleEntries = getEnvIntOrDefault("REGIONCAP_CONSOLE_ENTRIES", cfg.Telemetry.ConsoleEntries)
	cfg.Telemetry.NetworkRequests = getEnvIntOrDefault("REGIONCAP_NETWORK_REQUESTS", cfg.Telemetry.NetworkRequests)
	cfg.Telemetry.MaxBodyBytes = getEnvIntOrDefault("REGIONCAP_MAX_BODY_BYTES", cfg.Telemetry.MaxBodyBytes)
}

// Validate rejects settings the recorder would refuse later anyway, so a
// bad deployment fails at startup.
func (c *Config) Validate() error {
	if c.EvalTimeoutMS < 1000 {
		c.EvalTimeoutMS = 1000
	}
	var errs []error
	if err := c.Recording.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recording defaults: %w", err))
	}
	if c.CDPPort < 1 || c.CDPPort > 65535 {
		errs = append(errs, fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", c.CDPPort))
	}
	if c.StartsPerMinute < 0 || c.StartBurst < 0 {
		errs = append(errs, errors.New("recording start limits must not be negative"))
	}
	return errors.Join(errs...)
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) PickTimeout() time.Duration {
	return time.Duration(c.PickTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
