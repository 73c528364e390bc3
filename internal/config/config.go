package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can say tick = "3s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds application configuration. Layering: defaults, then the TOML
// config file, then FETCHD_* environment variables, then flags.
type Config struct {
	Port            int      `toml:"port"`
	DBPath          string   `toml:"db_path"`
	Tick            Duration `toml:"tick"`
	MaxConcurrent   int      `toml:"max_concurrent"`
	MaxRetry        int      `toml:"max_retry"`
	DefaultPriority int      `toml:"default_priority"`
	OutputDir       string   `toml:"output_dir"`
	YtdlpPath       string   `toml:"ytdlp_path"`
}

// DefaultDBPath returns the default database path using XDG_DATA_HOME.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "fetchd", "fetchd.sqlite")
}

// DefaultConfigPath returns the default config file path using
// XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "fetchd", "fetchd.toml")
}

// DefaultOutputDir returns the default download directory.
func DefaultOutputDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Downloads")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            8080,
		DBPath:          DefaultDBPath(),
		Tick:            Duration(3 * time.Second),
		MaxConcurrent:   5,
		MaxRetry:        3,
		DefaultPriority: 100,
		OutputDir:       DefaultOutputDir(),
		YtdlpPath:       "yt-dlp",
	}
}

// ApplyFile merges the TOML file at path into the config. A missing file at
// the default location is not an error; an explicitly named missing file is.
func (c *Config) ApplyFile(path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return err
	}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse %s: unknown key %s", path, undecoded[0])
	}
	return nil
}

// ApplyEnv merges FETCHD_* environment overrides into the config.
func (c *Config) ApplyEnv() {
	if port := os.Getenv("FETCHD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if db := os.Getenv("FETCHD_DB"); db != "" {
		c.DBPath = db
	}
	if tick := os.Getenv("FETCHD_TICK"); tick != "" {
		if v, err := time.ParseDuration(tick); err == nil {
			c.Tick = Duration(v)
		}
	}
	if max := os.Getenv("FETCHD_MAX_CONCURRENT"); max != "" {
		if v, err := strconv.Atoi(max); err == nil {
			c.MaxConcurrent = v
		}
	}
	if max := os.Getenv("FETCHD_MAX_RETRY"); max != "" {
		if v, err := strconv.Atoi(max); err == nil {
			c.MaxRetry = v
		}
	}
	if prio := os.Getenv("FETCHD_DEFAULT_PRIORITY"); prio != "" {
		if v, err := strconv.Atoi(prio); err == nil {
			c.DefaultPriority = v
		}
	}
	if outputDir := os.Getenv("FETCHD_OUTPUT_DIR"); outputDir != "" {
		c.OutputDir = outputDir
	}
	if bin := os.Getenv("FETCHD_YTDLP"); bin != "" {
		c.YtdlpPath = bin
	}
}

// Load builds the effective configuration from all layers.
func Load() (*Config, error) {
	cfg := Default()

	configPath := flag.String("config", DefaultConfigPath(), "TOML config file path")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	tick := flag.Duration("tick", time.Duration(cfg.Tick), "Scheduler reconcile interval")
	flag.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "Maximum concurrent downloads")
	flag.IntVar(&cfg.MaxRetry, "max-retry", cfg.MaxRetry, "Maximum automatic retries per job")
	flag.IntVar(&cfg.DefaultPriority, "default-priority", cfg.DefaultPriority, "Priority for jobs submitted without one")
	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Default download directory")
	flag.StringVar(&cfg.YtdlpPath, "ytdlp", cfg.YtdlpPath, "yt-dlp binary path")
	flag.Parse()

	explicit := *configPath != DefaultConfigPath()
	if err := cfg.ApplyFile(*configPath, explicit); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	// Flags win over file and env.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "db":
			cfg.DBPath = f.Value.String()
		case "tick":
			cfg.Tick = Duration(*tick)
		case "max-concurrent":
			cfg.MaxConcurrent, _ = strconv.Atoi(f.Value.String())
		case "max-retry":
			cfg.MaxRetry, _ = strconv.Atoi(f.Value.String())
		case "default-priority":
			cfg.DefaultPriority, _ = strconv.Atoi(f.Value.String())
		case "output-dir":
			cfg.OutputDir = f.Value.String()
		case "ytdlp":
			cfg.YtdlpPath = f.Value.String()
		}
	})

	return cfg, nil
}
