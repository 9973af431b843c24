package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Token             string        `yaml:"token"`
	ContainerName     string        `yaml:"container_name"`
	Keywords          []string      `yaml:"keywords"`
	SuccessPatterns   []string      `yaml:"success_patterns"`
	DockerSocket      string        `yaml:"docker_socket"`
	TelegramAPI       string        `yaml:"telegram_api_url"`
	ActivationCommand string        `yaml:"activation_command"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollTimeout       int           `yaml:"poll_timeout"`
	SinceStart        bool          `yaml:"since_start"`
	Timezone          string        `yaml:"timezone"`
	Addr              string        `yaml:"addr"`
	DataDir           string        `yaml:"data_dir"`
	DBPath            string        `yaml:"db_path"`
	RetentionDays     int           `yaml:"retention_days"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

// DBDisabled is the DBPath value that turns the notification journal off.
const DBDisabled = "off"

func Default() Config {
	return Config{
		DockerSocket:      "/var/run/docker.sock",
		TelegramAPI:       "https://api.telegram.org",
		ActivationCommand: "/start",
		PollInterval:      2 * time.Second,
		SinceStart:        true,
		Addr:              ":8080",
		DataDir:           "./data",
		RetentionDays:     14,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds a Config from defaults, the optional YAML file at path, and the
// environment, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("APP_CONFIG")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.mergeEnv()
	if cfg.DBPath == "" {
		cfg.DBPath = strings.TrimRight(cfg.DataDir, "/") + "/logwatch.db"
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Keywords = cleanList(c.Keywords)
	c.SuccessPatterns = cleanList(c.SuccessPatterns)
	return nil
}

func (c *Config) mergeEnv() {
	c.Token = getenv("TOKEN", getenv("TELEGRAM_BOT_TOKEN", c.Token))
	c.ContainerName = getenv("CONTAINER_NAME", c.ContainerName)
	c.Keywords = getenvList("KEYWORDS", c.Keywords)
	c.SuccessPatterns = getenvList("SUCCESS_PATTERNS", c.SuccessPatterns)
	c.DockerSocket = getenv("DOCKER_SOCKET", c.DockerSocket)
	c.TelegramAPI = getenv("TELEGRAM_API_URL", c.TelegramAPI)
	c.ActivationCommand = getenv("APP_ACTIVATION_COMMAND", c.ActivationCommand)
	c.PollInterval = getenvDuration("APP_POLL_INTERVAL", c.PollInterval)
	c.PollTimeout = getenvInt("APP_POLL_TIMEOUT", c.PollTimeout)
	c.SinceStart = getenvBool("APP_SINCE_START", c.SinceStart)
	c.Timezone = getenv("APP_TIMEZONE", c.Timezone)
	if v, ok := os.LookupEnv("APP_ADDR"); ok {
		c.Addr = v
	}
	c.DataDir = getenv("APP_DATA_DIR", c.DataDir)
	c.DBPath = getenv("APP_DB_PATH", c.DBPath)
	c.RetentionDays = getenvInt("APP_RETENTION_DAYS", c.RetentionDays)
	c.LogLevel = getenv("APP_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("APP_LOG_FORMAT", c.LogFormat)
}

// Validate reports every problem that prevents startup.
func (c Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("TOKEN is required"))
	}
	if c.ContainerName == "" {
		errs = append(errs, errors.New("CONTAINER_NAME is required"))
	}
	if len(c.Keywords) == 0 && len(c.SuccessPatterns) == 0 {
		errs = append(errs, errors.New("at least one of KEYWORDS or SUCCESS_PATTERNS is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.PollTimeout < 0 {
		errs = append(errs, fmt.Errorf("poll timeout must not be negative, got %d", c.PollTimeout))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, defaulting to the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) JournalEnabled() bool {
	return c.DBPath != "" && c.DBPath != DBDisabled
}

// SplitList parses a comma separated list, dropping blanks.
func SplitList(v string) []string {
	return cleanList(strings.Split(v, ","))
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvList(k string, d []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return SplitList(v)
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

func getenvBool(k string, d bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(k)))
	if v == "" {
		return d
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	return d
}
