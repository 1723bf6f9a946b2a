package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qualitystack/quality-core/internal/models"
)

// Config captures the settings required to boot the quality-core service.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Warehouse  WarehouseConfig    `yaml:"warehouse"`
	Cache      CacheConfig        `yaml:"cache"`
	Period     PeriodConfig       `yaml:"period"`
	Items      models.ItemCatalog `yaml:"items"`
	Thresholds ThresholdsConfig   `yaml:"thresholds"`
	Tracking   TrackingConfig     `yaml:"tracking"`
	Batch      BatchConfig        `yaml:"batch"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WarehouseConfig configures access to the analytical store.
type WarehouseConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbName"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// CacheConfig controls the Redis-backed hot cache for report reads.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	ReportTTL        time.Duration `yaml:"reportTTL"`
	BackfillFallback bool          `yaml:"backfillFallback"`
	FallbackTTL      time.Duration `yaml:"fallbackTTL"`
}

// PeriodConfig fixes the tracking-period anchor.
type PeriodConfig struct {
	StartWeekday string `yaml:"startWeekday"`
}

// ThresholdsConfig holds the default underperformance thresholds and the
// per-organizational-unit override table.
type ThresholdsConfig struct {
	Default models.Thresholds            `yaml:"default"`
	Units   map[string]models.Thresholds `yaml:"units"`
}

// TrackingConfig controls the tracking state machine week counters and the
// agent-to-unit roster. The roster stands in for an external directory; an
// agent without an entry is classified with the default thresholds.
type TrackingConfig struct {
	EscalateAfterWeeks int               `yaml:"escalateAfterWeeks"`
	ResolveAfterWeeks  int               `yaml:"resolveAfterWeeks"`
	AgentUnits         map[string]string `yaml:"agentUnits"`
}

// BatchConfig controls scheduled report generation.
type BatchConfig struct {
	Schedule string `yaml:"schedule"`
	Enabled  bool   `yaml:"enabled"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("QUALITY_CORE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if _, err := cfg.Period.Weekday(); err != nil {
		return nil, err
	}
	if len(cfg.Items.Attitude) == 0 || len(cfg.Items.Operational) == 0 {
		return nil, fmt.Errorf("item catalog must list attitude and operational items")
	}
	return &cfg, nil
}

// Weekday parses the configured period start weekday.
func (p PeriodConfig) Weekday() (time.Weekday, error) {
	switch strings.ToLower(p.StartWeekday) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("invalid period start weekday %q", p.StartWeekday)
}

// DSN renders the warehouse connection string.
func (w WarehouseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		w.Host, w.Port, w.User, w.Password, w.DBName, w.SSLMode,
	)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Warehouse: WarehouseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "quality",
			DBName:          "quality",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:          false,
			DialTimeout:      2 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			WriteTimeout:     500 * time.Millisecond,
			ReportTTL:        10 * time.Minute,
			BackfillFallback: true,
			FallbackTTL:      2 * time.Minute,
		},
		Period: PeriodConfig{StartWeekday: "thursday"},
		Items:  defaultItemCatalog(),
		Thresholds: ThresholdsConfig{
			Default: models.Thresholds{AttitudeRate: 3.3, OperationalRate: 3.9},
		},
		Tracking: TrackingConfig{
			EscalateAfterWeeks: 3,
			ResolveAfterWeeks:  3,
		},
		Batch: BatchConfig{
			// Runs shortly after the weekly period closes.
			Schedule: "15 0 * * THU",
			Enabled:  true,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func defaultItemCatalog() models.ItemCatalog {
	return models.ItemCatalog{
		Attitude: []models.ChecklistItem{
			{Code: "att_greeting", Label: "Improper greeting or closing"},
			{Code: "att_tone", Label: "Unprofessional tone"},
			{Code: "att_interrupt", Label: "Interrupted the customer"},
			{Code: "att_empathy", Label: "Lacked empathy"},
			{Code: "att_hold", Label: "Hold handling violation"},
		},
		Operational: []models.ChecklistItem{
			{Code: "ops_verify", Label: "Skipped identity verification"},
			{Code: "ops_record", Label: "Incomplete interaction record"},
			{Code: "ops_script", Label: "Mandatory script omitted"},
			{Code: "ops_solution", Label: "Incorrect solution provided"},
			{Code: "ops_escalate", Label: "Missed escalation trigger"},
			{Code: "ops_followup", Label: "Follow-up not scheduled"},
			{Code: "ops_tagging", Label: "Wrong service tag"},
			{Code: "ops_policy", Label: "Policy misquoted"},
			{Code: "ops_system", Label: "System steps out of order"},
			{Code: "ops_privacy", Label: "Data-privacy breach"},
			{Code: "ops_closure", Label: "Case closed without resolution"},
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUALITY_CORE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("QUALITY_CORE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("QUALITY_CORE_WAREHOUSE_HOST"); v != "" {
		cfg.Warehouse.Host = v
	}
	if v := os.Getenv("QUALITY_CORE_WAREHOUSE_PORT"); v != "" {
		cfg.Warehouse.Port = v
	}
	if v := os.Getenv("QUALITY_CORE_WAREHOUSE_USER"); v != "" {
		cfg.Warehouse.User = v
	}
	if v := os.Getenv("QUALITY_CORE_WAREHOUSE_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}
	if v := os.Getenv("QUALITY_CORE_WAREHOUSE_DBNAME"); v != "" {
		cfg.Warehouse.DBName = v
	}
	if v := os.Getenv("QUALITY_CORE_WAREHOUSE_SSLMODE"); v != "" {
		cfg.Warehouse.SSLMode = v
	}
	if v := os.Getenv("QUALITY_CORE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("QUALITY_CORE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("QUALITY_CORE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("QUALITY_CORE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("QUALITY_CORE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("QUALITY_CORE_CACHE_REPORT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReportTTL = d
		}
	}
	if v := os.Getenv("QUALITY_CORE_PERIOD_START_WEEKDAY"); v != "" {
		cfg.Period.StartWeekday = v
	}
	if v := os.Getenv("QUALITY_CORE_ESCALATE_AFTER_WEEKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Tracking.EscalateAfterWeeks = n
		}
	}
	if v := os.Getenv("QUALITY_CORE_RESOLVE_AFTER_WEEKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Tracking.ResolveAfterWeeks = n
		}
	}
	if v := os.Getenv("QUALITY_CORE_BATCH_SCHEDULE"); v != "" {
		cfg.Batch.Schedule = v
	}
	if v := os.Getenv("QUALITY_CORE_BATCH_ENABLED"); v != "" {
		cfg.Batch.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("QUALITY_CORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QUALITY_CORE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
