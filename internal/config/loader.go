package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/example/mess-attendance/internal/domain"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MESS"

// ConfigFileEnv names an optional YAML file merged under the environment.
const ConfigFileEnv = "MESS_CONFIG"

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config captures the runtime configuration of the mess attendance service.
type Config struct {
	Env            string
	HTTPPort       int
	StorageDriver  string
	SQLiteDSN      string
	Timezone       string
	Location       *time.Location
	MetricsEnabled bool

	QR struct {
		Secret       string
		KeyID        string
		Rotation     time.Duration
		BookingGrace time.Duration
	}

	Scan struct {
		RatePerSecond float64
		Burst         int
	}

	Freeze struct {
		Interval     time.Duration
		InitialDelay time.Duration
	}

	Fines struct {
		Threshold int
		Delay     time.Duration
	}

	SweepInterval time.Duration

	Seed struct {
		DefaultSchedule bool
		MealCost        domain.Money
	}
}

// IsDevelopment reports whether app.env selects development behaviour.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local":
		return true
	}
	return false
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

var defaults = map[string]any{
	"app.env":                      "production",
	"http.port":                    "8080",
	"storage.driver":               StorageSQLite,
	"sqlite.dsn":                   "file:mess.db",
	"timezone":                     "Asia/Kolkata",
	"metrics.enabled":              "true",
	"qr.key_id":                    "v1",
	"qr.rotation":                  "5s",
	"qr.booking_grace":             "30m",
	"scan.rate_per_second":         "5",
	"scan.burst":                   "10",
	"freeze.interval":              "5m",
	"freeze.initial_delay":         "10s",
	"fines.threshold":              "3",
	"fines.delay":                  "30m",
	"subscriptions.sweep_interval": "1h",
	"seed.default_schedule":        "true",
	"seed.meal_cost":               "40.00",
}

// Load reads configuration from MESS_* environment variables, optionally
// layered over the YAML file named by MESS_CONFIG.
//
// Every problem is collected before returning so operators see all missing
// and invalid keys at once.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if err := v.BindEnv("qr.secret"); err != nil {
		return Config{}, fmt.Errorf("bind qr.secret: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	p := parser{v: v}
	var cfg Config

	cfg.Env = p.str("app.env")
	cfg.HTTPPort = p.positiveInt("http.port")
	cfg.StorageDriver = strings.ToLower(p.str("storage.driver"))
	if cfg.StorageDriver != StorageSQLite && cfg.StorageDriver != StorageMemory {
		p.invalidKey("storage.driver")
	}
	cfg.SQLiteDSN = p.str("sqlite.dsn")
	if cfg.StorageDriver == StorageSQLite && cfg.SQLiteDSN == "" {
		p.missingKey("sqlite.dsn")
	}
	cfg.Timezone = p.str("timezone")
	if loc, err := time.LoadLocation(cfg.Timezone); err != nil {
		p.invalidKey("timezone")
	} else {
		cfg.Location = loc
	}
	cfg.MetricsEnabled = p.boolean("metrics.enabled")

	if cfg.QR.Secret = p.str("qr.secret"); cfg.QR.Secret == "" {
		p.missingKey("qr.secret")
	}
	cfg.QR.KeyID = p.str("qr.key_id")
	if cfg.QR.Rotation = p.duration("qr.rotation"); cfg.QR.Rotation > 0 && cfg.QR.Rotation < time.Second {
		p.invalidKey("qr.rotation")
	}
	cfg.QR.BookingGrace = p.duration("qr.booking_grace")

	cfg.Scan.RatePerSecond = p.positiveFloat("scan.rate_per_second")
	cfg.Scan.Burst = p.positiveInt("scan.burst")

	cfg.Freeze.Interval = p.duration("freeze.interval")
	cfg.Freeze.InitialDelay = p.duration("freeze.initial_delay")

	cfg.Fines.Threshold = p.positiveInt("fines.threshold")
	cfg.Fines.Delay = p.duration("fines.delay")

	cfg.SweepInterval = p.duration("subscriptions.sweep_interval")

	cfg.Seed.DefaultSchedule = p.boolean("seed.default_schedule")
	if cost, err := domain.ParseMoney(p.str("seed.meal_cost")); err != nil {
		p.invalidKey("seed.meal_cost")
	} else {
		cfg.Seed.MealCost = cost
	}

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("required configuration is not set: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("configuration values are invalid: %s", strings.Join(p.invalid, ", "))
	}
	return cfg, nil
}

// EnvName returns the environment variable backing key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

type parser struct {
	v       *viper.Viper
	missing []string
	invalid []string
}

func (p *parser) missingKey(key string) { p.missing = append(p.missing, EnvName(key)) }

func (p *parser) invalidKey(key string) { p.invalid = append(p.invalid, EnvName(key)) }

func (p *parser) str(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) positiveInt(key string) int {
	n, err := strconv.Atoi(p.str(key))
	if err != nil || n <= 0 {
		p.invalidKey(key)
		return 0
	}
	return n
}

func (p *parser) positiveFloat(key string) float64 {
	f, err := strconv.ParseFloat(p.str(key), 64)
	if err != nil || f <= 0 {
		p.invalidKey(key)
		return 0
	}
	return f
}

func (p *parser) duration(key string) time.Duration {
	d, err := time.ParseDuration(p.str(key))
	if err != nil || d <= 0 {
		p.invalidKey(key)
		return 0
	}
	return d
}

func (p *parser) boolean(key string) bool {
	b, err := strconv.ParseBool(p.str(key))
	if err != nil {
		p.invalidKey(key)
		return false
	}
	return b
}
