package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	GateScopeGlobal      = "global"
	GateScopeFingerprint = "fingerprint"

	// ProjectIDEnv carries the remote sensing project/account identifier to
	// the job.
	ProjectIDEnv = "GEE_PROJECT_ID"

	envPrefix = "FORECASTER"
)

type Config struct {
	Job    JobConfig `mapstructure:"job"`
	Cache  Cache     `mapstructure:"cache"`
	Gate   Gate      `mapstructure:"gate"`
	Store  Store     `mapstructure:"store"`
	Server Server    `mapstructure:"server"`
	Log    Log       `mapstructure:"log"`
}

type Command struct {
	Path    string        `mapstructure:"path"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type JobConfig struct {
	Forecast     Command           `mapstructure:"forecast"`
	Availability Command           `mapstructure:"availability"`
	Env          map[string]string `mapstructure:"env"`
	DrainTimeout time.Duration     `mapstructure:"drain_timeout"`
	AuditLog     string            `mapstructure:"audit_log"`
	// DotEnv names a KEY=value file. Its values win over the process
	// environment when Env is expanded.
	DotEnv string `mapstructure:"dotenv"`

	dotenv map[string]string
}

type Cache struct {
	Backend      string        `mapstructure:"backend"`
	TTL          time.Duration `mapstructure:"ttl"`
	IncludeDates bool          `mapstructure:"include_dates"`
	Redis        Redis         `mapstructure:"redis"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Gate struct {
	Scope string `mapstructure:"scope"`
}

type Store struct {
	DSN string `mapstructure:"dsn"`
}

type Server struct {
	Addr              string        `mapstructure:"addr"`
	AvailabilityRate  float64       `mapstructure:"availability_rate"`
	AvailabilityBurst int           `mapstructure:"availability_burst"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type Log struct {
	Verbose bool   `mapstructure:"verbose"`
	Format  string `mapstructure:"format"`
	Output  string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("job.forecast.path", "python3")
	v.SetDefault("job.forecast.args", []string{"scripts/yield_forecast.py"})
	v.SetDefault("job.forecast.timeout", "300s")
	v.SetDefault("job.availability.path", "python3")
	v.SetDefault("job.availability.args", []string{"scripts/check_data_availability.py"})
	v.SetDefault("job.availability.timeout", "60s")
	v.SetDefault("job.env", map[string]string{ProjectIDEnv: "$" + ProjectIDEnv})
	v.SetDefault("job.drain_timeout", "5s")
	v.SetDefault("job.audit_log", "/tmp/forecaster_jobs.log")
	v.SetDefault("job.dotenv", ".env")

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.include_dates", true)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "forecaster:result:")

	v.SetDefault("gate.scope", GateScopeGlobal)

	v.SetDefault("store.dsn", "forecaster.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.availability_rate", 1.0)
	v.SetDefault("server.availability_burst", 3)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.verbose", false)
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfig returns the configuration used when no file is present.
// FORECASTER_* environment variables still apply.
func DefaultConfig() (Config, error) {
	return decode(newViper())
}

// LoadConfig reads YAML from r on top of the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return decode(v)
}

// WriteDefaultConfig stores the default settings as YAML.
func WriteDefaultConfig(w io.Writer) error {
	v := viper.New()
	setDefaults(v)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v.AllSettings()); err != nil {
		return err
	}
	return enc.Close()
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.Job.loadDotEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv reads DotEnv, a missing file is ignored.
func (j *JobConfig) loadDotEnv() error {
	if j.DotEnv == "" {
		return nil
	}
	b, err := os.ReadFile(j.DotEnv)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading dotenv file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("env")
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return fmt.Errorf("parsing dotenv file %s: %w", j.DotEnv, err)
	}
	j.dotenv = make(map[string]string, len(v.AllKeys()))
	for _, k := range v.AllKeys() {
		j.dotenv[strings.ToUpper(k)] = v.GetString(k)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Job.Forecast.Path == "" {
		errs = append(errs, errors.New("job.forecast.path is empty"))
	}
	if c.Job.Availability.Path == "" {
		errs = append(errs, errors.New("job.availability.path is empty"))
	}
	if c.Job.Forecast.Timeout <= 0 || c.Job.Availability.Timeout <= 0 {
		errs = append(errs, errors.New("job timeouts must be positive"))
	}
	if c.Job.DrainTimeout <= 0 {
		errs = append(errs, errors.New("job.drain_timeout must be positive"))
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	switch c.Gate.Scope {
	case GateScopeGlobal, GateScopeFingerprint:
	default:
		errs = append(errs, fmt.Errorf("gate.scope %q is not supported", c.Gate.Scope))
	}
	if c.Server.AvailabilityRate <= 0 || c.Server.AvailabilityBurst <= 0 {
		errs = append(errs, errors.New("server availability rate and burst must be positive"))
	}
	return errors.Join(errs...)
}

// Environ returns the job environment overrides as KEY=value pairs. Keys are
// upper-cased and values starting with $ are expanded from the dotenv file
// first and the process environment second.
func (j JobConfig) Environ() []string {
	keys := make([]string, 0, len(j.Env))
	for k := range j.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(j.Env))
	for _, k := range keys {
		v := j.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.Expand(v, j.lookup)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

func (j JobConfig) lookup(name string) string {
	if v, ok := j.dotenv[strings.ToUpper(name)]; ok {
		return v
	}
	return os.Getenv(name)
}

// ProjectID returns the expanded project identifier, empty when unset.
func (j JobConfig) ProjectID() string {
	prefix := ProjectIDEnv + "="
	for _, kv := range j.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix)
		}
	}
	return ""
}

// LogValue hides the redis password from logs.
func (c Config) LogValue() slog.Value {
	if c.Cache.Redis.Password != "" {
		c.Cache.Redis.Password = "***"
	}
	c.Job.dotenv = nil
	type plain Config
	return slog.AnyValue(plain(c))
}
