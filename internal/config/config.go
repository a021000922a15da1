// Package config loads service settings from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetroute/internal/geo"
	"fleetroute/internal/opt"
)

// Config is the full service configuration.
type Config struct {
	Port        string    `yaml:"port"`
	DatabaseURL string    `yaml:"databaseUrl"`
	RedisURL    string    `yaml:"redisUrl"`
	LogLevel    int       `yaml:"logLevel"`
	AllowOrigin string    `yaml:"allowOrigin"`
	Matrix      Matrix    `yaml:"matrix"`
	Optimizer   Optimizer `yaml:"optimizer"`
	ORS         ORS       `yaml:"ors"`
	Offline     Offline   `yaml:"offline"`
	Auth        Auth      `yaml:"auth"`
	Webhooks    Webhooks  `yaml:"webhooks"`
}

// Matrix configures distance matrix assembly.
type Matrix struct {
	BatchSize   int           `yaml:"batchSize"`
	Concurrency int           `yaml:"concurrency"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
}

// Optimizer holds request defaults for the solver.
type Optimizer struct {
	TimeLimit       time.Duration `yaml:"timeLimit"`
	DistanceBound   int64         `yaml:"distanceBound"`
	SpanCoefficient float64       `yaml:"spanCoefficient"`
	Strategy        string        `yaml:"strategy"`
	Capacities      []int         `yaml:"capacities"`
}

// ORS configures the OpenRouteService provider. It is used only when an API
// key is set.
type ORS struct {
	APIKey      string        `yaml:"apiKey"`
	BaseURL     string        `yaml:"baseUrl"`
	Profile     string        `yaml:"profile"`
	Country     string        `yaml:"country"`
	RatePerSec  float64       `yaml:"ratePerSec"`
	Burst       int           `yaml:"burst"`
	MaxAttempts int           `yaml:"maxAttempts"` // includes the first try
	Timeout     time.Duration `yaml:"timeout"`
}

// Offline configures the great-circle provider used without an ORS key.
type Offline struct {
	DetourFactor float64                   `yaml:"detourFactor"`
	Addresses    map[string]geo.Coordinate `yaml:"addresses"`
}

// Auth configures bearer-token checks on the API.
type Auth struct {
	Mode       string `yaml:"mode"` // off, dev, hmac
	HMACSecret string `yaml:"hmacSecret"`
}

// Webhooks configures outbound notifications for optimization results.
type Webhooks struct {
	Targets     []WebhookTarget `yaml:"targets"`
	MaxAttempts int             `yaml:"maxAttempts"`
}

type WebhookTarget struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port: "8080",
		Matrix: Matrix{
			BatchSize:   10,
			Concurrency: 4,
			CacheTTL:    24 * time.Hour,
		},
		Optimizer: Optimizer{
			TimeLimit:       time.Second,
			DistanceBound:   opt.DefaultDistanceBound,
			SpanCoefficient: opt.DefaultSpanCoefficient,
			Strategy:        opt.StrategyTabu,
			Capacities:      []int{15, 20, 25, 10},
		},
		ORS: ORS{
			BaseURL:     "https://api.openrouteservice.org",
			Profile:     "driving-car",
			RatePerSec:  1,
			Burst:       2,
			MaxAttempts: 4,
			Timeout:     10 * time.Second,
		},
		Offline:  Offline{DetourFactor: 1.3},
		Auth:     Auth{Mode: "off"},
		Webhooks: Webhooks{MaxAttempts: 5},
	}
}

// Load reads path (if it exists) over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	num("LOG_LEVEL", &c.LogLevel)
	str("ALLOW_ORIGINS", &c.AllowOrigin)

	num("MATRIX_BATCH_SIZE", &c.Matrix.BatchSize)
	num("MATRIX_CONCURRENCY", &c.Matrix.Concurrency)
	dur("MATRIX_CACHE_TTL", &c.Matrix.CacheTTL)

	dur("OPTIMIZER_TIME_LIMIT", &c.Optimizer.TimeLimit)
	if v, ok := lookup("OPTIMIZER_DISTANCE_BOUND"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("OPTIMIZER_DISTANCE_BOUND: %w", err))
		} else {
			c.Optimizer.DistanceBound = n
		}
	}
	flt("OPTIMIZER_SPAN_COEFFICIENT", &c.Optimizer.SpanCoefficient)
	str("OPTIMIZER_STRATEGY", &c.Optimizer.Strategy)
	if v, ok := lookup("OPTIMIZER_CAPACITIES"); ok && v != "" {
		caps, err := ParseCapacities(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("OPTIMIZER_CAPACITIES: %w", err))
		} else {
			c.Optimizer.Capacities = caps
		}
	}

	str("ORS_API_KEY", &c.ORS.APIKey)
	str("ORS_BASE_URL", &c.ORS.BaseURL)
	str("ORS_PROFILE", &c.ORS.Profile)
	str("ORS_COUNTRY", &c.ORS.Country)
	flt("ORS_RATE_RPS", &c.ORS.RatePerSec)
	num("ORS_RATE_BURST", &c.ORS.Burst)
	num("ORS_MAX_ATTEMPTS", &c.ORS.MaxAttempts)
	dur("ORS_TIMEOUT", &c.ORS.Timeout)

	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)

	if v, ok := lookup("WEBHOOK_URL"); ok && v != "" {
		secret, _ := lookup("WEBHOOK_SECRET")
		c.Webhooks.Targets = append(c.Webhooks.Targets, WebhookTarget{URL: v, Secret: secret})
	}
	num("WEBHOOK_MAX_ATTEMPTS", &c.Webhooks.MaxAttempts)

	return errors.Join(errs...)
}

// ParseCapacities parses a comma-separated capacity list such as
// "15,20,25,10".
func ParseCapacities(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid capacity %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("empty capacity list")
	}
	return out, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("port %q is not a number", c.Port))
	}
	if c.Matrix.BatchSize <= 0 {
		errs = append(errs, errors.New("matrix.batchSize must be > 0"))
	}
	if c.Matrix.Concurrency <= 0 {
		errs = append(errs, errors.New("matrix.concurrency must be > 0"))
	}
	if c.Optimizer.TimeLimit <= 0 {
		errs = append(errs, errors.New("optimizer.timeLimit must be > 0"))
	}
	if c.Optimizer.SpanCoefficient < 0 {
		errs = append(errs, errors.New("optimizer.spanCoefficient must be >= 0"))
	}
	if _, err := opt.StrategyByName(c.Optimizer.Strategy, opt.StrategyOptions{}); err != nil {
		errs = append(errs, err)
	}
	if len(c.Optimizer.Capacities) == 0 {
		errs = append(errs, errors.New("optimizer.capacities must not be empty"))
	}
	for i, cp := range c.Optimizer.Capacities {
		if cp <= 0 {
			errs = append(errs, fmt.Errorf("optimizer.capacities[%d] must be > 0", i))
		}
	}
	switch c.Auth.Mode {
	case "off", "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("auth.hmacSecret is required in hmac mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q must be off, dev or hmac", c.Auth.Mode))
	}
	if c.ORS.MaxAttempts < 0 {
		errs = append(errs, errors.New("ors.maxAttempts must be >= 0"))
	}
	if c.ORS.Timeout < 0 {
		errs = append(errs, errors.New("ors.timeout must be >= 0"))
	}
	for i, t := range c.Webhooks.Targets {
		if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
			errs = append(errs, fmt.Errorf("webhooks.targets[%d].url must be http(s)", i))
		}
	}
	return errors.Join(errs...)
}

// FleetCapacities returns capacities for n vehicles by cycling the
// configured defaults. n <= 0 returns the defaults unchanged.
func (o Optimizer) FleetCapacities(n int) []int {
	if n <= 0 {
		return append([]int(nil), o.Capacities...)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = o.Capacities[i%len(o.Capacities)]
	}
	return out
}
