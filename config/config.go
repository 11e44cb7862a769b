package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr                string        `validate:"required,hostname_port"`
	ModelDir            string        `validate:"required"`
	PoolSize            int           `validate:"min=1,max=32"`
	PoolAcquireTimeout  time.Duration `validate:"gt=0"`
	ConfidenceThreshold float64       `validate:"gt=0,lt=1"`
	OverlayMode         string        `validate:"oneof=per-face first-box"`
	MaxUploadBytes      int64         `validate:"min=1024"`
	RateLimitRPS        float64       `validate:"gt=0"`
	RateLimitBurst      int           `validate:"min=1"`
	ReadTimeout         time.Duration `validate:"gt=0"`
	WriteTimeout        time.Duration `validate:"gt=0"`
	OutputFormat        string        `validate:"oneof=png jpeg"`
	LogLevel            string        `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	AppEnv              string
}

// Default returns the configuration used when no variables are set. ModelDir
// is left empty for the caller to fill with the executable's directory.
func Default() Config {
	return Config{
		Addr:                "127.0.0.1:8080",
		PoolSize:            2,
		PoolAcquireTimeout:  5 * time.Second,
		ConfidenceThreshold: 0.7,
		OverlayMode:         "per-face",
		MaxUploadBytes:      10 << 20,
		RateLimitRPS:        5,
		RateLimitBurst:      10,
		ReadTimeout:         60 * time.Second,
		WriteTimeout:        60 * time.Second,
		OutputFormat:        "png",
	}
}

func NewValidator() *validator.Validate {
	return validator.New()
}

// Load reads an optional .env file and the process environment on top of
// Default. defaultModelDir is used when MODEL_DIR is unset.
func Load(defaultModelDir string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv, defaultModelDir)
}

// FromEnv builds a Config from lookup without validating it.
func FromEnv(lookup func(string) (string, bool), defaultModelDir string) (Config, error) {
	cfg := Default()
	cfg.ModelDir = defaultModelDir

	p := parser{lookup: lookup}
	p.str("APP_ADDR", &cfg.Addr)
	p.str("MODEL_DIR", &cfg.ModelDir)
	p.integer("POOL_SIZE", &cfg.PoolSize)
	p.duration("POOL_ACQUIRE_TIMEOUT", &cfg.PoolAcquireTimeout)
	p.float("CONFIDENCE_THRESHOLD", &cfg.ConfidenceThreshold)
	p.str("OVERLAY_MODE", &cfg.OverlayMode)
	p.int64("MAX_UPLOAD_BYTES", &cfg.MaxUploadBytes)
	p.float("RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	p.integer("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	p.duration("READ_TIMEOUT", &cfg.ReadTimeout)
	p.duration("WRITE_TIMEOUT", &cfg.WriteTimeout)
	p.str("OUTPUT_FORMAT", &cfg.OutputFormat)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("APP_ENV", &cfg.AppEnv)

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate(v *validator.Validate) error {
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// parser keeps the first conversion error and skips unset or empty keys.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) value(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	return v, ok && v != ""
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("%s=%q: %w", key, v, err)
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.value(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.value(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) int64(key string, dst *int64) {
	if v, ok := p.value(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.value(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.value(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}
