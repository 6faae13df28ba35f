package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/rickb777/date/period"
)

const (
	configFileENV     = "CONFIG_FILE"
	defaultConfigFile = "/config/libby.yaml"
)

type Config struct {
	// IdentityToken is the chip identity of a signed in account.
	IdentityToken  string        `koanf:"identity_token" json:"-"`
	MaxRetries     int           `koanf:"max_retries" default:"1" validate:"min=0"`
	Timeout        time.Duration `koanf:"timeout" default:"30s" validate:"gt=0"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" default:"50ms"`

	PreferOpenFormats      bool     `koanf:"prefer_open_formats" default:"true"`
	EPUBVersion            string   `koanf:"epub_version" default:"3.0" validate:"oneof=2.0 3.0"`
	LendingPeriod          string   `koanf:"lending_period" default:"P21D" validate:"iso8601_period"`
	TagEbooks              []string `koanf:"tag_ebooks"`
	TagMagazines           []string `koanf:"tag_magazines"`
	SkipExisting           bool     `koanf:"skip_existing"`
	PackageOverDriveEbooks bool     `koanf:"package_overdrive_ebooks"`
	OutputDir              string   `koanf:"output_dir" validate:"required"`

	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" validate:"required"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`

	WorkerProcesses int    `koanf:"worker_processes" default:"2" validate:"min=1"`
	LogLevel        string `koanf:"log_level" default:"info" validate:"oneof=debug info warn error"`

	Hostname string `koanf:"-"`
}

// listKeys are split on commas when given through the environment.
var listKeys = map[string]bool{
	"tag_ebooks":    true,
	"tag_magazines": true,
}

// New loads the defaults, then the YAML file named by CONFIG_FILE, then
// environment variables named after the upper snake case of each key.
func New() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv(configFileENV)
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(key)
		if value == "" {
			// an empty variable unsets the key
			return "", nil
		}
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	cfg.Hostname, _ = os.Hostname()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewForTest returns a valid configuration backed by an in-memory database.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.DatabaseConnectRetryCount = 1
	cfg.DatabaseConnectRetryDelay = 0
	cfg.OutputDir = os.TempDir()
	cfg.MaxRetries = 0
	cfg.RetryBaseDelay = time.Millisecond
	cfg.Hostname = "test"
	return cfg
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]; name != "" {
			return name
		}
		return toSnakeCase(f.Name)
	})
	_ = v.RegisterValidation("iso8601_period", func(fl validator.FieldLevel) bool {
		_, err := period.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate reports the first invalid option by both its environment
// variable and its YAML key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WithStack(err)
	}
	fe := verrs[0]
	key := fe.Field()
	if fe.Tag() == "required" {
		return errors.Errorf("missing required config: %s (%s)", envName(key), key)
	}
	return errors.Errorf("invalid config: %s (%s) failed %s validation", envName(key), key, fe.Tag())
}

// Period is the parsed lending period.
func (c *Config) Period() period.Period {
	p, err := period.Parse(c.LendingPeriod)
	if err != nil {
		return period.Period{}
	}
	return p
}

// Tags returns the tags applied to new library entries of a loan type.
func (c *Config) Tags(loanType string) []string {
	if loanType == "magazine" {
		return c.TagMagazines
	}
	return c.TagEbooks
}

func envName(key string) string {
	return strcase.ToScreamingSnake(key)
}

func toSnakeCase(field string) string {
	return strcase.ToSnake(field)
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
