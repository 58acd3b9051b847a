package config

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adamlounds/nightscout-tdd/models"
	"github.com/thanos-io/objstore/providers/s3"
	"gopkg.in/yaml.v2"
)

var ErrMissingURL = errors.New("config: NS_URL must be set")
var ErrMissingCredentials = errors.New("config: NS_SECRET or NS_TOKEN must be set")

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

const (
	defaultWindowDays = 14
	defaultFetchCount = 10000
	defaultAddress    = ":8080"
)

// ReportConfig is the root config for a TDD report run or server
type ReportConfig struct {
	Nightscout struct {
		URL       *url.URL
		APISecret string
		Token     string
	}
	TimezoneName   string
	Location       *time.Location
	WindowDays     int
	FetchCount     int
	GridStep       time.Duration
	UseProfiles    bool
	ClassifierFile string
	Classifier     models.Classifier
	OutputDir      string

	S3Config    s3.Config
	HasS3Config bool
	Postgres    PostgresConfig

	// inbound auth for server mode
	APISecretHash string
	DefaultRole   string
	AuthTokens    map[string][]string // token -> role names
	Server        struct {
		Address string
	}
	LogLevel slog.Level
}

// RegisterEnv registers config from the environment
func (c *ReportConfig) RegisterEnv() error {
	rawURL := strings.TrimSpace(os.Getenv("NS_URL"))
	if rawURL == "" {
		return ErrMissingURL
	}
	nsURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("cannot parse NS_URL: %w", err)
	}
	if nsURL.Scheme != "http" && nsURL.Scheme != "https" {
		return fmt.Errorf("NS_URL must be http/https, got %q", nsURL.Scheme)
	}
	if nsURL.Host == "" {
		return fmt.Errorf("NS_URL must include a hostname")
	}
	c.Nightscout.URL = nsURL
	c.Nightscout.APISecret = os.Getenv("NS_SECRET")
	c.Nightscout.Token = os.Getenv("NS_TOKEN")
	if c.Nightscout.APISecret == "" && c.Nightscout.Token == "" {
		return ErrMissingCredentials
	}

	c.TimezoneName = os.Getenv("TDD_TIMEZONE")
	if c.TimezoneName == "" {
		c.TimezoneName = "UTC"
	}
	c.Location, err = time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("cannot load TDD_TIMEZONE: %w", err)
	}

	if c.WindowDays, err = envInt("TDD_DAYS", defaultWindowDays); err != nil {
		return err
	}
	if c.WindowDays < 0 {
		return fmt.Errorf("TDD_DAYS must not be negative, got %d", c.WindowDays)
	}
	if c.FetchCount, err = envInt("TDD_FETCH_COUNT", defaultFetchCount); err != nil {
		return err
	}
	if c.FetchCount <= 0 {
		return fmt.Errorf("TDD_FETCH_COUNT must be positive, got %d", c.FetchCount)
	}
	if c.GridStep, err = envDuration("TDD_GRID_STEP", models.DefaultGridStep); err != nil {
		return err
	}
	if c.GridStep <= 0 || c.GridStep > time.Hour {
		return fmt.Errorf("TDD_GRID_STEP must be between 0 and 1h, got %s", c.GridStep)
	}
	if c.UseProfiles, err = envBool("TDD_USE_PROFILES", false); err != nil {
		return err
	}

	c.ClassifierFile = os.Getenv("TDD_CLASSIFIER_FILE")
	c.Classifier = models.DefaultClassifier()
	if c.ClassifierFile != "" {
		c.Classifier, err = LoadClassifier(c.ClassifierFile)
		if err != nil {
			return err
		}
	}

	c.OutputDir = os.Getenv("TDD_OUTPUT_DIR")
	if c.OutputDir == "" {
		c.OutputDir = "."
	}

	// nb "yaml is a superset of json", so we can load json from env while
	// using the standard Thanos yaml code
	if raw := os.Getenv("S3_CONFIG"); raw != "" {
		var s3Config s3.Config
		err = yaml.Unmarshal([]byte(raw), &s3Config)
		if err != nil {
			return fmt.Errorf("cannot parse S3 config: %w", err)
		}
		c.S3Config = s3Config
		c.HasS3Config = true
	}

	c.Postgres = PostgresConfigFromEnv()

	// inbound authn may be performed using a sha1 of API_SECRET, which
	// defaults to the nightscout secret
	apiSecret := os.Getenv("API_SECRET")
	if apiSecret == "" {
		apiSecret = c.Nightscout.APISecret
	}
	c.APISecretHash = ""
	if apiSecret != "" {
		c.APISecretHash = SecretHash(apiSecret)
	}
	c.DefaultRole = os.Getenv("DEFAULT_ROLE")
	if c.DefaultRole == "" {
		c.DefaultRole = "readable"
	}
	c.AuthTokens = nil
	if raw := os.Getenv("AUTH_TOKENS"); raw != "" {
		err = yaml.Unmarshal([]byte(raw), &c.AuthTokens)
		if err != nil {
			return fmt.Errorf("cannot parse AUTH_TOKENS: %w", err)
		}
	}

	c.Server.Address = os.Getenv("SERVER_ADDRESS")
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}

	logLevel, ok := logLevels[strings.ToLower(os.Getenv("LOG_LEVEL"))]
	if !ok {
		logLevel = slog.LevelInfo
	}
	c.LogLevel = logLevel

	return nil
}

// SecretHash is the sha1 hex digest nightscout expects in api-secret headers.
func SecretHash(secret string) string {
	hasher := sha1.New()
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %s: %w", name, err)
	}
	return v, nil
}

func envBool(name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("cannot parse %s: %w", name, err)
	}
	return v, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %s: %w", name, err)
	}
	return v, nil
}
