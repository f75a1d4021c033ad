package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wdullaer/cf-ddns/publicip"
	"github.com/wdullaer/cf-ddns/stringslice"
	"gopkg.in/yaml.v3"
)

type config struct {
	Provider       string `json:"provider" yaml:"provider"`
	APIToken       string `json:"api-token" yaml:"api-token"`
	APITokenName   string `json:"api-token-name" yaml:"api-token-name"`
	Store          string `json:"store" yaml:"store"`
	DataDir        string `json:"data-dir" yaml:"data-dir"`
	DatabaseURL    string `json:"database-url" yaml:"database-url"`
	UpdateInterval string `json:"update-interval" yaml:"update-interval"`
	IPMirrors      string `json:"ip-mirrors" yaml:"ip-mirrors"`
	IPTimeout      string `json:"ip-timeout" yaml:"ip-timeout"`
	ListenAddress  string `json:"listen-address" yaml:"listen-address"`
	ControlToken   string `json:"control-token" yaml:"control-token"`
	DebugLogger    bool   `json:"debug-logger" yaml:"debug-logger"`

	// Parsed by Validate
	interval  time.Duration
	timeout   time.Duration
	mirrors   []string
	listenSet bool
}

func (c *config) String() string {
	return fmt.Sprintf(
		"{\"provider\": \"%s\", \"api-token\": \"%s\", \"api-token-name\": \"%s\", \"store\": \"%s\", \"data-dir\": \"%s\", \"database-url\": \"%s\", \"update-interval\": \"%s\", \"ip-mirrors\": \"%s\", \"ip-timeout\": \"%s\", \"listen-address\": \"%s\", \"control-token\": \"%s\", \"debug-logger\": \"%t\"}",
		c.Provider,
		mask(c.APIToken),
		c.APITokenName,
		c.Store,
		c.DataDir,
		maskDatabaseURL(c.DatabaseURL),
		c.UpdateInterval,
		c.IPMirrors,
		c.IPTimeout,
		c.ListenAddress,
		mask(c.ControlToken),
		c.DebugLogger,
	)
}

// Validate checks each Property of config and provides default values
func (c *config) Validate() []error {
	var errs []error
	if value, err := validateProvider(c.Provider); err != nil {
		errs = append(errs, err)
	} else {
		c.Provider = value
	}
	if value, err := validateAPITokenName(c.APITokenName); err != nil {
		errs = append(errs, err)
	} else {
		c.APITokenName = value
	}
	if value, err := validateStore(c.Store); err != nil {
		errs = append(errs, err)
	} else {
		c.Store = value
	}
	if value, err := validateDataDir(c.DataDir); err != nil {
		errs = append(errs, err)
	} else {
		c.DataDir = value
	}
	if value, err := validateDatabaseURL(c.DatabaseURL, c.Store); err != nil {
		errs = append(errs, err)
	} else {
		c.DatabaseURL = value
	}
	if value, err := validateUpdateInterval(c.UpdateInterval); err != nil {
		errs = append(errs, err)
	} else {
		c.interval = value
		c.UpdateInterval = strconv.Itoa(int(value / time.Minute))
	}
	if value, err := validateIPMirrors(c.IPMirrors); err != nil {
		errs = append(errs, err)
	} else {
		c.mirrors = value
		c.IPMirrors = strings.Join(value, ",")
	}
	if value, err := validateIPTimeout(c.IPTimeout); err != nil {
		errs = append(errs, err)
	} else {
		c.timeout = value
		c.IPTimeout = value.String()
	}
	if value, err := validateListenAddress(c.ListenAddress, c.listenSet); err != nil {
		errs = append(errs, err)
	} else {
		c.ListenAddress = value
	}
	return errs
}

// validateProvider normalizes Provider and checks that it is part of the list of allowable values
func validateProvider(provider string) (string, error) {
	switch sanitize(provider) {
	case "":
		return "cloudflare", nil
	case "cloudflare":
		return "cloudflare", nil
	case "dryrun":
		return "dryrun", nil
	default:
		return "", fmt.Errorf("Invalid provider `%s` specified. Available providers: [`cloudflare`, `dryrun`]", provider)
	}
}

// validateAPITokenName sets a default, any string is valid
func validateAPITokenName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "default", nil
	}
	return name, nil
}

func validateStore(store string) (string, error) {
	switch sanitize(store) {
	case "memory":
		return "memory", nil
	case "boltdb":
		return "boltdb", nil
	case "postgres":
		return "postgres", nil
	case "":
		return "memory", nil
	default:
		return "", fmt.Errorf("Invalid store `%s` provided. Available store implementations: [`memory`, `boltdb`, `postgres`]", store)
	}
}

// validateDataDir sets a default, any path is valid
func validateDataDir(dataDir string) (string, error) {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		return "./data", nil
	}
	return dataDir, nil
}

// validateDatabaseURL requires a postgres URL when the postgres store is selected
func validateDatabaseURL(databaseURL string, store string) (string, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if store != "postgres" {
		return databaseURL, nil
	}
	if databaseURL == "" {
		return "", errors.New("A database-url is required when using the `postgres` store")
	}
	parsed, err := url.Parse(databaseURL)
	if err != nil || (parsed.Scheme != "postgres" && parsed.Scheme != "postgresql") {
		return "", fmt.Errorf("Invalid database-url specified. `%s` must be a `postgres://` URL", maskDatabaseURL(databaseURL))
	}
	return databaseURL, nil
}

// validateUpdateInterval parses the interval in whole minutes
func validateUpdateInterval(interval string) (time.Duration, error) {
	interval = sanitize(interval)
	if interval == "" {
		return 5 * time.Minute, nil
	}
	minutes, err := strconv.Atoi(interval)
	if err != nil || minutes < 1 {
		return 0, fmt.Errorf("Invalid update-interval specified. `%s` must be a whole number of minutes >= 1", interval)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// validateIPMirrors splits the comma separated list and checks every entry is an http(s) URL
func validateIPMirrors(mirrors string) ([]string, error) {
	values := stringslice.SplitList(mirrors, ",")
	if len(values) == 0 {
		return append([]string(nil), publicip.DefaultMirrors...), nil
	}
	for _, value := range values {
		parsed, err := url.Parse(value)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("Invalid ip-mirrors specified. `%s` must be an http(s) URL", value)
		}
	}
	return values, nil
}

func validateIPTimeout(timeout string) (time.Duration, error) {
	timeout = sanitize(timeout)
	if timeout == "" {
		return publicip.DefaultTimeout, nil
	}
	value, err := time.ParseDuration(timeout)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("Invalid ip-timeout specified. `%s` must be a positive duration such as `10s`", timeout)
	}
	return value, nil
}

// validateListenAddress defaults to :8080. An address explicitly set to empty disables the API.
func validateListenAddress(address string, explicit bool) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		if explicit {
			return "", nil
		}
		return ":8080", nil
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", fmt.Errorf("Invalid listen-address specified. `%s` must be of the form `host:port`", address)
	}
	return address, nil
}

// loadConfigFile fills the fields that are still unset with the values of a YAML file
func loadConfigFile(path string, c *config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var file config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	fill := func(target *string, value string) {
		if *target == "" {
			*target = value
		}
	}
	fill(&c.Provider, file.Provider)
	fill(&c.APIToken, file.APIToken)
	fill(&c.APITokenName, file.APITokenName)
	fill(&c.Store, file.Store)
	fill(&c.DataDir, file.DataDir)
	fill(&c.DatabaseURL, file.DatabaseURL)
	fill(&c.UpdateInterval, file.UpdateInterval)
	fill(&c.IPMirrors, file.IPMirrors)
	fill(&c.IPTimeout, file.IPTimeout)
	fill(&c.ControlToken, file.ControlToken)
	if !c.listenSet && file.ListenAddress != "" {
		c.ListenAddress = file.ListenAddress
	}
	c.DebugLogger = c.DebugLogger || file.DebugLogger
	return nil
}

func sanitize(value string) string {
	return strings.Trim(strings.ToLower(value), " \t")
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func maskDatabaseURL(databaseURL string) string {
	parsed, err := url.Parse(databaseURL)
	if err != nil || parsed.User == nil {
		return databaseURL
	}
	if _, ok := parsed.User.Password(); ok {
		parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
	}
	return parsed.String()
}
