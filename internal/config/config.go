package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/validation"
)

// ErrUnknownToken is returned when a token address has no configured symbol.
var ErrUnknownToken = errors.New("unknown token")

// Contract names used as keys of DomainConfig.Contracts.
const (
	ContractManager = "manager"
	ContractStaking = "staking"
)

const defaultRefreshInterval = 3600

type Config struct {
	Development bool
	// API configuration
	APIPort int
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	// Blockchain configuration
	BlockchainServiceURL string

	// Provider API configuration
	ProviderTimeout   time.Duration
	ProviderRateLimit float64

	// Operator chat mirror, disabled when the token is empty
	TelegramBotToken string
	TelegramChatID   string

	// ConfigFile is the optional YAML marketplace file
	ConfigFile string

	// Tokens maps a lowercase token address to its rate-table symbol
	Tokens   map[string]string `yaml:"tokens"`
	Notifier DomainConfig      `yaml:"notifier"`
	Storage  DomainConfig      `yaml:"storage"`
}

// DomainConfig configures one marketplace vertical.
type DomainConfig struct {
	Enabled bool `yaml:"enabled"`
	// RefreshInterval is the reconciliation period in seconds
	RefreshInterval int    `yaml:"refresh_interval"`
	StartBlock      uint64 `yaml:"start_block"`
	Confirmations   uint64 `yaml:"confirmations"`
	BatchSize       uint64 `yaml:"batch_size"`
	// Contracts maps a contract name (manager, staking) to its address
	Contracts map[string]string `yaml:"contracts"`
}

// Interval returns the refresh interval as a duration.
func (d DomainConfig) Interval() time.Duration {
	if d.RefreshInterval <= 0 {
		return defaultRefreshInterval * time.Second
	}
	return time.Duration(d.RefreshInterval) * time.Second
}

// LoadConfig loads the configuration from environment variables and the optional
// marketplace file named by CONFIG_FILE, then validates it.
func LoadConfig() (*Config, error) {
	cfg, err := Load("")
	if err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load builds the configuration without validating it, so that callers can apply
// overrides first. The marketplace file (file, or CONFIG_FILE when empty) is read
// before the environment, and NOTIFIER_*/STORAGE_* variables win over it.
func Load(file string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:          getEnvAsBool("DEVELOPMENT", false),
		PostgresUser:         getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword:     getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:         getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:         getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:           getEnv("POSTGRES_DB", "speculum"),
		BlockchainServiceURL: getEnv("BLOCKCHAIN_SERVICE_URL", "ws://localhost:8546"),
		ProviderTimeout:      time.Duration(getEnvAsInt("PROVIDER_API_TIMEOUT", 30)) * time.Second,
		ProviderRateLimit:    getEnvAsFloat("PROVIDER_API_RATE_LIMIT", 5),
		TelegramBotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:       getEnv("TELEGRAM_CHAT_ID", ""),
		ConfigFile:           getEnv("CONFIG_FILE", ""),

		APIPort: getEnvAsInt("API_PORT", 6532),
	}

	if file != "" {
		cfg.ConfigFile = file
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	cfg.loadDomainEnv("NOTIFIER", &cfg.Notifier)
	cfg.loadDomainEnv("STORAGE", &cfg.Storage)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads the YAML marketplace file into c.
func (c *Config) LoadFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.normalize()
	return nil
}

func (c *Config) loadDomainEnv(prefix string, d *DomainConfig) {
	d.Enabled = getEnvAsBool(prefix+"_ENABLED", d.Enabled)
	d.RefreshInterval = getEnvAsInt(prefix+"_REFRESH_INTERVAL", d.RefreshInterval)
	d.StartBlock = uint64(getEnvAsInt(prefix+"_START_BLOCK", int(d.StartBlock)))
	d.Confirmations = uint64(getEnvAsInt(prefix+"_CONFIRMATIONS", int(d.Confirmations)))
	d.BatchSize = uint64(getEnvAsInt(prefix+"_BATCH_SIZE", int(d.BatchSize)))
	if d.Contracts == nil {
		d.Contracts = map[string]string{}
	}
	for _, name := range []string{ContractManager, ContractStaking} {
		if addr := getEnv(prefix+"_"+strings.ToUpper(name)+"_ADDRESS", ""); addr != "" {
			d.Contracts[name] = addr
		}
	}
}

func (c *Config) normalize() {
	tokens := make(map[string]string, len(c.Tokens))
	for addr, symbol := range c.Tokens {
		tokens[validation.NormalizeAddress(addr)] = symbol
	}
	c.Tokens = tokens
	for _, d := range []*DomainConfig{&c.Notifier, &c.Storage} {
		if d.RefreshInterval <= 0 {
			d.RefreshInterval = defaultRefreshInterval
		}
		if d.BatchSize == 0 {
			d.BatchSize = 5000
		}
		for name, addr := range d.Contracts {
			d.Contracts[name] = validation.NormalizeAddress(addr)
		}
	}
}

// Domain returns the configuration of one marketplace vertical.
func (c *Config) Domain(domain models.Domain) (DomainConfig, error) {
	switch domain {
	case models.DomainNotifier:
		return c.Notifier, nil
	case models.DomainStorage:
		return c.Storage, nil
	}
	return DomainConfig{}, fmt.Errorf("unknown domain %q", domain)
}

// TokenSymbol resolves a token address to its rate-table symbol.
func (c *Config) TokenSymbol(address string) (string, error) {
	symbol, ok := c.Tokens[validation.NormalizeAddress(address)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, address)
	}
	return symbol, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.BlockchainServiceURL == "" {
		return fmt.Errorf("BLOCKCHAIN_SERVICE_URL is required")
	}

	if c.PostgresDB == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_API_TIMEOUT must be positive")
	}

	for addr := range c.Tokens {
		if err := validation.ValidateAddress(addr); err != nil {
			return fmt.Errorf("invalid token address %q: %w", addr, err)
		}
	}

	for _, domain := range []models.Domain{models.DomainNotifier, models.DomainStorage} {
		d, _ := c.Domain(domain)
		if !d.Enabled {
			continue
		}
		if _, ok := d.Contracts[ContractManager]; !ok {
			return fmt.Errorf("%s: manager contract address is required", domain)
		}
		for name, addr := range d.Contracts {
			if err := validation.ValidateAddress(addr); err != nil {
				return fmt.Errorf("%s: invalid %s contract address: %w", domain, name, err)
			}
		}
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
