// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/oracle"
	"puzzlebounty/internal/rail/btc"
	"puzzlebounty/internal/service"
	"puzzlebounty/pkg/db" // Import db package for its Config struct
)

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	ServerPort  string
	StoreDriver string // "postgres" or "memory"
	AutoMigrate bool
	DB          db.Config
	JWTSecret   string
	Oracle      oracle.Config
	Card        CardConfig
	BTC         BTCConfig
	SOL         SOLConfig
	Settings    service.Settings
}

// CardConfig holds the card processor credentials. The rail is enabled when
// SecretKey is set; LoadConfig refuses a key without a webhook secret.
type CardConfig struct {
	SecretKey     string
	WebhookSecret string
}

func (c CardConfig) Enabled() bool { return c.SecretKey != "" }

// BTCConfig holds the UTXO-chain rail settings. The rail is enabled when both
// the Esplora URL and the platform key are set.
type BTCConfig struct {
	EsploraURL string
	Chain      btc.Config
}

func (c BTCConfig) Enabled() bool { return c.EsploraURL != "" && c.Chain.PlatformWIF != "" }

// SOLConfig holds the account-chain rail settings.
type SOLConfig struct {
	RPCURL      string
	PlatformKey string
}

func (c SOLConfig) Enabled() bool { return c.RPCURL != "" && c.PlatformKey != "" }

var railPrefixes = map[domain.RailType]string{
	domain.RailCard:         "CARD",
	domain.RailUTXOChain:    "BTC",
	domain.RailAccountChain: "SOL",
}

// LoadConfig loads configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func LoadConfig() (*AppConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	storeDriver := strings.ToLower(v.GetString("STORE_DRIVER"))
	if storeDriver != "postgres" && storeDriver != "memory" {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: want postgres or memory", storeDriver)
	}
	dbDriver := strings.ToLower(v.GetString("DB_DRIVER"))
	if dbDriver != "postgres" && dbDriver != "pgx" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want postgres or pgx", dbDriver)
	}
	jwtSecret := v.GetString("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	if v.GetString("STRIPE_SECRET_KEY") != "" && v.GetString("STRIPE_WEBHOOK_SECRET") == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	settings, err := loadSettings(v)
	if err != nil {
		return nil, err
	}

	return &AppConfig{
		ServerPort:  v.GetString("SERVER_PORT"),
		StoreDriver: storeDriver,
		AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
		DB: db.Config{
			Driver:   dbDriver,
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		JWTSecret: jwtSecret,
		Oracle: oracle.Config{
			BaseURL:  v.GetString("ORACLE_BASE_URL"),
			CacheTTL: v.GetDuration("ORACLE_CACHE_TTL"),
			Timeout:  v.GetDuration("ORACLE_TIMEOUT"),
		},
		Card: CardConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		},
		BTC: BTCConfig{
			EsploraURL: v.GetString("BTC_ESPLORA_URL"),
			Chain: btc.Config{
				Network:          v.GetString("BTC_NETWORK"),
				PlatformWIF:      v.GetString("BTC_PLATFORM_WIF"),
				MinConfirmations: v.GetInt64("BTC_MIN_CONFIRMATIONS"),
			},
		},
		SOL: SOLConfig{
			RPCURL:      v.GetString("SOL_RPC_URL"),
			PlatformKey: v.GetString("SOL_PLATFORM_KEY"),
		},
		Settings: settings,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "puzzlebounty")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("ORACLE_BASE_URL", "https://api.coingecko.com/api/v3")
	v.SetDefault("ORACLE_CACHE_TTL", 5*time.Minute)
	v.SetDefault("ORACLE_TIMEOUT", 10*time.Second)
	v.SetDefault("BTC_NETWORK", "testnet3")
	v.SetDefault("BTC_MIN_CONFIRMATIONS", 1)

	defaults := service.DefaultSettings()
	v.SetDefault("RAIL_TIMEOUT", defaults.RailTimeout)
	v.SetDefault("SWEEP_INTERVAL", defaults.SweepInterval)
	v.SetDefault("SWEEP_LOOKBACK", defaults.SweepLookback)
	v.SetDefault("PUZZLE_FEE_PERCENT", defaults.PuzzleFeePercent.String())
	v.SetDefault("PUZZLE_MIN", defaults.PuzzleMin.String())
	v.SetDefault("PUZZLE_MAX", defaults.PuzzleMax.String())
	v.SetDefault("ANSWER_HASH_COST", defaults.AnswerHashCost)
	for r, prefix := range railPrefixes {
		p := defaults.Policies[r]
		v.SetDefault(prefix+"_DEPOSIT_MIN", p.DepositMin.String())
		v.SetDefault(prefix+"_DEPOSIT_MAX", p.DepositMax.String())
		v.SetDefault(prefix+"_WITHDRAW_MIN", p.WithdrawMin.String())
		v.SetDefault(prefix+"_WITHDRAW_MAX", p.WithdrawMax.String())
		v.SetDefault(prefix+"_WITHDRAW_FEE", p.WithdrawFee.String())
		v.SetDefault(prefix+"_TOLERANCE_PERCENT", p.TolerancePercent.String())
		v.SetDefault(prefix+"_DEPOSIT_TTL", p.DepositTTL)
	}
}

func loadSettings(v *viper.Viper) (service.Settings, error) {
	var errs []error
	dec := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			return decimal.Zero
		}
		if d.IsNegative() {
			errs = append(errs, fmt.Errorf("invalid %s: must not be negative", key))
		}
		return d
	}

	s := service.Settings{
		Policies:         make(map[domain.RailType]service.RailPolicy, len(railPrefixes)),
		RailTimeout:      v.GetDuration("RAIL_TIMEOUT"),
		PuzzleFeePercent: dec("PUZZLE_FEE_PERCENT"),
		PuzzleMin:        dec("PUZZLE_MIN"),
		PuzzleMax:        dec("PUZZLE_MAX"),
		AnswerHashCost:   v.GetInt("ANSWER_HASH_COST"),
		SweepInterval:    v.GetDuration("SWEEP_INTERVAL"),
		SweepLookback:    v.GetDuration("SWEEP_LOOKBACK"),
	}
	for r, prefix := range railPrefixes {
		p := service.RailPolicy{
			DepositMin:       dec(prefix + "_DEPOSIT_MIN"),
			DepositMax:       dec(prefix + "_DEPOSIT_MAX"),
			WithdrawMin:      dec(prefix + "_WITHDRAW_MIN"),
			WithdrawMax:      dec(prefix + "_WITHDRAW_MAX"),
			WithdrawFee:      dec(prefix + "_WITHDRAW_FEE"),
			TolerancePercent: dec(prefix + "_TOLERANCE_PERCENT"),
			DepositTTL:       v.GetDuration(prefix + "_DEPOSIT_TTL"),
		}
		if p.DepositMin.GreaterThan(p.DepositMax) || p.WithdrawMin.GreaterThan(p.WithdrawMax) {
			errs = append(errs, fmt.Errorf("invalid %s limits: min exceeds max", prefix))
		}
		s.Policies[r] = p
	}
	if s.RailTimeout <= 0 || s.SweepInterval <= 0 {
		errs = append(errs, errors.New("RAIL_TIMEOUT and SWEEP_INTERVAL must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return service.Settings{}, err
	}
	return s, nil
}
