package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
)

type Config struct {
	BaseDirectory    string
	DbType           string
	DbDir            string
	SchedulerType    string
	LedgerType       string
	LedgerAId        string
	LedgerBId        string
	PollInterval     int64
	CallTimeout      int64
	SafetyMargin     int64
	MaxWriteAttempts int
	NumWorkers       int
	LogLevel         int
}

var (
	Datadir          = "DATADIR"
	DbType           = "DB_TYPE"
	SchedulerType    = "SCHEDULER_TYPE"
	LedgerType       = "LEDGER_TYPE"
	LedgerAId        = "LEDGER_A"
	LedgerBId        = "LEDGER_B"
	PollInterval     = "POLL_INTERVAL"
	CallTimeout      = "CALL_TIMEOUT"
	SafetyMargin     = "SAFETY_MARGIN"
	MaxWriteAttempts = "MAX_WRITE_ATTEMPTS"
	NumWorkers       = "NUM_WORKERS"
	LogLevel         = "LOG_LEVEL"

	defaultDatadir          = btcutil.AppDataDir("swapd", false)
	defaultDbType           = "badger"
	defaultSchedulerType    = "gocron"
	defaultLedgerType       = "inmemory"
	defaultLedgerAId        = "ledger-a"
	defaultLedgerBId        = "ledger-b"
	defaultPollInterval     = 5
	defaultCallTimeout      = 10
	defaultSafetyMargin     = 30
	defaultMaxWriteAttempts = 3
	defaultNumWorkers       = 8
	defaultLogLevel         = 4
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("SWAPD")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(SchedulerType, defaultSchedulerType)
	viper.SetDefault(LedgerType, defaultLedgerType)
	viper.SetDefault(LedgerAId, defaultLedgerAId)
	viper.SetDefault(LedgerBId, defaultLedgerBId)
	viper.SetDefault(PollInterval, defaultPollInterval)
	viper.SetDefault(CallTimeout, defaultCallTimeout)
	viper.SetDefault(SafetyMargin, defaultSafetyMargin)
	viper.SetDefault(MaxWriteAttempts, defaultMaxWriteAttempts)
	viper.SetDefault(NumWorkers, defaultNumWorkers)
	viper.SetDefault(LogLevel, defaultLogLevel)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	cfg := &Config{
		BaseDirectory:    viper.GetString(Datadir),
		DbType:           viper.GetString(DbType),
		DbDir:            filepath.Join(viper.GetString(Datadir), "db"),
		SchedulerType:    viper.GetString(SchedulerType),
		LedgerType:       viper.GetString(LedgerType),
		LedgerAId:        viper.GetString(LedgerAId),
		LedgerBId:        viper.GetString(LedgerBId),
		PollInterval:     viper.GetInt64(PollInterval),
		CallTimeout:      viper.GetInt64(CallTimeout),
		SafetyMargin:     viper.GetInt64(SafetyMargin),
		MaxWriteAttempts: viper.GetInt(MaxWriteAttempts),
		NumWorkers:       viper.GetInt(NumWorkers),
		LogLevel:         viper.GetInt(LogLevel),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PollInterval < 1 {
		return fmt.Errorf("poll interval must be at least 1 second")
	}
	if c.CallTimeout < 1 {
		return fmt.Errorf("call timeout must be at least 1 second")
	}
	if c.SafetyMargin < 0 {
		return fmt.Errorf("safety margin must not be negative")
	}
	if c.MaxWriteAttempts < 1 {
		return fmt.Errorf("max write attempts must be at least 1")
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("number of workers must be at least 1")
	}
	if len(c.LedgerAId) <= 0 || len(c.LedgerBId) <= 0 {
		return fmt.Errorf("missing ledger id")
	}
	if strings.EqualFold(c.LedgerAId, c.LedgerBId) {
		return fmt.Errorf("ledger ids must differ")
	}
	return nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
