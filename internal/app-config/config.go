package appconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/crosslock/swapd/internal/core/application"
	"github.com/crosslock/swapd/internal/core/ports"
	"github.com/crosslock/swapd/internal/infrastructure/db"
	inmemoryledger "github.com/crosslock/swapd/internal/infrastructure/ledger/inmemory"
	scheduler "github.com/crosslock/swapd/internal/infrastructure/scheduler/gocron"
	log "github.com/sirupsen/logrus"
)

var (
	supportedDbs = supportedType{
		"badger": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
	supportedLedgers = supportedType{
		"inmemory": {},
	}
)

type Config struct {
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

	repo      ports.RepoManager
	svc       application.Service
	scheduler ports.SchedulerService
	ledgers   []ports.LedgerAdapter
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf("scheduler type not supported, please select one of: %s", supportedSchedulers)
	}
	if !supportedLedgers.supports(c.LedgerType) {
		return fmt.Errorf("ledger type not supported, please select one of: %s", supportedLedgers)
	}
	if c.PollInterval < 1 {
		return fmt.Errorf("invalid poll interval, must be at least 1 second")
	}
	if len(c.LedgerAId) <= 0 || len(c.LedgerBId) <= 0 || c.LedgerAId == c.LedgerBId {
		return fmt.Errorf("two distinct ledger ids are required")
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.ledgerServices(); err != nil {
		return err
	}
	if err := c.appService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() application.Service {
	return c.svc
}

func (c *Config) repoManager() error {
	var svc ports.RepoManager
	var err error
	switch c.DbType {
	case "badger":
		logger := log.New()
		svc, err = db.NewService(db.ServiceConfig{
			EventStoreType: c.DbType,
			SwapStoreType:  c.DbType,

			EventStoreConfig: []interface{}{c.DbDir, logger},
			SwapStoreConfig:  []interface{}{c.DbDir, logger},
		})
	default:
		return fmt.Errorf("unknown db type")
	}
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) schedulerService() error {
	switch c.SchedulerType {
	case "gocron":
		c.scheduler = scheduler.NewScheduler()
		return nil
	default:
		return fmt.Errorf("unknown scheduler type")
	}
}

func (c *Config) ledgerServices() error {
	switch c.LedgerType {
	case "inmemory":
		c.ledgers = []ports.LedgerAdapter{
			inmemoryledger.NewLedgerService(c.LedgerAId),
			inmemoryledger.NewLedgerService(c.LedgerBId),
		}
		return nil
	default:
		return fmt.Errorf("unknown ledger type")
	}
}

func (c *Config) appService() error {
	svc, err := application.NewService(
		c.PollInterval,
		time.Duration(c.CallTimeout)*time.Second,
		c.SafetyMargin,
		c.MaxWriteAttempts,
		c.NumWorkers,
		c.ledgers,
		c.repo,
		c.scheduler,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
