package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stablevault/core/types"
)

// ErrDSNRequired is returned when no index location is configured.
var ErrDSNRequired = errors.New("account index: dsn must be configured")

// accountAttributes are the event attributes that name a participant. Asset
// addresses are never indexed.
var accountAttributes = []string{"user", "from", "to", "on_behalf_of", "payer", "liquidator"}

// Account is a participant that appeared in at least one committed event.
// Events counts committed calls that named the account, not single events.
type Account struct {
	Address   string    `gorm:"primaryKey;size:96" json:"address"`
	LastEvent string    `gorm:"size:64;index" json:"lastEvent"`
	Events    uint64    `gorm:"not null;default:0" json:"events"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `gorm:"index" json:"lastSeen"`
}

// Index tracks the accounts that ever touched the engine so that read
// endpoints can enumerate positions without scanning state.
type Index struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to Postgres for postgres:// URLs and to SQLite otherwise,
// then migrates the schema.
func Open(dsn string) (*Index, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	if isPostgres(trimmed) {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open account index: %w", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("migrate account index: %w", err)
	}
	return &Index{db: db, now: time.Now}, nil
}

func isPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

// Close releases the underlying connection pool.
func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Publish records every participant named by the committed events. It
// implements cdp.EventSink.
func (i *Index) Publish(ctx context.Context, events []*types.Event) error {
	if i == nil || i.db == nil {
		return fmt.Errorf("account index not configured")
	}
	seen := make(map[string]string)
	for _, evt := range events {
		if evt == nil {
			continue
		}
		for _, key := range accountAttributes {
			if addr := strings.TrimSpace(evt.Attributes[key]); addr != "" {
				seen[addr] = evt.Type
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	addresses := make([]string, 0, len(seen))
	for addr := range seen {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	now := i.now().UTC()
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, addr := range addresses {
			var existing Account
			err := tx.Where("address = ?", addr).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				account := Account{Address: addr, LastEvent: seen[addr], Events: 1, FirstSeen: now, LastSeen: now}
				if err := tx.Create(&account).Error; err != nil {
					return fmt.Errorf("insert account %s: %w", addr, err)
				}
			case err != nil:
				return fmt.Errorf("load account %s: %w", addr, err)
			default:
				updates := map[string]any{
					"last_event": seen[addr],
					"last_seen":  now,
					"events":     gorm.Expr("events + ?", 1),
				}
				if err := tx.Model(&Account{}).Where("address = ?", addr).Updates(updates).Error; err != nil {
					return fmt.Errorf("update account %s: %w", addr, err)
				}
			}
		}
		return nil
	})
}

// Accounts lists indexed accounts, most recently active first. A limit of
// zero returns every account.
func (i *Index) Accounts(ctx context.Context, limit int) ([]Account, error) {
	if i == nil || i.db == nil {
		return nil, fmt.Errorf("account index not configured")
	}
	query := i.db.WithContext(ctx).Order("last_seen DESC").Order("address ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var accounts []Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Account returns a single indexed account.
func (i *Index) Account(ctx context.Context, address string) (Account, error) {
	var account Account
	if i == nil || i.db == nil {
		return account, fmt.Errorf("account index not configured")
	}
	err := i.db.WithContext(ctx).Where("address = ?", strings.TrimSpace(address)).First(&account).Error
	return account, err
}
