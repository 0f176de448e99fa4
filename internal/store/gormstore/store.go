package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"arena/internal/store"
	"arena/internal/store/model"
)

// GormStore implements store.Store using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB

	accounts  *accountRepo
	positions *positionRepo
	trades    *tradeRepo
	decisions *decisionLogRepo
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore opens (or creates) the database at path and migrates the schema.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.Account{},
		&model.Position{},
		&model.Trade{},
		&model.DecisionLog{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	s := &GormStore{db: db}
	s.accounts = &accountRepo{db: db}
	s.positions = &positionRepo{db: db}
	s.trades = &tradeRepo{db: db}
	s.decisions = &decisionLogRepo{db: db}
	return s, nil
}

func (s *GormStore) Accounts() store.AccountRepository         { return s.accounts }
func (s *GormStore) Positions() store.PositionRepository       { return s.positions }
func (s *GormStore) Trades() store.TradeRepository             { return s.trades }
func (s *GormStore) DecisionLogs() store.DecisionLogRepository { return s.decisions }

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type accountRepo struct {
	db *gorm.DB
}

func (r *accountRepo) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) GetByModelID(ctx context.Context, modelID string) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).First(&account, "model_id = ?", modelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) List(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).Order("created_at asc").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepo) ListByStatus(ctx context.Context, status model.AccountStatus) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at asc").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepo) UpdateBalance(ctx context.Context, id string, balance float64) error {
	return r.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Update("current_balance", balance).Error
}

func (r *accountRepo) UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error {
	return r.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *accountRepo) Save(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

type positionRepo struct {
	db *gorm.DB
}

func (r *positionRepo) Create(ctx context.Context, position *model.Position) error {
	return r.db.WithContext(ctx).Create(position).Error
}

func (r *positionRepo) ListByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("opened_at asc").Find(&positions).Error
	return positions, err
}

func (r *positionRepo) ListAll(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).Order("opened_at asc").Find(&positions).Error
	return positions, err
}

func (r *positionRepo) FindOpen(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	var position model.Position
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (r *positionRepo) Update(ctx context.Context, position *model.Position) error {
	return r.db.WithContext(ctx).Save(position).Error
}

func (r *positionRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.Position{}, id).Error
}

type tradeRepo struct {
	db *gorm.DB
}

func (r *tradeRepo) Create(ctx context.Context, trade *model.Trade) error {
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *tradeRepo) FindLatestOpen(ctx context.Context, accountID, symbol string) (*model.Trade, error) {
	var trade model.Trade
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND status = ?", accountID, symbol, model.TradeOpen).
		Order("opened_at desc").
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepo) Update(ctx context.Context, trade *model.Trade) error {
	return r.db.WithContext(ctx).Save(trade).Error
}

func (r *tradeRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	var trades []model.Trade
	q := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("opened_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&trades).Error
	return trades, err
}

func (r *tradeRepo) ListRecent(ctx context.Context, limit int) ([]model.Trade, error) {
	var trades []model.Trade
	q := r.db.WithContext(ctx).Order("opened_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&trades).Error
	return trades, err
}

type decisionLogRepo struct {
	db *gorm.DB
}

func (r *decisionLogRepo) Create(ctx context.Context, log *model.DecisionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *decisionLogRepo) Update(ctx context.Context, log *model.DecisionLog) error {
	return r.db.WithContext(ctx).Save(log).Error
}

func (r *decisionLogRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]model.DecisionLog, error) {
	var logs []model.DecisionLog
	q := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}

func (r *decisionLogRepo) ListRecent(ctx context.Context, limit int) ([]model.DecisionLog, error) {
	var logs []model.DecisionLog
	q := r.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
