package publisher

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/flowcandle/candlestream/internal/model"
)

// CandleRow is the analytical-store row shape for one finalized candle,
// generalized to any symbol and timeframe rather than one hardcoded table
// per symbol.
type CandleRow struct {
	Symbol   string  `gorm:"column:symbol;index:idx_candles_lookup"`
	Size     int     `gorm:"column:size;index:idx_candles_lookup"`
	Unit     string  `gorm:"column:unit;index:idx_candles_lookup"`
	OpenTime int64   `gorm:"column:open_time;index:idx_candles_lookup"`
	Open     float64 `gorm:"column:open"`
	High     float64 `gorm:"column:high"`
	Low      float64 `gorm:"column:low"`
	Close    float64 `gorm:"column:close"`
}

// TableName pins the row to a single shared table, rather than one table
// per symbol, since the symbol is now a column.
func (CandleRow) TableName() string {
	return "ohlc_candles"
}

// ColumnStorePublisher persists finalized candles to a Postgres table for
// analytical querying, standing in for the column store named in the
// design — no ClickHouse driver is available in the dependency set this
// module draws from, so the same insert-row contract is served by
// gorm+postgres instead.
type ColumnStorePublisher struct {
	db *gorm.DB
}

// NewColumnStorePublisher opens a Postgres connection and migrates the
// candles table.
func NewColumnStorePublisher(host string, port int, user, password, dbName, sslMode, timeZone string) (*ColumnStorePublisher, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		host, port, user, password, dbName, sslMode, timeZone)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, &TransientSinkError{Sink: "postgres", Err: err}
	}

	if err := db.AutoMigrate(&CandleRow{}); err != nil {
		return nil, &TransientSinkError{Sink: "postgres", Err: err}
	}

	return &ColumnStorePublisher{db: db}, nil
}

// Publish inserts one row per finalized candle.
func (p *ColumnStorePublisher) Publish(ctx context.Context, msg model.OHLCMessage) error {
	row := CandleRow{
		Symbol:   msg.Symbol,
		Size:     msg.Timeframe.Size,
		Unit:     msg.Timeframe.Unit,
		OpenTime: msg.OHLC.Time,
		Open:     msg.OHLC.Open,
		High:     msg.OHLC.High,
		Low:      msg.OHLC.Low,
		Close:    msg.OHLC.Close,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return &TransientSinkError{Sink: "postgres", Err: err}
	}
	return nil
}

// Close releases the underlying SQL connection pool.
func (p *ColumnStorePublisher) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Publisher = (*ColumnStorePublisher)(nil)
