package alertsink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

// AlertModel represents surveillance alerts in the database
type AlertModel struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Pattern     string            `gorm:"type:varchar(64);index;not null" json:"pattern"`
	Severity    string            `gorm:"type:varchar(16);index;not null" json:"severity"`
	Status      string            `gorm:"type:varchar(20);index;default:'open'" json:"status"`
	Title       string            `gorm:"type:varchar(200)" json:"title"`
	Description string            `gorm:"type:text" json:"description"`
	RiskScore   decimal.Decimal   `gorm:"type:decimal(10,4);not null" json:"risk_score"`
	Confidence  decimal.Decimal   `gorm:"type:decimal(10,4);not null" json:"confidence"`
	Instrument  string            `gorm:"type:varchar(32);index;not null" json:"instrument"`
	AccountID   string            `gorm:"type:varchar(64);index;not null" json:"account_id"`
	TradeIDs    []string          `gorm:"serializer:json" json:"trade_ids"`
	OrderIDs    []string          `gorm:"serializer:json" json:"order_ids"`
	Metadata    map[string]string `gorm:"serializer:json" json:"metadata"`
	DetectedAt  time.Time         `gorm:"index;not null" json:"detected_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TableName specifies the table name for AlertModel
func (AlertModel) TableName() string {
	return "surveillance_alerts"
}

// NewAlertModel converts an engine alert. Scores keep four decimals.
func NewAlertModel(a surveillance.Alert) AlertModel {
	return AlertModel{
		ID:          a.ID,
		Pattern:     a.Pattern,
		Severity:    a.Severity.String(),
		Status:      string(a.Status),
		Title:       a.Title,
		Description: a.Description,
		RiskScore:   decimal.NewFromFloat(a.RiskScore).Round(4),
		Confidence:  decimal.NewFromFloat(a.Confidence).Round(4),
		Instrument:  a.Instrument,
		AccountID:   a.AccountID,
		TradeIDs:    a.TradeIDs,
		OrderIDs:    a.OrderIDs,
		Metadata:    a.Metadata,
		DetectedAt:  a.DetectedAt,
	}
}

// Alert converts the row back into an engine alert.
func (m AlertModel) Alert() surveillance.Alert {
	var sev surveillance.Severity
	_ = sev.UnmarshalText([]byte(m.Severity))
	return surveillance.Alert{
		ID:          m.ID,
		Pattern:     m.Pattern,
		Severity:    sev,
		Status:      surveillance.AlertStatus(m.Status),
		Title:       m.Title,
		Description: m.Description,
		RiskScore:   m.RiskScore.InexactFloat64(),
		Confidence:  m.Confidence.InexactFloat64(),
		DetectedAt:  m.DetectedAt,
		Instrument:  m.Instrument,
		AccountID:   m.AccountID,
		TradeIDs:    m.TradeIDs,
		OrderIDs:    m.OrderIDs,
		Metadata:    m.Metadata,
	}
}

// OpenDatabase connects using the named gorm driver.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return db, nil
}

// GormStore persists alerts through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the alert table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&AlertModel{}); err != nil {
		return nil, fmt.Errorf("migrate alerts: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Name() string { return "database" }

// Deliver inserts the alert. Redelivery of a stored alert is a no-op.
func (s *GormStore) Deliver(ctx context.Context, alert surveillance.Alert) error {
	m := NewAlertModel(alert)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// Recent returns the newest alerts first.
func (s *GormStore) Recent(ctx context.Context, limit int) ([]surveillance.Alert, error) {
	return s.find(s.db.WithContext(ctx), limit)
}

// ByPattern returns the newest alerts of one pattern.
func (s *GormStore) ByPattern(ctx context.Context, pattern string, limit int) ([]surveillance.Alert, error) {
	return s.find(s.db.WithContext(ctx).Where("pattern = ?", pattern), limit)
}

// UpdateStatus moves an alert through investigation.
func (s *GormStore) UpdateStatus(ctx context.Context, id uuid.UUID, status surveillance.AlertStatus) error {
	res := s.db.WithContext(ctx).Model(&AlertModel{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GormStore) find(q *gorm.DB, limit int) ([]surveillance.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []AlertModel
	if err := q.Order("detected_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]surveillance.Alert, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Alert())
	}
	return out, nil
}
