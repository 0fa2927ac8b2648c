package alertsink

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := OpenDatabase("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func TestAlertModelKeepsFourDecimals(t *testing.T) {
	a := testAlert("wash_trading", time.Now())
	a.Confidence = 77.123456

	m := NewAlertModel(a)
	assert.True(t, m.Confidence.Equal(decimal.RequireFromString("77.1235")))
	assert.Equal(t, "high", m.Severity)
	assert.Equal(t, surveillance.SeverityHigh, m.Alert().Severity)
}

func TestGormStoreDeliverAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	wash := testAlert("wash_trading", base)
	layering := testAlert("layering", base.Add(time.Minute))
	require.NoError(t, store.Deliver(ctx, wash))
	require.NoError(t, store.Deliver(ctx, layering))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, layering.ID, recent[0].ID)
	assert.Equal(t, wash.ID, recent[1].ID)
	assert.Equal(t, []string{"T1", "T2"}, recent[1].TradeIDs)
	assert.Equal(t, "1.0000", recent[1].Metadata["matched_ratio"])
	assert.InDelta(t, 81.25, recent[1].RiskScore, 1e-9)

	byPattern, err := store.ByPattern(ctx, "wash_trading", 10)
	require.NoError(t, err)
	require.Len(t, byPattern, 1)
	assert.Equal(t, wash.ID, byPattern[0].ID)
}

func TestGormStoreRedeliveryIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := testAlert("pump_dump", time.Now())

	require.NoError(t, store.Deliver(ctx, a))
	require.NoError(t, store.Deliver(ctx, a))

	recent, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestGormStoreUpdateStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := testAlert("insider_trading", time.Now())
	require.NoError(t, store.Deliver(ctx, a))

	require.NoError(t, store.UpdateStatus(ctx, a.ID, surveillance.AlertStatusInvestigating))
	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, surveillance.AlertStatusInvestigating, recent[0].Status)

	assert.ErrorIs(t, store.UpdateStatus(ctx, uuid.New(), surveillance.AlertStatusClosed), gorm.ErrRecordNotFound)
}

func TestOpenDatabaseRejectsUnknownDriver(t *testing.T) {
	_, err := OpenDatabase("mysql", "")
	assert.Error(t, err)
}
