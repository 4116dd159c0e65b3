package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/config"
	"github.com/vitos/account_monitor/internal/domain"
	"github.com/vitos/account_monitor/internal/usecase"
)

type fakeNotifier struct {
	mu        sync.Mutex
	delivered []domain.Alert
	failNext  int
}

func (f *fakeNotifier) Notify(ctx context.Context, alert *domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("transport down")
	}
	f.delivered = append(f.delivered, *alert)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func alertCfg() config.AlertsConfig {
	return config.AlertsConfig{
		Enabled:              true,
		MinBalance:           1000,
		MaxDrawdownPct:       10,
		MaxMarginRatio:       0.8,
		InitialBalance:       10000,
		SuppressionWindowSec: 1,
		EvalIntervalSec:      1,
	}
}

func TestEvaluate_AllRules(t *testing.T) {
	svc := usecase.NewAlertService(alertCfg(), &fakeNotifier{}, nil, zap.NewNop())

	state := domain.AccountState{
		TotalEquity:    d("500"),   // below min 1000
		RealizedPnL:    d("-1500"), // -15% of initial, beyond -10%
		InitialBalance: d("10000"),
		MarginRatio:    d("0.9"), // above 0.8
		Drifts: []domain.DriftRecord{
			{Kind: domain.DriftBalance, Key: "USDT", Drift: d("100")},
			{Kind: domain.DriftPosition, Key: "BTCUSDT", Drift: d("0.5")},
		},
	}

	alerts := svc.Evaluate(state)
	require.Len(t, alerts, 5)

	types := make(map[domain.AlertType]int)
	for _, a := range alerts {
		types[a.Type]++
		assert.NotEmpty(t, a.ID)
	}
	assert.Equal(t, 1, types[domain.AlertLowBalance])
	assert.Equal(t, 1, types[domain.AlertHighDrawdown])
	assert.Equal(t, 1, types[domain.AlertHighMarginRatio])
	assert.Equal(t, 1, types[domain.AlertBalanceDrift])
	assert.Equal(t, 1, types[domain.AlertPositionDrift])
}

func TestEvaluate_HealthyState(t *testing.T) {
	svc := usecase.NewAlertService(alertCfg(), &fakeNotifier{}, nil, zap.NewNop())

	state := domain.AccountState{
		TotalEquity:    d("15000"),
		RealizedPnL:    d("200"),
		InitialBalance: d("10000"),
		MarginRatio:    d("0.1"),
	}
	assert.Empty(t, svc.Evaluate(state))
}

func TestPublish_Suppression(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := usecase.NewAlertService(alertCfg(), notifier, nil, zap.NewNop())
	ctx := context.Background()

	alert := domain.Alert{
		Type:       domain.AlertLowBalance,
		Severity:   domain.SeverityWarning,
		SubjectKey: "account",
		Value:      d("500"),
		Timestamp:  time.Now(),
	}

	assert.True(t, svc.Publish(ctx, alert))
	// Same (type, subject) inside the window: dropped silently.
	assert.False(t, svc.Publish(ctx, alert))
	assert.Equal(t, 1, notifier.count())

	// A different subject is its own suppression bucket.
	other := alert
	other.SubjectKey = "BTCUSDT"
	assert.True(t, svc.Publish(ctx, other))

	// After the window elapses the same alert fires again.
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, svc.Publish(ctx, alert))
	assert.Equal(t, 3, notifier.count())
}

func TestPublish_RetryOnce(t *testing.T) {
	notifier := &fakeNotifier{failNext: 1}
	svc := usecase.NewAlertService(alertCfg(), notifier, nil, zap.NewNop())

	alert := domain.Alert{Type: domain.AlertLowBalance, SubjectKey: "account", Value: decimal.Zero}
	assert.True(t, svc.Publish(context.Background(), alert))
	// First attempt failed, retry delivered.
	assert.Equal(t, 1, notifier.count())
}

func TestPublish_DroppedAfterRetry(t *testing.T) {
	notifier := &fakeNotifier{failNext: 2}
	svc := usecase.NewAlertService(alertCfg(), notifier, nil, zap.NewNop())

	alert := domain.Alert{Type: domain.AlertLowBalance, SubjectKey: "account", Value: decimal.Zero}
	// Still counts as emitted: delivery is best-effort and never propagates.
	assert.True(t, svc.Publish(context.Background(), alert))
	assert.Equal(t, 0, notifier.count())
}

func TestPublish_DisabledConfig(t *testing.T) {
	cfg := alertCfg()
	cfg.Enabled = false
	notifier := &fakeNotifier{}
	svc := usecase.NewAlertService(cfg, notifier, nil, zap.NewNop())

	alert := domain.Alert{Type: domain.AlertLowBalance, SubjectKey: "account", Value: decimal.Zero}
	assert.False(t, svc.Publish(context.Background(), alert))
	assert.Equal(t, 0, notifier.count())
}

func TestRestoreSuppression(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := usecase.NewAlertService(alertCfg(), notifier, nil, zap.NewNop())

	alert := domain.Alert{Type: domain.AlertLowBalance, SubjectKey: "account", Value: decimal.Zero}
	svc.RestoreSuppression(map[string]time.Time{
		alert.SuppressionKey(): time.Now(),
	})

	// Restart must not re-fire a recently emitted alert.
	assert.False(t, svc.Publish(context.Background(), alert))
}

func TestStaleReconciliationAlert(t *testing.T) {
	alert := usecase.StaleReconciliationAlert(3)
	assert.Equal(t, domain.AlertStaleReconcile, alert.Type)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)
	assert.True(t, alert.Value.Equal(d("3")))
}
