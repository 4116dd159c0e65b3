package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/config"
	"github.com/vitos/account_monitor/internal/domain"
)

// AlertService evaluates thresholds against the aggregated account state and
// publishes the resulting alerts with per-(type, subject) suppression.
// Evaluation is pure; all state lives in the suppression map.
type AlertService struct {
	cfg      config.AlertsConfig
	notifier domain.Notifier
	repo     domain.LedgerRepository
	log      *zap.Logger

	minBalance     decimal.Decimal
	maxDrawdownPct decimal.Decimal
	maxMarginRatio decimal.Decimal
	initialBalance decimal.Decimal

	mu          sync.Mutex
	lastEmitted map[string]time.Time
}

func NewAlertService(cfg config.AlertsConfig, notifier domain.Notifier, repo domain.LedgerRepository, log *zap.Logger) *AlertService {
	return &AlertService{
		cfg:            cfg,
		notifier:       notifier,
		repo:           repo,
		log:            log,
		minBalance:     decimal.NewFromFloat(cfg.MinBalance),
		maxDrawdownPct: decimal.NewFromFloat(cfg.MaxDrawdownPct),
		maxMarginRatio: decimal.NewFromFloat(cfg.MaxMarginRatio),
		initialBalance: decimal.NewFromFloat(cfg.InitialBalance),
		lastEmitted:    make(map[string]time.Time),
	}
}

// Evaluate runs every rule against the state snapshot. Rules are independent;
// one evaluation can yield several alerts. Suppression is applied later, at
// publish time.
func (a *AlertService) Evaluate(state domain.AccountState) []domain.Alert {
	now := time.Now()
	var alerts []domain.Alert

	if a.minBalance.IsPositive() && state.TotalEquity.LessThan(a.minBalance) {
		alerts = append(alerts, domain.Alert{
			ID:         ulid.Make().String(),
			Type:       domain.AlertLowBalance,
			Severity:   domain.SeverityWarning,
			SubjectKey: "account",
			Message:    fmt.Sprintf("total equity %s below minimum %s", state.TotalEquity, a.minBalance),
			Value:      state.TotalEquity,
			Threshold:  a.minBalance,
			Timestamp:  now,
		})
	}

	if a.maxDrawdownPct.IsPositive() && a.initialBalance.IsPositive() {
		drawdown := state.RealizedPnL.Div(a.initialBalance).Mul(decimal.NewFromInt(100))
		if drawdown.LessThan(a.maxDrawdownPct.Neg()) {
			alerts = append(alerts, domain.Alert{
				ID:         ulid.Make().String(),
				Type:       domain.AlertHighDrawdown,
				Severity:   domain.SeverityCritical,
				SubjectKey: "account",
				Message:    fmt.Sprintf("drawdown %s%% exceeds limit %s%%", drawdown.StringFixed(2), a.maxDrawdownPct),
				Value:      drawdown,
				Threshold:  a.maxDrawdownPct,
				Timestamp:  now,
			})
		}
	}

	if a.maxMarginRatio.IsPositive() && state.MarginRatio.GreaterThan(a.maxMarginRatio) {
		alerts = append(alerts, domain.Alert{
			ID:         ulid.Make().String(),
			Type:       domain.AlertHighMarginRatio,
			Severity:   domain.SeverityCritical,
			SubjectKey: "account",
			Message:    fmt.Sprintf("margin ratio %s exceeds limit %s", state.MarginRatio, a.maxMarginRatio),
			Value:      state.MarginRatio,
			Threshold:  a.maxMarginRatio,
			Timestamp:  now,
		})
	}

	for _, rec := range state.Drifts {
		alertType := domain.AlertBalanceDrift
		if rec.Kind == domain.DriftPosition {
			alertType = domain.AlertPositionDrift
		}
		alerts = append(alerts, domain.Alert{
			ID:         ulid.Make().String(),
			Type:       alertType,
			Severity:   domain.SeverityWarning,
			SubjectKey: rec.Key,
			Message: fmt.Sprintf("%s drift on %s: local %s, exchange %s",
				rec.Kind, rec.Key, rec.LocalValue, rec.ExternalValue),
			Value:     rec.Drift,
			Timestamp: now,
		})
	}

	return alerts
}

// StaleReconciliationAlert is raised after the configured number of
// consecutive snapshot fetch failures.
func StaleReconciliationAlert(consecutiveFailures int) domain.Alert {
	return domain.Alert{
		ID:         ulid.Make().String(),
		Type:       domain.AlertStaleReconcile,
		Severity:   domain.SeverityCritical,
		SubjectKey: "reconciliation",
		Message:    fmt.Sprintf("reconciliation stale: %d consecutive snapshot fetch failures", consecutiveFailures),
		Value:      decimal.NewFromInt(int64(consecutiveFailures)),
		Timestamp:  time.Now(),
	}
}

// Publish emits an alert unless an alert with the same (type, subject) was
// emitted within the suppression window; suppressed alerts are dropped
// silently. Delivery is best-effort with a single retry and never blocks the
// evaluation path with an error.
func (a *AlertService) Publish(ctx context.Context, alert domain.Alert) bool {
	if !a.cfg.Enabled {
		return false
	}

	key := alert.SuppressionKey()
	a.mu.Lock()
	if last, ok := a.lastEmitted[key]; ok && time.Since(last) < a.cfg.SuppressionWindow() {
		a.mu.Unlock()
		a.log.Debug("alert suppressed", zap.String("key", key))
		return false
	}
	emittedAt := time.Now()
	a.lastEmitted[key] = emittedAt
	a.mu.Unlock()

	if a.repo != nil {
		if err := a.repo.SaveAlert(ctx, &alert); err != nil {
			a.log.Warn("failed to persist alert", zap.Error(err))
		}
		if err := a.repo.SaveSuppression(ctx, key, emittedAt); err != nil {
			a.log.Warn("failed to persist suppression state", zap.Error(err))
		}
	}

	if err := a.notifier.Notify(ctx, &alert); err != nil {
		if err = a.notifier.Notify(ctx, &alert); err != nil {
			a.log.Error("alert dropped after retry",
				zap.String("type", string(alert.Type)),
				zap.String("subject", alert.SubjectKey),
				zap.Error(err),
			)
			return true
		}
	}

	a.log.Info("alert published",
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("subject", alert.SubjectKey),
		zap.String("message", alert.Message),
	)
	return true
}

// EvaluateAndPublish is the periodic entry point: evaluate the snapshot, then
// publish whatever survives suppression.
func (a *AlertService) EvaluateAndPublish(ctx context.Context, state domain.AccountState) int {
	emitted := 0
	for _, alert := range a.Evaluate(state) {
		if a.Publish(ctx, alert) {
			emitted++
		}
	}
	return emitted
}

// RestoreSuppression adopts persisted suppression timestamps so restarts do
// not re-fire recently emitted alerts.
func (a *AlertService) RestoreSuppression(m map[string]time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, t := range m {
		a.lastEmitted[k] = t
	}
}
