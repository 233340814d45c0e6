package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/logger"
)

// Tokens answered to the gateway.
const (
	tokenOK            = "OK"
	tokenBadSignature  = "Invalid signature"
	tokenBadLabel      = "Invalid label"
	tokenBadWithdraw   = "Invalid withdraw_amount"
	tokenBadAmount     = "Invalid amount"
	tokenKeyFailed     = "Error creating VPN key"
	tokenInternalError = "Internal error"
)

// Outcome is what the webhook answers for one callback.
type Outcome struct {
	Status int
	Token  string
	Err    error
}

func ok() Outcome { return Outcome{Status: http.StatusOK, Token: tokenOK} }

func outcomeOf(err error) Outcome {
	var rej *Rejection
	if !errors.As(err, &rej) {
		rej = reject(err, tokenInternalError, nil)
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(rej.Kind, ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(rej.Kind, ErrMalformedInput):
		status = http.StatusBadRequest
	case errors.Is(rej.Kind, ErrRemoteUnavailable):
		status = http.StatusBadGateway
	}
	return Outcome{Status: status, Token: rej.Token, Err: rej}
}

// PaymentProcessor turns verified gateway callbacks into new or extended subscriptions.
type PaymentProcessor struct {
	secret  string
	ledger  *db.Ledger
	keys    *KeyIssuer
	notify  notifier
	alert   Alerter
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewPaymentProcessor(secret string, ledger *db.Ledger, keys *KeyIssuer, out Messenger, alert Alerter, metrics *Metrics, callTimeout time.Duration, log *zap.Logger) *PaymentProcessor {
	log = logger.Component(log, "payments")
	return &PaymentProcessor{
		secret:  secret,
		ledger:  ledger,
		keys:    keys,
		notify:  notifier{out: out, timeout: callTimeout, log: log},
		alert:   alert,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Process handles one callback. Nothing is written unless the digest verifies, and an
// operation id that was already settled is answered OK without side effects.
func (p *PaymentProcessor) Process(ctx context.Context, n Notification) Outcome {
	log := p.log.With(zap.String("operation_id", n.OperationID), zap.String("label", n.Label))
	out := p.process(ctx, log, n)
	result := "ok"
	switch {
	case out.Err == nil:
	case errors.Is(out.Err, ErrDuplicateTransaction):
		result = "duplicate"
		out = ok()
	case errors.Is(out.Err, ErrAuthentication):
		result = "unauthorized"
	case errors.Is(out.Err, ErrMalformedInput):
		result = "malformed"
	default:
		result = "error"
	}
	p.metrics.Payment(result)
	if out.Err != nil {
		log.Warn("payment callback rejected", zap.Int("status", out.Status), zap.String("token", out.Token), zap.Error(out.Err))
	}
	return out
}

func (p *PaymentProcessor) process(ctx context.Context, log *zap.Logger, n Notification) Outcome {
	if !n.Verify(p.secret) {
		return outcomeOf(reject(ErrAuthentication, tokenBadSignature, nil))
	}
	seen, err := p.ledger.HasOperation(ctx, n.OperationID)
	if err != nil {
		return outcomeOf(err)
	}
	if seen {
		log.Info("operation already processed")
		return outcomeOf(reject(ErrDuplicateTransaction, tokenOK, nil))
	}
	if n.Label == "" {
		return outcomeOf(reject(ErrMalformedInput, tokenBadLabel, nil))
	}

	amount, err := ParseAmount(n.WithdrawAmount)
	if err != nil {
		return outcomeOf(reject(ErrMalformedInput, tokenBadWithdraw, err))
	}
	plan, found := MatchPlan(amount)
	if !found {
		if l, lerr := ParseLabel(n.Label); lerr == nil {
			p.notify.bestEffort(ctx, l.UserID, msgWrongAmount)
		}
		return outcomeOf(reject(ErrMalformedInput, tokenBadAmount, fmt.Errorf("amount %s", amount)))
	}

	label, err := ParseLabel(n.Label)
	if err != nil {
		return outcomeOf(err)
	}
	purchase := &db.PurchaseRecord{
		UserID:      label.UserID,
		Amount:      amount,
		PeriodDays:  plan.Days,
		Label:       n.Label,
		OperationID: n.OperationID,
		RecordedAt:  p.now().UTC(),
	}
	log = log.With(zap.Int64("user_id", label.UserID), zap.Int("days", plan.Days), zap.String("amount", amount.StringFixed(2)))

	if label.Kind == LabelRenew {
		return p.renew(ctx, log, label, plan, purchase)
	}
	purchase.Kind = db.PurchaseNew
	sub, err := p.grantNew(ctx, log, label.UserID, plan.Days, purchase)
	if err != nil {
		return outcomeOf(err)
	}
	p.notify.bestEffort(ctx, label.UserID, msgPaidNewKey+"\n"+sub.AccessURL, instructionButton)
	return ok()
}

func (p *PaymentProcessor) renew(ctx context.Context, log *zap.Logger, label Label, plan Plan, purchase *db.PurchaseRecord) Outcome {
	purchase.Kind = db.PurchaseRenew
	sub, err := p.ledger.Extend(ctx, label.UserID, label.SubID, plan.Days, p.now().UTC(), purchase)
	switch {
	case errors.Is(err, db.ErrDuplicateOperation):
		return outcomeOf(reject(ErrDuplicateTransaction, tokenOK, err))
	case errors.Is(err, db.ErrSubscriptionNotFound):
		// the subscription expired and was torn down before the payment arrived;
		// the purchase stays recorded as a renewal
		log.Info("renewal target gone, issuing a new key", zap.Uint("sub_id", label.SubID))
		fresh, err := p.grantNew(ctx, log, label.UserID, plan.Days, purchase)
		if err != nil {
			return outcomeOf(err)
		}
		p.notify.bestEffort(ctx, label.UserID, fmt.Sprintf(msgRenewReplaced, plan.Days)+"\n"+fresh.AccessURL, instructionButton)
		return ok()
	case err != nil:
		return outcomeOf(err)
	}
	log.Info("subscription extended", zap.Uint("sub_id", sub.ID), zap.Time("expires_at", sub.ExpiresAt))
	p.notify.bestEffort(ctx, label.UserID, fmt.Sprintf(msgRenewed, plan.Days))
	return ok()
}

// grantNew provisions a key and stores it with the purchase. The key is revoked again if
// the ledger refuses the write, so the provider never keeps an unpaid key.
func (p *PaymentProcessor) grantNew(ctx context.Context, log *zap.Logger, userID int64, days int, purchase *db.PurchaseRecord) (*db.Subscription, error) {
	key, err := p.keys.Issue(ctx, userID)
	if err != nil {
		p.notify.bestEffort(ctx, userID, msgKeyFailed)
		if p.alert != nil {
			p.alert.Notify(fmt.Sprintf("Оплата %s получена, но ключ не создан: %v", purchase.OperationID, err))
		}
		return nil, reject(ErrRemoteUnavailable, tokenKeyFailed, err)
	}
	sub := &db.Subscription{
		UserID:    userID,
		KeyID:     key.ID,
		AccessURL: key.AccessURL,
		ExpiresAt: p.now().UTC().Add(time.Duration(days) * 24 * time.Hour),
	}
	if err := p.ledger.GrantPaid(ctx, sub, purchase); err != nil {
		if rerr := p.keys.Revoke(ctx, key.ID); rerr != nil {
			log.Error("failed to revoke key of unsaved subscription", zap.String("key_id", key.ID), zap.Error(rerr))
		}
		if errors.Is(err, db.ErrDuplicateOperation) {
			return nil, reject(ErrDuplicateTransaction, tokenOK, err)
		}
		return nil, fmt.Errorf("store subscription: %w", err)
	}
	log.Info("subscription granted", zap.Uint("sub_id", sub.ID), zap.String("key_id", key.ID), zap.Time("expires_at", sub.ExpiresAt))
	return sub, nil
}
