package services

import (
	"fmt"
	"net/url"
	"time"
)

const quickpayURL = "https://yoomoney.ru/quickpay/confirm.xml"

// PaymentLinks builds YooMoney quickpay form links whose label comes back in the webhook.
type PaymentLinks struct {
	Wallet          string
	NotificationURL string
	now             func() time.Time
}

func NewPaymentLinks(wallet, notificationURL string) *PaymentLinks {
	return &PaymentLinks{Wallet: wallet, NotificationURL: notificationURL, now: time.Now}
}

// ForNewKey is the link for buying a fresh key with plan.
func (p *PaymentLinks) ForNewKey(userID int64, plan Plan) string {
	return p.link(plan, NewPurchaseLabel(userID, p.now()), fmt.Sprintf("Подписка на %d дней", plan.Days))
}

// ForRenewal is the link for extending subscription subID with plan.
func (p *PaymentLinks) ForRenewal(userID int64, subID uint, plan Plan) string {
	return p.link(plan, RenewalLabel(userID, subID, p.now()), fmt.Sprintf("Продление подписки на %d дней", plan.Days))
}

func (p *PaymentLinks) link(plan Plan, label, description string) string {
	q := url.Values{}
	q.Set("receiver", p.Wallet)
	q.Set("quickpay-form", "shop")
	q.Set("targets", description)
	q.Set("paymentType", "AC")
	q.Set("sum", plan.Price.String())
	q.Set("label", label)
	q.Set("formcomment", description)
	q.Set("short-dest", description)
	q.Set("comment", description)
	q.Set("need-fio", "false")
	q.Set("need-email", "false")
	q.Set("need-phone", "false")
	q.Set("need-address", "false")
	if p.NotificationURL != "" {
		q.Set("notificationURL", p.NotificationURL)
	}
	return quickpayURL + "?" + q.Encode()
}
