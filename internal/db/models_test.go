package db

import (
	"testing"
	"time"
)

func TestSubscriptionStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		desc string
		sub  Subscription
		want Status
	}{
		{"fresh", Subscription{ExpiresAt: now.Add(30 * OneDay)}, StatusActive},
		{"warned five days", Subscription{ExpiresAt: now.Add(4 * OneDay), Notified5Days: true}, StatusWarned5Days},
		{"warned one day", Subscription{ExpiresAt: now.Add(time.Hour), Notified5Days: true, Notified1Day: true}, StatusWarned1Day},
		{"past expiry", Subscription{ExpiresAt: now.Add(-time.Second)}, StatusExpiring},
		{"exactly at expiry", Subscription{ExpiresAt: now}, StatusExpiring},
		{"torn down", Subscription{ExpiresAt: now.Add(-time.Hour), NotifiedExpired: true}, StatusExpired},
	}
	for _, tt := range tests {
		if got := tt.sub.Status(now); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.desc, got, tt.want)
		}
	}
}
