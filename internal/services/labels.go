package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const renewPrefix = "renew_"

// Tokens answered to the gateway for unusable labels.
const (
	tokenBadRenewLabel = "Invalid label format for renew"
	tokenBadRenewIDs   = "Invalid user or sub ID in label"
	tokenBadNewLabel   = "Invalid label format for new subscription"
	tokenBadNewUser    = "Invalid user ID in label"
)

type LabelKind int

const (
	LabelNew LabelKind = iota
	LabelRenew
)

// Label is the purchase intent echoed back by the gateway.
type Label struct {
	Kind   LabelKind
	UserID int64
	SubID  uint
}

// NewPurchaseLabel encodes "{user_id}_{unix}".
func NewPurchaseLabel(userID int64, at time.Time) string {
	return fmt.Sprintf("%d_%d", userID, at.Unix())
}

// RenewalLabel encodes "renew_{user_id}_{sub_id}_{unix}".
func RenewalLabel(userID int64, subID uint, at time.Time) string {
	return fmt.Sprintf("%s%d_%d_%d", renewPrefix, userID, subID, at.Unix())
}

// ParseLabel decodes a label. Failures are *Rejection values of kind ErrMalformedInput.
func ParseLabel(label string) (Label, error) {
	parts := strings.Split(label, "_")
	if strings.HasPrefix(label, renewPrefix) {
		if len(parts) != 4 {
			return Label{}, reject(ErrMalformedInput, tokenBadRenewLabel, fmt.Errorf("label %q", label))
		}
		userID, uerr := parseID(parts[1])
		subID, serr := parseID(parts[2])
		if uerr != nil || serr != nil {
			return Label{}, reject(ErrMalformedInput, tokenBadRenewIDs, fmt.Errorf("label %q", label))
		}
		return Label{Kind: LabelRenew, UserID: userID, SubID: uint(subID)}, nil
	}

	if len(parts) < 2 {
		return Label{}, reject(ErrMalformedInput, tokenBadNewLabel, fmt.Errorf("label %q", label))
	}
	userID, err := parseID(parts[0])
	if err != nil {
		return Label{}, reject(ErrMalformedInput, tokenBadNewUser, fmt.Errorf("label %q", label))
	}
	return Label{Kind: LabelNew, UserID: userID}, nil
}

// parseID accepts plain decimal digits only, no sign.
func parseID(s string) (int64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return strconv.ParseInt(s, 10, 64)
}
