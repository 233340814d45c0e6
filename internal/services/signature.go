package services

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Notification is one inbound settlement callback from the YooMoney wallet.
type Notification struct {
	NotificationType string
	OperationID      string
	Amount           string
	Currency         string
	Datetime         string
	Sender           string
	Codepro          string
	Label            string
	SHA1Hash         string
	WithdrawAmount   string
}

// Digest is the hex SHA-1 of the gateway fields, the shared secret and the label joined by '&'.
func (n Notification) Digest(secret string) string {
	payload := strings.Join([]string{
		n.NotificationType,
		n.OperationID,
		n.Amount,
		n.Currency,
		n.Datetime,
		n.Sender,
		n.Codepro,
		secret,
		n.Label,
	}, "&")
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Verify compares the supplied hash with the recomputed digest in constant time.
func (n Notification) Verify(secret string) bool {
	if n.SHA1Hash == "" {
		return false
	}
	return hmac.Equal([]byte(n.Digest(secret)), []byte(strings.ToLower(n.SHA1Hash)))
}
