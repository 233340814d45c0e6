package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/logger"
	"outline-vpn-bot/internal/outline"
)

// KeyProvider is the key provisioning service.
type KeyProvider interface {
	CreateKey(ctx context.Context) (outline.Key, error)
	RenameKey(ctx context.Context, id, name string) error
	GetKey(ctx context.Context, id string) (outline.Key, error)
	DeleteKey(ctx context.Context, id string) error
	ListKeys(ctx context.Context) ([]outline.Key, error)
}

// KeyIssuer wraps the provider with per-call timeouts and the naming convention.
type KeyIssuer struct {
	provider KeyProvider
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewKeyIssuer(provider KeyProvider, timeout time.Duration, log *zap.Logger) *KeyIssuer {
	return &KeyIssuer{
		provider: provider,
		timeout:  timeout,
		log:      logger.Component(log, "keys"),
		now:      time.Now,
	}
}

const keyNamePrefix = "User_"

// KeyName is "User_{user_id}_{RFC3339 UTC}".
func KeyName(userID int64, at time.Time) string {
	return fmt.Sprintf("%s%d_%s", keyNamePrefix, userID, at.UTC().Format(time.RFC3339))
}

// keyCreatedAt recovers the creation time encoded by KeyName.
func keyCreatedAt(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, keyNamePrefix) {
		return time.Time{}, false
	}
	i := strings.LastIndex(name, "_")
	t, err := time.Parse(time.RFC3339, name[i+1:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Issue creates a named key for the user. A key that could not be named is removed again.
func (k *KeyIssuer) Issue(ctx context.Context, userID int64) (outline.Key, error) {
	var key outline.Key
	err := k.call(ctx, func(c context.Context) error {
		var cerr error
		key, cerr = k.provider.CreateKey(c)
		return cerr
	})
	if err != nil {
		return outline.Key{}, remoteErr("create key", err)
	}

	name := KeyName(userID, k.now())
	if err := k.call(ctx, func(c context.Context) error { return k.provider.RenameKey(c, key.ID, name) }); err != nil {
		k.discard(ctx, key.ID)
		return outline.Key{}, remoteErr("rename key", err)
	}
	var named outline.Key
	err = k.call(ctx, func(c context.Context) error {
		var gerr error
		named, gerr = k.provider.GetKey(c, key.ID)
		return gerr
	})
	if err != nil {
		k.discard(ctx, key.ID)
		return outline.Key{}, remoteErr("get key", err)
	}
	k.log.Info("key created", zap.Int64("user_id", userID), zap.String("key_id", named.ID), zap.String("name", named.Name))
	return named, nil
}

// Revoke deletes a key. A key the provider no longer has counts as revoked.
func (k *KeyIssuer) Revoke(ctx context.Context, keyID string) error {
	err := k.call(ctx, func(c context.Context) error { return k.provider.DeleteKey(c, keyID) })
	if errors.Is(err, outline.ErrKeyNotFound) {
		k.log.Debug("key already gone", zap.String("key_id", keyID))
		return nil
	}
	if err != nil {
		return remoteErr("delete key "+keyID, err)
	}
	return nil
}

// List returns the provider's live inventory.
func (k *KeyIssuer) List(ctx context.Context) ([]outline.Key, error) {
	var keys []outline.Key
	err := k.call(ctx, func(c context.Context) error {
		var lerr error
		keys, lerr = k.provider.ListKeys(c)
		return lerr
	})
	if err != nil {
		return nil, remoteErr("list keys", err)
	}
	return keys, nil
}

func (k *KeyIssuer) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return fn(cctx)
}

func (k *KeyIssuer) discard(ctx context.Context, keyID string) {
	if err := k.Revoke(ctx, keyID); err != nil {
		k.log.Error("failed to remove half-created key", zap.String("key_id", keyID), zap.Error(err))
	}
}
