package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/logger"
	"outline-vpn-bot/internal/outline"
)

// ServerInfoer is the provider's health endpoint.
type ServerInfoer interface {
	ServerInfo(ctx context.Context) (outline.ServerInfo, error)
}

// ServerStatus is the last known state of the key provider.
type ServerStatus struct {
	Name        string
	Version     string
	Online      bool
	Error       string
	LastChecked time.Time
}

// ProviderHealth polls the provider and alerts the admin when it goes down or comes back.
type ProviderHealth struct {
	server  ServerInfoer
	timeout time.Duration
	alert   Alerter
	metrics *Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	last    ServerStatus
	checked bool
}

func NewProviderHealth(server ServerInfoer, timeout time.Duration, alert Alerter, metrics *Metrics, log *zap.Logger) *ProviderHealth {
	return &ProviderHealth{
		server:  server,
		timeout: timeout,
		alert:   alert,
		metrics: metrics,
		log:     logger.Component(log, "health"),
	}
}

// Check asks the provider for its server info and records the result.
func (h *ProviderHealth) Check(ctx context.Context) ServerStatus {
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	info, err := h.server.ServerInfo(cctx)

	st := ServerStatus{LastChecked: time.Now().UTC(), Online: err == nil}
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Name, st.Version = info.Name, info.Version
	}
	h.metrics.ProviderUp(st.Online)

	h.mu.Lock()
	prev, hadPrev := h.last, h.checked
	h.last, h.checked = st, true
	h.mu.Unlock()

	changed := !hadPrev && !st.Online || hadPrev && prev.Online != st.Online
	if !changed {
		return st
	}
	if st.Online {
		h.log.Info("provider is back online", zap.String("name", st.Name), zap.String("version", st.Version))
		if h.alert != nil {
			h.alert.Notify("Сервер Outline снова доступен")
		}
	} else {
		h.log.Error("provider unreachable", zap.String("error", st.Error))
		if h.alert != nil {
			h.alert.Notify("Сервер Outline недоступен: " + st.Error)
		}
	}
	return st
}

// Status returns the result of the last check.
func (h *ProviderHealth) Status() (ServerStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.checked
}
