package services

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"outline-vpn-bot/internal/logger"
)

const (
	WebhookPath     = "/yoomoney_notification"
	maxWebhookBytes = 64 << 10
	requestIDHeader = "X-Request-ID"
)

// PaymentHandler is what the webhook hands verified-or-not callbacks to.
type PaymentHandler interface {
	Process(ctx context.Context, n Notification) Outcome
}

// NewRouter serves the gateway webhook, a liveness probe and the metrics endpoint.
func NewRouter(log *zap.Logger, gatherer prometheus.Gatherer, payments PaymentHandler, alert *logger.AdminNotifier) *gin.Engine {
	log = logger.Component(log, "http")
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(log), recoverer(log, alert))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.POST(WebhookPath, webhookHandler(payments))
	return r
}

// webhookHandler parses the form-encoded callback and answers with the processor's token.
func webhookHandler(payments PaymentHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
		if err := c.Request.ParseForm(); err != nil {
			c.String(http.StatusBadRequest, "Invalid form")
			return
		}
		n := Notification{
			NotificationType: c.PostForm("notification_type"),
			OperationID:      c.PostForm("operation_id"),
			Amount:           c.PostForm("amount"),
			Currency:         c.PostForm("currency"),
			Datetime:         c.PostForm("datetime"),
			Sender:           c.PostForm("sender"),
			Codepro:          c.PostForm("codepro"),
			Label:            c.PostForm("label"),
			SHA1Hash:         c.PostForm("sha1_hash"),
			WithdrawAmount:   c.PostForm("withdraw_amount"),
		}
		// the gateway does not wait long; finish the settlement even if it hangs up
		ctx := context.WithoutCancel(c.Request.Context())
		out := payments.Process(ctx, n)
		c.String(out.Status, out.Token)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/health" {
			return
		}
		log.Info("request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("remote", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func recoverer(log *zap.Logger, alert *logger.AdminNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in http handler", zap.Any("panic", r), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				alert.Notify("Panic in webhook " + c.Request.URL.Path)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
