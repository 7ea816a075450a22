package router

import (
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"realityshop/internal/handler"
	"realityshop/internal/handler/api"
	"realityshop/internal/metrics"
	"realityshop/internal/middleware"
)

// maxWebhookBody bounds how much of a notification is kept for reconciliation.
const maxWebhookBody = 64 << 10

// Deps are the pieces the HTTP surface is assembled from.
type Deps struct {
	Payments *handler.PaymentCallbackHandler
	Quotes   *api.QuoteHandler
	APIKey   string
	// YooKassaCIDRs is the notification source allow-list.
	YooKassaCIDRs []string
	// TrustedProxies enables X-Forwarded-For from these CIDRs.
	TrustedProxies []string
	Logger         *zap.Logger
}

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, d Deps) error {
	extractor, err := ipExtractor(d.TrustedProxies)
	if err != nil {
		return err
	}
	e.IPExtractor = extractor

	allowList, err := middleware.ParsePrefixes(d.YooKassaCIDRs)
	if err != nil {
		return fmt.Errorf("yookassa allow-list: %w", err)
	}

	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(d.Logger))

	// Payment notifications
	yookassa := []echo.MiddlewareFunc{
		middleware.AllowCIDRs(allowList, d.Logger),
		middleware.CaptureBody(maxWebhookBody),
	}
	e.POST("/provider-a-webhook", d.Payments.YooKassaWebhook, yookassa...)
	e.POST("/yookassa-webhook", d.Payments.YooKassaWebhook, yookassa...) // legacy alias
	e.POST("/provider-b-webhook", d.Payments.CryptoCloudWebhook)
	e.POST("/cryptocloud-webhook", d.Payments.CryptoCloudWebhook) // legacy alias

	// API group with auth
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(d.APIKey))
	apiGroup.GET("/quote", d.Quotes.Quote)

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return nil
}

func ipExtractor(trusted []string) (echo.IPExtractor, error) {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	prefixes, err := middleware.ParsePrefixes(trusted)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, p := range prefixes {
		_, ipNet, err := net.ParseCIDR(p.String())
		if err != nil {
			return nil, err
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}
