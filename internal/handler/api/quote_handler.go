package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"realityshop/internal/config"
	"realityshop/internal/models"
	"realityshop/internal/panel"
	"realityshop/internal/pricing"
)

// PriceLister quotes the plan catalog on a server.
type PriceLister interface {
	PriceList(ctx context.Context, serverID string) ([]pricing.PlanPrice, error)
}

// ServerLookup resolves a server id to its descriptor.
type ServerLookup interface {
	Server(serverID string) (config.ServerDescriptor, error)
}

// QuoteHandler serves live prices.
type QuoteHandler struct {
	prices        PriceLister
	servers       ServerLookup
	defaultServer string
	logger        *zap.Logger
}

func NewQuoteHandler(prices PriceLister, servers ServerLookup, defaultServer string, logger *zap.Logger) *QuoteHandler {
	return &QuoteHandler{prices: prices, servers: servers, defaultServer: defaultServer, logger: logger}
}

// Quote returns the price list of a server.
// GET /api/quote?server=<id>
func (h *QuoteHandler) Quote(c echo.Context) error {
	serverID := c.QueryParam("server")
	if serverID == "" {
		serverID = h.defaultServer
	}

	desc, err := h.servers.Server(serverID)
	if err != nil {
		return errorResponse(c, http.StatusNotFound, "Unknown server: "+serverID)
	}

	list, err := h.prices.PriceList(c.Request().Context(), serverID)
	if err != nil {
		h.logger.Error("Failed to quote prices", zap.String("server", serverID), zap.Error(err))
		if errors.Is(err, panel.ErrServerUnavailable) {
			return errorResponse(c, http.StatusServiceUnavailable, "Server temporarily unavailable")
		}
		return errorResponse(c, http.StatusInternalServerError, "Failed to quote prices")
	}

	plans := make([]models.PlanQuote, 0, len(list))
	for _, pp := range list {
		plans = append(plans, models.PlanQuote{
			ID:    pp.Plan.ID,
			Title: pp.Plan.Title,
			Days:  int(pp.Plan.Duration / (24 * time.Hour)),
			Price: pp.Price,
			Min:   pp.Plan.Band.Min,
			Max:   pp.Plan.Band.Max,
		})
	}

	return successResponse(c, "Successful", models.QuoteResponse{
		Server: desc.ID,
		Name:   desc.Name,
		Plans:  plans,
	})
}
