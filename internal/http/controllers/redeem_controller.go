package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/dutydesk/internal/couch"
	httperrors "github.com/dropDatabas3/dutydesk/internal/http/errors"
	"github.com/dropDatabas3/dutydesk/internal/metrics"
	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
	"github.com/dropDatabas3/dutydesk/internal/token"
)

// RedeemController exchanges a token id for store credentials.
type RedeemController struct {
	service *token.Service
}

// NewRedeemController creates the redemption controller.
func NewRedeemController(service *token.Service) *RedeemController {
	return &RedeemController{service: service}
}

// redeemResponse mirrors what the dashboard login page expects.
type redeemResponse struct {
	URL      string    `json:"url"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	OK       bool      `json:"ok"`
	User     couch.Doc `json:"user"`
}

// Redeem handles POST /redeem/{id}. Every failure (expired, unknown,
// already redeemed, store down) is a bare 400; the cause only goes to
// the log.
func (c *RedeemController) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("RedeemController.Redeem"))

	id := chi.URLParam(r, "id")
	if id == "" {
		metrics.CountRedemption("failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := c.service.Redeem(ctx, id)
	if err != nil {
		metrics.CountRedemption("failed")
		log.Warn("redemption failed", logger.TokenID(id), logger.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	metrics.CountRedemption("ok")
	httperrors.WriteJSON(w, http.StatusOK, redeemResponse{
		URL:      result.StoreURL,
		Username: result.Key,
		Password: result.Secret,
		OK:       true,
		User:     result.User,
	})
}
