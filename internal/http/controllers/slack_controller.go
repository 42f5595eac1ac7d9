// Package controllers holds the HTTP controllers for the dutydesk
// server surface.
package controllers

import (
	"errors"
	"fmt"
	"net/http"

	httperrors "github.com/dropDatabas3/dutydesk/internal/http/errors"
	"github.com/dropDatabas3/dutydesk/internal/metrics"
	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
	"github.com/dropDatabas3/dutydesk/internal/rate"
	"github.com/dropDatabas3/dutydesk/internal/token"
)

const maxWebhookBodySize = 64 * 1024 // 64KB

// SlackController handles the chat webhook that starts a login.
type SlackController struct {
	service *token.Service
	limiter rate.Limiter
}

// NewSlackController creates the webhook controller. limiter may be nil.
func NewSlackController(service *token.Service, limiter rate.Limiter) *SlackController {
	return &SlackController{service: service, limiter: limiter}
}

// Webhook handles POST /slack. The form body carries the shared secret
// in the "token" field plus the source payload; on success the reply is
// a plain-text message with the redemption URL.
func (c *SlackController) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("SlackController.Webhook"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	defer r.Body.Close()

	if err := r.ParseForm(); err != nil {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("invalid form"))
		return
	}

	payload := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		payload[k] = r.PostForm.Get(k)
	}

	if c.limiter != nil {
		key := payload["team_id"]
		if key == "" {
			key = r.RemoteAddr
		}
		res, err := c.limiter.Allow(ctx, "webhook:"+key)
		if err != nil {
			log.Warn("rate limiter unavailable", logger.Err(err))
		} else if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", res.RetryAfter.Seconds()))
			httperrors.WriteError(w, httperrors.ErrTooManyRequests)
			return
		}
	}

	url, err := c.service.Issue(ctx, payload)
	switch {
	case errors.Is(err, token.ErrForbidden):
		metrics.CountIssue("forbidden")
		w.WriteHeader(http.StatusForbidden)
		return
	case err != nil:
		metrics.CountIssue("error")
		log.Error("token issuance failed", logger.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	metrics.CountIssue("ok")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Welcome to duty. To log in, please visit %s", url)
}
