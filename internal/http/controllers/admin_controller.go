package controllers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/dutydesk/internal/couch"
	httperrors "github.com/dropDatabas3/dutydesk/internal/http/errors"
	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
)

// AdminController serves operational stats behind a bearer token.
type AdminController struct {
	store    couch.Store
	ticketDB string
	secret   []byte
}

// NewAdminController creates the admin controller. An empty secret
// disables the endpoint entirely.
func NewAdminController(store couch.Store, ticketDB, secret string) *AdminController {
	return &AdminController{store: store, ticketDB: ticketDB, secret: []byte(secret)}
}

// Stats handles GET /admin/stats.
func (c *AdminController) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AdminController.Stats"))

	if len(c.secret) == 0 {
		httperrors.WriteError(w, httperrors.ErrForbidden)
		return
	}
	if !c.authorized(r) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	info, err := c.store.Info(ctx, c.ticketDB)
	if err != nil {
		log.Error("stats query failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError)
		return
	}
	users, err := c.store.Query(ctx, c.ticketDB, couch.ViewUsers, couch.QueryOptions{})
	if err != nil {
		log.Error("stats query failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError)
		return
	}

	httperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"doc_count":  info.DocCount,
		"user_count": len(users),
	})
}

func (c *AdminController) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		return false
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && tok.Valid
}
