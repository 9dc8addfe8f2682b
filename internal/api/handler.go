package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"push-device-backend/internal/session"
	"push-device-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	sessions *session.Manager
	webpush  *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, sessions *session.Manager, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		sessions: sessions,
		webpush:  webpushOptions,
	}
}
