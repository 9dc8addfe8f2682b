package api

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"push-device-backend/internal/store"
	"push-device-backend/internal/wire"
)

// ctxUserID is the gin context key under which the authenticated user id is
// stored by RequireSession.
const ctxUserID = "userID"

// RequireSession authenticates the request's session token. Requests without
// a usable session are answered with a noSession envelope; requests whose
// session has been superseded by a newer login get an otherSession envelope.
// The response status is always 200, the envelope type is the protocol.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortSession(c, wire.TypeNoSession)
			return
		}

		claims, err := h.sessions.Parse(token)
		if err != nil {
			abortSession(c, wire.TypeNoSession)
			return
		}

		sess, err := h.store.GetSession(c.Request.Context(), claims.SessionID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("session lookup failed: %v", err)
			}
			abortSession(c, wire.TypeNoSession)
			return
		}
		if sess.UserID != claims.Subject || sess.Expired(time.Now()) {
			abortSession(c, wire.TypeNoSession)
			return
		}

		current, err := h.store.IsCurrentSession(c.Request.Context(), sess.UserID, sess.ID)
		if err != nil {
			log.Printf("current-session check failed: %v", err)
			abortSession(c, wire.TypeNoSession)
			return
		}
		if !current {
			abortSession(c, wire.TypeOtherSession)
			return
		}

		c.Set(ctxUserID, sess.UserID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie("session"); err == nil {
		return cookie
	}
	return ""
}

func abortSession(c *gin.Context, kind string) {
	c.AbortWithStatusJSON(http.StatusOK, gin.H{"type": kind})
}
