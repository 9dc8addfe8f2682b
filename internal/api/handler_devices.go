package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"push-device-backend/internal/wire"
)

// ListDevices handles POST /api/pushNotifications/device/list. It returns all
// devices owned by the authenticated user.
func (h *Handler) ListDevices(c *gin.Context) {
	var req wire.DeviceListReq
	if !bindEnvelope(c, &req) {
		return
	}

	userID := c.GetString(ctxUserID)
	devices, err := h.store.ListDevices(c.Request.Context(), userID)
	if err != nil {
		log.Printf("device list failed for user %s: %v", userID, err)
		respondError(c, "could not load device list")
		return
	}

	out := make([]wire.Device, len(devices))
	for i, d := range devices {
		out[i] = wire.Device{
			ID:               d.ID,
			Device:           d.Device,
			Browser:          d.Browser,
			SubscriptionJSON: d.SubscriptionJSON,
		}
	}
	c.JSON(http.StatusOK, wire.DeviceListRes{Type: wire.TypeSuccess, Devices: out})
}

// SetDevice handles POST /api/pushNotifications/device/set. It upserts the
// record keyed by (device id, authenticated user).
func (h *Handler) SetDevice(c *gin.Context) {
	var req wire.DeviceSetReq
	if !bindEnvelope(c, &req) {
		return
	}

	if _, err := uuid.Parse(req.Device.ID); err != nil {
		respondError(c, "invalid device id")
		return
	}
	if req.Device.SubscriptionJSON != nil && !validSubscriptionJSON(*req.Device.SubscriptionJSON) {
		respondError(c, "invalid subscription payload")
		return
	}

	userID := c.GetString(ctxUserID)
	upserted, err := h.store.UpsertDevice(c.Request.Context(), userID, req.Device)
	if err != nil {
		log.Printf("device set failed for user %s: %v", userID, err)
		respondError(c, "could not store device")
		return
	}
	c.JSON(http.StatusOK, wire.DeviceSetRes{Type: wire.TypeSuccess, Upserted: upserted})
}

// DeleteDevices handles POST /api/pushNotifications/device/delete. Ids not
// owned by the caller are skipped, never reported: the operation is idempotent
// and safe against stale client state.
func (h *Handler) DeleteDevices(c *gin.Context) {
	var req wire.DeviceDeleteReq
	if !bindEnvelope(c, &req) {
		return
	}

	userID := c.GetString(ctxUserID)
	if _, err := h.store.DeleteDevices(c.Request.Context(), userID, req.IDs); err != nil {
		log.Printf("device delete failed for user %s: %v", userID, err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, wire.DeviceDeleteRes{Type: wire.TypeSuccess})
}

// bindEnvelope decodes the request body and enforces the protocol version.
// On failure it writes the error envelope and returns false.
func bindEnvelope(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, "invalid request")
		return false
	}
	v := ""
	switch r := req.(type) {
	case *wire.DeviceListReq:
		v = r.V
	case *wire.DeviceSetReq:
		v = r.V
	case *wire.DeviceDeleteReq:
		v = r.V
	}
	if v != wire.Version {
		respondError(c, "client version mismatch")
		return false
	}
	return true
}

func respondError(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusOK, gin.H{"type": wire.TypeError, "error": msg})
}

// validSubscriptionJSON checks that the payload decodes into a usable web
// push subscription with an endpoint and both encryption keys.
func validSubscriptionJSON(raw string) bool {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return false
	}
	return sub.Endpoint != "" && sub.Keys.P256dh != "" && sub.Keys.Auth != ""
}
