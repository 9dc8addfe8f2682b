// Package wire defines the request and response envelopes exchanged between
// the subscription coordinator and the device registry endpoints. Responses
// are a tagged union: the Type field selects which of the remaining fields are
// meaningful.
package wire

// Version is the client protocol version carried in every request envelope.
// The server rejects mismatched requests with an error envelope.
const Version = "1"

// Response envelope kinds.
const (
	TypeSuccess      = "success"
	TypeNoSession    = "noSession"
	TypeOtherSession = "otherSession"
	TypeError        = "error"
)

// Device is the wire form of a pushed device record. SubscriptionJSON is nil
// exactly when no active browser subscription exists for the device.
type Device struct {
	ID               string  `json:"id"`
	Device           string  `json:"device"`
	Browser          string  `json:"browser"`
	SubscriptionJSON *string `json:"subscriptionJson"`
}

// DeviceListReq is the body of POST /api/pushNotifications/device/list.
type DeviceListReq struct {
	V string `json:"v"`
}

// DeviceListRes answers a device list request.
type DeviceListRes struct {
	Type    string   `json:"type"`
	Devices []Device `json:"devices,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// DeviceSetReq is the body of POST /api/pushNotifications/device/set.
type DeviceSetReq struct {
	V      string `json:"v"`
	Device Device `json:"device"`
}

// DeviceSetRes answers a device upsert request. Upserted is true when a new
// row was created rather than an existing one replaced.
type DeviceSetRes struct {
	Type     string `json:"type"`
	Upserted bool   `json:"upserted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DeviceDeleteReq is the body of POST /api/pushNotifications/device/delete.
type DeviceDeleteReq struct {
	V   string   `json:"v"`
	IDs []string `json:"ids"`
}

// DeviceDeleteRes answers a bulk delete request.
type DeviceDeleteRes struct {
	Type string `json:"type"`
}
