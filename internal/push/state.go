package push

import "push-device-backend/internal/wire"

// StateKind identifies a coordinator state.
type StateKind string

// Coordinator states. All are simple except editing-before-creation (carries
// the draft device labels) and device-list (carries the fetched devices plus
// the own-device id).
const (
	StateWaiting               StateKind = "waiting"
	StateIdle                  StateKind = "idle"
	StateError                 StateKind = "error"
	StateGettingWorker         StateKind = "getting-worker"
	StateCheckingPermission    StateKind = "checking-permission"
	StateDeletingSubscription  StateKind = "deleting-subscription"
	StateSubscribing           StateKind = "subscribing"
	StateSendingSubscription   StateKind = "sending-subscription"
	StateLoadingDeviceList     StateKind = "loading-device-list"
	StateNoSession             StateKind = "no-session"
	StateOtherSession          StateKind = "other-session"
	StateEditingBeforeCreation StateKind = "editing-before-creation"
	StateDeviceList            StateKind = "device-list"
)

// EditedDevice is the draft device/browser pair shown while a subscription is
// being created.
type EditedDevice struct {
	Device  string
	Browser string
}

// State is the coordinator's tagged union state. Exactly one state is active
// at a time; the payload fields are only set for the kinds noted above.
type State struct {
	Kind StateKind

	// EditedDevice is set for StateEditingBeforeCreation.
	EditedDevice *EditedDevice

	// Devices and OwnDeviceID are set for StateDeviceList. OwnDeviceID is
	// empty when no push subscription is registered for this device.
	Devices     []wire.Device
	OwnDeviceID string
}

// EventKind identifies a coordinator event.
type EventKind string

// Coordinator events. EventStateChanged fires on every transition; the others
// are side events surfaced to the host UI.
const (
	EventStateChanged EventKind = "stateChanged"
	EventNoSession    EventKind = "noSession"
	EventOtherSession EventKind = "otherSession"
	EventError        EventKind = "error"
	EventWarn         EventKind = "warn"
)

// Event is delivered to subscribed listeners.
type Event struct {
	Kind EventKind

	// State is set for EventStateChanged.
	State State

	// Message is set for EventError and EventWarn.
	Message string
}

// Listener receives coordinator events. Listeners are invoked synchronously
// and in subscription order; a listener must not call back into the
// coordinator from inside the callback.
type Listener func(Event)
