package push

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"push-device-backend/internal/wire"
)

// ErrNotSupported is returned by operations that are declared but not yet
// implemented, such as the notification category list.
var ErrNotSupported = errors.New("operation not supported yet")

// User-facing messages carried in error and warn events.
const (
	msgNoServiceWorker  = "no service worker is registered for this page"
	msgPermissionDenied = "push permission is denied; the subscription for this device was removed"
)

// Coordinator owns one subscription's lifecycle. It starts in waiting, and
// every mutation goes through a state transition that is fanned out to the
// subscribed listeners. Operations called in a state where they are not valid
// are logged and ignored; no fault escalates past the public operations, the
// host observes everything through events.
type Coordinator struct {
	clientURL  string
	storageKey string
	options    SubscribeOptions

	workers WorkerResolver
	local   LocalStore
	api     APIClient

	// opMu serializes public operations end to end, so two renewal flows can
	// never both pass the entry state check.
	opMu sync.Mutex

	stateMu sync.Mutex
	state   State

	lisMu     sync.Mutex
	listeners []listenerEntry
	nextLisID int
}

type listenerEntry struct {
	id int
	fn Listener
}

// NewCoordinator creates a coordinator in the waiting state. Most hosts
// should obtain coordinators through a Registry instead.
func NewCoordinator(clientURL, storageKey string, options SubscribeOptions, workers WorkerResolver, local LocalStore, api APIClient) *Coordinator {
	return &Coordinator{
		clientURL:  clientURL,
		storageKey: storageKey,
		options:    options,
		workers:    workers,
		local:      local,
		api:        api,
		state:      State{Kind: StateWaiting},
	}
}

// State returns the currently active state.
func (c *Coordinator) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Subscribe registers a listener for coordinator events and returns a
// function that removes it again. Add and remove are safe during an ongoing
// fan-out.
func (c *Coordinator) Subscribe(l Listener) (cancel func()) {
	c.lisMu.Lock()
	id := c.nextLisID
	c.nextLisID++
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: l})
	c.lisMu.Unlock()

	return func() {
		c.lisMu.Lock()
		defer c.lisMu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				break
			}
		}
	}
}

// CheckPush starts the coordinator. Valid only in waiting. Without a local
// record it settles in idle; with one it renews the stored subscription under
// the stored device labels.
func (c *Coordinator) CheckPush(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if kind := c.State().Kind; kind != StateWaiting {
		log.Printf("push: checkPush ignored in state %s", kind)
		return
	}

	rec := c.local.Load(c.storageKey)
	if rec == nil {
		c.setSimple(StateIdle)
		return
	}
	c.renew(ctx, rec.Device, rec.Browser)
}

// TryCreateSubscription opens the device editing step. Valid only in idle.
// The draft is pre-filled from the local record when one exists.
func (c *Coordinator) TryCreateSubscription() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if kind := c.State().Kind; kind != StateIdle {
		log.Printf("push: tryCreateSubscription ignored in state %s", kind)
		return
	}

	draft := EditedDevice{}
	if rec := c.local.Load(c.storageKey); rec != nil {
		draft.Device = rec.Device
		draft.Browser = rec.Browser
	}
	c.setState(State{Kind: StateEditingBeforeCreation, EditedDevice: &draft})
}

// ConfirmDevice accepts the edited device labels and runs the renewal flow.
// Valid only in editing-before-creation.
func (c *Coordinator) ConfirmDevice(ctx context.Context, device, browser string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if kind := c.State().Kind; kind != StateEditingBeforeCreation {
		log.Printf("push: confirmDevice ignored in state %s", kind)
		return
	}
	c.renew(ctx, device, browser)
}

// Cancel leaves the editing step or the device list and returns to idle.
func (c *Coordinator) Cancel() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch kind := c.State().Kind; kind {
	case StateEditingBeforeCreation, StateDeviceList:
		c.setSimple(StateIdle)
	default:
		log.Printf("push: cancel ignored in state %s", kind)
	}
}

// ListDevices fetches all devices registered for the current user and enters
// the device-list state. Valid only in idle. Session faults are surfaced as
// events and return the coordinator to idle; other faults park it in error.
func (c *Coordinator) ListDevices(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if kind := c.State().Kind; kind != StateIdle {
		log.Printf("push: listDevices ignored in state %s", kind)
		return
	}

	ownID := ""
	if rec := c.local.Load(c.storageKey); rec != nil {
		ownID = rec.ID
	}

	c.setSimple(StateLoadingDeviceList)
	res, err := c.api.DeviceList(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// The caller went away while we were waiting; drop the result.
			c.setSimple(StateIdle)
			return
		}
		c.fire(Event{Kind: EventError, Message: err.Error()})
		c.setSimple(StateError)
		return
	}

	switch res.Type {
	case wire.TypeSuccess:
		c.setState(State{Kind: StateDeviceList, Devices: res.Devices, OwnDeviceID: ownID})
	case wire.TypeNoSession:
		c.fire(Event{Kind: EventNoSession})
		c.setSimple(StateIdle)
	case wire.TypeOtherSession:
		c.fire(Event{Kind: EventOtherSession})
		c.setSimple(StateIdle)
	case wire.TypeError:
		c.fire(Event{Kind: EventError, Message: res.Error})
		c.setSimple(StateError)
	default:
		c.fire(Event{Kind: EventError, Message: "unexpected device list response"})
		c.setSimple(StateError)
	}
}

// DeleteDevices removes the given device ids from the registry and prunes
// them from the held device list. Valid only in device-list. Session faults
// are surfaced as events; the list state is kept so the host can retry.
func (c *Coordinator) DeleteDevices(ctx context.Context, ids []string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	state := c.State()
	if state.Kind != StateDeviceList {
		log.Printf("push: deleteDevices ignored in state %s", state.Kind)
		return
	}

	res, err := c.api.DeviceDelete(ctx, ids)
	if err != nil {
		c.fire(Event{Kind: EventError, Message: err.Error()})
		return
	}

	switch res.Type {
	case wire.TypeSuccess:
		deleted := make(map[string]bool, len(ids))
		for _, id := range ids {
			deleted[id] = true
		}
		kept := make([]wire.Device, 0, len(state.Devices))
		for _, d := range state.Devices {
			if !deleted[d.ID] {
				kept = append(kept, d)
			}
		}
		c.setState(State{Kind: StateDeviceList, Devices: kept, OwnDeviceID: state.OwnDeviceID})
	case wire.TypeNoSession:
		c.fire(Event{Kind: EventNoSession})
	case wire.TypeOtherSession:
		c.fire(Event{Kind: EventOtherSession})
	}
}

// OpenCategoryList will show the notification category list once categories
// exist server-side.
func (c *Coordinator) OpenCategoryList() error {
	return ErrNotSupported
}

// renew drives the shared renewal flow: resolve the service worker, check the
// permission, then either (re)subscribe and upload the result, or clear the
// subscription when permission is denied.
func (c *Coordinator) renew(ctx context.Context, device, browser string) {
	c.setSimple(StateGettingWorker)
	reg, err := c.workers.GetRegistration(ctx, c.clientURL)
	if err != nil || reg == nil {
		if err != nil {
			log.Printf("push: service worker lookup failed: %v", err)
		}
		c.setSimple(StateError)
		c.fire(Event{Kind: EventError, Message: msgNoServiceWorker})
		return
	}

	c.setSimple(StateCheckingPermission)
	perm, err := reg.PermissionState(ctx, c.options)
	if err != nil {
		log.Printf("push: permission query failed, treating as denied: %v", err)
		perm = PermissionDenied
	}

	id := ""
	if rec := c.local.Load(c.storageKey); rec != nil {
		id = rec.ID
	}
	if id == "" {
		id = uuid.NewString()
	}

	if perm == PermissionDenied {
		c.clearSubscription(ctx, device, browser, id)
		return
	}

	// granted or prompt: subscribing triggers the prompt if needed.
	c.setSimple(StateSubscribing)
	sub, err := reg.Subscribe(ctx, c.options)
	if err != nil {
		// A rejected prompt surfaces as an error here. Same outcome as an
		// explicit denial.
		log.Printf("push: subscribe failed: %v", err)
		c.clearSubscription(ctx, device, browser, id)
		return
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		log.Printf("push: subscription not serializable: %v", err)
		c.clearSubscription(ctx, device, browser, id)
		return
	}
	subJSON := string(raw)

	if err := c.local.Save(c.storageKey, Record{
		ID:               id,
		Device:           device,
		Browser:          browser,
		SubscriptionJSON: &subJSON,
	}); err != nil {
		log.Printf("push: local save failed: %v", err)
	}

	c.setSimple(StateSendingSubscription)
	res, err := c.api.DeviceSet(ctx, wire.Device{
		ID:               id,
		Device:           device,
		Browser:          browser,
		SubscriptionJSON: &subJSON,
	})
	c.dispatchSet(res, err)
}

// clearSubscription is the deletion sub-flow: the local record loses its id
// and subscription, a warning is surfaced, and the null subscription is
// uploaded so the server forgets the endpoint too.
func (c *Coordinator) clearSubscription(ctx context.Context, device, browser, id string) {
	if err := c.local.Save(c.storageKey, Record{
		Device:           device,
		Browser:          browser,
		SubscriptionJSON: nil,
	}); err != nil {
		log.Printf("push: local save failed: %v", err)
	}
	c.fire(Event{Kind: EventWarn, Message: msgPermissionDenied})

	c.setSimple(StateDeletingSubscription)
	res, err := c.api.DeviceSet(ctx, wire.Device{
		ID:               id,
		Device:           device,
		Browser:          browser,
		SubscriptionJSON: nil,
	})
	c.dispatchSet(res, err)
}

// dispatchSet applies the device/set response. Every branch ends in idle:
// session and transport faults are events, not terminal states.
func (c *Coordinator) dispatchSet(res *wire.DeviceSetRes, err error) {
	if err != nil {
		c.fire(Event{Kind: EventError, Message: err.Error()})
		c.setSimple(StateIdle)
		return
	}
	switch res.Type {
	case wire.TypeSuccess:
		c.setSimple(StateIdle)
	case wire.TypeNoSession:
		c.fire(Event{Kind: EventNoSession})
		c.setSimple(StateIdle)
	case wire.TypeOtherSession:
		c.fire(Event{Kind: EventOtherSession})
		c.setSimple(StateIdle)
	case wire.TypeError:
		c.fire(Event{Kind: EventError, Message: res.Error})
		c.setSimple(StateIdle)
	default:
		c.fire(Event{Kind: EventError, Message: "unexpected device set response"})
		c.setSimple(StateIdle)
	}
}

func (c *Coordinator) setSimple(kind StateKind) {
	c.setState(State{Kind: kind})
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.fire(Event{Kind: EventStateChanged, State: s})
}

// fire delivers the event to a snapshot of the listener list, so add and
// remove during delivery cannot corrupt the iteration.
func (c *Coordinator) fire(e Event) {
	c.lisMu.Lock()
	snapshot := make([]listenerEntry, len(c.listeners))
	copy(snapshot, c.listeners)
	c.lisMu.Unlock()

	for _, entry := range snapshot {
		entry.fn(e)
	}
}
