package push

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-device-backend/internal/wire"
)

const testScope = "https://app.example/"
const testKey = "pushSubscription"

// fakeRegistration is a scripted browser push registration.
type fakeRegistration struct {
	permission   Permission
	permErr      error
	subscription *webpush.Subscription
	subscribeErr error

	subscribeCalls int
}

func (r *fakeRegistration) PermissionState(_ context.Context, _ SubscribeOptions) (Permission, error) {
	return r.permission, r.permErr
}

func (r *fakeRegistration) Subscribe(_ context.Context, _ SubscribeOptions) (*webpush.Subscription, error) {
	r.subscribeCalls++
	if r.subscribeErr != nil {
		return nil, r.subscribeErr
	}
	return r.subscription, nil
}

// fakeResolver returns a scripted registration, or none.
type fakeResolver struct {
	reg *fakeRegistration
	err error

	requestedScope string
}

func (f *fakeResolver) GetRegistration(_ context.Context, scope string) (Registration, error) {
	f.requestedScope = scope
	if f.err != nil {
		return nil, f.err
	}
	if f.reg == nil {
		return nil, nil
	}
	return f.reg, nil
}

// fakeAPI records calls and returns scripted envelopes.
type fakeAPI struct {
	setCalls [][]byte // marshalled wire.Device per call
	setRes   wire.DeviceSetRes
	setErr   error

	listCalls int
	listRes   wire.DeviceListRes
	listErr   error

	deleteCalls [][]string
	deleteRes   wire.DeviceDeleteRes
	deleteErr   error
}

func (f *fakeAPI) DeviceList(_ context.Context) (*wire.DeviceListRes, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	res := f.listRes
	return &res, nil
}

func (f *fakeAPI) DeviceSet(_ context.Context, device wire.Device) (*wire.DeviceSetRes, error) {
	raw, _ := json.Marshal(device)
	f.setCalls = append(f.setCalls, raw)
	if f.setErr != nil {
		return nil, f.setErr
	}
	res := f.setRes
	return &res, nil
}

func (f *fakeAPI) DeviceDelete(_ context.Context, ids []string) (*wire.DeviceDeleteRes, error) {
	f.deleteCalls = append(f.deleteCalls, ids)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	res := f.deleteRes
	return &res, nil
}

func (f *fakeAPI) lastSetDevice(t *testing.T) wire.Device {
	t.Helper()
	require.NotEmpty(t, f.setCalls)
	var device wire.Device
	require.NoError(t, json.Unmarshal(f.setCalls[len(f.setCalls)-1], &device))
	return device
}

// recorder collects every event a coordinator fires.
type recorder struct {
	events []Event
}

func (r *recorder) listen(e Event) {
	r.events = append(r.events, e)
}

// states returns the state kinds of the stateChanged events, in order.
func (r *recorder) states() []StateKind {
	var kinds []StateKind
	for _, e := range r.events {
		if e.Kind == EventStateChanged {
			kinds = append(kinds, e.State.Kind)
		}
	}
	return kinds
}

func (r *recorder) sideEvents() []EventKind {
	var kinds []EventKind
	for _, e := range r.events {
		if e.Kind != EventStateChanged {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

type fixture struct {
	coordinator *Coordinator
	resolver    *fakeResolver
	api         *fakeAPI
	local       LocalStore
	recorder    *recorder
}

func newFixture(t *testing.T, reg *fakeRegistration) *fixture {
	t.Helper()
	f := &fixture{
		resolver: &fakeResolver{reg: reg},
		api:      &fakeAPI{},
		local:    NewCacheStore(),
		recorder: &recorder{},
	}
	opts := SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: "test-vapid-key"}
	f.coordinator = NewCoordinator(testScope, testKey, opts, f.resolver, f.local, f.api)
	cancel := f.coordinator.Subscribe(f.recorder.listen)
	t.Cleanup(cancel)
	return f
}

func grantedRegistration() *fakeRegistration {
	return &fakeRegistration{
		permission: PermissionGranted,
		subscription: &webpush.Subscription{
			Endpoint: "https://push.example/ep",
			Keys:     webpush.Keys{P256dh: "BPub", Auth: "auth"},
		},
	}
}

func seedLocal(t *testing.T, local LocalStore, rec Record) {
	t.Helper()
	require.NoError(t, local.Save(testKey, rec))
}

func TestCheckPush_NoLocalRecord(t *testing.T) {
	f := newFixture(t, grantedRegistration())

	f.coordinator.CheckPush(context.Background())

	assert.Equal(t, StateIdle, f.coordinator.State().Kind)
	assert.Equal(t, []StateKind{StateIdle}, f.recorder.states())
	assert.Empty(t, f.recorder.sideEvents())
	assert.Empty(t, f.api.setCalls, "no server calls without a local record")
	assert.Zero(t, f.api.listCalls)
}

func TestCheckPush_RenewsStoredSubscription(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	f.api.setRes = wire.DeviceSetRes{Type: wire.TypeSuccess}
	old := `{"endpoint":"https://push.example/old"}`
	seedLocal(t, f.local, Record{ID: "abc", Device: "Phone", Browser: "Chrome", SubscriptionJSON: &old})

	f.coordinator.CheckPush(context.Background())

	assert.Equal(t, []StateKind{
		StateGettingWorker,
		StateCheckingPermission,
		StateSubscribing,
		StateSendingSubscription,
		StateIdle,
	}, f.recorder.states())
	assert.Empty(t, f.recorder.sideEvents())
	assert.Equal(t, testScope, f.resolver.requestedScope)

	sent := f.api.lastSetDevice(t)
	assert.Equal(t, "abc", sent.ID, "stored id is reused across renewals")
	assert.Equal(t, "Phone", sent.Device)
	assert.Equal(t, "Chrome", sent.Browser)
	require.NotNil(t, sent.SubscriptionJSON)
	assert.Contains(t, *sent.SubscriptionJSON, "https://push.example/ep")

	rec := f.local.Load(testKey)
	require.NotNil(t, rec)
	assert.Equal(t, "abc", rec.ID)
	require.NotNil(t, rec.SubscriptionJSON)
	assert.Contains(t, *rec.SubscriptionJSON, "https://push.example/ep")
	assert.Positive(t, rec.WrittenAt)
}

func TestCheckPush_PermissionDenied(t *testing.T) {
	reg := grantedRegistration()
	reg.permission = PermissionDenied
	f := newFixture(t, reg)
	f.api.setRes = wire.DeviceSetRes{Type: wire.TypeSuccess}
	old := `{"endpoint":"https://push.example/old"}`
	seedLocal(t, f.local, Record{ID: "abc", Device: "Phone", Browser: "Chrome", SubscriptionJSON: &old})

	f.coordinator.CheckPush(context.Background())

	assert.Equal(t, []StateKind{
		StateGettingWorker,
		StateCheckingPermission,
		StateDeletingSubscription,
		StateIdle,
	}, f.recorder.states())
	assert.Equal(t, []EventKind{EventWarn}, f.recorder.sideEvents())
	assert.Zero(t, reg.subscribeCalls)

	sent := f.api.lastSetDevice(t)
	assert.Equal(t, "abc", sent.ID)
	assert.Equal(t, "Phone", sent.Device)
	assert.Equal(t, "Chrome", sent.Browser)
	assert.Nil(t, sent.SubscriptionJSON, "deletion always uploads a null subscription")

	rec := f.local.Load(testKey)
	require.NotNil(t, rec)
	assert.Empty(t, rec.ID, "revocation clears the stored id")
	assert.Equal(t, "Phone", rec.Device)
	assert.Equal(t, "Chrome", rec.Browser)
	assert.Nil(t, rec.SubscriptionJSON)
}

func TestCheckPush_SubscribeRejectionFallsBackToDeletion(t *testing.T) {
	reg := grantedRegistration()
	reg.permission = PermissionPrompt
	reg.subscribeErr = errors.New("user dismissed the prompt")
	f := newFixture(t, reg)
	f.api.setRes = wire.DeviceSetRes{Type: wire.TypeSuccess}
	old := `{"endpoint":"https://push.example/old"}`
	seedLocal(t, f.local, Record{ID: "abc", Device: "Phone", Browser: "Chrome", SubscriptionJSON: &old})

	f.coordinator.CheckPush(context.Background())

	assert.Equal(t, []StateKind{
		StateGettingWorker,
		StateCheckingPermission,
		StateSubscribing,
		StateDeletingSubscription,
		StateIdle,
	}, f.recorder.states())
	assert.Equal(t, []EventKind{EventWarn}, f.recorder.sideEvents(), "rejection is surfaced as a warning, never an error")

	sent := f.api.lastSetDevice(t)
	assert.Nil(t, sent.SubscriptionJSON)
	rec := f.local.Load(testKey)
	require.NotNil(t, rec)
	assert.Nil(t, rec.SubscriptionJSON)
}

func TestCheckPush_NoServiceWorker(t *testing.T) {
	f := newFixture(t, nil)
	old := `{"endpoint":"https://push.example/old"}`
	seedLocal(t, f.local, Record{ID: "abc", Device: "Phone", Browser: "Chrome", SubscriptionJSON: &old})

	f.coordinator.CheckPush(context.Background())

	assert.Equal(t, StateError, f.coordinator.State().Kind)
	assert.Equal(t, []EventKind{EventError}, f.recorder.sideEvents())
	assert.Empty(t, f.api.setCalls)
}

func TestConfirmDevice_FullFlow(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	f.api.setRes = wire.DeviceSetRes{Type: wire.TypeSuccess}

	f.coordinator.CheckPush(context.Background())
	f.coordinator.TryCreateSubscription()

	state := f.coordinator.State()
	require.Equal(t, StateEditingBeforeCreation, state.Kind)
	require.NotNil(t, state.EditedDevice)
	assert.Empty(t, state.EditedDevice.Device, "no local record, draft defaults to empty labels")

	f.coordinator.ConfirmDevice(context.Background(), "Laptop", "Firefox")

	assert.Equal(t, StateIdle, f.coordinator.State().Kind)
	sent := f.api.lastSetDevice(t)
	assert.Equal(t, "Laptop", sent.Device)
	assert.Equal(t, "Firefox", sent.Browser)
	assert.NotEmpty(t, sent.ID, "a fresh id is generated when none is stored")
	require.NotNil(t, sent.SubscriptionJSON)

	rec := f.local.Load(testKey)
	require.NotNil(t, rec)
	assert.Equal(t, sent.ID, rec.ID)
}

func TestTryCreateSubscription_PrefillsDraftFromLocalRecord(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	seedLocal(t, f.local, Record{Device: "Phone", Browser: "Chrome"})

	// Reach idle: the record has no subscription id but still carries labels.
	f.api.setRes = wire.DeviceSetRes{Type: wire.TypeSuccess}
	f.coordinator.CheckPush(context.Background())
	require.Equal(t, StateIdle, f.coordinator.State().Kind)

	f.coordinator.TryCreateSubscription()

	state := f.coordinator.State()
	require.Equal(t, StateEditingBeforeCreation, state.Kind)
	require.NotNil(t, state.EditedDevice)
	assert.Equal(t, "Phone", state.EditedDevice.Device)
	assert.Equal(t, "Chrome", state.EditedDevice.Browser)
}

func TestSendDispatch_SessionAndErrorEnvelopes(t *testing.T) {
	testCases := []struct {
		name      string
		res       wire.DeviceSetRes
		err       error
		wantSides []EventKind
	}{
		{"noSession", wire.DeviceSetRes{Type: wire.TypeNoSession}, nil, []EventKind{EventNoSession}},
		{"otherSession", wire.DeviceSetRes{Type: wire.TypeOtherSession}, nil, []EventKind{EventOtherSession}},
		{"server error", wire.DeviceSetRes{Type: wire.TypeError, Error: "boom"}, nil, []EventKind{EventError}},
		{"transport error", wire.DeviceSetRes{}, errors.New("connection refused"), []EventKind{EventError}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, grantedRegistration())
			f.api.setRes = tc.res
			f.api.setErr = tc.err
			old := `{"endpoint":"https://push.example/old"}`
			seedLocal(t, f.local, Record{ID: "abc", Device: "Phone", Browser: "Chrome", SubscriptionJSON: &old})

			f.coordinator.CheckPush(context.Background())

			// Session and transport faults never park the coordinator.
			assert.Equal(t, StateIdle, f.coordinator.State().Kind)
			assert.Equal(t, tc.wantSides, f.recorder.sideEvents())
		})
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	f.coordinator.CheckPush(context.Background())

	f.coordinator.TryCreateSubscription()
	require.Equal(t, StateEditingBeforeCreation, f.coordinator.State().Kind)
	f.coordinator.Cancel()
	assert.Equal(t, StateIdle, f.coordinator.State().Kind)

	f.api.listRes = wire.DeviceListRes{Type: wire.TypeSuccess, Devices: []wire.Device{}}
	f.coordinator.ListDevices(context.Background())
	require.Equal(t, StateDeviceList, f.coordinator.State().Kind)
	f.coordinator.Cancel()
	assert.Equal(t, StateIdle, f.coordinator.State().Kind)
}

func TestListDevices_Success(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	f.api.setRes = wire.DeviceSetRes{Type: wire.TypeSuccess}
	old := `{"endpoint":"https://push.example/old"}`
	seedLocal(t, f.local, Record{ID: "own-id", Device: "Phone", Browser: "Chrome", SubscriptionJSON: &old})
	f.coordinator.CheckPush(context.Background())
	require.Equal(t, StateIdle, f.coordinator.State().Kind)

	f.api.listRes = wire.DeviceListRes{
		Type: wire.TypeSuccess,
		Devices: []wire.Device{
			{ID: "own-id", Device: "Phone", Browser: "Chrome"},
			{ID: "other-id", Device: "Desk", Browser: "Edge"},
		},
	}
	f.coordinator.ListDevices(context.Background())

	state := f.coordinator.State()
	require.Equal(t, StateDeviceList, state.Kind)
	assert.Len(t, state.Devices, 2)
	assert.Equal(t, "own-id", state.OwnDeviceID)
}

func TestListDevices_SessionFaultReturnsToIdle(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	f.coordinator.CheckPush(context.Background())

	f.api.listRes = wire.DeviceListRes{Type: wire.TypeNoSession}
	f.coordinator.ListDevices(context.Background())

	assert.Equal(t, StateIdle, f.coordinator.State().Kind)
	assert.Equal(t, []EventKind{EventNoSession}, f.recorder.sideEvents())
}

func TestListDevices_TransportFaultParksInError(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	f.coordinator.CheckPush(context.Background())

	f.api.listErr = errors.New("connection refused")
	f.coordinator.ListDevices(context.Background())

	assert.Equal(t, StateError, f.coordinator.State().Kind)
	assert.Equal(t, []EventKind{EventError}, f.recorder.sideEvents())
}

func TestDeleteDevices_PrunesHeldList(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	f.coordinator.CheckPush(context.Background())

	f.api.listRes = wire.DeviceListRes{
		Type: wire.TypeSuccess,
		Devices: []wire.Device{
			{ID: "keep"},
			{ID: "drop"},
		},
	}
	f.coordinator.ListDevices(context.Background())
	require.Equal(t, StateDeviceList, f.coordinator.State().Kind)

	f.api.deleteRes = wire.DeviceDeleteRes{Type: wire.TypeSuccess}
	f.coordinator.DeleteDevices(context.Background(), []string{"drop"})

	state := f.coordinator.State()
	require.Equal(t, StateDeviceList, state.Kind)
	require.Len(t, state.Devices, 1)
	assert.Equal(t, "keep", state.Devices[0].ID)
	assert.Equal(t, [][]string{{"drop"}}, f.api.deleteCalls)
}

func TestWrongStateCallsAreSilentNoOps(t *testing.T) {
	f := newFixture(t, grantedRegistration())

	// Still waiting: none of these are legal yet.
	f.coordinator.TryCreateSubscription()
	f.coordinator.ConfirmDevice(context.Background(), "d", "b")
	f.coordinator.Cancel()
	f.coordinator.ListDevices(context.Background())
	f.coordinator.DeleteDevices(context.Background(), []string{"x"})

	assert.Equal(t, StateWaiting, f.coordinator.State().Kind)
	assert.Empty(t, f.recorder.events, "illegal calls fire no events")
	assert.Empty(t, f.api.setCalls)
	assert.Zero(t, f.api.listCalls)
	assert.Empty(t, f.api.deleteCalls)

	// checkPush is only legal once.
	f.coordinator.CheckPush(context.Background())
	require.Equal(t, StateIdle, f.coordinator.State().Kind)
	before := len(f.recorder.events)
	f.coordinator.CheckPush(context.Background())
	assert.Len(t, f.recorder.events, before)
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t, grantedRegistration())

	var second []Event
	cancel := f.coordinator.Subscribe(func(e Event) { second = append(second, e) })
	cancel()

	f.coordinator.CheckPush(context.Background())

	assert.NotEmpty(t, f.recorder.events)
	assert.Empty(t, second, "removed listener must not be invoked")
}

func TestOpenCategoryList_NotSupported(t *testing.T) {
	f := newFixture(t, grantedRegistration())
	assert.ErrorIs(t, f.coordinator.OpenCategoryList(), ErrNotSupported)
}

func TestRegistry_SharesCoordinatorPerPair(t *testing.T) {
	deps := Deps{
		Workers: &fakeResolver{reg: grantedRegistration()},
		Local:   NewCacheStore(),
		API:     &fakeAPI{},
		Options: SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: "k"},
	}
	registry := NewRegistry(deps)

	a := registry.Coordinator(testScope, testKey)
	b := registry.Coordinator(testScope, testKey)
	assert.Same(t, a, b, "same pair shares one state machine")

	c := registry.Coordinator(testScope, "otherKey")
	assert.NotSame(t, a, c)
}
