package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pushrelay-service/internal/notify"
	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) AppendRecord(ctx context.Context, rec relay.NotificationRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockStore) ListRecords(ctx context.Context, q relay.RecordQuery) ([]relay.NotificationRecord, error) {
	args := m.Called(ctx, q)
	recs, _ := args.Get(0).([]relay.NotificationRecord)
	return recs, args.Error(1)
}

func (m *MockStore) RegisterDevice(ctx context.Context, reg relay.DeviceRegistration) error {
	return m.Called(ctx, reg).Error(0)
}

func (m *MockStore) UnregisterDevice(ctx context.Context, owner, device string) error {
	return m.Called(ctx, owner, device).Error(0)
}

func (m *MockStore) RemoveToken(ctx context.Context, owner, token string) error {
	return m.Called(ctx, owner, token).Error(0)
}

func (m *MockStore) ListDevices(ctx context.Context, owner string) ([]relay.DeviceRegistration, error) {
	args := m.Called(ctx, owner)
	regs, _ := args.Get(0).([]relay.DeviceRegistration)
	return regs, args.Error(1)
}

type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(regs []relay.DeviceRegistration, n relay.Notification) {
	m.Called(regs, n)
}

func newService(store *MockStore, launcher *MockLauncher, opts notify.Options) *notify.Service {
	return notify.NewService(store, store, launcher, opts, newTestLogger())
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	devices := []relay.DeviceRegistration{{Owner: "key-1", Device: "pixel", Token: "tok-1", Platform: relay.PlatformFCM}}

	t.Run("Applies defaults and launches fan-out", func(t *testing.T) {
		store := new(MockStore)
		launcher := new(MockLauncher)

		var stored relay.NotificationRecord
		store.On("AppendRecord", ctx, mock.AnythingOfType("relay.NotificationRecord")).Run(func(args mock.Arguments) {
			stored = args.Get(1).(relay.NotificationRecord)
		}).Return(nil)
		store.On("ListDevices", ctx, "key-1").Return(devices, nil)
		launcher.On("Launch", devices, relay.Notification{
			Title: notify.DefaultService,
			Body:  notify.DefaultOverview,
			Image: notify.DefaultImage,
		}).Return()

		rec, err := newService(store, launcher, notify.Options{}).Publish(ctx, "key-1", notify.MessageRequest{})
		require.NoError(t, err)

		assert.Equal(t, notify.DefaultService, stored.Service)
		assert.Equal(t, notify.DefaultOverview, stored.Overview)
		assert.Equal(t, "key-1", stored.Owner)
		assert.Nil(t, stored.Image)
		assert.Nil(t, stored.Data)
		assert.NotEmpty(t, rec.ID)
		assert.Positive(t, rec.Timestamp)
		launcher.AssertExpectations(t)
	})

	t.Run("Stores object data as JSON text", func(t *testing.T) {
		store := new(MockStore)
		launcher := new(MockLauncher)

		var stored relay.NotificationRecord
		store.On("AppendRecord", ctx, mock.Anything).Run(func(args mock.Arguments) {
			stored = args.Get(1).(relay.NotificationRecord)
		}).Return(nil)
		store.On("ListDevices", ctx, "key-1").Return([]relay.DeviceRegistration(nil), nil)

		_, err := newService(store, launcher, notify.Options{}).Publish(ctx, "key-1", notify.MessageRequest{
			Service: "backup",
			Data:    json.RawMessage(`{ "ok": true,  "n": 3 }`),
		})
		require.NoError(t, err)

		require.NotNil(t, stored.Data)
		assert.JSONEq(t, `{"ok":true,"n":3}`, *stored.Data)
		assert.Equal(t, `{"ok":true,"n":3}`, *stored.Data)
		launcher.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
	})

	t.Run("Uses record image and attaches data", func(t *testing.T) {
		store := new(MockStore)
		launcher := new(MockLauncher)
		img := "https://cdn.example/pic.png"

		store.On("AppendRecord", ctx, mock.Anything).Return(nil)
		store.On("ListDevices", ctx, "key-1").Return(devices, nil)

		var sent relay.Notification
		launcher.On("Launch", devices, mock.Anything).Run(func(args mock.Arguments) {
			sent = args.Get(1).(relay.Notification)
		}).Return()

		rec, err := newService(store, launcher, notify.Options{AttachData: true}).Publish(ctx, "key-1", notify.MessageRequest{
			Service:  "ci",
			Overview: "build green",
			Image:    &img,
			Data:     json.RawMessage(`"plain"`),
		})
		require.NoError(t, err)

		assert.Equal(t, img, sent.Image)
		assert.Equal(t, "ci", sent.Title)
		require.Contains(t, sent.Data, "main")
		var main relay.NotificationRecord
		require.NoError(t, json.Unmarshal([]byte(sent.Data["main"]), &main))
		assert.Equal(t, rec.ID, main.ID)
		require.NotNil(t, main.Data)
		assert.Equal(t, "plain", *main.Data)
	})

	t.Run("Append failure is returned", func(t *testing.T) {
		store := new(MockStore)
		store.On("AppendRecord", ctx, mock.Anything).Return(errors.New("disk full"))

		_, err := newService(store, new(MockLauncher), notify.Options{}).Publish(ctx, "key-1", notify.MessageRequest{})
		require.Error(t, err)
		store.AssertNotCalled(t, "ListDevices", mock.Anything, mock.Anything)
	})

	t.Run("Device lookup failure is returned", func(t *testing.T) {
		store := new(MockStore)
		launcher := new(MockLauncher)
		store.On("AppendRecord", ctx, mock.Anything).Return(nil)
		store.On("ListDevices", ctx, "key-1").Return(nil, errors.New("db down"))

		_, err := newService(store, launcher, notify.Options{}).Publish(ctx, "key-1", notify.MessageRequest{})
		require.Error(t, err)
		assert.ErrorContains(t, err, "db down")
		launcher.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		quantity int
		expected int
	}{
		{"Default quantity", 0, notify.DefaultQuantity},
		{"Explicit quantity", 3, 3},
		{"Clamped quantity", 5000, notify.MaxQuantity},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := new(MockStore)
			store.On("ListRecords", ctx, relay.RecordQuery{Owner: "key-1", Service: "S", Quantity: tc.expected}).
				Return([]relay.NotificationRecord(nil), nil)

			recs, err := newService(store, new(MockLauncher), notify.Options{}).Query(ctx, "key-1", "S", tc.quantity)
			require.NoError(t, err)
			assert.NotNil(t, recs)
			assert.Empty(t, recs)
			store.AssertExpectations(t)
		})
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	webToken := `{"endpoint":"https://push.example/x","keys":{"p256dh":"BPk","auth":"c2VjcmV0"}}`

	t.Run("Defaults platform to fcm", func(t *testing.T) {
		store := new(MockStore)
		store.On("RegisterDevice", ctx, mock.MatchedBy(func(reg relay.DeviceRegistration) bool {
			return reg.Owner == "key-1" && reg.Device == "pixel" && reg.Token == "tok" && reg.Platform == relay.PlatformFCM
		})).Return(nil)

		err := newService(store, new(MockLauncher), notify.Options{}).Register(ctx, "key-1", notify.RegisterRequest{Token: "tok", Device: "pixel"})
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("Accepts web subscription", func(t *testing.T) {
		store := new(MockStore)
		store.On("RegisterDevice", ctx, mock.Anything).Return(nil)

		err := newService(store, new(MockLauncher), notify.Options{}).Register(ctx, "key-1", notify.RegisterRequest{Token: webToken, Device: "firefox", Platform: relay.PlatformWeb})
		require.NoError(t, err)
	})

	invalid := []struct {
		name string
		req  notify.RegisterRequest
	}{
		{"Missing token", notify.RegisterRequest{Device: "pixel"}},
		{"Missing device", notify.RegisterRequest{Token: "tok"}},
		{"Semicolon in device", notify.RegisterRequest{Token: "tok", Device: "a;b"}},
		{"Unknown platform", notify.RegisterRequest{Token: "tok", Device: "pixel", Platform: "pager"}},
		{"Bad web subscription", notify.RegisterRequest{Token: "tok", Device: "chrome", Platform: relay.PlatformWeb}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			store := new(MockStore)
			err := newService(store, new(MockLauncher), notify.Options{}).Register(ctx, "key-1", tc.req)
			assert.ErrorIs(t, err, relay.ErrInvalidRegistration)
			store.AssertNotCalled(t, "RegisterDevice", mock.Anything, mock.Anything)
		})
	}
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("UnregisterDevice", ctx, "key-1", "ghost").Return(relay.ErrNotFound)

	err := newService(store, new(MockLauncher), notify.Options{}).Unregister(ctx, "key-1", "ghost")
	assert.ErrorIs(t, err, relay.ErrNotFound)
}
