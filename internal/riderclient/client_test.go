package riderclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ridelink/internal/backend"
	"github.com/example/ridelink/internal/config"
	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.RiderConfig {
	return config.RiderConfig{
		ClientConfig: config.ClientConfig{
			RequestTimeout: 10 * time.Second,
			MaxMediaMB:     5,
		},
		ETASpeedKmh: 30,
	}
}

type fakeBackend struct {
	mu         sync.Mutex
	requestErr error
	cancelErr  error
	requests   int
	cancels    []string
	media      []string
}

func (b *fakeBackend) RequestRide(ctx context.Context, req backend.RideRequest) (backend.RideCreated, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requestErr != nil {
		return backend.RideCreated{}, b.requestErr
	}
	b.requests++
	return backend.RideCreated{RideID: "r1", OTP: "654321"}, nil
}

func (b *fakeBackend) CancelRide(ctx context.Context, rideID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.cancels = append(b.cancels, rideID)
	return nil
}

func (b *fakeBackend) SendMedia(ctx context.Context, rideID, recipientID, filename, contentType string, data []byte) (models.MediaRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.media = append(b.media, filename)
	return models.MediaRef{RideID: rideID, URL: "https://cdn/" + filename, SenderID: "u1", SentAt: time.Now()}, nil
}

type fakeSession struct {
	mu       sync.Mutex
	handlers map[string][]transport.Handler
	emits    []string
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[string][]transport.Handler)}
}

func (s *fakeSession) Subscribe(event string, h transport.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
	return func() {}
}

func (s *fakeSession) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emits = append(s.emits, event)
	return nil
}

func (s *fakeSession) Status() transport.Status { return transport.StatusConnected }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) inject(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	s.mu.Lock()
	hs := append([]transport.Handler(nil), s.handlers[event]...)
	s.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(data))
	}
}

func (s *fakeSession) emitted(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.emits {
		if e == event {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T, b *fakeBackend, s *fakeSession) *Client {
	t.Helper()
	c := New("u1", testConfig(), b, s, quietLogger())
	c.Start()
	t.Cleanup(func() { c.Close() })
	return c
}

func (c *Client) syncLoop() { c.loop.Do(func() {}) }

var (
	pickup  = models.Location{LatLng: models.LatLng{Lat: 12.90, Lng: 77.60}, Address: "pickup"}
	dropoff = models.Location{LatLng: models.LatLng{Lat: 12.93, Lng: 77.63}, Address: "dropoff"}
)

func request(t *testing.T, c *Client) models.Ride {
	t.Helper()
	r, err := c.Request(context.Background(), pickup, dropoff, 120, models.VehicleStandard)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return r
}

func TestRequestValidatesInput(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b, newFakeSession())

	cases := []struct {
		name    string
		pickup  models.Location
		dropoff models.Location
		vehicle models.VehicleClass
	}{
		{"no pickup", models.Location{}, dropoff, models.VehicleStandard},
		{"no dropoff", pickup, models.Location{}, models.VehicleStandard},
		{"no vehicle", pickup, dropoff, ""},
		{"bad vehicle", pickup, dropoff, models.VehicleClass("rocket")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Request(context.Background(), tc.pickup, tc.dropoff, 120, tc.vehicle)
			if !errors.Is(err, ErrMissingFields) {
				t.Fatalf("expected ErrMissingFields, got %v", err)
			}
		})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requests != 0 {
		t.Fatal("invalid requests must never reach the backend")
	}
}

func TestRequestHoldsOTPAndAnnounces(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)

	r := request(t, c)
	if r.ID != "r1" || r.OTP != "654321" {
		t.Fatalf("unexpected ride: %+v", r)
	}
	if r.Key.RequesterID != "u1" || r.Key.RequestIndex != 0 {
		t.Fatalf("unexpected composite key: %+v", r.Key)
	}
	if s.emitted(models.EventNewRideRequest) != 1 {
		t.Fatal("request must be announced on the session")
	}

	st, ok := c.Ride("r1")
	if !ok || st.Ride.Status != models.StatusRequested {
		t.Fatalf("ride not tracked: %+v", st)
	}
}

func TestRequestIndexIncrements(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)

	r1 := request(t, c)
	// Terminate the first so the composite key constraint allows another.
	s.inject(t, models.EventRideCancelled, models.RideCancelled{RideID: r1.ID})
	c.syncLoop()

	r2, err := c.Request(context.Background(), pickup, dropoff, 120, models.VehicleStandard)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if r2.Key.RequestIndex != 1 {
		t.Fatalf("expected request index 1, got %d", r2.Key.RequestIndex)
	}
}

func TestAcceptRejectLifecycle(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)

	s.inject(t, models.EventRideAccepted, models.RideAccepted{
		RideID: r.ID, DriverID: "d1", DriverName: "Asha", Vehicle: "standard",
	})
	c.syncLoop()

	st, _ := c.Ride(r.ID)
	if st.Ride.Status != models.StatusAccepted || st.Ride.DriverName != "Asha" {
		t.Fatalf("accept not applied: %+v", st.Ride)
	}
	if d, ok := c.Driver(r.ID); !ok || d.Name != "Asha" {
		t.Fatalf("driver view missing: %+v", d)
	}

	// Duplicate accept no-ops.
	s.inject(t, models.EventRideAccepted, models.RideAccepted{RideID: r.ID, DriverID: "d2"})
	c.syncLoop()
	st, _ = c.Ride(r.ID)
	if st.Ride.DriverID != "d1" {
		t.Fatal("duplicate accept overwrote driver")
	}

	// A reject after accept no-ops.
	s.inject(t, models.EventRideRejected, models.RideRejected{RideID: r.ID})
	c.syncLoop()
	st, _ = c.Ride(r.ID)
	if st.Ride.Status != models.StatusAccepted {
		t.Fatalf("reject resurrected state: %s", st.Ride.Status)
	}
}

func TestDriverLocationUpdatesETA(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)

	s.inject(t, models.EventRideAccepted, models.RideAccepted{RideID: r.ID, DriverID: "d1", DriverName: "Asha"})
	// Driver ~4.7 km away: at 30 km/h about 10 minutes.
	s.inject(t, models.EventDriverLocation, models.DriverLocation{
		DriverID: "d1",
		Location: models.LatLng{Lat: 12.9352, Lng: 77.6245},
	})
	c.syncLoop()

	d, ok := c.Driver(r.ID)
	if !ok || d.Location == nil {
		t.Fatalf("location not recorded: %+v", d)
	}
	if d.ETAMinutes < 1 || d.ETAMinutes > 15 {
		t.Fatalf("implausible ETA: %d minutes", d.ETAMinutes)
	}

	// Another driver's location is ignored.
	s.inject(t, models.EventDriverLocation, models.DriverLocation{
		DriverID: "d9",
		Location: models.LatLng{Lat: 0, Lng: 0},
	})
	c.syncLoop()
	d, _ = c.Driver(r.ID)
	if d.Location.Lat != 12.9352 {
		t.Fatal("foreign driver location applied")
	}
}

func TestOTPGateOnRiderSide(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)

	s.inject(t, models.EventRideAccepted, models.RideAccepted{RideID: r.ID, DriverID: "d1"})
	s.inject(t, models.EventDriverReached, models.DriverReached{RideID: r.ID, RiderID: "u1"})
	c.syncLoop()
	st, _ := c.Ride(r.ID)
	if st.Ride.Status != models.StatusAccepted || !st.ReachedRider {
		t.Fatalf("reached flag alone must not start the ride: %+v", st)
	}

	s.inject(t, models.EventOTPResult, models.OTPResult{RideID: r.ID, Success: true})
	c.syncLoop()
	st, _ = c.Ride(r.ID)
	if st.Ride.Status != models.StatusOngoing {
		t.Fatalf("expected ongoing, got %s", st.Ride.Status)
	}
}

func TestReachedAfterCancelNoOps(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)

	s.inject(t, models.EventRideCancelled, models.RideCancelled{RideID: r.ID})
	s.inject(t, models.EventDriverReached, models.DriverReached{RideID: r.ID, RiderID: "u1"})
	c.syncLoop()

	st, _ := c.Ride(r.ID)
	if st.Ride.Status != models.StatusCancelled || st.ReachedRider {
		t.Fatalf("out-of-order reached resurrected state: %+v", st)
	}
}

func TestCancelNotifiesDriver(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)

	s.inject(t, models.EventRideAccepted, models.RideAccepted{RideID: r.ID, DriverID: "d1"})
	c.syncLoop()

	if err := c.Cancel(context.Background(), r.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	c.syncLoop()

	st, _ := c.Ride(r.ID)
	if st.Ride.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", st.Ride.Status)
	}
	if s.emitted(models.EventRiderCancelled) != 1 {
		t.Fatal("assigned driver must be notified")
	}

	// Cancelling again is rejected locally.
	if err := c.Cancel(context.Background(), r.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCompletionClearsState(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)

	s.inject(t, models.EventRideAccepted, models.RideAccepted{RideID: r.ID, DriverID: "d1"})
	s.inject(t, models.EventDriverReached, models.DriverReached{RideID: r.ID})
	s.inject(t, models.EventOTPResult, models.OTPResult{RideID: r.ID, Success: true})
	c.syncLoop()

	if _, err := c.SendImage(context.Background(), r.ID, "pic.png", "image/png", []byte{1}); err != nil {
		t.Fatalf("send image: %v", err)
	}
	c.syncLoop()

	s.inject(t, models.EventRideCompleted, models.RideCompleted{RideID: r.ID, RiderID: "u1"})
	c.syncLoop()

	st, _ := c.Ride(r.ID)
	if st.Ride.Status != models.StatusCompleted || st.Ride.OTP != "" {
		t.Fatalf("completion must clear the passcode: %+v", st.Ride)
	}
	if got := c.Media(r.ID); len(got) != 0 {
		t.Fatalf("media log not cleared: %+v", got)
	}
	if _, ok := c.Driver(r.ID); ok {
		t.Fatal("driver view must be dropped on completion")
	}
}

func TestMediaGatesBeforeUpload(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)

	// Requested ride: exchange not open yet.
	if _, err := c.SendImage(context.Background(), r.ID, "pic.png", "image/png", []byte{1}); err == nil {
		t.Fatal("requested ride must not accept media")
	}

	s.inject(t, models.EventRideAccepted, models.RideAccepted{RideID: r.ID, DriverID: "d1"})
	c.syncLoop()

	if _, err := c.SendImage(context.Background(), r.ID, "doc.pdf", "application/pdf", []byte{1}); err == nil {
		t.Fatal("non-image must be rejected")
	}
	b.mu.Lock()
	uploads := len(b.media)
	b.mu.Unlock()
	if uploads != 0 {
		t.Fatal("gated files must never upload")
	}

	if _, err := c.SendImage(context.Background(), r.ID, "pic.png", "image/png", []byte{1}); err != nil {
		t.Fatalf("valid image rejected: %v", err)
	}
}

func TestReceivedMediaEchoDedup(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)
	r := request(t, c)
	s.inject(t, models.EventRideAccepted, models.RideAccepted{RideID: r.ID, DriverID: "d1"})
	c.syncLoop()

	ref, err := c.SendImage(context.Background(), r.ID, "pic.png", "image/png", []byte{1})
	if err != nil {
		t.Fatalf("send image: %v", err)
	}
	c.syncLoop()

	// The relay echoes our own upload back; it must not duplicate.
	s.inject(t, models.EventMediaReceived, ref)
	c.syncLoop()
	if got := c.Media(r.ID); len(got) != 1 {
		t.Fatalf("echo duplicated the entry: %d", len(got))
	}
}

func TestAuthExpiryEscalates(t *testing.T) {
	b := &fakeBackend{requestErr: backend.ErrUnauthorized}
	s := newFakeSession()
	expired := 0
	c := New("u1", testConfig(), b, s, quietLogger(), WithOnAuthExpired(func() { expired++ }))
	c.Start()
	defer c.Close()

	_, err := c.Request(context.Background(), pickup, dropoff, 120, models.VehicleStandard)
	if !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if expired != 1 {
		t.Fatalf("auth escalation fired %d times", expired)
	}
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession()
	c := newTestClient(t, b, s)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !s.closed {
		t.Fatal("session must close with the client")
	}
	if _, err := c.Request(context.Background(), pickup, dropoff, 120, models.VehicleStandard); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
