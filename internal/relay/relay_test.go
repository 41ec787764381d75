package relay_test

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pysakki/internal/metrics"
	"pysakki/internal/relay"
	"pysakki/internal/rooms"
	"pysakki/internal/vehicle"
)

type event struct {
	name    string
	payload any
}

type fakeClient struct {
	id string

	mu     sync.Mutex
	events []event
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Emit(name string, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event{name: name, payload: payload})
	return true
}

func (c *fakeClient) take() []event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

type fixture struct {
	store *vehicle.Store
	rooms *rooms.Registry
	relay *relay.Relay
	clock *testclock.Clock
}

func newFixture() *fixture {
	clk := testclock.NewClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	store := vehicle.NewStore(clk)
	reg := rooms.NewRegistry()
	return &fixture{
		store: store,
		rooms: reg,
		clock: clk,
		relay: relay.New(relay.Config{Store: store, Rooms: reg, Clock: clk}),
	}
}

func obs(t int64, lat, lon float64) vehicle.Observation {
	return vehicle.Observation{RecordedAtTime: t, Latitude: lat, Longitude: lon, Monitored: true}
}

func int64p(v int64) *int64 { return &v }

func TestRoomName(t *testing.T) {
	assert.Equal(t, "vehicle-80001", relay.RoomName("80001"))
}

func TestFirstSightingEmitsNothing(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "veh1")
	c.take()

	n := f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 60.1, 22.1)})
	assert.Equal(t, 0, n)
	assert.Empty(t, c.take())

	got, ok := f.store.Get("veh1")
	require.True(t, ok)
	assert.Equal(t, "veh1", got.VehicleRef)
}

func TestTimestampChangeEmitsOneUpdate(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	other := &fakeClient{id: "other"}
	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 60.1, 22.1), "veh2": obs(50, 1, 1)})
	f.relay.Subscribe(c, "veh1")
	f.relay.Subscribe(other, "veh2")
	c.take()
	other.take()

	n := f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(160, 60.1, 22.1), "veh2": obs(50, 1, 1)})
	assert.Equal(t, 1, n)
	assert.Equal(t, []event{{name: relay.EventUpdate, payload: relay.Update{Lat: 60.1, Lon: 22.1, T: 160}}}, c.take())
	assert.Empty(t, other.take())
}

func TestSameTimestampEmitsNothing(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 60.1, 22.1)})
	f.relay.Subscribe(c, "veh1")
	c.take()

	n := f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 61, 23)})
	assert.Equal(t, 0, n)
	assert.Empty(t, c.take())

	got, _ := f.store.Get("veh1")
	assert.Equal(t, 61.0, got.Latitude, "store is overwritten even without an event")
}

func TestThreeCycleScenario(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "veh1")
	assert.Equal(t, []event{{name: relay.EventStartUpdate, payload: relay.Snapshot{}}}, c.take())

	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 60.1, 22.1)})
	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 60.1, 22.1)})
	assert.Empty(t, c.take())

	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(160, 60.2, 22.2)})
	assert.Equal(t, []event{{name: relay.EventUpdate, payload: relay.Update{Lat: 60.2, Lon: 22.2, T: 160}}}, c.take())
}

func TestVanishedVehicleEmitsNothing(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 60.1, 22.1)})
	f.relay.Subscribe(c, "veh1")
	c.take()

	f.relay.Apply(map[string]vehicle.Observation{})
	assert.Empty(t, c.take())
	_, ok := f.store.Get("veh1")
	assert.True(t, ok)
}

func TestSubscribeSnapshot(t *testing.T) {
	f := newFixture()
	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(100, 60.1, 22.1)})

	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "veh1")
	assert.Equal(t, []event{{
		name:    relay.EventStartUpdate,
		payload: relay.Snapshot{Lat: 60.1, Lon: 22.1, T: int64p(100)},
	}}, c.take())
	assert.Equal(t, 1, f.rooms.Members("vehicle-veh1"))
}

func TestSubscribeUnknownVehicleGetsSentinel(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "ghost")

	evs := c.take()
	require.Len(t, evs, 1)
	snap := evs[0].payload.(relay.Snapshot)
	assert.Nil(t, snap.T)
	assert.Zero(t, snap.Lat)
	assert.Zero(t, snap.Lon)
	assert.Equal(t, []string{"vehicle-ghost"}, f.rooms.RoomsOf(c))

	f.relay.Apply(map[string]vehicle.Observation{"ghost": obs(1, 2, 3)})
	f.relay.Apply(map[string]vehicle.Observation{"ghost": obs(2, 2, 3)})
	assert.Len(t, c.take(), 1)
}

func TestSubscribeEmptyRefClearsMembership(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "veh1")
	f.relay.Subscribe(c, "")

	evs := c.take()
	require.Len(t, evs, 2)
	assert.Equal(t, relay.Snapshot{}, evs[1].payload)
	assert.Nil(t, f.rooms.RoomsOf(c))
}

func TestResubscribeIsExclusive(t *testing.T) {
	f := newFixture()
	f.relay.Apply(map[string]vehicle.Observation{"A": obs(1, 1, 1), "B": obs(1, 2, 2)})

	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "A")
	f.relay.Subscribe(c, "B")
	c.take()
	assert.Equal(t, []string{"vehicle-B"}, f.rooms.RoomsOf(c))

	f.relay.Apply(map[string]vehicle.Observation{"A": obs(2, 1, 1), "B": obs(2, 2, 2)})
	assert.Equal(t, []event{{name: relay.EventUpdate, payload: relay.Update{Lat: 2, Lon: 2, T: 2}}}, c.take())
}

func TestSubscribeClearsAnyNumberOfRooms(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.rooms.Join(c, "vehicle-x")
	f.rooms.Join(c, "vehicle-y")
	f.rooms.Join(c, "elsewhere")

	f.relay.Subscribe(c, "z")
	assert.Equal(t, []string{"vehicle-z"}, f.rooms.RoomsOf(c))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Unsubscribe(c, "never")

	f.relay.Subscribe(c, "veh1")
	f.relay.Unsubscribe(c, "veh1")
	f.relay.Unsubscribe(c, "veh1")
	assert.Equal(t, 0, f.rooms.Members("vehicle-veh1"))

	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(1, 1, 1)})
	f.relay.Apply(map[string]vehicle.Observation{"veh1": obs(2, 1, 1)})
	assert.Len(t, c.take(), 1, "only the snapshot")
}

func TestUnsubscribeOtherVehicleKeepsMembership(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "veh1")
	f.relay.Unsubscribe(c, "veh2")
	assert.Equal(t, []string{"vehicle-veh1"}, f.rooms.RoomsOf(c))
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Subscribe(c, "veh1")
	f.relay.Disconnect(c)

	assert.Equal(t, 0, f.rooms.Members("vehicle-veh1"))
	assert.Equal(t, 0, f.rooms.Subscribers())
}

func TestSweepForgetsStaleVehicles(t *testing.T) {
	f := newFixture()
	c := &fakeClient{id: "c"}
	f.relay.Apply(map[string]vehicle.Observation{"old": obs(1, 1, 1)})
	f.clock.Advance(20 * time.Minute)
	f.relay.Apply(map[string]vehicle.Observation{"new": obs(1, 1, 1)})
	f.relay.Subscribe(c, "old")
	c.take()

	assert.Equal(t, []string{"old"}, f.relay.Sweep(10*time.Minute))
	assert.Equal(t, 1, f.relay.Vehicles())
	assert.Equal(t, 1, f.rooms.Members("vehicle-old"))

	f.relay.Apply(map[string]vehicle.Observation{"old": obs(2, 1, 1)})
	assert.Empty(t, c.take(), "reappearance is a first sighting")
}

func TestLastCycle(t *testing.T) {
	f := newFixture()
	assert.True(t, f.relay.LastCycle().IsZero())
	f.relay.Apply(nil)
	assert.Equal(t, f.clock.Now(), f.relay.LastCycle())
}

func TestApplyRecordsMetrics(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	m := metrics.New(prometheus.NewRegistry())
	reg := rooms.NewRegistry()
	r := relay.New(relay.Config{Store: vehicle.NewStore(clk), Rooms: reg, Metrics: m, Clock: clk})

	a, b := &fakeClient{id: "a"}, &fakeClient{id: "b"}
	r.Subscribe(a, "v")
	r.Subscribe(b, "v")
	r.Apply(map[string]vehicle.Observation{"v": obs(1, 1, 1), "w": obs(1, 1, 1)})
	r.Apply(map[string]vehicle.Observation{"v": obs(2, 1, 1)})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.UpdatesEmitted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Deliveries))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.VehiclesTracked))
}
