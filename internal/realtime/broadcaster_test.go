package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yasuo72/TransitShare/internal/history"
	"github.com/yasuo72/TransitShare/internal/notification"
	"github.com/yasuo72/TransitShare/internal/presence"
	"github.com/yasuo72/TransitShare/internal/user"
	"github.com/yasuo72/TransitShare/internal/vehicle"
)

type fakeUsers struct {
	users map[string]user.User
}

func (f *fakeUsers) Lookup(_ context.Context, id string) (user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

type fakeLedger struct {
	points   map[string]int
	prefsErr error
	saved    map[string]user.Preferences
	awards   int
}

func (f *fakeLedger) IncrementPoints(_ context.Context, id string, delta int) (int, error) {
	f.awards++
	f.points[id] += delta
	return f.points[id], nil
}

func (f *fakeLedger) SavePreferences(_ context.Context, id string, prefs user.Preferences) error {
	if f.prefsErr != nil {
		return f.prefsErr
	}
	f.saved[id] = prefs
	return nil
}

type fakeVehicles struct {
	submitted []string
}

func (f *fakeVehicles) SubmitLocation(_ context.Context, vehicleID string, _, _, _ float64) (vehicle.Vehicle, error) {
	f.submitted = append(f.submitted, vehicleID)
	return vehicle.Vehicle{VehicleID: vehicleID}, nil
}

type fakeHistories struct {
	appended []history.Point
	closed   []string
	rows     map[string][]history.History
}

func (f *fakeHistories) Append(_ context.Context, _ string, p history.Point) error {
	f.appended = append(f.appended, p)
	return nil
}

func (f *fakeHistories) Histories(_ context.Context, userID string, _ int) ([]history.History, error) {
	return f.rows[userID], nil
}

func (f *fakeHistories) CloseActive(_ context.Context, userID string) error {
	f.closed = append(f.closed, userID)
	return nil
}

type fakeNotifier struct {
	inserted []notification.Notification
}

func (f *fakeNotifier) InsertBatch(_ context.Context, rows []notification.Notification) error {
	f.inserted = append(f.inserted, rows...)
	return nil
}

type fixture struct {
	b        *Broadcaster
	registry *presence.Registry
	ledger   *fakeLedger
	vehicles *fakeVehicles
	history  *fakeHistories
	notifier *fakeNotifier
}

func newFixture() *fixture {
	users := &fakeUsers{users: map[string]user.User{
		"user-a": {ID: "user-a", Name: "Alice", Points: 10, Preferences: user.Preferences{Notifications: true}},
		"user-b": {ID: "user-b", Name: "Bob", Preferences: user.Preferences{Notifications: true}},
		"admin":  {ID: "admin", Name: "Root", Preferences: user.Preferences{Notifications: true, PrivacyLevel: "admin"}},
	}}
	registry := presence.NewRegistry(users, presence.NewLocationStore())
	ledger := &fakeLedger{points: map[string]int{"user-a": 10}, saved: map[string]user.Preferences{}}
	vehicles := &fakeVehicles{}
	histories := &fakeHistories{rows: map[string][]history.History{}}
	notifier := &fakeNotifier{}

	b := NewBroadcaster(registry, presence.NewEngine(registry), ledger, vehicles, histories, notifier, Config{
		NearbyRadiusKm: 10,
		AlertRadiusKm:  2,
		ReportPoints:   5,
	})
	return &fixture{b: b, registry: registry, ledger: ledger, vehicles: vehicles, history: histories, notifier: notifier}
}

func intentJSON(t *testing.T, typ string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	out, err := json.Marshal(Intent{Type: typ, Data: raw})
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return out
}

func eventsOf(emissions []Emission) []string {
	var out []string
	for _, e := range emissions {
		out = append(out, e.Event)
	}
	return out
}

func findEvent(t *testing.T, emissions []Emission, event string) Emission {
	t.Helper()
	for _, e := range emissions {
		if e.Event == event {
			return e
		}
	}
	t.Fatalf("expected %s in %v", event, eventsOf(emissions))
	return Emission{}
}

func TestDispatchJoin(t *testing.T) {
	f := newFixture()

	emissions := f.b.Dispatch(context.Background(), "conn-1", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))
	if len(emissions) != 3 {
		t.Fatalf("expected joined + online + count, got %v", eventsOf(emissions))
	}

	joined := findEvent(t, emissions, EventJoined)
	if joined.Scope != ScopeTargeted || joined.ConnID != "conn-1" {
		t.Fatalf("joined ack must be private to the sender")
	}
	online := findEvent(t, emissions, EventUserOnline)
	if online.Scope != ScopeBroadcast {
		t.Fatalf("user_online must broadcast")
	}
	count := findEvent(t, emissions, EventOnlineCount)
	if count.Data.(map[string]any)["count"] != 1 {
		t.Fatalf("expected online count 1, got %v", count.Data)
	}
}

func TestDispatchJoinUnknownUser(t *testing.T) {
	f := newFixture()

	emissions := f.b.Dispatch(context.Background(), "conn-1", intentJSON(t, IntentJoin, JoinPayload{UserID: "ghost"}))
	if len(emissions) != 1 || emissions[0].Event != EventError || emissions[0].Scope != ScopeTargeted {
		t.Fatalf("unknown user must yield only a private error, got %v", eventsOf(emissions))
	}
	if f.registry.OnlineUserCount() != 0 {
		t.Fatalf("failed join must not create a session")
	}
}

func TestDispatchReportWithoutJoin(t *testing.T) {
	f := newFixture()

	emissions := f.b.Dispatch(context.Background(), "conn-1", intentJSON(t, IntentReportLocation, ReportLocationPayload{Latitude: 1}))
	if len(emissions) != 1 || emissions[0].Event != EventError || emissions[0].Scope != ScopeTargeted {
		t.Fatalf("invalid session must yield only a private error")
	}
	if _, ok := f.registry.Locations().Get("user-a"); ok {
		t.Fatalf("invalid session must not mutate state")
	}
}

func TestDispatchReportLocation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))
	f.b.Dispatch(ctx, "conn-b", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-b"}))
	f.b.Dispatch(ctx, "conn-b", intentJSON(t, IntentReportLocation, ReportLocationPayload{
		Latitude: 0, Longitude: 0.01, BusName: "42A", Timestamp: time.Unix(100, 0),
	}))

	emissions := f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentReportLocation, ReportLocationPayload{
		Latitude: 0, Longitude: 0, BusName: "7C", Speed: 10,
		Timestamp: time.Unix(200, 0), VehicleID: "bus-7c",
	}))

	update := findEvent(t, emissions, EventLocationUpdate)
	if update.Scope != ScopeBroadcast || update.Exclude != "conn-a" {
		t.Fatalf("location_update must broadcast excluding the sender")
	}
	nearby := update.Data.(map[string]any)["nearby"].([]presence.ProximityResult)
	if len(nearby) != 1 || nearby[0].UserID != "user-b" {
		t.Fatalf("expected user-b in the attached nearby set: %+v", nearby)
	}

	alert := findEvent(t, emissions, EventProximityAlert)
	if alert.Scope != ScopeTargeted || alert.ConnID != "conn-b" {
		t.Fatalf("proximity alert must target the candidate's connection")
	}

	if f.ledger.points["user-a"] != 15 {
		t.Fatalf("expected +5 points, got %d", f.ledger.points["user-a"])
	}
	if len(f.vehicles.submitted) != 1 || f.vehicles.submitted[0] != "bus-7c" {
		t.Fatalf("expected vehicle last-known location write")
	}
	if len(f.notifier.inserted) != 1 || f.notifier.inserted[0].UserID != "user-b" {
		t.Fatalf("expected persisted notification for the alert candidate")
	}
	if len(f.history.appended) != 2 {
		t.Fatalf("expected a history point per report, got %d", len(f.history.appended))
	}

	sessions := f.registry.SessionsFor("user-a")
	if len(sessions) != 1 || sessions[0].Points != 15 || !sessions[0].Sharing {
		t.Fatalf("session must reflect refreshed points and sharing flag: %+v", sessions)
	}
}

func TestDispatchReportPointsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))

	report := intentJSON(t, IntentReportLocation, ReportLocationPayload{Latitude: 1, Timestamp: time.Unix(100, 0)})
	f.b.Dispatch(ctx, "conn-a", report)
	f.b.Dispatch(ctx, "conn-a", report)

	if f.ledger.awards != 1 {
		t.Fatalf("a retried report with the same timestamp must award once, got %d awards", f.ledger.awards)
	}
}

func TestDispatchRequestNearbyPrivate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))
	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentReportLocation, ReportLocationPayload{Latitude: 0, Timestamp: time.Unix(1, 0)}))

	emissions := f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentRequestNearby, RequestNearbyPayload{RadiusKm: 5}))
	if len(emissions) != 1 {
		t.Fatalf("request_nearby must yield exactly one emission")
	}
	if emissions[0].Scope != ScopeTargeted || emissions[0].ConnID != "conn-a" || emissions[0].Event != EventNearbyUpdate {
		t.Fatalf("nearby update must be private to the sender")
	}
}

func TestDispatchRequestHistoryAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.history.rows["user-b"] = []history.History{{ID: "h1", UserID: "user-b"}}

	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))
	f.b.Dispatch(ctx, "conn-r", intentJSON(t, IntentJoin, JoinPayload{UserID: "admin"}))

	// own history is always allowed
	own := f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentRequestHistory, RequestHistoryPayload{}))
	if own[0].Event != EventHistoryUpdate {
		t.Fatalf("own history must succeed, got %v", eventsOf(own))
	}

	// cross-user access requires elevated privilege
	denied := f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentRequestHistory, RequestHistoryPayload{UserID: "user-b"}))
	if denied[0].Event != EventError {
		t.Fatalf("cross-user history without privilege must be denied")
	}

	granted := f.b.Dispatch(ctx, "conn-r", intentJSON(t, IntentRequestHistory, RequestHistoryPayload{UserID: "user-b"}))
	if granted[0].Event != EventHistoryUpdate {
		t.Fatalf("admin privacy level must grant cross-user history")
	}
	rows := granted[0].Data.(map[string]any)["histories"].([]history.History)
	if len(rows) != 1 || rows[0].ID != "h1" {
		t.Fatalf("unexpected history rows: %+v", rows)
	}
}

func TestDispatchUpdatePreferences(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))

	prefs := user.Preferences{Notifications: false, LocationSharing: true, PrivacyLevel: "private"}
	emissions := f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentUpdatePreferences, UpdatePreferencesPayload{Preferences: prefs}))
	if emissions[0].Event != EventPreferencesUpdated || emissions[0].ConnID != "conn-a" {
		t.Fatalf("expected private preferences ack, got %v", eventsOf(emissions))
	}
	if f.ledger.saved["user-a"] != prefs {
		t.Fatalf("expected external preference write")
	}
	cached, _ := f.registry.PreferencesFor("user-a")
	if cached != prefs {
		t.Fatalf("expected cache refresh, got %+v", cached)
	}
}

func TestDispatchUpdatePreferencesExternalFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.ledger.prefsErr = errors.New("ledger down")

	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))
	before, _ := f.registry.PreferencesFor("user-a")

	emissions := f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentUpdatePreferences, UpdatePreferencesPayload{
		Preferences: user.Preferences{Notifications: false},
	}))
	if emissions[0].Event != EventError {
		t.Fatalf("external failure must yield an error emission")
	}
	after, _ := f.registry.PreferencesFor("user-a")
	if before != after {
		t.Fatalf("cache must not change when the external write fails")
	}
}

func TestDispatchDisconnectMultiDevice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.b.Dispatch(ctx, "conn-1", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))
	f.b.Dispatch(ctx, "conn-2", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))
	f.b.Dispatch(ctx, "conn-1", intentJSON(t, IntentReportLocation, ReportLocationPayload{Latitude: 1, Timestamp: time.Unix(1, 0)}))

	first := f.b.Disconnect(ctx, "conn-1")
	for _, e := range first {
		if e.Event == EventUserOffline {
			t.Fatalf("offline must only broadcast on the last connection")
		}
	}
	if _, ok := f.registry.Locations().Get("user-a"); !ok {
		t.Fatalf("location must survive while a device remains")
	}

	second := f.b.Disconnect(ctx, "conn-2")
	findEvent(t, second, EventUserOffline)
	findEvent(t, second, EventOnlineCount)
	if _, ok := f.registry.Locations().Get("user-a"); ok {
		t.Fatalf("location must be purged with the last session")
	}
	if len(f.history.closed) != 1 || f.history.closed[0] != "user-a" {
		t.Fatalf("active history must close on final disconnect")
	}

	// a third disconnect for the same connection is a no-op
	if again := f.b.Disconnect(ctx, "conn-2"); len(again) != 0 {
		t.Fatalf("repeated disconnect must emit nothing, got %v", eventsOf(again))
	}
}

func TestDispatchMalformed(t *testing.T) {
	f := newFixture()

	emissions := f.b.Dispatch(context.Background(), "conn-1", []byte("{not json"))
	if len(emissions) != 1 || emissions[0].Event != EventError {
		t.Fatalf("malformed intent must yield a private error")
	}

	emissions = f.b.Dispatch(context.Background(), "conn-1", intentJSON(t, "teleport", struct{}{}))
	if len(emissions) != 1 || emissions[0].Event != EventError {
		t.Fatalf("unknown intent must yield a private error")
	}
}

func TestPerConnectionOrdering(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentJoin, JoinPayload{UserID: "user-a"}))

	var events []string
	for i := 0; i < 5; i++ {
		emissions := f.b.Dispatch(ctx, "conn-a", intentJSON(t, IntentReportLocation, ReportLocationPayload{
			Latitude:  float64(i),
			Timestamp: time.Unix(int64(i), 0),
		}))
		events = append(events, eventsOf(emissions)...)
	}
	// serial dispatch means every report's emissions appear in issue order
	if len(events) < 5 {
		t.Fatalf("expected an emission set per report")
	}
	loc, _ := f.registry.Locations().Get("user-a")
	if loc.Latitude != 4 {
		t.Fatalf("last report must win, got %v", loc.Latitude)
	}
}
