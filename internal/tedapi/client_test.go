package tedapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const testDIN = "1232100-00-E--TG123456"

// fakeGateway is an in-process TLS gateway. Handlers may be replaced per
// test; all counters are safe for concurrent use.
type fakeGateway struct {
	srv *httptest.Server

	mu         sync.Mutex
	rootStatus int
	dinStatus  int
	postStatus []int // consumed in order; last value repeats
	reply      func(req []byte) []byte
	delay      time.Duration

	// deviceReply answers envelopes relayed to a battery by VIN.
	deviceStatus int
	deviceReply  func(vin string, req []byte) []byte

	posts       atomic.Int32
	dins        atomic.Int32
	devicePosts atomic.Int32
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{
		rootStatus:   http.StatusOK,
		dinStatus:    http.StatusOK,
		postStatus:   []int{http.StatusOK},
		deviceStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		status := g.rootStatus
		g.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("/tedapi/din", func(w http.ResponseWriter, r *http.Request) {
		g.dins.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != authUser || pass != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		g.mu.Lock()
		status := g.dinStatus
		g.mu.Unlock()
		w.WriteHeader(status)
		if status == http.StatusOK {
			io.WriteString(w, testDIN) //nolint:errcheck // test server
		}
	})
	mux.HandleFunc("/tedapi/v1", func(w http.ResponseWriter, r *http.Request) {
		g.posts.Add(1)
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-string" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)

		g.mu.Lock()
		status := g.postStatus[0]
		if len(g.postStatus) > 1 {
			g.postStatus = g.postStatus[1:]
		}
		reply := g.reply
		delay := g.delay
		g.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		if status == http.StatusOK && reply != nil {
			w.Write(reply(body)) //nolint:errcheck // test server
		}
	})

	mux.HandleFunc("/tedapi/device/", func(w http.ResponseWriter, r *http.Request) {
		g.devicePosts.Add(1)
		vin := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/tedapi/device/"), "/v1")
		body, _ := io.ReadAll(r.Body)

		g.mu.Lock()
		status := g.deviceStatus
		reply := g.deviceReply
		g.mu.Unlock()

		w.WriteHeader(status)
		if status == http.StatusOK && reply != nil {
			w.Write(reply(vin, body)) //nolint:errcheck // test server
		}
	})

	g.srv = httptest.NewTLSServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) host() string {
	return strings.TrimPrefix(g.srv.URL, "https://")
}

// jsonReply answers config and query requests with the given documents.
func jsonReply(config, query any) func([]byte) []byte {
	return func(req []byte) []byte {
		if _, err := ExtractPayload(req, []protowire.Number{fieldMessage, fieldConfig}); err == nil {
			b, _ := json.Marshal(config)
			return nest(configPayloadPath, b)
		}
		b, _ := json.Marshal(query)
		return nest(queryPayloadPath, b)
	}
}

func newTestClient(t *testing.T, g *fakeGateway) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Host:     g.host(),
		Password: "secret",
		Timeout:  2 * time.Second,
		TTL:      TTLPolicy{Status: time.Minute, Config: time.Minute},
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_MissingPassword(t *testing.T) {
	_, err := NewClient(Config{Host: "192.168.91.1"})
	if !errors.Is(err, ErrMissingPassword) {
		t.Errorf("NewClient() error = %v, want ErrMissingPassword", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{Password: "pw"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.Host() != DefaultHost {
		t.Errorf("Host() = %q, want %q", c.Host(), DefaultHost)
	}
	if c.cfg.Timeout != DefaultTimeout || c.cfg.TTL.Status != DefaultTTL || c.cfg.TTL.Config != DefaultTTL {
		t.Errorf("defaults not applied: %+v", c.cfg)
	}
	if c.cfg.Cooldown != DefaultCooldown {
		t.Errorf("Cooldown = %v, want %v", c.cfg.Cooldown, DefaultCooldown)
	}
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name       string
		rootStatus int
		wantGen3   bool
	}{
		{name: "second generation", rootStatus: http.StatusOK, wantGen3: false},
		{name: "third generation", rootStatus: http.StatusForbidden, wantGen3: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGateway(t)
			g.set(func(g *fakeGateway) { g.rootStatus = tt.rootStatus })
			c := newTestClient(t, g)

			din, err := c.Connect(context.Background())
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if din != testDIN {
				t.Errorf("Connect() = %q, want %q", din, testDIN)
			}
			if c.Gen3() != tt.wantGen3 {
				t.Errorf("Gen3() = %v, want %v", c.Gen3(), tt.wantGen3)
			}

			// Identity is cached for the client's lifetime.
			if _, err := c.Connect(context.Background()); err != nil {
				t.Fatalf("second Connect() error = %v", err)
			}
			if got := g.dins.Load(); got != 1 {
				t.Errorf("din requests = %d, want 1", got)
			}
		})
	}
}

func TestConnect_RateLimited(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.dinStatus = http.StatusTooManyRequests })
	c := newTestClient(t, g)

	if _, err := c.Connect(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Connect() error = %v, want ErrRateLimited", err)
	}
	if c.Governor().Allowed() {
		t.Error("governor should be tripped after a 429")
	}
	if c.DIN() != "" {
		t.Errorf("DIN() = %q, want empty", c.DIN())
	}
}

func TestConnect_Forbidden(t *testing.T) {
	g := newFakeGateway(t)
	c, err := NewClient(Config{Host: g.host(), Password: "wrong"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := c.Connect(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Errorf("Connect() error = %v, want ErrForbidden", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	c, err := NewClient(Config{Host: "127.0.0.1:1", Password: "pw", Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := c.Connect(context.Background()); err == nil {
		t.Error("Connect() expected error for unreachable gateway")
	}
	if c.DIN() != "" {
		t.Error("identity should stay unresolved")
	}
}

func TestClient_ConfigFetchAndCache(t *testing.T) {
	g := newFakeGateway(t)
	config := map[string]any{"vin": testDIN, "site_info": map[string]any{"site_name": "Home"}}
	g.set(func(g *fakeGateway) { g.reply = jsonReply(config, nil) })
	c := newTestClient(t, g)
	ctx := context.Background()

	got := c.Config(ctx, false)
	m, ok := got.(map[string]any)
	if !ok || m["vin"] != testDIN {
		t.Fatalf("Config() = %v", got)
	}

	if cached, fresh := c.Cache().Get(KindConfig); !fresh || cached == nil {
		t.Error("config should be committed to the cache")
	}

	c.Config(ctx, false)
	if got := g.posts.Load(); got != 1 {
		t.Errorf("device posts after cache hit = %d, want 1", got)
	}

	c.Config(ctx, true)
	if got := g.posts.Load(); got != 2 {
		t.Errorf("device posts after force = %d, want 2", got)
	}
}

func TestClient_StatusFetch(t *testing.T) {
	g := newFakeGateway(t)
	status := statusDoc(10000.0, 13500.0, meter("LOAD", 1000))
	g.set(func(g *fakeGateway) { g.reply = jsonReply(nil, status) })
	c := newTestClient(t, g)

	got := c.Status(context.Background(), false)
	level, ok := BatteryLevel(got)
	if !ok || level < 74 || level > 74.1 {
		t.Errorf("BatteryLevel(Status()) = %v, %v", level, ok)
	}
}

func TestClient_MalformedReply(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.reply = func([]byte) []byte { return nest(queryPayloadPath, []byte("{not json")) }
	})
	c := newTestClient(t, g)

	got := c.Status(context.Background(), false)
	m, ok := got.(map[string]any)
	if !ok || len(m) != 0 {
		t.Errorf("Status() = %#v, want empty document", got)
	}
	if v, _ := c.Cache().Get(KindStatus); v != nil {
		t.Errorf("cache should be untouched, got %v", v)
	}
}

func TestClient_RateLimitedPost(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.postStatus = []int{http.StatusTooManyRequests} })
	c := newTestClient(t, g)
	ctx := context.Background()

	if got := c.Status(ctx, false); got != nil {
		t.Errorf("Status() = %v, want nil", got)
	}
	if c.Governor().Allowed() {
		t.Fatal("governor should be tripped")
	}

	// Further reads are suppressed without device I/O.
	before := g.posts.Load()
	if got := c.Config(ctx, true); got != nil {
		t.Errorf("Config() during cooldown = %v, want nil", got)
	}
	if got := g.posts.Load(); got != before {
		t.Errorf("device posts during cooldown = %d, want %d", got, before)
	}
}

func TestClient_CooldownReturnsStaleValue(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestClient(t, g)

	c.Cache().Restore(Document{Kind: KindStatus, Value: map[string]any{"stale": true}, FetchedAt: time.Unix(0, 0)})
	c.Governor().Trip(300 * time.Second)

	got := c.Status(context.Background(), false)
	if m, ok := got.(map[string]any); !ok || m["stale"] != true {
		t.Errorf("Status() = %v, want stale cached document", got)
	}
	if g.posts.Load() != 0 || g.dins.Load() != 0 {
		t.Error("no device requests expected during cooldown")
	}
}

func TestClient_Timeout(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.delay = 500 * time.Millisecond
		g.reply = jsonReply(nil, map[string]any{})
	})
	c, err := NewClient(Config{Host: g.host(), Password: "secret", Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if got := c.Status(context.Background(), false); got != nil {
		t.Errorf("Status() = %v, want nil on timeout", got)
	}
	if v, _ := c.Cache().Get(KindStatus); v != nil {
		t.Error("cache should not change on timeout")
	}
}

func TestClient_FirstContactForbiddenRetries(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.postStatus = []int{http.StatusForbidden, http.StatusOK}
		g.reply = jsonReply(map[string]any{"vin": "X"}, nil)
	})
	c := newTestClient(t, g)

	got := c.Config(context.Background(), false)
	if m, ok := got.(map[string]any); !ok || m["vin"] != "X" {
		t.Fatalf("Config() = %v", got)
	}
	if !c.Gen3() {
		t.Error("gateway should be marked third generation after first-contact 403")
	}
	if got := g.posts.Load(); got != 2 {
		t.Errorf("device posts = %d, want 2", got)
	}
	if got := g.dins.Load(); got != 2 {
		t.Errorf("din requests = %d, want 2 (handshake redone)", got)
	}
}

func TestClient_ComponentsSecondGeneration(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.reply = jsonReply(nil, map[string]any{"components": map[string]any{}}) })
	c := newTestClient(t, g)

	if got := c.Components(context.Background(), false); got != nil {
		t.Errorf("Components() on second generation = %v, want nil", got)
	}
	if g.posts.Load() != 0 {
		t.Error("components query should not be sent to a second generation gateway")
	}
}

func TestClient_ComponentsThirdGeneration(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.rootStatus = http.StatusForbidden
		g.reply = jsonReply(nil, map[string]any{"components": map[string]any{"msa": []any{}}})
	})
	c := newTestClient(t, g)

	if got := c.Components(context.Background(), false); got == nil {
		t.Error("Components() on third generation = nil")
	}
}

func TestClient_ComponentsCachedWhileGatewayDown(t *testing.T) {
	c, err := NewClient(Config{Host: "127.0.0.1:1", Password: "pw", Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	restored := map[string]any{"components": map[string]any{"msa": []any{}}}
	c.Cache().Restore(Document{Kind: KindComponents, Value: restored, FetchedAt: time.Unix(0, 0)})

	got, ok := c.Components(context.Background(), false).(map[string]any)
	if !ok || got["components"] == nil {
		t.Errorf("Components() = %v, want restored document", got)
	}
}

func TestClient_RequireGen3(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestClient(t, g)

	if err := c.requireGen3(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("requireGen3() on second generation = %v, want ErrUnsupported", err)
	}

	g.set(func(g *fakeGateway) { g.rootStatus = http.StatusForbidden })
	c = newTestClient(t, g)
	if err := c.requireGen3(context.Background()); err != nil {
		t.Errorf("requireGen3() on third generation = %v", err)
	}
}

func TestClient_ControllerPW3Devices(t *testing.T) {
	const pw3 = "1707000-11-J--TG12xxxxxx3A8Z"
	config := map[string]any{
		"vin": testDIN,
		"battery_blocks": []any{
			map[string]any{"vin": pw3, "type": "Powerwall3"},
			map[string]any{"vin": "BLOCK2", "type": "Powerwall2"},
		},
	}
	battery := map[string]any{"components": map[string]any{
		"bms": []any{map[string]any{"signals": []any{
			map[string]any{"name": "BMS_nominalEnergyRemaining", "value": 12.5},
		}}},
	}}

	var (
		mu                sync.Mutex
		gotVIN, gotSender string
	)
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.rootStatus = http.StatusForbidden
		g.reply = jsonReply(config, map[string]any{"esCan": map[string]any{}})
		g.deviceReply = func(vin string, req []byte) []byte {
			mu.Lock()
			defer mu.Unlock()
			gotVIN = vin
			if b, err := ExtractPayload(req, []protowire.Number{fieldMessage, fieldSender, fieldParticipantDIN}); err == nil {
				gotSender = string(b)
			}
			body, _ := json.Marshal(battery)
			return nest(queryPayloadPath, body)
		}
	})
	c := newTestClient(t, g)
	ctx := context.Background()

	controller := c.Controller(ctx, false)
	if got := g.devicePosts.Load(); got != 1 {
		t.Fatalf("battery requests = %d, want 1 (Powerwall 3 blocks only)", got)
	}
	mu.Lock()
	if gotVIN != pw3 || gotSender != testDIN {
		t.Errorf("battery request vin/sender = %q/%q, want %q/%q", gotVIN, gotSender, pw3, testDIN)
	}
	mu.Unlock()
	if LookupMap(controller, BatteryDevicesKey, pw3) == nil {
		t.Fatalf("controller missing %s entry: %v", BatteryDevicesKey, controller)
	}

	vitals := Vitals(c.Config(ctx, false), controller, c.Host(), time.Now())
	pod, ok := vitals["TEPOD--"+pw3].(map[string]any)
	if !ok {
		t.Fatalf("vitals missing TEPOD--%s", pw3)
	}
	if pod["POD_nom_energy_remaining"] != 12500.0 {
		t.Errorf("POD_nom_energy_remaining = %v, want 12500", pod["POD_nom_energy_remaining"])
	}
	if _, ok := vitals["TEPINV--"+pw3]; !ok {
		t.Errorf("vitals missing TEPINV--%s", pw3)
	}
}

func TestClient_ControllerSecondGenerationSkipsBatteries(t *testing.T) {
	config := map[string]any{"battery_blocks": []any{map[string]any{"vin": "PW3", "type": "Powerwall3"}}}
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.reply = jsonReply(config, map[string]any{"esCan": map[string]any{}}) })
	c := newTestClient(t, g)

	controller := c.Controller(context.Background(), false)
	if Lookup(controller, BatteryDevicesKey) != nil {
		t.Errorf("controller = %v, want no battery documents", controller)
	}
	if g.devicePosts.Load() != 0 {
		t.Error("battery query sent to a second generation gateway")
	}
}

func TestClient_ControllerBatteryFailureKeepsDocument(t *testing.T) {
	config := map[string]any{"battery_blocks": []any{map[string]any{"vin": "PW3", "type": "Powerwall3"}}}
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.rootStatus = http.StatusForbidden
		g.deviceStatus = http.StatusInternalServerError
		g.reply = jsonReply(config, map[string]any{"esCan": map[string]any{"bus": map[string]any{}}})
	})
	c := newTestClient(t, g)

	controller, ok := c.Controller(context.Background(), false).(map[string]any)
	if !ok || controller["esCan"] == nil {
		t.Fatalf("Controller() = %v, want the controller document", controller)
	}
	if _, ok := controller[BatteryDevicesKey]; ok {
		t.Error("failed battery query should not attach documents")
	}
}

func TestClient_Firmware(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.reply = func([]byte) []byte { return firmwareReply("24.36.2", "1152100-13-J", "TG1") }
	})
	c := newTestClient(t, g)
	ctx := context.Background()

	if got := c.FirmwareVersion(ctx, false); got != "24.36.2" {
		t.Errorf("FirmwareVersion() = %q, want %q", got, "24.36.2")
	}
	fw := c.FirmwareDetails(ctx, false)
	if fw == nil || fw.System.Gateway.PartNumber != "1152100-13-J" {
		t.Errorf("FirmwareDetails() = %+v", fw)
	}
	if got := g.posts.Load(); got != 1 {
		t.Errorf("device posts = %d, want 1 (second read cached)", got)
	}
}

func TestClient_ConcurrentMissesShareOneRequest(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.delay = 100 * time.Millisecond
		g.reply = jsonReply(nil, map[string]any{"ok": true})
	})
	c := newTestClient(t, g)

	// Resolve identity first so only the document fetch races.
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Status(context.Background(), false) == nil {
				t.Error("Status() = nil")
			}
		}()
	}
	wg.Wait()

	if got := g.posts.Load(); got != 1 {
		t.Errorf("device posts = %d, want 1", got)
	}
}

func TestClient_CallerCancellation(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) {
		g.delay = 300 * time.Millisecond
		g.reply = jsonReply(nil, map[string]any{"ok": true})
	})
	c := newTestClient(t, g)
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if got := c.Status(ctx, false); got != nil {
		t.Errorf("Status() with cancelled context = %v, want nil", got)
	}

	// The shared fetch still completes and commits for later callers.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, fresh := c.Cache().Get(KindStatus); fresh && v != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("shared fetch did not commit after caller cancellation")
}

type recordingMetrics struct {
	mu       sync.Mutex
	requests map[string]int
	hits     int
	misses   int
	trips    int
}

func (m *recordingMetrics) ObserveRequest(op string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requests == nil {
		m.requests = make(map[string]int)
	}
	m.requests[op]++
}

func (m *recordingMetrics) CacheResult(_ DocumentKind, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *recordingMetrics) CooldownTripped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips++
}

func TestClient_Metrics(t *testing.T) {
	g := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.reply = jsonReply(map[string]any{}, nil) })
	c := newTestClient(t, g)
	rec := &recordingMetrics{}
	c.SetMetrics(rec)

	c.Config(context.Background(), false)
	c.Config(context.Background(), false)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.hits != 1 || rec.misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", rec.hits, rec.misses)
	}
	for _, op := range []string{"probe", "din", "config"} {
		if rec.requests[op] != 1 {
			t.Errorf("requests[%s] = %d, want 1", op, rec.requests[op])
		}
	}
}
