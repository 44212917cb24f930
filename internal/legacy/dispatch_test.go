package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// fakeSource serves fixed documents and records calls.
type fakeSource struct {
	mu          sync.Mutex
	docs        map[tedapi.DocumentKind]any
	gen3        bool
	reads       map[tedapi.DocumentKind]int
	forced      int
	invalidated int
}

func newFakeSource(docs map[tedapi.DocumentKind]any) *fakeSource {
	return &fakeSource{docs: docs, reads: make(map[tedapi.DocumentKind]int)}
}

func (f *fakeSource) Document(_ context.Context, kind tedapi.DocumentKind, force bool) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[kind]++
	if force {
		f.forced++
	}
	return f.docs[kind]
}

func (f *fakeSource) Invalidate(...tedapi.DocumentKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeSource) Host() string { return "192.168.91.1" }
func (f *fakeSource) Gen3() bool   { return f.gen3 }

type fakeOperator struct {
	got OperationRequest
	err error
}

func (o *fakeOperator) SetOperation(_ context.Context, req OperationRequest) (any, error) {
	o.got = req
	if o.err != nil {
		return nil, o.err
	}
	return map[string]any{"real_mode": req.Mode, "queued": true}, nil
}

func TestPoll_UnknownEndpoint(t *testing.T) {
	d := NewDispatcher(newFakeSource(nil), Config{})

	res := d.Poll(context.Background(), "/api/nope", Options{})
	if res.Err == nil {
		t.Fatal("Poll() expected error for unknown endpoint")
	}
	if res.Err.Code != CodeUnknownAPI {
		t.Errorf("code = %q, want %q", res.Err.Code, CodeUnknownAPI)
	}
	if !strings.Contains(res.Err.Message, "Unknown API") {
		t.Errorf("message = %q, want it to mention Unknown API", res.Err.Message)
	}
}

func TestPoll_Raw(t *testing.T) {
	status := statusDoc(20000, 27000)
	d := NewDispatcher(newFakeSource(map[tedapi.DocumentKind]any{tedapi.KindStatus: status}), Config{})

	res := d.Poll(context.Background(), "/api/system_status/soe", Options{Raw: true})
	got, ok := res.Value.(map[string]any)
	if !ok || got["control"] == nil {
		t.Errorf("Poll(raw) = %v, want the status document", res.Value)
	}
}

func TestPoll_ForcePassesThrough(t *testing.T) {
	src := newFakeSource(map[tedapi.DocumentKind]any{tedapi.KindStatus: statusDoc(1, 2)})
	d := NewDispatcher(src, Config{})

	d.Poll(context.Background(), "/api/system_status/soe", Options{Force: true})
	if src.forced != 1 {
		t.Errorf("forced reads = %d, want 1", src.forced)
	}
}

func TestPoll_ReadsEachDocumentOnce(t *testing.T) {
	src := newFakeSource(map[tedapi.DocumentKind]any{
		tedapi.KindStatus: statusDoc(1, 2),
		tedapi.KindConfig: map[string]any{},
	})
	d := NewDispatcher(src, Config{})

	d.Poll(context.Background(), "/api/meters/aggregates", Options{})
	if src.reads[tedapi.KindStatus] != 1 {
		t.Errorf("status reads = %d, want 1", src.reads[tedapi.KindStatus])
	}
}

func TestPoll_Fetch(t *testing.T) {
	config := map[string]any{"vin": "1232100-00-E--TG123"}
	d := NewDispatcher(newFakeSource(map[tedapi.DocumentKind]any{tedapi.KindConfig: config}), Config{})

	res := d.Poll(context.Background(), "/tedapi/config", Options{})
	if got, _ := res.Value.(map[string]any); got["vin"] != "1232100-00-E--TG123" {
		t.Errorf("Poll(/tedapi/config) = %v", res.Value)
	}

	res = d.Poll(context.Background(), "/tedapi/components", Options{})
	if !res.Empty() {
		t.Errorf("Poll(/tedapi/components) = %v, want empty", res.Value)
	}
}

func TestPost(t *testing.T) {
	tests := []struct {
		name            string
		secret          string
		token           string
		endpoint        string
		payload         map[string]any
		operator        *fakeOperator
		wantCode        ErrorCode
		wantValue       bool
		wantInvalidated int
	}{
		{
			name:     "disabled",
			endpoint: "/api/operation",
			payload:  map[string]any{"mode": "backup"},
			wantCode: CodeControlDisabled,
		},
		{
			name:     "bad token",
			secret:   "s3cret",
			token:    "wrong",
			endpoint: "/api/operation",
			payload:  map[string]any{"mode": "backup"},
			wantCode: CodeUnauthorized,
		},
		{
			name:     "unknown endpoint",
			secret:   "s3cret",
			token:    "s3cret",
			endpoint: "/api/system_status/soe",
			wantCode: CodeUnknownAPI,
		},
		{
			name:     "invalid mode",
			secret:   "s3cret",
			token:    "s3cret",
			endpoint: "/api/operation",
			payload:  map[string]any{"mode": "turbo"},
			operator: &fakeOperator{},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "operator failure",
			secret:   "s3cret",
			token:    "s3cret",
			endpoint: "/api/operation",
			payload:  map[string]any{"reserve": "20"},
			operator: &fakeOperator{err: errors.New("broker down")},
			wantCode: CodeCommandFailed,
		},
		{
			name:     "operator unavailable",
			secret:   "s3cret",
			token:    "s3cret",
			endpoint: "/api/operation",
			payload:  map[string]any{"mode": "backup"},
			operator: &fakeOperator{err: fmt.Errorf("publishing: %w", ErrOperatorUnavailable)},
		},
		{
			name:     "no operator",
			secret:   "s3cret",
			token:    "s3cret",
			endpoint: "/api/operation",
			payload:  map[string]any{"mode": "backup"},
		},
		{
			name:            "applied",
			secret:          "s3cret",
			token:           "s3cret",
			endpoint:        "/api/operation",
			payload:         map[string]any{"mode": "self_consumption", "reserve": "30"},
			operator:        &fakeOperator{},
			wantValue:       true,
			wantInvalidated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(nil)
			cfg := Config{ControlSecret: tt.secret}
			if tt.operator != nil {
				cfg.Operator = tt.operator
			}
			d := NewDispatcher(src, cfg)

			res := d.Post(context.Background(), tt.endpoint, tt.payload, tt.token)

			if tt.wantCode != "" {
				if res.Err == nil || res.Err.Code != tt.wantCode {
					t.Fatalf("Post() err = %v, want code %q", res.Err, tt.wantCode)
				}
			} else if res.Err != nil {
				t.Fatalf("Post() unexpected error %v", res.Err)
			}
			if (res.Value != nil) != tt.wantValue {
				t.Errorf("Post() value = %v, want present=%v", res.Value, tt.wantValue)
			}
			if src.invalidated != tt.wantInvalidated {
				t.Errorf("invalidations = %d, want %d", src.invalidated, tt.wantInvalidated)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	if err := NewDispatcher(newFakeSource(nil), Config{}).Authorize("x"); err == nil || err.Code != CodeControlDisabled {
		t.Errorf("Authorize() without secret = %v, want control disabled", err)
	}

	d := NewDispatcher(newFakeSource(nil), Config{ControlSecret: "s3cret"})
	if err := d.Authorize("s3cre"); err == nil || err.Code != CodeUnauthorized {
		t.Errorf("Authorize(wrong) = %v, want unauthorized", err)
	}
	if err := d.Authorize("s3cret"); err != nil {
		t.Errorf("Authorize(valid) = %v", err)
	}
}

func TestPost_PassesRequestToOperator(t *testing.T) {
	op := &fakeOperator{}
	d := NewDispatcher(newFakeSource(nil), Config{ControlSecret: "s", Operator: op})

	d.Post(context.Background(), "/api/operation", map[string]any{"mode": "autonomous", "reserve": "25"}, "s")

	if op.got.Mode != ModeAutonomous {
		t.Errorf("mode = %q, want %q", op.got.Mode, ModeAutonomous)
	}
	if op.got.BackupReservePercent == nil || *op.got.BackupReservePercent != 25 {
		t.Errorf("reserve = %v, want 25", op.got.BackupReservePercent)
	}
}

func TestErrorJSON(t *testing.T) {
	b, err := json.Marshal(errUnknownAPI("/x"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `{"ERROR":"Unknown API: /x"}` {
		t.Errorf("Marshal() = %s", b)
	}
}

func TestEndpoints(t *testing.T) {
	d := NewDispatcher(newFakeSource(nil), Config{})
	eps := d.Endpoints()

	if !sort.SliceIsSorted(eps, func(i, j int) bool { return eps[i].Name < eps[j].Name }) {
		t.Error("Endpoints() not sorted by name")
	}

	kinds := make(map[string][]string)
	for _, e := range eps {
		kinds[e.Name] = append(kinds[e.Name], e.Kind)
	}
	if got := kinds["/api/operation"]; len(got) != 2 || got[0] != "derive" || got[1] != "write" {
		t.Errorf("/api/operation kinds = %v, want [derive write]", got)
	}
	if got := kinds["/tedapi/status"]; len(got) != 1 || got[0] != "fetch" {
		t.Errorf("/tedapi/status kinds = %v, want [fetch]", got)
	}
}

func TestControlEnabled(t *testing.T) {
	if NewDispatcher(newFakeSource(nil), Config{}).ControlEnabled() {
		t.Error("ControlEnabled() = true without a secret")
	}
	if !NewDispatcher(newFakeSource(nil), Config{ControlSecret: "x"}).ControlEnabled() {
		t.Error("ControlEnabled() = false with a secret")
	}
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name        string
		payload     map[string]any
		wantMode    string
		wantReserve float64
		wantErr     bool
	}{
		{name: "mode only", payload: map[string]any{"mode": "backup"}, wantMode: "backup", wantReserve: -1},
		{name: "real_mode key", payload: map[string]any{"real_mode": "autonomous"}, wantMode: "autonomous", wantReserve: -1},
		{name: "reserve string", payload: map[string]any{"reserve": "40"}, wantReserve: 40},
		{name: "reserve number", payload: map[string]any{"backup_reserve_percent": 55.0}, wantReserve: 55},
		{name: "reserve not digits", payload: map[string]any{"reserve": "4o"}, wantErr: true},
		{name: "reserve out of range", payload: map[string]any{"reserve": "140"}, wantErr: true},
		{name: "unknown mode", payload: map[string]any{"mode": "eco"}, wantErr: true},
		{name: "mode wrong type", payload: map[string]any{"mode": 3.0}, wantErr: true},
		{name: "empty", payload: map[string]any{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOperation(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseOperation() expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOperation() error = %v", err)
			}
			if got.Mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", got.Mode, tt.wantMode)
			}
			if tt.wantReserve < 0 {
				if got.BackupReservePercent != nil {
					t.Errorf("reserve = %v, want nil", *got.BackupReservePercent)
				}
				return
			}
			if got.BackupReservePercent == nil || *got.BackupReservePercent != tt.wantReserve {
				t.Errorf("reserve = %v, want %v", got.BackupReservePercent, tt.wantReserve)
			}
		})
	}
}
