package legacy

import (
	"context"
	"crypto/subtle"
	"errors"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// Source provides gateway documents. *tedapi.Client satisfies it.
type Source interface {
	Document(ctx context.Context, kind tedapi.DocumentKind, force bool) any
	Invalidate(kinds ...tedapi.DocumentKind)
	Host() string
	Gen3() bool
}

var _ Source = (*tedapi.Client)(nil)

// Operator executes operation changes (mode and backup reserve) on behalf of
// the write endpoint.
type Operator interface {
	SetOperation(ctx context.Context, req OperationRequest) (any, error)
}

// Logger is the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options modify a Poll.
type Options struct {
	// Force bypasses the cache for the documents the handler reads.
	Force bool

	// Raw returns the handler's source document instead of the legacy shape.
	Raw bool
}

// Config holds dispatcher settings.
type Config struct {
	// ControlSecret enables write endpoints when non-empty. Post calls must
	// present the same value as their token.
	ControlSecret string

	// Operator executes write requests. Without one, writes report nothing.
	Operator Operator

	Logger Logger
}

// handlerKind tags the handler variants.
type handlerKind int

const (
	kindDerive handlerKind = iota
	kindFetch
	kindWrite
)

func (k handlerKind) String() string {
	switch k {
	case kindDerive:
		return "derive"
	case kindFetch:
		return "fetch"
	case kindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// readFunc produces a legacy value from the source documents.
type readFunc func(ctx context.Context, v *view) any

// writeFunc applies a payload and returns the new legacy value.
type writeFunc func(ctx context.Context, payload map[string]any) (any, error)

// handler is one dispatch table variant. Exactly one of read and write is
// set, matching kind.
type handler struct {
	kind   handlerKind
	source tedapi.DocumentKind
	read   readFunc
	write  writeFunc
}

func derive(source tedapi.DocumentKind, fn readFunc) handler {
	return handler{kind: kindDerive, source: source, read: fn}
}

func fetch(source tedapi.DocumentKind) handler {
	return handler{kind: kindFetch, source: source, read: func(ctx context.Context, v *view) any {
		return v.doc(ctx, source)
	}}
}

// constant is a derive handler without a source document.
func constant(fn func() any) handler {
	return derive("", func(context.Context, *view) any { return fn() })
}

func write(fn writeFunc) handler {
	return handler{kind: kindWrite, write: fn}
}

// Dispatcher maps legacy endpoint names to handlers. The tables are built
// once in NewDispatcher and never modified.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Dispatcher struct {
	src      Source
	secret   string
	operator Operator
	logger   Logger
	now      func() time.Time

	poll map[string]handler
	post map[string]handler
}

// NewDispatcher creates a dispatcher over src.
func NewDispatcher(src Source, cfg Config) *Dispatcher {
	d := &Dispatcher{
		src:      src,
		secret:   cfg.ControlSecret,
		operator: cfg.Operator,
		logger:   cfg.Logger,
		now:      time.Now,
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	d.poll = d.pollTable()
	d.post = d.postTable()
	return d
}

// Poll answers a read of the named legacy endpoint.
//
// Parameters:
//   - ctx: Bounds device I/O for this call only
//   - name: Legacy endpoint name, e.g. "/api/system_status/soe"
//   - opts: Force and Raw options
//
// Returns:
//   - Result: Value (nil when unavailable) or an unknown-endpoint error
func (d *Dispatcher) Poll(ctx context.Context, name string, opts Options) Result {
	h, ok := d.poll[name]
	if !ok {
		d.logger.Debug("unknown legacy endpoint", "name", name)
		return Result{Err: errUnknownAPI(name)}
	}

	v := &view{src: d.src, force: opts.Force}
	if opts.Raw && h.source != "" {
		return Result{Value: v.doc(ctx, h.source)}
	}
	return Result{Value: h.read(ctx, v)}
}

// Post applies a write to the named legacy endpoint. A non-nil result
// invalidates every cached document exactly once.
//
// Parameters:
//   - ctx: Request context
//   - name: Legacy endpoint name, e.g. "/api/operation"
//   - payload: Decoded request body
//   - token: Control secret presented by the caller
//
// Returns:
//   - Result: Value from the write handler, or a structured error
func (d *Dispatcher) Post(ctx context.Context, name string, payload map[string]any, token string) Result {
	if err := d.Authorize(token); err != nil {
		if err.Code == CodeUnauthorized {
			d.logger.Warn("control command rejected", "name", name, "reason", "invalid token")
		}
		return Result{Err: err}
	}

	h, ok := d.post[name]
	if !ok {
		return Result{Err: errUnknownAPI(name)}
	}

	value, err := h.write(ctx, payload)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return Result{Err: e}
		}
		if errors.Is(err, ErrOperatorUnavailable) {
			d.logger.Warn("control command not delivered", "name", name, "error", err)
			return Result{}
		}
		d.logger.Error("control command failed", "name", name, "error", err)
		return Result{Err: &Error{Code: CodeCommandFailed, Message: "Control Command Error: " + err.Error()}}
	}
	if value == nil {
		return Result{}
	}

	d.src.Invalidate()
	d.logger.Info("control command applied", "name", name)
	return Result{Value: value}
}

// Authorize checks token against the control secret without applying
// anything. It returns nil when writes are enabled and the token matches.
func (d *Dispatcher) Authorize(token string) *Error {
	if d.secret == "" {
		return errControlDisabled()
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(d.secret)) != 1 {
		return errUnauthorized()
	}
	return nil
}

// ControlEnabled reports whether write endpoints are enabled.
func (d *Dispatcher) ControlEnabled() bool {
	return d.secret != ""
}

// Endpoint describes one dispatch table entry.
type Endpoint struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Source string `json:"source,omitempty"`
}

// Endpoints lists every read and write entry, sorted by name.
func (d *Dispatcher) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(d.poll)+len(d.post))
	for name, h := range d.poll {
		out = append(out, Endpoint{Name: name, Kind: h.kind.String(), Source: string(h.source)})
	}
	for name, h := range d.post {
		out = append(out, Endpoint{Name: name, Kind: h.kind.String()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// view gives handlers access to documents under one Force setting and
// memoises each document for the duration of a single poll.
type view struct {
	src   Source
	force bool
	docs  map[tedapi.DocumentKind]any
}

func (v *view) doc(ctx context.Context, kind tedapi.DocumentKind) any {
	if d, ok := v.docs[kind]; ok {
		return d
	}
	d := v.src.Document(ctx, kind, v.force)
	if v.docs == nil {
		v.docs = make(map[tedapi.DocumentKind]any)
	}
	v.docs[kind] = d
	return d
}

func (v *view) config(ctx context.Context) any     { return v.doc(ctx, tedapi.KindConfig) }
func (v *view) status(ctx context.Context) any     { return v.doc(ctx, tedapi.KindStatus) }
func (v *view) controller(ctx context.Context) any { return v.doc(ctx, tedapi.KindController) }

func (v *view) firmware(ctx context.Context) *tedapi.Firmware {
	fw, _ := v.doc(ctx, tedapi.KindFirmware).(*tedapi.Firmware)
	return fw
}
