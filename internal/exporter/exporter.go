package exporter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-teg/internal/legacy"
	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

const (
	defaultInterval = 30 * time.Second

	endpointAggregates = "/api/meters/aggregates"
	endpointSOE        = "/api/system_status/soe"
	endpointGridStatus = "/api/system_status/grid_status"
)

// Sink names reported to the Observer.
const (
	SinkMQTT     = "mqtt"
	SinkInfluxDB = "influxdb"
)

// ErrNoData is returned by Export when none of the endpoints produced data.
var ErrNoData = errors.New("exporter: no telemetry available")

// Poller reads legacy endpoints. *legacy.Dispatcher satisfies it.
type Poller interface {
	Poll(ctx context.Context, name string, opts legacy.Options) legacy.Result
}

// Publisher publishes JSON state messages. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

// PointWriter receives time-series points. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePower(location string, watts float64, ts time.Time)
	WriteBattery(percentage float64, ts time.Time)
	WriteGrid(connected bool, ts time.Time)
}

// Observer records the outcome of each sink per cycle.
type Observer interface {
	ObserveExport(sink string, err error)
}

// Logger is the logging interface used by the exporter.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type noopObserver struct{}

func (noopObserver) ObserveExport(string, error) {}

// Config holds exporter settings. Either sink may be nil.
type Config struct {
	// Interval between cycles. Default: 30 seconds.
	Interval time.Duration

	// Topics builds the retained state topics.
	Topics mqtt.Topics

	Publisher Publisher
	Points    PointWriter
	Observer  Observer
	Logger    Logger
}

// Snapshot is the telemetry gathered in one cycle. Nil maps mean the
// endpoint returned nothing.
type Snapshot struct {
	Time       time.Time
	Aggregates map[string]any
	SOE        map[string]any
	GridStatus map[string]any
}

// Exporter runs the export loop.
type Exporter struct {
	poller   Poller
	interval time.Duration
	topics   mqtt.Topics
	pub      Publisher
	points   PointWriter
	observer Observer
	logger   Logger
	now      func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an exporter reading from poller.
//
// Parameters:
//   - poller: Source of legacy endpoint values
//   - cfg: Sinks and interval
//
// Returns:
//   - *Exporter: Ready to start (call Start to begin exporting)
func New(poller Poller, cfg Config) *Exporter {
	e := &Exporter{
		poller:   poller,
		interval: cfg.Interval,
		topics:   cfg.Topics,
		pub:      cfg.Publisher,
		points:   cfg.Points,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if e.interval <= 0 {
		e.interval = defaultInterval
	}
	if e.observer == nil {
		e.observer = noopObserver{}
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	return e
}

// Start begins periodic export. The first cycle runs immediately.
func (e *Exporter) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop ends the loop and waits for an in-flight cycle. Safe to call more
// than once.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}

func (e *Exporter) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

func (e *Exporter) cycle(ctx context.Context) {
	if err := e.Export(ctx); err != nil {
		e.logger.Warn("telemetry export failed", "error", err)
	}
}

// Collect reads the exported endpoints once.
func (e *Exporter) Collect(ctx context.Context) Snapshot {
	return Snapshot{
		Time:       e.now(),
		Aggregates: e.read(ctx, endpointAggregates),
		SOE:        e.read(ctx, endpointSOE),
		GridStatus: e.read(ctx, endpointGridStatus),
	}
}

func (e *Exporter) read(ctx context.Context, name string) map[string]any {
	res := e.poller.Poll(ctx, name, legacy.Options{})
	if res.Err != nil {
		e.logger.Warn("exporter poll failed", "endpoint", name, "error", res.Err)
		return nil
	}
	m, _ := res.Value.(map[string]any)
	return m
}

// Export runs one cycle: collect, then write to every configured sink.
// Sink failures are joined into the returned error.
func (e *Exporter) Export(ctx context.Context) error {
	snap := e.Collect(ctx)
	if snap.Aggregates == nil && snap.SOE == nil && snap.GridStatus == nil {
		return ErrNoData
	}

	var errs []error
	if e.pub != nil {
		err := e.publish(snap)
		e.observer.ObserveExport(SinkMQTT, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", SinkMQTT, err))
		}
	}
	if e.points != nil {
		e.write(snap)
		e.observer.ObserveExport(SinkInfluxDB, nil)
	}

	e.logger.Debug("telemetry exported", "at", snap.Time)
	return errors.Join(errs...)
}

// publish sends each non-empty value to its retained state topic.
func (e *Exporter) publish(snap Snapshot) error {
	if !e.pub.IsConnected() {
		return mqtt.ErrNotConnected
	}

	var errs []error
	for _, s := range []struct {
		topic string
		value map[string]any
	}{
		{mqtt.TopicAggregates, snap.Aggregates},
		{mqtt.TopicSOE, snap.SOE},
		{mqtt.TopicGridStatus, snap.GridStatus},
	} {
		if s.value == nil {
			continue
		}
		if err := e.pub.PublishJSON(e.topics.State(s.topic), s.value, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// write converts the snapshot to points. Missing values are skipped.
func (e *Exporter) write(snap Snapshot) {
	for _, loc := range []string{tedapi.LocationSite, tedapi.LocationBattery, tedapi.LocationLoad, tedapi.LocationSolar} {
		if w, ok := tedapi.LookupFloat(snap.Aggregates, strings.ToLower(loc), "instant_power"); ok {
			e.points.WritePower(loc, w, snap.Time)
		}
	}
	if pct, ok := tedapi.LookupFloat(snap.SOE, "percentage"); ok {
		e.points.WriteBattery(pct, snap.Time)
	}
	if s, ok := tedapi.LookupString(snap.GridStatus, "grid_status"); ok {
		e.points.WriteGrid(tedapi.GridState(s) == tedapi.GridConnected, snap.Time)
	}
}
