// Package datadog implements a Datadog backend for internal/metrics.
//
// Metrics are buffered in memory and submitted on a ticker (default once a
// minute) plus a final Flush on Close, so long runs produce a time series and
// short runs still report their tail.
//
// Flush snapshots and resets the buffers under the mutex, then submits
// outside it; pipeline workers never wait on the network.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"gonum.org/v1/gonum/stat"

	"laptel/internal/metrics"
)

// Options controls the Datadog backend.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Default "laptel".
	JobName string

	// Tags are extra Datadog tags, e.g. "env:prod".
	Tags []string

	// FlushEvery is the submit interval. Default 60s.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the one method of *datadogV2.MetricsApi the backend
// needs; tests replace it with a fake.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	unitCounts      map[string]float64   // status -> count
	recordCounts    map[string]float64   // kind -> count
	durationSamples map[string][]float64 // status -> seconds
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend starts a Datadog backend. Credentials and site come from the
// standard DD_API_KEY / DD_SITE environment handled by the client.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "laptel"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		unitCounts:      make(map[string]float64),
		recordCounts:    make(map[string]float64),
		durationSamples: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and flushes once more. Call once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

func labelOr(labels metrics.Labels, key, def string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return def
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.UnitsTotal:
		b.unitCounts[labelOr(labels, "status", "unknown")] += delta
	case metrics.RecordsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.recordCounts[kind] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.UnitDurationSeconds {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	status := labelOr(labels, "status", "unknown")
	b.durationSamples[status] = append(b.durationSamples[status], value)
}

type snapshot struct {
	unitCounts      map[string]float64
	recordCounts    map[string]float64
	durationSamples map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.unitCounts) == 0 && len(s.recordCounts) == 0 && len(s.durationSamples) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		unitCounts:      b.unitCounts,
		recordCounts:    b.recordCounts,
		durationSamples: b.durationSamples,
	}
	b.unitCounts = make(map[string]float64)
	b.recordCounts = make(map[string]float64)
	b.durationSamples = make(map[string][]float64)
	return s
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries is pure: no locks, network or clocks.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.unitCounts)+len(s.recordCounts)+6*len(s.durationSamples))

	for _, status := range sortedKeys(s.unitCounts) {
		series = append(series, point("laptel.units.total", datadogV2.METRICINTAKETYPE_COUNT, s.unitCounts[status],
			withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for _, kind := range sortedKeys(s.recordCounts) {
		series = append(series, point("laptel.records.total", datadogV2.METRICINTAKETYPE_COUNT, s.recordCounts[kind],
			withTags(b.baseTags, "kind:"+kind), nowUnix))
	}

	statuses := make([]string, 0, len(s.durationSamples))
	for k := range s.durationSamples {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		addPercentiles(&series, withTags(b.baseTags, "status:"+status), "laptel.unit.duration_seconds", s.durationSamples[status], nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges. samples is not
// modified.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, prefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	for _, q := range []struct {
		suffix string
		p      float64
	}{{".p50", 0.50}, {".p90", 0.90}, {".p95", 0.95}, {".p99", 0.99}} {
		*series = append(*series, point(prefix+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, stat.Quantile(q.p, stat.Empirical, cp, nil), tags, nowUnix))
	}
	*series = append(*series, point(prefix+".max", datadogV2.METRICINTAKETYPE_GAUGE, cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, point(prefix+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(cp)), tags, nowUnix))
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v != 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// ParseTagsCSV parses comma-separated tags like "env:prod,service:laptel".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
