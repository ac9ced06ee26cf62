package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics for HTTP requests, channel attachment
// operations, alarm management, deletion notifications, and segment caching.
// It coordinates concurrent writers via a RWMutex and exposes the data in
// Prometheus text format.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	attachAttempts  map[string]uint64
	attachFailures  map[string]uint64
	alarmOps        map[string]uint64
	notifications   map[string]uint64
	cachedSegments  atomic.Uint64
	attachedCount   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		attachAttempts:  make(map[string]uint64),
		attachFailures:  make(map[string]uint64),
		alarmOps:        make(map[string]uint64),
		notifications:   make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not need
// a dedicated instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveAttachAttempt records a channel mutation attempt keyed by operation
// name (e.g. "attach", "detach").
func (r *Recorder) ObserveAttachAttempt(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.attachAttempts[op]++
	r.mu.Unlock()
}

// ObserveAttachFailure records a failed channel mutation keyed by operation
// name. The caller should also record the attempt separately.
func (r *Recorder) ObserveAttachFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.attachFailures[op]++
	r.mu.Unlock()
}

// ChannelAttached increments the gauge of channels carrying the replay
// output group.
func (r *Recorder) ChannelAttached() {
	r.attachedCount.Add(1)
}

// ChannelDetached decrements the attached-channel gauge, guarding against
// negative counts when detach races a failed attach.
func (r *Recorder) ChannelDetached() {
	for {
		current := r.attachedCount.Load()
		if current <= 0 {
			return
		}
		if r.attachedCount.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// AttachedChannels exposes the current gauge of attached channels.
func (r *Recorder) AttachedChannels() int64 {
	return r.attachedCount.Load()
}

// ObserveAlarmOperation records a CloudWatch alarm operation ("ensure" or
// "delete").
func (r *Recorder) ObserveAlarmOperation(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.alarmOps[op]++
	r.mu.Unlock()
}

// ObserveNotification records an outbound queue notification by outcome
// ("sent" or "failed").
func (r *Recorder) ObserveNotification(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.notifications[normalized]++
	r.mu.Unlock()
}

// SegmentCached increments the count of segments written to the cache bucket.
func (r *Recorder) SegmentCached() {
	r.cachedSegments.Add(1)
}

// CachedSegments returns the total number of cached segments recorded.
func (r *Recorder) CachedSegments() uint64 {
	return r.cachedSegments.Load()
}

// AttachCounts returns copies of attempt and failure counters for testing and
// reporting purposes.
func (r *Recorder) AttachCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.attachAttempts))
	for k, v := range r.attachAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.attachFailures))
	for k, v := range r.attachFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.attachAttempts = make(map[string]uint64)
	r.attachFailures = make(map[string]uint64)
	r.alarmOps = make(map[string]uint64)
	r.notifications = make(map[string]uint64)
	r.cachedSegments.Store(0)
	r.attachedCount.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	attachOps := sortedKeys(r.attachAttempts, r.attachFailures)
	alarmOps := sortedKeys(r.alarmOps)
	notifications := sortedKeys(r.notifications)

	fmt.Fprintln(w, "# HELP clipping_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE clipping_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "clipping_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP clipping_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE clipping_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "clipping_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP clipping_attach_attempts_total Channel attachment operations attempted by action")
	fmt.Fprintln(w, "# TYPE clipping_attach_attempts_total counter")
	for _, op := range attachOps {
		fmt.Fprintf(w, "clipping_attach_attempts_total{operation=%q} %d\n", op, r.attachAttempts[op])
	}

	fmt.Fprintln(w, "# HELP clipping_attach_failures_total Channel attachment operation failures by action")
	fmt.Fprintln(w, "# TYPE clipping_attach_failures_total counter")
	for _, op := range attachOps {
		fmt.Fprintf(w, "clipping_attach_failures_total{operation=%q} %d\n", op, r.attachFailures[op])
	}

	fmt.Fprintln(w, "# HELP clipping_attached_channels Current number of channels carrying the replay output group")
	fmt.Fprintln(w, "# TYPE clipping_attached_channels gauge")
	fmt.Fprintf(w, "clipping_attached_channels %d\n", r.attachedCount.Load())

	fmt.Fprintln(w, "# HELP clipping_alarm_operations_total CloudWatch alarm operations by action")
	fmt.Fprintln(w, "# TYPE clipping_alarm_operations_total counter")
	for _, op := range alarmOps {
		fmt.Fprintf(w, "clipping_alarm_operations_total{operation=%q} %d\n", op, r.alarmOps[op])
	}

	fmt.Fprintln(w, "# HELP clipping_notifications_total Deletion queue notifications by outcome")
	fmt.Fprintln(w, "# TYPE clipping_notifications_total counter")
	for _, outcome := range notifications {
		fmt.Fprintf(w, "clipping_notifications_total{outcome=%q} %d\n", outcome, r.notifications[outcome])
	}

	fmt.Fprintln(w, "# HELP clipping_cached_segments_total Segments written to the cache bucket")
	fmt.Fprintln(w, "# TYPE clipping_cached_segments_total counter")
	fmt.Fprintf(w, "clipping_cached_segments_total %d\n", r.cachedSegments.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(maps ...map[string]uint64) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
