// Package metrics provides per-session pipeline counters.
//
// The Collector accumulates counters while a pump runs. It is a leaf package
// with no internal dependencies. All methods are nil-receiver safe so
// components can be built without metrics in tests.
package metrics

import "sync"

// Stream names used for per-stream counters.
const (
	StreamColor      = "color"
	StreamDepth      = "depth"
	StreamConfidence = "confidence"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Pump
	Ticks            int64 `json:"ticks"`
	SkippedInFlight  int64 `json:"skipped_in_flight"`
	SkippedNoFrame   int64 `json:"skipped_no_frame"`
	FramesProcessed  int64 `json:"frames_processed"`
	ProcessFailures  int64 `json:"process_failures"`
	StageFailures    int64 `json:"stage_failures"`
	ClassifierRuns   int64 `json:"classifier_runs"`
	ClassifierErrors int64 `json:"classifier_errors"`

	// Recording
	Accepted       map[string]int64 `json:"accepted"`
	Dropped        map[string]int64 `json:"dropped"`
	Snapshots      int64            `json:"snapshots"`
	SnapshotErrors int64            `json:"snapshot_errors"`
	Poses          int64            `json:"poses"`
	PoseErrors     int64            `json:"pose_errors"`

	// Streaming
	PacketsSent  int64 `json:"packets_sent"`
	SendFailures int64 `json:"send_failures"`
	BytesSent    int64 `json:"bytes_sent"`

	// Dimensions (informational, set at construction)
	Mode      string `json:"mode"`
	SessionID string `json:"session_id"`
}

// Collector accumulates metrics for one controller.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	ticks            int64
	skippedInFlight  int64
	skippedNoFrame   int64
	framesProcessed  int64
	processFailures  int64
	stageFailures    int64
	classifierRuns   int64
	classifierErrors int64

	accepted       map[string]int64
	dropped        map[string]int64
	snapshots      int64
	snapshotErrors int64
	poses          int64
	poseErrors     int64

	packetsSent  int64
	sendFailures int64
	bytesSent    int64

	mode      string
	sessionID string
}

// NewCollector creates a Collector.
func NewCollector() *Collector {
	return &Collector{
		accepted: make(map[string]int64),
		dropped:  make(map[string]int64),
	}
}

// SetDimensions labels the counters with the active mode and session.
func (c *Collector) SetDimensions(mode, sessionID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.mode = mode
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Collector) add(field *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Pump ---

// IncTick records a clock tick.
func (c *Collector) IncTick() {
	if c == nil {
		return
	}
	c.add(&c.ticks, 1)
}

// IncSkippedInFlight records a tick skipped because a frame was in flight.
func (c *Collector) IncSkippedInFlight() {
	if c == nil {
		return
	}
	c.add(&c.skippedInFlight, 1)
}

// IncSkippedNoFrame records a tick with no frame or no color transform.
func (c *Collector) IncSkippedNoFrame() {
	if c == nil {
		return
	}
	c.add(&c.skippedNoFrame, 1)
}

// IncProcessed records a frame that went through the processor.
func (c *Collector) IncProcessed() {
	if c == nil {
		return
	}
	c.add(&c.framesProcessed, 1)
}

// IncProcessFailure records a frame the processor rejected entirely.
func (c *Collector) IncProcessFailure() {
	if c == nil {
		return
	}
	c.add(&c.processFailures, 1)
}

// IncStageFailure records a single skipped processing stage.
func (c *Collector) IncStageFailure() {
	if c == nil {
		return
	}
	c.add(&c.stageFailures, 1)
}

// IncClassifierRun records a classifier invocation and whether it failed.
func (c *Collector) IncClassifierRun(failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.classifierRuns++
	if failed {
		c.classifierErrors++
	}
	c.mu.Unlock()
}

// --- Recording ---

// IncAccepted records a payload accepted by a stream encoder.
func (c *Collector) IncAccepted(stream string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.accepted[stream]++
	c.mu.Unlock()
}

// IncDropped records a payload dropped under backpressure.
func (c *Collector) IncDropped(stream string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.dropped[stream]++
	c.mu.Unlock()
}

// IncSnapshot records a raw depth snapshot write and whether it failed.
func (c *Collector) IncSnapshot(failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if failed {
		c.snapshotErrors++
	} else {
		c.snapshots++
	}
	c.mu.Unlock()
}

// IncPose records a pose line write and whether it failed.
func (c *Collector) IncPose(failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if failed {
		c.poseErrors++
	} else {
		c.poses++
	}
	c.mu.Unlock()
}

// --- Streaming ---

// IncPacketSent records a packet handed to the transport.
func (c *Collector) IncPacketSent(bytes int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packetsSent++
	c.bytesSent += int64(bytes)
	c.mu.Unlock()
}

// IncSendFailure records a packet the transport rejected.
func (c *Collector) IncSendFailure() {
	if c == nil {
		return
	}
	c.add(&c.sendFailures, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Ticks:            c.ticks,
		SkippedInFlight:  c.skippedInFlight,
		SkippedNoFrame:   c.skippedNoFrame,
		FramesProcessed:  c.framesProcessed,
		ProcessFailures:  c.processFailures,
		StageFailures:    c.stageFailures,
		ClassifierRuns:   c.classifierRuns,
		ClassifierErrors: c.classifierErrors,

		Accepted:       copyCounts(c.accepted),
		Dropped:        copyCounts(c.dropped),
		Snapshots:      c.snapshots,
		SnapshotErrors: c.snapshotErrors,
		Poses:          c.poses,
		PoseErrors:     c.poseErrors,

		PacketsSent:  c.packetsSent,
		SendFailures: c.sendFailures,
		BytesSent:    c.bytesSent,

		Mode:      c.mode,
		SessionID: c.sessionID,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
