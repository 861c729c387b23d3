package sgcopy

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the command-latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a copy job,
// matching the counters a finishing sgh_dd/sg_mrq_dd run prints.
type Metrics struct {
	// Command counters, by side.
	InOps    atomic.Uint64 // READ-side commands issued
	OutOps   atomic.Uint64 // WRITE-side commands issued
	VerifyOps atomic.Uint64 // VERIFY-side commands issued

	// Byte counters.
	InBytes  atomic.Uint64
	OutBytes atomic.Uint64

	// Error counters.
	InErrors     atomic.Uint64
	OutErrors    atomic.Uint64
	VerifyErrors atomic.Uint64

	// Copy-engine-specific counters.
	PartialBlocks       atomic.Uint64 // segments completed with a short transfer
	RetriesEAGAIN       atomic.Uint64 // EAGAIN/EBUSY retry count on submit
	RetriesEBUSY        atomic.Uint64
	MiscompareCount     atomic.Uint64 // VERIFY commands that reported a miscompare
	DirectIOFallbacks   atomic.Uint64 // commands the driver downgraded from direct to indirect I/O
	ResidualBytesSum    atomic.Uint64 // sum of sg_io_hdr.resid / sg_io_v4.din_resid+dout_resid
	NumWaitingPolls     atomic.Uint64 // SG_GET_NUM_WAITING calls made by the stall watchdog

	// In-flight command statistics (outstanding pack_ids).
	InFlightTotal atomic.Uint64 // cumulative in-flight depth samples
	InFlightCount atomic.Uint64 // number of in-flight depth measurements
	MaxInFlight   atomic.Uint32 // maximum observed in-flight depth

	// Performance tracking.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts).
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Job lifecycle.
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordIn records a read-side (in) command.
func (m *Metrics) RecordIn(bytes uint64, latencyNs uint64, success bool) {
	m.InOps.Add(1)
	if success {
		m.InBytes.Add(bytes)
	} else {
		m.InErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordOut records a write-side (out) command.
func (m *Metrics) RecordOut(bytes uint64, latencyNs uint64, success bool) {
	m.OutOps.Add(1)
	if success {
		m.OutBytes.Add(bytes)
	} else {
		m.OutErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordVerify records a verify-side command.
func (m *Metrics) RecordVerify(latencyNs uint64, success bool, miscompare bool) {
	m.VerifyOps.Add(1)
	if !success {
		m.VerifyErrors.Add(1)
	}
	if miscompare {
		m.MiscompareCount.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPartialBlock records a segment that transferred fewer bytes than
// requested (short read/write, resid > 0).
func (m *Metrics) RecordPartialBlock(residualBytes uint64) {
	m.PartialBlocks.Add(1)
	m.ResidualBytesSum.Add(residualBytes)
}

// RecordRetry records a busy-retry of a submit call, classified by which
// errno triggered it.
func (m *Metrics) RecordRetry(eagain bool) {
	if eagain {
		m.RetriesEAGAIN.Add(1)
	} else {
		m.RetriesEBUSY.Add(1)
	}
}

// RecordDirectIOFallback records a command the driver completed with
// indirect I/O despite SGV4_FLAG_DIRECT_IO / SG_FLAG_DIRECT_IO being set.
func (m *Metrics) RecordDirectIOFallback() {
	m.DirectIOFallbacks.Add(1)
}

// RecordNumWaitingPoll records one SG_GET_NUM_WAITING ioctl made by the
// stall watchdog.
func (m *Metrics) RecordNumWaitingPoll() {
	m.NumWaitingPolls.Add(1)
}

// RecordInFlight records current in-flight command depth for statistics.
func (m *Metrics) RecordInFlight(depth uint32) {
	m.InFlightTotal.Add(uint64(depth))
	m.InFlightCount.Add(1)

	for {
		current := m.MaxInFlight.Load()
		if depth <= current {
			break
		}
		if m.MaxInFlight.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records command latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the job as finished.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	InOps     uint64
	OutOps    uint64
	VerifyOps uint64

	InBytes  uint64
	OutBytes uint64

	InErrors     uint64
	OutErrors    uint64
	VerifyErrors uint64

	PartialBlocks     uint64
	RetriesEAGAIN     uint64
	RetriesEBUSY      uint64
	MiscompareCount   uint64
	DirectIOFallbacks uint64
	ResidualBytesSum  uint64
	NumWaitingPolls   uint64

	AvgInFlight float64
	MaxInFlight uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	InIOPS     float64
	OutIOPS    float64
	InBandwidth  float64
	OutBandwidth float64
	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		InOps:             m.InOps.Load(),
		OutOps:            m.OutOps.Load(),
		VerifyOps:         m.VerifyOps.Load(),
		InBytes:           m.InBytes.Load(),
		OutBytes:          m.OutBytes.Load(),
		InErrors:          m.InErrors.Load(),
		OutErrors:         m.OutErrors.Load(),
		VerifyErrors:      m.VerifyErrors.Load(),
		PartialBlocks:     m.PartialBlocks.Load(),
		RetriesEAGAIN:     m.RetriesEAGAIN.Load(),
		RetriesEBUSY:      m.RetriesEBUSY.Load(),
		MiscompareCount:   m.MiscompareCount.Load(),
		DirectIOFallbacks: m.DirectIOFallbacks.Load(),
		ResidualBytesSum:  m.ResidualBytesSum.Load(),
		NumWaitingPolls:   m.NumWaitingPolls.Load(),
		MaxInFlight:       m.MaxInFlight.Load(),
	}

	snap.TotalOps = snap.InOps + snap.OutOps + snap.VerifyOps
	snap.TotalBytes = snap.InBytes + snap.OutBytes

	inFlightTotal := m.InFlightTotal.Load()
	inFlightCount := m.InFlightCount.Load()
	if inFlightCount > 0 {
		snap.AvgInFlight = float64(inFlightTotal) / float64(inFlightCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.InIOPS = float64(snap.InOps) / uptimeSeconds
		snap.OutIOPS = float64(snap.OutOps) / uptimeSeconds
		snap.InBandwidth = float64(snap.InBytes) / uptimeSeconds
		snap.OutBandwidth = float64(snap.OutBytes) / uptimeSeconds
	}

	totalErrors := snap.InErrors + snap.OutErrors + snap.VerifyErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.InOps.Store(0)
	m.OutOps.Store(0)
	m.VerifyOps.Store(0)
	m.InBytes.Store(0)
	m.OutBytes.Store(0)
	m.InErrors.Store(0)
	m.OutErrors.Store(0)
	m.VerifyErrors.Store(0)
	m.PartialBlocks.Store(0)
	m.RetriesEAGAIN.Store(0)
	m.RetriesEBUSY.Store(0)
	m.MiscompareCount.Store(0)
	m.DirectIOFallbacks.Store(0)
	m.ResidualBytesSum.Store(0)
	m.NumWaitingPolls.Store(0)
	m.InFlightTotal.Store(0)
	m.InFlightCount.Store(0)
	m.MaxInFlight.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, e.g. to mirror counters into
// an external system alongside the built-in Metrics.
type Observer interface {
	ObserveIn(bytes uint64, latencyNs uint64, success bool)
	ObserveOut(bytes uint64, latencyNs uint64, success bool)
	ObserveVerify(latencyNs uint64, success bool, miscompare bool)
	ObserveInFlight(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveIn(uint64, uint64, bool)          {}
func (NoOpObserver) ObserveOut(uint64, uint64, bool)         {}
func (NoOpObserver) ObserveVerify(uint64, bool, bool)        {}
func (NoOpObserver) ObserveInFlight(uint32)                  {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveIn(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordIn(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveOut(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordOut(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveVerify(latencyNs uint64, success bool, miscompare bool) {
	o.metrics.RecordVerify(latencyNs, success, miscompare)
}

func (o *MetricsObserver) ObserveInFlight(depth uint32) {
	o.metrics.RecordInFlight(depth)
}

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
