package sgcopy

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordIn(1024, 1000000, true)
	m.RecordOut(2048, 2000000, true)
	m.RecordIn(512, 500000, false)

	snap = m.Snapshot()

	if snap.InOps != 2 {
		t.Errorf("Expected 2 in ops, got %d", snap.InOps)
	}
	if snap.OutOps != 1 {
		t.Errorf("Expected 1 out op, got %d", snap.OutOps)
	}

	if snap.InBytes != 1024 {
		t.Errorf("Expected 1024 in bytes, got %d", snap.InBytes)
	}
	if snap.OutBytes != 2048 {
		t.Errorf("Expected 2048 out bytes, got %d", snap.OutBytes)
	}

	if snap.InErrors != 1 {
		t.Errorf("Expected 1 in error, got %d", snap.InErrors)
	}
	if snap.OutErrors != 0 {
		t.Errorf("Expected 0 out errors, got %d", snap.OutErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsInFlight(t *testing.T) {
	m := NewMetrics()

	m.RecordInFlight(10)
	m.RecordInFlight(20)
	m.RecordInFlight(15)

	snap := m.Snapshot()

	if snap.MaxInFlight != 20 {
		t.Errorf("Expected max in-flight 20, got %d", snap.MaxInFlight)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgInFlight < expectedAvg-0.1 || snap.AvgInFlight > expectedAvg+0.1 {
		t.Errorf("Expected avg in-flight %.1f, got %.1f", expectedAvg, snap.AvgInFlight)
	}
}

func TestMetricsVerifyAndMiscompare(t *testing.T) {
	m := NewMetrics()

	m.RecordVerify(1000000, true, false)
	m.RecordVerify(1000000, true, true)
	m.RecordVerify(1000000, false, false)

	snap := m.Snapshot()
	if snap.VerifyOps != 3 {
		t.Errorf("Expected 3 verify ops, got %d", snap.VerifyOps)
	}
	if snap.MiscompareCount != 1 {
		t.Errorf("Expected 1 miscompare, got %d", snap.MiscompareCount)
	}
	if snap.VerifyErrors != 1 {
		t.Errorf("Expected 1 verify error, got %d", snap.VerifyErrors)
	}
}

func TestMetricsPartialBlocksAndRetries(t *testing.T) {
	m := NewMetrics()

	m.RecordPartialBlock(512)
	m.RecordPartialBlock(256)
	m.RecordRetry(true)
	m.RecordRetry(false)
	m.RecordRetry(true)
	m.RecordDirectIOFallback()
	m.RecordNumWaitingPoll()

	snap := m.Snapshot()
	if snap.PartialBlocks != 2 {
		t.Errorf("Expected 2 partial blocks, got %d", snap.PartialBlocks)
	}
	if snap.ResidualBytesSum != 768 {
		t.Errorf("Expected residual sum 768, got %d", snap.ResidualBytesSum)
	}
	if snap.RetriesEAGAIN != 2 {
		t.Errorf("Expected 2 EAGAIN retries, got %d", snap.RetriesEAGAIN)
	}
	if snap.RetriesEBUSY != 1 {
		t.Errorf("Expected 1 EBUSY retry, got %d", snap.RetriesEBUSY)
	}
	if snap.DirectIOFallbacks != 1 {
		t.Errorf("Expected 1 direct I/O fallback, got %d", snap.DirectIOFallbacks)
	}
	if snap.NumWaitingPolls != 1 {
		t.Errorf("Expected 1 num-waiting poll, got %d", snap.NumWaitingPolls)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordIn(1024, 1000000, true)
	m.RecordOut(1024, 2000000, true)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordIn(1024, 1000000, true)
	m.RecordOut(2048, 2000000, true)
	m.RecordInFlight(10)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.MaxInFlight != 0 {
		t.Errorf("Expected 0 max in-flight after reset, got %d", snap.MaxInFlight)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveIn(1024, 1000000, true)
	observer.ObserveOut(1024, 1000000, true)
	observer.ObserveVerify(1000000, true, false)
	observer.ObserveInFlight(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveIn(1024, 1000000, true)
	metricsObserver.ObserveOut(2048, 2000000, true)

	snap := m.Snapshot()
	if snap.InOps != 1 {
		t.Errorf("Expected 1 in op from observer, got %d", snap.InOps)
	}
	if snap.OutOps != 1 {
		t.Errorf("Expected 1 out op from observer, got %d", snap.OutOps)
	}
	if snap.InBytes != 1024 {
		t.Errorf("Expected 1024 in bytes from observer, got %d", snap.InBytes)
	}
	if snap.OutBytes != 2048 {
		t.Errorf("Expected 2048 out bytes from observer, got %d", snap.OutBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordIn(1024, 1000000, true)
	m.RecordOut(2048, 2000000, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.InIOPS < 0.9 || snap.InIOPS > 1.1 {
		t.Errorf("Expected InIOPS ~1.0, got %.2f", snap.InIOPS)
	}
	if snap.OutIOPS < 0.9 || snap.OutIOPS > 1.1 {
		t.Errorf("Expected OutIOPS ~1.0, got %.2f", snap.OutIOPS)
	}

	if snap.InBandwidth < 1000 || snap.InBandwidth > 1050 {
		t.Errorf("Expected InBandwidth ~1024, got %.2f", snap.InBandwidth)
	}
	if snap.OutBandwidth < 2000 || snap.OutBandwidth > 2100 {
		t.Errorf("Expected OutBandwidth ~2048, got %.2f", snap.OutBandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordIn(1024, 500_000, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordOut(1024, 5_000_000, true)
	}
	m.RecordOut(1024, 50_000_000, true)

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
