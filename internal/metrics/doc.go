// Package metrics provides training session metrics collection.
//
// Metrics counts sessions, step outcomes, timeouts, critical failures and
// persistence failures, and keeps a bounded sample of response times for
// P99 calculation. It is thread-safe.
//
// # Basic Usage
//
//	m := metrics.New()
//	m.RecordStep(true, false, 4*time.Second)
//
//	snap := m.Snapshot()
//	fmt.Printf("Accuracy: %.0f%%, P99: %v\n", snap.Accuracy*100, snap.P99Response)
//
// # Collecting from the event bus
//
//	c := metrics.NewCollector(bus, m)
//	c.Start()
//	defer c.Stop()
//
// # Configuration
//
//	config := metrics.Config{
//	    MaxResponseSamples: 5000,
//	}
//	m := metrics.NewWithConfig(config)
package metrics
