// Package metrics keeps in-process counters for the HTTP layer and the
// progression engine. Values reset on restart.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type Collector struct {
	requests    atomic.Uint64
	serverError atomic.Uint64
	rateLimited atomic.Uint64
	durationMs  atomic.Uint64
	byClass     [6]atomic.Uint64

	counters sync.Map // name -> *atomic.Uint64
}

func New() *Collector {
	return &Collector{}
}

// Record counts one finished HTTP request.
func (c *Collector) Record(status int, duration time.Duration) {
	c.requests.Add(1)
	c.durationMs.Add(uint64(duration.Milliseconds()))
	if class := status / 100; class >= 1 && class <= 5 {
		c.byClass[class].Add(1)
	}
	switch {
	case status >= 500:
		c.serverError.Add(1)
	case status == 429:
		c.rateLimited.Add(1)
	}
}

// Inc bumps a named domain counter such as progress_accepted.
func (c *Collector) Inc(name string) {
	ctr, ok := c.counters.Load(name)
	if !ok {
		ctr, _ = c.counters.LoadOrStore(name, new(atomic.Uint64))
	}
	ctr.(*atomic.Uint64).Add(1)
}

func (c *Collector) Count(name string) uint64 {
	if ctr, ok := c.counters.Load(name); ok {
		return ctr.(*atomic.Uint64).Load()
	}
	return 0
}

func (c *Collector) Snapshot() map[string]any {
	total := c.requests.Load()
	avg := float64(0)
	if total > 0 {
		avg = float64(c.durationMs.Load()) / float64(total)
	}

	counters := map[string]uint64{}
	c.counters.Range(func(k, v any) bool {
		counters[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	classes := map[string]uint64{}
	for i, label := range []string{"", "1xx", "2xx", "3xx", "4xx", "5xx"} {
		if label != "" {
			classes[label] = c.byClass[i].Load()
		}
	}

	return map[string]any{
		"requestsTotal":    total,
		"errorsTotal":      c.serverError.Load(),
		"rateLimitedTotal": c.rateLimited.Load(),
		"avgDurationMs":    avg,
		"statusClasses":    classes,
		"counters":         counters,
	}
}
