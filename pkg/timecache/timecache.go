// Package timecache provides a coarse-grained clock for hot paths where
// calling time.Now for every announce is wasteful.
package timecache

import (
	"sync/atomic"
	"time"
)

// Resolution of the cached clock. Peer lifetimes are measured in minutes,
// half a second of slack is invisible to the protocol.
const Resolution = 500 * time.Millisecond

// Clock is a cached clock, updated on a fixed resolution.
type Clock struct {
	nanos atomic.Int64
}

// New creates a running Clock.
func New() *Clock {
	c := new(Clock)
	c.nanos.Store(time.Now().UnixNano())
	go func() {
		t := time.NewTicker(Resolution)
		defer t.Stop()
		for now := range t.C {
			c.nanos.Store(now.UnixNano())
		}
	}()
	return c
}

// Now returns the cached time. It is never ahead of the real clock.
func (c *Clock) Now() time.Time {
	return time.Unix(0, c.nanos.Load())
}

// NowUnixNano returns the cached time as nanoseconds since the Unix epoch.
func (c *Clock) NowUnixNano() int64 {
	return c.nanos.Load()
}

var global = New()

// Now returns the cached time of the process-wide clock.
func Now() time.Time { return global.Now() }

// NowUnixNano returns the cached nanosecond timestamp of the process-wide
// clock.
func NowUnixNano() int64 { return global.NowUnixNano() }
