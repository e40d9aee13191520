// Package stats tracks the process-wide counters served by the /stats
// endpoint: swarm totals, announce outcomes, scrapes and promotions.
//
// The counters are updated from request handlers and from the storage
// reaper, so the package exposes a single process-wide instance the same
// way the Prometheus default registry does.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(promAnnounces, promScrapes, promPromotions)
}

var (
	promAnnounces = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tyto_announces_total",
		Help: "The number of handled announces, by outcome",
	}, []string{"result"})

	promScrapes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tyto_scrapes_total",
		Help: "The number of handled scrapes",
	})

	promPromotions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tyto_promotions_total",
		Help: "The number of leechers promoted to seeders",
	})
)

// Snapshot is a point-in-time copy of the global counters, shaped for the
// /stats JSON body.
type Snapshot struct {
	SeedersTotal  uint64 `json:"seeders_total"`
	LeechersTotal uint64 `json:"leechers_total"`
	AnnouncesOK   uint64 `json:"announces_ok"`
	AnnouncesFail uint64 `json:"announces_fail"`
	Scrapes       uint64 `json:"scrapes"`
	Promotions    uint64 `json:"promotions"`
}

type globalStats struct {
	seeders       atomic.Int64
	leechers      atomic.Int64
	announcesOK   atomic.Uint64
	announcesFail atomic.Uint64
	scrapes       atomic.Uint64
	promotions    atomic.Uint64
}

var global globalStats

// AddLeech counts a peer joining a swarm as a leecher.
func AddLeech() { global.leechers.Add(1) }

// SubLeech counts a leecher leaving a swarm.
func SubLeech() { subFloor(&global.leechers) }

// SubSeed counts a seeder leaving a swarm.
func SubSeed() { subFloor(&global.seeders) }

// PromoteLeech counts a leecher graduating into a seeder.
func PromoteLeech() {
	subFloor(&global.leechers)
	global.seeders.Add(1)
	global.promotions.Add(1)
	promPromotions.Inc()
}

// SucceedAnnounce counts an announce that reached the swarm state engine.
func SucceedAnnounce() {
	global.announcesOK.Add(1)
	promAnnounces.WithLabelValues("ok").Inc()
}

// FailAnnounce counts an announce rejected before any store interaction.
func FailAnnounce() {
	global.announcesFail.Add(1)
	promAnnounces.WithLabelValues("fail").Inc()
}

// AddScrape counts a handled scrape.
func AddScrape() {
	global.scrapes.Add(1)
	promScrapes.Inc()
}

// Reaped uncounts peers evicted by the storage reaper.
func Reaped(seeders, leechers uint64) {
	subFloorN(&global.seeders, int64(seeders))
	subFloorN(&global.leechers, int64(leechers))
}

// Collect returns a copy of the current counters.
func Collect() Snapshot {
	return Snapshot{
		SeedersTotal:  clamp(global.seeders.Load()),
		LeechersTotal: clamp(global.leechers.Load()),
		AnnouncesOK:   global.announcesOK.Load(),
		AnnouncesFail: global.announcesFail.Load(),
		Scrapes:       global.scrapes.Load(),
		Promotions:    global.promotions.Load(),
	}
}

// Reset zeroes the counters. Only tests use it.
func Reset() {
	global.seeders.Store(0)
	global.leechers.Store(0)
	global.announcesOK.Store(0)
	global.announcesFail.Store(0)
	global.scrapes.Store(0)
	global.promotions.Store(0)
}

// subFloor decrements without going below zero, so duplicate stop events
// from confused clients cannot push a gauge negative.
func subFloor(v *atomic.Int64) { subFloorN(v, 1) }

func subFloorN(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if cur == next || v.CompareAndSwap(cur, next) {
			return
		}
	}
}

func clamp(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
