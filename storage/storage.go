// Package storage contains interfaces and register of storage
// implementations and generic per-storage Prometheus collectors.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/pkg/conf"
	"github.com/adcrn/tyto/pkg/stop"
)

func init() {
	// Register the metrics.
	prometheus.MustRegister(
		PromGCDurationMilliseconds,
		PromInfoHashesCount,
		PromSeedersCount, PromLeechersCount,
	)
}

var (
	// PromGCDurationMilliseconds is a histogram used by storage to record
	// the durations of execution time required for removing expired peers.
	PromGCDurationMilliseconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tyto_storage_gc_duration_milliseconds",
		Help:    "The time it takes to perform storage garbage collection",
		Buckets: prometheus.ExponentialBuckets(9.375, 2, 10),
	})

	// PromInfoHashesCount is a gauge used to hold the current total amount
	// of unique info hashes tracked by a storage.
	PromInfoHashesCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tyto_storage_infohashes_count",
		Help: "The number of info hashes tracked",
	})

	// PromSeedersCount is a gauge used to hold the current total amount of
	// seeders tracked by a storage.
	PromSeedersCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tyto_storage_seeders_count",
		Help: "The number of seeders tracked",
	})

	// PromLeechersCount is a gauge used to hold the current total amount of
	// leechers tracked by a storage.
	PromLeechersCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tyto_storage_leechers_count",
		Help: "The number of leechers tracked",
	})
)

// ErrResourceDoesNotExist is the error returned by all delete methods and
// the update method in the PeerStorage interface if the requested resource
// does not exist.
var ErrResourceDoesNotExist = errors.New("resource does not exist")

// ErrDriverIsNotRegistered is the error returned when a storage driver is
// requested that was never registered.
var ErrDriverIsNotRegistered = errors.New("storage driver is not registered")

// PeerStorage is an interface for the primary storage mechanism of a
// BitTorrent tracker: the swarms of peers announcing each info hash.
//
// Peers are keyed by their PeerID within a swarm: a peer ID is a member of
// at most one of the seeder and leecher sets of an info hash at a time.
type PeerStorage interface {
	// PutSeeder adds a seeder for the info hash, replacing the peer's
	// leecher membership if it had one.
	PutSeeder(ih bittorrent.InfoHash, p bittorrent.Peer) error

	// PutLeecher adds a leecher for the info hash, replacing the peer's
	// seeder membership if it had one.
	PutLeecher(ih bittorrent.InfoHash, p bittorrent.Peer) error

	// GraduateLeecher promotes a leecher to a seeder.
	//
	// If the peer is not currently a leecher the swarm is left as-is
	// (apart from refreshing the entry of a peer that already seeds) and
	// ErrResourceDoesNotExist is returned, so callers can count actual
	// promotions exactly once.
	GraduateLeecher(ih bittorrent.InfoHash, p bittorrent.Peer) error

	// DeleteSeeder removes a seeder.
	// Returns ErrResourceDoesNotExist if the peer was not a seeder.
	DeleteSeeder(ih bittorrent.InfoHash, id bittorrent.PeerID) error

	// DeleteLeecher removes a leecher.
	// Returns ErrResourceDoesNotExist if the peer was not a leecher.
	DeleteLeecher(ih bittorrent.InfoHash, id bittorrent.PeerID) error

	// UpdatePeer refreshes the last-announced time and transfer counters
	// of the peer in whichever set currently contains it. A peer that is
	// in neither set is NOT added; ErrResourceDoesNotExist is returned.
	UpdatePeer(ih bittorrent.InfoHash, p bittorrent.Peer) error

	// AnnouncePeers returns a random sample of up to numWant peers drawn
	// uniformly without replacement from the union of both sets of the
	// swarm, partitioned by address family. The announcing peer is
	// excluded from its own sample.
	AnnouncePeers(ih bittorrent.InfoHash, numWant int, announcer bittorrent.PeerID) (v4, v6 []bittorrent.Peer)

	// ScheduleGC starts a background task that removes peers whose last
	// announce is older than peerLifeTime, scanning every gcInterval.
	ScheduleGC(gcInterval, peerLifeTime time.Duration)

	// ScheduleStatisticsCollection starts a background task that
	// periodically publishes aggregate gauges to Prometheus.
	ScheduleStatisticsCollection(reportInterval time.Duration)

	stop.Stopper
}

// TorrentStorage holds the aggregate per-torrent facts served by scrapes
// and embedded in announce responses.
//
// The counters are deliberately independent of live swarm membership: they
// converge with it at quiescence but are driven by explicit operations so
// that lifetime facts (snatches) and out-of-band registrations survive
// peer churn.
type TorrentStorage interface {
	// PutTorrent registers or replaces a torrent record out-of-band,
	// e.g. from an external registry carrying display names.
	PutTorrent(t bittorrent.Scrape)

	// NewLeecher ensures a record exists and counts a new leecher.
	NewLeecher(ih bittorrent.InfoHash)

	// NewSeeder counts a graduation: one more seeder, one more snatch,
	// one less leecher (floored at zero).
	NewSeeder(ih bittorrent.InfoHash)

	// DropLeecher uncounts a leecher, flooring at zero.
	DropLeecher(ih bittorrent.InfoHash)

	// DropSeeder uncounts a seeder, flooring at zero.
	DropSeeder(ih bittorrent.InfoHash)

	// AnnounceStats returns the seeder and leecher counts of a torrent.
	AnnounceStats(ih bittorrent.InfoHash) (complete, incomplete uint32)

	// Scrapes projects the requested info hashes onto their records.
	// Unknown info hashes are omitted, never fabricated.
	Scrapes(ihs []bittorrent.InfoHash) []bittorrent.Scrape
}

// Storage is the composed interface every storage driver provides.
type Storage interface {
	PeerStorage
	TorrentStorage
}

// Builder is the function used to initialize a new Storage with provided
// configuration.
type Builder func(cfg conf.MapConfig) (Storage, error)

var buildersMU sync.RWMutex

var builders = make(map[string]Builder)

// RegisterBuilder makes a Builder available by the provided name.
//
// If this function is called twice with the same name or if the Builder is
// nil, it panics.
func RegisterBuilder(name string, b Builder) {
	if b == nil {
		panic("storage: could not register nil Builder")
	}
	buildersMU.Lock()
	defer buildersMU.Unlock()
	if _, dup := builders[name]; dup {
		panic("storage: could not register duplicate Builder: " + name)
	}
	builders[name] = b
}

// NewStorage attempts to initialize a new Storage instance from the list of
// registered Builders.
func NewStorage(name string, cfg conf.MapConfig) (Storage, error) {
	buildersMU.RLock()
	builder, ok := builders[name]
	buildersMU.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverIsNotRegistered, name)
	}
	return builder(cfg)
}
