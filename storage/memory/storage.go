// Package memory implements the storage interface for a tracker keeping
// all swarm and torrent state in memory.
package memory

import (
	"math"
	"math/rand/v2"
	"net/netip"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/pkg/conf"
	"github.com/adcrn/tyto/pkg/log"
	"github.com/adcrn/tyto/pkg/metrics"
	"github.com/adcrn/tyto/pkg/stop"
	"github.com/adcrn/tyto/pkg/timecache"
	"github.com/adcrn/tyto/stats"
	"github.com/adcrn/tyto/storage"
)

// Default config constants.
const (
	// Name is the name by which this peer store is registered.
	Name = "memory"

	defaultShardCount        = 1024
	defaultReapInterval      = time.Minute
	defaultPeerTimeout       = time.Hour
	defaultReportingInterval = time.Second
)

var logger = log.NewLogger("storage/memory")

func init() {
	// Register the storage driver.
	storage.RegisterBuilder(Name, builder)
}

func builder(icfg conf.MapConfig) (storage.Storage, error) {
	var cfg Config
	if err := icfg.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return NewStorage(cfg)
}

// Config holds the configuration of a memory Storage.
type Config struct {
	ShardCount int `cfg:"shard_count"`
	// ReapInterval is the period between two reaper sweeps.
	ReapInterval time.Duration `cfg:"reap_interval"`
	// PeerTimeout is the age of the last announce beyond which a peer is
	// evicted by the reaper.
	PeerTimeout time.Duration `cfg:"peer_timeout"`
	// PrometheusReportingInterval is the period between publishing
	// aggregate gauges to Prometheus.
	PrometheusReportingInterval time.Duration `cfg:"prometheus_reporting_interval"`
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validCfg := cfg

	if cfg.ShardCount <= 0 || cfg.ShardCount > (math.MaxInt/2) {
		validCfg.ShardCount = defaultShardCount
		logger.Warn().
			Str("name", "shard_count").
			Int("provided", cfg.ShardCount).
			Int("default", validCfg.ShardCount).
			Msg("falling back to default configuration")
	}

	if cfg.ReapInterval <= 0 {
		validCfg.ReapInterval = defaultReapInterval
		logger.Warn().
			Str("name", "reap_interval").
			Dur("provided", cfg.ReapInterval).
			Dur("default", validCfg.ReapInterval).
			Msg("falling back to default configuration")
	}

	if cfg.PeerTimeout <= 0 {
		validCfg.PeerTimeout = defaultPeerTimeout
		logger.Warn().
			Str("name", "peer_timeout").
			Dur("provided", cfg.PeerTimeout).
			Dur("default", validCfg.PeerTimeout).
			Msg("falling back to default configuration")
	}

	if cfg.PrometheusReportingInterval <= 0 {
		validCfg.PrometheusReportingInterval = defaultReportingInterval
		logger.Warn().
			Str("name", "prometheus_reporting_interval").
			Dur("provided", cfg.PrometheusReportingInterval).
			Dur("default", validCfg.PrometheusReportingInterval).
			Msg("falling back to default configuration")
	}

	return validCfg
}

// NewStorage creates a new Storage backed by memory and starts its reaper
// and statistics loops.
func NewStorage(provided Config) (storage.Storage, error) {
	cfg := provided.Validate()
	ps := &peerStore{
		cfg:    cfg,
		shards: make([]*peerShard, cfg.ShardCount),
		closed: make(chan struct{}),
	}

	for i := range ps.shards {
		ps.shards[i] = newPeerShard()
	}

	ps.ScheduleGC(cfg.ReapInterval, cfg.PeerTimeout)
	ps.ScheduleStatisticsCollection(cfg.PrometheusReportingInterval)

	return ps, nil
}

// peerEntry is the stored state of one peer within a swarm, keyed by its
// peer ID in the owning set.
type peerEntry struct {
	addrPort   netip.AddrPort
	uploaded   uint64
	downloaded uint64
	left       uint64
	mtime      int64
}

func entryOf(p bittorrent.Peer) *peerEntry {
	return &peerEntry{
		addrPort:   p.AddrPort,
		uploaded:   p.Uploaded,
		downloaded: p.Downloaded,
		left:       p.Left,
		mtime:      timecache.NowUnixNano(),
	}
}

func (e *peerEntry) refresh(p bittorrent.Peer) {
	e.addrPort = p.AddrPort
	e.uploaded = p.Uploaded
	e.downloaded = p.Downloaded
	e.left = p.Left
	e.mtime = timecache.NowUnixNano()
}

func (e *peerEntry) peer(id bittorrent.PeerID) bittorrent.Peer {
	return bittorrent.Peer{
		ID:         id,
		AddrPort:   e.addrPort,
		Uploaded:   e.uploaded,
		Downloaded: e.downloaded,
		Left:       e.left,
	}
}

type swarm struct {
	seeders  map[bittorrent.PeerID]*peerEntry
	leechers map[bittorrent.PeerID]*peerEntry
}

func newSwarm() *swarm {
	return &swarm{
		seeders:  make(map[bittorrent.PeerID]*peerEntry),
		leechers: make(map[bittorrent.PeerID]*peerEntry),
	}
}

func (sw *swarm) empty() bool {
	return len(sw.seeders)|len(sw.leechers) == 0
}

// torrentRecord carries the aggregate facts of one torrent. The counters
// are driven by the announce engine, not derived from swarm membership,
// and survive the swarm itself.
type torrentRecord struct {
	complete   uint32
	incomplete uint32
	snatched   uint32
	name       string
}

type peerShard struct {
	swarms      map[bittorrent.InfoHash]*swarm
	records     map[bittorrent.InfoHash]*torrentRecord
	numSeeders  uint64
	numLeechers uint64
	sync.RWMutex
}

func newPeerShard() *peerShard {
	return &peerShard{
		swarms:  make(map[bittorrent.InfoHash]*swarm),
		records: make(map[bittorrent.InfoHash]*torrentRecord),
	}
}

type peerStore struct {
	cfg    Config
	shards []*peerShard

	closed chan struct{}
	wg     sync.WaitGroup
}

var _ storage.Storage = &peerStore{}

func (ps *peerStore) shard(ih bittorrent.InfoHash) *peerShard {
	idx := xxhash.Sum64String(string(ih)) % uint64(len(ps.shards))
	return ps.shards[idx]
}

func (ps *peerStore) panicIfClosed() {
	select {
	case <-ps.closed:
		panic("attempted to interact with stopped memory store")
	default:
	}
}

func (ps *peerStore) PutSeeder(ih bittorrent.InfoHash, p bittorrent.Peer) error {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	defer shard.Unlock()

	sw, ok := shard.swarms[ih]
	if !ok {
		sw = newSwarm()
		shard.swarms[ih] = sw
	}

	// A peer ID lives in at most one set per swarm.
	if _, ok := sw.leechers[p.ID]; ok {
		delete(sw.leechers, p.ID)
		shard.numLeechers--
	}

	if _, ok := sw.seeders[p.ID]; !ok {
		shard.numSeeders++
	}
	sw.seeders[p.ID] = entryOf(p)

	return nil
}

func (ps *peerStore) PutLeecher(ih bittorrent.InfoHash, p bittorrent.Peer) error {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	defer shard.Unlock()

	sw, ok := shard.swarms[ih]
	if !ok {
		sw = newSwarm()
		shard.swarms[ih] = sw
	}

	if _, ok := sw.seeders[p.ID]; ok {
		delete(sw.seeders, p.ID)
		shard.numSeeders--
	}

	if _, ok := sw.leechers[p.ID]; !ok {
		shard.numLeechers++
	}
	sw.leechers[p.ID] = entryOf(p)

	return nil
}

func (ps *peerStore) GraduateLeecher(ih bittorrent.InfoHash, p bittorrent.Peer) error {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	defer shard.Unlock()

	sw, ok := shard.swarms[ih]
	if !ok {
		return storage.ErrResourceDoesNotExist
	}

	if e, ok := sw.leechers[p.ID]; ok {
		delete(sw.leechers, p.ID)
		shard.numLeechers--
		e.refresh(p)
		sw.seeders[p.ID] = e
		shard.numSeeders++
		return nil
	}

	// A repeated completed event from a peer that already seeds: keep the
	// entry fresh, but report that no promotion happened.
	if e, ok := sw.seeders[p.ID]; ok {
		e.refresh(p)
	}
	return storage.ErrResourceDoesNotExist
}

func (ps *peerStore) DeleteSeeder(ih bittorrent.InfoHash, id bittorrent.PeerID) error {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	defer shard.Unlock()

	sw, ok := shard.swarms[ih]
	if !ok {
		return storage.ErrResourceDoesNotExist
	}

	if _, ok := sw.seeders[id]; !ok {
		return storage.ErrResourceDoesNotExist
	}

	delete(sw.seeders, id)
	shard.numSeeders--

	if sw.empty() {
		delete(shard.swarms, ih)
	}

	return nil
}

func (ps *peerStore) DeleteLeecher(ih bittorrent.InfoHash, id bittorrent.PeerID) error {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	defer shard.Unlock()

	sw, ok := shard.swarms[ih]
	if !ok {
		return storage.ErrResourceDoesNotExist
	}

	if _, ok := sw.leechers[id]; !ok {
		return storage.ErrResourceDoesNotExist
	}

	delete(sw.leechers, id)
	shard.numLeechers--

	if sw.empty() {
		delete(shard.swarms, ih)
	}

	return nil
}

func (ps *peerStore) UpdatePeer(ih bittorrent.InfoHash, p bittorrent.Peer) error {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	defer shard.Unlock()

	sw, ok := shard.swarms[ih]
	if !ok {
		return storage.ErrResourceDoesNotExist
	}

	if e, ok := sw.seeders[p.ID]; ok {
		e.refresh(p)
		return nil
	}
	if e, ok := sw.leechers[p.ID]; ok {
		e.refresh(p)
		return nil
	}

	return storage.ErrResourceDoesNotExist
}

func (ps *peerStore) AnnouncePeers(ih bittorrent.InfoHash, numWant int, announcer bittorrent.PeerID) (v4, v6 []bittorrent.Peer) {
	ps.panicIfClosed()

	if numWant <= 0 {
		return
	}

	shard := ps.shard(ih)
	shard.RLock()
	defer shard.RUnlock()

	sw, ok := shard.swarms[ih]
	if !ok {
		return
	}

	// Reservoir sample over the union of both sets, so small numWant does
	// not require materializing the whole swarm.
	sample := make([]bittorrent.Peer, 0, min(numWant, len(sw.seeders)+len(sw.leechers)))
	seen := 0
	consider := func(id bittorrent.PeerID, e *peerEntry) {
		if id == announcer {
			return
		}
		if seen < numWant {
			sample = append(sample, e.peer(id))
		} else if j := rand.IntN(seen + 1); j < numWant {
			sample[j] = e.peer(id)
		}
		seen++
	}
	for id, e := range sw.seeders {
		consider(id, e)
	}
	for id, e := range sw.leechers {
		consider(id, e)
	}

	for _, p := range sample {
		if p.Addr().Is4() {
			v4 = append(v4, p)
		} else {
			v6 = append(v6, p)
		}
	}
	return
}

func (ps *peerStore) PutTorrent(t bittorrent.Scrape) {
	ps.panicIfClosed()

	shard := ps.shard(t.InfoHash)
	shard.Lock()
	shard.records[t.InfoHash] = &torrentRecord{
		complete:   t.Complete,
		incomplete: t.Incomplete,
		snatched:   t.Snatches,
		name:       t.Name,
	}
	shard.Unlock()
}

// record returns the existing record of the info hash, lazily creating it
// when create is set. Callers must hold the shard write lock.
func (shard *peerShard) record(ih bittorrent.InfoHash, create bool) *torrentRecord {
	rec, ok := shard.records[ih]
	if !ok && create {
		rec = new(torrentRecord)
		shard.records[ih] = rec
	}
	return rec
}

func (ps *peerStore) NewLeecher(ih bittorrent.InfoHash) {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	shard.record(ih, true).incomplete++
	shard.Unlock()
}

func (ps *peerStore) NewSeeder(ih bittorrent.InfoHash) {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	rec := shard.record(ih, true)
	rec.complete++
	rec.snatched++
	if rec.incomplete > 0 {
		rec.incomplete--
	}
	shard.Unlock()
}

func (ps *peerStore) DropLeecher(ih bittorrent.InfoHash) {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	if rec := shard.record(ih, false); rec != nil && rec.incomplete > 0 {
		rec.incomplete--
	}
	shard.Unlock()
}

func (ps *peerStore) DropSeeder(ih bittorrent.InfoHash) {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.Lock()
	if rec := shard.record(ih, false); rec != nil && rec.complete > 0 {
		rec.complete--
	}
	shard.Unlock()
}

func (ps *peerStore) AnnounceStats(ih bittorrent.InfoHash) (complete, incomplete uint32) {
	ps.panicIfClosed()

	shard := ps.shard(ih)
	shard.RLock()
	if rec, ok := shard.records[ih]; ok {
		complete, incomplete = rec.complete, rec.incomplete
	}
	shard.RUnlock()
	return
}

func (ps *peerStore) Scrapes(ihs []bittorrent.InfoHash) []bittorrent.Scrape {
	ps.panicIfClosed()

	files := make([]bittorrent.Scrape, 0, len(ihs))
	for _, ih := range ihs {
		shard := ps.shard(ih)
		shard.RLock()
		if rec, ok := shard.records[ih]; ok {
			files = append(files, bittorrent.Scrape{
				InfoHash:   ih,
				Name:       rec.name,
				Complete:   rec.complete,
				Incomplete: rec.incomplete,
				Snatches:   rec.snatched,
			})
		}
		shard.RUnlock()
	}
	return files
}

func (ps *peerStore) ScheduleGC(gcInterval, peerLifeTime time.Duration) {
	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		t := time.NewTimer(gcInterval)
		defer t.Stop()
		for {
			select {
			case <-ps.closed:
				return
			case <-t.C:
				before := time.Now().Add(-peerLifeTime)
				logger.Debug().Time("before", before).Msg("purging peers with no announces since")
				start := time.Now()
				ps.gc(before)
				duration := time.Since(start)
				storage.PromGCDurationMilliseconds.Observe(float64(duration.Milliseconds()))
				t.Reset(gcInterval)
			}
		}
	}()
}

// gc deletes all peers from the store which are older than the cutoff
// time, adjusting torrent records and global stats by the amounts removed.
//
// This function must be able to execute while other methods on this
// interface are being executed in parallel: locks are taken per info hash
// and released in between, so announce traffic is never blocked for the
// whole sweep.
func (ps *peerStore) gc(cutoff time.Time) {
	select {
	case <-ps.closed:
		return
	default:
	}

	cutoffUnix := cutoff.UnixNano()
	var seedsReaped, leechesReaped uint64

	for _, shard := range ps.shards {
		shard.RLock()
		var infohashes []bittorrent.InfoHash
		for ih := range shard.swarms {
			infohashes = append(infohashes, ih)
		}
		shard.RUnlock()
		runtime.Gosched()

		for _, ih := range infohashes {
			shard.Lock()

			sw, stillExists := shard.swarms[ih]
			if !stillExists {
				shard.Unlock()
				runtime.Gosched()
				continue
			}

			var seeds, leeches uint64
			for id, e := range sw.leechers {
				if e.mtime <= cutoffUnix {
					delete(sw.leechers, id)
					shard.numLeechers--
					leeches++
				}
			}
			for id, e := range sw.seeders {
				if e.mtime <= cutoffUnix {
					delete(sw.seeders, id)
					shard.numSeeders--
					seeds++
				}
			}

			if rec := shard.record(ih, false); rec != nil {
				rec.complete -= uint32(min(uint64(rec.complete), seeds))
				rec.incomplete -= uint32(min(uint64(rec.incomplete), leeches))
			}

			if sw.empty() {
				delete(shard.swarms, ih)
			}

			seedsReaped += seeds
			leechesReaped += leeches

			shard.Unlock()
			runtime.Gosched()
		}

		runtime.Gosched()
	}

	stats.Reaped(seedsReaped, leechesReaped)
	logger.Info().
		Uint64("seedsReaped", seedsReaped).
		Uint64("leechesReaped", leechesReaped).
		Msg("reaped stale peers")
}

func (ps *peerStore) ScheduleStatisticsCollection(reportInterval time.Duration) {
	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		t := time.NewTicker(reportInterval)
		for {
			select {
			case <-ps.closed:
				t.Stop()
				return
			case <-t.C:
				if metrics.Enabled() {
					before := time.Now()
					// Aggregate over all shards, then post to Prometheus.
					var numTorrents, numSeeders, numLeechers uint64
					for _, s := range ps.shards {
						s.RLock()
						numTorrents += uint64(len(s.records))
						numSeeders += s.numSeeders
						numLeechers += s.numLeechers
						s.RUnlock()
					}

					storage.PromInfoHashesCount.Set(float64(numTorrents))
					storage.PromSeedersCount.Set(float64(numSeeders))
					storage.PromLeechersCount.Set(float64(numLeechers))
					logger.Debug().TimeDiff("timeTaken", time.Now(), before).Msg("populate prom complete")
				}
			}
		}
	}()
}

func (ps *peerStore) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		if ps.closed != nil {
			close(ps.closed)
		}
		ps.wg.Wait()

		// Explicitly deallocate the storage.
		shards := make([]*peerShard, len(ps.shards))
		for i := range shards {
			shards[i] = newPeerShard()
		}
		ps.shards = shards

		c.Done()
	}()

	return c.Result()
}
