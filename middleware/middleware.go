// Package middleware implements the TrackerLogic interface by executing
// the peer-lifecycle state machine against the storage layer and running
// a series of middleware hooks around it.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/frontend"
	"github.com/adcrn/tyto/pkg/log"
	"github.com/adcrn/tyto/pkg/stop"
	"github.com/adcrn/tyto/stats"
	"github.com/adcrn/tyto/storage"
)

var logger = log.NewLogger("middleware")

// ResponseConfig holds the configuration used for the actual response.
type ResponseConfig struct {
	AnnounceInterval    time.Duration `cfg:"announce_interval"`
	MinAnnounceInterval time.Duration `cfg:"min_announce_interval"`
	TrackerID           string        `cfg:"tracker_id"`
}

var _ frontend.TrackerLogic = &Logic{}

// NewLogic creates a new instance of a TrackerLogic that executes the
// provided middleware hooks around the swarm state engine.
func NewLogic(cfg ResponseConfig, st storage.Storage, preHooks, postHooks []Hook) *Logic {
	return &Logic{
		cfg:       cfg,
		store:     st,
		preHooks:  preHooks,
		postHooks: postHooks,
	}
}

// Logic couples the peer store and the torrent store: it is the only
// component mutating both, driven by the announce event state machine.
type Logic struct {
	cfg       ResponseConfig
	store     storage.Storage
	preHooks  []Hook
	postHooks []Hook
}

// HandleAnnounce generates a response for an Announce.
//
// All store mutations for the request happen before the peer sample and
// the counter read, so the returned response reflects this announce.
func (l *Logic) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest) (resp *bittorrent.AnnounceResponse, err error) {
	resp = &bittorrent.AnnounceResponse{
		Interval:    l.cfg.AnnounceInterval,
		MinInterval: l.cfg.MinAnnounceInterval,
		TrackerID:   l.cfg.TrackerID,
		Compact:     req.Compact,
		NoPeerID:    req.NoPeerID,
	}

	for _, h := range l.preHooks {
		if ctx, err = h.HandleAnnounce(ctx, req, resp); err != nil {
			return nil, err
		}
	}

	ih := req.InfoHash
	switch req.Event {
	case bittorrent.Started:
		// Sent whenever a client starts or resumes leeching.
		if err = l.store.PutLeecher(ih, req.Peer); err != nil {
			return nil, err
		}
		l.store.NewLeecher(ih)
		stats.AddLeech()

	case bittorrent.Completed:
		// Sent when a peer acquired all of the data of the torrent. The
		// snatch is counted only when the peer actually moved between
		// sets, so repeats from an established seeder change nothing.
		switch err = l.store.GraduateLeecher(ih, req.Peer); {
		case err == nil:
			l.store.NewSeeder(ih)
			stats.PromoteLeech()
		case errors.Is(err, storage.ErrResourceDoesNotExist):
			err = nil
		default:
			return nil, err
		}

	case bittorrent.Stopped:
		// The peer is present in at most one set.
		switch err = l.store.DeleteSeeder(ih, req.Peer.ID); {
		case err == nil:
			l.store.DropSeeder(ih)
			stats.SubSeed()
		case errors.Is(err, storage.ErrResourceDoesNotExist):
			if err = l.store.DeleteLeecher(ih, req.Peer.ID); err == nil {
				l.store.DropLeecher(ih)
				stats.SubLeech()
			} else if !errors.Is(err, storage.ErrResourceDoesNotExist) {
				return nil, err
			}
			err = nil
		default:
			return nil, err
		}

	case bittorrent.None:
		// A regular keep-alive refreshes the peer where it already is. A
		// client starting out with this event is never added.
		if err = l.store.UpdatePeer(ih, req.Peer); err != nil && !errors.Is(err, storage.ErrResourceDoesNotExist) {
			return nil, err
		}
		err = nil
	}
	stats.SucceedAnnounce()

	resp.IPv4Peers, resp.IPv6Peers = l.store.AnnouncePeers(ih, int(req.NumWant), req.Peer.ID)
	resp.Complete, resp.Incomplete = l.store.AnnounceStats(ih)

	for _, h := range l.postHooks {
		if ctx, err = h.HandleAnnounce(ctx, req, resp); err != nil {
			logger.Error().Err(err).Msg("post-announce hooks failed")
			return resp, nil
		}
	}

	logger.Debug().Object("response", resp).Msg("generated announce response")
	return resp, nil
}

// HandleScrape generates a response for a Scrape.
func (l *Logic) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest) (resp *bittorrent.ScrapeResponse, err error) {
	resp = new(bittorrent.ScrapeResponse)

	for _, h := range l.preHooks {
		if ctx, err = h.HandleScrape(ctx, req, resp); err != nil {
			return nil, err
		}
	}

	resp.Files = l.store.Scrapes(req.InfoHashes)
	stats.AddScrape()

	for _, h := range l.postHooks {
		if ctx, err = h.HandleScrape(ctx, req, resp); err != nil {
			logger.Error().Err(err).Msg("post-scrape hooks failed")
			return resp, nil
		}
	}

	return resp, nil
}

// Stop stops the Logic.
//
// This stops any hooks that implement stop.Stopper.
func (l *Logic) Stop() stop.Result {
	stopGroup := stop.NewGroup()
	for _, hook := range l.preHooks {
		if stoppable, ok := hook.(stop.Stopper); ok {
			stopGroup.Add(stoppable)
		}
	}
	for _, hook := range l.postHooks {
		if stoppable, ok := hook.(stop.Stopper); ok {
			stopGroup.Add(stoppable)
		}
	}
	return stopGroup.Stop()
}
