package http

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/valyala/fasthttp"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/stats"
)

// failureReasonKey is the key carrying the in-band error. When it is
// present no other key may appear in the response dictionary.
const failureReasonKey = "failure_reason"

// WriteError communicates an error to a BitTorrent client over HTTP.
// The status is always 200; errors travel in-band.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	message := "internal server error"
	var clientErr bittorrent.ClientError
	if errors.As(err, &clientErr) {
		message = clientErr.Error()
	} else {
		logger.Error().Err(err).Msg("internal error")
	}

	ctx.SetContentType(contentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	if err = bencode.NewEncoder(ctx).Encode(map[string]any{
		failureReasonKey: message,
	}); err != nil {
		logger.Error().Err(err).Msg("unable to encode failure response")
	}
}

// WriteAnnounceResponse communicates the results of an Announce to a
// BitTorrent client over HTTP.
func WriteAnnounceResponse(ctx *fasthttp.RequestCtx, resp *bittorrent.AnnounceResponse) error {
	bdict := map[string]any{
		"complete":   resp.Complete,
		"incomplete": resp.Incomplete,
		"interval":   int64(resp.Interval / time.Second),
	}
	if resp.MinInterval > 0 {
		bdict["min interval"] = int64(resp.MinInterval / time.Second)
	}
	if len(resp.TrackerID) > 0 {
		bdict["tracker id"] = resp.TrackerID
	}

	if resp.Compact {
		// "peers" must be present even when the sample came up empty,
		// clients treat a missing key as a protocol violation.
		compact := make([]byte, 0, bittorrent.CompactV4Len*len(resp.IPv4Peers))
		for _, peer := range resp.IPv4Peers {
			compact = append(compact, peer.CompactV4()...)
		}
		bdict["peers"] = compact

		if len(resp.IPv6Peers) > 0 {
			compact6 := make([]byte, 0, bittorrent.CompactV6Len*len(resp.IPv6Peers))
			for _, peer := range resp.IPv6Peers {
				compact6 = append(compact6, peer.CompactV6()...)
			}
			bdict["peers6"] = compact6
		}
	} else {
		// IPv6 peers stay in the compact peers6 key regardless (BEP 7).
		peers := make([]map[string]any, 0, len(resp.IPv4Peers))
		for _, peer := range resp.IPv4Peers {
			peers = append(peers, dict(peer, resp.NoPeerID))
		}
		bdict["peers"] = peers

		if len(resp.IPv6Peers) > 0 {
			compact6 := make([]byte, 0, bittorrent.CompactV6Len*len(resp.IPv6Peers))
			for _, peer := range resp.IPv6Peers {
				compact6 = append(compact6, peer.CompactV6()...)
			}
			bdict["peers6"] = compact6
		}
	}

	ctx.SetContentType(contentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	return bencode.NewEncoder(ctx).Encode(bdict)
}

// WriteScrapeResponse communicates the results of a Scrape to a BitTorrent
// client over HTTP.
func WriteScrapeResponse(ctx *fasthttp.RequestCtx, resp *bittorrent.ScrapeResponse) error {
	filesDict := make(map[string]any, len(resp.Files))
	for _, scrape := range resp.Files {
		fileDict := map[string]any{
			"complete":   scrape.Complete,
			"downloaded": scrape.Snatches,
			"incomplete": scrape.Incomplete,
		}
		if len(scrape.Name) > 0 {
			fileDict["name"] = scrape.Name
		}
		filesDict[scrape.InfoHash.RawString()] = fileDict
	}

	ctx.SetContentType(contentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	return bencode.NewEncoder(ctx).Encode(map[string]any{
		"files": filesDict,
	})
}

// WriteStats renders the global counters as JSON.
func WriteStats(ctx *fasthttp.RequestCtx, snapshot stats.Snapshot) error {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	return json.NewEncoder(ctx).Encode(snapshot)
}

func dict(peer bittorrent.Peer, noPeerID bool) map[string]any {
	d := map[string]any{
		"ip":   peer.Addr().String(),
		"port": peer.Port(),
	}
	if !noPeerID {
		d["peer id"] = peer.ID.RawString()
	}
	return d
}
