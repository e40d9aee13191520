// Package frontend provides the interface every protocol frontend uses to
// hand parsed requests to the tracker logic.
package frontend

import (
	"context"

	"github.com/adcrn/tyto/bittorrent"
)

// TrackerLogic is the interface used by a frontend to handle requests the
// frontend has already parsed and validated. Parse failures never reach
// it; frontends answer those themselves.
type TrackerLogic interface {
	// HandleAnnounce mutates the swarm state according to the announce
	// event and returns the response to deliver to the client.
	HandleAnnounce(context.Context, *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error)

	// HandleScrape returns the aggregate facts of the requested swarms.
	HandleScrape(context.Context, *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error)
}
