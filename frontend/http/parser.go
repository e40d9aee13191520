package http

import (
	"errors"
	"net"
	"net/netip"

	"github.com/valyala/fasthttp"

	"github.com/adcrn/tyto/bittorrent"
)

// Client-visible parse failure reasons. Wrong-length info_hash/peer_id and
// unknown event values carry their own reasons from the bittorrent package.
const (
	errMalformedAnnounce = bittorrent.ClientError("Malformed announce request")
	errMalformedScrape   = bittorrent.ClientError("Malformed scrape request")

	errParsePort       = bittorrent.ClientError("Unable to parse port")
	errParseUploaded   = bittorrent.ClientError("Unable to parse uploaded quantity")
	errParseDownloaded = bittorrent.ClientError("Unable to parse downloaded quantity")
	errParseLeft       = bittorrent.ClientError("Unable to parse remaining quantity")
	errParseCompact    = bittorrent.ClientError("Unable to parse compact value as boolean")
	errParseNoPeerID   = bittorrent.ClientError("Unable to parse no_peer_id as boolean")
	errParseNumWant    = bittorrent.ClientError("Unable to parse numwant")
	errParseIP         = bittorrent.ClientError("Unable to parse ip")
)

// ParseAnnounce parses a bittorrent.AnnounceRequest from the query string
// and remote address of an HTTP request.
//
// If allowIPSpoofing is true the IP provided via the ip parameter is used,
// otherwise the connection's remote IP always wins.
func ParseAnnounce(ctx *fasthttp.RequestCtx, allowIPSpoofing bool) (*bittorrent.AnnounceRequest, error) {
	qp, err := bittorrent.ParseQuery(string(ctx.URI().QueryString()))
	if err != nil {
		if errors.Is(err, bittorrent.ErrInvalidQueryEscape) {
			err = errMalformedAnnounce
		}
		return nil, err
	}

	request := new(bittorrent.AnnounceRequest)

	infoHashes := qp.InfoHashes()
	if len(infoHashes) != 1 {
		return nil, errMalformedAnnounce
	}
	request.InfoHash = infoHashes[0]

	peerID, ok := qp.String("peer_id")
	if !ok {
		return nil, errMalformedAnnounce
	}
	if request.Peer.ID, err = bittorrent.NewPeerID([]byte(peerID)); err != nil {
		return nil, err
	}

	eventStr, provided := qp.String("event")
	request.EventProvided = provided
	if request.Event, err = bittorrent.NewEvent(eventStr); err != nil {
		return nil, err
	}

	request.Compact = true
	if _, ok := qp.String("compact"); ok {
		v, err := qp.Uint64("compact")
		if err != nil {
			return nil, errParseCompact
		}
		request.Compact = v != 0
	}

	if _, ok := qp.String("no_peer_id"); ok {
		v, err := qp.Uint64("no_peer_id")
		if err != nil {
			return nil, errParseNoPeerID
		}
		request.NoPeerID = v != 0
	}

	if request.Uploaded, err = qp.Uint64("uploaded"); err != nil {
		return nil, errParseUploaded
	}
	if request.Downloaded, err = qp.Uint64("downloaded"); err != nil {
		return nil, errParseDownloaded
	}
	if request.Left, err = qp.Uint64("left"); err != nil {
		return nil, errParseLeft
	}

	if _, ok := qp.String("numwant"); ok {
		v, err := qp.Uint64("numwant")
		if err != nil || v > maxUint32 {
			return nil, errParseNumWant
		}
		request.NumWant = uint32(v)
		request.NumWantProvided = true
	}

	port, err := qp.Uint64("port")
	if err != nil || port == 0 || port > 65535 {
		return nil, errParsePort
	}

	addr, err := announceAddr(ctx, qp, allowIPSpoofing)
	if err != nil {
		return nil, err
	}
	request.IPProvided = addrProvided(qp, allowIPSpoofing)
	request.Peer.AddrPort = netip.AddrPortFrom(addr.Unmap(), uint16(port))
	request.Peer.Uploaded = request.Uploaded
	request.Peer.Downloaded = request.Downloaded
	request.Peer.Left = request.Left

	return request, nil
}

// ParseScrape parses a bittorrent.ScrapeRequest from the query string of
// an HTTP request. Only repeated info_hash keys are legal; anything else
// makes the request malformed.
func ParseScrape(ctx *fasthttp.RequestCtx) (*bittorrent.ScrapeRequest, error) {
	qp, err := bittorrent.ParseQuery(string(ctx.URI().QueryString()))
	if err != nil {
		if errors.Is(err, bittorrent.ErrInvalidQueryEscape) {
			err = errMalformedScrape
		}
		return nil, err
	}

	if len(qp.Keys()) > 0 {
		return nil, errMalformedScrape
	}

	infoHashes := qp.InfoHashes()
	if len(infoHashes) < 1 {
		return nil, errMalformedScrape
	}

	return &bittorrent.ScrapeRequest{InfoHashes: infoHashes}, nil
}

const maxUint32 = 1<<32 - 1

func addrProvided(qp *bittorrent.QueryParams, allowIPSpoofing bool) bool {
	if !allowIPSpoofing {
		return false
	}
	_, ok := qp.String("ip")
	return ok
}

// announceAddr determines the IP address for a BitTorrent client request:
// the optional ip parameter when spoofing is allowed, the remote address
// of the connection otherwise.
func announceAddr(ctx *fasthttp.RequestCtx, qp *bittorrent.QueryParams, allowIPSpoofing bool) (netip.Addr, error) {
	if allowIPSpoofing {
		if ipStr, ok := qp.String("ip"); ok {
			addr, err := netip.ParseAddr(ipStr)
			if err != nil {
				return netip.Addr{}, errParseIP
			}
			return addr, nil
		}
	}
	return remoteAddr(ctx)
}

func remoteAddr(ctx *fasthttp.RequestCtx) (netip.Addr, error) {
	switch t := ctx.RemoteAddr().(type) {
	case *net.TCPAddr:
		return t.AddrPort().Addr(), nil
	case *net.UDPAddr:
		return t.AddrPort().Addr(), nil
	default:
		host, _, err := net.SplitHostPort(t.String())
		if err != nil {
			host = t.String()
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return netip.Addr{}, bittorrent.ErrInvalidIP
		}
		return addr, nil
	}
}
