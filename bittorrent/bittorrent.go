// Package bittorrent implements all of the abstractions used to decouple the
// protocol of a BitTorrent tracker from the logic of handling Announces and
// Scrapes.
package bittorrent

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// InfoHash represents an infohash.
type InfoHash string

const (
	// InfoHashLen is the same as sha1.Size
	InfoHashLen = sha1.Size
	// NoneInfoHash dummy invalid InfoHash
	NoneInfoHash InfoHash = ""
)

// ErrInvalidHashSize holds error about invalid InfoHash size,
// its text is sent to clients as-is.
var ErrInvalidHashSize = ClientError(fmt.Sprintf("info_hash must be %d bytes", InfoHashLen))

// NewInfoHash creates an InfoHash from a byte slice or raw/hex string.
func NewInfoHash(data any) (InfoHash, error) {
	var ba []byte
	switch t := data.(type) {
	case [InfoHashLen]byte:
		ba = t[:]
	case []byte:
		ba = t
	case string:
		if len(t) == InfoHashLen*2 {
			var err error
			if ba, err = hex.DecodeString(t); err != nil {
				return NoneInfoHash, err
			}
		} else {
			ba = []byte(t)
		}
	}
	if len(ba) != InfoHashLen {
		return NoneInfoHash, ErrInvalidHashSize
	}
	return InfoHash(ba), nil
}

// String implements fmt.Stringer, returning the base16 encoded InfoHash.
func (i InfoHash) String() string {
	return hex.EncodeToString([]byte(i))
}

// RawString returns a string of the raw bytes of the InfoHash.
func (i InfoHash) RawString() string {
	return string(i)
}

// AnnounceRequest represents the parsed parameters from an announce request.
type AnnounceRequest struct {
	Event           Event
	InfoHash        InfoHash
	Compact         bool
	NoPeerID        bool
	EventProvided   bool
	NumWantProvided bool
	IPProvided      bool
	NumWant         uint32
	Left            uint64
	Downloaded      uint64
	Uploaded        uint64

	Peer
}

// MarshalZerologObject writes fields into zerolog event
func (r AnnounceRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Stringer("event", r.Event).
		Stringer("infoHash", r.InfoHash).
		Bool("compact", r.Compact).
		Bool("noPeerID", r.NoPeerID).
		Bool("eventProvided", r.EventProvided).
		Bool("numWantProvided", r.NumWantProvided).
		Bool("ipProvided", r.IPProvided).
		Uint32("numWant", r.NumWant).
		Uint64("left", r.Left).
		Uint64("downloaded", r.Downloaded).
		Uint64("uploaded", r.Uploaded).
		Object("peer", r.Peer)
}

// AnnounceResponse represents the parameters used to create an announce
// response.
type AnnounceResponse struct {
	Compact     bool
	NoPeerID    bool
	Complete    uint32
	Incomplete  uint32
	Interval    time.Duration
	MinInterval time.Duration
	TrackerID   string
	IPv4Peers   []Peer
	IPv6Peers   []Peer
}

// MarshalZerologObject writes fields into zerolog event
func (r AnnounceResponse) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("compact", r.Compact).
		Uint32("complete", r.Complete).
		Uint32("incomplete", r.Incomplete).
		Dur("interval", r.Interval).
		Dur("minInterval", r.MinInterval).
		Int("ipv4Peers", len(r.IPv4Peers)).
		Int("ipv6Peers", len(r.IPv6Peers))
}

// ScrapeRequest represents the parsed parameters from a scrape request.
type ScrapeRequest struct {
	InfoHashes []InfoHash
}

// ScrapeResponse represents the parameters used to create a scrape response.
//
// The Files must be in the same order as the InfoHashes in the
// corresponding ScrapeRequest.
type ScrapeResponse struct {
	Files []Scrape
}

// Scrape represents the state of a swarm that is returned in a scrape
// response. It doubles as the record used to register a torrent with the
// torrent store out-of-band.
type Scrape struct {
	InfoHash   InfoHash
	Name       string
	Complete   uint32
	Incomplete uint32
	Snatches   uint32
}

// MarshalZerologObject writes fields into zerolog event
func (s Scrape) MarshalZerologObject(e *zerolog.Event) {
	e.Stringer("infoHash", s.InfoHash).
		Str("name", s.Name).
		Uint32("complete", s.Complete).
		Uint32("incomplete", s.Incomplete).
		Uint32("snatches", s.Snatches)
}

// ClientError represents an error that should be exposed to the client over
// the BitTorrent protocol implementation.
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }
