package bittorrent

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"

	"github.com/rs/zerolog"
)

// PeerIDLen is length of peer id field in bytes
const PeerIDLen = 20

// PeerID represents a peer ID.
type PeerID [PeerIDLen]byte

// ErrInvalidPeerIDSize holds error about invalid PeerID size,
// its text is sent to clients as-is.
var ErrInvalidPeerIDSize = ClientError(fmt.Sprintf("peer_id must be %d bytes", PeerIDLen))

// ErrInvalidIP indicates an invalid IP for an Announce.
var ErrInvalidIP = ClientError("invalid IP")

// NewPeerID creates a PeerID from a byte slice.
func NewPeerID(b []byte) (PeerID, error) {
	var p PeerID
	if len(b) != PeerIDLen {
		return p, ErrInvalidPeerIDSize
	}
	copy(p[:], b)
	return p, nil
}

// String implements fmt.Stringer, returning the base16 encoded PeerID.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// RawString returns a 20-byte string of the raw bytes of the ID.
func (p PeerID) RawString() string {
	return string(p[:])
}

// Peer represents the connection details of a peer participating in a
// swarm. Uploaded, Downloaded and Left carry the last values the peer
// reported about itself.
type Peer struct {
	ID PeerID
	netip.AddrPort
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
}

// CompactV4Len is the length of a compact IPv4 peer record (BEP 23).
const CompactV4Len = net.IPv4len + 2

// CompactV6Len is the length of a compact IPv6 peer record (BEP 7).
const CompactV6Len = net.IPv6len + 2

// Addr returns unmapped peer's IP address
func (p Peer) Addr() netip.Addr {
	return p.AddrPort.Addr().Unmap()
}

// CompactV4 returns the 6-byte compact form of the peer: 4 bytes of IP and
// 2 bytes of port, both in network order.
func (p Peer) CompactV4() []byte {
	b := make([]byte, CompactV4Len)
	ip := p.Addr().As4()
	copy(b, ip[:])
	binary.BigEndian.PutUint16(b[net.IPv4len:], p.Port())
	return b
}

// CompactV6 returns the 18-byte compact form of the peer: 16 bytes of IP
// and 2 bytes of port, both in network order.
func (p Peer) CompactV6() []byte {
	b := make([]byte, CompactV6Len)
	ip := p.Addr().As16()
	copy(b, ip[:])
	binary.BigEndian.PutUint16(b[net.IPv6len:], p.Port())
	return b
}

// MarshalZerologObject writes fields into zerolog event
func (p Peer) MarshalZerologObject(e *zerolog.Event) {
	e.Stringer("id", p.ID).
		Stringer("address", p.Addr()).
		Uint16("port", p.Port())
}
