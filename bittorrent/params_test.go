package bittorrent

import (
	"net/netip"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testPeerID = "-TEST01-6wfG2wk6wWLc"

	ValidAnnounceArguments = []url.Values{
		{},
		{"peer_id": {testPeerID}, "port": {"6881"}, "downloaded": {"1234"}, "left": {"4321"}},
		{"peer_id": {""}, "compact": {"0"}, "numwant": {"28"}},
		{"event": {"started"}, "numwant": {"13"}},
		{"compact": {"1"}, "no_peer_id": {"1"}, "key": {"peerKey"}},
		{"peer_id": {"%3Ckey%3A+0x90%3E"}, "compact": {"1"}},
		{"peer_id": {""}, "compact": {""}},
	}

	InvalidQueries = []string{
		"info_hash=%0%a",
		"%nfo_hash=aaaaaaaaaaaaaaaaaaaa",
	}
)

func mapArrayEqual(boxed url.Values, qp *QueryParams) bool {
	if len(boxed) != len(qp.params) {
		return false
	}
	for mapKey, mapVal := range boxed {
		if parsed, found := qp.String(mapKey); !found || parsed != mapVal[len(mapVal)-1] {
			return false
		}
	}
	return true
}

func TestParseQuery_ValidQueries(t *testing.T) {
	for _, parseVal := range ValidAnnounceArguments {
		parsedQueryObj, err := ParseQuery(parseVal.Encode())
		require.Nil(t, err)
		require.True(t, mapArrayEqual(parseVal, parsedQueryObj))
	}
}

func TestParseQuery_InvalidQueries(t *testing.T) {
	for _, parseStr := range InvalidQueries {
		parsedQueryObj, err := ParseQuery(parseStr)
		require.NotNil(t, err)
		require.Nil(t, parsedQueryObj)
	}
}

func TestParseQuery_InfoHashes(t *testing.T) {
	q := "info_hash=aaaaaaaaaaaaaaaaaaaa&info_hash=bbbbbbbbbbbbbbbbbbbb&info_hash=cccccccccccccccccccc"
	qp, err := ParseQuery(q)
	require.Nil(t, err)
	require.Equal(t, []InfoHash{
		InfoHash("aaaaaaaaaaaaaaaaaaaa"),
		InfoHash("bbbbbbbbbbbbbbbbbbbb"),
		InfoHash("cccccccccccccccccccc"),
	}, qp.InfoHashes())
	require.Empty(t, qp.Keys())
}

func TestParseQuery_BinaryInfoHash(t *testing.T) {
	// 20 raw bytes, percent-encoded the way clients do.
	q := "info_hash=%9A%813%3C%1B%16%E4%A8%3C%10%F3%05%2C%15%90%AA%DF%5E.%20&port=6881"
	qp, err := ParseQuery(q)
	require.Nil(t, err)
	require.Len(t, qp.InfoHashes(), 1)
	require.Len(t, qp.InfoHashes()[0].RawString(), InfoHashLen)
}

func TestParseQuery_ShortInfoHash(t *testing.T) {
	_, err := ParseQuery("info_hash=aaa")
	require.ErrorIs(t, err, ErrInvalidHashSize)
}

func TestParseQuery_LastValueWins(t *testing.T) {
	qp, err := ParseQuery("numwant=1&numwant=2")
	require.Nil(t, err)
	v, err := qp.Uint64("numwant")
	require.Nil(t, err)
	require.Equal(t, uint64(2), v)
}

func withAddr(r *AnnounceRequest, addr string, port uint16) *AnnounceRequest {
	r.Peer.AddrPort = netip.AddrPortFrom(netip.MustParseAddr(addr), port)
	return r
}

func TestSanitizeAnnounce(t *testing.T) {
	rs := &RequestSanitizer{MaxNumWant: 200, DefaultNumWant: 50, MaxScrapeInfoHashes: 50}

	r := &AnnounceRequest{}
	require.Nil(t, rs.SanitizeAnnounce(withAddr(r, "10.11.12.13", 1234)))
	require.Equal(t, uint32(50), r.NumWant)

	r = &AnnounceRequest{NumWant: 1000, NumWantProvided: true}
	require.Nil(t, rs.SanitizeAnnounce(withAddr(r, "10.11.12.13", 1234)))
	require.Equal(t, uint32(200), r.NumWant)

	r = &AnnounceRequest{NumWant: 0, NumWantProvided: true}
	require.Nil(t, rs.SanitizeAnnounce(withAddr(r, "10.11.12.13", 1234)))
	require.Equal(t, uint32(0), r.NumWant)

	require.ErrorIs(t, rs.SanitizeAnnounce(&AnnounceRequest{}), ErrInvalidIP)
}

func TestSanitizeScrape(t *testing.T) {
	rs := &RequestSanitizer{MaxScrapeInfoHashes: 2}
	r := &ScrapeRequest{InfoHashes: []InfoHash{"aaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb", "cccccccccccccccccccc"}}
	require.Nil(t, rs.SanitizeScrape(r))
	require.Len(t, r.InfoHashes, 2)
}
