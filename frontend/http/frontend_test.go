package http

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/middleware"
	"github.com/adcrn/tyto/stats"
	"github.com/adcrn/tyto/storage"
	"github.com/adcrn/tyto/storage/memory"
)

var errTest = errors.New("test failure")

func statsSnapshotForTest() stats.Snapshot {
	return stats.Snapshot{AnnouncesOK: 7}
}

func newTestFrontend(t *testing.T) (*Frontend, storage.Storage) {
	t.Helper()
	stats.Reset()

	st, err := memory.NewStorage(memory.Config{
		ShardCount:                  64,
		ReapInterval:                10 * time.Minute,
		PeerTimeout:                 30 * time.Minute,
		PrometheusReportingInterval: 10 * time.Minute,
	})
	require.Nil(t, err)
	t.Cleanup(func() { st.Stop().Wait() })

	cfg, err := Config{Addr: "127.0.0.1:0", AllowIPSpoofing: true}.Validate()
	require.Nil(t, err)

	logic := middleware.NewLogic(middleware.ResponseConfig{
		AnnounceInterval: 1800 * time.Second,
	}, st, nil, nil)

	return &Frontend{logic: logic, cfg: cfg}, st
}

func get(t *testing.T, handler func(*fasthttp.RequestCtx), uri string) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	req.SetRequestURI(uri)
	ctx := new(fasthttp.RequestCtx)
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 48765}, nil)
	handler(ctx)
	return ctx
}

func TestAnnounceMalformed(t *testing.T) {
	f, _ := newTestFrontend(t)
	ctx := get(t, f.announceRoute, "/announce?bad_stuff=123")
	require.Equal(t, "d14:failure_reason26:Malformed announce requeste", string(ctx.Response.Body()))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, uint64(1), stats.Collect().AnnouncesFail)
}

func TestScrapeMalformed(t *testing.T) {
	f, _ := newTestFrontend(t)
	ctx := get(t, f.scrapeRoute, "/scrape?bad_stuff=123")
	require.Equal(t, "d14:failure_reason24:Malformed scrape requeste", string(ctx.Response.Body()))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestScrapeKnownTorrents(t *testing.T) {
	f, st := newTestFrontend(t)
	st.PutTorrent(bittorrent.Scrape{InfoHash: "A1B2C3D4E5F6G7H8I9J0", Complete: 10, Incomplete: 7, Snatches: 34})
	st.PutTorrent(bittorrent.Scrape{InfoHash: "B2C3D4E5F6G7H8I9J0K1", Complete: 25, Incomplete: 19, Snatches: 57})

	ctx := get(t, f.scrapeRoute, "/scrape?info_hash=A1B2C3D4E5F6G7H8I9J0&info_hash=B2C3D4E5F6G7H8I9J0K1")
	require.Equal(t,
		"d5:filesd"+
			"20:A1B2C3D4E5F6G7H8I9J0d8:completei10e10:downloadedi34e10:incompletei7ee"+
			"20:B2C3D4E5F6G7H8I9J0K1d8:completei25e10:downloadedi57e10:incompletei19ee"+
			"ee",
		string(ctx.Response.Body()))
}

func TestScrapeOmitsUnknownTorrents(t *testing.T) {
	f, st := newTestFrontend(t)
	st.PutTorrent(bittorrent.Scrape{InfoHash: "A1B2C3D4E5F6G7H8I9J0", Complete: 1})

	ctx := get(t, f.scrapeRoute, "/scrape?info_hash=A1B2C3D4E5F6G7H8I9J0&info_hash=CCCCCCCCCCCCCCCCCCCC")
	require.Equal(t,
		"d5:filesd20:A1B2C3D4E5F6G7H8I9J0d8:completei1e10:downloadedi0e10:incompletei0eeee",
		string(ctx.Response.Body()))
}

const announceBase = "/announce?info_hash=AAAAAAAAAAAAAAAAAAAA&peer_id=ABCDEFGHIJKLMNOPQRST" +
	"&port=6881&uploaded=0&downloaded=0&left=1"

func TestAnnounceLifecycleOverHTTP(t *testing.T) {
	f, _ := newTestFrontend(t)

	ctx := get(t, f.announceRoute, announceBase+"&event=started")
	require.Equal(t, "d8:completei0e10:incompletei1e8:intervali1800e5:peers0:e", string(ctx.Response.Body()))

	ctx = get(t, f.announceRoute, announceBase+"&event=completed&left=0")
	require.Equal(t, "d8:completei1e10:incompletei0e8:intervali1800e5:peers0:e", string(ctx.Response.Body()))

	ctx = get(t, f.announceRoute, announceBase+"&event=stopped&left=0")
	require.Equal(t, "d8:completei0e10:incompletei0e8:intervali1800e5:peers0:e", string(ctx.Response.Body()))

	ctx = get(t, f.scrapeRoute, "/scrape?info_hash=AAAAAAAAAAAAAAAAAAAA")
	require.Equal(t,
		"d5:filesd20:AAAAAAAAAAAAAAAAAAAAd8:completei0e10:downloadedi1e10:incompletei0eeee",
		string(ctx.Response.Body()))
}

func TestAnnounceReturnsOtherPeers(t *testing.T) {
	f, _ := newTestFrontend(t)

	ctx := get(t, f.announceRoute,
		"/announce?info_hash=AAAAAAAAAAAAAAAAAAAA&peer_id=ABCDEFGHIJKLMNOPQRS1"+
			"&port=6881&uploaded=0&downloaded=0&left=1&event=started&ip=127.0.0.1")
	require.Equal(t, "d8:completei0e10:incompletei1e8:intervali1800e5:peers0:e", string(ctx.Response.Body()))

	ctx = get(t, f.announceRoute,
		"/announce?info_hash=AAAAAAAAAAAAAAAAAAAA&peer_id=ABCDEFGHIJKLMNOPQRS2"+
			"&port=6882&uploaded=0&downloaded=0&left=1&event=started")
	require.Equal(t,
		"d8:completei0e10:incompletei2e8:intervali1800e5:peers6:\x7f\x00\x00\x01\x1a\xe1e",
		string(ctx.Response.Body()))
}

func TestAnnounceBadPort(t *testing.T) {
	f, _ := newTestFrontend(t)
	for _, uri := range []string{
		"/announce?info_hash=AAAAAAAAAAAAAAAAAAAA&peer_id=ABCDEFGHIJKLMNOPQRST&port=0&uploaded=0&downloaded=0&left=1",
		"/announce?info_hash=AAAAAAAAAAAAAAAAAAAA&peer_id=ABCDEFGHIJKLMNOPQRST&port=123456&uploaded=0&downloaded=0&left=1",
		"/announce?info_hash=AAAAAAAAAAAAAAAAAAAA&peer_id=ABCDEFGHIJKLMNOPQRST&port=abc&uploaded=0&downloaded=0&left=1",
	} {
		ctx := get(t, f.announceRoute, uri)
		require.Equal(t, "d14:failure_reason20:Unable to parse porte", string(ctx.Response.Body()))
	}
}

func TestAnnounceUnknownEvent(t *testing.T) {
	f, _ := newTestFrontend(t)
	ctx := get(t, f.announceRoute, announceBase+"&event=garbage")
	require.Equal(t, "d14:failure_reason13:Unknown evente", string(ctx.Response.Body()))
}

func TestAnnounceWrongLengthHash(t *testing.T) {
	f, _ := newTestFrontend(t)
	ctx := get(t, f.announceRoute, "/announce?info_hash=short&peer_id=ABCDEFGHIJKLMNOPQRST&port=6881&uploaded=0&downloaded=0&left=1")
	require.Equal(t, "d14:failure_reason26:info_hash must be 20 bytese", string(ctx.Response.Body()))

	ctx = get(t, f.announceRoute, "/announce?info_hash=AAAAAAAAAAAAAAAAAAAA&peer_id=short&port=6881&uploaded=0&downloaded=0&left=1")
	require.Equal(t, "d14:failure_reason24:peer_id must be 20 bytese", string(ctx.Response.Body()))
}

func TestStatsRoute(t *testing.T) {
	f, _ := newTestFrontend(t)

	get(t, f.announceRoute, announceBase+"&event=started")
	ctx := get(t, f.statsRoute, "/stats")

	body := string(ctx.Response.Body())
	require.Contains(t, body, `"announces_ok":1`)
	require.Contains(t, body, `"leechers_total":1`)
	require.Contains(t, body, `"seeders_total":0`)
}
