package bittorrent

import "net/netip"

// RequestSanitizer is used to replace unreasonable values in requests
// parsed from a frontend into sane values.
type RequestSanitizer struct {
	MaxNumWant          uint32 `cfg:"max_num_want"`
	DefaultNumWant      uint32 `cfg:"default_num_want"`
	MaxScrapeInfoHashes uint32 `cfg:"max_scrape_info_hashes"`
}

// SanitizeAnnounce enforces a default and maximum NumWant and coerces the
// peer's IP address into its canonical (unmapped) form.
func (rs *RequestSanitizer) SanitizeAnnounce(r *AnnounceRequest) error {
	if !r.NumWantProvided {
		r.NumWant = rs.DefaultNumWant
	} else if r.NumWant > rs.MaxNumWant {
		r.NumWant = rs.MaxNumWant
	}

	addr := r.Peer.Addr()
	if !addr.IsValid() {
		return ErrInvalidIP
	}
	r.Peer.AddrPort = netip.AddrPortFrom(addr, r.Peer.Port())
	return nil
}

// SanitizeScrape enforces a maximum number of infohashes for a single
// scrape request.
func (rs *RequestSanitizer) SanitizeScrape(r *ScrapeRequest) error {
	if len(r.InfoHashes) > int(rs.MaxScrapeInfoHashes) {
		r.InfoHashes = r.InfoHashes[:rs.MaxScrapeInfoHashes]
	}
	return nil
}
