// Package magnet parses magnet URIs into a Magnet: an info-hash, a
// display name and an ordered tracker list.
//
// Parsing is manual rather than routed through net/url.Parse for the
// whole URI: a magnet link's query string is a flat sequence of
// key=value pairs following a fixed "magnet:?" prefix, not a generic
// URI with a authority/path/query split, so this mirrors the original
// implementation's percent-decode-then-split approach rather than the
// teacher's net/url.Parse().Query()-based ParseMagnet.
package magnet

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/vandenbogart/wmc/wmcerr"
)

const magnetPrefix = "magnet:?"

// Magnet is a parsed magnet URI.
type Magnet struct {
	InfoHash    [20]byte
	DisplayName string
	Trackers    []*url.URL
}

// InfoHashHex returns the upper-case hex encoding of m.InfoHash.
func (m *Magnet) InfoHashHex() string {
	return strings.ToUpper(hex.EncodeToString(m.InfoHash[:]))
}

// Parse parses a magnet URI. It fails with wmcerr.BadFormat if the link
// contains an invalid percent-escape, lacks the "magnet:?" prefix, or
// has no xt key that yields a valid 20-byte info-hash; any other
// malformed component (an unparseable tr URL) is silently dropped
// rather than aborting the whole parse.
func Parse(link string) (*Magnet, error) {
	// PathUnescape decodes %XX sequences but, unlike QueryUnescape, does
	// not fold "+" into a space — magnet dn values use literal "+" as a
	// word separator and must round-trip it unchanged.
	decoded, err := url.PathUnescape(link)
	if err != nil {
		return nil, wmcerr.Wrapf(wmcerr.BadFormat, "magnet: percent-decode: %s", err)
	}
	if !strings.HasPrefix(decoded, magnetPrefix) {
		return nil, wmcerr.Wrapf(wmcerr.BadFormat, "magnet: missing %q prefix", magnetPrefix)
	}
	body := decoded[len(magnetPrefix):]

	m := &Magnet{}
	haveInfoHash := false
	var trackers []*url.URL

	for _, item := range strings.Split(body, "&") {
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		switch key {
		case "xt":
			hashBytes, ok := parseInfoHash(value)
			if !ok {
				continue
			}
			m.InfoHash = hashBytes
			haveInfoHash = true
		case "dn":
			m.DisplayName = value
		case "tr":
			u, err := url.Parse(value)
			if err != nil {
				continue
			}
			trackers = append(trackers, u)
		}
	}

	if !haveInfoHash {
		return nil, wmcerr.Wrapf(wmcerr.BadFormat, "magnet: no xt key yielded a valid 20-byte info-hash")
	}

	// Drop any tracker URL whose scheme survived url.Parse but isn't
	// resolvable at connect time (e.g. an empty host); this keeps the
	// orchestrator from ever dialing an obviously-dead endpoint while
	// still honoring "unparseable URLs are skipped, not fatal" for the
	// URLs that genuinely failed to parse above.
	m.Trackers = lo.Filter(trackers, func(u *url.URL, _ int) bool {
		return u.Host != ""
	})

	return m, nil
}

// parseInfoHash decodes the xt value's last 40 hex characters into a
// 20-byte info-hash. Returns ok=false if fewer than 40 hex characters
// are available or they fail to decode.
func parseInfoHash(xt string) ([20]byte, bool) {
	var out [20]byte
	if len(xt) < 40 {
		return out, false
	}
	hexPart := xt[len(xt)-40:]
	decoded, err := hex.DecodeString(hexPart)
	if err != nil || len(decoded) != 20 {
		return out, false
	}
	copy(out[:], decoded)
	return out, true
}
