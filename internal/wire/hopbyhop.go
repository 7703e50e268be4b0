package wire

import "strings"

// hopByHop lists headers that apply to a single transport hop and must never
// be forwarded across the tunnel in either direction.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// IsHopByHop reports whether name is a hop-by-hop header (case-insensitive).
func IsHopByHop(name string) bool {
	return hopByHop[strings.ToLower(name)]
}

// StripHopByHop returns headers with hop-by-hop entries (and, optionally,
// Host) removed, preserving the order and duplicates of the rest.
func StripHopByHop(headers []Header, excludeHost bool) []Header {
	out := make([]Header, 0, len(headers))
	for _, h := range headers {
		if IsHopByHop(h.Name) {
			continue
		}
		if excludeHost && strings.EqualFold(h.Name, "Host") {
			continue
		}
		out = append(out, h)
	}
	return out
}
