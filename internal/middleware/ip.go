package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// forwardedHeaders are read in order when a trusted proxy sits in front.
var forwardedHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
}

// clientAddrFunc resolves the address a request is charged to. The zero
// Addr means none could be determined.
type clientAddrFunc func(r *http.Request) netip.Addr

func clientAddrResolver(trustedProxy bool) clientAddrFunc {
	if trustedProxy {
		return forwardedAddr
	}
	return remoteAddr
}

// forwardedAddr returns the first public address carried by
// forwardedHeaders, taking the leftmost entry of a list. Internal or
// malformed values are skipped so a client cannot pass itself off as one
// of ours. Without a usable header it falls back to the socket peer.
func forwardedAddr(r *http.Request) netip.Addr {
	for _, h := range forwardedHeaders {
		first, _, _ := strings.Cut(r.Header.Get(h), ",")
		addr, err := netip.ParseAddr(strings.TrimSpace(first))
		if err != nil {
			continue
		}
		if addr = addr.Unmap(); isInternal(addr) {
			continue
		}
		return addr
	}
	return remoteAddr(r)
}

func remoteAddr(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

func isInternal(addr netip.Addr) bool {
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

// clientKey is the limiter identity of addr. IPv6 clients are keyed by
// their /64, which a single host usually owns whole.
func clientKey(addr netip.Addr) string {
	if addr.Is6() {
		return netip.PrefixFrom(addr.WithZone(""), 64).Masked().String()
	}
	return addr.String()
}
