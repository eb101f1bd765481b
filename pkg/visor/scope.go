package visor

import (
	"image/color"
	"strconv"
	"strings"
)

type Scope int

const (
	ScopePublic Scope = iota
	ScopePrivate
)

func (s Scope) String() string {
	if s == ScopePrivate {
		return "private"
	}
	return "public"
}

// Classify returns ScopePrivate for addresses in 10.0.0.0/8, 192.168.0.0/16
// and 172.16.0.0/12. The match is textual, so anything that does not look
// like one of those prefixes (including garbage) is public.
func Classify(addr string) Scope {
	switch {
	case strings.HasPrefix(addr, "10."), strings.HasPrefix(addr, "192.168."):
		return ScopePrivate
	case strings.HasPrefix(addr, "172."):
		rest := addr[len("172."):]
		dot := strings.IndexByte(rest, '.')
		if dot != 2 {
			return ScopePublic
		}
		n, err := strconv.Atoi(rest[:dot])
		if err == nil && n >= 16 && n <= 31 {
			return ScopePrivate
		}
	}
	return ScopePublic
}

// TrafficType labels a connection by the scope of its two endpoints. The
// labels double as filter keys.
type TrafficType string

const (
	PrivatePrivate TrafficType = "private-private"
	PrivatePublic  TrafficType = "private-public"
	PublicPrivate  TrafficType = "public-private"
	PublicPublic   TrafficType = "public-public"
)

// TrafficTypes lists every label in display order.
var TrafficTypes = []TrafficType{PrivatePrivate, PrivatePublic, PublicPrivate, PublicPublic}

func TrafficTypeOf(src, dst string) TrafficType {
	srcPriv := Classify(src) == ScopePrivate
	dstPriv := Classify(dst) == ScopePrivate
	switch {
	case srcPriv && dstPriv:
		return PrivatePrivate
	case srcPriv:
		return PrivatePublic
	case dstPriv:
		return PublicPrivate
	default:
		return PublicPublic
	}
}

// Connection types as labelled by the server.
const (
	ConnLocalLocal   = "local-local"
	ConnLocalPublic  = "local-public"
	ConnPublicLocal  = "public-local"
	ConnPublicPublic = "public-public"
)

var (
	ColorLocalLocal  = color.RGBA{0, 128, 0, 255}   // green
	ColorLocalPublic = color.RGBA{0, 0, 255, 255}   // blue
	ColorPublicLocal = color.RGBA{255, 0, 0, 255}   // red
	ColorDefault     = color.RGBA{255, 0, 255, 255} // #f0f
)

// ColorFor maps a server connection type to its display color.
func ColorFor(connType string) color.RGBA {
	switch connType {
	case ConnLocalLocal:
		return ColorLocalLocal
	case ConnLocalPublic:
		return ColorLocalPublic
	case ConnPublicLocal:
		return ColorPublicLocal
	default:
		return ColorDefault
	}
}
