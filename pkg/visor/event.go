// Package visor tracks live connections, hosts and connection animations from a
// stream of packet batches and turns them into render signals.
package visor

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Proto is a transport protocol as it appears on the wire. The server sends
// names ("TCP") for well known protocols and raw IP protocol numbers (47)
// for everything else, so both forms decode into the same string.
type Proto string

func (p *Proto) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Proto(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = Proto(n.String())
	return nil
}

func (p Proto) MarshalJSON() ([]byte, error) {
	if p == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.Atoi(string(p)); err == nil {
		return []byte(p), nil
	}
	return json.Marshal(string(p))
}

// Event is one observed packet, enriched by the server with geolocation and
// a connection type.
type Event struct {
	Src            string   `json:"src"`
	Dst            string   `json:"dst"`
	SrcPort        *int     `json:"src_port"`
	DstPort        *int     `json:"dst_port"`
	Proto          Proto    `json:"proto"`
	Type           string   `json:"type"`
	SrcLat         *float64 `json:"src_lat"`
	SrcLon         *float64 `json:"src_lon"`
	SrcCountry     string   `json:"src_country,omitempty"`
	SrcCountryCode string   `json:"src_country_code"`
	DstLat         *float64 `json:"dst_lat"`
	DstLon         *float64 `json:"dst_lon"`
	DstCountry     string   `json:"dst_country,omitempty"`
	DstCountryCode string   `json:"dst_country_code"`
}

// HasCoords reports whether both endpoints carry a full coordinate pair.
func (e Event) HasCoords() bool {
	return e.SrcLat != nil && e.SrcLon != nil && e.DstLat != nil && e.DstLon != nil
}

// TrafficType classifies the event by the scope of both addresses.
func (e Event) TrafficType() TrafficType {
	return TrafficTypeOf(e.Src, e.Dst)
}

type ServerLocation struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Known reports whether the location carries both coordinates.
func (l *ServerLocation) Known() bool {
	return l != nil && l.Lat != nil && l.Lon != nil
}

// Message is a single transport frame.
type Message struct {
	Packets        []Event         `json:"packets"`
	Anomalies      []string        `json:"anomalies"`
	ServerLocation *ServerLocation `json:"server_location,omitempty"`
}
