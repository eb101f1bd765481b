package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sudorandom/visor/pkg/sources"
)

// IPAPILocator queries ip-api.com. URL is a format string taking the IP.
type IPAPILocator struct {
	URL    string
	Client *http.Client
}

func NewIPAPILocator() *IPAPILocator {
	return &IPAPILocator{URL: sources.IPAPIURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

type ipAPIResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	City        string   `json:"city"`
}

func (l *IPAPILocator) Locate(ctx context.Context, ip string) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(l.URL, url.PathEscape(ip)), nil)
	if err != nil {
		return Location{}, err
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Location{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("ip-api: bad status: %s", resp.Status)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("ip-api: %w", err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("%w: ip-api: %s", ErrNoLocation, body.Message)
	}
	return Location{
		Lat:         body.Lat,
		Lon:         body.Lon,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
	}, nil
}

type ipifyResponse struct {
	IP string `json:"ip"`
}

// PublicIP asks an ipify-compatible endpoint for this host's public address.
func PublicIP(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = sources.IPifyURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get public IP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get public IP: bad status: %s", resp.Status)
	}
	var body ipifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode public IP: %w", err)
	}
	if body.IP == "" {
		return "", fmt.Errorf("empty public IP response")
	}
	return body.IP, nil
}
