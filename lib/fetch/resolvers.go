package fetch

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"github.com/peerhub/peerhub/core"
)

// MaxmindGeoResolver resolves peer addresses against a local MaxMind mmdb
// file (City or Country edition).
type MaxmindGeoResolver struct {
	db *maxminddb.Reader
}

// OpenMaxmindGeoResolver opens the mmdb at path.
func OpenMaxmindGeoResolver(path string) (*MaxmindGeoResolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mmdb: %s", err)
	}
	return &MaxmindGeoResolver{db: db}, nil
}

// Close closes the underlying database.
func (r *MaxmindGeoResolver) Close() error {
	return r.db.Close()
}

type geoRecord struct {
	Country struct {
		IsoCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// Resolve looks up the address. Addresses outside the database resolve to an
// empty Geo rather than an error so the enrichment cache still memoizes them.
func (r *MaxmindGeoResolver) Resolve(addr string) (*core.Geo, error) {
	ip := net.ParseIP(peerHost(addr))
	if ip == nil {
		return nil, fmt.Errorf("invalid peer address %q", addr)
	}
	var rec geoRecord
	if err := r.db.Lookup(ip, &rec); err != nil {
		return nil, fmt.Errorf("lookup: %s", err)
	}
	return &core.Geo{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
		Lat:     rec.Location.Latitude,
		Lon:     rec.Location.Longitude,
	}, nil
}

// DNSHostResolver resolves peer addresses to hostnames via reverse DNS.
type DNSHostResolver struct {
	timeout time.Duration
}

// NewDNSHostResolver creates a DNSHostResolver. A zero timeout defaults to
// two seconds per lookup.
func NewDNSHostResolver(timeout time.Duration) *DNSHostResolver {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &DNSHostResolver{timeout: timeout}
}

// Resolve returns the first PTR record for the address.
func (r *DNSHostResolver) Resolve(addr string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, peerHost(addr))
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no ptr record for %s", addr)
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// peerHost strips an optional port from a peer address.
func peerHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
