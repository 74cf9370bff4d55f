// Package geo annotates proxy endpoints with country/city information
// from a local MaxMind GeoLite2/GeoIP2 database. Enrichment is optional;
// without a database path the run simply skips it.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"proxysweep/internal/model"
)

// Resolver implements model.IPResolver on top of a GeoIP2 city database.
// geoip2.Reader is safe for concurrent lookups.
type Resolver struct {
	reader *geoip2.Reader
}

// Open loads the database at path. Callers must Close the resolver when
// the run is done.
func Open(path string) (*Resolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &Resolver{reader: reader}, nil
}

// Lookup resolves geo information for an IP literal. Hostnames are not
// resolved: a probe must not trigger extra DNS traffic just for
// reporting, so non-literals return an error and the outcome stays
// unannotated.
func (r *Resolver) Lookup(ip string) (model.GeoInfo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return model.GeoInfo{}, fmt.Errorf("not an IP literal: %q", ip)
	}

	rec, err := r.reader.City(parsed)
	if err != nil {
		return model.GeoInfo{}, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}

	return model.GeoInfo{
		Country: rec.Country.Names["en"],
		City:    rec.City.Names["en"],
	}, nil
}

// Close releases the underlying database.
func (r *Resolver) Close() error {
	return r.reader.Close()
}
