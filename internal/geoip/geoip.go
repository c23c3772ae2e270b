// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package geoip resolves geographic and network-ownership metadata for IP
// addresses from two local MaxMind-format tables: a city/coordinate table
// and an autonomous-system table. The tables are opened lazily on first
// lookup and cached for the process lifetime; an open failure is not
// cached, so the next lookup retries instead of being poisoned forever.
package geoip

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/sony/gobreaker/v2"

	"github.com/connlens/connlens/internal/logging"
)

// Info is the result of a lookup. All fields are optional: a miss in
// either table independently yields a partial result.
type Info struct {
	Country        string  `json:"country,omitempty"`
	CountryCode    string  `json:"country_code,omitempty"`
	City           string  `json:"city,omitempty"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	ASN            uint    `json:"asn,omitempty"`
	ASOrganization string  `json:"as_organization,omitempty"`
}

// Empty reports whether the lookup found nothing at all.
func (i Info) Empty() bool {
	return i == Info{}
}

// Resolver is the lookup capability higher layers depend on.
type Resolver interface {
	// Lookup resolves geo/ASN fields for ip. Invalid or empty input
	// yields the zero Info with no error; an error is returned only when
	// the underlying tables cannot be opened.
	Lookup(ip string) (Info, error)
}

type handles struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

func (h *handles) close() {
	if h.city != nil {
		_ = h.city.Close()
	}
	if h.asn != nil {
		_ = h.asn.Close()
	}
}

// Service implements Resolver over two on-disk mmdb tables. The open path
// runs behind a circuit breaker so a missing or corrupt database fails
// fast instead of hitting the disk on every record of every batch.
type Service struct {
	cityPath string
	asnPath  string

	mu      sync.Mutex
	handles *handles

	breaker *gobreaker.CircuitBreaker[*handles]
}

// NewService creates a Service reading the given city and ASN table paths.
// Nothing is opened until the first Lookup.
func NewService(cityPath, asnPath string) *Service {
	s := &Service{
		cityPath: cityPath,
		asnPath:  asnPath,
	}
	s.breaker = gobreaker.NewCircuitBreaker[*handles](gobreaker.Settings{
		Name:    "geoip-open",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("geoip open breaker state change")
		},
	})
	return s
}

// open returns the cached table handles, opening them on first use. On
// failure nothing is cached, so the next caller retries.
func (s *Service) open() (*handles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handles != nil {
		return s.handles, nil
	}

	h, err := s.breaker.Execute(func() (*handles, error) {
		city, err := geoip2.Open(s.cityPath)
		if err != nil {
			return nil, fmt.Errorf("open city table %s: %w", s.cityPath, err)
		}
		asn, err := geoip2.Open(s.asnPath)
		if err != nil {
			_ = city.Close()
			return nil, fmt.Errorf("open asn table %s: %w", s.asnPath, err)
		}
		return &handles{city: city, asn: asn}, nil
	})
	if err != nil {
		return nil, err
	}

	s.handles = h
	logging.Info().
		Str("city_table", s.cityPath).
		Str("asn_table", s.asnPath).
		Msg("geoip tables opened")
	return h, nil
}

// Lookup resolves geo/ASN fields for ip. A miss in either table is not an
// error: the other table's fields are still returned.
func (s *Service) Lookup(ip string) (Info, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Info{}, nil
	}

	h, err := s.open()
	if err != nil {
		return Info{}, fmt.Errorf("geoip lookup: %w", err)
	}

	var info Info

	if city, err := h.city.City(parsed); err == nil && city != nil {
		info.Country = city.Country.Names["en"]
		info.CountryCode = city.Country.IsoCode
		info.City = city.City.Names["en"]
		info.Latitude = city.Location.Latitude
		info.Longitude = city.Location.Longitude
	}

	if asn, err := h.asn.ASN(parsed); err == nil && asn != nil {
		info.ASN = asn.AutonomousSystemNumber
		info.ASOrganization = asn.AutonomousSystemOrganization
	}

	return info, nil
}

// Close releases the table handles if they were opened.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles != nil {
		s.handles.close()
		s.handles = nil
	}
}
