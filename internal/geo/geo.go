// Package geo resolves visitor geolocation from IP addresses.
package geo

import (
	"net"
	"sync"
	"time"

	"github.com/radiusdt/clickpath/internal/metrics"
)

// Info holds geo lookup results for an IP.
type Info struct {
	Country string
	Region  string
	City    string
}

// Unknown is used for every field when the IP cannot be resolved.
const Unknown = "Unknown"

// UnknownInfo returns an Info with every field set to Unknown.
func UnknownInfo() *Info {
	return &Info{Country: Unknown, Region: Unknown, City: Unknown}
}

// Provider interface for IP geolocation backends.
type Provider interface {
	Lookup(ip string) (*Info, error)
	Close() error
}

// Resolver wraps a Provider with a TTL cache and a private-address
// short circuit: loopback/private/link-local IPs never reach the
// backend, they resolve to Unknown immediately.
type Resolver struct {
	provider Provider
	cache    *lookupCache
	metrics  *metrics.Metrics
}

type lookupCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	info      *Info
	expiresAt time.Time
}

// NewResolver creates a caching geo resolver. provider may be nil, in
// which case every lookup resolves to Unknown.
func NewResolver(provider Provider, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics) *Resolver {
	return &Resolver{
		provider: provider,
		cache: &lookupCache{
			data:    make(map[string]*cacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
		},
		metrics: m,
	}
}

// Resolve returns geo info for an IP. It never fails: unparseable,
// private and unresolvable addresses all yield Unknown fields.
func (r *Resolver) Resolve(ip string) *Info {
	parsed := net.ParseIP(ip)
	if parsed == nil || isPrivate(parsed) || r.provider == nil {
		return UnknownInfo()
	}

	start := time.Now()
	if info, ok := r.cache.get(ip); ok {
		if r.metrics != nil {
			r.metrics.RecordGeoLookup(true, time.Since(start))
		}
		return info
	}

	info, err := r.provider.Lookup(ip)
	if err != nil || info == nil {
		return UnknownInfo()
	}
	if info.Country == "" {
		info.Country = Unknown
	}
	if info.Region == "" {
		info.Region = Unknown
	}
	if info.City == "" {
		info.City = Unknown
	}

	r.cache.set(ip, info)
	if r.metrics != nil {
		r.metrics.RecordGeoLookup(false, time.Since(start))
	}

	return info
}

// Close releases the underlying provider.
func (r *Resolver) Close() error {
	if r.provider != nil {
		return r.provider.Close()
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func (c *lookupCache) get(ip string) (*Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.info, true
}

func (c *lookupCache) set(ip string, info *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict if at capacity (simple FIFO)
	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	c.data[ip] = &cacheEntry{
		info:      info,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// MockProvider is a map-backed geo provider for testing.
type MockProvider struct {
	data map[string]*Info
}

func NewMockProvider() *MockProvider {
	return &MockProvider{data: make(map[string]*Info)}
}

func (m *MockProvider) AddEntry(ip string, info *Info) {
	m.data[ip] = info
}

func (m *MockProvider) Lookup(ip string) (*Info, error) {
	if info, ok := m.data[ip]; ok {
		return info, nil
	}
	return nil, nil
}

func (m *MockProvider) Close() error {
	return nil
}
