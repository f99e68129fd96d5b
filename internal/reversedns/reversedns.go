// Package reversedns recovers hostnames for clients that Postfix logged as
// "unknown[ip]".
//
// smtpd writes "unknown" when the reverse lookup of a client failed at connect
// time, but the same address frequently shows up elsewhere in the log with a
// name attached: an earlier connection that did resolve, or a relay field of
// an outbound delivery ("relay=mx.example.net[192.0.2.10]:25"). The resolver
// scans those strings for host[ip] pairs and builds a reverse map. When a
// transaction is reported, its client IP is cross-referenced against the map.
//
// Forward resolution of bare hostnames ("relay=mx.example.net") is optional
// and off by default since it performs network lookups. Lookups run in the
// background under a timeout; their results become visible to later reports.
//
// Both the reverse map and the set of already resolved hostnames are bounded
// LRU caches.
package reversedns

import (
	"context"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultCapacity bounds the number of IPs and of resolved hostnames kept.
	DefaultCapacity = 10000
	// DefaultLookupTimeout bounds a single forward lookup.
	DefaultLookupTimeout = 2 * time.Second
	// DefaultMaxInflight bounds concurrent forward lookups.
	DefaultMaxInflight = 4

	maxHostsPerIP = 8
)

// HostMapping stores the hostnames seen for an IP, in order of discovery.
type HostMapping struct {
	Originals []string
}

// LookupFunc resolves a hostname to addresses. net.DefaultResolver.LookupIPAddr
// satisfies it.
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// Resolver builds reverse IP lookups from log fragments.
//
// Usage:
//
//	r := New()
//	r.IngestEndpoints(ctx, "mx.example.net[192.0.2.10]:25")
//	hosts := r.Lookup("192.0.2.10") // call as late as possible
type Resolver struct {
	mu        sync.Mutex
	ipToHosts *simplelru.LRU[string, *HostMapping]
	processed *simplelru.LRU[string, struct{}]

	capacity int
	forward  LookupFunc
	timeout  time.Duration
	inflight chan struct{}
	wg       sync.WaitGroup

	hostIPRegex   *regexp.Regexp
	hostnameRegex *regexp.Regexp
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithForwardLookup enables forward resolution of bare hostnames with fn.
// Pass net.DefaultResolver.LookupIPAddr for real DNS.
func WithForwardLookup(fn LookupFunc) Option {
	return func(r *Resolver) {
		r.forward = fn
	}
}

// WithLookupTimeout sets the deadline of a single forward lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCapacity bounds how many IPs, and separately how many resolved
// hostnames, are remembered.
func WithCapacity(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithMaxInflight bounds concurrent forward lookups. Hostnames seen while
// the limit is reached are retried on their next sighting.
func WithMaxInflight(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.inflight = make(chan struct{}, n)
		}
	}
}

// New creates a new Resolver with compiled regexes.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		capacity:      DefaultCapacity,
		timeout:       DefaultLookupTimeout,
		inflight:      make(chan struct{}, DefaultMaxInflight),
		hostIPRegex:   regexp.MustCompile(`(?i)([a-z0-9](?:[a-z0-9.-]*[a-z0-9])?)\[([0-9a-f.:]+)\]`),
		hostnameRegex: regexp.MustCompile(`(?i)^(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`),
	}
	for _, opt := range opts {
		opt(r)
	}
	// simplelru only fails on a non-positive size, which the options rule out.
	r.ipToHosts, _ = simplelru.NewLRU[string, *HostMapping](r.capacity, nil)
	r.processed, _ = simplelru.NewLRU[string, struct{}](r.capacity, nil)
	return r
}

// IngestEndpoints scans each string for host[ip] pairs. With forward lookup
// enabled, a string that is itself a bare hostname is resolved in the
// background. IngestEndpoints never blocks on the network.
func (r *Resolver) IngestEndpoints(ctx context.Context, endpoints ...string) {
	for _, endpoint := range endpoints {
		r.extractEndpoints(ctx, endpoint)
	}
}

func (r *Resolver) extractEndpoints(ctx context.Context, s string) {
	matches := r.hostIPRegex.FindAllStringSubmatch(s, -1)
	for _, m := range matches {
		r.addPair(m[1], m[2])
	}

	if len(matches) == 0 && r.forward != nil {
		host := strings.TrimSuffix(s, ".")
		if i := strings.LastIndexByte(host, ':'); i > 0 {
			host = host[:i]
		}
		if r.hostnameRegex.MatchString(host) {
			r.addHostname(ctx, host)
		}
	}
}

func (r *Resolver) addPair(host, ip string) {
	host = strings.ToLower(host)
	if host == "unknown" || net.ParseIP(ip) == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addIPMapping(ip, host)
}

func (r *Resolver) addHostname(ctx context.Context, hostname string) {
	hostname = strings.ToLower(hostname)

	r.mu.Lock()
	if r.processed.Contains(hostname) {
		r.mu.Unlock()
		return
	}
	select {
	case r.inflight <- struct{}{}:
	default:
		r.mu.Unlock()
		return
	}
	r.processed.Add(hostname, struct{}{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.inflight }()

		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		addrs, err := r.forward(lookupCtx, hostname)
		if err != nil {
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		for _, addr := range addrs {
			r.addIPMapping(addr.IP.String(), hostname)
		}
	}()
}

// addIPMapping requires r.mu.
func (r *Resolver) addIPMapping(ip, hostname string) {
	mapping, ok := r.ipToHosts.Get(ip)
	if !ok {
		mapping = &HostMapping{}
		r.ipToHosts.Add(ip, mapping)
	}
	if len(mapping.Originals) < maxHostsPerIP && !contains(mapping.Originals, hostname) {
		mapping.Originals = append(mapping.Originals, hostname)
	}
}

// Wait blocks until in-flight forward lookups have finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// Len returns the number of IPs with at least one known hostname.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ipToHosts.Len()
}

// Lookup returns possible hostnames for a given IP address.
func (r *Resolver) Lookup(ip string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mapping, ok := r.ipToHosts.Get(ip); ok {
		return append([]string(nil), mapping.Originals...)
	}
	return nil
}

// Resolve returns the first hostname learned for ip, or "".
func (r *Resolver) Resolve(ip string) string {
	if hosts := r.Lookup(ip); len(hosts) > 0 {
		return hosts[0]
	}
	return ""
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
