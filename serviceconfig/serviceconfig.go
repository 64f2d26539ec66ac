// Package serviceconfig holds externally supplied per-method policy for an
// RPC channel: message size caps keyed by full method path. The filter that
// consumes a Config never parses configuration text itself; parsing lives
// here, at the edge.
package serviceconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SizeCap is an optional non-negative byte-count ceiling. The zero value
// means unlimited.
type SizeCap struct {
	n   int
	set bool
}

// Limit returns a cap of n bytes. A negative n means unlimited, mirroring
// the conventional -1 sentinel in channel configuration.
func Limit(n int) SizeCap {
	if n < 0 {
		return SizeCap{}
	}
	return SizeCap{n: n, set: true}
}

// Unlimited returns the absent cap. Equivalent to the zero value.
func Unlimited() SizeCap {
	return SizeCap{}
}

// Get returns the cap in bytes and whether one is set.
func (c SizeCap) Get() (int, bool) {
	return c.n, c.set
}

// Allows reports whether a message of n bytes fits under the cap.
func (c SizeCap) Allows(n int) bool {
	return !c.set || n <= c.n
}

// Tighter combines two caps: the smaller of the two, ignoring absent ones;
// absent if both are absent. A per-method override combined with a channel
// default this way can only shrink the effective cap.
func (c SizeCap) Tighter(o SizeCap) SizeCap {
	switch {
	case !c.set:
		return o
	case !o.set:
		return c
	case o.n < c.n:
		return o
	default:
		return c
	}
}

func (c SizeCap) String() string {
	if !c.set {
		return "unlimited"
	}
	return strconv.Itoa(c.n)
}

// MethodConfig is one method's policy as produced by the configuration
// parser. Request caps apply to outbound messages, response caps to inbound
// ones (per-method configuration is a client-side concept).
type MethodConfig struct {
	MaxRequestBytes  SizeCap
	MaxResponseBytes SizeCap
}

// Config maps full method paths (e.g. "/pkg.Service/Method") to per-method
// policy. Lookup is exact string match: no normalization, no wildcard or
// prefix matching. Immutable after construction.
type Config struct {
	methods map[string]MethodConfig
}

// New builds a Config from methods. The map is copied.
func New(methods map[string]MethodConfig) *Config {
	m := make(map[string]MethodConfig, len(methods))
	for path, mc := range methods {
		m[path] = mc
	}
	return &Config{methods: m}
}

// Method returns the policy for the exact method path, if present.
// A nil Config has no methods.
func (c *Config) Method(path string) (MethodConfig, bool) {
	if c == nil {
		return MethodConfig{}, false
	}
	mc, ok := c.methods[path]
	return mc, ok
}

// Paths returns the configured method paths in unspecified order.
func (c *Config) Paths() []string {
	if c == nil {
		return nil
	}
	paths := make([]string, 0, len(c.methods))
	for path := range c.methods {
		paths = append(paths, path)
	}
	return paths
}

// Len returns the number of configured methods.
func (c *Config) Len() int {
	if c == nil {
		return 0
	}
	return len(c.methods)
}

// JSON wire form:
//
//	{"methods": [
//	  {"path": "/svc/Big", "maxRequestBytes": 1024, "maxResponseBytes": 2048}
//	]}
//
// Omitted caps mean unlimited for that direction.
type jsonMethod struct {
	Path             string `json:"path"`
	MaxRequestBytes  *int   `json:"maxRequestBytes,omitempty"`
	MaxResponseBytes *int   `json:"maxResponseBytes,omitempty"`
}

type jsonConfig struct {
	Methods []jsonMethod `json:"methods"`
}

// ParseJSON parses the JSON form of a service config. Duplicate or empty
// method paths are rejected.
func ParseJSON(data []byte) (*Config, error) {
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("parse service config: %w", err)
	}
	methods := make(map[string]MethodConfig, len(jc.Methods))
	for _, jm := range jc.Methods {
		if jm.Path == "" {
			return nil, fmt.Errorf("parse service config: method with empty path")
		}
		if _, dup := methods[jm.Path]; dup {
			return nil, fmt.Errorf("parse service config: duplicate method path %q", jm.Path)
		}
		methods[jm.Path] = MethodConfig{
			MaxRequestBytes:  capFromJSON(jm.MaxRequestBytes),
			MaxResponseBytes: capFromJSON(jm.MaxResponseBytes),
		}
	}
	return &Config{methods: methods}, nil
}

func capFromJSON(v *int) SizeCap {
	if v == nil {
		return Unlimited()
	}
	return Limit(*v)
}
