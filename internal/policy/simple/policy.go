// Package simple holds the path-prefix policy that decides which discovered
// links a source may follow.
package simple

import (
	"net/url"
	"strings"
)

// Policy filters URLs by host and path prefix. Block prefixes win over allow
// prefixes; an empty allow list admits every path.
type Policy struct {
	host  string
	allow []string
	block []string
}

// New creates a Policy for links on the same host as base.
func New(base string, allow, block []string) (*Policy, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	return &Policy{
		host:  strings.ToLower(u.Hostname()),
		allow: clean(allow),
		block: clean(block),
	}, nil
}

// AllowPath reports whether path passes the prefix rules.
func (p *Policy) AllowPath(path string) bool {
	if path == "" {
		path = "/"
	}
	for _, prefix := range p.block {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if len(p.allow) == 0 {
		return true
	}
	for _, prefix := range p.allow {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// AllowURL reports whether raw is on the policy's host and passes AllowPath.
func (p *Policy) AllowURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), p.host) {
		return false
	}
	return p.AllowPath(u.EscapedPath())
}

func clean(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
