// Package policy decides which chat senders may run commands on the host.
package policy

import (
	"fmt"
	"sync"

	"github.com/kehao95/relay/internal/config"
)

// Sender identifies who sent a message and where from.
type Sender struct {
	ID      string // provider user id
	Chat    string // chat or channel id
	Channel string // provider name, e.g. "telegram", "http", "console"
}

// Key is the qualified sender id, "channel:id".
func (s Sender) Key() string {
	if s.Channel == "" {
		return s.ID
	}
	return s.Channel + ":" + s.ID
}

// Authorizer grants or refuses elevated (host) execution.
type Authorizer interface {
	AuthorizeElevated(Sender) bool
}

// Allowlist is an Authorizer driven by a mode and a set of sender ids.
// Entries match either the bare sender id or the qualified "channel:id".
// It is safe for concurrent use and may be updated at runtime.
type Allowlist struct {
	mu    sync.RWMutex
	mode  string
	allow map[string]struct{}
}

// NewAllowlist returns an Allowlist. mode is one of the config.Elevation* values.
func NewAllowlist(mode string, ids []string) (*Allowlist, error) {
	a := &Allowlist{}
	if err := a.Update(mode, ids); err != nil {
		return nil, err
	}
	return a, nil
}

// Update atomically replaces the mode and sender set. On error the previous
// policy is kept.
func (a *Allowlist) Update(mode string, ids []string) error {
	if err := ParseMode(mode); err != nil {
		return err
	}
	allow := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allow[id] = struct{}{}
	}

	a.mu.Lock()
	a.mode = mode
	a.allow = allow
	a.mu.Unlock()
	return nil
}

// Mode returns the current mode.
func (a *Allowlist) Mode() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// AuthorizeElevated reports whether s may run commands on the host.
func (a *Allowlist) AuthorizeElevated(s Sender) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch a.mode {
	case config.ElevationAll:
		return true
	case config.ElevationNone:
		return false
	}
	if s.ID == "" {
		return false
	}
	if _, ok := a.allow[s.ID]; ok {
		return true
	}
	_, ok := a.allow[s.Key()]
	return ok
}

// ParseMode validates an elevation mode.
func ParseMode(mode string) error {
	switch mode {
	case config.ElevationAllowlist, config.ElevationAll, config.ElevationNone:
		return nil
	}
	return fmt.Errorf("unknown elevation mode %q", mode)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(Sender) bool

func (f AuthorizerFunc) AuthorizeElevated(s Sender) bool { return f(s) }
