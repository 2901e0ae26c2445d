// contextstate.go holds the ambient user/device/custom context merged into
// outgoing events.

package errtrail

import "sync"

// ContextState stores the current user, device, custom context, tags, and
// extra maps. All setters perform field-level merges: each sub-object is
// merged independently, never overwritten wholesale, so setting tags {a:1}
// then {b:2} leaves both present. A nil value removes the key.
type ContextState struct {
	mu     sync.Mutex
	user   *User
	device map[string]any
	custom map[string]any
	tags   map[string]string
	extra  map[string]any
}

// NewContextState returns an empty context store.
func NewContextState() *ContextState {
	return &ContextState{}
}

// SetUser merges the given user into the stored one. Non-empty fields win;
// Extra maps merge key-by-key. A nil user clears the stored user.
func (c *ContextState) SetUser(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u == nil {
		c.user = nil
		return
	}
	if c.user == nil {
		cp := *u
		cp.Extra = cloneAnyMap(u.Extra)
		c.user = &cp
		return
	}
	if u.ID != "" {
		c.user.ID = u.ID
	}
	if u.Email != "" {
		c.user.Email = u.Email
	}
	if u.Username != "" {
		c.user.Username = u.Username
	}
	c.user.Extra = mergeAnyMap(c.user.Extra, u.Extra)
}

// SetContext merges a value into the custom context under key. When both the
// existing and new values are maps they merge key-by-key; otherwise the new
// value replaces the old. A nil value deletes the key.
func (c *ContextState) SetContext(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.custom == nil {
		c.custom = map[string]any{}
	}
	if value == nil {
		delete(c.custom, key)
		return
	}
	if newMap, ok := value.(map[string]any); ok {
		if oldMap, ok := c.custom[key].(map[string]any); ok {
			c.custom[key] = mergeAnyMap(cloneAnyMap(oldMap), newMap)
			return
		}
	}
	c.custom[key] = value
}

// SetTags merges tags into the stored tag map.
func (c *ContextState) SetTags(tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = mergeStringMap(c.tags, tags)
}

// SetExtra merges a single extra value. A nil value deletes the key.
func (c *ContextState) SetExtra(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra = mergeAnyMap(c.extra, map[string]any{key: value})
}

// SetDevice merges device fields.
func (c *ContextState) SetDevice(device map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = mergeAnyMap(c.device, device)
}

// Snapshot returns independent copies of the stored state.
func (c *ContextState) Snapshot() (user *User, device, custom map[string]any, tags map[string]string, extra map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		cp := *c.user
		cp.Extra = cloneAnyMap(c.user.Extra)
		user = &cp
	}
	return user, cloneAnyMap(c.device), cloneAnyMap(c.custom), cloneStringMap(c.tags), cloneAnyMap(c.extra)
}

// Clear resets everything.
func (c *ContextState) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
	c.device = nil
	c.custom = nil
	c.tags = nil
	c.extra = nil
}
