package scan

import "sync"

// DedupeIndex tracks, per check, the set of dedupe keys that have already
// claimed an execution. shouldRun is an atomic test-and-insert so two
// targets racing on the same key never both win (§4.B, invariant 1).
type DedupeIndex struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewDedupeIndex creates an empty index.
func NewDedupeIndex() *DedupeIndex {
	return &DedupeIndex{seen: make(map[string]map[string]struct{})}
}

// ShouldRun claims (checkID, key) if it has not already been claimed.
// It returns true exactly once per distinct key for a given checkID.
func (d *DedupeIndex) ShouldRun(checkID, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys, ok := d.seen[checkID]
	if !ok {
		keys = make(map[string]struct{})
		d.seen[checkID] = keys
	}
	if _, claimed := keys[key]; claimed {
		return false
	}
	keys[key] = struct{}{}
	return true
}

// Seed pre-claims a set of keys without requiring a ShouldRun call,
// used by externalDedupeKeys (§4.G) to merge in keys from a prior scan.
func (d *DedupeIndex) Seed(checkID string, keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.seen[checkID]
	if !ok {
		set = make(map[string]struct{})
		d.seen[checkID] = set
	}
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

// Clone deep-copies the index so the estimator (§4.G) can probe
// applicability without polluting the real index (Open Question c).
func (d *DedupeIndex) Clone() *DedupeIndex {
	d.mu.Lock()
	defer d.mu.Unlock()

	clone := NewDedupeIndex()
	for checkID, keys := range d.seen {
		copied := make(map[string]struct{}, len(keys))
		for k := range keys {
			copied[k] = struct{}{}
		}
		clone.seen[checkID] = copied
	}
	return clone
}

// Snapshot returns the claimed keys per check, for externalDedupeKeys
// round-tripping or persistence into historystore/redisstore.
func (d *DedupeIndex) Snapshot() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string][]string, len(d.seen))
	for checkID, keys := range d.seen {
		list := make([]string, 0, len(keys))
		for k := range keys {
			list = append(list, k)
		}
		out[checkID] = list
	}
	return out
}
