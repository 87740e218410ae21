package domain

// Context is a per-instance, persistent (copy-on-write) key/value mapping.
// Each step receives a read-only snapshot and returns a Delta the runner
// applies before the next step; this removes accidental cross-step
// aliasing and makes replay deterministic. Contexts are never shared across
// instances.
type Context map[string]any

// Clone returns a shallow copy of the context suitable for handing to a step
// as a read-only snapshot. Callers must treat the returned map as read-only;
// mutation flows back only through a Delta.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Delta is the set of key/value writes a step produced. Applying a Delta to
// a Context overwrites on key collision, matching the "extracted values
// overwrite" invariant.
type Delta map[string]any

// Apply returns a new Context with delta's keys overwriting c's.
func (c Context) Apply(delta Delta) Context {
	if len(delta) == 0 {
		return c
	}
	out := c.Clone()
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// Get performs dotted-path lookup rooted at the context (e.g.
// "entry.seed_data.customer_id"), returning (value, true) on a hit.
func (c Context) Get(path string) (any, bool) {
	return lookupPath(map[string]any(c), path)
}

func lookupPath(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = root
	for _, seg := range splitDotted(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitDotted(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}
