package world

// regionIndex groups entity ids by opaque logical labels, independent of
// physical position. Owned by the manager loop goroutine.
type regionIndex struct {
	groups map[string]map[string]struct{}
}

func newRegionIndex() *regionIndex {
	return &regionIndex{groups: make(map[string]map[string]struct{})}
}

func (r *regionIndex) add(label, id string) {
	if label == "" {
		return
	}
	set := r.groups[label]
	if set == nil {
		set = make(map[string]struct{})
		r.groups[label] = set
	}
	set[id] = struct{}{}
}

func (r *regionIndex) remove(label, id string) {
	if label == "" {
		return
	}
	set := r.groups[label]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.groups, label)
	}
}

func (r *regionIndex) ids(label string) map[string]struct{} {
	return r.groups[label]
}
