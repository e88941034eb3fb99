package monitor

// IDSource supplies the job ids a closed-world monitor is responsible for.
// The set may grow while submission is in progress.
type IDSource interface {
	IDs() []string
}

// IDList is a fixed IDSource.
type IDList []string

// IDs implements IDSource.
func (l IDList) IDs() []string { return l }

// Scope decides which jobs a monitor answers for and when its run ends.
//
// A closed-world scope ends when every tracked id is terminal. An
// open-world scope ends once some job is terminal and none are pre-run or
// running.
type Scope struct {
	tracked IDSource
}

// Closed returns a closed-world scope over src.
func Closed(src IDSource) Scope {
	return Scope{tracked: src}
}

// ClosedIDs returns a closed-world scope over a fixed id list.
func ClosedIDs(ids ...string) Scope {
	return Scope{tracked: IDList(ids)}
}

// Open returns an open-world scope.
func Open() Scope {
	return Scope{}
}

// IsClosed reports whether the scope tracks an explicit id set.
func (s Scope) IsClosed() bool {
	return s.tracked != nil
}

// snapshot returns the tracked ids at this instant, or nil when open.
func (s Scope) snapshot() map[string]struct{} {
	if s.tracked == nil {
		return nil
	}
	ids := s.tracked.IDs()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
