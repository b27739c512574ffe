package dumpmgr

import "github.com/openbmc/dump-manager/internal/entry"

// EntryView is the type-erased, bus-facing shape of one catalog entry: the
// common attribute surface of entry.Snapshot plus whatever family-specific
// attributes the owning Policy renders via ExtraAttrs. It lets internal/bus
// and internal/rootservice work with every family manager through one
// interface without depending on the generic Manager[T].
type EntryView struct {
	entry.Snapshot
	Family string
	Extra  map[string]string
}
