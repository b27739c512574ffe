// Package bus implements the engine's bus surface: a thin in-repo
// HTTP+JSON stand-in for the external D-Bus binding, playing the same
// structural role — object paths, an object-manager listing, per-object
// method and property access — without depending on any D-Bus library,
// since none of the retrieved example repos carries one.
package bus

import (
	"sort"

	"github.com/openbmc/dump-manager/internal/dumpmgr"
)

// FamilyAPI is the type-erased surface every dumpmgr.Manager[T]
// instantiation satisfies, regardless of its family's extension type —
// EntryView already carries the bus-facing attribute set, so nothing
// generic needs to leak past this package.
type FamilyAPI interface {
	Family() string
	CreateDump(params map[string]string) (string, error)
	DeleteEntry(id uint32) error
	OffloadEntry(id uint32, uri string) error
	FileHandleCheck(id uint32) (string, error)
	List() []dumpmgr.EntryView
	Get(id uint32) (dumpmgr.EntryView, bool)
}

// Registry is the bus's object-manager: the set of family managers
// reachable at /dump/<family>/entry/..., keyed by family name.
type Registry struct {
	families map[string]FamilyAPI
}

func NewRegistry() *Registry {
	return &Registry{families: map[string]FamilyAPI{}}
}

// Register adds a family manager under its own Family() name. Calling it
// twice for the same family is a startup-time programming error.
func (r *Registry) Register(api FamilyAPI) {
	if _, exists := r.families[api.Family()]; exists {
		panic("bus: family already registered: " + api.Family())
	}
	r.families[api.Family()] = api
}

func (r *Registry) lookup(family string) (FamilyAPI, bool) {
	api, ok := r.families[family]
	return api, ok
}

// Families returns every registered family's name, sorted, for the
// object-manager's root listing.
func (r *Registry) Families() []string {
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
