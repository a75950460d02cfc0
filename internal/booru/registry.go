package booru

import (
	"github.com/samber/lo"
)

// Descriptor is the static capability record of a provider.
type Descriptor struct {
	ID           ID
	ExplicitOnly bool // member of the explicit pool used by forced-explicit searches
	SupportsTags bool
}

func (d Descriptor) Name() string { return d.ID.String() }

// table is the provider registration table in declaration order.
// The first three providers are excluded from the explicit pool: safebooru
// only serves safe content and the other two are furry-focused.
var table = []Descriptor{
	{ID: Safebooru, ExplicitOnly: false, SupportsTags: true},
	{ID: E621, ExplicitOnly: false, SupportsTags: true},
	{ID: Derpibooru, ExplicitOnly: false, SupportsTags: true},
	{ID: Rule34, ExplicitOnly: true, SupportsTags: true},
	{ID: Gelbooru, ExplicitOnly: true, SupportsTags: true},
	{ID: Konachan, ExplicitOnly: true, SupportsTags: true},
	{ID: Yandere, ExplicitOnly: true, SupportsTags: true},
	{ID: Danbooru, ExplicitOnly: true, SupportsTags: true},
}

// List returns providers in declaration order. With explicitOnly set, only the
// explicit pool is returned. The result is a fresh slice.
func List(explicitOnly bool) []Descriptor {
	return lo.Filter(table, func(d Descriptor, _ int) bool {
		return !explicitOnly || d.ExplicitOnly
	})
}

// Lookup returns the descriptor for id.
func Lookup(id ID) (Descriptor, bool) {
	return lo.Find(table, func(d Descriptor) bool { return d.ID == id })
}

// ParseID resolves a provider name (case-insensitive) to its id.
func ParseID(name string) (ID, bool) {
	name = NormalizeTag(name)
	d, ok := lo.Find(table, func(d Descriptor) bool { return d.Name() == name })
	return d.ID, ok
}

// IDs returns the ids of the given descriptors, preserving order.
func IDs(ds []Descriptor) []ID {
	return lo.Map(ds, func(d Descriptor, _ int) ID { return d.ID })
}
