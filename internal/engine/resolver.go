package engine

// RecipientResolver maps a resonance type to a destination address. The
// static table is the stock implementation; a registry-backed lookup can be
// substituted without touching any other component as long as the three
// outcomes (resolved, not resolved, caller override) are preserved.
type RecipientResolver interface {
	Resolve(resonanceType string) (string, bool)
}

// StaticResolver resolves recipients from a fixed table built at startup.
type StaticResolver struct {
	table map[string]string
}

// NewStaticResolver copies the table so the resolver stays immutable after
// construction.
func NewStaticResolver(table map[string]string) *StaticResolver {
	copied := make(map[string]string, len(table))
	for k, v := range table {
		copied[k] = v
	}
	return &StaticResolver{table: copied}
}

func (r *StaticResolver) Resolve(resonanceType string) (string, bool) {
	addr, ok := r.table[resonanceType]
	return addr, ok
}

var _ RecipientResolver = (*StaticResolver)(nil)
