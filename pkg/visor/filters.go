package visor

// FilterToggle is a user request to show or hide one traffic type.
type FilterToggle struct {
	Label   TrafficType
	Enabled bool
}

// FilterSet decides which traffic types are drawn on the map. Everything is
// enabled until toggled.
type FilterSet struct {
	enabled map[TrafficType]bool
}

func NewFilterSet() *FilterSet {
	f := &FilterSet{enabled: make(map[TrafficType]bool, len(TrafficTypes))}
	for _, t := range TrafficTypes {
		f.enabled[t] = true
	}
	return f
}

func (f *FilterSet) Enabled(t TrafficType) bool {
	return f.enabled[t]
}

// Set changes one label. Unknown labels are refused.
func (f *FilterSet) Set(t TrafficType, enabled bool) bool {
	if _, ok := f.enabled[t]; !ok {
		return false
	}
	f.enabled[t] = enabled
	return true
}

func (f *FilterSet) Snapshot() map[TrafficType]bool {
	out := make(map[TrafficType]bool, len(f.enabled))
	for k, v := range f.enabled {
		out[k] = v
	}
	return out
}
