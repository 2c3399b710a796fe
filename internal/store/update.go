package store

// Update describes field-level changes to one document.
type Update struct {
	Set      map[string]any
	Unset    []string
	AddToSet map[string][]string
	Pull     map[string][]string
	Push     map[string][]string // append to a list attribute
	Inc      map[string]int
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0 && len(u.AddToSet) == 0 &&
		len(u.Pull) == 0 && len(u.Push) == 0 && len(u.Inc) == 0
}

// SetField returns u with field set to v, allocating the map if needed.
func (u Update) SetField(field string, v any) Update {
	if u.Set == nil {
		u.Set = map[string]any{}
	}
	u.Set[field] = v
	return u
}

// AddAll returns u with values added to the set attribute field. Empty
// value lists are ignored because document stores reject empty sets.
func (u Update) AddAll(field string, values []string) Update {
	if len(values) == 0 {
		return u
	}
	if u.AddToSet == nil {
		u.AddToSet = map[string][]string{}
	}
	u.AddToSet[field] = append(u.AddToSet[field], values...)
	return u
}
