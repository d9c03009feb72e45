package goingest

// NewUsedByMap creates a new empty *UsedByMap.
func NewUsedByMap() *UsedByMap {
	return &UsedByMap{
		users:      make(map[string][]string, 100),
		usersByKey: make(map[string]map[string]struct{}, 100),
		keys:       make([]string, 0, 100),
	}
}

// UsedByMapFrom builds a map from the literal file -> users mapping. The keys order is defined by
// the keys slice; each listed key must be present in m.
func UsedByMapFrom(keys []string, m map[string][]string) *UsedByMap {
	res := NewUsedByMap()
	for _, k := range keys {
		res.addKey(k)
		for _, user := range m[k] {
			res.Add(k, user)
		}
	}
	return res
}

// UsedByMap maps a file path to the ordered list of paths that declared it as one of their used
// files. Both keys and users keep their first-seen order which drives the order of the import
// units.
type UsedByMap struct {
	users      map[string][]string
	usersByKey map[string]map[string]struct{}
	keys       []string
}

// Add registers user as a user of file. Repeated registrations are skipped.
func (m *UsedByMap) Add(file, user string) {
	m.addKey(file)
	if _, ex := m.usersByKey[file][user]; ex {
		return
	}
	m.usersByKey[file][user] = struct{}{}
	m.users[file] = append(m.users[file], user)
}

// AddProbe registers every used file of the probed path as used by it.
func (m *UsedByMap) AddProbe(path string, usedFiles []string) {
	for _, f := range usedFiles {
		m.Add(f, path)
	}
}

// Keys returns the files in their insertion order.
func (m *UsedByMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Users returns the users of the file in their first-seen order.
func (m *UsedByMap) Users(file string) []string {
	return append([]string(nil), m.users[file]...)
}

// Has returns whether the file has been recorded.
func (m *UsedByMap) Has(file string) bool {
	_, ex := m.usersByKey[file]
	return ex
}

// Uses returns whether user has been registered as a user of file.
func (m *UsedByMap) Uses(user, file string) bool {
	_, ex := m.usersByKey[file][user]
	return ex
}

// Len returns the number of recorded files.
func (m *UsedByMap) Len() int {
	return len(m.keys)
}

// addKey registers the file as a key if it is not known yet.
func (m *UsedByMap) addKey(file string) {
	if _, ex := m.usersByKey[file]; ex {
		return
	}
	m.usersByKey[file] = make(map[string]struct{})
	m.keys = append(m.keys, file)
}
