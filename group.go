package goingest

import "sort"

// fileGroup describes the relations of a single used-by map key.
type fileGroup struct {
	key string
	// theyUseMe are the other files using the key.
	theyUseMe []string
	// iUseThem are the other files the key uses.
	iUseThem []string
}

// removable reports whether the key is wholly subsumed by its single consumer and must not become
// a unit of its own.
func (g *fileGroup) removable() bool {
	return len(g.iUseThem) <= 1 && len(g.theyUseMe) > 0
}

// Group collapses the used-by map into canonical import units. Keys used by other files that
// don't use more than one file themselves are folded into their consumers. When such keys only
// reference each other (a cycle) the first inserted key of the cycle is kept as the entry point.
// The result units are ordered by the insertion order of their keys, and each unit lists its key
// first followed by the files it uses transitively in insertion order.
func Group(m *UsedByMap) []*ImportUnit {
	keys := m.Keys()
	order := make(map[string]int, len(keys))
	for i, k := range keys {
		order[k] = i
	}
	uses := make(map[string][]string, len(keys))
	for _, file := range keys {
		for _, user := range m.Users(file) {
			if user != file {
				uses[user] = append(uses[user], file)
			}
		}
	}
	survives := make(map[string]bool, len(keys))
	for _, k := range keys {
		g := &fileGroup{key: k, theyUseMe: withoutSelf(k, m.Users(k)), iUseThem: uses[k]}
		survives[k] = !g.removable()
	}
	for _, k := range keys {
		if !survives[k] && !reachesSurvivor(m, k, survives) {
			survives[k] = true
		}
	}
	units := make([]*ImportUnit, 0, len(keys))
	for _, k := range keys {
		if !survives[k] {
			continue
		}
		files := append([]string{k}, sortByOrder(usedClosure(k, uses), order)...)
		units = append(units, &ImportUnit{EntryPath: files[0], UsedFiles: files})
	}
	return units
}

// reachesSurvivor reports whether following the users of the key leads to a surviving key.
func reachesSurvivor(m *UsedByMap, key string, survives map[string]bool) bool {
	visited := map[string]struct{}{key: {}}
	queue := []string{key}
	for len(queue) != 0 {
		current := queue[0]
		queue = queue[1:]
		for _, user := range m.Users(current) {
			if _, ex := visited[user]; ex {
				continue
			}
			if survives[user] {
				return true
			}
			visited[user] = struct{}{}
			queue = append(queue, user)
		}
	}
	return false
}

// usedClosure returns all the files the key uses directly or transitively, without the key.
func usedClosure(key string, uses map[string][]string) []string {
	visited := map[string]struct{}{key: {}}
	queue := []string{key}
	res := make([]string, 0)
	for len(queue) != 0 {
		current := queue[0]
		queue = queue[1:]
		for _, f := range uses[current] {
			if _, ex := visited[f]; ex {
				continue
			}
			visited[f] = struct{}{}
			res = append(res, f)
			queue = append(queue, f)
		}
	}
	return res
}

// sortByOrder sorts the files by their insertion order.
func sortByOrder(files []string, order map[string]int) []string {
	sort.SliceStable(files, func(i, j int) bool { return order[files[i]] < order[files[j]] })
	return files
}

// withoutSelf returns the list without the key.
func withoutSelf(key string, list []string) []string {
	res := make([]string, 0, len(list))
	for _, item := range list {
		if item != key {
			res = append(res, item)
		}
	}
	return res
}
