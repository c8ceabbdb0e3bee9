package access

import "sort"

// BuildForest reconstructs the visible menu forest from the flat global menu list.
//
// A menu whose parent id is missing from menus is promoted to a root and reported through
// onDangling. A visible menu is kept only when it is a root or its parent was kept, so every
// kept node has a visible path back to a root. Siblings are ordered by SortOrder, then id.
func BuildForest(menus []Menu, visible map[int64]struct{}, onDangling func(Menu)) Forest {
	byID := make(map[int64]Menu, len(menus))
	for _, m := range menus {
		if _, dup := byID[m.ID]; dup {
			continue
		}
		byID[m.ID] = m
	}

	var roots []Menu
	children := make(map[int64][]Menu)
	for _, m := range byID {
		switch {
		case m.ParentID == nil:
			roots = append(roots, m)
		case !hasMenu(byID, *m.ParentID):
			if _, ok := visible[m.ID]; ok && onDangling != nil {
				onDangling(m)
			}
			m.ParentID = nil
			roots = append(roots, m)
		default:
			children[*m.ParentID] = append(children[*m.ParentID], m)
		}
	}

	sortMenus(roots)
	for id := range children {
		sortMenus(children[id])
	}

	seen := make(map[int64]struct{}, len(visible))
	var build func(m Menu) *MenuNode
	build = func(m Menu) *MenuNode {
		seen[m.ID] = struct{}{}
		node := &MenuNode{Menu: m, Children: []*MenuNode{}}
		for _, c := range children[m.ID] {
			if _, ok := visible[c.ID]; !ok {
				continue
			}
			if _, done := seen[c.ID]; done {
				continue
			}
			node.Children = append(node.Children, build(c))
		}
		return node
	}

	forest := Forest{}
	for _, r := range roots {
		if _, ok := visible[r.ID]; !ok {
			continue
		}
		forest = append(forest, build(r))
	}
	return forest
}

func hasMenu(byID map[int64]Menu, id int64) bool {
	_, ok := byID[id]
	return ok
}

func sortMenus(menus []Menu) {
	sort.Slice(menus, func(i, j int) bool {
		if menus[i].SortOrder != menus[j].SortOrder {
			return menus[i].SortOrder < menus[j].SortOrder
		}
		return menus[i].ID < menus[j].ID
	})
}

// UnionPermissions merges permission lists into a set.
func UnionPermissions(groups ...[]Permission) PermissionSet {
	set := PermissionSet{keys: make(map[PermissionKey]struct{})}
	for _, perms := range groups {
		for _, p := range perms {
			set.keys[p.Key()] = struct{}{}
		}
	}
	return set
}

// PermissionNames returns the sorted, de-duplicated display names of perms.
func PermissionNames(perms []Permission) []string {
	keys := UnionPermissions(perms).Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return names
}
