package access

import (
	"sort"
	"strings"
)

// Role represents a named permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	IsActive    bool
}

// Permission represents an atomic capability identified by resource and action.
type Permission struct {
	ID          int64
	Resource    string
	Action      string
	Module      string
	Description string
}

// Key returns the identity of the permission.
func (p Permission) Key() PermissionKey {
	return PermissionKey{Resource: p.Resource, Action: p.Action}
}

// Name returns the display name used in role matrices.
func (p Permission) Name() string {
	return p.Key().String()
}

// PermissionKey is the (resource, action) identity of a permission.
type PermissionKey struct {
	Resource string
	Action   string
}

func (k PermissionKey) String() string {
	return k.Resource + ":" + k.Action
}

// Menu is a node of the navigation forest.
type Menu struct {
	ID        int64
	ParentID  *int64
	Name      string
	Path      string
	Icon      string
	Module    string
	SortOrder int
}

// PermissionSet is an immutable set of permission keys.
type PermissionSet struct {
	keys map[PermissionKey]struct{}
}

// NewPermissionSet builds a set from the supplied keys.
func NewPermissionSet(keys ...PermissionKey) PermissionSet {
	set := PermissionSet{keys: make(map[PermissionKey]struct{}, len(keys))}
	for _, k := range keys {
		set.keys[k] = struct{}{}
	}
	return set
}

// Has reports whether the set grants action on resource.
func (s PermissionSet) Has(resource, action string) bool {
	_, ok := s.keys[PermissionKey{Resource: resource, Action: action}]
	return ok
}

// Len returns the number of distinct permissions.
func (s PermissionSet) Len() int {
	return len(s.keys)
}

// Keys returns the permissions ordered by resource then action.
func (s PermissionSet) Keys() []PermissionKey {
	out := make([]PermissionKey, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// ContainsAll reports whether every key of other is also in s.
func (s PermissionSet) ContainsAll(other PermissionSet) bool {
	for k := range other.keys {
		if _, ok := s.keys[k]; !ok {
			return false
		}
	}
	return true
}

// ByResource groups actions per resource, actions sorted ascending.
func (s PermissionSet) ByResource() map[string][]string {
	matrix := make(map[string][]string)
	for _, k := range s.Keys() {
		matrix[k.Resource] = append(matrix[k.Resource], k.Action)
	}
	return matrix
}

// MenuNode is a menu with its visible children.
type MenuNode struct {
	Menu
	Children []*MenuNode
}

// Forest is an ordered list of root menu nodes.
type Forest []*MenuNode

// Clone returns a deep copy so callers cannot mutate cached trees.
func (f Forest) Clone() Forest {
	if f == nil {
		return Forest{}
	}
	out := make(Forest, len(f))
	for i, n := range f {
		out[i] = n.clone()
	}
	return out
}

func (n *MenuNode) clone() *MenuNode {
	cp := &MenuNode{Menu: n.Menu}
	if n.Menu.ParentID != nil {
		parent := *n.Menu.ParentID
		cp.Menu.ParentID = &parent
	}
	cp.Children = make([]*MenuNode, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = c.clone()
	}
	return cp
}

// Len counts every node in the forest.
func (f Forest) Len() int {
	total := 0
	for _, n := range f {
		total += 1 + Forest(n.Children).Len()
	}
	return total
}

// Flatten returns the menus in depth-first order.
func (f Forest) Flatten() []Menu {
	out := make([]Menu, 0, f.Len())
	var walk func(nodes []*MenuNode)
	walk = func(nodes []*MenuNode) {
		for _, n := range nodes {
			out = append(out, n.Menu)
			walk(n.Children)
		}
	}
	walk(f)
	return out
}

// FilterModule keeps the subtrees whose root belongs to module. Matching is case-insensitive and
// an empty module returns a copy of the whole forest.
func (f Forest) FilterModule(module string) Forest {
	module = strings.TrimSpace(module)
	if module == "" {
		return f.Clone()
	}
	out := Forest{}
	for _, n := range f {
		if strings.EqualFold(n.Module, module) {
			out = append(out, n.clone())
		}
	}
	return out
}
