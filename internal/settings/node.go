package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Node is one level of the settings tree. A node holding a row has ID and Value;
// any node may also have children, since "a" and "a.b" can both be keys.
type Node struct {
	ID       *uint
	Value    interface{}
	Children map[string]*Node
}

func newNode() *Node {
	return &Node{Children: map[string]*Node{}}
}

// IsLeaf reports whether a settings row is stored at this node.
func (n *Node) IsLeaf() bool {
	return n != nil && n.ID != nil
}

// insert stores a leaf at the dotted path, creating intermediate nodes.
func (n *Node) insert(path []string, id uint, value interface{}) {
	cur := n
	for _, seg := range path {
		next, ok := cur.Children[seg]
		if !ok {
			next = newNode()
			cur.Children[seg] = next
		}
		cur = next
	}
	cur.ID = &id
	cur.Value = value
}

// Lookup walks a dotted path. An empty path returns n itself.
func (n *Node) Lookup(path string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	cur := n
	for _, seg := range splitKey(path) {
		next, ok := cur.Children[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Int returns the leaf value at path as an int, or def. Numeric strings are accepted.
func (n *Node) Int(path string, def int) int {
	leaf, ok := n.Lookup(path)
	if !ok || !leaf.IsLeaf() {
		return def
	}
	switch v := leaf.Value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return def
		}
		return int(v)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

// MarshalJSON renders {"id":..,"value":..} for leaves merged with one key per child.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("{}"), nil
	}
	out := make(map[string]interface{}, len(n.Children)+2)
	for k, child := range n.Children {
		out[k] = child
	}
	if n.IsLeaf() {
		out["id"] = *n.ID
		out["value"] = n.Value
	}
	return json.Marshal(out)
}

func splitKey(key string) []string {
	key = strings.Trim(strings.TrimSpace(key), ".")
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}
