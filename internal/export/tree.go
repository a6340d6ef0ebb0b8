package export

import (
	"sort"
	"time"
)

// CallNode aggregates every call that shares the same path from a root
// frame.
type CallNode struct {
	Name     string
	Total    time.Duration
	Self     time.Duration
	Count    int64
	Hot      bool
	Children []*CallNode

	index map[string]*CallNode
}

// Tree folds the calls of s into a single tree under a synthetic root named
// after the application. Nodes whose self time reaches hotFraction of the
// root total are marked hot. Children are sorted by total time, longest
// first.
func Tree(s Source, hotFraction float64) *CallNode {
	root := &CallNode{Name: s.Application}
	nodes := nest(s.Calls)
	self := selfTimes(nodes)

	for i, n := range nodes {
		cur := root
		for _, name := range path(nodes, i) {
			cur = cur.child(name)
		}
		cur.Count++
		cur.Total += n.call.Duration
		cur.Self += self[i]
		if n.parent < 0 {
			root.Total += n.call.Duration
			root.Count++
		}
	}
	root.finish(root.Total, hotFraction)
	return root
}

func (n *CallNode) child(name string) *CallNode {
	if n.index == nil {
		n.index = make(map[string]*CallNode)
	}
	c, ok := n.index[name]
	if !ok {
		c = &CallNode{Name: name}
		n.index[name] = c
		n.Children = append(n.Children, c)
	}
	return c
}

func (n *CallNode) finish(total time.Duration, hotFraction float64) {
	n.index = nil
	if total > 0 && hotFraction > 0 && float64(n.Self) >= hotFraction*float64(total) {
		n.Hot = true
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		return n.Children[i].Total > n.Children[j].Total
	})
	for _, c := range n.Children {
		c.finish(total, hotFraction)
	}
}
