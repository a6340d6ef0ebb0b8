package recordings

import (
	"time"

	"github.com/coral-mesh/stacktape/internal/cli/helpers"
	"github.com/coral-mesh/stacktape/internal/export"
)

// callTree adapts an export.CallNode for helpers.RenderTree.
type callTree struct {
	node *export.CallNode
}

func (c callTree) GetName() string { return c.node.Name }
func (c callTree) GetDuration() time.Duration { return c.node.Total }
func (c callTree) GetSelf() time.Duration { return c.node.Self }
func (c callTree) GetCallCount() int64 { return c.node.Count }
func (c callTree) IsHot() bool { return c.node.Hot }

func (c callTree) GetChildren() []helpers.TreeNode {
	children := make([]helpers.TreeNode, len(c.node.Children))
	for i, child := range c.node.Children {
		children[i] = callTree{child}
	}
	return children
}

// treeView is the structured form of a call tree.
type treeView struct {
	Name     string      `json:"name" yaml:"name"`
	TotalMS  int64       `json:"total_ms" yaml:"total_ms"`
	SelfMS   int64       `json:"self_ms" yaml:"self_ms"`
	Count    int64       `json:"count" yaml:"count"`
	Hot      bool        `json:"hot,omitempty" yaml:"hot,omitempty"`
	Children []*treeView `json:"children,omitempty" yaml:"children,omitempty"`
}

func newTreeView(n *export.CallNode) *treeView {
	v := &treeView{
		Name:    n.Name,
		TotalMS: n.Total.Milliseconds(),
		SelfMS:  n.Self.Milliseconds(),
		Count:   n.Count,
		Hot:     n.Hot,
	}
	for _, c := range n.Children {
		v.Children = append(v.Children, newTreeView(c))
	}
	return v
}
