package helpers

import (
	"fmt"
	"strings"
	"time"
)

// TreeNode represents a node in a tree structure for rendering.
type TreeNode interface {
	GetName() string
	GetDuration() time.Duration
	GetSelf() time.Duration
	GetCallCount() int64
	GetChildren() []TreeNode
	IsHot() bool
}

// RenderTree renders a tree structure in ASCII art format.
// totalDuration is used to calculate percentages. Nodes below minPercent
// of the total are summarized per parent.
func RenderTree(root TreeNode, totalDuration time.Duration, minPercent float64) string {
	if root == nil {
		return "No tree data available.\n"
	}

	var buf strings.Builder
	buf.WriteString(renderTreeNode(root, "", true, totalDuration, minPercent))
	buf.WriteString("\n" + renderTreeLegend())
	return buf.String()
}

func renderTreeNode(node TreeNode, prefix string, isLast bool, totalDuration time.Duration, minPercent float64) string {
	var buf strings.Builder

	connector := "├─"
	if isLast {
		connector = "└─"
	}

	hotMarker := ""
	if node.IsHot() {
		hotMarker = " ← HOT"
	}

	fmt.Fprintf(&buf, "%s%s %s (%s, self %s, %d calls, %.1f%%)%s\n",
		prefix,
		connector,
		node.GetName(),
		FormatDuration(node.GetDuration()),
		FormatDuration(node.GetSelf()),
		node.GetCallCount(),
		percent(node.GetDuration(), totalDuration),
		hotMarker,
	)

	childPrefix := prefix
	if isLast {
		childPrefix += "  "
	} else {
		childPrefix += "│ "
	}

	var shown []TreeNode
	var hidden int
	var hiddenDuration time.Duration
	for _, child := range node.GetChildren() {
		if minPercent > 0 && percent(child.GetDuration(), totalDuration) < minPercent {
			hidden++
			hiddenDuration += child.GetDuration()
			continue
		}
		shown = append(shown, child)
	}

	for i, child := range shown {
		isLastChild := i == len(shown)-1 && hidden == 0
		buf.WriteString(renderTreeNode(child, childPrefix, isLastChild, totalDuration, minPercent))
	}
	if hidden > 0 {
		fmt.Fprintf(&buf, "%s└─ … %d more (%s)\n", childPrefix, hidden, FormatDuration(hiddenDuration))
	}

	return buf.String()
}

func percent(d, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(d) / float64(total) * 100
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	} else if d < time.Millisecond {
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	} else if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func renderTreeLegend() string {
	return `Legend:
  ├─ = intermediate node    │  = continuation
  └─ = last child           ← HOT = large share of self time
`
}
