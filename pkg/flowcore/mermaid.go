package flowcore

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MermaidOptions configures DrawMermaid.
type MermaidOptions struct {
	// Direction is the flowchart direction: TD (default), LR, BT or RL.
	Direction string
}

// DrawMermaid renders the flow as a Mermaid flowchart. Plain edges are
// solid, branches dotted and labelled with their key when it differs
// from the destination.
func (cf *CompiledFlow) DrawMermaid(opts MermaidOptions) string {
	f := cf.flow
	dir := opts.Direction
	if dir == "" {
		dir = "TD"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s;\n", dir)
	fmt.Fprintf(&sb, "\t%s([%s]):::first\n", START, START)
	for _, name := range f.sortedNodes() {
		fmt.Fprintf(&sb, "\t%s(%s)\n", name, name)
	}
	fmt.Fprintf(&sb, "\t%s([%s]):::last\n", END, END)

	var lines []string
	for _, e := range f.edges {
		lines = append(lines, fmt.Sprintf("\t%s --> %s;\n", e.from, e.to))
	}
	for _, j := range f.joins {
		lines = append(lines, fmt.Sprintf("\t%s --> %s;\n", strings.Join(j.sources, " & "), j.target))
	}
	for _, source := range f.sortedSources() {
		for _, b := range f.branches[source] {
			if b.ends == nil {
				for _, dest := range append(f.sortedNodes(), END) {
					lines = append(lines, fmt.Sprintf("\t%s -.-> %s;\n", source, dest))
				}
			}
			for _, key := range slices.Sorted(maps.Keys(b.ends)) {
				dest := b.ends[key]
				if key == dest {
					lines = append(lines, fmt.Sprintf("\t%s -.-> %s;\n", source, dest))
				} else {
					lines = append(lines, fmt.Sprintf("\t%s -.->|%s| %s;\n", source, key, dest))
				}
			}
			if b.hasThen() {
				targets, _ := b.targets()
				for _, dest := range targets {
					if dest != END {
						lines = append(lines, fmt.Sprintf("\t%s -.-> %s;\n", dest, b.then))
					}
				}
			}
		}
	}
	slices.Sort(lines)
	for _, l := range slices.Compact(lines) {
		sb.WriteString(l)
	}

	sb.WriteString("\tclassDef default fill:#f2f0ff,line-height:1.2\n")
	sb.WriteString("\tclassDef first fill-opacity:0\n")
	sb.WriteString("\tclassDef last fill:#bfb6fc\n")
	return sb.String()
}
