// Package visualization renders hfsm machine trees as Graphviz graphs
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/anggasct/hfsm"
)

// DOTGenerator generates Graphviz DOT format representations of machine trees
type DOTGenerator struct {
	machine *hfsm.Machine
	options DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowRedirects   bool
	HighlightActive bool
	RankDirection   string // "TB", "LR", "BT", "RL"
	NodeShape       string
	ClusterStyle    string
	RedirectStyle   string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowRedirects:   true,
		HighlightActive: true,
		RankDirection:   "TB",
		NodeShape:       "box",
		ClusterStyle:    "rounded",
		RedirectStyle:   "dashed",
	}
}

// NewDOTGenerator creates a new DOT generator for the given machine. The
// whole subtree below the machine is rendered.
func NewDOTGenerator(machine *hfsm.Machine, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &DOTGenerator{
		machine: machine,
		options: opts,
	}
}

// Generate creates a DOT representation of the machine tree
func (g *DOTGenerator) Generate() (string, error) {
	info, err := g.machine.Inspect()
	if err != nil {
		return "", fmt.Errorf("failed to inspect machine: %w", err)
	}

	graph := newLayout(info)
	var dot strings.Builder

	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString("  compound=true;\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	dot.WriteString("  // States\n")
	g.generateMachine(&dot, info, "  ")

	dot.WriteString("\n  // Transitions\n")
	if err := g.generateTransitions(&dot, graph); err != nil {
		return "", fmt.Errorf("failed to generate transitions: %w", err)
	}

	dot.WriteString("}\n")
	return dot.String(), nil
}

// generateMachine writes a cluster for a machine node and recurses into it
func (g *DOTGenerator) generateMachine(dot *strings.Builder, info hfsm.NodeInfo, indent string) {
	dot.WriteString(fmt.Sprintf("%ssubgraph \"%s\" {\n", indent, clusterID(info.Path)))
	label := info.Name
	if info.Terminated {
		label += "\\n(terminated)"
	}
	dot.WriteString(fmt.Sprintf("%s  label=\"%s\";\n", indent, label))
	style := g.options.ClusterStyle
	if g.options.HighlightActive && info.Active {
		style += ",bold"
	}
	dot.WriteString(fmt.Sprintf("%s  style=\"%s\";\n", indent, style))

	for _, child := range info.Children {
		if child.Kind == hfsm.KindMachine {
			g.generateMachine(dot, child, indent+"  ")
			continue
		}
		g.generateStateNode(dot, child, indent+"  ")
	}
	dot.WriteString(indent + "}\n")
}

// generateStateNode generates a DOT node for a single leaf state
func (g *DOTGenerator) generateStateNode(dot *strings.Builder, info hfsm.NodeInfo, indent string) {
	shape := g.options.NodeShape
	fillColor := "lightblue"
	label := info.Name

	if info.Initial {
		fillColor = "lightgreen"
		label += "\\n(initial)"
	}
	if info.Kind == hfsm.KindFinal {
		shape = "doublecircle"
		fillColor = "lightcoral"
	}
	if g.options.HighlightActive && info.Active {
		fillColor = "gold"
	}

	dot.WriteString(fmt.Sprintf("%s\"%s\" [shape=%s style=\"filled\" fillcolor=%s label=\"%s\"];\n",
		indent, info.Path, shape, fillColor, label))
}

// generateTransitions generates DOT edges for event targets and redirects
func (g *DOTGenerator) generateTransitions(dot *strings.Builder, graph *layout) error {
	for _, from := range graph.leaves {
		for _, transition := range from.Transitions() {
			if err := g.generateEdge(dot, graph, from, transition[1], transition[0], ""); err != nil {
				return err
			}
		}
		if g.options.ShowRedirects && from.Redirect != "" {
			style := fmt.Sprintf("style=%s", g.options.RedirectStyle)
			if err := g.generateEdge(dot, graph, from, from.Redirect, "", style); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *DOTGenerator) generateEdge(dot *strings.Builder, graph *layout, from hfsm.NodeInfo, target, label, style string) error {
	var attrs []string
	if label != "" {
		attrs = append(attrs, fmt.Sprintf("label=\"%s\"", label))
	}
	if style != "" {
		attrs = append(attrs, style)
	}

	to, ok := graph.resolve(from.Path, target)
	head := to.Path
	switch {
	case !ok:
		// Outside the rendered subtree
		head = target
		dot.WriteString(fmt.Sprintf("  \"%s\" [shape=plaintext];\n", target))
	case to.Kind == hfsm.KindMachine:
		entry, ok := graph.entry(to)
		if !ok {
			return fmt.Errorf("machine '%s' has no leaf to point at", to.Path)
		}
		head = entry
		attrs = append(attrs, fmt.Sprintf("lhead=\"%s\"", clusterID(to.Path)))
	}

	dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\"", from.Path, head))
	if len(attrs) > 0 {
		dot.WriteString(" [" + strings.Join(attrs, " ") + "]")
	}
	dot.WriteString(";\n")
	return nil
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}

	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator
func NewSVGGenerator(machine *hfsm.Machine, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{
		dotGenerator: NewDOTGenerator(machine, options...),
	}
}

// Generate creates an SVG representation of the machine tree
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}

// GenerateSVG creates an SVG representation of the machine tree
func (g *DOTGenerator) GenerateSVG() (string, error) {
	svgGen := &SVGGenerator{dotGenerator: g}
	return svgGen.Generate()
}

func clusterID(path string) string {
	return "cluster_" + path
}
