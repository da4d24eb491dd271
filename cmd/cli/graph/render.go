package graph

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tyemirov/monorun/internal/taskgraph"
)

// Format selects the graph rendering.
type Format string

// Supported graph formats.
const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatDOT  Format = "dot"
)

const (
	unsupportedFormatTemplate = "unsupported graph format %q (expected text, yaml or dot)"
	textStageTemplate         = "Stage %d\n"
	textNodeTemplate          = "  %s"
	textDependenciesTemplate  = " <- %s"
	textPersistentMarker      = " [persistent]"
	textUncachedMarker        = " [no cache]"
	dotHeaderLine             = "digraph monorun {\n\tcompound = \"true\"\n\tnewrank = \"true\"\n"
	dotNodeTemplate           = "\t%q\n"
	dotEdgeTemplate           = "\t%q -> %q\n"
	dotFooterLine             = "}\n"
)

// ParseFormat validates a format name. Empty selects text.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatText:
		return FormatText, nil
	case FormatYAML:
		return FormatYAML, nil
	case FormatDOT:
		return FormatDOT, nil
	default:
		return "", fmt.Errorf(unsupportedFormatTemplate, raw)
	}
}

type renderedNode struct {
	ID           string   `yaml:"id"`
	Package      string   `yaml:"package"`
	Task         string   `yaml:"task"`
	Directory    string   `yaml:"directory"`
	Command      string   `yaml:"command,omitempty"`
	Cache        bool     `yaml:"cache"`
	Persistent   bool     `yaml:"persistent"`
	Dependencies []string `yaml:"dependencies,omitempty"`
}

type renderedGraph struct {
	Nodes  []renderedNode `yaml:"nodes"`
	Stages [][]string     `yaml:"stages"`
}

// Render writes the graph in the requested format.
func Render(writer io.Writer, graph *taskgraph.Graph, format Format) error {
	switch format {
	case FormatYAML:
		return renderYAML(writer, graph)
	case FormatDOT:
		return renderDOT(writer, graph)
	default:
		return renderText(writer, graph)
	}
}

func renderText(writer io.Writer, graph *taskgraph.Graph) error {
	var builder strings.Builder
	for stageIndex, stage := range graph.Stages() {
		fmt.Fprintf(&builder, textStageTemplate, stageIndex+1)
		for _, node := range stage.Nodes {
			fmt.Fprintf(&builder, textNodeTemplate, node.ID.String())
			if len(node.Dependencies) > 0 {
				fmt.Fprintf(&builder, textDependenciesTemplate, joinNodeIDs(node.Dependencies))
			}
			if node.Definition.Persistent {
				builder.WriteString(textPersistentMarker)
			} else if !node.Definition.Cacheable {
				builder.WriteString(textUncachedMarker)
			}
			builder.WriteString("\n")
		}
	}
	_, writeError := io.WriteString(writer, builder.String())
	return writeError
}

func renderYAML(writer io.Writer, graph *taskgraph.Graph) error {
	document := renderedGraph{Nodes: make([]renderedNode, 0, graph.Len())}
	for _, identifier := range graph.IDs() {
		node, _ := graph.Node(identifier)
		dependencies := make([]string, 0, len(node.Dependencies))
		for _, dependency := range node.Dependencies {
			dependencies = append(dependencies, dependency.String())
		}
		document.Nodes = append(document.Nodes, renderedNode{
			ID:           identifier.String(),
			Package:      identifier.Package,
			Task:         identifier.Task,
			Directory:    node.RelativeRoot,
			Command:      node.Command,
			Cache:        node.Definition.Cacheable,
			Persistent:   node.Definition.Persistent,
			Dependencies: dependencies,
		})
	}
	for _, stage := range graph.Stages() {
		stageNodes := make([]string, 0, len(stage.Nodes))
		for _, node := range stage.Nodes {
			stageNodes = append(stageNodes, node.ID.String())
		}
		document.Stages = append(document.Stages, stageNodes)
	}

	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if encodeError := encoder.Encode(document); encodeError != nil {
		return encodeError
	}
	return encoder.Close()
}

func renderDOT(writer io.Writer, graph *taskgraph.Graph) error {
	var builder strings.Builder
	builder.WriteString(dotHeaderLine)
	for _, identifier := range graph.IDs() {
		dependencies := graph.Dependencies(identifier)
		if len(dependencies) == 0 {
			fmt.Fprintf(&builder, dotNodeTemplate, identifier.String())
			continue
		}
		for _, dependency := range dependencies {
			fmt.Fprintf(&builder, dotEdgeTemplate, identifier.String(), dependency.String())
		}
	}
	builder.WriteString(dotFooterLine)
	_, writeError := io.WriteString(writer, builder.String())
	return writeError
}

func joinNodeIDs(identifiers []taskgraph.NodeID) string {
	rendered := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		rendered = append(rendered, identifier.String())
	}
	return strings.Join(rendered, ", ")
}
