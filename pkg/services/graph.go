package services

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/models"
)

// TableGraph is the undirected graph of tables connected by relationships.
// Nodes keep insertion order so the serialized form is stable.
type TableGraph struct {
	nodes []string
	known map[string]bool
	// Adjacency: table -> neighbour -> provenance of the last relationship seen
	edges map[string]map[string]string
	// Edge insertion order, each pair recorded once
	order []edgeKey
}

type edgeKey struct {
	source, target string
}

// NewTableGraph creates a new empty table graph.
func NewTableGraph() *TableGraph {
	return &TableGraph{
		known: make(map[string]bool),
		edges: make(map[string]map[string]string),
	}
}

// BuildTableGraph adds one node per table, then one edge per relationship
// in any table's foreign keys. Repeated pairs collapse into one edge whose
// provenance is the last one seen.
func BuildTableGraph(tables []models.Table) *TableGraph {
	g := NewTableGraph()
	for _, t := range tables {
		g.AddTable(t.TableName)
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			g.AddRelationship(fk)
		}
	}
	return g
}

// AddTable adds a table to the graph without any edges.
func (g *TableGraph) AddTable(name string) {
	if g.known[name] {
		return
	}
	g.known[name] = true
	g.nodes = append(g.nodes, name)
}

// AddRelationship adds an undirected edge between the relationship's
// tables, adding either table if it is not yet a node.
func (g *TableGraph) AddRelationship(rel models.Relationship) {
	a, b := rel.PrimaryTable, rel.ForeignTable
	g.AddTable(a)
	g.AddTable(b)

	if _, exists := g.edges[a][b]; !exists {
		g.order = append(g.order, edgeKey{source: a, target: b})
	}
	g.setEdge(a, b, rel.Provenance())
	g.setEdge(b, a, rel.Provenance())
}

func (g *TableGraph) setEdge(from, to, by string) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]string)
	}
	g.edges[from][to] = by
}

// NodeCount returns the number of tables.
func (g *TableGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct table pairs.
func (g *TableGraph) EdgeCount() int {
	return len(g.order)
}

// NodeLink renders the graph in node-link form.
func (g *TableGraph) NodeLink() *models.Graph {
	out := &models.Graph{
		Directed:   false,
		Multigraph: false,
		Graph:      map[string]any{},
		Nodes:      make([]models.GraphNode, 0, len(g.nodes)),
		Edges:      make([]models.GraphEdge, 0, len(g.order)),
	}
	for _, n := range g.nodes {
		out.Nodes = append(out.Nodes, models.GraphNode{ID: n})
	}
	for _, e := range g.order {
		out.Edges = append(out.Edges, models.GraphEdge{
			Source: e.source,
			Target: e.target,
			By:     g.edges[e.source][e.target],
		})
	}
	return out
}

// ConnectedComponent represents a group of tables connected by relationships.
type ConnectedComponent struct {
	Tables []string
	Size   int
}

// FindConnectedComponents identifies all connected components in the graph
// using DFS. Returns the components with more than one table, largest first,
// and the island tables that have no relationship to another table.
func (g *TableGraph) FindConnectedComponents() ([]ConnectedComponent, []string) {
	visited := make(map[string]bool)
	var components []ConnectedComponent

	for _, table := range g.nodes {
		if !visited[table] {
			component := g.dfs(table, visited)
			components = append(components, ConnectedComponent{
				Tables: component,
				Size:   len(component),
			})
		}
	}

	var nonIslands []ConnectedComponent
	var islands []string

	for _, comp := range components {
		if comp.Size == 1 {
			islands = append(islands, comp.Tables[0])
		} else {
			nonIslands = append(nonIslands, comp)
		}
	}

	sort.SliceStable(nonIslands, func(i, j int) bool {
		return nonIslands[i].Size > nonIslands[j].Size
	})

	return nonIslands, islands
}

// dfs performs depth-first search starting from a table.
// Returns all tables in the connected component.
func (g *TableGraph) dfs(start string, visited map[string]bool) []string {
	var component []string
	stack := []string{start}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}

		visited[current] = true
		component = append(component, current)

		for _, neighbor := range g.neighbors(current) {
			if !visited[neighbor] {
				stack = append(stack, neighbor)
			}
		}
	}

	return component
}

func (g *TableGraph) neighbors(table string) []string {
	out := make([]string, 0, len(g.edges[table]))
	for n := range g.edges[table] {
		if n != table {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// LogConnectivity logs the connectivity analysis results in a human-readable format.
func LogConnectivity(
	relationshipCount int,
	components []ConnectedComponent,
	islands []string,
	logger *zap.Logger,
) {
	logger.Info("Graph connectivity analysis:")
	logger.Info(fmt.Sprintf("  Relationships: %d", relationshipCount))

	for i, comp := range components {
		// Show first 5 tables, then "..."
		preview := comp.Tables
		suffix := ""
		if len(preview) > 5 {
			preview = preview[:5]
			suffix = fmt.Sprintf(", ... (%d more)", len(comp.Tables)-5)
		}

		logger.Info(fmt.Sprintf("  Component %d (%d tables): %v%s",
			i+1, comp.Size, preview, suffix))
	}

	if len(islands) > 0 {
		preview := islands
		suffix := ""
		if len(islands) > 5 {
			preview = islands[:5]
			suffix = fmt.Sprintf(", ... (%d more)", len(islands)-5)
		}

		logger.Info(fmt.Sprintf("  Island tables (%d): %v%s", len(islands), preview, suffix))
	}

	logger.Info(fmt.Sprintf("Summary: %d connected components, %d island tables",
		len(components), len(islands)))
}
