package services

import (
	"testing"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/models"
)

func rel(primaryTable, primaryColumn, foreignTable, foreignColumn, by string) models.Relationship {
	return models.Relationship{
		ID:            models.RelationshipID(primaryTable, primaryColumn, foreignTable, foreignColumn),
		PrimaryTable:  primaryTable,
		PrimaryColumn: primaryColumn,
		ForeignTable:  foreignTable,
		ForeignColumn: foreignColumn,
		By:            by,
	}
}

func TestTableGraph_AddRelationship(t *testing.T) {
	g := NewTableGraph()

	g.AddRelationship(rel("orders", "user_id", "users", "id", ""))

	if g.NodeCount() != 2 {
		t.Fatalf("expected 2 nodes, got %d", g.NodeCount())
	}
	if len(g.edges["orders"]) != 1 || g.edges["orders"]["users"] != models.ByDesign {
		t.Error("expected edge from orders to users with default provenance")
	}
	if len(g.edges["users"]) != 1 || g.edges["users"]["orders"] != models.ByDesign {
		t.Error("expected edge from users to orders")
	}
}

func TestTableGraph_AddTable(t *testing.T) {
	g := NewTableGraph()

	g.AddTable("standalone")
	g.AddTable("standalone")

	if g.NodeCount() != 1 {
		t.Errorf("expected 1 node, got %d", g.NodeCount())
	}
	if len(g.edges["standalone"]) != 0 {
		t.Error("expected no edges for standalone table")
	}
}

func TestBuildTableGraph_NodesForEveryTable(t *testing.T) {
	tables := []models.Table{
		{TableName: "customers"},
		{TableName: "orders", ForeignKeys: []models.Relationship{
			rel("orders", "customer_id", "customers", "id", ""),
		}},
		{TableName: "audit_log"},
	}

	graph := BuildTableGraph(tables).NodeLink()

	if graph.Directed || graph.Multigraph {
		t.Error("expected an undirected simple graph")
	}
	want := []string{"customers", "orders", "audit_log"}
	if len(graph.Nodes) != len(want) {
		t.Fatalf("expected %d nodes, got %d", len(want), len(graph.Nodes))
	}
	for i, id := range want {
		if graph.Nodes[i].ID != id {
			t.Errorf("node %d: expected %s, got %s", i, id, graph.Nodes[i].ID)
		}
	}
	if len(graph.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(graph.Edges))
	}
	e := graph.Edges[0]
	if e.Source != "orders" || e.Target != "customers" || e.By != "design" {
		t.Errorf("unexpected edge %+v", e)
	}
}

func TestBuildTableGraph_DuplicatePairsCollapse(t *testing.T) {
	tables := []models.Table{
		{TableName: "orders", ForeignKeys: []models.Relationship{
			rel("orders", "customer_id", "customers", "id", ""),
			rel("orders", "billing_id", "customers", "id", string(models.SignatureBased)),
		}},
		{TableName: "customers", ForeignKeys: []models.Relationship{
			rel("customers", "id", "orders", "customer_id", string(models.NameBased)),
		}},
	}

	graph := BuildTableGraph(tables).NodeLink()

	if len(graph.Edges) != 1 {
		t.Fatalf("expected duplicate pairs to collapse into 1 edge, got %d", len(graph.Edges))
	}
	if graph.Edges[0].By != string(models.NameBased) {
		t.Errorf("expected last provenance to win, got %s", graph.Edges[0].By)
	}
}

func TestBuildTableGraph_RelationshipToUnlistedTable(t *testing.T) {
	tables := []models.Table{
		{TableName: "orders", ForeignKeys: []models.Relationship{
			rel("orders", "region_id", "regions", "id", ""),
		}},
	}

	g := BuildTableGraph(tables)

	if g.NodeCount() != 2 {
		t.Errorf("expected referenced table to be added as a node, got %d nodes", g.NodeCount())
	}
}

func TestTableGraph_FindConnectedComponents_SingleComponent(t *testing.T) {
	g := NewTableGraph()

	// Chain: users <- orders <- order_items
	g.AddRelationship(rel("orders", "user_id", "users", "id", ""))
	g.AddRelationship(rel("order_items", "order_id", "orders", "id", ""))

	components, islands := g.FindConnectedComponents()

	if len(components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(components))
	}
	if components[0].Size != 3 {
		t.Errorf("expected component size 3, got %d", components[0].Size)
	}
	if len(islands) != 0 {
		t.Errorf("expected 0 islands, got %d", len(islands))
	}
}

func TestTableGraph_FindConnectedComponents_MultipleComponents(t *testing.T) {
	g := NewTableGraph()

	// Component 1: users, orders, order_items
	g.AddRelationship(rel("orders", "user_id", "users", "id", ""))
	g.AddRelationship(rel("order_items", "order_id", "orders", "id", ""))
	// Component 2: products, categories
	g.AddRelationship(rel("products", "category_id", "categories", "id", ""))
	// Islands
	g.AddTable("settings")
	g.AddTable("logs")

	components, islands := g.FindConnectedComponents()

	if len(components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(components))
	}
	if components[0].Size != 3 || components[1].Size != 2 {
		t.Errorf("expected components sorted by size (3, 2), got (%d, %d)",
			components[0].Size, components[1].Size)
	}
	if len(islands) != 2 || islands[0] != "settings" || islands[1] != "logs" {
		t.Errorf("expected islands [settings logs], got %v", islands)
	}
}

func TestTableGraph_SelfReferenceIsIsland(t *testing.T) {
	g := NewTableGraph()
	g.AddRelationship(rel("employees", "manager_id", "employees", "id", ""))

	components, islands := g.FindConnectedComponents()

	if len(components) != 0 {
		t.Errorf("expected no multi-table components, got %d", len(components))
	}
	if len(islands) != 1 {
		t.Errorf("expected 1 island, got %d", len(islands))
	}
	if g.EdgeCount() != 1 {
		t.Errorf("expected self edge to be kept, got %d edges", g.EdgeCount())
	}
}

func TestLogConnectivity(t *testing.T) {
	components := []ConnectedComponent{
		{Tables: []string{"a", "b", "c", "d", "e", "f"}, Size: 6},
	}
	// Must not panic with long lists
	LogConnectivity(5, components, []string{"x", "y", "z", "u", "v", "w"}, zap.NewNop())
}
