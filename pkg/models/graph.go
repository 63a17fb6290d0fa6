package models

// Graph is the node-link serialization of the undirected relationship graph.
type Graph struct {
	Directed   bool           `json:"directed" bson:"directed"`
	Multigraph bool           `json:"multigraph" bson:"multigraph"`
	Graph      map[string]any `json:"graph" bson:"graph"`
	Nodes      []GraphNode    `json:"nodes" bson:"nodes"`
	Edges      []GraphEdge    `json:"edges" bson:"edges"`
}

// GraphNode is one table.
type GraphNode struct {
	ID string `json:"id" bson:"id"`
}

// GraphEdge connects two tables; By is the provenance of the last
// relationship seen for the pair.
type GraphEdge struct {
	Source string `json:"source" bson:"source"`
	Target string `json:"target" bson:"target"`
	By     string `json:"by" bson:"by"`
}
