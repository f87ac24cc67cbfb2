// Package graph builds the interference graph between managed interfaces.
package graph

import (
	"net"
	"strings"

	"github.com/markus-lassfolk/specman/pkg"
)

// VisibilityPair records that the interface with MAC saw a beacon from BSSID
type VisibilityPair struct {
	MAC   string `json:"mac"`
	BSSID string `json:"bssid"`
}

// Graph maps a node index to its neighbors, in the order edges were added
type Graph map[int][]int

// Build creates a symmetric, deduplicated graph. Observers or BSSIDs that are
// not managed nodes are dropped, as are self observations.
func Build(nodes []pkg.Node, pairs []VisibilityPair) Graph {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[NormalizeMAC(n.MAC)] = i
	}

	g := make(Graph)
	for _, p := range pairs {
		x, ok := index[NormalizeMAC(p.MAC)]
		if !ok {
			continue
		}
		y, ok := index[NormalizeMAC(p.BSSID)]
		if !ok {
			continue
		}
		g.AddEdge(x, y)
	}
	return g
}

// AddEdge inserts an undirected edge; duplicates and self loops are ignored
func (g Graph) AddEdge(a, b int) {
	if a == b {
		return
	}
	if !g.HasEdge(a, b) {
		g[a] = append(g[a], b)
	}
	if !g.HasEdge(b, a) {
		g[b] = append(g[b], a)
	}
}

// HasEdge reports whether b is listed as a neighbor of a
func (g Graph) HasEdge(a, b int) bool {
	for _, n := range g[a] {
		if n == b {
			return true
		}
	}
	return false
}

// Neighbors returns the neighbors of node i (nil when isolated)
func (g Graph) Neighbors(i int) []int {
	return g[i]
}

// EdgeCount returns the number of undirected edges
func (g Graph) EdgeCount() int {
	total := 0
	for _, ns := range g {
		total += len(ns)
	}
	return total / 2
}

// NormalizeMAC canonicalizes a hardware address for comparison
func NormalizeMAC(mac string) string {
	mac = strings.TrimSpace(mac)
	if hw, err := net.ParseMAC(mac); err == nil {
		return hw.String()
	}
	return strings.ToLower(mac)
}
