package sim

import (
	"fmt"
	"math"
	"sort"
)

// Position is a 2D coordinate on the factory floor, in meters.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Dist returns the Euclidean distance between two positions.
func (p Position) Dist(q Position) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Layout is the static path-point graph AGVs travel on. Edge weights are
// the Euclidean distances between the endpoint positions. The Layout is
// immutable after construction.
type Layout struct {
	points map[string]Position
	adj    map[string][]string
}

// NewLayout builds a Layout from named points and undirected edges.
// Both endpoints of every edge must be defined points.
func NewLayout(points map[string]Position, edges [][2]string) (*Layout, error) {
	l := &Layout{
		points: make(map[string]Position, len(points)),
		adj:    make(map[string][]string, len(points)),
	}
	for name, pos := range points {
		l.points[name] = pos
	}
	for _, e := range edges {
		a, b := e[0], e[1]
		if _, ok := l.points[a]; !ok {
			return nil, fmt.Errorf("layout: edge references undefined point %q", a)
		}
		if _, ok := l.points[b]; !ok {
			return nil, fmt.Errorf("layout: edge references undefined point %q", b)
		}
		l.adj[a] = append(l.adj[a], b)
		l.adj[b] = append(l.adj[b], a)
	}
	// Sorted adjacency keeps route choice deterministic across runs.
	for name := range l.adj {
		sort.Strings(l.adj[name])
	}
	return l, nil
}

// HasPoint reports whether the named point exists.
func (l *Layout) HasPoint(name string) bool {
	_, ok := l.points[name]
	return ok
}

// PointPosition returns the coordinates of a named point.
func (l *Layout) PointPosition(name string) (Position, bool) {
	p, ok := l.points[name]
	return p, ok
}

// Route returns the shortest path from one point to another as the ordered
// list of points including both endpoints, and its total length in meters.
// Returns ok=false when no path exists. Dijkstra with lexicographic
// tie-breaking so equal-length routes resolve identically on every run.
func (l *Layout) Route(from, to string) (route []string, distance float64, ok bool) {
	if !l.HasPoint(from) || !l.HasPoint(to) {
		return nil, 0, false
	}
	if from == to {
		return []string{from}, 0, true
	}

	dist := map[string]float64{from: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	for {
		// Pick the unvisited point with the smallest distance; ties break
		// on point name to stay deterministic.
		cur := ""
		best := math.Inf(1)
		for name, d := range dist {
			if visited[name] {
				continue
			}
			if d < best || (d == best && (cur == "" || name < cur)) {
				cur, best = name, d
			}
		}
		if cur == "" {
			return nil, 0, false
		}
		if cur == to {
			break
		}
		visited[cur] = true
		curPos := l.points[cur]
		for _, next := range l.adj[cur] {
			if visited[next] {
				continue
			}
			alt := best + curPos.Dist(l.points[next])
			if d, seen := dist[next]; !seen || alt < d || (alt == d && cur < prev[next]) {
				dist[next] = alt
				prev[next] = cur
			}
		}
	}

	for at := to; at != from; at = prev[at] {
		route = append(route, at)
	}
	route = append(route, from)
	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return route, dist[to], true
}

// Distance returns the shortest path length between two points, or ok=false
// when no path exists.
func (l *Layout) Distance(from, to string) (float64, bool) {
	_, d, ok := l.Route(from, to)
	return d, ok
}
