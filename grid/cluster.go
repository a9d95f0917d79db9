package grid

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// unionFind is a disjoint-set over indices with path halving
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}

// groupByDistance links every pair of points within eps of each other and
// returns the connected groups. Groups are ordered by the first index that
// reaches each root, members in input order.
func groupByDistance(points []orb.Point, eps float64) [][]int {
	n := len(points)
	if n == 0 {
		return nil
	}

	uf := newUnionFind(n)
	eps2 := eps * eps
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if planar.DistanceSquared(points[i], points[j]) <= eps2 {
				uf.union(i, j)
			}
		}
	}

	slot := make(map[int]int)
	var groups [][]int
	for i := range points {
		root := uf.find(i)
		g, ok := slot[root]
		if !ok {
			g = len(groups)
			slot[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// ClusterDetections groups detections whose centers are transitively within
// eps of each other. Cluster ids are dense and follow discovery order.
func ClusterDetections(dets []Detection, eps float64) []Cluster {
	centers := make([]orb.Point, len(dets))
	for i, d := range dets {
		centers[i] = d.Center
	}

	groups := groupByDistance(centers, eps)
	clusters := make([]Cluster, 0, len(groups))
	for id, members := range groups {
		c := Cluster{ID: id, Row: -1, Col: -1, Members: members}
		c.Bound = dets[members[0]].Box.Bound()
		for _, m := range members {
			c.Points = append(c.Points, dets[m].Center)
			c.Bound = c.Bound.Union(dets[m].Box.Bound())
		}
		c.Centroid = centroid(c.Points)
		clusters = append(clusters, c)
	}
	return clusters
}

// MergeClusters runs a second grouping pass over cluster centroids at eps and
// folds linked clusters together. Member lists are concatenated in cluster
// order and ids are reassigned densely.
func MergeClusters(clusters []Cluster, eps float64) []Cluster {
	centroids := make([]orb.Point, len(clusters))
	for i, c := range clusters {
		centroids[i] = c.Centroid
	}

	groups := groupByDistance(centroids, eps)
	merged := make([]Cluster, 0, len(groups))
	for id, members := range groups {
		c := Cluster{ID: id, Row: -1, Col: -1, Bound: clusters[members[0]].Bound}
		for _, m := range members {
			src := clusters[m]
			c.Members = append(c.Members, src.Members...)
			c.Points = append(c.Points, src.Points...)
			c.Bound = c.Bound.Union(src.Bound)
		}
		c.Centroid = centroid(c.Points)
		merged = append(merged, c)
	}
	return merged
}

// BuildClusters runs the first pass at eps and, when eps2 is positive, the
// centroid merge pass at eps2.
func BuildClusters(dets []Detection, eps, eps2 float64) []Cluster {
	clusters := ClusterDetections(dets, eps)
	if eps2 > 0 && len(clusters) > 1 {
		clusters = MergeClusters(clusters, eps2)
	}
	return clusters
}

func centroid(points []orb.Point) orb.Point {
	if len(points) == 0 {
		return orb.Point{}
	}
	var sx, sy float64
	for _, p := range points {
		sx += p[0]
		sy += p[1]
	}
	n := float64(len(points))
	return orb.Point{sx / n, sy / n}
}
