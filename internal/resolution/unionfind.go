package resolution

import (
	"github.com/amaumene/mediasync/internal/diff"
	"github.com/amaumene/mediasync/internal/models"
)

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
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
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

// groupByIdentity partitions item indices into groups of items denoting the same title,
// linked by a shared identifier or by resolving to the same cache record. Groups are
// ordered by their first member and members keep input order.
func groupByIdentity[T models.Identifiable](items []T, idx diff.IDIndex) [][]int {
	uf := newUnionFind(len(items))
	byKey := make(map[string]int)
	byRecord := make(map[*models.MediaIDs]int)

	for i, item := range items {
		ids := diff.EffectiveIDs(item)
		for _, key := range ids.Keys() {
			if first, ok := byKey[key]; ok {
				uf.union(first, i)
			} else {
				byKey[key] = i
			}
		}

		if idx == nil || ids.IsEmpty() {
			continue
		}
		if rec := idx.FindByIDs(ids); rec != nil {
			if first, ok := byRecord[rec]; ok {
				uf.union(first, i)
			} else {
				byRecord[rec] = i
			}
		}
	}

	groupOf := make(map[int]int)
	var groups [][]int
	for i := range items {
		root := uf.find(i)
		g, ok := groupOf[root]
		if !ok {
			g = len(groups)
			groupOf[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}
