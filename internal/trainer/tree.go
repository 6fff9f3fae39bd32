package trainer

import (
	"container/heap"
	"slices"
)

// Options controls tree growth
type Options struct {
	// MaxLeafNodes grows the tree best-first until it has this many leaves; zero means
	// unlimited
	MaxLeafNodes int `json:"max_leaf_nodes,omitempty"`
}

// Node is either a split on Feature <= Threshold or, when Left is nil, a leaf
type Node struct {
	Class     string  `json:"class"`
	Samples   int     `json:"samples"`
	Impurity  float64 `json:"impurity"`
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      *Node   `json:"left,omitempty"`
	Right     *Node   `json:"right,omitempty"`
}

// Tree is a fitted CART classifier using gini impurity
type Tree struct {
	Algorithm   string   `json:"algorithm"`
	Criterion   string   `json:"criterion"`
	Options     Options  `json:"options"`
	Classes     []string `json:"classes"`
	NumFeatures int      `json:"num_features"`
	Leaves      int      `json:"leaves"`
	Root        *Node    `json:"root"`
}

// Predict returns the class of the leaf row falls into
func (t *Tree) Predict(row []float64) string {
	node := t.Root
	for node.Left != nil {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Class
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

type candidate struct {
	node  *Node
	split split
	seq   int
}

type frontier []*candidate

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].split.gain != f[j].split.gain {
		return f[i].split.gain > f[j].split.gain
	}
	return f[i].seq < f[j].seq
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(*candidate)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// Fit grows a tree over the rows of ds selected by indices. Nodes are expanded in order
// of weighted impurity decrease, so a leaf limit keeps the most useful splits.
func Fit(ds *Dataset, indices []int, opts Options) *Tree {
	tree := &Tree{
		Algorithm:   "cart",
		Criterion:   "gini",
		Options:     opts,
		Classes:     ds.Classes,
		NumFeatures: ds.NumFeatures(),
		Leaves:      1,
		Root:        newNode(ds, indices),
	}

	var seq int
	queue := &frontier{}
	push := func(node *Node, indices []int) {
		if s, ok := bestSplit(ds, indices, node.Impurity); ok {
			seq++
			heap.Push(queue, &candidate{node: node, split: s, seq: seq})
		}
	}
	push(tree.Root, indices)

	for queue.Len() > 0 {
		if opts.MaxLeafNodes > 0 && tree.Leaves >= opts.MaxLeafNodes {
			break
		}

		c := heap.Pop(queue).(*candidate)
		c.node.Feature = c.split.feature
		c.node.Threshold = c.split.threshold
		c.node.Left = newNode(ds, c.split.left)
		c.node.Right = newNode(ds, c.split.right)
		tree.Leaves++

		push(c.node.Left, c.split.left)
		push(c.node.Right, c.split.right)
	}

	return tree
}

func newNode(ds *Dataset, indices []int) *Node {
	counts := make([]int, len(ds.Classes))
	for _, i := range indices {
		counts[ds.Labels[i]]++
	}

	majority := 0
	for class, n := range counts {
		if n > counts[majority] {
			majority = class
		}
	}

	return &Node{
		Class:    ds.Classes[majority],
		Samples:  len(indices),
		Impurity: gini(counts, len(indices)),
	}
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum += p * p
	}
	return 1 - sum
}

// bestSplit scans every midpoint between distinct consecutive feature values. The gain
// is weighted by node size so candidates from different nodes compare directly.
func bestSplit(ds *Dataset, indices []int, impurity float64) (split, bool) {
	if impurity == 0 || len(indices) < 2 {
		return split{}, false
	}

	var (
		best  split
		found bool
		n     = len(indices)
	)

	sorted := make([]int, n)
	for feature := 0; feature < ds.NumFeatures(); feature++ {
		copy(sorted, indices)
		slices.SortStableFunc(sorted, func(a, b int) int {
			va, vb := ds.Features[a][feature], ds.Features[b][feature]
			switch {
			case va < vb:
				return -1
			case va > vb:
				return 1
			default:
				return 0
			}
		})

		left := make([]int, len(ds.Classes))
		right := make([]int, len(ds.Classes))
		for _, i := range sorted {
			right[ds.Labels[i]]++
		}

		for pos := 0; pos < n-1; pos++ {
			label := ds.Labels[sorted[pos]]
			left[label]++
			right[label]--

			current, next := ds.Features[sorted[pos]][feature], ds.Features[sorted[pos+1]][feature]
			if current == next {
				continue
			}

			nl, nr := pos+1, n-pos-1
			children := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
			gain := float64(n) * (impurity - children)
			if found && gain <= best.gain {
				continue
			}

			found = true
			best = split{
				feature:   feature,
				threshold: current + (next-current)/2,
				gain:      gain,
				left:      slices.Clone(sorted[:nl]),
				right:     slices.Clone(sorted[nl:]),
			}
		}
	}

	return best, found
}
