package native

import (
	"errors"
	"sort"
)

// tree is a CART classifier using gini impurity and numeric thresholds
// (x <= threshold goes left).
type tree struct {
	maxDepth int
	classes  []int // sorted ascending; leaf distributions align with it
	root     *node
}

type node struct {
	leaf      bool
	feature   int
	threshold float64
	left      *node
	right     *node
	probs     []float64
}

func fitTree(X [][]float64, y []int, maxDepth int) (*tree, error) {
	if len(X) == 0 {
		return nil, errors.New("tree: no training rows")
	}
	if len(X) != len(y) {
		return nil, errors.New("tree: X and y length mismatch")
	}
	width := len(X[0])
	for _, row := range X {
		if len(row) != width {
			return nil, errors.New("tree: inconsistent row width")
		}
	}

	seen := map[int]bool{}
	t := &tree{maxDepth: maxDepth}
	for _, label := range y {
		if !seen[label] {
			seen[label] = true
			t.classes = append(t.classes, label)
		}
	}
	sort.Ints(t.classes)
	classIdx := make(map[int]int, len(t.classes))
	for i, c := range t.classes {
		classIdx[c] = i
	}
	yi := make([]int, len(y))
	for i, label := range y {
		yi[i] = classIdx[label]
	}

	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.root = t.build(X, yi, idx, 0, width)
	return t, nil
}

func (t *tree) build(X [][]float64, y []int, idx []int, depth, width int) *node {
	counts := make([]int, len(t.classes))
	for _, i := range idx {
		counts[y[i]]++
	}

	if len(idx) < 2 || isPure(counts) || (t.maxDepth > 0 && depth >= t.maxDepth) {
		return t.leaf(counts, len(idx))
	}

	parent := gini(counts, len(idx))
	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	sorted := make([]int, len(idx))
	left := make([]int, len(t.classes))
	for f := 0; f < width; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return X[sorted[a]][f] < X[sorted[b]][f] })

		for i := range left {
			left[i] = 0
		}
		for pos := 0; pos < len(sorted)-1; pos++ {
			left[y[sorted[pos]]]++
			cur, next := X[sorted[pos]][f], X[sorted[pos+1]][f]
			if cur == next {
				continue
			}
			nl := pos + 1
			nr := len(sorted) - nl
			right := make([]int, len(counts))
			for c := range counts {
				right[c] = counts[c] - left[c]
			}
			weighted := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(len(sorted))
			if gain := parent - weighted; gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}

	if bestFeature < 0 {
		return t.leaf(counts, len(idx))
	}

	var li, ri []int
	for _, i := range idx {
		if X[i][bestFeature] <= bestThreshold {
			li = append(li, i)
		} else {
			ri = append(ri, i)
		}
	}
	return &node{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      t.build(X, y, li, depth+1, width),
		right:     t.build(X, y, ri, depth+1, width),
	}
}

func (t *tree) leaf(counts []int, n int) *node {
	probs := make([]float64, len(counts))
	for i, c := range counts {
		probs[i] = float64(c) / float64(n)
	}
	return &node{leaf: true, probs: probs}
}

// predict returns the majority class of the reached leaf and its
// probability.
func (t *tree) predict(x []float64) (int, float64) {
	n := t.root
	for !n.leaf {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	best := 0
	for i := 1; i < len(n.probs); i++ {
		if n.probs[i] > n.probs[best] {
			best = i
		}
	}
	return t.classes[best], n.probs[best]
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}
