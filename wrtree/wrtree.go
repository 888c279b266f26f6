// Package wrtree implements the weight-ranked AVL tree of spec §4.2:
// nodes are ordered by a caller-supplied comparator, each node carries its
// own weight plus the weight of its subtree, and the tree supports
// weighted-quantile lookups via FindByWeightFraction.
//
// Grounded on _examples/original_source/src/ranking.cpp's use of
// wre_avl_tree.h (the original memkind/memtier library's weighted-AVL
// structure) for the operation semantics, and on the teacher's arena/handle
// idiom — QuantumQueue's idx32/nilIdx freelist-of-indices pool,
// aggregator's fixed arenas — for the storage layout: nodes live in a dense
// []node slice addressed by int32 handles rather than pointer-chasing
// *node values, matching Design Notes §9's suggested resolution for the
// region↔group↔ranking-node cyclic references (a ranking node never holds a
// pointer back into TypeRegistry; it holds a caller-defined Payload value
// by index-free copy).
//
// The same engine backs both Ranking's (quantifiedHotness → aggregatedSize)
// buckets (weight = aggregated size) and TypeRegistry's address → region
// predecessor index (weight fixed at 1 per node, using only Floor).
package wrtree

import "math/bits"

const nilIdx = int32(-1)

// Comparator orders two keys, returning <0, 0, or >0 the way bytes.Compare
// does. Ties (cmp == 0) are treated as the same key by Put/Remove/Floor.
type Comparator[K any] func(a, b K) int

type node[K any, V any] struct {
	key   K
	val   V
	own   uint64 // own_weight
	sub   uint64 // subtree_weight = own + sub(left) + sub(right)
	ht    int32  // AVL height
	left  int32
	right int32
	// parent is not tracked; all operations are implemented recursively
	// with handle rewiring on the way back up, matching classic AVL
	// textbook recursion rather than the teacher's explicit parent-pointer
	// rotation style (no long-lived parent pointers survive a rotation,
	// so there is nothing to keep in sync).
}

// Tree is a weight-ranked self-balancing BST over arena-allocated nodes.
type Tree[K any, V any] struct {
	cmp      Comparator[K]
	nodes    []node[K, V]
	free     []int32 // recycled node indices
	root     int32
	size     int
	totalPin uint64 // not maintained; TotalWeight reads the root node's subtree weight
}

// New creates an empty tree ordered by cmp.
func New[K any, V any](cmp Comparator[K]) *Tree[K, V] {
	return &Tree[K, V]{cmp: cmp, root: nilIdx}
}

// Len returns the number of distinct keys stored.
func (t *Tree[K, V]) Len() int { return t.size }

// TotalWeight returns the sum of own_weight over every node.
func (t *Tree[K, V]) TotalWeight() uint64 {
	if t.root == nilIdx {
		return 0
	}
	return t.nodes[t.root].sub
}

func (t *Tree[K, V]) alloc(key K, val V, weight uint64) int32 {
	var idx int32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.nodes = append(t.nodes, node[K, V]{})
		idx = int32(len(t.nodes) - 1)
	}
	t.nodes[idx] = node[K, V]{key: key, val: val, own: weight, sub: weight, ht: 1, left: nilIdx, right: nilIdx}
	return idx
}

func (t *Tree[K, V]) height(i int32) int32 {
	if i == nilIdx {
		return 0
	}
	return t.nodes[i].ht
}

func (t *Tree[K, V]) weight(i int32) uint64 {
	if i == nilIdx {
		return 0
	}
	return t.nodes[i].sub
}

// recompute refreshes ht and sub for node i from its children. Constant
// time, called once per touched node on the way back up from an
// insert/remove/rotation, as spec §4.2 requires.
func (t *Tree[K, V]) recompute(i int32) {
	n := &t.nodes[i]
	lh, rh := t.height(n.left), t.height(n.right)
	if lh > rh {
		n.ht = lh + 1
	} else {
		n.ht = rh + 1
	}
	n.sub = n.own + t.weight(n.left) + t.weight(n.right)
}

func (t *Tree[K, V]) balanceFactor(i int32) int32 {
	n := &t.nodes[i]
	return t.height(n.left) - t.height(n.right)
}

// rotateLeft rotates i's right child up. Returns the new subtree root.
func (t *Tree[K, V]) rotateLeft(i int32) int32 {
	r := t.nodes[i].right
	t.nodes[i].right = t.nodes[r].left
	t.nodes[r].left = i
	t.recompute(i)
	t.recompute(r)
	return r
}

// rotateRight rotates i's left child up. Returns the new subtree root.
func (t *Tree[K, V]) rotateRight(i int32) int32 {
	l := t.nodes[i].left
	t.nodes[i].left = t.nodes[l].right
	t.nodes[l].right = i
	t.recompute(i)
	t.recompute(l)
	return l
}

// rebalance restores the AVL invariant at i after a mutation below it,
// returning the (possibly new) subtree root.
func (t *Tree[K, V]) rebalance(i int32) int32 {
	t.recompute(i)
	bf := t.balanceFactor(i)
	switch {
	case bf > 1:
		if t.balanceFactor(t.nodes[i].left) < 0 {
			t.nodes[i].left = t.rotateLeft(t.nodes[i].left)
		}
		return t.rotateRight(i)
	case bf < -1:
		if t.balanceFactor(t.nodes[i].right) > 0 {
			t.nodes[i].right = t.rotateRight(t.nodes[i].right)
		}
		return t.rotateLeft(i)
	default:
		return i
	}
}

// Put inserts key with the given weight and payload. If a node with an
// equal key already exists, its payload is replaced and weight is added to
// own_weight (Ranking relies on this additive behavior for aggregation —
// spec §4.2).
func (t *Tree[K, V]) Put(key K, val V, weight uint64) {
	t.root = t.put(t.root, key, val, weight)
}

func (t *Tree[K, V]) put(i int32, key K, val V, weight uint64) int32 {
	if i == nilIdx {
		t.size++
		return t.alloc(key, val, weight)
	}
	n := &t.nodes[i]
	switch c := t.cmp(key, n.key); {
	case c < 0:
		// The recursive call may grow t.nodes, so write the child link
		// through the index rather than the (possibly stale) pointer n.
		left := t.put(n.left, key, val, weight)
		t.nodes[i].left = left
	case c > 0:
		right := t.put(n.right, key, val, weight)
		t.nodes[i].right = right
	default:
		n.val = val
		n.own += weight
		t.recompute(i)
		return i
	}
	return t.rebalance(i)
}

// Remove deletes the node equal to key, returning its payload and true, or
// the zero value and false if no such key exists.
func (t *Tree[K, V]) Remove(key K) (V, bool) {
	var out V
	var found bool
	t.root, out, found = t.remove(t.root, key)
	return out, found
}

func (t *Tree[K, V]) remove(i int32, key K) (int32, V, bool) {
	if i == nilIdx {
		var zero V
		return nilIdx, zero, false
	}
	n := &t.nodes[i]
	c := t.cmp(key, n.key)
	switch {
	case c < 0:
		var newLeft int32
		var out V
		var found bool
		newLeft, out, found = t.remove(n.left, key)
		n.left = newLeft
		if !found {
			return i, out, false
		}
		return t.rebalance(i), out, true
	case c > 0:
		var newRight int32
		var out V
		var found bool
		newRight, out, found = t.remove(n.right, key)
		n.right = newRight
		if !found {
			return i, out, false
		}
		return t.rebalance(i), out, true
	default:
		out := n.val
		t.size--
		switch {
		case n.left == nilIdx:
			right := n.right
			t.release(i)
			return right, out, true
		case n.right == nilIdx:
			left := n.left
			t.release(i)
			return left, out, true
		default:
			// Replace with the in-order successor (leftmost of right
			// subtree), preserving this node's own_weight/key slot by
			// splicing the successor's data in and deleting the
			// successor's original node instead.
			succIdx := t.min(n.right)
			succ := t.nodes[succIdx]
			n.key = succ.key
			n.val = succ.val
			n.own = succ.own
			var newRight int32
			newRight, _, _ = t.remove(n.right, succ.key)
			t.size++ // the successor's removal decremented size a second time
			n.right = newRight
			return t.rebalance(i), out, true
		}
	}
}

func (t *Tree[K, V]) min(i int32) int32 {
	for t.nodes[i].left != nilIdx {
		i = t.nodes[i].left
	}
	return i
}

func (t *Tree[K, V]) release(i int32) {
	t.free = append(t.free, i)
}

// Get returns the payload stored at key, if present.
func (t *Tree[K, V]) Get(key K) (V, bool) {
	i := t.root
	for i != nilIdx {
		n := &t.nodes[i]
		switch c := t.cmp(key, n.key); {
		case c < 0:
			i = n.left
		case c > 0:
			i = n.right
		default:
			return n.val, true
		}
	}
	var zero V
	return zero, false
}

// FindByWeightFraction returns the payload of the node N such that the
// cumulative subtree weight of every node strictly greater than N is ≤
// r·TotalWeight(), and adding N's own_weight crosses that boundary — i.e.
// r measures weight from the greatest key downward (spec §4.2). r is
// clamped to [0,1]. Returns false on an empty tree.
//
// r == 0 returns the greatest key (its cumulative weight-from-above is
// zero); r == 1 returns the smallest key (spec §4.2 tie-breaking).
func (t *Tree[K, V]) FindByWeightFraction(r float64) (K, V, bool) {
	var zeroK K
	var zeroV V
	if t.root == nilIdx {
		return zeroK, zeroV, false
	}
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	total := t.weight(t.root)
	if total == 0 {
		return zeroK, zeroV, false
	}
	target := r * float64(total)

	i := t.root
	var suffix uint64 // cumulative weight strictly right of the current search path
	for {
		n := &t.nodes[i]
		rightWeight := t.weight(n.right)
		cum := suffix + rightWeight // weight strictly greater than n
		if float64(cum) > target {
			// boundary lies inside the right subtree
			i = n.right
			continue
		}
		if float64(cum)+float64(n.own) >= target {
			return n.key, n.val, true
		}
		// boundary lies inside the left subtree
		suffix = cum + n.own
		i = n.left
	}
}

// Floor returns the payload of the greatest key ≤ key, or false if no such
// key exists. Used by TypeRegistry's address→region predecessor index.
func (t *Tree[K, V]) Floor(key K) (K, V, bool) {
	i := t.root
	var bestIdx int32 = nilIdx
	for i != nilIdx {
		n := &t.nodes[i]
		switch c := t.cmp(key, n.key); {
		case c < 0:
			i = n.left
		case c > 0:
			bestIdx = i
			i = n.right
		default:
			return n.key, n.val, true
		}
	}
	if bestIdx == nilIdx {
		var zeroK K
		var zeroV V
		return zeroK, zeroV, false
	}
	n := &t.nodes[bestIdx]
	return n.key, n.val, true
}

// Max returns the payload of the greatest key in the tree.
func (t *Tree[K, V]) Max() (K, V, bool) {
	var zeroK K
	var zeroV V
	if t.root == nilIdx {
		return zeroK, zeroV, false
	}
	i := t.root
	for t.nodes[i].right != nilIdx {
		i = t.nodes[i].right
	}
	return t.nodes[i].key, t.nodes[i].val, true
}

// Min returns the payload of the smallest key in the tree.
func (t *Tree[K, V]) Min() (K, V, bool) {
	var zeroK K
	var zeroV V
	if t.root == nilIdx {
		return zeroK, zeroV, false
	}
	i := t.min(t.root)
	return t.nodes[i].key, t.nodes[i].val, true
}

// CheckInvariants walks the whole tree verifying the AVL height bound and
// the subtree-weight bookkeeping, returning a descriptive error on the
// first violation. Exercised by tests (spec §8); not called on any
// production path.
func (t *Tree[K, V]) CheckInvariants() error {
	_, _, err := t.checkInvariants(t.root)
	return err
}

func (t *Tree[K, V]) checkInvariants(i int32) (height int32, weight uint64, err error) {
	if i == nilIdx {
		return 0, 0, nil
	}
	n := &t.nodes[i]
	lh, lw, err := t.checkInvariants(n.left)
	if err != nil {
		return 0, 0, err
	}
	rh, rw, err := t.checkInvariants(n.right)
	if err != nil {
		return 0, 0, err
	}
	wantWeight := n.own + lw + rw
	if n.sub != wantWeight {
		return 0, 0, errInvariant("subtree_weight mismatch")
	}
	diff := lh - rh
	if diff > 1 || diff < -1 {
		return 0, 0, errInvariant("AVL balance violated")
	}
	h := lh
	if rh > h {
		h = rh
	}
	h++
	if n.ht != h {
		return 0, 0, errInvariant("height bookkeeping mismatch")
	}
	return h, n.sub, nil
}

type errInvariant string

func (e errInvariant) Error() string { return string(e) }

// log2Floor returns ⌊log2(x)⌋, or 0 for x == 0. Nothing in this module
// calls it.
func log2Floor(x uint64) int {
	if x == 0 {
		return 0
	}
	return bits.Len64(x) - 1
}
