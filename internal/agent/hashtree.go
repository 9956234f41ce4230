package agent

import (
	"errors"

	"github.com/aviate-labs/agent-go/certification/hashtree"
)

// CBOR generic form tags of hash tree nodes
const (
	nodeEmpty uint64 = iota
	nodeFork
	nodeLabeled
	nodeLeaf
	nodePruned
)

const maxTreeDepth = 128

// LookupResult tells whether a path is provably present, provably absent, or
// hidden behind a pruned subtree
type LookupResult int

const (
	LookupAbsent LookupResult = iota
	LookupFound
	LookupUnknown
)

// parseTree converts the CBOR generic form [tag, ...] into a hash tree.
// Shape is checked first since the decoder indexes nodes without bounds checks.
func parseTree(v any) (hashtree.Node, error) {
	if err := checkShape(v, 0); err != nil {
		return nil, err
	}
	return hashtree.DeserializeNode(v.([]any))
}

func checkShape(v any, depth int) error {
	if depth > maxTreeDepth {
		return errors.New("hash tree too deep")
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return errors.New("hash tree node is not a non-empty array")
	}
	tag, _ := arr[0].(uint64)
	switch {
	case tag == nodeFork && len(arr) == 3:
		if err := checkShape(arr[1], depth+1); err != nil {
			return err
		}
		return checkShape(arr[2], depth+1)
	case tag == nodeLabeled && len(arr) == 3:
		return checkShape(arr[2], depth+1)
	}
	return nil
}

// digest reconstructs the root hash of the tree
func digest(n hashtree.Node) []byte {
	sum := n.Reconstruct()
	return sum[:]
}

// lookup follows path through labeled subtrees and returns the leaf value.
// Labels must appear in sorted order, as the replica emits them.
func lookup(n hashtree.Node, path ...[]byte) ([]byte, LookupResult) {
	labels := make([]hashtree.Label, len(path))
	for i, p := range path {
		labels[i] = p
	}
	v, err := hashtree.Lookup(n, labels...)
	if err == nil {
		return v, LookupFound
	}
	var le hashtree.LookupError
	if errors.As(err, &le) && le.Type == hashtree.LookupResultUnknown {
		return nil, LookupUnknown
	}
	return nil, LookupAbsent
}
