package crdt

// Diff computes a minimal sequence of inserts and deletes transforming old
// into new, positioned in old's coordinate space so that applying them
// through a fresh BIT session reproduces new. Consecutive single-rune
// operations of the same kind are coalesced into runs.
func Diff(oldText, newText string) []Op {
	a := []rune(oldText)
	b := []rune(newText)
	m, n := len(a), len(b)

	// lcs[i][j] = length of the LCS of a[i:] and b[j:].
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	// Trace forward, emitting per-rune ops. At a mismatch, inserts are
	// emitted before deletes at the same index: an insert at k shifts the
	// drift so a following delete at k still removes the original rune.
	var ops []Op
	i, j := 0, 0
	for i < m || j < n {
		if i < m && j < n && a[i] == b[j] {
			i++
			j++
			continue
		}
		if j < n && (i == m || lcs[i][j+1] >= lcs[i+1][j]) {
			ops = append(ops, Op{Kind: OpInsert, At: i, Text: string(b[j])})
			j++
		} else {
			ops = append(ops, Op{Kind: OpDelete, At: i, Length: 1})
			i++
		}
	}

	return coalesce(ops)
}

// coalesce merges runs of same-kind single-rune ops: inserts at an identical
// index concatenate, deletes at adjacent ascending indices extend the run.
func coalesce(ops []Op) []Op {
	var out []Op
	for _, op := range ops {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if op.Kind == OpInsert && last.Kind == OpInsert && op.At == last.At {
				last.Text += op.Text
				continue
			}
			if op.Kind == OpDelete && last.Kind == OpDelete && op.At == last.At+last.Length {
				last.Length += op.Length
				continue
			}
		}
		out = append(out, op)
	}
	return out
}
