package rules

// PairKey is the canonical unordered pair of user ids. Low < High always
// holds, so a pair maps to exactly one row regardless of who acted first.
type PairKey struct {
	Low  int64
	High int64
}

// CanonicalPair orders two user ids into a PairKey. Callers compute this
// once at the boundary and pass the key down; it is never re-derived ad hoc.
func CanonicalPair(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

// OtherOf returns the pair member that is not userID.
func (k PairKey) OtherOf(userID int64) int64 {
	if k.Low == userID {
		return k.High
	}
	return k.Low
}

// Contains reports whether userID is one of the pair members.
func (k PairKey) Contains(userID int64) bool {
	return k.Low == userID || k.High == userID
}
