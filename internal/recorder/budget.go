package recorder

// budget enforces the byte cap. A chunk that would bring the total to the
// cap or past it is dropped, and so is everything after it, so the kept
// bytes always stay strictly below the cap.
type budget struct {
	max       int
	total     int
	kept      [][]byte
	keptBytes int
	dropped   int
	sealed    bool
}

// add accounts for chunk and reports whether the cap has now been reached.
func (b *budget) add(chunk []byte) (exhausted bool) {
	if len(chunk) == 0 {
		return b.total >= b.max
	}
	if b.sealed || b.total >= b.max {
		b.dropped += len(chunk)
		return b.total >= b.max
	}
	b.total += len(chunk)
	if b.total >= b.max {
		b.dropped += len(chunk)
		return true
	}
	b.kept = append(b.kept, chunk)
	b.keptBytes += len(chunk)
	return false
}

// seal drops any chunk that arrives from now on.
func (b *budget) seal() { b.sealed = true }

func (b *budget) bytes() []byte {
	out := make([]byte, 0, b.keptBytes)
	for _, c := range b.kept {
		out = append(out, c...)
	}
	return out
}
