package bytesource

const defaultChunkSize = 16 * 1024

// Ring is an in-memory chunked buffer used to hold a drained sequential
// body. Chunks are kept until the Ring is dropped so it can be rewound.
type Ring struct {
	chunks    [][]byte
	chunkSize int
	size      int64

	// read position
	pos   int64
	chunk int
	off   int
}

// NewRing allocates a buffer that grows in chunks of chunkSize bytes.
func NewRing(chunkSize int) *Ring {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Ring{chunkSize: chunkSize}
}

// Write appends p. It never fails.
func (r *Ring) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		last := len(r.chunks) - 1
		if last < 0 || len(r.chunks[last]) == cap(r.chunks[last]) {
			r.chunks = append(r.chunks, make([]byte, 0, r.chunkSize))
			last++
		}
		c := r.chunks[last]
		room := cap(c) - len(c)
		if room > len(p) {
			room = len(p)
		}
		r.chunks[last] = append(c, p[:room]...)
		p = p[room:]
	}
	r.size += int64(n)
	return n, nil
}

// ReadFrom moves everything the source currently has available into the
// buffer. It reports whether the source is exhausted.
func (r *Ring) ReadFrom(src Source) bool {
	for {
		p := src.ReadPointer(int64(r.chunkSize))
		if len(p) == 0 {
			return src.AtEnd()
		}
		r.Write(p)
		src.Advance(int64(len(p)))
	}
}

func (r *Ring) ReadPointer(max int64) []byte {
	if r.chunk >= len(r.chunks) {
		return nil
	}
	p := r.chunks[r.chunk][r.off:]
	if max > 0 && max < int64(len(p)) {
		return p[:max]
	}
	return p
}

func (r *Ring) Advance(n int64) bool {
	if n < 0 || r.pos+n > r.size {
		return false
	}
	r.pos += n
	for n > 0 {
		rest := int64(len(r.chunks[r.chunk]) - r.off)
		if n < rest {
			r.off += int(n)
			break
		}
		n -= rest
		r.chunk++
		r.off = 0
	}
	// skip a fully consumed chunk so ReadPointer does not return empty
	if r.chunk < len(r.chunks) && r.off == len(r.chunks[r.chunk]) {
		r.chunk++
		r.off = 0
	}
	return true
}

func (r *Ring) AtEnd() bool      { return r.pos >= r.size }
func (r *Ring) Size() int64      { return r.size }
func (r *Ring) Pos() int64       { return r.pos }
func (r *Ring) Sequential() bool { return false }

func (r *Ring) Reset() bool {
	r.pos = 0
	r.chunk = 0
	r.off = 0
	return true
}
