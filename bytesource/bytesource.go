// Package bytesource provides pull-based suppliers of outgoing request bodies.
//
// A Source hands out read pointers into its own memory, so a consumer can
// send bytes without copying them and only advance once they are gone.
package bytesource

// Source is a pull-based supplier of body bytes.
type Source interface {
	// ReadPointer returns up to max bytes at the current position
	// without consuming them. max <= 0 means no limit.
	// An empty result with AtEnd false means no data is available yet.
	ReadPointer(max int64) []byte
	// Advance consumes n bytes. It returns false if fewer are available.
	Advance(n int64) bool
	AtEnd() bool
	// Size is the total length, or -1 when unknown.
	Size() int64
	// Reset rewinds to position 0 and reports whether that was possible.
	Reset() bool
	Pos() int64
	// Sequential sources can only be read once, in order.
	Sequential() bool
}

// ReadyNotifier is implemented by sources whose data arrives over time.
// A value is sent on the channel whenever new data or end of data becomes
// available.
type ReadyNotifier interface {
	ReadyRead() <-chan struct{}
}

// Bytes is a Source over a byte slice.
type Bytes struct {
	b   []byte
	pos int64
}

func FromBytes(b []byte) *Bytes {
	return &Bytes{b: b}
}

func FromString(s string) *Bytes {
	return &Bytes{b: []byte(s)}
}

func (s *Bytes) ReadPointer(max int64) []byte {
	rest := s.b[s.pos:]
	if max > 0 && max < int64(len(rest)) {
		return rest[:max]
	}
	return rest
}

func (s *Bytes) Advance(n int64) bool {
	if n < 0 || s.pos+n > int64(len(s.b)) {
		return false
	}
	s.pos += n
	return true
}

func (s *Bytes) AtEnd() bool      { return s.pos >= int64(len(s.b)) }
func (s *Bytes) Size() int64      { return int64(len(s.b)) }
func (s *Bytes) Pos() int64       { return s.pos }
func (s *Bytes) Sequential() bool { return false }

func (s *Bytes) Reset() bool {
	s.pos = 0
	return true
}
