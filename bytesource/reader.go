package bytesource

import (
	"io"
	"sync"
)

const maxQueued = 256 * 1024

// Reader is a sequential Source fed from an io.Reader by a background
// goroutine. It cannot be reset and its size is unknown.
type Reader struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	queued int
	eof    bool
	err    error
	closed bool
	pos    int64

	ready chan struct{}
	// closed when the background reader returns
	stopped chan struct{}
}

func FromReader(r io.Reader) *Reader {
	s := &Reader{ready: make(chan struct{}, 1), stopped: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.pump(r)
	return s
}

func (s *Reader) pump(r io.Reader) {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		for s.queued >= maxQueued && !s.closed {
			s.cond.Wait()
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		buf := make([]byte, defaultChunkSize)
		n, err := r.Read(buf)

		s.mu.Lock()
		if n > 0 {
			s.queue = append(s.queue, buf[:n])
			s.queued += n
		}
		if err != nil {
			s.eof = true
			if err != io.EOF {
				s.err = err
			}
		}
		done := s.eof
		s.mu.Unlock()

		if n > 0 || done {
			s.notify()
		}
		if done {
			return
		}
	}
}

func (s *Reader) notify() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Reader) ReadyRead() <-chan struct{} {
	return s.ready
}

func (s *Reader) ReadPointer(max int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	p := s.queue[0]
	if max > 0 && max < int64(len(p)) {
		return p[:max]
	}
	return p
}

func (s *Reader) Advance(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || int64(s.queued) < n {
		return false
	}
	s.pos += n
	s.queued -= int(n)
	for n > 0 {
		head := int64(len(s.queue[0]))
		if n < head {
			s.queue[0] = s.queue[0][n:]
			break
		}
		n -= head
		s.queue = s.queue[1:]
	}
	s.cond.Signal()
	return true
}

func (s *Reader) AtEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof && s.queued == 0
}

// Err returns the read error that ended the stream, if it was not io.EOF.
func (s *Reader) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the background reader. Queued data stays readable.
func (s *Reader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *Reader) Size() int64 { return -1 }

func (s *Reader) Pos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Reader) Reset() bool      { return false }
func (s *Reader) Sequential() bool { return true }
