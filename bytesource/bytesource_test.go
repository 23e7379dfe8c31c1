package bytesource

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// drain pulls everything out of the source in pieces of at most step bytes.
func drain(t *testing.T, s Source, step int64) []byte {
	var out []byte
	deadline := time.Now().Add(2 * time.Second)
	for !s.AtEnd() {
		if time.Now().After(deadline) {
			t.Fatalf("Source never reached end")
		}
		p := s.ReadPointer(step)
		if len(p) == 0 {
			if n, ok := s.(ReadyNotifier); ok {
				select {
				case <-n.ReadyRead():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		out = append(out, p...)
		if !s.Advance(int64(len(p))) {
			t.Fatalf("Advance(%d) failed", len(p))
		}
	}
	return out
}

func TestBytes(t *testing.T) {
	s := FromString("hello world")
	if s.Size() != 11 || s.Sequential() {
		t.Fatalf("Unexpected size %d or sequential", s.Size())
	}
	if p := s.ReadPointer(5); string(p) != "hello" {
		t.Fatalf("Read pointer is %q", p)
	}
	if s.Advance(12) {
		t.Fatalf("Advanced past end")
	}
	if got := drain(t, s, 3); string(got) != "hello world" {
		t.Fatalf("Drained %q", got)
	}
	if s.Pos() != 11 {
		t.Fatalf("Position is %d", s.Pos())
	}
	if !s.Reset() || s.Pos() != 0 {
		t.Fatalf("Reset failed")
	}
	if got := drain(t, s, 0); string(got) != "hello world" {
		t.Fatalf("Drained %q after reset", got)
	}
}

func TestRingAcrossChunks(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte("abcdefghij"))
	r.Write([]byte("klm"))
	if r.Size() != 13 {
		t.Fatalf("Size is %d", r.Size())
	}
	if p := r.ReadPointer(0); string(p) != "abcd" {
		t.Fatalf("First chunk is %q", p)
	}
	if !r.Advance(6) {
		t.Fatalf("Advance failed")
	}
	if p := r.ReadPointer(0); string(p) != "gh" {
		t.Fatalf("Pointer after advance is %q", p)
	}
	if got := drain(t, r, 3); string(got) != "ghijklm" {
		t.Fatalf("Drained %q", got)
	}
	r.Reset()
	if got := drain(t, r, 5); string(got) != "abcdefghijklm" {
		t.Fatalf("Drained %q after reset", got)
	}
}

func TestRingReadFrom(t *testing.T) {
	src := FromString("some body bytes")
	r := NewRing(0)
	if !r.ReadFrom(src) {
		t.Fatalf("Expected source to be exhausted")
	}
	if got := drain(t, r, 0); string(got) != "some body bytes" {
		t.Fatalf("Drained %q", got)
	}
}

func TestReader(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10000)
	s := FromReader(bytes.NewReader(data))
	defer s.Close()
	if !s.Sequential() || s.Size() != -1 || s.Reset() {
		t.Fatalf("Reader should be sequential, unsized and not resettable")
	}
	got := drain(t, s, 1000)
	if !bytes.Equal(got, data) {
		t.Fatalf("Drained %d bytes, expected %d", len(got), len(data))
	}
	if s.Pos() != int64(len(data)) {
		t.Fatalf("Position is %d", s.Pos())
	}
	if s.Err() != nil {
		t.Fatalf("Unexpected error %v", s.Err())
	}
}

func TestReaderSlowProducer(t *testing.T) {
	pr, pw := io.Pipe()
	s := FromReader(pr)
	defer s.Close()
	if p := s.ReadPointer(0); len(p) != 0 {
		t.Fatalf("Data available before anything was written")
	}
	if s.AtEnd() {
		t.Fatalf("At end before producer finished")
	}
	go func() {
		pw.Write([]byte("first "))
		time.Sleep(10 * time.Millisecond)
		pw.Write([]byte("second"))
		pw.Close()
	}()
	if got := drain(t, s, 0); string(got) != "first second" {
		t.Fatalf("Drained %q", got)
	}
}

type endless struct{}

func (endless) Read(p []byte) (int, error) { return len(p), nil }

func TestReaderCloseStopsBackgroundRead(t *testing.T) {
	s := FromReader(endless{})
	for len(s.ReadPointer(0)) == 0 {
		time.Sleep(time.Millisecond)
	}
	s.Close()
	select {
	case <-s.stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Background reader still running after Close")
	}
	if len(s.ReadPointer(0)) == 0 {
		t.Fatalf("Queued data dropped by Close")
	}
}

func TestReaderError(t *testing.T) {
	pr, pw := io.Pipe()
	s := FromReader(pr)
	defer s.Close()
	pw.CloseWithError(errors.New("broken"))
	drain(t, s, 0)
	if s.Err() == nil || s.Err().Error() != "broken" {
		t.Fatalf("Error is %v", s.Err())
	}
}
