package httpreply

import (
	"testing"
	"time"
)

type progressLog [][2]int64

func (l *progressLog) emit(received, total int64) {
	*l = append(*l, [2]int64{received, total})
}

func TestThrottle(t *testing.T) {
	var got progressLog
	th := throttle{interval: 100 * time.Millisecond}

	th.report(testNow, 10, 100, false, got.emit)
	th.report(testNow.Add(10*time.Millisecond), 20, 100, false, got.emit)
	th.report(testNow.Add(50*time.Millisecond), 30, 100, false, got.emit)
	th.report(testNow.Add(150*time.Millisecond), 40, 100, false, got.emit)
	th.report(testNow.Add(160*time.Millisecond), 100, 100, true, got.emit)
	th.report(testNow.Add(170*time.Millisecond), 100, 100, true, got.emit)

	want := progressLog{{10, 100}, {40, 100}, {100, 100}}
	if len(got) != len(want) {
		t.Fatalf("Emitted %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Emitted %v, expected %v", got, want)
		}
	}
}

func TestThrottleFlush(t *testing.T) {
	var got progressLog
	th := throttle{interval: time.Second}
	th.flush(got.emit)
	if len(got) != 0 {
		t.Fatalf("Flush without reports emitted %v", got)
	}
	th.report(testNow, 1, -1, false, got.emit)
	th.report(testNow.Add(time.Millisecond), 2, -1, false, got.emit)
	th.flush(got.emit)
	th.flush(got.emit)
	if len(got) != 2 || got[1] != [2]int64{2, -1} {
		t.Fatalf("Emitted %v", got)
	}
}

func TestReplyStateTransitions(t *testing.T) {
	if !Working.canMoveTo(Working) || !Working.canMoveTo(Reconnecting) || !Reconnecting.canMoveTo(Working) {
		t.Fatalf("Hop transitions refused")
	}
	if Finished.canMoveTo(Working) || Aborted.canMoveTo(Finished) {
		t.Fatalf("Terminal state left")
	}
	if !Finished.terminal() || Working.terminal() {
		t.Fatalf("Wrong terminal states")
	}
	if Buffering.String() != "buffering" || ReplyState(42).String() != "unknown" {
		t.Fatalf("Unexpected names")
	}
}
