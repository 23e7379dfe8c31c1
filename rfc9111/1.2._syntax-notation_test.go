package rfc9111

import (
	"net/http"
	"testing"
	"time"
)

func TestToDeltaSeconds(t *testing.T) {
	fiveSeconds := 5 * time.Second
	if s := toDeltaSeconds(fiveSeconds); s != "5" {
		t.Fatalf("Delta seconds is %s", s)
	}
}

func TestHttpDateRFC850(t *testing.T) {
	_, err := HttpDate("Thursday, 18-Aug-50 02:01:18 GMT")
	if err != nil {
		t.Fatalf("Error parsing date %+v", err)
	}
}

func TestHttpDateTZCase(t *testing.T) {
	_, err := HttpDate("Thu, 18 Aug 2050 02:01:18 gMT")
	if err != nil {
		t.Fatalf("Error parsing date %+v", err)
	}
}

func TestHttpDateRoundTrip(t *testing.T) {
	date := time.Date(2022, 10, 3, 12, 30, 0, 0, time.UTC)
	parsed, err := HttpDate(ToHttpDate(date))
	if err != nil {
		t.Fatalf("Error parsing date %+v", err)
	}
	if !parsed.Equal(date) {
		t.Fatalf("Date is %v", parsed)
	}
}

func TestDeltaSecondsOverflow(t *testing.T) {
	d, err := deltaSeconds("99999999999999999999")
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if d != time.Second*(1<<31) {
		t.Fatalf("Delta is %v", d)
	}
}

func TestGetListHeader(t *testing.T) {
	h := http.Header{}
	h.Add("Connection", "keep-alive, X-Foo")
	h.Add("Connection", "close")
	list := GetListHeader(h, "Connection")
	if len(list) != 3 || list[1] != "X-Foo" {
		t.Fatalf("List is %v", list)
	}
}
