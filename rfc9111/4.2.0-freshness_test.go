package rfc9111

import (
	"net/http"
	"testing"
	"time"
)

func heuristicHeader(lastModified, date time.Time) http.Header {
	h := http.Header{}
	h.Set("Last-Modified", ToHttpDate(lastModified))
	h.Set("Date", ToHttpDate(date))
	return h
}

func TestHeuristicFreshness(t *testing.T) {
	lastModified := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	date := lastModified.Add(100 * time.Hour)
	h := heuristicHeader(lastModified, date)

	lifetime, ok := HeuristicFreshnessLifetime(h)
	if !ok || lifetime != 10*time.Hour {
		t.Fatalf("Lifetime is %v", lifetime)
	}
	// now < lastModified + (date - lastModified) / 10 is always fresh
	for _, now := range []time.Time{
		lastModified,
		lastModified.Add(5 * time.Hour),
		lastModified.Add(10*time.Hour - time.Second),
		date.Add(9 * time.Hour),
	} {
		if !IsFresh(h, time.Time{}, now) {
			t.Fatalf("Response should be fresh at %v", now)
		}
	}
	if IsFresh(h, time.Time{}, date.Add(11*time.Hour)) {
		t.Fatal("Response should be stale")
	}
}

func TestHeuristicNeedsDate(t *testing.T) {
	h := http.Header{}
	h.Set("Last-Modified", ToHttpDate(time.Now().Add(-time.Hour)))
	if IsFresh(h, time.Time{}, time.Now()) {
		t.Fatal("Response without Date must not be heuristically fresh")
	}
}

func TestAgeHeaderCountsAgainstLifetime(t *testing.T) {
	now := time.Date(2022, 1, 10, 0, 0, 0, 0, time.UTC)
	h := heuristicHeader(now.Add(-100*time.Hour), now)
	h.Set("Age", "36001")
	if IsFresh(h, time.Time{}, now) {
		t.Fatal("Age exceeds the heuristic lifetime")
	}
}

func TestExplicitExpiration(t *testing.T) {
	now := time.Now()
	h := http.Header{}
	h.Set("Cache-Control", "max-age=60")
	exp := ExpirationDate(h, now)
	if !exp.Equal(now.Add(time.Minute)) {
		t.Fatalf("Expiration is %v", exp)
	}
	if !IsFresh(h, exp, now.Add(59*time.Second)) {
		t.Fatal("Should be fresh")
	}
	if IsFresh(h, exp, now.Add(61*time.Second)) {
		t.Fatal("Should be stale")
	}
}

func TestInvalidExpiresIsInThePast(t *testing.T) {
	h := http.Header{}
	h.Set("Expires", "0")
	exp := ExpirationDate(h, time.Now())
	if exp.IsZero() || !exp.Before(time.Now()) {
		t.Fatalf("Expiration is %v", exp)
	}
}
