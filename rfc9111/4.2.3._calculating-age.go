package rfc9111

import (
	"net/http"
	"time"
)

// §  4.2.3.  Calculating Age
// §
// §     Age calculation uses the following data:
// §
// §     "age_value"
// §        The term "age_value" denotes the value of the Age header field
// §        (Section 5.1), in a form appropriate for arithmetic operation; or
// §        0, if not available.
func age_value(header http.Header) time.Duration {
	if age, present := getAge(header); present {
		return age
	}
	return 0
}

// §     "date_value"
// §        The term "date_value" denotes the value of the Date header field,
// §        in a form appropriate for arithmetic operations.
func date_value(header http.Header, now time.Time) time.Time {
	if date, err := HttpDate(header.Get("Date")); err == nil {
		return date
	}
	// a missing Date is treated as generated right now
	return now
}

// §       apparent_age = max(0, response_time - date_value);
// §
// §       response_delay = response_time - request_time;
// §       corrected_age_value = age_value + response_delay;
// §
// §       corrected_initial_age = max(apparent_age, corrected_age_value);
// §
// §       resident_time = now - response_time;
// §       current_age = corrected_initial_age + resident_time;

// CurrentAge returns the age of a stored response at time now.
//
// The stored metadata does not keep request and response times, so both are
// taken to be now: response_delay and resident_time are zero and the age is
// max(apparent_age, age_value).
func CurrentAge(header http.Header, now time.Time) time.Duration {
	responseTime := now
	apparentAge := durationMax(0, responseTime.Sub(date_value(header, now)))
	correctedInitialAge := durationMax(apparentAge, age_value(header))
	residentTime := now.Sub(responseTime)
	return correctedInitialAge + residentTime
}

func durationMax(d1, d2 time.Duration) time.Duration {
	if d1 > d2 {
		return d1
	}
	return d2
}
