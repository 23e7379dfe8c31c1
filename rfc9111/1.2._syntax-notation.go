package rfc9111

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// §  1.2.2.  Delta Seconds
// §
// §     The delta-seconds rule specifies a non-negative integer, representing
// §     time in seconds.
// §
// §       delta-seconds  = 1*DIGIT
// §
// §     A recipient parsing a delta-seconds value and converting it to binary
// §     form ought to use an arithmetic type of at least 31 bits of non-
// §     negative integer range.  If a cache receives a delta-seconds value
// §     greater than the greatest integer it can represent, or if any of its
// §     subsequent calculations overflows, the cache MUST consider the value
// §     to be 2147483648 (2^31) or the greatest positive integer it can
// §     conveniently represent.
func deltaSeconds(secondsStr string) (time.Duration, error) {
	end := 0
	for end < len(secondsStr) && secondsStr[end] >= '0' && secondsStr[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("Invalid delta-seconds %q", secondsStr)
	}
	seconds, err := strconv.ParseUint(secondsStr[:end], 10, 64)
	if err != nil || seconds > 1<<31 {
		seconds = 1 << 31
	}
	return time.Second * time.Duration(seconds), nil
}

func toDeltaSeconds(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	return fmt.Sprintf("%.f", duration.Seconds())
}

// HttpDate parses an HTTP-date (RFC 9110 §5.6.7), accepting the preferred
// IMF-fixdate format as well as the obsolete RFC 850 and asctime formats.
// Field values are matched case-insensitively.
func HttpDate(dateStr string) (time.Time, error) {
	str := strings.ToUpper(strings.TrimSpace(dateStr))
	if str == "" {
		return time.Time{}, fmt.Errorf("Empty date")
	}
	date, err := time.Parse(http.TimeFormat, str)
	if err == nil {
		return date, nil
	}
	if obs, obsErr := time.Parse(time.RFC850, str); obsErr == nil {
		return obs, nil
	}
	if obs, obsErr := time.Parse(time.ANSIC, str); obsErr == nil {
		return obs, nil
	}
	// return original error if unsuccessful
	return time.Time{}, err
}

// ToHttpDate formats the time as an IMF-fixdate.
func ToHttpDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// GetListHeader splits every value of a comma-separated list field.
func GetListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
