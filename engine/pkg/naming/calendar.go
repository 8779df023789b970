package naming

import (
	"time"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

const (
	// DekadsPerYear is the number of 10-day periods in a year: three per month.
	DekadsPerYear  = 36
	dekadsPerMonth = 3
)

// ValidateDekad fails with a configuration error outside [1, 36].
func ValidateDekad(d int) error {
	if d < 1 || d > DekadsPerYear {
		return werr.InvalidField("dekad", "%d is outside [1, %d]", d, DekadsPerYear)
	}
	return nil
}

// DekadOf returns the dekad (1..36) containing t, evaluated in UTC. Days 1-10
// of a month are its first dekad, 11-20 the second, the rest the third.
func DekadOf(t time.Time) int {
	t = t.UTC()
	inMonth := (t.Day() - 1) / 10
	if inMonth > dekadsPerMonth-1 {
		inMonth = dekadsPerMonth - 1
	}
	return (int(t.Month())-1)*dekadsPerMonth + inMonth + 1
}

// DekadStart returns midnight UTC of the first day of dekad d in year.
func DekadStart(year, d int) (time.Time, error) {
	if err := ValidateDekad(d); err != nil {
		return time.Time{}, err
	}
	month := time.Month((d-1)/dekadsPerMonth + 1)
	day := ((d-1)%dekadsPerMonth)*10 + 1
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// DekadDays returns the number of days covered by dekad d of year. The third
// dekad of a month absorbs whatever remains after day 20 (8 to 11 days).
func DekadDays(year, d int) (int, error) {
	start, err := DekadStart(year, d)
	if err != nil {
		return 0, err
	}
	if (d-1)%dekadsPerMonth < dekadsPerMonth-1 {
		return 10, nil
	}
	firstOfNext := time.Date(year, start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return int(firstOfNext.Sub(start).Hours() / 24), nil
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}

// YearRange returns the half-open UTC window [Jan 1 of year, Jan 1 of year+1).
func YearRange(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}
