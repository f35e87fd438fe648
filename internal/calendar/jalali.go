package calendar

import (
	"fmt"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"

	"credit-billing/internal/model"
)

// DefaultTimezone is where billing months start and end.
const DefaultTimezone = "Asia/Tehran"

var monthNames = [...]string{
	"Farvardin", "Ordibehesht", "Khordad", "Tir", "Mordad", "Shahrivar",
	"Mehr", "Aban", "Azar", "Dey", "Bahman", "Esfand",
}

// Jalali maps wall-clock instants to billing periods of the Persian calendar.
type Jalali struct {
	loc *time.Location
}

func NewJalali(loc *time.Location) *Jalali {
	return &Jalali{loc: loc}
}

// LoadJalali resolves name to a location. An empty name selects DefaultTimezone.
// When the tz database has no entry the fixed Iran zone of the calendar library is used.
func LoadJalali(name string) (*Jalali, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name != DefaultTimezone {
			return nil, fmt.Errorf("%w: timezone %q: %v", model.ErrMissingBillingPeriod, name, err)
		}
		loc = ptime.Iran()
	}
	return NewJalali(loc), nil
}

func (j *Jalali) Location() *time.Location {
	if j == nil {
		return nil
	}
	return j.loc
}

// PeriodAt returns the billing period containing t.
func (j *Jalali) PeriodAt(t time.Time) (model.BillingPeriod, error) {
	if j == nil || j.loc == nil {
		return model.BillingPeriod{}, model.ErrMissingBillingPeriod
	}
	pt := ptime.New(t.In(j.loc))
	return model.BillingPeriod{Year: pt.Year(), Month: int(pt.Month())}, nil
}

// PeriodStart returns the first instant of p in the calendar's location.
func (j *Jalali) PeriodStart(p model.BillingPeriod) (time.Time, error) {
	if j == nil || j.loc == nil {
		return time.Time{}, model.ErrMissingBillingPeriod
	}
	if !p.Valid() {
		return time.Time{}, fmt.Errorf("%w: billing period %s", model.ErrInvalidInput, p)
	}
	return ptime.Date(p.Year, ptime.Month(p.Month), 1, 0, 0, 0, 0, j.loc).Time(), nil
}

// MonthName is the transliterated Persian month name, used in notices.
func MonthName(month int) string {
	if month < 1 || month > len(monthNames) {
		return "unknown"
	}
	return monthNames[month-1]
}

// Label renders p as "Mehr 1404".
func Label(p model.BillingPeriod) string {
	return fmt.Sprintf("%s %d", MonthName(p.Month), p.Year)
}
