package model

import "fmt"

// BillingPeriod is a (year, month) pair of the billing calendar. It is not a Gregorian month.
type BillingPeriod struct {
	Year  int `json:"year" db:"year"`
	Month int `json:"month" db:"month"`
}

func (p BillingPeriod) Valid() bool {
	return p.Year > 0 && p.Month >= 1 && p.Month <= 12
}

// Before reports whether p precedes other.
func (p BillingPeriod) Before(other BillingPeriod) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p BillingPeriod) Next() BillingPeriod {
	if p.Month >= 12 {
		return BillingPeriod{Year: p.Year + 1, Month: 1}
	}
	return BillingPeriod{Year: p.Year, Month: p.Month + 1}
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("%d/%02d", p.Year, p.Month)
}
