package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-billing/internal/model"
)

func tehran(t *testing.T) *Jalali {
	t.Helper()
	j, err := LoadJalali("")
	require.NoError(t, err)
	return j
}

func TestPeriodAt(t *testing.T) {
	j := tehran(t)

	p, err := j.PeriodAt(time.Date(2025, 10, 17, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, model.BillingPeriod{Year: 1404, Month: 7}, p)

	// 2025-09-22 21:00 UTC is already Mehr 1 in Tehran.
	p, err = j.PeriodAt(time.Date(2025, 9, 22, 21, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, model.BillingPeriod{Year: 1404, Month: 7}, p)

	p, err = j.PeriodAt(time.Date(2025, 9, 22, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, model.BillingPeriod{Year: 1404, Month: 6}, p)
}

func TestPeriodStart(t *testing.T) {
	j := tehran(t)

	start, err := j.PeriodStart(model.BillingPeriod{Year: 1404, Month: 7})
	require.NoError(t, err)
	y, m, d := start.In(j.Location()).Date()
	assert.Equal(t, 2025, y)
	assert.Equal(t, time.September, m)
	assert.Equal(t, 23, d)

	_, err = j.PeriodStart(model.BillingPeriod{Year: 1404, Month: 13})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestMissingCalendar(t *testing.T) {
	var j *Jalali
	_, err := j.PeriodAt(time.Now())
	assert.ErrorIs(t, err, model.ErrMissingBillingPeriod)

	_, err = LoadJalali("Mars/Olympus")
	assert.ErrorIs(t, err, model.ErrMissingBillingPeriod)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Mehr 1404", Label(model.BillingPeriod{Year: 1404, Month: 7}))
	assert.Equal(t, "unknown", MonthName(0))
}
