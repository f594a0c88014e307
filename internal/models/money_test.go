package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"227.775", "227.78"},
		{"227.774", "227.77"},
		{"0.005", "0.01"},
		{"-0.005", "-0.01"},
		{"100", "100"},
		{"42.8571428571", "42.86"},
	}
	for _, tc := range cases {
		got := RoundHalfUp(dec(tc.in))
		assert.True(t, got.Equal(dec(tc.want)), "RoundHalfUp(%s) = %s, want %s", tc.in, got, tc.want)
	}
}

func TestProRate(t *testing.T) {
	t.Run("full coverage returns the undivided price", func(t *testing.T) {
		// 433.33 × 31/31 computed naively would drift; the short-circuit keeps
		// the exact package price for every month length.
		for _, periodDays := range []int{28, 29, 30, 31} {
			got := ProRate(dec("433.33"), periodDays, periodDays)
			assert.True(t, got.Equal(dec("433.33")), "periodDays=%d: got %s", periodDays, got)
		}
	})

	t.Run("partial coverage", func(t *testing.T) {
		cases := []struct {
			price      string
			days       int
			periodDays int
			want       string
		}{
			{"300.00", 20, 30, "200.00"},
			{"455.55", 15, 30, "227.78"}, // 227.775 rounds up
			{"310.00", 1, 31, "10.00"},
			{"290.00", 15, 29, "150.00"},
			{"100.00", 10, 31, "32.26"}, // 32.258... rounds down
		}
		for _, tc := range cases {
			got := ProRate(dec(tc.price), tc.days, tc.periodDays)
			assert.True(t, got.Equal(dec(tc.want)),
				"ProRate(%s, %d, %d) = %s, want %s", tc.price, tc.days, tc.periodDays, got, tc.want)
		}
	})
}

func TestWeeklyRate(t *testing.T) {
	cases := []struct {
		price string
		days  int
		want  string
	}{
		{"70.00", 7, "70.00"},
		{"70.00", 30, "300.00"},
		{"100.00", 3, "42.86"}, // 42.857... rounds up
		{"100.00", 1, "14.29"},
	}
	for _, tc := range cases {
		got := WeeklyRate(dec(tc.price), tc.days)
		assert.True(t, got.Equal(dec(tc.want)),
			"WeeklyRate(%s, %d) = %s, want %s", tc.price, tc.days, got, tc.want)
	}
}
