package circulation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestOverdueDays(t *testing.T) {
	due := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, OverdueDays(due, due.Add(-time.Hour)))
	assert.Equal(t, 0, OverdueDays(due, due))
	assert.Equal(t, 1, OverdueDays(due, due.Add(time.Minute)))
	assert.Equal(t, 1, OverdueDays(due, due.Add(24*time.Hour)))
	assert.Equal(t, 2, OverdueDays(due, due.Add(24*time.Hour+time.Second)))
}

func TestCalculateFine(t *testing.T) {
	due := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	rate := decimal.NewFromInt(10)

	assert.True(t, CalculateFine(due, due, rate).IsZero())
	assert.True(t, CalculateFine(due, due.AddDate(0, 0, 6), rate).Equal(decimal.NewFromInt(60)))
	assert.True(t, CalculateFine(due, due.AddDate(0, 0, 6), decimal.Zero).IsZero())
}

func TestCalculateFine_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).
			Add(time.Duration(rapid.Int64Range(0, 365*24*3600).Draw(t, "dueOffset")) * time.Second)
		lateBy := time.Duration(rapid.Int64Range(-30*24*3600, 90*24*3600).Draw(t, "lateBy")) * time.Second
		rate := decimal.NewFromInt(rapid.Int64Range(0, 100).Draw(t, "rate"))

		fine := CalculateFine(due, due.Add(lateBy), rate)

		if fine.IsNegative() {
			t.Fatalf("negative fine %s", fine)
		}
		if lateBy <= 0 && !fine.IsZero() {
			t.Fatalf("fine %s for a return %s before due", fine, -lateBy)
		}
		days := OverdueDays(due, due.Add(lateBy))
		if !fine.Equal(rate.Mul(decimal.NewFromInt(int64(days)))) {
			t.Fatalf("fine %s is not %d days at %s", fine, days, rate)
		}
	})
}

func TestCalculateFine_WholeDaysLate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
		n := rapid.IntRange(0, 400).Draw(t, "days")

		fine := CalculateFine(due, due.Add(time.Duration(n)*day), decimal.NewFromInt(10))

		if !fine.Equal(decimal.NewFromInt(int64(10 * n))) {
			t.Fatalf("%d days late fined %s", n, fine)
		}
	})
}

func TestOverdueDays_Monotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		a := time.Duration(rapid.Int64Range(0, 1<<40).Draw(t, "a"))
		b := time.Duration(rapid.Int64Range(0, 1<<40).Draw(t, "b"))
		if a > b {
			a, b = b, a
		}
		if OverdueDays(due, due.Add(a)) > OverdueDays(due, due.Add(b)) {
			t.Fatalf("overdue days decreased between %s and %s", a, b)
		}
	})
}

func TestRenewalCount_NeverExceedsCap(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		student := f.addStudent(true)
		tx := f.issue(t, student, f.addBook(1))
		attempts := rapid.IntRange(0, 6).Draw(rt, "attempts")

		for i := 0; i < attempts; i++ {
			f.clock.Set(day0.AddDate(0, 0, i))
			_, _ = f.svc.Renew(t.Context(), RenewRequest{TransactionID: tx.ID, Actor: f.staff})
		}

		got := f.store.txs[tx.ID]
		if got.RenewalCount > DefaultRules().MaxRenewals {
			rt.Fatalf("renewal count %d exceeds cap", got.RenewalCount)
		}
		if got.RenewalCount != min(attempts, DefaultRules().MaxRenewals) {
			rt.Fatalf("renewal count %d after %d attempts", got.RenewalCount, attempts)
		}
	})
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusIssued.IsActive())
	assert.True(t, StatusOverdue.IsActive())
	assert.False(t, StatusReturned.IsActive())
	assert.False(t, StatusLost.IsActive())
	assert.False(t, Status("archived").Valid())
	assert.True(t, ConditionPoor.Valid())
	assert.False(t, Condition("shiny").Valid())
}
