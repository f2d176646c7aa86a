package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// OverdueDays is the number of started days between due and at, or 0 when at is not after due.
func OverdueDays(due, at time.Time) int {
	late := at.Sub(due)
	if late <= 0 {
		return 0
	}
	return int((late + day - 1) / day)
}

// CalculateFine is OverdueDays(due, returnedAt) × perDay.
func CalculateFine(due, returnedAt time.Time, perDay decimal.Decimal) decimal.Decimal {
	days := OverdueDays(due, returnedAt)
	if days == 0 || !perDay.IsPositive() {
		return decimal.Zero
	}
	return perDay.Mul(decimal.NewFromInt(int64(days)))
}
