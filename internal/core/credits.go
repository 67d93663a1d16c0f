package core

import "math"

// Credits is the transferable amount held by an account.
type Credits struct {
	Balance uint64
}

// Add increases the credit balance. It reports false, leaving the balance
// untouched, when the result would overflow.
func (c *Credits) Add(amount uint64) bool {
	if amount > math.MaxUint64-c.Balance {
		return false
	}
	c.Balance += amount
	return true
}

// Spend decreases the credit balance.
func (c *Credits) Spend(amount uint64) bool {
	if c.Balance < amount {
		return false
	}
	c.Balance -= amount
	return true
}
