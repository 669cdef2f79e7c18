// Package model holds the persistent types shared by the ledger, wheel,
// redemption and tier components.
package model

// All returns every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Club{},
		&User{},
		&LedgerEntry{},
		&EarningRule{},
		&Wheel{},
		&Prize{},
		&Spin{},
		&Reward{},
		&Redemption{},
	}
}
