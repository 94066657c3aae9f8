package core

import "time"

// Entity names carried in a Change.
const (
	EntityTransaction   = "transaction"
	EntityTransfer      = "transfer"
	EntityPaymentMethod = "payment_method"
	EntityCategory      = "category"
	EntitySubcategory   = "subcategory"
	EntityBudget        = "budget"
	EntityLedger        = "ledger"
)

// Operations carried in a Change.
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpUpsert    = "upsert"
	OpSeed      = "seed"
	OpReconcile = "reconcile"
)

// Change describes one committed ledger write.
type Change struct {
	UserID  UserID    `json:"user_id"`
	Entity  string    `json:"entity"`
	Op      string    `json:"op"`
	ID      string    `json:"id,omitempty"`
	Methods []string  `json:"methods,omitempty"`
	At      time.Time `json:"timestamp"`
}
