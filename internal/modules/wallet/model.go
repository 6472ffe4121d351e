// README: Driver wallet, append-only ledger rows and payout requests.
package wallet

import (
	"time"

	"ridematch/internal/types"
)

type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

type Category string

const (
	CategoryTripEarning Category = "trip_earning"
	CategoryWithdrawal  Category = "withdrawal"
	CategoryAdjustment  Category = "adjustment"
)

type Wallet struct {
	ID        types.ID  `json:"id"`
	DriverID  types.ID  `json:"driver_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is immutable once written; BalanceAfter is the running balance at insert time.
type Transaction struct {
	ID           types.ID  `json:"id"`
	WalletID     types.ID  `json:"wallet_id"`
	DriverID     types.ID  `json:"driver_id"`
	Type         TxType    `json:"type"`
	Category     Category  `json:"category"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reference    string    `json:"reference"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutRejected   PayoutStatus = "rejected"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending:    {PayoutProcessing, PayoutRejected},
	PayoutProcessing: {PayoutPaid, PayoutRejected},
}

func canResolve(from, to PayoutStatus) bool {
	for _, s := range payoutTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PayoutMethod struct {
	Type          string `json:"type" validate:"required,oneof=bank_transfer nequi daviplata"`
	AccountNumber string `json:"account_number" validate:"required,max=64"`
	AccountHolder string `json:"account_holder" validate:"required,max=128"`
	BankName      string `json:"bank_name" validate:"max=128"`
}

type Payout struct {
	ID              types.ID     `json:"id"`
	DriverID        types.ID     `json:"driver_id"`
	WalletID        types.ID     `json:"wallet_id"`
	Amount          int64        `json:"amount"`
	Status          PayoutStatus `json:"status"`
	Method          PayoutMethod `json:"method"`
	PeriodStart     *time.Time   `json:"period_start,omitempty"`
	PeriodEnd       *time.Time   `json:"period_end,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
	RejectionReason *string      `json:"rejection_reason,omitempty"`
}

type CommissionConfig struct {
	Percentage float64 `json:"percentage"`
	MinAmount  int64   `json:"min_amount"`
	MaxAmount  int64   `json:"max_amount"`
}

// Commission splits a fare into the platform's cut and the driver's net.
// The cut is round(amount*pct/100) clamped to [min, max]; net never goes below zero.
func Commission(amount int64, cfg CommissionConfig) (commission, net int64) {
	commission = types.Clamp(types.Percent(amount, cfg.Percentage), cfg.MinAmount, cfg.MaxAmount)
	net = amount - commission
	if net < 0 {
		net = 0
	}
	return commission, net
}

type WithdrawCommand struct {
	Amount      int64        `json:"amount" validate:"gt=0"`
	Method      PayoutMethod `json:"method"`
	PeriodStart *time.Time   `json:"period_start"`
	PeriodEnd   *time.Time   `json:"period_end"`
}

type ResolveCommand struct {
	Status PayoutStatus `json:"status" validate:"required,oneof=processing paid rejected"`
	Reason string       `json:"reason" validate:"max=500"`
}
