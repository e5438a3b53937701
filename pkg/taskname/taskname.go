package taskname

const (
	// Ledger tasks
	LedgerConfirm = "ledger:confirm"
)
