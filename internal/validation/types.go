package validation

// SyncTarget is the path parameter of the manual single-record sync routes.
type SyncTarget struct {
	ID string `uri:"id" validate:"required,max=128,printascii,excludes=^"`
}

// LedgerQuery addresses one ledger entry.
type LedgerQuery struct {
	Direction string `uri:"direction" validate:"required,oneof=forward reverse"`
	ID        string `uri:"id" validate:"required,max=128,printascii,excludes=^"`
}
