package stock

import "context"

// Tx is the unit of work the ledger runs inside. LockUnit must hold the
// unit exclusively until the enclosing InTx returns.
type Tx interface {
	LockUnit(ctx context.Context, ref UnitRef) (Unit, error)
	SetStock(ctx context.Context, ref UnitRef, stock int) error
	AppendEntry(ctx context.Context, e Entry) error
	EntriesByReference(ctx context.Context, referenceID string, reason Reason) ([]Entry, error)
	SumChanges(ctx context.Context, ref UnitRef) (int, error)
}

// Store persists units and the ledger. InTx commits only when fn returns nil.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Unit(ctx context.Context, ref UnitRef) (Unit, error)
	// Units omits refs that do not exist.
	Units(ctx context.Context, refs []UnitRef) (map[UnitRef]Unit, error)
	ListUnits(ctx context.Context, f UnitFilter) ([]Unit, error)

	// Entries returns the unit's ledger oldest first; limit <= 0 means all.
	Entries(ctx context.Context, ref UnitRef, limit int) ([]Entry, error)
	EntriesByReference(ctx context.Context, referenceID string, reason Reason) ([]Entry, error)
}
