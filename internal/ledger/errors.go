package ledger

import "github.com/pkg/errors"

// Fault taxonomy for ledger mutations. Every fault narrows to "skip this
// event" in the decision loop; none of these is allowed to propagate as a
// crash.
var (
	// ErrUnknownGridLine is returned when close progress is reported for a
	// price that has no open line. It indicates upstream desync: the caller
	// should resolve the line through the lifecycle tracker first.
	ErrUnknownGridLine = errors.New("ledger: unknown grid line")

	// ErrOrderNotFound is returned by reverse lookups for an order id no
	// grid line references.
	ErrOrderNotFound = errors.New("ledger: order not found")

	// ErrInvariantViolation is returned when a mutation would make
	// closeQty exceed openQty. The mutation is refused and the ledger is
	// left untouched.
	ErrInvariantViolation = errors.New("ledger: close volume would exceed open volume")
)
