package ferrule

import (
	"errors"

	"grimm.is/ferrule/xt"
)

// Construction-time errors originate in the schema layer; they are re-exported
// here so callers need a single import for the whole taxonomy.
var (
	ErrUnsupportedKind  = xt.ErrUnsupportedKind
	ErrUnknownParameter = xt.ErrUnknownParameter
	ErrInvalidParameter = xt.ErrInvalidParameter
)

var (
	// ErrConflictingMatch reports an attach of a match that cannot coexist
	// with one already on the rule.
	ErrConflictingMatch = errors.New("ferrule: conflicting match")

	// ErrMissingTarget reports serialization of a rule with no target.
	ErrMissingTarget = errors.New("ferrule: rule has no target")

	// ErrNoSuchTable reports a table name outside the family's fixed set.
	ErrNoSuchTable = errors.New("ferrule: no such table")

	// ErrNoSuchChain reports a chain name absent from the table.
	ErrNoSuchChain = errors.New("ferrule: no such chain")

	// ErrNoSuchRule reports a delete of a rule the chain does not hold.
	ErrNoSuchRule = errors.New("ferrule: no such rule")

	// ErrDuplicateChain reports creation of a chain whose name exists.
	ErrDuplicateChain = errors.New("ferrule: duplicate chain")

	// ErrBuiltinChain reports deletion or renaming of a built-in chain.
	ErrBuiltinChain = errors.New("ferrule: chain is built in")

	// ErrNotBuiltinChain reports a policy set on a user-defined chain.
	ErrNotBuiltinChain = errors.New("ferrule: chain is not built in")

	// ErrChainInUse reports deletion of a chain other rules still jump to.
	ErrChainInUse = errors.New("ferrule: chain is in use")

	// ErrNotEmpty reports deletion of a chain that still holds rules.
	ErrNotEmpty = errors.New("ferrule: chain is not empty")

	// ErrKernelTransaction wraps any failure reported by the kernel
	// transport during commit or refresh, including permission failures.
	ErrKernelTransaction = errors.New("ferrule: kernel transaction failed")

	// ErrUnsupportedPlatform is returned by the kernel transport on
	// non-Linux builds.
	ErrUnsupportedPlatform = errors.New("ferrule: x_tables transport requires linux")
)
