package engine

import "errors"

var (
	// ErrMarketNotTradable is returned when the market is not live.
	ErrMarketNotTradable = errors.New("engine: market is not open for trading")

	// ErrUnknownOutcome is returned when the outcome does not belong to the
	// market.
	ErrUnknownOutcome = errors.New("engine: outcome not found in this market")

	// ErrZeroShareTrade is returned for shares == 0. A no-op trade is
	// rejected rather than silently accepted, to surface client bugs.
	ErrZeroShareTrade = errors.New("engine: shares must be non-zero")

	// ErrAlreadyResolved is returned when a lifecycle operation hits a
	// resolved market. Resolution is terminal.
	ErrAlreadyResolved = errors.New("engine: market already resolved")

	// ErrInvalidTransition is returned for any other disallowed lifecycle
	// transition.
	ErrInvalidTransition = errors.New("engine: invalid status transition")

	// ErrInvalidOutcomes is returned at creation when the outcome set is
	// malformed (fewer than 2, empty labels, duplicate display orders).
	ErrInvalidOutcomes = errors.New("engine: invalid outcome set")
)
