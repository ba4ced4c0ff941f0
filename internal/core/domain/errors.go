package domain

import "errors"

var (
	// ErrTradeIdMismatch is thrown when a protocol message carries a trade id
	// different from the one of the trade it was routed to.
	ErrTradeIdMismatch = errors.New("message trade id does not match trade")
	// ErrMessageAlreadyProcessed is thrown when a message with an already
	// processed uid is applied a second time.
	ErrMessageAlreadyProcessed = errors.New("message uid already processed")
	// ErrIllegalStateTransition is thrown when a trade is asked to move to a
	// state not reachable from the current one.
	ErrIllegalStateTransition = errors.New("illegal trade state transition")
	// ErrIllegalMessageForState is thrown when a message type does not apply
	// to the current trade state.
	ErrIllegalMessageForState = errors.New("message not applicable for current trade state")
	// ErrActionNotAllowedForRole is thrown when a local action is performed
	// by the wrong side of the trade.
	ErrActionNotAllowedForRole = errors.New("action not allowed for trade role")
	// ErrMissingDepositTx is thrown when opening a dispute for a trade whose
	// deposit transaction for the opener role is unknown.
	ErrMissingDepositTx = errors.New("deposit transaction id is missing")
	// ErrDisputeAlreadyOpen is thrown when opening a second dispute overlay
	// while one is still unresolved.
	ErrDisputeAlreadyOpen = errors.New("a dispute is already open for this trade")
	// ErrDisputeNotFound ...
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrDisputeSupportTypeMismatch is thrown when a dispute with a wrong
	// support type is added to a dispute list.
	ErrDisputeSupportTypeMismatch = errors.New("dispute support type does not match list")
	// ErrPayoutWhileDisputeOpen is thrown when completing a payout for a
	// trade whose dispute is still unresolved.
	ErrPayoutWhileDisputeOpen = errors.New("payout not allowed while dispute is open")
	// ErrAddressEntryNotFound ...
	ErrAddressEntryNotFound = errors.New("address entry not found")
	// ErrAddressIndexInUse is thrown when a second non-available entry would
	// be created for the same subaddress index.
	ErrAddressIndexInUse = errors.New("subaddress index already reserved")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
)
