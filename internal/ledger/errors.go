package ledger

import "errors"

var (
	ErrInvalidFare         = errors.New("invalid fare")
	ErrNotFound            = errors.New("ride not found")
	ErrInvalidState        = errors.New("invalid ride state")
	ErrUnauthorized        = errors.New("unauthorized caller")
	ErrNotRegisteredDriver = errors.New("caller is not a registered driver")
	ErrReentrant           = errors.New("reentrant call")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInvalidProfile      = errors.New("invalid driver profile")
	ErrAlreadyRegistered   = errors.New("driver already registered")
	ErrInvalidFee          = errors.New("invalid platform fee")
	ErrInvalidOwner        = errors.New("invalid owner")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidFare, "InvalidFare"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidState, "InvalidState"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrNotRegisteredDriver, "NotRegisteredDriver"},
	{ErrReentrant, "Reentrant"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrInvalidProfile, "InvalidProfile"},
	{ErrAlreadyRegistered, "AlreadyRegistered"},
	{ErrInvalidFee, "InvalidFee"},
	{ErrInvalidOwner, "InvalidOwner"},
}

// Kind returns the taxonomy name of a ledger error, "" for nil and
// "Internal" for anything the ledger did not produce.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	// TransferFailed wraps the vault cause, so it must be matched before
	// anything the cause could also satisfy.
	if errors.Is(err, ErrTransferFailed) {
		return "TransferFailed"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
