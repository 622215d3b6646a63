package registry

import "errors"

// Rejection reasons. Every failed operation returns one of these, possibly
// wrapped, and leaves the registry unchanged.
var (
	ErrInsufficientFee   = errors.New("insufficient fee")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("registration not found")
	ErrDomainMismatch    = errors.New("domain mismatch")
	ErrRevoked           = errors.New("registration revoked")
	ErrNotApproved       = errors.New("registration not approved")
	ErrInvalidDomain     = errors.New("invalid domain")
	ErrInvalidSubject    = errors.New("invalid subject")
	ErrFeeOverflow       = errors.New("fee overflows the collected balance")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInsufficientFee, "InsufficientFee"},
	{ErrAlreadyRegistered, "AlreadyRegistered"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrNotFound, "NotFound"},
	{ErrDomainMismatch, "DomainMismatch"},
	{ErrRevoked, "Revoked"},
	{ErrNotApproved, "NotApproved"},
	{ErrInvalidDomain, "InvalidDomain"},
	{ErrInvalidSubject, "InvalidSubject"},
	{ErrFeeOverflow, "FeeOverflow"},
}

// Code returns the stable identifier of a rejection, "" for nil and
// "Internal" for anything that is not a rejection.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
