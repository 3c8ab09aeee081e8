package txhandler

import "errors"

var (
	ErrInputNotFound      = errors.New("consumed output is not in the ledger")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrDoubleSpend        = errors.New("output is consumed more than once")
	ErrNegativeOutput     = errors.New("negative output amount")
	ErrInsufficientInputs = errors.New("sum of inputs is less than sum of outputs")
	ErrAmountOverflow     = errors.New("amount overflow")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrMalformed          = errors.New("malformed transaction")
)
