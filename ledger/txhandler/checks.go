package txhandler

import (
	"fmt"

	"github.com/lunfardo314/utxohandler"
	"github.com/lunfardo314/utxohandler/ledger"
)

// checkInputsExist all consumed outputs must be in the ledger state
func checkInputsExist(st *ledger.State, tx *ledger.Transaction) error {
	for i, inp := range tx.Inputs {
		if !st.Contains(&inp.OutputID) {
			return fmt.Errorf("%w: input #%d claims %s", ErrInputNotFound, i, inp.OutputID.String())
		}
	}
	return nil
}

// checkSignatures each input must be signed by the owner of the consumed output.
// Assumes checkInputsExist passed
func checkSignatures(st *ledger.State, tx *ledger.Transaction) error {
	for i, inp := range tx.Inputs {
		consumed, found := st.GetUTXO(&inp.OutputID)
		if !found {
			return fmt.Errorf("%w: input #%d claims %s", ErrInputNotFound, i, inp.OutputID.String())
		}
		if !ledger.VerifySignature(consumed.Address, tx.EssenceBytes(i), inp.Signature) {
			return fmt.Errorf("%w: input #%d", ErrInvalidSignature, i)
		}
	}
	return nil
}

// checkNoDoubleSpend no output can be claimed twice in the same transaction
func checkNoDoubleSpend(tx *ledger.Transaction) error {
	claimed := make(map[ledger.OutputID]struct{}, len(tx.Inputs))
	for i, inp := range tx.Inputs {
		if _, already := claimed[inp.OutputID]; already {
			return fmt.Errorf("%w: repeating input @ %d", ErrDoubleSpend, i)
		}
		claimed[inp.OutputID] = struct{}{}
	}
	return nil
}

func checkOutputsNonNegative(tx *ledger.Transaction) error {
	for i, o := range tx.Outputs {
		if o.Amount < 0 {
			return fmt.Errorf("%w: output #%d has amount %d", ErrNegativeOutput, i, o.Amount)
		}
	}
	return nil
}

// checkValueBalance sum of consumed amounts must cover sum of produced amounts.
// The difference, if any, is not tracked. Assumes checkInputsExist passed
func checkValueBalance(st *ledger.State, tx *ledger.Transaction) error {
	totalIn, err := sumConsumed(st, tx)
	if err != nil {
		return err
	}
	totalOut, err := sumProduced(tx)
	if err != nil {
		return err
	}
	if totalIn < totalOut {
		return fmt.Errorf("%w: in %d < out %d", ErrInsufficientInputs, totalIn, totalOut)
	}
	return nil
}

func sumConsumed(st *ledger.State, tx *ledger.Transaction) (int64, error) {
	amounts := make([]int64, len(tx.Inputs))
	for i, inp := range tx.Inputs {
		consumed, found := st.GetUTXO(&inp.OutputID)
		if !found {
			return 0, fmt.Errorf("%w: input #%d claims %s", ErrInputNotFound, i, inp.OutputID.String())
		}
		amounts[i] = consumed.Amount
	}
	ret, ok := utxohandler.SumInt64(amounts...)
	if !ok {
		return 0, fmt.Errorf("%w: sum of inputs", ErrAmountOverflow)
	}
	return ret, nil
}

func sumProduced(tx *ledger.Transaction) (int64, error) {
	amounts := make([]int64, len(tx.Outputs))
	for i, o := range tx.Outputs {
		amounts[i] = o.Amount
	}
	ret, ok := utxohandler.SumInt64(amounts...)
	if !ok {
		return 0, fmt.Errorf("%w: sum of outputs", ErrAmountOverflow)
	}
	return ret, nil
}

// checkWellFormed transaction must be serializable, otherwise it has no ID
func checkWellFormed(tx *ledger.Transaction) error {
	if len(tx.Inputs) > ledger.MaxNumberOfInputs {
		return fmt.Errorf("%w: %d > %d", ErrTooManyInputs, len(tx.Inputs), ledger.MaxNumberOfInputs)
	}
	if len(tx.Outputs) > ledger.MaxNumberOfOutputs {
		return fmt.Errorf("%w: %d > %d", ErrTooManyOutputs, len(tx.Outputs), ledger.MaxNumberOfOutputs)
	}
	for i, inp := range tx.Inputs {
		if inp == nil {
			return fmt.Errorf("%w: nil input #%d", ErrMalformed, i)
		}
	}
	for i, o := range tx.Outputs {
		if o == nil {
			return fmt.Errorf("%w: nil output #%d", ErrMalformed, i)
		}
	}
	return nil
}

// checkStateless checks which do not depend on the ledger state. Must pass before anything serializes the transaction
func checkStateless(tx *ledger.Transaction) error {
	if err := checkWellFormed(tx); err != nil {
		return err
	}
	if err := checkNoDoubleSpend(tx); err != nil {
		return err
	}
	return checkOutputsNonNegative(tx)
}

// checkStateful checks which depend on the ledger state, in order which never dereferences a missing output
func checkStateful(st *ledger.State, tx *ledger.Transaction) error {
	if err := checkInputsExist(st, tx); err != nil {
		return err
	}
	if err := checkSignatures(st, tx); err != nil {
		return err
	}
	return checkValueBalance(st, tx)
}
