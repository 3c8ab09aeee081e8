package ledger

import (
	"fmt"

	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/unitrie/common"
	"github.com/lunfardo314/utxohandler/lazyslice"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

// transaction is serialized as lazyslice.Array of two arrays: inputs and outputs
const (
	TxInputs = iota
	TxOutputs
	TxNumElements
)

const (
	inputIndexOutputID = iota
	inputIndexSignature
	inputNumElements
)

const (
	MaxNumberOfInputs  = lazyslice.MaxArrayLen
	MaxNumberOfOutputs = lazyslice.MaxArrayLen
)

type (
	// Input claims UTXO. Signature is produced by the owner of the claimed output
	// over the essence of the consuming transaction for this input
	Input struct {
		OutputID  OutputID
		Signature []byte
	}

	Transaction struct {
		Inputs  []*Input
		Outputs []*Output
	}
)

func NewTransaction() *Transaction {
	return &Transaction{
		Inputs:  make([]*Input, 0),
		Outputs: make([]*Output, 0),
	}
}

func (inp *Input) Bytes() []byte {
	return lazyslice.MakeArray(inp.OutputID[:], inp.Signature).Bytes()
}

func inputFromBytes(data []byte) (*Input, error) {
	arr, err := lazyslice.ParseArrayOfLen(data, inputNumElements)
	if err != nil {
		return nil, err
	}
	oid, err := OutputIDFromBytes(arr.At(inputIndexOutputID))
	if err != nil {
		return nil, err
	}
	return &Input{
		OutputID:  oid,
		Signature: append([]byte(nil), arr.At(inputIndexSignature)...),
	}, nil
}

func (tx *Transaction) NumInputs() int {
	return len(tx.Inputs)
}

func (tx *Transaction) NumOutputs() int {
	return len(tx.Outputs)
}

func (tx *Transaction) inputsArray() *lazyslice.Array {
	ret := lazyslice.EmptyArray(MaxNumberOfInputs)
	for _, inp := range tx.Inputs {
		ret.Push(inp.Bytes())
	}
	return ret
}

func (tx *Transaction) outputsArray() *lazyslice.Array {
	ret := lazyslice.EmptyArray(MaxNumberOfOutputs)
	for _, o := range tx.Outputs {
		ret.Push(o.Bytes())
	}
	return ret
}

func (tx *Transaction) Bytes() []byte {
	return lazyslice.MakeArray(tx.inputsArray(), tx.outputsArray()).Bytes()
}

// ID is the hash of the whole transaction, signatures included
func (tx *Transaction) ID() TransactionID {
	return blake2b.Sum256(tx.Bytes())
}

// EssenceBytes is the data signed by the owner of the output consumed by the input idx:
// the claimed output ID and all produced outputs
func (tx *Transaction) EssenceBytes(idx int) []byte {
	easyfl.Assert(idx >= 0 && idx < len(tx.Inputs), "EssenceBytes: input index %d out of range", idx)
	return common.Concat(tx.Inputs[idx].OutputID[:], tx.outputsArray().Bytes())
}

// SignInput puts signature of the private key to the input idx
func (tx *Transaction) SignInput(idx int, privateKey ed25519.PrivateKey) {
	tx.Inputs[idx].Signature = ed25519.Sign(privateKey, tx.EssenceBytes(idx))
}

func (tx *Transaction) ForEachInput(fun func(i int, inp *Input) bool) {
	for i, inp := range tx.Inputs {
		if !fun(i, inp) {
			return
		}
	}
}

func (tx *Transaction) ForEachOutput(fun func(i int, o *Output) bool) {
	for i, o := range tx.Outputs {
		if !fun(i, o) {
			return
		}
	}
}

// ProducedOutputIDs returns IDs the outputs will have in the ledger once the transaction is committed
func (tx *Transaction) ProducedOutputIDs() []OutputID {
	txid := tx.ID()
	ret := make([]OutputID, len(tx.Outputs))
	for i := range tx.Outputs {
		ret[i] = NewOutputID(txid, uint16(i))
	}
	return ret
}

func TransactionFromBytes(data []byte) (*Transaction, error) {
	arr, err := lazyslice.ParseArrayOfLen(data, TxNumElements)
	if err != nil {
		return nil, fmt.Errorf("TransactionFromBytes: %v", err)
	}
	inputs, err := lazyslice.ParseArray(arr.At(TxInputs), MaxNumberOfInputs)
	if err != nil {
		return nil, fmt.Errorf("TransactionFromBytes: inputs: %v", err)
	}
	outputs, err := lazyslice.ParseArray(arr.At(TxOutputs), MaxNumberOfOutputs)
	if err != nil {
		return nil, fmt.Errorf("TransactionFromBytes: outputs: %v", err)
	}
	ret := &Transaction{
		Inputs:  make([]*Input, inputs.NumElements()),
		Outputs: make([]*Output, outputs.NumElements()),
	}
	for i := range ret.Inputs {
		if ret.Inputs[i], err = inputFromBytes(inputs.At(i)); err != nil {
			return nil, fmt.Errorf("TransactionFromBytes: input #%d: %v", i, err)
		}
	}
	for i := range ret.Outputs {
		if ret.Outputs[i], err = OutputFromBytes(outputs.At(i)); err != nil {
			return nil, fmt.Errorf("TransactionFromBytes: output #%d: %v", i, err)
		}
	}
	return ret, nil
}

func (tx *Transaction) String() string {
	txid := tx.ID()
	return fmt.Sprintf("tx %s (in: %d, out: %d)", txid.String(), len(tx.Inputs), len(tx.Outputs))
}
