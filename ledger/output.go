package ledger

import (
	"fmt"

	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/utxohandler"
	"github.com/lunfardo314/utxohandler/lazyslice"
	"golang.org/x/crypto/ed25519"
)

const (
	outputIndexAmount = iota
	outputIndexAddress
	outputNumElements
)

type (
	// Output is a value locked in the address. Amount is in minor units.
	// Address is the ed25519 public key of the owner, the one who can unlock the output
	Output struct {
		Amount  int64
		Address ed25519.PublicKey
	}

	OutputWithID struct {
		ID     OutputID
		Output *Output
	}
)

func NewOutput(amount int64, addr ed25519.PublicKey) *Output {
	return &Output{
		Amount:  amount,
		Address: addr,
	}
}

func (o *Output) Clone() *Output {
	return &Output{
		Amount:  o.Amount,
		Address: append(ed25519.PublicKey(nil), o.Address...),
	}
}

func (o *Output) Bytes() []byte {
	return lazyslice.MakeArray(utxohandler.EncodeInteger(o.Amount), []byte(o.Address)).Bytes()
}

func OutputFromBytes(data []byte) (*Output, error) {
	arr, err := lazyslice.ParseArrayOfLen(data, outputNumElements)
	if err != nil {
		return nil, fmt.Errorf("OutputFromBytes: %v", err)
	}
	amount, ok := utxohandler.DecodeIntegerStrict[int64](arr.At(outputIndexAmount))
	if !ok {
		return nil, fmt.Errorf("OutputFromBytes: wrong amount data")
	}
	return &Output{
		Amount:  amount,
		Address: append(ed25519.PublicKey(nil), arr.At(outputIndexAddress)...),
	}, nil
}

func (o *Output) String() string {
	return fmt.Sprintf("amount: %d, address: %s", o.Amount, easyfl.Fmt(o.Address))
}
