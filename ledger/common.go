package ledger

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/utxohandler"
)

const (
	TransactionIDLength = 32
	OutputIDLength      = TransactionIDLength + 2
)

// GenesisOutputID is an all-0 outputID
var GenesisOutputID OutputID

type (
	TransactionID [TransactionIDLength]byte
	// OutputID is the UTXO identifier: ID of the producing transaction and index of the output in it
	OutputID [OutputIDLength]byte
)

func TransactionIDFromBytes(data []byte) (ret TransactionID, err error) {
	if len(data) != TransactionIDLength {
		err = errors.New("TransactionIDFromBytes: wrong data length")
		return
	}
	copy(ret[:], data)
	return
}

func (txid *TransactionID) Bytes() []byte {
	return txid[:]
}

func (txid *TransactionID) String() string {
	return easyfl.Fmt(txid[:])
}

func NewOutputID(id TransactionID, idx uint16) (ret OutputID) {
	copy(ret[:TransactionIDLength], id[:])
	copy(ret[TransactionIDLength:], utxohandler.EncodeInteger(idx))
	return
}

func OutputIDFromBytes(data []byte) (ret OutputID, err error) {
	if len(data) != OutputIDLength {
		err = errors.New("OutputIDFromBytes: wrong data length")
		return
	}
	copy(ret[:], data)
	return
}

func (oid *OutputID) String() string {
	txid := oid.TransactionID()
	return fmt.Sprintf("[%d]%s", oid.Index(), txid.String())
}

func (oid *OutputID) TransactionID() (ret TransactionID) {
	copy(ret[:], oid[:TransactionIDLength])
	return
}

func (oid *OutputID) Index() uint16 {
	return utxohandler.DecodeInteger[uint16](oid[TransactionIDLength:])
}

func (oid *OutputID) Bytes() []byte {
	return oid[:]
}

// Less orders output IDs lexicographically, i.e. by transaction ID, then by index
func (oid *OutputID) Less(other *OutputID) bool {
	return bytes.Compare(oid[:], other[:]) < 0
}
