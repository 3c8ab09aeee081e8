package ledger

import (
	"sort"

	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/unitrie/common"
	"github.com/lunfardo314/utxohandler"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

type KVStore interface {
	common.KVReader
	common.BatchedUpdatable
	common.Traversable
}

// State is the ledger state: the set of all UTXOs.
// UTXO partition maps output ID to the output. Account partition indexes output IDs by owner
type State struct {
	store KVStore
}

const (
	PartitionUTXO = byte(iota)
	PartitionAccounts
)

func NewState(store KVStore) *State {
	return &State{store}
}

// NewStateInMemory mostly for testing
func NewStateInMemory() *State {
	return NewState(common.NewInMemoryKVStore())
}

// NewStateFrom makes a full independent copy of the state in memory
func NewStateFrom(src *State) *State {
	ret := NewStateInMemory()
	batch := ret.store.BatchedWriter()
	src.store.Iterator(nil).Iterate(func(k, v []byte) bool {
		batch.Set(common.Concat(k), common.Concat(v))
		return true
	})
	easyfl.AssertNoError(batch.Commit())
	return ret
}

// Clone is NewStateFrom(s)
func (s *State) Clone() *State {
	return NewStateFrom(s)
}

func utxoKey(oid *OutputID) []byte {
	return common.Concat(PartitionUTXO, oid[:])
}

func accountPrefix(addr ed25519.PublicKey) []byte {
	// account ID is fixed length for any address
	h := blake2b.Sum256(addr)
	return common.Concat(PartitionAccounts, h[:])
}

func accountKey(addr ed25519.PublicKey, oid *OutputID) []byte {
	return common.Concat(accountPrefix(addr), oid[:])
}

func (s *State) Contains(oid *OutputID) bool {
	return len(s.store.Get(utxoKey(oid))) > 0
}

// GetUTXO returns output if it is in the state
func (s *State) GetUTXO(oid *OutputID) (*Output, bool) {
	data := s.store.Get(utxoKey(oid))
	if len(data) == 0 {
		return nil, false
	}
	ret, err := OutputFromBytes(data)
	easyfl.AssertNoError(err)
	return ret, true
}

// AddUTXO records the output. Existing output with the same ID is overwritten
func (s *State) AddUTXO(oid *OutputID, out *Output) {
	s.Update(nil, []*OutputWithID{{ID: *oid, Output: out}})
}

// RemoveUTXO deletes the output. No-op if it is not in the state
func (s *State) RemoveUTXO(oid *OutputID) {
	s.Update([]OutputID{*oid}, nil)
}

// Update deletes consumed outputs and adds produced outputs in one batch
func (s *State) Update(consumed []OutputID, produced []*OutputWithID) {
	batch := s.store.BatchedWriter()
	for i := range consumed {
		s.deleteUTXO(batch, &consumed[i])
	}
	for _, o := range produced {
		s.deleteUTXO(batch, &o.ID)
		batch.Set(utxoKey(&o.ID), o.Output.Bytes())
		batch.Set(accountKey(o.Output.Address, &o.ID), []byte{0xff})
	}
	easyfl.AssertNoError(batch.Commit())
}

func (s *State) deleteUTXO(batch common.KVWriter, oid *OutputID) {
	out, found := s.GetUTXO(oid)
	if !found {
		return
	}
	batch.Set(utxoKey(oid), nil)
	batch.Set(accountKey(out.Address, oid), nil)
}

// NumUTXOs number of all outputs in the state
func (s *State) NumUTXOs() int {
	ret := 0
	s.store.Iterator([]byte{PartitionUTXO}).IterateKeys(func(_ []byte) bool {
		ret++
		return true
	})
	return ret
}

// ForEachUTXO iterates all outputs in ascending order of output IDs
func (s *State) ForEachUTXO(fun func(oid *OutputID, out *Output) bool) {
	all := make([]*OutputWithID, 0)
	s.store.Iterator([]byte{PartitionUTXO}).Iterate(func(k, v []byte) bool {
		oid, err := OutputIDFromBytes(k[1:])
		easyfl.AssertNoError(err)
		out, err := OutputFromBytes(v)
		easyfl.AssertNoError(err)
		all = append(all, &OutputWithID{ID: oid, Output: out})
		return true
	})
	sortOutputs(all)
	for _, o := range all {
		if !fun(&o.ID, o.Output) {
			return
		}
	}
}

// GetUTXOsForAddress returns all outputs owned by the address in ascending order of output IDs
func (s *State) GetUTXOsForAddress(addr ed25519.PublicKey) ([]*OutputWithID, error) {
	ret := make([]*OutputWithID, 0)
	prefix := accountPrefix(addr)
	var err error
	s.store.Iterator(prefix).IterateKeys(func(k []byte) bool {
		var oid OutputID
		if oid, err = OutputIDFromBytes(k[len(prefix):]); err != nil {
			return false
		}
		out, found := s.GetUTXO(&oid)
		if !found {
			// index entry without the output would be a bug in Update
			common.Assert(false, "GetUTXOsForAddress: inconsistent account index for %s", oid.String())
		}
		ret = append(ret, &OutputWithID{ID: oid, Output: out})
		return true
	})
	if err != nil {
		return nil, err
	}
	sortOutputs(ret)
	return ret, nil
}

// Balance is the sum of amounts of all outputs owned by the address
func (s *State) Balance(addr ed25519.PublicKey) int64 {
	outs, err := s.GetUTXOsForAddress(addr)
	easyfl.AssertNoError(err)
	amounts := make([]int64, len(outs))
	for i, o := range outs {
		amounts[i] = o.Output.Amount
	}
	ret, ok := utxohandler.SumInt64(amounts...)
	easyfl.Assert(ok, "Balance: overflow")
	return ret
}

func sortOutputs(outs []*OutputWithID) {
	sort.Slice(outs, func(i, j int) bool {
		return outs[i].ID.Less(&outs[j].ID)
	})
}
