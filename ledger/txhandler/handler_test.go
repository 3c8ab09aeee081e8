package txhandler

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/lunfardo314/unitrie/common"
	"github.com/lunfardo314/utxohandler/ledger"
	"github.com/lunfardo314/utxohandler/util/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

type testEnv struct {
	st    *ledger.State
	privs []ed25519.PrivateKey
	pubs  []ed25519.PublicKey
	oids  []ledger.OutputID
}

const numTestKeys = 5

func keyPair(n int) (ed25519.PrivateKey, ed25519.PublicKey) {
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(n))
	seed := blake2b.Sum256(common.Concat([]byte("txhandler test"), u16[:]))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv, priv.Public().(ed25519.PublicKey)
}

// newTestEnv makes state with one output per amount. Output i is owned by key i % numTestKeys
func newTestEnv(amounts ...int64) *testEnv {
	ret := &testEnv{
		st:    ledger.NewStateInMemory(),
		privs: make([]ed25519.PrivateKey, numTestKeys),
		pubs:  make([]ed25519.PublicKey, numTestKeys),
		oids:  make([]ledger.OutputID, len(amounts)),
	}
	for i := range ret.privs {
		ret.privs[i], ret.pubs[i] = keyPair(i)
	}
	for i, a := range amounts {
		ret.oids[i] = ledger.NewOutputID(ledger.TransactionID{}, uint16(i))
		ret.st.AddUTXO(&ret.oids[i], ledger.NewOutput(a, ret.pubs[i%numTestKeys]))
	}
	return ret
}

// makeTx consumes outputs and signs each input with the given key
func makeTx(consume []ledger.OutputID, signers []ed25519.PrivateKey, outs ...*ledger.Output) *ledger.Transaction {
	tx := ledger.NewTransaction()
	for _, oid := range consume {
		tx.Inputs = append(tx.Inputs, &ledger.Input{OutputID: oid})
	}
	tx.Outputs = append(tx.Outputs, outs...)
	for i := range consume {
		tx.SignInput(i, signers[i])
	}
	return tx
}

func (e *testEnv) spend(idx int, outs ...*ledger.Output) *ledger.Transaction {
	return makeTx([]ledger.OutputID{e.oids[idx]}, []ed25519.PrivateKey{e.privs[idx%numTestKeys]}, outs...)
}

func outputOf(tx *ledger.Transaction, idx uint16) ledger.OutputID {
	return ledger.NewOutputID(tx.ID(), idx)
}

func TestIsValidTx(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(60, e.pubs[1]), ledger.NewOutput(40, e.pubs[0]))
		require.NoError(t, h.CheckTransaction(tx))
		require.True(t, h.IsValidTx(tx))
	})
	t.Run("never created", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		oid := ledger.NewOutputID(ledger.TransactionID{}, 17)
		tx := makeTx([]ledger.OutputID{oid}, []ed25519.PrivateKey{e.privs[0]}, ledger.NewOutput(1, e.pubs[1]))
		require.False(t, h.IsValidTx(tx))
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrInputNotFound))
	})
	t.Run("already spent", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx1 := e.spend(0, ledger.NewOutput(100, e.pubs[1]))
		require.True(t, h.HandleTx(tx1))
		tx2 := e.spend(0, ledger.NewOutput(99, e.pubs[2]))
		require.False(t, h.IsValidTx(tx2))
		require.True(t, errors.Is(h.CheckTransaction(tx2), ErrInputNotFound))
	})
	t.Run("wrong key", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := makeTx(e.oids[:1], e.privs[1:2], ledger.NewOutput(100, e.pubs[1]))
		require.False(t, h.IsValidTx(tx))
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrInvalidSignature))
	})
	t.Run("outputs changed after signing", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(50, e.pubs[1]))
		tx.Outputs[0].Address = e.pubs[2]
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrInvalidSignature))
	})
	t.Run("missing signature", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(50, e.pubs[1]))
		tx.Inputs[0].Signature = nil
		require.False(t, h.IsValidTx(tx))
	})
	t.Run("output locked with malformed address", func(t *testing.T) {
		e := newTestEnv()
		oid := ledger.NewOutputID(ledger.TransactionID{}, 0)
		e.st.AddUTXO(&oid, ledger.NewOutput(10, []byte{1, 2, 3}))
		h := New(e.st)
		tx := makeTx([]ledger.OutputID{oid}, e.privs[:1], ledger.NewOutput(10, e.pubs[0]))
		require.NotPanics(t, func() {
			require.True(t, errors.Is(h.CheckTransaction(tx), ErrInvalidSignature))
		})
	})
	t.Run("internal double spend", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := makeTx(
			[]ledger.OutputID{e.oids[0], e.oids[0]},
			[]ed25519.PrivateKey{e.privs[0], e.privs[0]},
			ledger.NewOutput(150, e.pubs[1]),
		)
		// each input verifies on its own
		require.NoError(t, checkSignatures(h.state, tx))
		require.False(t, h.IsValidTx(tx))
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrDoubleSpend))
	})
	t.Run("negative output", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(-1, e.pubs[1]), ledger.NewOutput(50, e.pubs[1]))
		require.False(t, h.IsValidTx(tx))
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrNegativeOutput))
	})
	t.Run("zero output", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(0, e.pubs[1]))
		require.True(t, h.IsValidTx(tx))
	})
	t.Run("inputs less than outputs", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(101, e.pubs[1]))
		require.False(t, h.IsValidTx(tx))
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrInsufficientInputs))
	})
	t.Run("inputs equal outputs", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(70, e.pubs[1]), ledger.NewOutput(30, e.pubs[2]))
		require.True(t, h.IsValidTx(tx))
	})
	t.Run("inputs more than outputs", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(1, e.pubs[1]))
		require.True(t, h.IsValidTx(tx))
	})
	t.Run("several inputs", func(t *testing.T) {
		e := newTestEnv(10, 20, 30)
		h := New(e.st)
		tx := makeTx(e.oids, e.privs[:3], ledger.NewOutput(60, e.pubs[4]))
		require.True(t, h.IsValidTx(tx))
		tx = makeTx(e.oids, e.privs[:3], ledger.NewOutput(61, e.pubs[4]))
		require.False(t, h.IsValidTx(tx))
	})
	t.Run("outputs overflow", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		tx := e.spend(0, ledger.NewOutput(math.MaxInt64, e.pubs[1]), ledger.NewOutput(2, e.pubs[1]))
		require.False(t, h.IsValidTx(tx))
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrAmountOverflow))
	})
	t.Run("inputs overflow", func(t *testing.T) {
		e := newTestEnv(math.MaxInt64, 1)
		h := New(e.st)
		tx := makeTx(e.oids, e.privs[:2], ledger.NewOutput(1, e.pubs[1]))
		require.True(t, errors.Is(h.CheckTransaction(tx), ErrAmountOverflow))
	})
	t.Run("empty transaction", func(t *testing.T) {
		e := newTestEnv()
		h := New(e.st)
		require.True(t, h.IsValidTx(ledger.NewTransaction()))
	})
	t.Run("idempotent", func(t *testing.T) {
		e := newTestEnv(100, 200)
		h := New(e.st)
		valid := e.spend(0, ledger.NewOutput(100, e.pubs[2]))
		invalid := e.spend(1, ledger.NewOutput(201, e.pubs[2]))
		for i := 0; i < 5; i++ {
			require.True(t, h.IsValidTx(valid))
			require.False(t, h.IsValidTx(invalid))
		}
		st := h.State()
		require.EqualValues(t, 2, st.NumUTXOs())
		require.True(t, st.Contains(&e.oids[0]))
		require.True(t, st.Contains(&e.oids[1]))
	})
}

func TestChecks(t *testing.T) {
	e := newTestEnv(10, 20)
	t.Run("inputs exist", func(t *testing.T) {
		tx := e.spend(0, ledger.NewOutput(10, e.pubs[1]))
		require.NoError(t, checkInputsExist(e.st, tx))
		tx.Inputs[0].OutputID = ledger.NewOutputID(ledger.TransactionID{}, 5)
		require.True(t, errors.Is(checkInputsExist(e.st, tx), ErrInputNotFound))
	})
	t.Run("signatures do not dereference missing outputs", func(t *testing.T) {
		tx := e.spend(0, ledger.NewOutput(10, e.pubs[1]))
		tx.Inputs[0].OutputID = ledger.NewOutputID(ledger.TransactionID{}, 5)
		require.NotPanics(t, func() {
			require.True(t, errors.Is(checkSignatures(e.st, tx), ErrInputNotFound))
			require.True(t, errors.Is(checkValueBalance(e.st, tx), ErrInputNotFound))
		})
	})
	t.Run("no double spend", func(t *testing.T) {
		tx := makeTx(e.oids, e.privs[:2])
		require.NoError(t, checkNoDoubleSpend(tx))
		tx.Inputs[1].OutputID = tx.Inputs[0].OutputID
		require.True(t, errors.Is(checkNoDoubleSpend(tx), ErrDoubleSpend))
	})
	t.Run("non-negative", func(t *testing.T) {
		tx := e.spend(0, ledger.NewOutput(0, e.pubs[1]))
		require.NoError(t, checkOutputsNonNegative(tx))
		tx.Outputs[0].Amount = -5
		require.True(t, errors.Is(checkOutputsNonNegative(tx), ErrNegativeOutput))
	})
	t.Run("value balance", func(t *testing.T) {
		tx := makeTx(e.oids, e.privs[:2], ledger.NewOutput(30, e.pubs[1]))
		require.NoError(t, checkValueBalance(e.st, tx))
		tx.Outputs[0].Amount = 31
		require.True(t, errors.Is(checkValueBalance(e.st, tx), ErrInsufficientInputs))
	})
}

func TestHandleTxs(t *testing.T) {
	t.Run("competing spends resolved by order", func(t *testing.T) {
		e := newTestEnv(100)
		a := e.spend(0, ledger.NewOutput(100, e.pubs[1]))
		b := e.spend(0, ledger.NewOutput(100, e.pubs[2]))

		h := New(e.st)
		require.True(t, h.IsValidTx(a))
		require.True(t, h.IsValidTx(b))
		acc := h.HandleTxs([]*ledger.Transaction{a, b})
		require.EqualValues(t, 1, len(acc))
		require.True(t, acc[0] == a)

		h = New(e.st)
		acc = h.HandleTxs([]*ledger.Transaction{b, a})
		require.EqualValues(t, 1, len(acc))
		require.True(t, acc[0] == b)
	})
	t.Run("chained", func(t *testing.T) {
		e := newTestEnv(100)
		a := e.spend(0, ledger.NewOutput(100, e.pubs[1]))
		c := makeTx([]ledger.OutputID{outputOf(a, 0)}, e.privs[1:2], ledger.NewOutput(100, e.pubs[2]))

		h := New(e.st)
		require.False(t, h.IsValidTx(c))
		acc := h.HandleTxs([]*ledger.Transaction{a, c})
		require.EqualValues(t, 2, len(acc))
		st := h.State()
		require.EqualValues(t, 1, st.NumUTXOs())
		require.EqualValues(t, 100, st.Balance(e.pubs[2]))

		// c is evaluated before a's output exists and is not retried
		h = New(e.st)
		acc = h.HandleTxs([]*ledger.Transaction{c, a})
		require.EqualValues(t, 1, len(acc))
		require.True(t, acc[0] == a)
		st = h.State()
		require.EqualValues(t, 1, st.NumUTXOs())
		require.EqualValues(t, 100, st.Balance(e.pubs[1]))
		require.EqualValues(t, 0, st.Balance(e.pubs[2]))
		// now it is valid
		require.True(t, h.IsValidTx(c))
	})
	t.Run("ledger mutation is exact", func(t *testing.T) {
		e := newTestEnv(10, 20, 30, 40)
		tx1 := makeTx(e.oids[:2], e.privs[:2], ledger.NewOutput(15, e.pubs[4]), ledger.NewOutput(15, e.pubs[3]))
		tx2 := makeTx([]ledger.OutputID{outputOf(tx1, 1), e.oids[2]}, []ed25519.PrivateKey{e.privs[3], e.privs[2]},
			ledger.NewOutput(45, e.pubs[4]))
		bad := e.spend(3, ledger.NewOutput(41, e.pubs[4]))

		h := New(e.st)
		acc := h.HandleTxs([]*ledger.Transaction{bad, tx1, tx2})
		require.EqualValues(t, 2, len(acc))

		expected := map[ledger.OutputID]int64{
			outputOf(tx1, 0): 15,
			outputOf(tx2, 0): 45,
			e.oids[3]:        40,
		}
		st := h.State()
		require.EqualValues(t, len(expected), st.NumUTXOs())
		st.ForEachUTXO(func(oid *ledger.OutputID, out *ledger.Output) bool {
			amount, ok := expected[*oid]
			require.True(t, ok)
			require.EqualValues(t, amount, out.Amount)
			return true
		})
		for _, oid := range []ledger.OutputID{e.oids[0], e.oids[1], e.oids[2], outputOf(tx1, 1)} {
			require.False(t, st.Contains(&oid))
		}
		require.EqualValues(t, 60, st.Balance(e.pubs[4]))
	})
	t.Run("duplicates collapse", func(t *testing.T) {
		e := newTestEnv(100)
		a := e.spend(0, ledger.NewOutput(100, e.pubs[1]))
		aCopy, err := ledger.TransactionFromBytes(a.Bytes())
		require.NoError(t, err)

		h := New(e.st)
		acc := h.HandleTxs([]*ledger.Transaction{a, aCopy, a})
		require.EqualValues(t, 1, len(acc))
		require.EqualValues(t, 1, h.State().NumUTXOs())

		empty := ledger.NewTransaction()
		acc = h.HandleTxs([]*ledger.Transaction{empty, ledger.NewTransaction()})
		require.EqualValues(t, 1, len(acc))
	})
	t.Run("empty and nil", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		require.EqualValues(t, 0, len(h.HandleTxs(nil)))
		require.EqualValues(t, 0, len(h.HandleTxs([]*ledger.Transaction{nil})))
		a := e.spend(0, ledger.NewOutput(100, e.pubs[1]))
		require.EqualValues(t, 1, len(h.HandleTxs([]*ledger.Transaction{nil, a, nil})))
	})
	t.Run("oversized and malformed", func(t *testing.T) {
		e := newTestEnv(100, 200)
		good := e.spend(0, ledger.NewOutput(100, e.pubs[1]))

		tooManyOutputs := ledger.NewTransaction()
		for i := 0; i < ledger.MaxNumberOfOutputs+1; i++ {
			tooManyOutputs.Outputs = append(tooManyOutputs.Outputs, ledger.NewOutput(0, e.pubs[1]))
		}
		tooManyInputs := ledger.NewTransaction()
		for i := 0; i < ledger.MaxNumberOfInputs+1; i++ {
			tooManyInputs.Inputs = append(tooManyInputs.Inputs, &ledger.Input{
				OutputID: ledger.NewOutputID(ledger.TransactionID{1}, uint16(i)),
			})
		}
		nilOutput := e.spend(1, ledger.NewOutput(200, e.pubs[2]))
		nilOutput.Outputs = append(nilOutput.Outputs, nil)
		nilInput := ledger.NewTransaction()
		nilInput.Inputs = append(nilInput.Inputs, nil)

		for _, workers := range []int{0, 4} {
			h := New(e.st, WithParallelPrecheck(workers))
			require.True(t, errors.Is(h.CheckTransaction(tooManyOutputs), ErrTooManyOutputs))
			require.True(t, errors.Is(h.CheckTransaction(tooManyInputs), ErrTooManyInputs))
			require.True(t, errors.Is(h.CheckTransaction(nilOutput), ErrMalformed))
			require.True(t, errors.Is(h.CheckTransaction(nilInput), ErrMalformed))

			var acc []*ledger.Transaction
			require.NotPanics(t, func() {
				acc = h.HandleTxs([]*ledger.Transaction{tooManyOutputs, good, tooManyInputs, nilOutput, nilInput})
			})
			require.EqualValues(t, 1, len(acc))
			require.True(t, acc[0] == good)
			st := h.State()
			require.EqualValues(t, 2, st.NumUTXOs())
			require.True(t, st.Contains(&e.oids[1]))
		}
	})
	t.Run("all invalid", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		acc := h.HandleTxs([]*ledger.Transaction{
			e.spend(0, ledger.NewOutput(101, e.pubs[1])),
			e.spend(0, ledger.NewOutput(-1, e.pubs[1])),
			makeTx(e.oids, e.privs[1:2], ledger.NewOutput(1, e.pubs[1])),
		})
		require.EqualValues(t, 0, len(acc))
		st := h.State()
		require.EqualValues(t, 1, st.NumUTXOs())
		require.True(t, st.Contains(&e.oids[0]))
	})
	t.Run("handler owns its state", func(t *testing.T) {
		e := newTestEnv(100)
		h := New(e.st)
		a := e.spend(0, ledger.NewOutput(100, e.pubs[1]))
		require.True(t, h.HandleTx(a))
		// caller's snapshot is not affected
		require.True(t, e.st.Contains(&e.oids[0]))
		require.EqualValues(t, 1, e.st.NumUTXOs())

		// changes of the caller's snapshot are not seen by the handler
		oid := ledger.NewOutputID(ledger.TransactionID{}, 99)
		e.st.AddUTXO(&oid, ledger.NewOutput(5, e.pubs[0]))
		tx := makeTx([]ledger.OutputID{oid}, e.privs[:1], ledger.NewOutput(5, e.pubs[1]))
		require.False(t, h.IsValidTx(tx))

		// the returned state is a copy too
		st := h.State()
		st.AddUTXO(&oid, ledger.NewOutput(5, e.pubs[0]))
		require.False(t, h.IsValidTx(tx))
	})
	t.Run("with logger", func(t *testing.T) {
		log := testutil.NewSimpleLogger(true)
		e := newTestEnv(100)
		h := New(e.st, WithLogger(log))
		a := e.spend(0, ledger.NewOutput(100, e.pubs[1]))
		b := e.spend(0, ledger.NewOutput(100, e.pubs[2]))
		require.EqualValues(t, 1, len(h.HandleTxs([]*ledger.Transaction{a, b})))
		_ = log.Sync()
	})
}

func TestParallelPrecheck(t *testing.T) {
	const n = 50
	amounts := make([]int64, n)
	for i := range amounts {
		amounts[i] = int64(i + 1)
	}
	e := newTestEnv(amounts...)

	// mix of valid, invalid, competing and chained transactions
	batch := make([]*ledger.Transaction, 0)
	for i := 0; i < n; i++ {
		switch i % 5 {
		case 0:
			batch = append(batch, e.spend(i, ledger.NewOutput(-1, e.pubs[0])))
		case 1:
			first := e.spend(i, ledger.NewOutput(amounts[i], e.pubs[(i+1)%numTestKeys]))
			batch = append(batch, first, e.spend(i, ledger.NewOutput(amounts[i], e.pubs[(i+2)%numTestKeys])))
		case 2:
			batch = append(batch, e.spend(i, ledger.NewOutput(amounts[i]+1, e.pubs[0])))
		default:
			a := e.spend(i, ledger.NewOutput(amounts[i], e.pubs[(i+1)%numTestKeys]))
			c := makeTx([]ledger.OutputID{outputOf(a, 0)}, e.privs[(i+1)%numTestKeys:(i+1)%numTestKeys+1],
				ledger.NewOutput(amounts[i], e.pubs[i%numTestKeys]))
			if i%2 == 0 {
				batch = append(batch, a, c)
			} else {
				batch = append(batch, c, a)
			}
		}
	}
	hSerial := New(e.st)
	hParallel := New(e.st, WithParallelPrecheck(8))
	accSerial := hSerial.HandleTxs(batch)
	accParallel := hParallel.HandleTxs(batch)
	require.EqualValues(t, len(accSerial), len(accParallel))
	for i := range accSerial {
		require.True(t, accSerial[i] == accParallel[i])
	}
	stSerial := hSerial.State()
	stParallel := hParallel.State()
	require.EqualValues(t, stSerial.NumUTXOs(), stParallel.NumUTXOs())
	stSerial.ForEachUTXO(func(oid *ledger.OutputID, out *ledger.Output) bool {
		outP, found := stParallel.GetUTXO(oid)
		require.True(t, found)
		require.EqualValues(t, out.Bytes(), outP.Bytes())
		return true
	})
	t.Logf("accepted %d out of %d", len(accSerial), len(batch))
}
