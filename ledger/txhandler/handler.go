package txhandler

import (
	"sync"

	"github.com/lunfardo314/utxohandler/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler validates transactions and applies them to its own copy of the ledger state
type Handler struct {
	mutex           sync.RWMutex
	state           *ledger.State
	log             *zap.SugaredLogger
	precheckWorkers int
}

type prechecked struct {
	txid ledger.TransactionID
	err  error
}

// New creates handler with a copy of the state. Later changes of st are not seen by the handler and vice versa
func New(st *ledger.State, opts ...Option) *Handler {
	ret := &Handler{
		state: st.Clone(),
		log:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// State returns a copy of the current ledger state
func (h *Handler) State() *ledger.State {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return h.state.Clone()
}

// CheckTransaction returns nil if the transaction is valid against current ledger state,
// otherwise the reason why it is not
func (h *Handler) CheckTransaction(tx *ledger.Transaction) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return checkTransaction(h.state, tx)
}

// IsValidTx returns true if all of the following holds:
// - all outputs claimed by tx are in the current ledger state
// - signatures on each input are valid
// - no output is claimed more than once by tx
// - all output amounts are non-negative
// - sum of input amounts is greater or equal to the sum of output amounts
func (h *Handler) IsValidTx(tx *ledger.Transaction) bool {
	return h.CheckTransaction(tx) == nil
}

func checkTransaction(st *ledger.State, tx *ledger.Transaction) error {
	if err := checkStateless(tx); err != nil {
		return err
	}
	return checkStateful(st, tx)
}

// HandleTxs processes the batch of transactions in the order given. Each transaction is checked against
// the ledger state updated by all transactions accepted before it. Valid transaction is accepted and
// applied immediately, invalid is dropped and never retried. Returns accepted transactions.
// The result depends on the order: of two transactions spending the same output, the first one wins
func (h *Handler) HandleTxs(txs []*ledger.Transaction) []*ledger.Transaction {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	pre := h.precheck(txs)
	ret := make([]*ledger.Transaction, 0, len(txs))
	accepted := make(map[ledger.TransactionID]struct{})
	for i, tx := range txs {
		if tx == nil {
			continue
		}
		if pre[i].err != nil {
			h.log.Debugf("rejected candidate #%d: %v", i, pre[i].err)
			continue
		}
		txid := pre[i].txid
		if _, already := accepted[txid]; already {
			h.log.Debugf("%s already accepted in this batch", txid.String())
			continue
		}
		if err := checkStateful(h.state, tx); err != nil {
			h.log.Debugf("rejected %s: %v", txid.String(), err)
			continue
		}
		h.commit(tx, txid)
		accepted[txid] = struct{}{}
		ret = append(ret, tx)
		h.log.Debugf("accepted %s", txid.String())
	}
	h.log.Infof("accepted %d transaction(s) out of %d", len(ret), len(txs))
	return ret
}

// HandleTx is HandleTxs for one transaction
func (h *Handler) HandleTx(tx *ledger.Transaction) bool {
	return len(h.HandleTxs([]*ledger.Transaction{tx})) == 1
}

// precheck runs checks which do not depend on the ledger state and computes IDs of transactions which passed them
func (h *Handler) precheck(txs []*ledger.Transaction) []prechecked {
	ret := make([]prechecked, len(txs))
	one := func(i int) {
		if txs[i] == nil {
			return
		}
		if ret[i].err = checkStateless(txs[i]); ret[i].err != nil {
			return
		}
		ret[i].txid = txs[i].ID()
	}
	if h.precheckWorkers <= 1 || len(txs) < 2 {
		for i := range txs {
			one(i)
		}
		return ret
	}
	var g errgroup.Group
	g.SetLimit(h.precheckWorkers)
	for i := range txs {
		i := i
		g.Go(func() error {
			one(i)
			return nil
		})
	}
	_ = g.Wait()
	return ret
}

// commit deletes consumed outputs and adds produced outputs to the ledger state
func (h *Handler) commit(tx *ledger.Transaction, txid ledger.TransactionID) {
	consumed := make([]ledger.OutputID, len(tx.Inputs))
	for i, inp := range tx.Inputs {
		consumed[i] = inp.OutputID
	}
	produced := make([]*ledger.OutputWithID, len(tx.Outputs))
	for i, o := range tx.Outputs {
		produced[i] = &ledger.OutputWithID{
			ID:     ledger.NewOutputID(txid, uint16(i)),
			Output: o,
		}
	}
	h.state.Update(consumed, produced)
}
