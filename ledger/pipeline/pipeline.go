package pipeline

import (
	"errors"
	"sync"

	"github.com/lunfardo314/unitrie/common"
	"github.com/lunfardo314/utxohandler/ledger"
	"github.com/lunfardo314/utxohandler/ledger/txhandler"
	"github.com/lunfardo314/utxohandler/util/fifoqueue"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Pipeline settles epochs of raw transactions in two stages:
// parser turns bytes into transactions and drops unparsable ones,
// settler runs each epoch through the handler, one epoch at a time, in the order of arrival
type Pipeline struct {
	log       *zap.SugaredLogger
	handler   *txhandler.Handler
	parser    *fifoqueue.FIFOQueue[*rawEpoch]
	settler   *fifoqueue.FIFOQueue[*parsedEpoch]
	onSettled func(epoch uint64, accepted []*ledger.Transaction)
	done      chan struct{}

	// serializes submissions with Stop
	submitMutex sync.Mutex

	nextEpoch   atomic.Uint64
	numReceived atomic.Uint64
	numDropped  atomic.Uint64
	numAccepted atomic.Uint64
	numSettled  atomic.Uint64
	started     atomic.Bool
	stopped     atomic.Bool
}

type (
	rawEpoch struct {
		epoch   uint64
		txBytes [][]byte
	}

	parsedEpoch struct {
		epoch uint64
		txs   []*ledger.Transaction
	}

	Stats struct {
		NumEpochsSettled uint64
		NumReceived      uint64
		NumDropped       uint64
		NumAccepted      uint64
	}

	Option func(pipe *Pipeline)
)

var ErrStopped = errors.New("pipeline is stopped")

// WithOnSettled sets callback called by the settler after each epoch
func WithOnSettled(fun func(epoch uint64, accepted []*ledger.Transaction)) Option {
	return func(pipe *Pipeline) {
		pipe.onSettled = fun
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(pipe *Pipeline) {
		pipe.log = log
	}
}

func New(h *txhandler.Handler, opts ...Option) *Pipeline {
	ret := &Pipeline{
		log:       zap.NewNop().Sugar(),
		handler:   h,
		parser:    fifoqueue.New[*rawEpoch](),
		settler:   fifoqueue.New[*parsedEpoch](),
		onSettled: func(_ uint64, _ []*ledger.Transaction) {},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (pipe *Pipeline) Start() {
	if !pipe.started.CompareAndSwap(false, true) {
		return
	}
	go pipe.runParser()
	go pipe.runSettler()
}

func (pipe *Pipeline) runParser() {
	log := pipe.log.Named("parser")
	log.Infof("STARTED")

	pipe.parser.Consume(func(e *rawEpoch) {
		out := &parsedEpoch{
			epoch: e.epoch,
			txs:   make([]*ledger.Transaction, 0, len(e.txBytes)),
		}
		for i, txBytes := range e.txBytes {
			var tx *ledger.Transaction
			err := common.CatchPanicOrError(func() error {
				var err1 error
				tx, err1 = ledger.TransactionFromBytes(txBytes)
				return err1
			})
			if err != nil {
				pipe.numDropped.Inc()
				log.Debugf("epoch %d: transaction bytes #%d dropped. Reason: '%v'", e.epoch, i, err)
				continue
			}
			out.txs = append(out.txs, tx)
		}
		pipe.settler.Write(out)
		log.Debugf("epoch %d OUT: %d transaction(s)", e.epoch, len(out.txs))
	})

	// close downstream
	pipe.settler.Close()
	log.Infof("STOPPED")
}

func (pipe *Pipeline) runSettler() {
	log := pipe.log.Named("settler")
	log.Infof("STARTED")

	pipe.settler.Consume(func(e *parsedEpoch) {
		accepted := pipe.handler.HandleTxs(e.txs)
		pipe.numAccepted.Add(uint64(len(accepted)))
		pipe.numSettled.Inc()
		log.Debugf("epoch %d settled: accepted %d out of %d", e.epoch, len(accepted), len(e.txs))
		pipe.onSettled(e.epoch, accepted)
	})
	log.Infof("STOPPED")
	close(pipe.done)
}

// Stop stops accepting new epochs and waits until all submitted epochs are settled
func (pipe *Pipeline) Stop() {
	pipe.submitMutex.Lock()
	if !pipe.stopped.CompareAndSwap(false, true) {
		pipe.submitMutex.Unlock()
		return
	}
	pipe.parser.Close()
	pipe.submitMutex.Unlock()

	if pipe.started.Load() {
		<-pipe.done
	}
}

// ProcessEpoch submits a batch of raw transactions. Returns sequence number of the epoch
func (pipe *Pipeline) ProcessEpoch(txBytes [][]byte) (uint64, error) {
	pipe.submitMutex.Lock()
	defer pipe.submitMutex.Unlock()

	if pipe.stopped.Load() {
		return 0, ErrStopped
	}
	epoch := pipe.nextEpoch.Inc() - 1
	pipe.numReceived.Add(uint64(len(txBytes)))
	pipe.parser.Write(&rawEpoch{
		epoch:   epoch,
		txBytes: txBytes,
	})
	return epoch, nil
}

// ProcessTransactions serializes transactions and submits them as one epoch
func (pipe *Pipeline) ProcessTransactions(txs []*ledger.Transaction) (uint64, error) {
	txBytes := make([][]byte, len(txs))
	for i, tx := range txs {
		txBytes[i] = tx.Bytes()
	}
	return pipe.ProcessEpoch(txBytes)
}

func (pipe *Pipeline) Stats() Stats {
	return Stats{
		NumEpochsSettled: pipe.numSettled.Load(),
		NumReceived:      pipe.numReceived.Load(),
		NumDropped:       pipe.numDropped.Load(),
		NumAccepted:      pipe.numAccepted.Load(),
	}
}
