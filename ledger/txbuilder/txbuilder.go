package txbuilder

import (
	"fmt"

	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/utxohandler"
	"github.com/lunfardo314/utxohandler/ledger"
	"golang.org/x/crypto/ed25519"
)

// TransactionBuilder assembles a transaction together with the outputs it consumes.
// It does not validate the result, that is the job of the txhandler
type TransactionBuilder struct {
	ConsumedOutputs []*ledger.Output
	Transaction     *ledger.Transaction
}

func NewTransactionBuilder() *TransactionBuilder {
	return &TransactionBuilder{
		ConsumedOutputs: make([]*ledger.Output, 0),
		Transaction:     ledger.NewTransaction(),
	}
}

func (ctx *TransactionBuilder) NumInputs() int {
	ret := len(ctx.ConsumedOutputs)
	easyfl.Assert(ret == ctx.Transaction.NumInputs(), "ret==ctx.Transaction.NumInputs()")
	return ret
}

func (ctx *TransactionBuilder) NumOutputs() int {
	return ctx.Transaction.NumOutputs()
}

// ConsumeOutput adds input which claims the output. Returns index of the input
func (ctx *TransactionBuilder) ConsumeOutput(out *ledger.Output, oid ledger.OutputID) (int, error) {
	if ctx.NumInputs() >= ledger.MaxNumberOfInputs {
		return 0, fmt.Errorf("exceeded max number of consumed outputs %d", ledger.MaxNumberOfInputs)
	}
	ctx.ConsumedOutputs = append(ctx.ConsumedOutputs, out)
	ctx.Transaction.Inputs = append(ctx.Transaction.Inputs, &ledger.Input{OutputID: oid})
	return len(ctx.ConsumedOutputs) - 1, nil
}

// ProduceOutput adds output. Returns its index, which will be the index in the output ID
func (ctx *TransactionBuilder) ProduceOutput(out *ledger.Output) (int, error) {
	if ctx.NumOutputs() >= ledger.MaxNumberOfOutputs {
		return 0, fmt.Errorf("exceeded max number of produced outputs %d", ledger.MaxNumberOfOutputs)
	}
	ctx.Transaction.Outputs = append(ctx.Transaction.Outputs, out)
	return len(ctx.Transaction.Outputs) - 1, nil
}

// TotalConsumed sum of amounts of consumed outputs
func (ctx *TransactionBuilder) TotalConsumed() (int64, error) {
	amounts := make([]int64, len(ctx.ConsumedOutputs))
	for i, o := range ctx.ConsumedOutputs {
		amounts[i] = o.Amount
	}
	ret, ok := utxohandler.SumInt64(amounts...)
	if !ok {
		return 0, fmt.Errorf("overflow while summing consumed amounts")
	}
	return ret, nil
}

// SignWith signs every input with the same key. Must be called after all outputs are produced
func (ctx *TransactionBuilder) SignWith(privateKey ed25519.PrivateKey) {
	for i := range ctx.Transaction.Inputs {
		ctx.Transaction.SignInput(i, privateKey)
	}
}

type ED25519TransferInputs struct {
	SenderPrivateKey ed25519.PrivateKey
	SenderPublicKey  ed25519.PublicKey
	Outputs          []*ledger.OutputWithID
	Target           ed25519.PublicKey
	Amount           int64
}

func NewED25519TransferInputs(senderKey ed25519.PrivateKey) *ED25519TransferInputs {
	return &ED25519TransferInputs{
		SenderPrivateKey: senderKey,
		SenderPublicKey:  senderKey.Public().(ed25519.PublicKey),
	}
}

// WithTargetLock sets the address which will own the transferred amount
func (t *ED25519TransferInputs) WithTargetLock(addr ed25519.PublicKey) *ED25519TransferInputs {
	t.Target = addr
	return t
}

func (t *ED25519TransferInputs) WithAmount(amount int64) *ED25519TransferInputs {
	t.Amount = amount
	return t
}

// WithOutputs sets outputs of the sender available for consumption, in the order of preference
func (t *ED25519TransferInputs) WithOutputs(outs []*ledger.OutputWithID) *ED25519TransferInputs {
	t.Outputs = outs
	return t
}

// MakeTransferTransaction consumes sender's outputs in the given order until the amount is covered.
// Produces the target output at index 0 and, if anything remains, the remainder back to the sender at index 1
func MakeTransferTransaction(par *ED25519TransferInputs) (*ledger.Transaction, error) {
	if par.Amount < 0 {
		return nil, fmt.Errorf("wrong amount %d", par.Amount)
	}
	if len(par.Target) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("target address is not set")
	}
	consumedOuts := make([]*ledger.OutputWithID, 0)
	availableTokens := int64(0)
	for _, o := range par.Outputs {
		if availableTokens >= par.Amount && len(consumedOuts) > 0 {
			break
		}
		if len(consumedOuts) >= ledger.MaxNumberOfInputs {
			return nil, fmt.Errorf("exceeded max number of consumed outputs %d", ledger.MaxNumberOfInputs)
		}
		var ok bool
		if availableTokens, ok = utxohandler.AddInt64(availableTokens, o.Output.Amount); !ok {
			return nil, fmt.Errorf("overflow while summing available tokens")
		}
		consumedOuts = append(consumedOuts, o)
	}
	if availableTokens < par.Amount {
		return nil, fmt.Errorf("not enough tokens in address %s: needed %d, got %d",
			easyfl.Fmt(par.SenderPublicKey), par.Amount, availableTokens)
	}
	ctx := NewTransactionBuilder()
	for _, o := range consumedOuts {
		if _, err := ctx.ConsumeOutput(o.Output, o.ID); err != nil {
			return nil, err
		}
	}
	if _, err := ctx.ProduceOutput(ledger.NewOutput(par.Amount, par.Target)); err != nil {
		return nil, err
	}
	if availableTokens > par.Amount {
		remainder := ledger.NewOutput(availableTokens-par.Amount, par.SenderPublicKey)
		if _, err := ctx.ProduceOutput(remainder); err != nil {
			return nil, err
		}
	}
	ctx.SignWith(par.SenderPrivateKey)
	return ctx.Transaction, nil
}
