package utxodb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/unitrie/common"
	"github.com/lunfardo314/utxohandler/ledger"
	"github.com/lunfardo314/utxohandler/ledger/txbuilder"
	"github.com/lunfardo314/utxohandler/ledger/txhandler"
	"github.com/lunfardo314/utxohandler/util/testutil"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

// UTXODB is an in-memory ledger with the genesis output and faucet. All changes go through the txhandler
type UTXODB struct {
	handler           *txhandler.Handler
	supply            int64
	genesisPrivateKey ed25519.PrivateKey
	genesisPublicKey  ed25519.PublicKey
}

const (
	// for determinism
	originPrivateKey        = "8ec47313c15c3a4443c41619735109b56bc818f4a6b71d6a1f186ec96d15f28f14117899305d99fb4775de9223ce9886cfaa3195da1e40c5db47c61266f04dd2"
	deterministicSeed       = "1234567890987654321"
	supplyForTesting        = int64(1_000_000_000_000)
	TokensFromFaucetDefault = int64(1_000_000)
)

// NewUTXODB creates ledger with the whole supply in the genesis output owned by the genesis key.
// With trace == true the handler logs every decision
func NewUTXODB(trace ...bool) *UTXODB {
	originPrivateKeyBin, err := hex.DecodeString(originPrivateKey)
	easyfl.AssertNoError(err)
	originPubKey := ed25519.PrivateKey(originPrivateKeyBin).Public().(ed25519.PublicKey)

	st := ledger.NewStateInMemory()
	st.AddUTXO(&ledger.GenesisOutputID, ledger.NewOutput(supplyForTesting, originPubKey))

	opts := make([]txhandler.Option, 0)
	if len(trace) > 0 && trace[0] {
		opts = append(opts, txhandler.WithLogger(testutil.NewSimpleLogger(true)))
	}
	return &UTXODB{
		handler:           txhandler.New(st, opts...),
		supply:            supplyForTesting,
		genesisPrivateKey: ed25519.PrivateKey(originPrivateKeyBin),
		genesisPublicKey:  originPubKey,
	}
}

func (u *UTXODB) Supply() int64 {
	return u.supply
}

func (u *UTXODB) Handler() *txhandler.Handler {
	return u.handler
}

// State returns a copy of the current ledger state
func (u *UTXODB) State() *ledger.State {
	return u.handler.State()
}

func (u *UTXODB) GenesisKeys() (ed25519.PrivateKey, ed25519.PublicKey) {
	return u.genesisPrivateKey, u.genesisPublicKey
}

func (u *UTXODB) GenesisAddress() ed25519.PublicKey {
	return u.genesisPublicKey
}

// AddTransaction validates the transaction and applies it to the ledger
func (u *UTXODB) AddTransaction(tx *ledger.Transaction) error {
	if err := u.handler.CheckTransaction(tx); err != nil {
		return fmt.Errorf("UTXODB: %w", err)
	}
	if !u.handler.HandleTx(tx) {
		return fmt.Errorf("UTXODB: transaction %s was not accepted", tx.String())
	}
	return nil
}

func (u *UTXODB) TokensFromFaucet(addr ed25519.PublicKey, howMany ...int64) error {
	amount := TokensFromFaucetDefault
	if len(howMany) > 0 && howMany[0] > 0 {
		amount = howMany[0]
	}
	par, err := u.MakeED25519TransferInputs(u.genesisPrivateKey)
	if err != nil {
		return err
	}
	tx, err := txbuilder.MakeTransferTransaction(par.
		WithAmount(amount).
		WithTargetLock(addr),
	)
	if err != nil {
		return fmt.Errorf("UTXODB faucet: %v", err)
	}
	return u.AddTransaction(tx)
}

// GenerateAddress derives key pair number n from the deterministic seed
func (u *UTXODB) GenerateAddress(n uint16) (ed25519.PrivateKey, ed25519.PublicKey) {
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], n)
	seed := blake2b.Sum256(common.Concat([]byte(deterministicSeed), u16[:]))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv, priv.Public().(ed25519.PublicKey)
}

// MakeED25519TransferInputs collects all outputs of the key's address sorted by amount, ascending by default
func (u *UTXODB) MakeED25519TransferInputs(privKey ed25519.PrivateKey, desc ...bool) (*txbuilder.ED25519TransferInputs, error) {
	ret := txbuilder.NewED25519TransferInputs(privKey)
	outs, err := u.State().GetUTXOsForAddress(ret.SenderPublicKey)
	if err != nil {
		return nil, err
	}
	txbuilder.SortOutputsByAmount(outs, desc...)
	ret.WithOutputs(outs)
	return ret, nil
}

func (u *UTXODB) TransferTokens(privKey ed25519.PrivateKey, target ed25519.PublicKey, amount int64) error {
	par, err := u.MakeED25519TransferInputs(privKey)
	if err != nil {
		return err
	}
	return u.DoTransfer(par.WithAmount(amount).WithTargetLock(target))
}

func (u *UTXODB) DoTransferTx(par *txbuilder.ED25519TransferInputs) (*ledger.Transaction, error) {
	tx, err := txbuilder.MakeTransferTransaction(par)
	if err != nil {
		return nil, err
	}
	return tx, u.AddTransaction(tx)
}

func (u *UTXODB) DoTransfer(par *txbuilder.ED25519TransferInputs) error {
	_, err := u.DoTransferTx(par)
	return err
}

func (u *UTXODB) account(addr ed25519.PublicKey) (int64, int) {
	st := u.State()
	outs, err := st.GetUTXOsForAddress(addr)
	easyfl.AssertNoError(err)
	return st.Balance(addr), len(outs)
}

func (u *UTXODB) Balance(addr ed25519.PublicKey) int64 {
	ret, _ := u.account(addr)
	return ret
}

func (u *UTXODB) NumUTXOs(addr ed25519.PublicKey) int {
	_, ret := u.account(addr)
	return ret
}
