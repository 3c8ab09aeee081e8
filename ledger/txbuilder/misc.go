package txbuilder

import (
	"fmt"
	"sort"

	"github.com/lunfardo314/utxohandler/ledger"
)

// SortOutputsByAmount sorts ascending by default, descending if desc == true
func SortOutputsByAmount(outs []*ledger.OutputWithID, desc ...bool) {
	descending := len(desc) > 0 && desc[0]
	sort.SliceStable(outs, func(i, j int) bool {
		if descending {
			return outs[i].Output.Amount > outs[j].Output.Amount
		}
		return outs[i].Output.Amount < outs[j].Output.Amount
	})
}

// TransactionToString dumps transaction with consumed outputs looked up in the state
func TransactionToString(tx *ledger.Transaction, st *ledger.State) string {
	txid := tx.ID()
	ret := fmt.Sprintf("TransactionID: %s\n", txid.String())
	ret += "inputs: \n"
	tx.ForEachInput(func(i int, inp *ledger.Input) bool {
		ret += fmt.Sprintf("  #%d: %s\n", i, inp.OutputID.String())
		if o, found := st.GetUTXO(&inp.OutputID); found {
			ret += fmt.Sprintf("     %s\n", o.String())
		} else {
			ret += "     not in the state\n"
		}
		return true
	})
	ret += "outputs: \n"
	tx.ForEachOutput(func(i int, o *ledger.Output) bool {
		ret += fmt.Sprintf("  #%d: %s\n", i, o.String())
		return true
	})
	return ret
}
