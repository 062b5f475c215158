package txn

import (
	"crypto/sha256"
	"encoding/binary"

	"starkdevnet/core/felt"
)

// Derive computes the transaction hash and any address/class-hash fields
// derived from the transaction's own content (§4.4 step 2). It is
// idempotent and safe to call more than once; the result always overwrites
// tx.Hash (and, for DeployAccount, tx.ContractAddress).
func (tx *Transaction) Derive() {
	h := sha256.New()
	h.Write([]byte{byte(tx.Kind), tx.Version})
	h.Write(tx.SenderAddress[:])
	h.Write(tx.Nonce[:])

	switch tx.Kind {
	case KindDeclare:
		h.Write(tx.ClassHash[:])
		h.Write(tx.CompiledClassHash[:])
	case KindDeployAccount:
		h.Write(tx.ClassHashToDeploy[:])
		h.Write(tx.ContractAddressSalt[:])
		for _, c := range tx.ConstructorCalldata {
			h.Write(c[:])
		}
		tx.ContractAddress = deriveContractAddress(tx.ClassHashToDeploy, tx.ContractAddressSalt, tx.ConstructorCalldata)
		h.Write(tx.ContractAddress[:])
	case KindInvoke:
		for _, c := range tx.Calls {
			h.Write(c.ContractAddress[:])
			h.Write(c.Selector[:])
			for _, d := range c.Calldata {
				h.Write(d[:])
			}
		}
	case KindL1Handler:
		h.Write(tx.L1ContractAddress[:])
		h.Write(tx.Selector[:])
		for _, p := range tx.Payload {
			h.Write(p[:])
		}
		h.Write(tx.L1Sender[:])
		h.Write(tx.PaidFeeOnL1[:])
	}

	writeFee(h, tx.Fee, tx.Version)

	d := h.Sum(nil)
	e := sha256.Sum256(d)
	tx.Hash, _ = felt.FromBytes(e[:])
}

func writeFee(h interface{ Write([]byte) (int, error) }, f FeeCommitment, version uint8) {
	if version < 3 {
		h.Write(f.MaxFee[:])
		return
	}
	buf := make([]byte, 8)
	write := func(b ResourceBound) {
		binary.LittleEndian.PutUint64(buf, b.MaxAmount)
		h.Write(buf)
		h.Write(b.MaxPricePerUnit[:])
	}
	write(f.L1Gas)
	write(f.L1DataGas)
	write(f.L2Gas)
	binary.LittleEndian.PutUint64(buf, f.Tip)
	h.Write(buf)
	h.Write([]byte{byte(f.NonceDAMode), byte(f.FeeDAMode)})
	for _, p := range f.PaymasterData {
		h.Write(p[:])
	}
	for _, p := range f.AccountDeploymentData {
		h.Write(p[:])
	}
}

// deriveContractAddress computes the DeployAccount-derived contract
// address from the deployer's chosen salt, the account class hash and the
// constructor calldata. Bit-exact derivation against the target chain's
// formula is out of scope here (§9); this reduction is internally
// consistent, which is all the devnet's own bookkeeping requires.
func deriveContractAddress(classHash, salt felt.Felt, calldata []felt.Felt) felt.Felt {
	h := sha256.New()
	h.Write([]byte("starknet_contract_address"))
	h.Write(classHash[:])
	h.Write(salt[:])
	for _, c := range calldata {
		h.Write(c[:])
	}
	sum := sha256.Sum256(h.Sum(nil))
	addr, _ := felt.FromBytes(sum[:])
	return addr
}
