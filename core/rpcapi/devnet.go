package rpcapi

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
	"starkdevnet/core/journal"
	"starkdevnet/core/messaging"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/txn"
)

func (s *Server) registerDevnetMethods() {
	s.methods["devnet_mint"] = (*Server).mint
	s.methods["devnet_getAccountBalance"] = (*Server).getAccountBalance
	s.methods["devnet_getPredeployedAccounts"] = (*Server).getPredeployedAccounts
	s.methods["devnet_createBlock"] = (*Server).createBlock
	s.methods["devnet_abortBlocks"] = (*Server).abortBlocks
	s.methods["devnet_acceptOnL1"] = (*Server).acceptOnL1
	s.methods["devnet_setTime"] = (*Server).setTime
	s.methods["devnet_increaseTime"] = (*Server).increaseTime
	s.methods["devnet_setGasPrice"] = (*Server).setGasPrice
	s.methods["devnet_impersonateAccount"] = (*Server).impersonateAccount
	s.methods["devnet_stopImpersonateAccount"] = (*Server).stopImpersonateAccount
	s.methods["devnet_autoImpersonate"] = (*Server).autoImpersonate
	s.methods["devnet_stopAutoImpersonate"] = (*Server).stopAutoImpersonate
	s.methods["devnet_postmanLoad"] = (*Server).postmanLoad
	s.methods["devnet_postmanFlush"] = (*Server).postmanFlush
	s.methods["devnet_postmanSendMessageToL2"] = (*Server).postmanSendMessageToL2
	s.methods["devnet_postmanConsumeMessageFromL2"] = (*Server).postmanConsumeMessageFromL2
	s.methods["devnet_getConfig"] = (*Server).getConfig
	s.methods["devnet_dump"] = (*Server).dump
	s.methods["devnet_load"] = (*Server).load
	s.methods["devnet_restart"] = (*Server).restart
}

// appendJournal RLP-encodes payload and appends it under kind, logging
// (rather than failing the admin call) if encoding somehow fails, since a
// reflection-based RLP encode of these plain structs cannot fail in
// practice and the admin mutation itself already succeeded. trigger is
// "block" for admin calls that seal a block as part of their effect, and
// for setGasPrice with generate_block (so ModeOnAcceptedBlock dumps them
// immediately), otherwise "".
func (s *Server) appendJournal(kind journal.Kind, payload interface{}, trigger string) {
	b, err := rlp.EncodeToBytes(payload)
	if err != nil {
		logrus.WithError(err).Error("rpcapi: failed to encode journal payload, entry dropped")
		return
	}
	s.journal.Append(journal.Entry{Kind: kind, Payload: b}, trigger)
}

// feeUnit selects which of the two fee tokens a balance call addresses.
type feeUnit string

const (
	unitWei feeUnit = "WEI"
	unitFri feeUnit = "FRI"
)

func (s *Server) tokenAddress(u feeUnit) felt.Felt {
	if u == unitFri {
		return s.cfg.FeeTokenFriAddress
	}
	return s.cfg.FeeTokenWeiAddress
}

// mint credits amount to address's balance of the given unit by directly
// writing the fee token's balance slot, then records a synthetic invoke
// transaction so the mint is visible the same way any other transaction
// is (spec's devnet acceptance scenario S1 expects a sealed block
// containing "the mint invoke transaction"). The stand-in executor has no
// built-in ERC-20 contract to dispatch through, so this bypasses it
// entirely rather than faking a contract call.
func (s *Server) mint(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Address felt.Felt `json:"address"`
		Amount  felt.Felt `json:"amount"`
		Unit    feeUnit   `json:"unit"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	token := s.tokenAddress(param.Unit)

	scratch := s.state.NewTxScratch()
	current, _ := scratch.GetStorage(token, param.Address)
	newBalance := current.Add(param.Amount)
	scratch.SetStorage(token, param.Address, newBalance)
	s.state.Commit(scratch)

	tx := &txn.Transaction{
		Kind:          txn.KindInvoke,
		SenderAddress: token,
		Calls:         []txn.Call{{ContractAddress: token, Calldata: []felt.Felt{param.Address, param.Amount}}},
	}
	tx.Derive()

	receipt := &txn.Receipt{TransactionHash: tx.Hash, Status: txn.StatusSucceeded}
	s.query.RecordSubmission(tx, receipt)
	s.ledger.AddToPreConfirmed(tx.Hash)
	s.producer.OnTransactionAccepted()

	return map[string]interface{}{"transaction_hash": tx.Hash, "new_balance": newBalance}, nil
}

func (s *Server) getAccountBalance(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Address felt.Felt    `json:"address"`
		Unit    feeUnit      `json:"unit"`
		BlockID blockIDParam `json:"block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	view, err := s.query.Block(blockID)
	if err != nil {
		return nil, asRPCErr(err)
	}
	bal, serr := s.state.GetStorage(view.StateView(), s.tokenAddress(param.Unit), param.Address)
	if serr != nil {
		return nil, asRPCErr(serr)
	}
	return bal, nil
}

func (s *Server) getPredeployedAccounts(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	return s.cfg.PredeployedAccounts, nil
}

func (s *Server) createBlock(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	blk := s.producer.CreateBlock(0)
	s.appendJournal(journal.KindCreateBlock, journal.CreateBlockPayload{RequestedTimestamp: 0}, "block")
	return map[string]interface{}{"block_hash": blk.Header.Hash, "block_number": blk.Header.Number}, nil
}

func (s *Server) abortBlocks(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		StartingBlockID blockIDParam `json:"starting_block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.StartingBlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	view, err := s.query.Block(blockID)
	if err != nil {
		return nil, asRPCErr(err)
	}
	aborted, lerr := s.ledger.AbortFrom(view.Number)
	if lerr != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, lerr.Error())
	}
	s.state.AbortFrom(view.Number)
	s.classes.RemoveCommittedAt(view.Number)
	s.appendJournal(journal.KindAbortBlocks, journal.AbortBlocksPayload{FromBlockNumber: view.Number}, "")
	return map[string]interface{}{"aborted": aborted}, nil
}

func (s *Server) acceptOnL1(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		UpToBlockNumber uint64 `json:"up_to_block_number"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	s.producer.AcceptOnL1(param.UpToBlockNumber)
	s.appendJournal(journal.KindAcceptOnL1, journal.AcceptOnL1Payload{UpToBlockNumber: param.UpToBlockNumber}, "")
	return nil, nil
}

func (s *Server) setTime(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Time          uint64 `json:"time"`
		GenerateBlock bool   `json:"generate_block"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	s.producer.SetTime(param.Time, param.GenerateBlock)
	trigger := ""
	if param.GenerateBlock {
		trigger = "block"
	}
	s.appendJournal(journal.KindSetTime, journal.SetTimePayload{Time: param.Time, GenerateBlock: param.GenerateBlock}, trigger)
	return map[string]interface{}{"time": param.Time}, nil
}

func (s *Server) increaseTime(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Time uint64 `json:"time"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blk := s.producer.IncreaseTime(param.Time)
	s.appendJournal(journal.KindIncreaseTime, journal.IncreaseTimePayload{Delta: param.Time}, "block")
	return map[string]interface{}{"block_hash": blk.Header.Hash, "block_number": blk.Header.Number}, nil
}

func (s *Server) setGasPrice(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		L1GasPrice     *felt.Felt `json:"gas_price_wei"`
		L1GasPriceFRI  *felt.Felt `json:"gas_price_fri"`
		L1DataGasPrice *felt.Felt `json:"data_gas_price_wei"`
		L1DataGasPriceFRI *felt.Felt `json:"data_gas_price_fri"`
		L2GasPrice     *felt.Felt `json:"l2_gas_price_wei"`
		L2GasPriceFRI  *felt.Felt `json:"l2_gas_price_fri"`
		GenerateBlock  bool       `json:"generate_block"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	update := gasoracle.Update{
		L1GasWei:     param.L1GasPrice,
		L1GasFri:     param.L1GasPriceFRI,
		L1DataGasWei: param.L1DataGasPrice,
		L1DataGasFri: param.L1DataGasPriceFRI,
		L2GasWei:     param.L2GasPrice,
		L2GasFri:     param.L2GasPriceFRI,
	}
	s.gas.SetPrices(update, param.GenerateBlock)

	payload := journal.SetGasPricePayload{GenerateBlock: param.GenerateBlock}
	if param.L1GasPrice != nil {
		payload.L1GasWei, payload.HasL1GasWei = *param.L1GasPrice, true
	}
	if param.L1GasPriceFRI != nil {
		payload.L1GasFri, payload.HasL1GasFri = *param.L1GasPriceFRI, true
	}
	if param.L1DataGasPrice != nil {
		payload.L1DataGasWei, payload.HasL1DataGasWei = *param.L1DataGasPrice, true
	}
	if param.L1DataGasPriceFRI != nil {
		payload.L1DataGasFri, payload.HasL1DataGasFri = *param.L1DataGasPriceFRI, true
	}
	if param.L2GasPrice != nil {
		payload.L2GasWei, payload.HasL2GasWei = *param.L2GasPrice, true
	}
	if param.L2GasPriceFRI != nil {
		payload.L2GasFri, payload.HasL2GasFri = *param.L2GasPriceFRI, true
	}
	trigger := ""
	if param.GenerateBlock {
		trigger = "block"
	}
	s.appendJournal(journal.KindSetGasPrice, payload, trigger)

	return s.gas.Current(), nil
}

func (s *Server) impersonateAccount(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		AccountAddress felt.Felt `json:"account_address"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	s.impersonation.Impersonate(param.AccountAddress)
	s.appendJournal(journal.KindImpersonateAccount, journal.AddressPayload{Address: param.AccountAddress}, "")
	return nil, nil
}

func (s *Server) stopImpersonateAccount(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		AccountAddress felt.Felt `json:"account_address"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	s.impersonation.StopImpersonate(param.AccountAddress)
	s.appendJournal(journal.KindStopImpersonate, journal.AddressPayload{Address: param.AccountAddress}, "")
	return nil, nil
}

func (s *Server) autoImpersonate(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	s.impersonation.SetAuto(true)
	s.appendJournal(journal.KindAutoImpersonate, struct{}{}, "")
	return nil, nil
}

func (s *Server) stopAutoImpersonate(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	s.impersonation.SetAuto(false)
	s.appendJournal(journal.KindStopAutoImpersonate, struct{}{}, "")
	return nil, nil
}

func (s *Server) postmanLoad(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		MessagingContractAddress felt.Felt `json:"messaging_contract_address"`
		DryRun                   bool      `json:"dry_run"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	s.messaging.Load(messaging.Config{MessagingContract: param.MessagingContractAddress, DryRun: param.DryRun})
	return map[string]interface{}{"messaging_contract_address": param.MessagingContractAddress}, nil
}

func (s *Server) postmanFlush(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	result, err := s.messaging.Flush(context.Background())
	if result != nil && result.CursorAdvancedTo > 0 {
		s.appendJournal(journal.KindSetL1Cursor, journal.SetL1CursorPayload{LastFetchedL1Block: result.CursorAdvancedTo}, "")
	}
	if err != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	return result, nil
}

func (s *Server) postmanSendMessageToL2(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var l messaging.L1Log
	if rerr := decodeParams(p, &l); rerr != nil {
		return nil, rerr
	}
	receipt, err := s.messaging.SendMessageToL2(context.Background(), l)
	if err != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	return map[string]interface{}{"transaction_hash": receipt.TransactionHash, "receipt": receipt}, nil
}

func (s *Server) postmanConsumeMessageFromL2(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var msg txn.MessageToL1
	if rerr := decodeParams(p, &msg); rerr != nil {
		return nil, rerr
	}
	if err := s.messaging.ConsumeMessageFromL2(context.Background(), msg); err != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	return nil, nil
}

func (s *Server) getConfig(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	return map[string]interface{}{
		"chain_id":              s.cfg.ChainID,
		"protocol_version":      s.cfg.ProtocolVersion,
		"predeployed_accounts":  s.cfg.PredeployedAccounts,
		"gas_prices":            s.gas.Current(),
		"messaging_cursor":      s.messaging.LastFetched(),
	}, nil
}

func (s *Server) dump(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Path string `json:"path"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	if err := s.journal.Dump(param.Path); err != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	return nil, nil
}

// load reads a dumped journal and replays every entry against this
// server's live components, in order, reproducing the dumping core's
// final state per spec §3's journal contract. The journal itself is then
// swapped in place (Replace, not a pointer reassignment) so every other
// component already holding this *journal.Journal keeps appending to the
// same object instead of one nothing points to.
func (s *Server) load(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Path string `json:"path"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	loaded, err := journal.Load(param.Path)
	if err != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}

	entries := loaded.Entries()
	if err := s.replayEntries(entries); err != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	s.journal.Replace(loaded)
	return map[string]interface{}{"entries_replayed": len(entries)}, nil
}

// restart implements devnet_restart: every mutable component is reset to
// its genesis-equivalent state, the event itself is journaled, and then
// the journal's own entries are cleared unless keep_journal was set — per
// spec §3, "Restart... clears all state except the journal itself if
// configured to do so; otherwise journal is also cleared."
func (s *Server) restart(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		KeepJournal bool `json:"keep_journal"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	if err := s.resetEngineState(); err != nil {
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	s.appendJournal(journal.KindRestart, journal.RestartPayload{KeepJournal: param.KeepJournal}, "")
	s.journal.ResetForRestart(param.KeepJournal)
	return nil, nil
}

// resetEngineState clears the ledger, state store, class registry and
// messaging cursor back to their just-constructed values and turns
// auto-impersonation off; addresses impersonated one by one stay
// impersonated. The gas oracle and logical clock are left untouched: neither
// retains the startup value it was seeded with once the process is
// running, so devnet_restart cannot reproduce it without plumbing the
// original config through to this handler; see DESIGN.md.
func (s *Server) resetEngineState() error {
	if _, err := s.ledger.AbortFrom(1); err != nil {
		return err
	}
	s.state.AbortFrom(1)
	s.classes.RemoveCommittedAt(1)
	s.impersonation.SetAuto(false)
	s.messaging.SetLastFetched(0)
	return nil
}

// replayEntries dispatches every entry of a loaded journal against this
// server's live components, in order. Submitted transactions go back
// through the ordinary pipeline so they re-run admission checks and
// re-derive their hash exactly as they did the first time; every other
// entry kind invokes the same component method its originating admin RPC
// handler called, without re-journaling it (replay must not grow the
// journal it is replaying).
func (s *Server) replayEntries(entries []journal.Entry) error {
	ctx := context.Background()
	for _, e := range entries {
		if err := s.replayEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) replayEntry(ctx context.Context, e journal.Entry) error {
	switch e.Kind {
	case journal.KindAddDeclareTx, journal.KindAddDeployAccountTx, journal.KindAddInvokeTx, journal.KindAddL1HandlerTx:
		var payload journal.TxPayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		var tx txn.Transaction
		if err := json.Unmarshal(payload.RawTxJSON, &tx); err != nil {
			return err
		}
		if _, err := s.pipeline.Submit(ctx, &tx); err != nil {
			logrus.WithError(err).WithField("hash", payload.TxHash).Warn("rpcapi: replayed transaction rejected")
		}
		return nil

	case journal.KindCreateBlock:
		var payload journal.CreateBlockPayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		s.producer.CreateBlock(payload.RequestedTimestamp)
		return nil

	case journal.KindSetTime:
		var payload journal.SetTimePayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		s.producer.SetTime(payload.Time, payload.GenerateBlock)
		return nil

	case journal.KindIncreaseTime:
		var payload journal.IncreaseTimePayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		s.producer.IncreaseTime(payload.Delta)
		return nil

	case journal.KindSetGasPrice:
		var payload journal.SetGasPricePayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		update := gasoracle.Update{}
		if payload.HasL1GasWei {
			v := payload.L1GasWei
			update.L1GasWei = &v
		}
		if payload.HasL1GasFri {
			v := payload.L1GasFri
			update.L1GasFri = &v
		}
		if payload.HasL1DataGasWei {
			v := payload.L1DataGasWei
			update.L1DataGasWei = &v
		}
		if payload.HasL1DataGasFri {
			v := payload.L1DataGasFri
			update.L1DataGasFri = &v
		}
		if payload.HasL2GasWei {
			v := payload.L2GasWei
			update.L2GasWei = &v
		}
		if payload.HasL2GasFri {
			v := payload.L2GasFri
			update.L2GasFri = &v
		}
		s.gas.SetPrices(update, payload.GenerateBlock)
		return nil

	case journal.KindAbortBlocks:
		var payload journal.AbortBlocksPayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		if _, err := s.ledger.AbortFrom(payload.FromBlockNumber); err != nil {
			return err
		}
		s.state.AbortFrom(payload.FromBlockNumber)
		s.classes.RemoveCommittedAt(payload.FromBlockNumber)
		return nil

	case journal.KindAcceptOnL1:
		var payload journal.AcceptOnL1Payload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		s.producer.AcceptOnL1(payload.UpToBlockNumber)
		return nil

	case journal.KindImpersonateAccount:
		var payload journal.AddressPayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		s.impersonation.Impersonate(payload.Address)
		return nil

	case journal.KindStopImpersonate:
		var payload journal.AddressPayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		s.impersonation.StopImpersonate(payload.Address)
		return nil

	case journal.KindAutoImpersonate:
		s.impersonation.SetAuto(true)
		return nil

	case journal.KindStopAutoImpersonate:
		s.impersonation.SetAuto(false)
		return nil

	case journal.KindSetL1Cursor:
		var payload journal.SetL1CursorPayload
		if err := rlp.DecodeBytes(e.Payload, &payload); err != nil {
			return err
		}
		s.messaging.SetLastFetched(payload.LastFetchedL1Block)
		return nil

	case journal.KindRestart:
		return s.resetEngineState()

	default:
		logrus.WithField("kind", e.Kind).Warn("rpcapi: journal replay skipped unknown entry kind")
		return nil
	}
}
