package rpcapi

import (
	"context"
	"encoding/json"

	"starkdevnet/core/executor"
	"starkdevnet/core/felt"
	"starkdevnet/core/query"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/txn"
)

func (s *Server) registerStarknetMethods() {
	s.methods["starknet_chainId"] = (*Server).chainID
	s.methods["starknet_specVersion"] = (*Server).specVersion
	s.methods["starknet_syncing"] = (*Server).syncing
	s.methods["starknet_blockNumber"] = (*Server).blockNumber
	s.methods["starknet_blockHashAndNumber"] = (*Server).blockHashAndNumber
	s.methods["starknet_getBlockWithTxHashes"] = (*Server).getBlockWithTxHashes
	s.methods["starknet_getBlockWithTxs"] = (*Server).getBlockWithTxs
	s.methods["starknet_getBlockWithReceipts"] = (*Server).getBlockWithReceipts
	s.methods["starknet_getBlockTransactionCount"] = (*Server).getBlockTransactionCount
	s.methods["starknet_getStateUpdate"] = (*Server).getStateUpdate
	s.methods["starknet_getStorageAt"] = (*Server).getStorageAt
	s.methods["starknet_getNonce"] = (*Server).getNonce
	s.methods["starknet_getTransactionByHash"] = (*Server).getTransactionByHash
	s.methods["starknet_getTransactionByBlockIdAndIndex"] = (*Server).getTransactionByBlockIDAndIndex
	s.methods["starknet_getTransactionReceipt"] = (*Server).getTransactionReceipt
	s.methods["starknet_getTransactionStatus"] = (*Server).getTransactionStatus
	s.methods["starknet_getClass"] = (*Server).getClass
	s.methods["starknet_getClassHashAt"] = (*Server).getClassHashAt
	s.methods["starknet_getClassAt"] = (*Server).getClassAt
	s.methods["starknet_getEvents"] = (*Server).getEvents
	s.methods["starknet_addDeclareTransaction"] = (*Server).addDeclareTransaction
	s.methods["starknet_addDeployAccountTransaction"] = (*Server).addDeployAccountTransaction
	s.methods["starknet_addInvokeTransaction"] = (*Server).addInvokeTransaction
	s.methods["starknet_call"] = (*Server).call
	s.methods["starknet_estimateFee"] = (*Server).estimateFee
}

type blockIDParam struct {
	BlockNumber *uint64    `json:"block_number,omitempty"`
	BlockHash   *felt.Felt `json:"block_hash,omitempty"`
	BlockTag    string     `json:"block_tag,omitempty"` // "latest" or "pre_confirmed"
}

func (b blockIDParam) toQuery() (query.BlockID, *rpcerr.Error) {
	switch {
	case b.BlockHash != nil:
		return query.BlockID{Hash: b.BlockHash}, nil
	case b.BlockNumber != nil:
		return query.BlockID{Number: b.BlockNumber}, nil
	case b.BlockTag == "pre_confirmed":
		return query.BlockID{PreConfirmed: true}, nil
	case b.BlockTag == "pending" || b.BlockTag == "PENDING":
		return query.BlockID{}, rpcerr.New(rpcerr.CodeInvalidRequest, `unsupported block tag "pending": use "pre_confirmed"`)
	default:
		return query.BlockID{Latest: true}, nil
	}
}

func (s *Server) chainID(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	return s.cfg.ChainID, nil
}

func (s *Server) specVersion(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	return s.cfg.SpecVersion, nil
}

func (s *Server) syncing(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	// This devnet has no upstream chain to trail (beyond an optional fork
	// origin consulted only on a cache miss), so it is always caught up.
	return false, nil
}

func (s *Server) blockNumber(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	blk, err := s.query.Block(query.BlockID{Latest: true})
	if err != nil {
		return nil, asRPCErr(err)
	}
	return blk.Number, nil
}

func (s *Server) blockHashAndNumber(_ json.RawMessage) (interface{}, *rpcerr.Error) {
	blk, err := s.query.Block(query.BlockID{Latest: true})
	if err != nil {
		return nil, asRPCErr(err)
	}
	return map[string]interface{}{"block_hash": blk.Hash, "block_number": blk.Number}, nil
}

func blockView(idx interface{ Block(query.BlockID) (*query.BlockView, error) }, p json.RawMessage) (*query.BlockView, *rpcerr.Error) {
	var param struct {
		BlockID blockIDParam `json:"block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	blk, err := idx.Block(blockID)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return blk, nil
}

func (s *Server) getBlockWithTxHashes(p json.RawMessage) (interface{}, *rpcerr.Error) {
	blk, rerr := blockView(s.query, p)
	if rerr != nil {
		return nil, rerr
	}
	return blk, nil
}

func (s *Server) getBlockWithTxs(p json.RawMessage) (interface{}, *rpcerr.Error) {
	blk, rerr := blockView(s.query, p)
	if rerr != nil {
		return nil, rerr
	}
	txs := make([]*txn.Transaction, 0, len(blk.TransactionHashes))
	for _, h := range blk.TransactionHashes {
		tx, _, err := s.query.TransactionByHash(h)
		if err == nil {
			txs = append(txs, tx)
		}
	}
	return map[string]interface{}{"block": blk, "transactions": txs}, nil
}

func (s *Server) getBlockWithReceipts(p json.RawMessage) (interface{}, *rpcerr.Error) {
	blk, rerr := blockView(s.query, p)
	if rerr != nil {
		return nil, rerr
	}
	type txWithReceipt struct {
		Transaction *txn.Transaction `json:"transaction"`
		Receipt     *txn.Receipt     `json:"receipt"`
	}
	pairs := make([]txWithReceipt, 0, len(blk.TransactionHashes))
	for _, h := range blk.TransactionHashes {
		tx, r, err := s.query.TransactionByHash(h)
		if err == nil {
			pairs = append(pairs, txWithReceipt{tx, r})
		}
	}
	return map[string]interface{}{"block": blk, "transactions": pairs}, nil
}

func (s *Server) getBlockTransactionCount(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		BlockID blockIDParam `json:"block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	n, err := s.query.BlockTransactionCount(blockID)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return n, nil
}

func (s *Server) getStateUpdate(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		BlockID blockIDParam `json:"block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	blk, err := s.query.Block(blockID)
	if err != nil {
		return nil, asRPCErr(err)
	}
	if blk.PreConfirmed {
		return nil, rpcerr.New(rpcerr.CodeCallOnPendingForbidden, "state update is unavailable for the pre-confirmed block")
	}
	return map[string]interface{}{"block_hash": blk.Hash, "old_root": felt.Zero, "new_root": felt.Zero, "state_diff": blk.Diff}, nil
}

func (s *Server) getStorageAt(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		ContractAddress felt.Felt    `json:"contract_address"`
		Key             felt.Felt    `json:"key"`
		BlockID         blockIDParam `json:"block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	v, err := s.query.StorageAt(blockID, param.ContractAddress, param.Key)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return v, nil
}

func (s *Server) getNonce(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		ContractAddress felt.Felt    `json:"contract_address"`
		BlockID         blockIDParam `json:"block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	v, err := s.query.Nonce(blockID, param.ContractAddress)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return v, nil
}

func (s *Server) getTransactionByHash(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		TransactionHash felt.Felt `json:"transaction_hash"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	tx, _, err := s.query.TransactionByHash(param.TransactionHash)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return tx, nil
}

func (s *Server) getTransactionByBlockIDAndIndex(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		BlockID blockIDParam `json:"block_id"`
		Index   int          `json:"index"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	tx, _, err := s.query.TransactionByBlockIDAndIndex(blockID, param.Index)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return tx, nil
}

func (s *Server) getTransactionReceipt(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		TransactionHash felt.Felt `json:"transaction_hash"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	r, err := s.query.TransactionReceipt(param.TransactionHash)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return r, nil
}

func (s *Server) getTransactionStatus(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		TransactionHash felt.Felt `json:"transaction_hash"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	status, finality, err := s.query.TransactionStatus(param.TransactionHash)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return map[string]interface{}{"finality_status": finality.String(), "execution_status": status.String()}, nil
}

func (s *Server) getClass(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		BlockID   blockIDParam `json:"block_id"`
		ClassHash felt.Felt    `json:"class_hash"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	artifact, err := s.query.Class(blockID, param.ClassHash)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return artifact, nil
}

func (s *Server) getClassHashAt(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		BlockID         blockIDParam `json:"block_id"`
		ContractAddress felt.Felt    `json:"contract_address"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	hash, err := s.query.ClassHashAt(blockID, param.ContractAddress)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return hash, nil
}

func (s *Server) getClassAt(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		BlockID         blockIDParam `json:"block_id"`
		ContractAddress felt.Felt    `json:"contract_address"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	artifact, err := s.query.ClassAt(blockID, param.ContractAddress)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return artifact, nil
}

func (s *Server) getEvents(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Filter query.EventFilter `json:"filter"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	page, err := s.query.GetEvents(param.Filter)
	if err != nil {
		return nil, asRPCErr(err)
	}
	return page, nil
}

func (s *Server) addDeclareTransaction(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var tx txn.Transaction
	if rerr := decodeParams(p, &tx); rerr != nil {
		return nil, rerr
	}
	tx.Kind = txn.KindDeclare
	return s.submit(&tx)
}

func (s *Server) addDeployAccountTransaction(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var tx txn.Transaction
	if rerr := decodeParams(p, &tx); rerr != nil {
		return nil, rerr
	}
	tx.Kind = txn.KindDeployAccount
	return s.submit(&tx)
}

func (s *Server) addInvokeTransaction(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var tx txn.Transaction
	if rerr := decodeParams(p, &tx); rerr != nil {
		return nil, rerr
	}
	tx.Kind = txn.KindInvoke
	return s.submit(&tx)
}

func (s *Server) submit(tx *txn.Transaction) (interface{}, *rpcerr.Error) {
	receipt, err := s.pipeline.Submit(context.Background(), tx)
	if err != nil {
		if rpcErr, ok := err.(*rpcerr.Error); ok {
			return nil, rpcErr
		}
		return nil, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	return map[string]interface{}{"transaction_hash": tx.Hash, "receipt": receipt}, nil
}

// dispatchReadOnly runs tx through the executor over a scratch layer
// opened on top of the pre-confirmed state and discarded afterwards,
// mirroring the pipeline's own dispatch (core/pipeline.Pipeline.Submit)
// without ever committing the scratch. The stand-in executor
// (core/vmexec) reports a call's effects as events/resource usage rather
// than an arbitrary return value, since core/executor.Outcome carries no
// return-value channel.
func (s *Server) dispatchReadOnly(ctx context.Context, tx *txn.Transaction) (executor.Outcome, *rpcerr.Error) {
	prices := s.gas.Current()
	blockCtx := executor.BlockContext{
		Number:            s.ledger.BlockNumber() + 1,
		Timestamp:         s.clock.Now(),
		ProtocolVersion:   s.cfg.ProtocolVersion,
		ChainID:           s.cfg.ChainID,
		L1GasPriceWei:     prices.L1GasWei,
		L1GasPriceFri:     prices.L1GasFri,
		L1DataGasPriceWei: prices.L1DataGasWei,
		L1DataGasPriceFri: prices.L1DataGasFri,
		L2GasPriceWei:     prices.L2GasWei,
		L2GasPriceFri:     prices.L2GasFri,
	}
	scratch := s.state.NewTxScratch()
	skipValidation := func(felt.Felt) bool { return true }
	outcome, err := s.exec.Execute(ctx, tx, scratch, s.classes, blockCtx, skipValidation)
	if err != nil {
		return executor.Outcome{}, rpcerr.New(rpcerr.CodeContractError, err.Error())
	}
	return outcome, nil
}

// call dispatches a read-only transaction and surfaces the events its
// entrypoint emitted in place of typed Cairo return data.
func (s *Server) call(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Request txn.Transaction `json:"request"`
		BlockID blockIDParam    `json:"block_id"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	blockID, rerr := param.BlockID.toQuery()
	if rerr != nil {
		return nil, rerr
	}
	if blockID.PreConfirmed {
		return nil, rpcerr.New(rpcerr.CodeCallOnPendingForbidden, "call is not permitted against the pre-confirmed block")
	}
	outcome, rerr := s.dispatchReadOnly(context.Background(), &param.Request)
	if rerr != nil {
		return nil, rerr
	}
	if outcome.ValidationFailure != nil {
		return nil, rpcerr.New(rpcerr.CodeValidationFailure, outcome.ValidationFailure.Reason)
	}
	if outcome.RevertReason != "" {
		return nil, rpcerr.New(rpcerr.CodeContractError, outcome.RevertReason)
	}
	return map[string]interface{}{"events": outcome.Events}, nil
}

// estimateFee dispatches each transaction read-only to collect its
// resource usage, then prices that usage at the oracle's current rates.
func (s *Server) estimateFee(p json.RawMessage) (interface{}, *rpcerr.Error) {
	var param struct {
		Request []txn.Transaction `json:"request"`
	}
	if rerr := decodeParams(p, &param); rerr != nil {
		return nil, rerr
	}
	prices := s.gas.Current()
	estimates := make([]map[string]interface{}, len(param.Request))
	for i := range param.Request {
		outcome, rerr := s.dispatchReadOnly(context.Background(), &param.Request[i])
		if rerr != nil {
			return nil, rerr
		}
		estimates[i] = map[string]interface{}{
			"l1_gas_consumed":      outcome.Usage.L1Gas,
			"l1_data_gas_consumed": outcome.Usage.L1DataGas,
			"l2_gas_consumed":      outcome.Usage.L2Gas,
			"l1_gas_price":         prices.L1GasWei,
			"l1_data_gas_price":    prices.L1DataGasWei,
			"l2_gas_price":         prices.L2GasWei,
		}
	}
	return estimates, nil
}

func asRPCErr(err error) *rpcerr.Error {
	if rpcErr, ok := err.(*rpcerr.Error); ok {
		return rpcErr
	}
	return rpcerr.New(rpcerr.CodeContractError, err.Error())
}
