package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/derive"
	"github.com/fortiblox/x1-vault/pkg/journal"
	"github.com/fortiblox/x1-vault/pkg/metadata"
	"github.com/fortiblox/x1-vault/pkg/runtime"
	"github.com/fortiblox/x1-vault/pkg/staking"
	"github.com/fortiblox/x1-vault/pkg/token"
)

// sendTransaction submits a signed, base64-encoded transaction for
// execution and returns the outcome.
func (s *Server) sendTransaction(params json.RawMessage) (interface{}, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, InvalidParamsError("expected [transaction, config?]")
	}

	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction parameter")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, InvalidParamsError("transaction must be base64")
	}

	tx, err := runtime.DeserializeTransaction(raw)
	if err != nil {
		return nil, InvalidParamsErrorf("malformed transaction: %v", err)
	}

	result, err := s.engine.Execute(tx)
	if err != nil {
		return nil, SubmitErrorToRPC(err)
	}

	res := SendTransactionResult{
		Hash:      result.Hash.String(),
		Sequence:  result.Sequence,
		Success:   result.Success,
		Error:     result.Error,
		Logs:      result.Logs,
		StateHash: result.StateHash.String(),
	}
	if !result.Success {
		return nil, &RPCError{
			Code:    ExecutionErrorCode(result.Error),
			Message: result.Error,
			Data:    res,
		}
	}
	return res, nil
}

// getTransaction returns the journal record for a transaction hash.
func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, InvalidParamsError("expected [hash]")
	}

	var hashStr string
	if err := json.Unmarshal(args[0], &hashStr); err != nil {
		return nil, InvalidParamsError("invalid hash parameter")
	}
	hash, err := types.HashFromBase58(hashStr)
	if err != nil {
		return nil, InvalidParamsError("invalid hash format")
	}

	if s.journal == nil {
		return nil, TransactionNotFoundError()
	}
	rec, err := s.journal.GetTransaction(hash)
	if err != nil {
		if errors.Is(err, journal.ErrTransactionNotFound) {
			return nil, TransactionNotFoundError()
		}
		return nil, InternalServerErrorf("journal read failed: %v", err)
	}

	return TransactionStatus{
		Hash:      rec.Hash.String(),
		Sequence:  rec.Sequence,
		Time:      rec.Time,
		Success:   rec.Success,
		Error:     rec.Error,
		Logs:      rec.Logs,
		StateHash: rec.StateHash.String(),
	}, nil
}

// getAccountInfo returns the raw account at an address.
func (s *Server) getAccountInfo(params json.RawMessage) (interface{}, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, InvalidParamsError("expected [pubkey, config?]")
	}

	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	config := AccountInfoConfig{Encoding: EncodingBase64}
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	acc, err := s.accountsDB.GetAccount(pubkey)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return s.withContext(nil), nil
		}
		return nil, InternalServerErrorf("account read failed: %v", err)
	}

	data := ApplyDataSlice(acc.Data, config.DataSlice)
	encoded, err := EncodeAccountData(data, config.Encoding)
	if err != nil {
		return nil, InternalServerErrorf("encode account data: %v", err)
	}

	return s.withContext(&AccountInfo{
		Lamports:   acc.Lamports,
		Owner:      acc.Owner.String(),
		Data:       encoded,
		Executable: acc.Executable,
		RentEpoch:  acc.RentEpoch,
	}), nil
}

// getStakeRecord returns the stake record for an (owner, mint) pair.
func (s *Server) getStakeRecord(params json.RawMessage) (interface{}, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return nil, InvalidParamsError("expected [owner, nftMint]")
	}

	owner, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	nftMint, rpcErr := parsePubkey(args[1])
	if rpcErr != nil {
		return nil, rpcErr
	}

	record, err := staking.GetStakeRecord(s.accountsDB, owner, nftMint)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return s.withContext(nil), nil
		}
		return nil, InternalServerErrorf("stake record read failed: %v", err)
	}

	addr, _, err := derive.StakeRecord(owner, nftMint)
	if err != nil {
		return nil, InternalServerErrorf("derive stake record: %v", err)
	}

	state := "unstaked"
	if record.IsStaked() {
		state = "staked"
	}
	return s.withContext(&StakeRecordInfo{
		Address:  addr.String(),
		State:    state,
		Owner:    record.Owner.String(),
		NftMint:  record.NftMint.String(),
		StakedAt: record.StakedAt,
	}), nil
}

// getTokenAccountBalance returns the balance of a token account.
func (s *Server) getTokenAccountBalance(params json.RawMessage) (interface{}, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, InvalidParamsError("expected [pubkey]")
	}

	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	ta, err := token.GetTokenAccount(s.accountsDB, pubkey)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, AccountNotFoundError()
		}
		return nil, InvalidParamsErrorf("not a token account: %v", err)
	}

	m, err := token.GetMint(s.accountsDB, ta.Mint)
	if err != nil {
		return nil, InternalServerErrorf("mint read failed: %v", err)
	}

	info := &TokenAccountInfo{
		Address: pubkey.String(),
		Mint:    ta.Mint.String(),
		Owner:   ta.Owner.String(),
		Amount: TokenAmount{
			Amount:   strconv.FormatUint(ta.Amount, 10),
			Decimals: m.Decimals,
		},
		Frozen: ta.IsFrozen(),
	}
	if ta.Delegate != nil {
		info.Delegate = ta.Delegate.String()
		info.Delegated = strconv.FormatUint(ta.DelegatedAmount, 10)
	}
	return s.withContext(info), nil
}

// getMint returns the mint at an address.
func (s *Server) getMint(params json.RawMessage) (interface{}, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, InvalidParamsError("expected [pubkey]")
	}

	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	m, err := token.GetMint(s.accountsDB, pubkey)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, AccountNotFoundError()
		}
		return nil, InvalidParamsErrorf("not a mint: %v", err)
	}

	info := &MintInfo{
		Address:  pubkey.String(),
		Supply:   strconv.FormatUint(m.Supply, 10),
		Decimals: m.Decimals,
	}
	if m.MintAuthority != nil {
		info.MintAuthority = m.MintAuthority.String()
	}
	if m.FreezeAuthority != nil {
		info.FreezeAuthority = m.FreezeAuthority.String()
	}
	return s.withContext(info), nil
}

// getMetadata returns the metadata record for an NFT mint.
func (s *Server) getMetadata(params json.RawMessage) (interface{}, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, InvalidParamsError("expected [mint]")
	}

	mint, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	md, err := metadata.GetMetadata(s.accountsDB, mint)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return s.withContext(nil), nil
		}
		return nil, InternalServerErrorf("metadata read failed: %v", err)
	}

	addr, _, err := derive.Metadata(mint)
	if err != nil {
		return nil, InternalServerErrorf("derive metadata: %v", err)
	}

	info := &MetadataInfo{
		Address:         addr.String(),
		Mint:            md.Mint.String(),
		UpdateAuthority: md.UpdateAuthority.String(),
		Name:            md.Data.Name,
		Symbol:          md.Data.Symbol,
		URI:             md.Data.URI,
	}
	if md.Data.Creator != nil {
		info.Creator = &CreatorInfo{
			Address:  md.Data.Creator.Address.String(),
			Verified: md.Data.Creator.Verified,
			Share:    md.Data.Creator.Share,
		}
	}
	return s.withContext(info), nil
}

// getSequence returns the number of applied transactions.
func (s *Server) getSequence(params json.RawMessage) (interface{}, *RPCError) {
	return s.engine.Sequence(), nil
}

// getStateHash returns the current chained state hash.
func (s *Server) getStateHash(params json.RawMessage) (interface{}, *RPCError) {
	return s.withContext(s.engine.StateHash().String()), nil
}

// getHealth returns "ok" when healthy, error otherwise.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node software version.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{Version: Version}, nil
}

// withContext wraps a value with the current sequence context.
func (s *Server) withContext(value interface{}) ResponseWithContext {
	return ResponseWithContext{
		Context: Context{Sequence: s.engine.Sequence(), APIVersion: Version},
		Value:   value,
	}
}

// parsePubkey parses a base58 pubkey from a raw JSON parameter.
func parsePubkey(raw json.RawMessage) (types.Pubkey, *RPCError) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey parameter")
	}
	pubkey, err := types.PubkeyFromBase58(str)
	if err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey format")
	}
	return pubkey, nil
}
