// Package rpc provides JSON-RPC 2.0 types for the vault API.
package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides sequence context for RPC responses. The sequence is
// the number of transactions applied when the response was built.
type Context struct {
	Sequence   uint64 `json:"sequence"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo requests.
type AccountInfoConfig struct {
	Encoding  Encoding   `json:"encoding,omitempty"`
	DataSlice *DataSlice `json:"dataSlice,omitempty"`
}

// AccountInfo is the wire form of an account.
type AccountInfo struct {
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	Data       interface{} `json:"data"`
	Executable bool        `json:"executable"`
	RentEpoch  uint64      `json:"rentEpoch"`
}

// SendTransactionConfig configures sendTransaction requests.
type SendTransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SendTransactionResult reports the outcome of a submitted
// transaction.
type SendTransactionResult struct {
	Hash      string   `json:"hash"`
	Sequence  uint64   `json:"sequence"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Logs      []string `json:"logs,omitempty"`
	StateHash string   `json:"stateHash"`
}

// TransactionStatus is the wire form of a journal record.
type TransactionStatus struct {
	Hash      string   `json:"hash"`
	Sequence  uint64   `json:"sequence"`
	Time      int64    `json:"time"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Logs      []string `json:"logs,omitempty"`
	StateHash string   `json:"stateHash"`
}

// StakeRecordInfo is the wire form of a stake record.
type StakeRecordInfo struct {
	Address  string `json:"address"`
	State    string `json:"state"`
	Owner    string `json:"owner"`
	NftMint  string `json:"nftMint"`
	StakedAt int64  `json:"stakedAt"`
}

// TokenAmount is the wire form of a token balance.
type TokenAmount struct {
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// TokenAccountInfo is the wire form of a token account.
type TokenAccountInfo struct {
	Address   string      `json:"address"`
	Mint      string      `json:"mint"`
	Owner     string      `json:"owner"`
	Amount    TokenAmount `json:"amount"`
	Delegate  string      `json:"delegate,omitempty"`
	Delegated string      `json:"delegatedAmount,omitempty"`
	Frozen    bool        `json:"frozen"`
}

// MintInfo is the wire form of a mint.
type MintInfo struct {
	Address         string `json:"address"`
	MintAuthority   string `json:"mintAuthority,omitempty"`
	FreezeAuthority string `json:"freezeAuthority,omitempty"`
	Supply          string `json:"supply"`
	Decimals        uint8  `json:"decimals"`
}

// MetadataInfo is the wire form of an NFT metadata record.
type MetadataInfo struct {
	Address         string       `json:"address"`
	Mint            string       `json:"mint"`
	UpdateAuthority string       `json:"updateAuthority"`
	Name            string       `json:"name"`
	Symbol          string       `json:"symbol"`
	URI             string       `json:"uri"`
	Creator         *CreatorInfo `json:"creator,omitempty"`
}

// CreatorInfo is the wire form of a metadata creator.
type CreatorInfo struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
	Share    uint8  `json:"share"`
}

// VersionInfo reports the node software version.
type VersionInfo struct {
	Version string `json:"version"`
}
