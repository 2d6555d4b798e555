package token

import (
	"errors"
	"fmt"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/derive"
)

// Ledger errors.
var (
	ErrNotInitialized       = errors.New("token: account not initialized")
	ErrAlreadyInitialized   = errors.New("token: already initialized")
	ErrNotTokenAccount      = errors.New("token: account is not a token account")
	ErrNotMint              = errors.New("token: account is not a mint")
	ErrMintMismatch         = errors.New("token: account mint mismatch")
	ErrOwnerMismatch        = errors.New("token: account owner mismatch")
	ErrAuthorityMismatch    = errors.New("token: authority mismatch")
	ErrMissingAuthorization = errors.New("token: authority did not authorize this request")
	ErrAccountFrozen        = errors.New("token: account is frozen")
	ErrAccountNotFrozen     = errors.New("token: account is not frozen")
	ErrNoFreezeAuthority    = errors.New("token: mint has no freeze authority")
	ErrNoMintAuthority      = errors.New("token: mint has fixed supply")
	ErrInsufficientFunds    = errors.New("token: insufficient funds")
	ErrAmountOverflow       = errors.New("token: amount overflow")
)

// View is the account access surface the ledger operates on.
//
// The runtime's execution context implements View: mutations made
// through it land in working copies and become visible only when the
// whole request commits. Authorization covers both transaction signers
// and program-derived signers proven within the request.
type View interface {
	// Account returns the working copy of an account, or
	// accounts.ErrAccountNotFound.
	Account(pubkey types.Pubkey) (*accounts.Account, error)

	// CreateAccount creates a new account owned by the given program.
	// The pubkey must be an authorized signer (real or derived).
	CreateAccount(pubkey, owner types.Pubkey, size int) (*accounts.Account, error)

	// IsAuthorized reports whether the pubkey signed this request or
	// was proven as a program-derived signer.
	IsAuthorized(pubkey types.Pubkey) bool

	// AuthorizeDerived proves a program-derived address from its seeds
	// and registers it as an authorized signer for the rest of the
	// request. The bump seed is appended automatically.
	AuthorizeDerived(seeds [][]byte, program types.Pubkey) (types.Pubkey, error)
}

// Ledger exposes token operations over a View. It is a stateless
// facade: all state lives in the accounts it touches.
type Ledger struct{}

// NewLedger creates the token ledger facade.
func NewLedger() *Ledger {
	return &Ledger{}
}

// loadMint reads and decodes a mint account.
func (l *Ledger) loadMint(v View, pubkey types.Pubkey) (*Mint, *accounts.Account, error) {
	acc, err := v.Account(pubkey)
	if err != nil {
		return nil, nil, fmt.Errorf("load mint %s: %w", pubkey, err)
	}
	if acc.Owner != types.TokenProgramAddr || len(acc.Data) != MintSize {
		return nil, nil, ErrNotMint
	}
	mint, err := DeserializeMint(acc.Data)
	if err != nil {
		return nil, nil, err
	}
	if !mint.Initialized {
		return nil, nil, ErrNotInitialized
	}
	return mint, acc, nil
}

// loadTokenAccount reads and decodes a token account.
func (l *Ledger) loadTokenAccount(v View, pubkey types.Pubkey) (*TokenAccount, *accounts.Account, error) {
	acc, err := v.Account(pubkey)
	if err != nil {
		return nil, nil, fmt.Errorf("load token account %s: %w", pubkey, err)
	}
	if acc.Owner != types.TokenProgramAddr || len(acc.Data) != TokenAccountSize {
		return nil, nil, ErrNotTokenAccount
	}
	ta, err := DeserializeTokenAccount(acc.Data)
	if err != nil {
		return nil, nil, err
	}
	if !ta.IsInitialized() {
		return nil, nil, ErrNotInitialized
	}
	return ta, acc, nil
}

// InitializeMint creates and initializes a mint account.
// The mint pubkey must be an authorized signer (a fresh keypair or a
// proven derived address). Fails with ErrAlreadyInitialized if the
// account already exists.
func (l *Ledger) InitializeMint(v View, mint types.Pubkey, decimals uint8, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey) error {
	if _, err := v.Account(mint); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, accounts.ErrAccountNotFound) {
		return err
	}

	acc, err := v.CreateAccount(mint, types.TokenProgramAddr, MintSize)
	if err != nil {
		return err
	}

	m := &Mint{
		MintAuthority:   &mintAuthority,
		Decimals:        decimals,
		Initialized:     true,
		FreezeAuthority: freezeAuthority,
	}
	acc.Data = m.Serialize()
	return nil
}

// MintTo mints amount base units into dest. The authority must match
// the mint's mint authority and must have authorized this request.
// A zero amount is a permitted no-op.
func (l *Ledger) MintTo(v View, mint, dest, authority types.Pubkey, amount uint64) error {
	m, mintAcc, err := l.loadMint(v, mint)
	if err != nil {
		return err
	}
	if m.MintAuthority == nil {
		return ErrNoMintAuthority
	}
	if *m.MintAuthority != authority {
		return ErrAuthorityMismatch
	}
	if !v.IsAuthorized(authority) {
		return ErrMissingAuthorization
	}

	ta, taAcc, err := l.loadTokenAccount(v, dest)
	if err != nil {
		return err
	}
	if ta.Mint != mint {
		return ErrMintMismatch
	}
	if ta.IsFrozen() {
		return ErrAccountFrozen
	}

	if m.Supply+amount < m.Supply {
		return ErrAmountOverflow
	}
	m.Supply += amount
	ta.Amount += amount

	mintAcc.Data = m.Serialize()
	taAcc.Data = ta.Serialize()
	return nil
}

// Burn destroys amount base units held by account.
// The authority must be the account owner or its delegate.
func (l *Ledger) Burn(v View, account, mint, authority types.Pubkey, amount uint64) error {
	m, mintAcc, err := l.loadMint(v, mint)
	if err != nil {
		return err
	}

	ta, taAcc, err := l.loadTokenAccount(v, account)
	if err != nil {
		return err
	}
	if ta.Mint != mint {
		return ErrMintMismatch
	}
	if ta.IsFrozen() {
		return ErrAccountFrozen
	}
	if err := l.checkSpendAuthority(v, ta, authority, amount); err != nil {
		return err
	}
	if ta.Amount < amount {
		return ErrInsufficientFunds
	}

	ta.Amount -= amount
	m.Supply -= amount
	if ta.Delegate != nil && *ta.Delegate == authority {
		ta.DelegatedAmount -= amount
	}

	mintAcc.Data = m.Serialize()
	taAcc.Data = ta.Serialize()
	return nil
}

// Transfer moves amount base units from source to dest. The authority
// must be the source owner or its delegate with sufficient allowance.
func (l *Ledger) Transfer(v View, source, dest, authority types.Pubkey, amount uint64) error {
	src, srcAcc, err := l.loadTokenAccount(v, source)
	if err != nil {
		return err
	}
	dst, dstAcc, err := l.loadTokenAccount(v, dest)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if src.IsFrozen() || dst.IsFrozen() {
		return ErrAccountFrozen
	}
	if err := l.checkSpendAuthority(v, src, authority, amount); err != nil {
		return err
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}
	if dst.Amount+amount < dst.Amount {
		return ErrAmountOverflow
	}

	src.Amount -= amount
	dst.Amount += amount
	if src.Delegate != nil && *src.Delegate == authority {
		src.DelegatedAmount -= amount
	}

	srcAcc.Data = src.Serialize()
	dstAcc.Data = dst.Serialize()
	return nil
}

// checkSpendAuthority verifies that authority may spend amount from ta.
func (l *Ledger) checkSpendAuthority(v View, ta *TokenAccount, authority types.Pubkey, amount uint64) error {
	if !v.IsAuthorized(authority) {
		return ErrMissingAuthorization
	}
	if authority == ta.Owner {
		return nil
	}
	if ta.Delegate != nil && *ta.Delegate == authority {
		if ta.DelegatedAmount < amount {
			return ErrInsufficientFunds
		}
		return nil
	}
	return ErrAuthorityMismatch
}

// Approve sets delegate as the spend delegate over account for up to
// amount base units. Only the account owner may approve.
func (l *Ledger) Approve(v View, account, delegate, owner types.Pubkey, amount uint64) error {
	ta, taAcc, err := l.loadTokenAccount(v, account)
	if err != nil {
		return err
	}
	if ta.Owner != owner {
		return ErrOwnerMismatch
	}
	if !v.IsAuthorized(owner) {
		return ErrMissingAuthorization
	}
	if ta.IsFrozen() {
		return ErrAccountFrozen
	}

	ta.Delegate = &delegate
	ta.DelegatedAmount = amount
	taAcc.Data = ta.Serialize()
	return nil
}

// Revoke clears the delegate on account. Only the account owner may
// revoke. Revoking with no delegate set is a no-op.
func (l *Ledger) Revoke(v View, account, owner types.Pubkey) error {
	ta, taAcc, err := l.loadTokenAccount(v, account)
	if err != nil {
		return err
	}
	if ta.Owner != owner {
		return ErrOwnerMismatch
	}
	if !v.IsAuthorized(owner) {
		return ErrMissingAuthorization
	}

	ta.Delegate = nil
	ta.DelegatedAmount = 0
	taAcc.Data = ta.Serialize()
	return nil
}

// FreezeAccount freezes a token account. The authority must match the
// mint's freeze authority and have authorized this request.
func (l *Ledger) FreezeAccount(v View, account, mint, authority types.Pubkey) error {
	m, _, err := l.loadMint(v, mint)
	if err != nil {
		return err
	}
	if m.FreezeAuthority == nil {
		return ErrNoFreezeAuthority
	}
	if *m.FreezeAuthority != authority {
		return ErrAuthorityMismatch
	}
	if !v.IsAuthorized(authority) {
		return ErrMissingAuthorization
	}

	ta, taAcc, err := l.loadTokenAccount(v, account)
	if err != nil {
		return err
	}
	if ta.Mint != mint {
		return ErrMintMismatch
	}
	if ta.IsFrozen() {
		return ErrAccountFrozen
	}

	ta.State = StateFrozen
	taAcc.Data = ta.Serialize()
	return nil
}

// ThawAccount unfreezes a token account. Authorization matches
// FreezeAccount.
func (l *Ledger) ThawAccount(v View, account, mint, authority types.Pubkey) error {
	m, _, err := l.loadMint(v, mint)
	if err != nil {
		return err
	}
	if m.FreezeAuthority == nil {
		return ErrNoFreezeAuthority
	}
	if *m.FreezeAuthority != authority {
		return ErrAuthorityMismatch
	}
	if !v.IsAuthorized(authority) {
		return ErrMissingAuthorization
	}

	ta, taAcc, err := l.loadTokenAccount(v, account)
	if err != nil {
		return err
	}
	if ta.Mint != mint {
		return ErrMintMismatch
	}
	if !ta.IsFrozen() {
		return ErrAccountNotFrozen
	}

	ta.State = StateInitialized
	taAcc.Data = ta.Serialize()
	return nil
}

// SetMintAuthority replaces the mint authority. The current authority
// must authorize the change; nil locks minting forever.
func (l *Ledger) SetMintAuthority(v View, mint, current types.Pubkey, next *types.Pubkey) error {
	m, mintAcc, err := l.loadMint(v, mint)
	if err != nil {
		return err
	}
	if m.MintAuthority == nil {
		return ErrNoMintAuthority
	}
	if *m.MintAuthority != current {
		return ErrAuthorityMismatch
	}
	if !v.IsAuthorized(current) {
		return ErrMissingAuthorization
	}

	m.MintAuthority = next
	mintAcc.Data = m.Serialize()
	return nil
}

// SetFreezeAuthority replaces the freeze authority. The current freeze
// authority must authorize the change.
func (l *Ledger) SetFreezeAuthority(v View, mint, current types.Pubkey, next *types.Pubkey) error {
	m, mintAcc, err := l.loadMint(v, mint)
	if err != nil {
		return err
	}
	if m.FreezeAuthority == nil {
		return ErrNoFreezeAuthority
	}
	if *m.FreezeAuthority != current {
		return ErrAuthorityMismatch
	}
	if !v.IsAuthorized(current) {
		return ErrMissingAuthorization
	}

	m.FreezeAuthority = next
	mintAcc.Data = m.Serialize()
	return nil
}

// AssociatedAddress returns the canonical token account address for an
// (owner, mint) pair.
func AssociatedAddress(owner, mint types.Pubkey) (types.Pubkey, error) {
	addr, _, err := associatedSeeds(owner, mint)
	return addr, err
}

// associatedSeeds derives the associated account address and returns
// the seeds used.
func associatedSeeds(owner, mint types.Pubkey) (types.Pubkey, [][]byte, error) {
	seeds := [][]byte{owner[:], types.TokenProgramAddr[:], mint[:]}
	addr, _, err := derive.FindAddress(seeds, types.AssociatedTokenProgramAddr)
	return addr, seeds, err
}

// CreateAssociatedAccount creates the associated token account for
// (owner, mint) if it does not exist. Idempotent: an existing,
// correctly-shaped account is left untouched.
func (l *Ledger) CreateAssociatedAccount(v View, owner, mint types.Pubkey) (types.Pubkey, error) {
	addr, seeds, err := associatedSeeds(owner, mint)
	if err != nil {
		return types.Pubkey{}, err
	}

	acc, err := v.Account(addr)
	if err == nil {
		ta, derr := DeserializeTokenAccount(acc.Data)
		if acc.Owner != types.TokenProgramAddr || derr != nil {
			return types.Pubkey{}, ErrNotTokenAccount
		}
		if ta.Mint != mint || ta.Owner != owner {
			return types.Pubkey{}, ErrMintMismatch
		}
		return addr, nil
	}
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		return types.Pubkey{}, err
	}

	// Prove the derived address so the runtime accepts the creation.
	if _, err := v.AuthorizeDerived(seeds, types.AssociatedTokenProgramAddr); err != nil {
		return types.Pubkey{}, err
	}

	acc, err = v.CreateAccount(addr, types.TokenProgramAddr, TokenAccountSize)
	if err != nil {
		return types.Pubkey{}, err
	}

	ta := &TokenAccount{
		Mint:  mint,
		Owner: owner,
		State: StateInitialized,
	}
	acc.Data = ta.Serialize()
	return addr, nil
}

// GetMintFromView reads a mint through a View (execution path).
func GetMintFromView(v View, pubkey types.Pubkey) (*Mint, error) {
	acc, err := v.Account(pubkey)
	if err != nil {
		return nil, err
	}
	if acc.Owner != types.TokenProgramAddr || len(acc.Data) != MintSize {
		return nil, ErrNotMint
	}
	return DeserializeMint(acc.Data)
}

// GetTokenAccountFromView reads a token account through a View
// (execution path).
func GetTokenAccountFromView(v View, pubkey types.Pubkey) (*TokenAccount, error) {
	acc, err := v.Account(pubkey)
	if err != nil {
		return nil, err
	}
	if acc.Owner != types.TokenProgramAddr || len(acc.Data) != TokenAccountSize {
		return nil, ErrNotTokenAccount
	}
	return DeserializeTokenAccount(acc.Data)
}

// GetMint reads a mint for callers outside the execution path (RPC).
func GetMint(db accounts.DB, pubkey types.Pubkey) (*Mint, error) {
	acc, err := db.GetAccount(pubkey)
	if err != nil {
		return nil, err
	}
	if acc.Owner != types.TokenProgramAddr || len(acc.Data) != MintSize {
		return nil, ErrNotMint
	}
	return DeserializeMint(acc.Data)
}

// GetTokenAccount reads a token account for callers outside the
// execution path (RPC).
func GetTokenAccount(db accounts.DB, pubkey types.Pubkey) (*TokenAccount, error) {
	acc, err := db.GetAccount(pubkey)
	if err != nil {
		return nil, err
	}
	if acc.Owner != types.TokenProgramAddr || len(acc.Data) != TokenAccountSize {
		return nil, ErrNotTokenAccount
	}
	return DeserializeTokenAccount(acc.Data)
}
