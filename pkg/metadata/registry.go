package metadata

import (
	"errors"
	"fmt"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/derive"
	"github.com/fortiblox/x1-vault/pkg/token"
)

// Registry errors.
var (
	ErrAlreadyExists        = errors.New("metadata: record already exists")
	ErrNotFound             = errors.New("metadata: record not found")
	ErrSupplyNotOne         = errors.New("metadata: master edition requires supply of exactly 1")
	ErrNonZeroDecimals      = errors.New("metadata: master edition requires zero decimals")
	ErrDelegateMismatch     = errors.New("metadata: authority is not the token account delegate")
	ErrMissingAuthorization = errors.New("metadata: authority did not authorize this request")
)

// Registry exposes metadata operations over a token.View.
// Like the token ledger it is a stateless facade.
type Registry struct {
	ledger *token.Ledger
}

// NewRegistry creates the metadata registry facade.
func NewRegistry(ledger *token.Ledger) *Registry {
	return &Registry{ledger: ledger}
}

// CreateMetadata writes the immutable metadata record for a mint.
// The mint's mint authority must authorize the request.
func (r *Registry) CreateMetadata(v token.View, mint, mintAuthority, updateAuthority types.Pubkey, data Data) (types.Pubkey, error) {
	if err := data.Validate(); err != nil {
		return types.Pubkey{}, err
	}

	m, err := token.GetMintFromView(v, mint)
	if err != nil {
		return types.Pubkey{}, err
	}
	if m.MintAuthority == nil || *m.MintAuthority != mintAuthority {
		return types.Pubkey{}, token.ErrAuthorityMismatch
	}
	if !v.IsAuthorized(mintAuthority) {
		return types.Pubkey{}, ErrMissingAuthorization
	}

	addr, _, err := derive.Metadata(mint)
	if err != nil {
		return types.Pubkey{}, err
	}
	if _, err := v.Account(addr); err == nil {
		return types.Pubkey{}, ErrAlreadyExists
	} else if !errors.Is(err, accounts.ErrAccountNotFound) {
		return types.Pubkey{}, err
	}

	seeds := [][]byte{derive.SeedMetadata, types.MetadataProgramAddr[:], mint[:]}
	if _, err := v.AuthorizeDerived(seeds, types.MetadataProgramAddr); err != nil {
		return types.Pubkey{}, err
	}

	record := &Metadata{
		UpdateAuthority: updateAuthority,
		Mint:            mint,
		Data:            data,
	}
	raw := record.Serialize()

	acc, err := v.CreateAccount(addr, types.MetadataProgramAddr, len(raw))
	if err != nil {
		return types.Pubkey{}, err
	}
	acc.Data = raw
	return addr, nil
}

// CreateMasterEdition marks a mint as a singleton master edition.
// The mint must hold exactly 1 indivisible unit and carry a metadata
// record. Both the mint and freeze authorities move to the edition
// address, locking the supply: after this call no key can ever mint
// another unit, and freezing is possible only through FreezeDelegated.
func (r *Registry) CreateMasterEdition(v token.View, mint, mintAuthority types.Pubkey, maxSupply *uint64) (types.Pubkey, error) {
	m, err := token.GetMintFromView(v, mint)
	if err != nil {
		return types.Pubkey{}, err
	}
	if m.Supply != 1 {
		return types.Pubkey{}, ErrSupplyNotOne
	}
	if m.Decimals != 0 {
		return types.Pubkey{}, ErrNonZeroDecimals
	}

	metaAddr, _, err := derive.Metadata(mint)
	if err != nil {
		return types.Pubkey{}, err
	}
	if _, err := v.Account(metaAddr); err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return types.Pubkey{}, ErrNotFound
		}
		return types.Pubkey{}, err
	}

	addr, _, err := derive.MasterEdition(mint)
	if err != nil {
		return types.Pubkey{}, err
	}
	if _, err := v.Account(addr); err == nil {
		return types.Pubkey{}, ErrAlreadyExists
	} else if !errors.Is(err, accounts.ErrAccountNotFound) {
		return types.Pubkey{}, err
	}

	seeds := [][]byte{derive.SeedMetadata, types.MetadataProgramAddr[:], mint[:], derive.SeedEdition}
	if _, err := v.AuthorizeDerived(seeds, types.MetadataProgramAddr); err != nil {
		return types.Pubkey{}, err
	}

	// Supply lock: hand both authorities to the edition record.
	if err := r.ledger.SetMintAuthority(v, mint, mintAuthority, &addr); err != nil {
		return types.Pubkey{}, fmt.Errorf("transfer mint authority: %w", err)
	}
	if err := r.ledger.SetFreezeAuthority(v, mint, mintAuthority, &addr); err != nil {
		return types.Pubkey{}, fmt.Errorf("transfer freeze authority: %w", err)
	}

	edition := &MasterEdition{MaxSupply: maxSupply}
	acc, err := v.CreateAccount(addr, types.MetadataProgramAddr, MasterEditionSize)
	if err != nil {
		return types.Pubkey{}, err
	}
	acc.Data = edition.Serialize()
	return addr, nil
}

// FreezeDelegated freezes a token account through the master edition.
// The delegate must match the token account's spend delegate and must
// be an authorized (derived) signer; the edition itself then acts as
// the mint's freeze authority.
func (r *Registry) FreezeDelegated(v token.View, delegate, tokenAccount, mint types.Pubkey) error {
	if err := r.checkDelegated(v, delegate, tokenAccount); err != nil {
		return err
	}
	edition, err := r.authorizeEdition(v, mint)
	if err != nil {
		return err
	}
	return r.ledger.FreezeAccount(v, tokenAccount, mint, edition)
}

// ThawDelegated unfreezes a token account through the master edition.
// Authorization matches FreezeDelegated.
func (r *Registry) ThawDelegated(v token.View, delegate, tokenAccount, mint types.Pubkey) error {
	if err := r.checkDelegated(v, delegate, tokenAccount); err != nil {
		return err
	}
	edition, err := r.authorizeEdition(v, mint)
	if err != nil {
		return err
	}
	return r.ledger.ThawAccount(v, tokenAccount, mint, edition)
}

// checkDelegated verifies the delegate claim on a token account.
func (r *Registry) checkDelegated(v token.View, delegate, tokenAccount types.Pubkey) error {
	ta, err := token.GetTokenAccountFromView(v, tokenAccount)
	if err != nil {
		return err
	}
	if ta.Delegate == nil || *ta.Delegate != delegate {
		return ErrDelegateMismatch
	}
	if !v.IsAuthorized(delegate) {
		return ErrMissingAuthorization
	}
	return nil
}

// authorizeEdition proves the master edition address for a mint and
// verifies the record exists.
func (r *Registry) authorizeEdition(v token.View, mint types.Pubkey) (types.Pubkey, error) {
	addr, _, err := derive.MasterEdition(mint)
	if err != nil {
		return types.Pubkey{}, err
	}
	acc, err := v.Account(addr)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return types.Pubkey{}, ErrNotFound
		}
		return types.Pubkey{}, err
	}
	if acc.Owner != types.MetadataProgramAddr {
		return types.Pubkey{}, ErrInvalidRecord
	}
	if _, err := DeserializeMasterEdition(acc.Data); err != nil {
		return types.Pubkey{}, err
	}

	seeds := [][]byte{derive.SeedMetadata, types.MetadataProgramAddr[:], mint[:], derive.SeedEdition}
	return v.AuthorizeDerived(seeds, types.MetadataProgramAddr)
}

// GetMetadata reads the metadata record for a mint (RPC path).
func GetMetadata(db accounts.DB, mint types.Pubkey) (*Metadata, error) {
	addr, _, err := derive.Metadata(mint)
	if err != nil {
		return nil, err
	}
	acc, err := db.GetAccount(addr)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return DeserializeMetadata(acc.Data)
}

// GetMasterEdition reads the master edition record for a mint (RPC path).
func GetMasterEdition(db accounts.DB, mint types.Pubkey) (*MasterEdition, error) {
	addr, _, err := derive.MasterEdition(mint)
	if err != nil {
		return nil, err
	}
	acc, err := db.GetAccount(addr)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return DeserializeMasterEdition(acc.Data)
}
