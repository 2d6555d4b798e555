package staking

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/derive"
	"github.com/fortiblox/x1-vault/pkg/metadata"
	"github.com/fortiblox/x1-vault/pkg/runtime"
	"github.com/fortiblox/x1-vault/pkg/token"
)

// Program implements the NFT custody and reward program. It issues
// NFTs with metadata and a locked supply of one, takes them into
// custody by freezing them in the owner's wallet, and pays a
// time-linear reward on release.
type Program struct {
	ledger   *token.Ledger
	registry *metadata.Registry
}

// NewProgram creates the staking program.
func NewProgram() *Program {
	ledger := token.NewLedger()
	return &Program{
		ledger:   ledger,
		registry: metadata.NewRegistry(ledger),
	}
}

// ID returns the program's address.
func (p *Program) ID() types.Pubkey {
	return types.StakingProgramAddr
}

// Execute dispatches one instruction. Any returned error aborts the
// whole request with no state change.
func (p *Program) Execute(ctx *runtime.Context, data []byte) error {
	if len(data) < 4 {
		return ErrInvalidInstruction
	}
	tag := binary.LittleEndian.Uint32(data[:4])
	payload := data[4:]

	switch tag {
	case InstructionIssue:
		return p.issue(ctx, payload)
	case InstructionInitializeRewardMint:
		return p.initializeRewardMint(ctx, payload)
	case InstructionStake:
		return p.stake(ctx, payload)
	case InstructionUnstake:
		return p.unstake(ctx, payload)
	default:
		return fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, tag)
	}
}

// issue mints a one-of-one NFT to the owner: mint with zero decimals,
// metadata record, one token in the owner's associated account, and a
// master edition that locks the supply at one.
func (p *Program) issue(ctx *runtime.Context, payload []byte) error {
	args, err := decodeIssue(payload)
	if err != nil {
		return err
	}

	metas := ctx.Accounts()
	if len(metas) < issueAccounts {
		return fmt.Errorf("%w: issue needs %d accounts", ErrInvalidAccountList, issueAccounts)
	}
	owner := metas[0].Pubkey
	nftMint := metas[1].Pubkey

	if !ctx.IsAuthorized(owner) {
		return ErrMissingOwnerSignature
	}
	if !ctx.IsAuthorized(nftMint) {
		return fmt.Errorf("%w: mint keypair must co-sign", ErrMissingOwnerSignature)
	}

	data := metadata.Data{
		Name:   args.Name,
		Symbol: args.Symbol,
		URI:    args.URI,
		Creator: &metadata.Creator{
			Address:  owner,
			Verified: true,
			Share:    100,
		},
	}
	if err := data.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	// The owner starts as both mint and freeze authority; creating the
	// master edition below hands both to the edition address, fixing
	// the supply at one.
	if err := p.ledger.InitializeMint(ctx, nftMint, NftDecimals, owner, &owner); err != nil {
		return err
	}

	ata, err := p.ledger.CreateAssociatedAccount(ctx, owner, nftMint)
	if err != nil {
		return err
	}

	if _, err := p.registry.CreateMetadata(ctx, nftMint, owner, owner, data); err != nil {
		if errors.Is(err, metadata.ErrInvalidMetadata) {
			return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		return err
	}

	if err := p.ledger.MintTo(ctx, nftMint, ata, owner, 1); err != nil {
		return err
	}

	maxSupply := uint64(1)
	if _, err := p.registry.CreateMasterEdition(ctx, nftMint, owner, &maxSupply); err != nil {
		return err
	}

	ctx.Logf("issued NFT %s to %s", nftMint, owner)
	return nil
}

// initializeRewardMint creates the program-controlled reward mint at
// its derived address. Runs once for the program's lifetime.
func (p *Program) initializeRewardMint(ctx *runtime.Context, payload []byte) error {
	if len(payload) != 0 {
		return fmt.Errorf("%w: unexpected payload", ErrInvalidInstruction)
	}

	metas := ctx.Accounts()
	if len(metas) < initAccounts {
		return fmt.Errorf("%w: initialize reward mint needs %d accounts", ErrInvalidAccountList, initAccounts)
	}

	mintAuthority, _, err := derive.MintAuthority()
	if err != nil {
		return err
	}
	rewardMint, err := ctx.AuthorizeDerived(
		[][]byte{derive.SeedRewardMint}, types.StakingProgramAddr)
	if err != nil {
		return err
	}
	if rewardMint != metas[1].Pubkey {
		return fmt.Errorf("%w: reward mint address mismatch", ErrInvalidAccountList)
	}

	err = p.ledger.InitializeMint(ctx, rewardMint, RewardMintDecimals, mintAuthority, &mintAuthority)
	if errors.Is(err, token.ErrAlreadyInitialized) {
		return ErrRewardMintInitialized
	}
	if err != nil {
		return err
	}

	ctx.Logf("initialized reward mint %s", rewardMint)
	return nil
}

// stake takes the NFT into custody: the program's custody authority
// becomes delegate over the owner's token account and freezes it, and
// the stake record flips to Staked with the current timestamp.
func (p *Program) stake(ctx *runtime.Context, payload []byte) error {
	if len(payload) != 0 {
		return fmt.Errorf("%w: unexpected payload", ErrInvalidInstruction)
	}

	metas := ctx.Accounts()
	if len(metas) < stakeAccounts {
		return fmt.Errorf("%w: stake needs %d accounts", ErrInvalidAccountList, stakeAccounts)
	}
	owner := metas[0].Pubkey
	nftMint := metas[1].Pubkey
	tokenAccount := metas[2].Pubkey
	recordAddr := metas[3].Pubkey

	if !ctx.IsAuthorized(owner) {
		return ErrMissingOwnerSignature
	}

	ta, err := token.GetTokenAccountFromView(ctx, tokenAccount)
	if err != nil {
		return err
	}
	if ta.Owner != owner {
		return ErrNotOwner
	}
	if ta.Mint != nftMint {
		return fmt.Errorf("%w: token account mint mismatch", ErrInvalidAccountList)
	}
	if ta.Amount != 1 {
		return ErrInsufficientBalance
	}

	record, recordAcc, err := p.loadOrCreateRecord(ctx, recordAddr, owner, nftMint)
	if err != nil {
		return err
	}
	if record.IsStaked() {
		return ErrAlreadyStaked
	}

	// Read the clock before mutating anything, so a clock failure
	// aborts cleanly.
	now, err := ctx.UnixTime()
	if err != nil {
		return err
	}

	custody, err := ctx.AuthorizeDerived(
		[][]byte{derive.SeedAuthority}, types.StakingProgramAddr)
	if err != nil {
		return err
	}

	if err := p.ledger.Approve(ctx, tokenAccount, custody, owner, 1); err != nil {
		return err
	}
	if err := p.registry.FreezeDelegated(ctx, custody, tokenAccount, nftMint); err != nil {
		return err
	}

	record.State = StateStaked
	record.Owner = owner
	record.NftMint = nftMint
	record.StakedAt = now
	recordAcc.Data = record.Serialize()

	ctx.Logf("staked NFT %s for %s at %d", nftMint, owner, now)
	return nil
}

// unstake releases the NFT from custody and mints the accrued reward
// to the owner's reward token account. The reward is proportional to
// the whole seconds spent in custody; a clock reading earlier than the
// stake time pays zero rather than failing.
func (p *Program) unstake(ctx *runtime.Context, payload []byte) error {
	if len(payload) != 0 {
		return fmt.Errorf("%w: unexpected payload", ErrInvalidInstruction)
	}

	metas := ctx.Accounts()
	if len(metas) < unstakeAccounts {
		return fmt.Errorf("%w: unstake needs %d accounts", ErrInvalidAccountList, unstakeAccounts)
	}
	owner := metas[0].Pubkey
	nftMint := metas[1].Pubkey
	tokenAccount := metas[2].Pubkey
	recordAddr := metas[3].Pubkey
	rewardMint := metas[6].Pubkey

	if !ctx.IsAuthorized(owner) {
		return ErrMissingOwnerSignature
	}

	recordAcc, err := ctx.Account(recordAddr)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return ErrNotStaked
		}
		return err
	}
	record, err := DeserializeStakeRecord(recordAcc.Data)
	if err != nil {
		return err
	}
	if !record.IsStaked() {
		return ErrNotStaked
	}
	if record.Owner != owner {
		return ErrNotOwner
	}
	if record.NftMint != nftMint {
		return fmt.Errorf("%w: stake record mint mismatch", ErrInvalidAccountList)
	}

	expectedMint, _, err := derive.RewardMint()
	if err != nil {
		return err
	}
	if rewardMint != expectedMint {
		return fmt.Errorf("%w: reward mint address mismatch", ErrInvalidAccountList)
	}
	if _, err := ctx.Account(rewardMint); err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return ErrRewardMintMissing
		}
		return err
	}

	now, err := ctx.UnixTime()
	if err != nil {
		return err
	}

	custody, err := ctx.AuthorizeDerived(
		[][]byte{derive.SeedAuthority}, types.StakingProgramAddr)
	if err != nil {
		return err
	}

	if err := p.registry.ThawDelegated(ctx, custody, tokenAccount, nftMint); err != nil {
		return err
	}
	if err := p.ledger.Revoke(ctx, tokenAccount, owner); err != nil {
		return err
	}

	// Clamp negative elapsed time to zero so a clock anomaly can never
	// mint an enormous reward or fail the release.
	elapsed := now - record.StakedAt
	if elapsed < 0 {
		elapsed = 0
	}
	reward := uint64(elapsed) * RewardRatePerSecond

	rewardAccount, err := p.ledger.CreateAssociatedAccount(ctx, owner, rewardMint)
	if err != nil {
		return err
	}

	mintAuthority, err := ctx.AuthorizeDerived(
		[][]byte{derive.SeedMintAuthority}, types.StakingProgramAddr)
	if err != nil {
		return err
	}
	if err := p.ledger.MintTo(ctx, rewardMint, rewardAccount, mintAuthority, reward); err != nil {
		return err
	}

	record.State = StateUnstaked
	record.StakedAt = 0
	recordAcc.Data = record.Serialize()

	ctx.Logf("unstaked NFT %s for %s, reward %d after %ds", nftMint, owner, reward, elapsed)
	return nil
}

// loadOrCreateRecord returns the stake record at recordAddr, creating
// it in the Unstaked state on first use. The address must match the
// derivation for (owner, mint).
func (p *Program) loadOrCreateRecord(ctx *runtime.Context, recordAddr, owner, nftMint types.Pubkey) (*StakeRecord, *accounts.Account, error) {
	expected, _, err := derive.StakeRecord(owner, nftMint)
	if err != nil {
		return nil, nil, err
	}
	if recordAddr != expected {
		return nil, nil, fmt.Errorf("%w: stake record address mismatch", ErrInvalidAccountList)
	}

	acc, err := ctx.Account(recordAddr)
	if err == nil {
		if acc.Owner != types.StakingProgramAddr {
			return nil, nil, ErrInvalidRecord
		}
		record, derr := DeserializeStakeRecord(acc.Data)
		if derr != nil {
			return nil, nil, derr
		}
		if record.Owner != owner || record.NftMint != nftMint {
			return nil, nil, ErrNotOwner
		}
		return record, acc, nil
	}
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil, err
	}

	seeds := [][]byte{derive.SeedStakeRecord, owner[:], nftMint[:]}
	if _, err := ctx.AuthorizeDerived(seeds, types.StakingProgramAddr); err != nil {
		return nil, nil, err
	}
	acc, err = ctx.CreateAccount(recordAddr, types.StakingProgramAddr, StakeRecordSize)
	if err != nil {
		return nil, nil, err
	}

	record := &StakeRecord{
		State:   StateUnstaked,
		Owner:   owner,
		NftMint: nftMint,
	}
	acc.Data = record.Serialize()
	return record, acc, nil
}
