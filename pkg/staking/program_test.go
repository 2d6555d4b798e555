package staking

import (
	"errors"
	"strings"
	"testing"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/derive"
	"github.com/fortiblox/x1-vault/pkg/metadata"
	"github.com/fortiblox/x1-vault/pkg/runtime"
	"github.com/fortiblox/x1-vault/pkg/token"
)

const testStartTime = int64(1_700_000_000)

// env runs the staking program under the real engine against an
// in-memory store with a manual clock.
type env struct {
	t      *testing.T
	engine *runtime.Engine
	db     *accounts.MemoryDB
	clock  *runtime.ManualClock
	nonce  uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := accounts.NewMemoryDB()
	clock := runtime.NewManualClock(testStartTime)
	engine := runtime.NewEngine(db, clock, nil)
	engine.Register(NewProgram())
	return &env{t: t, engine: engine, db: db, clock: clock}
}

// exec signs and executes one instruction. The first keypair pays.
func (e *env) exec(ix runtime.Instruction, signers ...*types.Keypair) *runtime.Result {
	e.t.Helper()
	e.nonce++
	tx := runtime.NewTransaction(signers[0].Public, e.nonce, ix)
	if err := tx.Sign(signers...); err != nil {
		e.t.Fatalf("Sign failed: %v", err)
	}
	result, err := e.engine.Execute(tx)
	if err != nil {
		e.t.Fatalf("Execute failed: %v", err)
	}
	return result
}

func (e *env) mustExec(ix runtime.Instruction, signers ...*types.Keypair) *runtime.Result {
	e.t.Helper()
	result := e.exec(ix, signers...)
	if !result.Success {
		e.t.Fatalf("Expected success, got error %q", result.Error)
	}
	return result
}

// expectFailure executes and asserts the program rejected the request
// with the given sentinel.
func (e *env) expectFailure(sentinel error, ix runtime.Instruction, signers ...*types.Keypair) {
	e.t.Helper()
	result := e.exec(ix, signers...)
	if result.Success {
		e.t.Fatalf("Expected failure %v, got success", sentinel)
	}
	if !strings.Contains(result.Error, sentinel.Error()) {
		e.t.Fatalf("Expected error containing %q, got %q", sentinel.Error(), result.Error)
	}
}

func (e *env) issue(owner *types.Keypair) *types.Keypair {
	e.t.Helper()
	mintKP, _ := types.NewKeypair()
	ix, err := NewIssueInstruction(owner.Public, mintKP.Public, &IssueArgs{
		Name:   "Vault Pass",
		Symbol: "VLT",
		URI:    "https://arweave.net/vault-pass.json",
	})
	if err != nil {
		e.t.Fatalf("NewIssueInstruction failed: %v", err)
	}
	e.mustExec(ix, owner, mintKP)
	return mintKP
}

func (e *env) initRewardMint(payer *types.Keypair) {
	e.t.Helper()
	ix, err := NewInitializeRewardMintInstruction(payer.Public)
	if err != nil {
		e.t.Fatalf("NewInitializeRewardMintInstruction failed: %v", err)
	}
	e.mustExec(ix, payer)
}

func (e *env) stakeIx(owner, mint types.Pubkey) runtime.Instruction {
	e.t.Helper()
	ix, err := NewStakeInstruction(owner, mint)
	if err != nil {
		e.t.Fatalf("NewStakeInstruction failed: %v", err)
	}
	return ix
}

func (e *env) unstakeIx(owner, mint types.Pubkey) runtime.Instruction {
	e.t.Helper()
	ix, err := NewUnstakeInstruction(owner, mint)
	if err != nil {
		e.t.Fatalf("NewUnstakeInstruction failed: %v", err)
	}
	return ix
}

func (e *env) tokenAccount(owner, mint types.Pubkey) *token.TokenAccount {
	e.t.Helper()
	ata, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		e.t.Fatalf("AssociatedAddress failed: %v", err)
	}
	acc, err := e.db.GetAccount(ata)
	if err != nil {
		e.t.Fatalf("GetAccount failed: %v", err)
	}
	ta, err := token.DeserializeTokenAccount(acc.Data)
	if err != nil {
		e.t.Fatalf("DeserializeTokenAccount failed: %v", err)
	}
	return ta
}

func (e *env) mint(pubkey types.Pubkey) *token.Mint {
	e.t.Helper()
	acc, err := e.db.GetAccount(pubkey)
	if err != nil {
		e.t.Fatalf("GetAccount failed: %v", err)
	}
	m, err := token.DeserializeMint(acc.Data)
	if err != nil {
		e.t.Fatalf("DeserializeMint failed: %v", err)
	}
	return m
}

func TestIssueCreatesLockedNFT(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)

	ta := e.tokenAccount(ownerKP.Public, mintKP.Public)
	if ta.Amount != 1 {
		t.Errorf("Expected balance 1, got %d", ta.Amount)
	}
	if ta.IsFrozen() {
		t.Error("Fresh NFT must not be frozen")
	}

	m := e.mint(mintKP.Public)
	if m.Supply != 1 || m.Decimals != 0 {
		t.Errorf("Expected supply 1 decimals 0, got supply %d decimals %d", m.Supply, m.Decimals)
	}
	edition, _, _ := derive.MasterEdition(mintKP.Public)
	if m.MintAuthority == nil || *m.MintAuthority != edition {
		t.Error("Mint authority must be the master edition, locking supply")
	}
	if m.FreezeAuthority == nil || *m.FreezeAuthority != edition {
		t.Error("Freeze authority must be the master edition")
	}

	metadataAddr, _, _ := derive.Metadata(mintKP.Public)
	acc, err := e.db.GetAccount(metadataAddr)
	if err != nil {
		t.Fatalf("Metadata account missing: %v", err)
	}
	record, err := metadata.DeserializeMetadata(acc.Data)
	if err != nil {
		t.Fatalf("DeserializeMetadata failed: %v", err)
	}
	if record.Data.Name != "Vault Pass" || record.Data.Symbol != "VLT" {
		t.Error("Metadata content mismatch")
	}
	if record.Data.Creator == nil || record.Data.Creator.Address != ownerKP.Public || !record.Data.Creator.Verified {
		t.Error("Creator must be the owner, verified")
	}
}

func TestIssueRejectsOversizedMetadata(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP, _ := types.NewKeypair()

	ix, err := NewIssueInstruction(ownerKP.Public, mintKP.Public, &IssueArgs{
		Name:   strings.Repeat("x", metadata.MaxNameLength+1),
		Symbol: "VLT",
		URI:    "https://example.com/a.json",
	})
	if err != nil {
		t.Fatalf("NewIssueInstruction failed: %v", err)
	}
	e.expectFailure(ErrInvalidMetadata, ix, ownerKP, mintKP)

	// Nothing may land: no mint account exists.
	if _, err := e.db.GetAccount(mintKP.Public); !errors.Is(err, accounts.ErrAccountNotFound) {
		t.Errorf("Expected no mint account, got %v", err)
	}
}

func TestInitializeRewardMint(t *testing.T) {
	e := newEnv(t)
	payerKP, _ := types.NewKeypair()
	e.initRewardMint(payerKP)

	rewardMint, _, _ := derive.RewardMint()
	m := e.mint(rewardMint)
	if m.Decimals != RewardMintDecimals {
		t.Errorf("Expected %d decimals, got %d", RewardMintDecimals, m.Decimals)
	}
	mintAuthority, _, _ := derive.MintAuthority()
	if m.MintAuthority == nil || *m.MintAuthority != mintAuthority {
		t.Error("Reward mint authority must be the derived mint authority")
	}

	// Running it again must fail.
	ix, _ := NewInitializeRewardMintInstruction(payerKP.Public)
	e.expectFailure(ErrRewardMintInitialized, ix, payerKP)
}

func TestStakeFreezesNFTInPlace(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)

	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	ta := e.tokenAccount(ownerKP.Public, mintKP.Public)
	if !ta.IsFrozen() {
		t.Error("Staked NFT must be frozen in the owner's account")
	}
	if ta.Amount != 1 {
		t.Errorf("NFT must stay in the owner's account, balance %d", ta.Amount)
	}
	custody, _, _ := derive.CustodyAuthority()
	if ta.Delegate == nil || *ta.Delegate != custody {
		t.Error("Custody authority must be the delegate")
	}
	if ta.DelegatedAmount != 1 {
		t.Errorf("Expected delegated amount 1, got %d", ta.DelegatedAmount)
	}

	record, err := GetStakeRecord(e.db, ownerKP.Public, mintKP.Public)
	if err != nil {
		t.Fatalf("GetStakeRecord failed: %v", err)
	}
	if !record.IsStaked() {
		t.Error("Record must be staked")
	}
	if record.Owner != ownerKP.Public || record.NftMint != mintKP.Public {
		t.Error("Record identity mismatch")
	}
	if record.StakedAt != testStartTime {
		t.Errorf("Expected StakedAt %d, got %d", testStartTime, record.StakedAt)
	}
}

func TestStakeTwiceRejected(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)

	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	e.expectFailure(ErrAlreadyStaked, e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
}

func TestStakeRejectsForeignTokenAccount(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	strangerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)

	// The stranger names the owner's token account as their own.
	ownerAta, _ := token.AssociatedAddress(ownerKP.Public, mintKP.Public)
	recordAddr, _, _ := derive.StakeRecord(strangerKP.Public, mintKP.Public)
	custody, _, _ := derive.CustodyAuthority()
	editionAddr, _, _ := derive.MasterEdition(mintKP.Public)

	ix := runtime.Instruction{
		ProgramID: types.StakingProgramAddr,
		Accounts: []runtime.AccountMeta{
			runtime.SignerMeta(strangerKP.Public),
			runtime.Meta(mintKP.Public),
			runtime.WritableMeta(ownerAta),
			runtime.WritableMeta(recordAddr),
			runtime.Meta(custody),
			runtime.Meta(editionAddr),
		},
		Data: tagOnly(InstructionStake),
	}
	e.expectFailure(ErrNotOwner, ix, strangerKP)
}

func TestStakeRejectsEmptyTokenAccount(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP, _ := types.NewKeypair()

	// Seed a mint and an empty holding directly: the owner once had the
	// token but the account balance is zero.
	freeze := mintKP.Public
	m := &token.Mint{Supply: 1, Decimals: 0, Initialized: true, FreezeAuthority: &freeze}
	if err := e.db.SetAccount(mintKP.Public, &accounts.Account{
		Owner: types.TokenProgramAddr,
		Data:  m.Serialize(),
	}); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}
	ata, _ := token.AssociatedAddress(ownerKP.Public, mintKP.Public)
	ta := &token.TokenAccount{
		Mint:  mintKP.Public,
		Owner: ownerKP.Public,
		State: token.StateInitialized,
	}
	if err := e.db.SetAccount(ata, &accounts.Account{
		Owner: types.TokenProgramAddr,
		Data:  ta.Serialize(),
	}); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}

	e.expectFailure(ErrInsufficientBalance, e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
}

func TestUnstakePaysLinearReward(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)
	e.initRewardMint(ownerKP)

	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	e.clock.Advance(1000)
	e.mustExec(e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	rewardMint, _, _ := derive.RewardMint()
	rewardTa := e.tokenAccount(ownerKP.Public, rewardMint)
	want := uint64(1000) * RewardRatePerSecond
	if rewardTa.Amount != want {
		t.Errorf("Expected reward %d, got %d", want, rewardTa.Amount)
	}
	if m := e.mint(rewardMint); m.Supply != want {
		t.Errorf("Expected reward supply %d, got %d", want, m.Supply)
	}

	// The NFT is released: thawed, delegation revoked, still held.
	ta := e.tokenAccount(ownerKP.Public, mintKP.Public)
	if ta.IsFrozen() {
		t.Error("Unstaked NFT must be thawed")
	}
	if ta.Delegate != nil || ta.DelegatedAmount != 0 {
		t.Error("Delegation must be revoked")
	}
	if ta.Amount != 1 {
		t.Errorf("NFT must remain with the owner, balance %d", ta.Amount)
	}

	// The record is kept, flipped back to unstaked.
	record, err := GetStakeRecord(e.db, ownerKP.Public, mintKP.Public)
	if err != nil {
		t.Fatalf("GetStakeRecord failed: %v", err)
	}
	if record.IsStaked() {
		t.Error("Record must be unstaked")
	}
	if record.StakedAt != 0 {
		t.Errorf("Expected StakedAt reset to 0, got %d", record.StakedAt)
	}
}

func TestUnstakeWhenNotStaked(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)
	e.initRewardMint(ownerKP)

	// Never staked: no record exists.
	e.expectFailure(ErrNotStaked, e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	// Staked then unstaked: the record exists but is not staked.
	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	e.clock.Advance(5)
	e.mustExec(e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	e.expectFailure(ErrNotStaked, e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)
}

func TestUnstakeRejectsForeignRecord(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	strangerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)
	e.initRewardMint(ownerKP)
	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	// The stranger points at the owner's record.
	ownerAta, _ := token.AssociatedAddress(ownerKP.Public, mintKP.Public)
	recordAddr, _, _ := derive.StakeRecord(ownerKP.Public, mintKP.Public)
	custody, _, _ := derive.CustodyAuthority()
	editionAddr, _, _ := derive.MasterEdition(mintKP.Public)
	rewardMint, _, _ := derive.RewardMint()
	rewardAta, _ := token.AssociatedAddress(strangerKP.Public, rewardMint)
	mintAuthority, _, _ := derive.MintAuthority()

	ix := runtime.Instruction{
		ProgramID: types.StakingProgramAddr,
		Accounts: []runtime.AccountMeta{
			runtime.SignerMeta(strangerKP.Public),
			runtime.Meta(mintKP.Public),
			runtime.WritableMeta(ownerAta),
			runtime.WritableMeta(recordAddr),
			runtime.Meta(custody),
			runtime.Meta(editionAddr),
			runtime.WritableMeta(rewardMint),
			runtime.WritableMeta(rewardAta),
			runtime.Meta(mintAuthority),
		},
		Data: tagOnly(InstructionUnstake),
	}
	e.expectFailure(ErrNotOwner, ix, strangerKP)

	// The owner's stake is untouched.
	record, err := GetStakeRecord(e.db, ownerKP.Public, mintKP.Public)
	if err != nil {
		t.Fatalf("GetStakeRecord failed: %v", err)
	}
	if !record.IsStaked() {
		t.Error("Record must still be staked")
	}
}

func TestUnstakeClampsClockAnomaly(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)
	e.initRewardMint(ownerKP)
	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	// Clock reads earlier than the stake time: zero reward, but the
	// release still goes through.
	e.clock.Set(testStartTime - 500)
	e.mustExec(e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	rewardMint, _, _ := derive.RewardMint()
	rewardTa := e.tokenAccount(ownerKP.Public, rewardMint)
	if rewardTa.Amount != 0 {
		t.Errorf("Expected zero reward, got %d", rewardTa.Amount)
	}
	ta := e.tokenAccount(ownerKP.Public, mintKP.Public)
	if ta.IsFrozen() {
		t.Error("NFT must be released despite the clock anomaly")
	}
}

func TestUnstakeBeforeRewardMintExists(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)
	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	e.clock.Advance(100)

	e.expectFailure(ErrRewardMintMissing, e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	// The whole request aborts: the NFT stays frozen and staked.
	ta := e.tokenAccount(ownerKP.Public, mintKP.Public)
	if !ta.IsFrozen() {
		t.Error("NFT must remain frozen after the aborted unstake")
	}
	record, err := GetStakeRecord(e.db, ownerKP.Public, mintKP.Public)
	if err != nil {
		t.Fatalf("GetStakeRecord failed: %v", err)
	}
	if !record.IsStaked() {
		t.Error("Record must remain staked after the aborted unstake")
	}
}

func TestStakeFailsWhenClockUnavailable(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)

	e.clock.Fail(errors.New("ntp down"))
	result := e.exec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	if result.Success {
		t.Fatal("Expected failure while the clock is unavailable")
	}
	if !strings.Contains(result.Error, runtime.ErrClockUnavailable.Error()) {
		t.Errorf("Unexpected error string: %q", result.Error)
	}

	// Nothing landed, not even the record created before the clock read.
	if _, err := GetStakeRecord(e.db, ownerKP.Public, mintKP.Public); !errors.Is(err, accounts.ErrAccountNotFound) {
		t.Errorf("Expected no record, got %v", err)
	}
	if ta := e.tokenAccount(ownerKP.Public, mintKP.Public); ta.IsFrozen() {
		t.Error("NFT must not be frozen after the aborted stake")
	}

	// The clock recovering makes the same request succeed.
	e.clock.Fail(nil)
	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
}

func TestRestakeAccruesFreshReward(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)
	e.initRewardMint(ownerKP)

	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	e.clock.Advance(10)
	e.mustExec(e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	e.clock.Advance(100)
	e.mustExec(e.stakeIx(ownerKP.Public, mintKP.Public), ownerKP)
	e.clock.Advance(5)
	e.mustExec(e.unstakeIx(ownerKP.Public, mintKP.Public), ownerKP)

	// Rewards accumulate across rounds: 10s + 5s, the idle gap pays
	// nothing.
	rewardMint, _, _ := derive.RewardMint()
	rewardTa := e.tokenAccount(ownerKP.Public, rewardMint)
	want := uint64(15) * RewardRatePerSecond
	if rewardTa.Amount != want {
		t.Errorf("Expected total reward %d, got %d", want, rewardTa.Amount)
	}
}

func TestStakeRequiresOwnerSignature(t *testing.T) {
	e := newEnv(t)
	ownerKP, _ := types.NewKeypair()
	payerKP, _ := types.NewKeypair()
	mintKP := e.issue(ownerKP)

	// A transaction signed only by a third-party payer, with the owner
	// listed as a non-signer.
	ata, _ := token.AssociatedAddress(ownerKP.Public, mintKP.Public)
	recordAddr, _, _ := derive.StakeRecord(ownerKP.Public, mintKP.Public)
	custody, _, _ := derive.CustodyAuthority()
	editionAddr, _, _ := derive.MasterEdition(mintKP.Public)

	ix := runtime.Instruction{
		ProgramID: types.StakingProgramAddr,
		Accounts: []runtime.AccountMeta{
			runtime.Meta(ownerKP.Public),
			runtime.Meta(mintKP.Public),
			runtime.WritableMeta(ata),
			runtime.WritableMeta(recordAddr),
			runtime.Meta(custody),
			runtime.Meta(editionAddr),
		},
		Data: tagOnly(InstructionStake),
	}
	e.expectFailure(ErrMissingOwnerSignature, ix, payerKP)
}

func TestStakeRecordSerialization(t *testing.T) {
	ownerKP, _ := types.NewKeypair()
	mintKP, _ := types.NewKeypair()
	record := &StakeRecord{
		State:    StateStaked,
		Owner:    ownerKP.Public,
		NftMint:  mintKP.Public,
		StakedAt: testStartTime,
	}

	restored, err := DeserializeStakeRecord(record.Serialize())
	if err != nil {
		t.Fatalf("DeserializeStakeRecord failed: %v", err)
	}
	if restored.State != StateStaked || restored.Owner != record.Owner ||
		restored.NftMint != record.NftMint || restored.StakedAt != record.StakedAt {
		t.Error("Record mismatch after round trip")
	}

	// Unknown state bytes are rejected.
	bad := record.Serialize()
	bad[0] = 7
	if _, err := DeserializeStakeRecord(bad); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord, got %v", err)
	}
	if _, err := DeserializeStakeRecord(bad[:10]); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord for short data, got %v", err)
	}
}

func TestIssueInstructionEncoding(t *testing.T) {
	args := &IssueArgs{Name: "Vault Pass", Symbol: "VLT", URI: "https://example.com/a.json"}
	data := EncodeIssue(args)

	decoded, err := decodeIssue(data[4:])
	if err != nil {
		t.Fatalf("decodeIssue failed: %v", err)
	}
	if decoded.Name != args.Name || decoded.Symbol != args.Symbol || decoded.URI != args.URI {
		t.Error("Args mismatch after round trip")
	}

	if _, err := decodeIssue(data[4 : len(data)-1]); err == nil {
		t.Error("Expected error for truncated payload")
	}
	if _, err := decodeIssue(append(data[4:], 0)); err == nil {
		t.Error("Expected error for trailing bytes")
	}
}
