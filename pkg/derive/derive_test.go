package derive

import (
	"bytes"
	"testing"

	"github.com/fortiblox/x1-vault/internal/types"
)

func TestFindAddressDeterministic(t *testing.T) {
	program := types.StakingProgramAddr
	seeds := [][]byte{SeedAuthority}

	addr1, bump1, err := FindAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindAddress failed: %v", err)
	}
	addr2, bump2, err := FindAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindAddress failed: %v", err)
	}

	if addr1 != addr2 {
		t.Errorf("Address not deterministic: %s vs %s", addr1, addr2)
	}
	if bump1 != bump2 {
		t.Errorf("Bump not deterministic: %d vs %d", bump1, bump2)
	}
}

func TestFindAddressOffCurve(t *testing.T) {
	owner, _ := types.NewKeypair()
	mint, _ := types.NewKeypair()

	addr, bump, err := FindAddress(
		[][]byte{SeedStakeRecord, owner.Public[:], mint.Public[:]},
		types.StakingProgramAddr)
	if err != nil {
		t.Fatalf("FindAddress failed: %v", err)
	}

	// The derived address with its bump must verify through
	// CreateAddress, and CreateAddress must reject on-curve results.
	check, err := CreateAddress(
		[][]byte{SeedStakeRecord, owner.Public[:], mint.Public[:], {bump}},
		types.StakingProgramAddr)
	if err != nil {
		t.Fatalf("CreateAddress failed: %v", err)
	}
	if check != addr {
		t.Errorf("CreateAddress mismatch: got %s, want %s", check, addr)
	}

	if isOnCurve(addr) {
		t.Error("Derived address must be off the ed25519 curve")
	}
}

func TestFindAddressDifferentSeeds(t *testing.T) {
	a, _, err := FindAddress([][]byte{[]byte("alpha")}, types.StakingProgramAddr)
	if err != nil {
		t.Fatalf("FindAddress failed: %v", err)
	}
	b, _, err := FindAddress([][]byte{[]byte("beta")}, types.StakingProgramAddr)
	if err != nil {
		t.Fatalf("FindAddress failed: %v", err)
	}
	if a == b {
		t.Error("Different seeds must derive different addresses")
	}

	// Same seeds under a different program must also differ.
	c, _, err := FindAddress([][]byte{[]byte("alpha")}, types.TokenProgramAddr)
	if err != nil {
		t.Fatalf("FindAddress failed: %v", err)
	}
	if a == c {
		t.Error("Different programs must derive different addresses")
	}
}

func TestSeedLimits(t *testing.T) {
	long := bytes.Repeat([]byte{0xAA}, MaxSeedLen+1)
	if _, err := CreateAddress([][]byte{long}, types.StakingProgramAddr); err != ErrMaxSeedLengthExceeded {
		t.Errorf("Expected ErrMaxSeedLengthExceeded, got %v", err)
	}

	many := make([][]byte, MaxSeeds+1)
	for i := range many {
		many[i] = []byte{byte(i)}
	}
	if _, err := CreateAddress(many, types.StakingProgramAddr); err != ErrMaxSeedsExceeded {
		t.Errorf("Expected ErrMaxSeedsExceeded, got %v", err)
	}
}

func TestDomainDerivations(t *testing.T) {
	owner, _ := types.NewKeypair()
	mint, _ := types.NewKeypair()

	record, _, err := StakeRecord(owner.Public, mint.Public)
	if err != nil {
		t.Fatalf("StakeRecord derivation failed: %v", err)
	}

	// The helper must agree with a manual derivation.
	manual, _, err := FindAddress(
		[][]byte{SeedStakeRecord, owner.Public[:], mint.Public[:]},
		types.StakingProgramAddr)
	if err != nil {
		t.Fatalf("FindAddress failed: %v", err)
	}
	if record != manual {
		t.Errorf("StakeRecord helper mismatch: got %s, want %s", record, manual)
	}

	// Swapping owner and mint must change the address.
	swapped, _, err := StakeRecord(mint.Public, owner.Public)
	if err != nil {
		t.Fatalf("StakeRecord derivation failed: %v", err)
	}
	if record == swapped {
		t.Error("Swapped seeds must derive a different address")
	}
}

func TestMetadataDerivations(t *testing.T) {
	mint, _ := types.NewKeypair()

	meta, _, err := Metadata(mint.Public)
	if err != nil {
		t.Fatalf("Metadata derivation failed: %v", err)
	}
	edition, _, err := MasterEdition(mint.Public)
	if err != nil {
		t.Fatalf("MasterEdition derivation failed: %v", err)
	}
	if meta == edition {
		t.Error("Metadata and edition must have distinct addresses")
	}
}

func TestProgramSingletons(t *testing.T) {
	custody, _, err := CustodyAuthority()
	if err != nil {
		t.Fatalf("CustodyAuthority failed: %v", err)
	}
	mintAuth, _, err := MintAuthority()
	if err != nil {
		t.Fatalf("MintAuthority failed: %v", err)
	}
	rewardMint, _, err := RewardMint()
	if err != nil {
		t.Fatalf("RewardMint failed: %v", err)
	}

	if custody == mintAuth || custody == rewardMint || mintAuth == rewardMint {
		t.Error("Program singleton addresses must be pairwise distinct")
	}
}

func TestAssociatedTokenAccount(t *testing.T) {
	owner, _ := types.NewKeypair()
	mintA, _ := types.NewKeypair()
	mintB, _ := types.NewKeypair()

	a, _, err := AssociatedTokenAccount(owner.Public, mintA.Public)
	if err != nil {
		t.Fatalf("AssociatedTokenAccount failed: %v", err)
	}
	b, _, err := AssociatedTokenAccount(owner.Public, mintB.Public)
	if err != nil {
		t.Fatalf("AssociatedTokenAccount failed: %v", err)
	}
	if a == b {
		t.Error("Different mints must have different associated accounts")
	}
}
