// Package derive implements program-derived address (PDA) computation.
//
// Every program-owned account in x1-vault (stake records, custody and
// mint authorities, the reward mint, metadata and edition records) lives
// at an address derived deterministically from a fixed seed tag plus the
// identities involved. Derived addresses are forced off the ed25519
// curve so no private key can ever exist for them; the program proves
// control by re-deriving the address with its bump seed.
package derive

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/fortiblox/x1-vault/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// pdaMarker is the domain separator appended to every derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// Derivation errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrOnCurve               = errors.New("derived address is on the ed25519 curve")
	ErrNoViableBump          = errors.New("unable to find a viable bump seed")
)

// Seed tags used by the staking program.
// The record/authority tags match the seeds the program authors chose;
// changing one changes every derived address.
var (
	SeedStakeRecord   = []byte("stake")
	SeedAuthority     = []byte("authority")
	SeedMintAuthority = []byte("mint-authority")
	SeedRewardMint    = []byte("token-mint")
	SeedMetadata      = []byte("metadata")
	SeedEdition       = []byte("edition")
)

// CreateAddress derives an address from seeds and a program ID.
// Returns ErrOnCurve if the derived address lands on the ed25519 curve,
// in which case the caller perturbs the seeds with a bump byte.
func CreateAddress(seeds [][]byte, program types.Pubkey) (types.Pubkey, error) {
	var out types.Pubkey
	if len(seeds) > MaxSeeds {
		return out, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return out, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write(pdaMarker)
	copy(out[:], h.Sum(nil))

	if isOnCurve(out) {
		return types.Pubkey{}, ErrOnCurve
	}
	return out, nil
}

// FindAddress finds a valid derived address by trying bump seeds from
// 255 down to 0. The returned bump is the proof-of-derivation value: the
// same (seeds, bump, program) triple always re-derives the same address.
// ErrNoViableBump after exhausting all bumps is fatal for that input.
func FindAddress(seeds [][]byte, program types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 { // need room for the bump
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}
	for bump := uint8(255); ; bump-- {
		withBump := make([][]byte, len(seeds)+1)
		copy(withBump, seeds)
		withBump[len(seeds)] = []byte{bump}

		addr, err := CreateAddress(withBump, program)
		if err == nil {
			return addr, bump, nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
		if bump == 0 {
			break
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// StakeRecord derives the stake record address for an (owner, NFT mint)
// pair. At most one record can exist per pair.
func StakeRecord(owner, nftMint types.Pubkey) (types.Pubkey, uint8, error) {
	return FindAddress(
		[][]byte{SeedStakeRecord, owner[:], nftMint[:]},
		types.StakingProgramAddr,
	)
}

// CustodyAuthority derives the program-wide custody authority used as
// freeze/thaw delegate over staked token accounts.
func CustodyAuthority() (types.Pubkey, uint8, error) {
	return FindAddress([][]byte{SeedAuthority}, types.StakingProgramAddr)
}

// MintAuthority derives the program-wide reward mint authority.
func MintAuthority() (types.Pubkey, uint8, error) {
	return FindAddress([][]byte{SeedMintAuthority}, types.StakingProgramAddr)
}

// RewardMint derives the reward mint address.
func RewardMint() (types.Pubkey, uint8, error) {
	return FindAddress([][]byte{SeedRewardMint}, types.StakingProgramAddr)
}

// Metadata derives the metadata record address for a mint.
func Metadata(mint types.Pubkey) (types.Pubkey, uint8, error) {
	return FindAddress(
		[][]byte{SeedMetadata, types.MetadataProgramAddr[:], mint[:]},
		types.MetadataProgramAddr,
	)
}

// MasterEdition derives the master edition record address for a mint.
func MasterEdition(mint types.Pubkey) (types.Pubkey, uint8, error) {
	return FindAddress(
		[][]byte{SeedMetadata, types.MetadataProgramAddr[:], mint[:], SeedEdition},
		types.MetadataProgramAddr,
	)
}

// AssociatedTokenAccount derives the canonical token account address for
// an (owner, mint) pair.
func AssociatedTokenAccount(owner, mint types.Pubkey) (types.Pubkey, uint8, error) {
	return FindAddress(
		[][]byte{owner[:], types.TokenProgramAddr[:], mint[:]},
		types.AssociatedTokenProgramAddr,
	)
}

// curve25519 field parameters, computed once.
var (
	curveP = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))
	curveD = func() *big.Int {
		d := new(big.Int).Mul(big.NewInt(-121665), new(big.Int).ModInverse(big.NewInt(121666), curveP))
		return d.Mod(d, curveP)
	}()
)

// isOnCurve checks whether 32 bytes decode to a valid compressed point
// on the ed25519 curve (-x^2 + y^2 = 1 + d*x^2*y^2 over GF(2^255-19)).
//
// The compressed form stores the y-coordinate with the sign of x in the
// top bit. The point is valid iff x^2 = (y^2 - 1)/(d*y^2 + 1) is a
// quadratic residue, tested with Euler's criterion.
func isOnCurve(point types.Pubkey) bool {
	// y is little-endian with the sign bit cleared.
	yBytes := make([]byte, 32)
	copy(yBytes, point[:])
	yBytes[31] &= 0x7F

	y := new(big.Int)
	for i := 31; i >= 0; i-- {
		y.Lsh(y, 8)
		y.Or(y, big.NewInt(int64(yBytes[i])))
	}
	if y.Cmp(curveP) >= 0 {
		return false
	}

	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, curveP)

	num := new(big.Int).Sub(y2, big.NewInt(1))
	num.Mod(num, curveP)

	den := new(big.Int).Mul(curveD, y2)
	den.Add(den, big.NewInt(1))
	den.Mod(den, curveP)

	denInv := new(big.Int).ModInverse(den, curveP)
	if denInv == nil {
		return false
	}
	x2 := new(big.Int).Mul(num, denInv)
	x2.Mod(x2, curveP)

	// Euler's criterion: x^2 is a residue iff x^2^((p-1)/2) == 1 (mod p).
	exp := new(big.Int).Sub(curveP, big.NewInt(1))
	exp.Rsh(exp, 1)
	legendre := new(big.Int).Exp(x2, exp, curveP)

	return legendre.Cmp(big.NewInt(1)) == 0 || x2.Sign() == 0
}
