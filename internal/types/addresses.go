// Package types provides well-known program addresses used by x1-vault.
package types

// Program addresses.
// The token, associated-token, and metadata addresses match their
// Solana mainnet counterparts so derived addresses line up with
// existing tooling.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// TokenProgramAddr is the token sub-ledger program address.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramAddr is the associated token account program address.
	AssociatedTokenProgramAddr = MustPubkeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// MetadataProgramAddr is the token metadata registry program address.
	MetadataProgramAddr = MustPubkeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

	// StakingProgramAddr is the NFT custody-and-reward staking program address.
	StakingProgramAddr = MustPubkeyFromBase58("AHqbhaYrNwAXhH7X4w8cC8y26P2PAATBKzWMnEZP5hnq")
)

// Sysvar addresses.
var (
	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
)

// IsNativeProgram returns true if the pubkey is one of the hosted programs.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr,
		TokenProgramAddr,
		AssociatedTokenProgramAddr,
		MetadataProgramAddr,
		StakingProgramAddr:
		return true
	default:
		return false
	}
}

// IsSysvar returns true if the pubkey is a sysvar.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarClockAddr, SysvarRentAddr:
		return true
	default:
		return false
	}
}
