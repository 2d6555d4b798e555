package staking

import "errors"

// Program errors. The RPC layer maps these onto wire error codes, so
// their identity is part of the interface.
var (
	// ErrInvalidInstruction marks an unrecognized or malformed
	// instruction payload.
	ErrInvalidInstruction = errors.New("staking: invalid instruction")

	// ErrInvalidAccountList marks a request whose account list does not
	// match the instruction's expected shape.
	ErrInvalidAccountList = errors.New("staking: invalid account list")

	// ErrMissingOwnerSignature marks a request whose owner did not sign.
	ErrMissingOwnerSignature = errors.New("staking: owner signature required")

	// ErrNotOwner marks an attempt to operate on a token account or
	// stake record the signer does not own.
	ErrNotOwner = errors.New("staking: signer is not the owner")

	// ErrAlreadyStaked marks a stake request for an NFT that is already
	// in custody under the same record.
	ErrAlreadyStaked = errors.New("staking: token is already staked")

	// ErrNotStaked marks an unstake request for an NFT that is not in
	// custody.
	ErrNotStaked = errors.New("staking: token is not staked")

	// ErrInsufficientBalance marks a stake request whose token account
	// does not hold exactly one token.
	ErrInsufficientBalance = errors.New("staking: token account must hold exactly one token")

	// ErrRewardMintInitialized marks a second initialization of the
	// reward mint.
	ErrRewardMintInitialized = errors.New("staking: reward mint already initialized")

	// ErrRewardMintMissing marks an unstake before the reward mint was
	// initialized.
	ErrRewardMintMissing = errors.New("staking: reward mint not initialized")

	// ErrInvalidMetadata marks issue metadata that exceeds the field
	// limits or is otherwise malformed.
	ErrInvalidMetadata = errors.New("staking: invalid token metadata")
)
