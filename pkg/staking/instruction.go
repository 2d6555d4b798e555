package staking

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/derive"
	"github.com/fortiblox/x1-vault/pkg/runtime"
	"github.com/fortiblox/x1-vault/pkg/token"
)

// Instruction tags, little-endian u32 at the start of the payload.
const (
	InstructionIssue                uint32 = 0
	InstructionInitializeRewardMint uint32 = 1
	InstructionStake                uint32 = 2
	InstructionUnstake              uint32 = 3
)

// Reward emission parameters. Rewards accrue linearly in whole base
// units of the reward mint per second in custody.
const (
	RewardRatePerSecond uint64 = 1
	RewardMintDecimals  uint8  = 8
	NftDecimals         uint8  = 0
)

// IssueArgs is the payload of an Issue instruction.
type IssueArgs struct {
	Name   string
	Symbol string
	URI    string
}

// EncodeIssue encodes the Issue payload.
func EncodeIssue(args *IssueArgs) []byte {
	buf := make([]byte, 0, 4+4+len(args.Name)+4+len(args.Symbol)+4+len(args.URI))
	buf = binary.LittleEndian.AppendUint32(buf, InstructionIssue)
	buf = appendString(buf, args.Name)
	buf = appendString(buf, args.Symbol)
	buf = appendString(buf, args.URI)
	return buf
}

func decodeIssue(data []byte) (*IssueArgs, error) {
	var args IssueArgs
	var err error
	if args.Name, data, err = readString(data); err != nil {
		return nil, err
	}
	if args.Symbol, data, err = readString(data); err != nil {
		return nil, err
	}
	if args.URI, data, err = readString(data); err != nil {
		return nil, err
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrInvalidInstruction)
	}
	return &args, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("%w: truncated string", ErrInvalidInstruction)
	}
	n := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if n > len(data) {
		return "", nil, fmt.Errorf("%w: truncated string", ErrInvalidInstruction)
	}
	return string(data[:n]), data[n:], nil
}

func tagOnly(tag uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, tag)
	return buf
}

// Account list positions for each instruction. Builders and the
// program handlers must agree on these.
const (
	issueAccounts   = 5
	initAccounts    = 2
	stakeAccounts   = 6
	unstakeAccounts = 9
)

// NewIssueInstruction builds the instruction that mints a fresh NFT to
// its owner. The mint is a new keypair that must co-sign the
// transaction alongside the owner.
func NewIssueInstruction(owner, nftMint types.Pubkey, args *IssueArgs) (runtime.Instruction, error) {
	ata, err := token.AssociatedAddress(owner, nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	metadataAddr, _, err := derive.Metadata(nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	editionAddr, _, err := derive.MasterEdition(nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}

	return runtime.Instruction{
		ProgramID: types.StakingProgramAddr,
		Accounts: []runtime.AccountMeta{
			runtime.WritableSignerMeta(owner),
			runtime.WritableSignerMeta(nftMint),
			runtime.WritableMeta(ata),
			runtime.WritableMeta(metadataAddr),
			runtime.WritableMeta(editionAddr),
		},
		Data: EncodeIssue(args),
	}, nil
}

// NewInitializeRewardMintInstruction builds the one-time instruction
// that creates the program-controlled reward mint.
func NewInitializeRewardMintInstruction(payer types.Pubkey) (runtime.Instruction, error) {
	rewardMint, _, err := derive.RewardMint()
	if err != nil {
		return runtime.Instruction{}, err
	}

	return runtime.Instruction{
		ProgramID: types.StakingProgramAddr,
		Accounts: []runtime.AccountMeta{
			runtime.SignerMeta(payer),
			runtime.WritableMeta(rewardMint),
		},
		Data: tagOnly(InstructionInitializeRewardMint),
	}, nil
}

// NewStakeInstruction builds the instruction that places an NFT in
// custody: the program becomes delegate over the token account and
// freezes it in place.
func NewStakeInstruction(owner, nftMint types.Pubkey) (runtime.Instruction, error) {
	ata, err := token.AssociatedAddress(owner, nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	record, _, err := derive.StakeRecord(owner, nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	custody, _, err := derive.CustodyAuthority()
	if err != nil {
		return runtime.Instruction{}, err
	}
	editionAddr, _, err := derive.MasterEdition(nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}

	return runtime.Instruction{
		ProgramID: types.StakingProgramAddr,
		Accounts: []runtime.AccountMeta{
			runtime.SignerMeta(owner),
			runtime.Meta(nftMint),
			runtime.WritableMeta(ata),
			runtime.WritableMeta(record),
			runtime.Meta(custody),
			runtime.Meta(editionAddr),
		},
		Data: tagOnly(InstructionStake),
	}, nil
}

// NewUnstakeInstruction builds the instruction that releases an NFT
// from custody and mints the accrued reward to the owner's reward
// token account.
func NewUnstakeInstruction(owner, nftMint types.Pubkey) (runtime.Instruction, error) {
	ata, err := token.AssociatedAddress(owner, nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	record, _, err := derive.StakeRecord(owner, nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	custody, _, err := derive.CustodyAuthority()
	if err != nil {
		return runtime.Instruction{}, err
	}
	editionAddr, _, err := derive.MasterEdition(nftMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	rewardMint, _, err := derive.RewardMint()
	if err != nil {
		return runtime.Instruction{}, err
	}
	rewardAta, err := token.AssociatedAddress(owner, rewardMint)
	if err != nil {
		return runtime.Instruction{}, err
	}
	mintAuthority, _, err := derive.MintAuthority()
	if err != nil {
		return runtime.Instruction{}, err
	}

	return runtime.Instruction{
		ProgramID: types.StakingProgramAddr,
		Accounts: []runtime.AccountMeta{
			runtime.SignerMeta(owner),
			runtime.Meta(nftMint),
			runtime.WritableMeta(ata),
			runtime.WritableMeta(record),
			runtime.Meta(custody),
			runtime.Meta(editionAddr),
			runtime.WritableMeta(rewardMint),
			runtime.WritableMeta(rewardAta),
			runtime.Meta(mintAuthority),
		},
		Data: tagOnly(InstructionUnstake),
	}, nil
}
