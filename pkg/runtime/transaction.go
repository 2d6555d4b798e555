package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/x1-vault/internal/types"
)

// Transaction wire format limits.
const (
	MaxAccountsPerInstruction = 64
	MaxInstructionDataSize    = 10 * 1024
)

var (
	ErrTooManyAccounts        = errors.New("too many accounts in instruction")
	ErrInstructionDataTooLong = errors.New("instruction data exceeds maximum size")
	ErrInvalidTransactionData = errors.New("invalid transaction data")
	ErrMissingSignature       = errors.New("missing required signature")
	ErrInvalidSignature       = errors.New("invalid signature")
)

// AccountMeta names one account a request touches and declares how the
// runtime may treat it. Accounts not named here are invisible to the
// program during execution.
type AccountMeta struct {
	Pubkey   types.Pubkey
	Signer   bool
	Writable bool
}

// Meta constructs a read-only, non-signing account meta.
func Meta(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey}
}

// WritableMeta constructs a writable, non-signing account meta.
func WritableMeta(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, Writable: true}
}

// SignerMeta constructs a read-only signing account meta.
func SignerMeta(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, Signer: true}
}

// WritableSignerMeta constructs a writable signing account meta.
func WritableSignerMeta(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, Signer: true, Writable: true}
}

// Instruction addresses one program with an explicit account list and
// an opaque payload the program decodes itself.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Message is the signed body of a transaction. Payer is the fee payer
// and an implicit required signer. Nonce distinguishes otherwise
// identical requests so each submission hashes uniquely.
type Message struct {
	Payer       types.Pubkey
	Nonce       uint64
	Instruction Instruction
}

// Serialize encodes the message canonically. The encoding is the input
// to both signing and the transaction hash, so it must be stable.
func (m *Message) Serialize() ([]byte, error) {
	ix := &m.Instruction
	if len(ix.Accounts) > MaxAccountsPerInstruction {
		return nil, ErrTooManyAccounts
	}
	if len(ix.Data) > MaxInstructionDataSize {
		return nil, ErrInstructionDataTooLong
	}

	size := 32 + 8 + 32 + 2 + len(ix.Accounts)*33 + 4 + len(ix.Data)
	buf := make([]byte, 0, size)

	buf = append(buf, m.Payer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.Nonce)
	buf = append(buf, ix.ProgramID[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Accounts)))
	for _, meta := range ix.Accounts {
		buf = append(buf, meta.Pubkey[:]...)
		var flags byte
		if meta.Signer {
			flags |= 0x01
		}
		if meta.Writable {
			flags |= 0x02
		}
		buf = append(buf, flags)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.Data)))
	buf = append(buf, ix.Data...)

	return buf, nil
}

// DeserializeMessage decodes a canonically encoded message.
func DeserializeMessage(data []byte) (*Message, error) {
	if len(data) < 32+8+32+2 {
		return nil, ErrInvalidTransactionData
	}

	var m Message
	offset := 0

	copy(m.Payer[:], data[offset:offset+32])
	offset += 32
	m.Nonce = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	copy(m.Instruction.ProgramID[:], data[offset:offset+32])
	offset += 32
	numAccounts := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
	offset += 2

	if numAccounts > MaxAccountsPerInstruction {
		return nil, ErrTooManyAccounts
	}
	if len(data) < offset+numAccounts*33+4 {
		return nil, ErrInvalidTransactionData
	}

	m.Instruction.Accounts = make([]AccountMeta, numAccounts)
	for i := 0; i < numAccounts; i++ {
		copy(m.Instruction.Accounts[i].Pubkey[:], data[offset:offset+32])
		offset += 32
		flags := data[offset]
		offset++
		m.Instruction.Accounts[i].Signer = flags&0x01 != 0
		m.Instruction.Accounts[i].Writable = flags&0x02 != 0
	}

	dataLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if dataLen > MaxInstructionDataSize {
		return nil, ErrInstructionDataTooLong
	}
	if len(data) != offset+dataLen {
		return nil, ErrInvalidTransactionData
	}
	if dataLen > 0 {
		m.Instruction.Data = make([]byte, dataLen)
		copy(m.Instruction.Data, data[offset:])
	}

	return &m, nil
}

// Hash returns the blake3 hash of the canonical message encoding. The
// hash identifies the transaction in the journal and in RPC responses.
func (m *Message) Hash() (types.Hash, error) {
	data, err := m.Serialize()
	if err != nil {
		return types.Hash{}, err
	}
	return types.Hash(blake3.Sum256(data)), nil
}

// RequiredSigners returns the payer followed by every account meta
// marked as a signer, deduplicated, in order of first appearance.
func (m *Message) RequiredSigners() []types.Pubkey {
	seen := map[types.Pubkey]bool{m.Payer: true}
	signers := []types.Pubkey{m.Payer}
	for _, meta := range m.Instruction.Accounts {
		if meta.Signer && !seen[meta.Pubkey] {
			seen[meta.Pubkey] = true
			signers = append(signers, meta.Pubkey)
		}
	}
	return signers
}

// Transaction is a message plus one signature per required signer, in
// the order RequiredSigners reports them.
type Transaction struct {
	Message    Message
	Signatures []types.Signature
}

// NewTransaction builds an unsigned transaction for one instruction.
func NewTransaction(payer types.Pubkey, nonce uint64, ix Instruction) *Transaction {
	return &Transaction{
		Message: Message{
			Payer:       payer,
			Nonce:       nonce,
			Instruction: ix,
		},
	}
}

// Sign produces the signature list from the given keypairs. Every
// required signer must be covered or an error is returned.
func (tx *Transaction) Sign(keypairs ...*types.Keypair) error {
	data, err := tx.Message.Serialize()
	if err != nil {
		return err
	}

	byPubkey := make(map[types.Pubkey]*types.Keypair, len(keypairs))
	for _, kp := range keypairs {
		byPubkey[kp.Public] = kp
	}

	required := tx.Message.RequiredSigners()
	tx.Signatures = make([]types.Signature, len(required))
	for i, pubkey := range required {
		kp, ok := byPubkey[pubkey]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSignature, pubkey)
		}
		tx.Signatures[i] = kp.Sign(data)
	}
	return nil
}

// VerifySignatures checks every required signature against the
// canonical message encoding.
func (tx *Transaction) VerifySignatures() error {
	data, err := tx.Message.Serialize()
	if err != nil {
		return err
	}

	required := tx.Message.RequiredSigners()
	if len(tx.Signatures) != len(required) {
		return fmt.Errorf("%w: have %d signatures, need %d",
			ErrMissingSignature, len(tx.Signatures), len(required))
	}
	for i, pubkey := range required {
		if !tx.Signatures[i].Verify(pubkey, data) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, pubkey)
		}
	}
	return nil
}

// Serialize encodes the full transaction: signature count, signatures,
// then the canonical message.
func (tx *Transaction) Serialize() ([]byte, error) {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 2+len(tx.Signatures)*64+len(msg))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Signatures)))
	for _, sig := range tx.Signatures {
		buf = append(buf, sig[:]...)
	}
	buf = append(buf, msg...)
	return buf, nil
}

// DeserializeTransaction decodes a serialized transaction.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	if len(data) < 2 {
		return nil, ErrInvalidTransactionData
	}
	numSigs := int(binary.LittleEndian.Uint16(data[:2]))
	offset := 2
	if numSigs > MaxAccountsPerInstruction+1 || len(data) < offset+numSigs*64 {
		return nil, ErrInvalidTransactionData
	}

	tx := &Transaction{Signatures: make([]types.Signature, numSigs)}
	for i := 0; i < numSigs; i++ {
		copy(tx.Signatures[i][:], data[offset:offset+64])
		offset += 64
	}

	msg, err := DeserializeMessage(data[offset:])
	if err != nil {
		return nil, err
	}
	tx.Message = *msg
	return tx, nil
}

// Hash returns the transaction hash, which is the message hash.
func (tx *Transaction) Hash() (types.Hash, error) {
	return tx.Message.Hash()
}
