package runtime

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fortiblox/x1-vault/internal/types"
)

func testInstruction(program types.Pubkey, metas []AccountMeta, data []byte) Instruction {
	return Instruction{ProgramID: program, Accounts: metas, Data: data}
}

func TestMessageSerializeRoundTrip(t *testing.T) {
	payerKP, _ := types.NewKeypair()
	programKP, _ := types.NewKeypair()
	accKP, _ := types.NewKeypair()

	msg := &Message{
		Payer: payerKP.Public,
		Nonce: 42,
		Instruction: testInstruction(programKP.Public, []AccountMeta{
			WritableSignerMeta(payerKP.Public),
			WritableMeta(accKP.Public),
			Meta(programKP.Public),
		}, []byte{1, 2, 3, 4}),
	}

	data, err := msg.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored, err := DeserializeMessage(data)
	if err != nil {
		t.Fatalf("DeserializeMessage failed: %v", err)
	}
	if restored.Payer != msg.Payer || restored.Nonce != msg.Nonce {
		t.Error("Payer or nonce mismatch after round trip")
	}
	if restored.Instruction.ProgramID != msg.Instruction.ProgramID {
		t.Error("Program mismatch after round trip")
	}
	if len(restored.Instruction.Accounts) != 3 {
		t.Fatalf("Expected 3 accounts, got %d", len(restored.Instruction.Accounts))
	}
	for i, meta := range restored.Instruction.Accounts {
		want := msg.Instruction.Accounts[i]
		if meta.Pubkey != want.Pubkey || meta.Signer != want.Signer || meta.Writable != want.Writable {
			t.Errorf("Account %d mismatch: got %+v, want %+v", i, meta, want)
		}
	}
	if !bytes.Equal(restored.Instruction.Data, msg.Instruction.Data) {
		t.Error("Instruction data mismatch after round trip")
	}
}

func TestMessageHashStable(t *testing.T) {
	payerKP, _ := types.NewKeypair()
	programKP, _ := types.NewKeypair()

	msg := &Message{
		Payer:       payerKP.Public,
		Nonce:       1,
		Instruction: testInstruction(programKP.Public, nil, []byte{9}),
	}

	h1, err := msg.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, _ := msg.Hash()
	if h1 != h2 {
		t.Error("Hash must be deterministic")
	}

	msg.Nonce = 2
	h3, _ := msg.Hash()
	if h3 == h1 {
		t.Error("Different nonce must produce a different hash")
	}
}

func TestMessageLimits(t *testing.T) {
	payerKP, _ := types.NewKeypair()
	programKP, _ := types.NewKeypair()

	metas := make([]AccountMeta, MaxAccountsPerInstruction+1)
	for i := range metas {
		kp, _ := types.NewKeypair()
		metas[i] = Meta(kp.Public)
	}
	msg := &Message{
		Payer:       payerKP.Public,
		Instruction: testInstruction(programKP.Public, metas, nil),
	}
	if _, err := msg.Serialize(); !errors.Is(err, ErrTooManyAccounts) {
		t.Errorf("Expected ErrTooManyAccounts, got %v", err)
	}

	msg.Instruction.Accounts = nil
	msg.Instruction.Data = make([]byte, MaxInstructionDataSize+1)
	if _, err := msg.Serialize(); !errors.Is(err, ErrInstructionDataTooLong) {
		t.Errorf("Expected ErrInstructionDataTooLong, got %v", err)
	}
}

func TestRequiredSignersDedup(t *testing.T) {
	payerKP, _ := types.NewKeypair()
	otherKP, _ := types.NewKeypair()
	programKP, _ := types.NewKeypair()

	msg := &Message{
		Payer: payerKP.Public,
		Instruction: testInstruction(programKP.Public, []AccountMeta{
			// Payer listed again as a signer: must not be duplicated.
			WritableSignerMeta(payerKP.Public),
			SignerMeta(otherKP.Public),
			Meta(otherKP.Public),
		}, nil),
	}

	signers := msg.RequiredSigners()
	if len(signers) != 2 {
		t.Fatalf("Expected 2 required signers, got %d", len(signers))
	}
	if signers[0] != payerKP.Public || signers[1] != otherKP.Public {
		t.Error("Required signer order mismatch")
	}
}

func TestTransactionSignAndVerify(t *testing.T) {
	payerKP, _ := types.NewKeypair()
	otherKP, _ := types.NewKeypair()
	programKP, _ := types.NewKeypair()

	tx := NewTransaction(payerKP.Public, 7, testInstruction(programKP.Public, []AccountMeta{
		SignerMeta(otherKP.Public),
	}, []byte{1}))

	// Missing the second signer.
	if err := tx.Sign(payerKP); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("Expected ErrMissingSignature, got %v", err)
	}

	if err := tx.Sign(payerKP, otherKP); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if err := tx.VerifySignatures(); err != nil {
		t.Fatalf("VerifySignatures failed: %v", err)
	}

	// Tampering with the message invalidates the signatures.
	tx.Message.Nonce = 8
	if err := tx.VerifySignatures(); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature after tamper, got %v", err)
	}

	// Dropping a signature is detected before verification.
	tx.Message.Nonce = 7
	tx.Signatures = tx.Signatures[:1]
	if err := tx.VerifySignatures(); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("Expected ErrMissingSignature, got %v", err)
	}
}

func TestTransactionSerializeRoundTrip(t *testing.T) {
	payerKP, _ := types.NewKeypair()
	programKP, _ := types.NewKeypair()

	tx := NewTransaction(payerKP.Public, 3, testInstruction(programKP.Public, []AccountMeta{
		WritableSignerMeta(payerKP.Public),
	}, []byte{0xAA, 0xBB}))
	if err := tx.Sign(payerKP); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	data, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored, err := DeserializeTransaction(data)
	if err != nil {
		t.Fatalf("DeserializeTransaction failed: %v", err)
	}
	if err := restored.VerifySignatures(); err != nil {
		t.Errorf("Restored transaction must verify: %v", err)
	}

	h1, _ := tx.Hash()
	h2, _ := restored.Hash()
	if h1 != h2 {
		t.Error("Hash mismatch after round trip")
	}
}

func TestDeserializeTransactionTruncated(t *testing.T) {
	payerKP, _ := types.NewKeypair()
	programKP, _ := types.NewKeypair()

	tx := NewTransaction(payerKP.Public, 1, testInstruction(programKP.Public, nil, []byte{1}))
	if err := tx.Sign(payerKP); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	data, _ := tx.Serialize()

	for _, n := range []int{0, 1, 2, len(data) / 2, len(data) - 1} {
		if _, err := DeserializeTransaction(data[:n]); err == nil {
			t.Errorf("Expected error for %d-byte prefix", n)
		}
	}
}
