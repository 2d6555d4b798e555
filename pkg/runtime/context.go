package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"log"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/derive"
)

var (
	ErrAccountNotNamed    = errors.New("account not named by the request")
	ErrAccountNotWritable = errors.New("account not marked writable")
	ErrAccountExists      = errors.New("account already exists")
	ErrNotAuthorized      = errors.New("account creation requires an authorized signer")
	ErrReadOnlyMutation   = errors.New("read-only account was mutated")
)

// Context is the working view a program executes against. Every
// account read goes through a working copy cloned from the store, and
// nothing reaches the store until the engine commits after the program
// returns success. Programs see only the accounts the request named.
type Context struct {
	db    accounts.DB
	clock Clock

	programID types.Pubkey
	metas     map[types.Pubkey]AccountMeta
	order     []types.Pubkey

	// loaded holds the pristine clone taken from the store, working
	// the copy handed to the program. Comparing the two at commit
	// yields the modified set.
	loaded  map[types.Pubkey]*accounts.Account
	working map[types.Pubkey]*accounts.Account
	created map[types.Pubkey]bool

	signers map[types.Pubkey]bool
	derived map[types.Pubkey]bool

	now    int64
	hasNow bool

	logs []string
}

func newContext(db accounts.DB, clock Clock, msg *Message) *Context {
	ctx := &Context{
		db:        db,
		clock:     clock,
		programID: msg.Instruction.ProgramID,
		metas:     make(map[types.Pubkey]AccountMeta),
		loaded:    make(map[types.Pubkey]*accounts.Account),
		working:   make(map[types.Pubkey]*accounts.Account),
		created:   make(map[types.Pubkey]bool),
		signers:   make(map[types.Pubkey]bool),
		derived:   make(map[types.Pubkey]bool),
	}

	for _, meta := range msg.Instruction.Accounts {
		if _, ok := ctx.metas[meta.Pubkey]; ok {
			// Merge duplicate listings: a signer or writable flag
			// on any listing applies to the account.
			prev := ctx.metas[meta.Pubkey]
			prev.Signer = prev.Signer || meta.Signer
			prev.Writable = prev.Writable || meta.Writable
			ctx.metas[meta.Pubkey] = prev
			continue
		}
		ctx.metas[meta.Pubkey] = meta
		ctx.order = append(ctx.order, meta.Pubkey)
	}

	for _, pubkey := range msg.RequiredSigners() {
		ctx.signers[pubkey] = true
	}

	return ctx
}

// ProgramID returns the executing program's address.
func (ctx *Context) ProgramID() types.Pubkey {
	return ctx.programID
}

// Accounts returns the request's account metas in listed order, with
// flags merged across duplicate listings.
func (ctx *Context) Accounts() []AccountMeta {
	metas := make([]AccountMeta, len(ctx.order))
	for i, pubkey := range ctx.order {
		metas[i] = ctx.metas[pubkey]
	}
	return metas
}

// Account returns the working copy of a named account, loading it from
// the store on first access. Touching an account the request did not
// name fails with ErrAccountNotNamed.
func (ctx *Context) Account(pubkey types.Pubkey) (*accounts.Account, error) {
	if _, ok := ctx.metas[pubkey]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotNamed, pubkey)
	}
	if acc, ok := ctx.working[pubkey]; ok {
		return acc, nil
	}

	acc, err := ctx.db.GetAccount(pubkey)
	if err != nil {
		return nil, err
	}
	ctx.loaded[pubkey] = acc.Clone()
	ctx.working[pubkey] = acc
	return acc, nil
}

// CreateAccount creates a named, writable account owned by the given
// program with a zeroed data buffer of the given size. The account
// must not already exist.
func (ctx *Context) CreateAccount(pubkey, owner types.Pubkey, size int) (*accounts.Account, error) {
	meta, ok := ctx.metas[pubkey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotNamed, pubkey)
	}
	if !meta.Writable {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotWritable, pubkey)
	}
	if !ctx.IsAuthorized(pubkey) {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, pubkey)
	}
	if _, ok := ctx.working[pubkey]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, pubkey)
	}
	if _, err := ctx.db.GetAccount(pubkey); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, pubkey)
	} else if !errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, err
	}

	acc := &accounts.Account{
		Owner:     owner,
		Data:      make([]byte, size),
		RentEpoch: ^uint64(0),
	}
	ctx.working[pubkey] = acc
	ctx.created[pubkey] = true
	return acc, nil
}

// IsAuthorized reports whether the given address signed the request or
// was authorized as a derived signer during execution.
func (ctx *Context) IsAuthorized(pubkey types.Pubkey) bool {
	return ctx.signers[pubkey] || ctx.derived[pubkey]
}

// AuthorizeDerived derives a program address from the seeds and marks
// it as an authorized signer for the remainder of the request. Only
// addresses that verifiably derive from the seeds can be authorized
// this way; a private key for them cannot exist.
func (ctx *Context) AuthorizeDerived(seeds [][]byte, program types.Pubkey) (types.Pubkey, error) {
	addr, _, err := derive.FindAddress(seeds, program)
	if err != nil {
		return types.Pubkey{}, err
	}
	ctx.derived[addr] = true
	return addr, nil
}

// UnixTime returns the trusted timestamp for this request. The first
// read fixes the value so every use within one request sees the same
// time.
func (ctx *Context) UnixTime() (int64, error) {
	if ctx.hasNow {
		return ctx.now, nil
	}
	t, err := ctx.clock.Now()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClockUnavailable, err)
	}
	ctx.now = t
	ctx.hasNow = true
	return t, nil
}

// Logf records a program log line for the transaction record.
func (ctx *Context) Logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	ctx.logs = append(ctx.logs, line)
	log.Printf("program %s: %s", ctx.programID, line)
}

// Logs returns the program log lines recorded so far.
func (ctx *Context) Logs() []string {
	return ctx.logs
}

// modified returns the pubkeys whose working copy differs from the
// stored state, in request order, and rejects mutation of accounts the
// request listed as read-only.
func (ctx *Context) modified() ([]types.Pubkey, error) {
	var changed []types.Pubkey
	for _, pubkey := range ctx.order {
		acc, ok := ctx.working[pubkey]
		if !ok {
			continue
		}
		if !ctx.created[pubkey] && accountsEqual(ctx.loaded[pubkey], acc) {
			continue
		}
		if !ctx.metas[pubkey].Writable {
			return nil, fmt.Errorf("%w: %s", ErrReadOnlyMutation, pubkey)
		}
		changed = append(changed, pubkey)
	}
	return changed, nil
}

// commit writes every modified working copy to the store. The caller
// holds the engine lock.
func (ctx *Context) commit(changed []types.Pubkey) error {
	for _, pubkey := range changed {
		if err := ctx.db.SetAccount(pubkey, ctx.working[pubkey]); err != nil {
			return fmt.Errorf("commit account %s: %w", pubkey, err)
		}
	}
	return nil
}

func accountsEqual(a, b *accounts.Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		bytes.Equal(a.Data, b.Data)
}
