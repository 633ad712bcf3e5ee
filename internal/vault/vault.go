// Package vault keeps native value balances for the accounts the ledger
// pays and is paid by. It stands in for the host platform's value layer:
// transfers can be observed (and refused) by recipient hooks, and groups of
// transfers can be undone with checkpoints.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRejected            = errors.New("recipient rejected transfer")
	ErrOverflow            = errors.New("balance overflow")
)

// Receiver is notified after value has been credited to the account it is
// registered for. Returning an error refuses the transfer, which undoes it
// together with anything the receiver did in the meantime.
type Receiver interface {
	Receive(ctx context.Context, from common.Address, amount *uint256.Int) error
}

type ReceiverFunc func(ctx context.Context, from common.Address, amount *uint256.Int) error

func (f ReceiverFunc) Receive(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return f(ctx, from, amount)
}

type change struct {
	addr common.Address
	prev uint256.Int
}

// Book is an in-memory balance book. Balance changes are journaled while at
// least one checkpoint is open. The journal is shared: a Book is safe for
// concurrent use, but checkpoints assume one call chain drives it at a time,
// which the sequencer guarantees for the server.
type Book struct {
	mu        sync.Mutex
	balances  map[common.Address]uint256.Int
	receivers map[common.Address]Receiver
	journal   []change
	open      int
}

func NewBook() *Book {
	return &Book{
		balances:  make(map[common.Address]uint256.Int),
		receivers: make(map[common.Address]Receiver),
	}
}

// Credit adds newly issued value to addr, as a genesis allocation would.
func (b *Book) Credit(addr common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.balances[addr]
	next, overflow := new(uint256.Int).AddOverflow(&cur, amount)
	if overflow {
		return fmt.Errorf("%w: credit %s", ErrOverflow, addr.Hex())
	}
	b.setLocked(addr, *next)
	return nil
}

func (b *Book) Balance(addr common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[addr]
	return bal.Clone()
}

// Total is the sum of every balance.
func (b *Book) Total() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := new(uint256.Int)
	for _, bal := range b.balances {
		total.Add(total, &bal)
	}
	return total
}

// SetReceiver installs (or with nil removes) the hook for addr.
func (b *Book) SetReceiver(addr common.Address, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r == nil {
		delete(b.receivers, addr)
		return
	}
	b.receivers[addr] = r
}

// Transfer moves amount from one account to another and then runs the
// recipient's hook, if any, without holding the book's lock. A zero amount
// is a no-op.
func (b *Book) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := b.Checkpoint()
	r, err := b.move(from, to, amount)
	if err != nil {
		b.Rollback(cp)
		return err
	}
	if r != nil {
		if err := r.Receive(ctx, from, amount); err != nil {
			b.Rollback(cp)
			return fmt.Errorf("%w: %s: %w", ErrRejected, to.Hex(), err)
		}
	}
	b.Commit(cp)
	return nil
}

func (b *Book) move(from, to common.Address, amount *uint256.Int) (Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balances[from]
	if src.Lt(amount) {
		return nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	b.setLocked(from, *new(uint256.Int).Sub(&src, amount))

	dst := b.balances[to]
	next, overflow := new(uint256.Int).AddOverflow(&dst, amount)
	if overflow {
		return nil, fmt.Errorf("%w: credit %s", ErrOverflow, to.Hex())
	}
	b.setLocked(to, *next)
	return b.receivers[to], nil
}

func (b *Book) setLocked(addr common.Address, v uint256.Int) {
	if b.open > 0 {
		b.journal = append(b.journal, change{addr: addr, prev: b.balances[addr]})
	}
	if v.IsZero() {
		delete(b.balances, addr)
		return
	}
	b.balances[addr] = v
}

// Checkpoint opens a nested checkpoint and returns its handle.
func (b *Book) Checkpoint() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open++
	return len(b.journal)
}

// Rollback restores every balance changed since cp and closes it.
func (b *Book) Rollback(cp int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.journal) - 1; i >= cp; i-- {
		c := b.journal[i]
		if c.prev.IsZero() {
			delete(b.balances, c.addr)
		} else {
			b.balances[c.addr] = c.prev
		}
	}
	b.journal = b.journal[:cp]
	b.close()
}

// Commit closes cp keeping its changes. They stay journaled until the
// outermost checkpoint closes, so an enclosing Rollback still undoes them.
func (b *Book) Commit(cp int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.close()
}

func (b *Book) close() {
	b.open--
	if b.open == 0 {
		b.journal = b.journal[:0]
	}
}
