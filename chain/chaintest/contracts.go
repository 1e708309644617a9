package chaintest

import (
	"context"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omnibus_custody/chain"
)

// Omnibus is the in-memory omnibus contract.
type Omnibus struct {
	c     *Chain
	guard *Guard

	paused     bool
	nonce      uint64
	txs        map[common.Hash]*chain.WithdrawalRequest
	events     []chain.Event
	executions map[common.Hash]*chain.Execution
}

func (o *Omnibus) Address() common.Address { return OmnibusAddress }

func (o *Omnibus) Paused(context.Context) (bool, error) {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return o.paused, nil
}

func (o *Omnibus) Pause(_ context.Context, paused bool) (*chain.Receipt, error) {
	const op = "omnibus.pause"
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if err := o.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	o.paused = paused
	return o.c.finish(op, chain.SeatOwner, OmnibusAddress, nil, nil)
}

func (o *Omnibus) Nonce(context.Context) (*big.Int, error) {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return new(big.Int).SetUint64(o.nonce), nil
}

func (o *Omnibus) ColdVault(context.Context) (common.Address, error) {
	return ColdAddress, nil
}

func (o *Omnibus) ComputeTxID(_ context.Context, to common.Address, amount *big.Int, userKey common.Hash, nonce *big.Int) (common.Hash, error) {
	return chain.TxID(to, amount, userKey, nonce), nil
}

func (o *Omnibus) SubmitTx(_ context.Context, to common.Address, amount *big.Int, userKey common.Hash) (*chain.Receipt, error) {
	const op = "omnibus.submitTx"
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if err := o.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	if o.paused {
		return nil, revert(op, chain.CodePaused, "PausedError")
	}
	if o.guard != nil && !o.guard.whitelisted(userKey, to) {
		return nil, revert(op, chain.CodeNotWhitelisted, "NotWhitelisted")
	}
	id := chain.TxID(to, amount, userKey, new(big.Int).SetUint64(o.nonce))
	o.nonce++
	o.txs[id] = &chain.WithdrawalRequest{ID: id, UserKey: userKey, To: to, Amount: new(big.Int).Set(amount)}
	rcpt, err := o.c.finish(op, chain.SeatOwner, OmnibusAddress, nil, nil)
	hash := chain.TxHashOf(err)
	if rcpt != nil {
		hash = rcpt.TxHash
	}
	o.events = append(o.events, chain.Event{
		Kind:        chain.EventSubmitted,
		TxHash:      hash,
		BlockNumber: o.c.block,
		UserKey:     userKey,
		Amount:      new(big.Int).Set(amount),
		TxID:        id,
		To:          to,
	})
	return rcpt, err
}

func (o *Omnibus) ApproveTx(_ context.Context, seat chain.Seat, id common.Hash) (*chain.Receipt, error) {
	const op = "omnibus.approveTx"
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if err := o.c.begin(op, seat); err != nil {
		return nil, err
	}
	req, ok := o.txs[id]
	switch {
	case !ok:
		return nil, revert(op, chain.CodeUnknownRequest, "UnknownTx")
	case req.Executed:
		return nil, revert(op, chain.CodeAlreadyExecuted, "AlreadyExecuted")
	case seat == chain.SeatTSS && req.ApprovedTSS, seat == chain.SeatOwner && req.ApprovedManager:
		return nil, revert(op, chain.CodeDuplicateApprover, "DuplicateApprover")
	}
	if seat == chain.SeatTSS {
		req.ApprovedTSS = true
	} else {
		req.ApprovedManager = true
	}
	return o.c.finish(op, seat, OmnibusAddress, nil, nil)
}

func (o *Omnibus) Execute(_ context.Context, id common.Hash, threshold *big.Int) (*chain.Receipt, error) {
	const op = "omnibus.execute"
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if err := o.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	req, ok := o.txs[id]
	switch {
	case !ok:
		return nil, revert(op, chain.CodeUnknownRequest, "UnknownTx")
	case req.Executed:
		return nil, revert(op, chain.CodeAlreadyExecuted, "AlreadyExecuted")
	case o.paused:
		return nil, revert(op, chain.CodePaused, "PausedError")
	case !req.ApprovedTSS:
		return nil, revert(op, chain.CodeNotExecutable, "NotExecutable")
	case req.Amount.Cmp(threshold) >= 0 && !req.ApprovedManager:
		return nil, revert(op, chain.CodeNotExecutable, "NotExecutable")
	}
	if o.guard != nil && !o.guard.spend(req.UserKey, req.Amount, o.c.blockTime(o.c.block+1)) {
		return nil, revert(op, chain.CodeDailyLimitExceeded, "DailyLimitExceeded")
	}
	if !o.c.debit(OmnibusAddress, req.Amount) {
		return nil, revert(op, chain.CodeInsufficientFunds, "Insufficient")
	}
	o.c.credit(req.To, req.Amount)
	req.Executed = true

	rcpt, err := o.c.finish(op, chain.SeatOwner, OmnibusAddress, nil, nil)
	exec := &chain.Execution{ID: id, Threshold: new(big.Int).Set(threshold), From: OwnerAddress}
	if rcpt != nil {
		exec.TxHash = rcpt.TxHash
		exec.Receipt = rcpt
	} else {
		exec.TxHash = chain.TxHashOf(err)
		exec.Pending = true
		exec.Receipt = o.c.pending[exec.TxHash].tx.Receipt
	}
	o.executions[exec.TxHash] = exec
	return rcpt, err
}

func (o *Omnibus) Tx(_ context.Context, id common.Hash) (*chain.WithdrawalRequest, error) {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if err := o.c.begin("omnibus.txs", chain.SeatOwner); err != nil {
		return nil, err
	}
	req, ok := o.txs[id]
	if !ok {
		return &chain.WithdrawalRequest{ID: id, Amount: new(big.Int)}, nil
	}
	cp := *req
	cp.Amount = new(big.Int).Set(req.Amount)
	return &cp, nil
}

func (o *Omnibus) Submitted(_ context.Context, from, to uint64) ([]chain.Event, error) {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	var out []chain.Event
	for _, ev := range o.events {
		if ev.Kind == chain.EventSubmitted && ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (o *Omnibus) ExecutionOf(_ context.Context, hash common.Hash) (*chain.Execution, error) {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	e, ok := o.executions[hash]
	if !ok {
		if _, known := o.c.transfers[hash]; known {
			return nil, chain.ErrNotExecution
		}
		return nil, chain.ErrTxNotFound
	}
	cp := *e
	if cp.Pending {
		cp.Receipt = nil
	}
	return &cp, nil
}

// Deposit records a user deposit into the omnibus and its Deposit event.
func (o *Omnibus) Deposit(userKey common.Hash, from common.Address, amount *big.Int) common.Hash {
	hash := o.c.SendValue(from, OmnibusAddress, amount, false)
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	o.events = append(o.events, chain.Event{
		Kind:        chain.EventDeposit,
		TxHash:      hash,
		BlockNumber: o.c.block,
		UserKey:     userKey,
		Amount:      new(big.Int).Set(amount),
		From:        from,
	})
	return hash
}

// Events returns every emitted event in order.
func (o *Omnibus) Events() []chain.Event {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return append([]chain.Event(nil), o.events...)
}

// ColdVault is the in-memory 2-of-2 cold vault. SeatOwner is admin1 and
// SeatTSS is admin2.
type ColdVault struct {
	c     *Chain
	seq   uint64
	moves map[common.Hash]*chain.Move

	// DropMoveLog makes RequestMove omit its MoveRequested log.
	DropMoveLog bool
}

func (v *ColdVault) Address() common.Address { return ColdAddress }

func (v *ColdVault) AdminDeposit(_ context.Context, value *big.Int) (*chain.Receipt, error) {
	const op = "cold.adminDeposit"
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if err := v.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	v.c.credit(ColdAddress, value)
	return v.c.finish(op, chain.SeatOwner, ColdAddress, value, nil)
}

func (v *ColdVault) RequestMove(_ context.Context, amount *big.Int) (*chain.Receipt, common.Hash, error) {
	const op = "cold.requestMove"
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if err := v.c.begin(op, chain.SeatOwner); err != nil {
		return nil, common.Hash{}, err
	}
	v.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v.seq)
	id := crypto.Keccak256Hash(amount.Bytes(), buf[:])
	v.moves[id] = &chain.Move{ID: id, Amount: new(big.Int).Set(amount)}
	rcpt, err := v.c.finish(op, chain.SeatOwner, ColdAddress, nil, nil)
	if err != nil {
		return nil, common.Hash{}, err
	}
	if v.DropMoveLog {
		return rcpt, common.Hash{}, chain.ErrMoveIDNotFound
	}
	return rcpt, id, nil
}

func (v *ColdVault) ApproveMove(_ context.Context, seat chain.Seat, id common.Hash) (*chain.Receipt, error) {
	const op = "cold.approveMove"
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if err := v.c.begin(op, seat); err != nil {
		return nil, err
	}
	m, ok := v.moves[id]
	switch {
	case !ok:
		return nil, revert(op, chain.CodeUnknownRequest, "UnknownMove")
	case m.Executed:
		return nil, revert(op, chain.CodeAlreadyExecuted, "AlreadyExecuted")
	case seat == chain.SeatOwner && m.ApprovedAdmin1, seat == chain.SeatTSS && m.ApprovedAdmin2:
		return nil, revert(op, chain.CodeDuplicateApprover, "DuplicateApprover")
	}
	if seat == chain.SeatOwner {
		m.ApprovedAdmin1 = true
	} else {
		m.ApprovedAdmin2 = true
	}
	return v.c.finish(op, seat, ColdAddress, nil, nil)
}

func (v *ColdVault) ExecuteMove(_ context.Context, id common.Hash) (*chain.Receipt, error) {
	const op = "cold.executeMove"
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if err := v.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	m, ok := v.moves[id]
	switch {
	case !ok:
		return nil, revert(op, chain.CodeUnknownRequest, "UnknownMove")
	case m.Executed:
		return nil, revert(op, chain.CodeAlreadyExecuted, "AlreadyExecuted")
	case !m.FullyApproved():
		return nil, revert(op, chain.CodeNotExecutable, "NotExecutable")
	}
	if !v.c.debit(ColdAddress, m.Amount) {
		return nil, revert(op, chain.CodeInsufficientFunds, "Insufficient")
	}
	v.c.credit(OmnibusAddress, m.Amount)
	m.Executed = true
	return v.c.finish(op, chain.SeatOwner, ColdAddress, nil, nil)
}

func (v *ColdVault) IsExecutableMove(_ context.Context, id common.Hash) (bool, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	m, ok := v.moves[id]
	if !ok {
		return false, nil
	}
	return m.FullyApproved() && !m.Executed && v.c.balance(ColdAddress).Cmp(m.Amount) >= 0, nil
}

func (v *ColdVault) Move(_ context.Context, id common.Hash) (*chain.Move, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	m, ok := v.moves[id]
	if !ok {
		return &chain.Move{ID: id, Amount: new(big.Int)}, nil
	}
	cp := *m
	cp.Amount = new(big.Int).Set(m.Amount)
	return &cp, nil
}

// Guard is the in-memory policy guard. Whitelisting is only enforced for keys
// that have at least one registered address.
type Guard struct {
	c      *Chain
	wl     map[common.Hash]map[common.Address]bool
	limits map[common.Hash]*chain.DailyLimit
}

func (g *Guard) Address() common.Address { return GuardAddress }

func (g *Guard) SetUserWL(_ context.Context, key common.Hash, to common.Address) (*chain.Receipt, error) {
	const op = "guard.setUserWL"
	g.c.mu.Lock()
	defer g.c.mu.Unlock()
	if err := g.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	if g.wl[key] == nil {
		g.wl[key] = map[common.Address]bool{}
	}
	g.wl[key][to] = true
	return g.c.finish(op, chain.SeatOwner, GuardAddress, nil, nil)
}

func (g *Guard) UnsetUserWL(_ context.Context, key common.Hash, to common.Address) (*chain.Receipt, error) {
	const op = "guard.unsetUserWL"
	g.c.mu.Lock()
	defer g.c.mu.Unlock()
	if err := g.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	delete(g.wl[key], to)
	return g.c.finish(op, chain.SeatOwner, GuardAddress, nil, nil)
}

func (g *Guard) SetUserDailyLimit(_ context.Context, key common.Hash, max *big.Int) (*chain.Receipt, error) {
	const op = "guard.setUserDailyLimit"
	g.c.mu.Lock()
	defer g.c.mu.Unlock()
	if err := g.c.begin(op, chain.SeatOwner); err != nil {
		return nil, err
	}
	l := g.limits[key]
	if l == nil {
		l = &chain.DailyLimit{Spent: new(big.Int)}
		g.limits[key] = l
	}
	l.Max = new(big.Int).Set(max)
	return g.c.finish(op, chain.SeatOwner, GuardAddress, nil, nil)
}

func (g *Guard) UserDailyLimit(_ context.Context, key common.Hash) (*chain.DailyLimit, error) {
	g.c.mu.Lock()
	defer g.c.mu.Unlock()
	l := g.limits[key]
	if l == nil {
		return &chain.DailyLimit{Max: new(big.Int), Spent: new(big.Int)}, nil
	}
	return &chain.DailyLimit{Max: new(big.Int).Set(l.Max), Spent: new(big.Int).Set(l.Spent), DayKey: l.DayKey}, nil
}

// SetSpent overrides the spent counter for key on the given day.
func (g *Guard) SetSpent(key common.Hash, spent *big.Int, day time.Time) {
	g.c.mu.Lock()
	defer g.c.mu.Unlock()
	l := g.limits[key]
	if l == nil {
		l = &chain.DailyLimit{Max: new(big.Int)}
		g.limits[key] = l
	}
	l.Spent = new(big.Int).Set(spent)
	l.DayKey = chain.DayKeyOf(day)
}

func (g *Guard) whitelisted(key common.Hash, to common.Address) bool {
	set := g.wl[key]
	return len(set) == 0 || set[to]
}

func (g *Guard) spend(key common.Hash, amount *big.Int, now time.Time) bool {
	l := g.limits[key]
	if l == nil || l.Unlimited() {
		return true
	}
	rem := l.Remaining(now)
	if rem.Cmp(amount) < 0 {
		return false
	}
	day := chain.DayKeyOf(now)
	if l.DayKey != day {
		l.Spent = new(big.Int)
		l.DayKey = day
	}
	l.Spent = new(big.Int).Add(l.Spent, amount)
	return true
}
