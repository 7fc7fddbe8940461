package lending

import (
	"lendledger/core/events"
	"lendledger/crypto"
)

// opJournal records the pre-operation image of everything an operation may
// modify so a failure can restore it exactly.
type opJournal struct {
	engine   *Engine
	global   *GlobalState
	accounts map[crypto.Address]*UserInfo
	order    []crypto.Address
	ledgers  []ledgerMark
	pending  []events.Event
}

type ledgerMark struct {
	journal Journal
	id      int
}

func (e *Engine) begin() *opJournal {
	j := &opJournal{
		engine:   e,
		global:   e.state.Clone(),
		accounts: make(map[crypto.Address]*UserInfo),
	}
	seen := make(map[Journal]struct{}, 2)
	for _, candidate := range []any{e.tokens, e.native} {
		jl, ok := candidate.(Journal)
		if !ok || jl == nil {
			continue
		}
		if _, dup := seen[jl]; dup {
			continue
		}
		seen[jl] = struct{}{}
		j.ledgers = append(j.ledgers, ledgerMark{journal: jl, id: jl.Snapshot()})
	}
	return j
}

// account returns the live account for addr, creating it lazily and
// recording its prior image the first time it is touched.
func (j *opJournal) account(addr crypto.Address) *UserInfo {
	if _, seen := j.accounts[addr]; !seen {
		prior, _ := j.engine.book.Get(addr)
		j.accounts[addr] = prior.Clone()
		j.order = append(j.order, addr)
	}
	user, _ := j.engine.book.Ensure(addr)
	return user
}

func (j *opJournal) emit(evt events.Event) {
	j.pending = append(j.pending, evt)
}

func (j *opJournal) touched() []*UserInfo {
	out := make([]*UserInfo, 0, len(j.order))
	for _, addr := range j.order {
		if user, ok := j.engine.book.Get(addr); ok {
			out = append(out, user.Clone())
		}
	}
	return out
}

func (j *opJournal) revert() {
	*j.engine.state = *j.global
	for _, addr := range j.order {
		prior := j.accounts[addr]
		if prior == nil {
			j.engine.book.remove(addr)
			continue
		}
		j.engine.book.Put(prior)
	}
	for i := len(j.ledgers) - 1; i >= 0; i-- {
		j.ledgers[i].journal.RevertToSnapshot(j.ledgers[i].id)
	}
}
