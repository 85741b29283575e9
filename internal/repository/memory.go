package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/innovfix/onlycare-calls/internal/model"
)

// MemoryStore is an in-process Store. A transaction holds one store-wide lock
// and works on a snapshot that is discarded if fn returns an error, which gives
// the same all-or-nothing outcome as the Postgres store with coarser locking.
// It backs service and job tests and local runs without a database.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type blockKey struct {
	blocker string
	blocked string
}

type memState struct {
	users  map[string]model.User
	blocks map[blockKey]struct{}
	calls  map[string]model.CallSession
	ledger []model.LedgerEntry
	outbox []model.OutboxEvent
}

func (s *memState) clone() *memState {
	c := &memState{
		users:  make(map[string]model.User, len(s.users)),
		blocks: make(map[blockKey]struct{}, len(s.blocks)),
		calls:  make(map[string]model.CallSession, len(s.calls)),
		ledger: append([]model.LedgerEntry(nil), s.ledger...),
		outbox: append([]model.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k := range s.blocks {
		c.blocks[k] = struct{}{}
	}
	for k, v := range s.calls {
		c.calls[k] = v
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			users:  make(map[string]model.User),
			blocks: make(map[blockKey]struct{}),
			calls:  make(map[string]model.CallSession),
		},
		now: time.Now,
	}
}

// SetClock overrides the timestamp source used for rows the store stamps itself.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) PutUser(user model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	user.UpdatedAt = m.now()
	m.state.users[user.ID] = user
}

func (m *MemoryStore) User(id string) (model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[id]
	return u, ok
}

func (m *MemoryStore) Block(blockerID, blockedID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.blocks[blockKey{blockerID, blockedID}] = struct{}{}
}

// PutCall inserts or replaces a call as-is, for seeding history.
func (m *MemoryStore) PutCall(call model.CallSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.calls[call.ID] = call
}

func (m *MemoryStore) Call(id string) (model.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.calls[id]
	return c, ok
}

func (m *MemoryStore) Users() UserRepository { return &memUsers{m.view()} }
func (m *MemoryStore) Calls() CallRepository { return &memCalls{m.view()} }
func (m *MemoryStore) Ledger() LedgerRepository { return &memLedger{m.view()} }
func (m *MemoryStore) Outbox() OutboxRepository { return &memOutbox{m.view()} }

func (m *MemoryStore) LedgerEntries() []model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LedgerEntry(nil), m.state.ledger...)
}

func (m *MemoryStore) OutboxEvents() []model.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.OutboxEvent(nil), m.state.outbox...)
}

func (m *MemoryStore) view() *memTx {
	return &memTx{store: m}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	tx := &memTx{store: m, state: working}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = working
	return nil
}

// memTx is bound either to a transaction snapshot (state != nil, lock already
// held) or to the live state, taking the lock per call.
type memTx struct {
	store *MemoryStore
	state *memState
}

func (t *memTx) Users() UserRepository { return &memUsers{t} }
func (t *memTx) Calls() CallRepository { return &memCalls{t} }
func (t *memTx) Ledger() LedgerRepository { return &memLedger{t} }
func (t *memTx) Outbox() OutboxRepository { return &memOutbox{t} }

func (t *memTx) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if t.state == nil {
		return t.store.WithinTx(ctx, fn)
	}
	return fn(t)
}

// acquire returns the state to operate on and the matching release func.
func (t *memTx) acquire() (*memState, func()) {
	if t.state != nil {
		return t.state, func() {}
	}
	t.store.mu.Lock()
	return t.store.state, t.store.mu.Unlock
}

func (t *memTx) now() time.Time {
	return t.store.now()
}

func hasOngoing(st *memState, userID, excludeID string) bool {
	for _, c := range st.calls {
		if c.ID == excludeID || c.Status != model.CallStatusOngoing {
			continue
		}
		if c.CallerID == userID || c.ReceiverID == userID {
			return true
		}
	}
	return false
}

type memUsers struct{ t *memTx }

func (r *memUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	st, release := r.t.acquire()
	defer release()
	u, ok := st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *memUsers) LockByIDs(ctx context.Context, ids ...string) (map[string]*model.User, error) {
	st, release := r.t.acquire()
	defer release()
	out := make(map[string]*model.User, len(ids))
	for _, id := range lockOrder(ids) {
		if u, ok := st.users[id]; ok {
			u := u
			out[id] = &u
		}
	}
	return out, nil
}

func (r *memUsers) SetBusy(ctx context.Context, id string, busy bool) error {
	st, release := r.t.acquire()
	defer release()
	u, ok := st.users[id]
	if !ok {
		return nil
	}
	u.Busy = busy
	u.UpdatedAt = r.t.now()
	st.users[id] = u
	return nil
}

func (r *memUsers) ApplyCoins(ctx context.Context, id string, balanceDelta, earningsDelta int64) error {
	st, release := r.t.acquire()
	defer release()
	u, ok := st.users[id]
	if !ok || u.CoinBalance+balanceDelta < 0 {
		return fmt.Errorf("apply %d coins to %s: %w", balanceDelta, id, ErrInsufficientBalance)
	}
	u.CoinBalance += balanceDelta
	u.TotalEarnings += earningsDelta
	u.UpdatedAt = r.t.now()
	st.users[id] = u
	return nil
}

func (r *memUsers) UpdateRating(ctx context.Context, id string, rating float64, count int) error {
	st, release := r.t.acquire()
	defer release()
	if u, ok := st.users[id]; ok {
		u.Rating = rating
		u.RatingCount = count
		st.users[id] = u
	}
	return nil
}

func (r *memUsers) ClearPushToken(ctx context.Context, id string, token string) (bool, error) {
	st, release := r.t.acquire()
	defer release()
	u, ok := st.users[id]
	if !ok || u.PushToken == nil || *u.PushToken != token {
		return false, nil
	}
	u.PushToken = nil
	st.users[id] = u
	return true, nil
}

func (r *memUsers) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	st, release := r.t.acquire()
	defer release()
	_, ok := st.blocks[blockKey{blockerID, blockedID}]
	return ok, nil
}

func (r *memUsers) FindMatchPool(ctx context.Context, q model.MatchPoolQuery) ([]model.MatchCandidate, error) {
	st, release := r.t.acquire()
	defer release()

	var out []model.MatchCandidate
	for _, u := range st.users {
		if !u.Active || !u.Online || u.Busy || u.ID == q.RequesterID || u.Gender != q.Gender {
			continue
		}
		if q.Language != "" && u.Language != q.Language {
			continue
		}
		if !u.KindEnabled(q.Kind) {
			continue
		}
		_, blockedBy := st.blocks[blockKey{u.ID, q.RequesterID}]
		_, blocking := st.blocks[blockKey{q.RequesterID, u.ID}]
		if blockedBy || blocking || hasOngoing(st, u.ID, "") {
			continue
		}
		out = append(out, model.MatchCandidate{UserID: u.ID, TotalEarnings: u.TotalEarnings})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *memUsers) RepairBusyFlags(ctx context.Context) (model.BusyRepair, error) {
	st, release := r.t.acquire()
	defer release()

	var repair model.BusyRepair
	for id, u := range st.users {
		ongoing := hasOngoing(st, id, "")
		switch {
		case u.Busy && !ongoing:
			u.Busy = false
			repair.Cleared++
		case !u.Busy && ongoing:
			u.Busy = true
			repair.Set++
		default:
			continue
		}
		st.users[id] = u
	}
	return repair, nil
}

type memCalls struct{ t *memTx }

func (r *memCalls) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	st, release := r.t.acquire()
	defer release()
	c, ok := st.calls[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memCalls) LockByID(ctx context.Context, id string) (*model.CallSession, error) {
	return r.FindByID(ctx, id)
}

func (r *memCalls) Create(ctx context.Context, params model.CreateCallParams) (*model.CallSession, error) {
	st, release := r.t.acquire()
	defer release()
	if _, exists := st.calls[params.ID]; exists {
		return nil, fmt.Errorf("call %s already exists", params.ID)
	}
	c := model.CallSession{
		ID:          params.ID,
		CallerID:    params.CallerID,
		ReceiverID:  params.ReceiverID,
		Kind:        params.Kind,
		Status:      model.CallStatusConnecting,
		Rate:        params.Rate,
		Credential:  params.Credential,
		ChannelName: params.ChannelName,
		CreatedAt:   params.CreatedAt,
		UpdatedAt:   params.CreatedAt,
	}
	st.calls[c.ID] = c
	return &c, nil
}

func (r *memCalls) Update(ctx context.Context, call *model.CallSession) error {
	st, release := r.t.acquire()
	defer release()
	if _, ok := st.calls[call.ID]; !ok {
		return fmt.Errorf("call %s does not exist", call.ID)
	}
	c := *call
	c.UpdatedAt = r.t.now()
	st.calls[c.ID] = c
	return nil
}

func (r *memCalls) HasOngoing(ctx context.Context, userID string, excludeID string) (bool, error) {
	st, release := r.t.acquire()
	defer release()
	return hasOngoing(st, userID, excludeID), nil
}

func (r *memCalls) history(st *memState, userID string, keep func(model.CallSession) bool) []model.RecentCall {
	var out []model.RecentCall
	for _, c := range st.calls {
		if !c.IsParty(userID) || !keep(c) {
			continue
		}
		out = append(out, model.RecentCall{
			CounterpartID: c.Counterpart(userID),
			Kind:          c.Kind,
			CreatedAt:     c.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memCalls) RecentSince(ctx context.Context, userID string, since time.Time) ([]model.RecentCall, error) {
	st, release := r.t.acquire()
	defer release()
	return r.history(st, userID, func(c model.CallSession) bool {
		return !c.CreatedAt.Before(since)
	}), nil
}

func (r *memCalls) LatestOfKind(ctx context.Context, userID string, kind model.CallKind, limit int) ([]model.RecentCall, error) {
	st, release := r.t.acquire()
	defer release()
	out := r.history(st, userID, func(c model.CallSession) bool { return c.Kind == kind })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memCalls) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.CallSession, error) {
	st, release := r.t.acquire()
	defer release()
	var out []model.CallSession
	for _, c := range st.calls {
		if c.IsParty(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memCalls) AverageRating(ctx context.Context, receiverID string) (float64, int, error) {
	st, release := r.t.acquire()
	defer release()
	var sum, count int
	for _, c := range st.calls {
		if c.ReceiverID == receiverID && c.Status == model.CallStatusEnded && c.Rating != nil {
			sum += *c.Rating
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

func (r *memCalls) FindStaleConnecting(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	st, release := r.t.acquire()
	defer release()
	var stale []model.CallSession
	for _, c := range st.calls {
		if c.Status == model.CallStatusConnecting && c.CreatedAt.Before(createdBefore) {
			stale = append(stale, c)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	ids := make([]string, 0, len(stale))
	for i := 0; i < len(stale) && i < limit; i++ {
		ids = append(ids, stale[i].ID)
	}
	return ids, nil
}

type memLedger struct{ t *memTx }

func (r *memLedger) Create(ctx context.Context, params model.CreateLedgerEntryParams) (*model.LedgerEntry, error) {
	st, release := r.t.acquire()
	defer release()
	for _, e := range st.ledger {
		if e.CallID == params.CallID && e.Kind == params.Kind {
			return nil, fmt.Errorf("ledger entry %s/%s already exists", params.CallID, params.Kind)
		}
	}
	e := model.LedgerEntry{
		ID:        params.ID,
		UserID:    params.UserID,
		CallID:    params.CallID,
		Kind:      params.Kind,
		Coins:     params.Coins,
		Amount:    params.Amount,
		Status:    params.Status,
		CreatedAt: r.t.now(),
	}
	st.ledger = append(st.ledger, e)
	return &e, nil
}

func (r *memLedger) FindByCall(ctx context.Context, callID string) ([]model.LedgerEntry, error) {
	st, release := r.t.acquire()
	defer release()
	var out []model.LedgerEntry
	for _, e := range st.ledger {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memOutbox struct{ t *memTx }

func (r *memOutbox) Create(ctx context.Context, params model.CreateOutboxEventParams) (*model.OutboxEvent, error) {
	st, release := r.t.acquire()
	defer release()
	now := r.t.now()
	e := model.OutboxEvent{
		ID:            params.ID,
		UserID:        params.UserID,
		CallID:        params.CallID,
		Channel:       params.Channel,
		Event:         params.Event,
		Payload:       params.Payload,
		Status:        model.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	st.outbox = append(st.outbox, e)
	return &e, nil
}

func (r *memOutbox) update(id string, fn func(e *model.OutboxEvent)) {
	st, release := r.t.acquire()
	defer release()
	for i := range st.outbox {
		if st.outbox[i].ID == id {
			fn(&st.outbox[i])
			return
		}
	}
}

func (r *memOutbox) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]model.OutboxEvent, error) {
	st, release := r.t.acquire()
	defer release()
	var claimed []model.OutboxEvent
	for i := range st.outbox {
		if len(claimed) >= limit {
			break
		}
		e := &st.outbox[i]
		if e.Status != model.OutboxStatusPending || e.NextAttemptAt.After(now) {
			continue
		}
		e.NextAttemptAt = leaseUntil
		e.Attempts++
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (r *memOutbox) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	r.update(id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusSent
		e.SentAt = &sentAt
		e.LastError = nil
	})
	return nil
}

func (r *memOutbox) MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	r.update(id, func(e *model.OutboxEvent) {
		e.NextAttemptAt = nextAttemptAt
		e.LastError = &lastError
	})
	return nil
}

func (r *memOutbox) MarkFailed(ctx context.Context, id string, lastError string) error {
	r.update(id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusFailed
		e.LastError = &lastError
	})
	return nil
}

func (r *memOutbox) CountPending(ctx context.Context) (int, error) {
	st, release := r.t.acquire()
	defer release()
	n := 0
	for _, e := range st.outbox {
		if e.Status == model.OutboxStatusPending {
			n++
		}
	}
	return n, nil
}

func (r *memOutbox) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	st, release := r.t.acquire()
	defer release()
	kept := st.outbox[:0]
	var deleted int64
	for _, e := range st.outbox {
		if e.Status != model.OutboxStatusPending && e.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	st.outbox = kept
	return deleted, nil
}
