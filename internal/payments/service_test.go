package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ledger"

	"github.com/shopspring/decimal"
)

// memLedger is a mutex-guarded in-memory ledger.Store.
type memLedger struct {
	mu     sync.Mutex
	nextID int64
	rows   []*ledger.Record
	logs   []paymentLog
}

type paymentLog struct {
	paymentID string
	logType   string
	payload   any
}

func (m *memLedger) Migrate(context.Context) error { return nil }

func (m *memLedger) Create(_ context.Context, r *ledger.Record) (*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if r.PaymentID != "" && row.PaymentID == r.PaymentID {
			return nil, ledger.ErrConflict
		}
	}
	m.nextID++
	cp := *r
	cp.ID = m.nextID
	m.rows = append(m.rows, &cp)
	return &cp, nil
}

func (m *memLedger) find(id string) *ledger.Record {
	for _, row := range m.rows {
		if row.PaymentID == id {
			return row
		}
	}
	return nil
}

func (m *memLedger) SetStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.find(id)
	if row == nil {
		return ledger.ErrNotFound
	}
	row.Status = &status
	return nil
}

func (m *memLedger) SetFileID(_ context.Context, id, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.find(id)
	if row == nil {
		return ledger.ErrNotFound
	}
	row.FileID = &fileID
	return nil
}

func (m *memLedger) GetByPaymentID(_ context.Context, id string) (*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.find(id)
	if row == nil {
		return nil, ledger.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memLedger) GetByProviderChargeID(context.Context, string) (*ledger.Record, error) {
	return nil, ledger.ErrNotFound
}

func (m *memLedger) filter(userID int64, keep func(*ledger.Record) bool) []*ledger.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Record
	for i := len(m.rows) - 1; i >= 0; i-- {
		row := m.rows[i]
		if row.UserID == userID && keep(row) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memLedger) ListSuccessful(_ context.Context, userID int64) ([]*ledger.Record, error) {
	return m.filter(userID, func(r *ledger.Record) bool { return r.StatusValue() == ledger.StatusSucceeded }), nil
}

func (m *memLedger) ListUndelivered(_ context.Context, userID int64) ([]*ledger.Record, error) {
	return m.filter(userID, func(r *ledger.Record) bool {
		return r.StatusValue() == ledger.StatusSucceeded && r.CachedFileID() == ""
	}), nil
}

func (m *memLedger) InsertPaymentLog(_ context.Context, paymentID, logType string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, paymentLog{paymentID, logType, payload})
	return nil
}

func (m *memLedger) ListOpen(_ context.Context, userID int64) ([]*ledger.Record, error) {
	return m.filter(userID, (*ledger.Record).IsOpen), nil
}

// stubGateway hands out sequential payment ids and answers lookups from a map.
type stubGateway struct {
	mu         sync.Mutex
	created    int
	createErr  error
	verifyErr  error
	states     map[string]string
	lastReturn string
}

func (g *stubGateway) InitiatePayment(_ context.Context, req PaymentRequest) (PaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return PaymentResponse{}, g.createErr
	}
	g.created++
	g.lastReturn = req.ReturnURL
	id := "pay-" + string(rune('0'+g.created))
	if g.states == nil {
		g.states = map[string]string{}
	}
	g.states[id] = ledger.StatusPending
	return PaymentResponse{ProviderRef: id, Status: ledger.StatusPending, ConfirmationURL: "https://pay.example/" + id}, nil
}

func (g *stubGateway) VerifyPayment(_ context.Context, req PaymentVerifyRequest) (PaymentVerifyResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return PaymentVerifyResponse{}, g.verifyErr
	}
	state, ok := g.states[req.ProviderRef]
	if !ok {
		return PaymentVerifyResponse{}, errors.New("unknown payment")
	}
	return PaymentVerifyResponse{
		State:           state,
		ProviderRef:     req.ProviderRef,
		ConfirmationURL: "https://pay.example/" + req.ProviderRef,
		Raw:             map[string]any{"status": state},
	}, nil
}

func newTestService(gw *stubGateway, store ledger.Store) *Service {
	m := NewPaymentManager()
	m.RegisterGateway("stub", gw)
	return NewService(ServiceConfig{
		Gateway:     "stub",
		Price:       decimal.NewFromInt(150),
		Currency:    "RUB",
		Description: "report",
		ReturnURL: func(userID int64) (string, error) {
			return "https://bot.example/return", nil
		},
	}, m, store, nil)
}

func TestCreateOrReuse(t *testing.T) {
	gw := &stubGateway{}
	store := &memLedger{}
	svc := newTestService(gw, store)
	ctx := context.Background()

	first, err := svc.CreateOrReuse(ctx, 10, "alice")
	if err != nil {
		t.Fatalf("CreateOrReuse error: %v", err)
	}
	if first.Reused {
		t.Fatalf("first link must be fresh")
	}
	if gw.lastReturn != "https://bot.example/return" {
		t.Fatalf("return url not passed, got %q", gw.lastReturn)
	}

	rec, err := store.GetByPaymentID(ctx, first.PaymentID)
	if err != nil {
		t.Fatalf("payment not recorded: %v", err)
	}
	if rec.StatusValue() != ledger.StatusPending || *rec.Amount != "150.00" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	second, err := svc.CreateOrReuse(ctx, 10, "alice")
	if err != nil {
		t.Fatalf("second CreateOrReuse error: %v", err)
	}
	if !second.Reused || second.PaymentID != first.PaymentID {
		t.Fatalf("expected reuse of %s, got %+v", first.PaymentID, second)
	}
	if gw.created != 1 {
		t.Fatalf("expected one provider payment, got %d", gw.created)
	}
}

func TestCreateOrReuseLookupFailureCreatesNew(t *testing.T) {
	gw := &stubGateway{}
	store := &memLedger{}
	svc := newTestService(gw, store)
	ctx := context.Background()

	if _, err := svc.CreateOrReuse(ctx, 11, ""); err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}

	gw.verifyErr = errors.New("provider down")
	link, err := svc.CreateOrReuse(ctx, 11, "")
	if err != nil {
		t.Fatalf("lookup errors must be swallowed, got %v", err)
	}
	if link.Reused {
		t.Fatalf("expected a fresh link when the lookup fails")
	}
	if gw.created != 2 {
		t.Fatalf("expected two provider payments, got %d", gw.created)
	}
}

func TestCreateOrReuseSkipsSucceeded(t *testing.T) {
	gw := &stubGateway{}
	store := &memLedger{}
	svc := newTestService(gw, store)
	ctx := context.Background()

	first, err := svc.CreateOrReuse(ctx, 12, "")
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}
	gw.states[first.PaymentID] = ledger.StatusSucceeded

	second, err := svc.CreateOrReuse(ctx, 12, "")
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}
	if second.Reused || second.PaymentID == first.PaymentID {
		t.Fatalf("succeeded payment must not be reused")
	}

	rec, _ := store.GetByPaymentID(ctx, first.PaymentID)
	if rec.StatusValue() != ledger.StatusSucceeded {
		t.Fatalf("the reuse check should have stored the live status, got %q", rec.StatusValue())
	}
}

func TestCreateErrorPropagates(t *testing.T) {
	gw := &stubGateway{createErr: errors.New("boom")}
	svc := newTestService(gw, &memLedger{})

	if _, err := svc.CreateOrReuse(context.Background(), 13, ""); err == nil {
		t.Fatalf("expected creation error")
	}
}

func TestPoll(t *testing.T) {
	gw := &stubGateway{}
	store := &memLedger{}
	svc := newTestService(gw, store)
	ctx := context.Background()

	link, err := svc.CreateOrReuse(ctx, 14, "")
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}

	gw.states[link.PaymentID] = ledger.StatusWaitingForCapture
	if got := svc.Poll(ctx, link.PaymentID); got != ledger.StatusWaitingForCapture {
		t.Fatalf("expected waiting_for_capture, got %s", got)
	}

	gw.states[link.PaymentID] = ledger.StatusSucceeded
	n, err := svc.PollOpen(ctx, 14)
	if err != nil {
		t.Fatalf("PollOpen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 succeeded payment, got %d", n)
	}
	list, _ := store.ListSuccessful(ctx, 14)
	if len(list) != 1 {
		t.Fatalf("expected payment listed as successful")
	}

	gw.verifyErr = errors.New("timeout")
	if got := svc.Poll(ctx, link.PaymentID); got != ledger.StatusUnknown {
		t.Fatalf("expected unknown on lookup failure, got %s", got)
	}
	rec, _ := store.GetByPaymentID(ctx, link.PaymentID)
	if rec.StatusValue() != ledger.StatusSucceeded {
		t.Fatalf("failed lookup must not overwrite status, got %s", rec.StatusValue())
	}

	// one log per successful lookup, none for the failed one
	if len(store.logs) != 2 {
		t.Fatalf("expected 2 payment logs, got %d", len(store.logs))
	}
	last := store.logs[1]
	if last.paymentID != link.PaymentID || last.logType != ledger.LogPoll {
		t.Fatalf("unexpected log %+v", last)
	}
	if raw, ok := last.payload.(map[string]any); !ok || raw["status"] != ledger.StatusSucceeded {
		t.Fatalf("raw provider payload not logged: %+v", last.payload)
	}
}

func TestPollUnknownPaymentIsNotLogged(t *testing.T) {
	gw := &stubGateway{states: map[string]string{"stranger": ledger.StatusSucceeded}}
	store := &memLedger{}
	svc := newTestService(gw, store)

	if got := svc.Poll(context.Background(), "stranger"); got != ledger.StatusSucceeded {
		t.Fatalf("Poll = %s", got)
	}
	if len(store.logs) != 0 {
		t.Fatalf("logged a payment that is not in the ledger: %+v", store.logs)
	}
}
