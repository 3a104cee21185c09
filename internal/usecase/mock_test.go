//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/i18n"
)

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu          sync.Mutex
	Requests    []adapter.PaymentRequest
	Verifies    []adapter.VerifyRequest
	RequestFunc func(ctx context.Context, req adapter.PaymentRequest) (adapter.PaymentRequestResult, error)
	VerifyFunc  func(ctx context.Context, req adapter.VerifyRequest) (adapter.VerifyResult, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) RequestPayment(ctx context.Context, req adapter.PaymentRequest) (adapter.PaymentRequestResult, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.RequestFunc != nil {
		return m.RequestFunc(ctx, req)
	}
	return adapter.PaymentRequestResult{Authority: "A1", RedirectURL: "https://pay.example/StartPay/A1"}, nil
}

func (m *MockPaymentGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (adapter.VerifyResult, error) {
	m.mu.Lock()
	m.Verifies = append(m.Verifies, req)
	m.mu.Unlock()
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, req)
	}
	return adapter.VerifyResult{Code: 100, RefID: "R1", CardPan: "6037****1234"}, nil
}

func (m *MockPaymentGateway) VerifyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Verifies)
}

// ---- Mock TrackingPlatform ----

type MockTrackingPlatform struct {
	mu      sync.Mutex
	Devices map[int64]adapter.DeviceRecord
	Users   []adapter.TrackingUser
	Puts    []int64

	// UserRecs holds user documents written by UpdateUser.
	UserRecs map[int64]map[string]any

	GetErr error
	PutErr error
}

var _ adapter.TrackingPlatform = (*MockTrackingPlatform)(nil)

func NewMockTrackingPlatform() *MockTrackingPlatform {
	return &MockTrackingPlatform{Devices: map[int64]adapter.DeviceRecord{}, UserRecs: map[int64]map[string]any{}}
}

func (m *MockTrackingPlatform) GetDevice(ctx context.Context, id int64) (adapter.DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.Devices[id]
	if !ok {
		return nil, &adapter.TrackingError{Op: "get device", StatusCode: 404}
	}
	cp := adapter.DeviceRecord{}
	for k, v := range rec {
		cp[k] = v
	}
	return cp, nil
}

func (m *MockTrackingPlatform) UpdateDevice(ctx context.Context, id int64, rec adapter.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.Devices[id] = rec
	m.Puts = append(m.Puts, id)
	return nil
}

func (m *MockTrackingPlatform) ListUsers(ctx context.Context) ([]adapter.TrackingUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return append([]adapter.TrackingUser(nil), m.Users...), nil
}

func (m *MockTrackingPlatform) GetUser(ctx context.Context, id int64) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if rec, ok := m.UserRecs[id]; ok {
		cp := map[string]any{}
		for k, v := range rec {
			cp[k] = v
		}
		return cp, nil
	}
	for _, u := range m.Users {
		if u.ID == id {
			return map[string]any{"id": id, "name": u.Name, "phone": u.Phone, "deviceLimit": u.DeviceLimit}, nil
		}
	}
	return nil, &adapter.TrackingError{Op: "get user", StatusCode: 404}
}

func (m *MockTrackingPlatform) UpdateUser(ctx context.Context, id int64, rec map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.UserRecs[id] = rec
	return nil
}

func (m *MockTrackingPlatform) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Puts)
}

// ---- Mock ExpirationSynchronizer ----

type MockSync struct {
	mu      sync.Mutex
	Calls   []int64
	Err     error
	NowFunc func() time.Time
}

func (m *MockSync) ExtendDevice(ctx context.Context, deviceID int64, days int) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, deviceID)
	if m.Err != nil {
		return time.Time{}, m.Err
	}
	now := time.Now()
	if m.NowFunc != nil {
		now = m.NowFunc()
	}
	return now.Add(time.Duration(days) * 24 * time.Hour), nil
}

func (m *MockSync) ExtendUser(ctx context.Context, userID int64, days int) (time.Time, error) {
	return m.ExtendDevice(ctx, userID, days)
}

func (m *MockSync) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ---- Mock DeviceInventory ----

type MockInventory struct {
	Rows    []adapter.InventoryDevice
	Pages   int
	ListErr error
}

var _ adapter.DeviceInventory = (*MockInventory)(nil)

func (m *MockInventory) ListDevices(ctx context.Context, after adapter.InventoryCursor, limit int) ([]adapter.InventoryDevice, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.Pages++
	rows := append([]adapter.InventoryDevice(nil), m.Rows...)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].DeviceID < rows[j].DeviceID
	})
	var out []adapter.InventoryDevice
	for _, r := range rows {
		if r.UserID < after.UserID || (r.UserID == after.UserID && r.DeviceID <= after.DeviceID) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockInventory) DeviceOwners(ctx context.Context, deviceID int64) ([]adapter.InventoryDevice, error) {
	var out []adapter.InventoryDevice
	for _, r := range m.Rows {
		if r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---- Mock SMSProvider ----

type SentSMS struct {
	To       string
	Template string
	Token    string
	Message  string
}

type MockSMS struct {
	mu               sync.Mutex
	Sent             []SentSMS
	SendTemplateFunc func(ctx context.Context, to, template, token string) error
	SendFunc         func(ctx context.Context, to, message string) error
}

var _ adapter.SMSProvider = (*MockSMS)(nil)

func (m *MockSMS) SendTemplate(ctx context.Context, to, template, token string) error {
	if m.SendTemplateFunc != nil {
		if err := m.SendTemplateFunc(ctx, to, template, token); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentSMS{To: to, Template: template, Token: token})
	return nil
}

func (m *MockSMS) Send(ctx context.Context, to, message string) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, to, message); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentSMS{To: to, Message: message})
	return nil
}

// ---- Mock EventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []adapter.Event
	Err    error
}

func (m *MockPublisher) Publish(ctx context.Context, ev adapter.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return m.Err
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		out = append(out, e.Type)
	}
	return out
}

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Payment

	SaveFunc                  func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	UpdateStatusIfPendingFunc func(ctx context.Context, tx repository.Tx, id string, upd repository.StatusUpdate) (bool, error)
	RefExistsFunc             func(ctx context.Context, tx repository.Tx, ref string) (bool, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{byID: map[string]*model.Payment{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) Get(id string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (r *MockPaymentRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	if p := r.Get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Authority == authority {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) SetAuthority(ctx context.Context, tx repository.Tx, id, authority string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Authority == authority {
			return false, domain.ErrAlreadyExists
		}
	}
	p, ok := r.byID[id]
	if !ok || p.Status != model.PaymentStatusPending || p.Authority != "" {
		return false, nil
	}
	p.Authority = authority
	return true, nil
}

func (r *MockPaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, upd repository.StatusUpdate) (bool, error) {
	if r.UpdateStatusIfPendingFunc != nil {
		return r.UpdateStatusIfPendingFunc(ctx, tx, id, upd)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = upd.Status
	if upd.RefID != nil {
		ref := *upd.RefID
		p.RefID = &ref
	}
	p.FailureCode = upd.FailureCode
	p.CardPan, p.FeeType, p.Fee = upd.CardPan, upd.FeeType, upd.Fee
	p.PaidAt = upd.PaidAt
	return true, nil
}

func (r *MockPaymentRepo) RefExists(ctx context.Context, tx repository.Tx, ref string) (bool, error) {
	if r.RefExistsFunc != nil {
		return r.RefExistsFunc(ctx, tx, ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Method == model.PaymentMethodCredit && p.Reference() == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r *MockPaymentRepo) ClaimFulfillment(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status != model.PaymentStatusSucceeded || p.Fulfillment == model.FulfillmentDone {
		return false, nil
	}
	p.Fulfillment, p.FulfillmentError = model.FulfillmentDone, ""
	return true, nil
}

func (r *MockPaymentRepo) SetFulfillment(ctx context.Context, tx repository.Tx, id string, state model.FulfillmentState, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok && p.Status == model.PaymentStatusSucceeded {
		p.Fulfillment, p.FulfillmentError = state, errText
	}
	return nil
}

func (r *MockPaymentRepo) List(ctx context.Context, tx repository.Tx, f repository.PaymentFilter) ([]*model.Payment, error) {
	return r.filter(func(p *model.Payment) bool {
		if f.Status != "" && p.Status != f.Status {
			return false
		}
		return !f.WithAuthority || p.Authority != ""
	}, f.Limit), nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return r.filter(func(p *model.Payment) bool {
		return p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan)
	}, limit), nil
}

func (r *MockPaymentRepo) ListFulfillmentFailed(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	return r.filter(func(p *model.Payment) bool {
		return p.Status == model.PaymentStatusSucceeded && p.Fulfillment == model.FulfillmentFailed
	}, limit), nil
}

func (r *MockPaymentRepo) filter(keep func(*model.Payment) bool, limit int) []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byID {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ---- Mock CatalogRepository ----

type MockCatalogRepo struct {
	mu       sync.Mutex
	charges  map[string]*model.AccountCharge
	services map[string]*model.Service
}

var _ repository.CatalogRepository = (*MockCatalogRepo)(nil)

func NewMockCatalogRepo() *MockCatalogRepo {
	return &MockCatalogRepo{charges: map[string]*model.AccountCharge{}, services: map[string]*model.Service{}}
}

func (r *MockCatalogRepo) FindAccountChargeByID(ctx context.Context, tx repository.Tx, id string) (*model.AccountCharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.charges[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockCatalogRepo) FindAccountCharge(ctx context.Context, tx repository.Tx, amount decimal.Decimal, period string) (*model.AccountCharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.charges {
		if a.Amount.Equal(amount) && a.Period == period {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockCatalogRepo) FindServiceByID(ctx context.Context, tx repository.Tx, id string) (*model.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.services[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockCatalogRepo) SaveAccountCharge(ctx context.Context, tx repository.Tx, a *model.AccountCharge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.charges[a.ID] = &cp
	return nil
}

func (r *MockCatalogRepo) SaveService(ctx context.Context, tx repository.Tx, s *model.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.services[s.ID] = &cp
	return nil
}

func (r *MockCatalogRepo) ListAccountCharges(ctx context.Context, tx repository.Tx) ([]*model.AccountCharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AccountCharge
	for _, a := range r.charges {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MockCatalogRepo) ListServices(ctx context.Context, tx repository.Tx) ([]*model.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Service
	for _, s := range r.services {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu     sync.Mutex
	byID   map[string]*model.User
	Debits int

	AddCreditFunc func(ctx context.Context, tx repository.Tx, id string, amount decimal.Decimal) error
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}}
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) Balance(id string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		return u.Credit
	}
	return decimal.Zero
}

func (r *MockUserRepo) DebitIfSufficient(ctx context.Context, tx repository.Tx, id string, amount decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if u.Credit.LessThan(amount) {
		return false, nil
	}
	u.Credit = u.Credit.Sub(amount)
	r.Debits++
	return true, nil
}

func (r *MockUserRepo) AddCredit(ctx context.Context, tx repository.Tx, id string, amount decimal.Decimal) error {
	if r.AddCreditFunc != nil {
		return r.AddCreditFunc(ctx, tx, id, amount)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Credit = u.Credit.Add(amount)
	return nil
}

// ---- Mock CreditTransactionRepository ----

type MockLedgerRepo struct {
	mu   sync.Mutex
	Rows []*model.CreditTransaction
}

var _ repository.CreditTransactionRepository = (*MockLedgerRepo)(nil)

func (r *MockLedgerRepo) Append(ctx context.Context, tx repository.Tx, ct *model.CreditTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ct
	r.Rows = append(r.Rows, &cp)
	return nil
}

func (r *MockLedgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CreditTransaction
	for i := len(r.Rows) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.Rows[i].UserID == userID {
			out = append(out, r.Rows[i])
		}
	}
	return out, nil
}

func (r *MockLedgerRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Rows)
}

// ---- Mock ExpiredDeviceRepository ----

type MockExpiredDeviceRepo struct {
	mu   sync.Mutex
	rows map[repository.DeviceKey]*model.ExpiredDevice

	UpsertFunc func(ctx context.Context, tx repository.Tx, d *model.ExpiredDevice) error
}

var _ repository.ExpiredDeviceRepository = (*MockExpiredDeviceRepo)(nil)

func NewMockExpiredDeviceRepo() *MockExpiredDeviceRepo {
	return &MockExpiredDeviceRepo{rows: map[repository.DeviceKey]*model.ExpiredDevice{}}
}

func deviceKey(d *model.ExpiredDevice) repository.DeviceKey {
	return repository.DeviceKey{UserID: d.TraccarUserID, DeviceID: d.TraccarDeviceID}
}

func (r *MockExpiredDeviceRepo) Upsert(ctx context.Context, tx repository.Tx, d *model.ExpiredDevice) error {
	if r.UpsertFunc != nil {
		return r.UpsertFunc(ctx, tx, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	if prev, ok := r.rows[deviceKey(d)]; ok {
		cp.Milestones = prev.Milestones
	}
	r.rows[deviceKey(d)] = &cp
	return nil
}

func (r *MockExpiredDeviceRepo) Ensure(ctx context.Context, tx repository.Tx, d *model.ExpiredDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	if prev, ok := r.rows[deviceKey(d)]; ok {
		cp.Milestones, cp.DetectedAt = prev.Milestones, prev.DetectedAt
	} else {
		cp.Milestones = model.MilestoneFlags{}
	}
	r.rows[deviceKey(d)] = &cp
	return nil
}

func (r *MockExpiredDeviceRepo) Find(ctx context.Context, tx repository.Tx, key repository.DeviceKey) (*model.ExpiredDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.rows[key]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockExpiredDeviceRepo) FindMany(ctx context.Context, tx repository.Tx, keys []repository.DeviceKey) (map[repository.DeviceKey]*model.ExpiredDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[repository.DeviceKey]*model.ExpiredDevice{}
	for _, k := range keys {
		if d, ok := r.rows[k]; ok {
			cp := *d
			out[k] = &cp
		}
	}
	return out, nil
}

func (r *MockExpiredDeviceRepo) MarkMilestoneSent(ctx context.Context, tx repository.Tx, key repository.DeviceKey, m model.Milestone, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.rows[key]
	if !ok {
		return false, nil
	}
	return d.Milestones.Mark(m, at), nil
}

func (r *MockExpiredDeviceRepo) ResetMilestones(ctx context.Context, tx repository.Tx, key repository.DeviceKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.rows[key]
	if !ok {
		return domain.ErrNotFound
	}
	d.Milestones = model.MilestoneFlags{}
	return nil
}

func (r *MockExpiredDeviceRepo) DeleteDetectedBefore(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, d := range r.rows {
		if d.DetectedAt.Before(before) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

func (r *MockExpiredDeviceRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// ---- Mock ExpiredUserRepository ----

type MockExpiredUserRepo struct {
	mu   sync.Mutex
	rows map[int64]*model.ExpiredUser
}

var _ repository.ExpiredUserRepository = (*MockExpiredUserRepo)(nil)

func NewMockExpiredUserRepo() *MockExpiredUserRepo {
	return &MockExpiredUserRepo{rows: map[int64]*model.ExpiredUser{}}
}

func (r *MockExpiredUserRepo) Upsert(ctx context.Context, tx repository.Tx, u *model.ExpiredUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if prev, ok := r.rows[u.TraccarUserID]; ok {
		cp.Milestones = prev.Milestones
	}
	r.rows[u.TraccarUserID] = &cp
	return nil
}

func (r *MockExpiredUserRepo) Ensure(ctx context.Context, tx repository.Tx, u *model.ExpiredUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if prev, ok := r.rows[u.TraccarUserID]; ok {
		cp.Milestones, cp.DetectedAt = prev.Milestones, prev.DetectedAt
	} else {
		cp.Milestones = model.MilestoneFlags{}
	}
	r.rows[u.TraccarUserID] = &cp
	return nil
}

func (r *MockExpiredUserRepo) Find(ctx context.Context, tx repository.Tx, id int64) (*model.ExpiredUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.rows[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockExpiredUserRepo) FindMany(ctx context.Context, tx repository.Tx, ids []int64) (map[int64]*model.ExpiredUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]*model.ExpiredUser{}
	for _, id := range ids {
		if u, ok := r.rows[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *MockExpiredUserRepo) MarkMilestoneSent(ctx context.Context, tx repository.Tx, id int64, m model.Milestone, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	return u.Milestones.Mark(m, at), nil
}

func (r *MockExpiredUserRepo) ResetMilestones(ctx context.Context, tx repository.Tx, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Milestones = model.MilestoneFlags{}
	return nil
}

func (r *MockExpiredUserRepo) DeleteDetectedBefore(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, u := range r.rows {
		if u.DetectedAt.Before(before) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", adapter.ErrLockHeld
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// Hold marks key as owned by someone else.
func (l *MockLocker) Hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = "other"
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestTranslator() *i18n.Translator {
	testFS := fstest.MapFS{
		"locales/fa.yaml": {
			Data: []byte("sms_device_expired: \"hello %s device %s expired %s\"\n" +
				"sms_user_expired: \"hello %s account expired %s\"\n" +
				"unknown_name: \"نامشخص\"\n"),
		},
	}
	translator, _ := i18n.NewTranslator(testFS, "fa")
	return translator
}
