package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fitsched/billing-service/internal/domain"
	"github.com/fitsched/billing-service/internal/store"
)

// memRepo is an in-memory store.Repository for engine tests. It implements
// both interfaces; WithSerializableTx hands the repo back as the tx surface,
// which is enough because each test drives the engine single-threaded.
type memRepo struct {
	mu sync.Mutex

	profiles     map[uuid.UUID]*domain.ClientProfile
	settings     map[uuid.UUID]*domain.TrainerSettings
	appointments map[uuid.UUID]*domain.Appointment
	transactions []*domain.PrepaidTransaction
	invoices     []*domain.Invoice
}

func newMemRepo() *memRepo {
	return &memRepo{
		profiles:     make(map[uuid.UUID]*domain.ClientProfile),
		settings:     make(map[uuid.UUID]*domain.TrainerSettings),
		appointments: make(map[uuid.UUID]*domain.Appointment),
	}
}

func (m *memRepo) FindClientProfileByID(ctx context.Context, clientID uuid.UUID) (*domain.ClientProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[clientID]
	if !ok {
		return nil, store.ErrClientProfileNotFound
	}
	copied := *profile
	return &copied, nil
}

func (m *memRepo) FindTrainerSettings(ctx context.Context, trainerID uuid.UUID) (*domain.TrainerSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if settings, ok := m.settings[trainerID]; ok {
		copied := *settings
		return &copied, nil
	}
	return &domain.TrainerSettings{
		TrainerID:            trainerID,
		GroupSessionMatching: domain.MatchExact,
	}, nil
}

func (m *memRepo) FindAppointmentByID(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[appointmentID]
	if !ok {
		return nil, store.ErrAppointmentNotFound
	}
	copied := *appt
	return &copied, nil
}

func (m *memRepo) ListOverlapCandidates(ctx context.Context, candidate domain.Appointment) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Appointment
	for _, appt := range m.appointments {
		if appt.ID == candidate.ID {
			continue
		}
		if appt.TrainerID != candidate.TrainerID || appt.WorkspaceID != candidate.WorkspaceID {
			continue
		}
		if appt.Status != domain.AppointmentScheduled && appt.Status != domain.AppointmentCompleted {
			continue
		}
		if appt.StartTime.Before(candidate.EndTime) && appt.EndTime.After(candidate.StartTime) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (m *memRepo) FindNextScheduledAppointment(ctx context.Context, clientID uuid.UUID, after time.Time) (*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *domain.Appointment
	for _, appt := range m.appointments {
		if appt.ClientID != clientID || appt.Status != domain.AppointmentScheduled {
			continue
		}
		if !appt.StartTime.After(after) {
			continue
		}
		if next == nil || appt.StartTime.Before(next.StartTime) {
			next = appt
		}
	}
	if next == nil {
		return nil, nil
	}
	copied := *next
	return &copied, nil
}

func (m *memRepo) FindDeductionByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*domain.PrepaidTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findDeductionLocked(appointmentID), nil
}

func (m *memRepo) findDeductionLocked(appointmentID uuid.UUID) *domain.PrepaidTransaction {
	for _, txn := range m.transactions {
		if txn.Type == domain.TransactionDeduction && txn.AppointmentID != nil && *txn.AppointmentID == appointmentID {
			copied := *txn
			return &copied
		}
	}
	return nil
}

func (m *memRepo) ListDeductionsSinceLastCredit(ctx context.Context, clientID uuid.UUID) ([]domain.PrepaidTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lastCredit := -1
	for i, txn := range m.transactions {
		if txn.ClientID == clientID && txn.Type == domain.TransactionCredit {
			lastCredit = i
		}
	}
	var out []domain.PrepaidTransaction
	for i := lastCredit + 1; i < len(m.transactions); i++ {
		txn := m.transactions[i]
		if txn.ClientID == clientID && txn.Type == domain.TransactionDeduction {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (m *memRepo) ListPrepaidTransactions(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]domain.PrepaidTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.PrepaidTransaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].ClientID == clientID {
			all = append(all, *m.transactions[i])
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memRepo) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == invoiceID {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, store.ErrInvoiceNotFound
}

func (m *memRepo) FindPendingTopUpInvoice(ctx context.Context, clientID uuid.UUID) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ClientID == clientID && inv.IsPrepaidTopUp && !inv.Status.Terminal() {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListDraftTopUpInvoices(ctx context.Context) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if inv.IsPrepaidTopUp && inv.Status == domain.InvoiceDraft {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memRepo) MarkInvoiceSent(ctx context.Context, invoiceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == invoiceID && inv.Status == domain.InvoiceDraft {
			inv.Status = domain.InvoiceSent
			return nil
		}
	}
	return store.ErrInvoiceNotFound
}

func (m *memRepo) DemoteInvoiceToDraft(ctx context.Context, invoiceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == invoiceID && inv.Status == domain.InvoiceSent {
			inv.Status = domain.InvoiceDraft
			return nil
		}
	}
	return store.ErrInvoiceNotFound
}

func (m *memRepo) ListPrepaidClientSummaries(ctx context.Context, trainerID uuid.UUID) ([]domain.PrepaidClientSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PrepaidClientSummary
	for _, profile := range m.profiles {
		if profile.TrainerID != trainerID || profile.BillingFrequency != domain.BillingPrepaid {
			continue
		}
		out = append(out, domain.PrepaidClientSummary{
			ClientID:         profile.ID,
			Name:             profile.Name,
			Balance:          profile.Balance(),
			TargetBalance:    profile.TargetBalance(),
			BillingFrequency: profile.BillingFrequency,
		})
	}
	return out, nil
}

func (m *memRepo) WithSerializableTx(ctx context.Context, fn func(tx store.TxRepository) error) error {
	return fn(m)
}

func (m *memRepo) UpdatePrepaidBalance(ctx context.Context, clientID uuid.UUID, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[clientID]
	if !ok {
		return store.ErrClientProfileNotFound
	}
	value := balance
	profile.PrepaidBalance = &value
	return nil
}

func (m *memRepo) UpdateBillingFrequency(ctx context.Context, clientID uuid.UUID, frequency domain.BillingFrequency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[clientID]
	if !ok {
		return store.ErrClientProfileNotFound
	}
	profile.BillingFrequency = frequency
	return nil
}

func (m *memRepo) InsertPrepaidTransaction(ctx context.Context, txn *domain.PrepaidTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn.Type == domain.TransactionDeduction && txn.AppointmentID != nil {
		if m.findDeductionLocked(*txn.AppointmentID) != nil {
			return store.ErrDuplicateDeduction
		}
	}
	copied := *txn
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.transactions = append(m.transactions, &copied)
	return nil
}

func (m *memRepo) CreateInvoiceWithLineItems(ctx context.Context, invoice *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *invoice
	copied.LineItems = append([]domain.InvoiceLineItem(nil), invoice.LineItems...)
	m.invoices = append(m.invoices, &copied)
	return nil
}

func (m *memRepo) UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status domain.InvoiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == invoiceID {
			inv.Status = status
			return nil
		}
	}
	return store.ErrInvoiceNotFound
}

func (m *memRepo) ledgerEntries(clientID uuid.UUID) []domain.PrepaidTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PrepaidTransaction
	for _, txn := range m.transactions {
		if txn.ClientID == clientID {
			out = append(out, *txn)
		}
	}
	return out
}

func (m *memRepo) invoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invoices)
}

// okMailer records sends and always succeeds.
type okMailer struct {
	mu    sync.Mutex
	sends []uuid.UUID
}

func (f *okMailer) SendInvoice(ctx context.Context, invoice *domain.Invoice, clientName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, invoice.ID)
	return nil
}

// failMailer always fails the send.
type failMailer struct{}

func (f *failMailer) SendInvoice(ctx context.Context, invoice *domain.Invoice, clientName string) error {
	return errors.New("smtp unreachable")
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decp(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}
