package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fitsched/billing-service/internal/domain"
)

func TestGenerateTopUpInvoice_CreatesSentInvoiceForShortfall(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "0", "500")
	mailer := &okMailer{}
	publisher := &capturePublisher{}
	service := NewService(repo, mailer, publisher, quietLogger())

	invoice, err := service.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("GenerateTopUpInvoice returned error: %v", err)
	}
	if invoice == nil {
		t.Fatal("expected an invoice")
	}
	if !invoice.Amount.Equal(dec("500")) {
		t.Errorf("expected invoice amount 500, got %s", invoice.Amount)
	}
	if invoice.Status != domain.InvoiceSent {
		t.Errorf("expected SENT status, got %s", invoice.Status)
	}
	if !invoice.IsPrepaidTopUp {
		t.Error("invoice must carry the prepaid top-up flag")
	}
	if len(invoice.LineItems) != 1 || invoice.LineItems[0].Description != "Prepaid balance top-up" {
		t.Errorf("expected a single generic line item, got %+v", invoice.LineItems)
	}

	wantDue := time.Now().AddDate(0, 0, 30)
	if invoice.DueDate.Before(wantDue.Add(-time.Hour)) || invoice.DueDate.After(wantDue.Add(time.Hour)) {
		t.Errorf("expected due date ~30 days out, got %s", invoice.DueDate)
	}
	if len(mailer.sends) != 1 {
		t.Errorf("expected 1 email send, got %d", len(mailer.sends))
	}
	if len(publisher.events) != 1 || publisher.events[0] != "invoice.created" {
		t.Errorf("expected invoice.created event, got %v", publisher.events)
	}
}

func TestGenerateTopUpInvoice_ItemizesDeductionsSinceLastCredit(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "50", "100")
	service := NewService(repo, &okMailer{}, nil, quietLogger())

	if _, err := service.AddCredit(context.Background(), profile.ID, dec("50"), ""); err != nil {
		t.Fatalf("AddCredit failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		appt := seedCompletedAppointment(repo, profile, time.Now().Add(-time.Duration(i+1)*time.Hour))
		if _, err := service.DeductSession(context.Background(), appt.ID); err != nil {
			t.Fatalf("DeductSession failed: %v", err)
		}
	}

	invoice, err := service.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("GenerateTopUpInvoice returned error: %v", err)
	}
	if invoice == nil {
		t.Fatal("expected an invoice")
	}
	// Balance went 50 -> 100 -> 50 after two 25 sessions; shortfall is 50.
	if !invoice.Amount.Equal(dec("50")) {
		t.Errorf("expected invoice amount 50, got %s", invoice.Amount)
	}
	if len(invoice.LineItems) != 2 {
		t.Fatalf("expected 2 itemized sessions, got %d", len(invoice.LineItems))
	}
	for _, item := range invoice.LineItems {
		if item.AppointmentID == nil {
			t.Error("itemized line must reference its appointment")
		}
		if !item.Amount.Equal(dec("25")) {
			t.Errorf("expected line amount 25, got %s", item.Amount)
		}
	}
}

func TestGenerateTopUpInvoice_NoShortfallIsNoOp(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "100", "100")
	service := NewService(repo, &okMailer{}, nil, quietLogger())

	invoice, err := service.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("GenerateTopUpInvoice returned error: %v", err)
	}
	if invoice != nil {
		t.Fatalf("expected no invoice, got %s", invoice.ID)
	}
	if repo.invoiceCount() != 0 {
		t.Error("no invoice row expected")
	}
}

func TestGenerateTopUpInvoice_NonPrepaidClientIsNoOp(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "0", "100")
	profile.BillingFrequency = domain.BillingMonthly
	service := NewService(repo, &okMailer{}, nil, quietLogger())

	invoice, err := service.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("GenerateTopUpInvoice returned error: %v", err)
	}
	if invoice != nil {
		t.Fatal("expected no invoice for a non-prepaid client")
	}
}

func TestGenerateTopUpInvoice_ReusesPendingInvoice(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "0", "500")
	mailer := &okMailer{}
	service := NewService(repo, mailer, nil, quietLogger())

	first, err := service.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("first GenerateTopUpInvoice returned error: %v", err)
	}
	second, err := service.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("second GenerateTopUpInvoice returned error: %v", err)
	}

	if second == nil || second.ID != first.ID {
		t.Fatal("expected the pending invoice to be reused")
	}
	if repo.invoiceCount() != 1 {
		t.Fatalf("expected exactly 1 invoice, got %d", repo.invoiceCount())
	}
	if len(mailer.sends) != 1 {
		t.Errorf("reuse must not re-send the email; got %d sends", len(mailer.sends))
	}
}

func TestGenerateTopUpInvoice_SendFailureDemotesToDraft(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "0", "500")
	service := NewService(repo, &failMailer{}, nil, quietLogger())

	invoice, err := service.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("GenerateTopUpInvoice returned error: %v", err)
	}
	if invoice.Status != domain.InvoiceDraft {
		t.Errorf("expected DRAFT after failed send, got %s", invoice.Status)
	}

	stored, err := repo.FindInvoiceByID(context.Background(), invoice.ID)
	if err != nil {
		t.Fatalf("stored invoice lookup failed: %v", err)
	}
	if stored.Status != domain.InvoiceDraft {
		t.Errorf("stored invoice must be DRAFT, got %s", stored.Status)
	}
}

func TestRetryDraftInvoices_PromotesDraftsBackToSent(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "0", "500")
	failing := NewService(repo, &failMailer{}, nil, quietLogger())

	invoice, err := failing.GenerateTopUpInvoice(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("GenerateTopUpInvoice returned error: %v", err)
	}
	if invoice.Status != domain.InvoiceDraft {
		t.Fatalf("precondition: invoice should be DRAFT, got %s", invoice.Status)
	}

	mailer := &okMailer{}
	service := NewService(repo, mailer, nil, quietLogger())
	sent, err := service.RetryDraftInvoices(context.Background())
	if err != nil {
		t.Fatalf("RetryDraftInvoices returned error: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 re-sent invoice, got %d", sent)
	}

	stored, err := repo.FindInvoiceByID(context.Background(), invoice.ID)
	if err != nil {
		t.Fatalf("stored invoice lookup failed: %v", err)
	}
	if stored.Status != domain.InvoiceSent {
		t.Errorf("expected SENT after retry, got %s", stored.Status)
	}
}

func TestCheckBalanceAndGenerateInvoiceIfNeeded(t *testing.T) {
	repo := newMemRepo()
	profile := seedPrepaidClient(repo, "10", "100")

	next := &domain.Appointment{
		ID:          uuid.New(),
		ClientID:    profile.ID,
		TrainerID:   profile.TrainerID,
		WorkspaceID: profile.WorkspaceID,
		StartTime:   time.Now().Add(48 * time.Hour),
		EndTime:     time.Now().Add(49 * time.Hour),
		Status:      domain.AppointmentScheduled,
	}
	repo.appointments[next.ID] = next

	service := NewService(repo, &okMailer{}, nil, quietLogger())

	invoice, err := service.CheckBalanceAndGenerateInvoiceIfNeeded(context.Background(), profile.ID, profile.TrainerID)
	if err != nil {
		t.Fatalf("CheckBalanceAndGenerateInvoiceIfNeeded returned error: %v", err)
	}
	if invoice == nil {
		t.Fatal("balance 10 cannot cover the 25 session; expected an invoice")
	}
	if !invoice.Amount.Equal(dec("90")) {
		t.Errorf("expected invoice amount 90, got %s", invoice.Amount)
	}
}
