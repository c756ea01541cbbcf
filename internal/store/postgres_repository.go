/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` and
 * `TxRepository` interfaces. It contains all the SQL for client profiles,
 * trainer settings, appointments, the prepaid ledger, and invoices.
 *
 * The same query helpers run against either the pool or an open transaction
 * through the `queryRunner` interface, so transactional reads are guaranteed
 * to be the exact queries the non-transactional paths use, just executed
 * against the transaction's snapshot.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC column values.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fitsched/billing-service/internal/domain"
)

// queryRunner is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const clientProfileColumns = `
	id, trainer_id, workspace_id, name, billing_frequency, session_rate,
	group_session_rate, prepaid_balance, prepaid_target_balance, created_at, updated_at
`

func findClientProfileByID(ctx context.Context, q queryRunner, clientID uuid.UUID) (*domain.ClientProfile, error) {
	var profile domain.ClientProfile
	query := `SELECT ` + clientProfileColumns + ` FROM client_profiles WHERE id = $1`
	err := q.QueryRow(ctx, query, clientID).Scan(
		&profile.ID,
		&profile.TrainerID,
		&profile.WorkspaceID,
		&profile.Name,
		&profile.BillingFrequency,
		&profile.SessionRate,
		&profile.GroupSessionRate,
		&profile.PrepaidBalance,
		&profile.PrepaidTargetBalance,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// FindClientProfileByID retrieves a client's billing profile.
func (r *PostgresRepository) FindClientProfileByID(ctx context.Context, clientID uuid.UUID) (*domain.ClientProfile, error) {
	return findClientProfileByID(ctx, r.db, clientID)
}

// FindTrainerSettings retrieves workspace defaults for a trainer. A trainer
// without a settings row gets the defaults rather than an error.
func (r *PostgresRepository) FindTrainerSettings(ctx context.Context, trainerID uuid.UUID) (*domain.TrainerSettings, error) {
	var settings domain.TrainerSettings
	query := `
		SELECT trainer_id, default_group_session_rate, group_session_matching_logic, default_invoice_due_days
		FROM trainer_settings
		WHERE trainer_id = $1
	`
	err := r.db.QueryRow(ctx, query, trainerID).Scan(
		&settings.TrainerID,
		&settings.DefaultGroupSessionRate,
		&settings.GroupSessionMatching,
		&settings.DefaultInvoiceDueDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.TrainerSettings{
				TrainerID:            trainerID,
				GroupSessionMatching: domain.MatchExact,
			}, nil
		}
		return nil, err
	}
	if settings.GroupSessionMatching == "" {
		settings.GroupSessionMatching = domain.MatchExact
	}
	return &settings, nil
}

const appointmentColumns = `id, client_id, trainer_id, workspace_id, start_time, end_time, status`

// FindAppointmentByID retrieves an appointment. Appointment rows are owned by
// the scheduler; this core only reads them.
func (r *PostgresRepository) FindAppointmentByID(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	var appt domain.Appointment
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	err := r.db.QueryRow(ctx, query, appointmentID).Scan(
		&appt.ID, &appt.ClientID, &appt.TrainerID, &appt.WorkspaceID,
		&appt.StartTime, &appt.EndTime, &appt.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &appt, nil
}

// ListOverlapCandidates returns SCHEDULED/COMPLETED appointments for the same
// trainer and workspace intersecting the candidate's time range, excluding
// the candidate itself. The widest strategy (ANY_OVERLAP) bounds the window;
// the group session detector narrows per the configured matching logic.
func (r *PostgresRepository) ListOverlapCandidates(ctx context.Context, candidate domain.Appointment) ([]domain.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE trainer_id = $1
		  AND workspace_id = $2
		  AND id <> $3
		  AND status IN ('SCHEDULED', 'COMPLETED')
		  AND start_time < $4
		  AND end_time > $5
		ORDER BY start_time ASC
	`
	rows, err := r.db.Query(ctx, query,
		candidate.TrainerID, candidate.WorkspaceID, candidate.ID,
		candidate.EndTime, candidate.StartTime,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []domain.Appointment
	for rows.Next() {
		var appt domain.Appointment
		if err := rows.Scan(
			&appt.ID, &appt.ClientID, &appt.TrainerID, &appt.WorkspaceID,
			&appt.StartTime, &appt.EndTime, &appt.Status,
		); err != nil {
			return nil, err
		}
		appointments = append(appointments, appt)
	}
	return appointments, rows.Err()
}

// FindNextScheduledAppointment returns the client's earliest SCHEDULED
// appointment starting after the given time, or nil when none exists.
func (r *PostgresRepository) FindNextScheduledAppointment(ctx context.Context, clientID uuid.UUID, after time.Time) (*domain.Appointment, error) {
	var appt domain.Appointment
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE client_id = $1
		  AND status = 'SCHEDULED'
		  AND start_time > $2
		ORDER BY start_time ASC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, clientID, after).Scan(
		&appt.ID, &appt.ClientID, &appt.TrainerID, &appt.WorkspaceID,
		&appt.StartTime, &appt.EndTime, &appt.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &appt, nil
}

const prepaidTransactionColumns = `id, client_id, type, amount, balance_after, appointment_id, description, created_at`

func scanPrepaidTransaction(row pgx.Row) (*domain.PrepaidTransaction, error) {
	var txn domain.PrepaidTransaction
	err := row.Scan(
		&txn.ID, &txn.ClientID, &txn.Type, &txn.Amount,
		&txn.BalanceAfter, &txn.AppointmentID, &txn.Description, &txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func findDeductionByAppointmentID(ctx context.Context, q queryRunner, appointmentID uuid.UUID) (*domain.PrepaidTransaction, error) {
	query := `
		SELECT ` + prepaidTransactionColumns + `
		FROM prepaid_transactions
		WHERE appointment_id = $1 AND type = 'DEDUCTION'
	`
	txn, err := scanPrepaidTransaction(q.QueryRow(ctx, query, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// FindDeductionByAppointmentID returns the DEDUCTION entry keyed by the
// appointment, or nil when the appointment has not been deducted yet.
func (r *PostgresRepository) FindDeductionByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*domain.PrepaidTransaction, error) {
	return findDeductionByAppointmentID(ctx, r.db, appointmentID)
}

func listDeductionsSinceLastCredit(ctx context.Context, q queryRunner, clientID uuid.UUID) ([]domain.PrepaidTransaction, error) {
	// Deductions newer than the most recent CREDIT itemize exactly the
	// sessions consumed since the last top-up.
	query := `
		SELECT ` + prepaidTransactionColumns + `
		FROM prepaid_transactions
		WHERE client_id = $1
		  AND type = 'DEDUCTION'
		  AND created_at > COALESCE(
			(SELECT MAX(created_at) FROM prepaid_transactions WHERE client_id = $1 AND type = 'CREDIT'),
			'-infinity'::timestamptz
		  )
		ORDER BY created_at ASC
	`
	rows, err := q.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.PrepaidTransaction
	for rows.Next() {
		var txn domain.PrepaidTransaction
		if err := rows.Scan(
			&txn.ID, &txn.ClientID, &txn.Type, &txn.Amount,
			&txn.BalanceAfter, &txn.AppointmentID, &txn.Description, &txn.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}

// ListDeductionsSinceLastCredit returns DEDUCTION entries newer than the
// client's most recent CREDIT, oldest first.
func (r *PostgresRepository) ListDeductionsSinceLastCredit(ctx context.Context, clientID uuid.UUID) ([]domain.PrepaidTransaction, error) {
	return listDeductionsSinceLastCredit(ctx, r.db, clientID)
}

// ListPrepaidTransactions returns a page of a client's ledger, newest first.
func (r *PostgresRepository) ListPrepaidTransactions(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]domain.PrepaidTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + prepaidTransactionColumns + `
		FROM prepaid_transactions
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, clientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.PrepaidTransaction
	for rows.Next() {
		var txn domain.PrepaidTransaction
		if err := rows.Scan(
			&txn.ID, &txn.ClientID, &txn.Type, &txn.Amount,
			&txn.BalanceAfter, &txn.AppointmentID, &txn.Description, &txn.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}

const invoiceColumns = `id, client_id, trainer_id, status, is_prepaid_top_up, amount, due_date, created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID, &inv.ClientID, &inv.TrainerID, &inv.Status, &inv.IsPrepaidTopUp,
		&inv.Amount, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func findInvoiceByID(ctx context.Context, q queryRunner, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, description, amount, appointment_id
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.InvoiceLineItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Amount, &item.AppointmentID); err != nil {
			return nil, err
		}
		inv.LineItems = append(inv.LineItems, item)
	}
	return inv, rows.Err()
}

// FindInvoiceByID retrieves an invoice together with its line items.
func (r *PostgresRepository) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	return findInvoiceByID(ctx, r.db, invoiceID)
}

func findPendingTopUpInvoice(ctx context.Context, q queryRunner, clientID uuid.UUID) (*domain.Invoice, error) {
	// At most one of these exists per client; ORDER BY is belt and braces.
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE client_id = $1
		  AND is_prepaid_top_up = true
		  AND status IN ('DRAFT', 'SENT')
		ORDER BY created_at ASC
		LIMIT 1
	`
	inv, err := scanInvoice(q.QueryRow(ctx, query, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

// FindPendingTopUpInvoice returns the client's non-terminal prepaid top-up
// invoice (without line items), or nil when none is pending.
func (r *PostgresRepository) FindPendingTopUpInvoice(ctx context.Context, clientID uuid.UUID) (*domain.Invoice, error) {
	return findPendingTopUpInvoice(ctx, r.db, clientID)
}

// ListDraftTopUpInvoices returns prepaid top-up invoices sitting in DRAFT,
// oldest first, for the re-send sweep.
func (r *PostgresRepository) ListDraftTopUpInvoices(ctx context.Context) ([]domain.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE is_prepaid_top_up = true AND status = 'DRAFT'
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(
			&inv.ID, &inv.ClientID, &inv.TrainerID, &inv.Status, &inv.IsPrepaidTopUp,
			&inv.Amount, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// MarkInvoiceSent promotes a DRAFT invoice to SENT after a successful send.
func (r *PostgresRepository) MarkInvoiceSent(ctx context.Context, invoiceID uuid.UUID) error {
	result, err := r.db.Exec(ctx,
		`UPDATE invoices SET status = 'SENT', updated_at = NOW() WHERE id = $1 AND status = 'DRAFT'`,
		invoiceID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// DemoteInvoiceToDraft moves a SENT invoice back to DRAFT after a failed send.
func (r *PostgresRepository) DemoteInvoiceToDraft(ctx context.Context, invoiceID uuid.UUID) error {
	result, err := r.db.Exec(ctx,
		`UPDATE invoices SET status = 'DRAFT', updated_at = NOW() WHERE id = $1 AND status = 'SENT'`,
		invoiceID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// ListPrepaidClientSummaries returns the operator-facing overview of a
// trainer's prepaid clients: balance, target, pending top-up invoice, and
// last ledger activity.
func (r *PostgresRepository) ListPrepaidClientSummaries(ctx context.Context, trainerID uuid.UUID) ([]domain.PrepaidClientSummary, error) {
	query := `
		SELECT
			cp.id,
			cp.name,
			COALESCE(cp.prepaid_balance, 0),
			COALESCE(cp.prepaid_target_balance, 0),
			cp.billing_frequency,
			pending.id,
			activity.last_transaction_at
		FROM client_profiles cp
		LEFT JOIN LATERAL (
			SELECT id
			FROM invoices
			WHERE client_id = cp.id
			  AND is_prepaid_top_up = true
			  AND status IN ('DRAFT', 'SENT')
			ORDER BY created_at ASC
			LIMIT 1
		) pending ON true
		LEFT JOIN LATERAL (
			SELECT MAX(created_at) AS last_transaction_at
			FROM prepaid_transactions
			WHERE client_id = cp.id
		) activity ON true
		WHERE cp.trainer_id = $1
		  AND cp.billing_frequency = 'PREPAID'
		ORDER BY cp.name ASC
	`
	rows, err := r.db.Query(ctx, query, trainerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.PrepaidClientSummary
	for rows.Next() {
		var summary domain.PrepaidClientSummary
		if err := rows.Scan(
			&summary.ClientID,
			&summary.Name,
			&summary.Balance,
			&summary.TargetBalance,
			&summary.BillingFrequency,
			&summary.PendingInvoiceID,
			&summary.LastTransactionAt,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// WithSerializableTx runs fn inside a serializable-isolation transaction.
// Serialization conflicts surface to the caller; this layer never retries.
func (r *PostgresRepository) WithSerializableTx(ctx context.Context, fn func(tx TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&txRepository{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// txRepository implements TxRepository against an open pgx transaction.
type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) FindClientProfileByID(ctx context.Context, clientID uuid.UUID) (*domain.ClientProfile, error) {
	return findClientProfileByID(ctx, t.tx, clientID)
}

func (t *txRepository) FindDeductionByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*domain.PrepaidTransaction, error) {
	return findDeductionByAppointmentID(ctx, t.tx, appointmentID)
}

func (t *txRepository) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	return findInvoiceByID(ctx, t.tx, invoiceID)
}

func (t *txRepository) FindPendingTopUpInvoice(ctx context.Context, clientID uuid.UUID) (*domain.Invoice, error) {
	return findPendingTopUpInvoice(ctx, t.tx, clientID)
}

func (t *txRepository) ListDeductionsSinceLastCredit(ctx context.Context, clientID uuid.UUID) ([]domain.PrepaidTransaction, error) {
	return listDeductionsSinceLastCredit(ctx, t.tx, clientID)
}

// UpdatePrepaidBalance writes the new balance. Callers compute it from a
// read performed inside this same transaction.
func (t *txRepository) UpdatePrepaidBalance(ctx context.Context, clientID uuid.UUID, balance decimal.Decimal) error {
	result, err := t.tx.Exec(ctx,
		`UPDATE client_profiles SET prepaid_balance = $1, updated_at = NOW() WHERE id = $2`,
		balance, clientID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClientProfileNotFound
	}
	return nil
}

func (t *txRepository) UpdateBillingFrequency(ctx context.Context, clientID uuid.UUID, frequency domain.BillingFrequency) error {
	result, err := t.tx.Exec(ctx,
		`UPDATE client_profiles SET billing_frequency = $1, updated_at = NOW() WHERE id = $2`,
		frequency, clientID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClientProfileNotFound
	}
	return nil
}

// InsertPrepaidTransaction appends a ledger entry. A unique partial index on
// (appointment_id) for DEDUCTION rows backs the idempotency key; a conflict
// maps to ErrDuplicateDeduction.
func (t *txRepository) InsertPrepaidTransaction(ctx context.Context, txn *domain.PrepaidTransaction) error {
	query := `
		INSERT INTO prepaid_transactions (id, client_id, type, amount, balance_after, appointment_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := t.tx.QueryRow(ctx, query,
		txn.ID, txn.ClientID, txn.Type, txn.Amount, txn.BalanceAfter, txn.AppointmentID, txn.Description,
	).Scan(&txn.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateDeduction
		}
		return err
	}
	return nil
}

func (t *txRepository) CreateInvoiceWithLineItems(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		INSERT INTO invoices (id, client_id, trainer_id, status, is_prepaid_top_up, amount, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := t.tx.QueryRow(ctx, query,
		invoice.ID, invoice.ClientID, invoice.TrainerID, invoice.Status,
		invoice.IsPrepaidTopUp, invoice.Amount, invoice.DueDate,
	).Scan(&invoice.CreatedAt, &invoice.UpdatedAt)
	if err != nil {
		return err
	}

	itemQuery := `
		INSERT INTO invoice_line_items (id, invoice_id, description, amount, appointment_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i := range invoice.LineItems {
		item := &invoice.LineItems[i]
		if _, err := t.tx.Exec(ctx, itemQuery,
			item.ID, item.InvoiceID, item.Description, item.Amount, item.AppointmentID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status domain.InvoiceStatus) error {
	result, err := t.tx.Exec(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, invoiceID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
