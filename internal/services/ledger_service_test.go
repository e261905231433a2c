package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v75"
)

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("unexpected scan destination count")
	}
	for i, target := range dest {
		switch target := target.(type) {
		case *int64:
			*target = r.values[i].(int64)
		case *int:
			*target = r.values[i].(int)
		case *string:
			*target = r.values[i].(string)
		case **string:
			*target = r.values[i].(*string)
		case *bool:
			*target = r.values[i].(bool)
		case *float64:
			*target = r.values[i].(float64)
		case *time.Time:
			*target = r.values[i].(time.Time)
		case **time.Time:
			*target = r.values[i].(*time.Time)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

// stubTx satisfies pgx.Tx with hook functions, the same way handler tests
// stub the repositories. Queries are dispatched on SQL substrings.
type stubTx struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) stubRow
	execCalls  []execCall
	committed  bool
	rolledBack bool
}

func (tx *stubTx) Begin(_ context.Context) (pgx.Tx, error) { return tx, nil }

func (tx *stubTx) Commit(_ context.Context) error {
	tx.committed = true
	return nil
}

func (tx *stubTx) Rollback(_ context.Context) error {
	tx.rolledBack = true
	return nil
}

func (tx *stubTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}

func (tx *stubTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }

func (tx *stubTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (tx *stubTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}

func (tx *stubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execCalls = append(tx.execCalls, execCall{sql: sql, args: args})
	if tx.execFn != nil {
		return tx.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (tx *stubTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (tx *stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return tx.queryRowFn(ctx, sql, args...)
}

func (tx *stubTx) Conn() *pgx.Conn { return nil }

type stubDB struct {
	tx         *stubTx
	beginErr   error
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) stubRow
	execCalls  []execCall
}

func (db *stubDB) Begin(_ context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return db.tx, nil
}

func (db *stubDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execCalls = append(db.execCalls, execCall{sql: sql, args: args})
	if db.execFn != nil {
		return db.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (db *stubDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (db *stubDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.queryRowFn(ctx, sql, args...)
}

var ledgerTestTime = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

func subscriptionRowValues(sub models.Subscription) []any {
	return []any{
		sub.ID, sub.StudentID, sub.TrainerID, sub.ProgramID,
		sub.CheckoutSessionID, sub.ExternalSubscriptionID, sub.Status, sub.BillingType,
		sub.Price, sub.PlatformFee, sub.TrainerEarnings, sub.Currency,
		sub.StartDate, sub.CurrentPeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	}
}

func transactionRowValues(txn models.Transaction) []any {
	return []any{
		txn.ID, txn.SubscriptionID, txn.TrainerID, txn.StudentID, txn.ProgramID,
		txn.Type, txn.GrossAmount, txn.PlatformFee, txn.NetAmount,
		txn.Currency, txn.Status, txn.ExternalPaymentIntentID, txn.ExternalInvoiceID,
		txn.CreatedAt,
	}
}

func checkoutSessionFixture() *stripe.CheckoutSession {
	return &stripe.CheckoutSession{
		ID:          "cs_test_123",
		AmountTotal: 10000,
		Currency:    "brl",
		Mode:        stripe.CheckoutSessionModePayment,
		Metadata: map[string]string{
			"trainer_id": "7",
			"student_id": "42",
			"program_id": "9",
		},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_test_123"},
	}
}

func TestSplitFeeIsExact(t *testing.T) {
	service := NewLedgerService(&stubDB{}, 1000)

	cases := []struct {
		gross       int64
		wantFee     int64
		wantNet     int64
	}{
		{10000, 1000, 9000},
		{9999, 1000, 8999},
		{1, 0, 1},
		{5, 1, 4},
		{33333, 3333, 30000},
	}

	for _, tc := range cases {
		fee, net := service.splitFee(tc.gross)
		if fee != tc.wantFee || net != tc.wantNet {
			t.Errorf("splitFee(%d) = (%d, %d), want (%d, %d)", tc.gross, fee, net, tc.wantFee, tc.wantNet)
		}
		if fee+net != tc.gross {
			t.Errorf("splitFee(%d) drifts: %d + %d != %d", tc.gross, fee, net, tc.gross)
		}
	}
}

func TestCheckoutCompletedBooksPurchase(t *testing.T) {
	var insertedSubscriptionArgs []any
	var insertedTransactionArgs []any

	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "checkout_session_id = $1"):
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "INSERT INTO subscriptions"):
			insertedSubscriptionArgs = args
			return stubRow{values: subscriptionRowValues(models.Subscription{
				ID: 1, StudentID: 42, TrainerID: 7, ProgramID: 9,
				CheckoutSessionID: "cs_test_123", Status: models.SubscriptionActive,
				BillingType: models.BillingOneTime, Price: 10000, PlatformFee: 1000,
				TrainerEarnings: 9000, Currency: "brl",
				StartDate: ledgerTestTime, CreatedAt: ledgerTestTime, UpdatedAt: ledgerTestTime,
			})}
		case strings.Contains(query, "INSERT INTO transactions"):
			insertedTransactionArgs = args
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 1, SubscriptionID: 1, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionPurchase, GrossAmount: 10000, PlatformFee: 1000,
				NetAmount: 9000, Currency: "brl", Status: "succeeded", CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	subscription, err := service.CheckoutCompleted(context.Background(), checkoutSessionFixture())
	if err != nil {
		t.Fatalf("CheckoutCompleted: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected transaction to be committed")
	}

	if subscription.Price != 10000 || subscription.PlatformFee != 1000 || subscription.TrainerEarnings != 9000 {
		t.Fatalf("unexpected fee split on subscription: %+v", subscription)
	}

	// INSERT INTO subscriptions args: student, trainer, program, session id, ...
	if insertedSubscriptionArgs[0].(int64) != 42 || insertedSubscriptionArgs[1].(int64) != 7 || insertedSubscriptionArgs[2].(int64) != 9 {
		t.Fatalf("unexpected subscription insert args: %v", insertedSubscriptionArgs)
	}
	if insertedSubscriptionArgs[3].(string) != "cs_test_123" {
		t.Fatalf("expected checkout session id to be persisted, got %v", insertedSubscriptionArgs[3])
	}
	// gross, fee, net on the ledger row.
	if insertedTransactionArgs[5].(int64) != 10000 || insertedTransactionArgs[6].(int64) != 1000 || insertedTransactionArgs[7].(int64) != 9000 {
		t.Fatalf("unexpected transaction insert args: %v", insertedTransactionArgs)
	}

	var sawEarnings, sawStudents, sawGrant bool
	for _, call := range tx.execCalls {
		switch {
		case strings.Contains(call.sql, "total_earnings = total_earnings + $2"):
			sawEarnings = true
			if call.args[0].(int64) != 7 || call.args[1].(int64) != 9000 {
				t.Fatalf("unexpected earnings increment args: %v", call.args)
			}
		case strings.Contains(call.sql, "total_students = total_students + 1"):
			sawStudents = true
		case strings.Contains(call.sql, "INSERT INTO program_access"):
			sawGrant = true
			if call.args[0].(int64) != 42 || call.args[1].(int64) != 9 {
				t.Fatalf("unexpected access grant args: %v", call.args)
			}
		}
	}
	if !sawEarnings || !sawStudents || !sawGrant {
		t.Fatalf("missing expected mutations: earnings=%v students=%v grant=%v", sawEarnings, sawStudents, sawGrant)
	}
}

func TestCheckoutCompletedIsIdempotent(t *testing.T) {
	existing := models.Subscription{
		ID: 1, StudentID: 42, TrainerID: 7, ProgramID: 9,
		CheckoutSessionID: "cs_test_123", Status: models.SubscriptionActive,
		BillingType: models.BillingOneTime, Price: 10000, PlatformFee: 1000,
		TrainerEarnings: 9000, Currency: "brl",
		StartDate: ledgerTestTime, CreatedAt: ledgerTestTime, UpdatedAt: ledgerTestTime,
	}

	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		if strings.Contains(query, "checkout_session_id = $1") {
			return stubRow{values: subscriptionRowValues(existing)}
		}
		return stubRow{err: errors.New("no insert expected on redelivery: " + query)}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	subscription, err := service.CheckoutCompleted(context.Background(), checkoutSessionFixture())
	if err != nil {
		t.Fatalf("CheckoutCompleted replay: %v", err)
	}
	if subscription.ID != existing.ID {
		t.Fatalf("expected existing subscription, got id %d", subscription.ID)
	}
	if len(tx.execCalls) != 0 {
		t.Fatalf("expected no mutations on redelivery, got %d exec calls", len(tx.execCalls))
	}
	if tx.committed {
		t.Fatal("expected no commit on redelivery")
	}
}

func TestCheckoutCompletedRequiresMetadata(t *testing.T) {
	session := checkoutSessionFixture()
	delete(session.Metadata, "trainer_id")

	db := &stubDB{tx: &stubTx{}}
	service := NewLedgerService(db, 1000)

	if _, err := service.CheckoutCompleted(context.Background(), session); !errors.Is(err, ErrMissingMetadata) {
		t.Fatalf("expected ErrMissingMetadata, got %v", err)
	}
	if db.tx.committed || len(db.tx.execCalls) != 0 {
		t.Fatal("expected no mutation when metadata is missing")
	}
}

func renewalInvoiceFixture() *stripe.Invoice {
	return &stripe.Invoice{
		ID:            "in_test_77",
		AmountPaid:    10000,
		Currency:      "brl",
		BillingReason: stripe.InvoiceBillingReasonSubscriptionCycle,
		Subscription:  &stripe.Subscription{ID: "sub_test_55"},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_test_77"},
		PeriodEnd:     ledgerTestTime.Unix(),
	}
}

func activeSubscriptionFixture() models.Subscription {
	externalID := "sub_test_55"
	return models.Subscription{
		ID: 3, StudentID: 42, TrainerID: 7, ProgramID: 9,
		CheckoutSessionID: "cs_test_123", ExternalSubscriptionID: &externalID,
		Status: models.SubscriptionActive, BillingType: models.BillingMonthly,
		Price: 10000, PlatformFee: 1000, TrainerEarnings: 9000, Currency: "brl",
		StartDate: ledgerTestTime, CreatedAt: ledgerTestTime, UpdatedAt: ledgerTestTime,
	}
}

func TestInvoicePaidBooksRenewalOnCycle(t *testing.T) {
	var insertedTransactionArgs []any

	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "external_subscription_id = $1") && strings.Contains(query, "FROM subscriptions"):
			return stubRow{values: subscriptionRowValues(activeSubscriptionFixture())}
		case strings.Contains(query, "external_invoice_id = $1"):
			return stubRow{values: []any{false}}
		case strings.Contains(query, "INSERT INTO transactions"):
			insertedTransactionArgs = args
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 2, SubscriptionID: 3, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionRenewal, GrossAmount: 10000, PlatformFee: 1000,
				NetAmount: 9000, Currency: "brl", Status: "succeeded", CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	if err := service.InvoicePaid(context.Background(), renewalInvoiceFixture()); err != nil {
		t.Fatalf("InvoicePaid: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
	if insertedTransactionArgs == nil {
		t.Fatal("expected a renewal transaction to be booked")
	}
	if insertedTransactionArgs[4].(string) != models.TransactionRenewal {
		t.Fatalf("expected renewal type, got %v", insertedTransactionArgs[4])
	}

	var sawEarnings bool
	for _, call := range tx.execCalls {
		if strings.Contains(call.sql, "total_earnings = total_earnings + $2") {
			sawEarnings = true
			if call.args[1].(int64) != 9000 {
				t.Fatalf("unexpected renewal earnings increment: %v", call.args)
			}
		}
	}
	if !sawEarnings {
		t.Fatal("expected trainer earnings increment")
	}
}

func TestInvoicePaidSkipsFirstInvoice(t *testing.T) {
	invoice := renewalInvoiceFixture()
	invoice.BillingReason = stripe.InvoiceBillingReasonSubscriptionCreate

	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "FROM subscriptions"):
			return stubRow{values: subscriptionRowValues(activeSubscriptionFixture())}
		case strings.Contains(query, "INSERT INTO transactions"):
			return stubRow{err: errors.New("first invoice must not create a ledger entry")}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	if err := service.InvoicePaid(context.Background(), invoice); err != nil {
		t.Fatalf("InvoicePaid: %v", err)
	}
	for _, call := range tx.execCalls {
		if strings.Contains(call.sql, "total_earnings") {
			t.Fatal("first invoice must not increment earnings")
		}
	}
}

func TestInvoicePaidDedupesOnInvoiceID(t *testing.T) {
	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "FROM subscriptions"):
			return stubRow{values: subscriptionRowValues(activeSubscriptionFixture())}
		case strings.Contains(query, "external_invoice_id = $1"):
			return stubRow{values: []any{true}}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	if err := service.InvoicePaid(context.Background(), renewalInvoiceFixture()); err != nil {
		t.Fatalf("InvoicePaid replay: %v", err)
	}
	for _, call := range tx.execCalls {
		if strings.Contains(call.sql, "total_earnings") {
			t.Fatal("redelivered invoice must not double-book earnings")
		}
	}
}

func TestInvoicePaidBeforeCheckoutIsRetryable(t *testing.T) {
	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		return stubRow{err: pgx.ErrNoRows}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	if err := service.InvoicePaid(context.Background(), renewalInvoiceFixture()); !errors.Is(err, ErrReferentNotReady) {
		t.Fatalf("expected ErrReferentNotReady, got %v", err)
	}
	if tx.committed {
		t.Fatal("expected no commit when subscription is missing")
	}
}

func TestInvoiceFailedMarksPastDue(t *testing.T) {
	db := &stubDB{}
	db.execFn = func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if !strings.Contains(sql, "UPDATE subscriptions") || args[1].(string) != models.SubscriptionPastDue {
			return pgconn.CommandTag{}, errors.New("unexpected exec: " + sql)
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}

	service := NewLedgerService(db, 1000)

	invoice := &stripe.Invoice{Subscription: &stripe.Subscription{ID: "sub_test_55"}}
	if err := service.InvoiceFailed(context.Background(), invoice); err != nil {
		t.Fatalf("InvoiceFailed: %v", err)
	}
	if len(db.execCalls) != 1 {
		t.Fatalf("expected exactly one update, got %d", len(db.execCalls))
	}
}

func TestInvoiceFailedUnknownSubscriptionIsSkipped(t *testing.T) {
	db := &stubDB{}
	db.execFn = func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}

	service := NewLedgerService(db, 1000)

	invoice := &stripe.Invoice{Subscription: &stripe.Subscription{ID: "sub_unknown"}}
	if err := service.InvoiceFailed(context.Background(), invoice); !errors.Is(err, ErrNoMatchingRecord) {
		t.Fatalf("expected ErrNoMatchingRecord, got %v", err)
	}
}

func TestSubscriptionCanceledRevokesAccess(t *testing.T) {
	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		if strings.Contains(query, "FROM subscriptions") {
			return stubRow{values: subscriptionRowValues(activeSubscriptionFixture())}
		}
		return stubRow{err: errors.New("unexpected query: " + query)}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	if err := service.SubscriptionCanceled(context.Background(), &stripe.Subscription{ID: "sub_test_55"}); err != nil {
		t.Fatalf("SubscriptionCanceled: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}

	var sawStatus, sawRevoke bool
	for _, call := range tx.execCalls {
		switch {
		case strings.Contains(call.sql, "UPDATE subscriptions"):
			sawStatus = true
			if call.args[1].(string) != models.SubscriptionCanceled {
				t.Fatalf("expected canceled status, got %v", call.args[1])
			}
		case strings.Contains(call.sql, "DELETE FROM program_access"):
			sawRevoke = true
			if call.args[0].(int64) != 42 || call.args[1].(int64) != 9 {
				t.Fatalf("unexpected revoke args: %v", call.args)
			}
		}
	}
	if !sawStatus || !sawRevoke {
		t.Fatalf("missing mutations: status=%v revoke=%v", sawStatus, sawRevoke)
	}
}

func TestTransferCreatedMovesPendingToAvailable(t *testing.T) {
	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		if strings.Contains(query, "INSERT INTO payouts") {
			return stubRow{values: []any{int64(1), int64(7), "tr_test_1", int64(5000), "brl", ledgerTestTime}}
		}
		return stubRow{err: errors.New("unexpected query: " + query)}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	transfer := &stripe.Transfer{
		ID:       "tr_test_1",
		Amount:   5000,
		Currency: "brl",
		Metadata: map[string]string{"trainer_id": "7"},
	}
	if err := service.TransferCreated(context.Background(), transfer); err != nil {
		t.Fatalf("TransferCreated: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}

	var sawMove bool
	for _, call := range tx.execCalls {
		if strings.Contains(call.sql, "pending_balance = pending_balance - $2") {
			sawMove = true
			if call.args[0].(int64) != 7 || call.args[1].(int64) != 5000 {
				t.Fatalf("unexpected move args: %v", call.args)
			}
		}
	}
	if !sawMove {
		t.Fatal("expected pending -> available move")
	}
}

func TestTransferCreatedDuplicateIsNoOp(t *testing.T) {
	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		if strings.Contains(query, "INSERT INTO payouts") {
			return stubRow{err: &pgconn.PgError{Code: "23505"}}
		}
		return stubRow{err: errors.New("unexpected query: " + query)}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	transfer := &stripe.Transfer{
		ID:       "tr_test_1",
		Amount:   5000,
		Currency: "brl",
		Metadata: map[string]string{"trainer_id": "7"},
	}
	if err := service.TransferCreated(context.Background(), transfer); err != nil {
		t.Fatalf("TransferCreated replay: %v", err)
	}
	if tx.committed {
		t.Fatal("expected no commit on duplicate transfer")
	}
	for _, call := range tx.execCalls {
		if strings.Contains(call.sql, "pending_balance") {
			t.Fatal("duplicate transfer must not move funds")
		}
	}
}

func TestChargeRefundedBooksPartialRefund(t *testing.T) {
	paymentIntentID := "pi_test_123"
	original := models.Transaction{
		ID: 1, SubscriptionID: 1, TrainerID: 7, StudentID: 42, ProgramID: 9,
		Type: models.TransactionPurchase, GrossAmount: 10000, PlatformFee: 1000,
		NetAmount: 9000, Currency: "brl", Status: "succeeded",
		ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
	}

	var insertedRefundArgs []any

	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "type IN ('purchase', 'renewal')"):
			return stubRow{values: transactionRowValues(original)}
		case strings.Contains(query, "type = 'refund'"):
			return stubRow{values: []any{int64(0)}}
		case strings.Contains(query, "INSERT INTO transactions"):
			insertedRefundArgs = args
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 2, SubscriptionID: 1, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionRefund, GrossAmount: -5000, PlatformFee: -500,
				NetAmount: -4500, Currency: "brl", Status: "succeeded",
				ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	charge := &stripe.Charge{
		ID:             "ch_test_1",
		AmountRefunded: 5000,
		Currency:       "brl",
		PaymentIntent:  &stripe.PaymentIntent{ID: paymentIntentID},
	}
	if err := service.ChargeRefunded(context.Background(), charge); err != nil {
		t.Fatalf("ChargeRefunded: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}

	// Refunding 50% of a 10000 purchase with a 10% fee books -5000/-500/-4500.
	if insertedRefundArgs[5].(int64) != -5000 || insertedRefundArgs[6].(int64) != -500 || insertedRefundArgs[7].(int64) != -4500 {
		t.Fatalf("unexpected refund split: %v", insertedRefundArgs)
	}

	var sawDebit bool
	for _, call := range tx.execCalls {
		if strings.Contains(call.sql, "total_earnings = total_earnings - $2") {
			sawDebit = true
			if call.args[0].(int64) != 7 || call.args[1].(int64) != 4500 {
				t.Fatalf("unexpected refund debit args: %v", call.args)
			}
		}
	}
	if !sawDebit {
		t.Fatal("expected trainer earnings debit")
	}
}

func TestChargeRefundedReplayBooksNothing(t *testing.T) {
	paymentIntentID := "pi_test_123"
	original := models.Transaction{
		ID: 1, SubscriptionID: 1, TrainerID: 7, StudentID: 42, ProgramID: 9,
		Type: models.TransactionPurchase, GrossAmount: 10000, PlatformFee: 1000,
		NetAmount: 9000, Currency: "brl", Status: "succeeded",
		ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
	}

	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "type IN ('purchase', 'renewal')"):
			return stubRow{values: transactionRowValues(original)}
		case strings.Contains(query, "type = 'refund'"):
			// The 5000 refund is already on the ledger.
			return stubRow{values: []any{int64(5000)}}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	charge := &stripe.Charge{
		ID:             "ch_test_1",
		AmountRefunded: 5000,
		Currency:       "brl",
		PaymentIntent:  &stripe.PaymentIntent{ID: paymentIntentID},
	}
	if err := service.ChargeRefunded(context.Background(), charge); err != nil {
		t.Fatalf("ChargeRefunded replay: %v", err)
	}
	if tx.committed {
		t.Fatal("expected no commit on replay")
	}
	if len(tx.execCalls) != 0 {
		t.Fatalf("expected no mutations on replay, got %d", len(tx.execCalls))
	}
}

func TestChargeRefundedSecondPartialBooksDelta(t *testing.T) {
	paymentIntentID := "pi_test_123"
	original := models.Transaction{
		ID: 1, SubscriptionID: 1, TrainerID: 7, StudentID: 42, ProgramID: 9,
		Type: models.TransactionPurchase, GrossAmount: 10000, PlatformFee: 1000,
		NetAmount: 9000, Currency: "brl", Status: "succeeded",
		ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
	}

	var insertedRefundArgs []any

	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "type IN ('purchase', 'renewal')"):
			return stubRow{values: transactionRowValues(original)}
		case strings.Contains(query, "type = 'refund'"):
			return stubRow{values: []any{int64(5000)}}
		case strings.Contains(query, "INSERT INTO transactions"):
			insertedRefundArgs = args
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 3, SubscriptionID: 1, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionRefund, GrossAmount: -3000, PlatformFee: -300,
				NetAmount: -2700, Currency: "brl", Status: "succeeded",
				ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	// Cumulative 8000 refunded; 5000 already booked, so only 3000 moves.
	charge := &stripe.Charge{
		ID:             "ch_test_1",
		AmountRefunded: 8000,
		Currency:       "brl",
		PaymentIntent:  &stripe.PaymentIntent{ID: paymentIntentID},
	}
	if err := service.ChargeRefunded(context.Background(), charge); err != nil {
		t.Fatalf("ChargeRefunded: %v", err)
	}
	if insertedRefundArgs[5].(int64) != -3000 || insertedRefundArgs[6].(int64) != -300 || insertedRefundArgs[7].(int64) != -2700 {
		t.Fatalf("unexpected second refund split: %v", insertedRefundArgs)
	}
}

func TestCheckoutCompletedUnknownTrainerIsSkipped(t *testing.T) {
	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "checkout_session_id = $1"):
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "INSERT INTO subscriptions"):
			return stubRow{values: subscriptionRowValues(models.Subscription{
				ID: 1, StudentID: 42, TrainerID: 7, ProgramID: 9,
				CheckoutSessionID: "cs_test_123", Status: models.SubscriptionActive,
				BillingType: models.BillingOneTime, Price: 10000, PlatformFee: 1000,
				TrainerEarnings: 9000, Currency: "brl",
				StartDate: ledgerTestTime, CreatedAt: ledgerTestTime, UpdatedAt: ledgerTestTime,
			})}
		case strings.Contains(query, "INSERT INTO transactions"):
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 1, SubscriptionID: 1, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionPurchase, GrossAmount: 10000, PlatformFee: 1000,
				NetAmount: 9000, Currency: "brl", Status: "succeeded", CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}
	tx.execFn = func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		// No trainer_profiles row exists for the trainer in the metadata.
		if strings.Contains(sql, "total_earnings = total_earnings + $2") {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	_, err := service.CheckoutCompleted(context.Background(), checkoutSessionFixture())
	if !errors.Is(err, ErrNoMatchingRecord) {
		t.Fatalf("expected ErrNoMatchingRecord, got %v", err)
	}
	if tx.committed {
		t.Fatal("expected rollback when the trainer does not exist")
	}
}

func TestCheckoutCompletedBrokenReferenceIsSkipped(t *testing.T) {
	tx := &stubTx{}
	tx.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "checkout_session_id = $1"):
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "INSERT INTO subscriptions"):
			return stubRow{err: &pgconn.PgError{Code: "23503"}}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	service := NewLedgerService(&stubDB{tx: tx}, 1000)

	_, err := service.CheckoutCompleted(context.Background(), checkoutSessionFixture())
	if !errors.Is(err, ErrNoMatchingRecord) {
		t.Fatalf("expected ErrNoMatchingRecord on foreign key miss, got %v", err)
	}
	if tx.committed {
		t.Fatal("expected rollback on foreign key miss")
	}
}

func TestLedgerNetMatchesEarningsCounter(t *testing.T) {
	paymentIntentID := "pi_test_123"
	var bookedNet, counter int64

	accountingExec := func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		switch {
		case strings.Contains(sql, "total_earnings = total_earnings + $2"):
			counter += args[1].(int64)
		case strings.Contains(sql, "total_earnings = total_earnings - $2"):
			counter -= args[1].(int64)
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}

	checkoutTx := &stubTx{execFn: accountingExec}
	checkoutTx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "checkout_session_id = $1"):
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "INSERT INTO subscriptions"):
			return stubRow{values: subscriptionRowValues(activeSubscriptionFixture())}
		case strings.Contains(query, "INSERT INTO transactions"):
			bookedNet += args[7].(int64)
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 1, SubscriptionID: 3, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionPurchase, GrossAmount: 10000, PlatformFee: 1000,
				NetAmount: 9000, Currency: "brl", Status: "succeeded",
				ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	invoiceTx := &stubTx{execFn: accountingExec}
	invoiceTx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "FROM subscriptions"):
			return stubRow{values: subscriptionRowValues(activeSubscriptionFixture())}
		case strings.Contains(query, "external_invoice_id = $1"):
			return stubRow{values: []any{false}}
		case strings.Contains(query, "INSERT INTO transactions"):
			bookedNet += args[7].(int64)
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 2, SubscriptionID: 3, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionRenewal, GrossAmount: 10000, PlatformFee: 1000,
				NetAmount: 9000, Currency: "brl", Status: "succeeded", CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	refundTx := &stubTx{execFn: accountingExec}
	refundTx.queryRowFn = func(_ context.Context, query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "type IN ('purchase', 'renewal')"):
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 1, SubscriptionID: 3, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionPurchase, GrossAmount: 10000, PlatformFee: 1000,
				NetAmount: 9000, Currency: "brl", Status: "succeeded",
				ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
			})}
		case strings.Contains(query, "type = 'refund'"):
			return stubRow{values: []any{int64(0)}}
		case strings.Contains(query, "INSERT INTO transactions"):
			bookedNet += args[7].(int64)
			return stubRow{values: transactionRowValues(models.Transaction{
				ID: 3, SubscriptionID: 3, TrainerID: 7, StudentID: 42, ProgramID: 9,
				Type: models.TransactionRefund, GrossAmount: -5000, PlatformFee: -500,
				NetAmount: -4500, Currency: "brl", Status: "succeeded",
				ExternalPaymentIntentID: &paymentIntentID, CreatedAt: ledgerTestTime,
			})}
		default:
			return stubRow{err: errors.New("unexpected query: " + query)}
		}
	}

	db := &stubDB{tx: checkoutTx}
	service := NewLedgerService(db, 1000)

	if _, err := service.CheckoutCompleted(context.Background(), checkoutSessionFixture()); err != nil {
		t.Fatalf("CheckoutCompleted: %v", err)
	}
	db.tx = invoiceTx
	if err := service.InvoicePaid(context.Background(), renewalInvoiceFixture()); err != nil {
		t.Fatalf("InvoicePaid: %v", err)
	}
	db.tx = refundTx
	charge := &stripe.Charge{
		ID:             "ch_test_1",
		AmountRefunded: 5000,
		Currency:       "brl",
		PaymentIntent:  &stripe.PaymentIntent{ID: paymentIntentID},
	}
	if err := service.ChargeRefunded(context.Background(), charge); err != nil {
		t.Fatalf("ChargeRefunded: %v", err)
	}

	// Conservation: every booked entry moved the counter by its own net, so
	// sum(net_amount) must equal total_earnings after any mix of flows.
	if bookedNet != counter {
		t.Fatalf("ledger net %d drifted from earnings counter %d", bookedNet, counter)
	}
	if counter != 13500 {
		t.Fatalf("expected 9000 + 9000 - 4500 = 13500, got %d", counter)
	}

	ledgerDB := &stubDB{}
	ledgerDB.queryRowFn = func(_ context.Context, query string, _ ...any) stubRow {
		if strings.Contains(query, "SUM(net_amount)") {
			return stubRow{values: []any{bookedNet}}
		}
		return stubRow{err: errors.New("unexpected query: " + query)}
	}
	sum, err := repository.NewTransactionRepository(ledgerDB).SumNetByTrainerID(context.Background(), 7)
	if err != nil {
		t.Fatalf("SumNetByTrainerID: %v", err)
	}
	if sum != counter {
		t.Fatalf("reconciliation query returned %d, counter holds %d", sum, counter)
	}
}

func TestAccountUpdatedUnknownAccountIsSkipped(t *testing.T) {
	db := &stubDB{}
	db.execFn = func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}

	service := NewLedgerService(db, 1000)

	account := &stripe.Account{ID: "acct_unknown", PayoutsEnabled: true}
	if err := service.AccountUpdated(context.Background(), account); !errors.Is(err, ErrNoMatchingRecord) {
		t.Fatalf("expected ErrNoMatchingRecord, got %v", err)
	}
}
