package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vaultkey-controlplane/pkg/keycodec"
	"vaultkey-controlplane/pkg/ledger"
	"vaultkey-controlplane/pkg/taskname"
	"vaultkey-controlplane/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func pendingRow(id int64, hash string, created time.Time) *LedgerTransaction {
	return &LedgerTransaction{
		ID: id, TxHash: hash, KeyHash: "0x01", Status: TxPending, TxType: TxKeyIssuance, CreatedAt: created,
	}
}

func TestConfirmerConfirmsSimulatorReceipt(t *testing.T) {
	db := testutil.NewTestDB(t, &LedgerTransaction{})
	repo := NewRepository(db)
	sim := ledger.NewSimulator()
	ctx := context.Background()

	sub, err := sim.RegisterKey(ctx, ledger.RegisterRequest{
		KeyHash:   keycodec.Hash([]byte("confirm-me")),
		OwnerID:   1,
		ExpiresAt: time.Now().Add(time.Hour),
		MaxUses:   3,
		KeyKind:   "VIDEO_DECRYPTION",
	})
	require.NoError(t, err)
	require.NoError(t, repo.CreateLedgerTransaction(ctx, pendingRow(1, sub.TxHash, time.Now().UTC())))

	c := NewConfirmer(ConfirmerParams{Repo: repo, Oracle: sim})
	require.NoError(t, c.Confirm(ctx, sub.TxHash))

	tx, err := repo.FindLedgerTransaction(ctx, sub.TxHash)
	require.NoError(t, err)
	require.Equal(t, TxConfirmed, tx.Status)
	require.NotNil(t, tx.BlockNumber)
	require.NotNil(t, tx.ConfirmedAt)

	// already resolved rows are left alone
	require.NoError(t, c.Confirm(ctx, sub.TxHash))
}

func TestConfirmerRetriesUnminedReceipt(t *testing.T) {
	repo := NewRepository(testutil.NewTestDB(t, &LedgerTransaction{}))
	oracle := new(ledger.MockOracle)
	oracle.On("Receipt", mock.Anything, "0xfeed").Return(nil, ledger.ErrReceiptNotFound)
	c := NewConfirmer(ConfirmerParams{Repo: repo, Oracle: oracle})

	err := c.Confirm(context.Background(), "0xfeed")
	require.ErrorIs(t, err, ledger.ErrReceiptNotFound)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestConfirmerSkipsReceiptMinedByAnotherSimulator(t *testing.T) {
	repo := NewRepository(testutil.NewTestDB(t, &LedgerTransaction{}))
	ctx := context.Background()

	issuer := ledger.NewSimulator()
	sub, err := issuer.RegisterKey(ctx, ledger.RegisterRequest{
		KeyHash:   keycodec.Hash([]byte("mined-elsewhere")),
		OwnerID:   1,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, repo.CreateLedgerTransaction(ctx, pendingRow(1, sub.TxHash, time.Now().UTC())))

	worker := NewConfirmer(ConfirmerParams{Repo: repo, Oracle: ledger.NewSimulator()})
	err = worker.Confirm(ctx, sub.TxHash)
	require.ErrorIs(t, err, asynq.SkipRetry)

	tx, err := repo.FindLedgerTransaction(ctx, sub.TxHash)
	require.NoError(t, err)
	require.Equal(t, TxPending, tx.Status)
}

func TestSimulatorIssueResolvesAuditRowInline(t *testing.T) {
	f := newFixture(t, ledger.NewSimulator())
	enq := &recordingEnqueuer{}
	f.svc.enqueuer = enq
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, ownerA)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, issued.BearerToken, ownerA, "rotating"))

	require.Empty(t, enq.tasks)
	for _, row := range ledgerRows(t, f.db) {
		require.Equal(t, TxConfirmed, row.Status, row.TxHash)
		require.NotNil(t, row.BlockNumber)
		require.EqualValues(t, 21000, row.GasUsed)
	}

	// a worker running its own simulator has nothing left to resolve
	pending, err := f.repo.ListPendingLedgerTransactions(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestConfirmerMarksRevertedTransactionFailed(t *testing.T) {
	repo := NewRepository(testutil.NewTestDB(t, &LedgerTransaction{}))
	ctx := context.Background()
	require.NoError(t, repo.CreateLedgerTransaction(ctx, pendingRow(1, "0xbad", time.Now().UTC())))

	oracle := new(ledger.MockOracle)
	oracle.On("Receipt", mock.Anything, "0xbad").Return(&ledger.Receipt{
		TxHash: "0xbad", Status: ledger.ReceiptFailed, BlockNumber: 12, GasUsed: 50000,
	}, nil)

	c := NewConfirmer(ConfirmerParams{Repo: repo, Oracle: oracle})
	require.NoError(t, c.Confirm(ctx, "0xbad"))

	tx, err := repo.FindLedgerTransaction(ctx, "0xbad")
	require.NoError(t, err)
	require.Equal(t, TxFailed, tx.Status)
	require.Equal(t, "transaction reverted", *tx.ErrorMessage)
	require.Nil(t, tx.ConfirmedAt)
}

func TestConfirmerWithoutOracleSkipsRetry(t *testing.T) {
	c := NewConfirmer(ConfirmerParams{Repo: NewRepository(testutil.NewTestDB(t))})
	require.ErrorIs(t, c.Confirm(context.Background(), "0x01"), asynq.SkipRetry)
}

func TestHandleConfirmRejectsBadPayload(t *testing.T) {
	c := NewConfirmer(ConfirmerParams{Repo: NewRepository(testutil.NewTestDB(t)), Oracle: ledger.NewSimulator()})

	err := c.HandleConfirm(context.Background(), asynq.NewTask(taskname.LedgerConfirm, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = c.HandleConfirm(context.Background(), asynq.NewTask(taskname.LedgerConfirm, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func asyncOracle() *ledger.MockOracle {
	oracle := new(ledger.MockOracle)
	oracle.On("RegisterKey", mock.Anything, mock.Anything).Return(&ledger.Submission{TxHash: "0xabc"}, nil)
	return oracle
}

func TestIssueEnqueuesConfirmation(t *testing.T) {
	f := newFixture(t, asyncOracle())
	enq := &recordingEnqueuer{}
	f.svc.enqueuer = enq

	issued, err := f.svc.Issue(context.Background(), ownerA)
	require.NoError(t, err)

	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.LedgerConfirm, enq.tasks[0].Type())
	require.JSONEq(t, `{"tx_hash":"`+issued.LedgerTxRef+`"}`, string(enq.tasks[0].Payload()))

	rows := ledgerRows(t, f.db)
	require.Len(t, rows, 1)
	require.Equal(t, TxPending, rows[0].Status)
}

func TestIssueSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t, asyncOracle())
	f.svc.enqueuer = &recordingEnqueuer{err: errors.New("redis down")}

	_, err := f.svc.Issue(context.Background(), ownerA)
	require.NoError(t, err)
}

func TestSweepRequeuesStalePending(t *testing.T) {
	db := testutil.NewTestDB(t, &LedgerTransaction{})
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateLedgerTransaction(ctx, pendingRow(1, "0x01", now.Add(-time.Hour))))
	require.NoError(t, repo.CreateLedgerTransaction(ctx, pendingRow(2, "0x02", now)))
	failed := pendingRow(3, "failed-3", now.Add(-time.Hour))
	failed.Status = TxFailed
	require.NoError(t, repo.CreateLedgerTransaction(ctx, failed))

	enq := &recordingEnqueuer{}
	settings := testSettings()
	settings.Ledger.ConfirmDelay = time.Minute
	settings.Ledger.SweepInterval = time.Minute

	n, err := NewSweeper(repo, enq, settings).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, enq.tasks, 1)
	require.JSONEq(t, `{"tx_hash":"0x01"}`, string(enq.tasks[0].Payload()))
}
