package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteReceiptStore_PutGetListRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)
	store, err := NewSQLiteReceiptStore(db)
	require.NoError(t, err)

	receipt := &contracts.Receipt{
		ReceiptID:     "rcpt_1",
		ActionID:      "act_1",
		TenantID:      "tenant_a",
		Type:          contracts.ReceiptExecuted,
		Timestamp:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SchemaVersion: contracts.ReceiptSchemaVersion,
		Resource:      contracts.Resource{ToolID: "tool_1", Operation: "write_file"},
		Actor:         contracts.Actor{AgentID: "agent_1"},
		Integrity:     contracts.Integrity{SigningKeyID: "k1", Signature: "sig", PayloadHash: "hash"},
	}
	require.NoError(t, store.PutReceipt(ctx, receipt))

	fetched, err := store.GetReceipt(ctx, "tenant_a", "rcpt_1")
	require.NoError(t, err)
	assert.Equal(t, receipt.ActionID, fetched.ActionID)
	assert.Equal(t, receipt.Resource.ToolID, fetched.Resource.ToolID)
	assert.True(t, receipt.Timestamp.Equal(fetched.Timestamp))

	list, err := store.ListReceiptsForAction(ctx, "tenant_a", "act_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "rcpt_1", list[0].ReceiptID)
}

func TestSQLiteBackplaneStore_EnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)
	store, err := NewSQLiteBackplaneStore(db)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	job, created, err := store.EnqueueIfAbsent(ctx, contracts.EnqueueJobInput{TenantID: "tenant_a", ActionID: "act_1"}, now)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.EnqueueIfAbsent(ctx, contracts.EnqueueJobInput{TenantID: "tenant_a", ActionID: "act_1"}, now)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)

	claimed, err := store.ClaimBatch(ctx, "worker_1", 10, time.Minute, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "worker_1", claimed[0].LockedBy)
	assert.Equal(t, 1, claimed[0].AttemptCount)

	require.NoError(t, store.Complete(ctx, claimed[0].ID, "worker_1"))
	fetched, err := store.GetJob(ctx, "tenant_a", claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.JobStatusSucceeded, fetched.Status)
}
