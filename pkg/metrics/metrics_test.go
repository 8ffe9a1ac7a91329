package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecorder_InstrumentsDoNotPanicOnNilReceiver(t *testing.T) {
	var r *Recorder
	ctx := context.Background()

	assert.NotPanics(t, func() {
		r.RecordActionOutcome(ctx, "tenant_a", "tool_x", "executed", time.Second)
		r.RecordApprovalEscalation(ctx, "tenant_a", "stage_1")
		r.RecordSiemDelivery(ctx, "target_1", "generic_webhook", time.Second, nil)
	})
}

func TestNewRecorder_RecordsAgainstGlobalMeterWithoutError(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)
	require.NotNil(t, r)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		r.RecordActionOutcome(ctx, "tenant_a", "tool_x", "denied", 250*time.Millisecond)
		r.RecordApprovalEscalation(ctx, "tenant_a", "stage_1")
		r.RecordSiemDelivery(ctx, "target_1", "splunk_hec", 10*time.Millisecond, nil)
	})
}
