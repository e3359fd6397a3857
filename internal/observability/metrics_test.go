package observability

import (
	"testing"
	"time"

	"github.com/danmuck/flockctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordRound("broadcast", "ok", 12*time.Millisecond)
	RecordAgentFault("panic")
	RecordLocalization("miss")
	RecordAdminRequest("GET", "/health", 200, 3*time.Millisecond)
	SetFleetSize(4)

	if got := testutil.ToFloat64(fleetSize); got != 4 {
		t.Fatalf("unexpected fleet size gauge: %v", got)
	}
	before := testutil.ToFloat64(agentFaults.WithLabelValues("error"))
	RecordAgentFault("error")
	if got := testutil.ToFloat64(agentFaults.WithLabelValues("error")); got != before+1 {
		t.Fatalf("agent fault counter did not advance: before=%v after=%v", before, got)
	}
}
