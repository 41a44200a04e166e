package observability

import (
	"testing"
	"time"

	"github.com/danmuck/mediactl/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordEngineSpawn()
	RecordEngineExit("clean")
	RecordChannelRequest("worker.dump", "ok")
	RecordNotification("dispatched")
	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
}
