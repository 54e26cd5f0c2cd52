package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opst/orchestration/pkg/domain"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/lifecycle"
	"github.com/opst/orchestration/pkg/domain/saga"
	"github.com/opst/orchestration/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Run("finished operations are counted per outcome", func(t *testing.T) {
		testee := metrics.New()
		testee.Finished(domain.Connector, xerr.Create, lifecycle.Succeeded)
		testee.Finished(domain.Connector, xerr.Create, lifecycle.Succeeded)
		testee.Finished(domain.Connector, xerr.Update, lifecycle.NoChange)

		expected := `
# HELP orchestration_saga_runs_total Total number of finished lifecycle operations
# TYPE orchestration_saga_runs_total counter
orchestration_saga_runs_total{kind="source-system",operation="create",outcome="succeeded"} 2
orchestration_saga_runs_total{kind="source-system",operation="update",outcome="no_change"} 1
`
		if err := testutil.GatherAndCompare(
			testee.Registry(), strings.NewReader(expected), "orchestration_saga_runs_total",
		); err != nil {
			t.Error(err)
		}
	})

	t.Run("a stuck compensation needs an operator", func(t *testing.T) {
		testee := metrics.New()
		o := testee.Compensations(domain.AnnotationService, xerr.Create)
		o.Compensation("apply-platform", saga.Compensated)
		o.Compensation("issue-pid", saga.Stuck)

		expected := `
# HELP orchestration_saga_compensations_total Total number of compensations attempted
# TYPE orchestration_saga_compensations_total counter
orchestration_saga_compensations_total{kind="machine-annotation-service",operation="create",outcome="compensated",step="apply-platform"} 1
orchestration_saga_compensations_total{kind="machine-annotation-service",operation="create",outcome="stuck",step="issue-pid"} 1
# HELP orchestration_saga_manual_interventions_total Total number of failed compensations, each of which needs an operator
# TYPE orchestration_saga_manual_interventions_total counter
orchestration_saga_manual_interventions_total{kind="machine-annotation-service",operation="create"} 1
`
		if err := testutil.GatherAndCompare(
			testee.Registry(), strings.NewReader(expected),
			"orchestration_saga_compensations_total", "orchestration_saga_manual_interventions_total",
		); err != nil {
			t.Error(err)
		}
	})

	t.Run("the handler exposes counters", func(t *testing.T) {
		testee := metrics.New()
		testee.Finished(domain.Mapping, xerr.Tombstone, lifecycle.Failed)

		rec := httptest.NewRecorder()
		testee.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, err := io.ReadAll(rec.Result().Body)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(body), `orchestration_saga_runs_total{kind="data-mapping",operation="tombstone",outcome="failed"} 1`) {
			t.Errorf("counter is not exposed:\n%s", body)
		}
	})
}
