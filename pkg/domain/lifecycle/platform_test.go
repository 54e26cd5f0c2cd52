package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	dk8s "github.com/opst/orchestration/pkg/domain/deployment/k8s"
	"github.com/opst/orchestration/pkg/domain/deployment/render"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/lifecycle"
	"github.com/opst/orchestration/pkg/domain/saga"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func TestCreate_WithKubernetes(t *testing.T) {
	t.Run("platform compensation is attempted once even for transient failures", func(t *testing.T) {
		typed := fake.NewSimpleClientset()
		dynamic := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(
			runtime.NewScheme(),
			map[schema.GroupVersionResource]string{render.ScaledObjectResource: "ScaledObjectList"},
		)
		dynamic.PrependReactor("create", "scaledobjects", func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, kubeerr.NewForbidden(
				schema.GroupResource{Group: "keda.sh", Resource: "scaledobjects"}, "xyz-123-scaled-object", errors.New("quota exceeded"),
			)
		})
		deletes := 0
		typed.PrependReactor("delete", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
			deletes += 1
			return true, nil, kubeerr.NewServiceUnavailable("busy")
		})

		f := newFixture(t)
		f.pids.Impl.Issue = issuing("20.5000.1025/XYZ-123")
		f.pids.Impl.Rollback = succeed
		deps := f.deps()
		deps.Platform = dk8s.New(dk8s.WrapK8sClient(typed, dynamic), renderConfig.Namespace, dk8s.WithRetry(3, 0))
		testee := lifecycle.New(
			lifecycle.AnnotationService(lifecycle.NewValidator(), render.New(renderConfig)),
			deps, lifecycle.WithMetrics(f.metrics),
		)

		_, err := testee.Create(context.Background(), annotationServiceRequest(), alice)
		if !errors.Is(err, xerr.ErrPlatformFailure) {
			t.Fatalf("unexpected error: %v", err)
		}
		if failure := failureOf(t, err); failure.Step != "apply-platform" || failure.ID != "20.5000.1025/XYZ-123" {
			t.Errorf("unexpected failure: %+v", failure)
		}
		if deletes != 1 {
			t.Errorf("deployment delete attempts: %d", deletes)
		}

		if f.store.Len() != 0 {
			t.Error("record is left in the store")
		}
		if !cmp.Equal(f.pids.Calls.Rollback, []string{"20.5000.1025/XYZ-123"}) {
			t.Errorf("unexpected pid rollbacks: %v", f.pids.Calls.Rollback)
		}
		if want := []outcome{{xerr.Create, lifecycle.Inconsistent}}; !cmp.Equal(f.metrics.finished, want) {
			t.Errorf("unexpected outcomes: %v", f.metrics.finished)
		}
		if f.metrics.compensations[saga.Stuck] != 1 || f.metrics.compensations[saga.Compensated] != 2 {
			t.Errorf("unexpected compensations: %v", f.metrics.compensations)
		}
	})
}
