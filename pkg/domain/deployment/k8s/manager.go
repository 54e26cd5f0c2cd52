package k8s

import (
	"context"
	"time"

	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/deployment"
	"github.com/opst/orchestration/pkg/utils/retry"
	"github.com/rs/zerolog"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
)

type manager struct {
	client    K8sClient
	namespace string
	policy    retry.Policy
	logger    zerolog.Logger
}

type Option func(*manager)

// WithRetry sets how many attempts are made per API call and how long to wait between them.
//
// Only transient failures (server errors, timeouts, throttling) are retried.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(m *manager) {
		m.policy.MaxAttempts = maxAttempts
		m.policy.Delay = delay
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *manager) {
		m.logger = l
	}
}

// New returns a deployment.Manager placing objects in namespace.
func New(client K8sClient, namespace string, options ...Option) deployment.Manager {
	m := &manager{
		client:    client,
		namespace: namespace,
		policy:    retry.Policy{MaxAttempts: 3, Delay: time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range options {
		o(m)
	}
	m.policy.Retryable = transient
	return m
}

func transient(err error) bool {
	return kubeerr.IsServerTimeout(err) ||
		kubeerr.IsTimeout(err) ||
		kubeerr.IsTooManyRequests(err) ||
		kubeerr.IsInternalError(err) ||
		kubeerr.IsServiceUnavailable(err) ||
		kubeerr.IsUnexpectedServerError(err)
}

// object is one platform object of a descriptor, with the operations on it.
type object struct {
	name string

	create func(context.Context) error

	// update replaces the object with the desired one. NotFound when absent.
	update func(context.Context) error

	remove func(context.Context) error
}

// objects of d, in the order they should be created.
func (m *manager) objects(d *deployment.Descriptor) []object {
	ns := m.namespace
	objs := []object{}

	if dep := d.Deployment; dep != nil {
		objs = append(objs, object{
			name: "Deployment/" + dep.Name,
			create: func(ctx context.Context) error {
				_, err := m.client.CreateDeployment(ctx, ns, dep)
				return err
			},
			update: func(ctx context.Context) error {
				current, err := m.client.GetDeployment(ctx, ns, dep.Name)
				if err != nil {
					return err
				}
				next := dep.DeepCopy()
				next.ResourceVersion = current.ResourceVersion
				_, err = m.client.UpdateDeployment(ctx, ns, next)
				return err
			},
			remove: func(ctx context.Context) error {
				return m.client.DeleteDeployment(ctx, ns, dep.Name)
			},
		})
	}

	if so := d.ScaledObject; so != nil {
		objs = append(objs, object{
			name: "ScaledObject/" + so.GetName(),
			create: func(ctx context.Context) error {
				_, err := m.client.CreateScaledObject(ctx, ns, so)
				return err
			},
			update: func(ctx context.Context) error {
				current, err := m.client.GetScaledObject(ctx, ns, so.GetName())
				if err != nil {
					return err
				}
				next := so.DeepCopy()
				next.SetResourceVersion(current.GetResourceVersion())
				_, err = m.client.UpdateScaledObject(ctx, ns, next)
				return err
			},
			remove: func(ctx context.Context) error {
				return m.client.DeleteScaledObject(ctx, ns, so.GetName())
			},
		})
	}

	if cj := d.CronJob; cj != nil {
		objs = append(objs, object{
			name: "CronJob/" + cj.Name,
			create: func(ctx context.Context) error {
				_, err := m.client.CreateCronJob(ctx, ns, cj)
				return err
			},
			update: func(ctx context.Context) error {
				current, err := m.client.GetCronJob(ctx, ns, cj.Name)
				if err != nil {
					return err
				}
				next := cj.DeepCopy()
				next.ResourceVersion = current.ResourceVersion
				_, err = m.client.UpdateCronJob(ctx, ns, next)
				return err
			},
			remove: func(ctx context.Context) error {
				return m.client.DeleteCronJob(ctx, ns, cj.Name)
			},
		})
	}

	if job := d.Job; job != nil {
		objs = append(objs, object{
			name: "Job/" + job.Name,
			create: func(ctx context.Context) error {
				_, err := m.client.CreateJob(ctx, ns, job)
				return err
			},
			// jobs are immutable. An existing one is left as it is.
			update: func(ctx context.Context) error {
				_, err := m.client.GetJob(ctx, ns, job.Name)
				return err
			},
			remove: func(ctx context.Context) error {
				return m.client.DeleteJob(ctx, ns, job.Name)
			},
		})
	}

	return objs
}

func (m *manager) call(ctx context.Context, f func(context.Context) error) error {
	_, err := retry.Do(ctx, m.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f(ctx)
	})
	return err
}

func (m *manager) Apply(ctx context.Context, d *deployment.Descriptor) error {
	if d.Empty() {
		return nil
	}
	for _, o := range m.objects(d) {
		err := m.call(ctx, o.create)
		if kubeerr.IsAlreadyExists(err) {
			err = m.call(ctx, o.update)
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("object", o.name).Msg("apply failed")
			return xerr.NewPlatformError(o.name, err)
		}
		m.logger.Info().Str("object", o.name).Str("namespace", m.namespace).Msg("applied")
	}
	return nil
}

func (m *manager) Replace(ctx context.Context, d *deployment.Descriptor) error {
	if d.Empty() {
		return nil
	}
	for _, o := range m.objects(d) {
		err := m.call(ctx, o.update)
		if kubeerr.IsNotFound(err) {
			err = m.call(ctx, o.create)
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("object", o.name).Msg("replace failed")
			return xerr.NewPlatformError(o.name, err)
		}
		m.logger.Info().Str("object", o.name).Str("namespace", m.namespace).Msg("replaced")
	}
	return nil
}

// Remove deletes objects most-dependent-first. It tries every object even if some fail,
// and reports the first failure.
func (m *manager) Remove(ctx context.Context, d *deployment.Descriptor) error {
	if d.Empty() {
		return nil
	}
	objs := m.objects(d)
	var first error
	for i := len(objs) - 1; 0 <= i; i-- {
		o := objs[i]
		err := m.call(ctx, o.remove)
		if err == nil || kubeerr.IsNotFound(err) {
			m.logger.Info().Str("object", o.name).Str("namespace", m.namespace).Msg("removed")
			continue
		}
		m.logger.Warn().Err(err).Str("object", o.name).Msg("remove failed")
		if first == nil {
			first = xerr.NewPlatformError(o.name, err)
		}
	}
	return first
}
