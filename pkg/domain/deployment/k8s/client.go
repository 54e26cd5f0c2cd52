package k8s

import (
	"context"

	"github.com/opst/orchestration/pkg/domain/deployment/render"
	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// subset of kubernetes.Interface and dynamic.Interface which the manager uses.
type K8sClient interface {
	GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error)
	CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
	UpdateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
	DeleteDeployment(ctx context.Context, namespace string, name string) error

	GetCronJob(ctx context.Context, namespace string, name string) (*kubebatch.CronJob, error)
	CreateCronJob(ctx context.Context, namespace string, cj *kubebatch.CronJob) (*kubebatch.CronJob, error)
	UpdateCronJob(ctx context.Context, namespace string, cj *kubebatch.CronJob) (*kubebatch.CronJob, error)
	DeleteCronJob(ctx context.Context, namespace string, name string) error

	GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
	CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error

	GetScaledObject(ctx context.Context, namespace string, name string) (*unstructured.Unstructured, error)
	CreateScaledObject(ctx context.Context, namespace string, so *unstructured.Unstructured) (*unstructured.Unstructured, error)
	UpdateScaledObject(ctx context.Context, namespace string, so *unstructured.Unstructured) (*unstructured.Unstructured, error)
	DeleteScaledObject(ctx context.Context, namespace string, name string) error
}

// A wrapper for client-go clients; because it does not prefer method chain-style invocations of them.
type k8sClient struct {
	typed   kubernetes.Interface
	dynamic dynamic.Interface
}

// type check: k8sClient implements K8sClient
var _ K8sClient = &k8sClient{}

func WrapK8sClient(typed kubernetes.Interface, dyn dynamic.Interface) K8sClient {
	return &k8sClient{typed: typed, dynamic: dyn}
}

func (k *k8sClient) GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error) {
	return k.typed.AppsV1().Deployments(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	return k.typed.AppsV1().Deployments(namespace).Create(ctx, depl, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) UpdateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	return k.typed.AppsV1().Deployments(namespace).Update(ctx, depl, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) DeleteDeployment(ctx context.Context, namespace string, name string) error {
	return k.typed.AppsV1().Deployments(namespace).Delete(ctx, name, background())
}

func (k *k8sClient) GetCronJob(ctx context.Context, namespace string, name string) (*kubebatch.CronJob, error) {
	return k.typed.BatchV1().CronJobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateCronJob(ctx context.Context, namespace string, cj *kubebatch.CronJob) (*kubebatch.CronJob, error) {
	return k.typed.BatchV1().CronJobs(namespace).Create(ctx, cj, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) UpdateCronJob(ctx context.Context, namespace string, cj *kubebatch.CronJob) (*kubebatch.CronJob, error) {
	return k.typed.BatchV1().CronJobs(namespace).Update(ctx, cj, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) DeleteCronJob(ctx context.Context, namespace string, name string) error {
	return k.typed.BatchV1().CronJobs(namespace).Delete(ctx, name, background())
}

func (k *k8sClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	return k.typed.BatchV1().Jobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	return k.typed.BatchV1().Jobs(namespace).Create(ctx, job, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	return k.typed.BatchV1().Jobs(namespace).Delete(ctx, name, background())
}

func (k *k8sClient) GetScaledObject(ctx context.Context, namespace string, name string) (*unstructured.Unstructured, error) {
	return k.dynamic.Resource(render.ScaledObjectResource).Namespace(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateScaledObject(ctx context.Context, namespace string, so *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	return k.dynamic.Resource(render.ScaledObjectResource).Namespace(namespace).Create(ctx, so, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) UpdateScaledObject(ctx context.Context, namespace string, so *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	return k.dynamic.Resource(render.ScaledObjectResource).Namespace(namespace).Update(ctx, so, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) DeleteScaledObject(ctx context.Context, namespace string, name string) error {
	return k.dynamic.Resource(render.ScaledObjectResource).Namespace(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{})
}

// pods (of deployments and jobs) go away with their owner.
func background() kubeapimeta.DeleteOptions {
	policy := kubeapimeta.DeletePropagationBackground
	return kubeapimeta.DeleteOptions{PropagationPolicy: &policy}
}
