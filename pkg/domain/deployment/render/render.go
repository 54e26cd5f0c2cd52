// Package render turns resource snapshots into platform objects.
//
// Rendering is pure except for the suffix of one-shot job names:
// the same snapshot always renders to objects with the same identity.
package render

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/deployment"
	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapiresource "k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ScaledObjectResource is the KEDA ScaledObject API resource.
var ScaledObjectResource = schema.GroupVersionResource{
	Group: "keda.sh", Version: "v1alpha1", Resource: "scaledobjects",
}

const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelName      = "app.kubernetes.io/name"
	LabelKind      = "orchestration.opst.io/kind"
	LabelShortID   = "orchestration.opst.io/short-id"

	managedBy = "orchestration"
)

// Resources are compute requests/limits, as quantity strings.
type Resources struct {
	CPURequest    string
	MemoryRequest string
	CPULimit      string
	MemoryLimit   string
}

func (r Resources) requirements() (kubecore.ResourceRequirements, error) {
	req := kubecore.ResourceRequirements{
		Requests: kubecore.ResourceList{},
		Limits:   kubecore.ResourceList{},
	}
	for _, q := range []struct {
		list  kubecore.ResourceList
		name  kubecore.ResourceName
		value string
	}{
		{req.Requests, kubecore.ResourceCPU, r.CPURequest},
		{req.Requests, kubecore.ResourceMemory, r.MemoryRequest},
		{req.Limits, kubecore.ResourceCPU, r.CPULimit},
		{req.Limits, kubecore.ResourceMemory, r.MemoryLimit},
	} {
		if q.value == "" {
			continue
		}
		v, err := kubeapiresource.ParseQuantity(q.value)
		if err != nil {
			return kubecore.ResourceRequirements{}, fmt.Errorf("%s %q: %w", q.name, q.value, err)
		}
		q.list[q.name] = v
	}
	return req, nil
}

// Config is what the renderer needs beyond the resource itself.
type Config struct {
	Namespace string

	// KafkaBootstrap is the bootstrap servers of the message broker services talk with.
	KafkaBootstrap string

	Connector ConnectorConfig

	AnnotationService AnnotationServiceConfig
}

type ConnectorConfig struct {
	// Images of translators, per translator kind.
	Images map[domain.TranslatorKind]string

	// DefaultSchedule is used for connectors without their own schedule.
	DefaultSchedule string

	// Topic translators publish digital specimens to.
	Topic string

	// JobTTLSeconds is how long a finished one-shot job is kept.
	JobTTLSeconds int32

	Resources Resources
}

type AnnotationServiceConfig struct {
	// LagThreshold is the consumer lag per replica which KEDA scales by.
	LagThreshold int

	// ResultTopic is where annotation services publish their results.
	ResultTopic string

	Resources Resources
}

type Renderer struct {
	config Config
	suffix func() string
}

var _ deployment.Renderer = &Renderer{}

type Option func(*Renderer)

// WithSuffix replaces the generator of one-shot job name suffixes.
func WithSuffix(f func() string) Option {
	return func(r *Renderer) {
		r.suffix = f
	}
}

func New(config Config, options ...Option) *Renderer {
	r := &Renderer{
		config: config,
		suffix: func() string { return strings.SplitN(uuid.NewString(), "-", 2)[0] },
	}
	for _, o := range options {
		o(r)
	}
	return r
}

func DeploymentName(shortID string) string {
	return shortID + "-deployment"
}

func ScaledObjectName(shortID string) string {
	return shortID + "-scaled-object"
}

func CronJobName(kind domain.Kind, shortID string) string {
	return kind.String() + "-" + shortID
}

func labels(r domain.Resource) map[string]string {
	return map[string]string{
		LabelManagedBy: managedBy,
		LabelName:      r.ShortID(),
		LabelKind:      r.Kind.String(),
		LabelShortID:   r.ShortID(),
	}
}

// Descriptor renders the platform objects of r, except one-shot jobs.
//
// Mappings have no platform presence and render to an empty descriptor.
func (rd *Renderer) Descriptor(r domain.Resource) (*deployment.Descriptor, error) {
	d := &deployment.Descriptor{ShortID: r.ShortID()}
	switch attrs := r.Attributes.(type) {
	case *domain.MappingAttributes:
		return d, nil
	case *domain.ConnectorAttributes:
		spec, err := rd.translatorPod(r, attrs)
		if err != nil {
			return nil, err
		}
		schedule := attrs.Schedule
		if schedule == "" {
			schedule = rd.config.Connector.DefaultSchedule
		}
		d.CronJob = &kubebatch.CronJob{
			TypeMeta: kubeapimeta.TypeMeta{APIVersion: "batch/v1", Kind: "CronJob"},
			ObjectMeta: kubeapimeta.ObjectMeta{
				Name:      CronJobName(r.Kind, r.ShortID()),
				Namespace: rd.config.Namespace,
				Labels:    labels(r),
			},
			Spec: kubebatch.CronJobSpec{
				Schedule:          schedule,
				ConcurrencyPolicy: kubebatch.ForbidConcurrent,
				JobTemplate: kubebatch.JobTemplateSpec{
					ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels(r)},
					Spec:       rd.jobSpec(r, spec),
				},
			},
		}
		return d, nil
	case *domain.AnnotationServiceAttributes:
		dep, err := rd.annotationDeployment(r, attrs)
		if err != nil {
			return nil, err
		}
		d.Deployment = dep
		d.ScaledObject = rd.scaledObject(r, attrs)
		return d, nil
	default:
		return nil, fmt.Errorf("%s: no platform objects for attributes %T", r.Kind, r.Attributes)
	}
}

// Trigger renders a one-shot job which runs a connector right away.
//
// Its name ends with a random suffix, so every call renders a new job.
func (rd *Renderer) Trigger(r domain.Resource) (*kubebatch.Job, error) {
	attrs, ok := r.Attributes.(*domain.ConnectorAttributes)
	if !ok {
		return nil, fmt.Errorf("%s cannot be triggered", r.Kind)
	}
	spec, err := rd.translatorPod(r, attrs)
	if err != nil {
		return nil, err
	}
	return &kubebatch.Job{
		TypeMeta: kubeapimeta.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      CronJobName(r.Kind, r.ShortID()) + "-" + rd.suffix(),
			Namespace: rd.config.Namespace,
			Labels:    labels(r),
		},
		Spec: rd.jobSpec(r, spec),
	}, nil
}

func (rd *Renderer) jobSpec(r domain.Resource, pod kubecore.PodSpec) kubebatch.JobSpec {
	backoff := int32(2)
	spec := kubebatch.JobSpec{
		BackoffLimit: &backoff,
		Template: kubecore.PodTemplateSpec{
			ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels(r)},
			Spec:       pod,
		},
	}
	if ttl := rd.config.Connector.JobTTLSeconds; 0 < ttl {
		spec.TTLSecondsAfterFinished = &ttl
	}
	return spec
}

func (rd *Renderer) translatorPod(r domain.Resource, attrs *domain.ConnectorAttributes) (kubecore.PodSpec, error) {
	image, ok := rd.config.Connector.Images[attrs.TranslatorKind]
	if !ok {
		return kubecore.PodSpec{}, fmt.Errorf("no translator image for %q", attrs.TranslatorKind)
	}
	res, err := rd.config.Connector.Resources.requirements()
	if err != nil {
		return kubecore.PodSpec{}, err
	}

	env := []kubecore.EnvVar{
		{Name: "SOURCE_SYSTEM_ID", Value: r.ID},
		{Name: "SOURCE_SYSTEM_ENDPOINT", Value: attrs.Endpoint},
		{Name: "MAPPING_ID", Value: attrs.MappingID},
		{Name: "KAFKA_HOST", Value: rd.config.KafkaBootstrap},
		{Name: "KAFKA_TOPIC", Value: rd.config.Connector.Topic},
	}
	if attrs.MaxItems != nil {
		env = append(env, kubecore.EnvVar{Name: "MAX_ITEMS", Value: fmt.Sprint(*attrs.MaxItems)})
	}
	if len(attrs.Filters) != 0 {
		env = append(env, kubecore.EnvVar{Name: "FILTERS", Value: strings.Join(sortedCopy(attrs.Filters), ",")})
	}

	return kubecore.PodSpec{
		RestartPolicy: kubecore.RestartPolicyNever,
		Containers: []kubecore.Container{
			{
				Name:      string(attrs.TranslatorKind),
				Image:     image,
				Env:       env,
				Resources: res,
			},
		},
	}, nil
}

// ConsumerGroup is the kafka consumer group of an annotation service.
func ConsumerGroup(r domain.Resource) string {
	return "group-" + r.ShortID()
}

// Topic is the kafka topic an annotation service consumes.
func Topic(r domain.Resource, attrs *domain.AnnotationServiceAttributes) string {
	if attrs.TopicName != "" {
		return attrs.TopicName
	}
	return r.ShortID()
}

func (rd *Renderer) annotationDeployment(r domain.Resource, attrs *domain.AnnotationServiceAttributes) (*kubeapps.Deployment, error) {
	res, err := rd.config.AnnotationService.Resources.requirements()
	if err != nil {
		return nil, err
	}

	env := []kubecore.EnvVar{
		{Name: "MAS_ID", Value: r.ID},
		{Name: "MAS_NAME", Value: attrs.Name},
		{Name: "KAFKA_CONSUMER_HOST", Value: rd.config.KafkaBootstrap},
		{Name: "KAFKA_CONSUMER_TOPIC", Value: Topic(r, attrs)},
		{Name: "KAFKA_CONSUMER_GROUP", Value: ConsumerGroup(r)},
		{Name: "KAFKA_PRODUCER_HOST", Value: rd.config.KafkaBootstrap},
		{Name: "KAFKA_PRODUCER_TOPIC", Value: rd.config.AnnotationService.ResultTopic},
		{Name: "BATCHING_PERMITTED", Value: fmt.Sprint(attrs.BatchingPermitted)},
	}
	if 0 < attrs.TimeToLive {
		env = append(env, kubecore.EnvVar{Name: "TIME_TO_LIVE", Value: fmt.Sprint(attrs.TimeToLive)})
	}
	for _, e := range sortedEnv(attrs.Environment) {
		env = append(env, kubecore.EnvVar{Name: e.Name, Value: e.Value})
	}
	for _, s := range sortedSecrets(attrs.Secrets) {
		env = append(env, kubecore.EnvVar{
			Name: s.Name,
			ValueFrom: &kubecore.EnvVarSource{
				SecretKeyRef: &kubecore.SecretKeySelector{
					LocalObjectReference: kubecore.LocalObjectReference{Name: s.SecretName},
					Key:                  s.SecretKey,
				},
			},
		})
	}

	replicas := int32(1)
	selector := map[string]string{LabelShortID: r.ShortID()}
	return &kubeapps.Deployment{
		TypeMeta: kubeapimeta.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      DeploymentName(r.ShortID()),
			Namespace: rd.config.Namespace,
			Labels:    labels(r),
		},
		Spec: kubeapps.DeploymentSpec{
			Replicas: &replicas,
			Selector: &kubeapimeta.LabelSelector{MatchLabels: selector},
			Strategy: kubeapps.DeploymentStrategy{Type: kubeapps.RollingUpdateDeploymentStrategyType},
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels(r)},
				Spec: kubecore.PodSpec{
					Containers: []kubecore.Container{
						{
							Name:      r.ShortID(),
							Image:     attrs.ContainerImage + ":" + attrs.ContainerTag,
							Env:       env,
							Resources: res,
						},
					},
				},
			},
		},
	}, nil
}

func (rd *Renderer) scaledObject(r domain.Resource, attrs *domain.AnnotationServiceAttributes) *unstructured.Unstructured {
	lag := rd.config.AnnotationService.LagThreshold
	if lag <= 0 {
		lag = 5
	}
	// numbers are int64: unstructured content must be deep-copyable JSON values.
	return &unstructured.Unstructured{
		Object: map[string]any{
			"apiVersion": "keda.sh/v1alpha1",
			"kind":       "ScaledObject",
			"metadata": map[string]any{
				"name":      ScaledObjectName(r.ShortID()),
				"namespace": rd.config.Namespace,
				"labels":    stringMap(labels(r)),
			},
			"spec": map[string]any{
				"scaleTargetRef": map[string]any{
					"name": DeploymentName(r.ShortID()),
				},
				"minReplicaCount": int64(0),
				"maxReplicaCount": int64(attrs.MaxReplicas),
				"triggers": []any{
					map[string]any{
						"type": "kafka",
						"metadata": map[string]any{
							"bootstrapServers": rd.config.KafkaBootstrap,
							"consumerGroup":    ConsumerGroup(r),
							"topic":            Topic(r, attrs),
							"lagThreshold":     fmt.Sprint(lag),
						},
					},
				},
			},
		},
	}
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedCopy(s []string) []string {
	return slices.Sorted(slices.Values(s))
}

func sortedEnv(e []domain.EnvVar) []domain.EnvVar {
	return slices.SortedFunc(slices.Values(e), func(a, b domain.EnvVar) int { return strings.Compare(a.Name, b.Name) })
}

func sortedSecrets(s []domain.SecretRef) []domain.SecretRef {
	return slices.SortedFunc(slices.Values(s), func(a, b domain.SecretRef) int { return strings.Compare(a.Name, b.Name) })
}
