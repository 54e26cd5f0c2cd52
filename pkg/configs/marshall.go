package configs

import (
	"fmt"
	"net/url"
	"time"

	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/deployment/render"
	"github.com/opst/orchestration/pkg/logging"
	"k8s.io/apimachinery/pkg/api/resource"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

// Configuration of the orchestrator.
//
// This type is marshalling value and mutable.
// Consider to use immutable version, `Config`, given by `TrySeal`.
type ConfigMarshall struct {
	Namespace string                  `yaml:"namespace"`
	Database  string                  `yaml:"database"`
	Service   *AgentMarshall          `yaml:"service"`
	Pid       *PidConfigMarshall      `yaml:"pid"`
	Kafka     *KafkaConfigMarshall    `yaml:"kafka"`
	Platform  *PlatformConfigMarshall `yaml:"platform"`
	Logging   *LoggingConfigMarshall  `yaml:"logging,omitempty"`
	Metrics   *MetricsConfigMarshall  `yaml:"metrics,omitempty"`
}

var _ Marshalled[*Config] = &ConfigMarshall{}

func (c *ConfigMarshall) trySeal(path string) *Config {
	logs := c.Logging
	if logs == nil {
		logs = &LoggingConfigMarshall{}
	}
	metrics := c.Metrics
	if metrics == nil {
		metrics = &MetricsConfigMarshall{}
	}
	namespace := required(c.Namespace, path+".namespace")
	return &Config{
		namespace: namespace,
		database:  required(c.Database, path+".database"),
		service:   nonnil(c.Service, path+".service").trySeal(path + ".service"),
		pid:       nonnil(c.Pid, path+".pid").trySeal(path + ".pid"),
		kafka:     nonnil(c.Kafka, path+".kafka").trySeal(path + ".kafka"),
		platform:  nonnil(c.Platform, path+".platform").sealWith(namespace, path+".platform"),
		logging:   logs.trySeal(path + ".logging"),
		metrics:   metrics.trySeal(path + ".metrics"),
	}
}

type AgentMarshall struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

func (a *AgentMarshall) trySeal(path string) domain.Agent {
	return domain.Agent{
		ID:   required(a.ID, path+".id"),
		Name: a.Name,
		Type: domain.Software,
	}
}

type RetryConfigMarshall struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Delay       time.Duration `yaml:"delay"`
}

func (r *RetryConfigMarshall) trySeal(path string) RetryConfig {
	if r == nil {
		return RetryConfig{maxAttempts: 3, delay: time.Second}
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	if maxAttempts < 0 || r.Delay < 0 {
		panic(fmt.Sprintf("%s should not be negative", path))
	}
	return RetryConfig{maxAttempts: maxAttempts, delay: r.Delay}
}

type PidConfigMarshall struct {
	Endpoint     string               `yaml:"endpoint"`
	TokenURL     string               `yaml:"tokenUrl,omitempty"`
	ClientID     string               `yaml:"clientId,omitempty"`
	ClientSecret string               `yaml:"clientSecret,omitempty"`
	Scopes       []string             `yaml:"scopes,omitempty"`
	Retry        *RetryConfigMarshall `yaml:"retry,omitempty"`
}

func (p *PidConfigMarshall) trySeal(path string) *PidConfig {
	conf := &PidConfig{
		endpoint: absURL(required(p.Endpoint, path+".endpoint"), path+".endpoint"),
		retry:    p.Retry.trySeal(path + ".retry"),
	}
	if p.TokenURL != "" {
		conf.auth = &ClientCredentials{
			tokenURL:     absURL(p.TokenURL, path+".tokenUrl"),
			clientID:     required(p.ClientID, path+".clientId"),
			clientSecret: required(p.ClientSecret, path+".clientSecret"),
			scopes:       p.Scopes,
		}
	}
	return conf
}

type KafkaConfigMarshall struct {
	Brokers       []string `yaml:"brokers"`
	Exchange      string   `yaml:"exchange"`
	RoutingPrefix string   `yaml:"routingPrefix,omitempty"`
}

func (k *KafkaConfigMarshall) trySeal(path string) *KafkaConfig {
	if len(k.Brokers) == 0 {
		panic(path + ".brokers is required")
	}
	return &KafkaConfig{
		brokers:       k.Brokers,
		exchange:      required(k.Exchange, path+".exchange"),
		routingPrefix: k.RoutingPrefix,
	}
}

type ResourcesMarshall struct {
	CPURequest    string `yaml:"cpuRequest,omitempty"`
	MemoryRequest string `yaml:"memoryRequest,omitempty"`
	CPULimit      string `yaml:"cpuLimit,omitempty"`
	MemoryLimit   string `yaml:"memoryLimit,omitempty"`
}

func (r *ResourcesMarshall) trySeal(path string) render.Resources {
	if r == nil {
		return render.Resources{}
	}
	for name, q := range map[string]string{
		"cpuRequest": r.CPURequest, "memoryRequest": r.MemoryRequest,
		"cpuLimit": r.CPULimit, "memoryLimit": r.MemoryLimit,
	} {
		if q == "" {
			continue
		}
		if _, err := resource.ParseQuantity(q); err != nil {
			panic(fmt.Errorf("%s.%s can not be parsed: %w", path, name, err))
		}
	}
	return render.Resources{
		CPURequest: r.CPURequest, MemoryRequest: r.MemoryRequest,
		CPULimit: r.CPULimit, MemoryLimit: r.MemoryLimit,
	}
}

type ConnectorConfigMarshall struct {
	Images          map[string]string  `yaml:"images"`
	DefaultSchedule string             `yaml:"defaultSchedule"`
	Topic           string             `yaml:"topic"`
	JobTTLSeconds   int32              `yaml:"jobTtlSeconds,omitempty"`
	Resources       *ResourcesMarshall `yaml:"resources,omitempty"`
}

func (c *ConnectorConfigMarshall) trySeal(path string) render.ConnectorConfig {
	images := map[domain.TranslatorKind]string{}
	for k, image := range c.Images {
		switch tk := domain.TranslatorKind(k); tk {
		case domain.BioCASe, domain.DwCA:
			images[tk] = required(image, path+".images."+k)
		default:
			panic(fmt.Sprintf("%s.images: unknown translator %q", path, k))
		}
	}
	if len(images) == 0 {
		panic(path + ".images is required")
	}
	return render.ConnectorConfig{
		Images:          images,
		DefaultSchedule: required(c.DefaultSchedule, path+".defaultSchedule"),
		Topic:           required(c.Topic, path+".topic"),
		JobTTLSeconds:   c.JobTTLSeconds,
		Resources:       c.Resources.trySeal(path + ".resources"),
	}
}

type AnnotationServiceConfigMarshall struct {
	LagThreshold int                `yaml:"lagThreshold,omitempty"`
	ResultTopic  string             `yaml:"resultTopic"`
	Resources    *ResourcesMarshall `yaml:"resources,omitempty"`
}

func (a *AnnotationServiceConfigMarshall) trySeal(path string) render.AnnotationServiceConfig {
	if a.LagThreshold < 0 {
		panic(path + ".lagThreshold should not be negative")
	}
	return render.AnnotationServiceConfig{
		LagThreshold: a.LagThreshold,
		ResultTopic:  required(a.ResultTopic, path+".resultTopic"),
		Resources:    a.Resources.trySeal(path + ".resources"),
	}
}

type PlatformConfigMarshall struct {
	Kubeconfig        string                           `yaml:"kubeconfig,omitempty"`
	KafkaBootstrap    string                           `yaml:"kafkaBootstrap"`
	Retry             *RetryConfigMarshall             `yaml:"retry,omitempty"`
	Connector         *ConnectorConfigMarshall         `yaml:"connector"`
	AnnotationService *AnnotationServiceConfigMarshall `yaml:"annotationService"`
}

func (p *PlatformConfigMarshall) sealWith(namespace string, path string) *PlatformConfig {
	return &PlatformConfig{
		kubeconfig: p.Kubeconfig,
		retry:      p.Retry.trySeal(path + ".retry"),
		render: render.Config{
			Namespace:         namespace,
			KafkaBootstrap:    required(p.KafkaBootstrap, path+".kafkaBootstrap"),
			Connector:         nonnil(p.Connector, path+".connector").trySeal(path + ".connector"),
			AnnotationService: nonnil(p.AnnotationService, path+".annotationService").trySeal(path + ".annotationService"),
		},
	}
}

type LoggingConfigMarshall struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

func (l *LoggingConfigMarshall) trySeal(path string) logging.Config {
	switch f := logging.Format(l.Format); f {
	case "", logging.JSON, logging.Console:
		return logging.Config{Level: l.Level, Format: f}
	default:
		panic(fmt.Sprintf("%s.format: unknown format %q", path, l.Format))
	}
}

type MetricsConfigMarshall struct {
	Address string `yaml:"address,omitempty"`
}

func (m *MetricsConfigMarshall) trySeal(string) *MetricsConfig {
	addr := m.Address
	if addr == "" {
		addr = ":9090"
	}
	return &MetricsConfig{address: addr}
}

func absURL(u string, path string) *url.URL {
	parsed, err := url.Parse(u)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	if !parsed.IsAbs() || parsed.Hostname() == "" {
		panic(fmt.Sprintf("%s should be an absolute url: %s", path, u))
	}
	return parsed
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}
