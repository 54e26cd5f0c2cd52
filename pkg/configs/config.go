// Package configs loads the configuration of the orchestrator.
//
// Configurations are read into mutable `XxxMarshall` types, and then sealed
// into immutable `Xxx` types which are passed around.
package configs

import (
	"net/url"
	"time"

	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/deployment/render"
	"github.com/opst/orchestration/pkg/logging"
)

// Config of the orchestrator.
//
// to get `Config` instance, use `LoadConfig` or `TrySeal(*ConfigMarshall)`.
type Config struct {
	namespace string
	database  string
	service   domain.Agent
	pid       *PidConfig
	kafka     *KafkaConfig
	platform  *PlatformConfig
	logging   logging.Config
	metrics   *MetricsConfig
}

// k8s namespace where platform objects are deployed.
func (c *Config) Namespace() string {
	return c.namespace
}

// Connection string for database.
func (c *Config) Database() string {
	return c.database
}

// Service is the agent the orchestrator acts as.
func (c *Config) Service() domain.Agent {
	return c.service
}

func (c *Config) Pid() *PidConfig {
	return c.pid
}

func (c *Config) Kafka() *KafkaConfig {
	return c.kafka
}

func (c *Config) Platform() *PlatformConfig {
	return c.platform
}

func (c *Config) Logging() logging.Config {
	return c.logging
}

func (c *Config) Metrics() *MetricsConfig {
	return c.metrics
}

type RetryConfig struct {
	maxAttempts int
	delay       time.Duration
}

// MaxAttempts, including the first one. default = 3
func (r RetryConfig) MaxAttempts() int {
	return r.maxAttempts
}

// Delay between attempts. 0 retries immediately.
func (r RetryConfig) Delay() time.Duration {
	return r.delay
}

// Configuration of the PID registry.
type PidConfig struct {
	endpoint *url.URL
	auth     *ClientCredentials
	retry    RetryConfig
}

func (p *PidConfig) Endpoint() *url.URL {
	return p.endpoint
}

// Auth is nil when the registry is accessed without authentication.
func (p *PidConfig) Auth() *ClientCredentials {
	return p.auth
}

func (p *PidConfig) Retry() RetryConfig {
	return p.retry
}

// OAuth2 client credentials grant.
type ClientCredentials struct {
	tokenURL     *url.URL
	clientID     string
	clientSecret string
	scopes       []string
}

func (c *ClientCredentials) TokenURL() *url.URL {
	return c.tokenURL
}

func (c *ClientCredentials) ClientID() string {
	return c.clientID
}

func (c *ClientCredentials) ClientSecret() string {
	return c.clientSecret
}

func (c *ClientCredentials) Scopes() []string {
	return c.scopes
}

// Configuration of the event bus.
type KafkaConfig struct {
	brokers       []string
	exchange      string
	routingPrefix string
}

func (k *KafkaConfig) Brokers() []string {
	return k.brokers
}

// Exchange is the topic every provenance event is sent to.
func (k *KafkaConfig) Exchange() string {
	return k.exchange
}

func (k *KafkaConfig) RoutingPrefix() string {
	return k.routingPrefix
}

// Configuration of the container platform.
type PlatformConfig struct {
	kubeconfig string
	retry      RetryConfig
	render     render.Config
}

// Kubeconfig is a path to kubeconfig. Empty means discovery.
func (p *PlatformConfig) Kubeconfig() string {
	return p.kubeconfig
}

func (p *PlatformConfig) Retry() RetryConfig {
	return p.retry
}

// Render is the configuration of platform object rendering.
func (p *PlatformConfig) Render() render.Config {
	return p.render
}

type MetricsConfig struct {
	address string
}

// Address to listen for metrics scrapes. default = ":9090"
func (m *MetricsConfig) Address() string {
	return m.address
}
