package orchestration

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/opst/orchestration/pkg/configs"
	kpool "github.com/opst/orchestration/pkg/conn/db/postgres/pool"
	kconn "github.com/opst/orchestration/pkg/conn/k8s"
	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/deployment"
	dk8s "github.com/opst/orchestration/pkg/domain/deployment/k8s"
	"github.com/opst/orchestration/pkg/domain/deployment/render"
	"github.com/opst/orchestration/pkg/domain/lifecycle"
	"github.com/opst/orchestration/pkg/domain/pid"
	"github.com/opst/orchestration/pkg/domain/pid/handle"
	"github.com/opst/orchestration/pkg/domain/provenance"
	pkafka "github.com/opst/orchestration/pkg/domain/provenance/kafka"
	kdb "github.com/opst/orchestration/pkg/domain/record/db"
	kpg "github.com/opst/orchestration/pkg/domain/record/db/postgres"
	"github.com/opst/orchestration/pkg/logging"
	"github.com/opst/orchestration/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Middlewares are the systems orchestrations are spread over.
type Middlewares struct {
	PIDs      pid.Client
	Store     kdb.Interface
	Platform  deployment.Manager
	Publisher provenance.Publisher
}

type Cluster interface {
	Config() *configs.Config
	Metrics() *metrics.Metrics

	// Orchestrator returns the orchestrator of the kind.
	Orchestrator(kind domain.Kind) (*lifecycle.Orchestrator, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	// Close releases connections. Orchestrators are unusable after Close.
	Close()
}

type cluster struct { // implements Cluster
	config        *configs.Config
	metrics       *metrics.Metrics
	orchestrators map[domain.Kind]*lifecycle.Orchestrator
	ping          func(context.Context) error
	closers       []func()
}

var _ Cluster = &cluster{}

// Assemble builds orchestrators of every kind over middlewares.
func Assemble(config *configs.Config, mw Middlewares, logger zerolog.Logger) Cluster {
	m := metrics.New()
	v := lifecycle.NewValidator()
	renderer := render.New(config.Platform().Render())
	deps := lifecycle.Dependencies{
		PIDs:      mw.PIDs,
		Store:     mw.Store,
		Platform:  mw.Platform,
		Publisher: mw.Publisher,
		Events:    provenance.NewBuilder(config.Service()),
	}

	c := &cluster{
		config:        config,
		metrics:       m,
		orchestrators: map[domain.Kind]*lifecycle.Orchestrator{},
		ping:          func(context.Context) error { return nil },
	}
	for _, h := range []lifecycle.KindHandler{
		lifecycle.Mapping(v),
		lifecycle.Connector(v, mw.Store, renderer),
		lifecycle.AnnotationService(v, renderer),
	} {
		c.orchestrators[h.Kind()] = lifecycle.New(
			h, deps,
			lifecycle.WithLogger(logging.Component(logger, "lifecycle")),
			lifecycle.WithMetrics(m),
		)
	}
	return c
}

// Attach connects to the systems named in config and assembles orchestrators over them.
func Attach(ctx context.Context, config *configs.Config, logger zerolog.Logger) (Cluster, error) {
	pool, err := kpool.Connect(ctx, config.Database())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	clients, err := kconn.Connect(config.Platform().Kubeconfig())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("kubernetes: %w", err)
	}

	pidConf := config.Pid()
	pids, err := handle.New(
		pidConf.Endpoint().String(), config.Service(),
		handle.WithHTTPClient(PidHTTPClient(ctx, pidConf)),
		handle.WithRetry(pidConf.Retry().MaxAttempts(), pidConf.Retry().Delay()),
		handle.WithLogger(logging.Component(logger, "pid")),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	platformConf := config.Platform()
	platform := dk8s.New(
		dk8s.WrapK8sClient(clients.Typed, clients.Dynamic), config.Namespace(),
		dk8s.WithRetry(platformConf.Retry().MaxAttempts(), platformConf.Retry().Delay()),
		dk8s.WithLogger(logging.Component(logger, "platform")),
	)

	kafkaConf := config.Kafka()
	writer := pkafka.NewWriter(kafkaConf.Brokers())
	publisher := pkafka.New(
		writer, kafkaConf.Exchange(), kafkaConf.RoutingPrefix(),
		pkafka.WithLogger(logging.Component(logger, "publisher")),
	)

	c := Assemble(config, Middlewares{
		PIDs:      pids,
		Store:     kpg.New(pool),
		Platform:  platform,
		Publisher: publisher,
	}, logger).(*cluster)
	c.ping = pool.Ping
	c.closers = append(c.closers,
		func() {
			if err := writer.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing kafka writer")
			}
		},
		pool.Close,
	)
	return c, nil
}

// PidHTTPClient returns a http client for the PID registry.
//
// When client credentials are configured, requests carry a bearer token
// obtained (and refreshed) with them.
func PidHTTPClient(ctx context.Context, conf *configs.PidConfig) *http.Client {
	base := &http.Client{Timeout: 30 * time.Second}
	auth := conf.Auth()
	if auth == nil {
		return base
	}
	cc := clientcredentials.Config{
		ClientID:     auth.ClientID(),
		ClientSecret: auth.ClientSecret(),
		TokenURL:     auth.TokenURL().String(),
		Scopes:       auth.Scopes(),
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = base.Timeout
	return client
}

func (c *cluster) Config() *configs.Config {
	return c.config
}

func (c *cluster) Metrics() *metrics.Metrics {
	return c.metrics
}

func (c *cluster) Orchestrator(kind domain.Kind) (*lifecycle.Orchestrator, error) {
	o, ok := c.orchestrators[kind]
	if !ok {
		return nil, fmt.Errorf("unknown resource kind: %q", kind)
	}
	return o, nil
}

func (c *cluster) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

func (c *cluster) Close() {
	for _, f := range c.closers {
		f()
	}
}
