package orchestration_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	orchestration "github.com/opst/orchestration/pkg"
	"github.com/opst/orchestration/pkg/configs"
	"github.com/opst/orchestration/pkg/domain"
	deploymock "github.com/opst/orchestration/pkg/domain/deployment/mock"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/pid/handle"
	pidmock "github.com/opst/orchestration/pkg/domain/pid/mock"
	pubmock "github.com/opst/orchestration/pkg/domain/provenance/mock"
	dbmock "github.com/opst/orchestration/pkg/domain/record/db/mock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

const config = `
namespace: orchestration
database: postgres://db/orchestration
service: {id: "https://hdl.handle.net/TEST/orchestration", name: orchestration}
pid: {endpoint: "https://pid.example.org"}
kafka: {brokers: [kafka:9092], exchange: provenance}
platform:
  kafkaBootstrap: kafka:9092
  connector:
    images: {dwca: "dwca:1.0"}
    defaultSchedule: "0 0 * * *"
    topic: digital-specimen
  annotationService: {resultTopic: annotation}
`

func TestAssemble(t *testing.T) {
	conf, err := configs.Unmarshal([]byte(config))
	if err != nil {
		t.Fatal(err)
	}
	pids := pidmock.New(t)
	pids.Impl.Issue = func(context.Context, domain.Kind, map[string]any) (string, error) {
		return "20.5000.1025/MAP-001", nil
	}
	testee := orchestration.Assemble(conf, orchestration.Middlewares{
		PIDs:      pids,
		Store:     dbmock.New(),
		Platform:  deploymock.New(t),
		Publisher: pubmock.New(t),
	}, zerolog.Nop())
	defer testee.Close()

	for _, kind := range []domain.Kind{domain.Mapping, domain.Connector, domain.AnnotationService} {
		o, err := testee.Orchestrator(kind)
		if err != nil {
			t.Fatal(err)
		}
		if o.Kind() != kind {
			t.Errorf("orchestrator for %s handles %s", kind, o.Kind())
		}
	}
	if _, err := testee.Orchestrator("specimen"); err == nil {
		t.Error("an orchestrator for an unknown kind")
	}

	t.Run("orchestrations are counted", func(t *testing.T) {
		o, err := testee.Orchestrator(domain.Mapping)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := o.Create(
			context.Background(),
			&domain.MappingAttributes{Name: "m", SourceDataStandard: "dwc"},
			domain.Agent{ID: "alice", Type: domain.Person},
		); err != nil {
			t.Fatal(err)
		}
		n, err := testutil.GatherAndCount(testee.Metrics().Registry(), "orchestration_saga_runs_total")
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("unexpected series: %d", n)
		}
	})

	if err := testee.Ping(context.Background()); err != nil {
		t.Errorf("ping without a store connection: %v", err)
	}
}

func TestPidHTTPClient(t *testing.T) {
	t.Run("requests carry a token granted for the client credentials", func(t *testing.T) {
		tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Error(err)
			}
			id, secret, _ := r.BasicAuth()
			if r.Form.Get("grant_type") != "client_credentials" || id != "orchestration" || secret != "s3cr3t" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "granted-token", "token_type": "Bearer", "expires_in": 3600,
			})
		}))
		defer tokens.Close()

		var authorization string
		registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}))
		defer registry.Close()

		conf, err := configs.Unmarshal([]byte(strings.Replace(config,
			`pid: {endpoint: "https://pid.example.org"}`,
			`pid: {endpoint: "`+registry.URL+`", tokenUrl: "`+tokens.URL+`", clientId: orchestration, clientSecret: s3cr3t}`,
			1,
		)))
		if err != nil {
			t.Fatal(err)
		}
		client := orchestration.PidHTTPClient(context.Background(), conf.Pid())

		resp, err := client.Get(registry.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if authorization != "Bearer granted-token" {
			t.Errorf("unexpected authorization: %q", authorization)
		}
	})

	t.Run("rejected credentials fail the registry call as unauthenticated", func(t *testing.T) {
		tokenCalls := 0
		tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenCalls += 1
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "invalid_client"}`))
		}))
		defer tokens.Close()

		registryCalls := 0
		registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			registryCalls += 1
		}))
		defer registry.Close()

		conf, err := configs.Unmarshal([]byte(strings.Replace(config,
			`pid: {endpoint: "https://pid.example.org"}`,
			`pid: {endpoint: "`+registry.URL+`", tokenUrl: "`+tokens.URL+`", clientId: orchestration, clientSecret: wrong}`,
			1,
		)))
		if err != nil {
			t.Fatal(err)
		}
		pids, err := handle.New(
			conf.Pid().Endpoint().String(), conf.Service(),
			handle.WithHTTPClient(orchestration.PidHTTPClient(context.Background(), conf.Pid())),
			handle.WithRetry(3, 0),
		)
		if err != nil {
			t.Fatal(err)
		}

		_, err = pids.Issue(context.Background(), domain.Mapping, map[string]any{"name": "m"})
		if !errors.Is(err, xerr.ErrPidAuthentication) {
			t.Errorf("unexpected error: %v", err)
		}
		if registryCalls != 0 {
			t.Errorf("registry is called: %d", registryCalls)
		}
		// one attempt. the token endpoint may be asked in both client authentication styles.
		if tokenCalls == 0 || 2 < tokenCalls {
			t.Errorf("token endpoint calls: %d", tokenCalls)
		}
	})

	t.Run("without credentials, requests are anonymous", func(t *testing.T) {
		var authorization string
		registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization = r.Header.Get("Authorization")
		}))
		defer registry.Close()

		conf, err := configs.Unmarshal([]byte(config))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := orchestration.PidHTTPClient(context.Background(), conf.Pid()).Get(registry.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if authorization != "" {
			t.Errorf("unexpected authorization: %q", authorization)
		}
	})
}
