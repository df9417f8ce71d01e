// Package api exposes the account-scoped HTTP surface: playbooks, workflow
// inspection, executions, inquiries, and schedules, all rooted under
// /v1/{account_id}.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"responder/config"
	"responder/core"
	"responder/engine"
	"responder/workflow"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PlaybookStorer interface for playbook persistence
type PlaybookStorer interface {
	Create(ctx context.Context, playbook *core.Playbook) error
	Get(ctx context.Context, accountID, ref string) (*core.Playbook, error)
	List(ctx context.Context, accountID string, limit, offset int) ([]*core.Playbook, int64, error)
	Update(ctx context.Context, playbook *core.Playbook) error
	Delete(ctx context.Context, accountID, ref string) error
}

// ExecutionService interface for the execution engine
type ExecutionService interface {
	Create(ctx context.Context, accountID string, req engine.CreateRequest) (*core.Execution, error)
	Get(ctx context.Context, accountID, id string) (*core.Execution, error)
	List(ctx context.Context, accountID string, filter *core.ExecutionFilter) ([]*core.Execution, int64, error)
	Results(ctx context.Context, accountID, id string) ([]*core.ExecutionResult, error)
	Pause(ctx context.Context, accountID, id string) error
	Resume(ctx context.Context, accountID, id string) error
	Cancel(ctx context.Context, accountID, id string) error
	ReRun(ctx context.Context, accountID, id string, delay time.Duration) (*core.Execution, error)
	CountActiveByPlaybook(ctx context.Context, accountID, playbookID string) (int64, error)
}

// InquiryService interface for the inquiry manager
type InquiryService interface {
	Get(ctx context.Context, accountID, id string) (*core.Inquiry, error)
	List(ctx context.Context, accountID string, filter *core.InquiryFilter) ([]*core.Inquiry, int64, error)
	Answer(ctx context.Context, accountID, id string, response json.RawMessage, answeredBy string) (*core.Inquiry, error)
}

// ScheduleService interface for the schedule trigger engine
type ScheduleService interface {
	Create(ctx context.Context, schedule *core.Schedule) (*core.Schedule, error)
	Get(ctx context.Context, accountID, id string) (*core.Schedule, error)
	List(ctx context.Context, accountID string, limit, offset int) ([]*core.Schedule, int64, error)
	Update(ctx context.Context, schedule *core.Schedule) (*core.Schedule, error)
	Delete(ctx context.Context, accountID, id string) error
}

// API holds the HTTP server and its service dependencies.
type API struct {
	router         *mux.Router
	server         *http.Server
	playbooks      PlaybookStorer
	executions     ExecutionService
	inquiries      InquiryService
	schedules      ScheduleService
	inspector      *workflow.Inspector
	catalog        *workflow.Catalog
	config         *config.Config
	logger         *zap.SugaredLogger
	validate       *validator.Validate
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates the API server and registers its routes.
func NewAPI(
	playbooks PlaybookStorer,
	executions ExecutionService,
	inquiries InquiryService,
	schedules ScheduleService,
	inspector *workflow.Inspector,
	catalog *workflow.Catalog,
	config *config.Config,
	logger *zap.SugaredLogger,
) *API {
	api := &API{
		router:       mux.NewRouter(),
		playbooks:    playbooks,
		executions:   executions,
		inquiries:    inquiries,
		schedules:    schedules,
		inspector:    inspector,
		catalog:      catalog,
		config:       config,
		logger:       logger,
		validate:     validator.New(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.metricsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/health", a.getHealth).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := a.router.PathPrefix("/v1/{account_id}").Subrouter()
	if a.config.Auth.Enabled {
		v1.Use(a.authMiddleware)
	}

	v1.HandleFunc("/playbooks", a.createPlaybook).Methods("POST")
	v1.HandleFunc("/playbooks", a.listPlaybooks).Methods("GET")
	v1.HandleFunc("/playbooks/{id}", a.getPlaybook).Methods("GET")
	v1.HandleFunc("/playbooks/{id}", a.updatePlaybook).Methods("PUT")
	v1.HandleFunc("/playbooks/{id}", a.deletePlaybook).Methods("DELETE")

	v1.HandleFunc("/workflow/inspect", a.inspectWorkflow).Methods("POST")
	v1.HandleFunc("/actions", a.listActions).Methods("GET")
	v1.HandleFunc("/actions/{action_type}", a.getAction).Methods("GET")
	v1.HandleFunc("/schemas", a.listSchemas).Methods("GET")
	v1.HandleFunc("/schemas/{data_type}", a.getSchema).Methods("GET")

	v1.HandleFunc("/executions", a.createExecution).Methods("POST")
	v1.HandleFunc("/executions", a.listExecutions).Methods("GET")
	v1.HandleFunc("/executions/history", a.queryExecutions).Methods("POST")
	v1.HandleFunc("/executions/{id}", a.getExecution).Methods("GET")
	v1.HandleFunc("/executions/{id}", a.cancelExecution).Methods("DELETE")
	v1.HandleFunc("/executions/{id}/results", a.getExecutionResults).Methods("GET")
	v1.HandleFunc("/executions/{id}/pause", a.pauseExecution).Methods("POST")
	v1.HandleFunc("/executions/{id}/resume", a.resumeExecution).Methods("POST")
	v1.HandleFunc("/executions/{id}/re_run", a.reRunExecution).Methods("POST")

	v1.HandleFunc("/inquiries", a.listInquiries).Methods("GET")
	v1.HandleFunc("/inquiries/history", a.queryInquiries).Methods("POST")
	v1.HandleFunc("/inquiries/{id}", a.getInquiry).Methods("GET")
	v1.HandleFunc("/inquiries/{id}", a.answerInquiry).Methods("PUT")

	v1.HandleFunc("/schedules", a.createSchedule).Methods("POST")
	v1.HandleFunc("/schedules", a.listSchedules).Methods("GET")
	v1.HandleFunc("/schedules/{id}", a.getSchedule).Methods("GET")
	v1.HandleFunc("/schedules/{id}", a.updateSchedule).Methods("PUT")
	v1.HandleFunc("/schedules/{id}", a.deleteSchedule).Methods("DELETE")
}

// Start starts the API server
func (a *API) Start(port string) error {
	a.server = &http.Server{
		Addr:    port,
		Handler: a.router,
	}
	return a.server.ListenAndServe()
}

// StartTLS starts the API server with TLS
func (a *API) StartTLS(port, certFile, keyFile string) error {
	a.server = &http.Server{
		Addr:    port,
		Handler: a.router,
	}
	return a.server.ListenAndServeTLS(certFile, keyFile)
}

// Stop gracefully stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// getHealth reports service liveness.
func (a *API) getHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, a.logger)
}
