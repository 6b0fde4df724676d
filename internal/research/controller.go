package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/blob"
	"github.com/prismlab/prism/internal/budget"
	"github.com/prismlab/prism/internal/telemetry"
	"github.com/prismlab/prism/provider"
	"github.com/prismlab/prism/tools/gateway"
)

// MetadataStore is the durable record of sessions, report versions and
// artifacts the controller writes as it goes.
type MetadataStore interface {
	CreateSession(ctx context.Context, sess Session) error
	UpdateSessionStatus(ctx context.Context, rec StatusRecord) error
	AppendReportVersion(ctx context.Context, sessionID string, report json.RawMessage) (string, error)
	RecordArtifact(ctx context.Context, sessionID, version, format, locator string, size int64) error
}

// StatusSink receives the externally polled status snapshot after every
// stage transition.
type StatusSink interface {
	Put(ctx context.Context, rec StatusRecord) error
}

// SessionRequest is the controller's intake. Depth and Formats fall back to
// configured defaults when empty.
type SessionRequest struct {
	Topic      string           `json:"topic"`
	Context    string           `json:"context,omitempty"`
	Type       ResearchType     `json:"research_type,omitempty"`
	Depth      string           `json:"depth,omitempty"`
	References []ReferenceInput `json:"references,omitempty"`
	Formats    []string         `json:"formats,omitempty"`
}

// Controller owns the session lifecycle. It is the only writer of session
// state; collaborators receive data, return data, and know nothing about
// sessions. One goroutine per running session, tool calls serialized behind
// the shared gateway.
type Controller struct {
	cfg      config.ResearchConfig
	provider provider.Provider
	routing  config.LLMRoutingConfig
	gateway  *gateway.Gateway
	preproc  *Preprocessor
	blobs    blob.Store
	meta     MetadataStore
	statuses StatusSink
	metrics  *telemetry.Metrics
	logger   *log.Logger

	mu   sync.Mutex
	runs map[string]*runFlag
}

type runFlag struct {
	mu        sync.Mutex
	cancelled bool
}

func (f *runFlag) cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}

func (f *runFlag) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func NewController(
	cfg config.ResearchConfig,
	p provider.Provider,
	routing config.LLMRoutingConfig,
	gw *gateway.Gateway,
	preproc *Preprocessor,
	blobs blob.Store,
	meta MetadataStore,
	statuses StatusSink,
	metrics *telemetry.Metrics,
) *Controller {
	return &Controller{
		cfg:      cfg,
		provider: p,
		routing:  routing,
		gateway:  gw,
		preproc:  preproc,
		blobs:    blobs,
		meta:     meta,
		statuses: statuses,
		metrics:  metrics,
		logger:   log.New(log.Writer(), "[CTRL] ", log.LstdFlags),
		runs:     make(map[string]*runFlag),
	}
}

// runJob is the working state of one session, private to its goroutine.
type runJob struct {
	session   *Session
	refInputs []ReferenceInput
	refs      []ReferenceDocument
	dims      []Dimension
	aspects   []Aspect
	report    Report
	formats   []string
	monitor   *budget.Monitor
	llm       *llmClient
	flag      *runFlag
	artifacts map[string]string
}

// stage is one row of the pipeline table. parallel marks stages that fan out
// over dimensions internally; barrier marks stages that must see the complete
// output of everything before them.
type stage struct {
	name     string
	weight   float64
	parallel bool
	barrier  bool
	run      func(ctx context.Context, job *runJob) error
}

func (c *Controller) stages() []stage {
	return []stage{
		{"preprocess", 5, false, false, c.stagePreprocess},
		{"decompose", 10, false, false, c.stageDecompose},
		{"plan", 10, true, false, c.stagePlan},
		{"refine", 10, false, true, c.stageRefine},
		{"research", 40, false, false, c.stageResearch},
		{"synthesize", 10, true, false, c.stageSynthesize},
		{"compose", 5, false, true, c.stageCompose},
		{"charts", 5, false, false, c.stageCharts},
		{"convert", 5, false, false, c.stageConvert},
	}
}

// Launch validates the request, persists the pending session and starts the
// pipeline in the background. It returns as soon as the session exists.
func (c *Controller) Launch(req SessionRequest) (*Session, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("topic required")
	}
	depthSpec := req.Depth
	if depthSpec == "" {
		depthSpec = c.cfg.DefaultDepth
	}
	depth, err := ParseDepthProfile(depthSpec)
	if err != nil {
		return nil, err
	}
	researchType := req.Type
	if researchType == "" {
		researchType = TypeBasicWeb
	}
	formats := req.Formats
	if len(formats) == 0 {
		formats = []string{FormatMarkdown}
	}

	now := time.Now()
	session := &Session{
		ID:        uuid.New().String(),
		Topic:     topic,
		Context:   strings.TrimSpace(req.Context),
		Type:      researchType,
		Depth:     depth,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.meta.CreateSession(context.Background(), *session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	flag := &runFlag{}
	c.mu.Lock()
	c.runs[session.ID] = flag
	c.mu.Unlock()

	monitor := budget.NewMonitor(budget.Config{
		MaxCostUSD:     optFloat(c.cfg.MaxCostUSD),
		MaxTokens:      optInt64(c.cfg.MaxTokens),
		MaxTimeSeconds: optInt64(int64(c.cfg.SessionTimeout.Seconds())),
	})
	job := &runJob{
		session: session,
		formats: formats,
		monitor: monitor,
		llm:     newLLMClient(c.provider, c.routing, monitor, c.metrics),
		flag:    flag,
	}

	c.persist(context.Background(), job)
	go c.run(job, req.References)

	return session, nil
}

// Cancel requests cooperative cancellation. It reports whether the session
// was running and is now winding down.
func (c *Controller) Cancel(ctx context.Context, sessionID string) bool {
	c.mu.Lock()
	flag, ok := c.runs[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	flag.cancel()
	c.logger.Printf("session %s: cancellation requested", sessionID)
	return true
}

func (c *Controller) run(job *runJob, refs []ReferenceInput) {
	ctx := context.Background()
	session := job.session
	defer func() {
		c.mu.Lock()
		delete(c.runs, session.ID)
		c.mu.Unlock()
	}()

	session.Status = StatusProcessing
	c.persist(ctx, job)
	c.logger.Printf("session %s: started (%s, depth %s)", session.ID, session.Type, session.Depth)

	job.refInputs = refs

	stages := c.stages()
	total := 0.0
	for _, st := range stages {
		total += st.weight
	}

	done := 0.0
	for _, st := range stages {
		if job.flag.isCancelled() {
			c.finalizeCancelled(ctx, job)
			return
		}
		if err := job.monitor.CheckTime(); err != nil {
			c.finalizeFailed(ctx, job, err)
			return
		}
		session.Stage = st.name
		c.persist(ctx, job)

		stageCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.StageTimeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, c.cfg.StageTimeout)
		}
		start := time.Now()
		err := st.run(stageCtx, job)
		if cancel != nil {
			cancel()
		}
		if c.metrics != nil {
			c.metrics.StageDuration.WithLabelValues(st.name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			c.finalizeFailed(ctx, job, ErrStageFailed{Stage: st.name, Err: err})
			return
		}

		done += st.weight
		session.Progress = done / total
		c.persist(ctx, job)
	}

	if job.flag.isCancelled() {
		c.finalizeCancelled(ctx, job)
		return
	}

	now := time.Now()
	session.Status = StatusCompleted
	session.Stage = ""
	session.Progress = 1
	session.CompletedAt = &now
	session.Artifacts = job.artifacts
	c.persist(ctx, job)
	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	}
	c.logger.Printf("session %s: completed, report %s, %d artifacts", session.ID, session.Version, len(job.artifacts))
}

func (c *Controller) stagePreprocess(ctx context.Context, job *runJob) error {
	job.refs = c.preproc.Run(ctx, job.refInputs)
	return nil
}

func (c *Controller) stageDecompose(ctx context.Context, job *runJob) error {
	dims, err := NewDecomposer(job.llm).Run(ctx, job.session, job.refs)
	if err != nil {
		return err
	}
	job.dims = dims
	return nil
}

func (c *Controller) stagePlan(ctx context.Context, job *runJob) error {
	aspects, err := NewPlanner(job.llm).Run(ctx, job.session, job.dims, job.refs)
	if err != nil {
		return err
	}
	job.aspects = aspects
	return nil
}

func (c *Controller) stageRefine(ctx context.Context, job *runJob) error {
	aspects, err := NewRefiner(job.llm, c.cfg.CoverageFloor).Run(ctx, job.aspects, job.refs)
	if err != nil {
		return err
	}
	job.aspects = aspects
	return nil
}

func (c *Controller) stageResearch(ctx context.Context, job *runJob) error {
	aspects, err := NewResearcher(job.llm, c.gateway, c.cfg).Run(ctx, job.session, job.aspects, job.flag.isCancelled)
	if err != nil {
		return err
	}
	job.aspects = aspects
	return nil
}

func (c *Controller) stageSynthesize(ctx context.Context, job *runJob) error {
	if job.flag.isCancelled() {
		return nil
	}
	dims, err := NewSynthesizer(job.llm).Run(ctx, job.session, job.dims, job.aspects)
	if err != nil {
		return err
	}
	job.dims = dims
	return nil
}

func (c *Controller) stageCompose(ctx context.Context, job *runJob) error {
	if job.flag.isCancelled() {
		return nil
	}
	report, err := NewComposer(job.llm).Run(ctx, job.session, job.dims, "")
	if err != nil {
		return err
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	version, err := c.meta.AppendReportVersion(ctx, job.session.ID, data)
	if err != nil {
		return fmt.Errorf("recording report version: %w", err)
	}
	report.Version = version
	job.session.Version = version
	job.report = report
	return nil
}

func (c *Controller) stageCharts(ctx context.Context, job *runJob) error {
	if job.flag.isCancelled() {
		return nil
	}
	job.report = NewCharter(c.blobs).Run(ctx, job.session, job.report)
	return nil
}

func (c *Controller) stageConvert(ctx context.Context, job *runJob) error {
	if job.flag.isCancelled() {
		return nil
	}
	artifacts, failures, err := NewConverter(c.blobs).Run(ctx, job.session, job.report, job.formats)
	for format, locator := range artifacts {
		if rerr := c.meta.RecordArtifact(ctx, job.session.ID, job.report.Version, format, locator, 0); rerr != nil {
			c.logger.Printf("session %s: recording %s artifact: %v", job.session.ID, format, rerr)
		}
	}
	job.artifacts = artifacts
	if len(failures) > 0 {
		job.session.FormatErrors = failures
	}
	return err
}

// finalizeCancelled uploads whatever partial work exists, then lands the
// session in cancelled. Upload problems are logged, never fatal.
func (c *Controller) finalizeCancelled(ctx context.Context, job *runJob) {
	session := job.session
	session.Status = StatusCancelling
	c.persist(ctx, job)
	c.logger.Printf("session %s: cancelling, uploading partial results", session.ID)

	c.uploadPartial(ctx, job)

	now := time.Now()
	session.Status = StatusCancelled
	session.Stage = ""
	session.CompletedAt = &now
	session.Artifacts = job.artifacts
	c.persist(ctx, job)
	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	}
	c.logger.Printf("session %s: cancelled", session.ID)
}

func (c *Controller) finalizeFailed(ctx context.Context, job *runJob, err error) {
	session := job.session
	c.logger.Printf("session %s: %v", session.ID, err)

	c.uploadPartial(ctx, job)

	now := time.Now()
	session.Status = StatusFailed
	session.Error = err.Error()
	session.CompletedAt = &now
	session.Artifacts = job.artifacts
	c.persist(ctx, job)
	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues(string(StatusFailed)).Inc()
	}
}

// uploadPartial stores the research state gathered so far as a JSON artifact
// so an interrupted session still leaves something retrievable.
func (c *Controller) uploadPartial(ctx context.Context, job *runJob) {
	if len(job.dims) == 0 && len(job.aspects) == 0 {
		return
	}
	partial := struct {
		Session    *Session    `json:"session"`
		Dimensions []Dimension `json:"dimensions,omitempty"`
		Aspects    []Aspect    `json:"aspects,omitempty"`
	}{job.session, job.dims, job.aspects}
	data, err := json.MarshalIndent(partial, "", "  ")
	if err != nil {
		c.logger.Printf("session %s: encoding partial results: %v", job.session.ID, err)
		return
	}
	locator := fmt.Sprintf("sessions/%s/partial.json", job.session.ID)
	if err := c.blobs.Put(ctx, locator, data); err != nil {
		c.logger.Printf("session %s: uploading partial results: %v", job.session.ID, err)
		return
	}
	if err := c.meta.RecordArtifact(ctx, job.session.ID, "", "partial", locator, int64(len(data))); err != nil {
		c.logger.Printf("session %s: recording partial artifact: %v", job.session.ID, err)
	}
	if job.artifacts == nil {
		job.artifacts = make(map[string]string)
	}
	job.artifacts["partial"] = locator
}

// persist pushes the current snapshot to both the status sink and the
// metadata store. Progress reporting is best effort; a store hiccup must not
// take the pipeline down with it.
func (c *Controller) persist(ctx context.Context, job *runJob) {
	session := job.session
	session.UpdatedAt = time.Now()
	cost, tokens := job.monitor.Usage()
	session.CostUSD = cost
	session.TokensUsed = tokens

	rec := StatusRecord{
		SessionID:    session.ID,
		Status:       session.Status,
		Stage:        session.Stage,
		Progress:     session.Progress,
		Error:        session.Error,
		Artifacts:    session.Artifacts,
		FormatErrors: session.FormatErrors,
		Version:      session.Version,
		CostUSD:      cost,
		TokensUsed:   tokens,
		UpdatedAt:    session.UpdatedAt,
	}
	if err := c.statuses.Put(ctx, rec); err != nil {
		c.logger.Printf("session %s: status sink: %v", session.ID, err)
	}
	if err := c.meta.UpdateSessionStatus(ctx, rec); err != nil {
		c.logger.Printf("session %s: metadata store: %v", session.ID, err)
	}
}

func optFloat(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func optInt64(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
