package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"harvest/internal/extract"
	"harvest/internal/models"
	"harvest/internal/observability"
	"harvest/internal/retry"
	"harvest/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// outcomeWriteTimeout bounds the terminal status write of Execute.
const outcomeWriteTimeout = 30 * time.Second

// ErrDispatch marks a job that was persisted but could not be handed to a
// dispatcher.
var ErrDispatch = errors.New("job dispatch failed")

// ProviderSource resolves the provider for a source kind.
type ProviderSource interface {
	Get(kind models.SourceKind) (extract.Provider, error)
}

// Deliverer sends a terminal outcome to a callback URL.
type Deliverer interface {
	Deliver(ctx context.Context, outcome models.CallbackOutcome, callbackURL string) bool
}

// CreateJobRequest is the inbound job request as received from the API or
// CLI.
type CreateJobRequest struct {
	CallbackURL string          `json:"callback_url"`
	Source      string          `json:"source,omitempty"`
	URL         string          `json:"url,omitempty"`
	Target      string          `json:"target,omitempty"`       // accepted in place of url
	FileContent string          `json:"file_content,omitempty"` // base64
	FileName    string          `json:"file_name,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`

	// CallbackOptional lets CLI runs create a job without a callback URL.
	// Such jobs are never delivered.
	CallbackOptional bool `json:"-"`
	// AllowLocalFiles lets CLI runs point pdf and spreadsheet jobs at a path
	// on the local disk. API requests must use an http(s) URL or
	// file_content.
	AllowLocalFiles bool `json:"-"`
}

// JobService owns the job state machine: it creates jobs, runs extraction
// under the retry policy, persists the outcome and triggers delivery.
type JobService struct {
	store          store.JobStore
	providers      ProviderSource
	delivery       Deliverer
	policy         retry.Policy
	attemptTimeout time.Duration
	sourceTimeouts map[models.SourceKind]time.Duration
	backend        string
}

type JobServiceOption func(*JobService)

// WithExtractionPolicy overrides the extraction retry budget. A nil
// Retryable predicate is replaced by IsRetryableExtraction.
func WithExtractionPolicy(p retry.Policy) JobServiceOption {
	return func(s *JobService) { s.policy = p }
}

// WithAttemptTimeout bounds a single extraction attempt.
func WithAttemptTimeout(d time.Duration) JobServiceOption {
	return func(s *JobService) { s.attemptTimeout = d }
}

// WithSourceAttemptTimeout overrides the attempt timeout for one source
// kind, for providers such as social whose single call runs longer than the
// default.
func WithSourceAttemptTimeout(kind models.SourceKind, d time.Duration) JobServiceOption {
	return func(s *JobService) {
		if s.sourceTimeouts == nil {
			s.sourceTimeouts = make(map[models.SourceKind]time.Duration)
		}
		s.sourceTimeouts[kind] = d
	}
}

func (s *JobService) attemptTimeoutFor(kind models.SourceKind) time.Duration {
	if d, ok := s.sourceTimeouts[kind]; ok {
		return d
	}
	return s.attemptTimeout
}

// WithDispatchBackend names the dispatcher in metrics and logs.
func WithDispatchBackend(name string) JobServiceOption {
	return func(s *JobService) { s.backend = name }
}

func NewJobService(st store.JobStore, providers ProviderSource, delivery Deliverer, opts ...JobServiceOption) *JobService {
	s := &JobService{
		store:          st,
		providers:      providers,
		delivery:       delivery,
		policy:         retry.ExtractionPolicy(IsRetryableExtraction),
		attemptTimeout: 2 * time.Minute,
		backend:        "local",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.Retryable == nil {
		s.policy.Retryable = IsRetryableExtraction
	}
	return s
}

// ValidateRequest checks a request and resolves its source kind.
func ValidateRequest(req CreateJobRequest) (store.CreateJobParams, error) {
	var params store.CreateJobParams

	if req.CallbackURL != "" || !req.CallbackOptional {
		if err := validateCallbackURL(req.CallbackURL); err != nil {
			return params, err
		}
	}

	target := strings.TrimSpace(req.URL)
	if target == "" {
		target = strings.TrimSpace(req.Target)
	}
	var kind models.SourceKind
	if req.Source != "" {
		k, err := models.ParseSourceKind(req.Source)
		if err != nil {
			return params, err
		}
		kind = k
	} else if target == "" {
		return params, models.NewValidationError("source", "either source or url is required")
	}
	kind = DetermineSource(kind, target)

	if kind.RequiresTarget() {
		if target == "" {
			return params, models.NewValidationError("url", "url is required for %s sources", kind)
		}
		if kind == models.SourceWeb && !isAbsoluteHTTP(target) {
			return params, models.NewValidationError("url", "must be an absolute http(s) URL")
		}
	} else if target == "" && req.FileContent == "" {
		return params, models.NewValidationError("url", "url or file_content is required for %s sources", kind)
	} else if req.FileContent == "" && !req.AllowLocalFiles && !isAbsoluteHTTP(target) {
		return params, models.NewValidationError("url", "must be an absolute http(s) URL")
	}

	if req.FileContent != "" {
		if _, err := base64.StdEncoding.DecodeString(req.FileContent); err != nil {
			return params, models.NewValidationError("file_content", "must be valid base64")
		}
	}
	fileName := req.FileName
	if fileName == "" && req.FileContent != "" {
		fileName = defaultFileNames[kind]
	}

	if err := extract.ValidateOptions(kind, req.Config); err != nil {
		return params, err
	}

	var options json.RawMessage
	if len(req.Config) > 0 && string(req.Config) != "null" {
		options = req.Config
	}
	return store.CreateJobParams{
		Source:      kind,
		SourceURL:   target,
		CallbackURL: req.CallbackURL,
		Options:     options,
		FileName:    fileName,
		FileContent: req.FileContent,
	}, nil
}

var defaultFileNames = map[models.SourceKind]string{
	models.SourcePDF:         "document.pdf",
	models.SourceSpreadsheet: "workbook.xlsx",
}

func validateCallbackURL(raw string) error {
	if raw == "" {
		return models.NewValidationError("callback_url", "is required")
	}
	if !isAbsoluteHTTP(raw) {
		return models.NewValidationError("callback_url", "must be an absolute http(s) URL")
	}
	return nil
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CreateJob validates and persists a PENDING job.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	params, err := ValidateRequest(req)
	if err != nil {
		return nil, err
	}
	job, err := s.store.CreateJob(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	observability.JobsCreated.WithLabelValues(string(job.Source)).Inc()
	log.WithFields(log.Fields{"job_id": job.ID, "source": job.Source, "target": job.SourceURL}).Info("job created")
	return job, nil
}

// Submit creates a job and hands it to client. When the hand-off fails the
// job is marked FAILED with the dispatch error, no callback is sent, and
// the returned error matches ErrDispatch and the client's error.
func (s *JobService) Submit(ctx context.Context, req CreateJobRequest, client store.JobClient) (*models.Job, error) {
	job, err := s.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := client.EnqueueJob(ctx, job.ID); err != nil {
		observability.DispatchRejected.WithLabelValues(s.backend).Inc()
		logger := log.WithFields(log.Fields{"job_id": job.ID, "backend": s.backend})
		logger.WithError(err).Error("failed to dispatch job")

		failed, ferr := s.failUndispatched(ctx, job.ID, err)
		if ferr != nil {
			logger.WithError(ferr).WithField("reconcile", true).Error("failed to record dispatch failure")
		} else {
			job = failed
		}
		return job, fmt.Errorf("%w: job %s: %w", ErrDispatch, job.ID, err)
	}
	return job, nil
}

func (s *JobService) failUndispatched(ctx context.Context, id uuid.UUID, cause error) (*models.Job, error) {
	if _, err := s.store.UpdateJobStatus(ctx, id, models.StatusProcessing); err != nil {
		return nil, err
	}
	return s.store.SetJobError(ctx, id, "dispatch failed: "+cause.Error())
}

// Execute runs a PENDING job to a terminal status and delivers the
// outcome. It returns the final job. A job that is missing or not PENDING
// fails with store.ErrNotFound or store.ErrConflict and is left untouched.
func (s *JobService) Execute(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.UpdateJobStatus(ctx, id, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("begin processing job %s: %w", id, err)
	}
	logger := log.WithFields(log.Fields{"job_id": job.ID, "source": job.Source})
	logger.Info("job processing")
	start := time.Now()

	doc, extractErr := s.extract(ctx, job, logger)

	// The terminal write outlives a cancelled job context so shutdown
	// does not strand the job in PROCESSING.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()
	var final *models.Job
	if extractErr == nil {
		final, err = s.store.SetJobResult(persistCtx, id, doc)
	} else {
		final, err = s.store.SetJobError(persistCtx, id, extractErr.Error())
	}
	if err != nil {
		// The job stays PROCESSING and needs manual reconciliation.
		logger.WithError(err).WithField("reconcile", true).Error("failed to persist job outcome")
		return nil, fmt.Errorf("persist outcome of job %s: %w", id, err)
	}

	observability.JobsFinished.WithLabelValues(string(final.Source), string(final.Status)).Inc()
	observability.JobDuration.WithLabelValues(string(final.Source)).Observe(time.Since(start).Seconds())
	if extractErr != nil {
		logger.WithError(extractErr).Warn("job failed")
	} else {
		logger.WithField("duration", time.Since(start)).Info("job completed")
	}

	outcome, err := models.NewCallbackOutcome(final)
	if err != nil {
		logger.WithError(err).Error("cannot build callback outcome")
		return final, nil
	}
	if final.CallbackURL == "" {
		logger.Debug("no callback url; outcome not delivered")
		return final, nil
	}
	if s.delivery != nil && !s.delivery.Deliver(ctx, outcome, final.CallbackURL) {
		logger.Warn("callback not delivered; job status unchanged")
	}
	return final, nil
}

func (s *JobService) extract(ctx context.Context, job *models.Job, logger *log.Entry) (*models.ExtractedDocument, error) {
	source := string(job.Source)
	provider, err := s.providers.Get(job.Source)
	if err != nil {
		observability.ExtractionAttempts.WithLabelValues(source, "fatal").Inc()
		return nil, err
	}

	req := extract.Request{Target: job.SourceURL, FileName: job.FileName, Options: job.Options}
	if job.FileContent != "" {
		data, err := base64.StdEncoding.DecodeString(job.FileContent)
		if err != nil {
			return nil, models.NewFatalError("decode file_content", err)
		}
		req.FileContent = data
	}

	timeout := s.attemptTimeoutFor(job.Source)
	policy := s.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WithFields(log.Fields{"attempt": attempt, "backoff": delay}).Warn("extraction attempt failed, retrying")
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (*models.ExtractedDocument, error) {
		doc, err := s.attempt(ctx, provider, req, timeout)
		switch {
		case err == nil:
			observability.ExtractionAttempts.WithLabelValues(source, "success").Inc()
		case IsRetryableExtraction(err):
			observability.ExtractionAttempts.WithLabelValues(source, "transient").Inc()
		default:
			observability.ExtractionAttempts.WithLabelValues(source, "fatal").Inc()
		}
		return doc, err
	})
}

// attempt runs one provider call under timeout. Panics become fatal errors.
func (s *JobService) attempt(ctx context.Context, provider extract.Provider, req extract.Request, timeout time.Duration) (doc *models.ExtractedDocument, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, models.NewFatalError(fmt.Sprintf("provider panic: %v", r), nil)
		}
	}()
	doc, err = provider.Extract(ctx, req)
	if err == nil && doc == nil {
		err = models.NewFatalError("provider returned no document", nil)
	}
	return doc, err
}

// IsRetryableExtraction retries errors classified transient and raw
// timeout or connection failures. Everything else is fatal.
func IsRetryableExtraction(err error) bool {
	if errors.Is(err, models.ErrExtractionTransient) {
		return true
	}
	if errors.Is(err, models.ErrExtractionFatal) || errors.Is(err, models.ErrValidation) {
		return false
	}
	return extract.IsTransientNetError(err)
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs rejects out-of-range paging instead of clamping it. A zero limit
// means the default.
func (s *JobService) ListJobs(ctx context.Context, params store.ListJobsParams) ([]*models.Job, int, store.ListJobsParams, error) {
	if params.Limit == 0 {
		params.Limit = store.DefaultListLimit
	}
	if params.Limit < 1 || params.Limit > store.MaxListLimit {
		return nil, 0, params, models.NewValidationError("limit", "must be between 1 and %d", store.MaxListLimit)
	}
	if params.Offset < 0 {
		return nil, 0, params, models.NewValidationError("offset", "must be >= 0")
	}
	jobs, total, err := s.store.ListJobs(ctx, params)
	return jobs, total, params, err
}

func (s *JobService) Stats(ctx context.Context) (*models.JobStats, error) {
	return s.store.JobStats(ctx)
}

// DeleteJob removes a job; PROCESSING jobs fail with store.ErrConflict.
func (s *JobService) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	log.WithField("job_id", id).Info("job deleted")
	return nil
}
