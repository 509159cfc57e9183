package services_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"harvest/internal/extract"
	"harvest/internal/models"
	"harvest/internal/retry"
	"harvest/internal/services"
	"harvest/internal/store"
	"harvest/internal/store/sqlite"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
	reqs  []extract.Request
	fn    func(call int) (*models.ExtractedDocument, error)
}

func (p *stubProvider) Extract(ctx context.Context, req extract.Request) (*models.ExtractedDocument, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return p.fn(call)
}

func (p *stubProvider) Close() error { return nil }

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingDeliverer struct {
	mu       sync.Mutex
	outcomes []models.CallbackOutcome
	urls     []string
	result   bool
}

func (d *recordingDeliverer) Deliver(ctx context.Context, outcome models.CallbackOutcome, callbackURL string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcome)
	d.urls = append(d.urls, callbackURL)
	return d.result
}

type failingClient struct{ err error }

func (c failingClient) EnqueueJob(ctx context.Context, id uuid.UUID) error { return c.err }
func (c failingClient) Close() error                                       { return nil }

type acceptingClient struct{ ids []uuid.UUID }

func (c *acceptingClient) EnqueueJob(ctx context.Context, id uuid.UUID) error {
	c.ids = append(c.ids, id)
	return nil
}
func (c *acceptingClient) Close() error { return nil }

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		MaxElapsed:  time.Minute,
		MinBackoff:  time.Second,
		MaxBackoff:  10 * time.Second,
		Sleep:       noSleep,
	}
}

type fixture struct {
	store    *sqlite.Store
	registry *extract.Registry
	delivery *recordingDeliverer
	svc      *services.JobService
}

func newFixture(t *testing.T, providers map[models.SourceKind]extract.Provider) *fixture {
	t.Helper()
	st, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := extract.NewRegistry()
	for kind, p := range providers {
		p := p
		reg.Register(kind, func() (extract.Provider, error) { return p, nil })
	}
	t.Cleanup(func() { reg.Close() })

	d := &recordingDeliverer{result: true}
	svc := services.NewJobService(st, reg, d, services.WithExtractionPolicy(testPolicy()))
	return &fixture{store: st, registry: reg, delivery: d, svc: svc}
}

func TestExecute_WebJobCompletes(t *testing.T) {
	web := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) {
		return &models.ExtractedDocument{Source: models.SourceWeb, Content: "hi", ContentType: models.ContentText}, nil
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{
		CallbackURL: "https://hooks.example.com/done",
		Source:      "web",
		URL:         "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)

	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, "hi", final.Result.Content)
	assert.NotNil(t, final.CompletedAt)
	assert.Nil(t, final.Error)
	assert.NoError(t, final.CheckInvariants())

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	require.Len(t, f.delivery.outcomes, 1)
	assert.Equal(t, models.StatusCompleted, f.delivery.outcomes[0].Status)
	assert.Equal(t, "https://hooks.example.com/done", f.delivery.urls[0])
	assert.Equal(t, "https://example.com", web.reqs[0].Target)
}

func TestExecute_FatalErrorFailsWithoutRetry(t *testing.T) {
	pdf := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) {
		return nil, models.NewFatalError("not found", nil)
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourcePDF: pdf})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{
		CallbackURL:     "https://hooks.example.com/done",
		Source:          "pdf",
		URL:             "missing.pdf",
		AllowLocalFiles: true,
	})
	require.NoError(t, err)

	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, "not found", *final.Error)
	assert.Nil(t, final.Result)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, 1, pdf.Calls())

	require.Len(t, f.delivery.outcomes, 1)
	assert.Equal(t, models.StatusFailed, f.delivery.outcomes[0].Status)
	assert.Equal(t, "not found", *f.delivery.outcomes[0].Error)
}

type cancelingProvider struct{ cancel context.CancelFunc }

func (p cancelingProvider) Extract(ctx context.Context, req extract.Request) (*models.ExtractedDocument, error) {
	p.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p cancelingProvider) Close() error { return nil }

func TestExecute_CancelledContextStillRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: cancelingProvider{cancel: cancel}})

	job, err := f.svc.CreateJob(context.Background(), services.CreateJobRequest{
		CallbackURL: "https://hooks.example.com/done",
		Source:      "web",
		URL:         "https://example.com",
	})
	require.NoError(t, err)

	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.NotEmpty(t, *final.Error)
	assert.NotNil(t, final.CompletedAt)

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.NoError(t, f.svc.DeleteJob(context.Background(), job.ID))
}

func TestExecute_TransientErrorIsRetried(t *testing.T) {
	web := &stubProvider{fn: func(call int) (*models.ExtractedDocument, error) {
		if call < 3 {
			return nil, models.NewTransientError("fetch timed out", context.DeadlineExceeded)
		}
		return &models.ExtractedDocument{Content: "third time"}, nil
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://hooks.example.com/x", URL: "https://example.com/a"})
	require.NoError(t, err)
	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 3, web.Calls())
}

func TestExecute_TransientErrorExhaustsAttempts(t *testing.T) {
	web := &stubProvider{fn: func(call int) (*models.ExtractedDocument, error) {
		return nil, models.NewTransientError("upstream returned HTTP 503", nil)
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://hooks.example.com/x", URL: "https://example.com/a"})
	require.NoError(t, err)
	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, "upstream returned HTTP 503", *final.Error)
	assert.Equal(t, 3, web.Calls())
}

func TestExecute_UnclassifiedErrorIsFatal(t *testing.T) {
	web := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) {
		return nil, errors.New("index out of range")
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://hooks.example.com/x", URL: "https://example.com/a"})
	require.NoError(t, err)
	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, "index out of range", *final.Error)
	assert.Equal(t, 1, web.Calls())
}

func TestExecute_PanicIsFatal(t *testing.T) {
	web := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) { panic("boom") }}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://hooks.example.com/x", URL: "https://example.com/a"})
	require.NoError(t, err)
	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, *final.Error, "boom")
}

func TestExecute_UnsupportedSource(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{
		CallbackURL: "https://hooks.example.com/x",
		Source:      "spreadsheet",
		URL:         "https://example.com/book.xlsx",
	})
	require.NoError(t, err)
	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, *final.Error, "no extraction provider registered")
}

func TestExecute_DeliveryFailureKeepsStatus(t *testing.T) {
	web := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) {
		return &models.ExtractedDocument{Content: "ok"}, nil
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	f.delivery.result = false
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://hooks.example.com/x", URL: "https://example.com/a"})
	require.NoError(t, err)
	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestExecute_OnlyOnce(t *testing.T) {
	web := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) {
		return &models.ExtractedDocument{Content: "ok"}, nil
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://hooks.example.com/x", URL: "https://example.com/a"})
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 1, web.Calls())
	assert.Len(t, f.delivery.outcomes, 1)

	_, err = f.svc.Execute(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecute_PassesDecodedFileContent(t *testing.T) {
	sheet := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) {
		return &models.ExtractedDocument{Content: "table", ContentType: models.ContentTable}, nil
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceSpreadsheet: sheet})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{
		CallbackURL: "https://hooks.example.com/x",
		Source:      "excel",
		FileContent: base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n")),
		FileName:    "data.csv",
		Config:      []byte(`{"max_rows": 5}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SourceSpreadsheet, job.Source)

	_, err = f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, sheet.reqs, 1)
	assert.Equal(t, []byte("a,b\n1,2\n"), sheet.reqs[0].FileContent)
	assert.Equal(t, "data.csv", sheet.reqs[0].FileName)
	assert.JSONEq(t, `{"max_rows": 5}`, string(sheet.reqs[0].Options))
}

func TestSubmit_DispatchFailureFailsJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, services.CreateJobRequest{
		CallbackURL: "https://hooks.example.com/x",
		URL:         "https://example.com/a",
	}, failingClient{err: store.ErrQueueFull})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrDispatch)
	assert.ErrorIs(t, err, store.ErrQueueFull)
	require.NotNil(t, job)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, *job.Error, "dispatch failed")
	assert.Empty(t, f.delivery.outcomes)
}

func TestSubmit_Enqueues(t *testing.T) {
	f := newFixture(t, nil)
	client := &acceptingClient{}
	job, err := f.svc.Submit(context.Background(), services.CreateJobRequest{
		CallbackURL: "https://hooks.example.com/x",
		URL:         "https://example.com/a",
	}, client)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{job.ID}, client.ids)
	assert.Equal(t, models.StatusPending, job.Status)
}

func TestValidateRequest(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("%PDF"))
	tests := []struct {
		name      string
		req       services.CreateJobRequest
		wantKind  models.SourceKind
		wantField string
	}{
		{"web explicit", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "web", URL: "https://example.com"}, models.SourceWeb, ""},
		{"inferred pdf", services.CreateJobRequest{CallbackURL: "https://h.io/cb", URL: "https://example.com/r.PDF"}, models.SourcePDF, ""},
		{"inferred social", services.CreateJobRequest{CallbackURL: "https://h.io/cb", URL: "https://www.instagram.com/nasa"}, models.SourceSocial, ""},
		{"pdf upload", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "pdf", FileContent: b64}, models.SourcePDF, ""},
		{"missing callback", services.CreateJobRequest{Source: "web", URL: "https://example.com"}, "", "callback_url"},
		{"relative callback", services.CreateJobRequest{CallbackURL: "/cb", Source: "web", URL: "https://example.com"}, "", "callback_url"},
		{"no source no url", services.CreateJobRequest{CallbackURL: "https://h.io/cb"}, "", "source"},
		{"unknown source", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "video", URL: "https://example.com"}, "", "source"},
		{"web needs url", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "web"}, "", "url"},
		{"social needs url", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "social", FileContent: b64}, "", "url"},
		{"pdf needs something", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "pdf"}, "", "url"},
		{"bad base64", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "pdf", FileContent: "***"}, "", "file_content"},
		{"target alias", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Target: "https://example.com/data.csv"}, models.SourceSpreadsheet, ""},
		{"optional callback omitted", services.CreateJobRequest{CallbackOptional: true, Source: "web", URL: "https://example.com"}, models.SourceWeb, ""},
		{"optional callback still checked", services.CreateJobRequest{CallbackOptional: true, CallbackURL: "ftp://h.io", Source: "web", URL: "https://example.com"}, "", "callback_url"},
		{"local pdf path rejected", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "pdf", URL: "/etc/passwd"}, "", "url"},
		{"local csv target rejected", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Target: "/srv/app/secrets.csv"}, "", "url"},
		{"file url rejected", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "spreadsheet", URL: "file:///srv/app/secrets.csv"}, "", "url"},
		{"local path allowed for cli", services.CreateJobRequest{CallbackOptional: true, AllowLocalFiles: true, Source: "spreadsheet", URL: "data/export.csv"}, models.SourceSpreadsheet, ""},
		{"upload with name hint", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "pdf", URL: "report.pdf", FileContent: b64}, models.SourcePDF, ""},
		{"bad config", services.CreateJobRequest{CallbackURL: "https://h.io/cb", Source: "web", URL: "https://example.com", Config: []byte(`{"wait_timeout": 1}`)}, "", "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := services.ValidateRequest(tt.req)
			if tt.wantField != "" {
				var ve *models.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantField, ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, params.Source)
		})
	}
}

func TestExecute_WithoutCallbackSkipsDelivery(t *testing.T) {
	web := &stubProvider{fn: func(int) (*models.ExtractedDocument, error) {
		return &models.ExtractedDocument{Source: models.SourceWeb, Content: "cli"}, nil
	}}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceWeb: web})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, services.CreateJobRequest{
		CallbackOptional: true,
		URL:              "https://example.com",
	})
	require.NoError(t, err)

	final, err := f.svc.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Empty(t, f.delivery.outcomes)
}

func TestValidateRequest_DefaultFileName(t *testing.T) {
	params, err := services.ValidateRequest(services.CreateJobRequest{
		CallbackURL: "https://h.io/cb",
		Source:      "pdf",
		FileContent: base64.StdEncoding.EncodeToString([]byte("%PDF")),
	})
	require.NoError(t, err)
	assert.Equal(t, "document.pdf", params.FileName)
}

func TestListJobs_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://h.io/cb", URL: "https://example.com"})
		require.NoError(t, err)
	}

	jobs, total, params, err := f.svc.ListJobs(ctx, store.ListJobsParams{})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
	assert.Equal(t, 3, total)
	assert.Equal(t, store.DefaultListLimit, params.Limit)

	_, _, _, err = f.svc.ListJobs(ctx, store.ListJobsParams{Limit: 101})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, _, _, err = f.svc.ListJobs(ctx, store.ListJobsParams{Limit: -1})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, _, _, err = f.svc.ListJobs(ctx, store.ListJobsParams{Limit: 10, Offset: -1})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestIsRetryableExtraction(t *testing.T) {
	assert.True(t, services.IsRetryableExtraction(models.NewTransientError("x", nil)))
	assert.True(t, services.IsRetryableExtraction(context.DeadlineExceeded))
	assert.False(t, services.IsRetryableExtraction(models.NewFatalError("x", context.DeadlineExceeded)))
	assert.False(t, services.IsRetryableExtraction(&models.UnsupportedSourceError{Source: "video"}))
	assert.False(t, services.IsRetryableExtraction(errors.New("boom")))
}

type deadlineProvider struct{ remaining time.Duration }

func (p *deadlineProvider) Extract(ctx context.Context, req extract.Request) (*models.ExtractedDocument, error) {
	if dl, ok := ctx.Deadline(); ok {
		p.remaining = time.Until(dl)
	}
	return &models.ExtractedDocument{Content: "ok"}, nil
}

func (p *deadlineProvider) Close() error { return nil }

func TestExecute_SourceAttemptTimeoutOverridesDefault(t *testing.T) {
	social := &deadlineProvider{}
	web := &deadlineProvider{}
	f := newFixture(t, map[models.SourceKind]extract.Provider{models.SourceSocial: social, models.SourceWeb: web})
	svc := services.NewJobService(f.store, f.registry, f.delivery,
		services.WithExtractionPolicy(testPolicy()),
		services.WithAttemptTimeout(time.Minute),
		services.WithSourceAttemptTimeout(models.SourceSocial, 10*time.Minute),
	)
	ctx := context.Background()

	for _, target := range []string{"https://www.instagram.com/nasa", "https://example.com"} {
		job, err := svc.CreateJob(ctx, services.CreateJobRequest{CallbackURL: "https://hooks.example.com/done", URL: target})
		require.NoError(t, err)
		_, err = svc.Execute(ctx, job.ID)
		require.NoError(t, err)
	}

	assert.Greater(t, social.remaining, 9*time.Minute)
	assert.Greater(t, web.remaining, 50*time.Second)
	assert.LessOrEqual(t, web.remaining, time.Minute)
}
