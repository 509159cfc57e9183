package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"harvest/internal/models"
	"harvest/internal/observability"
	"harvest/internal/retry"

	log "github.com/sirupsen/logrus"
)

// DeliveryConfig bounds the callback HTTP client. There is no separate
// write-phase timeout: a slow body upload is cut off only by Timeout.
type DeliveryConfig struct {
	Timeout        time.Duration // whole request, including body upload
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // waiting for response headers
	IdleTimeout    time.Duration
	MaxConnections int
	MaxIdle        int
	UserAgent      string
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		Timeout:        30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		IdleTimeout:    90 * time.Second,
		MaxConnections: 100,
		MaxIdle:        20,
		UserAgent:      "harvest-callback/1.0",
	}
}

// NewHTTPClient builds a pooled client shared by all deliveries.
func NewHTTPClient(cfg DeliveryConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       cfg.IdleTimeout,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConns:          cfg.MaxIdle,
		MaxIdleConnsPerHost:   cfg.MaxIdle,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}
}

// DeliveryService posts job outcomes to callback URLs.
type DeliveryService struct {
	client    *http.Client
	policy    retry.Policy
	userAgent string
}

// NewDeliveryService uses policy for retries; a nil Retryable predicate is
// replaced by IsRetryableDelivery.
func NewDeliveryService(client *http.Client, policy retry.Policy, userAgent string) *DeliveryService {
	if client == nil {
		client = NewHTTPClient(DefaultDeliveryConfig())
	}
	if policy.Retryable == nil {
		policy.Retryable = IsRetryableDelivery
	}
	return &DeliveryService{client: client, policy: policy, userAgent: userAgent}
}

// Deliver posts outcome to callbackURL and reports whether any attempt got
// a non-error response. It never returns an error: exhausted retries and
// 4xx responses are logged and reported as false.
func (s *DeliveryService) Deliver(ctx context.Context, outcome models.CallbackOutcome, callbackURL string) bool {
	logger := log.WithFields(log.Fields{"job_id": outcome.JobID, "callback_url": callbackURL})

	body, err := json.Marshal(outcome)
	if err != nil {
		logger.WithError(err).Error("failed to encode callback payload")
		observability.Callbacks.WithLabelValues("failed").Inc()
		return false
	}

	policy := s.policy
	prev := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WithFields(log.Fields{"attempt": attempt, "backoff": delay}).Warn("callback attempt failed, retrying")
		if prev != nil {
			prev(attempt, delay, err)
		}
	}

	attempts := 0
	err = policy.Run(ctx, func(ctx context.Context) error {
		attempts++
		return s.post(ctx, callbackURL, body)
	})
	if err != nil {
		logger.WithError(err).WithField("attempts", attempts).Error("callback delivery failed")
		observability.Callbacks.WithLabelValues("failed").Inc()
		return false
	}
	logger.WithField("attempts", attempts).Info("callback delivered")
	observability.Callbacks.WithLabelValues("delivered").Inc()
	return true
}

func (s *DeliveryService) post(ctx context.Context, callbackURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return &models.DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &models.DeliveryError{Retryable: !errors.Is(err, context.Canceled), Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection returns to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return &models.DeliveryError{StatusCode: resp.StatusCode, Retryable: resp.StatusCode >= 500}
	}
	return nil
}

func (s *DeliveryService) Close() {
	s.client.CloseIdleConnections()
}

// IsRetryableDelivery retries 5xx responses and transport failures, never
// 4xx.
func IsRetryableDelivery(err error) bool {
	var de *models.DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
