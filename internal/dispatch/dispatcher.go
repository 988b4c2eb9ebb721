// Package dispatch fans one notification out to many push subscriptions.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fluency-push-go/internal/metrics"
	"fluency-push-go/internal/models"
	"fluency-push-go/internal/webpush"
)

type Outcome string

const (
	Delivered    Outcome = "delivered"
	Gone         Outcome = "gone"
	Failed       Outcome = "failed"
	InvalidKey   Outcome = "invalid_key"
	EncryptError Outcome = "encrypt_error"
)

const (
	DefaultConcurrency = 4
	DefaultHTTPTimeout = 10 * time.Second

	maxErrorBody = 512
)

// ErrSubscriptionGone marks a 404/410 from the push service. The
// subscription is deleted; it is not an application error.
var ErrSubscriptionGone = errors.New("dispatch: subscription gone")

// PushServiceError is a non-2xx response other than 404/410. The
// subscription is kept for a later attempt.
type PushServiceError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *PushServiceError) Error() string {
	return fmt.Sprintf("push service returned %d for %s: %s", e.StatusCode, shortEndpoint(e.Endpoint), e.Body)
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SubscriptionRemover deletes subscriptions the push service reported gone.
type SubscriptionRemover interface {
	DeleteByEndpoints(ctx context.Context, endpoints []string) error
}

// Publisher receives a summary after each batch.
type Publisher interface {
	PublishDispatch(ctx context.Context, summary models.DispatchSummary) error
}

type Config struct {
	Concurrency int
	Client      Doer
	Remover     SubscriptionRemover
	Publisher   Publisher
	Logger      *zap.Logger
}

type Delivery struct {
	Endpoint   string  `json:"endpoint"`
	UserID     string  `json:"user_id"`
	Outcome    Outcome `json:"outcome"`
	StatusCode int     `json:"status_code,omitempty"`
	Err        error   `json:"-"`
}

type Result struct {
	BatchID    string     `json:"batch_id"`
	Sent       int        `json:"sent"`
	Total      int        `json:"total"`
	Gone       int        `json:"gone"`
	Failed     int        `json:"failed"`
	Deliveries []Delivery `json:"-"`
	// Err combines every per-subscription and cleanup error. It never
	// means the batch itself failed.
	Err error `json:"-"`
}

func (r *Result) Summary() models.DispatchSummary {
	return models.DispatchSummary{
		BatchID:   r.BatchID,
		Sent:      r.Sent,
		Total:     r.Total,
		Gone:      r.Gone,
		Failed:    r.Failed,
		CreatedAt: time.Now().UTC(),
	}
}

// Dispatcher delivers at most once per subscription per call and never
// retries; retry policy belongs to whoever invokes it.
type Dispatcher struct {
	signer      *webpush.Signer
	encryptor   *webpush.Encryptor
	client      Doer
	remover     SubscriptionRemover
	publisher   Publisher
	concurrency int
	log         *zap.Logger
}

func New(signer *webpush.Signer, encryptor *webpush.Encryptor, cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{
		signer:      signer,
		encryptor:   encryptor,
		client:      cfg.Client,
		remover:     cfg.Remover,
		publisher:   cfg.Publisher,
		concurrency: cfg.Concurrency,
		log:         cfg.Logger,
	}
}

// Dispatch encrypts payload for every subscription and POSTs it. Failures
// of one subscription never stop the others; the only error returned is a
// signing failure, which makes every delivery impossible.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte, subs []models.PushSubscription) (*Result, error) {
	if d.signer == nil || d.encryptor == nil {
		return nil, fmt.Errorf("%w: dispatcher has no vapid configuration", webpush.ErrSigning)
	}

	res := &Result{
		BatchID:    uuid.NewString(),
		Total:      len(subs),
		Deliveries: make([]Delivery, len(subs)),
	}

	auth, err := d.authorizations(subs)
	if err != nil {
		d.log.Error("VAPID signing failed, aborting dispatch", zap.String("batch_id", res.BatchID), zap.Error(err))
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			res.Deliveries[i] = d.deliver(ctx, sub, payload, auth)
			return nil
		})
	}
	_ = g.Wait()

	var gone []string
	for _, dl := range res.Deliveries {
		metrics.PushDeliveriesTotal.WithLabelValues(string(dl.Outcome)).Inc()
		switch dl.Outcome {
		case Delivered:
			res.Sent++
		case Gone:
			res.Gone++
			gone = append(gone, dl.Endpoint)
		default:
			res.Failed++
			res.Err = multierr.Append(res.Err, dl.Err)
		}
	}

	if len(gone) > 0 && d.remover != nil {
		if err := d.remover.DeleteByEndpoints(ctx, gone); err != nil {
			d.log.Error("Failed to delete expired subscriptions",
				zap.String("batch_id", res.BatchID),
				zap.Int("count", len(gone)),
				zap.Error(err),
			)
			res.Err = multierr.Append(res.Err, fmt.Errorf("delete expired subscriptions: %w", err))
		} else {
			metrics.PushSubscriptionsRemovedTotal.Add(float64(len(gone)))
		}
	}
	metrics.PushDispatchBatchesTotal.Inc()

	d.log.Info("Push batch dispatched",
		zap.String("batch_id", res.BatchID),
		zap.Int("sent", res.Sent),
		zap.Int("total", res.Total),
		zap.Int("gone", res.Gone),
		zap.Int("failed", res.Failed),
	)

	if d.publisher != nil {
		if err := d.publisher.PublishDispatch(ctx, res.Summary()); err != nil {
			d.log.Warn("Failed to publish dispatch summary", zap.String("batch_id", res.BatchID), zap.Error(err))
		}
	}
	return res, nil
}

// authorizations signs one token per push service origin. Endpoints that
// are not URLs are skipped here and reported by deliver.
func (d *Dispatcher) authorizations(subs []models.PushSubscription) (map[string]string, error) {
	auth := make(map[string]string)
	for _, sub := range subs {
		aud, err := webpush.Audience(sub.Endpoint)
		if err != nil {
			continue
		}
		if _, ok := auth[aud]; ok {
			continue
		}
		header, err := d.signer.Authorization(aud)
		if err != nil {
			return nil, err
		}
		auth[aud] = header
	}
	return auth, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub models.PushSubscription, payload []byte, auth map[string]string) Delivery {
	dl := Delivery{Endpoint: sub.Endpoint, UserID: sub.UserID}
	log := d.log.With(zap.String("endpoint", shortEndpoint(sub.Endpoint)), zap.String("user_id", sub.UserID))

	msg, err := d.encryptor.Encrypt(webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, payload)
	if err != nil {
		dl.Err = err
		if errors.Is(err, webpush.ErrInvalidSubscriptionKey) || errors.Is(err, webpush.ErrInvalidEndpoint) {
			dl.Outcome = InvalidKey
			log.Warn("Skipping subscription with invalid key material", zap.Error(err))
		} else {
			dl.Outcome = EncryptError
			log.Error("Failed to encrypt push payload", zap.Error(err))
		}
		return dl
	}

	aud, _ := webpush.Audience(sub.Endpoint)
	msg.Headers.Set("Authorization", auth[aud])

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Endpoint, bytes.NewReader(msg.Body))
	if err != nil {
		dl.Outcome, dl.Err = InvalidKey, err
		log.Warn("Failed to build push request", zap.Error(err))
		return dl
	}
	req.Header = msg.Headers

	timer := prometheus.NewTimer(metrics.PushSendDuration)
	resp, err := d.client.Do(req)
	timer.ObserveDuration()
	if err != nil {
		dl.Outcome, dl.Err = Failed, err
		log.Warn("Failed to send push", zap.Error(err))
		return dl
	}
	defer resp.Body.Close()

	dl.StatusCode = resp.StatusCode
	dl.Outcome = Classify(resp.StatusCode)
	switch dl.Outcome {
	case Delivered:
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Debug("Push delivered", zap.Int("status", resp.StatusCode))
	case Gone:
		_, _ = io.Copy(io.Discard, resp.Body)
		dl.Err = ErrSubscriptionGone
		log.Info("Push subscription gone, scheduling removal", zap.Int("status", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		dl.Err = &PushServiceError{Endpoint: sub.Endpoint, StatusCode: resp.StatusCode, Body: string(body)}
		log.Warn("Push service rejected message", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
	}
	return dl
}

// Classify maps a push service status code to an outcome.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Delivered
	case status == http.StatusNotFound || status == http.StatusGone:
		return Gone
	default:
		return Failed
	}
}

func shortEndpoint(endpoint string) string {
	return endpoint[:min(50, len(endpoint))]
}
