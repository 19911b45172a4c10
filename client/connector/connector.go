// Package connector uploads the local change queue to the backend, one
// transaction at a time, retrying until each one is acknowledged.
package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/breez/todo-sync/model"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Uploading
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Uploading:
		return "uploading"
	case Backoff:
		return "backoff"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CredentialProvider fetches a fresh sync credential for the signed in user.
type CredentialProvider interface {
	FetchCredentials(ctx context.Context) (*model.Credential, error)
}

// Uploader sends one transaction. Errors wrap model.ErrTransientNetwork,
// model.ErrAuth, model.ErrValidation or model.ErrSignature.
type Uploader interface {
	Upload(ctx context.Context, credential *model.Credential, tx *model.Transaction) (*model.WebhookResponse, error)
}

// Queue is the local change queue.
type Queue interface {
	NextTransaction(ctx context.Context) (*model.Transaction, error)
	Complete(ctx context.Context, txID int64) error
	DeadLetter(ctx context.Context, txID int64, ops []model.MutationOp, reason string) error
	PendingCount(ctx context.Context) (int, error)
	Subscribe() (<-chan struct{}, func())
}

type Options struct {
	RetryInitial     time.Duration
	RetryMax         time.Duration
	IdleInterval     time.Duration
	UploadTimeout    time.Duration
	CredentialMargin time.Duration
	Metrics          *Metrics
}

type Status struct {
	State        State      `json:"state"`
	LastError    string     `json:"last_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Pending      int        `json:"pending"`
}

type Connector struct {
	queue    Queue
	uploader Uploader
	opts     Options

	mu         sync.Mutex
	state      State
	lastErr    error
	lastSynced *time.Time
	credential *model.Credential
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(queue Queue, uploader Uploader, opts Options) *Connector {
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = time.Minute
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 30 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 30 * time.Second
	}
	if opts.CredentialMargin <= 0 {
		opts.CredentialMargin = 30 * time.Second
	}
	return &Connector{queue: queue, uploader: uploader, opts: opts}
}

// Connect fetches a credential and starts the upload loop. A failed fetch
// leaves the connector disconnected and returns an error wrapping
// model.ErrAuth. Connecting while already connected or connecting is a
// no-op, so at most one loop runs.
func (c *Connector) Connect(ctx context.Context, provider CredentialProvider) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	c.done = done
	c.state = Connecting
	c.mu.Unlock()

	credential, err := provider.FetchCredentials(ctx)
	if err != nil {
		err = fmt.Errorf("%w: failed to fetch credentials: %w", model.ErrAuth, err)
		c.mu.Lock()
		c.done = nil
		c.state = Disconnected
		c.lastErr = err
		c.mu.Unlock()
		close(done)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.credential = credential
	c.cancel = cancel
	c.state = Connected
	c.lastErr = nil
	c.mu.Unlock()

	changes, unsubscribe := c.queue.Subscribe()
	go func() {
		defer close(done)
		defer unsubscribe()
		c.run(loopCtx, provider, changes)
	}()
	log.Info("sync connector connected")
	return nil
}

// Disconnect aborts any in-flight upload without completing it and waits
// for the upload loop to exit.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.mu.Lock()
	c.cancel = nil
	c.done = nil
	c.state = Disconnected
	c.mu.Unlock()
	log.Info("sync connector disconnected")
}

func (c *Connector) Status(ctx context.Context) Status {
	pending, err := c.queue.PendingCount(ctx)
	if err != nil {
		log.Warnf("failed to count pending transactions: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{State: c.state, LastSyncedAt: c.lastSynced, Pending: pending}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

func (c *Connector) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.opts.Metrics.setState(state)
}

func (c *Connector) setError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Connector) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitial
	b.MaxInterval = c.opts.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Connector) run(ctx context.Context, provider CredentialProvider, changes <-chan struct{}) {
	retry := c.newBackoff()
	for ctx.Err() == nil {
		if err := c.ensureCredential(ctx, provider); err != nil {
			if !c.backoff(ctx, retry, err) {
				return
			}
			continue
		}

		tx, err := c.queue.NextTransaction(ctx)
		if err != nil {
			if !c.backoff(ctx, retry, fmt.Errorf("failed to read queue: %w", err)) {
				return
			}
			continue
		}
		if tx == nil {
			c.setState(Connected)
			if !c.idle(ctx, changes) {
				return
			}
			continue
		}

		c.setState(Uploading)
		err = c.upload(ctx, tx)
		switch {
		case err == nil:
			retry.Reset()
		case ctx.Err() != nil:
			return
		case errors.Is(err, model.ErrAuth):
			c.mu.Lock()
			c.credential = nil
			c.mu.Unlock()
			if !c.backoff(ctx, retry, err) {
				return
			}
		case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrSignature):
			if dlErr := c.queue.DeadLetter(ctx, tx.Id, tx.Ops, err.Error()); dlErr != nil {
				if !c.backoff(ctx, retry, dlErr) {
					return
				}
				continue
			}
			c.opts.Metrics.observeUpload("dead_letter")
			c.setError(err)
		default:
			if !c.backoff(ctx, retry, err) {
				return
			}
		}
	}
}

func (c *Connector) ensureCredential(ctx context.Context, provider CredentialProvider) error {
	c.mu.Lock()
	credential := c.credential
	c.mu.Unlock()
	if !credential.Expired(time.Now(), c.opts.CredentialMargin) {
		return nil
	}

	c.setState(Connecting)
	credential, err := provider.FetchCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch credentials: %w", err)
	}
	c.mu.Lock()
	c.credential = credential
	c.mu.Unlock()
	return nil
}

// upload sends tx and settles it according to the per-op statuses.
func (c *Connector) upload(ctx context.Context, tx *model.Transaction) error {
	c.mu.Lock()
	credential := c.credential
	c.mu.Unlock()

	uploadCtx, cancel := context.WithTimeout(ctx, c.opts.UploadTimeout)
	defer cancel()
	response, err := c.uploader.Upload(uploadCtx, credential, tx)
	if err != nil {
		c.opts.Metrics.observeUpload("error")
		return err
	}

	var (
		rejected []model.MutationOp
		reasons  []string
	)
	if response != nil {
		for _, result := range response.Statuses {
			if result.Index < 0 || result.Index >= len(tx.Ops) {
				continue
			}
			switch result.Status {
			case model.StatusRetry:
				c.opts.Metrics.observeUpload("retry")
				return fmt.Errorf("%w: op %v of transaction %v must be retried: %v",
					model.ErrTransientNetwork, result.Index, tx.Id, result.Error)
			case model.StatusRejected:
				rejected = append(rejected, tx.Ops[result.Index])
				reasons = append(reasons, fmt.Sprintf("%v: %v", result.Id, result.Error))
			}
		}
	}

	if len(rejected) > 0 {
		err = c.queue.DeadLetter(ctx, tx.Id, rejected, strings.Join(reasons, "; "))
	} else {
		err = c.queue.Complete(ctx, tx.Id)
	}
	if err != nil {
		return fmt.Errorf("failed to settle transaction %v: %w", tx.Id, err)
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.lastSynced = &now
	c.lastErr = nil
	c.mu.Unlock()
	c.opts.Metrics.observeUpload("ok")
	log.WithFields(log.Fields{"tx_id": tx.Id, "ops": len(tx.Ops), "rejected": len(rejected)}).Info("transaction uploaded")
	return nil
}

func (c *Connector) backoff(ctx context.Context, retry *backoff.ExponentialBackOff, err error) bool {
	c.setError(err)
	c.setState(Backoff)
	delay := retry.NextBackOff()
	log.Warnf("sync failed, retrying in %v: %v", delay, err)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Connector) idle(ctx context.Context, changes <-chan struct{}) bool {
	timer := time.NewTimer(c.opts.IdleInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-changes:
		return true
	case <-timer.C:
		return true
	}
}
