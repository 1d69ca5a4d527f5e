package alertfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"geominer/siren/pkg/api/alertflow"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/models"
)

var (
	// ErrUnknownAlert means the store has never seen the alert ID
	ErrUnknownAlert = errors.New("alert not in local store")

	// ErrMutationInFlight means a mutation for the same alert has not
	// finished yet
	ErrMutationInFlight = errors.New("mutation already in flight for this alert")
)

// Fetcher lists alerts from the alert API
type Fetcher interface {
	ListAlerts(ctx context.Context, opts alertflow.ListAlertsOptions) (*alertflow.ListAlertsResponse, error)
}

// Mutator changes alert state on the alert API
type Mutator interface {
	AcknowledgeAlert(ctx context.Context, alertID string, req *alertflow.AcknowledgeRequest) (*models.Alert, error)
	ResolveAlert(ctx context.Context, alertID string, req *alertflow.ResolveRequest) (*models.Alert, error)
}

// Client is the API surface the controller depends on
type Client interface {
	Fetcher
	Mutator
}

// Controller applies alert mutations optimistically: the local store changes
// first, the API call follows, and a failed call restores the exact previous
// state. Each alert admits one mutation at a time and nothing is retried
// automatically.
type Controller struct {
	store       *Store
	client      Client
	logger      logging.Logger
	pollOptions alertflow.ListAlertsOptions

	mu       sync.Mutex
	inflight map[string]bool

	refresh singleflight.Group
}

// ControllerConfig configures a Controller
type ControllerConfig struct {
	Store       *Store
	Client      Client
	Logger      logging.Logger
	PollOptions alertflow.ListAlertsOptions
}

// NewController creates a controller over a store and an alert API client
func NewController(cfg ControllerConfig) *Controller {
	if cfg.PollOptions.Limit == 0 {
		cfg.PollOptions.Limit = 50
	}
	return &Controller{
		store:       cfg.Store,
		client:      cfg.Client,
		logger:      cfg.Logger,
		pollOptions: cfg.PollOptions,
		inflight:    make(map[string]bool),
	}
}

// Store returns the controller's backing store
func (c *Controller) Store() *Store {
	return c.store
}

// Refresh reloads the store from the API. Concurrent calls collapse into a
// single request; every caller gets that request's outcome.
func (c *Controller) Refresh(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (interface{}, error) {
		page, err := c.client.ListAlerts(ctx, c.pollOptions)
		if err != nil {
			return nil, fmt.Errorf("poll failed: %w", err)
		}
		c.store.LoadFromPoll(page.Alerts)
		return nil, nil
	})
	return err
}

// Acknowledge marks an alert read locally, then confirms with the API.
// On failure the record reverts to exactly its previous state and the error
// is returned for the caller to surface.
func (c *Controller) Acknowledge(ctx context.Context, alertID, by string) error {
	if err := c.begin(alertID); err != nil {
		return err
	}
	defer c.end(alertID)

	prev, ok := c.store.Get(alertID)
	if !ok {
		return ErrUnknownAlert
	}

	optimistic := prev
	optimistic.IsRead = true
	now := time.Now().UTC()
	optimistic.AcknowledgedBy = &by
	optimistic.AcknowledgedAt = &now
	c.store.Apply(optimistic)

	updated, err := c.client.AcknowledgeAlert(ctx, alertID, &alertflow.AcknowledgeRequest{AcknowledgedBy: by})
	if err != nil {
		c.store.Apply(prev)
		c.logger.WithError(err).WithField("alert_id", alertID).Warn("Acknowledge rejected, local state reverted")
		return fmt.Errorf("acknowledge %s: %w", alertID, err)
	}

	c.store.ApplyServer(*updated)
	return nil
}

// Resolve marks an alert resolved locally, then confirms with the API.
// Same contract as Acknowledge.
func (c *Controller) Resolve(ctx context.Context, alertID, by string) error {
	if err := c.begin(alertID); err != nil {
		return err
	}
	defer c.end(alertID)

	prev, ok := c.store.Get(alertID)
	if !ok {
		return ErrUnknownAlert
	}

	optimistic := prev
	optimistic.IsResolved = true
	now := time.Now().UTC()
	optimistic.ResolvedBy = &by
	optimistic.ResolvedAt = &now
	c.store.Apply(optimistic)

	updated, err := c.client.ResolveAlert(ctx, alertID, &alertflow.ResolveRequest{ResolvedBy: by})
	if err != nil {
		c.store.Apply(prev)
		c.logger.WithError(err).WithField("alert_id", alertID).Warn("Resolve rejected, local state reverted")
		return fmt.Errorf("resolve %s: %w", alertID, err)
	}

	c.store.ApplyServer(*updated)
	return nil
}

func (c *Controller) begin(alertID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[alertID] {
		return ErrMutationInFlight
	}
	c.inflight[alertID] = true
	return nil
}

func (c *Controller) end(alertID string) {
	c.mu.Lock()
	delete(c.inflight, alertID)
	c.mu.Unlock()
}
