// Package requests holds ephemeral viewer-initiated control requests
// (pause, rewind, quick-message) awaiting moderator approval. Requests
// live in memory, expire after a short TTL, and on approval re-enter the
// playback reconciler with the debounce bypassed.
package requests

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/metrics"
	"github.com/parhamf6/Echo-Frame/internal/models"
)

// PlaybackController is the slice of the reconciler the queue needs to
// turn an approval into a playback command.
type PlaybackController interface {
	State(ctx context.Context, roomID string) (*models.PlaybackState, error)
	ApplyCommand(ctx context.Context, roomID string, actor models.Identity, upd models.PlaybackUpdate) (*models.PlaybackState, error)
}

// Notifier fans queue events out to the room.
type Notifier interface {
	Broadcast(roomID, event string, payload any, excludeGuest string)
}

const (
	eventViewerRequest   = "viewer_request"
	eventRequestApproved = "request_approved"
	eventRequestDismiss  = "request_dismissed"
)

// SubmitParams carries the optional request parameters.
type SubmitParams struct {
	RewindSeconds float64
	Message       string
}

// Queue is the per-process approval queue. All rooms share one queue;
// entries are few and short-lived, so a single mutex is enough.
type Queue struct {
	controller PlaybackController
	notifier   Notifier
	ttl        time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]*models.ViewerRequest
}

// NewQueue constructs a Queue.
func NewQueue(controller PlaybackController, notifier Notifier, ttl time.Duration, logger zerolog.Logger) *Queue {
	return &Queue{
		controller: controller,
		notifier:   notifier,
		ttl:        ttl,
		logger:     logger,
		now:        time.Now,
		pending:    make(map[string]*models.ViewerRequest),
	}
}

// Submit records a viewer request and announces it to the room so
// moderators see it. Always succeeds for a valid type; the returned
// request is the requester's confirmation.
func (q *Queue) Submit(ctx context.Context, roomID string, requester models.Identity, typ models.RequestType, params SubmitParams) (*models.ViewerRequest, error) {
	if roomID == "" {
		return nil, models.ErrValidation
	}
	if !typ.Valid() {
		return nil, models.ErrValidation
	}
	// A rewind must move backwards; a non-positive value would turn the
	// approved command into a fast-forward.
	if typ == models.RequestRewind && params.RewindSeconds <= 0 {
		return nil, models.ErrValidation
	}

	req := &models.ViewerRequest{
		ID:            "req_" + ulid.Make().String(),
		Type:          typ,
		RoomID:        roomID,
		RequesterID:   requester.ID,
		RequesterName: requester.DisplayName,
		RewindSeconds: params.RewindSeconds,
		Message:       params.Message,
		CreatedAt:     q.now(),
	}

	q.mu.Lock()
	q.pending[req.ID] = req
	q.mu.Unlock()

	metrics.ViewerRequests.WithLabelValues(string(typ), "submitted").Inc()
	q.notifier.Broadcast(roomID, eventViewerRequest, req, "")
	return req, nil
}

// Approve applies the requested effect through the reconciler's command
// path and removes the request. Requires a moderator or admin; an
// unauthorized approver leaves the request untouched.
func (q *Queue) Approve(ctx context.Context, requestID string, approver models.Identity) error {
	if !approver.Role.CanControl() {
		return models.ErrUnauthorized
	}

	q.mu.Lock()
	req, ok := q.pending[requestID]
	q.mu.Unlock()
	if !ok {
		return models.ErrNotFound
	}

	if err := q.applyEffect(ctx, req, approver); err != nil {
		return err
	}

	q.mu.Lock()
	delete(q.pending, requestID)
	q.mu.Unlock()

	metrics.ViewerRequests.WithLabelValues(string(req.Type), "approved").Inc()
	q.notifier.Broadcast(req.RoomID, eventRequestApproved, req, "")

	// The applied command makes other pending requests of the same type
	// moot.
	if req.Type == models.RequestPause || req.Type == models.RequestRewind {
		q.DismissMatching(req.RoomID, req.Type)
	}
	return nil
}

// applyEffect computes and applies the playback effect of an approved
// request. Quick-messages carry no playback effect.
func (q *Queue) applyEffect(ctx context.Context, req *models.ViewerRequest, approver models.Identity) error {
	if req.Type == models.RequestQuickMessage {
		return nil
	}

	state, err := q.controller.State(ctx, req.RoomID)
	if err != nil {
		return err
	}
	if state == nil {
		return models.ErrNotFound
	}

	now := q.now()
	current := state.CurrentPosition(now)

	upd := models.PlaybackUpdate{MediaID: state.MediaID}
	switch req.Type {
	case models.RequestPause:
		// Freeze at the interpolated position.
		upd.IsPlaying = false
		upd.Position = current
	case models.RequestRewind:
		upd.IsPlaying = state.IsPlaying
		upd.Position = current - req.RewindSeconds
		if upd.Position < 0 {
			upd.Position = 0
		}
	}

	_, err = q.controller.ApplyCommand(ctx, req.RoomID, approver, upd)
	return err
}

// Dismiss removes a request without applying it. Same authorization as
// Approve.
func (q *Queue) Dismiss(ctx context.Context, requestID string, approver models.Identity) error {
	if !approver.Role.CanControl() {
		return models.ErrUnauthorized
	}

	q.mu.Lock()
	req, ok := q.pending[requestID]
	if ok {
		delete(q.pending, requestID)
	}
	q.mu.Unlock()
	if !ok {
		return models.ErrNotFound
	}

	metrics.ViewerRequests.WithLabelValues(string(req.Type), "dismissed").Inc()
	q.notifier.Broadcast(req.RoomID, eventRequestDismiss, req, "")
	return nil
}

// DismissMatching drops every pending request of the given type in a room.
// Called after a successful pause or rewind command made them moot.
func (q *Queue) DismissMatching(roomID string, typ models.RequestType) {
	q.mu.Lock()
	var dismissed []*models.ViewerRequest
	for id, req := range q.pending {
		if req.RoomID == roomID && req.Type == typ {
			delete(q.pending, id)
			dismissed = append(dismissed, req)
		}
	}
	q.mu.Unlock()

	for _, req := range dismissed {
		metrics.ViewerRequests.WithLabelValues(string(req.Type), "dismissed").Inc()
		q.notifier.Broadcast(req.RoomID, eventRequestDismiss, req, "")
	}
}

// Pending returns a room's outstanding requests, oldest first.
func (q *Queue) Pending(roomID string) []models.ViewerRequest {
	q.mu.Lock()
	var out []models.ViewerRequest
	for _, req := range q.pending {
		if req.RoomID == roomID {
			out = append(out, *req)
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Expire removes requests older than the TTL and notifies their rooms.
// Returns the number expired.
func (q *Queue) Expire() int {
	cutoff := q.now().Add(-q.ttl)

	q.mu.Lock()
	var expired []*models.ViewerRequest
	for id, req := range q.pending {
		if req.CreatedAt.Before(cutoff) {
			delete(q.pending, id)
			expired = append(expired, req)
		}
	}
	q.mu.Unlock()

	for _, req := range expired {
		metrics.ViewerRequests.WithLabelValues(string(req.Type), "expired").Inc()
		q.notifier.Broadcast(req.RoomID, eventRequestDismiss, req, "")
	}
	return len(expired)
}

// Run expires stale requests on a fixed interval until the context is
// cancelled. A failing iteration never takes the process down.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := q.Expire(); n > 0 {
				q.logger.Debug().Int("expired", n).Msg("stale viewer requests dropped")
			}
		}
	}
}
