package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asgl-platform/docchat/internal/credits"
	"github.com/asgl-platform/docchat/internal/datasets"
	"github.com/asgl-platform/docchat/internal/observability"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Service gates billable chat turns: authorization first, then the atomic
// credit deduction, then the upstream call. A turn aborted after a
// successful deduction is not refunded. The store-facing phase runs under
// storeTimeout; only the upstream stream is allowed to run long.
type Service struct {
	access       *datasets.Resolver
	roles        *rbac.Resolver
	ledger       *credits.Service
	upstream     Upstream
	metrics      *observability.Metrics
	logger       *slog.Logger
	turnCost     int64
	storeTimeout time.Duration
}

// NewService constructs the chat gate. storeTimeout bounds the
// authorize-and-deduct phase; zero disables the deadline.
func NewService(access *datasets.Resolver, roles *rbac.Resolver, ledger *credits.Service, upstream Upstream, metrics *observability.Metrics, logger *slog.Logger, turnCost int64, storeTimeout time.Duration) *Service {
	return &Service{
		access:       access,
		roles:        roles,
		ledger:       ledger,
		upstream:     upstream,
		metrics:      metrics,
		logger:       logger,
		turnCost:     turnCost,
		storeTimeout: storeTimeout,
	}
}

// Authorize verifies the principal may chat against the requested dataset and
// documents. Fails closed: any unresolved access question denies the turn.
func (s *Service) Authorize(ctx context.Context, p *rbac.Principal, turn TurnRequest) error {
	if p == nil {
		return shared.ErrUnauthorized
	}
	allowed, err := s.roles.HasPermission(ctx, p, shared.PermChatUse)
	if err != nil {
		return err
	}
	if !allowed {
		s.metrics.RecordAuthzDenial("chat", "use")
		return shared.ErrForbidden
	}
	ok, err := s.access.CanAccessDataset(ctx, p, turn.DatasetID, datasets.ActionView)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.RecordAuthzDenial("dataset", string(datasets.ActionView))
		return shared.ErrForbidden
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, docID := range turn.DocumentIDs {
		g.Go(func() error {
			ok, err := s.access.CanAccessDocument(gctx, p, docID, datasets.ActionView)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.RecordAuthzDenial("document", string(datasets.ActionView))
				return shared.ErrForbidden
			}
			return nil
		})
	}
	return g.Wait()
}

// CompleteTurn runs the full gate and streams the upstream answer into w.
// The request middleware exempts the chat route from the global timeout so
// long streams survive; the deadline for the store calls is applied here
// instead, on a child context that does not cover the stream.
func (s *Service) CompleteTurn(ctx context.Context, p *rbac.Principal, turn TurnRequest, w io.Writer) error {
	gateCtx := ctx
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		gateCtx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}

	if err := s.Authorize(gateCtx, p, turn); err != nil {
		return err
	}

	metadata := map[string]any{
		"turn_id":    turn.TurnID,
		"dataset_id": turn.DatasetID,
	}
	charged, err := s.ledger.UseCredit(gateCtx, p.ID, s.turnCost, credits.ActionChatTurn, metadata)
	if err != nil {
		return err
	}
	s.metrics.RecordCreditDeduction(charged)
	if !charged {
		return fmt.Errorf("%w: %d credit(s) required", shared.ErrInsufficientCredit, s.turnCost)
	}

	if err := s.upstream.StreamCompletion(ctx, turn, w); err != nil {
		// The deduction stands: the fail-safe runs in the provider's
		// favor. See the usage record for the charged turn.
		if s.logger != nil {
			s.logger.Warn("upstream turn failed after deduction",
				slog.String("turn_id", turn.TurnID),
				slog.Int64("user_id", p.ID),
				slog.Any("error", err))
		}
		return err
	}
	return nil
}

// TurnCost exposes the configured per-turn price.
func (s *Service) TurnCost() int64 {
	return s.turnCost
}
