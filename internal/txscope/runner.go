// Package txscope выполняет работу внутри scope хранилища и гарантирует,
// что scope будет освобождён ровно один раз на любом пути выхода.
package txscope

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/metrics"
)

// Func — тело, выполняемое внутри scope.
type Func func(ctx context.Context, scope domain.Scope) error

// Runner открывает scope, выполняет тело и фиксирует либо откатывает результат.
type Runner struct {
	opener  domain.ScopeOpener
	metrics *metrics.OrderMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewRunner создаёт Runner. metrics и logger могут быть nil.
func NewRunner(opener domain.ScopeOpener, m *metrics.OrderMetrics, logger *log.Entry) *Runner {
	if logger == nil {
		logger = log.WithField("component", "txscope")
	}
	return &Runner{
		opener:  opener,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Run выполняет fn внутри нового scope.
//
// Commit вызывается, только если fn вернула nil и ctx не отменён. Иначе scope
// откатывается, а ошибка отката присоединяется к исходной. Паника в fn приводит
// к откату и пробрасывается дальше.
func (r *Runner) Run(ctx context.Context, fn Func) (err error) {
	scope, err := r.opener.Begin(ctx)
	if err != nil {
		return fmt.Errorf("open scope: %w", err)
	}

	started := r.now()
	r.metrics.ScopeOpened()

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := scope.Rollback(); rbErr != nil {
			r.logger.WithError(rbErr).Warn("rollback after panic failed")
		}
		r.metrics.ScopeClosed(metrics.OutcomePanic, r.now().Sub(started))
		panic(p)
	}()

	bodyErr := fn(ctx, scope)
	if bodyErr == nil {
		bodyErr = ctx.Err()
	}

	if bodyErr != nil {
		if rbErr := scope.Rollback(); rbErr != nil {
			r.logger.WithError(rbErr).Warn("scope rollback failed")
			bodyErr = errors.Join(bodyErr, fmt.Errorf("rollback scope: %w", rbErr))
		}
		r.metrics.ScopeClosed(metrics.OutcomeRolledBack, r.now().Sub(started))
		return bodyErr
	}

	if err := scope.Commit(); err != nil {
		r.metrics.ScopeClosed(metrics.OutcomeCommitError, r.now().Sub(started))
		r.logger.WithError(err).Warn("scope commit failed")
		return fmt.Errorf("commit scope: %w", err)
	}

	r.metrics.ScopeClosed(metrics.OutcomeCommitted, r.now().Sub(started))
	return nil
}
