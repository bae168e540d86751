package macro

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/services/evaluation"
)

// Macro kinds reported to a Recorder
const (
	KindBuiltin = "builtin"
	KindStored  = "stored"
	KindUnknown = "unknown"
)

// GroupSource supplies group memberships when the context has no user.groups
type GroupSource interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
}

// Recorder receives one call per executed macro
type Recorder interface {
	RecordMacro(name string, kind string, failed bool)
}

// Engine executes @name(...) calls for the Evaluator: built-in predicates
// over the context, or stored SQL macros run through a Session.
type Engine struct {
	macros   repositories.MacroRepository
	session  repositories.Session
	groups   GroupSource
	now      func() time.Time
	logger   *zap.Logger
	recorder Recorder
}

var _ evaluation.MacroExecutor = (*Engine)(nil)

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithGroupSource sets where has_group loads memberships from
func WithGroupSource(groups GroupSource) EngineOption {
	return func(e *Engine) {
		e.groups = groups
	}
}

// WithClock sets the clock used by in_time_range
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEngineLogger sets the logger
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(recorder Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// NewEngine creates a new Engine. macros and session may be nil when only
// built-in predicates are needed.
func NewEngine(macros repositories.MacroRepository, session repositories.Session, opts ...EngineOption) *Engine {
	e := &Engine{
		macros:  macros,
		session: session,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteMacro runs the macro called name. Built-in predicates never fail.
// An unknown stored macro evaluates to false; a stored macro called with the
// wrong number of arguments returns an *ArgumentCountError.
func (e *Engine) ExecuteMacro(ctx context.Context, name string, args []any, ectx *evaluation.Context) (any, error) {
	if p, ok := predicates[name]; ok {
		if name == "has_group" {
			ectx = e.withGroups(ctx, ectx)
		}
		result := p(ectx, args, e.now())
		e.record(name, KindBuiltin, false)
		return result, nil
	}

	result, err := e.executeStored(ctx, name, args)
	if err != nil {
		e.logger.Warn("macro execution failed", zap.String("macro", name), zap.Error(err))
	}
	return result, err
}

func (e *Engine) executeStored(ctx context.Context, name string, args []any) (any, error) {
	if e.macros == nil {
		e.record(name, KindUnknown, false)
		return false, nil
	}

	m, err := e.macros.GetByName(ctx, name)
	if errors.Is(err, repositories.ErrNotFound) {
		e.logger.Warn("unknown macro evaluates to false", zap.String("macro", name))
		e.record(name, KindUnknown, false)
		return false, nil
	}
	if err != nil {
		e.record(name, KindStored, true)
		return nil, fmt.Errorf("failed to load macro %q: %w", name, err)
	}

	if len(args) != len(m.Parameters) {
		e.record(name, KindStored, true)
		return nil, &ArgumentCountError{Name: name, Expected: len(m.Parameters), Got: len(args)}
	}

	if e.session == nil {
		e.record(name, KindStored, true)
		return nil, fmt.Errorf("macro %q: no database session configured", name)
	}

	value, err := e.session.QueryScalar(ctx, m.SQLQuery, args...)
	if err != nil {
		e.record(name, KindStored, true)
		return nil, fmt.Errorf("macro %q query failed: %w", name, err)
	}

	e.logger.Debug("stored macro executed", zap.String("macro", name), zap.Any("result", value))
	e.record(name, KindStored, false)
	return evaluation.Truthy(value), nil
}

// withGroups returns a context whose user.groups is filled from the group
// source when the caller did not supply it
func (e *Engine) withGroups(ctx context.Context, ectx *evaluation.Context) *evaluation.Context {
	if e.groups == nil {
		return ectx
	}
	if groups, ok := evaluation.AsSlice(ectx.Lookup(evaluation.RootUser, "groups")); ok && len(groups) > 0 {
		return ectx
	}

	userID, ok := ectx.Lookup(evaluation.RootUser, "id").(string)
	if !ok || userID == "" {
		return ectx
	}

	groups, err := e.groups.GroupsForUser(ctx, userID)
	if err != nil {
		e.logger.Warn("failed to load groups", zap.String("user_id", userID), zap.Error(err))
		return ectx
	}

	return evaluation.NewContext(map[string]any{
		evaluation.RootUser: map[string]any{"id": userID, "groups": groups},
	})
}

func (e *Engine) record(name, kind string, failed bool) {
	if e.recorder != nil {
		e.recorder.RecordMacro(name, kind, failed)
	}
}
