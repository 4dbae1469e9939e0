package chathub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/filter"
	"moodpair/backend/internal/logger"
	"moodpair/backend/internal/models"
	"moodpair/backend/internal/storage"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "moodpair/chathub"

// Match policies.
const (
	MatchSameTag = "same_tag"
	MatchAnyTag  = "any_tag"
)

// Localizer resolves the system texts sent with match and end events.
type Localizer interface {
	GetString(lang, key string) string
}

// Options are the tunables of the engine.
type Options struct {
	QueueTTL         time.Duration
	SessionTTL       time.Duration
	MessageRetention time.Duration
	OpTimeout        time.Duration
	HistoryLimit     int
	MatchPolicy      string
	// Emotions restricts the accepted tags. Empty accepts any well-formed tag.
	Emotions []string
	Language string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		QueueTTL:         5 * time.Minute,
		SessionTTL:       30 * time.Minute,
		MessageRetention: 30 * 24 * time.Hour,
		OpTimeout:        5 * time.Second,
		HistoryLimit:     50,
		MatchPolicy:      MatchSameTag,
		Language:         "en",
	}
}

// Deps are the collaborators of the engine. Queue, Sessions, Messages,
// Feedback and Filter are required.
type Deps struct {
	Queue       storage.Queue
	Sessions    storage.SessionStore
	Messages    storage.MessageLog
	Feedback    storage.FeedbackStore
	Broadcaster storage.Broadcaster
	Filter      *filter.Filter
	Clock       clock.Clock
	Texts       Localizer
	Logger      logrus.FieldLogger
	// Pingers are reported by Health, keyed by component name.
	Pingers map[string]storage.Pinger
}

// Engine pairs waiting users into sessions and relays their messages.
// It is safe for concurrent use; all shared state lives in the stores.
type Engine struct {
	queue       storage.Queue
	sessions    storage.SessionStore
	messages    storage.MessageLog
	feedback    storage.FeedbackStore
	broadcaster storage.Broadcaster
	filter      *filter.Filter
	clock       clock.Clock
	texts       Localizer
	log         logrus.FieldLogger
	tracer      trace.Tracer
	pingers     map[string]storage.Pinger

	opts     Options
	emotions map[string]struct{}
}

// NewEngine validates deps and fills defaults for zero options.
func NewEngine(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("chathub: queue is required")
	case deps.Sessions == nil:
		return nil, errors.New("chathub: session store is required")
	case deps.Messages == nil:
		return nil, errors.New("chathub: message log is required")
	case deps.Feedback == nil:
		return nil, errors.New("chathub: feedback store is required")
	case deps.Filter == nil:
		return nil, errors.New("chathub: filter is required")
	}

	def := DefaultOptions()
	if opts.QueueTTL <= 0 {
		opts.QueueTTL = def.QueueTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = def.SessionTTL
	}
	if opts.MessageRetention <= 0 {
		opts.MessageRetention = def.MessageRetention
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = def.OpTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.Language == "" {
		opts.Language = def.Language
	}
	switch opts.MatchPolicy {
	case "":
		opts.MatchPolicy = def.MatchPolicy
	case MatchSameTag, MatchAnyTag:
	default:
		return nil, fmt.Errorf("chathub: unknown match policy %q", opts.MatchPolicy)
	}

	e := &Engine{
		queue:       deps.Queue,
		sessions:    deps.Sessions,
		messages:    deps.Messages,
		feedback:    deps.Feedback,
		broadcaster: deps.Broadcaster,
		filter:      deps.Filter,
		clock:       deps.Clock,
		texts:       deps.Texts,
		log:         deps.Logger,
		tracer:      otel.Tracer(tracerName),
		pingers:     deps.Pingers,
		opts:        opts,
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.log == nil {
		e.log = logger.Discard()
	}
	if len(opts.Emotions) > 0 {
		e.emotions = make(map[string]struct{}, len(opts.Emotions))
		for _, tag := range opts.Emotions {
			e.emotions[normalizeTag(tag)] = struct{}{}
		}
	}
	return e, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// begin starts the span and the per-operation deadline. The returned func
// records *errp on the span and must be deferred.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(errp *error)) {
	ctx, span := e.tracer.Start(ctx, "chathub."+op, trace.WithAttributes(attrs...))
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		cancel()
		span.End()
	}
}

var domainErrors = []error{
	models.ErrInvalidInput,
	models.ErrNotFound,
	models.ErrForbidden,
	models.ErrGone,
	models.ErrRejected,
	models.ErrConflict,
	models.ErrTransient,
	models.ErrUnauthorized,
}

// storageErr keeps domain errors and classifies everything else, timeouts
// included, as transient.
func storageErr(op string, err error) error {
	for _, kind := range domainErrors {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrTransient, err)
}

// publish hands ev to the broadcaster. Failures are logged and swallowed:
// the stores are the source of truth and clients recover through history.
func (e *Engine) publish(ctx context.Context, ev models.ChatEvent) {
	if e.broadcaster == nil {
		return
	}
	if err := e.broadcaster.Publish(ctx, ev); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"event":      ev.Type,
			"session_id": ev.SessionID,
		}).Warn("Broadcast failed")
	}
}

func (e *Engine) text(key string) string {
	if e.texts == nil {
		return key
	}
	return e.texts.GetString(e.opts.Language, key)
}
