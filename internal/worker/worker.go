package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/echoguard/backend/internal/pipeline"
	"github.com/echoguard/backend/pkg/queue"
)

// Handler processes one envelope.
type Handler func(ctx context.Context, env *queue.Envelope) (pipeline.Outcome, error)

// Options tune the worker loops.
type Options struct {
	Concurrency    int           // goroutines per topic
	HandlerTimeout time.Duration // bound on one handler call
	PollTimeout    time.Duration // blocking dequeue timeout
	RetryBackoff   time.Duration // pause after a failed delivery
}

// Worker consumes bus topics and runs their handlers with ack, retry and dead-letter policy.
type Worker struct {
	queue  *queue.Queue
	routes map[string]Handler
	opts   Options
	tracer trace.Tracer
	logger *zap.Logger
}

// New creates a worker over q.
func New(q *queue.Queue, opts Options, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 3 * time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = queue.RetryBackoff
	}
	return &Worker{
		queue:  q,
		routes: make(map[string]Handler),
		opts:   opts,
		tracer: otel.Tracer("github.com/echoguard/backend/internal/worker"),
		logger: logger,
	}
}

// Handle registers h for topic.
func (w *Worker) Handle(topic string, h Handler) {
	w.routes[topic] = h
}

// Topics returns the registered topics.
func (w *Worker) Topics() []string {
	topics := make([]string, 0, len(w.routes))
	for t := range w.routes {
		topics = append(topics, t)
	}
	return topics
}

// Run recovers stranded envelopes, then consumes every registered topic until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for topic := range w.routes {
		if _, err := w.queue.Recover(ctx, topic); err != nil {
			return err
		}
	}
	var wg sync.WaitGroup
	for topic := range w.routes {
		for i := 0; i < w.opts.Concurrency; i++ {
			wg.Add(1)
			go func(topic string) {
				defer wg.Done()
				w.loop(ctx, topic)
			}(topic)
		}
	}
	w.logger.Info("worker started", zap.Strings("topics", w.Topics()), zap.Int("concurrency", w.opts.Concurrency))
	wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, topic string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.ProcessNext(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("dequeue error", zap.String("topic", topic), zap.Error(err))
			w.pause(ctx)
			continue
		}
		if processed == nil {
			continue
		}
		if *processed == pipeline.OutcomeFailed {
			w.pause(ctx)
		}
	}
}

func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.opts.RetryBackoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// ProcessNext dequeues and handles one envelope from topic. It returns nil when the poll timed out.
// Cancelling ctx stops the dequeue but not a handler already running.
func (w *Worker) ProcessNext(ctx context.Context, topic string) (*pipeline.Outcome, error) {
	env, err := w.queue.Dequeue(ctx, topic, w.opts.PollTimeout)
	if err != nil || env == nil {
		return nil, err
	}
	h, ok := w.routes[topic]
	if !ok {
		return nil, w.queue.DeadLetter(ctx, env, "no handler for topic")
	}

	spanCtx, span := w.tracer.Start(ctx, "pipeline "+topic, trace.WithAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message.id", env.ID),
		attribute.Int("echoguard.attempt", env.Attempt),
	))
	defer span.End()

	// A dequeued envelope is finished even when ctx is cancelled; HandlerTimeout bounds it.
	runCtx := context.WithoutCancel(spanCtx)
	hctx, cancel := context.WithTimeout(runCtx, w.opts.HandlerTimeout)
	outcome, herr := h(hctx, env)
	cancel()

	span.SetAttributes(attribute.String("echoguard.outcome", string(outcome)))
	if herr != nil {
		span.RecordError(herr)
		if pipeline.Retryable(herr) {
			span.SetStatus(codes.Error, herr.Error())
		}
	}
	return &outcome, w.settle(runCtx, env, outcome, herr)
}

// settle applies the delivery policy for a handled envelope.
func (w *Worker) settle(ctx context.Context, env *queue.Envelope, outcome pipeline.Outcome, herr error) error {
	log := w.logger.With(
		zap.String("event_id", env.ID),
		zap.String("topic", env.Topic),
		zap.Int("attempt", env.Attempt),
		zap.String("outcome", string(outcome)),
	)
	var malformed *pipeline.MalformedEventError
	var hard *pipeline.HardPreconditionError
	var business *pipeline.BusinessFailure
	switch {
	case herr == nil:
		log.Debug("event processed")
		return w.queue.Ack(ctx, env)
	case errors.As(herr, &malformed):
		log.Warn("malformed event", zap.Error(herr))
		return w.queue.DeadLetter(ctx, env, herr.Error())
	case errors.As(herr, &hard):
		log.Error("event ended in terminal error state", zap.Error(herr))
		return w.queue.Ack(ctx, env)
	case errors.As(herr, &business):
		log.Info("event ended in business failure", zap.Error(herr))
		return w.queue.Ack(ctx, env)
	default:
		log.Error("event failed, retrying", zap.Error(herr))
		return w.queue.Retry(ctx, env, herr)
	}
}

// Decode adapts a typed stage function to a Handler. Payloads that do not decode are malformed.
func Decode[T any](fn func(context.Context, T) (pipeline.Outcome, error)) Handler {
	return func(ctx context.Context, env *queue.Envelope) (pipeline.Outcome, error) {
		var ev T
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return pipeline.OutcomeFailed, &pipeline.MalformedEventError{Topic: env.Topic, Reason: err.Error()}
		}
		return fn(ctx, ev)
	}
}
