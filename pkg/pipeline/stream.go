package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agile-enigma/bsky-multitool/pkg/firehose"
	"github.com/agile-enigma/bsky-multitool/pkg/logging"
	"github.com/agile-enigma/bsky-multitool/pkg/monitoring"
)

// StopConditions bound a run. MaxItems caps accepted records exactly;
// CutoffTime is a boundary timestamp whose meaning depends on the
// ingestion mode: a future end time for streaming, a past floor for
// historical queries.
type StopConditions struct {
	MaxItems   int
	CutoffTime time.Time
}

// Subscription is the live event feed the stream pipeline consumes.
// Satisfied by *firehose.Consumer.
type Subscription interface {
	Start(ctx context.Context, handler firehose.CommitHandler) error
	Stop()
}

// StreamOptions configures StartStream.
type StreamOptions struct {
	Subscription Subscription
	Filter       *Filter
	Stop         StopConditions
	Enricher     *Enricher
	Sink         *BatchSink
	Logger       logging.Logger
	// Metrics may be nil.
	Metrics *monitoring.PipelineMetrics
	// Progress, when set, receives the stop-condition message.
	Progress io.Writer
}

// StartStream consumes the live feed until a stop condition fires, the
// context is cancelled, or the subscription fails. Every surviving
// operation flows decode → classify → filter → enrich → sink inline on
// the consumer's goroutine. Buffered records are flushed on every exit
// path.
//
// The collected records are returned when the sink runs in collect
// mode (no writer configured).
func StartStream(ctx context.Context, opts StreamOptions) ([]*EnrichedRecord, error) {
	if !opts.Stop.CutoffTime.IsZero() && !opts.Stop.CutoffTime.After(time.Now()) {
		return nil, fmt.Errorf("stream cutoff time %s is not in the future", opts.Stop.CutoffTime.Format(time.RFC3339))
	}

	var stopReason string
	handler := func(commit *firehose.RepoCommit) error {
		for i := range commit.Ops {
			op := &commit.Ops[i]
			ev, ok := eventFromOp(commit, op, opts.Logger, opts.Metrics)
			if !ok {
				continue
			}

			action := Classify(ev.Collection, ev.Action, ev.Record)
			if opts.Metrics != nil {
				opts.Metrics.RecordsClassified.WithLabelValues(string(action)).Inc()
			}
			if action == ActionOther {
				continue
			}

			if !opts.Stop.CutoffTime.IsZero() {
				if created := ev.CreatedAt(); !created.IsZero() && !created.Before(opts.Stop.CutoffTime) {
					stopReason = "cutoff time reached"
					return firehose.ErrStop
				}
			}

			if !opts.Filter.Match(action, ev.Record) {
				continue
			}

			rec := opts.Enricher.Enrich(ctx, ev, action)
			if err := opts.Sink.Accept(ctx, rec, false); err != nil {
				return err
			}
			if opts.Stop.MaxItems > 0 && opts.Sink.Count() >= opts.Stop.MaxItems {
				stopReason = fmt.Sprintf("max items reached (%d)", opts.Stop.MaxItems)
				return firehose.ErrStop
			}
		}
		return nil
	}

	runErr := opts.Subscription.Start(ctx, handler)

	// Final flush happens regardless of how the stream ended.
	if err := opts.Sink.Accept(context.WithoutCancel(ctx), nil, true); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			opts.Logger.WithError(err).Error("Final flush failed")
		}
	}

	if stopReason != "" && opts.Progress != nil {
		fmt.Fprintf(opts.Progress, "\nStop condition reached: %s\n", stopReason)
	}
	if runErr != nil {
		return nil, runErr
	}
	return opts.Sink.Collected(), nil
}

// eventFromOp turns one repository operation into a RawEvent. Returns
// false for operations whose record block is missing or malformed;
// those are soft errors dropped at Debug.
func eventFromOp(commit *firehose.RepoCommit, op *firehose.RepoOp, logger logging.Logger, metrics *monitoring.PipelineMetrics) (*RawEvent, bool) {
	collection := op.Path
	if i := strings.IndexByte(op.Path, '/'); i >= 0 {
		collection = op.Path[:i]
	}

	ev := &RawEvent{
		Repo:       commit.Repo,
		Revision:   commit.Rev,
		Sequence:   commit.Seq,
		Action:     op.Action,
		URI:        fmt.Sprintf("at://%s/%s", commit.Repo, op.Path),
		Path:       op.Path,
		Collection: collection,
	}

	if op.Action != "create" {
		// Deletes and updates carry no block; classification maps
		// them to "other" without a record.
		return ev, true
	}

	ev.CID = op.CID.String()
	block, ok := commit.Block(op.CID)
	if !ok {
		drop(logger, metrics, "missing_block", ev.URI, nil)
		return nil, false
	}
	record, err := firehose.DecodeRecord(block)
	if err != nil {
		if !errors.Is(err, firehose.ErrUntypedRecord) {
			drop(logger, metrics, "bad_record", ev.URI, err)
		}
		return nil, false
	}
	ev.Record = record
	return ev, true
}

func drop(logger logging.Logger, metrics *monitoring.PipelineMetrics, reason, uri string, err error) {
	if metrics != nil {
		metrics.FramesDropped.WithLabelValues(reason).Inc()
	}
	if logger != nil {
		entry := logger.WithFields(logging.Fields{"reason": reason, "uri": uri})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Debug("Dropped operation")
	}
}
