package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/metrics"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

// Job outcomes, also used as metric labels.
const (
	OutcomeAttested = "attested"
	OutcomeDeferred = "deferred"
	OutcomeFailed   = "failed"
	OutcomeExpired  = "expired"
	OutcomeRejected = "rejected"
)

// Config controls batch size, polling cadence and retry backoff.
type Config struct {
	BatchSize  int           // facts leased per cycle
	Interval   time.Duration // poll interval, also the first retry delay
	MaxBackoff time.Duration
}

// Worker turns pending decryption requests into attestations.
type Worker struct {
	facts        store.Facts
	attestations store.Attestations
	dec          cipher.Decryptor
	signer       *Signer
	wake         <-chan events.Fact
	cfg          Config
	log          zerolog.Logger
	now          func() time.Time
}

// Option customises a Worker.
type Option func(*Worker)

// WithWake makes the worker run a cycle whenever a decryption request is
// seen on ch, in addition to its ticker.
func WithWake(ch <-chan events.Fact) Option { return func(w *Worker) { w.wake = ch } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

// NewWorker constructs a Worker from dependencies.
func NewWorker(st store.Store, dec cipher.Decryptor, signer *Signer, cfg Config, log zerolog.Logger, opts ...Option) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = 5 * time.Minute
	}
	w := &Worker{
		facts:        st.Facts(),
		attestations: st.Attestations(),
		dec:          dec,
		signer:       signer,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("decryption oracle starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("decryption oracle stopping")
			return ctx.Err()
		case f := <-w.wake:
			if f.Kind != events.KindDecryptionRequested {
				continue
			}
		case <-ticker.C:
		}
		if _, err := w.ProcessOnce(ctx); err != nil {
			// per-fact backoff prevents hot-looping
			w.log.Error().Err(err).Msg("oracle cycle")
		}
	}
}

// ProcessOnce handles one batch of due requests and returns how many were
// leased.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	rows, err := w.facts.Pending(ctx, events.KindDecryptionRequested, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("lease decryption requests: %w", err)
	}
	for _, row := range rows {
		outcome := w.handle(ctx, row)
		metrics.OracleJobsTotal.WithLabelValues(outcome).Inc()
	}
	return len(rows), nil
}

func (w *Worker) handle(ctx context.Context, row store.FactRow) string {
	log := w.log.With().Int64("fact_id", row.ID).Uint64("session_id", uint64(row.SessionID)).Logger()

	var req events.DecryptionRequestedPayload
	if err := row.Decode(&req); err != nil {
		w.reject(ctx, log, row.ID, "bad payload: "+err.Error())
		return OutcomeRejected
	}

	now := w.now()
	start := time.Unix(req.Grant.StartTimestamp, 0)
	if now.Before(start) {
		if err := w.facts.MarkFailed(ctx, row.ID, start, "grant not yet open"); err != nil {
			log.Error().Err(err).Msg("defer request")
		}
		log.Debug().Time("grant_start", start).Msg("grant not yet open")
		return OutcomeDeferred
	}
	if !req.Grant.Covers(now) {
		w.reject(ctx, log, row.ID, "decryption grant expired")
		return OutcomeExpired
	}

	scores, err := w.decrypt(ctx, req.Handles)
	if err == nil {
		err = w.attest(ctx, row.SessionID, req.Handles, scores)
	}
	if err != nil {
		next := now.Add(w.retryDelay(row.Attempts))
		if e := w.facts.MarkFailed(ctx, row.ID, next, err.Error()); e != nil {
			log.Error().Err(e).Msg("markFailed error")
		}
		log.Warn().Err(err).Int("attempts", row.Attempts+1).Time("next_attempt", next).Msg("decryption failed")
		return OutcomeFailed
	}

	if err := w.facts.MarkDone(ctx, row.ID); err != nil {
		log.Error().Err(err).Msg("markDone error")
	}
	log.Info().Msg("scores attested")
	return OutcomeAttested
}

func (w *Worker) decrypt(ctx context.Context, handles model.Handles) (model.Scores, error) {
	var v [model.NumFields]uint32
	for f, h := range handles {
		if h == "" {
			return model.Scores{}, fmt.Errorf("missing %s handle", model.Field(f))
		}
		x, err := w.dec.Decrypt(ctx, h)
		if err != nil {
			return model.Scores{}, fmt.Errorf("decrypt %s: %w", model.Field(f), err)
		}
		v[f] = x
	}
	return model.ScoresFromArray(v), nil
}

func (w *Worker) attest(ctx context.Context, id model.SessionID, handles model.Handles, scores model.Scores) error {
	token, err := w.signer.Sign(id, handles, scores)
	if err != nil {
		return err
	}
	return w.attestations.Put(ctx, store.Attestation{
		SessionID: id,
		Token:     token,
		Scores:    scores,
		IssuedAt:  w.now().UTC(),
	})
}

func (w *Worker) reject(ctx context.Context, log zerolog.Logger, id int64, cause string) {
	if err := w.facts.MarkRejected(ctx, id, cause); err != nil {
		log.Error().Err(err).Msg("markRejected error")
	}
	log.Warn().Str("cause", cause).Msg("decryption request rejected")
}

// retryDelay is the exponential backoff after attempts earlier failures.
func (w *Worker) retryDelay(attempts int) time.Duration {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.Interval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = w.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	d := exp.NextBackOff()
	for i := 0; i < attempts; i++ {
		d = exp.NextBackOff()
	}
	return d
}

// Latest returns the most recent attestation for session id.
func Latest(ctx context.Context, st store.Store, id model.SessionID) (store.Attestation, error) {
	a, err := st.Attestations().Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Attestation{}, model.NewError(model.CodeNotFound, fmt.Sprintf("no attestation for session %d yet", id))
	}
	return a, err
}
