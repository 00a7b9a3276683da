package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/darkcode/darkcode-server/internal/agent"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/history"
	"github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/metrics"
	"github.com/darkcode/darkcode-server/internal/replay"
	"github.com/darkcode/darkcode-server/internal/session"
	"github.com/darkcode/darkcode-server/internal/telemetry"
)

// runControl serializes agent invocations. The CLI drives a single
// workspace, so one run at a time server-wide.
type runControl struct {
	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	owner  *client
}

// tryAcquire claims the run slot. Returns false when a run is already
// in flight.
func (rc *runControl) tryAcquire(owner *client, cancel context.CancelFunc) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.active {
		return false
	}
	rc.active = true
	rc.cancel = cancel
	rc.owner = owner
	return true
}

func (rc *runControl) release() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.active = false
	rc.cancel = nil
	rc.owner = nil
}

// interrupt cancels the in-flight run, if any.
func (rc *runControl) interrupt() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.active || rc.cancel == nil {
		return false
	}
	rc.cancel()
	return true
}

// interruptIfOwner cancels the run only when c started it. Used on
// disconnect so an unrelated viewer dropping off does not kill the
// owner's run.
func (rc *runControl) interruptIfOwner(c *client) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.active && rc.owner == c && rc.cancel != nil {
		rc.cancel()
	}
}

// seqTracker hands out monotonically increasing sequence numbers per
// stream key, continuing where the spool left off after a restart.
type seqTracker struct {
	mu   sync.Mutex
	next map[string]uint64
}

func (st *seqTracker) acquire(spool *replay.Spool, key string) uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.next == nil {
		st.next = make(map[string]uint64)
	}
	if _, ok := st.next[key]; !ok {
		last, err := spool.LastSeq(key)
		if err != nil {
			last = 0
		}
		st.next[key] = last
	}
	st.next[key]++
	return st.next[key]
}

func (h *Handler) handlePrompt(c *client, e Envelope) {
	if c.sess.Permission != config.PermissionFull {
		metrics.IncRejected("permission")
		c.enqueue(errorEnvelope(CodePermissionDenied, "read-only access cannot run prompts"))
		return
	}

	text := strings.TrimSpace(e.Text)
	if text == "" {
		c.enqueue(errorEnvelope(CodeBadRequest, "prompt text is empty"))
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if !h.run.tryAcquire(c, cancel) {
		cancel()
		c.enqueue(errorEnvelope(CodeAgentBusy, "a prompt is already running"))
		return
	}

	key := h.streamKey(c.sess)
	h.appendHistory(key, c.sess, &history.Message{Role: history.RoleUser, Content: text})

	go h.executePrompt(runCtx, c, key, text)
}

// executePrompt drives one agent invocation: streams output to the
// client and the replay spool, then records the transcript.
func (h *Handler) executePrompt(ctx context.Context, c *client, key, text string) {
	defer h.run.release()

	ctx, span := telemetry.Tracer("darkcode.agent").Start(ctx, "agent.run")
	span.SetAttributes(telemetry.SessionAttributes(c.sess.ID, c.sess.DeviceID, c.sess.IsGuest, c.sess.Permission)...)
	defer span.End()
	started := time.Now()

	c.enqueue(stateEnvelope(StateRunning))

	var agentOut strings.Builder
	res, err := h.deps.Runner.Run(ctx, text, func(stream string, data []byte) {
		f := replay.Frame{
			Seq:    h.seqs.acquire(h.deps.Spool, key),
			Stream: stream,
			Data:   string(data),
			Ts:     time.Now().UnixMilli(),
		}
		if spoolErr := h.deps.Spool.Append(key, f); spoolErr != nil {
			h.logger.Error().Err(spoolErr).Msg("spooling output frame failed")
		}
		if stream == agent.StreamStdout {
			agentOut.WriteString(f.Data)
		}
		c.enqueue(outputEnvelope(f))
	})
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(err, "agent_start")...)
		h.logger.Error().Err(err).Str(log.FieldSessionID, c.sess.ID).Msg("agent run failed")
		c.enqueue(errorEnvelope(CodeAgentFailed, err.Error()))
		c.enqueue(stateEnvelope(StateIdle))
		return
	}
	span.SetAttributes(telemetry.RunAttributes(len(text), res.ExitCode, time.Since(started).Milliseconds(), res.Interrupted)...)

	if out := strings.TrimSpace(agentOut.String()); out != "" {
		h.appendHistory(key, c.sess, &history.Message{Role: history.RoleAgent, Content: out})
	}
	if res.Interrupted {
		h.appendHistory(key, c.sess, &history.Message{Role: history.RoleSystem, Content: "Run interrupted."})
	}

	c.enqueue(doneEnvelope(res.ExitCode))
	c.enqueue(stateEnvelope(StateIdle))
}

func (h *Handler) handleInterrupt(c *client) {
	if c.sess.Permission != config.PermissionFull {
		metrics.IncRejected("permission")
		c.enqueue(errorEnvelope(CodePermissionDenied, "read-only access cannot interrupt runs"))
		return
	}
	if !h.run.interrupt() {
		// Nothing running; the done frame already went out.
		return
	}
	h.logger.Info().
		Str("event", "ws.run_interrupt_requested").
		Str(log.FieldSessionID, c.sess.ID).
		Msg("interrupt requested")
}

// handleReplay re-sends spooled output frames newer than the client's
// last seen sequence number.
func (h *Handler) handleReplay(c *client, e Envelope) {
	frames, err := h.deps.Spool.After(h.streamKey(c.sess), e.AfterSeq)
	if err != nil {
		h.logger.Error().Err(err).Msg("reading replay frames failed")
		c.enqueue(errorEnvelope(CodeBadRequest, "replay unavailable"))
		return
	}
	served := 0
	for _, f := range frames {
		if !c.enqueue(outputEnvelope(f)) {
			break
		}
		served++
	}
	metrics.AddReplayFramesServed(served)
}

func (h *Handler) appendHistory(key string, sess *session.Session, msg *history.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.deps.History.Append(ctx, key, sess.DeviceName, msg); err != nil {
		h.logger.Error().Err(err).Msg("appending history failed")
		return
	}
	metrics.IncHistoryWrite(msg.Role)
}
