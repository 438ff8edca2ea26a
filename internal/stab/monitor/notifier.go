package monitor

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/veloframe/steady.video/internal/httputil"
	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/engine"
)

// StateChangeEvent is the webhook payload posted on every engine state
// transition.
type StateChangeEvent struct {
	InstanceID string    `json:"instance_id"`
	FrameIndex int64     `json:"frame_index"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier decorates an engine.Recorder, posting state changes to a
// webhook. Frame metrics pass through untouched; transitions are rare and
// worth alerting on, per-frame data is not.
type Notifier struct {
	inner      engine.Recorder
	client     httputil.HTTPClient
	url        string
	instanceID string
}

// NewNotifier wraps inner with webhook delivery to url. inner may be nil
// when only notifications are wanted.
func NewNotifier(inner engine.Recorder, client httputil.HTTPClient, url, instanceID string) *Notifier {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Notifier{inner: inner, client: client, url: url, instanceID: instanceID}
}

// RecordFrame forwards to the wrapped recorder.
func (n *Notifier) RecordFrame(m engine.FrameMetrics) {
	if n.inner != nil {
		n.inner.RecordFrame(m)
	}
}

// RecordStateChange forwards to the wrapped recorder and posts the event.
// Delivery failures are logged, never propagated: the engine must not
// stall on a slow webhook endpoint.
func (n *Notifier) RecordStateChange(frameIndex int64, from, to engine.State, reason string) {
	if n.inner != nil {
		n.inner.RecordStateChange(frameIndex, from, to, reason)
	}

	event := StateChangeEvent{
		InstanceID: n.instanceID,
		FrameIndex: frameIndex,
		FromState:  from.String(),
		ToState:    to.String(),
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		stab.Diagf("monitor: failed to marshal state change event: %v", err)
		return
	}
	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		stab.Diagf("monitor: webhook delivery failed: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		stab.Diagf("monitor: webhook returned status %d", resp.StatusCode)
	}
}
