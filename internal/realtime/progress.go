package realtime

import (
	"sync"

	"github.com/charlesng35/sftpgate/internal/services"
)

// minTransferStep is the smallest percentage advance that produces a new
// transfer event for the same file.
const minTransferStep = 1.0

// ProgressPublisher forwards file operation progress to websocket subscribers.
// Transfer events are thinned to whole-percent steps; batch, sync and
// completion events are always sent.
type ProgressPublisher struct {
	hub    *Hub
	stream string
	owner  string

	mu       sync.Mutex
	lastFile string
	lastPct  float64
}

var _ services.Observer = (*ProgressPublisher)(nil)

// NewProgressPublisher publishes on ProgressStream(id) to connections of owner.
// It returns nil when hub or id is missing; a nil publisher drops every event.
func NewProgressPublisher(hub *Hub, id, owner string) *ProgressPublisher {
	stream := ProgressStream(id)
	if hub == nil || stream == "" {
		return nil
	}
	return &ProgressPublisher{hub: hub, stream: stream, owner: owner, lastPct: -1}
}

func (p *ProgressPublisher) OnTransfer(progress services.TransferProgress) {
	if p == nil || !p.advance(progress) {
		return
	}
	p.publish(EventTransfer, progress)
}

func (p *ProgressPublisher) OnBatch(progress services.BatchProgress) {
	p.publish(EventBatch, progress)
}

func (p *ProgressPublisher) OnSync(progress services.SyncProgress) {
	p.publish(EventSync, progress)
}

// Complete announces the final outcome of the operation.
func (p *ProgressPublisher) Complete(success bool, message string) {
	p.publish(EventComplete, map[string]any{"success": success, "message": message})
}

func (p *ProgressPublisher) advance(progress services.TransferProgress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := progress.TotalBytes > 0 && progress.BytesTransferred >= progress.TotalBytes
	if progress.FileName != p.lastFile || done || progress.Percentage-p.lastPct >= minTransferStep {
		p.lastFile = progress.FileName
		p.lastPct = progress.Percentage
		return true
	}
	return false
}

func (p *ProgressPublisher) publish(event string, data any) {
	if p == nil {
		return
	}
	p.hub.Publish(p.stream, p.owner, Message{Event: event, Data: data})
}
