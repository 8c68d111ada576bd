package services

import (
	"io"
)

// SyncDirection names which side of a sync is the source.
type SyncDirection string

const (
	SyncLocalToRemote SyncDirection = "local_to_remote"
	SyncRemoteToLocal SyncDirection = "remote_to_local"
	SyncBidirectional SyncDirection = "bidirectional"
)

// TransferProgress is emitted while a single file streams.
type TransferProgress struct {
	FileName         string  `json:"file_name"`
	BytesTransferred int64   `json:"bytes_transferred"`
	TotalBytes       int64   `json:"total_bytes"`
	Percentage       float64 `json:"percentage"`
}

// BatchProgress is emitted after each file of a batch.
type BatchProgress struct {
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	FailedFiles    int    `json:"failed_files"`
	CurrentFile    string `json:"current_file"`
}

// SyncProgress is emitted after each file of a directory sync.
type SyncProgress struct {
	BatchProgress
	Direction SyncDirection `json:"direction"`
}

// Observer receives progress snapshots. Implementations must not block for long:
// callbacks run on the transferring goroutine.
type Observer interface {
	OnTransfer(TransferProgress)
	OnBatch(BatchProgress)
	OnSync(SyncProgress)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Transfer func(TransferProgress)
	Batch    func(BatchProgress)
	Sync     func(SyncProgress)
}

func (o ObserverFuncs) OnTransfer(p TransferProgress) {
	if o.Transfer != nil {
		o.Transfer(p)
	}
}

func (o ObserverFuncs) OnBatch(p BatchProgress) {
	if o.Batch != nil {
		o.Batch(p)
	}
}

func (o ObserverFuncs) OnSync(p SyncProgress) {
	if o.Sync != nil {
		o.Sync(p)
	}
}

// NopObserver discards every snapshot.
type NopObserver struct{}

func (NopObserver) OnTransfer(TransferProgress) {}
func (NopObserver) OnBatch(BatchProgress)       {}
func (NopObserver) OnSync(SyncProgress)         {}

func observerOrNop(obs Observer) Observer {
	if obs == nil {
		return NopObserver{}
	}
	return obs
}

// Percent returns done as a percentage of total, capped at 100. Unknown totals report 0.
func Percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(done) * 100 / float64(total)
	if pct > 100 {
		return 100
	}
	return pct
}

// progressReader reports bytes as they are read from the wrapped reader.
type progressReader struct {
	r     io.Reader
	name  string
	total int64
	done  int64
	obs   Observer
}

func newProgressReader(r io.Reader, name string, total int64, obs Observer) *progressReader {
	return &progressReader{r: r, name: name, total: total, obs: observerOrNop(obs)}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.done += int64(n)
		p.obs.OnTransfer(TransferProgress{
			FileName:         p.name,
			BytesTransferred: p.done,
			TotalBytes:       p.total,
			Percentage:       Percent(p.done, p.total),
		})
	}
	return n, err
}
