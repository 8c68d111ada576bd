package sftp

import (
	"os"
)

// ProbeState is the outcome of probing a remote path.
type ProbeState int

const (
	ProbeNotExists ProbeState = iota
	ProbeExists
	ProbeFailed
)

func (s ProbeState) String() string {
	switch s {
	case ProbeExists:
		return "exists"
	case ProbeNotExists:
		return "not_exists"
	default:
		return "failed"
	}
}

// ProbeResult describes a remote path. Err is set only when State is ProbeFailed.
type ProbeResult struct {
	State ProbeState
	IsDir bool
	Info  os.FileInfo
	Err   error
}

// Exists reports whether the path was found.
func (r ProbeResult) Exists() bool { return r.State == ProbeExists }

// Probe stats path. A missing path is ProbeNotExists, never an error.
func Probe(client Client, path string) ProbeResult {
	info, err := client.Stat(path)
	if err != nil {
		if IsNotExist(err) {
			return ProbeResult{State: ProbeNotExists}
		}
		return ProbeResult{State: ProbeFailed, Err: err}
	}
	return ProbeResult{State: ProbeExists, IsDir: info.IsDir(), Info: info}
}
