package sftp

import (
	"fmt"
	"strings"
)

// DirEnsurer creates remote directory chains. Prefixes it has already confirmed
// are remembered so a sync creates each ancestor once.
type DirEnsurer struct {
	client  Client
	ensured map[string]struct{}
}

// NewDirEnsurer returns an ensurer bound to client. It is not safe for concurrent use.
func NewDirEnsurer(client Client) *DirEnsurer {
	return &DirEnsurer{client: client, ensured: map[string]struct{}{"/": {}}}
}

// EnsureDir creates p and every missing ancestor.
func EnsureDir(client Client, p string) error {
	return NewDirEnsurer(client).Ensure(p)
}

// Ensure walks p from the root, creating missing segments. It is idempotent.
func (e *DirEnsurer) Ensure(p string) error {
	segments := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	current := ""
	for _, segment := range segments {
		current += "/" + segment
		if _, ok := e.ensured[current]; ok {
			continue
		}
		if err := e.ensureOne(current); err != nil {
			return err
		}
		e.ensured[current] = struct{}{}
	}
	return nil
}

// ensureOne creates dir unless it is already a directory. A failed probe is
// treated as missing.
func (e *DirEnsurer) ensureOne(dir string) error {
	probe := Probe(e.client, dir)
	if probe.Exists() {
		if !probe.IsDir {
			return fmt.Errorf("sftp: %s exists and is not a directory: %w", dir, ErrValidation)
		}
		return nil
	}

	if err := e.client.Mkdir(dir); err != nil {
		// Another writer may have created it between the probe and the mkdir.
		if again := Probe(e.client, dir); again.Exists() && again.IsDir {
			return nil
		}
		return fmt.Errorf("sftp: mkdir %s: %w", dir, err)
	}
	return nil
}
