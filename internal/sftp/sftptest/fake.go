// Package sftptest provides an in-memory sftp.Conn and sftp.Dialer for tests.
package sftptest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlesng35/sftpgate/internal/sftp"
)

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (f *fileInfo) Name() string       { return f.name }
func (f *fileInfo) Size() int64        { return f.size }
func (f *fileInfo) Mode() os.FileMode  { return f.mode }
func (f *fileInfo) ModTime() time.Time { return f.modTime }
func (f *fileInfo) IsDir() bool        { return f.isDir }
func (f *fileInfo) Sys() any           { return nil }

// NewFileInfo builds an os.FileInfo for tests that stub Stat or ReadDir.
func NewFileInfo(name string, size int64, isDir bool) os.FileInfo {
	mode := os.FileMode(0o644)
	if isDir {
		mode = os.ModeDir | 0o755
	}
	return &fileInfo{name: name, size: size, mode: mode, modTime: time.Unix(1700000000, 0).UTC(), isDir: isDir}
}

// Conn is an in-memory remote filesystem that records every call.
type Conn struct {
	mu        sync.Mutex
	files     map[string][]byte
	dirs      map[string]bool
	errs      map[string]error
	pathErrs  map[string]error
	calls     map[string]int
	mkdirs    map[string]int
	connected bool
	closed    int

	// Concurrent is returned by SupportsConcurrentUse.
	Concurrent bool
	// Version is returned by ServerVersion.
	Version string
	// Wd is returned by Getwd.
	Wd string
	// ID distinguishes connections created by a Dialer.
	ID int
}

// NewConn returns a connected, empty filesystem containing only "/".
func NewConn() *Conn {
	return &Conn{
		files:      map[string][]byte{},
		dirs:       map[string]bool{"/": true},
		errs:       map[string]error{},
		pathErrs:   map[string]error{},
		calls:      map[string]int{},
		mkdirs:     map[string]int{},
		connected:  true,
		Concurrent: true,
		Version:    "SSH-2.0-FakeSFTP",
		Wd:         "/",
	}
}

var _ sftp.Conn = (*Conn)(nil)

// AddDir creates dir and its ancestors without recording Mkdir calls.
func (c *Conn) AddDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addDirLocked(clean(dir))
}

// AddFile stores content at p, creating parent directories.
func (c *Conn) AddFile(p string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	c.addDirLocked(path.Dir(p))
	c.files[p] = append([]byte(nil), content...)
}

func (c *Conn) addDirLocked(dir string) {
	for dir != "/" && dir != "." {
		c.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

// File returns the stored content of p.
func (c *Conn) File(p string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[clean(p)]
	return append([]byte(nil), data...), ok
}

// HasDir reports whether dir exists.
func (c *Conn) HasDir(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirs[clean(dir)]
}

// SetError makes every call to op fail with err. A nil err clears it.
func (c *Conn) SetError(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errs, op)
		return
	}
	c.errs[op] = err
}

// SetPathError makes op fail with err for one path only.
func (c *Conn) SetPathError(op, p string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pathErrs[op+":"+clean(p)] = err
}

// Calls returns how many times op was invoked.
func (c *Conn) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// MkdirCount returns how many times Mkdir was called for dir.
func (c *Conn) MkdirCount(dir string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mkdirs[clean(dir)]
}

// Disconnect simulates the transport dropping.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// CloseCount returns how many times Close was called.
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) enter(op, p string) error {
	c.calls[op]++
	if err, ok := c.pathErrs[op+":"+p]; ok {
		return err
	}
	if err, ok := c.errs[op]; ok {
		return err
	}
	if !c.connected {
		return sftp.ErrConnection
	}
	return nil
}

func (c *Conn) ReadDir(dir string) ([]os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir = clean(dir)
	if err := c.enter("ReadDir", dir); err != nil {
		return nil, err
	}
	if !c.dirs[dir] {
		return nil, notExist("readdir", dir)
	}

	var entries []os.FileInfo
	for d := range c.dirs {
		if d != "/" && path.Dir(d) == dir {
			entries = append(entries, NewFileInfo(path.Base(d), 0, true))
		}
	}
	for f, data := range c.files {
		if path.Dir(f) == dir {
			entries = append(entries, NewFileInfo(path.Base(f), int64(len(data)), false))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() > entries[j].Name() })
	return entries, nil
}

func (c *Conn) Stat(p string) (os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Stat", p); err != nil {
		return nil, err
	}
	if c.dirs[p] {
		return NewFileInfo(path.Base(p), 0, true), nil
	}
	if data, ok := c.files[p]; ok {
		return NewFileInfo(path.Base(p), int64(len(data)), false), nil
	}
	return nil, notExist("stat", p)
}

func (c *Conn) Open(p string) (sftp.ReadableFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Open", p); err != nil {
		return nil, err
	}
	data, ok := c.files[p]
	if !ok {
		return nil, notExist("open", p)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (c *Conn) Create(p string) (sftp.WritableFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Create", p); err != nil {
		return nil, err
	}
	if !c.dirs[path.Dir(p)] {
		return nil, notExist("create", p)
	}
	if c.dirs[p] {
		return nil, &os.PathError{Op: "create", Path: p, Err: errors.New("is a directory")}
	}
	c.files[p] = nil
	return &writer{conn: c, path: p}, nil
}

func (c *Conn) Mkdir(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir = clean(dir)
	c.mkdirs[dir]++
	if err := c.enter("Mkdir", dir); err != nil {
		return err
	}
	if c.dirs[dir] {
		return &os.PathError{Op: "mkdir", Path: dir, Err: os.ErrExist}
	}
	if !c.dirs[path.Dir(dir)] {
		return notExist("mkdir", dir)
	}
	c.dirs[dir] = true
	return nil
}

func (c *Conn) Remove(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Remove", p); err != nil {
		return err
	}
	if _, ok := c.files[p]; ok {
		delete(c.files, p)
		return nil
	}
	if c.dirs[p] && p != "/" {
		for other := range c.dirs {
			if path.Dir(other) == p && other != p {
				return &os.PathError{Op: "remove", Path: p, Err: errors.New("directory not empty")}
			}
		}
		for f := range c.files {
			if path.Dir(f) == p {
				return &os.PathError{Op: "remove", Path: p, Err: errors.New("directory not empty")}
			}
		}
		delete(c.dirs, p)
		return nil
	}
	return notExist("remove", p)
}

func (c *Conn) Rename(oldPath, newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldPath, newPath = clean(oldPath), clean(newPath)
	if err := c.enter("Rename", oldPath); err != nil {
		return err
	}
	if !c.dirs[path.Dir(newPath)] {
		return notExist("rename", newPath)
	}
	if data, ok := c.files[oldPath]; ok {
		if _, exists := c.files[newPath]; exists {
			return &os.PathError{Op: "rename", Path: newPath, Err: os.ErrExist}
		}
		delete(c.files, oldPath)
		c.files[newPath] = data
		return nil
	}
	if !c.dirs[oldPath] {
		return notExist("rename", oldPath)
	}
	prefix := oldPath + "/"
	for d := range c.dirs {
		if d == oldPath || strings.HasPrefix(d, prefix) {
			delete(c.dirs, d)
			c.dirs[newPath+strings.TrimPrefix(d, oldPath)] = true
		}
	}
	for f, data := range c.files {
		if strings.HasPrefix(f, prefix) {
			delete(c.files, f)
			c.files[newPath+strings.TrimPrefix(f, oldPath)] = data
		}
	}
	return nil
}

func (c *Conn) Getwd() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("Getwd", ""); err != nil {
		return "", err
	}
	return c.Wd, nil
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) SupportsConcurrentUse() bool { return c.Concurrent }

func (c *Conn) ServerVersion() string { return c.Version }

func (c *Conn) ProtocolVersion() int { return 3 }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	c.connected = false
	if err, ok := c.errs["Close"]; ok {
		return err
	}
	return nil
}

type writer struct {
	conn *Conn
	path string
	buf  bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) {
	w.conn.mu.Lock()
	defer w.conn.mu.Unlock()
	w.conn.calls["Write"]++
	if err, ok := w.conn.pathErrs["Write:"+w.path]; ok {
		return 0, err
	}
	if err, ok := w.conn.errs["Write"]; ok {
		return 0, err
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	w.conn.mu.Lock()
	defer w.conn.mu.Unlock()
	w.conn.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func notExist(op, p string) error {
	return &os.PathError{Op: op, Path: p, Err: os.ErrNotExist}
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Dialer hands out fake connections. Errors[i], when set, fails dial i.
type Dialer struct {
	mu     sync.Mutex
	Errors []error
	// Setup customises each new connection before it is returned.
	Setup func(*Conn)

	dials int
	conns []*Conn
}

var _ sftp.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context) (sftp.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.dials
	d.dials++
	if idx < len(d.Errors) && d.Errors[idx] != nil {
		return nil, d.Errors[idx]
	}
	conn := NewConn()
	conn.ID = len(d.conns) + 1
	if d.Setup != nil {
		d.Setup(conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Connect forwards to Dial so the fake also satisfies session.Connector.
func (d *Dialer) Connect(ctx context.Context) (sftp.Conn, error) {
	return d.Dial(ctx)
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection created so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}
