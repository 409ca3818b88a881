// Package transfer copies files and directory trees between two
// filesystems in resumable, retried chunks.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/logging"
	"ssh-fleet/internal/retry"
)

const (
	DefaultChunkSize        = 64 * 1024
	DefaultProgressInterval = time.Second
)

// Direction tells which side of the engine is the source
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// Config governs conflict handling, retries and chunking
type Config struct {
	Force            bool
	Resume           bool
	MaxRetry         uint
	ChunkSize        int
	ProgressInterval time.Duration
	Logger           *logging.Logger
	NewTimer         func() backoff.Timer
}

// DefaultConfig returns the defaults: no force, no resume, no retries
func DefaultConfig() Config {
	return Config{
		ChunkSize:        DefaultChunkSize,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Progress is an immutable snapshot handed to a ProgressFunc
type Progress struct {
	LocalPath  string
	RemotePath string
	StartTime  time.Time
	DoneBytes  int64
	TotalBytes int64
	Speed      int64 // bytes per second since StartTime
}

// Percent returns completion in the range 0..100
func (p Progress) Percent() float64 {
	if p.TotalBytes == 0 {
		return 100
	}
	return float64(p.DoneBytes) * 100 / float64(p.TotalBytes)
}

// ProgressFunc receives progress snapshots. It may be nil.
type ProgressFunc func(Progress)

// Engine transfers between a local and a remote filesystem
type Engine struct {
	local  FS
	remote FS
	cfg    Config
}

// NewEngine creates an engine. Zero chunk size falls back to the default.
func NewEngine(local, remote FS, cfg Config) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ProgressInterval < 0 {
		cfg.ProgressInterval = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Engine{local: local, remote: remote, cfg: cfg}
}

// side binds the source and destination of one transfer
type side struct {
	src, dst FS
	dir      Direction
}

func (e *Engine) sides(dir Direction) side {
	if dir == Download {
		return side{src: e.remote, dst: e.local, dir: dir}
	}
	return side{src: e.local, dst: e.remote, dir: dir}
}

// paths orders a (src, dst) pair as (local, remote) for progress reporting
func (s side) paths(src, dst string) (string, string) {
	if s.dir == Download {
		return dst, src
	}
	return src, dst
}

// Transfer copies src to dst. Directories are copied recursively. The
// returned count is the number of bytes written by this call; a resumed
// file contributes only its remainder.
func (e *Engine) Transfer(ctx context.Context, dir Direction, src, dst string, progress ProgressFunc) (int64, error) {
	s := e.sides(dir)

	if !utf8.ValidString(src) {
		return 0, errors.NewPathEncodingError(src)
	}
	if !utf8.ValidString(dst) {
		return 0, errors.NewPathEncodingError(dst)
	}

	info, err := s.src.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errors.NewSourceNotFoundError(src, err)
		}
		return 0, errors.NewIOError(fmt.Sprintf("failed to stat '%s'", src), err)
	}

	switch {
	case info.IsDir():
		return e.copyDir(ctx, s, src, dst, progress)
	case info.Mode().IsRegular():
		return e.copyFile(ctx, s, src, dst, progress)
	default:
		return 0, fmt.Errorf("invalid source path '%s': not a file or directory", src)
	}
}

// TransferFile copies a single regular file
func (e *Engine) TransferFile(ctx context.Context, dir Direction, src, dst string, progress ProgressFunc) (int64, error) {
	return e.copyFile(ctx, e.sides(dir), src, dst, progress)
}

func (e *Engine) copyFile(ctx context.Context, s side, src, dst string, progress ProgressFunc) (int64, error) {
	srcInfo, err := s.src.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errors.NewSourceNotFoundError(src, err)
		}
		return 0, errors.NewIOError(fmt.Sprintf("failed to stat '%s'", src), err)
	}
	if !srcInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("source '%s' is not a regular file", src)
	}
	total := srcInfo.Size()

	dstInfo, err := s.dst.Stat(dst)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, errors.NewIOError(fmt.Sprintf("failed to stat '%s'", dst), err)
	}
	if exists && !dstInfo.Mode().IsRegular() {
		return 0, errors.NewConflictError(fmt.Sprintf("destination '%s' exists but is not a file", dst))
	}

	var (
		flag   int
		offset int64
	)
	switch {
	case e.cfg.Force:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case !e.cfg.Resume:
		if exists {
			return 0, errors.NewConflictError(fmt.Sprintf("destination '%s' already exists", dst))
		}
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	default:
		if exists {
			offset = dstInfo.Size()
		}
		if exists && offset == total {
			e.cfg.Logger.Debug("transfer already complete", "source", src, "destination", dst, "bytes", total)
			return 0, nil
		}
		if offset > total {
			return 0, errors.NewSizeMismatchError(dst, offset, total)
		}
		flag = os.O_WRONLY | os.O_CREATE
	}

	in, err := s.src.Open(src)
	if err != nil {
		return 0, errors.NewIOError(fmt.Sprintf("failed to open '%s'", src), err)
	}
	defer in.Close()

	out, err := s.dst.OpenFile(dst, flag)
	if err != nil {
		return 0, errors.NewIOError(fmt.Sprintf("failed to open '%s'", dst), err)
	}

	localPath, remotePath := s.paths(src, dst)
	snapshot := Progress{
		LocalPath:  localPath,
		RemotePath: remotePath,
		DoneBytes:  offset,
		TotalBytes: total,
	}

	written, err := e.copyChunks(ctx, in, out, src, dst, snapshot, progress)
	if err != nil {
		out.Close()
		return written, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return written, errors.NewIOError(fmt.Sprintf("failed to flush '%s'", dst), err)
	}
	if err := out.Close(); err != nil {
		return written, errors.NewIOError(fmt.Sprintf("failed to close '%s'", dst), err)
	}
	return written, nil
}

// copyChunks copies from snapshot.DoneBytes to the end of in, strictly in
// offset order.
func (e *Engine) copyChunks(ctx context.Context, in, out File, src, dst string, snapshot Progress, progress ProgressFunc) (int64, error) {
	buf := make([]byte, e.cfg.ChunkSize)
	offset := snapshot.DoneBytes
	var written int64

	snapshot.StartTime = time.Now()
	lastEmit := snapshot.StartTime

	emit := func(now time.Time) {
		if progress == nil {
			return
		}
		snapshot.DoneBytes = offset
		if elapsed := now.Sub(snapshot.StartTime).Seconds(); elapsed > 0 {
			snapshot.Speed = int64(float64(offset) / elapsed)
		}
		progress(snapshot)
	}

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, eof, err := e.readChunk(ctx, in, buf, offset, src)
		if err != nil {
			return written, err
		}
		if n > 0 {
			if err := e.writeChunk(ctx, out, buf[:n], offset, dst); err != nil {
				return written, err
			}
			offset += int64(n)
			written += int64(n)
		}

		if n == 0 || eof {
			break
		}

		if now := time.Now(); now.Sub(lastEmit) >= e.cfg.ProgressInterval {
			emit(now)
			lastEmit = now
		}
	}

	emit(time.Now())
	return written, nil
}

func (e *Engine) readChunk(ctx context.Context, in File, buf []byte, offset int64, name string) (int, bool, error) {
	type chunk struct {
		n   int
		eof bool
	}

	c, err := retry.Do(ctx, e.retryConfig(fmt.Sprintf("read %s@%d", name, offset)), func(ctx context.Context) (chunk, error) {
		n, err := in.ReadAt(buf, offset)
		if err == io.EOF {
			return chunk{n: n, eof: true}, nil
		}
		if err != nil {
			return chunk{}, err
		}
		return chunk{n: n}, nil
	})
	if err != nil {
		return 0, false, errors.NewIOError(fmt.Sprintf("failed to read '%s'", name), err)
	}
	return c.n, c.eof, nil
}

func (e *Engine) writeChunk(ctx context.Context, out File, data []byte, offset int64, name string) error {
	err := retry.DoErr(ctx, e.retryConfig(fmt.Sprintf("write %s@%d", name, offset)), func(ctx context.Context) error {
		n, err := out.WriteAt(data, offset)
		if err != nil {
			return err
		}
		if n != len(data) {
			return io.ErrShortWrite
		}
		return nil
	})
	if err != nil {
		return errors.NewIOError(fmt.Sprintf("failed to write '%s'", name), err)
	}
	return nil
}

func (e *Engine) retryConfig(label string) retry.Config {
	return retry.Config{
		MaxRetry: e.cfg.MaxRetry,
		Label:    label,
		Logger:   e.cfg.Logger,
		NewTimer: e.cfg.NewTimer,
	}
}

// entry is one directory found while walking a source tree. rel holds the
// path components below the source root.
type entry struct {
	rel      []string
	files    [][]string
	symlinks [][]string
}

// walk enumerates the tree under root breadth-first
func walk(fsys FS, root string) ([]entry, error) {
	var out []entry
	queue := []entry{{}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		dirPath := fsys.Join(append([]string{root}, cur.rel...)...)
		infos, err := fsys.ReadDir(dirPath)
		if err != nil {
			return nil, errors.NewIOError(fmt.Sprintf("failed to read directory '%s'", dirPath), err)
		}

		for _, info := range infos {
			name := info.Name()
			if !utf8.ValidString(name) {
				return nil, errors.NewPathEncodingError(fsys.Join(dirPath, name))
			}
			rel := append(append([]string{}, cur.rel...), name)

			switch {
			case info.Mode()&os.ModeSymlink != 0:
				cur.symlinks = append(cur.symlinks, rel)
			case info.IsDir():
				queue = append(queue, entry{rel: rel})
			case info.Mode().IsRegular():
				cur.files = append(cur.files, rel)
			}
		}
		out = append(out, cur)
	}
	return out, nil
}

func (e *Engine) copyDir(ctx context.Context, s side, src, dst string, progress ProgressFunc) (int64, error) {
	root, err := s.src.RealPath(src)
	if err != nil {
		return 0, errors.NewIOError(fmt.Sprintf("failed to resolve '%s'", src), err)
	}
	dstRoot := trimTrailing(dst, s.dst.Separator())

	tree, err := walk(s.src, root)
	if err != nil {
		return 0, err
	}

	// all directories exist before any file is copied
	for _, d := range tree {
		if err := e.makeDir(s.dst, s.dst.Join(append([]string{dstRoot}, d.rel...)...)); err != nil {
			return 0, err
		}
	}

	var total int64
	for _, d := range tree {
		for _, rel := range d.files {
			from := s.src.Join(append([]string{root}, rel...)...)
			to := s.dst.Join(append([]string{dstRoot}, rel...)...)
			n, err := e.copyFile(ctx, s, from, to, progress)
			total += n
			if err != nil {
				return total, err
			}
		}

		for _, rel := range d.symlinks {
			from := s.src.Join(append([]string{root}, rel...)...)
			to := s.dst.Join(append([]string{dstRoot}, rel...)...)

			link, err := s.src.ReadLink(from)
			if err != nil {
				return total, errors.NewIOError(fmt.Sprintf("failed to read link '%s'", from), err)
			}
			if !utf8.ValidString(link) {
				return total, errors.NewPathEncodingError(link)
			}
			if err := e.makeLink(s.dst, rewriteLink(link, root, dstRoot, s.src, s.dst), to); err != nil {
				return total, err
			}
		}
	}

	return total, nil
}

// makeDir creates dir, tolerating an existing directory only when force or
// resume is set
func (e *Engine) makeDir(fsys FS, dir string) error {
	mkErr := fsys.Mkdir(dir)
	if mkErr == nil {
		return nil
	}

	info, err := fsys.Stat(dir)
	if err != nil {
		return errors.NewIOError(fmt.Sprintf("failed to create directory '%s'", dir), mkErr)
	}
	if !(e.cfg.Force || e.cfg.Resume) {
		return errors.NewConflictError(fmt.Sprintf("destination '%s' already exists", dir))
	}
	if !info.IsDir() {
		return errors.NewConflictError(fmt.Sprintf("destination '%s' exists but is not a directory", dir))
	}
	return nil
}

// makeLink creates the symlink at dst. An existing entry is replaced under
// force and kept under resume when it already points at target.
func (e *Engine) makeLink(fsys FS, target, dst string) error {
	info, err := fsys.Lstat(dst)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return errors.NewIOError(fmt.Sprintf("failed to stat '%s'", dst), err)
	case e.cfg.Force:
		if err := fsys.Remove(dst); err != nil {
			return errors.NewIOError(fmt.Sprintf("failed to replace '%s'", dst), err)
		}
	case !e.cfg.Resume:
		return errors.NewConflictError(fmt.Sprintf("destination '%s' already exists", dst))
	case info.Mode()&os.ModeSymlink == 0:
		return errors.NewConflictError(fmt.Sprintf("destination '%s' exists but is not a link", dst))
	default:
		current, err := fsys.ReadLink(dst)
		if err != nil {
			return errors.NewIOError(fmt.Sprintf("failed to read link '%s'", dst), err)
		}
		if current != target {
			return errors.NewConflictError(fmt.Sprintf("destination link '%s' points to '%s', expected '%s'", dst, current, target))
		}
		return nil
	}

	if err := fsys.Symlink(target, dst); err != nil {
		return errors.NewIOError(fmt.Sprintf("failed to create link '%s'", dst), err)
	}
	return nil
}

// rewriteLink maps a link target under the source root onto the destination
// root. Targets outside the source tree are kept verbatim.
func rewriteLink(link, srcRoot, dstRoot string, src, dst FS) string {
	sep := src.Separator()
	if link != srcRoot && !strings.HasPrefix(link, srcRoot+sep) {
		return link
	}

	rest := strings.TrimPrefix(link, srcRoot)
	parts := []string{dstRoot}
	for _, p := range strings.Split(rest, sep) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return dst.Join(parts...)
}

func trimTrailing(p, sep string) string {
	for len(p) > 1 && strings.HasSuffix(p, sep) {
		p = strings.TrimSuffix(p, sep)
	}
	return p
}

// AddServerName inserts "_<server>" before the extension of the last path
// element, so downloads from several servers do not collide.
// "/tmp/app.log" becomes "/tmp/app_web1.log".
func AddServerName(p, server string) string {
	dir, base := splitLast(p)
	if base == "" {
		return p + server
	}

	ext := path.Ext(base)
	if ext == base {
		ext = ""
	}
	stem := strings.TrimSuffix(base, ext)
	return dir + stem + "_" + server + ext
}

func splitLast(p string) (string, string) {
	i := strings.LastIndexAny(p, `/\`)
	return p[:i+1], p[i+1:]
}
