package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Tailer follows a JSONL transcript file that another process appends to
// and yields each complete new line exactly once.
type Tailer struct {
	path    string
	logger  *zap.Logger
	offset  int64
	partial []byte
	next    int
}

// NewTailer creates a tailer positioned at the start of path.
func NewTailer(path string, logger *zap.Logger) *Tailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tailer{path: path, logger: logger}
}

// ReadNew returns utterances from complete lines written since the last
// call. A trailing line without a newline is buffered until it completes.
func (t *Tailer) ReadNew() ([]Utterance, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	if info.Size() < t.offset {
		// truncated or replaced: start over
		t.logger.Warn("transcript truncated, rereading", zap.String("path", t.path))
		t.offset, t.partial, t.next = 0, nil, 0
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking transcript: %w", err)
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	t.offset += int64(len(chunk))

	buf := append(t.partial, chunk...)
	cut := bytes.LastIndexByte(buf, '\n')
	if cut < 0 {
		t.partial = buf
		return nil, nil
	}
	complete := buf[:cut+1]
	t.partial = append([]byte(nil), buf[cut+1:]...)

	var out []Utterance
	for _, raw := range bytes.Split(complete, []byte{'\n'}) {
		u, ok, err := decodeLine(raw, t.next)
		if err != nil {
			t.logger.Warn("skipping malformed transcript line", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		out = append(out, u)
		t.next = u.SequenceIndex + 1
	}
	return out, nil
}

// Run delivers new utterances to fn whenever the file is written, until ctx
// is done. Existing content is delivered first.
func (t *Tailer) Run(ctx context.Context, fn func([]Utterance)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(t.path); err != nil {
		return fmt.Errorf("watching %s: %w", t.path, err)
	}

	deliver := func() error {
		us, err := t.ReadNew()
		if err != nil {
			return err
		}
		if len(us) > 0 {
			fn(us)
		}
		return nil
	}

	if err := deliver(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return fmt.Errorf("transcript %s was removed", t.path)
			}
			if event.Has(fsnotify.Write) {
				if err := deliver(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				t.logger.Warn("watcher overflow, rereading", zap.Error(err))
				if err := deliver(); err != nil {
					return err
				}
				continue
			}
			t.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
