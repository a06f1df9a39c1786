package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/sterna-opencode/pkg/host"
)

// sessionFile is the read position Events keeps for one session file.
type sessionFile struct {
	info   os.FileInfo
	offset int64
}

type dirWatch struct {
	store  *Store
	handle func(host.Event)
	files  map[string]*sessionFile

	// compacting holds sessions whose replacement file is being written.
	compacting map[string]bool
}

// Events watches the store directory and calls handle for every change
// until ctx is done. Lines appended to a session file become
// message.updated events; a file replaced by Compact becomes one
// session.compacted event. Content present when Events starts is not
// replayed. Any process writing the same directory is observed.
//
// handle runs on the watching goroutine and must not block.
func (s *Store) Events(ctx context.Context, handle func(host.Event)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	w := &dirWatch{
		store:      s,
		handle:     handle,
		files:      make(map[string]*sessionFile),
		compacting: make(map[string]bool),
	}
	if err := w.snapshot(); err != nil {
		return err
	}

	s.logger.Debug().Str("dir", s.dir).Int("sessions", len(w.files)).Msg("Watching session directory")
	if s.onWatching != nil {
		s.onWatching()
	}

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.apply(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Session watcher error")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// snapshot records the current end of every session file.
func (w *dirWatch) snapshot() error {
	ids, err := w.store.ListSessions()
	if err != nil {
		return err
	}
	for _, id := range ids {
		info, err := os.Stat(w.store.path(id))
		if err != nil {
			continue
		}
		w.files[id] = &sessionFile{info: info, offset: info.Size()}
	}
	return nil
}

func (w *dirWatch) apply(event fsnotify.Event) {
	name := filepath.Base(event.Name)

	if strings.HasSuffix(name, fileSuffix+tempSuffix) {
		if event.Has(fsnotify.Create) {
			w.compacting[strings.TrimSuffix(name, fileSuffix+tempSuffix)] = true
		}
		return
	}
	if !strings.HasSuffix(name, fileSuffix) {
		return
	}
	id := strings.TrimSuffix(name, fileSuffix)
	if ValidateSessionID(id) != nil {
		return
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		// A file recreated since then is read from the start.
		delete(w.files, id)
		delete(w.compacting, id)
	}

	info, err := os.Stat(w.store.path(id))
	if err != nil {
		if !os.IsNotExist(err) {
			w.store.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to stat session file")
		}
		delete(w.files, id)
		delete(w.compacting, id)
		return
	}

	prev, known := w.files[id]
	replaced := event.Has(fsnotify.Create) && w.compacting[id]
	if known && (!os.SameFile(prev.info, info) || info.Size() < prev.offset) {
		replaced = true
	}

	if replaced {
		delete(w.compacting, id)
		// The summary and kept messages are history, not new messages.
		w.files[id] = &sessionFile{info: info, offset: info.Size()}
		w.handle(host.Event{Type: host.EventSessionCompacted, SessionID: id})
		return
	}

	if !known {
		prev = &sessionFile{}
		w.files[id] = prev
	}
	prev.info = info
	w.readAppended(id, prev)
}

// readAppended emits every complete line past the read position. A
// trailing partial line is left for the next write.
func (w *dirWatch) readAppended(id string, f *sessionFile) {
	file, err := os.Open(w.store.path(id))
	if err != nil {
		w.store.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to open session file")
		return
	}
	defer file.Close()

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		w.store.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to seek session file")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxLineSize*16))
	if err != nil {
		w.store.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to read session file")
		return
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return
	}
	f.offset += int64(end + 1)

	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		msg, err := decodeRecord(line)
		if err != nil {
			w.store.logger.Warn().Err(err).Str("session_id", id).Msg("Invalid appended line, skipping")
			continue
		}
		msg.SessionID = id
		w.handle(host.Event{Type: host.EventMessageUpdated, SessionID: id, Message: &msg})
	}
}
