package server

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ExternalReader resolves a changed file to a document. external is false
// for files that are not documents or that hold what was last written.
type ExternalReader interface {
	Dir() string
	ReadExternal(path string) (id, content string, external bool, err error)
}

// Watcher watches a document directory and reports edits made by other
// programs.
type Watcher struct {
	watcher  *fsnotify.Watcher
	reader   ExternalReader
	onChange func(id, content string) error
	logger   *zap.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher creates a watcher for reader's directory.
func NewWatcher(reader ExternalReader, onChange func(id, content string) error, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(reader.Dir()); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", reader.Dir(), err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		reader:   reader,
		onChange: onChange,
		logger:   logger.Named("watch"),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				// Editors that save via rename produce Create rather than Write.
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					w.handle(event.Name)
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
	w.logger.Info("watching documents", zap.String("dir", w.reader.Dir()))
}

func (w *Watcher) handle(path string) {
	id, content, external, err := w.reader.ReadExternal(path)
	if err != nil {
		w.logger.Debug("failed to read changed file", zap.String("path", path), zap.Error(err))
		return
	}
	if !external {
		return
	}
	w.logger.Debug("document changed on disk", zap.String("path", path), zap.String("document", id))
	if err := w.onChange(id, content); err != nil {
		w.logger.Warn("failed to apply external edit", zap.String("document", id), zap.Error(err))
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
