// Package textfile reads sensor readings dropped into a text file by
// another process. Each time the file has content it is read whole and
// truncated.
package textfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/sensorship/internal/ports"
)

// DefaultPollInterval is how often the file is checked when no change
// notification arrives.
const DefaultPollInterval = time.Second

// Config describes the watched file.
type Config struct {
	Path         string
	PollInterval time.Duration
}

// Source is a ports.MessageSource over a text file.
type Source struct {
	path    string
	poll    time.Duration
	watcher *fsnotify.Watcher
	logger  ports.Logger
}

// Open checks that the file exists and starts watching its directory.
// Without a watcher the source falls back to polling.
func Open(cfg Config, logger ports.Logger) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("textfile: path is required")
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("textfile: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Source{path: cfg.Path, poll: cfg.PollInterval, logger: logger}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("textfile: change notifications unavailable, polling only", ports.Err(err))
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(cfg.Path)); err != nil {
		watcher.Close()
		logger.Warn("textfile: cannot watch directory, polling only", ports.Err(err))
		return s, nil
	}
	s.watcher = watcher
	return s, nil
}

// Next returns the next non-empty content of the file.
func (s *Source) Next(ctx context.Context) (string, error) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if s.watcher != nil {
		events = s.watcher.Events
		errs = s.watcher.Errors
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	name := filepath.Base(s.path)
	for {
		msg, err := s.take()
		if err != nil {
			return "", err
		}
		if msg != "" {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("textfile: watcher error", ports.Err(err))
		}
	}
}

// take reads the file and, if it had content, truncates it.
func (s *Source) take() (string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("textfile: read: %w", err)
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return "", nil
	}
	if err := os.Truncate(s.path, 0); err != nil {
		return "", fmt.Errorf("textfile: truncate: %w", err)
	}
	return msg, nil
}

// Close stops watching the file.
func (s *Source) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

var _ ports.MessageSource = (*Source)(nil)
