// Package confwatch watches a node-list file and feeds changes into an
// Orchestrator without a process restart.
package confwatch

import (
	"context"
	"os"

	json "github.com/goccy/go-json"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/keshon/aqua"
)

// nodeFile is the on-disk shape of the watched node-list file: a plain
// JSON array of aqua.NodeConfig.
type nodeFile []aqua.NodeConfig

// Watcher reloads a node-list file on write and applies it to an
// Orchestrator via UpdateNodes.
type Watcher struct {
	path string
	orch *aqua.Orchestrator
	log  zerolog.Logger
	fsw  *fsnotify.Watcher
}

// New builds a Watcher for path. It does not load the file; Run applies
// the initial load when it starts.
func New(path string, orch *aqua.Orchestrator, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path: path,
		orch: orch,
		log:  logger.With().Str("component", "confwatch").Logger(),
		fsw:  fsw,
	}, nil
}

// Run applies the current file contents, then watches for writes/renames
// until ctx is cancelled. Editors that replace-by-rename (vim, many
// deploy tools) emit Rename/Remove rather than Write; both trigger a
// reload attempt, and a missing or malformed file is logged and skipped
// rather than tearing down the already-running node set.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	w.reload(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.reload(ctx)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("failed to read node list")
		return
	}
	var nodes nodeFile
	if err := json.Unmarshal(data, &nodes); err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("malformed node list")
		return
	}
	w.log.Info().Int("nodes", len(nodes)).Msg("reloading node list")
	w.orch.UpdateNodes(ctx, nodes)
}
