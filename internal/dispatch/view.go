package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mattjoyce/scriptsrunner/internal/profile"
	"github.com/mattjoyce/scriptsrunner/internal/queue"
	"github.com/mattjoyce/scriptsrunner/internal/state"
)

// ScriptView joins a discovered script with its run state and record.
type ScriptView struct {
	Path     string             `json:"path"`
	Name     string             `json:"name"`
	Folder   string             `json:"folder"`
	Status   queue.Status       `json:"status"`
	Position int                `json:"position,omitempty"`
	RunID    string             `json:"run_id,omitempty"`
	Profile  string             `json:"profile,omitempty"`
	Missing  bool               `json:"missing,omitempty"`
	Record   state.ScriptRecord `json:"record"`
}

// Scripts lists every discovered script, plus any running or queued script
// whose file has since disappeared (flagged Missing), ordered by path.
func (o *Orchestrator) Scripts(ctx context.Context) ([]ScriptView, error) {
	records, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	byPath := make(map[string]state.ScriptRecord, len(records))
	for _, r := range records {
		byPath[r.Path] = r
	}

	o.mu.RLock()
	paths := append([]string(nil), o.scripts...)
	o.mu.RUnlock()

	snap := o.queue.Snapshot()
	onDisk := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		onDisk[p] = struct{}{}
	}
	for _, r := range snap.Running {
		if _, ok := onDisk[r.Path]; !ok {
			paths = append(paths, r.Path)
		}
	}
	for _, q := range snap.Queued {
		if _, ok := onDisk[q.Path]; !ok {
			paths = append(paths, q.Path)
		}
	}
	sort.Strings(paths)

	settings := o.Settings()
	views := make([]ScriptView, 0, len(paths))
	for _, p := range paths {
		rec, ok := byPath[p]
		if !ok {
			rec = state.ScriptRecord{Path: p}
		}
		_, present := onDisk[p]
		views = append(views, o.view(p, rec, snap, settings, !present))
	}
	return views, nil
}

// Script returns the view of a single known script.
func (o *Orchestrator) Script(ctx context.Context, path string) (ScriptView, error) {
	if !o.known(path) {
		return ScriptView{}, fmt.Errorf("%w: %s", ErrUnknownScript, path)
	}
	rec, err := o.store.Get(ctx, path)
	if err != nil {
		return ScriptView{}, err
	}

	o.mu.RLock()
	present := false
	for _, p := range o.scripts {
		if p == path {
			present = true
			break
		}
	}
	o.mu.RUnlock()

	return o.view(path, rec, o.queue.Snapshot(), o.Settings(), !present), nil
}

func (o *Orchestrator) view(path string, rec state.ScriptRecord, snap queue.Snapshot, settings state.Settings, missing bool) ScriptView {
	v := ScriptView{
		Path:    path,
		Name:    filepath.Base(path),
		Folder:  filepath.Dir(path),
		Status:  queue.StatusIdle,
		Missing: missing,
		Record:  rec,
	}
	if p, ok := profile.Resolve(path, settings.Profiles); ok {
		v.Profile = p.Path
	}
	for _, r := range snap.Running {
		if r.Path == path {
			v.Status = queue.StatusRunning
			v.RunID = r.Token
			return v
		}
	}
	for i, q := range snap.Queued {
		if q.Path == path {
			v.Status = queue.StatusQueued
			v.Position = i + 1
			return v
		}
	}
	return v
}
