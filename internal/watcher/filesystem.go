package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/models"
)

// descriptorFiles are the four files whose newest mtime defines a VM's
// "last_modified" for the FilesystemWatcher (spec §4.3.1).
var descriptorFiles = []string{"config-descriptor", "metadata.json", "routes.json", "tags.json"}

// perVMPollInterval and perVMGoneTimeout implement step 5 of spec §4.3.1:
// when a VM's config directory disappears while its top-level descriptor
// persists, poll briefly for its return before giving up.
const (
	perVMPollInterval = 500 * time.Millisecond
	perVMGoneTimeout  = 30 * time.Second
)

// FSDescriptorReader reads VM descriptors from a local-mgr style config
// directory tree: one subdirectory per VM uuid, containing descriptorFiles.
type FSDescriptorReader struct {
	Root string
}

// Scan returns every VM uuid currently present under Root with its computed
// last-modified timestamp (max mtime across descriptorFiles that exist). A VM
// whose config-descriptor marks it hidden (do_not_inventory) is left out.
func (r FSDescriptorReader) Scan() (map[uuid.UUID]time.Time, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]time.Time, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		ts, ok := r.descriptorTimestamp(id)
		if !ok {
			continue
		}
		if vm, err := r.Load(id); err == nil && isHidden(vm) {
			continue
		}
		out[id] = ts
	}
	return out, nil
}

func (r FSDescriptorReader) descriptorTimestamp(id uuid.UUID) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, f := range descriptorFiles {
		fi, err := os.Stat(filepath.Join(r.Root, id.String(), f))
		if err != nil {
			continue
		}
		found = true
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest, found
}

// Load reads the full VM record out of a VM's config-descriptor file,
// overlaying metadata.json/tags.json if present.
func (r FSDescriptorReader) Load(id uuid.UUID) (models.VmRecord, error) {
	dir := filepath.Join(r.Root, id.String())
	data, err := os.ReadFile(filepath.Join(dir, "config-descriptor"))
	if err != nil {
		return models.VmRecord{}, err
	}
	var vm models.VmRecord
	if err := json.Unmarshal(data, &vm); err != nil {
		return models.VmRecord{}, fmt.Errorf("filesystem watcher: decode %s: %w", dir, err)
	}
	vm.UUID = id

	if meta, err := os.ReadFile(filepath.Join(dir, "metadata.json")); err == nil {
		_ = json.Unmarshal(meta, &vm.Metadata)
	}
	if tags, err := os.ReadFile(filepath.Join(dir, "tags.json")); err == nil {
		_ = json.Unmarshal(tags, &vm.CustomerMetadata)
	}
	return vm, nil
}

// FilesystemWatcher implements spec §4.3.1.
type FilesystemWatcher struct {
	cfg    Config
	reader FSDescriptorReader

	mu       sync.Mutex
	lastSeen map[uuid.UUID]time.Time
	seeded   bool

	dirWatcher *fsnotify.Watcher
	reconcile  chan struct{}
	done       chan struct{}
	cancel     context.CancelFunc

	perVMMu sync.Mutex
	perVM   map[uuid.UUID]context.CancelFunc
}

func NewFilesystemWatcher(cfg Config, root string) *FilesystemWatcher {
	return &FilesystemWatcher{
		cfg:       cfg,
		reader:    FSDescriptorReader{Root: root},
		lastSeen:  make(map[uuid.UUID]time.Time),
		reconcile: make(chan struct{}, 1),
		perVM:     make(map[uuid.UUID]context.CancelFunc),
	}
}

func (w *FilesystemWatcher) Start(ctx context.Context) error {
	dw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filesystem watcher: %w", err)
	}
	if err := dw.Add(w.reader.Root); err != nil {
		dw.Close()
		return fmt.Errorf("filesystem watcher: watch root: %w", err)
	}
	w.dirWatcher = dw
	w.done = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.eventLoop(runCtx)
	go w.reconcileLoop(runCtx)

	// prime the initial pass so the first reconcile has something to diff.
	w.requestReconcile()
	return nil
}

func (w *FilesystemWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.dirWatcher != nil {
		w.dirWatcher.Close()
	}
	w.perVMMu.Lock()
	for _, stop := range w.perVM {
		stop()
	}
	w.perVM = make(map[uuid.UUID]context.CancelFunc)
	w.perVMMu.Unlock()
	if w.done != nil {
		<-w.done
	}
}

func (w *FilesystemWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.dirWatcher.Events:
			if !ok {
				return
			}
			w.requestReconcile()
		case err, ok := <-w.dirWatcher.Errors:
			if !ok {
				return
			}
			w.cfg.Log.Warnw("filesystem watcher error", "error", err)
		}
	}
}

// requestReconcile marks the watcher dirty and schedules exactly one pass:
// if a pass is already running, reconcileLoop re-runs once more after it
// finishes (spec §4.3.1 step 2).
func (w *FilesystemWatcher) requestReconcile() {
	select {
	case w.reconcile <- struct{}{}:
	default:
	}
}

func (w *FilesystemWatcher) reconcileLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reconcile:
			w.runReconcilePass()
			// drain any requests that arrived mid-pass so they collapse
			// into the single re-run this loop is about to do.
			select {
			case <-w.reconcile:
				w.runReconcilePass()
			default:
			}
		}
	}
}

// runReconcilePass is step 3 of spec §4.3.1.
func (w *FilesystemWatcher) runReconcilePass() {
	current, err := w.reader.Scan()
	if err != nil {
		w.cfg.Log.Warnw("filesystem watcher: scan failed", "error", err)
		return
	}

	w.mu.Lock()
	lastSeen := w.lastSeen
	seeded := w.seeded
	w.mu.Unlock()

	for id := range lastSeen {
		if _, ok := current[id]; !ok {
			w.emit(id, models.EventDelete, nil)
		}
	}
	for id, ts := range current {
		prev, existed := lastSeen[id]
		switch {
		case !existed && seeded:
			w.emitFull(id, models.EventCreate)
		case existed && ts.After(prev):
			w.emitFull(id, models.EventModify)
		}
		w.syncPerVMWatcher(id)
	}

	w.mu.Lock()
	w.lastSeen = current
	w.seeded = true
	w.mu.Unlock()
}

func (w *FilesystemWatcher) emit(id uuid.UUID, kind models.EventKind, partial map[string]any) {
	w.cfg.UpdateVM(id, kind, partial)
}

func (w *FilesystemWatcher) emitFull(id uuid.UUID, kind models.EventKind) {
	vm, err := w.reader.Load(id)
	if err != nil {
		w.cfg.Log.Warnw("filesystem watcher: load failed", "uuid", id, "error", err)
		return
	}
	if isHidden(vm) {
		return
	}
	w.emit(id, kind, vmRecordToPartial(vm))
}

// syncPerVMWatcher installs a per-VM config-directory watch if one isn't
// already running (spec §4.3.1 step 4).
func (w *FilesystemWatcher) syncPerVMWatcher(id uuid.UUID) {
	w.perVMMu.Lock()
	_, exists := w.perVM[id]
	w.perVMMu.Unlock()
	if exists {
		return
	}

	dw, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	dir := filepath.Join(w.reader.Root, id.String())
	if err := dw.Add(dir); err != nil {
		dw.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.perVMMu.Lock()
	w.perVM[id] = cancel
	w.perVMMu.Unlock()

	go w.watchOneVM(ctx, id, dw)
}

func (w *FilesystemWatcher) watchOneVM(ctx context.Context, id uuid.UUID, dw *fsnotify.Watcher) {
	defer dw.Close()
	defer func() {
		w.perVMMu.Lock()
		delete(w.perVM, id)
		w.perVMMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-dw.Events:
			if !ok {
				return
			}
			ts, exists := w.reader.descriptorTimestamp(id)
			if !exists {
				w.recoverMissingDir(ctx, id)
				return
			}
			w.mu.Lock()
			prev, known := w.lastSeen[id]
			w.mu.Unlock()
			if !known || ts.After(prev) {
				w.emitFull(id, models.EventModify)
				w.mu.Lock()
				w.lastSeen[id] = ts
				w.mu.Unlock()
			}
		case <-dw.Errors:
			ts, exists := w.reader.descriptorTimestamp(id)
			if !exists {
				w.recoverMissingDir(ctx, id)
				return
			}
			_ = ts
		}
	}
}

// recoverMissingDir implements step 5: poll for the directory's return
// within perVMGoneTimeout; give up silently (the top-level descriptor's own
// absence, if any, is picked up by the next top-level reconcile pass).
func (w *FilesystemWatcher) recoverMissingDir(ctx context.Context, id uuid.UUID) {
	deadline := time.Now().Add(perVMGoneTimeout)
	ticker := time.NewTicker(perVMPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, exists := w.reader.descriptorTimestamp(id); exists {
				w.syncPerVMWatcher(id)
				return
			}
		}
	}
	// directory never came back; descriptor presumably removed too, the
	// next top-level pass will emit the delete.
}

// vmRecordToPartial projects the fields the filesystem watcher is confident
// changed (everything it read) into the partial map shape other watchers
// also use, so the coalescer's merge logic is uniform across sources.
func vmRecordToPartial(vm models.VmRecord) map[string]any {
	partial := map[string]any{
		"uuid":              vm.UUID.String(),
		"brand":             vm.Brand,
		"state":             vm.State,
		"zone_state":        vm.ZoneState,
		"alias":             vm.Alias,
		"last_modified":     vm.LastModified,
		"quota":             vm.Quota,
		"metadata":          vm.Metadata,
		"customer_metadata": vm.CustomerMetadata,
	}
	for k, v := range vm.Extra {
		partial[k] = v
	}
	return partial
}
