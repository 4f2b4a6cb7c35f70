package watcher

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/models"
)

// Lister is the subset of LocalMgr the PeriodicPoller needs.
// internal/localmgr.Adapter satisfies it.
type Lister interface {
	ListAll(ctx context.Context) ([]models.VmRecord, error)
}

// PeriodicPoller implements spec §4.3.2: a ticker-driven full listAll with
// pairwise diffing on models.PeriodicFields.
type PeriodicPoller struct {
	cfg      Config
	lister   Lister
	interval time.Duration

	inFlight atomic.Bool
	previous map[uuid.UUID]models.VmRecord

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPeriodicPoller(cfg Config, lister Lister, interval time.Duration) *PeriodicPoller {
	return &PeriodicPoller{
		cfg:      cfg,
		lister:   lister,
		interval: interval,
		previous: make(map[uuid.UUID]models.VmRecord),
	}
}

func (p *PeriodicPoller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()
	return nil
}

func (p *PeriodicPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
}

// tick is the cooperative-guard pass: a slow or overlapping tick is skipped
// entirely rather than queued (spec §4.3.2 "MUST NOT cause a double pass").
func (p *PeriodicPoller) tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)

	current, err := p.lister.ListAll(ctx)
	if err != nil {
		p.cfg.Log.Warnw("periodic poller: listAll failed", "error", err)
		return
	}

	currentByID := make(map[uuid.UUID]models.VmRecord, len(current))
	for _, vm := range current {
		currentByID[vm.UUID] = vm
	}

	for id, prev := range p.previous {
		if _, ok := currentByID[id]; !ok && !isHidden(prev) {
			p.cfg.UpdateVM(id, models.EventDelete, nil)
		}
	}
	for id, vm := range currentByID {
		if isHidden(vm) {
			continue
		}
		prev, existed := p.previous[id]
		if !existed {
			p.cfg.UpdateVM(id, models.EventCreate, periodicPartial(models.VmRecord{}, vm, true))
			continue
		}
		if partial := periodicPartial(prev, vm, false); len(partial) > 0 {
			p.cfg.UpdateVM(id, models.EventModify, partial)
		}
	}

	p.previous = currentByID
}

// periodicPartial diffs old and next on models.PeriodicFields, returning only
// the fields that changed (or every field, if full is true, for a brand-new
// VM where there's nothing to diff against).
func periodicPartial(old, next models.VmRecord, full bool) map[string]any {
	oldFields := periodicFieldValues(old)
	nextFields := periodicFieldValues(next)

	partial := make(map[string]any, len(nextFields))
	for _, field := range models.PeriodicFields {
		nv, nok := nextFields[field]
		if !nok {
			continue
		}
		if full {
			partial[field] = nv
			continue
		}
		ov := oldFields[field]
		if !reflect.DeepEqual(ov, nv) {
			partial[field] = nv
		}
	}
	return partial
}

// periodicFieldValues extracts models.PeriodicFields' values from a
// VmRecord: known struct fields are read directly, everything else (disks,
// pid, zfs_*, zoneid, indestructible_*) is looked up in Extra.
func periodicFieldValues(vm models.VmRecord) map[string]any {
	known := map[string]any{
		"brand":         vm.Brand,
		"last_modified": vm.LastModified,
		"quota":         vm.Quota,
		"snapshots":     len(vm.Snapshots),
		"state":         vm.State,
		"uuid":          vm.UUID.String(),
		"zone_state":    vm.ZoneState,
	}
	for _, field := range models.PeriodicFields {
		if _, handled := known[field]; handled {
			continue
		}
		if v, ok := vm.Extra[field]; ok {
			known[field] = v
		}
	}
	return known
}
