package localmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/models"
	agenterrors "github.com/joyent/vm-agent/pkg/errors"
)

// OSRunner executes local-mgr's CLI (vmadm(1M) in a SmartOS-style
// deployment) via os/exec. Kept deliberately thin: spec §4.2 puts the actual
// transport out of scope, so this is the minimal concrete backend that
// satisfies Runner.
type OSRunner struct {
	Path string // defaults to "vmadm" on PATH when empty
}

func (r OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	bin := r.Path
	if bin == "" {
		bin = name
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, agenterrors.NewNetworkError("localmgr.run", err)
	}
	return stdout.Bytes(), nil
}

// LoadOne fails with *errors.NotFoundError when the VM doesn't exist or is
// hidden (spec §4.2 "Never returns hidden (do-not-inventory) VMs").
func (a *Adapter) LoadOne(ctx context.Context, id uuid.UUID) (models.VmRecord, error) {
	out, err := a.runner.Run(ctx, "vmadm", "lookup", "-j", "uuid="+id.String())
	if err != nil {
		return models.VmRecord{}, err
	}

	var vms []models.VmRecord
	if err := json.Unmarshal(out, &vms); err != nil {
		return models.VmRecord{}, agenterrors.NewProtocolError("localmgr.loadOne", err)
	}
	if len(vms) == 0 || isHidden(vms[0]) {
		return models.VmRecord{}, agenterrors.NewNotFoundError(id.String())
	}
	return vms[0], nil
}

// ListAll filters hidden VMs (spec §4.2).
func (a *Adapter) ListAll(ctx context.Context) ([]models.VmRecord, error) {
	out, err := a.runner.Run(ctx, "vmadm", "lookup", "-j")
	if err != nil {
		return nil, err
	}

	var vms []models.VmRecord
	if err := json.Unmarshal(out, &vms); err != nil {
		return nil, agenterrors.NewProtocolError("localmgr.listAll", err)
	}

	visible := vms[:0]
	for _, vm := range vms {
		if isHidden(vm) {
			continue
		}
		visible = append(visible, vm)
	}
	return visible, nil
}
