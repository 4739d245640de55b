/*
 * Copyright (c) 2024, NVIDIA CORPORATION.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	v1 "github.com/NVIDIA/vgpu-inventory/api/report/v1"
	"github.com/NVIDIA/vgpu-inventory/internal/mdev"
	"github.com/NVIDIA/vgpu-inventory/internal/pci"
	"github.com/NVIDIA/vgpu-inventory/internal/virt"
	"github.com/NVIDIA/vgpu-inventory/pkg/errdefs"
	"github.com/NVIDIA/vgpu-inventory/pkg/types"
)

const confirmPollInterval = 100 * time.Millisecond

// Engine joins the PCI inventory, the mediated device registry, and the VM
// ownership index into point-in-time reports, and drives instance creation
// against them. It holds no state between calls; every scan re-derives
// everything from the live OS.
type Engine struct {
	pci  *pci.Inventory
	mdev *mdev.Registry
	virt *virt.Client
}

// Option defines a function for passing options to the New() call.
type Option func(*Engine)

// WithPCIInventory provides an Option to set the PCI inventory reader.
func WithPCIInventory(inventory *pci.Inventory) Option {
	return func(e *Engine) {
		e.pci = inventory
	}
}

// WithMdevRegistry provides an Option to set the mediated device registry.
func WithMdevRegistry(registry *mdev.Registry) Option {
	return func(e *Engine) {
		e.mdev = registry
	}
}

// WithVirtClient provides an Option to set the virtualization manager client.
func WithVirtClient(client *virt.Client) Option {
	return func(e *Engine) {
		e.virt = client
	}
}

// New creates a new reconciliation engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.pci == nil {
		e.pci = pci.New()
	}
	if e.mdev == nil {
		e.mdev = mdev.New()
	}
	if e.virt == nil {
		e.virt = virt.New()
	}
	return e
}

// Scan produces a snapshot of the host's vGPU state: every physical function
// with its virtual functions, the profile catalog of each function, every
// instantiated mediated device with its resolved type and owner, and a
// per-profile capacity summary. A scan performs no writes.
//
// Partial data is the normal case for a host mid-setup, so a missing source
// degrades to a report warning instead of failing the scan: no PCI
// enumeration, no mdev bus, or no reachable virtualization manager all still
// yield a complete report with the gap made visible.
func (e *Engine) Scan(ctx context.Context) (*v1.SystemReport, error) {
	report := &v1.SystemReport{
		Version:   v1.Version,
		GPUs:      []v1.GPU{},
		Instances: []v1.Instance{},
	}

	pfs, err := e.pci.PhysicalFunctions()
	if err != nil {
		log.Warnf("Unable to enumerate physical functions: %v", err)
		report.AddWarning(v1.WarningPCIUnavailable, err.Error())
	}

	for _, pf := range pfs {
		gpu := v1.GPU{
			Address:    pf.Address,
			DeviceName: pf.DeviceName,
			Profiles:   e.profilesFor(pf.Address),
		}

		vfs, err := e.pci.VirtualFunctions(pf)
		if err != nil {
			log.Warnf("Unable to enumerate virtual functions of %s: %v", pf.Address, err)
		}
		for _, vf := range vfs {
			gpu.VirtualFunctions = append(gpu.VirtualFunctions, v1.Function{
				Address:  vf.Address,
				Profiles: e.profilesFor(vf.Address),
			})
		}

		report.GPUs = append(report.GPUs, gpu)
	}

	instances, err := e.mdev.Instances()
	if err != nil {
		log.Warnf("Unable to enumerate mdev devices: %v", err)
		report.AddWarning(v1.WarningMdevBusUnavailable, err.Error())
	}

	ownership, err := e.virt.MdevOwnership(ctx)
	if err != nil {
		log.Warnf("Unable to resolve VM ownership: %v", err)
		if errdefs.IsScanTimeout(err) {
			report.AddWarning(v1.WarningOwnershipTimeout, err.Error())
		} else {
			report.AddWarning(v1.WarningOwnershipUnavailable, err.Error())
		}
	}

	for _, instance := range instances {
		mdevType, err := instance.Type()
		if err != nil {
			log.Debugf("Unable to resolve type of mdev device %s: %v", instance.UUID, err)
			mdevType = "Unknown"
		}

		owner := v1.OwnerUnknown
		if ownership != nil {
			name, err := ownership.ResolveOwner(instance.UUID)
			switch {
			case err != nil:
				log.Warnf("Inconsistent ownership of mdev device %s: %v", instance.UUID, err)
				report.AddWarning(v1.WarningAmbiguousOwnership, err.Error())
				owner = name
			case name == "":
				owner = v1.OwnerUnassigned
			default:
				owner = name
			}
		}

		report.Instances = append(report.Instances, v1.Instance{
			UUID:   instance.UUID,
			Parent: instance.ParentAddress(),
			Type:   mdevType,
			Owner:  owner,
		})
	}

	report.BuildSummary()
	return report, nil
}

func (e *Engine) profilesFor(address string) []v1.Profile {
	profiles, err := e.mdev.Profiles(address)
	if err != nil {
		log.Warnf("Unable to read vGPU types of %s: %v", address, err)
		return nil
	}

	var result []v1.Profile
	for _, p := range profiles {
		result = append(result, v1.Profile{
			Type:               p.Type,
			Name:               p.Name,
			Description:        p.Description,
			AvailableInstances: p.AvailableInstances,
		})
	}
	return result
}

// CreateInstance creates a mediated device of mdevType with the given UUID
// on the PCI function at address. The address and type are validated against
// the freshly read catalog first so an unsupported type fails with the list
// of types the function does support rather than a bare driver error.
func (e *Engine) CreateInstance(address, mdevType, id string) error {
	bdf, err := types.ParseBDF(address)
	if err != nil {
		return fmt.Errorf("malformed PCI address '%s': %v", address, err)
	}

	profiles, err := e.mdev.Profiles(bdf.String())
	if err != nil {
		return fmt.Errorf("unable to read vGPU types of %s: %v", bdf, err)
	}

	var supported []string
	for _, p := range profiles {
		supported = append(supported, p.Type)
	}
	if !contains(supported, mdevType) {
		if len(supported) == 0 {
			return fmt.Errorf("no vGPU types reported for %s: %w", bdf, errdefs.ErrProfileNotFound)
		}
		return fmt.Errorf("%s supports [%s]: %w", bdf, strings.Join(supported, ", "), errdefs.ErrProfileNotFound)
	}

	return e.mdev.CreateInstance(bdf.String(), mdevType, id)
}

// ConfirmInstance polls the mdev registry until the device with the given
// UUID becomes visible or the timeout elapses. A sysfs create write can
// return success while the driver asynchronously rejects the device, so
// creation is verified by observation rather than by trusting the write's
// return alone.
func (e *Engine) ConfirmInstance(ctx context.Context, id string, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, confirmPollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		return e.mdev.HasInstance(id), nil
	})
	if err != nil {
		return fmt.Errorf("mdev device %s not visible after %v: %v", id, timeout, err)
	}
	return nil
}

// RemoveInstance destroys the mediated device with the given UUID.
func (e *Engine) RemoveInstance(id string) error {
	if !e.mdev.HasInstance(id) {
		return fmt.Errorf("no mdev device with UUID %s found", id)
	}
	return e.mdev.RemoveInstance(id)
}

func contains(s []string, x string) bool {
	for _, e := range s {
		if e == x {
			return true
		}
	}
	return false
}
