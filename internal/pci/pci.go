package pci

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/NVIDIA/go-nvlib/pkg/nvpci"
	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/vgpu-inventory/pkg/errdefs"
	"github.com/NVIDIA/vgpu-inventory/pkg/types"
)

// nvpciLib is the subset of the nvpci interface needed for enumeration.
type nvpciLib interface {
	GetGPUs() ([]*nvpci.NvidiaPCIDevice, error)
}

// Inventory reads NVIDIA physical and virtual functions from the live PCI
// bus enumeration. All operations are pure reads with no side effects.
type Inventory struct {
	nvpci nvpciLib
}

// Device describes a single NVIDIA PCI function.
type Device struct {
	Address    string
	DeviceName string
	Path       string
	NumVFs     int
}

// Option defines a function for passing options to the New() call.
type Option func(*Inventory)

// WithNvpciLib provides an Option to set the nvpci library.
func WithNvpciLib(nvpciLib nvpciLib) Option {
	return func(i *Inventory) {
		i.nvpci = nvpciLib
	}
}

// New creates a new PCI inventory reader.
func New(opts ...Option) *Inventory {
	i := &Inventory{}
	for _, opt := range opts {
		opt(i)
	}
	if i.nvpci == nil {
		i.nvpci = nvpci.New()
	}
	return i
}

// PhysicalFunctions returns all NVIDIA display-class physical functions on
// the system, sorted by ascending PCI address. Virtual functions are never
// included. A failure to enumerate the PCI bus is surfaced as
// ToolUnavailable so callers can distinguish "no GPUs" from "cannot check".
func (i *Inventory) PhysicalFunctions() ([]Device, error) {
	gpus, err := i.nvpci.GetGPUs()
	if err != nil {
		return nil, errdefs.NewToolUnavailable("PCI bus enumeration", err)
	}

	var devices []Device
	for _, gpu := range gpus {
		numVFs := 0
		if gpu.SriovInfo.IsPF() {
			numVFs = int(gpu.SriovInfo.PhysicalFunction.NumVFs)
		}
		devices = append(devices, Device{
			Address:    gpu.Address,
			DeviceName: gpu.DeviceName,
			Path:       gpu.Path,
			NumVFs:     numVFs,
		})
	}

	addressToID := func(address string) uint64 {
		address = strings.ReplaceAll(address, ":", "")
		address = strings.ReplaceAll(address, ".", "")
		id, _ := strconv.ParseUint(address, 16, 64)
		return id
	}

	sort.Slice(devices, func(i, j int) bool {
		return addressToID(devices[i].Address) < addressToID(devices[j].Address)
	})

	return devices, nil
}

// VirtualFunctions returns the SR-IOV virtual functions of pf, derived from
// the virtfn* links under its sysfs path. Every returned function shares
// pf's domain/bus/device prefix and has a non-zero function digit; links
// that resolve elsewhere are skipped. A physical function with SR-IOV
// disabled has no links and yields an empty slice, not an error.
func (i *Inventory) VirtualFunctions(pf Device) ([]Device, error) {
	pfBDF, err := types.ParseBDF(pf.Address)
	if err != nil {
		return nil, fmt.Errorf("malformed physical function address '%s': %v", pf.Address, err)
	}

	var vfs []Device
	for vfnum := 0; vfnum < pf.NumVFs; vfnum++ {
		linkPath := filepath.Join(pf.Path, "virtfn"+strconv.Itoa(vfnum))
		target, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			log.Debugf("Skipping virtfn%d of %s: %v", vfnum, pf.Address, err)
			continue
		}

		vfBDF, err := types.ParseBDF(filepath.Base(target))
		if err != nil {
			log.Debugf("Skipping virtfn%d of %s: %v", vfnum, pf.Address, err)
			continue
		}
		if !vfBDF.SameSlot(*pfBDF) || vfBDF.IsFunctionZero() {
			log.Debugf("Skipping virtfn%d of %s: %s is not a function of the same slot", vfnum, pf.Address, vfBDF)
			continue
		}

		vfs = append(vfs, Device{
			Address:    vfBDF.String(),
			DeviceName: pf.DeviceName,
			Path:       target,
		})
	}

	return vfs, nil
}
