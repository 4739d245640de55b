package pci

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/NVIDIA/go-nvlib/pkg/nvpci"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/vgpu-inventory/pkg/errdefs"
	"github.com/NVIDIA/vgpu-inventory/pkg/types"
)

type fakeNvpci struct {
	gpus []*nvpci.NvidiaPCIDevice
	err  error
}

func (f *fakeNvpci) GetGPUs() ([]*nvpci.NvidiaPCIDevice, error) {
	return f.gpus, f.err
}

// newSysfsGPU lays out a PCI device directory with virtfn* links pointing at
// sibling virtual function directories, the way the kernel presents SR-IOV.
func newSysfsGPU(t *testing.T, root, pfAddress string, vfAddresses ...string) string {
	t.Helper()

	pfPath := filepath.Join(root, pfAddress)
	require.Nil(t, os.MkdirAll(pfPath, 0755))

	for i, vfAddress := range vfAddresses {
		vfPath := filepath.Join(root, vfAddress)
		require.Nil(t, os.MkdirAll(vfPath, 0755))
		link := filepath.Join(pfPath, "virtfn"+strconv.Itoa(i))
		require.Nil(t, os.Symlink(filepath.Join("..", vfAddress), link))
	}

	return pfPath
}

func TestPhysicalFunctions(t *testing.T) {
	testCases := []struct {
		description string
		gpus        []*nvpci.NvidiaPCIDevice
		err         error
		expected    []string
	}{
		{
			"No GPUs",
			nil,
			nil,
			nil,
		},
		{
			"Single GPU",
			[]*nvpci.NvidiaPCIDevice{
				{Address: "0000:0a:00.0", DeviceName: "RTX A6000"},
			},
			nil,
			[]string{"0000:0a:00.0"},
		},
		{
			"Multiple GPUs sorted by address",
			[]*nvpci.NvidiaPCIDevice{
				{Address: "0000:3d:00.0", DeviceName: "A100-PCIE-40GB"},
				{Address: "0000:0a:00.0", DeviceName: "RTX A6000"},
				{Address: "0000:0b:00.0", DeviceName: "RTX A6000"},
			},
			nil,
			[]string{"0000:0a:00.0", "0000:0b:00.0", "0000:3d:00.0"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			inventory := New(WithNvpciLib(&fakeNvpci{gpus: tc.gpus, err: tc.err}))
			devices, err := inventory.PhysicalFunctions()
			require.Nil(t, err)
			var addresses []string
			for _, d := range devices {
				addresses = append(addresses, d.Address)
			}
			require.Equal(t, tc.expected, addresses)
		})
	}
}

func TestPhysicalFunctionsUnavailable(t *testing.T) {
	inventory := New(WithNvpciLib(&fakeNvpci{err: errors.New("open /sys/bus/pci/devices: no such file or directory")}))
	_, err := inventory.PhysicalFunctions()
	require.Error(t, err)
	require.True(t, errdefs.IsToolUnavailable(err))
}

func TestVirtualFunctions(t *testing.T) {
	root := t.TempDir()
	pfPath := newSysfsGPU(t, root, "0000:0a:00.0", "0000:0a:00.4", "0000:0a:00.5")

	inventory := New(WithNvpciLib(&fakeNvpci{}))
	pf := Device{Address: "0000:0a:00.0", DeviceName: "RTX A6000", Path: pfPath, NumVFs: 2}

	vfs, err := inventory.VirtualFunctions(pf)
	require.Nil(t, err)
	require.Len(t, vfs, 2)
	require.Equal(t, "0000:0a:00.4", vfs[0].Address)
	require.Equal(t, "0000:0a:00.5", vfs[1].Address)

	pfBDF, err := types.ParseBDF(pf.Address)
	require.Nil(t, err)
	for _, vf := range vfs {
		vfBDF, err := types.ParseBDF(vf.Address)
		require.Nil(t, err)
		require.True(t, vfBDF.SameSlot(*pfBDF))
		require.False(t, vfBDF.IsFunctionZero())
	}
}

func TestVirtualFunctionsWithoutSRIOV(t *testing.T) {
	root := t.TempDir()
	pfPath := newSysfsGPU(t, root, "0000:0a:00.0")

	inventory := New(WithNvpciLib(&fakeNvpci{}))
	pf := Device{Address: "0000:0a:00.0", Path: pfPath, NumVFs: 0}

	vfs, err := inventory.VirtualFunctions(pf)
	require.Nil(t, err)
	require.Empty(t, vfs)
}

func TestVirtualFunctionsSkipForeignSlot(t *testing.T) {
	root := t.TempDir()
	pfPath := newSysfsGPU(t, root, "0000:0a:00.0", "0000:0b:00.1")

	inventory := New(WithNvpciLib(&fakeNvpci{}))
	pf := Device{Address: "0000:0a:00.0", Path: pfPath, NumVFs: 1}

	vfs, err := inventory.VirtualFunctions(pf)
	require.Nil(t, err)
	require.Empty(t, vfs)
}

func TestVirtualFunctionsSkipDanglingLink(t *testing.T) {
	root := t.TempDir()
	pfPath := newSysfsGPU(t, root, "0000:0a:00.0", "0000:0a:00.4")
	require.Nil(t, os.RemoveAll(filepath.Join(root, "0000:0a:00.4")))

	inventory := New(WithNvpciLib(&fakeNvpci{}))
	pf := Device{Address: "0000:0a:00.0", Path: pfPath, NumVFs: 1}

	vfs, err := inventory.VirtualFunctions(pf)
	require.Nil(t, err)
	require.Empty(t, vfs)
}
