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

package mdev

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/vgpu-inventory/pkg/errdefs"
)

const (
	mdevParentsRoot = "/sys/class/mdev_bus"
	mdevDevicesRoot = "/sys/bus/mdev/devices"
)

// Registry reads the vGPU profile catalog and the set of instantiated
// mediated devices from sysfs, and creates and removes instances through
// their control files.
type Registry struct {
	mdevParentsRoot string
	mdevDevicesRoot string
}

// Profile describes one mdev type exposed by a PCI function. The Type is the
// vendor-defined identifier of the profile (i.e. 'nvidia-530'); Name and
// Description are the human-readable attributes published next to it.
type Profile struct {
	Type               string
	Name               string
	Description        string
	AvailableInstances int
}

// Instance represents an instantiated mediated device.
type Instance struct {
	UUID string
	Path string
}

// Option defines a function for passing options to the New() call.
type Option func(*Registry)

// WithMdevParentsRoot provides an Option to override the mdev parent bus
// root, i.e. to point at a fixture tree.
func WithMdevParentsRoot(root string) Option {
	return func(r *Registry) {
		r.mdevParentsRoot = root
	}
}

// WithMdevDevicesRoot provides an Option to override the mdev devices root.
func WithMdevDevicesRoot(root string) Option {
	return func(r *Registry) {
		r.mdevDevicesRoot = root
	}
}

// New creates a new mdev registry.
func New(opts ...Option) *Registry {
	r := &Registry{mdevParentsRoot: mdevParentsRoot, mdevDevicesRoot: mdevDevicesRoot}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Profiles returns the vGPU profile catalog of the PCI function at bdf,
// sorted by type. A function with no mdev_supported_types directory has no
// vGPU driver bound and yields an empty catalog, not an error. A profile
// with missing or malformed attribute files is reported with documented
// defaults ('Unknown' name, 0 available instances) and never aborts
// enumeration of its siblings.
func (r *Registry) Profiles(bdf string) ([]Profile, error) {
	typesRoot := path.Join(r.mdevParentsRoot, bdf, "mdev_supported_types")
	typeDirs, err := os.ReadDir(typesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to read mdev_supported_types for %s: %v", bdf, err)
	}

	var profiles []Profile
	for _, typeDir := range typeDirs {
		if !typeDir.IsDir() {
			continue
		}
		profiles = append(profiles, readProfile(path.Join(typesRoot, typeDir.Name()), typeDir.Name()))
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Type < profiles[j].Type
	})

	return profiles, nil
}

func readProfile(profilePath, mdevType string) Profile {
	profile := Profile{Type: mdevType, Name: "Unknown"}

	if name, err := os.ReadFile(path.Join(profilePath, "name")); err == nil {
		profile.Name = strings.TrimSpace(string(name))
	} else {
		log.Debugf("No name attribute for mdev type %s: %v", mdevType, err)
	}

	if description, err := os.ReadFile(path.Join(profilePath, "description")); err == nil {
		profile.Description = strings.TrimSpace(string(description))
	}

	profile.AvailableInstances = readAvailableInstances(profilePath, mdevType)

	return profile
}

func readAvailableInstances(profilePath, mdevType string) int {
	available, err := os.ReadFile(path.Join(profilePath, "available_instances"))
	if err != nil {
		log.Debugf("No available_instances attribute for mdev type %s: %v", mdevType, err)
		return 0
	}

	availableInstances, err := strconv.Atoi(strings.TrimSpace(string(available)))
	if err != nil {
		log.Warnf("Malformed available_instances for mdev type %s: %v", mdevType, err)
		return 0
	}

	return availableInstances
}

// Instances returns all instantiated mediated devices on the system, sorted
// by UUID. An absent devices root means the mdev bus is not registered at
// all and is surfaced as ToolUnavailable, distinct from an empty registry.
func (r *Registry) Instances() ([]Instance, error) {
	deviceDirs, err := os.ReadDir(r.mdevDevicesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NewToolUnavailable("mdev device registry", err)
		}
		return nil, fmt.Errorf("unable to read MDEV devices directory: %v", err)
	}

	var instances []Instance
	for _, deviceDir := range deviceDirs {
		instance, err := r.newInstance(deviceDir.Name())
		if err != nil {
			log.Debugf("Skipping mdev device %s: %v", deviceDir.Name(), err)
			continue
		}
		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].UUID < instances[j].UUID
	})

	return instances, nil
}

func (r *Registry) newInstance(id string) (Instance, error) {
	devicePath := path.Join(r.mdevDevicesRoot, id)
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return Instance{}, fmt.Errorf("error resolving symlink for %s: %v", devicePath, err)
	}

	return Instance{UUID: id, Path: resolved}, nil
}

// HasInstance reports whether an instance with the given UUID is currently
// present in the registry.
func (r *Registry) HasInstance(id string) bool {
	_, err := os.Stat(path.Join(r.mdevDevicesRoot, id))
	return err == nil
}

// Type returns the vGPU profile the instance was created from, derived by
// resolving its mdev_type link and taking the last path segment. The profile
// is never stored on the instance; it is re-derived on every call.
func (i Instance) Type() (string, error) {
	mdevTypeDir, err := filepath.EvalSymlinks(path.Join(i.Path, "mdev_type"))
	if err != nil {
		return "", fmt.Errorf("error resolving mdev_type for %s: %v", i.UUID, err)
	}

	return filepath.Base(mdevTypeDir), nil
}

// ParentAddress returns the BDF of the PCI function the instance was created
// on.
func (i Instance) ParentAddress() string {
	// <parents root>/<addr>/<uuid>
	return filepath.Base(path.Dir(i.Path))
}

// CreateInstance creates a mediated device of mdevType with the given UUID
// on the PCI function at bdf. The UUID must not already exist in the
// registry and mdevType must be present in the function's catalog; both are
// verified before the control file is touched. available_instances is read
// as a pre-condition and logged as a warning when zero, but the driver
// remains the authoritative arbiter at write time: capacity is a
// point-in-time read and the check-then-write window is not exclusive. A
// refused write is surfaced as DriverRejected with the OS error preserved
// verbatim.
func (r *Registry) CreateInstance(bdf, mdevType, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("malformed UUID '%s': %v", id, err)
	}

	if r.HasInstance(id) {
		return fmt.Errorf("unable to create mdev %s: %w", id, errdefs.ErrDuplicateUUID)
	}

	typePath := path.Join(r.mdevParentsRoot, bdf, "mdev_supported_types", mdevType)
	if _, err := os.Stat(typePath); err != nil {
		return fmt.Errorf("mdev type %s on device %s: %w", mdevType, bdf, errdefs.ErrProfileNotFound)
	}

	if available := readAvailableInstances(typePath, mdevType); available == 0 {
		log.Warnf("No available instances of %s reported on %s, the driver may reject the create", mdevType, bdf)
	}

	createPath := filepath.Join(typePath, "create")
	f, err := os.OpenFile(createPath, os.O_WRONLY|os.O_SYNC, 0200)
	if err != nil {
		return errdefs.NewDriverRejected(createPath, err)
	}
	defer f.Close()
	if _, err = f.WriteString(id); err != nil {
		return errdefs.NewDriverRejected(createPath, err)
	}

	return nil
}

// RemoveInstance destroys the mediated device with the given UUID by writing
// to its remove control file.
func (r *Registry) RemoveInstance(id string) error {
	removeFile, err := os.OpenFile(path.Join(r.mdevDevicesRoot, id, "remove"), os.O_WRONLY|os.O_SYNC, 0200)
	if err != nil {
		return fmt.Errorf("unable to open remove file: %v", err)
	}
	defer removeFile.Close()
	if _, err = removeFile.WriteString("1"); err != nil {
		return fmt.Errorf("unable to delete mdev: %v", err)
	}

	return nil
}
