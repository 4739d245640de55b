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

package v1

import (
	"encoding/json"
	"fmt"
)

// Version indicates the version of the 'SystemReport' struct used to hold a host scan snapshot.
const Version = "v1"

// Owner labels used in 'Instance' when no VM name could be attributed.
const (
	// OwnerUnassigned means ownership was resolved and no VM references the instance.
	OwnerUnassigned = "unassigned"
	// OwnerUnknown means ownership could not be resolved for this scan.
	OwnerUnknown = "unknown"
)

// Warning codes attached to a 'SystemReport' when a scan section is degraded.
const (
	WarningPCIUnavailable       = "pci-unavailable"
	WarningMdevBusUnavailable   = "mdev-bus-unavailable"
	WarningOwnershipUnavailable = "ownership-unavailable"
	WarningOwnershipTimeout     = "ownership-timeout"
	WarningAmbiguousOwnership   = "ambiguous-ownership"
)

// SystemReport is a versioned struct used to hold a point-in-time snapshot of
// the host's vGPU inventory: GPUs and their virtual functions, the mediated
// device profiles each function supports, the instantiated mediated devices,
// and a per-profile capacity summary.
type SystemReport struct {
	Version   string           `json:"version"             yaml:"version"`
	GPUs      []GPU            `json:"gpus"                yaml:"gpus"`
	Instances []Instance       `json:"instances"           yaml:"instances"`
	Summary   []ProfileSummary `json:"summary"             yaml:"summary"`
	Warnings  []Warning        `json:"warnings,omitempty"  yaml:"warnings,omitempty"`
}

// GPU describes one physical GPU function, its supported profiles, and any
// SR-IOV virtual functions enabled on it.
type GPU struct {
	Address          string     `json:"address"                     yaml:"address"`
	DeviceName       string     `json:"device-name"                 yaml:"device-name"`
	Profiles         []Profile  `json:"profiles,omitempty"          yaml:"profiles,omitempty"`
	VirtualFunctions []Function `json:"virtual-functions,omitempty" yaml:"virtual-functions,omitempty"`
}

// Function describes one virtual function and its supported profiles.
type Function struct {
	Address  string    `json:"address"            yaml:"address"`
	Profiles []Profile `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

// Profile describes one mediated device type as reported by the driver for a
// specific PCI function.
type Profile struct {
	Type               string `json:"type"                  yaml:"type"`
	Name               string `json:"name"                  yaml:"name"`
	Description        string `json:"description,omitempty" yaml:"description,omitempty"`
	AvailableInstances int    `json:"available-instances"   yaml:"available-instances"`
}

// Instance describes one instantiated mediated device: its UUID, the PCI
// function it lives on, the profile type it was created from, and the VM
// that references it (or an owner label when none does).
type Instance struct {
	UUID   string `json:"uuid"   yaml:"uuid"`
	Parent string `json:"parent" yaml:"parent"`
	Type   string `json:"type"   yaml:"type"`
	Owner  string `json:"owner"  yaml:"owner"`
}

// ProfileSummary aggregates capacity versus usage for one profile type across
// all functions that report it.
type ProfileSummary struct {
	Type               string `json:"type"                yaml:"type"`
	Name               string `json:"name"                yaml:"name"`
	AvailableInstances int    `json:"available-instances" yaml:"available-instances"`
	InstanceCount      int    `json:"instance-count"      yaml:"instance-count"`
}

// Warning records a degraded or anomalous scan section.
type Warning struct {
	Code   string `json:"code"   yaml:"code"`
	Detail string `json:"detail" yaml:"detail"`
}

// UnmarshalJSON unmarshals raw bytes into a versioned 'SystemReport'.
func (r *SystemReport) UnmarshalJSON(b []byte) error {
	report := make(map[string]json.RawMessage)
	err := json.Unmarshal(b, &report)
	if err != nil {
		return err
	}

	if !containsKey(report, "version") && len(report) > 0 {
		return fmt.Errorf("unable to parse with missing 'version' field")
	}

	result := SystemReport{}
	for k, v := range report {
		switch k {
		case "version":
			var version string
			err = json.Unmarshal(v, &version)
			if err != nil {
				return err
			}
			if version != Version {
				return fmt.Errorf("unknown version: %v", version)
			}
			result.Version = version
		case "gpus":
			err = json.Unmarshal(v, &result.GPUs)
			if err != nil {
				return err
			}
		case "instances":
			err = json.Unmarshal(v, &result.Instances)
			if err != nil {
				return err
			}
		case "summary":
			err = json.Unmarshal(v, &result.Summary)
			if err != nil {
				return err
			}
		case "warnings":
			err = json.Unmarshal(v, &result.Warnings)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected field: %v", k)
		}
	}

	*r = result
	return nil
}

func containsKey(m map[string]json.RawMessage, s string) bool {
	_, exists := m[s]
	return exists
}
