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

// Package hostcheck verifies the host prerequisites for vGPU mediated
// devices. Each check is independent and appends a typed result; nothing is
// tallied in place, callers reduce the result list with Summarize.
package hostcheck

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	defaultIOMMURoot       = "/sys/kernel/iommu_groups"
	defaultMdevParentsRoot = "/sys/class/mdev_bus"
	defaultVirshCommand    = "virsh"
)

// Status classifies the outcome of a single check.
type Status string

const (
	// StatusPass means the prerequisite is satisfied.
	StatusPass = Status("pass")
	// StatusWarn means the prerequisite is degraded but scanning can proceed.
	StatusWarn = Status("warn")
	// StatusFail means the prerequisite is not satisfied.
	StatusFail = Status("fail")
)

// Result is the outcome of one prerequisite check.
type Result struct {
	Name   string `json:"name"   yaml:"name"`
	Status Status `json:"status" yaml:"status"`
	Detail string `json:"detail" yaml:"detail"`
}

// Summary counts check results by status.
type Summary struct {
	Passed   int `json:"passed"   yaml:"passed"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Failed   int `json:"failed"   yaml:"failed"`
}

// Summarize reduces a result list to per-status counts.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusWarn:
			s.Warnings++
		case StatusFail:
			s.Failed++
		}
	}
	return s
}

// Checker runs the host prerequisite checks.
type Checker struct {
	iommuRoot       string
	mdevParentsRoot string
	virshCommand    string
}

// Option defines a function for passing options to the New() call.
type Option func(*Checker)

// WithIOMMURoot provides an Option to set the IOMMU groups directory.
func WithIOMMURoot(root string) Option {
	return func(c *Checker) {
		c.iommuRoot = root
	}
}

// WithMdevParentsRoot provides an Option to set the mdev parent bus directory.
func WithMdevParentsRoot(root string) Option {
	return func(c *Checker) {
		c.mdevParentsRoot = root
	}
}

// WithVirshCommand provides an Option to set the virsh command name.
func WithVirshCommand(command string) Option {
	return func(c *Checker) {
		c.virshCommand = command
	}
}

// New creates a new host prerequisite checker.
func New(opts ...Option) *Checker {
	c := &Checker{}
	for _, opt := range opts {
		opt(c)
	}
	if c.iommuRoot == "" {
		c.iommuRoot = defaultIOMMURoot
	}
	if c.mdevParentsRoot == "" {
		c.mdevParentsRoot = defaultMdevParentsRoot
	}
	if c.virshCommand == "" {
		c.virshCommand = defaultVirshCommand
	}
	return c
}

// Run executes every check and returns their results in a fixed order. Checks
// never abort each other; a host failing one prerequisite still gets a
// complete picture of the rest.
func (c *Checker) Run() []Result {
	return []Result{
		c.checkIOMMU(),
		c.checkMdevBus(),
		c.checkVGPUFunctions(),
		c.checkVirsh(),
	}
}

func (c *Checker) checkIOMMU() Result {
	result := Result{Name: "IOMMU groups"}

	groups, err := os.ReadDir(c.iommuRoot)
	if err != nil || len(groups) == 0 {
		result.Status = StatusFail
		result.Detail = "no IOMMU groups found, enable IOMMU in the firmware and kernel command line"
		return result
	}

	result.Status = StatusPass
	result.Detail = fmt.Sprintf("%d IOMMU groups", len(groups))
	return result
}

func (c *Checker) checkMdevBus() Result {
	result := Result{Name: "mdev bus"}

	parents, err := os.ReadDir(c.mdevParentsRoot)
	if err != nil {
		result.Status = StatusFail
		result.Detail = "mdev bus not registered, load the NVIDIA vGPU manager"
		return result
	}
	if len(parents) == 0 {
		result.Status = StatusWarn
		result.Detail = "mdev bus registered but no parent devices found"
		return result
	}

	result.Status = StatusPass
	result.Detail = fmt.Sprintf("%d parent devices", len(parents))
	return result
}

func (c *Checker) checkVGPUFunctions() Result {
	result := Result{Name: "vGPU functions"}

	functions, _ := filepath.Glob(filepath.Join(c.mdevParentsRoot, "*", "mdev_supported_types"))
	if len(functions) == 0 {
		result.Status = StatusFail
		result.Detail = "no PCI function exposes mdev types"
		return result
	}

	mdevTypes, _ := filepath.Glob(filepath.Join(c.mdevParentsRoot, "*", "mdev_supported_types", "*"))
	result.Status = StatusPass
	result.Detail = fmt.Sprintf("%d vGPU types across %d functions", len(mdevTypes), len(functions))
	return result
}

func (c *Checker) checkVirsh() Result {
	result := Result{Name: "virsh"}

	path, err := exec.LookPath(c.virshCommand)
	if err != nil {
		result.Status = StatusWarn
		result.Detail = fmt.Sprintf("%s not found, VM ownership will be unreported", c.virshCommand)
		return result
	}

	result.Status = StatusPass
	result.Detail = path
	return result
}
