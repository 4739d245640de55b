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

// Package errdefs defines the error conditions surfaced by the inventory
// layers. Callers branch on them with errors.Is or the Is* helpers instead of
// matching error strings.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateUUID indicates an instance create was attempted with a UUID
	// already present in the mdev device registry.
	ErrDuplicateUUID = errors.New("mdev device with this UUID already exists")

	// ErrProfileNotFound indicates the requested vGPU type is not exposed by
	// the target PCI function.
	ErrProfileNotFound = errors.New("vGPU type not supported by this device")
)

// ToolUnavailableError indicates a required external tool or pseudo-filesystem
// path is missing entirely. Distinct from an empty result: callers need to
// know whether absence is meaningful.
type ToolUnavailableError struct {
	Tool string
	Err  error
}

// NewToolUnavailable creates a ToolUnavailableError for the named tool.
func NewToolUnavailable(tool string, err error) error {
	return &ToolUnavailableError{Tool: tool, Err: err}
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Tool, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error {
	return e.Err
}

// IsToolUnavailable tests whether err is a ToolUnavailableError.
func IsToolUnavailable(err error) bool {
	var e *ToolUnavailableError
	return errors.As(err, &e)
}

// DriverRejectedError indicates the kernel driver refused an mdev control
// file write. The underlying OS error text is preserved verbatim for
// diagnosis, never paraphrased.
type DriverRejectedError struct {
	Path string
	Err  error
}

// NewDriverRejected creates a DriverRejectedError for the control file at path.
func NewDriverRejected(path string, err error) error {
	return &DriverRejectedError{Path: path, Err: err}
}

func (e *DriverRejectedError) Error() string {
	return fmt.Sprintf("driver rejected write to %s: %v", e.Path, e.Err)
}

func (e *DriverRejectedError) Unwrap() error {
	return e.Err
}

// IsDriverRejected tests whether err is a DriverRejectedError.
func IsDriverRejected(err error) bool {
	var e *DriverRejectedError
	return errors.As(err, &e)
}

// AmbiguousOwnershipError indicates more than one VM configuration references
// the same mdev instance UUID. libvirt refuses to start a second VM
// referencing an in-use UUID, so this is a consistency anomaly to surface,
// not a state to silently pick a winner from.
type AmbiguousOwnershipError struct {
	UUID string
	VMs  []string
}

// NewAmbiguousOwnership creates an AmbiguousOwnershipError for uuid and the
// VMs referencing it.
func NewAmbiguousOwnership(uuid string, vms []string) error {
	return &AmbiguousOwnershipError{UUID: uuid, VMs: vms}
}

func (e *AmbiguousOwnershipError) Error() string {
	return fmt.Sprintf("mdev device %s referenced by multiple VMs: %s", e.UUID, strings.Join(e.VMs, ", "))
}

// IsAmbiguousOwnership tests whether err is an AmbiguousOwnershipError.
func IsAmbiguousOwnership(err error) bool {
	var e *AmbiguousOwnershipError
	return errors.As(err, &e)
}

// ScanTimeoutError indicates a sub-scan exceeded its soft timeout. The
// affected report section is marked unavailable; the rest of the report is
// still produced.
type ScanTimeoutError struct {
	Section string
	Err     error
}

// NewScanTimeout creates a ScanTimeoutError for the named report section.
func NewScanTimeout(section string, err error) error {
	return &ScanTimeoutError{Section: section, Err: err}
}

func (e *ScanTimeoutError) Error() string {
	return fmt.Sprintf("%s scan timed out: %v", e.Section, e.Err)
}

func (e *ScanTimeoutError) Unwrap() error {
	return e.Err
}

// IsScanTimeout tests whether err is a ScanTimeoutError.
func IsScanTimeout(err error) bool {
	var e *ScanTimeoutError
	return errors.As(err, &e)
}
