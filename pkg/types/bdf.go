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

package types

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	// fullBDFRegex represents a fully-qualified PCI address including the
	// domain, i.e. '0000:3d:00.1'.
	fullBDFRegex = `^(?P<DOMAIN>[0-9a-fA-F]{4}):(?P<BUS>[0-9a-fA-F]{2}):(?P<DEVICE>[0-9a-fA-F]{2})\.(?P<FUNCTION>[0-9a-fA-F])$`
	// shortBDFRegex represents a PCI address without the domain, i.e. '3d:00.1'.
	shortBDFRegex = `^(?P<BUS>[0-9a-fA-F]{2}):(?P<DEVICE>[0-9a-fA-F]{2})\.(?P<FUNCTION>[0-9a-fA-F])$`
)

// BDF represents a PCI bus-device-function address.
// Virtual functions carry a non-zero function digit and share the
// domain/bus/device prefix of their physical function.
type BDF struct {
	Domain   uint16
	Bus      uint8
	Device   uint8
	Function uint8
}

// ParseBDF converts a string representation of a PCI address into a BDF.
// Both the fully-qualified form ('0000:3d:00.1') and the short form
// ('3d:00.1', domain assumed 0000) are accepted.
func ParseBDF(s string) (*BDF, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("empty PCI address string")
	}

	captureGroups := parseRegex(fullBDFRegex, s)
	if len(captureGroups) == 0 {
		captureGroups = parseRegex(shortBDFRegex, s)
	}
	if len(captureGroups) == 0 {
		return nil, fmt.Errorf("malformed PCI address '%s'", s)
	}

	var domain uint64
	if domainStr, ok := captureGroups["DOMAIN"]; ok {
		var err error
		domain, err = strconv.ParseUint(domainStr, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("malformed PCI domain '%s'", domainStr)
		}
	}

	bus, err := strconv.ParseUint(captureGroups["BUS"], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("malformed PCI bus '%s'", captureGroups["BUS"])
	}

	device, err := strconv.ParseUint(captureGroups["DEVICE"], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("malformed PCI device '%s'", captureGroups["DEVICE"])
	}

	function, err := strconv.ParseUint(captureGroups["FUNCTION"], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("malformed PCI function '%s'", captureGroups["FUNCTION"])
	}

	b := &BDF{
		Domain:   uint16(domain),
		Bus:      uint8(bus),
		Device:   uint8(device),
		Function: uint8(function),
	}
	return b, nil
}

func parseRegex(re, s string) map[string]string {
	var r = regexp.MustCompile(re)
	match := r.FindStringSubmatch(s)

	captureGroups := make(map[string]string)
	for i, name := range r.SubexpNames() {
		if i > 0 && i <= len(match) {
			captureGroups[name] = match[i]
		}
	}

	return captureGroups
}

func (b BDF) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", b.Domain, b.Bus, b.Device, b.Function)
}

// SameSlot reports whether two addresses share the domain/bus/device prefix.
// A virtual function and its physical function always share a slot.
func (b BDF) SameSlot(o BDF) bool {
	return b.Domain == o.Domain && b.Bus == o.Bus && b.Device == o.Device
}

// IsFunctionZero reports whether the address names function 0, the physical
// function of a multi-function device.
func (b BDF) IsFunctionZero() bool {
	return b.Function == 0
}
