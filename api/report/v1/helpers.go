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
	"sort"
)

// BuildSummary recomputes the 'Summary' field from the report's profiles and
// instances. Capacity is summed across every function reporting a profile
// type; instance counts come from the observed instance list. The result is
// sorted by profile type so repeated scans of an unchanged host produce an
// identical document.
func (r *SystemReport) BuildSummary() {
	available := make(map[string]int)
	names := make(map[string]string)
	counts := make(map[string]int)

	addProfiles := func(profiles []Profile) {
		for _, p := range profiles {
			available[p.Type] += p.AvailableInstances
			if _, exists := names[p.Type]; !exists {
				names[p.Type] = p.Name
			}
		}
	}

	for _, gpu := range r.GPUs {
		addProfiles(gpu.Profiles)
		for _, vf := range gpu.VirtualFunctions {
			addProfiles(vf.Profiles)
		}
	}

	for _, instance := range r.Instances {
		counts[instance.Type]++
	}

	seen := make(map[string]bool)
	for t := range available {
		seen[t] = true
	}
	for t := range counts {
		seen[t] = true
	}

	var types []string
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)

	summary := []ProfileSummary{}
	for _, t := range types {
		name, exists := names[t]
		if !exists {
			name = "Unknown"
		}
		summary = append(summary, ProfileSummary{
			Type:               t,
			Name:               name,
			AvailableInstances: available[t],
			InstanceCount:      counts[t],
		})
	}

	r.Summary = summary
}

// AddWarning appends a warning with the given code and detail to the report.
func (r *SystemReport) AddWarning(code string, detail string) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Detail: detail})
}

// HasWarning checks a 'SystemReport' for at least one warning with the given code.
func (r *SystemReport) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
