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

package hostcheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func statusByName(results []Result) map[string]Status {
	statuses := make(map[string]Status)
	for _, r := range results {
		statuses[r.Name] = r.Status
	}
	return statuses
}

func TestRunHealthyHost(t *testing.T) {
	root := t.TempDir()
	iommuRoot := filepath.Join(root, "iommu_groups")
	parentsRoot := filepath.Join(root, "mdev_bus")
	require.Nil(t, os.MkdirAll(filepath.Join(iommuRoot, "0"), 0755))
	require.Nil(t, os.MkdirAll(filepath.Join(iommuRoot, "1"), 0755))
	require.Nil(t, os.MkdirAll(filepath.Join(parentsRoot, "0000:0a:00.4", "mdev_supported_types", "nvidia-530"), 0755))
	require.Nil(t, os.MkdirAll(filepath.Join(parentsRoot, "0000:0a:00.4", "mdev_supported_types", "nvidia-531"), 0755))

	checker := New(
		WithIOMMURoot(iommuRoot),
		WithMdevParentsRoot(parentsRoot),
		// Any binary resolvable in PATH stands in for virsh here.
		WithVirshCommand("sh"),
	)

	results := checker.Run()
	require.Len(t, results, 4)
	for _, r := range results {
		require.Equal(t, StatusPass, r.Status, r.Name)
	}
	require.Equal(t, Summary{Passed: 4}, Summarize(results))
}

func TestRunBareHost(t *testing.T) {
	root := t.TempDir()
	checker := New(
		WithIOMMURoot(filepath.Join(root, "iommu_groups")),
		WithMdevParentsRoot(filepath.Join(root, "mdev_bus")),
		WithVirshCommand("virsh-missing-for-test"),
	)

	results := checker.Run()
	statuses := statusByName(results)
	require.Equal(t, StatusFail, statuses["IOMMU groups"])
	require.Equal(t, StatusFail, statuses["mdev bus"])
	require.Equal(t, StatusFail, statuses["vGPU functions"])
	require.Equal(t, StatusWarn, statuses["virsh"])
	require.Equal(t, Summary{Warnings: 1, Failed: 3}, Summarize(results))
}

func TestRunMdevBusWithoutParents(t *testing.T) {
	root := t.TempDir()
	parentsRoot := filepath.Join(root, "mdev_bus")
	require.Nil(t, os.MkdirAll(parentsRoot, 0755))

	checker := New(
		WithIOMMURoot(filepath.Join(root, "iommu_groups")),
		WithMdevParentsRoot(parentsRoot),
		WithVirshCommand("sh"),
	)

	statuses := statusByName(checker.Run())
	require.Equal(t, StatusWarn, statuses["mdev bus"])
	require.Equal(t, StatusFail, statuses["vGPU functions"])
}

func TestSummarize(t *testing.T) {
	testCases := []struct {
		description string
		results     []Result
		expected    Summary
	}{
		{
			"No results",
			nil,
			Summary{},
		},
		{
			"Mixed results",
			[]Result{
				{Name: "a", Status: StatusPass},
				{Name: "b", Status: StatusPass},
				{Name: "c", Status: StatusWarn},
				{Name: "d", Status: StatusFail},
			},
			Summary{Passed: 2, Warnings: 1, Failed: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			require.Equal(t, tc.expected, Summarize(tc.results))
		})
	}
}
