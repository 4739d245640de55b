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

package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypedErrorMatching(t *testing.T) {
	testCases := []struct {
		description string
		err         error
		matches     func(error) bool
	}{
		{
			"ToolUnavailable",
			NewToolUnavailable("virsh", errors.New("executable file not found in $PATH")),
			IsToolUnavailable,
		},
		{
			"DriverRejected",
			NewDriverRejected("/sys/class/mdev_bus/0000:0a:00.4/mdev_supported_types/nvidia-530/create", errors.New("write: no space left on device")),
			IsDriverRejected,
		},
		{
			"AmbiguousOwnership",
			NewAmbiguousOwnership("b8cb6b68-3f0b-4b2b-9eb1-a69b2e84f83b", []string{"vm-a", "vm-b"}),
			IsAmbiguousOwnership,
		},
		{
			"ScanTimeout",
			NewScanTimeout("ownership", errors.New("context deadline exceeded")),
			IsScanTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			require.True(t, tc.matches(tc.err))
			wrapped := fmt.Errorf("scanning host: %w", tc.err)
			require.True(t, tc.matches(wrapped))
		})
	}
}

func TestTypedErrorsDoNotCrossMatch(t *testing.T) {
	err := NewToolUnavailable("lspci", errors.New("not found"))
	require.False(t, IsDriverRejected(err))
	require.False(t, IsAmbiguousOwnership(err))
	require.False(t, IsScanTimeout(err))
	require.False(t, errors.Is(err, ErrDuplicateUUID))
}

func TestDriverRejectedPreservesReason(t *testing.T) {
	cause := errors.New("Invalid argument")
	err := NewDriverRejected("/sys/bus/mdev/devices/create", cause)
	require.Contains(t, err.Error(), "Invalid argument")
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestAmbiguousOwnershipListsAllVMs(t *testing.T) {
	err := NewAmbiguousOwnership("uuid-1", []string{"alpha", "beta", "gamma"})
	for _, vm := range []string{"alpha", "beta", "gamma"} {
		require.Contains(t, err.Error(), vm)
	}
}
