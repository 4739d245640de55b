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

package remove

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/NVIDIA/vgpu-inventory/internal/mdev"
	"github.com/NVIDIA/vgpu-inventory/pkg/inventory"
)

var log = logrus.New()

// GetLogger returns the logger for the 'remove' command
func GetLogger() *logrus.Logger {
	return log
}

// Flags for the 'remove' command
type Flags struct {
	UUID        string
	ParentsRoot string
	DevicesRoot string
}

// BuildCommand builds the 'remove' command
func BuildCommand() *cli.Command {
	removeFlags := Flags{}

	remove := cli.Command{}
	remove.Name = "remove"
	remove.Usage = "Destroy a vGPU mediated device"
	remove.Action = func(c *cli.Context) error {
		return removeWrapper(c, &removeFlags)
	}

	remove.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "uuid",
			Aliases:     []string{"u"},
			Usage:       "UUID of the device to destroy",
			Destination: &removeFlags.UUID,
			EnvVars:     []string{"VGPU_INVENTORY_UUID"},
		},
		&cli.StringFlag{
			Name:        "parents-root",
			Usage:       "Override the mdev parent bus directory",
			Hidden:      true,
			Destination: &removeFlags.ParentsRoot,
		},
		&cli.StringFlag{
			Name:        "devices-root",
			Usage:       "Override the mdev device registry directory",
			Hidden:      true,
			Destination: &removeFlags.DevicesRoot,
		},
	}

	return &remove
}

func removeWrapper(c *cli.Context, f *Flags) error {
	err := CheckFlags(f)
	if err != nil {
		cli.ShowSubcommandHelp(c)
		return err
	}

	var mdevOpts []mdev.Option
	if f.ParentsRoot != "" {
		mdevOpts = append(mdevOpts, mdev.WithMdevParentsRoot(f.ParentsRoot))
	}
	if f.DevicesRoot != "" {
		mdevOpts = append(mdevOpts, mdev.WithMdevDevicesRoot(f.DevicesRoot))
	}
	engine := inventory.New(inventory.WithMdevRegistry(mdev.New(mdevOpts...)))

	log.Debugf("Removing mdev device...")
	err = engine.RemoveInstance(f.UUID)
	if err != nil {
		return fmt.Errorf("error removing mdev device: %v", err)
	}

	log.Infof("Removed mdev device %s", f.UUID)
	return nil
}

// CheckFlags ensures that any required flags are provided and ensures they are well-formed.
func CheckFlags(f *Flags) error {
	var missing []string
	if f.UUID == "" {
		missing = append(missing, "uuid")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags '%v'", strings.Join(missing, ", "))
	}
	return nil
}
