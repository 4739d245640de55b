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

package create

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/NVIDIA/vgpu-inventory/internal/mdev"
	"github.com/NVIDIA/vgpu-inventory/pkg/inventory"
)

var log = logrus.New()

// GetLogger returns the logger for the 'create' command
func GetLogger() *logrus.Logger {
	return log
}

// Flags for the 'create' command
type Flags struct {
	Address        string
	Type           string
	UUID           string
	ConfirmTimeout time.Duration
	ParentsRoot    string
	DevicesRoot    string
}

// BuildCommand builds the 'create' command
func BuildCommand() *cli.Command {
	createFlags := Flags{}

	create := cli.Command{}
	create.Name = "create"
	create.Usage = "Create a vGPU mediated device on a PCI function"
	create.Action = func(c *cli.Context) error {
		return createWrapper(c, &createFlags)
	}

	create.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "address",
			Aliases:     []string{"a"},
			Usage:       "PCI address of the function to create the device on",
			Destination: &createFlags.Address,
			EnvVars:     []string{"VGPU_INVENTORY_PCI_ADDRESS"},
		},
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "vGPU type to create, e.g. 'nvidia-530'",
			Destination: &createFlags.Type,
			EnvVars:     []string{"VGPU_INVENTORY_MDEV_TYPE"},
		},
		&cli.StringFlag{
			Name:        "uuid",
			Aliases:     []string{"u"},
			Usage:       "UUID for the new device, generated when omitted",
			Destination: &createFlags.UUID,
			EnvVars:     []string{"VGPU_INVENTORY_UUID"},
		},
		&cli.DurationFlag{
			Name:        "confirm-timeout",
			Usage:       "How long to wait for the created device to become visible, 0 disables the wait",
			Value:       5 * time.Second,
			Destination: &createFlags.ConfirmTimeout,
			EnvVars:     []string{"VGPU_INVENTORY_CONFIRM_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:        "parents-root",
			Usage:       "Override the mdev parent bus directory",
			Hidden:      true,
			Destination: &createFlags.ParentsRoot,
		},
		&cli.StringFlag{
			Name:        "devices-root",
			Usage:       "Override the mdev device registry directory",
			Hidden:      true,
			Destination: &createFlags.DevicesRoot,
		},
	}

	return &create
}

func createWrapper(c *cli.Context, f *Flags) error {
	err := CheckFlags(f)
	if err != nil {
		cli.ShowSubcommandHelp(c)
		return err
	}

	if f.UUID == "" {
		f.UUID = uuid.New().String()
		log.Debugf("Generated UUID %s", f.UUID)
	}

	engine := newEngine(f)

	log.Debugf("Creating mdev device...")
	err = engine.CreateInstance(f.Address, f.Type, f.UUID)
	if err != nil {
		return fmt.Errorf("error creating mdev device: %v", err)
	}

	if f.ConfirmTimeout > 0 {
		log.Debugf("Waiting for mdev device to become visible...")
		err = engine.ConfirmInstance(c.Context, f.UUID, f.ConfirmTimeout)
		if err != nil {
			return fmt.Errorf("create was accepted but the device did not appear: %v", err)
		}
	}

	log.Infof("Created mdev device %s of type %s on %s", f.UUID, f.Type, f.Address)
	fmt.Println(f.UUID)

	return nil
}

// CheckFlags ensures that any required flags are provided and ensures they are well-formed.
func CheckFlags(f *Flags) error {
	var missing []string
	if f.Address == "" {
		missing = append(missing, "address")
	}
	if f.Type == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags '%v'", strings.Join(missing, ", "))
	}
	return nil
}

func newEngine(f *Flags) *inventory.Engine {
	var mdevOpts []mdev.Option
	if f.ParentsRoot != "" {
		mdevOpts = append(mdevOpts, mdev.WithMdevParentsRoot(f.ParentsRoot))
	}
	if f.DevicesRoot != "" {
		mdevOpts = append(mdevOpts, mdev.WithMdevDevicesRoot(f.DevicesRoot))
	}
	return inventory.New(inventory.WithMdevRegistry(mdev.New(mdevOpts...)))
}
