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

package scan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"sigs.k8s.io/yaml"

	v1 "github.com/NVIDIA/vgpu-inventory/api/report/v1"
	"github.com/NVIDIA/vgpu-inventory/internal/mdev"
	"github.com/NVIDIA/vgpu-inventory/internal/virt"
	"github.com/NVIDIA/vgpu-inventory/pkg/inventory"
)

var log = logrus.New()

// GetLogger returns the logger for the 'scan' command
func GetLogger() *logrus.Logger {
	return log
}

// Flags for the 'scan' command
type Flags struct {
	Output       string
	VirshURI     string
	VirshTimeout time.Duration
	ParentsRoot  string
	DevicesRoot  string
}

// BuildCommand builds the 'scan' command
func BuildCommand() *cli.Command {
	scanFlags := Flags{}

	scan := cli.Command{}
	scan.Name = "scan"
	scan.Usage = "Report the GPUs, vGPU types, mediated devices, and VM assignments on this host"
	scan.Action = func(c *cli.Context) error {
		return scanWrapper(c, &scanFlags)
	}

	scan.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Output format of the report, 'yaml' or 'json'",
			Value:       "yaml",
			Destination: &scanFlags.Output,
			EnvVars:     []string{"VGPU_INVENTORY_OUTPUT"},
		},
		&cli.StringFlag{
			Name:        "virsh-uri",
			Usage:       "Connection URI passed to virsh",
			Destination: &scanFlags.VirshURI,
			EnvVars:     []string{"VGPU_INVENTORY_VIRSH_URI"},
		},
		&cli.DurationFlag{
			Name:        "virsh-timeout",
			Usage:       "Soft timeout for each virsh invocation",
			Destination: &scanFlags.VirshTimeout,
			EnvVars:     []string{"VGPU_INVENTORY_VIRSH_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:        "parents-root",
			Usage:       "Override the mdev parent bus directory",
			Hidden:      true,
			Destination: &scanFlags.ParentsRoot,
		},
		&cli.StringFlag{
			Name:        "devices-root",
			Usage:       "Override the mdev device registry directory",
			Hidden:      true,
			Destination: &scanFlags.DevicesRoot,
		},
	}

	return &scan
}

func scanWrapper(c *cli.Context, f *Flags) error {
	err := CheckFlags(f)
	if err != nil {
		cli.ShowSubcommandHelp(c)
		return err
	}

	log.Debugf("Scanning host...")
	report, err := NewEngine(f).Scan(c.Context)
	if err != nil {
		return fmt.Errorf("error scanning host: %v", err)
	}

	for _, warning := range report.Warnings {
		log.Warnf("%s: %s", warning.Code, warning.Detail)
	}

	rendered, err := Render(report, f.Output)
	if err != nil {
		return err
	}
	fmt.Print(string(rendered))

	return nil
}

// CheckFlags ensures that any required flags are provided and ensures they are well-formed.
func CheckFlags(f *Flags) error {
	if f.Output != "yaml" && f.Output != "json" {
		return fmt.Errorf("unsupported output format '%v'", f.Output)
	}
	return nil
}

// NewEngine builds a reconciliation engine honoring the command's flags.
func NewEngine(f *Flags) *inventory.Engine {
	var virtOpts []virt.Option
	if f.VirshURI != "" {
		virtOpts = append(virtOpts, virt.WithConnectURI(f.VirshURI))
	}
	if f.VirshTimeout > 0 {
		virtOpts = append(virtOpts, virt.WithTimeout(f.VirshTimeout))
	}

	var mdevOpts []mdev.Option
	if f.ParentsRoot != "" {
		mdevOpts = append(mdevOpts, mdev.WithMdevParentsRoot(f.ParentsRoot))
	}
	if f.DevicesRoot != "" {
		mdevOpts = append(mdevOpts, mdev.WithMdevDevicesRoot(f.DevicesRoot))
	}

	return inventory.New(
		inventory.WithMdevRegistry(mdev.New(mdevOpts...)),
		inventory.WithVirtClient(virt.New(virtOpts...)),
	)
}

// Render marshals the report into the requested output format.
func Render(report *v1.SystemReport, output string) ([]byte, error) {
	switch output {
	case "json":
		rendered, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("error marshaling report to json: %v", err)
		}
		return append(rendered, '\n'), nil
	case "yaml":
		rendered, err := yaml.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("error marshaling report to yaml: %v", err)
		}
		return rendered, nil
	}
	return nil, fmt.Errorf("unsupported output format '%v'", output)
}
