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

package check

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"sigs.k8s.io/yaml"

	"github.com/NVIDIA/vgpu-inventory/pkg/hostcheck"
)

var log = logrus.New()

// GetLogger returns the logger for the 'check' command
func GetLogger() *logrus.Logger {
	return log
}

// Flags for the 'check' command
type Flags struct {
	Output      string
	IOMMURoot   string
	ParentsRoot string
}

// Report pairs the check results with their summary for rendering.
type Report struct {
	Checks  []hostcheck.Result `json:"checks"  yaml:"checks"`
	Summary hostcheck.Summary  `json:"summary" yaml:"summary"`
}

// BuildCommand builds the 'check' command
func BuildCommand() *cli.Command {
	checkFlags := Flags{}

	check := cli.Command{}
	check.Name = "check"
	check.Usage = "Verify the host prerequisites for vGPU mediated devices"
	check.Action = func(c *cli.Context) error {
		return checkWrapper(c, &checkFlags)
	}

	check.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Output format of the results, 'yaml' or 'json'",
			Value:       "yaml",
			Destination: &checkFlags.Output,
			EnvVars:     []string{"VGPU_INVENTORY_OUTPUT"},
		},
		&cli.StringFlag{
			Name:        "iommu-root",
			Usage:       "Override the IOMMU groups directory",
			Hidden:      true,
			Destination: &checkFlags.IOMMURoot,
		},
		&cli.StringFlag{
			Name:        "parents-root",
			Usage:       "Override the mdev parent bus directory",
			Hidden:      true,
			Destination: &checkFlags.ParentsRoot,
		},
	}

	return &check
}

func checkWrapper(c *cli.Context, f *Flags) error {
	err := CheckFlags(f)
	if err != nil {
		cli.ShowSubcommandHelp(c)
		return err
	}

	var checkOpts []hostcheck.Option
	if f.IOMMURoot != "" {
		checkOpts = append(checkOpts, hostcheck.WithIOMMURoot(f.IOMMURoot))
	}
	if f.ParentsRoot != "" {
		checkOpts = append(checkOpts, hostcheck.WithMdevParentsRoot(f.ParentsRoot))
	}

	log.Debugf("Running host checks...")
	results := hostcheck.New(checkOpts...).Run()
	report := Report{
		Checks:  results,
		Summary: hostcheck.Summarize(results),
	}

	rendered, err := render(&report, f.Output)
	if err != nil {
		return err
	}
	fmt.Print(string(rendered))

	if report.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d host checks failed", report.Summary.Failed, len(results))
	}
	return nil
}

// CheckFlags ensures that any required flags are provided and ensures they are well-formed.
func CheckFlags(f *Flags) error {
	if f.Output != "yaml" && f.Output != "json" {
		return fmt.Errorf("unsupported output format '%v'", f.Output)
	}
	return nil
}

func render(report *Report, output string) ([]byte, error) {
	switch output {
	case "json":
		rendered, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("error marshaling results to json: %v", err)
		}
		return append(rendered, '\n'), nil
	case "yaml":
		rendered, err := yaml.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("error marshaling results to yaml: %v", err)
		}
		return rendered, nil
	}
	return nil, fmt.Errorf("unsupported output format '%v'", output)
}
