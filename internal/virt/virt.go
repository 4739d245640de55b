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

package virt

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/NVIDIA/vgpu-inventory/pkg/errdefs"
)

const (
	defaultVirshCommand = "virsh"
	defaultConnectURI   = "qemu:///system"
	defaultTimeout      = 10 * time.Second
)

// RunFunc executes a command and returns its standard output.
type RunFunc func(ctx context.Context, name string, arg ...string) ([]byte, error)

// Client drives the virtualization manager CLI. Only machine-readable output
// modes are consumed: domain names one per line, and full domain XML parsed
// into typed structs.
type Client struct {
	virshCommand string
	connectURI   string
	timeout      time.Duration
	run          RunFunc
}

// Option defines a function for passing options to the New() call.
type Option func(*Client)

// WithVirshCommand provides an Option to set the virsh binary to invoke.
func WithVirshCommand(command string) Option {
	return func(c *Client) {
		c.virshCommand = command
	}
}

// WithConnectURI provides an Option to set the libvirt connection URI.
func WithConnectURI(uri string) Option {
	return func(c *Client) {
		c.connectURI = uri
	}
}

// WithTimeout provides an Option to set the soft timeout applied to each
// virsh invocation. A hung management daemon must not hang an entire scan.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRunFunc provides an Option to substitute the process execution layer.
func WithRunFunc(run RunFunc) Option {
	return func(c *Client) {
		c.run = run
	}
}

// New creates a new virtualization manager client.
func New(opts ...Option) *Client {
	c := &Client{
		virshCommand: defaultVirshCommand,
		connectURI:   defaultConnectURI,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.run == nil {
		c.run = execRun
	}
	return c
}

// execRun invokes a command directly, preserving stderr in the returned
// error so driver and daemon diagnostics are not lost.
func execRun(ctx context.Context, name string, arg ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, errdefs.NewToolUnavailable(name, err)
	}

	out, err := exec.CommandContext(ctx, name, arg...).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%v: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}

	return out, nil
}

func (c *Client) virsh(ctx context.Context, arg ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append([]string{"--connect", c.connectURI}, arg...)
	out, err := c.run(ctx, c.virshCommand, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errdefs.NewScanTimeout("virsh "+arg[0], err)
		}
		return nil, err
	}

	return out, nil
}

// DomainNames returns the names of all defined VMs, running or not, in the
// order virsh reports them.
func (c *Client) DomainNames(ctx context.Context) ([]string, error) {
	out, err := c.virsh(ctx, "list", "--all", "--name")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

// DomainMdevUUIDs returns the mdev instance UUIDs referenced by the named
// VM's configuration, normalized to lower case. The persisted (inactive)
// definition is preferred; transient domains have none, so the live
// definition is the fallback.
func (c *Client) DomainMdevUUIDs(ctx context.Context, name string) ([]string, error) {
	out, err := c.virsh(ctx, "dumpxml", "--inactive", name)
	if err != nil {
		if errdefs.IsScanTimeout(err) || errdefs.IsToolUnavailable(err) {
			return nil, err
		}
		out, err = c.virsh(ctx, "dumpxml", name)
		if err != nil {
			return nil, err
		}
	}

	domain := &libvirtxml.Domain{}
	if err := domain.Unmarshal(string(out)); err != nil {
		return nil, fmt.Errorf("unable to parse domain XML for %s: %v", name, err)
	}

	return domainMdevUUIDs(domain), nil
}

func domainMdevUUIDs(domain *libvirtxml.Domain) []string {
	if domain.Devices == nil {
		return nil
	}

	var uuids []string
	for _, hostdev := range domain.Devices.Hostdevs {
		if hostdev.SubsysMDev == nil || hostdev.SubsysMDev.Source == nil || hostdev.SubsysMDev.Source.Address == nil {
			continue
		}
		if id := strings.ToLower(strings.TrimSpace(hostdev.SubsysMDev.Source.Address.UUID)); id != "" {
			uuids = append(uuids, id)
		}
	}

	return uuids
}

// Ownership is an index from mdev instance UUID to the VMs whose
// configuration references it.
type Ownership struct {
	byUUID map[string][]string
}

// MdevOwnership fetches every VM's configuration once and indexes the mdev
// UUIDs each one references. A single VM's fetch or parse failure is
// contained: it is logged and skipped, and the index is still built from the
// rest. A timeout is not contained, since a hung daemon would stall every
// following call as well; it aborts the index so callers can mark the whole
// ownership section unavailable.
func (c *Client) MdevOwnership(ctx context.Context) (*Ownership, error) {
	names, err := c.DomainNames(ctx)
	if err != nil {
		return nil, err
	}

	ownership := &Ownership{byUUID: make(map[string][]string)}
	for _, name := range names {
		uuids, err := c.DomainMdevUUIDs(ctx, name)
		if err != nil {
			if errdefs.IsScanTimeout(err) {
				return nil, err
			}
			log.Debugf("Skipping VM %s: %v", name, err)
			continue
		}
		for _, id := range uuids {
			ownership.byUUID[id] = append(ownership.byUUID[id], name)
		}
	}

	return ownership, nil
}

// Owners returns the names of all VMs referencing uuid, in listing order.
func (o *Ownership) Owners(uuid string) []string {
	if o == nil {
		return nil
	}
	return o.byUUID[strings.ToLower(uuid)]
}

// ResolveOwner returns the VM owning uuid, or an empty string when no VM
// references it. An instance referenced by more than one VM is a
// consistency anomaly: the first match is still returned, along with an
// AmbiguousOwnershipError naming every claimant, so callers can render a
// best-effort owner and surface the anomaly instead of silently picking a
// winner.
func (o *Ownership) ResolveOwner(uuid string) (string, error) {
	owners := o.Owners(uuid)
	switch len(owners) {
	case 0:
		return "", nil
	case 1:
		return owners[0], nil
	default:
		return owners[0], errdefs.NewAmbiguousOwnership(uuid, owners)
	}
}
