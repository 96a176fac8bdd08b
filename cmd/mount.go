// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/fs"
	"github.com/mathieuhardy/cerebro/internal/logger"
	"github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/modules/battery"
	"github.com/mathieuhardy/cerebro/internal/modules/brightness"
	"github.com/mathieuhardy/cerebro/internal/modules/cpu"
	"github.com/mathieuhardy/cerebro/internal/modules/memory"
	"github.com/mathieuhardy/cerebro/internal/modules/trash"
	"github.com/mathieuhardy/cerebro/internal/registrar"
	"github.com/mathieuhardy/cerebro/internal/trigger"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

const configFileName = "config.json"

// runMount loads configuration and triggers from dir, builds the tree
// store and every data-source module, then mounts the composed
// filesystem at mountPoint and blocks until it is unmounted.
func runMount(dir, mountPoint string) error {
	cfg, err := config.Load(filepath.Join(dir, configFileName))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	triggers, err := trigger.Load(dir)
	if err != nil {
		return fmt.Errorf("loading triggers: %w", err)
	}

	store := vfs.NewStore()
	bus := events.NewBus()

	modules, err := buildModules(store, bus, cfg, triggers)
	if err != nil {
		return fmt.Errorf("building modules: %w", err)
	}

	reg := registrar.New(store, modules, cfg)
	fsAdapter := fs.New(store, reg, bus)
	server := fuseutil.NewFileSystemServer(fsAdapter)

	mountCfg := &fuse.MountConfig{
		FSName:     "cerebro",
		Subtype:    "cerebro",
		VolumeName: "cerebro",
	}

	logger.Infof("mounting cerebro at %q", mountPoint)

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	return mfs.Join(context.Background())
}

// buildModules constructs every data-source module known to cerebro.
// The brightness and trash modules can fail to construct (e.g. when their
// file-change watcher cannot be created); such a module is skipped with a
// warning rather than aborting the whole mount. A host with no backlight
// device is not a failure: the brightness module then has no devices.
func buildModules(store *vfs.Store, bus *events.Bus, cfg *config.Config, triggers *trigger.Set) ([]module.Module, error) {
	var modules []module.Module

	modules = append(modules, battery.New(bus, store, triggers))
	modules = append(modules, memory.New(bus, store, triggers))
	modules = append(modules, cpu.New(bus, store, triggers, cpuDevice(cfg), cpuPattern(cfg)))

	if m, err := brightness.New(bus, store, triggers); err != nil {
		logger.Warnf("cmd: skipping brightness module: %v", err)
	} else {
		modules = append(modules, m)
	}

	if m, err := trash.New(bus, store, triggers); err != nil {
		logger.Warnf("cmd: skipping trash module: %v", err)
	} else {
		modules = append(modules, m)
	}

	return modules, nil
}

func cpuDevice(cfg *config.Config) string {
	mc := cfg.Module(cpu.Name)
	if mc == nil || mc.Temperature == nil {
		return ""
	}

	return mc.Temperature.Device
}

func cpuPattern(cfg *config.Config) string {
	mc := cfg.Module(cpu.Name)
	if mc == nil || mc.Temperature == nil {
		return ""
	}

	return mc.Temperature.Pattern
}
