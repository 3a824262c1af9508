// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command memcachectl manages Cloud Memcache instances.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/flag/fixflagpos"
	"go.chromium.org/luci/common/logging/gologger"
)

// EmulatorHostEnv, if set, points memcachectl to an emulator.
const EmulatorHostEnv = "MEMCACHE_EMULATOR_HOST"

var logCfg = gologger.LoggerConfig{
	Out: os.Stderr,
}

func application() *cli.Application {
	return &cli.Application{
		Name:  "memcachectl",
		Title: "A CLI client for the Cloud Memcache API.",
		Context: func(ctx context.Context) context.Context {
			return logCfg.Use(ctx)
		},
		EnvVars: map[string]subcommands.EnvVarDefinition{
			EmulatorHostEnv: {
				ShortDesc: "host:port of a memcache-emulator; calls go there in plaintext and without credentials",
			},
		},
		Commands: []*subcommands.Command{
			cmdList(),
			cmdGet(),
			cmdCreate(),
			cmdUpdate(),
			cmdUpdateParams(),
			cmdApplyParams(),
			cmdDelete(),
			cmdOperation(),

			{}, // a separator
			subcommands.CmdHelp,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(application(), fixflagpos.FixSubcommands(os.Args[1:])))
}
