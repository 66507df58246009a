// Copyright 2025 The nginx-switcher Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command switcher is the client for switcherd.
//
// The global flag is
//
//	-a, --addr <url>	- daemon address, default http://127.0.0.1:8321
//
// Subcommands are
//
//	list                - list registered instances
//	info <id>           - show one instance in detail
//	add <path>          - register a configuration file
//	remove <id>...      - unregister instances, stopping them first
//	start <id>...       - start instances
//	stop <id>...        - stop instances
//	rescan [dir]        - register main configurations under dir/conf
//	reload              - re-read the registry from disk
//	binary [path]       - show or set the nginx binary
//	discover            - search for the nginx binary
//	log                 - print the daemon log
//	watch               - follow status changes
//
// An <id> is either an instance ID or its index in the listing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if e := NewRootCommand().ExecuteContext(ctx); e != nil {
		stop()
		fmt.Fprintln(os.Stderr, e)
		os.Exit(1)
	}
}
