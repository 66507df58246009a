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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	switcher "github.com/fab617/nginx-switcher"
	"github.com/fab617/nginx-switcher/rest"
	"github.com/fab617/nginx-switcher/switcher/util"
	"github.com/spf13/cobra"
)

const defaultAddr = "http://127.0.0.1:8321"

var addr string

func client() *rest.Client {
	return rest.NewClient(nil, addr)
}

func timeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "switcher",
		Short:         "Control nginx instances managed by switcherd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&addr, "addr", "a", defaultAddr, "switcherd address")
	root.AddCommand(
		NewListCommand(),
		NewInfoCommand(),
		NewAddCommand(),
		NewRemoveCommand(),
		NewActionCommand(switcher.ActionStart),
		NewActionCommand(switcher.ActionStop),
		NewRescanCommand(),
		NewReloadCommand(),
		NewBinaryCommand(),
		NewDiscoverCommand(),
		NewLogCommand(),
		NewWatchCommand(),
	)
	return root
}

func printList(out io.Writer, list *rest.ListInfo, sorted bool) {
	items := list.Instances
	if sorted {
		items = append([]*rest.InstanceInfo(nil), items...)
		util.SortInstances(items)
	}
	fmt.Fprintln(out, util.Header.Render(fmt.Sprintf("%-4s %-12s %-8s %-24s %s", "IDX", "STATUS", "PORT", "NAME", "CONFIG")))
	for _, it := range items {
		fmt.Fprintf(out, "%-4d %-12s %-8s %-24s %s\n", it.Index, util.Status(it.Status), it.Port, it.Name, it.ConfigPath)
	}
	fmt.Fprintln(out, util.Counts(list.Counts))
}

func NewListCommand() *cobra.Command {
	var sorted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx, cancel := timeout()
			defer cancel()
			list, e := client().Instances(ctx)
			if e != nil {
				return e
			}
			printList(out, list, sorted)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&sorted, "sort", "s", false, "sort by status, then name")
	return cmd
}

func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show one instance in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx, cancel := timeout()
			defer cancel()
			it, e := client().Instance(ctx, args[0])
			if e != nil {
				return e
			}
			fmt.Fprintf(out, "Index:     %d\n", it.Index)
			fmt.Fprintf(out, "ID:        %s\n", it.ID)
			fmt.Fprintf(out, "Config:    %s\n", it.ConfigPath)
			fmt.Fprintf(out, "Exists:    %v\n", it.Exists)
			fmt.Fprintf(out, "WorkDir:   %s\n", it.WorkDir)
			fmt.Fprintf(out, "Status:    %s\n", util.Status(it.Status))
			fmt.Fprintf(out, "Port:      %s\n", it.Port)
			fmt.Fprintf(out, "Ports:     %s\n", util.Ports(it.Ports))
			fmt.Fprintf(out, "Files:\n")
			for _, f := range it.ReferencedFiles {
				fmt.Fprintf(out, "    %s\n", f)
			}
			return nil
		},
	}
}

func NewAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>",
		Short: "Register a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := args[0]
			// The daemon usually shares our filesystem; send it an
			// absolute path so it does not resolve against its own
			// working directory.
			if abs, e := filepath.Abs(path); e == nil {
				path = abs
			}
			ctx, cancel := timeout()
			defer cancel()
			it, e := client().Register(ctx, path)
			if e != nil {
				return e
			}
			fmt.Fprintf(out, "%d %s %s\n", it.Index, it.ID, it.ConfigPath)
			return nil
		},
	}
}

func NewRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Unregister instances, stopping running ones first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout()
			defer cancel()
			return client().Remove(ctx, args...)
		},
	}
}

func NewActionCommand(action switcher.Action) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <id>...",
		Short: fmt.Sprintf("%s nginx instances", action),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := client()
			var failed error
			for _, id := range args {
				ctx, cancel := timeout()
				var res *rest.ActionResult
				var e error
				if action == switcher.ActionStart {
					res, e = c.Start(ctx, id)
				} else {
					res, e = c.Stop(ctx, id)
				}
				cancel()
				if e != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, e)
					failed = errors.New("one or more instances failed")
					continue
				}
				fmt.Fprintf(out, "%s %s\n", util.Status(res.Status), res.ConfigPath)
			}
			return failed
		},
	}
}

func NewRescanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan [dir]",
		Short: "Register the main configurations under dir/conf",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			ctx, cancel := timeout()
			defer cancel()
			found, e := client().Rescan(ctx, dir)
			if e != nil {
				return e
			}
			for _, f := range found {
				fmt.Fprintln(out, f)
			}
			return nil
		},
	}
}

func NewReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the registry from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout()
			defer cancel()
			return client().Reload(ctx)
		},
	}
}

func printBinary(out io.Writer, b *rest.BinaryInfo) {
	if b.Valid {
		fmt.Fprintln(out, util.StatusRunning.Render(b.Path))
	} else if b.Path == "" {
		fmt.Fprintln(out, util.StatusStopped.Render("not configured"))
	} else {
		fmt.Fprintln(out, util.StatusStopped.Render(b.Path + " (invalid)"))
	}
}

func NewBinaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "binary [path]",
		Short: "Show or set the nginx binary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx, cancel := timeout()
			defer cancel()
			var b *rest.BinaryInfo
			var e error
			if len(args) == 1 {
				b, e = client().SetBinary(ctx, args[0])
			} else {
				b, e = client().Binary(ctx)
			}
			if e != nil {
				return e
			}
			printBinary(out, b)
			return nil
		},
	}
}

func NewDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Search the daemon's root for the nginx binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx, cancel := timeout()
			defer cancel()
			b, e := client().DiscoverBinary(ctx)
			if e != nil {
				return e
			}
			printBinary(out, b)
			return nil
		},
	}
}

func printRecords(out io.Writer, recs []switcher.LogRecord, after int64) int64 {
	for _, r := range recs {
		if r.Id <= after {
			continue
		}
		src := ""
		if r.Source != "" {
			src = "[" + r.Source + "] "
		}
		fmt.Fprintf(out, "%s %s%s\n", util.Muted.Render(r.Time.Format(time.Stamp)), src, r.Text)
		after = r.Id
	}
	return after
}

func NewLogCommand() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := client()
			ctx, cancel := timeout()
			info, e := c.Log(ctx)
			cancel()
			if e != nil {
				return e
			}
			last := printRecords(out, info.Records, 0)
			for follow {
				info, e = c.WatchLog(cmd.Context(), info)
				if e != nil {
					return e
				}
				last = printRecords(out, info.Records, last)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new records")
	return cmd
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow instance status changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return client().Events(cmd.Context(), func(ev switcher.Event) {
				if ev.Kind != switcher.StatusChanged {
					return
				}
				fmt.Fprintf(out, "%s %-4d %s %s\n", util.Muted.Render(time.Now().Format(time.Stamp)),
					ev.Index, util.Status(ev.Status), ev.ConfigPath)
			})
		},
	}
}
