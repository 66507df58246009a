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

// Command switcherd runs the nginx instance manager and serves its REST
// interface.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	switcher "github.com/fab617/nginx-switcher"
	"github.com/fab617/nginx-switcher/rest"
	"github.com/natefinch/lumberjack"
	"golang.org/x/net/netutil"
)

var cfgFile string
var addr string
var root string
var interval time.Duration

func main() {
	flag.StringVar(&cfgFile, "c", "", "configuration file")
	flag.StringVar(&addr, "a", "", "listen address")
	flag.StringVar(&root, "r", "", "application root")
	flag.DurationVar(&interval, "i", 0, "monitor interval")
	flag.Parse()

	cfg, e := LoadConfig(cfgFile)
	if e != nil {
		log.Fatalf("Failed to load configuration: %v", e)
	}
	if addr != "" {
		cfg.Listen = addr
	}
	if root != "" {
		cfg.Root = root
	}
	if interval > 0 {
		cfg.Interval = interval
	}

	m := switcher.NewManager(switcher.Options{
		Name:      "switcherd",
		Root:      cfg.Root,
		StoreFile: cfg.Store,
		Interval:  cfg.Interval,
		SpawnWait: cfg.SpawnWait,
	})

	if lf := cfg.logPath(m.Root()); lf != "" {
		m.AddLogger(log.New(&lumberjack.Logger{
			Filename:   lf,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}, "", log.LstdFlags))
	}

	if !switcher.ValidBinary(m.Binary()) {
		if bin, e := m.DiscoverBinary(); e != nil {
			log.Printf("No nginx binary configured or found under %s", m.Root())
		} else {
			log.Printf("Using nginx binary %s", bin)
		}
	}
	if cfg.Watch {
		if e := m.EnableWatch(); e != nil {
			log.Printf("Configuration watching disabled: %v", e)
		}
	}
	m.StartMonitoring()

	ln, e := net.Listen("tcp", cfg.Listen)
	if e != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.Listen, e)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	srv := &http.Server{Handler: rest.NewHandler(m)}
	go func() {
		if e := srv.Serve(ln); e != nil && e != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", e)
		}
	}()
	log.Printf("Listening on %s, root %s", cfg.Listen, m.Root())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			m.Reload()
			continue
		}
		break
	}

	// nginx instances are daemons of their own and keep running.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	m.Shutdown()
}
