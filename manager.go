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

package switcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Options configure a Manager.  Zero values select the defaults.
type Options struct {
	// Name identifies the manager in logs.
	Name string

	// Root is the application root.  Work directories live under
	// Root/nginx_work and binary discovery starts here.  Defaults to
	// the directory of the running executable.
	Root string

	// StoreFile is the persisted document, relative to Root unless
	// absolute.
	StoreFile string

	// Interval is the monitor cadence.
	Interval time.Duration

	// SpawnWait bounds how long an nginx invocation may run before it
	// is presumed to have daemonized.
	SpawnWait time.Duration

	// Controller and Processes replace the nginx runner and the OS
	// process table.
	Controller Controller
	Processes  ProcessTable

	// Logger receives log output in addition to the in-memory log.
	// Defaults to standard error.
	Logger *log.Logger
}

// DefaultInterval is the monitor cadence when none is configured.
const DefaultInterval = 5 * time.Second

// Manager holds the registry of nginx instances.  It owns the in-memory
// list, serializes operations on each instance, and notifies observers
// of changes.
type Manager struct {
	name       string
	root       string
	store      *Store
	parser     *Parser
	ctrl       Controller
	mon        *Monitor
	watcher    *ConfigWatcher
	instances  []*Instance
	opLocks    map[string]*sync.Mutex
	subs       map[*subscriber]bool
	logger     *log.Logger
	log        *Log
	mlog       *MultiLogger
	serial     int64
	listSerial int64
	createTime time.Time
	updateTime time.Time
	closed     bool
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool

	// reloadMx orders whole reloads.  writeMx orders multi-step
	// document updates such as stop-then-remove.
	reloadMx sync.Mutex
	writeMx  sync.Mutex
}

// ManagerInfo describes the manager itself.
type ManagerInfo struct {
	Name       string    `json:"name"`
	Root       string    `json:"root"`
	Store      string    `json:"store"`
	Binary     string    `json:"binary"`
	Serial     int64     `json:"serial,string"`
	Counts     Counts    `json:"counts"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

func (m *Manager) wakeUp() {
	// Must hold the lock, or watchers may miss the new serial.
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.  Call with
// lock held.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	m.wakeUp()
	return m.serial
}

func (m *Manager) watchSerial(old int64, src *int64, expire time.Duration) int64 {
	return watchCond(&m.mx, m.cvs, expire, func() bool {
		return *src != old
	}, func() int64 {
		return *src
	})
}

// WatchSerial blocks until the global serial differs from old or expire
// elapses, and returns the current serial.  An expire of zero polls.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.serial, expire)
}

// WatchInstances is like WatchSerial, but only wakes when the set of
// registered instances is replaced.
func (m *Manager) WatchInstances(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.listSerial, expire)
}

// Serial returns the global serial, which changes on every observable
// change to the registry.
func (m *Manager) Serial() int64 {
	m.lock()
	defer m.unlock()
	return m.serial
}

func (m *Manager) Name() string {
	return m.name
}

// Root returns the application root.
func (m *Manager) Root() string {
	return m.root
}

// Store returns the persisted document store.
func (m *Manager) Store() *Store {
	return m.store
}

func (m *Manager) GetInfo() *ManagerInfo {
	info := &ManagerInfo{
		Name:   m.name,
		Root:   m.root,
		Store:  m.store.Path(),
		Binary: m.Binary(),
		Counts: m.Counts(),
	}
	m.lock()
	info.Serial = m.serial
	info.CreateTime = m.createTime
	info.UpdateTime = m.updateTime
	m.unlock()
	return info
}

func (m *Manager) component(name string) *log.Logger {
	return m.mlog.Component(name)
}

// SetLogger replaces the external log destination.  The in-memory log is
// unaffected.
func (m *Manager) SetLogger(l *log.Logger) {
	if m.logger != nil {
		m.mlog.DelLogger(m.logger)
	}
	m.logger = l
	if l != nil {
		m.mlog.AddLogger(l)
	}
}

// AddLogger adds another log destination, such as a rotating file.
func (m *Manager) AddLogger(l *log.Logger) {
	m.mlog.AddLogger(l)
}

func (m *Manager) logf(format string, v ...interface{}) {
	m.mlog.Logger().Printf(format, v...)
}

func (m *Manager) GetLog(lastid int64) ([]LogRecord, int64) {
	return m.log.GetRecords(lastid)
}

func (m *Manager) WatchLog(old int64, expire time.Duration) int64 {
	return m.log.Watch(old, expire)
}

// opLock returns the lock serializing start, stop, and status probes of
// one configuration path.
func (m *Manager) opLock(path string) *sync.Mutex {
	m.lock()
	defer m.unlock()
	key := pathKey(path)
	l, ok := m.opLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.opLocks[key] = l
	}
	return l
}

// indexOf finds a path in the current list.  Call with lock held.
func (m *Manager) indexOf(path string) int {
	for i, inst := range m.instances {
		if SamePath(inst.ConfigPath, path) {
			return i
		}
	}
	return -1
}

// Reload rebuilds the registry from the persisted document, parsing every
// configuration anew.  Statuses of paths that remain registered carry
// over; new paths start out unknown until the next monitor pass.
func (m *Manager) Reload() {
	m.reload("api")
}

func (m *Manager) reload(trigger string) {
	m.reloadMx.Lock()
	defer m.reloadMx.Unlock()

	doc := m.store.Load()
	list := make([]*Instance, 0, len(doc.Entries))
	seen := make(map[string]bool)
	for _, ent := range doc.Entries {
		key := pathKey(ent.ConfigPath)
		if ent.ConfigPath == "" || seen[key] {
			m.logf("Skipping duplicate entry %q", ent.ConfigPath)
			continue
		}
		seen[key] = true
		list = append(list, &Instance{
			ID:         InstanceID(ent.ConfigPath),
			ConfigPath: ent.ConfigPath,
			WorkDir:    ent.WorkDir,
			Port:       m.parser.QuickPort(ent.ConfigPath),
			Exists:     fileExists(ent.ConfigPath),
			Status:     StatusUnknown,
			Config:     m.parser.Parse(ent.ConfigPath),
		})
	}

	m.lock()
	prev := make(map[string]Status, len(m.instances))
	for _, inst := range m.instances {
		prev[pathKey(inst.ConfigPath)] = inst.Status
	}
	for _, inst := range list {
		if st, ok := prev[pathKey(inst.ConfigPath)]; ok {
			inst.Status = st
		}
	}
	m.instances = list
	m.listSerial = m.bumpSerial()
	m.publish(Event{Kind: ContentChanged, Index: -1, Serial: m.serial})
	recordCounts(m.countsLocked())
	w := m.watcher
	m.unlock()

	configReloads.WithLabelValues(trigger).Inc()
	m.logf("Loaded %d instance(s) (%s)", len(list), trigger)
	if w != nil {
		w.Sync(list)
	}
}

// ListInstances returns a snapshot of the registry, in registration
// order, and the serial it corresponds to.
func (m *Manager) ListInstances() ([]Instance, int64) {
	m.lock()
	defer m.unlock()
	out := make([]Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, *inst)
	}
	return out, m.serial
}

// InstanceAt returns the instance at a registry index.
func (m *Manager) InstanceAt(index int) (Instance, error) {
	m.lock()
	defer m.unlock()
	if index < 0 || index >= len(m.instances) {
		return Instance{}, fmt.Errorf("%w: index %d", ErrNoSuchInstance, index)
	}
	return *m.instances[index], nil
}

// Lookup finds an instance by ID, returning it and its current index.
func (m *Manager) Lookup(id string) (Instance, int, error) {
	m.lock()
	defer m.unlock()
	for i, inst := range m.instances {
		if strings.EqualFold(inst.ID, id) {
			return *inst, i, nil
		}
	}
	return Instance{}, -1, fmt.Errorf("%w: %s", ErrNoSuchInstance, id)
}

func (m *Manager) countsLocked() Counts {
	var c Counts
	for _, inst := range m.instances {
		c.add(inst.Status)
	}
	return c
}

// Counts summarizes the registry by status.
func (m *Manager) Counts() Counts {
	m.lock()
	defer m.unlock()
	return m.countsLocked()
}

// setStatus records a status for the instance registered under path.  It
// does nothing if the path is no longer registered or the status is
// unchanged; otherwise it emits StatusChanged followed by ContentChanged.
func (m *Manager) setStatus(path string, st Status, source string) bool {
	m.lock()
	defer m.unlock()
	idx := m.indexOf(path)
	if idx < 0 {
		return false
	}
	inst := m.instances[idx]
	if inst.Status == st {
		return false
	}
	old := inst.Status
	inst.Status = st
	serial := m.bumpSerial()
	m.publish(Event{
		Kind:       StatusChanged,
		Index:      idx,
		ID:         inst.ID,
		ConfigPath: inst.ConfigPath,
		Status:     st,
		Serial:     serial,
	})
	m.publish(Event{Kind: ContentChanged, Index: -1, Serial: serial})
	statusChanges.WithLabelValues(string(st), source).Inc()
	recordCounts(m.countsLocked())
	m.logf("%s: %s -> %s (%s)", inst.Name(), old, st, source)
	return true
}

func (m *Manager) isClosed() bool {
	m.lock()
	defer m.unlock()
	return m.closed
}

func (m *Manager) act(inst Instance, action Action) Result {
	if m.isClosed() {
		return Result{Action: action, ID: inst.ID, ConfigPath: inst.ConfigPath, Err: ErrManagerShutdown}
	}
	l := m.opLock(inst.ConfigPath)
	l.Lock()
	defer l.Unlock()

	var res Result
	if action == ActionStart {
		res = m.ctrl.Start(inst)
	} else {
		res = m.ctrl.Stop(inst)
	}
	res.Action = action
	res.ID = inst.ID
	res.ConfigPath = inst.ConfigPath
	if res.Err != nil {
		if cur, _, e := m.Lookup(inst.ID); e == nil {
			res.Status = cur.Status
		}
		return res
	}
	if res.Status == "" {
		res.Status = StatusRunning
		if action == ActionStop {
			res.Status = StatusStopped
		}
	}
	m.setStatus(inst.ConfigPath, res.Status, "controller")
	return res
}

// StartInstance starts the instance at index.  On success its status
// becomes running; on failure it is left as it was.  The call blocks for
// up to the spawn wait.
func (m *Manager) StartInstance(index int) Result {
	inst, e := m.InstanceAt(index)
	if e != nil {
		return Result{Action: ActionStart, Err: e}
	}
	return m.act(inst, ActionStart)
}

// StopInstance stops the instance at index.
func (m *Manager) StopInstance(index int) Result {
	inst, e := m.InstanceAt(index)
	if e != nil {
		return Result{Action: ActionStop, Err: e}
	}
	return m.act(inst, ActionStop)
}

// Start starts the instance with the given ID.
func (m *Manager) Start(id string) Result {
	inst, _, e := m.Lookup(id)
	if e != nil {
		return Result{Action: ActionStart, ID: id, Err: e}
	}
	return m.act(inst, ActionStart)
}

// Stop stops the instance with the given ID.
func (m *Manager) Stop(id string) Result {
	inst, _, e := m.Lookup(id)
	if e != nil {
		return Result{Action: ActionStop, ID: id, Err: e}
	}
	return m.act(inst, ActionStop)
}

// RegisterConfig adds a configuration file to the registry.  The path is
// made absolute.  Registering an already registered path only reloads.
func (m *Manager) RegisterConfig(path string) (Instance, error) {
	abs, e := filepath.Abs(path)
	if e != nil {
		return Instance{}, e
	}
	if !fileExists(abs) {
		return Instance{}, fmt.Errorf("%w: %s", ErrConfigMissing, abs)
	}
	if m.isClosed() {
		return Instance{}, ErrManagerShutdown
	}
	m.writeMx.Lock()
	m.store.UpsertEntries([]string{abs})
	m.reload("api")
	m.writeMx.Unlock()

	inst, _, e := m.Lookup(InstanceID(abs))
	return inst, e
}

// RemoveConfigs unregisters the given paths.  Instances believed to be
// running are stopped first; a failed stop is logged and the entry is
// removed anyway.  Paths that are not registered are ignored.
func (m *Manager) RemoveConfigs(paths []string) error {
	m.writeMx.Lock()
	defer m.writeMx.Unlock()

	list, _ := m.ListInstances()
	for _, p := range paths {
		for _, inst := range list {
			if !SamePath(inst.ConfigPath, p) || inst.Status != StatusRunning {
				continue
			}
			if res := m.act(inst, ActionStop); res.Err != nil {
				m.logf("Removing %s despite failed stop: %v", inst.ConfigPath, res.Err)
			}
		}
	}
	m.store.RemoveEntries(paths)
	m.reload("api")
	return nil
}

// Rescan registers every main configuration in dir/conf.  An empty dir
// means the directory of the configured nginx binary.  It returns the
// configurations found, whether or not they were new.
func (m *Manager) Rescan(dir string) ([]string, error) {
	m.writeMx.Lock()
	defer m.writeMx.Unlock()

	if dir == "" {
		bin := m.Binary()
		if !ValidBinary(bin) {
			m.reload("scan")
			return nil, ErrInvalidBinary
		}
		dir = filepath.Dir(bin)
	}
	found := m.parser.ScanConfDir(dir)
	if len(found) > 0 {
		m.store.UpsertEntries(found)
	}
	m.reload("scan")
	return found, nil
}

// Binary returns the configured nginx binary path.
func (m *Manager) Binary() string {
	return m.store.Load().NginxBinaryPath
}

// SetBinary records a new nginx binary.  Invalid paths are rejected.
func (m *Manager) SetBinary(path string) error {
	if !ValidBinary(path) {
		return fmt.Errorf("%w: %q", ErrInvalidBinary, path)
	}
	if abs, e := filepath.Abs(path); e == nil {
		path = abs
	}
	m.writeMx.Lock()
	m.store.SetBinary(path)
	m.writeMx.Unlock()

	m.lock()
	m.bumpSerial()
	m.publish(Event{Kind: ContentChanged, Index: -1, Serial: m.serial})
	m.unlock()
	m.logf("nginx binary set to %s", path)
	return nil
}

// DiscoverBinary searches the application root for nginx and records it.
func (m *Manager) DiscoverBinary() (string, error) {
	path, e := DiscoverBinary(m.root)
	if e != nil {
		return "", e
	}
	return path, m.SetBinary(path)
}

// CheckNow runs one monitor pass synchronously.
func (m *Manager) CheckNow() {
	m.mon.Tick()
}

func (m *Manager) StartMonitoring() {
	m.logf("*** starting monitoring: %s ***", m.name)
	m.mon.Start()
}

func (m *Manager) StopMonitoring() {
	m.mon.Stop()
	m.logf("*** stopped monitoring: %s ***", m.name)
}

// EnableWatch reloads the registry whenever a referenced configuration
// file changes on disk.
func (m *Manager) EnableWatch() error {
	m.lock()
	if m.watcher != nil {
		m.unlock()
		return nil
	}
	m.unlock()

	w, e := NewConfigWatcher(m, m.component("watch"))
	if e != nil {
		return e
	}
	m.lock()
	m.watcher = w
	list := append([]*Instance(nil), m.instances...)
	m.unlock()
	w.Sync(list)
	return nil
}

// Shutdown stops monitoring and watching and closes every subscription.
// nginx processes are left running.
func (m *Manager) Shutdown() {
	m.mon.Stop()
	m.lock()
	w := m.watcher
	m.watcher = nil
	m.closed = true
	m.closeSubscribers()
	m.wakeUp()
	m.unlock()
	if w != nil {
		w.Close()
	}
	m.logf("*** shut down: %s ***", m.name)
}

func defaultRoot() string {
	if exe, e := os.Executable(); e == nil {
		return filepath.Dir(exe)
	}
	if wd, e := os.Getwd(); e == nil {
		return wd
	}
	return "."
}

// NewManager creates a Manager and loads the registry.  Monitoring is not
// started until StartMonitoring.
func NewManager(opts Options) *Manager {
	if opts.Name == "" {
		opts.Name = "nginx-switcher"
	}
	if opts.Root == "" {
		opts.Root = defaultRoot()
	}
	if abs, e := filepath.Abs(opts.Root); e == nil {
		opts.Root = abs
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Processes == nil {
		opts.Processes = OSProcessTable{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	// The serial starts at the current time in nanoseconds, so clients
	// caching an old serial notice a restart.
	now := time.Now()
	m := &Manager{
		name:       opts.Name,
		root:       opts.Root,
		serial:     now.UnixNano(),
		createTime: now,
		updateTime: now,
		opLocks:    make(map[string]*sync.Mutex),
		subs:       make(map[*subscriber]bool),
		cvs:        make(map[*sync.Cond]bool),
	}
	m.mlog = NewMultiLogger()
	m.log = NewLog()
	m.mlog.AddLogger(log.New(m.log, "", 0))
	m.SetLogger(opts.Logger)

	m.store = NewStore(m.root, opts.StoreFile, m.component("store"))
	m.parser = NewParser(m.component("parse"))
	m.ctrl = opts.Controller
	if m.ctrl == nil {
		m.ctrl = NewNginxController(m.store, opts.SpawnWait, m.component("nginx"))
	}
	m.mon = newMonitor(m, opts.Processes, opts.Interval, m.component("monitor"))
	m.reload("startup")
	return m
}
