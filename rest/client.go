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

package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	switcher "github.com/fab617/nginx-switcher"
)

// LogInfo is a snapshot of the daemon log along with its etag.
type LogInfo struct {
	etag    string
	Records []switcher.LogRecord
}

// Client talks to a switcherd REST endpoint.  It caches the last list
// and log it fetched, so unchanged resources cost a 304.
type Client struct {
	base      string // URI to root of tree on server
	client    *http.Client
	transport *http.Transport

	list *ListInfo
	log  *LogInfo
	lock sync.Mutex
}

func (c *Client) url(path string) string {
	return c.base + path
}

func (c *Client) instanceURL(id, action string) string {
	u := c.base + "/instances/" + url.PathEscape(id)
	if action != "" {
		u += "/" + action
	}
	return u
}

func readError(res *http.Response) error {
	body, _ := io.ReadAll(res.Body)
	e := &Error{}
	if json.Unmarshal(body, e) == nil && e.Message != "" {
		e.Code = res.StatusCode
		return e
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

// poll issues a GET, optionally conditional on etag, and optionally as a
// long poll of up to wait seconds.  It returns the new etag, or "" if the
// resource is unchanged.
func (c *Client) poll(ctx context.Context, u string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", u, nil)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

// call sends a request with an optional JSON body and decodes an
// optional JSON response.
func (c *Client) call(ctx context.Context, method, u string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, e := json.Marshal(in)
		if e != nil {
			return e
		}
		body = bytes.NewReader(b)
	}
	req, e := http.NewRequestWithContext(ctx, method, u, body)
	if e != nil {
		return e
	}
	if in != nil {
		req.Header.Set("Content-Type", mimeJson)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return readError(res)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) Info(ctx context.Context) (*switcher.ManagerInfo, error) {
	info := &switcher.ManagerInfo{}
	if _, e := c.poll(ctx, c.url("/"), "", 0, info); e != nil {
		return nil, e
	}
	return info, nil
}

func (c *Client) pollInstances(ctx context.Context, secs int, last *ListInfo) (*ListInfo, error) {
	c.lock.Lock()
	cached := c.list
	c.lock.Unlock()

	otag := ""
	if cached != nil {
		otag = cached.etag
		if last != nil && last.etag != cached.etag {
			// The caller is behind our cache; no need to wait.
			return cached, nil
		}
	}
	if last == nil {
		secs = 0
	}

	v := &ListInfo{}
	etag, e := c.poll(ctx, c.url("/instances"), otag, secs, v)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.list = v
	c.lock.Unlock()
	return v, nil
}

// Instances returns the registry.
func (c *Client) Instances(ctx context.Context) (*ListInfo, error) {
	return c.pollInstances(ctx, 0, nil)
}

// WatchInstances waits up to five minutes for the registry to differ
// from last, and returns the current registry.
func (c *Client) WatchInstances(ctx context.Context, last *ListInfo) (*ListInfo, error) {
	return c.pollInstances(ctx, MaxPollTime, last)
}

func (c *Client) Instance(ctx context.Context, id string) (*InstanceInfo, error) {
	v := &InstanceInfo{}
	if _, e := c.poll(ctx, c.instanceURL(id, ""), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// Register adds a configuration file, given as a path on the server.
func (c *Client) Register(ctx context.Context, path string) (*InstanceInfo, error) {
	v := &InstanceInfo{}
	if e := c.call(ctx, "POST", c.url("/instances"), &RegisterRequest{Path: path}, v); e != nil {
		return nil, e
	}
	return v, nil
}

// Remove unregisters instances named by ID, index, or path.
func (c *Client) Remove(ctx context.Context, ids ...string) error {
	return c.call(ctx, "DELETE", c.url("/instances"), &RemoveRequest{Paths: ids}, nil)
}

func (c *Client) act(ctx context.Context, id string, action switcher.Action) (*ActionResult, error) {
	v := &ActionResult{}
	if e := c.call(ctx, "POST", c.instanceURL(id, string(action)), nil, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Start(ctx context.Context, id string) (*ActionResult, error) {
	return c.act(ctx, id, switcher.ActionStart)
}

func (c *Client) Stop(ctx context.Context, id string) (*ActionResult, error) {
	return c.act(ctx, id, switcher.ActionStop)
}

// Rescan registers the main configurations under dir/conf on the server.
// An empty dir means the directory of the configured binary.
func (c *Client) Rescan(ctx context.Context, dir string) ([]string, error) {
	v := &RescanInfo{}
	if e := c.call(ctx, "POST", c.url("/rescan"), &RescanRequest{Dir: dir}, v); e != nil {
		return nil, e
	}
	return v.Found, nil
}

func (c *Client) Reload(ctx context.Context) error {
	return c.call(ctx, "POST", c.url("/reload"), nil, nil)
}

func (c *Client) Binary(ctx context.Context) (*BinaryInfo, error) {
	v := &BinaryInfo{}
	if e := c.call(ctx, "GET", c.url("/binary"), nil, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) SetBinary(ctx context.Context, path string) (*BinaryInfo, error) {
	v := &BinaryInfo{}
	if e := c.call(ctx, "PUT", c.url("/binary"), &BinaryInfo{Path: path}, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) DiscoverBinary(ctx context.Context) (*BinaryInfo, error) {
	v := &BinaryInfo{}
	if e := c.call(ctx, "POST", c.url("/binary/discover"), nil, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) pollLog(ctx context.Context, secs int, last *LogInfo) (*LogInfo, error) {
	c.lock.Lock()
	cached := c.log
	c.lock.Unlock()

	otag := ""
	if cached != nil {
		otag = cached.etag
		if last != nil && last.etag != cached.etag {
			return cached, nil
		}
	}
	if last == nil {
		secs = 0
	}

	v := &LogInfo{}
	etag, e := c.poll(ctx, c.url("/log"), otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.log = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) Log(ctx context.Context) (*LogInfo, error) {
	return c.pollLog(ctx, 0, nil)
}

func (c *Client) WatchLog(ctx context.Context, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, MaxPollTime, last)
}

// Events streams registry events to fn until ctx is done or the server
// closes the stream.
func (c *Client) Events(ctx context.Context, fn func(switcher.Event)) error {
	req, e := http.NewRequestWithContext(ctx, "GET", c.url("/events"), nil)
	if e != nil {
		return e
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return readError(res)
	}
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev switcher.Event
		if e := json.Unmarshal([]byte(line), &ev); e != nil {
			return e
		}
		fn(ev)
	}
	if e := scanner.Err(); e != nil && ctx.Err() == nil {
		return e
	}
	return nil
}

// NewClient returns a Client handle.  The transport may be nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		transport: t,
		base:      strings.TrimRight(baseURI, "/"),
		client:    &http.Client{Transport: t},
	}
}
