// Copyright 2020 Speckle Systems
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

package transports

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/martijn00/speckle-sharp/hash"
)

// Paths and headers of the HTTP object service.
const (
	ObjectsPath    = "/objects"
	GetObjectsPath = "/objects/get"
	HasObjectsPath = "/objects/has"

	VersionHeader = "x-speckle-vers"
	Version       = "1"
)

const (
	writeBufferSize = 1 << 12 // 4k
	writeLimit      = 4
	maxWriteBatch   = 512
)

// HTTPOptions configure an HTTPTransport.
type HTTPOptions struct {
	Client *http.Client

	// MaxRetries bounds the retries of a failed request.
	MaxRetries uint64

	// InitialInterval is the first retry delay.
	InitialInterval time.Duration

	// PresenceCacheSize is the number of IDs remembered as present on the
	// server.
	PresenceCacheSize int
}

// HTTPTransport talks to an object service over HTTP. Writes are queued
// and sent in batches by background workers; WriteComplete waits for them.
type HTTPTransport struct {
	host    *url.URL
	opts    HTTPOptions
	log     *logrus.Entry
	present *lru.Cache[hash.Hash, struct{}]

	// qmu guards closing writeQueue against concurrent sends.
	qmu        sync.RWMutex
	closed     bool
	writeQueue chan object

	wmu      sync.Mutex
	idle     *sync.Cond
	inflight int
	written  hash.HashSet
	writeErr error
}

var _ Transport = (*HTTPTransport)(nil)
var _ BatchGetter = (*HTTPTransport)(nil)

func NewHTTPTransport(host string, opts HTTPOptions) (*HTTPTransport, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "transports: parsing %q", host)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transports: unsupported scheme in %q", host)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.PresenceCacheSize <= 0 {
		opts.PresenceCacheSize = 1 << 16
	}
	present, err := lru.New[hash.Hash, struct{}](opts.PresenceCacheSize)
	if err != nil {
		return nil, err
	}

	t := &HTTPTransport{
		host:       u,
		opts:       opts,
		log:        logrus.WithField("transport", u.String()),
		present:    present,
		writeQueue: make(chan object, writeBufferSize),
		written:    hash.HashSet{},
	}
	t.idle = sync.NewCond(&t.wmu)
	for i := 0; i < writeLimit; i++ {
		go t.sendWriteRequests()
	}
	return t, nil
}

func (t *HTTPTransport) Name() string {
	return t.host.String()
}

func (t *HTTPTransport) url(p string) string {
	u := *t.host
	u.Path = u.Path + p
	return u.String()
}

// permanentStatus reports whether a response status should not be retried.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500
}

// do sends a request built by newReq, retrying network errors and server
// errors with exponential backoff. The caller closes the response body.
func (t *HTTPTransport) do(ctx context.Context, newReq func() (*http.Request, error), accept ...int) (*http.Response, error) {
	var res *http.Response
	op := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)
		req.Header.Set(VersionHeader, Version)

		r, err := t.opts.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		for _, code := range accept {
			if r.StatusCode == code {
				res = r
				return nil
			}
		}
		msg, _ := ioutil.ReadAll(io.LimitReader(r.Body, 512))
		closeResponse(r)
		err = &statusError{code: r.StatusCode, msg: strings.TrimSpace(string(msg))}
		if permanentStatus(r.StatusCode) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.InitialInterval
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, t.opts.MaxRetries), ctx), func(err error, d time.Duration) {
		t.log.Debugf("transports/http: retrying in %s: %v", d, err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return res, nil
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected response %d %s: %s", e.code, http.StatusText(e.code), e.msg)
}

func closeResponse(res *http.Response) {
	io.Copy(ioutil.Discard, res.Body)
	res.Body.Close()
}

func bodyReader(res *http.Response) (io.ReadCloser, error) {
	if strings.Contains(res.Header.Get("Content-Encoding"), "gzip") {
		gr, err := gzip.NewReader(res.Body)
		if err != nil {
			return nil, errors.Wrap(err, "transports: reading gzip response")
		}
		return gr, nil
	}
	return ioutil.NopCloser(res.Body), nil
}

func (t *HTTPTransport) GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	// GET http://<host>/objects/<id>. Response will be 200 with the object, or 404.
	res, err := t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest("GET", t.url(ObjectsPath+"/"+h.String()), nil)
		if err == nil {
			req.Header.Add("Accept-Encoding", "gzip")
		}
		return req, err
	}, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return nil, false, err
	}
	defer closeResponse(res)
	if res.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}

	reader, err := bodyReader(res)
	if err != nil {
		return nil, false, err
	}
	defer reader.Close()
	data, err := ioutil.ReadAll(reader)
	if err != nil {
		return nil, false, errors.Wrapf(err, "transports: reading %s", h)
	}
	t.present.Add(h, struct{}{})
	return data, true, nil
}

func (t *HTTPTransport) GetObjects(ctx context.Context, hs hash.HashSet, found func(h hash.Hash, data []byte)) error {
	// POST http://<host>/objects/get. Body: id=...&id=... Response is a serialized stream of the objects found.
	values := url.Values{}
	for _, h := range hs.Sorted() {
		values.Add("id", h.String())
	}
	body := values.Encode()

	res, err := t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest("POST", t.url(GetObjectsPath), strings.NewReader(body))
		if err == nil {
			req.Header.Add("Accept-Encoding", "gzip")
			req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
		}
		return req, err
	}, http.StatusOK)
	if err != nil {
		return err
	}
	defer closeResponse(res)

	reader, err := bodyReader(res)
	if err != nil {
		return err
	}
	defer reader.Close()
	return Deserialize(reader, func(h hash.Hash, data []byte) error {
		if !hs.Has(h) {
			return ErrMalformedStream.New("unrequested object " + h.String())
		}
		t.present.Add(h, struct{}{})
		found(h, data)
		return nil
	})
}

func (t *HTTPTransport) HasObjects(ctx context.Context, hs hash.HashSet) (hash.HashSet, error) {
	// POST http://<host>/objects/has. Body: id=...&id=... Response: one "<id> true|false" line per id.
	absent := hash.HashSet{}
	queried := hash.HashSet{}
	values := url.Values{}
	for _, h := range hs.Sorted() {
		if t.present.Contains(h) {
			continue
		}
		queried.Insert(h)
		values.Add("id", h.String())
	}
	if len(queried) == 0 {
		return absent, nil
	}
	body := values.Encode()

	res, err := t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest("POST", t.url(HasObjectsPath), strings.NewReader(body))
		if err == nil {
			req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
		}
		return req, err
	}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer closeResponse(res)

	answered := hash.HashSet{}
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		var id string
		var has bool
		if _, err := fmt.Sscanf(scanner.Text(), "%s %t", &id, &has); err != nil {
			return nil, errors.Wrapf(err, "transports: parsing has response %q", scanner.Text())
		}
		h, ok := hash.MaybeParse(id)
		if !ok || !queried.Has(h) {
			return nil, fmt.Errorf("transports: unexpected id %q in has response", id)
		}
		answered.Insert(h)
		if has {
			t.present.Add(h, struct{}{})
		} else {
			absent.Insert(h)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "transports: reading has response")
	}
	if len(answered) != len(queried) {
		return nil, fmt.Errorf("transports: has response answered %d of %d ids", len(answered), len(queried))
	}
	return absent, nil
}

// WriteObject queues data for upload. Errors surface from WriteComplete.
func (t *HTTPTransport) WriteObject(ctx context.Context, h hash.Hash, data []byte) error {
	t.qmu.RLock()
	defer t.qmu.RUnlock()
	if t.closed {
		return ErrClosed.New(t.Name())
	}
	if t.present.Contains(h) {
		return nil
	}
	t.wmu.Lock()
	if t.written.Has(h) {
		t.wmu.Unlock()
		return nil
	}
	t.written.Insert(h)
	t.inflight++
	t.wmu.Unlock()

	select {
	case t.writeQueue <- object{h, append([]byte(nil), data...)}:
		return nil
	case <-ctx.Done():
		t.wmu.Lock()
		t.written.Remove(h)
		t.doneLocked(1)
		t.wmu.Unlock()
		return ctx.Err()
	}
}

// doneLocked retires n queued writes and wakes WriteComplete when none
// are left.
func (t *HTTPTransport) doneLocked(n int) {
	t.inflight -= n
	if t.inflight == 0 {
		t.idle.Broadcast()
	}
}

func (t *HTTPTransport) sendWriteRequests() {
	for o := range t.writeQueue {
		objs := []object{o}

	loop:
		for len(objs) < maxWriteBatch {
			select {
			case o, ok := <-t.writeQueue:
				if !ok {
					break loop
				}
				objs = append(objs, o)
			default:
				break loop
			}
		}

		err := t.postObjects(context.Background(), objs)
		if err != nil {
			t.log.Warnf("transports/http: writing %d objects: %v", len(objs), err)
		} else {
			for _, o := range objs {
				t.present.Add(o.h, struct{}{})
			}
		}

		t.wmu.Lock()
		if err != nil {
			if t.writeErr == nil {
				t.writeErr = err
			}
			for _, o := range objs {
				t.written.Remove(o.h)
			}
		}
		t.doneLocked(len(objs))
		t.wmu.Unlock()
	}
}

func (t *HTTPTransport) postObjects(ctx context.Context, objs []object) error {
	// POST http://<host>/objects. Body is a gzipped serialized object stream. Response will be 201.
	body := &bytes.Buffer{}
	gw := gzip.NewWriter(body)
	sz := NewSerializer(gw)
	for _, o := range objs {
		if err := sz.Put(o.h, o.data); err != nil {
			return err
		}
	}
	if err := gw.Close(); err != nil {
		return errors.Wrap(err, "transports: compressing objects")
	}
	payload := body.Bytes()

	res, err := t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest("POST", t.url(ObjectsPath), bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Encoding", "gzip")
			req.Header.Set("Content-Type", "application/octet-stream")
		}
		return req, err
	}, http.StatusCreated)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusConflict {
			return ErrContentCollision.New(se.msg, t.Name())
		}
		return err
	}
	closeResponse(res)
	return nil
}

func (t *HTTPTransport) CopyObjectAndChildren(ctx context.Context, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error) {
	return Pull(ctx, t, h, dest, opts)
}

// WriteComplete waits for queued writes and returns the first error any of
// them hit since the previous call.
func (t *HTTPTransport) WriteComplete(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wmu.Lock()
		for t.inflight > 0 {
			t.idle.Wait()
		}
		t.wmu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	err := t.writeErr
	t.writeErr = nil
	return err
}

// Close waits for queued writes and stops the upload workers. Writes after
// Close fail with ErrClosed.
func (t *HTTPTransport) Close() error {
	err := t.WriteComplete(context.Background())
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.writeQueue)
	}
	return err
}
