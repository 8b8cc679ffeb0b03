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

// Package remotesrv serves any transport over HTTP so that it can be used
// as the remote of another process.
package remotesrv

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/martijn00/speckle-sharp/d"
	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
	"github.com/martijn00/speckle-sharp/transports"
)

// Handler is an HTTP handler that receives the transport being served.
type Handler func(w http.ResponseWriter, req *http.Request, ps httprouter.Params, store transports.Transport)

// Server exposes a transport through the object service endpoints.
type Server struct {
	store    transports.Transport
	port     int
	validate bool
	log      *logrus.Entry

	mu      sync.Mutex
	l       net.Listener
	srv     *http.Server
	stopped bool
}

func NewServer(store transports.Transport, port int) *Server {
	return &Server{
		store: store,
		port:  port,
		log:   logrus.WithField("component", "remotesrv"),
	}
}

// SetValidateContentAddresses makes the server reject uploaded objects
// whose content does not hash to their ID.
func (s *Server) SetValidateContentAddresses(validate bool) {
	s.validate = validate
}

// Router returns the routes of the object service.
func (s *Server) Router() *httprouter.Router {
	router := httprouter.New()
	router.GET(transports.ObjectsPath+"/:id", s.makeHandle(handleGetObject))
	router.POST(transports.GetObjectsPath, s.makeHandle(handleGetObjects))
	router.POST(transports.HasObjectsPath, s.makeHandle(handleHasObjects))
	router.POST(transports.ObjectsPath, s.makeHandle(s.handlePostObjects))
	return router
}

func (s *Server) makeHandle(hndlr Handler) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if vers := req.Header.Get(transports.VersionHeader); vers != transports.Version {
			http.Error(w, fmt.Sprintf("Error: client version %q does not match server version %q", vers, transports.Version), http.StatusBadRequest)
			return
		}
		w.Header().Set(transports.VersionHeader, transports.Version)
		err := d.Try(func() { hndlr(w, req, ps, s.store) })
		if err != nil {
			s.log.Warnf("remotesrv: %s %s: %v", req.Method, req.URL.Path, err)
			http.Error(w, fmt.Sprintf("Error: %v", d.Unwrap(err)), http.StatusBadRequest)
		}
	}
}

// Run blocks while the server is listening. It returns nil once Stop has
// been called.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Router()}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return l.Close()
	}
	s.l, s.srv = l, srv
	s.mu.Unlock()

	s.log.Infof("remotesrv: listening on %s", l.Addr())
	err = srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the address the server listens on once Run has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// Stop shuts the server down, waiting for requests in flight.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func respWriter(w http.ResponseWriter, req *http.Request) (io.Writer, func()) {
	if strings.Contains(req.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Add("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		return gw, func() { gw.Close() }
	}
	return w, func() {}
}

func bodyReader(req *http.Request) (io.Reader, func()) {
	if strings.Contains(req.Header.Get("Content-Encoding"), "gzip") {
		gr, err := gzip.NewReader(req.Body)
		d.PanicIfError(d.Wrap(err))
		return gr, func() { gr.Close() }
	}
	return req.Body, func() {}
}

func parseIDs(req *http.Request) hash.HashSet {
	err := req.ParseForm()
	if err != nil {
		d.Panic("parsing form: %v", err)
	}
	idStrs := req.PostForm["id"]
	if len(idStrs) == 0 {
		d.Panic("PostForm is empty")
	}
	hs := hash.HashSet{}
	for _, s := range idStrs {
		h, ok := hash.MaybeParse(s)
		if !ok {
			d.Panic("invalid id %q", s)
		}
		hs.Insert(h)
	}
	return hs
}

func handleGetObject(w http.ResponseWriter, req *http.Request, ps httprouter.Params, store transports.Transport) {
	h, ok := hash.MaybeParse(ps.ByName("id"))
	if !ok {
		d.Panic("invalid id %q", ps.ByName("id"))
	}
	data, ok, err := store.GetObject(req.Context(), h)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Add("Content-Type", "application/cbor")
	w.Header().Add("Cache-Control", "max-age=31536000") // 1 year
	writer, done := respWriter(w, req)
	defer done()
	writer.Write(data)
}

func handleGetObjects(w http.ResponseWriter, req *http.Request, ps httprouter.Params, store transports.Transport) {
	hs := parseIDs(req)

	type hit struct {
		h    hash.Hash
		data []byte
	}
	var hits []hit
	var err error
	if bg, ok := store.(transports.BatchGetter); ok {
		err = bg.GetObjects(req.Context(), hs, func(h hash.Hash, data []byte) {
			hits = append(hits, hit{h, data})
		})
	} else {
		for _, h := range hs.Sorted() {
			data, ok, gerr := store.GetObject(req.Context(), h)
			if gerr != nil {
				err = gerr
				break
			}
			if ok {
				hits = append(hits, hit{h, data})
			}
		}
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/octet-stream")
	writer, done := respWriter(w, req)
	defer done()
	sz := transports.NewSerializer(writer)
	for _, o := range hits {
		if err := sz.Put(o.h, o.data); err != nil {
			return
		}
	}
}

func handleHasObjects(w http.ResponseWriter, req *http.Request, ps httprouter.Params, store transports.Transport) {
	hs := parseIDs(req)
	absent, err := store.HasObjects(req.Context(), hs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "text/plain")
	for _, h := range hs.Sorted() {
		fmt.Fprintf(w, "%s %t\n", h, !absent.Has(h))
	}
}

func (s *Server) handlePostObjects(w http.ResponseWriter, req *http.Request, ps httprouter.Params, store transports.Transport) {
	reader, done := bodyReader(req)
	defer done()

	ctx := req.Context()
	count := 0
	var last hash.Hash
	err := transports.Deserialize(reader, func(h hash.Hash, data []byte) error {
		if s.validate {
			if err := enc.VerifyEnvelope(h, data); err != nil {
				return err
			}
		}
		count++
		last = h
		return store.WriteObject(ctx, h, data)
	})
	if err == nil {
		err = store.WriteComplete(ctx)
	}

	switch {
	case err == nil:
		s.log.Debugf("remotesrv: stored %d objects", count)
		w.WriteHeader(http.StatusCreated)
	case transports.ErrContentCollision.Is(err):
		// The body names the colliding object; clients rebuild the error from it.
		s.log.Warnf("remotesrv: %v", err)
		http.Error(w, last.String(), http.StatusConflict)
	case transports.ErrMalformedStream.Is(err), enc.ErrMalformedEnvelope.Is(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
