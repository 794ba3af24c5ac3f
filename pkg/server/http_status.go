// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func (s *Server) startStatusHTTP(ln net.Listener) {
	serverMux := http.NewServeMux()

	serverMux.HandleFunc("/debug/pprof/", pprof.Index)
	serverMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	serverMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	serverMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	serverMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	serverMux.HandleFunc("/status", s.handleStatus)
	serverMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.statusServer = &http.Server{Handler: serverMux}
	log.Info("status http server is running", zap.Stringer("addr", ln.Addr()))
	s.eg.Go(func() error {
		err := s.statusServer.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			log.Error("status server error", zap.Error(err))
			return errors.Trace(err)
		}
		return nil
	})
}

// status of an actor node
type status struct {
	version.Info
	Node       string   `json:"node"`
	Pid        int      `json:"pid"`
	Port       uint16   `json:"port"`
	LiveActors int      `json:"live_actors"`
	Peers      []string `json:"peers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := status{
		Info:       version.Current(),
		Node:       s.sys.Node().String(),
		Pid:        os.Getpid(),
		Port:       s.Port(),
		LiveActors: s.sys.LiveActors(),
		Peers:      s.connectedPeers(),
	}
	writeData(w, st)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	w.WriteHeader(statusCode)
	_, err = w.Write([]byte(err.Error()))
	if err != nil {
		log.Error("write error", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, data interface{}) {
	js, err := json.MarshalIndent(data, "", " ")
	if err != nil {
		log.Error("invalid json data", zap.Reflect("data", data), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(js)
	if err != nil {
		log.Error("fail to write data", zap.Error(err))
	}
}
