/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package service runs host-ABI entry points on a single background worker
// per workspace, mirroring the original runtime's one-thread execution
// model: commands are processed strictly in FIFO order, and the output
// sink active during a call is saved and restored around it so a trap
// can never leave a stale sink behind for the next command.
package service

import (
	"context"
	"sync/atomic"

	"github.com/wasmunit/wasmunit/internal/log"
)

// OutputHandler receives a running entry point's stdout/stderr-equivalent
// output (the host-ABI flavour has no real stdio; "log" host calls and
// captured guest panics are routed through it instead).
type OutputHandler interface {
	HandleStdout(line string)
	HandleStderr(line string)
}

// NoopOutputHandler discards everything. It is the sink in effect before
// any command has been processed.
type NoopOutputHandler struct{}

func (NoopOutputHandler) HandleStdout(string) {}
func (NoopOutputHandler) HandleStderr(string) {}

// RunFunc executes one entry point call. out is the sink to route log/abort
// host calls through while it runs.
type RunFunc func(ctx context.Context, entryPointID string, args []string, out OutputHandler) (exitCode int32, err error)

// ProcessStatus reports one entry point call's outcome, mirroring the
// original RuntimeEvent::on_process_status callback payload.
type ProcessStatus struct {
	PID        int64
	Running    bool
	ReturnCode int32
	Err        error
}

type command struct {
	entryPointID string
	args         []string
	status       chan<- ProcessStatus
}

// Service runs host-ABI entry points for one deployed workspace.
type Service struct {
	run     RunFunc
	cmds    chan command
	current OutputHandler // valid only while runOne executes on the worker goroutine
	nextPID int64
}

// New starts a Service's worker goroutine. run is called once per queued
// command, strictly in submission order.
func New(run RunFunc) *Service {
	s := &Service{
		run:     run,
		cmds:    make(chan command, 64),
		current: NoopOutputHandler{},
	}
	go s.worker()
	return s
}

func (s *Service) worker() {
	for cmd := range s.cmds {
		s.runOne(cmd)
	}
}

func (s *Service) runOne(cmd command) {
	pid := atomic.AddInt64(&s.nextPID, 1)

	sink := &forwardingSink{status: cmd.status, pid: pid}

	prev := s.current
	s.current = sink
	defer func() { s.current = prev }()

	exitCode, err := s.run(context.Background(), cmd.entryPointID, cmd.args, sink)
	if err != nil {
		log.L.WithField("entrypoint", cmd.entryPointID).WithError(err).Error("host-abi entry point failed")
	}
	cmd.status <- ProcessStatus{PID: pid, Running: false, ReturnCode: exitCode, Err: err}
	close(cmd.status)
}

// RunProcess queues entryPointID for execution and returns a channel that
// receives its terminal ProcessStatus.
func (s *Service) RunProcess(entryPointID string, args []string) <-chan ProcessStatus {
	statusCh := make(chan ProcessStatus, 1)
	s.cmds <- command{entryPointID: entryPointID, args: args, status: statusCh}
	return statusCh
}

// KillProcess is a no-op: the original runtime never implemented process
// termination for the host-ABI flavour either, since every entry point call
// runs to completion synchronously on the worker.
func (s *Service) KillProcess(int64) error {
	return nil
}

// Shutdown stops accepting new commands. Already-queued commands still
// drain before the worker goroutine exits.
func (s *Service) Shutdown() {
	close(s.cmds)
}

// Hello returns the protocol version handshake placeholder the original
// RuntimeService::hello exposed before any run_process call. The RPC
// transport that would call it is out of scope here; this method exists so
// a future binding has something to call.
func (s *Service) Hello() string {
	return "wasmunit-hostabi/1"
}

// forwardingSink turns log/abort host calls during one entry point's
// execution into diagnostic lines, tagging them with the call's pid the
// way the original SenderHandler tagged a ProcessStatus channel.
type forwardingSink struct {
	status chan<- ProcessStatus
	pid    int64
}

func (f *forwardingSink) HandleStdout(line string) {
	log.L.WithField("pid", f.pid).Info(line)
}

func (f *forwardingSink) HandleStderr(line string) {
	log.L.WithField("pid", f.pid).Warn(line)
}
