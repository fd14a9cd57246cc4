// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package shim implements containerd's Runtime v2 TTRPC task service
// for Reaper: one shim process per containerd task, bookkeeping a set
// of containers and execs backed by the on-disk state pkg/runtimecli's
// daemons publish, and forwarding their observed transitions as
// containerd task-lifecycle events. The shim never caches status: it
// is a thin view onto the runtime's state files.
package shim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	eventstypes "github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/namespaces"
	cdruntime "github.com/containerd/containerd/runtime"
	cdshim "github.com/containerd/containerd/runtime/v2/shim"
	taskAPI "github.com/containerd/containerd/runtime/v2/task"
	ptypes "github.com/gogo/protobuf/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/miguelgila/reaper/pkg/config"
)

const chSize = 128

var (
	empty                     = &ptypes.Empty{}
	_     taskAPI.TaskService = (*Service)(nil)
)

var shimLog = logrus.WithField("source", "reaper-shim")

// Service implements taskAPI.TaskService. New is the entry point
// cmd/reaper-shim passes to cdshim.Run.
type Service struct {
	id        string
	pid       uint32
	namespace string

	ctx    context.Context
	cancel func()

	runtimeRoot string
	runtimeCLI  string

	mu         sync.Mutex
	containers map[string]*container

	events      chan interface{}
	eventSendMu sync.Mutex
}

// New constructs the shim service for one containerd task id, with
// the signature cdshim.Run expects.
func New(ctx context.Context, id string, publisher cdshim.Publisher, shutdown func()) (cdshim.Shim, error) {
	shimLog = shimLog.WithFields(logrus.Fields{"task": id, "pid": os.Getpid()})

	ns, ok := namespaces.Namespace(ctx)
	if !ok {
		return nil, fmt.Errorf("shim namespace cannot be empty")
	}

	values, err := config.Load("")
	if err != nil {
		return nil, errors.Wrap(err, "load reaper config")
	}
	if err := configureLogging(values); err != nil {
		return nil, errors.Wrap(err, "configure shim logging")
	}

	registerMetrics()

	s := &Service{
		id:          id,
		pid:         uint32(os.Getpid()),
		namespace:   ns,
		ctx:         ctx,
		cancel:      shutdown,
		runtimeRoot: values.String(config.KeyRuntimeRoot, "/run/reaper"),
		runtimeCLI:  values.String(config.KeyRuntimeCLIPath, config.DefaultRuntimeCLIPath),
		containers:  make(map[string]*container),
		events:      make(chan interface{}, chSize),
	}

	forwarder := newEventForwarder(ctx, publisher, s.events)
	go forwarder.forward()

	return s, nil
}

func (s *Service) send(evt interface{}) {
	if s.events != nil {
		s.events <- evt
	}
}

func (s *Service) sendL(evt interface{}) {
	s.eventSendMu.Lock()
	defer s.eventSendMu.Unlock()
	s.send(evt)
}

func getTopic(e interface{}) string {
	switch e.(type) {
	case *eventstypes.TaskCreate:
		return cdruntime.TaskCreateEventTopic
	case *eventstypes.TaskStart:
		return cdruntime.TaskStartEventTopic
	case *eventstypes.TaskExit:
		return cdruntime.TaskExitEventTopic
	case *eventstypes.TaskDelete:
		return cdruntime.TaskDeleteEventTopic
	case *eventstypes.TaskExecAdded:
		return cdruntime.TaskExecAddedEventTopic
	case *eventstypes.TaskExecStarted:
		return cdruntime.TaskExecStartedEventTopic
	default:
		shimLog.WithField("event-type", e).Warn("no topic for event type")
	}
	return cdruntime.TaskUnknownTopic
}

func (s *Service) getContainer(id string) (*container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return nil, errors.Errorf("container does not exist %s", id)
	}
	return c, nil
}

// StartShim daemonizes a new shim process bound to opts.Address and
// returns the socket address containerd should dial. There is no
// per-sandbox machinery to spawn here: every task gets its own
// ordinary Runtime v2 shim process.
func (s *Service) StartShim(ctx context.Context, opts cdshim.StartOpts) (_ string, retErr error) {
	bundlePath, err := os.Getwd()
	if err != nil {
		return "", err
	}

	address, err := cdshim.ReadAddress("address")
	if err == nil && address != "" {
		return address, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	ns, err := namespaces.NamespaceRequired(ctx)
	if err != nil {
		return "", err
	}

	cmd := exec.Command(self, "-namespace", ns, "-address", opts.Address, "-publish-binary", opts.ContainerdBinary, "-id", opts.ID)
	cmd.Dir = bundlePath
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	address, err = cdshim.SocketAddress(ctx, opts.Address, opts.ID)
	if err != nil {
		return "", err
	}

	socket, err := cdshim.NewSocket(address)
	if err != nil {
		if !cdshim.SocketEaddrinuse(err) {
			return "", err
		}
		if err := cdshim.RemoveSocket(address); err != nil {
			return "", errors.Wrap(err, "remove already used socket")
		}
		if socket, err = cdshim.NewSocket(address); err != nil {
			return "", err
		}
	}
	defer func() {
		if retErr != nil {
			socket.Close()
			_ = cdshim.RemoveSocket(address)
		}
	}()

	f, err := socket.File()
	if err != nil {
		return "", err
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, f)

	if err := cmd.Start(); err != nil {
		return "", err
	}
	defer func() {
		if retErr != nil {
			cmd.Process.Kill()
		}
	}()

	if err := cdshim.WritePidFile("shim.pid", cmd.Process.Pid); err != nil {
		return "", err
	}
	if err := cdshim.WriteAddress("address", address); err != nil {
		return "", err
	}
	return address, nil
}

func (s *Service) Cleanup(ctx context.Context) (*taskAPI.DeleteResponse, error) {
	return &taskAPI.DeleteResponse{
		ExitedAt:   time.Now(),
		ExitStatus: 128 + 9,
	}, nil
}

func (s *Service) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	s.mu.Lock()
	remaining := len(s.containers)
	s.mu.Unlock()

	if remaining != 0 {
		return empty, nil
	}

	s.cancel()
	os.Exit(0)
	return empty, nil
}

func (s *Service) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	start := time.Now()
	defer observeRPC("connect", start)

	s.mu.Lock()
	defer s.mu.Unlock()

	var taskPid uint32
	if c, ok := s.containers[r.ID]; ok {
		taskPid = c.init.getPid()
	}

	return &taskAPI.ConnectResponse{
		ShimPid: s.pid,
		TaskPid: taskPid,
	}, nil
}

// Stats is accepted but returns an empty payload: Reaper applies no
// cgroup limits, so there is nothing cgroup-backed to report.
func (s *Service) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	return &taskAPI.StatsResponse{}, nil
}

// Checkpoint, Pause, Resume and Update are accepted but no-op:
// Reaper workloads are plain host processes with no
// pause/resume/checkpoint/update primitive to drive, and containerd
// must not see these RPCs error.
func (s *Service) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	return empty, nil
}

func (s *Service) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	return empty, nil
}

func (s *Service) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	return empty, nil
}

func (s *Service) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	return empty, nil
}
