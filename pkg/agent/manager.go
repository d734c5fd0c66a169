// Package agent implements the AgentManager actor: the top-level,
// single-consumer loop that drives every other agent-core component from
// the server's desired-state stream.
package agent

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/ankagent/pkg/agenterrors"
	"github.com/cuemby/ankagent/pkg/agentmetrics"
	"github.com/cuemby/ankagent/pkg/controlinterface"
	"github.com/cuemby/ankagent/pkg/controlinterface/wire"
	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/logfetch"
	"github.com/cuemby/ankagent/pkg/runtime"
	"github.com/cuemby/ankagent/pkg/runtime/logcollector"
	"github.com/cuemby/ankagent/pkg/scheduler"
	"github.com/cuemby/ankagent/pkg/statestore"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Channel capacities per spec.md §5: 20 for the inbound message and state
// channels, 20 for forwarded control-interface requests (no dedicated
// figure is given for this one; it is sized the same as the other
// manager-facing channels since nothing distinguishes their load).
const (
	fromServerBuffer = 20
	stateReportBuffer = 20
	requestBuffer     = 20
)

// workloadTracking is what the manager keeps about one workload name
// beyond what the state store already tracks: which runtime it runs under
// (a bare DeletedWorkload carries no Runtime field of its own, so deleting
// one requires remembering which connector created it) and the running
// supervisor handle and control interface, if any have been spawned for it
// under this agent process.
type workloadTracking struct {
	instanceName types.WorkloadInstanceName
	runtimeName  string
	handle       runtime.WorkloadHandle
	control      *controlinterface.ControlInterface
}

// Manager is the AgentManager actor of spec.md §4.1: the sole owner of the
// WorkloadStateStore and DependencyScheduler, the single consumer of the
// server stream, and the component that turns scheduler-released
// operations into RuntimeFacade calls. All mutation of the store and
// scheduler happens on Run's own goroutine; every other entry point
// (Send-like callbacks) only ever posts to a channel Run selects on, so
// the "processes one message at a time" ordering guarantee holds.
type Manager struct {
	agentName string
	runFolder string
	facades   map[string]runtime.Facade
	// connectors mirrors facades but gives LogsRequest handling direct
	// access to FetchLogs, which RuntimeFacade deliberately does not
	// expose (spec.md §4.1 names RuntimeConnectors, not RuntimeFacades,
	// as what LogFetcher instances are built from).
	connectors map[string]runtime.Connector

	store     *statestore.Store
	scheduler *scheduler.Scheduler

	mu       sync.Mutex
	tracking map[string]workloadTracking

	stream       ServerStream
	requests     chan ControlRequest
	stateReports chan types.WorkloadState
	logRunners   map[string]*logfetch.Runner
	// logPumps supervises the K LogFetcher consumer goroutines of spec.md
	// §5's task inventory (one per active log subscription's Receiver).
	// Unlike the control-interface reader goroutines, these are always
	// bounded: logfetch.Runner.Stop cancels and joins its own producer
	// goroutines, which closes every Receiver's channel and lets
	// pumpLogReceiver return promptly, so waiting on them at shutdown
	// cannot hang.
	logPumps errgroup.Group

	logger zerolog.Logger
}

// New builds a Manager for agentName, rooted at runFolder, driving the
// given runtime facades/connectors (keyed by the runtime name workloads
// select via WorkloadSpec.Runtime) and exchanging messages with the server
// over stream.
func New(agentName, runFolder string, facades map[string]runtime.Facade, connectors map[string]runtime.Connector, stream ServerStream) *Manager {
	return &Manager{
		agentName:    agentName,
		runFolder:    runFolder,
		facades:      facades,
		connectors:   connectors,
		store:        statestore.New(),
		scheduler:    scheduler.New(),
		tracking:     make(map[string]workloadTracking),
		stream:       stream,
		requests:     make(chan ControlRequest, requestBuffer),
		stateReports: make(chan types.WorkloadState, stateReportBuffer),
		logRunners:   make(map[string]*logfetch.Runner),
		logger:       log.WithAgent(agentName),
	}
}

// Run drives the manager's loop until ctx is canceled or the server stream
// ends, tearing down every workload on the way out.
func (m *Manager) Run(ctx context.Context) error {
	fromServer := make(chan FromServer, fromServerBuffer)
	recvErr := make(chan error, 1)
	go m.pumpServerStream(ctx, fromServer, recvErr)

	for {
		select {
		case <-ctx.Done():
			m.shutdown(ctx)
			return ctx.Err()

		case err := <-recvErr:
			// Messages received before the stream ended are still handled,
			// in order, before shutting down.
			for drained := false; !drained; {
				select {
				case msg := <-fromServer:
					if msg.Kind == MsgStop {
						m.shutdown(ctx)
						return nil
					}
					m.handle(ctx, msg)
				default:
					drained = true
				}
			}
			m.logger.Info().Err(err).Msg("server stream ended")
			m.shutdown(ctx)
			return err

		case msg := <-fromServer:
			if msg.Kind == MsgStop {
				m.shutdown(ctx)
				return nil
			}
			m.handle(ctx, msg)

		case ws := <-m.stateReports:
			m.handleStateReport(ws)

		case req := <-m.requests:
			m.forwardRequest(req)
		}
	}
}

func (m *Manager) pumpServerStream(ctx context.Context, out chan<- FromServer, errs chan<- error) {
	for {
		msg, err := m.stream.Recv()
		if err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handle(ctx context.Context, msg FromServer) {
	switch msg.Kind {
	case MsgServerHello:
		m.handleServerHello(ctx, msg.ServerHello)
	case MsgUpdateWorkload:
		m.handleUpdateWorkload(ctx, msg.UpdateWorkload)
	case MsgUpdateWorkloadState:
		m.handleUpdateWorkloadState(ctx, msg.UpdateWorkloadState)
	case MsgResponse:
		m.handleResponse(msg.Response)
	case MsgLogsRequest:
		m.handleLogsRequest(ctx, msg.LogsRequest)
	case MsgLogsCancelRequest:
		m.handleLogsCancelRequest(msg.LogsCancelRequest)
	}
}

// handleServerHello reconciles what every connector reports as already
// running against the workloads the server expects, per spec.md §4.1: a
// reusable entry whose instance name is also wanted is resumed; one that
// is not wanted is deleted directly (it never passes through the
// scheduler, since nothing depends on it yet). Wanted instances with no
// matching reusable entry become Creates.
func (m *Manager) handleServerHello(ctx context.Context, hello ServerHello) {
	wanted := make(map[string]types.WorkloadSpec, len(hello.InitialWorkloads))
	for _, spec := range hello.InitialWorkloads {
		wanted[spec.InstanceName.String()] = spec
	}
	claimed := make(map[string]struct{}, len(wanted))

	for runtimeName, facade := range m.facades {
		reusable, err := facade.GetReusableWorkloads(ctx, m.agentName)
		if err != nil {
			err = agenterrors.Wrap(agenterrors.RuntimeList, "list reusable workloads", err)
			m.logger.Warn().Err(err).Str("runtime", runtimeName).Msg("failed to list reusable workloads; treating as none")
			continue
		}
		for _, r := range reusable {
			key := r.InstanceName.String()
			spec, ok := wanted[key]
			if !ok {
				if err := facade.DeleteWorkload(ctx, r.InstanceName); err != nil {
					err = agenterrors.Wrap(agenterrors.RuntimeDelete, "delete stale reusable workload", err)
					m.logger.Error().Err(err).Str("instance_name", key).Msg("failed to delete stale reusable workload")
				}
				continue
			}
			claimed[key] = struct{}{}
			m.resumeWorkload(ctx, facade, runtimeName, spec, r.WorkloadID)
		}
	}

	var creates []types.WorkloadOperation
	for key, spec := range wanted {
		if _, ok := claimed[key]; ok {
			continue
		}
		creates = append(creates, types.NewCreateOperation(types.ReusableWorkloadSpec{WorkloadSpec: spec}))
	}
	ready := m.scheduler.Enqueue(creates, m.store)
	m.reportQueued(creates, ready)
	m.release(ctx, ready)
}

// handleUpdateWorkload correlates added specs against deleted instances by
// workload name into Update operations (the paired replace of an existing
// instance), leaving the rest as bare Creates and Deletes, per spec.md
// §4.1's UpdateWorkload reaction.
func (m *Manager) handleUpdateWorkload(ctx context.Context, u UpdateWorkload) {
	added := make(map[string]types.WorkloadSpec, len(u.Added))
	for _, spec := range u.Added {
		added[spec.Name()] = spec
	}
	deleted := make(map[string]types.DeletedWorkload, len(u.Deleted))
	for _, d := range u.Deleted {
		deleted[d.Name()] = d
	}

	var operations []types.WorkloadOperation
	for name, spec := range added {
		if old, ok := deleted[name]; ok {
			operations = append(operations, types.NewUpdateOperation(spec, old))
			delete(deleted, name)
			continue
		}
		operations = append(operations, types.NewCreateOperation(types.ReusableWorkloadSpec{WorkloadSpec: spec}))
	}
	for _, old := range deleted {
		operations = append(operations, types.NewDeleteOperation(old))
	}

	ready := m.scheduler.Enqueue(operations, m.store)
	m.reportQueued(operations, ready)
	m.release(ctx, ready)
}

// handleUpdateWorkloadState merges a batch reported by the server (states
// produced by other agents) into the store, relays it back upward
// unchanged, and re-queries the scheduler since a dependency may now be
// satisfied.
func (m *Manager) handleUpdateWorkloadState(ctx context.Context, u UpdateWorkloadState) {
	for _, ws := range u.States {
		m.recordStateTransition(ws)
	}
	if err := m.stream.Send(ToServer{Kind: MsgUpdateWorkloadStateOut, UpdateWorkloadState: u}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to relay workload state upward")
	}
	m.release(ctx, m.scheduler.NextReady(m.store))
}

// handleStateReport is the single-item counterpart to
// handleUpdateWorkloadState, for states produced locally by this agent's
// own supervisors/state checkers. It is the function every
// runtime.StateReportFunc passed to a facade ultimately funnels through,
// keeping store and scheduler mutation on this one goroutine even though
// the reports themselves originate from other goroutines.
func (m *Manager) handleStateReport(ws types.WorkloadState) {
	m.recordStateTransition(ws)
	if err := m.stream.Send(ToServer{Kind: MsgUpdateWorkloadStateOut, UpdateWorkloadState: UpdateWorkloadState{States: []types.WorkloadState{ws}}}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to relay workload state upward")
	}
	m.release(context.Background(), m.scheduler.NextReady(m.store))
}

// recordStateTransition applies ws to the store and keeps
// agentmetrics.WorkloadStatesTotal in step with it: the gauge has no
// reliable way to resync from a Store scan (the store only keeps the
// latest state per workload, not history), so it is maintained here as a
// decrement of the workload's previous state and an increment of its new
// one, on every transition.
func (m *Manager) recordStateTransition(ws types.WorkloadState) {
	name := ws.InstanceName.WorkloadName()
	if before, ok := m.store.StateOf(name); ok {
		agentmetrics.WorkloadStatesTotal.WithLabelValues(before.State.String()).Dec()
	}
	m.store.Update(ws)
	if after, ok := m.store.StateOf(name); ok {
		agentmetrics.WorkloadStatesTotal.WithLabelValues(after.State.String()).Inc()
	}
}

// reportState is handed to every facade call as the StateReportFunc;
// reports cross into the manager's own goroutine via stateReports rather
// than mutating the store directly, since state checkers and supervisors
// run on their own goroutines.
func (m *Manager) reportState(ws types.WorkloadState) {
	m.stateReports <- ws
}

// reportQueued reports Pending/WaitingToFulfillDependencies for every
// operation in submitted that Enqueue did not return in ready, per
// spec.md §4.2's substate model: an operation the scheduler is holding on
// a dependency is not silently invisible to the server, it sits in
// Pending until the dependency it's waiting on is reported fulfilled.
func (m *Manager) reportQueued(submitted, ready []types.WorkloadOperation) {
	released := make(map[string]struct{}, len(ready))
	for _, op := range ready {
		released[scheduler.OperationInstanceName(op).String()] = struct{}{}
	}
	for _, op := range submitted {
		name := scheduler.OperationInstanceName(op)
		if _, ok := released[name.String()]; ok {
			continue
		}
		m.reportState(types.WorkloadState{
			InstanceName: name,
			ExecutionState: types.ExecutionState{
				State:    types.ExecPending,
				Substate: "WaitingToFulfillDependencies",
			},
		})
	}
}

func (m *Manager) release(ctx context.Context, ops []types.WorkloadOperation) {
	for _, op := range ops {
		m.execute(ctx, op)
	}
	agentmetrics.SchedulerPendingTotal.Set(float64(m.scheduler.PendingCount()))
}

func (m *Manager) execute(ctx context.Context, op types.WorkloadOperation) {
	kind := operationKindLabel(op.Kind)
	switch op.Kind {
	case types.OpCreate:
		m.createWorkload(ctx, op.Create.WorkloadSpec)
	case types.OpUpdate:
		m.updateWorkload(ctx, op.UpdateDeleteOnly.InstanceName, op.Update)
	case types.OpUpdateDeleteOnly:
		m.deleteInstance(ctx, op.UpdateDeleteOnly.InstanceName)
	case types.OpDelete:
		m.deleteInstance(ctx, op.Delete.InstanceName)
	}
	agentmetrics.WorkloadOperationsTotal.WithLabelValues(kind, "dispatched").Inc()
}

func operationKindLabel(kind types.WorkloadOperationKind) string {
	switch kind {
	case types.OpCreate:
		return "create"
	case types.OpUpdate:
		return "update"
	case types.OpUpdateDeleteOnly:
		return "update_delete_only"
	case types.OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

func (m *Manager) createWorkload(ctx context.Context, spec types.WorkloadSpec) {
	facade, ok := m.facades[spec.Runtime]
	if !ok {
		m.rejectUnknownRuntime(spec)
		return
	}

	ci := m.openControlInterface(spec)
	ctlPath := ""
	if ci != nil {
		ctlPath = ci.Location()
	}

	timer := agentmetrics.NewTimer()
	handle, err := facade.CreateWorkload(ctx, spec, ctlPath, m.reportState)
	timer.ObserveDuration(agentmetrics.WorkloadCreateDuration)
	if err != nil {
		err = agenterrors.Wrap(agenterrors.RuntimeCreate, "create workload", err)
		m.logger.Error().Err(err).Str("workload_name", spec.Name()).Msg("failed to create workload")
		m.reportState(types.WorkloadState{
			InstanceName:   spec.InstanceName,
			ExecutionState: types.ExecutionState{State: types.ExecNotScheduled, AdditionalInfo: err.Error()},
		})
		return
	}
	m.track(spec.InstanceName, spec.Runtime, handle, ci)
	if ci != nil {
		go m.runControlInterface(ctx, spec.Name(), ci)
	}
}

// updateWorkload replaces oldInstance with newSpec. If a supervisor is
// already running for this workload name (it was created or resumed under
// this agent process), the replacement is driven by sending it an Update
// command directly, matching the WorkloadSupervisor state machine of
// spec.md §4.6. Otherwise (the instance was never supervised by this
// process, e.g. discovered only via GetReusableWorkloads and never
// claimed) the facade's own delete-then-create ReplaceWorkload is used.
func (m *Manager) updateWorkload(ctx context.Context, oldInstance types.WorkloadInstanceName, newSpec types.WorkloadSpec) {
	name := newSpec.Name()
	facade, ok := m.facades[newSpec.Runtime]
	if !ok {
		m.rejectUnknownRuntime(newSpec)
		return
	}

	m.mu.Lock()
	tracked, hasTracking := m.tracking[name]
	m.mu.Unlock()
	if tracked.control != nil {
		tracked.control.Close()
	}

	ci := m.openControlInterface(newSpec)
	ctlPath := ""
	if ci != nil {
		ctlPath = ci.Location()
	}

	if hasTracking && tracked.handle != nil {
		tracked.handle.Send(runtime.WorkloadCommand{Kind: runtime.WorkloadUpdate, NewSpec: newSpec, NewCtlPath: ctlPath})
		m.track(newSpec.InstanceName, newSpec.Runtime, tracked.handle, ci)
		if ci != nil {
			go m.runControlInterface(ctx, name, ci)
		}
		return
	}

	handle, err := facade.ReplaceWorkload(ctx, oldInstance, newSpec, ctlPath, m.reportState)
	if err != nil {
		m.logger.Error().Err(err).Str("workload_name", name).Msg("failed to replace workload instance")
		return
	}
	m.track(newSpec.InstanceName, newSpec.Runtime, handle, ci)
	if ci != nil {
		go m.runControlInterface(ctx, name, ci)
	}
}

func (m *Manager) deleteInstance(ctx context.Context, instance types.WorkloadInstanceName) {
	name := instance.WorkloadName()

	m.mu.Lock()
	tracked, ok := m.tracking[name]
	delete(m.tracking, name)
	m.mu.Unlock()

	if ok && tracked.control != nil {
		tracked.control.Close()
	}

	if ok && tracked.handle != nil {
		tracked.handle.Send(runtime.WorkloadCommand{Kind: runtime.WorkloadDelete})
		return
	}

	runtimeName := ""
	if ok {
		runtimeName = tracked.runtimeName
	}
	facade, found := m.facades[runtimeName]
	if !found {
		m.logger.Warn().Str("workload_name", name).Msg("cannot delete untracked workload instance: no known runtime for it")
		return
	}
	if err := facade.DeleteWorkload(ctx, instance); err != nil {
		err = agenterrors.Wrap(agenterrors.RuntimeDelete, "delete workload instance", err)
		m.logger.Error().Err(err).Str("workload_name", name).Msg("failed to delete workload instance")
	}
}

func (m *Manager) rejectUnknownRuntime(spec types.WorkloadSpec) {
	err := agenterrors.New(agenterrors.InputRejected, fmt.Sprintf("unknown runtime %q", spec.Runtime))
	m.logger.Error().Str("workload_name", spec.Name()).Str("runtime", spec.Runtime).Msg("rejecting workload: unknown runtime")
	m.reportState(types.WorkloadState{
		InstanceName:   spec.InstanceName,
		ExecutionState: types.ExecutionState{State: types.ExecFailed, AdditionalInfo: err.Error()},
	})
}

func (m *Manager) resumeWorkload(ctx context.Context, facade runtime.Facade, runtimeName string, spec types.WorkloadSpec, workloadID string) {
	ci := m.openControlInterface(spec)
	handle, err := facade.ResumeWorkload(ctx, spec, workloadID, m.reportState)
	if err != nil {
		m.logger.Error().Err(err).Str("workload_name", spec.Name()).Msg("failed to resume reusable workload")
		return
	}
	m.track(spec.InstanceName, runtimeName, handle, ci)
	if ci != nil {
		go m.runControlInterface(ctx, spec.Name(), ci)
	}
}

func (m *Manager) track(instanceName types.WorkloadInstanceName, runtimeName string, handle runtime.WorkloadHandle, ci *controlinterface.ControlInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking[instanceName.WorkloadName()] = workloadTracking{instanceName: instanceName, runtimeName: runtimeName, handle: handle, control: ci}
}

// controlInterfacePath renders the run-folder layout of spec.md §6:
// <run_folder>/<agent_name>_io/<workload_name>.<id>/control_interface/.
func (m *Manager) controlInterfacePath(instanceName types.WorkloadInstanceName) string {
	return filepath.Join(m.runFolder, m.agentName+"_io", instanceName.PipesFolderName(), "control_interface")
}

func (m *Manager) openControlInterface(spec types.WorkloadSpec) *controlinterface.ControlInterface {
	path := m.controlInterfacePath(spec.InstanceName)
	ci, err := controlinterface.New(path, spec.ControlInterfaceAccess)
	if err != nil {
		m.logger.Error().Err(err).Str("workload_name", spec.Name()).Msg("failed to set up control interface; continuing without one")
		return nil
	}
	return ci
}

// runControlInterface owns one workload's output-pipe reader goroutine for
// its lifetime, forwarding every Request envelope it reads into the
// manager's single-consumer loop via m.requests.
func (m *Manager) runControlInterface(ctx context.Context, workloadName string, ci *controlinterface.ControlInterface) {
	err := ci.RunReader(ctx, func(e wire.Envelope) {
		m.handleWorkloadEnvelope(ctx, workloadName, ci, e)
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("workload_name", workloadName).Msg("control interface reader stopped")
	}
}

// handleWorkloadEnvelope is the reader task of spec.md §4.7: it decodes a
// Request envelope's payload, runs it past this workload's own Authorizer
// before anything reaches the server, tags the request id with
// "<agent_name>@<workload_name>@<uuid>" and forwards it only if authorized.
// A denied request never leaves this agent; the workload instead gets a
// Response envelope with Denied set and the message "Access denied". That
// response carries no request id.
func (m *Manager) handleWorkloadEnvelope(ctx context.Context, workloadName string, ci *controlinterface.ControlInterface, e wire.Envelope) {
	if e.Kind != wire.KindRequest {
		m.logger.Debug().Str("workload_name", workloadName).Int("kind", int(e.Kind)).Msg("ignoring unexpected envelope kind from workload control interface")
		return
	}

	id := fmt.Sprintf("%s@%s@%s", m.agentName, workloadName, uuid.New().String())

	if !m.authorizeRequest(workloadName, ci, e) {
		agentmetrics.ControlInterfaceDeniedTotal.WithLabelValues(workloadName).Inc()
		deniedErr := agenterrors.New(agenterrors.AuthorizationDenied, "Access denied")
		denial := wire.Envelope{Kind: wire.KindResponse, Payload: wire.EncodeResponsePayload(wire.ResponsePayload{Denied: true, Message: deniedErr.Message})}
		if err := ci.Send(denial); err != nil {
			m.logger.Warn().Err(err).Str("workload_name", workloadName).Msg("failed to deliver access-denied response to workload")
		}
		return
	}

	agentmetrics.ControlInterfaceRequestsTotal.WithLabelValues(workloadName).Inc()
	req := ControlRequest{ID: id, WorkloadName: workloadName, Envelope: e}
	select {
	case m.requests <- req:
	case <-ctx.Done():
	}
}

// authorizeRequest decodes e's RequestPayload and runs it past ci's
// Authorizer. A payload that fails to decode is rejected rather than
// forwarded blind: spec.md §4.8 gates every request on a recognized
// operation and path, and a malformed payload matches neither.
func (m *Manager) authorizeRequest(workloadName string, ci *controlinterface.ControlInterface, e wire.Envelope) bool {
	payload, err := wire.DecodeRequestPayload(e.Payload)
	if err != nil {
		err = agenterrors.Wrap(agenterrors.ProtocolDecode, "decode control interface request payload", err)
		m.logger.Warn().Err(err).Str("workload_name", workloadName).Msg("dropping control interface request with malformed payload")
		return false
	}

	op := types.AccessRead
	if payload.Operation == wire.OperationWrite {
		op = types.AccessWrite
	}
	return ci.AuthorizeState(payload.Path, op)
}

func (m *Manager) forwardRequest(req ControlRequest) {
	if err := m.stream.Send(ToServer{Kind: MsgRequestOut, Request: req}); err != nil {
		m.logger.Warn().Err(err).Str("workload_name", req.WorkloadName).Msg("failed to forward workload request to server")
	}
}

// handleResponse routes a server-originated Response back down to the
// workload that asked for it, matching spec.md §6's request-id convention
// <agent_name>@<workload_name>@<uuid>.
func (m *Manager) handleResponse(resp ControlResponse) {
	workloadName, ok := requestIDWorkload(resp.ID)
	if !ok {
		m.logger.Warn().Str("id", resp.ID).Msg("dropping response with unparseable request id")
		return
	}

	m.mu.Lock()
	tracked, ok := m.tracking[workloadName]
	m.mu.Unlock()
	if !ok || tracked.control == nil {
		m.logger.Warn().Str("workload_name", workloadName).Msg("dropping response for unknown or pipe-less workload")
		return
	}
	if err := tracked.control.Send(resp.Envelope); err != nil {
		m.logger.Warn().Err(err).Str("workload_name", workloadName).Msg("failed to deliver response to workload")
	}
}

// requestIDWorkload extracts the workload_name segment of a request id of
// the form "<agent_name>@<workload_name>@<uuid>".
func requestIDWorkload(id string) (string, bool) {
	parts := strings.SplitN(id, "@", 3)
	if len(parts) != 3 {
		return "", false
	}
	return parts[1], true
}

// handleLogsRequest builds a LogFetcher for every requested workload
// instance directly from its RuntimeConnector (spec.md §4.1), fans them
// into a LogFetchingRunner, and forwards every produced batch upward under
// the request's id until the fetchers run dry.
func (m *Manager) handleLogsRequest(ctx context.Context, req LogsRequest) {
	var fetchers []logfetch.Fetcher
	for _, instanceName := range req.WorkloadNames {
		fetcher := m.buildLogFetcher(ctx, instanceName, req.Options)
		if fetcher != nil {
			fetchers = append(fetchers, fetcher)
		}
	}

	if len(fetchers) == 0 {
		m.sendLogsStop(req.ID)
		return
	}

	runner, receivers := logfetch.StartCollectingLogs(fetchers)
	m.mu.Lock()
	m.logRunners[req.ID] = runner
	m.mu.Unlock()
	agentmetrics.LogStreamsActive.Add(float64(len(receivers)))

	for _, receiver := range receivers {
		receiver := receiver
		m.logPumps.Go(func() error {
			m.pumpLogReceiver(req.ID, receiver)
			return nil
		})
	}
}

func (m *Manager) buildLogFetcher(ctx context.Context, instanceName types.WorkloadInstanceName, opts logOptionsWire) logfetch.Fetcher {
	name := instanceName.WorkloadName()
	m.mu.Lock()
	tracked, ok := m.tracking[name]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn().Str("workload_name", name).Msg("logs requested for a workload this agent is not tracking")
		return nil
	}

	connector, ok := m.connectors[tracked.runtimeName]
	if !ok {
		m.logger.Warn().Str("workload_name", name).Str("runtime", tracked.runtimeName).Msg("logs requested for a runtime with no connector registered")
		return nil
	}

	workloadID, err := connector.GetWorkloadID(ctx, instanceName)
	if err != nil {
		m.logger.Warn().Err(err).Str("workload_name", name).Msg("failed to resolve workload id for log fetch")
		return nil
	}

	stream, err := connector.FetchLogs(ctx, workloadID, runtime.LogOptions{Follow: opts.Follow, SinceTime: opts.SinceTime, TailLines: opts.TailLines})
	if err != nil {
		m.logger.Warn().Err(err).Str("workload_name", name).Msg("failed to open log stream")
		return nil
	}
	return closingFetcher{LineCollector: logcollector.New(stream), closer: stream}
}

func (m *Manager) pumpLogReceiver(requestID string, receiver logfetch.Receiver) {
	defer agentmetrics.LogStreamsActive.Add(-1)
	for {
		lines, ok := receiver.ReadLines()
		if !ok {
			m.sendLogsStop(requestID)
			return
		}
		if err := m.stream.Send(ToServer{Kind: MsgLogEntries, LogEntries: LogEntries{RequestID: requestID, Lines: lines}}); err != nil {
			m.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to forward log lines")
		}
	}
}

func (m *Manager) sendLogsStop(requestID string) {
	if err := m.stream.Send(ToServer{Kind: MsgLogsStop, LogEntries: LogEntries{RequestID: requestID}}); err != nil {
		m.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to send log stream end marker")
	}
}

func (m *Manager) handleLogsCancelRequest(req LogsCancelRequest) {
	m.mu.Lock()
	runner, ok := m.logRunners[req.ID]
	delete(m.logRunners, req.ID)
	m.mu.Unlock()
	if !ok {
		return
	}
	runner.Stop()
}

// shutdown tears down every workload this agent currently supervises and
// every in-flight log subscription, per spec.md §4.1's Stop reaction.
func (m *Manager) shutdown(ctx context.Context) {
	m.mu.Lock()
	tracking := m.tracking
	m.tracking = make(map[string]workloadTracking)
	runners := m.logRunners
	m.logRunners = make(map[string]*logfetch.Runner)
	m.mu.Unlock()

	for name, tracked := range tracking {
		if tracked.control != nil {
			tracked.control.Close()
		}
		if tracked.handle != nil {
			tracked.handle.Send(runtime.WorkloadCommand{Kind: runtime.WorkloadDelete})
			continue
		}
		facade, ok := m.facades[tracked.runtimeName]
		if !ok {
			continue
		}
		if err := facade.DeleteWorkload(ctx, tracked.instanceName); err != nil {
			err = agenterrors.Wrap(agenterrors.RuntimeDelete, "delete workload during shutdown", err)
			m.logger.Error().Err(err).Str("workload_name", name).Msg("failed to delete workload during shutdown")
		}
	}
	for _, runner := range runners {
		runner.Stop()
	}
	m.logPumps.Wait()
	m.logger.Info().Msg("agent manager shut down")
}

// closingFetcher adapts a logcollector.LineCollector into a
// logfetch.Fetcher that also releases the underlying stream once it is
// exhausted, so a log subscription does not leak the subprocess/attached
// IO handle connector.FetchLogs opened for it.
type closingFetcher struct {
	*logcollector.LineCollector
	closer io.Closer
}

func (f closingFetcher) NextLines() ([]string, bool) {
	lines, ok := f.LineCollector.NextLines()
	if !ok {
		f.closer.Close()
	}
	return lines, ok
}
