// Package orchestrator sequences one run: it loads the inventory, probes the
// hosts, passes the connectivity gate and drives formation, provisioning,
// image builds and deployment, or teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/codex-k8s/swarmctl/internal/deploy"
	"github.com/codex-k8s/swarmctl/internal/env"
	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/images"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/poll"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/provision"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
	"github.com/codex-k8s/swarmctl/internal/swarm"
	"github.com/codex-k8s/swarmctl/internal/teardown"
)

// Orchestrator holds the collaborators shared by every command.
type Orchestrator struct {
	Exec      remote.Executor
	Runner    images.Runner
	Confirmer probe.Confirmer
	Logger    *slog.Logger

	// ProbeTimeout bounds each connectivity probe; probe.DefaultTimeout when zero.
	ProbeTimeout time.Duration
	// SkipBuild disables local image builds.
	SkipBuild bool
	// Params override stack parameters after everything else.
	Params env.Vars
	// Settle is the teardown delay between stack removal and secret removal.
	Settle time.Duration
	// Now stamps image tags; time.Now when nil.
	Now func() time.Time
	// RunID generates run identifiers; NewRunID when nil.
	RunID func() string
}

// Outcome is what a run produced. Report is set as soon as the inventory loaded.
type Outcome struct {
	Report    *report.Report
	Inventory *inventory.Inventory
	Rollout   *deploy.Rollout
	Images    []images.Built
}

// Converged reports whether the watched service reached its replica count.
func (o *Outcome) Converged() bool {
	return o != nil && o.Rollout != nil && o.Rollout.Converged()
}

// NewRunID returns a short random run identifier.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// session is the state shared by the phases of one run.
type session struct {
	inv      *inventory.Inventory
	manifest []byte
	part     probe.Partition
	logger   *slog.Logger
	out      *Outcome
}

// start loads the inventory (and the manifest when needed) before any remote
// call, then probes every host and applies the gate.
func (o *Orchestrator) start(ctx context.Context, command, path string, needManifest, requireManager bool) (*session, error) {
	inv, err := inventory.Load(path)
	if err != nil {
		return nil, fault.Fatal(err)
	}

	var manifest []byte
	if needManifest {
		manifest, err = os.ReadFile(inv.DescriptorPath())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fault.Fatal(fault.Newf(fault.KindConfig, "", "stack descriptor %q not found", inv.DescriptorPath()))
			}
			return nil, fault.Fatal(fault.New(fault.KindConfig, "", fmt.Errorf("read stack descriptor: %w", err)))
		}
	}

	runID := o.newRunID()
	logger := o.logger().With("run", runID)
	logger.Info("run started", "command", command, "inventory", path, "hosts", len(inv.Hosts()))

	s := &session{
		inv:      inv,
		manifest: manifest,
		logger:   logger,
		out:      &Outcome{Report: report.New(runID, command), Inventory: inv},
	}

	s.part = (&probe.Prober{Exec: o.Exec, Timeout: o.ProbeTimeout, Logger: logger}).Probe(ctx, inv)
	s.out.Report.Add(s.part.Results()...)

	if err := probe.Gate(ctx, s.part, o.confirmer(), requireManager); err != nil {
		return s, err
	}
	if !s.part.Complete() {
		logger.Warn("continuing with a partial inventory", "unreachable", len(s.part.Unreachable))
	}
	return s, nil
}

func (s *session) finish(err error) (*Outcome, error) {
	if s == nil {
		return nil, err
	}
	s.out.Report.Finish()
	counts := s.out.Report.Summary()
	if err != nil {
		s.logger.Error("run aborted", "kind", fault.KindOf(err), "error", err, "summary", counts)
	} else {
		s.logger.Info("run finished", "summary", counts, "elapsed", s.out.Report.Elapsed.Round(time.Millisecond))
	}
	return s.out, err
}

// Up brings the cluster to the state the inventory declares and deploys the stack.
func (o *Orchestrator) Up(ctx context.Context, path string) (*Outcome, error) {
	s, err := o.start(ctx, "up", path, true, true)
	if err != nil {
		return s.finish(err)
	}

	ctl := &swarm.Controller{Exec: o.Exec, Logger: s.logger}
	s.out.Report.Add(ctl.Form(ctx, s.inv, s.part)...)

	prov := &provision.Provisioner{Exec: o.Exec, Logger: s.logger}
	results, err := prov.Provision(ctx, s.inv, s.part)
	s.out.Report.Add(results...)
	if err != nil {
		return s.finish(err)
	}

	return s.finish(o.release(ctx, s))
}

// Deploy builds images and redeploys the stack on an already provisioned cluster.
func (o *Orchestrator) Deploy(ctx context.Context, path string) (*Outcome, error) {
	s, err := o.start(ctx, "deploy", path, true, true)
	if err != nil {
		return s.finish(err)
	}
	return s.finish(o.release(ctx, s))
}

// release runs the build, stack apply, rollout, dependency health and migration phases.
func (o *Orchestrator) release(ctx context.Context, s *session) error {
	inv := s.inv
	rep := s.out.Report

	built, err := o.build(ctx, s)
	if err != nil {
		return err
	}

	params := StackParams(inv, built, o.Params)
	d := &deploy.Deployer{Exec: o.Exec, Logger: s.logger}

	applied := d.Apply(ctx, inv, s.manifest, params)
	rep.Add(applied)
	if applied.Status == report.StatusFailed {
		s.logger.Warn("stack deploy failed, skipping rollout checks", "error", applied.Err)
		rep.Add(report.Skipped(deploy.StepConverge, inv.Manager.Address, deploy.ReasonNotApplied))
		if inv.Migration != nil {
			rep.Add(report.Skipped(deploy.StepMigrate, inv.Manager.Address, deploy.ReasonNotApplied))
		}
		return nil
	}

	rollout := inv.Stack.Rollout
	res, status := d.WaitConverged(ctx, inv, inv.Stack.Service, inv.Stack.Replicas,
		poll.Spec{Attempts: rollout.Attempts, Interval: rollout.IntervalDuration()})
	rep.Add(res)
	s.out.Rollout = &status

	mig := inv.Migration
	if mig == nil {
		return nil
	}
	if mig.Dependency != "" {
		health := mig.Health
		rep.Add(d.WaitHealthy(ctx, inv, mig.Dependency,
			poll.Spec{Attempts: health.Attempts, Interval: health.IntervalDuration()}))
	}
	res, err = d.Migrate(ctx, inv, params)
	rep.Add(res)
	return err
}

func (o *Orchestrator) build(ctx context.Context, s *session, names ...string) ([]images.Built, error) {
	if o.SkipBuild || len(s.inv.Images) == 0 || o.Runner == nil {
		return nil, nil
	}
	b := &images.Builder{Runner: o.Runner, Logger: s.logger, Now: o.Now}
	built, results, err := b.Build(ctx, s.inv, names...)
	s.out.Report.Add(results...)
	s.out.Images = built
	return built, err
}

// StackParams merges the defaults every stack may reference, the inventory
// parameters, the references of freshly built images and the operator
// overrides, later ones winning.
func StackParams(inv *inventory.Inventory, built []images.Built, overrides env.Vars) map[string]string {
	params := map[string]string{
		"REGISTRY_URL": inv.Registry.Endpoint,
		"STACK_NAME":   inv.Stack.Name,
		"NETWORK":      inv.Network,
	}
	for k, v := range inv.Stack.Params {
		params[k] = v
	}
	for k, v := range images.Params(built) {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}
	return params
}

// Update builds one image and rolls service to it without redeploying the stack.
func (o *Orchestrator) Update(ctx context.Context, path, imageName, service string) (*Outcome, error) {
	s, err := o.start(ctx, "update", path, false, true)
	if err != nil {
		return s.finish(err)
	}
	if service == "" {
		service = s.inv.Stack.Service
	}

	built, err := o.build(ctx, s, imageName)
	if err != nil {
		return s.finish(err)
	}
	if len(built) == 0 {
		return s.finish(fault.Fatal(fault.Newf(fault.KindConfig, "", "no image was built for %q", imageName)))
	}

	d := &deploy.Deployer{Exec: o.Exec, Logger: s.logger}
	res := d.UpdateImage(ctx, s.inv, service, built[0].Ref)
	s.out.Report.Add(res)
	if res.Status == report.StatusFailed {
		return s.finish(nil)
	}

	rollout := s.inv.Stack.Rollout
	res, status := d.WaitConverged(ctx, s.inv, service, s.inv.Stack.Replicas,
		poll.Spec{Attempts: rollout.Attempts, Interval: rollout.IntervalDuration()})
	s.out.Report.Add(res)
	s.out.Rollout = &status
	return s.finish(nil)
}

// Down tears the cluster down; full also dissolves the swarm.
func (o *Orchestrator) Down(ctx context.Context, path string, full bool) (*Outcome, error) {
	s, err := o.start(ctx, "down", path, false, false)
	if err != nil {
		return s.finish(err)
	}
	ctl := &teardown.Controller{Exec: o.Exec, Logger: s.logger}
	s.out.Report.Add(ctl.Down(ctx, s.inv, s.part, teardown.Options{Full: full, Settle: o.Settle})...)
	return s.finish(nil)
}

// Probe only checks connectivity; it never asks for confirmation.
func (o *Orchestrator) Probe(ctx context.Context, path string) (*Outcome, probe.Partition, error) {
	o2 := *o
	o2.Confirmer = probe.Answer(true)
	s, err := o2.start(ctx, "probe", path, false, false)
	if s == nil {
		return nil, probe.Partition{}, err
	}
	out, err := s.finish(err)
	return out, s.part, err
}

// Status reports the discovered membership of every reachable host and the
// node list as seen by the manager.
type Status struct {
	Hosts []swarm.HostStatus
	Nodes []swarm.Node
	// NodesErr is set when the manager could not list nodes.
	NodesErr error
}

// Status queries membership without changing anything.
func (o *Orchestrator) Status(ctx context.Context, path string) (*Outcome, *Status, error) {
	o2 := *o
	o2.Confirmer = probe.Answer(true)
	s, err := o2.start(ctx, "status", path, false, false)
	if err != nil {
		out, err := s.finish(err)
		return out, nil, err
	}

	st := &Status{}
	for _, hs := range swarm.Inspect(ctx, o.Exec, s.part.Reachable) {
		st.Hosts = append(st.Hosts, hs)
		switch {
		case hs.Err != nil:
			s.out.Report.Add(report.Failed("status", hs.Host.Address, hs.Err))
		case hs.Drifted():
			s.out.Report.Add(report.Failed("status", hs.Host.Address, swarm.DriftError(hs.Host, hs.Discovered)))
		default:
			s.out.Report.Add(report.Result{Step: "status", Host: hs.Host.Address, Status: report.StatusOK, Reason: string(hs.Discovered)})
		}
	}
	if s.part.ManagerReachable() {
		st.Nodes, st.NodesErr = swarm.Nodes(ctx, o.Exec, s.inv.Manager)
	}
	out, err := s.finish(nil)
	return out, st, err
}

// RotateSecret creates the next version of a declared secret.
func (o *Orchestrator) RotateSecret(ctx context.Context, path, name string) (*Outcome, string, error) {
	s, err := o.start(ctx, "secret rotate", path, false, true)
	if err != nil {
		out, err := s.finish(err)
		return out, "", err
	}
	if !s.part.ManagerReachable() {
		out, err := s.finish(fault.Fatal(fault.Newf(fault.KindConnectivity, s.inv.Manager.Address, "manager is unreachable")))
		return out, "", err
	}

	prov := &provision.Provisioner{Exec: o.Exec, Logger: s.logger}
	next, err := prov.Rotate(ctx, s.inv, name)
	if err != nil {
		s.out.Report.Add(report.Failed(provision.StepSecret+"."+name, s.inv.Manager.Address, err))
		out, err := s.finish(fault.Fatal(err))
		return out, "", err
	}
	s.out.Report.Add(report.Result{Step: provision.StepSecret + "." + name, Host: s.inv.Manager.Address, Status: report.StatusOK, Reason: "created " + next})
	out, err := s.finish(nil)
	return out, next, err
}

func (o *Orchestrator) confirmer() probe.Confirmer {
	if o.Confirmer == nil {
		return probe.Answer(false)
	}
	return o.Confirmer
}

func (o *Orchestrator) newRunID() string {
	if o.RunID != nil {
		return o.RunID()
	}
	return NewRunID()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}
