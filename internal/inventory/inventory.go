// Package inventory contains the loader and strongly typed model for the cluster inventory.
package inventory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Role is the membership role a host is declared to have.
type Role string

const (
	// RoleManager marks the single host that administers the cluster.
	RoleManager Role = "manager"
	// RoleWorker marks a host that only runs workloads.
	RoleWorker Role = "worker"
)

const (
	defaultPort            = 22
	defaultUser            = "root"
	defaultNetwork         = "app_network"
	defaultRegistryPort    = 5000
	defaultRolloutAttempts = 20
	defaultRolloutInterval = "10s"
	defaultHealthAttempts  = 30
	defaultHealthInterval  = "5s"
	defaultRemoteDir       = "/tmp/swarmctl"
)

// Host describes one remote machine.
type Host struct {
	// Address is the IP or DNS name used both for SSH and for swarm advertisement.
	Address string `json:"address" yaml:"address" toml:"address"`
	// Port is the SSH port.
	Port int `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	// User is the SSH login identity.
	User string `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
	// KeyPath optionally points to a private key; the SSH agent is used when empty.
	KeyPath string `json:"key_path,omitempty" yaml:"key_path,omitempty" toml:"key_path,omitempty"`
	// Role is assigned by the loader from the host's position in the inventory.
	Role Role `json:"-" yaml:"-" toml:"-"`
}

// String returns the address, which identifies the host in logs and reports.
func (h Host) String() string { return h.Address }

// Target returns the user@address form used by ssh.
func (h Host) Target() string { return h.User + "@" + h.Address }

// DialAddress returns host:port for the SSH connection.
func (h Host) DialAddress() string {
	port := h.Port
	if port == 0 {
		port = defaultPort
	}
	return h.Address + ":" + strconv.Itoa(port)
}

// Registry describes the private image registry run on the manager.
type Registry struct {
	// Endpoint is host:port of the registry; defaults to <manager>:5000.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	// User is the basic-auth login.
	User string `json:"user" yaml:"user" toml:"user"`
	// Password is the basic-auth password; ${VAR} references are expanded.
	Password string `json:"password" yaml:"password" toml:"password"`
}

// Stack describes the application stack deployed onto the cluster.
type Stack struct {
	// Name is the stack name passed to docker stack deploy.
	Name string `json:"name" yaml:"name" toml:"name"`
	// Descriptor is the manifest path, relative to the inventory file.
	Descriptor string `json:"descriptor" yaml:"descriptor" toml:"descriptor"`
	// Service is the service watched for convergence; defaults to <name>_app.
	Service string `json:"service,omitempty" yaml:"service,omitempty" toml:"service,omitempty"`
	// Replicas is the desired running task count for Service.
	Replicas int `json:"replicas,omitempty" yaml:"replicas,omitempty" toml:"replicas,omitempty"`
	// Params are substituted into ${NAME} placeholders of the descriptor.
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
	// RemoteDir is where descriptors are written on the manager.
	RemoteDir string `json:"remote_dir,omitempty" yaml:"remote_dir,omitempty" toml:"remote_dir,omitempty"`
	// Rollout bounds the convergence polling loop.
	Rollout Polling `json:"rollout,omitempty" yaml:"rollout,omitempty" toml:"rollout,omitempty"`
}

// Polling bounds a fixed-interval polling loop.
type Polling struct {
	// Attempts is the maximum number of polls.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty" toml:"attempts,omitempty"`
	// Interval is a duration string such as "10s".
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty" toml:"interval,omitempty"`
}

// IntervalDuration parses Interval; callers rely on Validate having accepted it.
func (p Polling) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(p.Interval)
	return d
}

// Migration describes the one-shot command run after the stack is applied.
type Migration struct {
	// Dependency is the service whose container must report healthy first (e.g. "<stack>_db").
	Dependency string `json:"dependency,omitempty" yaml:"dependency,omitempty" toml:"dependency,omitempty"`
	// Image is the image that carries the migration tooling; ${VAR} and stack params are expanded.
	Image string `json:"image" yaml:"image" toml:"image"`
	// Command is the command run inside the disposable container.
	Command string `json:"command" yaml:"command" toml:"command"`
	// Env is passed to the container through stdin, never on the command line.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	// Health bounds the dependency health polling loop.
	Health Polling `json:"health,omitempty" yaml:"health,omitempty" toml:"health,omitempty"`
}

// ImageBuild describes an image built locally and pushed to the registry before deploy.
type ImageBuild struct {
	// Name is the repository name under the registry endpoint.
	Name string `json:"name" yaml:"name" toml:"name"`
	// Context is the build context, relative to the inventory file.
	Context string `json:"context" yaml:"context" toml:"context"`
	// Dockerfile is an optional Dockerfile path.
	Dockerfile string `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty" toml:"dockerfile,omitempty"`
}

// Firewall configures the per-host ruleset.
type Firewall struct {
	// Disabled skips firewall management entirely.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
	// PublicPorts are opened to everyone, e.g. "80/tcp".
	PublicPorts []string `json:"public_ports,omitempty" yaml:"public_ports,omitempty" toml:"public_ports,omitempty"`
}

// Inventory is the full desired state of one cluster. It is loaded once per run
// and passed explicitly to every component; nothing mutates it after Load.
type Inventory struct {
	Manager   Host              `json:"manager" yaml:"manager" toml:"manager"`
	Workers   []Host            `json:"workers,omitempty" yaml:"workers,omitempty" toml:"workers,omitempty"`
	Registry  Registry          `json:"registry" yaml:"registry" toml:"registry"`
	Stack     Stack             `json:"stack" yaml:"stack" toml:"stack"`
	Network   string            `json:"network,omitempty" yaml:"network,omitempty" toml:"network,omitempty"`
	Secrets   map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty" toml:"secrets,omitempty"`
	Firewall  Firewall          `json:"firewall,omitempty" yaml:"firewall,omitempty" toml:"firewall,omitempty"`
	Migration *Migration        `json:"migration,omitempty" yaml:"migration,omitempty" toml:"migration,omitempty"`
	Images    []ImageBuild      `json:"images,omitempty" yaml:"images,omitempty" toml:"images,omitempty"`
	EnvFiles  []string          `json:"env_files,omitempty" yaml:"env_files,omitempty" toml:"env_files,omitempty"`

	// BaseDir is the directory of the inventory file; relative paths resolve against it.
	BaseDir string `json:"-" yaml:"-" toml:"-"`
}

// Hosts returns the manager followed by the workers.
func (inv *Inventory) Hosts() []Host {
	out := make([]Host, 0, len(inv.Workers)+1)
	out = append(out, inv.Manager)
	out = append(out, inv.Workers...)
	return out
}

// Addresses returns the addresses of every declared cluster member.
func (inv *Inventory) Addresses() []string {
	hosts := inv.Hosts()
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.Address)
	}
	return out
}

// SecretNames returns the secret names in a stable order.
func (inv *Inventory) SecretNames() []string {
	names := make([]string, 0, len(inv.Secrets))
	for name := range inv.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyDefaults fills optional fields and assigns declared roles.
func (inv *Inventory) applyDefaults() {
	inv.Manager = hostDefaults(inv.Manager, RoleManager)
	for i := range inv.Workers {
		inv.Workers[i] = hostDefaults(inv.Workers[i], RoleWorker)
	}

	if strings.TrimSpace(inv.Network) == "" {
		inv.Network = defaultNetwork
	}
	if inv.Registry.Endpoint == "" && inv.Manager.Address != "" {
		inv.Registry.Endpoint = fmt.Sprintf("%s:%d", inv.Manager.Address, defaultRegistryPort)
	}
	if inv.Stack.Service == "" && inv.Stack.Name != "" {
		inv.Stack.Service = inv.Stack.Name + "_app"
	}
	if inv.Stack.Replicas == 0 {
		inv.Stack.Replicas = 1
	}
	if inv.Stack.RemoteDir == "" {
		inv.Stack.RemoteDir = defaultRemoteDir
	}
	inv.Stack.Rollout = pollingDefaults(inv.Stack.Rollout, defaultRolloutAttempts, defaultRolloutInterval)
	if inv.Migration != nil {
		inv.Migration.Health = pollingDefaults(inv.Migration.Health, defaultHealthAttempts, defaultHealthInterval)
	}
	if len(inv.Firewall.PublicPorts) == 0 {
		inv.Firewall.PublicPorts = []string{"80/tcp", "443/tcp"}
	}
}

func hostDefaults(h Host, role Role) Host {
	h.Address = strings.TrimSpace(h.Address)
	if h.Port == 0 {
		h.Port = defaultPort
	}
	if h.User == "" {
		h.User = defaultUser
	}
	h.Role = role
	return h
}

func pollingDefaults(p Polling, attempts int, interval string) Polling {
	if p.Attempts == 0 {
		p.Attempts = attempts
	}
	if strings.TrimSpace(p.Interval) == "" {
		p.Interval = interval
	}
	return p
}
