package remotetest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
)

// Membership values reported by the simulated docker info.
const (
	StateInactive = "inactive"
	StateManager  = "manager"
	StateWorker   = "worker"
)

// DockerConfigPath is where simulated logins are recorded on each node.
const DockerConfigPath = "$HOME/.docker/config.json"

// Node is one simulated host.
type Node struct {
	Address     string
	Hostname    string
	Unreachable bool
	State       string
	// InfoOverride replaces the docker info output when set.
	InfoOverride string
	HasUFW       bool

	Files          map[string]string
	Labels         map[string]string
	Logins         []string
	DockerRestarts int
	Prunes         int

	UFWEnabled bool
	UFWRules   []string
	// UFWLog lists ufw operations in order, e.g. "reset", "allow 22/tcp", "enable".
	UFWLog []string
}

// Service is a simulated swarm service.
type Service struct {
	Name     string
	Image    string
	Replicas int
	Stack    string
	Updates  int
}

// MigrationRun records a disposable container started for a migration.
type MigrationRun struct {
	Args  []string
	Stdin string
}

// Cluster simulates docker, ufw and a few coreutils across a set of hosts.
// It implements remote.Executor.
type Cluster struct {
	mu sync.Mutex

	Nodes    map[string]*Node
	Networks map[string]bool
	Services map[string]*Service
	Secrets  map[string]string
	Configs  map[string]bool
	Stacks   map[string][]string

	JoinToken        string
	TokenFetches     int
	RegistryPassword string

	// Running returns the running task count for service at the given poll
	// (starting at 1). The default reports the full replica count.
	Running func(service string, poll, replicas int) int
	// Healthy reports whether a container of service is healthy at the given poll.
	// The default reports healthy.
	Healthy func(service string, poll int) bool
	// MigrationExit is the exit status of migration containers.
	MigrationExit int

	// StackEnv holds the environment each stack was last deployed with.
	StackEnv map[string]map[string]string

	Migrations    []MigrationRun
	StackDeploys  int
	ServicePolls  map[string]int
	HealthPolls   map[string]int
	managerAddr   string
	calls         []Call
	mutatingCalls map[string]int
	env           map[string]string
}

// NewCluster creates a simulator with one inactive node per address.
// Hostnames default to node-<n> in declaration order.
func NewCluster(addresses ...string) *Cluster {
	c := &Cluster{
		Nodes:         make(map[string]*Node),
		Networks:      map[string]bool{"bridge": true, "host": true, "none": true},
		Services:      make(map[string]*Service),
		Secrets:       make(map[string]string),
		Configs:       make(map[string]bool),
		Stacks:        make(map[string][]string),
		StackEnv:      make(map[string]map[string]string),
		JoinToken:     "SWMTKN-1-simulated",
		ServicePolls:  make(map[string]int),
		HealthPolls:   make(map[string]int),
		mutatingCalls: make(map[string]int),
	}
	for i, addr := range addresses {
		c.Nodes[addr] = &Node{
			Address:  addr,
			Hostname: fmt.Sprintf("node-%d", i+1),
			State:    StateInactive,
			HasUFW:   true,
			Files:    make(map[string]string),
			Labels:   make(map[string]string),
		}
	}
	return c
}

// Bootstrap puts manager and workers into an existing swarm without recording calls.
func (c *Cluster) Bootstrap(manager string, workers ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Nodes[manager].State = StateManager
	c.managerAddr = manager
	for _, w := range workers {
		c.Nodes[w].State = StateWorker
	}
}

// Node returns the simulated host for address.
func (c *Cluster) Node(address string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nodes[address]
}

// Calls returns every call received, including those to unreachable hosts.
func (c *Cluster) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsTo returns the calls made against address.
func (c *Cluster) CallsTo(address string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Host == address {
			out = append(out, call)
		}
	}
	return out
}

// CountCalls returns how many calls contained every fragment.
func (c *Cluster) CountCalls(fragments ...string) int {
	n := 0
	for _, call := range c.Calls() {
		if ContainsAll(call.Script, fragments...) {
			n++
		}
	}
	return n
}

// Mutations returns the number of state-changing operations executed per kind,
// e.g. "network create" or "secret create".
func (c *Cluster) Mutations() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.mutatingCalls))
	for k, v := range c.mutatingCalls {
		out[k] = v
	}
	return out
}

// ResetMutations clears the mutation counters, typically between two runs.
func (c *Cluster) ResetMutations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutatingCalls = make(map[string]int)
}

// Run implements remote.Executor.
func (c *Cluster) Run(ctx context.Context, host inventory.Host, cmd remote.Command) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, Call{Host: host.Address, Script: cmd.Script, Stdin: cmd.Stdin})
	c.env = nil
	if err := ctx.Err(); err != nil {
		return "", &remote.Error{Kind: fault.KindTimeout, Host: host.Address, Command: cmd.Script, Err: err}
	}

	node, ok := c.Nodes[host.Address]
	if !ok || node.Unreachable {
		return "", Unreachable(host.Address)
	}

	words, err := shellquote.Split(cmd.Script)
	if err != nil {
		return "", Failed(host.Address, cmd.Script, 2, "syntax error: "+err.Error())
	}

	out, code, stderr := c.eval(node, words, string(cmd.Stdin))
	out = strings.TrimSpace(out)
	if code != 0 {
		return out, Failed(host.Address, cmd.Script, code, stderr)
	}
	return out, nil
}

// eval runs a list of simple commands joined by && and ||.
func (c *Cluster) eval(node *Node, words []string, stdin string) (string, int, string) {
	var (
		out    strings.Builder
		stderr string
		code   int
		op     string
		cur    []string
	)

	flush := func() {
		run := op == "" || (op == "&&" && code == 0) || (op == "||" && code != 0)
		if run && len(cur) > 0 {
			var o string
			o, code, stderr = c.simple(node, cur, stdin)
			out.WriteString(o)
		}
		cur = nil
	}

	for _, w := range words {
		if w == "&&" || w == "||" {
			flush()
			op = w
			continue
		}
		cur = append(cur, w)
	}
	flush()
	return out.String(), code, stderr
}

// simple runs one command with its redirections.
func (c *Cluster) simple(node *Node, argv []string, stdin string) (string, int, string) {
	var (
		args       []string
		redirectTo string
		discard    bool
	)
	for i := 0; i < len(argv); i++ {
		w := argv[i]
		switch {
		case w == ">" && i+1 < len(argv):
			redirectTo = argv[i+1]
			i++
		case w == ">/dev/null":
			discard = true
		case strings.HasPrefix(w, "2>"):
		default:
			args = append(args, w)
		}
	}
	for len(args) > 0 && (args[0] == "sudo" || args[0] == "-n") {
		args = args[1:]
	}
	if len(args) == 0 {
		return "", 0, ""
	}

	out, code, stderr := c.dispatch(node, args, stdin)
	if code == 0 && redirectTo != "" {
		node.Files[redirectTo] = out
		out = ""
	}
	if discard {
		out = ""
	}
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, code, stderr
}

func (c *Cluster) dispatch(node *Node, args []string, stdin string) (string, int, string) {
	switch args[0] {
	case "true", "mkdir", "sleep":
		return "", 0, ""
	case "false":
		return "", 1, ""
	case "set":
		return "", 0, ""
	case ".":
		if len(args) != 2 || args[1] != "/dev/stdin" {
			return "", 1, ".: unsupported source " + strings.Join(args[1:], " ")
		}
		if c.env == nil {
			c.env = make(map[string]string)
		}
		for _, line := range strings.Split(stdin, "\n") {
			words, err := shellquote.Split(line)
			if err != nil {
				return "", 2, ".: " + err.Error()
			}
			for _, w := range words {
				if k, v, ok := strings.Cut(w, "="); ok {
					c.env[k] = v
				}
			}
		}
		return "", 0, ""
	case "echo":
		return strings.Join(args[1:], " "), 0, ""
	case "hostname":
		return node.Hostname, 0, ""
	case "test":
		if len(args) == 3 && args[1] == "-f" {
			if _, ok := node.Files[args[2]]; ok {
				return "", 0, ""
			}
		}
		return "", 1, ""
	case "cat":
		if len(args) == 1 {
			return stdin, 0, ""
		}
		content, ok := node.Files[args[1]]
		if !ok {
			return "", 1, "cat: " + args[1] + ": No such file or directory"
		}
		return content, 0, ""
	case "tee":
		node.Files[args[len(args)-1]] = stdin
		c.mutatingCalls["write "+args[len(args)-1]]++
		return stdin, 0, ""
	case "rm":
		delete(node.Files, args[len(args)-1])
		return "", 0, ""
	case "grep":
		return grep(node, args[1:])
	case "command":
		if len(args) == 3 && args[2] == "ufw" && node.HasUFW {
			return "/usr/sbin/ufw", 0, ""
		}
		return "", 1, ""
	case "systemctl":
		if len(args) == 3 && args[1] == "restart" && args[2] == "docker" {
			node.DockerRestarts++
			c.mutatingCalls["docker restart"]++
			return "", 0, ""
		}
		return "", 1, "unsupported systemctl call"
	case "ufw":
		return c.ufw(node, args[1:])
	case "docker":
		return c.docker(node, args[1:], stdin)
	}
	return "", 127, args[0] + ": command not found"
}

func grep(node *Node, args []string) (string, int, string) {
	var rest []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) != 2 {
		return "", 2, "grep: usage"
	}
	content, ok := node.Files[rest[1]]
	if !ok {
		return "", 2, "grep: " + rest[1] + ": No such file or directory"
	}
	if strings.Contains(content, rest[0]) {
		return "", 0, ""
	}
	return "", 1, ""
}

func (c *Cluster) ufw(node *Node, args []string) (string, int, string) {
	if !node.HasUFW {
		return "", 127, "ufw: command not found"
	}
	if len(args) > 0 && args[0] == "--force" {
		args = args[1:]
	}
	if len(args) == 0 {
		return "", 1, "ufw: missing command"
	}
	switch args[0] {
	case "reset":
		node.UFWRules = nil
		node.UFWEnabled = false
		node.UFWLog = append(node.UFWLog, "reset")
		c.mutatingCalls["ufw reset"]++
	case "default":
		node.UFWLog = append(node.UFWLog, strings.Join(args, " "))
	case "allow":
		rule := strings.Join(args[1:], " ")
		node.UFWRules = append(node.UFWRules, rule)
		node.UFWLog = append(node.UFWLog, "allow "+rule)
	case "enable":
		node.UFWEnabled = true
		node.UFWLog = append(node.UFWLog, "enable")
	case "status":
		if node.UFWEnabled {
			return "Status: active", 0, ""
		}
		return "Status: inactive", 0, ""
	default:
		return "", 1, "ufw: unsupported " + args[0]
	}
	return "", 0, ""
}

func (c *Cluster) docker(node *Node, args []string, stdin string) (string, int, string) {
	if len(args) == 0 {
		return "", 1, "docker: missing command"
	}
	switch args[0] {
	case "info":
		return c.info(node), 0, ""
	case "swarm":
		return c.swarm(node, args[1:], stdin)
	case "login":
		return c.login(node, args[1:], stdin)
	case "run":
		return c.run(args[1:], stdin)
	case "ps":
		return c.ps(args[1:])
	case "system":
		node.Prunes++
		c.mutatingCalls["system prune"]++
		return "Total reclaimed space: 0B", 0, ""
	}

	if node.State != StateManager {
		return "", 1, "Error response from daemon: This node is not a swarm manager."
	}
	switch args[0] {
	case "network":
		return c.network(args[1:])
	case "service":
		return c.service(args[1:])
	case "secret":
		return c.secret(args[1:], stdin)
	case "config":
		return c.config(args[1:])
	case "stack":
		return c.stack(node, args[1:])
	case "node":
		return c.node(args[1:])
	}
	return "", 1, "docker: unsupported " + args[0]
}

func (c *Cluster) info(node *Node) string {
	if node.InfoOverride != "" {
		return node.InfoOverride
	}
	switch node.State {
	case StateManager:
		return "active|true"
	case StateWorker:
		return "active|false"
	default:
		return "inactive|false"
	}
}

func (c *Cluster) swarm(node *Node, args []string, stdin string) (string, int, string) {
	if len(args) == 0 {
		return "", 1, "docker swarm: missing command"
	}
	switch args[0] {
	case "init":
		if node.State != StateInactive {
			return "", 1, "Error response from daemon: This node is already part of a swarm."
		}
		node.State = StateManager
		c.managerAddr = node.Address
		c.mutatingCalls["swarm init"]++
		return "Swarm initialized: current node is now a manager.", 0, ""
	case "join-token":
		if node.State != StateManager {
			return "", 1, "Error response from daemon: This node is not a swarm manager."
		}
		c.TokenFetches++
		return c.JoinToken, 0, ""
	case "join":
		if node.State != StateInactive {
			return "", 1, "Error response from daemon: This node is already part of a swarm."
		}
		token := flagValue(args, "--token")
		if token == "$(cat)" {
			token = strings.TrimSpace(stdin)
		}
		target := args[len(args)-1]
		if token != c.JoinToken || c.managerAddr == "" || target != c.managerAddr+":2377" {
			return "", 1, "Error response from daemon: invalid join token or manager address"
		}
		node.State = StateWorker
		c.mutatingCalls["swarm join"]++
		return "This node joined a swarm as a worker.", 0, ""
	case "leave":
		if node.State == StateInactive {
			return "", 1, "Error response from daemon: This node is not part of a swarm."
		}
		if node.State == StateManager && !hasFlag(args, "--force") {
			return "", 1, "Error response from daemon: You are attempting to leave the swarm on a node that is participating as a manager. Use --force."
		}
		if node.State == StateManager {
			c.managerAddr = ""
		}
		node.State = StateInactive
		c.mutatingCalls["swarm leave"]++
		return "Node left the swarm.", 0, ""
	}
	return "", 1, "docker swarm: unsupported " + args[0]
}

func (c *Cluster) login(node *Node, args []string, stdin string) (string, int, string) {
	if len(args) == 0 {
		return "", 1, "docker login: missing endpoint"
	}
	endpoint := args[0]
	if !hasFlag(args, "--password-stdin") {
		return "", 1, "password must be passed on stdin"
	}
	if c.RegistryPassword != "" && strings.TrimSpace(stdin) != c.RegistryPassword {
		return "", 1, "Error response from daemon: login attempt failed with status: 401 Unauthorized"
	}
	node.Logins = append(node.Logins, endpoint)
	node.Files[DockerConfigPath] += `{"auths":{"` + endpoint + `":{}}}` + "\n"
	c.mutatingCalls["login"]++
	return "Login Succeeded", 0, ""
}

func (c *Cluster) run(args []string, stdin string) (string, int, string) {
	if flagValue(args, "--entrypoint") == "htpasswd" {
		user := args[len(args)-1]
		return user + ":$2y$05$simulatedhash", 0, ""
	}
	c.Migrations = append(c.Migrations, MigrationRun{Args: append([]string(nil), args...), Stdin: stdin})
	c.mutatingCalls["migration"]++
	if c.MigrationExit != 0 {
		return "", c.MigrationExit, "migration failed"
	}
	return "migrations applied", 0, ""
}

func (c *Cluster) ps(args []string) (string, int, string) {
	var name string
	healthFilter := false
	for i := 0; i < len(args)-1; i++ {
		if args[i] != "--filter" {
			continue
		}
		switch v := args[i+1]; {
		case strings.HasPrefix(v, "name="):
			name = strings.TrimPrefix(v, "name=")
		case v == "health=healthy":
			healthFilter = true
		}
	}
	if !healthFilter || name == "" {
		return "", 0, ""
	}
	c.HealthPolls[name]++
	healthy := true
	if c.Healthy != nil {
		healthy = c.Healthy(name, c.HealthPolls[name])
	}
	if healthy {
		return "3f2a9c1b7d4e", 0, ""
	}
	return "", 0, ""
}

func (c *Cluster) network(args []string) (string, int, string) {
	switch args[0] {
	case "ls":
		return sortedKeys(c.Networks), 0, ""
	case "create":
		name := args[len(args)-1]
		if c.Networks[name] {
			return "", 1, "Error response from daemon: network with name " + name + " already exists"
		}
		if flagValue(args, "--driver") != "overlay" {
			return "", 1, "only overlay networks are simulated"
		}
		c.Networks[name] = true
		c.mutatingCalls["network create"]++
		return "n" + name, 0, ""
	case "rm":
		for _, name := range args[1:] {
			delete(c.Networks, name)
		}
		return "", 0, ""
	}
	return "", 1, "docker network: unsupported " + args[0]
}

func (c *Cluster) service(args []string) (string, int, string) {
	switch args[0] {
	case "ls":
		format := flagValue(args, "--format")
		names := make([]string, 0, len(c.Services))
		for name := range c.Services {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := make([]string, 0, len(names))
		for _, name := range names {
			svc := c.Services[name]
			if strings.Contains(format, "Replicas") {
				running := svc.Replicas
				if c.Running != nil {
					running = c.Running(name, c.ServicePolls[name], svc.Replicas)
				}
				lines = append(lines, fmt.Sprintf("%s|%d/%d|%s", name, running, svc.Replicas, svc.Image))
				continue
			}
			lines = append(lines, name)
		}
		return strings.Join(lines, "\n"), 0, ""
	case "create":
		name := flagValue(args, "--name")
		if _, ok := c.Services[name]; ok {
			return "", 1, "Error response from daemon: rpc error: name conflicts with an existing object"
		}
		c.Services[name] = &Service{Name: name, Image: args[len(args)-1], Replicas: 1}
		c.mutatingCalls["service create"]++
		return "svc" + name, 0, ""
	case "ps":
		name := positional(args[1:], "--filter", "--format")
		svc, ok := c.Services[name]
		if !ok {
			return "", 1, "no such service: " + name
		}
		if hasFlag(args, "--no-trunc") {
			return fmt.Sprintf("ID NAME IMAGE NODE DESIRED STATE CURRENT STATE ERROR\nx1 %s.1 %s node-1 Running Preparing 1 minute ago", name, svc.Image), 0, ""
		}
		c.ServicePolls[name]++
		running := svc.Replicas
		if c.Running != nil {
			running = c.Running(name, c.ServicePolls[name], svc.Replicas)
		}
		lines := make([]string, 0, svc.Replicas)
		for i := 0; i < running; i++ {
			lines = append(lines, "Running 5 seconds ago")
		}
		for i := running; i < svc.Replicas; i++ {
			lines = append(lines, "Preparing 5 seconds ago")
		}
		return strings.Join(lines, "\n"), 0, ""
	case "update":
		name := args[len(args)-1]
		svc, ok := c.Services[name]
		if !ok {
			return "", 1, "Error: No such service: " + name
		}
		if img := flagValue(args, "--image"); img != "" {
			svc.Image = img
		}
		svc.Updates++
		c.mutatingCalls["service update"]++
		return name, 0, ""
	}
	return "", 1, "docker service: unsupported " + args[0]
}

func (c *Cluster) secret(args []string, stdin string) (string, int, string) {
	switch args[0] {
	case "ls":
		names := make([]string, 0, len(c.Secrets))
		for name := range c.Secrets {
			names = append(names, name)
		}
		sort.Strings(names)
		return strings.Join(names, "\n"), 0, ""
	case "create":
		if len(args) < 3 || args[len(args)-1] != "-" {
			return "", 1, "secret value must come from stdin"
		}
		name := args[len(args)-2]
		if _, ok := c.Secrets[name]; ok {
			return "", 1, "Error response from daemon: rpc error: code = AlreadyExists desc = secret " + name + " already exists"
		}
		c.Secrets[name] = stdin
		c.mutatingCalls["secret create"]++
		return "sec" + name, 0, ""
	case "rm":
		code, stderr := 0, ""
		for _, name := range args[1:] {
			if _, ok := c.Secrets[name]; !ok {
				code, stderr = 1, "Error: No such secret: "+name
				continue
			}
			delete(c.Secrets, name)
			c.mutatingCalls["secret rm"]++
		}
		return "", code, stderr
	}
	return "", 1, "docker secret: unsupported " + args[0]
}

func (c *Cluster) config(args []string) (string, int, string) {
	switch args[0] {
	case "ls":
		return sortedKeys(c.Configs), 0, ""
	case "rm":
		for _, name := range args[1:] {
			delete(c.Configs, name)
			c.mutatingCalls["config rm"]++
		}
		return "", 0, ""
	}
	return "", 1, "docker config: unsupported " + args[0]
}

func (c *Cluster) stack(node *Node, args []string) (string, int, string) {
	switch args[0] {
	case "ls":
		names := make([]string, 0, len(c.Stacks))
		for name := range c.Stacks {
			names = append(names, name)
		}
		sort.Strings(names)
		return strings.Join(names, "\n"), 0, ""
	case "deploy":
		path := flagValue(args, "-c")
		name := args[len(args)-1]
		content, ok := node.Files[path]
		if !ok {
			return "", 1, "open " + path + ": no such file or directory"
		}
		services, err := parseStack(content)
		if err != nil {
			return "", 1, "yaml: " + err.Error()
		}
		var owned []string
		for svcName, svc := range services {
			full := name + "_" + svcName
			existing, ok := c.Services[full]
			if !ok {
				existing = &Service{Name: full, Stack: name}
				c.Services[full] = existing
			}
			existing.Image = svc.Image
			existing.Replicas = svc.Replicas
			owned = append(owned, full)
		}
		sort.Strings(owned)
		c.Stacks[name] = owned
		c.StackEnv[name] = c.env
		c.StackDeploys++
		c.mutatingCalls["stack deploy"]++
		return "Creating service " + strings.Join(owned, ", "), 0, ""
	case "rm":
		for _, name := range args[1:] {
			for _, svc := range c.Stacks[name] {
				delete(c.Services, svc)
			}
			delete(c.Stacks, name)
			c.mutatingCalls["stack rm"]++
		}
		return "", 0, ""
	}
	return "", 1, "docker stack: unsupported " + args[0]
}

func (c *Cluster) node(args []string) (string, int, string) {
	switch args[0] {
	case "ls":
		var lines []string
		for _, n := range c.sortedNodes() {
			switch n.State {
			case StateManager:
				lines = append(lines, n.Hostname+"|Ready|Leader")
			case StateWorker:
				lines = append(lines, n.Hostname+"|Ready|")
			}
		}
		return strings.Join(lines, "\n"), 0, ""
	case "inspect":
		target := c.member(args[len(args)-1])
		if target == nil {
			return "", 1, "Error response from daemon: node " + args[len(args)-1] + " not found"
		}
		return target.Labels["type"], 0, ""
	case "update":
		target := c.member(args[len(args)-1])
		if target == nil {
			return "", 1, "Error response from daemon: node " + args[len(args)-1] + " not found"
		}
		label := flagValue(args, "--label-add")
		k, v, _ := strings.Cut(label, "=")
		target.Labels[k] = v
		c.mutatingCalls["node label"]++
		return target.Hostname, 0, ""
	}
	return "", 1, "docker node: unsupported " + args[0]
}

func (c *Cluster) member(hostname string) *Node {
	for _, n := range c.Nodes {
		if n.Hostname == hostname && n.State != StateInactive {
			return n
		}
	}
	return nil
}

func (c *Cluster) sortedNodes() []*Node {
	out := make([]*Node, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

type stackService struct {
	Image    string
	Replicas int
}

func parseStack(content string) (map[string]stackService, error) {
	var doc struct {
		Services map[string]struct {
			Image  string `yaml:"image"`
			Deploy struct {
				Replicas *int `yaml:"replicas"`
			} `yaml:"deploy"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, err
	}
	out := make(map[string]stackService, len(doc.Services))
	for name, svc := range doc.Services {
		replicas := 1
		if svc.Deploy.Replicas != nil {
			replicas = *svc.Deploy.Replicas
		}
		out[name] = stackService{Image: svc.Image, Replicas: replicas}
	}
	return out, nil
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, flag+"=") {
			return strings.TrimPrefix(a, flag+"=")
		}
	}
	return ""
}

// positional returns the first argument that is neither a flag nor the value
// of one of valued.
func positional(args []string, valued ...string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			return a
		}
		if !strings.Contains(a, "=") && slices.Contains(valued, a) {
			i++
		}
	}
	return ""
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}
