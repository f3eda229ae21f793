package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/swarmctl/internal/env"
	"github.com/codex-k8s/swarmctl/internal/fault"
)

var (
	secretNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	portPattern       = regexp.MustCompile(`^(\d{1,5})/(tcp|udp)$`)
)

// Load reads, decodes, expands and validates an inventory file. The format is
// chosen by extension: .json, .yaml/.yml or .toml. A missing file is a config fault.
func Load(path string) (*Inventory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fault.Newf(fault.KindConfig, "", "inventory path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve inventory path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fault.Newf(fault.KindConfig, "", "inventory %q not found", absPath)
		}
		return nil, fault.New(fault.KindConfig, "", fmt.Errorf("read inventory %q: %w", absPath, err))
	}

	inv, err := Decode(raw, filepath.Ext(absPath))
	if err != nil {
		return nil, fault.New(fault.KindConfig, "", fmt.Errorf("parse inventory %q: %w", absPath, err))
	}
	inv.BaseDir = filepath.Dir(absPath)

	vars, err := env.LoadEnvFiles(inv.BaseDir, inv.EnvFiles)
	if err != nil {
		return nil, fault.New(fault.KindConfig, "", err)
	}
	inv.expand(env.Merge(env.FromOS(), vars))
	inv.applyDefaults()

	if err := inv.Validate(); err != nil {
		return nil, fault.New(fault.KindConfig, "", err)
	}
	return inv, nil
}

// Decode parses raw inventory bytes in the format implied by ext.
func Decode(raw []byte, ext string) (*Inventory, error) {
	var inv Inventory
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&inv); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&inv); err != nil {
			return nil, err
		}
	case ".toml":
		md, err := toml.Decode(string(raw), &inv)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown field %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("unsupported inventory format %q (want .json, .yaml, .yml or .toml)", ext)
	}
	return &inv, nil
}

// expand substitutes ${VAR} references in credential material and parameters.
func (inv *Inventory) expand(vars env.Vars) {
	inv.Registry.Password = vars.Expand(inv.Registry.Password)
	for name, value := range inv.Secrets {
		inv.Secrets[name] = vars.Expand(value)
	}
	for name, value := range inv.Stack.Params {
		inv.Stack.Params[name] = vars.Expand(value)
	}
	if inv.Migration != nil {
		for name, value := range inv.Migration.Env {
			inv.Migration.Env[name] = vars.Expand(value)
		}
	}
}

// Validate checks structural invariants: one manager, unique addresses and sane parameters.
func (inv *Inventory) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if inv.Manager.Address == "" {
		add("manager.address is required")
	}
	seen := make(map[string]struct{})
	for _, h := range inv.Hosts() {
		if h.Address == "" {
			if h.Role == RoleWorker {
				add("every worker needs an address")
			}
			continue
		}
		if _, dup := seen[h.Address]; dup {
			add("host %s is declared more than once", h.Address)
		}
		seen[h.Address] = struct{}{}
		if h.Port < 1 || h.Port > 65535 {
			add("host %s has invalid port %d", h.Address, h.Port)
		}
	}

	if inv.Stack.Name == "" {
		add("stack.name is required")
	}
	if inv.Stack.Replicas < 0 {
		add("stack.replicas must not be negative")
	}
	if err := validatePolling("stack.rollout", inv.Stack.Rollout); err != nil {
		add("%v", err)
	}
	if inv.Registry.User == "" || inv.Registry.Password == "" {
		add("registry.user and registry.password are required")
	}

	for _, name := range inv.SecretNames() {
		if !secretNamePattern.MatchString(name) {
			add("secret name %q is invalid", name)
		}
	}
	for _, p := range inv.Firewall.PublicPorts {
		if err := validatePort(p); err != nil {
			add("firewall.public_ports: %v", err)
		}
	}

	if m := inv.Migration; m != nil {
		if m.Image == "" || m.Command == "" {
			add("migration.image and migration.command are required")
		}
		if err := validatePolling("migration.health", m.Health); err != nil {
			add("%v", err)
		}
	}
	for i, img := range inv.Images {
		if img.Name == "" || img.Context == "" {
			add("images[%d] needs name and context", i)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid inventory: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validatePolling(field string, p Polling) error {
	if p.Attempts < 1 {
		return fmt.Errorf("%s.attempts must be positive", field)
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil {
		return fmt.Errorf("%s.interval: %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("%s.interval must not be negative", field)
	}
	return nil
}

func validatePort(spec string) error {
	m := portPattern.FindStringSubmatch(spec)
	if m == nil {
		return fmt.Errorf("%q is not of the form <port>/<tcp|udp>", spec)
	}
	n, _ := strconv.Atoi(m[1])
	if n < 1 || n > 65535 {
		return fmt.Errorf("%q is out of range", spec)
	}
	return nil
}

// DescriptorPath resolves the stack descriptor relative to the inventory.
func (inv *Inventory) DescriptorPath() string {
	return inv.ResolvePath(inv.Stack.Descriptor)
}

// ResolvePath resolves p relative to the inventory directory.
func (inv *Inventory) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(inv.BaseDir, p)
}
