// Package images builds application images locally and pushes them to the
// cluster registry before a deploy.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// TagFormat is the layout of the timestamp tag given to every build.
const TagFormat = "20060102_150405"

// Host identifies the local machine in report results.
const Host = "local"

const (
	stepLogin = "image.login"
	stepBuild = "image"
)

// Built is an image that was built and pushed.
type Built struct {
	Name   string
	Ref    string
	Latest string
}

// Builder builds and pushes the images declared in the inventory.
type Builder struct {
	Runner Runner
	Logger *slog.Logger
	// Now returns the build time; time.Now when nil.
	Now func() time.Time
}

// Build logs in to the registry, then builds and pushes each declared image
// (only those in names, when given) with a timestamp tag and latest. Any
// failure is fatal: a stack must never be deployed against images that were
// not pushed.
func (b *Builder) Build(ctx context.Context, inv *inventory.Inventory, names ...string) ([]Built, []report.Result, error) {
	selected, err := selectImages(inv.Images, names)
	if err != nil {
		return nil, nil, fault.Fatal(err)
	}
	if len(selected) == 0 {
		return nil, nil, nil
	}

	var results []report.Result
	endpoint := inv.Registry.Endpoint

	login := []string{"login", endpoint, "-u", inv.Registry.User, "--password-stdin"}
	if err := b.Runner.Run(ctx, []byte(inv.Registry.Password), "docker", login...); err != nil {
		err = fault.New(fault.KindCommand, Host, fmt.Errorf("docker login %s: %w", endpoint, err))
		return nil, append(results, report.Failed(stepLogin, Host, err)), fault.Fatal(err)
	}
	results = append(results, report.OK(stepLogin, Host))

	tag := b.now().Format(TagFormat)
	built := make([]Built, 0, len(selected))
	for _, img := range selected {
		step := stepBuild + "." + img.Name
		start := time.Now()
		out, err := b.buildOne(ctx, inv, img, tag)
		if err != nil {
			res := report.Failed(step, Host, err)
			res.Duration = time.Since(start)
			return built, append(results, res), fault.Fatal(err)
		}
		res := report.OK(step, Host)
		res.Duration = time.Since(start)
		results = append(results, res)
		built = append(built, out)
	}
	return built, results, nil
}

func (b *Builder) buildOne(ctx context.Context, inv *inventory.Inventory, img inventory.ImageBuild, tag string) (Built, error) {
	repo := inv.Registry.Endpoint + "/" + img.Name
	out := Built{Name: img.Name, Ref: repo + ":" + tag, Latest: repo + ":latest"}

	contextPath := img.Context
	if !filepath.IsAbs(contextPath) {
		contextPath = filepath.Join(inv.BaseDir, contextPath)
	}

	b.logger().Info("building image", "name", img.Name, "image", out.Ref, "context", contextPath)

	args := []string{"build", "-t", out.Ref, "-t", out.Latest}
	if img.Dockerfile != "" {
		dockerfile := img.Dockerfile
		if !filepath.IsAbs(dockerfile) {
			dockerfile = filepath.Join(inv.BaseDir, dockerfile)
		}
		args = append(args, "-f", dockerfile)
	}
	args = append(args, contextPath)

	if err := b.Runner.Run(ctx, nil, "docker", args...); err != nil {
		return out, fault.New(fault.KindCommand, Host, fmt.Errorf("docker build for image %q failed: %w", img.Name, err))
	}
	for _, ref := range []string{out.Ref, out.Latest} {
		if err := b.Runner.Run(ctx, nil, "docker", "push", ref); err != nil {
			return out, fault.New(fault.KindCommand, Host, fmt.Errorf("docker push %q failed: %w", ref, err))
		}
	}
	return out, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

func selectImages(all []inventory.ImageBuild, names []string) ([]inventory.ImageBuild, error) {
	if len(names) == 0 {
		return all, nil
	}
	var out []inventory.ImageBuild
	for _, name := range names {
		found := false
		for _, img := range all {
			if img.Name == name {
				out = append(out, img)
				found = true
				break
			}
		}
		if !found {
			return nil, fault.Newf(fault.KindConfig, "", "image %q is not declared in the inventory", name)
		}
	}
	return out, nil
}

// ParamName returns the stack parameter that carries the reference of the
// named image, e.g. "api-server" becomes IMAGE_API_SERVER.
func ParamName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
	return "IMAGE_" + mapped
}

// Params maps each built image to its stack parameter.
func Params(built []Built) map[string]string {
	out := make(map[string]string, len(built))
	for _, b := range built {
		out[ParamName(b.Name)] = b.Ref
	}
	return out
}
