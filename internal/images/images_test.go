package images

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/report"
)

type call struct {
	stdin string
	line  string
}

type fakeRunner struct {
	calls  []call
	failOn string
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) error {
	line := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call{stdin: string(stdin), line: line})
	if f.failOn != "" && strings.HasPrefix(line, f.failOn) {
		return errors.New("exit status 1")
	}
	return nil
}

func (f *fakeRunner) lines() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.line)
	}
	return out
}

func testInventory() *inventory.Inventory {
	return &inventory.Inventory{
		Registry: inventory.Registry{Endpoint: "10.0.0.1:5000", User: "admin", Password: "hunter2"},
		Images: []inventory.ImageBuild{
			{Name: "api", Context: "."},
			{Name: "worker-jobs", Context: "jobs", Dockerfile: "jobs/Dockerfile.prod"},
		},
		BaseDir: "/src/shop",
	}
}

func fixedClock() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

func TestBuildPushesTimestampAndLatest(t *testing.T) {
	runner := &fakeRunner{}
	b := &Builder{Runner: runner, Now: fixedClock}

	built, results, err := b.Build(context.Background(), testInventory())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"docker login 10.0.0.1:5000 -u admin --password-stdin",
		"docker build -t 10.0.0.1:5000/api:20260314_092653 -t 10.0.0.1:5000/api:latest /src/shop",
		"docker push 10.0.0.1:5000/api:20260314_092653",
		"docker push 10.0.0.1:5000/api:latest",
		"docker build -t 10.0.0.1:5000/worker-jobs:20260314_092653 -t 10.0.0.1:5000/worker-jobs:latest -f /src/shop/jobs/Dockerfile.prod /src/shop/jobs",
		"docker push 10.0.0.1:5000/worker-jobs:20260314_092653",
		"docker push 10.0.0.1:5000/worker-jobs:latest",
	}, runner.lines())
	assert.Equal(t, "hunter2", runner.calls[0].stdin)

	require.Len(t, built, 2)
	assert.Equal(t, map[string]string{
		"IMAGE_API":         "10.0.0.1:5000/api:20260314_092653",
		"IMAGE_WORKER_JOBS": "10.0.0.1:5000/worker-jobs:20260314_092653",
	}, Params(built))

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, report.StatusOK, r.Status)
		assert.Equal(t, Host, r.Host)
	}
}

func TestBuildSelectsNamedImages(t *testing.T) {
	runner := &fakeRunner{}
	b := &Builder{Runner: runner, Now: fixedClock}

	built, _, err := b.Build(context.Background(), testInventory(), "worker-jobs")
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, "worker-jobs", built[0].Name)

	_, _, err = b.Build(context.Background(), testInventory(), "missing")
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestBuildWithoutImagesDoesNothing(t *testing.T) {
	runner := &fakeRunner{}
	inv := testInventory()
	inv.Images = nil

	built, results, err := (&Builder{Runner: runner}).Build(context.Background(), inv)
	require.NoError(t, err)
	assert.Empty(t, built)
	assert.Empty(t, results)
	assert.Empty(t, runner.calls, "no registry login without images")
}

func TestBuildFailuresAreFatal(t *testing.T) {
	tests := []struct {
		name      string
		failOn    string
		wantCalls int
		wantMsg   string
	}{
		{name: "login", failOn: "docker login", wantCalls: 1, wantMsg: "docker login 10.0.0.1:5000"},
		{name: "build", failOn: "docker build", wantCalls: 2, wantMsg: `docker build for image "api" failed`},
		{name: "push", failOn: "docker push", wantCalls: 3, wantMsg: `docker push "10.0.0.1:5000/api:20260314_092653" failed`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{failOn: tt.failOn}
			_, results, err := (&Builder{Runner: runner, Now: fixedClock}).Build(context.Background(), testInventory())

			require.Error(t, err)
			assert.True(t, fault.IsFatal(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Len(t, runner.calls, tt.wantCalls)
			require.NotEmpty(t, results)
			assert.Equal(t, report.StatusFailed, results[len(results)-1].Status)
		})
	}
}

func TestParamName(t *testing.T) {
	assert.Equal(t, "IMAGE_API", ParamName("api"))
	assert.Equal(t, "IMAGE_API_SERVER", ParamName("api-server"))
	assert.Equal(t, "IMAGE_WEB_V2", ParamName("web.v2"))
}
