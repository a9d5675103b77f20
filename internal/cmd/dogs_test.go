package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogshouse/dogshouse/internal/appid"
	"github.com/dogshouse/dogshouse/internal/core"
	"github.com/dogshouse/dogshouse/internal/output"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
)

func TestParseSeedFile(t *testing.T) {
	dogs, err := parseSeedFile([]byte(`
dogs:
  - name: " Max "
    color: brown
    tail_length: 12
    weight: 20
  - name: Abby
    color: white
    tail_length: 0
    weight: 5
`))
	require.NoError(t, err)
	require.Len(t, dogs, 2)
	assert.Equal(t, core.Dog{Name: "Max", Color: "brown", TailLength: 12, Weight: 20}, dogs[0])
	assert.Equal(t, "Abby", dogs[1].Name)
}

func TestParseSeedFileRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "empty", data: "dogs: []", want: "no dogs"},
		{name: "invalid dog", data: "dogs:\n  - name: Rex\n    color: ''\n    weight: 3\n", want: "dog 1"},
		{name: "repeated name", data: "dogs:\n  - {name: Rex, color: red, weight: 3}\n  - {name: rex, color: tan, weight: 4}\n", want: "repeats dog 1"},
		{name: "unknown field", data: "dogs:\n  - {name: Rex, colour: red, weight: 3}\n", want: "parse seed file"},
		{name: "not yaml", data: "dogs: [", want: "parse seed file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSeedFile([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func newListFlagsCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{Use: "list"}
	cmd.Flags().String("attribute", "", "")
	cmd.Flags().String("order", string(core.OrderAsc), "")
	cmd.Flags().String("page-number", "", "")
	cmd.Flags().String("page-size", "", "")
	cmd.Flags().String("output-format", string(output.FormatTable), "")
	cmd.Flags().String("out", "", "")
	cmd.Flags().String("out-dir", "", "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestDogsQueryFromFlags(t *testing.T) {
	q, err := dogsQueryFromFlags(newListFlagsCommand(t, "--attribute", "Weight", "--order", "desc", "--page-size", "3"))
	require.NoError(t, err)
	assert.Equal(t, core.SortWeight, q.Attribute)
	assert.Equal(t, core.OrderDesc, q.Order)
	assert.Equal(t, 1, q.PageNumber)
	assert.Equal(t, 3, q.PageSize)

	_, err = dogsQueryFromFlags(newListFlagsCommand(t, "--page-number", "0"))
	require.Error(t, err)
}

func TestResolveOutputFlags(t *testing.T) {
	format, err := resolveOutputFormat(newListFlagsCommand(t, "--output-format", "json"))
	require.NoError(t, err)
	assert.Equal(t, output.FormatJSON, format)
	assert.Equal(t, "json", outputExtension(format))

	_, _, err = resolveOutputTargets(newListFlagsCommand(t, "--out", "a.txt", "--out-dir", "dir"))
	require.Error(t, err)

	outPath, outDir, err := resolveOutputTargets(newListFlagsCommand(t, "--out", " a.txt "))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", outPath)
	assert.Empty(t, outDir)
}

func TestOpenSinkWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dogs.list.txt")
	sink, err := openSink(path)
	require.NoError(t, err)

	_, err = sink.writer.Write([]byte("Neo\n"))
	require.NoError(t, err)
	require.NoError(t, sink.close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Neo\n", string(data))

	stdout, err := openSink("-")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, stdout.writer)
}

func TestLimiterHealthChecker(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{MaxRequestsPerWindow: 1, Window: time.Minute})
	require.NoError(t, err)

	check := limiterHealthChecker(limiter, 1)
	require.NoError(t, check(context.Background()))

	limiter.TryAdmit("203.0.113.1")
	require.NoError(t, check(context.Background()))

	limiter.TryAdmit("203.0.113.2")
	require.Error(t, check(context.Background()))
}

func TestIdentityHealthChecker(t *testing.T) {
	identity, err := appid.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, identityHealthChecker{identity: identity}.CheckHealth(context.Background()))

	require.Error(t, identityHealthChecker{}.CheckHealth(context.Background()))
	require.Error(t, identityHealthChecker{identity: &appid.Identity{BinaryName: "x", ConfigName: "x"}}.CheckHealth(context.Background()))
}
