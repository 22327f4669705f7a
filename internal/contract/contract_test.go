package contract_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aevon-lab/eventkernel/internal/contract"
	"github.com/aevon-lab/eventkernel/internal/contract/formats/protobuf"
	"github.com/aevon-lab/eventkernel/internal/contract/formats/yaml"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadCatalog_ReadsVersionsAndUpgradeSteps(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "UserRegistered", "v1.yaml"), `
event: UserRegistered
version: 1
fields:
  mail: string!
`)
	writeFile(t, filepath.Join(root, "UserRegistered", "v2.yaml"), `
event: UserRegistered
version: 2
strictMode: false
upgrade:
  - rename_field: {from: mail, to: email}
  - add_field: {name: plan, default: free}
fields:
  email: string!
  plan: string
`)
	writeFile(t, filepath.Join(root, "UserRegistered", "v2.proto"), `syntax = "proto3"; message X {}`)
	writeFile(t, filepath.Join(root, "OrderPlaced", "v1.proto"), `syntax = "proto3"; message OrderPlaced { string id = 1; }`)
	writeFile(t, filepath.Join(root, "OrderPlaced", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "OrderPlaced", "vX.yaml"), "ignored")

	catalog, err := contract.LoadCatalog(root)
	require.NoError(t, err)
	require.Equal(t, 3, catalog.Len())
	require.Equal(t, []string{"OrderPlaced", "UserRegistered"}, catalog.EventTypes())

	versions := catalog.Versions("UserRegistered")
	require.Len(t, versions, 2)
	require.Equal(t, 1, versions[0].Version)
	require.True(t, versions[0].StrictMode)

	v2 := versions[1]
	require.Equal(t, contract.FormatYaml, v2.Format)
	require.False(t, v2.StrictMode)
	require.Len(t, v2.Upgrade, 2)

	order, err := catalog.Get("OrderPlaced", 1)
	require.NoError(t, err)
	require.Equal(t, contract.FormatProtobuf, order.Format)

	_, err = catalog.Get("OrderPlaced", 9)
	require.ErrorIs(t, err, contract.ErrNotFound)
}

func TestLoadCatalog_MissingRootIsEmpty(t *testing.T) {
	catalog, err := contract.LoadCatalog(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Zero(t, catalog.Len())
}

func TestCatalog_AddRejectsDuplicatesAndBadSteps(t *testing.T) {
	catalog := contract.NewCatalog()
	ct := contract.New("UserRegistered", 1, contract.FormatYaml, []byte("x"))
	require.NoError(t, catalog.Add(ct))
	require.ErrorIs(t, catalog.Add(ct), contract.ErrAlreadyExists)

	bad := contract.New("UserRegistered", 2, contract.FormatYaml, []byte("y"))
	bad.Upgrade = []contract.UpgradeStep{{RemoveField: "a", AddField: &contract.AddField{Name: "b"}}}
	require.ErrorContains(t, catalog.Add(bad), "exactly one operation")
}

func TestApplyUpgrade(t *testing.T) {
	steps := []contract.UpgradeStep{
		{RenameField: &contract.RenameField{From: "mail", To: "email"}},
		{AddField: &contract.AddField{Name: "plan", Default: "free"}},
		{AddField: &contract.AddField{Name: "email", Default: "ignored"}},
		{RemoveField: "legacy"},
	}
	in := map[string]interface{}{"mail": "a@example.com", "legacy": true}

	out := contract.ApplyUpgrade(steps, in)

	require.Equal(t, map[string]interface{}{"email": "a@example.com", "plan": "free"}, out)
	require.Equal(t, map[string]interface{}{"mail": "a@example.com", "legacy": true}, in, "input must not be mutated")
}

type countingCompiler struct {
	inner contract.FormatCompiler
	calls atomic.Int32
}

func (c *countingCompiler) Compile(ctx context.Context, ct *contract.Contract) (*contract.Compiled, error) {
	c.calls.Add(1)
	return c.inner.Compile(ctx, ct)
}

func TestValidator_CompilesOncePerFingerprint(t *testing.T) {
	compiler := &countingCompiler{inner: yaml.NewCompiler()}
	formats := contract.NewFormatRegistry()
	formats.RegisterFormat(contract.FormatYaml, compiler, yaml.NewValidator())
	formats.RegisterFormat(contract.FormatProtobuf, protobuf.NewCompiler(), protobuf.NewValidator())
	require.Equal(t, []contract.Format{contract.FormatProtobuf, contract.FormatYaml}, formats.SupportedFormats())

	validator := contract.NewValidator(formats)
	ct := contract.New("UserRegistered", 1, contract.FormatYaml, []byte(`
event: UserRegistered
version: 1
fields:
  email: string!
`))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = validator.ValidateData(context.Background(), ct, map[string]interface{}{"email": "a@example.com"})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), compiler.calls.Load())

	err := validator.ValidateData(context.Background(), ct, map[string]interface{}{})
	require.ErrorContains(t, err, "required field is missing")

	validator.Invalidate(ct)
	require.NoError(t, validator.ValidateData(context.Background(), ct, map[string]interface{}{"email": "x"}))
	require.Equal(t, int32(2), compiler.calls.Load())
}

func TestValidator_UnsupportedFormat(t *testing.T) {
	validator := contract.NewValidator(contract.NewFormatRegistry())
	ct := contract.New("UserRegistered", 1, contract.FormatYaml, []byte("x"))
	err := validator.ValidateData(context.Background(), ct, nil)
	require.ErrorContains(t, err, "unsupported contract format")
}
