package commands_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/commands"
	"envelopes/internal/core"
)

func newDB(t *testing.T) string {
	t.Helper()
	t.Setenv("AMQP_URL", "")
	return filepath.Join(t.TempDir(), "ledger", "envelopes.db")
}

func runCtl(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	cmd := commands.NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--db", db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun[T any](t *testing.T, db string, args ...string) T {
	t.Helper()
	out, err := runCtl(t, db, args...)
	require.NoError(t, err, "envelopectl %v", args)
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), "output: %s", out)
	return v
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMigrate_ReportsVersion(t *testing.T) {
	db := newDB(t)

	status := mustRun[map[string]any](t, db, "migrate")
	assert.Equal(t, db, status["path"])
	assert.EqualValues(t, 1, status["version"])
	assert.Equal(t, false, status["dirty"])

	// idempotent
	_, err := runCtl(t, db, "migrate")
	require.NoError(t, err)
}

func TestEnvelope_Lifecycle(t *testing.T) {
	db := newDB(t)

	created := mustRun[core.Envelope](t, db, "envelope", "create", "--name", "Groceries", "--budget", "100")
	assert.Equal(t, "Groceries", created.Name)
	assert.True(t, created.Budget.Equal(amount("100")))
	assert.True(t, created.Spent.IsZero())

	got := mustRun[core.Envelope](t, db, "envelope", "get", "1")
	assert.Equal(t, created.ID, got.ID)

	updated := mustRun[core.Envelope](t, db, "envelope", "update", "1", "--spent", "25.50")
	assert.Equal(t, "Groceries", updated.Name)
	assert.True(t, updated.Spent.Equal(amount("25.50")))

	list := mustRun[[]core.Envelope](t, db, "env", "list")
	require.Len(t, list, 1)

	out, err := runCtl(t, db, "envelope", "delete", "1")
	require.NoError(t, err)
	assert.Empty(t, out)

	empty := mustRun[[]core.Envelope](t, db, "envelope", "list")
	assert.Empty(t, empty)

	_, err = runCtl(t, db, "envelope", "get", "1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEnvelope_Errors(t *testing.T) {
	db := newDB(t)
	mustRun[core.Envelope](t, db, "envelope", "create", "--name", "Rent", "--budget", "50")

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"non numeric id", []string{"envelope", "get", "abc"}, core.ErrInvalidArgument},
		{"bad budget", []string{"envelope", "create", "--name", "X", "--budget", "lots"}, core.ErrInvalidArgument},
		{"negative budget", []string{"envelope", "create", "--name", "X", "--budget=-1"}, core.ErrInvalidArgument},
		{"spent above budget", []string{"envelope", "update", "1", "--spent", "51"}, core.ErrConstraintViolation},
		{"missing envelope", []string{"envelope", "update", "9", "--name", "Y"}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCtl(t, db, tt.args...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEnvelope_CreateRequiresFlags(t *testing.T) {
	db := newDB(t)
	_, err := runCtl(t, db, "envelope", "create", "--name", "NoBudget")
	assert.Error(t, err)
}

func TestTransfer_MovesBudget(t *testing.T) {
	db := newDB(t)
	mustRun[core.Envelope](t, db, "envelope", "create", "--name", "Savings", "--budget", "100", "--spent", "30")
	mustRun[core.Envelope](t, db, "envelope", "create", "--name", "Fun", "--budget", "10")

	tr := mustRun[core.Transfer](t, db, "transfer", "create", "--from", "1", "--to", "2", "--amount", "40")
	assert.Equal(t, int64(1), tr.FromID)
	assert.Equal(t, int64(2), tr.ToID)
	assert.Equal(t, "Savings", tr.FromName)
	assert.Equal(t, "Fun", tr.ToName)

	from := mustRun[core.Envelope](t, db, "envelope", "get", "1")
	to := mustRun[core.Envelope](t, db, "envelope", "get", "2")
	assert.True(t, from.Budget.Equal(amount("60")))
	assert.True(t, to.Budget.Equal(amount("50")))

	_, err := runCtl(t, db, "transfer", "create", "--from", "1", "--to", "2", "--amount", "31")
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	_, err = runCtl(t, db, "transfer", "create", "--from", "1", "--to", "1", "--amount", "1")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	list := mustRun[[]core.Transfer](t, db, "transfer", "list")
	require.Len(t, list, 1)

	_, err = runCtl(t, db, "transfer", "delete", "1")
	require.NoError(t, err)
	_, err = runCtl(t, db, "transfer", "get", "1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// deleting the record leaves balances alone
	from = mustRun[core.Envelope](t, db, "envelope", "get", "1")
	assert.True(t, from.Budget.Equal(amount("60")))
}

func TestTransaction_Lifecycle(t *testing.T) {
	db := newDB(t)
	mustRun[core.Envelope](t, db, "envelope", "create", "--name", "Food", "--budget", "100")
	mustRun[core.Envelope](t, db, "envelope", "create", "--name", "Travel", "--budget", "100")

	txn := mustRun[core.Transaction](t, db, "transaction", "create", "1", "--amount", "30", "--name", "Market")
	assert.Equal(t, "Market", txn.Name)
	assert.Equal(t, "Food", txn.EnvelopeName)

	env := mustRun[core.Envelope](t, db, "envelope", "get", "1")
	assert.True(t, env.Spent.Equal(amount("30")))

	_, err := runCtl(t, db, "tx", "create", "1", "--amount", "71", "--name", "Too much")
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	updated := mustRun[core.Transaction](t, db, "transaction", "update", "1", "--amount", "45")
	assert.True(t, updated.Amount.Equal(amount("45")))
	env = mustRun[core.Envelope](t, db, "envelope", "get", "1")
	assert.True(t, env.Spent.Equal(amount("45")))

	moved := mustRun[core.Transaction](t, db, "transaction", "update", "1", "--envelope", "2")
	assert.Equal(t, int64(2), moved.EnvelopeID)
	food := mustRun[core.Envelope](t, db, "envelope", "get", "1")
	travel := mustRun[core.Envelope](t, db, "envelope", "get", "2")
	assert.True(t, food.Spent.IsZero())
	assert.True(t, travel.Spent.Equal(amount("45")))

	mustRun[core.Transaction](t, db, "transaction", "create", "2", "--amount", "5", "--name", "Taxi")
	list := mustRun[[]core.Transaction](t, db, "transaction", "list", "2")
	assert.Len(t, list, 2)

	_, err = runCtl(t, db, "transaction", "delete", "1")
	require.NoError(t, err)
	travel = mustRun[core.Envelope](t, db, "envelope", "get", "2")
	assert.True(t, travel.Spent.Equal(amount("5")))

	removed := mustRun[[]core.Transaction](t, db, "transaction", "delete-all", "2")
	assert.Len(t, removed, 1)
	travel = mustRun[core.Envelope](t, db, "envelope", "get", "2")
	assert.True(t, travel.Spent.IsZero())

	none := mustRun[[]core.Transaction](t, db, "transaction", "list", "2")
	assert.Empty(t, none)
}
