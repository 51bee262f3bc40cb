package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r recorder) Name() string { return r.name }

func (r recorder) Migrate(context.Context) error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func TestRunAllOrdersAndStopsOnFailure(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	Register(Plugin{Order: 200, Migrator: recorder{name: "late", log: &ran}})
	Register(Plugin{Order: 100, Migrator: recorder{name: "early", log: &ran}})
	Register(Plugin{Order: 100, Migrator: recorder{name: "early-2", log: &ran}})
	assert.Equal(t, []string{"early", "early-2", "late"}, Names())

	require.NoError(t, RunAll(context.Background()))
	assert.Equal(t, []string{"early", "early-2", "late"}, ran)

	ran = nil
	Register(Plugin{Order: 150, Migrator: recorder{name: "broken", log: &ran, err: errors.New("boom")}})
	err := RunAll(context.Background())
	require.EqualError(t, err, "migration broken failed: boom")
	assert.Equal(t, []string{"early", "early-2", "broken"}, ran)
}

func TestRunAllHonorsCanceledContext(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	Register(Plugin{Order: 1, Migrator: recorder{name: "a", log: &ran}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, RunAll(ctx), context.Canceled)
	assert.Empty(t, ran)
}
