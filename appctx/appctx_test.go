package appctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

func TestBuildFailsFastWithoutStore(t *testing.T) {
	_, err := NewBuilder().WithRooms(rooms.New()).Build(context.Background())
	require.Error(t, err)
}

func TestBuildFailsFastWithoutRooms(t *testing.T) {
	_, err := NewBuilder().WithStore(store.NewFake()).Build(context.Background())
	require.Error(t, err)
}

func TestBuildSucceedsWithBothDependencies(t *testing.T) {
	app, err := NewBuilder().WithStore(store.NewFake()).WithRooms(rooms.New()).Build(context.Background())
	require.NoError(t, err)
	require.NotNil(t, app.Context())
}

func TestShutdownCancelsDerivedContext(t *testing.T) {
	app, err := NewBuilder().WithStore(store.NewFake()).WithRooms(rooms.New()).Build(context.Background())
	require.NoError(t, err)

	ctx := app.Context()
	app.Shutdown()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("Shutdown must cancel the context Run goroutines observe")
	}
}

func TestBuildPropagatesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	app, err := NewBuilder().WithStore(store.NewFake()).WithRooms(rooms.New()).Build(parent)
	require.NoError(t, err)

	cancel()
	select {
	case <-app.Context().Done():
	default:
		t.Fatal("cancelling the parent context must cancel the derived AppContext")
	}
}
