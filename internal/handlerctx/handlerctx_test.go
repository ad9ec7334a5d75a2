package handlerctx

import (
	"context"
	"testing"

	"github.com/chainforge/evmindex/internal/status"
	"github.com/stretchr/testify/require"
)

func TestDBRoundTripsThroughContext(t *testing.T) {
	ctx := WithDB(context.Background(), nil)
	require.Nil(t, DB(ctx))
	require.Nil(t, DB(context.Background()))
}

func TestStatusRoundTripsThroughContext(t *testing.T) {
	s := status.New(nil, "")
	ctx := WithStatus(context.Background(), s)
	require.Same(t, s, Status(ctx))
	require.Nil(t, Status(context.Background()))
}
