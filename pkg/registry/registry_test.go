package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
)

func TestTagDerivesFromPrefixAndQualifiedName(t *testing.T) {
	tag, err := Tag("Bank.Account", "Bank.Account.Transfer.MoneyDeposited")
	require.NoError(t, err)
	assert.Equal(t, "transfer.money_deposited", tag)
}

func TestTagRejectsUnqualifiedName(t *testing.T) {
	_, err := Tag("Bank.Account", "Other.Thing")
	assert.Error(t, err)
}

func TestValidTag(t *testing.T) {
	assert.True(t, ValidTag("account.deposit"))
	assert.True(t, ValidTag("transfer.money_deposited"))
	assert.False(t, ValidTag("Account.Deposit"))
	assert.False(t, ValidTag("account"))
	assert.False(t, ValidTag(""))
}

func TestRegistryResolveCommandMissingIsInvalidHandler(t *testing.T) {
	r := New()
	_, err := r.ResolveCommand("account.unknown")
	require.Error(t, err)
	fault, ok := domain.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindInvalidHandler, fault.Kind)
}

func TestRegistryRegisterAndResolveCommand(t *testing.T) {
	r := New()
	called := false
	h := CommandHandlerFunc(func(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]ProposedEvent, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, r.RegisterCommand("account.deposit", h))

	resolved, err := r.ResolveCommand("account.deposit")
	require.NoError(t, err)
	_, evalErr := resolved.Eval(context.Background(), nil, domain.Command{})
	require.NoError(t, evalErr)
	assert.True(t, called)
}

func TestRegistryRejectsMalformedTag(t *testing.T) {
	r := New()
	err := r.RegisterCommand("Account.Deposit", CommandHandlerFunc(nil))
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := New()
	h := EventHandlerFunc(func(state *structpb.Struct, event domain.Event) *structpb.Struct { return state })
	require.NoError(t, r.RegisterEvent("account.deposited", h))
	err := r.RegisterEvent("account.deposited", h)
	assert.Error(t, err)
}
