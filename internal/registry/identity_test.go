package registry

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	chainmocks "github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/mocks"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/common"
)

func packString(t *testing.T, method, value string) []byte {
	t.Helper()
	out, err := identityABI.Methods[method].Outputs.Pack(value)
	require.NoError(t, err)
	return out
}

func TestRegisterTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	g := NewIdentityRegistry(source, discardLogger())
	tx, err := g.RegisterTx(testChainID, "ipfs://bafyagentcard")
	require.NoError(t, err)
	assert.Equal(t, testIdentityAddr, tx.To)

	method := identityABI.Methods["register"]
	require.Equal(t, method.ID, []byte(tx.Data[:4]))

	in, err := method.Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, "ipfs://bafyagentcard", in[0].(string))
}

func TestRegisterTx_EmptyURI(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	g := NewIdentityRegistry(chainmocks.NewMockSource(ctrl), discardLogger())
	_, err := g.RegisterTx(testChainID, "")
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
}

func TestSetMetadataTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	g := NewIdentityRegistry(source, discardLogger())
	tx, err := g.SetMetadataTx(testChainID, big.NewInt(7), "agentName", "translator")
	require.NoError(t, err)

	method := identityABI.Methods["setMetadata"]
	require.Equal(t, method.ID, []byte(tx.Data[:4]))

	in, err := method.Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(7), in[0].(*big.Int).Int64())
	assert.Equal(t, "agentName", in[1].(string))
	assert.Equal(t, "translator", in[2].(string))
}

func TestSetMetadataTx_MissingFields(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	g := NewIdentityRegistry(chainmocks.NewMockSource(ctrl), discardLogger())

	_, err := g.SetMetadataTx(testChainID, nil, "k", "v")
	assert.True(t, fault.IsMalformed(err))

	_, err = g.SetMetadataTx(testChainID, big.NewInt(1), "", "v")
	assert.True(t, fault.IsMalformed(err))
}

func TestOwner(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	packed, err := identityABI.Methods["ownerOf"].Outputs.Pack(owner)
	require.NoError(t, err)

	backend.EXPECT().
		Call(gomock.Any(), testIdentityAddr, gomock.Any()).
		Return(packed, nil)

	g := NewIdentityRegistry(source, discardLogger())
	got, err := g.Owner(context.Background(), testChainID, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, owner, got)
}

func TestOwner_UnmintedTokenRevertIsNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	backend.EXPECT().
		Call(gomock.Any(), testIdentityAddr, gomock.Any()).
		Return(nil, &evmrpc.RPCError{Code: 3, Message: "execution reverted: nonexistent token"})

	g := NewIdentityRegistry(source, discardLogger())
	_, err := g.Owner(context.Background(), testChainID, big.NewInt(404))
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}

func TestTokenURI(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	backend.EXPECT().
		Call(gomock.Any(), testIdentityAddr, gomock.Any()).
		Return(packString(t, "tokenURI", "ipfs://bafymetadata"), nil)

	g := NewIdentityRegistry(source, discardLogger())
	uri, err := g.TokenURI(context.Background(), testChainID, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://bafymetadata", uri)
}

func TestMetadata_BatchSkipsFailuresAndEmptyValues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	backend.EXPECT().
		CallBatch(gomock.Any(), gomock.Len(3)).
		Return([]chain.CallResult{
			{Data: packString(t, "getMetadata", "translator")},
			{Err: &evmrpc.RPCError{Code: 3, Message: "execution reverted"}},
			{Data: packString(t, "getMetadata", "")},
		}, nil)

	g := NewIdentityRegistry(source, discardLogger())
	values, err := g.Metadata(context.Background(), testChainID, big.NewInt(7), []string{"agentName", "agentDomain", "agentEndpoint"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"agentName": "translator"}, values)
}

func TestMetadata_NoKeys(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	g := NewIdentityRegistry(chainmocks.NewMockSource(ctrl), discardLogger())
	values, err := g.Metadata(context.Background(), testChainID, big.NewInt(7), nil)
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestParseAgentRegistered(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	event := identityABI.Events["AgentRegistered"]
	data, err := event.Inputs.NonIndexed().Pack("ipfs://bafyagentcard")
	require.NoError(t, err)

	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	logs := []chain.Log{
		// Unrelated log from another contract in the same receipt.
		{Address: testValidationAddr, Topics: []common.Hash{common.HexToHash("0x01")}},
		{
			Address: testIdentityAddr,
			Topics: []common.Hash{
				event.ID,
				common.BigToHash(big.NewInt(42)),
				common.BytesToHash(owner.Bytes()),
			},
			Data: data,
		},
	}

	g := NewIdentityRegistry(source, discardLogger())
	agent, err := g.ParseAgentRegistered(testChainID, logs)
	require.NoError(t, err)

	assert.Equal(t, int64(42), agent.AgentID.Int64())
	assert.Equal(t, owner, agent.Owner)
	assert.Equal(t, "ipfs://bafyagentcard", agent.TokenURI)
}

func TestParseAgentRegistered_NoEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	g := NewIdentityRegistry(source, discardLogger())
	_, err := g.ParseAgentRegistered(testChainID, []chain.Log{})
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}
