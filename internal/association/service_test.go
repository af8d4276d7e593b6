package association

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	chainmocks "github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/mocks"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/interop"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testChainID = uint64(11155111)

var testProxy = common.HexToAddress("0x9999999999999999999999999999999999999999")

func newTestService(source chain.Source) *Service {
	return NewService(source, newTestVerifier(nil), discardLogger())
}

func expectEndpoint(source *chainmocks.MockSource) {
	source.EXPECT().Endpoint(testChainID).
		Return(chain.Endpoint{
			ChainID:          testChainID,
			Name:             "sepolia",
			RPCURL:           "http://localhost:8545",
			AssociationProxy: testProxy,
		}, nil).
		AnyTimes()
}

func TestPrepareStoreTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	sar, _, _ := buildDualSigned(t, testNow-10, 0)
	svc := newTestService(source)

	tx, err := svc.PrepareStoreTx(context.Background(), testChainID, sar)
	require.NoError(t, err)

	assert.Equal(t, testChainID, tx.ChainID)
	assert.Equal(t, testProxy, tx.To)
	assert.Nil(t, tx.Value)

	method := proxyABI.Methods["storeAssociation"]
	require.Equal(t, method.ID, []byte(tx.Data[:4]))

	out, err := method.Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	decoded := *abi.ConvertType(out[0], new(sarTuple)).(*sarTuple)

	assert.Equal(t, sar.Record.Initiator, decoded.Record.Initiator)
	assert.Equal(t, sar.Record.Approver, decoded.Record.Approver)
	assert.Equal(t, sar.Record.ValidAt, decoded.Record.ValidAt.Uint64())
	assert.Equal(t, sar.InitiatorSignature, decoded.InitiatorSignature)
	assert.Equal(t, sar.ApproverSignature, decoded.ApproverSignature)
	assert.Equal(t, sar.InitiatorKeyType, decoded.InitiatorKeyType)
}

func TestPrepareStoreTx_RejectsUnstorableRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	sar, _, _ := buildDualSigned(t, testNow-10, 0)
	sar.ApproverSignature = nil

	_, err := newTestService(source).PrepareStoreTx(context.Background(), testChainID, sar)
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
	assert.Contains(t, err.Error(), ReasonMissingApprover)
}

func TestPrepareStoreTx_NoProxyConfigured(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	source.EXPECT().Endpoint(testChainID).
		Return(chain.Endpoint{ChainID: testChainID, RPCURL: "http://localhost:8545"}, nil)

	sar, _, _ := buildDualSigned(t, testNow-10, 0)

	_, err := newTestService(source).PrepareStoreTx(context.Background(), testChainID, sar)
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
	assert.Contains(t, err.Error(), "no association proxy")
}

func TestPrepareRevokeTx_ExplicitTimestamp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	id := common.HexToHash("0x1234000000000000000000000000000000000000000000000000000000005678")

	tx, err := newTestService(source).PrepareRevokeTx(context.Background(), testChainID, id, testNow)
	require.NoError(t, err)
	assert.Equal(t, testProxy, tx.To)

	method := proxyABI.Methods["revokeAssociation"]
	require.Equal(t, method.ID, []byte(tx.Data[:4]))

	out, err := method.Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, [32]byte(id), out[0].([32]byte))
	assert.Equal(t, testNow, out[1].(*big.Int).Uint64())
}

func TestPrepareRevokeTx_DefaultsToChainNow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	const chainNow = uint64(1_700_000_100)

	backend := chainmocks.NewMockBackend(ctrl)
	backend.EXPECT().HeadTimestamp(gomock.Any()).Return(chainNow, nil)

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	id := common.HexToHash("0x01")
	tx, err := newTestService(source).PrepareRevokeTx(context.Background(), testChainID, id, 0)
	require.NoError(t, err)

	out, err := proxyABI.Methods["revokeAssociation"].Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, chainNow-clockSkewBuffer, out[1].(*big.Int).Uint64())
}

func TestPrepareRevokeTx_ZeroID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	_, err := newTestService(source).PrepareRevokeTx(context.Background(), testChainID, common.Hash{}, testNow)
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
	assert.Contains(t, err.Error(), "association id must be set")
}

func TestProposeValidAt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := chainmocks.NewMockBackend(ctrl)
	backend.EXPECT().HeadTimestamp(gomock.Any()).Return(uint64(5000), nil)

	source := chainmocks.NewMockSource(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	validAt, err := newTestService(source).ProposeValidAt(context.Background(), testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000-clockSkewBuffer), validAt)
}

func TestProposeValidAt_UpstreamFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := chainmocks.NewMockBackend(ctrl)
	backend.EXPECT().HeadTimestamp(gomock.Any()).Return(uint64(0), errors.New("node down"))

	source := chainmocks.NewMockSource(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	_, err := newTestService(source).ProposeValidAt(context.Background(), testChainID)
	require.Error(t, err)
	assert.True(t, fault.IsUpstream(err))
}

func packAssociationsResponse(t *testing.T, sars []*SignedRecord) []byte {
	t.Helper()
	tuples := make([]sarTuple, len(sars))
	for i, sar := range sars {
		tuples[i] = toSARTuple(sar)
	}
	out, err := proxyABI.Methods["getAssociationsForAccount"].Outputs.Pack(tuples)
	require.NoError(t, err)
	return out
}

func TestAssociationsForAccount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// The queried account initiates the first record and approves the
	// second. The second record's initiator bytes are legacy opaque data.
	asInitiator, _, _ := buildDualSigned(t, testNow-10, 0)
	account := asInitiator.Record.Initiator

	legacy := &SignedRecord{
		Record: Record{
			Initiator:   []byte{0xde, 0xad},
			Approver:    account,
			ValidAt:     testNow - 100,
			InterfaceID: DefaultInterfaceID,
		},
		InitiatorKeyType:   KeyTypeECDSA,
		ApproverKeyType:    KeyTypeECDSA,
		InitiatorSignature: []byte{0x01},
		ApproverSignature:  []byte{0x02},
	}

	revoked, _, _ := buildDualSigned(t, testNow-10, 0)
	revoked.Record.Initiator = account
	revoked.RevokedAt = testNow - 1

	response := packAssociationsResponse(t, []*SignedRecord{asInitiator, legacy, revoked})

	backend := chainmocks.NewMockBackend(ctrl)
	backend.EXPECT().Call(gomock.Any(), testProxy, gomock.Any()).Return(response, nil)

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	associations, err := newTestService(source).AssociationsForAccount(context.Background(), testChainID, account)
	require.NoError(t, err)
	require.Len(t, associations, 3)

	first := associations[0]
	assert.Equal(t, RoleInitiator, first.Role)
	assert.Equal(t, asInitiator.Record.Approver, first.Counterparty)
	assert.Contains(t, first.CounterpartyDisplay, "eip155:11155111:")
	assert.True(t, first.Active)
	assert.Equal(t, ComputeID(asInitiator.Record), first.ID)

	second := associations[1]
	assert.Equal(t, RoleApprover, second.Role)
	assert.Equal(t, []byte{0xde, 0xad}, second.Counterparty)
	assert.Equal(t, "0xdead", second.CounterpartyDisplay,
		"opaque counterparty bytes fall back to raw hex")
	assert.True(t, second.Active)

	third := associations[2]
	assert.False(t, third.Active, "revoked records are returned but inactive")
}

func TestAssociationsForAccount_UpstreamFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := chainmocks.NewMockBackend(ctrl)
	backend.EXPECT().Call(gomock.Any(), testProxy, gomock.Any()).Return(nil, errors.New("node down"))

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	account, err := interop.Format(big.NewInt(int64(testChainID)),
		common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	require.NoError(t, err)

	_, err = newTestService(source).AssociationsForAccount(context.Background(), testChainID, account)
	require.Error(t, err)
	assert.True(t, fault.IsUpstream(err))
}

func TestAssociationsForAccount_EmptyAccount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)

	_, err := newTestService(source).AssociationsForAccount(context.Background(), testChainID, nil)
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
}
