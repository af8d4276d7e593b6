package association

import (
	"context"
	"testing"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/interop"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigner(t *testing.T) *LocalSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewLocalSigner(key)
}

func TestBuild_Unsigned(t *testing.T) {
	initiator := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	approver := common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")

	sar, err := Build(context.Background(), BuildParams{
		ChainID:   11155111,
		Initiator: initiator,
		Approver:  approver,
		ValidAt:   1_700_000_000,
	})
	require.NoError(t, err)

	assert.Empty(t, sar.InitiatorSignature)
	assert.Empty(t, sar.ApproverSignature)
	assert.NotNil(t, sar.InitiatorSignature, "empty slots are non-nil for wire encoding")
	assert.Equal(t, KeyTypeECDSA, sar.InitiatorKeyType)
	assert.Equal(t, KeyTypeECDSA, sar.ApproverKeyType)
	assert.Equal(t, DefaultInterfaceID, sar.Record.InterfaceID)
	assert.Zero(t, sar.RevokedAt)

	// Party addresses round-trip through the interoperable encoding.
	parsed, ok := interop.TryParse(sar.Record.Initiator)
	require.True(t, ok)
	assert.Equal(t, initiator, parsed.Address)
	assert.Equal(t, uint64(11155111), parsed.ChainID.Uint64())
}

func TestBuild_SignAsInitiator(t *testing.T) {
	signer := newSigner(t)
	approver := common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")

	sar, err := Build(context.Background(), BuildParams{
		ChainID:   11155111,
		Initiator: signer.Address(),
		Approver:  approver,
		ValidAt:   1_700_000_000,
		SignAs:    RoleInitiator,
		Signer:    signer,
	})
	require.NoError(t, err)

	require.Len(t, sar.InitiatorSignature, 65)
	assert.Empty(t, sar.ApproverSignature)
	assert.Contains(t, []byte{27, 28}, sar.InitiatorSignature[64],
		"recovery byte should use the wallet convention")

	recovered, err := RecoverSigner(ComputeID(sar.Record), sar.InitiatorSignature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestBuild_SignAsApprover(t *testing.T) {
	signer := newSigner(t)
	initiator := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	sar, err := Build(context.Background(), BuildParams{
		ChainID:   11155111,
		Initiator: initiator,
		Approver:  signer.Address(),
		ValidAt:   1_700_000_000,
		SignAs:    RoleApprover,
		Signer:    signer,
	})
	require.NoError(t, err)

	assert.Empty(t, sar.InitiatorSignature)
	require.Len(t, sar.ApproverSignature, 65)

	recovered, err := RecoverSigner(ComputeID(sar.Record), sar.ApproverSignature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestBuild_RejectsMismatchedSigner(t *testing.T) {
	signer := newSigner(t)

	_, err := Build(context.Background(), BuildParams{
		ChainID:   11155111,
		Initiator: common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		Approver:  common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"),
		ValidAt:   1_700_000_000,
		SignAs:    RoleInitiator,
		Signer:    signer,
	})
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
	assert.Contains(t, err.Error(), "does not match initiator")
}

func TestBuild_MalformedParams(t *testing.T) {
	signer := newSigner(t)
	valid := BuildParams{
		ChainID:   11155111,
		Initiator: common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		Approver:  common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"),
		ValidAt:   1_700_000_000,
	}

	tests := []struct {
		name    string
		mutate  func(p *BuildParams)
		wantErr string
	}{
		{
			name:    "zero chain id",
			mutate:  func(p *BuildParams) { p.ChainID = 0 },
			wantErr: "chain id must be set",
		},
		{
			name:    "zero initiator",
			mutate:  func(p *BuildParams) { p.Initiator = common.Address{} },
			wantErr: "initiator address must be set",
		},
		{
			name:    "zero approver",
			mutate:  func(p *BuildParams) { p.Approver = common.Address{} },
			wantErr: "approver address must be set",
		},
		{
			name:    "window ends before it starts",
			mutate:  func(p *BuildParams) { p.ValidUntil = p.ValidAt - 1 },
			wantErr: "precedes validAt",
		},
		{
			name:    "role without signer",
			mutate:  func(p *BuildParams) { p.SignAs = RoleInitiator },
			wantErr: "signer required",
		},
		{
			name:    "signer without role",
			mutate:  func(p *BuildParams) { p.Signer = signer },
			wantErr: "without a role",
		},
		{
			name: "unknown role",
			mutate: func(p *BuildParams) {
				p.Signer = signer
				p.SignAs = Role("witness")
			},
			wantErr: "unknown signer role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := Build(context.Background(), p)
			require.Error(t, err)
			assert.True(t, fault.IsMalformed(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSignedRecord_Attach(t *testing.T) {
	sar, err := Build(context.Background(), BuildParams{
		ChainID:   11155111,
		Initiator: common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		Approver:  common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"),
		ValidAt:   1_700_000_000,
	})
	require.NoError(t, err)

	assert.False(t, sar.Signed(RoleInitiator))
	require.NoError(t, sar.Attach(RoleInitiator, []byte{0x01}))
	assert.True(t, sar.Signed(RoleInitiator))
	assert.False(t, sar.Signed(RoleApprover))

	err = sar.Attach(RoleApprover, nil)
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))

	err = sar.Attach(Role("witness"), []byte{0x01})
	require.Error(t, err)
}
