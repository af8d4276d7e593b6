package server

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/identity"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/validation"
)

// Associations prepares association lifecycle transactions and answers
// account-scoped queries.
type Associations interface {
	ProposeValidAt(ctx context.Context, chainID uint64) (uint64, error)
	PrepareStoreTx(ctx context.Context, chainID uint64, sar *association.SignedRecord) (*chain.TxRequest, error)
	PrepareRevokeTx(ctx context.Context, chainID uint64, id common.Hash, revokedAt uint64) (*chain.TxRequest, error)
	AssociationsForAccount(ctx context.Context, chainID uint64, account []byte) ([]association.AccountAssociation, error)
}

// RecordVerifier checks both signatures of a signed association record.
type RecordVerifier interface {
	Verify(ctx context.Context, sar *association.SignedRecord) (association.Result, error)
}

// DraftService exchanges half-signed records between the two parties.
type DraftService interface {
	Create(ctx context.Context, chainID uint64, sar *association.SignedRecord) (*model.AssociationDraft, error)
	Get(ctx context.Context, id uuid.UUID) (*model.AssociationDraft, error)
	Attach(ctx context.Context, id uuid.UUID, role association.Role, sig []byte) (*model.AssociationDraft, error)
	List(ctx context.Context, account []byte) ([]model.AssociationDraft, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Validations prepares validation protocol transactions and reads
// reconciled validation state.
type Validations interface {
	PrepareRequestTx(ctx context.Context, params validation.RequestParams) (*validation.PreparedRequest, error)
	PrepareResponseTx(ctx context.Context, params validation.ResponseParams) (*chain.TxRequest, error)
	Status(ctx context.Context, chainID uint64, requestHash common.Hash) (model.ValidationStatus, error)
	AgentValidations(ctx context.Context, chainID uint64, agentID *big.Int) ([]model.ValidationStatus, error)
	ValidatorView(ctx context.Context, chainID uint64, validator common.Address) ([]validation.ReconciledValidation, error)
}

// Agents resolves registered agents and handles registration.
type Agents interface {
	Resolve(ctx context.Context, chainID uint64, agentID *big.Int) (*identity.ResolvedAgent, error)
	Register(ctx context.Context, params identity.RegisterParams) (*identity.RegisterResult, error)
	PrepareRegisterTx(chainID uint64, tokenURI string) (*chain.TxRequest, error)
}
