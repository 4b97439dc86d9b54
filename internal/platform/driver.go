// Package platform provides driver interfaces shared by the payout and
// artifact subsystems: a chain RPC client for the Base settlement rail, a
// signer abstraction backing the KMS payout key, and a content-addressed
// reference type used to describe artifact blobs without storing their
// bytes in the control plane.
package platform

import (
	"context"
	"math/big"
	"time"
)

// Driver is the base interface for all platform drivers: nameable,
// startable, stoppable, and health-checkable.
type Driver interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}

// ChainID identifies a settlement chain. Proofwork only settles on Base, but
// the type is kept open for future rails.
type ChainID string

const (
	ChainBase ChainID = "base"
)

// RPCDriver provides the subset of chain RPC calls the payout pipeline needs
// to broadcast and confirm transfers.
type RPCDriver interface {
	Driver

	SupportedChains() []ChainID

	// NonceForPending returns eth_getTransactionCount("pending") for address.
	NonceForPending(ctx context.Context, chain ChainID, address string) (uint64, error)

	// GetTransaction returns transaction/receipt data by hash. Returns
	// ErrTransactionPending when no receipt exists yet.
	GetTransaction(ctx context.Context, chain ChainID, txHash string) (*Transaction, error)

	// SendRawTransaction broadcasts a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, chain ChainID, rawTx []byte) (string, error)

	// CallContract executes a read-only contract call (token balance checks).
	CallContract(ctx context.Context, chain ChainID, call ContractCall) ([]byte, error)

	// EstimateGas estimates gas for a transfer.
	EstimateGas(ctx context.Context, chain ChainID, call ContractCall) (uint64, error)

	// GetTokenBalance returns the ERC-20 balance for an address.
	GetTokenBalance(ctx context.Context, chain ChainID, token, address string) (*big.Int, error)
}

// Transaction represents a chain transaction/receipt.
type Transaction struct {
	Hash          string    `json:"hash"`
	BlockHeight   uint64    `json:"block_height"`
	Confirmations uint64    `json:"confirmations"`
	Status        TxStatus  `json:"status"`
	RevertReason  string    `json:"revert_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TxStatus represents transaction execution status.
type TxStatus string

const (
	TxStatusPending TxStatus = "pending"
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// ContractCall represents a contract invocation (ERC-20 transfer or splitter call).
type ContractCall struct {
	To       string   `json:"to"`
	From     string   `json:"from,omitempty"`
	Data     []byte   `json:"data"`
	Value    *big.Int `json:"value,omitempty"`
	Gas      uint64   `json:"gas,omitempty"`
	GasPrice *big.Int `json:"gas_price,omitempty"`
}

// ErrTransactionPending is returned by GetTransaction before a receipt exists.
type ErrTransactionPending struct{ Hash string }

func (e ErrTransactionPending) Error() string { return "transaction pending: " + e.Hash }

// =====================================================
// Signing
// =====================================================

// KeyAlgorithm specifies the cryptographic algorithm of a managed key.
type KeyAlgorithm string

const (
	KeyAlgorithmECDSASecp256k1 KeyAlgorithm = "ecdsa-secp256k1"
)

// SignerDriver abstracts a KMS-backed transaction signer. Proofwork never
// holds private key material directly; every signature is requested by key
// ID (KMS_PAYOUT_KEY_ID).
type SignerDriver interface {
	Driver

	// Sign signs a transaction digest with the named key and returns the
	// raw signature.
	Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error)

	// PublicAddress returns the chain address derived from the key's public
	// component, used to resolve the platform-fee and proofwork-fee wallets.
	PublicAddress(ctx context.Context, keyID string) (string, error)
}

// =====================================================
// Content-addressed artifact references
// =====================================================

// ContentDriver exposes existence/metadata checks against the external blob
// store. Proofwork never reads or writes artifact bytes itself; it only
// verifies a storage_key resolves to a scanned, owned object before trusting
// it in a submission.
type ContentDriver interface {
	Driver

	Exists(ctx context.Context, storageKey string) (bool, error)
	GetMetadata(ctx context.Context, storageKey string) (*ContentMetadata, error)
}

// ContentMetadata mirrors the external object store's view of a blob,
// including the virus scanner's verdict once the scan has completed.
type ContentMetadata struct {
	StorageKey  string    `json:"storage_key"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	ScanDone    bool      `json:"scan_done"`
	Blocked     bool      `json:"blocked"`
	CreatedAt   time.Time `json:"created_at"`
}

// ContentRef is the in-domain handle to a blob: enough to validate a
// submission's artifactIndex without touching bytes.
type ContentRef struct {
	StorageKey  string `json:"storage_key"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

func (r ContentRef) IsEmpty() bool { return r.StorageKey == "" }

// =====================================================
// Registry
// =====================================================

// Registry holds the drivers the payout pipeline and artifact service need.
// Nil entries are valid: callers fall back to failing fast with a
// payout_address_missing-style error rather than panicking.
type Registry struct {
	rpc     RPCDriver
	signer  SignerDriver
	content ContentDriver
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) SetRPC(d RPCDriver)         { r.rpc = d }
func (r *Registry) RPC() RPCDriver             { return r.rpc }
func (r *Registry) SetSigner(d SignerDriver)   { r.signer = d }
func (r *Registry) Signer() SignerDriver       { return r.signer }
func (r *Registry) SetContent(d ContentDriver) { r.content = d }
func (r *Registry) Content() ContentDriver     { return r.content }

func (r *Registry) StartAll(ctx context.Context) error {
	for _, d := range r.all() {
		if d == nil {
			continue
		}
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) StopAll(ctx context.Context) error {
	drivers := r.all()
	var lastErr error
	for i := len(drivers) - 1; i >= 0; i-- {
		if drivers[i] == nil {
			continue
		}
		if err := drivers[i].Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (r *Registry) all() []Driver {
	return []Driver{r.rpc, r.signer, r.content}
}
