package api

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/vitwit/gasstation/types"
	"github.com/vitwit/gasstation/utils"
	"github.com/vitwit/gasstation/utils/eip712"
)

const (
	HeaderCallerAddress = "X-Caller-Address"
	HeaderSignature     = "X-Caller-Signature"
	HeaderSignatureType = "X-Caller-Signature-Type"
	HeaderIssuedAt      = "X-Caller-Issued-At"
	HeaderNonce         = "X-Caller-Nonce"

	SignatureTypeEIP712   = "eip712"
	SignatureTypePersonal = "personal_sign"
)

// IdentityResolver establishes which address issued a request. body is the
// raw request body.
type IdentityResolver interface {
	Resolve(c *gin.Context, body []byte) (types.Address, error)
}

// HeaderResolver trusts the X-Caller-Address header. Use it only behind a
// gateway that authenticates callers and sets the header itself.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(c *gin.Context, _ []byte) (types.Address, error) {
	raw := c.GetHeader(HeaderCallerAddress)
	if raw == "" {
		return types.Address{}, fmt.Errorf("missing %s header", HeaderCallerAddress)
	}
	return types.HexToAddress(raw)
}

// DefaultMaxSkew is how far a signed request's issue time may be from the
// server clock when no other bound is configured.
const DefaultMaxSkew = 5 * time.Minute

const maxNonceLength = 128

// SignatureResolver recovers the caller from a secp256k1 signature over the
// request operation, body, issue time and nonce. Each signed request is
// accepted once; a repeat within the skew window is rejected.
type SignatureResolver struct {
	Domain  eip712.Domain
	MaxSkew time.Duration
	Now     func() time.Time

	once   sync.Once
	replay *replayCache
}

func NewSignatureResolver(stationID, chainID string, maxSkew time.Duration) *SignatureResolver {
	return &SignatureResolver{
		Domain: eip712.Domain{
			Name:    "GasStation",
			Version: "1",
			ChainID: chainID,
			Station: stationID,
		},
		MaxSkew: maxSkew,
		Now:     time.Now,
	}
}

func (r *SignatureResolver) Resolve(c *gin.Context, body []byte) (types.Address, error) {
	r.once.Do(func() { r.replay = newReplayCache() })

	sig := c.GetHeader(HeaderSignature)
	if sig == "" {
		return types.Address{}, fmt.Errorf("missing %s header", HeaderSignature)
	}

	issuedAt, err := strconv.ParseInt(c.GetHeader(HeaderIssuedAt), 10, 64)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid %s header", HeaderIssuedAt)
	}

	nonce := c.GetHeader(HeaderNonce)
	if len(nonce) > maxNonceLength {
		return types.Address{}, fmt.Errorf("%s longer than %d bytes", HeaderNonce, maxNonceLength)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	maxSkew := r.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	issued := time.Unix(issuedAt, 0)
	skew := now().Sub(issued)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return types.Address{}, fmt.Errorf("request issued %s away from server time", skew.Round(time.Second))
	}

	req := eip712.Request{
		Operation: Operation(c),
		Body:      body,
		IssuedAt:  issuedAt,
		Nonce:     nonce,
	}

	var (
		digest common.Hash
		caller types.Address
	)
	switch c.GetHeader(HeaderSignatureType) {
	case "", SignatureTypeEIP712:
		digest, err = eip712.Digest(r.Domain, req)
		if err != nil {
			return types.Address{}, err
		}
		caller, err = recoverTyped(digest, sig)
	case SignatureTypePersonal:
		msg := PersonalMessage(r.Domain.Station, req)
		digest = common.BytesToHash(accounts.TextHash(msg))
		caller, err = utils.RecoverPersonalMessage(msg, sig)
	default:
		return types.Address{}, fmt.Errorf("unsupported signature type %q", c.GetHeader(HeaderSignatureType))
	}
	if err != nil {
		return types.Address{}, err
	}

	if claimed := c.GetHeader(HeaderCallerAddress); claimed != "" {
		want, err := types.HexToAddress(claimed)
		if err != nil {
			return types.Address{}, err
		}
		if want != caller {
			return types.Address{}, fmt.Errorf("signature was produced by %s, not %s", caller, want)
		}
	}

	// Past issued+maxSkew the skew check rejects the request on its own.
	if !r.replay.claim(digest, issued.Add(maxSkew+time.Second), now()) {
		return types.Address{}, fmt.Errorf("signed request was already used")
	}
	return caller, nil
}

func recoverTyped(digest common.Hash, sig string) (types.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return types.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	pub, err := eip712.RecoverSigner(digest, raw)
	if err != nil {
		return types.Address{}, err
	}
	return utils.AddressFromPublicKey(*pub), nil
}

// Operation is the "METHOD /path" string a signature commits to.
func Operation(c *gin.Context) string {
	return c.Request.Method + " " + c.Request.URL.Path
}

// PersonalMessage is the text signed with personal_sign for wallets that
// cannot produce typed data.
func PersonalMessage(station string, req eip712.Request) []byte {
	return []byte(fmt.Sprintf("gas station %s\n%s\nbody %s\nissued %d\nnonce %s",
		station, req.Operation, hexutil.Encode(crypto.Keccak256(req.Body)), req.IssuedAt, req.Nonce))
}
