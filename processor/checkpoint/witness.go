package checkpoint

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digitorus/timestamp"
)

// RFC3161Witness is an RFC 3161 Time Stamping Authority adapted from
// the teacher's internal/tsa package: it signs the hash of the event a
// processor's checkpoint advanced to so a later audit can detect whether
// a stored Checkpoint was altered after the fact. Unlike the teacher's
// version (which timestamped case/document audit log hashes) this one
// timestamps Processor Checkpoint hashes, and it drops the
// government-agency-specific naming (PolicyOID, Subject fields) in
// favor of a plain organization name.
type RFC3161Witness struct {
	orgName       string
	cert          *x509.Certificate
	privateKey    crypto.Signer
	serialCounter uint64
	mu            sync.RWMutex
}

// NewRFC3161Witness generates a self-signed TSA certificate for orgName
// and returns a ready-to-use Witness. In production the certificate and
// key should come from a real PKI rather than being generated here —
// the teacher's NewServerWithGeneratedCert carried the same caveat.
func NewRFC3161Witness(orgName string) (*RFC3161Witness, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: generate TSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: generate TSA serial: %w", err)
	}

	tsaExtKeyUsage := asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{orgName},
			CommonName:   fmt.Sprintf("%s checkpoint witness", orgName),
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		UnknownExtKeyUsage:    []asn1.ObjectIdentifier{tsaExtKeyUsage},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create TSA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parse TSA certificate: %w", err)
	}

	return &RFC3161Witness{
		orgName:       orgName,
		cert:          cert,
		privateKey:    privateKey,
		serialCounter: uint64(time.Now().UnixNano()),
	}, nil
}

func (w *RFC3161Witness) Type() string { return "rfc3161" }

// Timestamp signs hash (hex-encoded) and the checkpoint's lastSequence
// into an RFC 3161-shaped token. The token's own ASN.1 framing mirrors
// timestampInfo/messageImprint from the teacher's tsa package, trimmed
// to the fields a checkpoint witness needs.
func (w *RFC3161Witness) Timestamp(ctx context.Context, hash string, lastSequence int64) ([]byte, string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint: invalid hash: %w", err)
	}

	serial := atomic.AddUint64(&w.serialCounter, 1)
	info := checkpointTimestampInfo{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}},
			HashedMessage: hashBytes,
		},
		SerialNumber: big.NewInt(int64(serial)),
		GenTime:      time.Now().UTC(),
		LastSequence: lastSequence,
	}

	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint: marshal timestamp info: %w", err)
	}

	digest := sha256.Sum256(infoDER)
	signature, err := w.privateKey.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint: sign timestamp: %w", err)
	}

	token, err := asn1.Marshal(checkpointToken{Info: infoDER, Signature: signature, Certificate: w.cert.Raw})
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint: marshal timestamp token: %w", err)
	}
	return token, fmt.Sprintf("local-tsa://%s/%d", w.orgName, serial), nil
}

func (w *RFC3161Witness) Verify(ctx context.Context, hash string, proof []byte) (bool, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("checkpoint: invalid hash: %w", err)
	}

	var token checkpointToken
	if _, err := asn1.Unmarshal(proof, &token); err != nil {
		return false, fmt.Errorf("checkpoint: parse timestamp token: %w", err)
	}
	var info checkpointTimestampInfo
	if _, err := asn1.Unmarshal(token.Info, &info); err != nil {
		return false, fmt.Errorf("checkpoint: parse timestamp info: %w", err)
	}
	if len(info.MessageImprint.HashedMessage) != len(hashBytes) {
		return false, nil
	}
	for i := range hashBytes {
		if info.MessageImprint.HashedMessage[i] != hashBytes[i] {
			return false, nil
		}
	}

	digest := sha256.Sum256(token.Info)
	cert, err := x509.ParseCertificate(token.Certificate)
	if err != nil {
		return false, fmt.Errorf("checkpoint: parse embedded certificate: %w", err)
	}
	rsaPub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("checkpoint: unsupported certificate key type %T", cert.PublicKey)
	}
	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], token.Signature); err != nil {
		return false, nil
	}
	return true, nil
}

var _ Witness = (*RFC3161Witness)(nil)

// buildExternalRequest builds a github.com/digitorus/timestamp request
// for hash, the first piece of talking to an external RFC 3161 TSA as
// an alternative to the self-signed RFC3161Witness above. It only
// builds the request: nothing sends it, and nothing in the package
// calls it. Kept unexported as an extension point rather than built out
// into a full HTTP client — no SPEC_FULL component requires an
// externally reachable TSA today.
func buildExternalRequest(hash []byte) (*timestamp.Request, error) {
	return &timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: hash,
	}, nil
}

type checkpointTimestampInfo struct {
	Version        int
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time
	LastSequence   int64
}

type messageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

type checkpointToken struct {
	Info        []byte
	Signature   []byte
	Certificate []byte `asn1:"optional"`
}
