package salmon

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// Transformer XORs data with the AES-CTR keystream of one (key, nonce) pair.
//
// The counter for the block holding byte offset pos is the 16-byte big-endian
// value (nonce || 0^64) + pos/16 mod 2^128: the nonce fills the high 8 bytes
// and the block index the low 8 bytes. Every provider produces identical
// output for the same inputs.
type Transformer interface {
	// XORKeyStream transforms src into dst, where src[0] sits at logical
	// offset pos. dst and src may overlap exactly.
	XORKeyStream(dst, src []byte, pos int64)

	// Provider returns the concrete provider.
	Provider() ProviderType
}

// counterAt returns the counter block for blockIndex.
func counterAt(nonce []byte, blockIndex uint64) [BlockSize]byte {
	var ctr [BlockSize]byte
	copy(ctr[:NonceLength], nonce)
	addCounter(&ctr, blockIndex)
	return ctr
}

// addCounter adds v to the 128-bit big-endian counter, wrapping at 2^128.
func addCounter(ctr *[BlockSize]byte, v uint64) {
	carry := v
	for i := BlockSize - 1; i >= 0 && carry != 0; i-- {
		sum := uint64(ctr[i]) + (carry & 0xff)
		ctr[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
}

// blockTransformer encrypts each counter block on its own.
type blockTransformer struct {
	block cipher.Block
	nonce []byte
}

func (t *blockTransformer) XORKeyStream(dst, src []byte, pos int64) {
	var ks [BlockSize]byte
	blockIndex := uint64(pos / BlockSize)
	offset := int(pos % BlockSize)
	for i := 0; i < len(src); {
		ctr := counterAt(t.nonce, blockIndex)
		t.block.Encrypt(ks[:], ctr[:])
		n := BlockSize - offset
		if n > len(src)-i {
			n = len(src) - i
		}
		for j := 0; j < n; j++ {
			dst[i+j] = src[i+j] ^ ks[offset+j]
		}
		i += n
		offset = 0
		blockIndex++
	}
}

func (t *blockTransformer) Provider() ProviderType { return ProviderBlock }

// ctrTransformer uses the crypto/cipher CTR stream, which runs on the AES
// instructions of the CPU when present.
type ctrTransformer struct {
	block cipher.Block
	nonce []byte
}

func (t *ctrTransformer) XORKeyStream(dst, src []byte, pos int64) {
	if len(src) == 0 {
		return
	}
	ctr := counterAt(t.nonce, uint64(pos/BlockSize))
	stream := cipher.NewCTR(t.block, ctr[:])
	if skip := int(pos % BlockSize); skip > 0 {
		var discard [BlockSize]byte
		stream.XORKeyStream(discard[:skip], discard[:skip])
	}
	stream.XORKeyStream(dst, src)
}

func (t *ctrTransformer) Provider() ProviderType { return ProviderCTR }

// hasAESInstructions reports hardware AES support.
func hasAESInstructions() bool {
	return cpuid.CPU.Supports(cpuid.AESNI) || cpuid.CPU.Supports(cpuid.AESARM)
}

// ResolveProvider maps ProviderAuto to a concrete provider.
func ResolveProvider(p ProviderType) ProviderType {
	if p != ProviderAuto {
		return p
	}
	if hasAESInstructions() {
		return ProviderCTR
	}
	return ProviderBlock
}

// NewTransformer creates a keystream transformer for key and nonce.
func NewTransformer(provider ProviderType, key, nonce []byte) (Transformer, error) {
	if err := ValidateKey(key, KeyLength); err != nil {
		return nil, err
	}
	if err := ValidateNonce(nonce); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	n := append([]byte(nil), nonce...)
	switch ResolveProvider(provider) {
	case ProviderBlock:
		return &blockTransformer{block: block, nonce: n}, nil
	case ProviderCTR:
		return &ctrTransformer{block: block, nonce: n}, nil
	default:
		return nil, NewValidationError("provider", provider, "unknown provider")
	}
}
