// Copyright 2019 Lanikai Labs. All rights reserved.

// Package srtp implements Secure RTP/SRTCP (RFC 3711), the confidentiality
// and authentication transform optionally inserted into the reception
// chain ahead of the RTP validator (reception-chain flags SRTP,
// SRTP-null-cipher, SRTP-authenticate).
//
// Grounded on the teacher's internal/rtp/srtp.go cryptoContext, which
// implemented the same transform keyed off its own package-private
// rtpHeader. This package carries that implementation forward unchanged
// (AES-CM default cipher, HMAC-SHA1 default auth, the same key-derivation
// PRF) but operates on the shared internal/wire.Header type and on raw
// wire bytes, so it can sit in internal/dispatch's handler chain rather
// than being wired into one hand-rolled rtpWriter/rtpReader pair.
package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"hash"
	"sync"

	"golang.org/x/xerrors"
)

const (
	// Default SRTP key management parameters.
	// See https://tools.ietf.org/html/rfc3711#section-8.2
	authKeyLength    = 20 // n_a = 160 bits
	authTagLength    = 10 // n_tag = 80 bits
	encryptKeyLength = 16 // n_e = 128 bits
	saltKeyLength    = 14 // n_s = 112 bits

	// E-flag combined with the SRTCP index.
	eFlagMask = 1 << 31
)

// An encryptFunc encrypts an RTP/RTCP payload in place, using a unique
// keystream for each combination of SSRC and packet index.
type encryptFunc func(payload []byte, ssrc uint32, index uint64)

// An authFunc computes the authentication tag for integrity-protected data.
type authFunc func(m []byte) []byte

// Context is the cryptographic state for one direction (read or write) of
// one SRTP/SRTCP session. Per RFC 3711, the rollover counter and SRTCP
// index are *not* stored here; callers track those and pass the extended
// packet index into every call.
type Context struct {
	encryptSRTP       encryptFunc
	encryptSRTCP      encryptFunc
	authenticateSRTP  authFunc
	authenticateSRTCP authFunc
}

// NewContext derives session keys from the given master key/salt using
// AES-CM encryption and HMAC-SHA1 authentication, the default SRTP
// transforms (RFC 3711 section 4.1.1, 4.2).
func NewContext(masterKey, masterSalt []byte) *Context {
	return newContext(masterKey, masterSalt, aesCounterMode, hmacSHA1)
}

// NewNullCipherContext derives a context that skips encryption but still
// computes authentication tags, for the SRTP-null-cipher reception-chain
// flag (RFC 3711 section 4.1.3 permits the null cipher as a valid, if
// unusual, transform).
func NewNullCipherContext(masterKey, masterSalt []byte) *Context {
	return newContext(masterKey, masterSalt, nullCipher, hmacSHA1)
}

func newContext(masterKey, masterSalt []byte, encrypt encryptTransform, auth authTransform) *Context {
	var (
		srtpEncryptKey  = deriveKey(masterKey, masterSalt, 0, 0x00, encryptKeyLength)
		srtpAuthKey     = deriveKey(masterKey, masterSalt, 0, 0x01, authKeyLength)
		srtpSaltKey     = deriveKey(masterKey, masterSalt, 0, 0x02, saltKeyLength)
		srtcpEncryptKey = deriveKey(masterKey, masterSalt, 0, 0x03, encryptKeyLength)
		srtcpAuthKey    = deriveKey(masterKey, masterSalt, 0, 0x04, authKeyLength)
		srtcpSaltKey    = deriveKey(masterKey, masterSalt, 0, 0x05, saltKeyLength)
	)
	return &Context{
		encryptSRTP:       encrypt(srtpEncryptKey, srtpSaltKey),
		encryptSRTCP:      encrypt(srtcpEncryptKey, srtcpSaltKey),
		authenticateSRTP:  auth(srtpAuthKey),
		authenticateSRTCP: auth(srtcpAuthKey),
	}
}

// TagLength is the number of authentication-tag bytes SealRTP appends and
// OpenRTP expects to find at the end of the packet.
const TagLength = authTagLength

// SealRTP encrypts packet[headerLen:] in place and appends the
// authentication tag, per RFC 3711 sections 3.1, 3.3 and 4.2. packet must
// hold the full encoded RTP datagram (header, CSRC, extension, payload);
// headerLen is internal/wire.Header.Len() for that packet. index is the
// extended sequence number (ROC*2^16 + SEQ).
func (c *Context) SealRTP(packet []byte, headerLen int, ssrc uint32, index uint64) ([]byte, error) {
	if len(packet) < headerLen {
		return nil, xerrors.New("srtp: packet shorter than its own header")
	}

	c.encryptSRTP(packet[headerLen:], ssrc, trunc(index, 48))

	// M = Authenticated Portion || ROC, per section 4.2. The ROC never rides
	// on the wire; it's appended only to compute the tag, then discarded.
	m := make([]byte, len(packet)+4)
	copy(m, packet)
	binary.BigEndian.PutUint32(m[len(packet):], uint32(index>>16))
	tag := c.authenticateSRTP(m)

	return append(packet, tag...), nil
}

// OpenRTP verifies the authentication tag appended by SealRTP, then
// decrypts and returns the plaintext payload (packet[headerLen:] minus the
// trailing tag). packet is the full received datagram.
func (c *Context) OpenRTP(packet []byte, headerLen int, ssrc uint32, index uint64) ([]byte, error) {
	tagStart := len(packet) - authTagLength
	if tagStart < headerLen {
		return nil, xerrors.New("srtp: packet too short for header and auth tag")
	}

	m := make([]byte, tagStart+4)
	copy(m, packet[:tagStart])
	binary.BigEndian.PutUint32(m[tagStart:], uint32(index>>16))
	tag := c.authenticateSRTP(m)
	if !hmac.Equal(tag, packet[tagStart:]) {
		return nil, xerrors.New("srtp: integrity check failed")
	}

	payload := append([]byte(nil), packet[headerLen:tagStart]...)
	c.encryptSRTP(payload, ssrc, trunc(index, 48))
	return payload, nil
}

// SealRTCP encrypts everything after the 8-byte RTCP fixed header+SSRC and
// appends the E-flag/index word plus authentication tag, per RFC 3711
// section 3.4 and RFC 5506 section 3.4.3.
func (c *Context) SealRTCP(packet []byte, index uint64) ([]byte, error) {
	if len(packet) < 8 {
		return nil, xerrors.New("srtp: RTCP packet shorter than fixed header")
	}
	ssrc := binary.BigEndian.Uint32(packet[4:8])
	c.encryptSRTCP(packet[8:], ssrc, trunc(index, 31))

	out := make([]byte, len(packet)+4)
	copy(out, packet)
	binary.BigEndian.PutUint32(out[len(packet):], eFlagMask|uint32(index))
	tag := c.authenticateSRTCP(out)
	return append(out, tag...), nil
}

// OpenRTCP verifies and decrypts a packet sealed by SealRTCP, returning the
// plaintext compound-RTCP payload and the SRTCP index it carried.
func (c *Context) OpenRTCP(packet []byte) ([]byte, uint64, error) {
	tagStart := len(packet) - authTagLength
	indexStart := tagStart - 4
	if indexStart < 8 {
		return nil, 0, xerrors.New("srtp: RTCP packet too short")
	}

	tag := c.authenticateSRTCP(packet[:tagStart])
	if !hmac.Equal(tag, packet[tagStart:]) {
		return nil, 0, xerrors.New("srtp: RTCP integrity check failed")
	}

	index := uint64(binary.BigEndian.Uint32(packet[indexStart:]))
	if index&eFlagMask == 0 {
		return append([]byte(nil), packet[8:indexStart]...), index, nil
	}
	index &^= eFlagMask

	ssrc := binary.BigEndian.Uint32(packet[4:8])
	payload := append([]byte(nil), packet[8:indexStart]...)
	c.encryptSRTCP(payload, ssrc, index)
	return payload, index, nil
}

// SRTP key derivation algorithm, RFC 3711 section 4.3: r is the 48-bit
// packet index divided by the key derivation rate (0 here, since this
// module never rotates keys mid-session), label selects the key type, and
// n is the output length in bytes.
func deriveKey(masterKey, masterSalt []byte, r uint64, label byte, n int) []byte {
	x := append([]byte(nil), masterSalt...)
	if r > 0 {
		xor64(x[len(x)-8:], trunc(r, 48))
	}
	x[len(x)-7] ^= label

	prf := defaultPRF(masterKey, x)
	key := make([]byte, n)
	prf.XORKeyStream(key, key)
	return key
}

// defaultPRF is AES-CM, the default SRTP key-derivation PRF (section 4.3.3).
func defaultPRF(masterKey, x []byte) cipher.Stream {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		panic(err)
	}
	if len(x) != aes.BlockSize {
		x = padRight(x, aes.BlockSize)
	}
	return cipher.NewCTR(block, x)
}

// An encryptTransform specifies how a session key and salt produce an
// encryptFunc.
type encryptTransform func(key, salt []byte) encryptFunc

// aesCounterMode is the default SRTP encryption transform (section 4.1.1).
func aesCounterMode(key, salt []byte) encryptFunc {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err) // invalid key size
	}
	ivPool := sync.Pool{
		New: func() interface{} { return make([]byte, aes.BlockSize) },
	}

	return func(payload []byte, ssrc uint32, index uint64) {
		iv := ivPool.Get().([]byte)
		defer ivPool.Put(iv)

		// IV = (k_s * 2^16) XOR (SSRC * 2^64) XOR (index * 2^16).
		copy(iv, salt)
		clearBytes(iv[len(salt):])
		xor32(iv[4:], ssrc)
		xor64(iv[6:], index)

		cipher.NewCTR(block, iv).XORKeyStream(payload, payload)
	}
}

// nullCipher implements the SRTP-null-cipher flag: authentication without
// confidentiality.
func nullCipher(key, salt []byte) encryptFunc {
	return func(payload []byte, ssrc uint32, index uint64) {}
}

// An authTransform specifies how an auth key produces an authFunc.
type authTransform func(authKey []byte) authFunc

// hmacSHA1 is the default SRTP authentication transform (section 4.2).
func hmacSHA1(authKey []byte) authFunc {
	hashPool := sync.Pool{
		New: func() interface{} { return hmac.New(sha1.New, authKey) },
	}
	return func(m []byte) []byte {
		mac := hashPool.Get().(hash.Hash)
		mac.Write(m)
		tag := mac.Sum(nil)[0:authTagLength]
		mac.Reset()
		hashPool.Put(mac)
		return tag
	}
}
