// Copyright 2019 Lanikai Labs. All rights reserved.

package srtp

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtpflow/internal/packet"
	"github.com/lanikai/rtpflow/internal/wire"
)

func TestSealOpenRTPRoundTrip(t *testing.T) {
	masterKey := []byte("TopSecret128bits")
	masterSalt := []byte("SodiumChloride")
	sealCtx := NewContext(masterKey, masterSalt)
	openCtx := NewContext(masterKey, masterSalt)

	hdr := wire.Header{PayloadType: 100, Sequence: 1, Timestamp: 55555555, SSRC: 0x1337d00d}
	payload := []byte("abcdefghijklmnopqrstuvwxyz")

	buf := make([]byte, hdr.Len()+len(payload))
	w := packet.NewWriter(buf)
	require.NoError(t, hdr.Encode(w))
	require.NoError(t, w.WriteSlice(payload))

	index := uint64(123456)
	sealed, err := sealCtx.SealRTP(append([]byte(nil), w.Bytes()...), hdr.Len(), hdr.SSRC, index)
	require.NoError(t, err)
	require.Len(t, sealed, hdr.Len()+len(payload)+TagLength)

	opened, err := openCtx.OpenRTP(sealed, hdr.Len(), hdr.SSRC, index)
	require.NoError(t, err)
	require.Equal(t, payload, opened)
}

func TestOpenRTPRejectsTamperedTag(t *testing.T) {
	ctx := NewContext([]byte("TopSecret128bits"), []byte("SodiumChloride"))
	hdr := wire.Header{PayloadType: 96, Sequence: 9, Timestamp: 1, SSRC: 0xc0ffee}

	buf := make([]byte, hdr.Len()+3)
	w := packet.NewWriter(buf)
	require.NoError(t, hdr.Encode(w))
	require.NoError(t, w.WriteSlice([]byte("hi!")))

	sealed, err := ctx.SealRTP(append([]byte(nil), w.Bytes()...), hdr.Len(), hdr.SSRC, 1)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = ctx.OpenRTP(sealed, hdr.Len(), hdr.SSRC, 1)
	require.Error(t, err)
}

func TestNullCipherAuthenticatesWithoutEncrypting(t *testing.T) {
	masterKey := []byte("TopSecret128bits")
	masterSalt := []byte("SodiumChloride")
	ctx := NewNullCipherContext(masterKey, masterSalt)

	hdr := wire.Header{PayloadType: 96, Sequence: 1, Timestamp: 1, SSRC: 1}
	payload := []byte("plaintext-on-the-wire")
	buf := make([]byte, hdr.Len()+len(payload))
	w := packet.NewWriter(buf)
	require.NoError(t, hdr.Encode(w))
	require.NoError(t, w.WriteSlice(payload))

	sealed, err := ctx.SealRTP(append([]byte(nil), w.Bytes()...), hdr.Len(), hdr.SSRC, 1)
	require.NoError(t, err)
	require.Equal(t, payload, sealed[hdr.Len():hdr.Len()+len(payload)])

	opened, err := ctx.OpenRTP(sealed, hdr.Len(), hdr.SSRC, 1)
	require.NoError(t, err)
	require.Equal(t, payload, opened)
}

// AES-CM test vectors, RFC 3711 appendix B.2.
func TestAESCounterModeVectors(t *testing.T) {
	sessionKey, _ := hex.DecodeString("2B7E151628AED2A6ABF7158809CF4F3C")
	sessionSalt, _ := hex.DecodeString("F0F1F2F3F4F5F6F7F8F9FAFBFCFD0000")
	encrypt := aesCounterMode(sessionKey, sessionSalt)

	keystream := make([]byte, 1044512)
	encrypt(keystream, 0, 0)

	require.True(t, checkHex(keystream[0:48],
		"E03EAD0935C95E80E166B16DD92B4EB4"+
			"D23513162B02D0F72A43A2FE4A5F97AB"+
			"41E95B3BB0A2E8DD477901E4FCA894C0"))
	require.True(t, checkHex(keystream[len(keystream)-48:],
		"EC8CDF7398607CB0F2D21675EA9EA1E4"+
			"362B7C3C6773516318A077D7FC5073AE"+
			"6A2CC3787889374FBEB4C81B17BA6C44"))
}

// Key-derivation test vectors, RFC 3711 appendix B.3.
func TestDeriveKeyVectors(t *testing.T) {
	masterKey, _ := hex.DecodeString("E1F97A0D3E018BE0D64FA32C06DE4139")
	masterSalt, _ := hex.DecodeString("0EC675AD498AFEEBB6960B3AABE6")

	key := deriveKey(masterKey, masterSalt, 0, 0x00, 16)
	require.True(t, checkHex(key, "C61E7A93744F39EE10734AFE3FF7A087"))

	salt := deriveKey(masterKey, masterSalt, 0, 0x02, 14)
	require.True(t, checkHex(salt, "30CBBC08863D8C85D49DB34A9AE1"))
}

func checkHex(value []byte, expectedHex string) bool {
	return hex.EncodeToString(value) == strings.ToLower(expectedHex)
}
