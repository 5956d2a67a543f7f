// Package ece decrypts Web Push message bodies encoded with the aes128gcm
// content coding (RFC 8188 framing, RFC 8291 key derivation).
package ece

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	AuthLen      = 16
	PublicKeyLen = 65

	saltLen   = 16
	headerLen = saltLen + 4 + 1
	tagLen    = 16
	keyLen    = 16
	nonceLen  = 12
	ikmLen    = 32
	minRecord = tagLen + 2
)

var (
	ErrTruncated     = errors.New("ece: message truncated")
	ErrBadRecordSize = errors.New("ece: invalid record size")
	ErrBadSenderKey  = errors.New("ece: invalid sender key")
	ErrDecrypt       = errors.New("ece: decryption failed")
	ErrBadPadding    = errors.New("ece: invalid padding")
)

var (
	infoWebPush = []byte("WebPush: info\x00")
	infoCEK     = []byte("Content-Encoding: aes128gcm\x00")
	infoNonce   = []byte("Content-Encoding: nonce\x00")
)

// Header is the aes128gcm coding header that precedes the records.
type Header struct {
	Salt       []byte
	RecordSize uint32
	KeyID      []byte
}

func ParseHeader(body []byte) (Header, []byte, error) {
	if len(body) < headerLen {
		return Header{}, nil, ErrTruncated
	}
	h := Header{
		Salt:       body[:saltLen],
		RecordSize: binary.BigEndian.Uint32(body[saltLen : saltLen+4]),
	}
	idLen := int(body[headerLen-1])
	if len(body) < headerLen+idLen {
		return Header{}, nil, ErrTruncated
	}
	h.KeyID = body[headerLen : headerLen+idLen]
	if h.RecordSize < minRecord {
		return Header{}, nil, ErrBadRecordSize
	}
	return h, body[headerLen+idLen:], nil
}

// Decrypt recovers the plaintext of body for the subscription owning priv and
// authSecret. The sender's ephemeral public key is taken from the header key id.
func Decrypt(body []byte, priv *ecdh.PrivateKey, authSecret []byte) ([]byte, error) {
	h, records, err := ParseHeader(body)
	if err != nil {
		return nil, err
	}
	if len(h.KeyID) != PublicKeyLen {
		return nil, fmt.Errorf("%w: key id is %d bytes", ErrBadSenderKey, len(h.KeyID))
	}
	senderPub, err := ecdh.P256().NewPublicKey(h.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSenderKey, err)
	}
	shared, err := priv.ECDH(senderPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSenderKey, err)
	}

	info := make([]byte, 0, len(infoWebPush)+2*PublicKeyLen)
	info = append(info, infoWebPush...)
	info = append(info, priv.PublicKey().Bytes()...)
	info = append(info, h.KeyID...)
	ikm, err := derive(shared, authSecret, info, ikmLen)
	if err != nil {
		return nil, err
	}
	cek, err := derive(ikm, h.Salt, infoCEK, keyLen)
	if err != nil {
		return nil, err
	}
	baseNonce, err := derive(ikm, h.Salt, infoNonce, nonceLen)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("ece: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ece: gcm: %w", err)
	}

	if len(records) == 0 {
		return nil, ErrTruncated
	}
	rs := int(h.RecordSize)
	var out []byte
	for seq := uint64(0); len(records) > 0; seq++ {
		n := rs
		if n > len(records) {
			n = len(records)
		}
		record := records[:n]
		records = records[n:]
		last := len(records) == 0

		plain, err := gcm.Open(nil, recordNonce(baseNonce, seq), record, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d", ErrDecrypt, seq)
		}
		content, err := unpad(plain, last)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", seq, err)
		}
		out = append(out, content...)
	}
	return out, nil
}

func derive(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("ece: hkdf: %w", err)
	}
	return out, nil
}

// recordNonce XORs the record sequence number into the low bytes of the base nonce.
func recordNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, nonceLen)
	copy(nonce, base)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	for i := 0; i < 8; i++ {
		nonce[nonceLen-8+i] ^= s[i]
	}
	return nonce
}

// unpad strips trailing zero padding and the delimiter: 0x02 ends the final
// record, 0x01 any other.
func unpad(plain []byte, last bool) ([]byte, error) {
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, ErrBadPadding
	}
	want := byte(0x01)
	if last {
		want = 0x02
	}
	if plain[i] != want {
		return nil, ErrBadPadding
	}
	return plain[:i], nil
}
