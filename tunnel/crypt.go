package tunnel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// saltForKeyDerivation mirrors the pre-shared-secret expansion kcptun's
// client uses ahead of picking a block cipher (pbkdf2 over a fixed salt,
// 4096 iterations, sha1), so operators can reuse the same "key" string they
// would configure for either project.
const saltForKeyDerivation = "xfrpc-tcpmux"

// DeriveKey expands a pre-shared passphrase into a 32-byte AES-256 key.
func DeriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(saltForKeyDerivation), 4096, 32, sha1.New)
}

// cryptConn wraps a net.Conn in AES-GCM sealed records: each Write becomes
// one [4-byte length][nonce][ciphertext+tag] record, so every Write the mux
// core makes (a frame header, or a run of payload bytes) is sealed on its
// own rather than through a raw keystream that would need external
// sequencing.
type cryptConn struct {
	net.Conn
	gcm cipher.AEAD

	readBuf []byte // undelivered plaintext left over from the last record
}

// NewCryptConn wraps conn so every byte written/read is authenticated and
// encrypted with AES-256-GCM, keyed by passphrase (tcpmux §1: "it does not
// encrypt or authenticate frames, that is the transport's job").
func NewCryptConn(conn net.Conn, passphrase string) (net.Conn, error) {
	block, err := aes.NewCipher(DeriveKey(passphrase))
	if err != nil {
		return nil, errors.Wrap(err, "aes.NewCipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "cipher.NewGCM")
	}
	return &cryptConn{Conn: conn, gcm: gcm}, nil
}

func (c *cryptConn) Write(p []byte) (int, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return 0, errors.Wrap(err, "generating nonce")
	}
	sealed := c.gcm.Seal(nonce, nonce, p, nil)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	if _, err := c.Conn.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := c.Conn.Write(sealed); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *cryptConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		var lenBuf [4]byte
		if _, err := io.ReadFull(c.Conn, lenBuf[:]); err != nil {
			return 0, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])

		record := make([]byte, n)
		if _, err := io.ReadFull(c.Conn, record); err != nil {
			return 0, err
		}

		nonceSize := c.gcm.NonceSize()
		if int(n) < nonceSize {
			return 0, errors.New("tunnel: truncated record")
		}
		nonce, ciphertext := record[:nonceSize], record[nonceSize:]
		plain, err := c.gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return 0, errors.Wrap(err, "decrypting record")
		}
		c.readBuf = plain
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}
