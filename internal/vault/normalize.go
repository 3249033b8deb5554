// internal/vault/normalize.go
//
// Legacy PuTTY (.ppk) key material is normalized to OpenSSH PEM before
// use. Normalization is a pure transform; results are cached by content
// digest so each distinct key is converted once per process.

package vault

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/ssh"
)

const ppkMagic = "PuTTY-User-Key-File-"

var normCache = struct {
	sync.Mutex
	m map[[32]byte][]byte
}{m: make(map[[32]byte][]byte)}

// NormalizeKey returns PEM-encoded private-key material. PEM input is
// returned unchanged; PuTTY v2 material is converted to OpenSSH format.
func NormalizeKey(material []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(material)
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		return material, nil
	}
	if !bytes.HasPrefix(trimmed, []byte(ppkMagic)) {
		return nil, fmt.Errorf("unrecognized private key format")
	}

	digest := blake3.Sum256(trimmed)
	normCache.Lock()
	cached, ok := normCache.m[digest]
	normCache.Unlock()
	if ok {
		return cached, nil
	}

	pemBytes, err := convertPPK(trimmed)
	if err != nil {
		return nil, err
	}

	normCache.Lock()
	normCache.m[digest] = pemBytes
	normCache.Unlock()
	return pemBytes, nil
}

type ppkFile struct {
	algorithm  string
	encryption string
	comment    string
	public     []byte
	private    []byte
}

func parsePPK(material []byte) (*ppkFile, error) {
	scanner := bufio.NewScanner(bytes.NewReader(material))
	f := &ppkFile{}

	readBlob := func(countField string) ([]byte, error) {
		n, err := strconv.Atoi(strings.TrimSpace(countField))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid line count %q", countField)
		}
		var b64 strings.Builder
		for i := 0; i < n; i++ {
			if !scanner.Scan() {
				return nil, fmt.Errorf("truncated key blob")
			}
			b64.WriteString(strings.TrimSpace(scanner.Text()))
		}
		return base64.StdEncoding.DecodeString(b64.String())
	}

	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(key, ppkMagic):
			version := strings.TrimPrefix(key, ppkMagic)
			if version != "2" {
				return nil, fmt.Errorf("unsupported ppk version %s", version)
			}
			f.algorithm = value
		case key == "Encryption":
			f.encryption = value
		case key == "Comment":
			f.comment = value
		case key == "Public-Lines":
			blob, err := readBlob(value)
			if err != nil {
				return nil, fmt.Errorf("failed to read public blob: %v", err)
			}
			f.public = blob
		case key == "Private-Lines":
			blob, err := readBlob(value)
			if err != nil {
				return nil, fmt.Errorf("failed to read private blob: %v", err)
			}
			f.private = blob
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if f.algorithm == "" || f.public == nil || f.private == nil {
		return nil, fmt.Errorf("incomplete ppk file")
	}
	return f, nil
}

func convertPPK(material []byte) ([]byte, error) {
	f, err := parsePPK(material)
	if err != nil {
		return nil, err
	}
	if f.encryption != "none" {
		return nil, fmt.Errorf("passphrase-encrypted ppk keys are not supported; decrypt with puttygen first")
	}

	var key interface{}
	switch f.algorithm {
	case "ssh-rsa":
		key, err = ppkRSAKey(f)
	case "ssh-ed25519":
		key, err = ppkEd25519Key(f)
	default:
		err = fmt.Errorf("unsupported ppk algorithm %q", f.algorithm)
	}
	if err != nil {
		return nil, err
	}

	block, err := ssh.MarshalPrivateKey(key, f.comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %v", err)
	}
	return pem.EncodeToMemory(block), nil
}

func ppkRSAKey(f *ppkFile) (*rsa.PrivateKey, error) {
	pub := f.public
	alg, pub, err := readWireString(pub)
	if err != nil || string(alg) != "ssh-rsa" {
		return nil, fmt.Errorf("malformed rsa public blob")
	}
	e, pub, err := readWireMpint(pub)
	if err != nil {
		return nil, fmt.Errorf("malformed rsa exponent: %v", err)
	}
	n, _, err := readWireMpint(pub)
	if err != nil {
		return nil, fmt.Errorf("malformed rsa modulus: %v", err)
	}

	priv := f.private
	d, priv, err := readWireMpint(priv)
	if err != nil {
		return nil, fmt.Errorf("malformed rsa private exponent: %v", err)
	}
	p, priv, err := readWireMpint(priv)
	if err != nil {
		return nil, fmt.Errorf("malformed rsa prime p: %v", err)
	}
	q, _, err := readWireMpint(priv)
	if err != nil {
		return nil, fmt.Errorf("malformed rsa prime q: %v", err)
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	key.Precompute()
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rsa key: %v", err)
	}
	return key, nil
}

func ppkEd25519Key(f *ppkFile) (ed25519.PrivateKey, error) {
	alg, _, err := readWireString(f.public)
	if err != nil || string(alg) != "ssh-ed25519" {
		return nil, fmt.Errorf("malformed ed25519 public blob")
	}
	seed, _, err := readWireString(f.private)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("malformed ed25519 private blob")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// readWireString reads one SSH wire-format length-prefixed field.
func readWireString(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("short buffer")
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("short field")
	}
	return b[:n], b[n:], nil
}

func readWireMpint(b []byte) (*big.Int, []byte, error) {
	raw, rest, err := readWireString(b)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).SetBytes(raw), rest, nil
}
