package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"xdao.co/routeplane/model"
)

// ErrKeyExists is returned when a key file is already present and overwrite
// was not requested.
var ErrKeyExists = errors.New("keys: key already exists")

// KeyStore keeps operator seeds on the local filesystem:
//
//	<dir>/<operator>/root.key
//	<dir>/<operator>/roles/<role>.key
//
// Each file holds one hex-encoded Ed25519 seed. Role files are named after
// dispatcher roles, so an operator's directory doubles as its role grant list.
type KeyStore struct {
	Directory string
}

// RoleKey is one derived dispatcher role key.
type RoleKey struct {
	Role    string        `json:"role"`
	Address model.Address `json:"address"`
}

// KeyEntry describes one operator: its root address and derived role keys.
type KeyEntry struct {
	Identifier string        `json:"identifier"`
	Address    model.Address `json:"address"`
	Roles      []RoleKey     `json:"roles,omitempty"`
}

func GetDefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".routeplane", "keys"), nil
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		if directory, err = GetDefaultDirectory(); err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootPath(operator string) string {
	return filepath.Join(ks.Directory, operator, "root.key")
}

func (ks *KeyStore) rolePath(operator, role string) string {
	return filepath.Join(ks.Directory, operator, "roles", role+".key")
}

// CheckKeyName accepts operator names made of letters, digits, '-' and '_'.
func CheckKeyName(identifier string) error {
	if identifier == "" {
		return errors.New("identifier cannot be empty")
	}
	if i := strings.IndexFunc(identifier, func(c rune) bool {
		return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_')
	}); i >= 0 {
		return fmt.Errorf("invalid character %q in identifier", identifier[i])
	}
	return nil
}

// CheckRole accepts the dispatcher role names listed in OperatorRoles.
func CheckRole(role string) error {
	if role == "" {
		return errors.New("role cannot be empty")
	}
	for _, r := range OperatorRoles {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("unknown role %q (want one of %s)", role, strings.Join(OperatorRoles, ", "))
}

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimPrefix(strings.TrimSpace(seedHex), "0x")
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return seed, nil
}

// writeSeed writes seed through a temp file and a rename, so a reader never
// sees a partial key.
func writeSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".seed-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSeedFile reads a hex-encoded Ed25519 seed as written by the key store.
func ReadSeedFile(path string) ([]byte, error) { return readSeed(path) }

func readSeed(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(b))
}

// InitializeRootKey stores seed as the root key of identifier and returns the
// root key's actor address.
func (ks *KeyStore) InitializeRootKey(identifier string, seed []byte, overwrite bool) (model.Address, string, error) {
	if err := CheckKeyName(identifier); err != nil {
		return model.Address{}, "", err
	}
	path := ks.rootPath(identifier)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return model.Address{}, "", err
	}
	return AddressFromSeed(seed), path, nil
}

// DeriveKeyFromRole derives and stores the role key of from.
func (ks *KeyStore) DeriveKeyFromRole(from, role string, overwrite bool) (model.Address, string, error) {
	if err := CheckKeyName(from); err != nil {
		return model.Address{}, "", err
	}
	if err := CheckRole(role); err != nil {
		return model.Address{}, "", err
	}
	root, err := readSeed(ks.rootPath(from))
	if err != nil {
		return model.Address{}, "", err
	}
	seed, err := DeriveRoleSeed(root, role)
	if err != nil {
		return model.Address{}, "", err
	}
	path := ks.rolePath(from, role)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return model.Address{}, "", err
	}
	return AddressFromSeed(seed), path, nil
}

// ExportKey returns the public key string of a root key (role == "") or a
// role key.
func (ks *KeyStore) ExportKey(identifier, role string) (string, error) {
	seed, err := ks.LoadSeed("", identifier, role, "")
	if err != nil {
		return "", err
	}
	return PublicKeyStringFromSeed(seed), nil
}

// LoadSeed resolves a signing seed from, in order: a hex seed, a key file, or
// a named operator (and optional role) in the store.
func (ks *KeyStore) LoadSeed(seedHex, signerName, signerRole, keyFile string) ([]byte, error) {
	switch {
	case seedHex != "":
		return ParseSeedHex(seedHex)
	case keyFile != "":
		return readSeed(keyFile)
	case signerName == "":
		return nil, errors.New("no signer provided")
	}
	if err := CheckKeyName(signerName); err != nil {
		return nil, err
	}
	if signerRole == "" {
		return readSeed(ks.rootPath(signerName))
	}
	if err := CheckRole(signerRole); err != nil {
		return nil, err
	}
	return readSeed(ks.rolePath(signerName, signerRole))
}

// Grants maps every derived role key of identifier to its dispatcher role,
// ready to seed a dispatcher's role table.
func (ks *KeyStore) Grants(identifier string) (map[model.Address]model.Role, error) {
	e, err := ks.entry(identifier)
	if err != nil {
		return nil, err
	}
	out := make(map[model.Address]model.Role, len(e.Roles))
	for _, rk := range e.Roles {
		r, err := model.ParseRole(rk.Role)
		if err != nil {
			return nil, err
		}
		out[rk.Address] |= r
	}
	return out, nil
}

func (ks *KeyStore) entry(identifier string) (KeyEntry, error) {
	if err := CheckKeyName(identifier); err != nil {
		return KeyEntry{}, err
	}
	root, err := readSeed(ks.rootPath(identifier))
	if err != nil {
		return KeyEntry{}, err
	}
	e := KeyEntry{Identifier: identifier, Address: AddressFromSeed(root)}
	files, err := os.ReadDir(filepath.Join(ks.Directory, identifier, "roles"))
	if errors.Is(err, fs.ErrNotExist) {
		return e, nil
	}
	if err != nil {
		return KeyEntry{}, err
	}
	for _, f := range files {
		role, ok := strings.CutSuffix(f.Name(), ".key")
		if f.IsDir() || !ok || CheckRole(role) != nil {
			continue
		}
		seed, err := readSeed(ks.rolePath(identifier, role))
		if err != nil {
			return KeyEntry{}, fmt.Errorf("%s/%s: %w", identifier, role, err)
		}
		e.Roles = append(e.Roles, RoleKey{Role: role, Address: AddressFromSeed(seed)})
	}
	sort.Slice(e.Roles, func(i, j int) bool { return e.Roles[i].Role < e.Roles[j].Role })
	return e, nil
}

// ListKeys returns every operator with a root key, sorted by name.
func (ks *KeyStore) ListKeys() ([]KeyEntry, error) {
	dirs, err := os.ReadDir(ks.Directory)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []KeyEntry
	for _, d := range dirs {
		if !d.IsDir() || CheckKeyName(d.Name()) != nil {
			continue
		}
		e, err := ks.entry(d.Name())
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}
