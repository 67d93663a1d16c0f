package signer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/nmxmxh/upaccount/internal/core"
)

// keyFile is the persisted form of a key.
type keyFile struct {
	PrivKey []byte `json:"priv_key"`
	Address string `json:"address"`
	PeerID  string `json:"peer_id"`
}

// Save writes k to path, readable by the owner only.
func Save(path string, k *Key) error {
	raw, err := crypto.MarshalPrivateKey(k.PeerKey())
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	pid, err := peer.IDFromPrivateKey(k.PeerKey())
	if err != nil {
		return fmt.Errorf("derive peer id: %w", err)
	}
	data, err := json.Marshal(keyFile{PrivKey: raw, Address: k.Address().String(), PeerID: pid.String()})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a key written by Save.
func Load(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	sk, err := crypto.UnmarshalPrivateKey(kf.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("unmarshal key: %w", err)
	}
	k, err := FromPeerKey(sk)
	if err != nil {
		return nil, err
	}
	if kf.Address != "" {
		want, err := core.HexToAddress(kf.Address)
		if err != nil {
			return nil, err
		}
		if want != k.Address() {
			return nil, fmt.Errorf("key file %s: address %s does not match key", path, kf.Address)
		}
	}
	return k, nil
}

// LoadOrCreate loads the key at path, generating and saving a new one when
// the file does not exist.
func LoadOrCreate(path string) (*Key, bool, error) {
	k, err := Load(path)
	if err == nil {
		return k, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	k, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := Save(path, k); err != nil {
		return nil, false, err
	}
	return k, true, nil
}
