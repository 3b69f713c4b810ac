package adapter

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	bencode "github.com/jackpal/bencode-go"
)

// MagnetHash extracts the lowercase btih hash from a magnet uri.
func MagnetHash(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "magnet" {
		return "", fmt.Errorf("invalid magnet uri: %s", uri)
	}
	for _, xt := range u.Query()["xt"] {
		const prefix = "urn:btih:"
		if strings.HasPrefix(xt, prefix) {
			return strings.ToLower(strings.TrimPrefix(xt, prefix)), nil
		}
	}
	return "", fmt.Errorf("magnet uri has no btih hash: %s", uri)
}

// TorrentInfoHash computes the lowercase 40-hex info hash of a raw .torrent
// file by re-encoding its info dictionary.
func TorrentInfoHash(raw []byte) (string, error) {
	decoded, err := bencode.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode: %s", err)
	}
	top, ok := decoded.(map[string]interface{})
	if !ok {
		return "", errors.New("torrent is not a dictionary")
	}
	info, ok := top["info"]
	if !ok {
		return "", errors.New("torrent has no info dictionary")
	}
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, info); err != nil {
		return "", fmt.Errorf("encode info: %s", err)
	}
	sum := sha1.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
