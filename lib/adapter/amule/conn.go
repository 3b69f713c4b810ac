package amule

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// ecConn is one authenticated EC connection. Requests serialize through the
// mutex: EC is strictly request/response over a single TCP stream.
type ecConn struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// dialEC opens a TCP connection and runs the salted challenge handshake:
// auth request, salt, md5 response over the password digest.
func dialEC(addr, password string, timeout time.Duration) (*ecConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	c := &ecConn{conn: conn, r: bufio.NewReader(conn), timeout: timeout}

	resp, err := c.roundTrip(&ecPacket{
		Opcode: opAuthReq,
		Tags: []ecTag{
			stringTag(tagClientName, _clientName),
			stringTag(tagClientVersion, "1.0"),
			uintTag(tagProtocolVersion, _protocolVersion),
		},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth request: %s", err)
	}
	if resp.Opcode != opAuthSalt {
		conn.Close()
		return nil, fmt.Errorf("unexpected auth response opcode %#x", resp.Opcode)
	}
	salt, ok := resp.Tag(tagPasswdSalt)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("auth salt missing")
	}

	resp, err = c.roundTrip(&ecPacket{
		Opcode: opAuthPasswd,
		Tags:   []ecTag{hashTag(tagPasswdHash, saltedPasswordHash(password, salt.Uint()))},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth password: %s", err)
	}
	if resp.Opcode != opAuthOK {
		conn.Close()
		return nil, fmt.Errorf("authentication rejected")
	}
	return c, nil
}

// saltedPasswordHash derives the EC challenge response:
// md5(md5hex(password) + md5hex(saltHex)).
func saltedPasswordHash(password string, salt uint64) []byte {
	passDigest := md5.Sum([]byte(password))
	saltStr := strings.ToUpper(fmt.Sprintf("%x", salt))
	saltDigest := md5.Sum([]byte(saltStr))
	sum := md5.Sum([]byte(
		hex.EncodeToString(passDigest[:]) + hex.EncodeToString(saltDigest[:])))
	return sum[:]
}

// roundTrip sends one packet and reads one response.
func (c *ecConn) roundTrip(req *ecPacket) (*ecPacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := encodePacket(req)
	if err != nil {
		return nil, fmt.Errorf("encode: %s", err)
	}
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	resp, err := decodePacket(c.r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return resp, nil
}

func (c *ecConn) Close() error {
	return c.conn.Close()
}
