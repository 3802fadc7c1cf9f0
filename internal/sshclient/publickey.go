package sshclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// publickeyVersion is the protocol version this client speaks.
const publickeyVersion = 2

// maxPublickeyPacket bounds a single subsystem packet.
const maxPublickeyPacket = 256 * 1024

// KeyAttribute is an attribute attached to a stored key.
type KeyAttribute struct {
	Name     string
	Value    string
	Critical bool
}

// StoredKey is a key listed by the server.
type StoredKey struct {
	Key        ssh.PublicKey
	Attributes []KeyAttribute
}

// PublickeyStatusError is a non-success status returned by the server.
type PublickeyStatusError struct {
	Code        uint32
	Description string
}

func (e *PublickeyStatusError) Error() string {
	return fmt.Sprintf("publickey status %d: %s", e.Code, e.Description)
}

// Publickey manages authorized keys over the "publickey" subsystem.
type Publickey struct {
	holder
	conn lazy[*publickeyConn]
}

type publickeyConn struct {
	ch      Channel
	w       io.WriteCloser
	r       io.Reader
	version uint32
}

// NewPublickey builds a Publickey from a *Session or a connected Resource.
func NewPublickey(owner any) (*Publickey, error) {
	p := &Publickey{}
	if err := p.init(owner); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publickey) Name() string { return SubsystemPublickey }

func (p *Publickey) channel(ctx context.Context) (*publickeyConn, error) {
	return p.conn.get(func() (*publickeyConn, error) {
		res, err := p.SessionResource(ctx)
		if err != nil {
			return nil, err
		}
		ch, err := res.OpenChannel()
		if err != nil {
			return nil, fmt.Errorf("open publickey channel: %w", err)
		}
		c := &publickeyConn{ch: ch}
		if c.w, err = ch.StdinPipe(); err != nil {
			_ = ch.Close()
			return nil, err
		}
		if c.r, err = ch.StdoutPipe(); err != nil {
			_ = ch.Close()
			return nil, err
		}
		if err := ch.RequestSubsystem(SubsystemPublickey); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("request publickey subsystem: %w", err)
		}
		if err := c.negotiate(); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return c, nil
	})
}

// Version returns the protocol version the server agreed to.
func (p *Publickey) Version(ctx context.Context) (uint32, error) {
	release := p.lock()
	defer release()
	c, err := p.channel(ctx)
	if err != nil {
		return 0, err
	}
	return c.version, nil
}

// List returns the keys the server has stored for the user.
func (p *Publickey) List(ctx context.Context) ([]StoredKey, error) {
	release := p.lock()
	defer release()
	c, err := p.channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.send("list", nil); err != nil {
		return nil, err
	}
	var keys []StoredKey
	for {
		name, body, err := c.recv()
		if err != nil {
			return nil, err
		}
		switch name {
		case "publickey":
			k, err := parseStoredKey(body)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		case "status":
			if err := parseStatus(body); err != nil {
				return nil, err
			}
			return keys, nil
		default:
			return nil, fmt.Errorf("publickey: unexpected response %q", name)
		}
	}
}

// Add stores key for the user. With overwrite unset an existing key is an
// error reported by the server.
func (p *Publickey) Add(ctx context.Context, key ssh.PublicKey, overwrite bool, attrs ...KeyAttribute) error {
	body := ssh.Marshal(struct {
		Algorithm string
		Blob      []byte
		Overwrite bool
		NumAttrs  uint32
	}{key.Type(), key.Marshal(), overwrite, uint32(len(attrs))})
	for _, a := range attrs {
		body = append(body, ssh.Marshal(struct {
			Name     string
			Value    string
			Critical bool
		}{a.Name, a.Value, a.Critical})...)
	}
	return p.request(ctx, "add", body)
}

// Remove deletes key for the user.
func (p *Publickey) Remove(ctx context.Context, key ssh.PublicKey) error {
	body := ssh.Marshal(struct {
		Algorithm string
		Blob      []byte
	}{key.Type(), key.Marshal()})
	return p.request(ctx, "remove", body)
}

func (p *Publickey) request(ctx context.Context, name string, body []byte) error {
	release := p.lock()
	defer release()
	c, err := p.channel(ctx)
	if err != nil {
		return err
	}
	if err := c.send(name, body); err != nil {
		return err
	}
	resp, respBody, err := c.recv()
	if err != nil {
		return err
	}
	if resp != "status" {
		return fmt.Errorf("publickey: unexpected response %q", resp)
	}
	return parseStatus(respBody)
}

// Close closes the subsystem channel if one was opened.
func (p *Publickey) Close() error {
	if c, ok := p.conn.take(); ok {
		return c.ch.Close()
	}
	return nil
}

func (c *publickeyConn) negotiate() error {
	if err := c.send("version", ssh.Marshal(struct{ Version uint32 }{publickeyVersion})); err != nil {
		return err
	}
	name, body, err := c.recv()
	if err != nil {
		return err
	}
	switch name {
	case "version":
		var v struct{ Version uint32 }
		if err := ssh.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("publickey: bad version packet: %w", err)
		}
		if v.Version > publickeyVersion {
			return fmt.Errorf("publickey: unsupported server version %d", v.Version)
		}
		c.version = v.Version
		return nil
	case "status":
		if err := parseStatus(body); err != nil {
			return err
		}
		return errors.New("publickey: server sent status instead of version")
	default:
		return fmt.Errorf("publickey: unexpected response %q", name)
	}
}

// send writes one packet: uint32 length, string name, body.
func (c *publickeyConn) send(name string, body []byte) error {
	payload := append(ssh.Marshal(struct{ Name string }{name}), body...)
	pkt := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(payload)), uint32(len(payload)))
	pkt = append(pkt, payload...)
	if _, err := c.w.Write(pkt); err != nil {
		return fmt.Errorf("publickey: write %s: %w", name, err)
	}
	return nil
}

func (c *publickeyConn) recv() (string, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return "", nil, fmt.Errorf("publickey: read packet: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxPublickeyPacket {
		return "", nil, fmt.Errorf("publickey: packet too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", nil, fmt.Errorf("publickey: read packet: %w", err)
	}
	var msg struct {
		Name string
		Rest []byte `ssh:"rest"`
	}
	if err := ssh.Unmarshal(buf, &msg); err != nil {
		return "", nil, fmt.Errorf("publickey: bad packet: %w", err)
	}
	return msg.Name, msg.Rest, nil
}

func parseStatus(body []byte) error {
	var st struct {
		Code        uint32
		Description string
		Language    string
	}
	if err := ssh.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("publickey: bad status packet: %w", err)
	}
	if st.Code != 0 {
		return &PublickeyStatusError{Code: st.Code, Description: st.Description}
	}
	return nil
}

func parseStoredKey(body []byte) (StoredKey, error) {
	var head struct {
		Algorithm string
		Blob      []byte
		NumAttrs  uint32
		Rest      []byte `ssh:"rest"`
	}
	if err := ssh.Unmarshal(body, &head); err != nil {
		return StoredKey{}, fmt.Errorf("publickey: bad key packet: %w", err)
	}
	key, err := ssh.ParsePublicKey(head.Blob)
	if err != nil {
		return StoredKey{}, fmt.Errorf("publickey: parse %s key: %w", head.Algorithm, err)
	}
	out := StoredKey{Key: key}
	rest := head.Rest
	for i := uint32(0); i < head.NumAttrs; i++ {
		var a struct {
			Name  string
			Value string
			Rest  []byte `ssh:"rest"`
		}
		if err := ssh.Unmarshal(rest, &a); err != nil {
			return StoredKey{}, fmt.Errorf("publickey: bad key attribute: %w", err)
		}
		out.Attributes = append(out.Attributes, KeyAttribute{Name: a.Name, Value: a.Value})
		rest = a.Rest
	}
	return out, nil
}
