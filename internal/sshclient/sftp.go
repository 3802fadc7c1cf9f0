package sshclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
)

// Sftp is file transfer over the "sftp" subsystem channel.
type Sftp struct {
	holder
	conn lazy[*sftpConn]
}

type sftpConn struct {
	ch     Channel
	client *sftp.Client
}

func (c *sftpConn) Close() error {
	return errors.Join(c.client.Close(), c.ch.Close())
}

// NewSftp builds an Sftp from a *Session or a connected Resource.
func NewSftp(owner any) (*Sftp, error) {
	s := &Sftp{}
	if err := s.init(owner); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sftp) Name() string { return SubsystemSftp }

// Client returns the sftp client, opening the subsystem channel on first use.
func (s *Sftp) Client(ctx context.Context) (*sftp.Client, error) {
	c, err := s.conn.get(func() (*sftpConn, error) {
		res, err := s.SessionResource(ctx)
		if err != nil {
			return nil, err
		}
		ch, err := res.OpenChannel()
		if err != nil {
			return nil, fmt.Errorf("open sftp channel: %w", err)
		}
		w, err := ch.StdinPipe()
		if err != nil {
			_ = ch.Close()
			return nil, err
		}
		r, err := ch.StdoutPipe()
		if err != nil {
			_ = ch.Close()
			return nil, err
		}
		if err := ch.RequestSubsystem(SubsystemSftp); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("request sftp subsystem: %w", err)
		}
		client, err := sftp.NewClientPipe(r, w)
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("start sftp client: %w", err)
		}
		return &sftpConn{ch: ch, client: client}, nil
	})
	if err != nil {
		return nil, err
	}
	return c.client, nil
}

// ReadFile returns the contents of a remote file.
func (s *Sftp) ReadFile(ctx context.Context, path string) ([]byte, error) {
	release := s.lock()
	defer release()
	client, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open remote %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read remote %s: %w", path, err)
	}
	return data, nil
}

// WriteFile creates or truncates a remote file and sets its mode.
func (s *Sftp) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	release := s.lock()
	defer release()
	client, err := s.Client(ctx)
	if err != nil {
		return err
	}
	f, err := client.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write remote %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close remote %s: %w", path, err)
	}
	if err := client.Chmod(path, perm); err != nil {
		return fmt.Errorf("chmod remote %s: %w", path, err)
	}
	return nil
}

// Stat returns remote file info.
func (s *Sftp) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	release := s.lock()
	defer release()
	client, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Stat(path)
}

// Remove deletes a remote file.
func (s *Sftp) Remove(ctx context.Context, path string) error {
	release := s.lock()
	defer release()
	client, err := s.Client(ctx)
	if err != nil {
		return err
	}
	return client.Remove(path)
}

// Close closes the sftp channel if one was opened.
func (s *Sftp) Close() error {
	if c, ok := s.conn.take(); ok {
		return c.Close()
	}
	return nil
}
