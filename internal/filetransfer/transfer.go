// Package filetransfer writes generated deployment files (compose, nginx)
// to benchmark VMs over SFTP.
package filetransfer

import (
	"context"
	"fmt"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client wraps an SFTP session on an established SSH connection. The SSH
// connection stays open after Close; only the SFTP session is torn down.
type Client struct {
	sftp *sftp.Client
}

// NewClient opens an SFTP session over the given SSH client.
func NewClient(sshClient *ssh.Client) (*Client, error) {
	if sshClient == nil {
		return nil, fmt.Errorf("ssh client cannot be nil")
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &Client{sftp: sftpClient}, nil
}

// Close ends the SFTP session.
func (c *Client) Close() error {
	if c.sftp == nil {
		return nil
	}
	err := c.sftp.Close()
	c.sftp = nil
	return err
}

// WriteFile writes content to a remote file, creating parent directories as
// needed. Used for generated compose and nginx files.
func (c *Client) WriteFile(ctx context.Context, remotePath string, content []byte) error {
	if remotePath == "" {
		return fmt.Errorf("remote path cannot be empty")
	}
	if c.sftp == nil {
		return fmt.Errorf("sftp session is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if dir := path.Dir(remotePath); dir != "" && dir != "." && dir != "/" {
		// Parent directories may already exist.
		_ = c.sftp.MkdirAll(dir)
	}

	remoteFile, err := c.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	if _, err := remoteFile.Write(content); err != nil {
		return fmt.Errorf("failed to write remote file %s: %w", remotePath, err)
	}
	return nil
}
