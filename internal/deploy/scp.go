package deploy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/spherical/pdf-enricher/internal/domain"
)

const (
	defaultSSHPort = 22
	sshDialTimeout = 30 * time.Second
)

// scpImages copies files to {remote_path}/{stem} on the target host using
// the scp sink protocol over an SSH session.
func (s *Service) scpImages(ctx context.Context, t *ImageTarget, dir string, files []string, stem string) (string, error) {
	cfg, err := s.sshConfig(t)
	if err != nil {
		return "", err
	}
	port := t.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: sshDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", domain.StorageError("failed to connect to "+addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return "", domain.StorageError("ssh handshake with "+addr+" failed", err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	remote := path.Join(t.RemotePath, stem)
	if err := runRemote(client, "mkdir -p "+shellQuote(remote)); err != nil {
		return "", domain.StorageError("failed to create remote directory "+remote, err)
	}

	session, err := client.NewSession()
	if err != nil {
		return "", domain.StorageError("failed to open ssh session", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return "", domain.StorageError("failed to open scp stdin", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return "", domain.StorageError("failed to open scp stdout", err)
	}
	if err := session.Start("scp -t " + shellQuote(remote)); err != nil {
		return "", domain.StorageError("failed to start remote scp", err)
	}

	sendErr := sendFiles(stdin, stdout, dir, files)
	stdin.Close()
	waitErr := session.Wait()
	if sendErr != nil {
		return "", domain.StorageError("scp transfer failed", sendErr)
	}
	if waitErr != nil {
		return "", domain.StorageError("remote scp exited with error", waitErr)
	}
	return fmt.Sprintf("%d images copied to %s@%s:%s", len(files), t.Username, t.Host, remote), nil
}

func runRemote(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	if out, err := session.CombinedOutput(cmd); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Service) sshConfig(t *ImageTarget) (*ssh.ClientConfig, error) {
	keyPath := t.PrivateKeyPath
	if keyPath == "" {
		keyPath = "~/.ssh/id_rsa"
	}
	key, err := os.ReadFile(expandHome(keyPath))
	if err != nil {
		return nil, domain.StorageError("failed to read private key "+keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, domain.StorageError("failed to parse private key "+keyPath, err)
	}

	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            t.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         sshDialTimeout,
	}, nil
}

func (s *Service) hostKeyCallback() (ssh.HostKeyCallback, error) {
	file := s.cfg.KnownHostsPath
	if file == "" {
		file = "~/.ssh/known_hosts"
	}
	file = expandHome(file)
	if _, err := os.Stat(file); err != nil {
		s.logger.Warn().Str("known_hosts", file).Msg("No known_hosts file, host key is not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, domain.ConfigError("failed to load known_hosts", err)
	}
	return cb, nil
}

// sendFiles speaks the sink side of scp: wait for the remote's ready byte,
// then for each file send a "C" header, the contents and a zero byte,
// reading an acknowledgement after each step.
func sendFiles(w io.Writer, r io.Reader, dir string, files []string) error {
	acks := bufio.NewReader(r)
	if err := readAck(acks); err != nil {
		return err
	}
	for _, name := range files {
		if err := sendFile(w, acks, filepath.Join(dir, name), name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func sendFile(w io.Writer, acks *bufio.Reader, file, name string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "C0644 %d %s\n", info.Size(), name); err != nil {
		return err
	}
	if err := readAck(acks); err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	return readAck(acks)
}

// readAck reads one scp status byte. 1 is a warning and 2 a fatal error;
// both are followed by a message line.
func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("reading scp ack: %w", err)
	}
	if b == 0 {
		return nil
	}
	msg, _ := r.ReadString('\n')
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "unknown scp error"
	}
	return errors.New(msg)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
