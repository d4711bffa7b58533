package offdata

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// KnownHostsPath is the TOFU known_hosts file used by the sftp FetchClient.
// Isolated from the system ~/.ssh/known_hosts so the manager never mutates
// a user's real SSH state.
var KnownHostsPath = defaultKnownHostsPath()

func defaultKnownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "known_hosts"
	}
	return filepath.Join(home, ".config", "offdata", "known_hosts")
}

var knownHostsMu sync.Mutex

// newTOFUHostKeyCallback returns an ssh.HostKeyCallback implementing
// Trust-On-First-Use: a known host with a matching key is accepted, a known
// host with a changed key is hard-rejected (possible MITM), and an unknown
// host is accepted and appended to knownHostsFile. Re-reads the file on
// every call so keys appended by concurrent connections are visible.
func newTOFUHostKeyCallback(knownHostsFile string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := os.MkdirAll(filepath.Dir(knownHostsFile), 0700); err != nil {
			return fmt.Errorf("offdata: create known_hosts dir: %w", err)
		}

		if _, err := os.Stat(knownHostsFile); err == nil {
			cb, loadErr := knownhosts.New(knownHostsFile)
			if loadErr != nil {
				return fmt.Errorf("offdata: load known_hosts: %w", loadErr)
			}
			err := cb(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if errors.As(err, &keyErr) {
				if len(keyErr.Want) > 0 {
					fp := ssh.FingerprintSHA256(key)
					return fmt.Errorf("offdata: host key changed for %s (got %s); remove the stale entry from %s if this is expected",
						hostname, fp, knownHostsFile)
				}
			} else {
				return err
			}
		}

		return appendKnownHost(knownHostsFile, hostname, key)
	}
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("offdata: write known_hosts: %w", err)
	}
	defer f.Close()

	normalized := knownhosts.Normalize(hostname)
	line := knownhosts.Line([]string{normalized}, key)
	_, err = fmt.Fprintln(f, line)
	return err
}
