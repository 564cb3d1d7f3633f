package netscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// factCommand pairs a fact key with the shell command that produces it.
type factCommand struct {
	key string
	cmd string
}

// factCommands is the fixed command set executed on every probed host,
// in order. Output is trimmed; empty output maps to "unknown".
var factCommands = []factCommand{
	{"hostname", "hostname"},
	{"os", "uname -s"},
	{"osVersion", "uname -r"},
	{"architecture", "uname -m"},
	{"uptime", "uptime"},
	{"cpuInfo", "cat /proc/cpuinfo | grep 'model name' | head -1"},
	{"memoryInfo", "free -h"},
	{"diskInfo", "df -h"},
}

// Facts holds the device information gathered from one SSH probe.
type Facts struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	OSVersion    string `json:"osVersion"`
	Architecture string `json:"architecture"`
	Uptime       string `json:"uptime"`
	CPUInfo      string `json:"cpuInfo"`
	MemoryInfo   string `json:"memoryInfo"`
	DiskInfo     string `json:"diskInfo"`
	DeviceType   string `json:"deviceType"`
}

// JSON renders the facts as the os_info document stored on the device row.
func (f *Facts) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}

// DeriveDeviceType classifies a host from its `uname -s` output.
func DeriveDeviceType(os string) model.DeviceType {
	switch {
	case strings.Contains(strings.ToLower(os), "linux"):
		return model.TypeLinux
	case strings.Contains(strings.ToLower(os), "darwin"):
		return model.TypeMacOS
	case strings.Contains(strings.ToLower(os), "windows"):
		return model.TypeWindows
	default:
		return model.TypeUnknown
	}
}

// SSHProber authenticates against candidate hosts and extracts device
// facts. Host-key verification is disabled: targets are discovered by a
// scan and have no known-hosts entries yet.
type SSHProber struct {
	Timeout time.Duration
}

// NewSSHProber returns a prober with the given connect-and-I/O timeout.
func NewSSHProber(timeout time.Duration) *SSHProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SSHProber{Timeout: timeout}
}

// Probe opens an SSH session to ip using the profile credentials, runs
// the fixed command set, and returns the collected facts. Connection,
// authentication, and session failures return an error; the caller
// skips the host (no partial device record). A command that merely
// exits non-zero yields "unknown" for that fact, since not every target
// has every tool (macOS has no /proc/cpuinfo).
func (p *SSHProber) Probe(ip string, creds model.Credentials) (*Facts, error) {
	port := creds.Port
	if port == 0 {
		port = 22
	}

	auth := []ssh.AuthMethod{}
	if creds.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		auth = append(auth, ssh.Password(creds.Password))
	}
	if len(auth) == 0 {
		return nil, util.InvalidArgumentf("credential profile has no usable auth material")
	}

	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: auth,
		// Scan context — production host-key verification does not
		// apply to hosts we are meeting for the first time.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.Timeout,
	}

	addr := net.JoinHostPort(ip, itoa(port))
	conn, err := net.DialTimeout("tcp", addr, p.Timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// One deadline bounds the handshake and all command I/O.
	if err := conn.SetDeadline(time.Now().Add(p.Timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	values := make(map[string]string, len(factCommands))
	for _, fc := range factCommands {
		out, err := runCommand(client, fc.cmd)
		if err != nil {
			return nil, fmt.Errorf("running %q on %s: %w", fc.key, ip, err)
		}
		values[fc.key] = out
	}

	facts := &Facts{
		Hostname:     values["hostname"],
		OS:           values["os"],
		OSVersion:    values["osVersion"],
		Architecture: values["architecture"],
		Uptime:       values["uptime"],
		CPUInfo:      values["cpuInfo"],
		MemoryInfo:   values["memoryInfo"],
		DiskInfo:     values["diskInfo"],
	}
	facts.DeviceType = DeriveDeviceType(facts.OS).String()
	return facts, nil
}

// runCommand executes one command in a fresh session and returns the
// trimmed stdout, or "unknown" when the output is empty or the command
// exited non-zero. Session-level errors propagate.
func runCommand(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("SSH session: %w", err)
	}
	defer session.Close()

	out, err := session.Output(cmd)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return "unknown", nil
		}
		return "", fmt.Errorf("SSH exec %q: %w", cmd, err)
	}

	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return "unknown", nil
	}
	return trimmed, nil
}
