package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/fleetedge/upflux-gateway/pkg/deviceproto"
	"github.com/fleetedge/upflux-gateway/pkg/gatewayerr"
)

// VersionQueryResult is the JSON document returned by GET_VERSIONS.
type VersionQueryResult struct {
	Current   VersionEntry   `json:"current"`
	Available []VersionEntry `json:"available"`
}

// VersionEntry is one version/installed_at pair reported by a device.
type VersionEntry struct {
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
}

// RollbackOutcome is the result of a single send_rollback call.
type RollbackOutcome struct {
	Success bool
	Detail  string
}

// LogFile is one file pulled from a device by RequestLogs, before it is
// persisted to disk.
type LogFile struct {
	Name string
	Data []byte
}

// DeviceDialer is the set of outbound device operations the rest of the
// core depends on (license push, update/rollback delivery, version and
// log pulls). Implemented by Client; License/Update/Command/LogPull
// depend only on this interface, not on Client directly.
type DeviceDialer interface {
	SendLicense(ctx context.Context, addr, xml string) error
	SendUpdate(ctx context.Context, addr, fileName string, data []byte) (bool, error)
	SendRollback(ctx context.Context, addr, params string) (RollbackOutcome, error)
	RequestVersions(ctx context.Context, addr string) (VersionQueryResult, error)
	RequestLogs(ctx context.Context, addr string) ([]LogFile, error)
}

// Client dials devices and issues one of the outbound protocol operations
// per call, each over its own fresh connection (spec §4.5).
type Client struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	tlsConfig      *tls.Config
}

// NewClient creates a Client. tlsConfig may be nil for a plain TCP dial.
func NewClient(readTimeout time.Duration, tlsConfig *tls.Config) *Client {
	return &Client{
		connectTimeout: 10 * time.Second,
		readTimeout:    readTimeout,
		tlsConfig:      tlsConfig,
	}
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.connectTimeout}
	var conn net.Conn
	var err error
	if c.tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, c.tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindTransport, "session.dial", err)
	}
	return conn, nil
}

func (c *Client) deadline() time.Time { return time.Now().Add(c.readTimeout) }

// SendLicense dials the device and delivers the license XML blob.
// Expects no reply.
func (c *Client) SendLicense(ctx context.Context, addr, xml string) error {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(c.deadline())
	if err := deviceproto.WriteLine(conn, "LICENSE:"+xml); err != nil {
		return gatewayerr.New(gatewayerr.KindTransport, "session.SendLicense", err)
	}
	return nil
}

// SendUpdate dials the device, announces the package, waits for readiness,
// then streams the bytes. A failed dial is returned as an error; any later
// protocol or transport failure returns false with a nil error.
func (c *Client) SendUpdate(ctx context.Context, addr, fileName string, data []byte) (bool, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(c.deadline())
	if err := deviceproto.WriteLine(conn, "SEND_PACKAGE:"+fileName); err != nil {
		return false, nil
	}

	r := bufio.NewReader(conn)
	reply, err := deviceproto.ReadLine(r)
	if err != nil || reply != "READY_FOR_PACKAGE" {
		return false, nil
	}

	_ = conn.SetWriteDeadline(c.deadline())
	if err := deviceproto.WriteBlob(conn, data); err != nil {
		return false, nil
	}
	return true, nil
}

// SendRollback dials the device, requests a rollback, and waits for the
// completion line.
func (c *Client) SendRollback(ctx context.Context, addr, params string) (RollbackOutcome, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return RollbackOutcome{Success: false, Detail: err.Error()}, nil
	}
	defer conn.Close()

	_ = conn.SetDeadline(c.deadline())
	if err := deviceproto.WriteLine(conn, "ROLLBACK:"+params); err != nil {
		return RollbackOutcome{Success: false, Detail: "transport error"}, nil
	}

	r := bufio.NewReader(conn)
	first, err := deviceproto.ReadLine(r)
	if err != nil || first != "ROLLBACK_INITIATED" {
		return RollbackOutcome{Success: false, Detail: "rollback not initiated"}, nil
	}

	second, err := deviceproto.ReadLine(r)
	if err != nil {
		return RollbackOutcome{Success: false, Detail: "connection dropped before completion"}, nil
	}
	if second == "ROLLBACK_COMPLETED" {
		return RollbackOutcome{Success: true}, nil
	}
	return RollbackOutcome{Success: false, Detail: strings.TrimSpace(second)}, nil
}

// RequestVersions dials the device and reads its installed-version report.
func (c *Client) RequestVersions(ctx context.Context, addr string) (VersionQueryResult, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return VersionQueryResult{}, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(c.deadline())
	if err := deviceproto.WriteLine(conn, "GET_VERSIONS"); err != nil {
		return VersionQueryResult{}, gatewayerr.New(gatewayerr.KindTransport, "session.RequestVersions", err)
	}

	dec := json.NewDecoder(bufio.NewReader(conn))
	var result VersionQueryResult
	if err := dec.Decode(&result); err != nil {
		return VersionQueryResult{}, gatewayerr.New(gatewayerr.KindDecode, "session.RequestVersions", err)
	}
	return result, nil
}

// RequestLogs dials the device and pulls every log file it offers.
func (c *Client) RequestLogs(ctx context.Context, addr string) ([]LogFile, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(c.deadline())
	if err := deviceproto.WriteLine(conn, "REQUEST_LOGS"); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindTransport, "session.RequestLogs", err)
	}

	count, err := deviceproto.ReadUint32(conn)
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindFraming, "session.RequestLogs", err)
	}

	files := make([]LogFile, 0, count)
	for i := uint32(0); i < count; i++ {
		nameBytes, err := deviceproto.ReadBlob(conn)
		if err != nil {
			return nil, gatewayerr.New(gatewayerr.KindFraming, "session.RequestLogs", err)
		}
		data, err := deviceproto.ReadBlob(conn)
		if err != nil {
			return nil, gatewayerr.New(gatewayerr.KindFraming, "session.RequestLogs", err)
		}
		files = append(files, LogFile{Name: string(nameBytes), Data: data})
	}
	return files, nil
}
